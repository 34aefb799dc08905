package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleWarden  UserRole = "WARDEN"
	RoleStudent UserRole = "STUDENT"
)

// User represents an application user stored in the users table. Student
// accounts carry hostel profile fields; they stay null for staff roles.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	USN          *string    `db:"usn" json:"usn,omitempty"`
	Branch       *string    `db:"branch" json:"branch,omitempty"`
	Year         *string    `db:"year" json:"year,omitempty"`
	Block        *string    `db:"block" json:"block,omitempty"`
	Room         *string    `db:"room" json:"room,omitempty"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	ParentPhone  *string    `db:"parent_phone" json:"parent_phone,omitempty"`
	WardenID     *string    `db:"warden_id" json:"warden_id,omitempty"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// StringValue dereferences an optional profile field with a fallback.
func StringValue(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	WardenID  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
