package dto

import "github.com/noah-isme/hostel-outpass-api/internal/models"

// CreateUserRequest provisions a warden or student account.
type CreateUserRequest struct {
	Email       string          `json:"email" binding:"required,email"`
	Password    string          `json:"password" binding:"required,min=6"`
	FullName    string          `json:"full_name" binding:"required"`
	Role        models.UserRole `json:"role" binding:"required"`
	USN         string          `json:"usn"`
	Branch      string          `json:"branch"`
	Year        string          `json:"year"`
	Block       string          `json:"block"`
	Room        string          `json:"room"`
	Phone       string          `json:"phone"`
	ParentPhone string          `json:"parent_phone"`
	WardenID    string          `json:"warden_id"`
}

// UpdateUserRequest modifies mutable account fields.
type UpdateUserRequest struct {
	FullName    *string `json:"full_name"`
	Active      *bool   `json:"active"`
	Branch      *string `json:"branch"`
	Year        *string `json:"year"`
	Block       *string `json:"block"`
	Room        *string `json:"room"`
	Phone       *string `json:"phone"`
	ParentPhone *string `json:"parent_phone"`
	WardenID    *string `json:"warden_id"`
}

// UserQuery captures list filters from query parameters.
type UserQuery struct {
	Role     string `form:"role"`
	Search   string `form:"search"`
	WardenID string `form:"warden_id"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
