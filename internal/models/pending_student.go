package models

import "time"

// PendingStudent is a provisioned-but-not-activated account created by the
// bulk import pipeline. A normalized email exists in at most one of the users
// and pending_students tables; activation moves the record, it never copies.
type PendingStudent struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	USN          string    `db:"usn" json:"usn"`
	Branch       string    `db:"branch" json:"branch"`
	Year         string    `db:"year" json:"year"`
	Block        string    `db:"block" json:"block"`
	Room         string    `db:"room" json:"room"`
	Phone        string    `db:"phone" json:"phone"`
	ParentPhone  string    `db:"parent_phone" json:"parent_phone"`
	WardenID     string    `db:"warden_id" json:"warden_id"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ImportRowStatus classifies the outcome of one imported row.
type ImportRowStatus string

const (
	ImportRowSuccess   ImportRowStatus = "SUCCESS"
	ImportRowDuplicate ImportRowStatus = "DUPLICATE"
	ImportRowFailed    ImportRowStatus = "FAILED"
)

// ImportRowResult reports the outcome of a single row in a bulk import.
// Password carries the generated default password on success so it can be
// distributed out-of-band; it is never persisted in clear text.
type ImportRowResult struct {
	Line     int             `json:"line"`
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	Password string          `json:"password,omitempty"`
	Status   ImportRowStatus `json:"status"`
	Message  string          `json:"message"`
}

// ImportSummary aggregates a completed bulk import run.
type ImportSummary struct {
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Duplicates int               `json:"duplicates"`
	Failed     int               `json:"failed"`
	Results        []ImportRowResult `json:"results"`
	ResultFile     string            `json:"result_file,omitempty"`
	CredentialFile string            `json:"credential_file,omitempty"`
}
