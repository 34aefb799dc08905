package models

import "time"

// CertificateStatus captures the lifecycle of an issued approval certificate.
type CertificateStatus string

const (
	CertificateStatusActive  CertificateStatus = "ACTIVE"
	CertificateStatusRevoked CertificateStatus = "REVOKED"
)

// ApprovalCertificate is an immutable snapshot of a request, its student and
// the approving warden taken at approval time. Later profile edits never
// retroactively change the certificate.
type ApprovalCertificate struct {
	ID             string            `db:"id" json:"id"`
	ApprovalNumber string            `db:"approval_number" json:"approval_number"`
	RequestID      string            `db:"request_id" json:"request_id"`
	StudentID      string            `db:"student_id" json:"student_id"`
	WardenID       string            `db:"warden_id" json:"warden_id"`
	StudentName    string            `db:"student_name" json:"student_name"`
	StudentUSN     string            `db:"student_usn" json:"student_usn"`
	Branch         string            `db:"branch" json:"branch"`
	Year           string            `db:"year" json:"year"`
	Block          string            `db:"block" json:"block"`
	Room           string            `db:"room" json:"room"`
	WardenName     string            `db:"warden_name" json:"warden_name"`
	RequestType    RequestType       `db:"request_type" json:"request_type"`
	Reason         string            `db:"reason" json:"reason"`
	OutDate        string            `db:"out_date" json:"out_date"`
	OutTime        string            `db:"out_time" json:"out_time"`
	ReturnDate     string            `db:"return_date" json:"return_date"`
	ReturnTime     string            `db:"return_time" json:"return_time"`
	Status         CertificateStatus `db:"status" json:"status"`
	ApprovedAt     time.Time         `db:"approved_at" json:"approved_at"`
	ValidUntil     time.Time         `db:"valid_until" json:"valid_until"`
	RevokedAt      *time.Time        `db:"revoked_at" json:"revoked_at,omitempty"`
}

// ValidAt reports whether the certificate can still be honoured at the gate.
func (c *ApprovalCertificate) ValidAt(now time.Time) bool {
	return c.Status == CertificateStatusActive && !now.After(c.ValidUntil)
}
