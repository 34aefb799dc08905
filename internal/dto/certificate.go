package dto

import (
	"time"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
)

// VerifyCertificateResponse is the gate kiosk verification result.
type VerifyCertificateResponse struct {
	Valid       bool                        `json:"valid"`
	Certificate *models.ApprovalCertificate `json:"certificate,omitempty"`
	CheckedAt   time.Time                   `json:"checked_at"`
}
