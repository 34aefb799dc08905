package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
)

// CertificateRepository provides read access to issued certificates. Writes
// happen through RequestRepository so they share the request transaction.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs a CertificateRepository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateColumns = `id, approval_number, request_id, student_id, warden_id, student_name, student_usn, branch, year, block, room, warden_name,
        request_type, reason, out_date, out_time, return_date, return_time, status, approved_at, valid_until, revoked_at`

// FindByApprovalNumber returns the certificate carrying the given number.
func (r *CertificateRepository) FindByApprovalNumber(ctx context.Context, number string) (*models.ApprovalCertificate, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_certificates WHERE approval_number = $1", certificateColumns)
	var cert models.ApprovalCertificate
	if err := r.db.GetContext(ctx, &cert, query, number); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindByID returns the certificate with the given id.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.ApprovalCertificate, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_certificates WHERE id = $1", certificateColumns)
	var cert models.ApprovalCertificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// ExistsByApprovalNumber reports whether a certificate already carries the
// candidate number.
func (r *CertificateRepository) ExistsByApprovalNumber(ctx context.Context, number string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM approval_certificates WHERE approval_number = $1 LIMIT 1`, number)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check approval number: %w", err)
	}
	return true, nil
}

// ListByStudent returns a student's certificates newest first.
func (r *CertificateRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.ApprovalCertificate, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM approval_certificates WHERE student_id = $1 ORDER BY approved_at DESC LIMIT %d", certificateColumns, limit)
	var certs []models.ApprovalCertificate
	if err := r.db.SelectContext(ctx, &certs, query, studentID); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}
