package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
)

const pendingColumns = `id, email, full_name, usn, branch, year, block, room, phone, parent_phone, warden_id, password_hash, created_at`

// PendingStudentRepository manages provisioned-but-not-activated accounts.
type PendingStudentRepository struct {
	db *sqlx.DB
}

// NewPendingStudentRepository constructs a PendingStudentRepository.
func NewPendingStudentRepository(db *sqlx.DB) *PendingStudentRepository {
	return &PendingStudentRepository{db: db}
}

// Create inserts a pending student record.
func (r *PendingStudentRepository) Create(ctx context.Context, ps *models.PendingStudent) error {
	if ps.ID == "" {
		ps.ID = uuid.NewString()
	}
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO pending_students (id, email, full_name, usn, branch, year, block, room, phone, parent_phone, warden_id, password_hash, created_at)
        VALUES (:id, :email, :full_name, :usn, :branch, :year, :block, :room, :phone, :parent_phone, :warden_id, :password_hash, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ps); err != nil {
		return fmt.Errorf("create pending student: %w", err)
	}
	return nil
}

// FindByEmail returns a pending student by normalized email.
func (r *PendingStudentRepository) FindByEmail(ctx context.Context, email string) (*models.PendingStudent, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_students WHERE LOWER(email) = LOWER($1) LIMIT 1", pendingColumns)
	var ps models.PendingStudent
	if err := r.db.GetContext(ctx, &ps, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find pending student: %w", err)
	}
	return &ps, nil
}

// FindByID returns a pending student by identifier.
func (r *PendingStudentRepository) FindByID(ctx context.Context, id string) (*models.PendingStudent, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_students WHERE id = $1 LIMIT 1", pendingColumns)
	var ps models.PendingStudent
	if err := r.db.GetContext(ctx, &ps, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find pending student: %w", err)
	}
	return &ps, nil
}

// List returns all pending students newest first.
func (r *PendingStudentRepository) List(ctx context.Context, limit int) ([]models.PendingStudent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM pending_students ORDER BY created_at DESC LIMIT %d", pendingColumns, limit)
	var pending []models.PendingStudent
	if err := r.db.SelectContext(ctx, &pending, query); err != nil {
		return nil, fmt.Errorf("list pending students: %w", err)
	}
	return pending, nil
}

// ListEmails returns every pending email, normalized to lower case.
func (r *PendingStudentRepository) ListEmails(ctx context.Context) ([]string, error) {
	var emails []string
	if err := r.db.SelectContext(ctx, &emails, `SELECT LOWER(email) FROM pending_students`); err != nil {
		return nil, fmt.Errorf("list pending emails: %w", err)
	}
	return emails, nil
}

// Delete removes a pending student record, typically after activation moved
// it into the users table.
func (r *PendingStudentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending student: %w", err)
	}
	return nil
}
