package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
)

// ErrStateConflict is returned when a guarded transition matches no row,
// meaning the request was not in the expected state.
var ErrStateConflict = errors.New("request not in expected state")

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// QueryObserver receives the name and elapsed time of each repository query.
type QueryObserver func(query string, elapsed time.Duration)

// RequestRepository manages persistence for outing requests and their
// transactional coupling with approval certificates.
type RequestRepository struct {
	db        *sqlx.DB
	observers []QueryObserver
}

// NewRequestRepository constructs a RequestRepository. Observers, when given,
// are called once per query with its name and duration.
func NewRequestRepository(db *sqlx.DB, observers ...QueryObserver) *RequestRepository {
	return &RequestRepository{db: db, observers: observers}
}

// timed reports the elapsed time of the named query to every observer. Call
// it with defer at the top of a repository method.
func (r *RequestRepository) timed(name string) func() {
	if len(r.observers) == 0 {
		return func() {}
	}
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		for _, observe := range r.observers {
			observe(name, elapsed)
		}
	}
}

// Create inserts a new pending request.
func (r *RequestRepository) Create(ctx context.Context, req *models.OutingRequest) error {
	defer r.timed("requests_create")()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = models.RequestStatusPending
	const query = `INSERT INTO outing_requests (id, student_id, student_name, warden_id, type, reason, out_date, out_time, return_date, return_time, status, created_at)
        VALUES (:id, :student_id, :student_name, :warden_id, :type, :reason, :out_date, :out_time, :return_date, :return_time, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

const requestColumns = `id, student_id, student_name, warden_id, type, reason, out_date, out_time, return_date, return_time, status,
        reject_reason, cancel_reason, approval_number, certificate_id, created_at, approved_at, rejected_at, cancelled_at`

// GetByID fetches a request by id.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.OutingRequest, error) {
	defer r.timed("requests_get")()
	query := fmt.Sprintf("SELECT %s FROM outing_requests WHERE id = $1", requestColumns)
	var req models.OutingRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the provided filter.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.OutingRequest, int, error) {
	defer r.timed("requests_list")()
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.WardenID != "" {
		conditions = append(conditions, fmt.Sprintf("warden_id = $%d", len(args)+1))
		args = append(args, filter.WardenID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}

	where := strings.Join(conditions, " AND ")

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"created_at": "created_at",
		"out_date":   "out_date",
		"status":     "status",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM outing_requests WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		requestColumns, where, column, order, size, offset)

	var requests []models.OutingRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM outing_requests WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return requests, total, nil
}

// ApproveWithCertificate performs the approval transition and certificate
// issuance as one transaction. The status update is guarded by a
// compare-and-swap on PENDING so concurrent approvals cannot issue duplicate
// certificates; ErrStateConflict is returned when the guard matches no row.
func (r *RequestRepository) ApproveWithCertificate(ctx context.Context, cert *models.ApprovalCertificate) error {
	defer r.timed("requests_approve_tx")()
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE outing_requests SET status = $1, approved_at = $2 WHERE id = $3 AND status = $4`,
		models.RequestStatusApproved, cert.ApprovedAt, cert.RequestID, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("approve request: %w", err)
	} else if affected == 0 {
		return ErrStateConflict
	}

	const insertCert = `INSERT INTO approval_certificates (id, approval_number, request_id, student_id, warden_id, student_name, student_usn, branch, year, block, room, warden_name, request_type, reason, out_date, out_time, return_date, return_time, status, approved_at, valid_until)
        VALUES (:id, :approval_number, :request_id, :student_id, :warden_id, :student_name, :student_usn, :branch, :year, :block, :room, :warden_name, :request_type, :reason, :out_date, :out_time, :return_date, :return_time, :status, :approved_at, :valid_until)`
	if _, err := tx.NamedExecContext(ctx, insertCert, cert); err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outing_requests SET approval_number = $1, certificate_id = $2 WHERE id = $3`,
		cert.ApprovalNumber, cert.ID, cert.RequestID); err != nil {
		return fmt.Errorf("link certificate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve tx: %w", err)
	}
	return nil
}

// Reject transitions a pending request to rejected with the given reason.
func (r *RequestRepository) Reject(ctx context.Context, id, reason string, at time.Time) error {
	defer r.timed("requests_reject")()
	res, err := r.db.ExecContext(ctx,
		`UPDATE outing_requests SET status = $1, reject_reason = $2, rejected_at = $3 WHERE id = $4 AND status = $5`,
		models.RequestStatusRejected, reason, at, id, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	return ensureAffected(res)
}

// CancelAndRevoke transitions an approved request to cancelled and revokes
// its certificate in the same transaction.
func (r *RequestRepository) CancelAndRevoke(ctx context.Context, id, reason string, at time.Time) error {
	defer r.timed("requests_cancel_tx")()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE outing_requests SET status = $1, cancel_reason = $2, cancelled_at = $3 WHERE id = $4 AND status = $5`,
		models.RequestStatusCancelled, reason, at, id, models.RequestStatusApproved)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if err := ensureAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE approval_certificates SET status = $1, revoked_at = $2 WHERE request_id = $3 AND status = $4`,
		models.CertificateStatusRevoked, at, id, models.CertificateStatusActive); err != nil {
		return fmt.Errorf("revoke certificate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}
	return nil
}

// DeleteByStudent removes all requests belonging to a student. Used by admin
// roster cleanup only.
func (r *RequestRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outing_requests WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("delete requests: %w", err)
	}
	return nil
}

func ensureAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStateConflict
	}
	return nil
}
