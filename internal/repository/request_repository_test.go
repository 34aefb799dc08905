package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func testCertificate(requestID string) *models.ApprovalCertificate {
	now := time.Now().UTC()
	return &models.ApprovalCertificate{
		ApprovalNumber: "HO-2026-1712000000000-042",
		RequestID:      requestID,
		StudentID:      "student-1",
		WardenID:       "warden-1",
		StudentName:    "Jane O'Brien",
		StudentUSN:     "1XX22CS001",
		Branch:         "CSE",
		Year:           "2",
		Block:          "A",
		Room:           "214",
		WardenName:     "Dr. Rao",
		RequestType:    models.RequestTypeOuting,
		Reason:         "family visit",
		OutDate:        "2026-09-02",
		OutTime:        "10:00",
		ReturnDate:     "2026-09-02",
		ReturnTime:     "18:00",
		Status:         models.CertificateStatusActive,
		ApprovedAt:     now,
		ValidUntil:     now.Add(8 * time.Hour),
	}
}

func TestRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outing_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.OutingRequest{
		StudentID:   "student-1",
		StudentName: "Jane O'Brien",
		WardenID:    "warden-1",
		Type:        models.RequestTypeOuting,
		Reason:      "family visit",
		OutDate:     "2026-09-02",
		OutTime:     "10:00",
		ReturnDate:  "2026-09-02",
		ReturnTime:  "18:00",
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.False(t, req.CreatedAt.IsZero())
	require.Equal(t, models.RequestStatusPending, req.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReportsQueryDurations(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	var names []string
	observe := func(query string, elapsed time.Duration) {
		names = append(names, query)
		require.GreaterOrEqual(t, elapsed, time.Duration(0))
	}
	repo := NewRequestRepository(db, observe)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outing_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WithArgs(models.RequestStatusRejected, "late", sqlmock.AnyArg(), "req-1", models.RequestStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), &models.OutingRequest{StudentID: "student-1"}))
	require.NoError(t, repo.Reject(context.Background(), "req-1", "late", time.Now().UTC()))

	require.Equal(t, []string{"requests_create", "requests_reject"}, names)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryGetByIDMissing(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, student_name")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveWithCertificate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	cert := testCertificate("req-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WithArgs(string(models.RequestStatusApproved), cert.ApprovedAt, "req-1", string(models.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_certificates")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET approval_number")).
		WithArgs(cert.ApprovalNumber, cert.ID, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ApproveWithCertificate(context.Background(), cert))
	require.NotEmpty(t, cert.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveLostRaceRollsBack(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	cert := testCertificate("req-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApproveWithCertificate(context.Background(), cert)
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveDuplicateNumberRollsBack(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	cert := testCertificate("req-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_certificates")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "approval_certificates_approval_number_key"})
	mock.ExpectRollback()

	err := repo.ApproveWithCertificate(context.Background(), cert)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryRejectStateConflict(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reject(context.Background(), "req-1", "no", time.Now().UTC())
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReject(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WithArgs(string(models.RequestStatusRejected), "too many outings", at, "req-1", string(models.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reject(context.Background(), "req-1", "too many outings", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCancelAndRevoke(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WithArgs(string(models.RequestStatusCancelled), "recalled", at, "req-1", string(models.RequestStatusApproved)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_certificates SET status")).
		WithArgs(string(models.CertificateStatusRevoked), at, "req-1", string(models.CertificateStatusActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CancelAndRevoke(context.Background(), "req-1", "recalled", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCancelNotApproved(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outing_requests SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CancelAndRevoke(context.Background(), "req-1", "recalled", time.Now().UTC())
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListBuildsFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "student_name", "warden_id", "type", "reason", "out_date", "out_time", "return_date", "return_time", "status", "reject_reason", "cancel_reason", "approval_number", "certificate_id", "created_at", "approved_at", "rejected_at", "cancelled_at"}).
		AddRow("req-1", "student-1", "Jane O'Brien", "warden-1", "OUTING", "family visit", "2026-09-02", "10:00", "2026-09-02", "18:00", "PENDING", nil, nil, nil, nil, now, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, student_name")).
		WithArgs("warden-1", string(models.RequestStatusPending)).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM outing_requests")).
		WithArgs("warden-1", string(models.RequestStatusPending)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	requests, total, err := repo.List(context.Background(), models.RequestFilter{
		WardenID: "warden-1",
		Status:   []models.RequestStatus{models.RequestStatusPending},
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, requests, 1)
	require.Equal(t, "req-1", requests[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	require.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("plain")))
	require.False(t, IsUniqueViolation(nil))
}
