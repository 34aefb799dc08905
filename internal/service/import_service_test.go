package service

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	"github.com/noah-isme/hostel-outpass-api/pkg/config"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
)

type pendingStoreStub struct {
	created []*models.PendingStudent
	emails  []string
	err     error
}

func (s *pendingStoreStub) Create(ctx context.Context, ps *models.PendingStudent) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, ps)
	return nil
}

func (s *pendingStoreStub) ListEmails(ctx context.Context) ([]string, error) {
	return s.emails, nil
}

type importUsersStub struct {
	emails []string
	users  map[string]*models.User
}

func (s *importUsersStub) ListEmails(ctx context.Context) ([]string, error) {
	return s.emails, nil
}

func (s *importUsersStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type resultStorageStub struct {
	files map[string][]byte
}

func (s *resultStorageStub) Save(filename string, data []byte) (string, error) {
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[filename] = data
	return filename, nil
}

func (s *resultStorageStub) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	return nil, nil
}

func importUsers() *importUsersStub {
	return &importUsersStub{users: map[string]*models.User{
		"warden-1": {ID: "warden-1", Role: models.RoleWarden, Active: true},
		"admin-1":  {ID: "admin-1", Role: models.RoleAdmin, Active: true},
	}}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestDefaultPassword(t *testing.T) {
	cases := []struct {
		fullName string
		want     string
	}{
		{"Jane O'Brien", "jane123"},
		{"RAVI Kumar", "ravi123"},
		{"  priya sharma  ", "priya123"},
		{"O'Neil", "oneil123"},
		{"!!!", "student123"},
		{"", "student123"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DefaultPassword(tc.fullName), "full name %q", tc.fullName)
	}
}

func TestTemplateCarriesCanonicalHeaders(t *testing.T) {
	svc := NewImportService(&pendingStoreStub{}, importUsers(), nil, nil, nil, config.ImportConfig{}, nil)

	data, err := svc.Template()
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, strings.Join(importHeaders, ",")))
	require.Contains(t, content, "jane.obrien@college.edu")
}

func TestRunResolvesHeaderAliases(t *testing.T) {
	pending := &pendingStoreStub{}
	storage := &resultStorageStub{}
	svc := NewImportService(pending, importUsers(), storage, &trailStub{}, nil, config.ImportConfig{}, nil)

	csv := "Email Address,Student Name,Roll No,Department,Room No,Guardian Phone\n" +
		"jane@college.edu,Jane O'Brien,1XX22CS001,CSE,214,9876500000\n"
	summary, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-1", adminClaims())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Len(t, pending.created, 1)

	created := pending.created[0]
	require.Equal(t, "jane@college.edu", created.Email)
	require.Equal(t, "Jane O'Brien", created.FullName)
	require.Equal(t, "1XX22CS001", created.USN)
	require.Equal(t, "CSE", created.Branch)
	require.Equal(t, "214", created.Room)
	require.Equal(t, "9876500000", created.ParentPhone)
	require.Equal(t, "warden-1", created.WardenID)

	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("jane123")))
	require.Equal(t, "jane123", summary.Results[0].Password)
}

func TestRunSkipsDuplicates(t *testing.T) {
	pending := &pendingStoreStub{emails: []string{"queued@college.edu"}}
	users := importUsers()
	users.emails = []string{"Active@College.edu"}
	svc := NewImportService(pending, users, nil, &trailStub{}, nil, config.ImportConfig{}, nil)

	csv := "email,full_name\n" +
		"active@college.edu,Existing User\n" +
		"queued@college.edu,Queued User\n" +
		"fresh@college.edu,Fresh User\n" +
		"FRESH@college.edu,Same File Twice\n"
	summary, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-1", adminClaims())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 3, summary.Duplicates)
	require.Len(t, pending.created, 1)
	require.Equal(t, "fresh@college.edu", pending.created[0].Email)
}

func TestRunIsolatesBadRows(t *testing.T) {
	pending := &pendingStoreStub{}
	svc := NewImportService(pending, importUsers(), nil, &trailStub{}, nil, config.ImportConfig{}, nil)

	csv := "email,full_name\n" +
		"not-an-email,Broken Row\n" +
		",Missing Email\n" +
		"ok@college.edu,Good Row\n"
	summary, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-1", adminClaims())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 2, summary.Failed)
	require.Len(t, pending.created, 1)
	require.Equal(t, "ok@college.edu", pending.created[0].Email)

	require.Equal(t, models.ImportRowFailed, summary.Results[1].Status)
	require.Equal(t, "Missing email", summary.Results[1].Message)
}

func TestRunRejectsMissingEmailColumn(t *testing.T) {
	svc := NewImportService(&pendingStoreStub{}, importUsers(), nil, nil, nil, config.ImportConfig{}, nil)

	csv := "full_name,usn\nJane O'Brien,1XX22CS001\n"
	_, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-1", adminClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRunRejectsUnknownWarden(t *testing.T) {
	svc := NewImportService(&pendingStoreStub{}, importUsers(), nil, nil, nil, config.ImportConfig{}, nil)

	csv := "email,full_name\nok@college.edu,Good Row\n"
	_, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-unknown", adminClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Run(context.Background(), strings.NewReader(csv), "admin-1", adminClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRunContinuesAfterInsertFailure(t *testing.T) {
	pending := &pendingStoreStub{err: sql.ErrConnDone}
	svc := NewImportService(pending, importUsers(), nil, &trailStub{}, nil, config.ImportConfig{}, nil)

	csv := "email,full_name\none@college.edu,One\ntwo@college.edu,Two\n"
	summary, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-1", adminClaims())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 0, summary.Succeeded)
}

func TestRunWritesResultFileAndAudit(t *testing.T) {
	storage := &resultStorageStub{}
	audit := &trailStub{}
	svc := NewImportService(&pendingStoreStub{}, importUsers(), storage, audit, nil, config.ImportConfig{}, nil)

	csv := "email,full_name\nok@college.edu,Good Row\n"
	summary, err := svc.Run(context.Background(), strings.NewReader(csv), "warden-1", adminClaims())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(summary.ResultFile, "imports/import-"))
	require.Contains(t, string(storage.files[summary.ResultFile]), "good123")

	require.True(t, strings.HasSuffix(summary.CredentialFile, "-credentials.pdf"))
	require.True(t, bytes.HasPrefix(storage.files[summary.CredentialFile], []byte("%PDF")))

	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionBulkImport, audit.logs[0].Action)
	require.Equal(t, "pending_students", audit.logs[0].Resource)
}

func TestRunHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewImportService(&pendingStoreStub{}, importUsers(), nil, nil, nil, config.ImportConfig{RowDelay: 500 * time.Millisecond}, nil)

	csv := "email,full_name\none@college.edu,One\ntwo@college.edu,Two\n"
	_, err := svc.Run(ctx, strings.NewReader(csv), "warden-1", adminClaims())
	require.ErrorIs(t, err, context.Canceled)
}
