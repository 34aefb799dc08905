package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
)

type certStoreStub struct {
	byNumber map[string]*models.ApprovalCertificate
	byID     map[string]*models.ApprovalCertificate
	lookups  int
}

func newCertStoreStub(certs ...*models.ApprovalCertificate) *certStoreStub {
	stub := &certStoreStub{
		byNumber: make(map[string]*models.ApprovalCertificate),
		byID:     make(map[string]*models.ApprovalCertificate),
	}
	for _, c := range certs {
		stub.byNumber[c.ApprovalNumber] = c
		stub.byID[c.ID] = c
	}
	return stub
}

func (s *certStoreStub) FindByApprovalNumber(ctx context.Context, number string) (*models.ApprovalCertificate, error) {
	s.lookups++
	if c, ok := s.byNumber[number]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *certStoreStub) FindByID(ctx context.Context, id string) (*models.ApprovalCertificate, error) {
	if c, ok := s.byID[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *certStoreStub) ExistsByApprovalNumber(ctx context.Context, number string) (bool, error) {
	_, ok := s.byNumber[number]
	return ok, nil
}

func (s *certStoreStub) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.ApprovalCertificate, error) {
	var out []models.ApprovalCertificate
	for _, c := range s.byID {
		if c.StudentID == studentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type memoryCacheStub struct {
	entries map[string][]byte
}

func (s *memoryCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *memoryCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.entries == nil {
		s.entries = make(map[string][]byte)
	}
	s.entries[key] = raw
	return nil
}

func (s *memoryCacheStub) Delete(ctx context.Context, key string) error {
	delete(s.entries, key)
	return nil
}

func activeCert() *models.ApprovalCertificate {
	return &models.ApprovalCertificate{
		ID:             "cert-1",
		ApprovalNumber: "HO-2026-1712000000000-042",
		RequestID:      "req-1",
		StudentID:      "student-1",
		WardenID:       "warden-1",
		StudentName:    "Jane O'Brien",
		StudentUSN:     "1XX22CS001",
		Branch:         "CSE",
		Year:           "2",
		Block:          "A",
		Room:           "214",
		RequestType:    models.RequestTypeOuting,
		Reason:         "family visit",
		OutDate:        "2026-09-02",
		OutTime:        "10:00",
		ReturnDate:     "2026-09-02",
		ReturnTime:     "18:00",
		WardenName:     "Dr. Rao",
		Status:         models.CertificateStatusActive,
		ApprovedAt:     time.Now().UTC(),
		ValidUntil:     time.Now().UTC().Add(8 * time.Hour),
	}
}

func TestGenerateApprovalNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^HO-\d{4}-\d+-\d{3}$`)
	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		require.Regexp(t, pattern, GenerateApprovalNumber(now))
	}
}

func TestNewApprovalNumberRetriesCollisions(t *testing.T) {
	store := newCertStoreStub()
	svc := NewCertificateService(store, nil, nil, CertificateServiceConfig{})

	number, err := svc.NewApprovalNumber(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, number)
}

func TestBuildCertificateSnapshotsRequest(t *testing.T) {
	now := time.Now().UTC()
	req := &models.OutingRequest{
		ID: "req-1", StudentID: "student-1", StudentName: "Jane O'Brien",
		WardenID: "warden-1", Type: models.RequestTypeLeave, Reason: "exam leave",
		OutDate: "2026-09-02", OutTime: "10:00", ReturnDate: "2026-09-04", ReturnTime: "18:00",
	}
	usn := "1XX22CS001"
	student := &models.User{ID: "student-1", USN: &usn}
	warden := &models.User{ID: "warden-1", FullName: "Dr. Rao"}

	cert := BuildCertificate(req, student, warden, "HO-2026-1-001", now)
	require.Equal(t, "HO-2026-1-001", cert.ApprovalNumber)
	require.Equal(t, models.CertificateStatusActive, cert.Status)
	require.Equal(t, "1XX22CS001", cert.StudentUSN)
	require.Equal(t, "N/A", cert.Branch)
	require.Equal(t, "Dr. Rao", cert.WardenName)
	require.Equal(t, req.ReturnDeadline(), cert.ValidUntil)
}

func TestBuildCertificateMalformedDeadlineFallsBack(t *testing.T) {
	now := time.Now().UTC()
	req := &models.OutingRequest{ID: "req-1", ReturnDate: "not-a-date"}

	cert := BuildCertificate(req, nil, nil, "HO-2026-1-001", now)
	require.Equal(t, now.Add(24*time.Hour), cert.ValidUntil)
	require.Equal(t, "N/A", cert.StudentUSN)
}

func TestVerifyActiveCertificate(t *testing.T) {
	store := newCertStoreStub(activeCert())
	svc := NewCertificateService(store, nil, nil, CertificateServiceConfig{})

	res, err := svc.Verify(context.Background(), "HO-2026-1712000000000-042")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.NotNil(t, res.Certificate)
	require.Equal(t, "Jane O'Brien", res.Certificate.StudentName)
}

func TestVerifyUnknownNumberIsInvalidNotError(t *testing.T) {
	svc := NewCertificateService(newCertStoreStub(), nil, nil, CertificateServiceConfig{})

	res, err := svc.Verify(context.Background(), "HO-2026-0-000")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Nil(t, res.Certificate)
}

func TestVerifyRevokedCertificateIsInvalid(t *testing.T) {
	cert := activeCert()
	cert.Status = models.CertificateStatusRevoked
	svc := NewCertificateService(newCertStoreStub(cert), nil, nil, CertificateServiceConfig{})

	res, err := svc.Verify(context.Background(), cert.ApprovalNumber)
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestVerifyExpiredCertificateIsInvalid(t *testing.T) {
	cert := activeCert()
	cert.ValidUntil = time.Now().UTC().Add(-time.Hour)
	svc := NewCertificateService(newCertStoreStub(cert), nil, nil, CertificateServiceConfig{})

	res, err := svc.Verify(context.Background(), cert.ApprovalNumber)
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestVerifyServesRepeatLookupsFromCache(t *testing.T) {
	store := newCertStoreStub(activeCert())
	cache := NewCacheService(&memoryCacheStub{}, time.Minute, nil, true)
	svc := NewCertificateService(store, cache, nil, CertificateServiceConfig{CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		res, err := svc.Verify(context.Background(), "HO-2026-1712000000000-042")
		require.NoError(t, err)
		require.True(t, res.Valid)
	}
	require.Equal(t, 1, store.lookups)
}

func TestVerifyAfterRevokeDropsCachedVerdict(t *testing.T) {
	cert := activeCert()
	store := newCertStoreStub(cert)
	cache := NewCacheService(&memoryCacheStub{}, time.Minute, nil, true)
	svc := NewCertificateService(store, cache, nil, CertificateServiceConfig{CacheTTL: time.Minute})

	res, err := svc.Verify(context.Background(), cert.ApprovalNumber)
	require.NoError(t, err)
	require.True(t, res.Valid)

	// cancellation revokes the stored certificate and drops the cache entry
	store.byNumber[cert.ApprovalNumber].Status = models.CertificateStatusRevoked
	svc.InvalidateVerify(context.Background(), cert.ApprovalNumber)

	res, err = svc.Verify(context.Background(), cert.ApprovalNumber)
	require.NoError(t, err)
	require.False(t, res.Valid, "gate must reject a revoked certificate immediately")
	require.Equal(t, 2, store.lookups)
}

func TestGetEnforcesStudentOwnership(t *testing.T) {
	svc := NewCertificateService(newCertStoreStub(activeCert()), nil, nil, CertificateServiceConfig{})

	_, err := svc.Get(context.Background(), "cert-1", studentClaims("student-2"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	cert, err := svc.Get(context.Background(), "cert-1", studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, "cert-1", cert.ID)

	cert, err = svc.Get(context.Background(), "cert-1", wardenClaims("warden-1"))
	require.NoError(t, err)
	require.Equal(t, "cert-1", cert.ID)
}

func TestRenderPDFProducesDocument(t *testing.T) {
	svc := NewCertificateService(newCertStoreStub(activeCert()), nil, nil, CertificateServiceConfig{
		VerifyBaseURL: "https://outpass.example.edu/verify",
	})

	data, filename, err := svc.RenderPDF(context.Background(), "cert-1", wardenClaims("warden-1"))
	require.NoError(t, err)
	require.Equal(t, "certificate-HO-2026-1712000000000-042.pdf", filename)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}
