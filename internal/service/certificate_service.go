package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-outpass-api/internal/dto"
	"github.com/noah-isme/hostel-outpass-api/internal/models"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
	"github.com/noah-isme/hostel-outpass-api/pkg/export"
)

type certificateStore interface {
	FindByApprovalNumber(ctx context.Context, number string) (*models.ApprovalCertificate, error)
	FindByID(ctx context.Context, id string) (*models.ApprovalCertificate, error)
	ExistsByApprovalNumber(ctx context.Context, number string) (bool, error)
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.ApprovalCertificate, error)
}

// CertificateServiceConfig tunes number generation and verification caching.
type CertificateServiceConfig struct {
	NumberRetries int
	CacheTTL      time.Duration
	VerifyBaseURL string
}

// CertificateService issues approval numbers and serves gate verification.
type CertificateService struct {
	repo   certificateStore
	cache  *CacheService
	pdf    *export.CertificatePDF
	logger *zap.Logger
	cfg    CertificateServiceConfig
}

// NewCertificateService constructs the service.
func NewCertificateService(repo certificateStore, cache *CacheService, logger *zap.Logger, cfg CertificateServiceConfig) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NumberRetries <= 0 {
		cfg.NumberRetries = 3
	}
	return &CertificateService{repo: repo, cache: cache, pdf: export.NewCertificatePDF(), logger: logger, cfg: cfg}
}

// GenerateApprovalNumber returns a human-readable approval number of the form
// HO-{year}-{unixMillis}-{3-digit random}. The millisecond component keeps
// numbers sortable by issuance time within a year.
func GenerateApprovalNumber(now time.Time) string {
	return fmt.Sprintf("HO-%d-%d-%03d", now.Year(), now.UnixMilli(), rand.Intn(1000))
}

// NewApprovalNumber generates a number and retries on the unlikely collision
// with an already issued one.
func (s *CertificateService) NewApprovalNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt <= s.cfg.NumberRetries; attempt++ {
		number := GenerateApprovalNumber(time.Now().UTC())
		exists, err := s.repo.ExistsByApprovalNumber(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check approval number: %w", err)
		}
		if !exists {
			return number, nil
		}
		s.logger.Warn("approval number collision", zap.String("number", number), zap.Int("attempt", attempt))
	}
	return "", fmt.Errorf("approval number generation exhausted retries")
}

// BuildCertificate snapshots the request, student and warden as they exist at
// approval time. Later profile edits never change the certificate.
func BuildCertificate(req *models.OutingRequest, student, warden *models.User, number string, approvedAt time.Time) *models.ApprovalCertificate {
	cert := &models.ApprovalCertificate{
		ApprovalNumber: number,
		RequestID:      req.ID,
		StudentID:      req.StudentID,
		WardenID:       req.WardenID,
		StudentName:    req.StudentName,
		RequestType:    req.Type,
		Reason:         req.Reason,
		OutDate:        req.OutDate,
		OutTime:        req.OutTime,
		ReturnDate:     req.ReturnDate,
		ReturnTime:     req.ReturnTime,
		Status:         models.CertificateStatusActive,
		ApprovedAt:     approvedAt,
		ValidUntil:     req.ReturnDeadline(),
	}
	if cert.ValidUntil.IsZero() {
		// fall back to end of the outing day when the return time is malformed
		cert.ValidUntil = approvedAt.Add(24 * time.Hour)
	}
	if student != nil {
		cert.StudentUSN = models.StringValue(student.USN, "N/A")
		cert.Branch = models.StringValue(student.Branch, "N/A")
		cert.Year = models.StringValue(student.Year, "N/A")
		cert.Block = models.StringValue(student.Block, "N/A")
		cert.Room = models.StringValue(student.Room, "N/A")
	} else {
		cert.StudentUSN, cert.Branch, cert.Year, cert.Block, cert.Room = "N/A", "N/A", "N/A", "N/A", "N/A"
	}
	if warden != nil {
		cert.WardenName = warden.FullName
	}
	return cert
}

func verifyCacheKey(approvalNumber string) string {
	return "cert:verify:" + approvalNumber
}

// InvalidateVerify drops the cached snapshot for an approval number. The
// cancel flow calls this after revoking a certificate so the gate kiosk
// never keeps accepting a revoked pass for the remainder of the cache TTL.
func (s *CertificateService) InvalidateVerify(ctx context.Context, approvalNumber string) {
	if approvalNumber == "" {
		return
	}
	s.cache.Invalidate(ctx, verifyCacheKey(approvalNumber))
}

// Verify looks up a certificate by approval number for the gate kiosk.
// Results are cached briefly; validity is always recomputed against the clock.
func (s *CertificateService) Verify(ctx context.Context, approvalNumber string) (*dto.VerifyCertificateResponse, error) {
	if approvalNumber == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "approval number is required")
	}

	now := time.Now().UTC()
	cacheKey := verifyCacheKey(approvalNumber)

	var cert models.ApprovalCertificate
	hit, _ := s.cache.Get(ctx, cacheKey, &cert)
	if !hit {
		found, err := s.repo.FindByApprovalNumber(ctx, approvalNumber)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &dto.VerifyCertificateResponse{Valid: false, CheckedAt: now}, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up certificate")
		}
		cert = *found
		if err := s.cache.Set(ctx, cacheKey, cert, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("cache certificate", zap.Error(err))
		}
	}

	return &dto.VerifyCertificateResponse{
		Valid:       cert.ValidAt(now),
		Certificate: &cert,
		CheckedAt:   now,
	}, nil
}

// Get returns a certificate by id, enforcing that students only read their own.
func (s *CertificateService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ApprovalCertificate, error) {
	cert, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if actor != nil && actor.Role == models.RoleStudent && cert.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return cert, nil
}

// ListForStudent returns a student's certificates.
func (s *CertificateService) ListForStudent(ctx context.Context, studentID string, limit int) ([]models.ApprovalCertificate, error) {
	certs, err := s.repo.ListByStudent(ctx, studentID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certs, nil
}

// RenderPDF produces the printable certificate with its verification QR code.
func (s *CertificateService) RenderPDF(ctx context.Context, id string, actor *models.JWTClaims) ([]byte, string, error) {
	cert, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, "", err
	}
	data := export.CertificateData{
		ApprovalNumber: cert.ApprovalNumber,
		StudentName:    cert.StudentName,
		StudentUSN:     cert.StudentUSN,
		Branch:         cert.Branch,
		Year:           cert.Year,
		Block:          cert.Block,
		Room:           cert.Room,
		RequestType:    string(cert.RequestType),
		Reason:         cert.Reason,
		OutDate:        cert.OutDate,
		OutTime:        cert.OutTime,
		ReturnDate:     cert.ReturnDate,
		ReturnTime:     cert.ReturnTime,
		WardenName:     cert.WardenName,
		ApprovedAt:     cert.ApprovedAt.Format(time.RFC1123),
		ValidUntil:     cert.ValidUntil.Format(time.RFC1123),
	}
	if s.cfg.VerifyBaseURL != "" {
		data.VerifyURL = s.cfg.VerifyBaseURL + "?number=" + cert.ApprovalNumber
	}
	pdfBytes, err := s.pdf.Render(data)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	filename := fmt.Sprintf("certificate-%s.pdf", cert.ApprovalNumber)
	return pdfBytes, filename, nil
}
