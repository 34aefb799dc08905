package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-outpass-api/internal/dto"
	"github.com/noah-isme/hostel-outpass-api/internal/models"
	"github.com/noah-isme/hostel-outpass-api/internal/repository"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, req *models.OutingRequest) error
	GetByID(ctx context.Context, id string) (*models.OutingRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.OutingRequest, int, error)
	ApproveWithCertificate(ctx context.Context, cert *models.ApprovalCertificate) error
	Reject(ctx context.Context, id, reason string, at time.Time) error
	CancelAndRevoke(ctx context.Context, id, reason string, at time.Time) error
}

type certificateIssuer interface {
	NewApprovalNumber(ctx context.Context) (string, error)
	InvalidateVerify(ctx context.Context, approvalNumber string)
}

type notificationFanout interface {
	Dispatch(ctx context.Context, event FanoutEvent) []string
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// transitionPublisher feeds the gate kiosk live view. Best-effort only.
type transitionPublisher interface {
	PublishTransition(event FanoutEvent)
}

// RequestService drives outing requests through their legal transitions:
// PENDING to APPROVED or REJECTED, and APPROVED to CANCELLED. The status
// mutation plus certificate linkage is the only must-succeed step; every
// notification channel is isolated so a channel outage never blocks or
// reverts a transition.
type RequestService struct {
	repo    requestStore
	users   profileReader
	certs   certificateIssuer
	fanout  notificationFanout
	audit   auditLogger
	kiosk   transitionPublisher
	metrics *MetricsService
	logger  *zap.Logger
}

// RequestServiceOption configures optional collaborators.
type RequestServiceOption func(*RequestService)

// WithKioskFeed attaches the gate kiosk publisher.
func WithKioskFeed(feed transitionPublisher) RequestServiceOption {
	return func(s *RequestService) { s.kiosk = feed }
}

// WithLifecycleMetrics attaches the metrics service.
func WithLifecycleMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) { s.metrics = metrics }
}

// NewRequestService constructs the lifecycle service.
func NewRequestService(repo requestStore, users profileReader, certs certificateIssuer, fanout notificationFanout, audit auditLogger, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		repo:   repo,
		users:  users,
		certs:  certs,
		fanout: fanout,
		audit:  audit,
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a new pending request for the acting student.
func (s *RequestService) Submit(ctx context.Context, req dto.SubmitRequest, actor *models.JWTClaims) (*models.RequestView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	switch req.Type {
	case models.RequestTypeOuting, models.RequestTypeLeave, models.RequestTypeOther:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown request type")
	}

	student, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	wardenID := models.StringValue(student.WardenID, "")
	if wardenID == "" {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no warden assigned to this student")
	}

	request := &models.OutingRequest{
		StudentID:   student.ID,
		StudentName: student.FullName,
		WardenID:    wardenID,
		Type:        req.Type,
		Reason:      req.Reason,
		OutDate:     req.OutDate,
		OutTime:     req.OutTime,
		ReturnDate:  req.ReturnDate,
		ReturnTime:  req.ReturnTime,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	return viewOf(request, time.Now().UTC()), nil
}

// Approve transitions a pending request to approved and issues its
// certificate atomically, then broadcasts best-effort notifications.
func (s *RequestService) Approve(ctx context.Context, requestID string, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	request, err := s.loadForWarden(ctx, requestID, actor)
	if err != nil {
		s.recordTransition("approve", "error")
		return nil, err
	}
	now := time.Now().UTC()
	if request.EffectiveStatus(now) != models.RequestStatusPending {
		s.recordTransition("approve", "conflict")
		return nil, appErrors.ErrInvalidTransition
	}

	// student profile is best-effort: a missing profile degrades the
	// certificate snapshot, it never blocks the approval
	var student *models.User
	if loaded, err := s.users.FindByID(ctx, request.StudentID); err == nil {
		student = loaded
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("student lookup failed during approval", zap.String("request_id", requestID), zap.Error(err))
	}
	var warden *models.User
	if loaded, err := s.users.FindByID(ctx, actor.UserID); err == nil {
		warden = loaded
	}

	var cert *models.ApprovalCertificate
	for attempt := 0; ; attempt++ {
		number, err := s.certs.NewApprovalNumber(ctx)
		if err != nil {
			s.recordTransition("approve", "error")
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate approval number")
		}
		cert = BuildCertificate(request, student, warden, number, now)
		cert.WardenID = actor.UserID

		err = s.repo.ApproveWithCertificate(ctx, cert)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrStateConflict) {
			s.recordTransition("approve", "conflict")
			return nil, appErrors.ErrInvalidTransition
		}
		if repository.IsUniqueViolation(err) && attempt < 2 {
			s.logger.Warn("approval number collided on insert, retrying", zap.String("number", number))
			continue
		}
		s.recordTransition("approve", "error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve request")
	}
	s.recordTransition("approve", "success")

	updated, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		// approval is committed; fall back to the stale copy for the response
		s.logger.Warn("re-read after approval failed", zap.String("request_id", requestID), zap.Error(err))
		updated = request
		updated.Status = models.RequestStatusApproved
		updated.ApprovedAt = &now
		updated.ApprovalNumber = &cert.ApprovalNumber
		updated.CertificateID = &cert.ID
	}

	s.emitAudit(ctx, actor, models.AuditActionRequestApprove, requestID, map[string]interface{}{
		"approval_number": cert.ApprovalNumber,
		"certificate_id":  cert.ID,
	})

	event := eventFor(updated, models.NotificationTypeApproved, actor.UserID, "")
	event.ApprovalNumber = cert.ApprovalNumber
	warnings := s.fanout.Dispatch(ctx, event)
	s.publish(event)

	return &dto.TransitionResult{Request: viewOf(updated, now), Warnings: warnings}, nil
}

// Reject transitions a pending request to rejected. The reason is mandatory
// and checked before any mutation.
func (s *RequestService) Reject(ctx context.Context, requestID, reason string, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	request, err := s.loadForWarden(ctx, requestID, actor)
	if err != nil {
		s.recordTransition("reject", "error")
		return nil, err
	}
	now := time.Now().UTC()
	if request.EffectiveStatus(now) != models.RequestStatusPending {
		s.recordTransition("reject", "conflict")
		return nil, appErrors.ErrInvalidTransition
	}

	if err := s.repo.Reject(ctx, requestID, reason, now); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.recordTransition("reject", "conflict")
			return nil, appErrors.ErrInvalidTransition
		}
		s.recordTransition("reject", "error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
	}
	s.recordTransition("reject", "success")

	request.Status = models.RequestStatusRejected
	request.RejectReason = &reason
	request.RejectedAt = &now

	s.emitAudit(ctx, actor, models.AuditActionRequestReject, requestID, map[string]interface{}{"reason": reason})

	warnings := s.fanout.Dispatch(ctx, eventFor(request, models.NotificationTypeRejected, actor.UserID, reason))
	return &dto.TransitionResult{Request: viewOf(request, now), Warnings: warnings}, nil
}

// Cancel transitions an approved request to cancelled and revokes its
// certificate in the same transaction.
func (s *RequestService) Cancel(ctx context.Context, requestID, reason string, actor *models.JWTClaims) (*dto.TransitionResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancellation reason is required")
	}
	request, err := s.loadForWarden(ctx, requestID, actor)
	if err != nil {
		s.recordTransition("cancel", "error")
		return nil, err
	}
	now := time.Now().UTC()
	if request.Status != models.RequestStatusApproved {
		s.recordTransition("cancel", "conflict")
		return nil, appErrors.ErrInvalidTransition
	}

	if err := s.repo.CancelAndRevoke(ctx, requestID, reason, now); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.recordTransition("cancel", "conflict")
			return nil, appErrors.ErrInvalidTransition
		}
		s.recordTransition("cancel", "error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel request")
	}
	s.recordTransition("cancel", "success")

	// the certificate row is revoked; drop any cached verify verdict so the
	// gate stops accepting the pass immediately rather than after the TTL
	if request.ApprovalNumber != nil {
		s.certs.InvalidateVerify(ctx, *request.ApprovalNumber)
	}

	request.Status = models.RequestStatusCancelled
	request.CancelReason = &reason
	request.CancelledAt = &now

	s.emitAudit(ctx, actor, models.AuditActionRequestCancel, requestID, map[string]interface{}{"reason": reason})

	event := eventFor(request, models.NotificationTypeCancelled, actor.UserID, reason)
	warnings := s.fanout.Dispatch(ctx, event)
	s.publish(event)

	return &dto.TransitionResult{Request: viewOf(request, now), Warnings: warnings}, nil
}

// Get returns a request with derived status, enforcing role scope.
func (s *RequestService) Get(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.RequestView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	switch actor.Role {
	case models.RoleStudent:
		if request.StudentID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	case models.RoleWarden:
		if request.WardenID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	}
	return viewOf(request, time.Now().UTC()), nil
}

// List returns requests visible to the actor with derived statuses applied.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.RequestView, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleWarden:
		filter.WardenID = actor.UserID
	case models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}
	if query.Type != "" {
		filter.Type = models.RequestType(strings.ToUpper(query.Type))
	}
	if query.Status != "" {
		for _, part := range strings.Split(query.Status, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			filter.Status = append(filter.Status, models.RequestStatus(part))
		}
	}

	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}

	now := time.Now().UTC()
	views := make([]models.RequestView, 0, len(requests))
	for i := range requests {
		views = append(views, *viewOf(&requests[i], now))
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	if pagination.Page < 1 {
		pagination.Page = 1
	}
	if pagination.PageSize <= 0 {
		pagination.PageSize = 20
	}
	return views, pagination, nil
}

func (s *RequestService) loadForWarden(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.OutingRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Staff() {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if actor.Role == models.RoleWarden && request.WardenID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

func (s *RequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, requestID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "outing_request",
		ResourceID: &requestID,
		NewValues:  payload,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *RequestService) publish(event FanoutEvent) {
	if s.kiosk != nil {
		s.kiosk.PublishTransition(event)
	}
}

func (s *RequestService) recordTransition(action, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(action, outcome)
	}
}

func eventFor(req *models.OutingRequest, typ models.NotificationType, actorID, reason string) FanoutEvent {
	event := FanoutEvent{
		RequestID:   req.ID,
		Type:        typ,
		Status:      req.Status,
		StudentID:   req.StudentID,
		StudentName: req.StudentName,
		ActorID:     actorID,
		Reason:      reason,
		OutDate:     req.OutDate,
		OutTime:     req.OutTime,
		ReturnDate:  req.ReturnDate,
		ReturnTime:  req.ReturnTime,
	}
	if req.ApprovalNumber != nil {
		event.ApprovalNumber = *req.ApprovalNumber
	}
	return event
}

func viewOf(req *models.OutingRequest, now time.Time) *models.RequestView {
	return &models.RequestView{
		OutingRequest:   *req,
		EffectiveStatus: req.EffectiveStatus(now),
	}
}
