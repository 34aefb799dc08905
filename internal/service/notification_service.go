package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
	"github.com/noah-isme/hostel-outpass-api/pkg/jobs"
	"github.com/noah-isme/hostel-outpass-api/pkg/mailer"
	"github.com/noah-isme/hostel-outpass-api/pkg/sms"
)

// Channel identifies one delivery path of the fan-out.
type Channel string

const (
	ChannelInApp  Channel = "in_app"
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelParent Channel = "parent"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	CreateParent(ctx context.Context, n *models.ParentNotification) error
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) error
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

type profileReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// FanoutEvent describes one request transition to broadcast.
type FanoutEvent struct {
	RequestID      string                  `json:"request_id"`
	Type           models.NotificationType `json:"type"`
	Status         models.RequestStatus    `json:"status"`
	StudentID      string                  `json:"student_id"`
	StudentName    string                  `json:"student_name"`
	ActorID        string                  `json:"actor_id"`
	Reason         string                  `json:"reason,omitempty"`
	ApprovalNumber string                  `json:"approval_number,omitempty"`
	OutDate        string                  `json:"out_date"`
	OutTime        string                  `json:"out_time"`
	ReturnDate     string                  `json:"return_date"`
	ReturnTime     string                  `json:"return_time"`
}

type channelTask struct {
	Channel Channel
	Event   FanoutEvent
}

// NotificationService broadcasts request transitions across independent
// channels. The in-app record is the durable part of the fan-out and is
// written synchronously; email, SMS and the parent notice are dispatched on
// an at-least-once worker queue with bounded retries. No channel failure
// ever propagates to the lifecycle caller.
type NotificationService struct {
	repo    notificationStore
	users   profileReader
	email   mailer.Sender
	sms     sms.Sender
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the service and its internal queue.
func NewNotificationService(repo notificationStore, users profileReader, email mailer.Sender, smsSender sms.Sender, metrics *MetricsService, logger *zap.Logger, queueCfg jobs.QueueConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		repo:    repo,
		users:   users,
		email:   email,
		sms:     smsSender,
		metrics: metrics,
		logger:  logger,
	}
	queueCfg.Logger = logger
	svc.queue = jobs.NewQueue("notifications", svc.handleChannelJob, queueCfg)
	return svc
}

// Start launches the fan-out workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the fan-out workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch performs the fan-out for one transition event. The returned
// warnings describe degraded channels; the call itself never fails.
func (s *NotificationService) Dispatch(ctx context.Context, event FanoutEvent) []string {
	var warnings []string

	title, message := inAppContent(event)
	notification := &models.Notification{
		RecipientID: event.StudentID,
		SenderID:    event.ActorID,
		Type:        event.Type,
		RequestID:   event.RequestID,
		Title:       title,
		Message:     message,
		Status:      event.Status,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		s.logger.Error("in-app notification failed", zap.String("request_id", event.RequestID), zap.Error(err))
		s.recordChannel(ChannelInApp, "failure")
		warnings = append(warnings, "in-app notification could not be stored")
	} else {
		s.recordChannel(ChannelInApp, "success")
	}

	channels := []Channel{ChannelEmail, ChannelSMS}
	if event.Type == models.NotificationTypeApproved {
		channels = append(channels, ChannelParent)
	}
	for _, channel := range channels {
		job := jobs.Job{
			ID:      fmt.Sprintf("%s:%s", event.RequestID, channel),
			Type:    string(channel),
			Payload: channelTask{Channel: channel, Event: event},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("channel enqueue failed", zap.String("channel", string(channel)), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("%s notification could not be queued", channel))
		}
	}
	return warnings
}

func (s *NotificationService) handleChannelJob(ctx context.Context, job jobs.Job) error {
	task, ok := job.Payload.(channelTask)
	if !ok {
		s.logger.Error("unexpected job payload", zap.String("job_id", job.ID))
		return nil
	}

	student, err := s.users.FindByID(ctx, task.Event.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// profile gone: nothing to deliver, do not retry
			s.recordChannel(task.Channel, "skipped")
			return nil
		}
		return fmt.Errorf("load student profile: %w", err)
	}

	switch task.Channel {
	case ChannelEmail:
		return s.deliverEmail(ctx, task.Event, student)
	case ChannelSMS:
		return s.deliverSMS(ctx, task.Event, student)
	case ChannelParent:
		return s.deliverParentNotice(ctx, task.Event, student)
	default:
		s.logger.Error("unknown channel", zap.String("channel", string(task.Channel)))
		return nil
	}
}

func (s *NotificationService) deliverEmail(ctx context.Context, event FanoutEvent, student *models.User) error {
	if s.email == nil || student.Email == "" {
		s.recordChannel(ChannelEmail, "skipped")
		return nil
	}
	msg := emailContent(event, student)
	if err := s.email.Send(ctx, msg); err != nil {
		s.recordChannel(ChannelEmail, "failure")
		return err
	}
	s.recordChannel(ChannelEmail, "success")
	return nil
}

func (s *NotificationService) deliverSMS(ctx context.Context, event FanoutEvent, student *models.User) error {
	phone := models.StringValue(student.Phone, "")
	if s.sms == nil || phone == "" {
		s.recordChannel(ChannelSMS, "skipped")
		return nil
	}
	if err := s.sms.Send(ctx, phone, smsContent(event)); err != nil {
		s.recordChannel(ChannelSMS, "failure")
		if errors.Is(err, appErrors.ErrChannelConfig) {
			// misconfiguration is not transient, retrying cannot help
			s.logger.Error("sms channel not configured", zap.Error(err))
			return nil
		}
		return err
	}
	s.recordChannel(ChannelSMS, "success")
	return nil
}

func (s *NotificationService) deliverParentNotice(ctx context.Context, event FanoutEvent, student *models.User) error {
	parentPhone := models.StringValue(student.ParentPhone, "")
	if parentPhone == "" {
		s.recordChannel(ChannelParent, "skipped")
		return nil
	}
	notice := &models.ParentNotification{
		StudentID:   event.StudentID,
		RequestID:   event.RequestID,
		ParentPhone: parentPhone,
		Message: fmt.Sprintf("%s has been permitted to leave the hostel from %s %s until %s %s (approval %s).",
			event.StudentName, event.OutDate, event.OutTime, event.ReturnDate, event.ReturnTime, event.ApprovalNumber),
	}
	if err := s.repo.CreateParent(ctx, notice); err != nil {
		s.recordChannel(ChannelParent, "failure")
		return err
	}
	s.recordChannel(ChannelParent, "success")
	return nil
}

func (s *NotificationService) recordChannel(channel Channel, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordChannelAttempt(string(channel), outcome)
	}
}

// ListForRecipient returns a recipient's notifications.
func (s *NotificationService) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	notifications, err := s.repo.ListByRecipient(ctx, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead marks one notification as read for its recipient.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if err := s.repo.MarkRead(ctx, id, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of a recipient as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) error {
	if err := s.repo.MarkAllRead(ctx, recipientID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

// UnreadCount returns the number of unread notifications for a recipient.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

func inAppContent(event FanoutEvent) (title, message string) {
	switch event.Type {
	case models.NotificationTypeApproved:
		title = "Outing request approved"
		message = fmt.Sprintf("Your request for %s %s has been approved. Approval number: %s.",
			event.OutDate, event.OutTime, event.ApprovalNumber)
	case models.NotificationTypeRejected:
		title = "Outing request rejected"
		message = fmt.Sprintf("Your request for %s %s was rejected. Reason: %s.",
			event.OutDate, event.OutTime, event.Reason)
	case models.NotificationTypeCancelled:
		title = "Outing approval cancelled"
		message = fmt.Sprintf("The approval for your outing on %s %s was cancelled. Reason: %s.",
			event.OutDate, event.OutTime, event.Reason)
	default:
		title = "Outing request update"
		message = fmt.Sprintf("Your request %s changed status to %s.", event.RequestID, event.Status)
	}
	return title, message
}

func emailContent(event FanoutEvent, student *models.User) mailer.Message {
	title, body := inAppContent(event)
	html := fmt.Sprintf("<p>Dear %s,</p><p>%s</p><p>Hostel Office</p>", student.FullName, body)
	return mailer.Message{
		ToName:    student.FullName,
		ToAddress: student.Email,
		Subject:   title,
		TextBody:  body,
		HTMLBody:  html,
	}
}

func smsContent(event FanoutEvent) string {
	switch event.Type {
	case models.NotificationTypeApproved:
		return fmt.Sprintf("Outing approved for %s %s. Approval no: %s. Return by %s %s.",
			event.OutDate, event.OutTime, event.ApprovalNumber, event.ReturnDate, event.ReturnTime)
	case models.NotificationTypeRejected:
		return fmt.Sprintf("Outing request for %s %s rejected: %s", event.OutDate, event.OutTime, event.Reason)
	case models.NotificationTypeCancelled:
		return fmt.Sprintf("Outing approval for %s %s cancelled: %s", event.OutDate, event.OutTime, event.Reason)
	default:
		return fmt.Sprintf("Outing request %s is now %s", event.RequestID, event.Status)
	}
}
