package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
	"github.com/noah-isme/hostel-outpass-api/pkg/jobs"
	"github.com/noah-isme/hostel-outpass-api/pkg/mailer"
	"github.com/noah-isme/hostel-outpass-api/pkg/sms"
)

type notifStoreStub struct {
	notifications []*models.Notification
	parents       []*models.ParentNotification
	createErr     error
	parentErr     error
	markReadErr   error
}

func (s *notifStoreStub) Create(ctx context.Context, n *models.Notification) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *notifStoreStub) CreateParent(ctx context.Context, n *models.ParentNotification) error {
	if s.parentErr != nil {
		return s.parentErr
	}
	s.parents = append(s.parents, n)
	return nil
}

func (s *notifStoreStub) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *notifStoreStub) MarkRead(ctx context.Context, id, recipientID string) error {
	return s.markReadErr
}

func (s *notifStoreStub) MarkAllRead(ctx context.Context, recipientID string) error {
	return nil
}

func (s *notifStoreStub) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return len(s.notifications), nil
}

type emailSenderStub struct {
	sent []mailer.Message
	err  error
}

func (s *emailSenderStub) Send(ctx context.Context, msg mailer.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type smsSenderStub struct {
	sent []string
	err  error
}

func (s *smsSenderStub) Send(ctx context.Context, phone, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, phone+": "+message)
	return nil
}

func approvedEvent() FanoutEvent {
	return FanoutEvent{
		RequestID:      "req-1",
		Type:           models.NotificationTypeApproved,
		Status:         models.RequestStatusApproved,
		StudentID:      "student-1",
		StudentName:    "Jane O'Brien",
		ActorID:        "warden-1",
		ApprovalNumber: "HO-2026-1712000000000-042",
		OutDate:        "2026-09-02",
		OutTime:        "10:00",
		ReturnDate:     "2026-09-02",
		ReturnTime:     "18:00",
	}
}

func newNotifService(store *notifStoreStub, users *profileStub, email mailer.Sender, smsSender sms.Sender) *NotificationService {
	return NewNotificationService(store, users, email, smsSender, nil, nil, jobs.QueueConfig{})
}

func TestDispatchWritesInAppSynchronously(t *testing.T) {
	store := &notifStoreStub{}
	svc := newNotifService(store, lifecycleUsers(), nil, nil)

	warnings := svc.Dispatch(context.Background(), approvedEvent())

	require.Len(t, store.notifications, 1)
	created := store.notifications[0]
	require.Equal(t, "student-1", created.RecipientID)
	require.Equal(t, "warden-1", created.SenderID)
	require.Equal(t, "Outing request approved", created.Title)
	require.Contains(t, created.Message, "HO-2026-1712000000000-042")

	// queue not started: every async channel degrades to a warning while
	// the durable in-app write still lands
	require.Len(t, warnings, 3)
}

func TestDispatchParentChannelOnlyOnApproval(t *testing.T) {
	store := &notifStoreStub{}
	svc := newNotifService(store, lifecycleUsers(), nil, nil)

	event := approvedEvent()
	event.Type = models.NotificationTypeRejected
	event.Status = models.RequestStatusRejected

	warnings := svc.Dispatch(context.Background(), event)
	require.Len(t, warnings, 2)

	warnings = svc.Dispatch(context.Background(), approvedEvent())
	require.Len(t, warnings, 3)
}

func TestDispatchInAppFailureIsWarningOnly(t *testing.T) {
	store := &notifStoreStub{createErr: sql.ErrConnDone}
	svc := newNotifService(store, lifecycleUsers(), nil, nil)

	warnings := svc.Dispatch(context.Background(), approvedEvent())
	require.Contains(t, warnings, "in-app notification could not be stored")
}

func TestChannelJobSkipsMissingStudent(t *testing.T) {
	store := &notifStoreStub{}
	svc := newNotifService(store, &profileStub{users: map[string]*models.User{}}, nil, nil)

	err := svc.handleChannelJob(context.Background(), jobs.Job{
		ID:      "req-1:email",
		Type:    string(ChannelEmail),
		Payload: channelTask{Channel: ChannelEmail, Event: approvedEvent()},
	})
	require.NoError(t, err)
}

func TestDeliverEmailFailureIsRetryable(t *testing.T) {
	email := &emailSenderStub{err: errors.New("sendgrid 503")}
	svc := newNotifService(&notifStoreStub{}, lifecycleUsers(), email, nil)

	student, err := lifecycleUsers().FindByID(context.Background(), "student-1")
	require.NoError(t, err)

	err = svc.deliverEmail(context.Background(), approvedEvent(), student)
	require.Error(t, err)
}

func TestDeliverEmailComposesMessage(t *testing.T) {
	email := &emailSenderStub{}
	svc := newNotifService(&notifStoreStub{}, lifecycleUsers(), email, nil)

	student, err := lifecycleUsers().FindByID(context.Background(), "student-1")
	require.NoError(t, err)

	require.NoError(t, svc.deliverEmail(context.Background(), approvedEvent(), student))
	require.Len(t, email.sent, 1)
	require.Equal(t, "jane@college.edu", email.sent[0].ToAddress)
	require.Equal(t, "Outing request approved", email.sent[0].Subject)
	require.Contains(t, email.sent[0].HTMLBody, "Jane O'Brien")
}

func TestDeliverSMSMisconfigurationIsNotRetried(t *testing.T) {
	smsSender := &smsSenderStub{err: appErrors.Clone(appErrors.ErrChannelConfig, "sms gateway url missing")}
	svc := newNotifService(&notifStoreStub{}, lifecycleUsers(), nil, smsSender)

	student, err := lifecycleUsers().FindByID(context.Background(), "student-1")
	require.NoError(t, err)

	require.NoError(t, svc.deliverSMS(context.Background(), approvedEvent(), student))
}

func TestDeliverSMSTransientFailureIsRetryable(t *testing.T) {
	smsSender := &smsSenderStub{err: errors.New("gateway timeout")}
	svc := newNotifService(&notifStoreStub{}, lifecycleUsers(), nil, smsSender)

	student, err := lifecycleUsers().FindByID(context.Background(), "student-1")
	require.NoError(t, err)

	require.Error(t, svc.deliverSMS(context.Background(), approvedEvent(), student))
}

func TestDeliverSMSSkipsWithoutPhone(t *testing.T) {
	smsSender := &smsSenderStub{}
	svc := newNotifService(&notifStoreStub{}, lifecycleUsers(), nil, smsSender)

	student := &models.User{ID: "student-2", FullName: "No Phone"}
	require.NoError(t, svc.deliverSMS(context.Background(), approvedEvent(), student))
	require.Empty(t, smsSender.sent)
}

func TestDeliverParentNoticePersists(t *testing.T) {
	store := &notifStoreStub{}
	svc := newNotifService(store, lifecycleUsers(), nil, nil)

	student, err := lifecycleUsers().FindByID(context.Background(), "student-1")
	require.NoError(t, err)

	require.NoError(t, svc.deliverParentNotice(context.Background(), approvedEvent(), student))
	require.Len(t, store.parents, 1)
	require.Equal(t, "9876500000", store.parents[0].ParentPhone)
	require.Contains(t, store.parents[0].Message, "HO-2026-1712000000000-042")
	require.Contains(t, store.parents[0].Message, "Jane O'Brien")
}

func TestDeliverParentNoticeSkipsWithoutParentPhone(t *testing.T) {
	store := &notifStoreStub{}
	svc := newNotifService(store, lifecycleUsers(), nil, nil)

	student := &models.User{ID: "student-2", FullName: "No Parent Phone"}
	require.NoError(t, svc.deliverParentNotice(context.Background(), approvedEvent(), student))
	require.Empty(t, store.parents)
}

func TestMarkReadMapsMissingRow(t *testing.T) {
	store := &notifStoreStub{markReadErr: sql.ErrNoRows}
	svc := newNotifService(store, lifecycleUsers(), nil, nil)

	err := svc.MarkRead(context.Background(), "missing", "student-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
