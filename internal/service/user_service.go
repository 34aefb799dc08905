package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-outpass-api/internal/dto"
	"github.com/noah-isme/hostel-outpass-api/internal/models"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
)

type userAdminStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type pendingListStore interface {
	List(ctx context.Context, limit int) ([]models.PendingStudent, error)
}

// UserService manages the hostel roster: wardens and students, plus the
// pending accounts created by bulk imports.
type UserService struct {
	repo    userAdminStore
	pending pendingListStore
	logger  *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo userAdminStore, pending pendingListStore, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, pending: pending, logger: logger}
}

// Create provisions an account. Admins create any role; wardens may only
// create students assigned to themselves.
func (s *UserService) Create(ctx context.Context, req dto.CreateUserRequest, actor *models.JWTClaims) (*models.User, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	switch req.Role {
	case models.RoleAdmin, models.RoleWarden, models.RoleStudent:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleWarden:
		if req.Role != models.RoleStudent {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "wardens may only create student accounts")
		}
		req.WardenID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	if req.Role == models.RoleStudent && req.WardenID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students require an assigned warden")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an account with this email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         req.Role,
		Active:       true,
	}
	if req.Role == models.RoleStudent {
		user.USN = optional(req.USN)
		user.Branch = optional(req.Branch)
		user.Year = optional(req.Year)
		user.Block = optional(req.Block)
		user.Room = optional(req.Room)
		user.Phone = optional(req.Phone)
		user.ParentPhone = optional(req.ParentPhone)
		user.WardenID = optional(req.WardenID)
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	s.auditUser(ctx, actor, models.AuditActionUserCreate, user.ID, map[string]interface{}{
		"email": user.Email, "role": user.Role,
	})
	return user, nil
}

// Get returns a user, restricted to the actor's scope.
func (s *UserService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.User, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleWarden:
		if user.ID != actor.UserID && models.StringValue(user.WardenID, "") != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	default:
		if user.ID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	}
	return user, nil
}

// List returns roster entries visible to the actor.
func (s *UserService) List(ctx context.Context, query dto.UserQuery, actor *models.JWTClaims) ([]models.User, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.UserFilter{
		Search:   query.Search,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	switch actor.Role {
	case models.RoleAdmin:
		filter.WardenID = query.WardenID
		if query.Role != "" {
			role := models.UserRole(strings.ToUpper(query.Role))
			filter.Role = &role
		}
	case models.RoleWarden:
		// wardens see only their own students
		student := models.RoleStudent
		filter.Role = &student
		filter.WardenID = actor.UserID
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	if pagination.Page < 1 {
		pagination.Page = 1
	}
	if pagination.PageSize <= 0 {
		pagination.PageSize = 20
	}
	return users, pagination, nil
}

// ListPending returns imported accounts that have not been activated yet.
func (s *UserService) ListPending(ctx context.Context, limit int, actor *models.JWTClaims) ([]models.PendingStudent, error) {
	if !actor.Staff() {
		return nil, appErrors.ErrForbidden
	}
	pending, err := s.pending.List(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending accounts")
	}
	return pending, nil
}

// Update modifies mutable profile fields of a user.
func (s *UserService) Update(ctx context.Context, id string, req dto.UpdateUserRequest, actor *models.JWTClaims) (*models.User, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Branch != nil {
		user.Branch = req.Branch
	}
	if req.Year != nil {
		user.Year = req.Year
	}
	if req.Block != nil {
		user.Block = req.Block
	}
	if req.Room != nil {
		user.Room = req.Room
	}
	if req.Phone != nil {
		user.Phone = req.Phone
	}
	if req.ParentPhone != nil {
		user.ParentPhone = req.ParentPhone
	}
	if req.WardenID != nil {
		user.WardenID = req.WardenID
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	s.auditUser(ctx, actor, models.AuditActionUserUpdate, user.ID, map[string]interface{}{"email": user.Email})
	return user, nil
}

// Deactivate disables an account so it can no longer authenticate.
func (s *UserService) Deactivate(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	if id == actor.UserID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	s.auditUser(ctx, actor, models.AuditActionUserDelete, id, map[string]interface{}{"deactivated_at": time.Now().UTC()})
	return nil
}

func (s *UserService) auditUser(ctx context.Context, actor *models.JWTClaims, action, resourceID string, values map[string]interface{}) {
	payload, _ := json.Marshal(values)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		NewValues:  payload,
	}
	if err := s.repo.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
