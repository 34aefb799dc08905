package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
)

type authUsersStub struct {
	users   map[string]*models.User
	tokens  map[string]*models.RefreshToken
	logs    []*models.AuditLog
	created []*models.User
}

func newAuthUsersStub(users ...*models.User) *authUsersStub {
	stub := &authUsersStub{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return stub
}

func (s *authUsersStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *authUsersStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authUsersStub) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = user
	s.created = append(s.created, user)
	return nil
}

func (s *authUsersStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (s *authUsersStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := s.users[id]; ok {
		u.PasswordHash = passwordHash
		return nil
	}
	return sql.ErrNoRows
}

func (s *authUsersStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	for _, t := range s.tokens {
		if t.UserID == userID {
			t.Revoked = true
			t.RevokedAt = &now
		}
	}
	return nil
}

func (s *authUsersStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.tokens[token.Token] = token
	return nil
}

func (s *authUsersStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := s.tokens[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authUsersStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, t := range s.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *authUsersStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type pendingAuthStub struct {
	records map[string]*models.PendingStudent
	deleted []string
}

func newPendingAuthStub(records ...*models.PendingStudent) *pendingAuthStub {
	stub := &pendingAuthStub{records: make(map[string]*models.PendingStudent)}
	for _, r := range records {
		stub.records[r.ID] = r
	}
	return stub
}

func (s *pendingAuthStub) FindByEmail(ctx context.Context, email string) (*models.PendingStudent, error) {
	for _, r := range s.records {
		if strings.EqualFold(r.Email, email) {
			return r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *pendingAuthStub) FindByID(ctx context.Context, id string) (*models.PendingStudent, error) {
	if r, ok := s.records[id]; ok {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

func (s *pendingAuthStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.records[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.records, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "hostel-outpass-api",
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestLoginActiveUser(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "warden@college.edu", FullName: "Dr. Rao",
		Role: models.RoleWarden, Active: true, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "warden@college.edu", Password: "secret1"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.False(t, res.Activated)
	require.Equal(t, models.RoleWarden, res.User.Role)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, models.RoleWarden, claims.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "warden@college.edu", Active: true, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "warden@college.edu", Password: "wrong"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "gone@college.edu", Active: false, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "gone@college.edu", Password: "secret1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestLoginActivatesPendingImport(t *testing.T) {
	users := newAuthUsersStub()
	pending := newPendingAuthStub(&models.PendingStudent{
		ID: "pend-1", Email: "jane@college.edu", FullName: "Jane O'Brien",
		USN: "1XX22CS001", Branch: "CSE", WardenID: "warden-1",
		PasswordHash: mustHash(t, "jane123"),
	})
	svc := NewAuthService(users, pending, nil, nil, testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@college.edu", Password: "jane123"})
	require.NoError(t, err)
	require.True(t, res.Activated)
	require.Equal(t, models.RoleStudent, res.User.Role)

	// the pending row moved into the users table in the same call
	require.Len(t, users.created, 1)
	created := users.created[0]
	require.True(t, created.Active)
	require.Equal(t, "1XX22CS001", *created.USN)
	require.Equal(t, "warden-1", *created.WardenID)
	require.Equal(t, []string{"pend-1"}, pending.deleted)

	// the transferred hash keeps working for subsequent logins
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "jane@college.edu", Password: "jane123"})
	require.NoError(t, err)
}

func TestLoginPendingWrongPasswordDoesNotActivate(t *testing.T) {
	users := newAuthUsersStub()
	pending := newPendingAuthStub(&models.PendingStudent{
		ID: "pend-1", Email: "jane@college.edu", FullName: "Jane O'Brien",
		PasswordHash: mustHash(t, "jane123"),
	})
	svc := NewAuthService(users, pending, nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@college.edu", Password: "wrong"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	require.Empty(t, users.created)
	require.Empty(t, pending.deleted)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := NewAuthService(newAuthUsersStub(), newPendingAuthStub(), nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@college.edu", Password: "secret1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestActivatePendingRequiresAdmin(t *testing.T) {
	pending := newPendingAuthStub(&models.PendingStudent{
		ID: "pend-1", Email: "jane@college.edu", FullName: "Jane O'Brien",
		PasswordHash: mustHash(t, "jane123"),
	})
	svc := NewAuthService(newAuthUsersStub(), pending, nil, nil, testAuthConfig())

	_, err := svc.ActivatePending(context.Background(), "pend-1", wardenClaims("warden-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	user, err := svc.ActivatePending(context.Background(), "pend-1", &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.True(t, user.Active)
	require.Equal(t, models.RoleStudent, user.Role)
	require.Equal(t, []string{"pend-1"}, pending.deleted)
}

func TestRefreshTokenRotation(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "warden@college.edu", Active: true, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "warden@college.edu", Password: "secret1"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// the consumed token is revoked and cannot be replayed
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRefreshTokenExpired(t *testing.T) {
	users := newAuthUsersStub(&models.User{ID: "user-1", Email: "warden@college.edu", Active: true})
	users.tokens["stale"] = &models.RefreshToken{
		ID: "tok-1", UserID: "user-1", Token: "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "warden@college.edu", Active: true, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "warden@college.edu", Password: "secret1"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "secret1", NewPassword: "secret2",
	})
	require.NoError(t, err)
	require.True(t, users.tokens[login.RefreshToken].Revoked)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "warden@college.edu", Password: "secret2"})
	require.NoError(t, err)
}

func TestChangePasswordWrongOld(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "warden@college.edu", Active: true, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "wrong", NewPassword: "secret2",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	users := newAuthUsersStub(&models.User{
		ID: "user-1", Email: "warden@college.edu", Active: true, PasswordHash: mustHash(t, "secret1"),
	})
	svc := NewAuthService(users, newPendingAuthStub(), nil, nil, testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "warden@college.edu", Password: "secret1"})
	require.NoError(t, err)

	other := NewAuthService(users, newPendingAuthStub(), nil, nil, AuthConfig{
		AccessTokenSecret: "different-secret", AccessTokenExpiry: time.Minute, RefreshTokenExpiry: time.Hour,
	})
	_, err = other.ValidateToken(login.AccessToken)
	require.Error(t, err)
}
