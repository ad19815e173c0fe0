package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

type mockAuthRepo struct {
	usersByEmail       map[string]*models.User
	usersByID          map[string]*models.User
	verifications      map[string]*models.VerificationToken
	refreshTokens      map[string]*models.RefreshToken
	auditLogs          []*models.AuditLog
	lastLoginUpdated   bool
	createErr          error
	createVerifyErr    error
	markVerifiedCalled bool
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{
		usersByEmail:  make(map[string]*models.User),
		usersByID:     make(map[string]*models.User),
		verifications: make(map[string]*models.VerificationToken),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (m *mockAuthRepo) addUser(user *models.User) {
	m.usersByEmail[user.Email] = user
	m.usersByID[user.ID] = user
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.usersByEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.addUser(user)
	return nil
}

func (m *mockAuthRepo) MarkEmailVerified(ctx context.Context, id string, ts time.Time) error {
	m.markVerifiedCalled = true
	if user, ok := m.usersByID[id]; ok {
		user.EmailVerified = true
	}
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	if m.createVerifyErr != nil {
		return m.createVerifyErr
	}
	m.verifications[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindVerificationToken(ctx context.Context, token string) (*models.VerificationToken, error) {
	vt, ok := m.verifications[token]
	if !ok || vt.UsedAt != nil {
		return nil, sql.ErrNoRows
	}
	return vt, nil
}

func (m *mockAuthRepo) ConsumeVerificationToken(ctx context.Context, id string, usedAt time.Time) error {
	for _, vt := range m.verifications {
		if vt.ID == id {
			vt.UsedAt = &usedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newTestAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceSignupIssuesVerificationToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo)

	res, err := svc.Signup(context.Background(), models.SignupRequest{
		FullName:        "Jordan Teacher",
		Email:           "Jordan@Example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.UserID)
	assert.NotEmpty(t, res.VerificationToken)
	assert.Contains(t, res.Message, "verify")

	stored, ok := repo.usersByEmail["jordan@example.com"]
	require.True(t, ok, "email should be stored lowercased")
	assert.False(t, stored.EmailVerified)
	assert.True(t, stored.Active)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionSignup, repo.auditLogs[0].Action)
}

func TestAuthServiceSignupPasswordMismatch(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo)

	_, err := svc.Signup(context.Background(), models.SignupRequest{
		FullName:        "Jordan Teacher",
		Email:           "jordan@example.com",
		Password:        "password123",
		ConfirmPassword: "different456",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestAuthServiceSignupDuplicateEmail(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{ID: "u-1", Email: "jordan@example.com"})
	svc := newTestAuthService(repo)

	_, err := svc.Signup(context.Background(), models.SignupRequest{
		FullName:        "Jordan Teacher",
		Email:           "jordan@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict.Code))
}

func TestAuthServiceVerifyEmail(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{ID: "u-1", Email: "jordan@example.com"})
	repo.verifications["tok-1"] = &models.VerificationToken{
		ID:        "vt-1",
		UserID:    "u-1",
		Token:     "tok-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	svc := newTestAuthService(repo)

	require.NoError(t, svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "tok-1"}))
	assert.True(t, repo.markVerifiedCalled)
	assert.True(t, repo.usersByID["u-1"].EmailVerified)

	// token is single use
	err := svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "tok-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceVerifyEmailExpiredToken(t *testing.T) {
	repo := newMockAuthRepo()
	repo.verifications["tok-1"] = &models.VerificationToken{
		ID:        "vt-1",
		UserID:    "u-1",
		Token:     "tok-1",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	svc := newTestAuthService(repo)

	err := svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: "tok-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:            "u-1",
		Email:         "jordan@example.com",
		PasswordHash:  mustHash(t, "password123"),
		EmailVerified: true,
		Active:        true,
	})
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "jordan@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
}

func TestAuthServiceLoginUnverifiedEmail(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:           "u-1",
		Email:        "jordan@example.com",
		PasswordHash: mustHash(t, "password123"),
		Active:       true,
	})
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "jordan@example.com", Password: "password123"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailNotVerified.Code))
	assert.Contains(t, err.Error(), "Please verify your email before continuing.")
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:            "u-1",
		Email:         "jordan@example.com",
		PasswordHash:  mustHash(t, "password123"),
		EmailVerified: true,
		Active:        true,
	})
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "jordan@example.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials.Code))
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:            "u-1",
		Email:         "jordan@example.com",
		PasswordHash:  mustHash(t, "password123"),
		EmailVerified: true,
		Active:        true,
	})
	svc := newTestAuthService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "jordan@example.com", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	// the used token cannot be replayed
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceLogoutRevokesToken(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:            "u-1",
		Email:         "jordan@example.com",
		PasswordHash:  mustHash(t, "password123"),
		EmailVerified: true,
		Active:        true,
	})
	svc := newTestAuthService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "jordan@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "u-1", models.LoginRequest{}))
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
}
