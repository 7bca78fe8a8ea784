package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

type captureMailer struct {
	mu     sync.Mutex
	bodies []string
}

func (m *captureMailer) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.bodies)
	body := m.bodies[len(m.bodies)-1]
	return strings.TrimSpace(body[strings.LastIndex(body, ":")+1:])
}

func newTestAuth(t *testing.T) (AuthService, *captureMailer, repository.ProgressRepository) {
	t.Helper()
	db := newTestDB(t)
	redisClient, _ := newTestRedis(t)
	mailer := &captureMailer{}
	progress := repository.NewProgressRepository(db)
	service := NewAuthService(repository.NewUserRepository(db), progress, mailer, redisClient, AuthConfig{Secret: "test-secret", TTL: time.Hour}, zerolog.Nop())
	return service, mailer, progress
}

func TestAuthRegisterLoginAndValidate(t *testing.T) {
	service, _, _ := newTestAuth(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, dto.RegisterRequest{Email: " Ada@Example.com ", Password: "s3cret-pass", DisplayName: "<b>Ada</b>"})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", registered.User.Email)
	require.Equal(t, "Ada", registered.User.DisplayName)
	require.NotEmpty(t, registered.Token)

	_, err = service.Register(ctx, dto.RegisterRequest{Email: "ada@example.com", Password: "another-pass"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = service.Login(ctx, dto.LoginRequest{Email: "ada@example.com", Password: "wrong-pass"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := service.Login(ctx, dto.LoginRequest{Email: "ADA@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	claims, err := service.ValidateToken(ctx, login.Token)
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, claims.UserID)
	require.Equal(t, models.RoleLearner, claims.Role)

	_, err = service.ValidateToken(ctx, login.Token+"x")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthLogoutRevokesToken(t *testing.T) {
	service, _, _ := newTestAuth(t)
	ctx := context.Background()

	auth, err := service.Register(ctx, dto.RegisterRequest{Email: "grace@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	claims, err := service.ValidateToken(ctx, auth.Token)
	require.NoError(t, err)
	require.NoError(t, service.Logout(ctx, claims))

	_, err = service.ValidateToken(ctx, auth.Token)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAuthVerifyEmailConsumesToken(t *testing.T) {
	service, mailer, _ := newTestAuth(t)
	ctx := context.Background()

	auth, err := service.Register(ctx, dto.RegisterRequest{Email: "linus@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.False(t, auth.User.EmailVerified)

	token := mailer.lastToken(t)
	require.NoError(t, service.VerifyEmail(ctx, token))
	require.ErrorIs(t, service.VerifyEmail(ctx, token), ErrInvalidToken)

	profile, err := service.Profile(ctx, auth.User.ID)
	require.NoError(t, err)
	require.True(t, profile.EmailVerified)
}

func TestAuthPasswordResetFlow(t *testing.T) {
	service, mailer, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := service.Register(ctx, dto.RegisterRequest{Email: "barbara@example.com", Password: "old-password"})
	require.NoError(t, err)

	require.NoError(t, service.ForgotPassword(ctx, "nobody@example.com"))
	require.NoError(t, service.ForgotPassword(ctx, "barbara@example.com"))

	token := mailer.lastToken(t)
	require.NoError(t, service.ResetPassword(ctx, dto.ResetPasswordRequest{Token: token, Password: "new-password"}))

	_, err = service.Login(ctx, dto.LoginRequest{Email: "barbara@example.com", Password: "old-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = service.Login(ctx, dto.LoginRequest{Email: "barbara@example.com", Password: "new-password"})
	require.NoError(t, err)
}

func TestAuthDeactivateBlocksLogin(t *testing.T) {
	service, _, _ := newTestAuth(t)
	ctx := context.Background()

	auth, err := service.Register(ctx, dto.RegisterRequest{Email: "ken@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	claims, err := service.ValidateToken(ctx, auth.Token)
	require.NoError(t, err)

	require.NoError(t, service.Deactivate(ctx, claims))

	_, err = service.Login(ctx, dto.LoginRequest{Email: "ken@example.com", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrUserInactive)
	_, err = service.ValidateToken(ctx, auth.Token)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAuthRegisterLinksAnonymousSession(t *testing.T) {
	service, _, progress := newTestAuth(t)
	ctx := context.Background()

	require.NoError(t, progress.UpsertSession(ctx, &models.Session{ID: "session_anon", LastActivity: time.Now().UTC()}))

	auth, err := service.Register(ctx, dto.RegisterRequest{Email: "dennis@example.com", Password: "s3cret-pass", SessionID: "session_anon"})
	require.NoError(t, err)

	session, err := progress.GetSession(ctx, "session_anon")
	require.NoError(t, err)
	require.NotNil(t, session.UserID)
	require.Equal(t, auth.User.ID, *session.UserID)
}
