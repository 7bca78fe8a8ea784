package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

const (
	verifyTokenTTL = 48 * time.Hour
	resetTokenTTL  = time.Hour
	revokedPrefix  = "auth:revoked:"
)

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the log instead of sending it.
type LogMailer struct {
	Logger zerolog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.Logger.Info().Str("component", "mailer").Str("to", to).Str("subject", subject).Str("body", body).Msg("mail queued")
	return nil
}

// SessionLinker attaches an anonymous session to an account.
type SessionLinker interface {
	AssignUser(ctx context.Context, sessionID string, userID uuid.UUID) error
}

// AuthService manages the credential lifecycle.
type AuthService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	VerifyEmail(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req dto.ResetPasswordRequest) error
	ChangePassword(ctx context.Context, userID uuid.UUID, req dto.ChangePasswordRequest) error
	Profile(ctx context.Context, userID uuid.UUID) (dto.UserResponse, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, req dto.ProfileUpdateRequest) (dto.UserResponse, error)
	Deactivate(ctx context.Context, claims dto.TokenClaims) error
	ValidateToken(ctx context.Context, token string) (dto.TokenClaims, error)
	Logout(ctx context.Context, claims dto.TokenClaims) error
}

// AuthConfig holds token settings.
type AuthConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

type authService struct {
	users     repository.UserRepository
	sessions  SessionLinker
	mailer    Mailer
	denylist  *redis.Client
	cfg       AuthConfig
	sanitizer *bluemonday.Policy
	now       func() time.Time
	logger    zerolog.Logger
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService constructs the auth service. denylist may be nil, in which
// case logout only expires with the token.
func NewAuthService(users repository.UserRepository, sessions SessionLinker, mailer Mailer, denylist *redis.Client, cfg AuthConfig, logger zerolog.Logger) AuthService {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "sqlpractice-api"
	}
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	return &authService{
		users:     users,
		sessions:  sessions,
		mailer:    mailer,
		denylist:  denylist,
		cfg:       cfg,
		sanitizer: bluemonday.StrictPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "auth_service").Logger(),
	}
}

func (s *authService) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return dto.AuthResponse{}, ErrEmailTaken
	} else if !repository.IsNotFound(err) {
		return dto.AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return dto.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(s.sanitizer.Sanitize(req.DisplayName)),
		Role:         models.RoleLearner,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if repository.IsUniqueViolation(err) {
			return dto.AuthResponse{}, ErrEmailTaken
		}
		return dto.AuthResponse{}, err
	}

	if token, err := s.issueToken(ctx, user.ID, models.TokenPurposeVerifyEmail, verifyTokenTTL); err != nil {
		s.logger.Warn().Err(err).Msg("failed to issue verification token")
	} else if err := s.mailer.Send(ctx, user.Email, "Verify your email", "Your verification token: "+token); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send verification mail")
	}

	s.linkSession(ctx, req.SessionID, user.ID)
	s.logger.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return s.authResponse(user)
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if repository.IsNotFound(err) {
			return dto.AuthResponse{}, ErrInvalidCredentials
		}
		return dto.AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return dto.AuthResponse{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return dto.AuthResponse{}, ErrUserInactive
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.users.Update(ctx, &user); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record last login")
	}

	s.linkSession(ctx, req.SessionID, user.ID)
	return s.authResponse(user)
}

func (s *authService) VerifyEmail(ctx context.Context, token string) error {
	record, err := s.users.ConsumeToken(ctx, models.TokenPurposeVerifyEmail, hashToken(token), s.now())
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return s.userError(err)
	}
	user.EmailVerified = true
	return s.users.Update(ctx, &user)
}

// ForgotPassword always succeeds for unknown emails so accounts cannot be
// enumerated.
func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.issueToken(ctx, user.ID, models.TokenPurposeResetPassword, resetTokenTTL)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, user.Email, "Reset your password", "Your password reset token: "+token)
}

func (s *authService) ResetPassword(ctx context.Context, req dto.ResetPasswordRequest) error {
	record, err := s.users.ConsumeToken(ctx, models.TokenPurposeResetPassword, hashToken(req.Token), s.now())
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return s.userError(err)
	}
	return s.setPassword(ctx, &user, req.Password)
}

func (s *authService) ChangePassword(ctx context.Context, userID uuid.UUID, req dto.ChangePasswordRequest) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return s.userError(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	return s.setPassword(ctx, &user, req.NewPassword)
}

func (s *authService) Profile(ctx context.Context, userID uuid.UUID) (dto.UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return dto.UserResponse{}, s.userError(err)
	}
	return dto.NewUserResponse(user), nil
}

func (s *authService) UpdateProfile(ctx context.Context, userID uuid.UUID, req dto.ProfileUpdateRequest) (dto.UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return dto.UserResponse{}, s.userError(err)
	}

	user.DisplayName = strings.TrimSpace(s.sanitizer.Sanitize(req.DisplayName))
	user.Bio = strings.TrimSpace(s.sanitizer.Sanitize(req.Bio))
	if err := s.users.Update(ctx, &user); err != nil {
		return dto.UserResponse{}, err
	}
	return dto.NewUserResponse(user), nil
}

func (s *authService) Deactivate(ctx context.Context, claims dto.TokenClaims) error {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return s.userError(err)
	}
	user.IsActive = false
	if err := s.users.Update(ctx, &user); err != nil {
		return err
	}
	return s.Logout(ctx, claims)
}

// ValidateToken checks signature, expiry and the revocation list.
func (s *authService) ValidateToken(ctx context.Context, token string) (dto.TokenClaims, error) {
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return dto.TokenClaims{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return dto.TokenClaims{}, ErrInvalidToken
	}

	if s.denylist != nil && claims.ID != "" {
		exists, err := s.denylist.Exists(ctx, revokedPrefix+claims.ID).Result()
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to check token revocation")
		} else if exists > 0 {
			return dto.TokenClaims{}, ErrTokenRevoked
		}
	}

	result := dto.TokenClaims{
		UserID:  userID,
		Email:   claims.Email,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

// Logout denylists the token id until the token would have expired anyway.
func (s *authService) Logout(ctx context.Context, claims dto.TokenClaims) error {
	if s.denylist == nil || claims.TokenID == "" {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.denylist.Set(ctx, revokedPrefix+claims.TokenID, "1", ttl).Err()
}

func (s *authService) authResponse(user models.User) (dto.AuthResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.TTL)
	claims := accessClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return dto.AuthResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return dto.AuthResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		User:      dto.NewUserResponse(user),
	}, nil
}

func (s *authService) issueToken(ctx context.Context, userID uuid.UUID, purpose string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	record := models.UserToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hashToken(token),
		ExpiresAt: s.now().Add(ttl),
	}
	if err := s.users.CreateToken(ctx, &record); err != nil {
		return "", err
	}
	return token, nil
}

func (s *authService) setPassword(ctx context.Context, user *models.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	return s.users.Update(ctx, user)
}

func (s *authService) linkSession(ctx context.Context, sessionID string, userID uuid.UUID) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || s.sessions == nil {
		return
	}
	if err := s.sessions.AssignUser(ctx, sessionID, userID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to link session to user")
	}
}

func (s *authService) userError(err error) error {
	if errors.Is(err, ErrUserNotFound) || repository.IsNotFound(err) {
		return ErrUserNotFound
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
