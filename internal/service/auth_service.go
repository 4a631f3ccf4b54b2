package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/repository"
	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

const (
	minPasswordLength = 8
	maxBulkLookup     = 100
)

// AuthService coordinates registration, login and token verification. It
// is the credential service for both REST and the websocket handshake.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	revoked    *auth.RevocationStore
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo    repository.UserRepository
	Revocations *auth.RevocationStore
	Logger      *zap.Logger
}

// SignupInput carries the fields of a new account.
type SignupInput struct {
	FirstName string
	LastName  string
	DOB       *time.Time
	Email     string
	Phone     string
	Password  string
}

// Session is the result of a successful signup or login.
type Session struct {
	User  *domain.User
	Token auth.IssuedToken
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL()),
		revoked:    deps.Revocations,
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
		now:        time.Now,
	}
}

// Signup registers an end-user account and logs it in.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*Session, error) {
	user, err := s.createAccount(ctx, input, domain.RoleUser)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// Login authenticates by email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.issue(user)
}

// Logout revokes the caller's token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, identity *domain.Identity) error {
	if !identity.Authenticated() {
		return apperrors.NewUnauthorized("authentication required")
	}
	ttl := identity.ExpiresAt.Sub(s.now())
	if err := s.revoked.Revoke(ctx, identity.TokenID, ttl); err != nil {
		return apperrors.NewInternalError(err)
	}
	s.logger.Info("user logged out", zap.String("user_id", identity.UserID))
	return nil
}

// ChangePassword verifies the current password before storing the new one.
func (s *AuthService) ChangePassword(ctx context.Context, identity *domain.Identity, currentPassword, newPassword string) error {
	if !identity.Authenticated() {
		return apperrors.NewUnauthorized("authentication required")
	}
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("invalid password", map[string]any{"new_password": "must be at least 8 characters"})
	}
	user, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return userError(err, identity.UserID)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return userError(s.users.UpdatePassword(ctx, user.ID, hash), user.ID)
}

// Authenticate verifies a token and confirms its subject still exists.
// The role is taken from the stored account rather than the token.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := s.tokenMgr.ParseToken(token)
	if err != nil {
		return nil, apperrors.NewUnauthorized("invalid token")
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("revocation lookup failed", zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	if revoked {
		return nil, apperrors.NewUnauthorized("token revoked")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("user not found")
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	identity := claims.Identity()
	identity.Role = user.Role
	return identity, nil
}

// GetUser returns an account. Staff may look up anyone, users only
// themselves.
func (s *AuthService) GetUser(ctx context.Context, actor *domain.Identity, userID string) (*domain.User, error) {
	if !actor.Authenticated() {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	if !actor.Role.IsStaff() && actor.UserID != userID {
		return nil, apperrors.NewForbidden("cannot view other accounts")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userError(err, userID)
	}
	return user, nil
}

// BulkUsers resolves many accounts at once for staff dashboards. Unknown
// ids are skipped.
func (s *AuthService) BulkUsers(ctx context.Context, actor *domain.Identity, ids []string) ([]domain.User, error) {
	if !actor.Authenticated() {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("staff only")
	}
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	if len(ids) > maxBulkLookup {
		return nil, apperrors.NewValidationError("too many ids", map[string]any{"max": maxBulkLookup})
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// CreateMember lets an admin add a support member account.
func (s *AuthService) CreateMember(ctx context.Context, actor *domain.Identity, input SignupInput) (*domain.User, error) {
	if !actor.Authenticated() {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("admin only")
	}
	user, err := s.createAccount(ctx, input, domain.RoleMember)
	if err != nil {
		return nil, err
	}
	s.logger.Info("member created", zap.String("user_id", user.ID), zap.String("created_by", actor.UserID))
	return user, nil
}

// EnsureBootstrapAdmin creates the configured admin account if missing.
func (s *AuthService) EnsureBootstrapAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	user, err := s.createAccount(ctx, SignupInput{
		FirstName: "Admin",
		LastName:  "Admin",
		Email:     email,
		Password:  password,
	}, domain.RoleAdmin)
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", user.ID))
	return nil
}

func (s *AuthService) createAccount(ctx context.Context, input SignupInput, role domain.Role) (*domain.User, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = strings.TrimSpace(input.Phone)

	details := map[string]any{}
	if input.FirstName == "" {
		details["first_name"] = "required"
	}
	if input.LastName == "" {
		details["last_name"] = "required"
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		details["email"] = "invalid"
	}
	if len(input.Password) < minPasswordLength {
		details["password"] = "must be at least 8 characters"
	}
	if input.DOB != nil && input.DOB.After(s.now()) {
		details["dob"] = "must be in the past"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid account", details)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		DOB:          input.DOB,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewValidationError("account already exists", map[string]any{"email": "already registered"})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

func (s *AuthService) issue(user *domain.User) (*Session, error) {
	token, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{User: user, Token: token}, nil
}

func userError(err error, userID string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	return apperrors.MapError(err)
}
