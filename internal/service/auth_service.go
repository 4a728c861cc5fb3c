package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"chatcore/internal/model"
	"chatcore/internal/repository"
	"chatcore/pkg/logger"
	"chatcore/pkg/password"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6
	maxPasswordLen = 100
)

// Error codes returned in AuthResult.Code, grounded on
// original_source/service/auth/AuthErrorCodes.java.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUserExists      = "USER_EXISTS"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeInvalidPassword = "INVALID_PASSWORD"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// AuthResult is the tagged-union result of Register/Login: exactly one of
// Username (on success) or Code+Message (on failure) is populated.
type AuthResult struct {
	Username string
	Code     string
	Message  string
}

func (r AuthResult) Ok() bool { return r.Code == "" }

func authOk(username string) AuthResult {
	return AuthResult{Username: username}
}

func authFail(code, message string) AuthResult {
	return AuthResult{Code: code, Message: message}
}

// AuthService implements C3, grounded on
// original_source/service/auth/AuthService.java.
type AuthService struct {
	users  *repository.UserRepository
	hasher *password.Hasher
}

func NewAuthService(users *repository.UserRepository, hasher *password.Hasher) *AuthService {
	return &AuthService{users: users, hasher: hasher}
}

// Register creates a new user after validating and normalizing credentials.
func (s *AuthService) Register(ctx context.Context, username, plainPassword string) AuthResult {
	creds, result := normalizeCredentials(username, plainPassword)
	if !result.Ok() {
		logger.Warn("registration rejected", zap.String("reason", result.Message))
		return result
	}

	exists, err := s.users.ExistsByUsername(ctx, creds.username)
	if err != nil {
		return authFail(CodeDatabaseError, "database error")
	}
	if exists {
		logger.Warn("registration rejected: user already exists", zap.String("username", creds.username))
		return authFail(CodeUserExists, "user already exists")
	}

	hash, err := s.hasher.Hash(creds.password)
	if err != nil {
		logger.Error("hashing password failed", zap.String("username", creds.username), zap.Error(err))
		return authFail(CodeInternalError, "internal server error")
	}

	user := &model.User{
		Username:     creds.username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Save(ctx, user); err != nil {
		if repository.IsStorageError(err) {
			return authFail(CodeDatabaseError, "database error")
		}
		logger.Error("unexpected error during registration", zap.String("username", creds.username), zap.Error(err))
		return authFail(CodeInternalError, "internal server error")
	}

	logger.Info("user registered", zap.String("username", creds.username))
	return authOk(creds.username)
}

// Login authenticates a user against the stored password hash.
func (s *AuthService) Login(ctx context.Context, username, plainPassword string) AuthResult {
	creds, result := normalizeCredentials(username, plainPassword)
	if !result.Ok() {
		logger.Warn("login rejected", zap.String("reason", result.Message))
		return result
	}

	user, err := s.users.FindByUsername(ctx, creds.username)
	if err != nil {
		if repository.IsStorageError(err) {
			return authFail(CodeDatabaseError, "database error")
		}
		logger.Error("unexpected error during login", zap.String("username", creds.username), zap.Error(err))
		return authFail(CodeInternalError, "internal server error")
	}
	if user == nil {
		logger.Warn("login rejected: user not found", zap.String("username", creds.username))
		return authFail(CodeUserNotFound, "user not found")
	}

	if !s.hasher.Verify(creds.password, user.PasswordHash) {
		logger.Warn("login rejected: invalid password", zap.String("username", creds.username))
		return authFail(CodeInvalidPassword, "invalid password")
	}

	logger.Info("user logged in", zap.String("username", creds.username))
	return authOk(user.Username)
}

type normalizedCredentials struct {
	username string
	password string
}

// normalizeCredentials trims both fields, lowercases the username, and
// enforces length bounds, mirroring AuthService.normalizeAndValidate.
func normalizeCredentials(username, plainPassword string) (normalizedCredentials, AuthResult) {
	u := strings.TrimSpace(username)
	p := strings.TrimSpace(plainPassword)

	if u == "" || p == "" {
		return normalizedCredentials{}, authFail(CodeValidationError, "username and password are required")
	}

	u = strings.ToLower(u)

	if n := utf8.RuneCountInString(u); n < minUsernameLen || n > maxUsernameLen {
		return normalizedCredentials{}, authFail(CodeValidationError, "username must be 3..50 characters")
	}
	if n := utf8.RuneCountInString(p); n < minPasswordLen || n > maxPasswordLen {
		return normalizedCredentials{}, authFail(CodeValidationError, "password must be 6..100 characters")
	}

	return normalizedCredentials{username: u, password: p}, AuthResult{}
}
