package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cod31nvictus/eterny/server/auth"
	"golang.org/x/crypto/bcrypt"
)

// User represents a user in the memory store. PasswordHash, a bcrypt
// hash, takes precedence over the plain Password when set.
type User struct {
	Username     string
	Password     string
	PasswordHash string
	ReadOnly     bool
}

// Store implements an in-memory authentication store
type Store struct {
	mu     sync.RWMutex
	users  map[string]User // map[username]User
	logger *slog.Logger
}

// New creates a new in-memory authentication store
func New(opts ...Option) *Store {
	s := &Store{
		users:  make(map[string]User),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// AddUser adds a new user to the store
func (s *Store) AddUser(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Password == "" && u.PasswordHash == "" {
		return fmt.Errorf("user %s: password is required", u.Username)
	}
	if u.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return fmt.Errorf("user %s: invalid password hash: %w", u.Username, err)
		}
	}
	if _, exists := s.users[u.Username]; exists {
		s.logger.Warn("failed to add user: already exists",
			"username", u.Username)
		return fmt.Errorf("user already exists: %s", u.Username)
	}

	s.users[u.Username] = u

	s.logger.Info("user added successfully",
		"username", u.Username,
		"read_only", u.ReadOnly)

	return nil
}

// Authenticate implements auth.Authenticator
func (s *Store) Authenticate(_ context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	user, exists := s.users[creds.Username]
	s.mu.RUnlock()

	if !exists {
		s.logger.Info("authentication failed: user not found",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	if !user.checkPassword(creds.Password) {
		s.logger.Info("authentication failed: invalid password",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	s.logger.Debug("authentication successful",
		"username", creds.Username)

	return &auth.Principal{ID: user.Username, ReadOnly: user.ReadOnly}, nil
}

// ValidateAccess implements auth.Authenticator. Every principal works on
// its own series only, so the path never names another user; the check is
// about whether the principal may write.
func (s *Store) ValidateAccess(_ context.Context, principal *auth.Principal, method, path string) error {
	if principal == nil {
		s.logger.Info("access validation failed: no principal")
		return &auth.Error{
			Type:    auth.ErrUnauthorized,
			Message: "authentication required",
		}
	}

	if principal.ReadOnly && !auth.IsReadMethod(method) {
		s.logger.Warn("access validation failed: forbidden",
			"username", principal.ID,
			"method", method,
			"path", path)
		return &auth.Error{
			Type:    auth.ErrForbidden,
			Message: fmt.Sprintf("read-only principal cannot %s %s", method, path),
		}
	}

	s.logger.Debug("access validation successful",
		"username", principal.ID,
		"method", method,
		"path", path)

	return nil
}

func (u User) checkPassword(password string) bool {
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// HashPassword returns a bcrypt hash suitable for User.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
