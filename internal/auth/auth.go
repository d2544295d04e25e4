// Package auth implements email/password accounts and opaque session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/ports"
)

const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// Store is what the service needs from the backend.
type Store interface {
	ports.UserStore
	ports.SessionStore
}

type Service struct {
	store  Store
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *applog.Logger
}

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCost sets the bcrypt cost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(store Store, ttl time.Duration, logger *applog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: logger.WithComponent(applog.ComponentAuth),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (core.Session, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return core.Session{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return core.Session{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return core.Session{}, fmt.Errorf("hash password: %w", err)
	}
	user := core.User{
		ID:           core.NewID(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return core.Session{}, ErrEmailTaken
		}
		return core.Session{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "User signed up", applog.FieldUserID, user.ID)
	return s.openSession(ctx, user.ID)
}

// SignIn verifies credentials and opens a new session.
func (s *Service) SignIn(ctx context.Context, email, password string) (core.Session, error) {
	user, err := s.store.UserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return core.Session{}, ErrInvalidCredentials
		}
		return core.Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Sign-in rejected", applog.FieldUserID, user.ID)
		return core.Session{}, ErrInvalidCredentials
	}
	return s.openSession(ctx, user.ID)
}

func (s *Service) openSession(ctx context.Context, userID string) (core.Session, error) {
	sess := core.Session{
		Token:     core.NewSecretToken(),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return core.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// SignOut drops the session. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, token)
}

// Session resolves a token; expired sessions are deleted and rejected.
func (s *Service) Session(ctx context.Context, token string) (core.Session, error) {
	if token == "" {
		return core.Session{}, ErrInvalidCredentials
	}
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return core.Session{}, ErrInvalidCredentials
		}
		return core.Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.store.DeleteSession(ctx, token)
		return core.Session{}, ErrSessionExpired
	}
	return sess, nil
}

// User returns the account behind a session.
func (s *Service) User(ctx context.Context, userID string) (core.User, error) {
	return s.store.UserByID(ctx, userID)
}
