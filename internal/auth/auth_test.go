package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	applog "allowance/internal/log"
	"allowance/internal/storage/memory"
)

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func newService(now *time.Time) *Service {
	return NewService(memory.New(), time.Hour, testLogger(),
		WithCost(bcrypt.MinCost),
		WithClock(func() time.Time { return *now }))
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newService(&now)

	sess, err := s.SignUp(ctx, "  Parent@Example.com ", "correct horse")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if sess.Token == "" || !sess.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected session: %+v", sess)
	}
	u, err := s.User(ctx, sess.UserID)
	if err != nil || u.Email != "parent@example.com" {
		t.Fatalf("user: %+v %v", u, err)
	}

	if _, err := s.SignUp(ctx, "parent@example.com", "another password"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := s.SignIn(ctx, "PARENT@example.com", "correct horse"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := s.SignIn(ctx, "parent@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.SignIn(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	now := time.Now()
	s := newService(&now)
	cases := []struct {
		email, password string
		want            error
	}{
		{"not-an-email", "longenough", ErrInvalidEmail},
		{"", "longenough", ErrInvalidEmail},
		{"a@example.com", "short", ErrWeakPassword},
	}
	for _, tc := range cases {
		if _, err := s.SignUp(context.Background(), tc.email, tc.password); !errors.Is(err, tc.want) {
			t.Errorf("SignUp(%q, %q) = %v, want %v", tc.email, tc.password, err, tc.want)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newService(&now)

	sess, err := s.SignUp(ctx, "kid.parent@example.com", "password123")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if got, err := s.Session(ctx, sess.Token); err != nil || got.UserID != sess.UserID {
		t.Fatalf("session: %+v %v", got, err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := s.Session(ctx, sess.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	// Expired sessions are removed.
	if _, err := s.Session(ctx, sess.Token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	sess2, _ := s.SignIn(ctx, "kid.parent@example.com", "password123")
	if err := s.SignOut(ctx, sess2.Token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := s.Session(ctx, sess2.Token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after sign out, got %v", err)
	}
	if _, err := s.Session(ctx, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty token should be rejected")
	}
}
