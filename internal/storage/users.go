package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"allowance/internal/core"
	"allowance/internal/ports"
)

func (r *Repository) CreateUser(ctx context.Context, u core.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := r.queryRow(ctx, tx, qEmailInUse, u.Email).Scan(&n); err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("user %s: %w", u.Email, ports.ErrConflict)
		}
		if _, err := r.exec(ctx, tx, qCreateUser, u.ID, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
}

func scanUser(s rowScanner) (core.User, error) {
	var (
		u       core.User
		created int64
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &created); err != nil {
		return core.User{}, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (core.User, error) {
	u, err := scanUser(r.queryRow(ctx, r.db, qUserByEmail, email))
	if err != nil {
		return core.User{}, notFound(err, "user "+email)
	}
	return u, nil
}

func (r *Repository) UserByID(ctx context.Context, id string) (core.User, error) {
	u, err := scanUser(r.queryRow(ctx, r.db, qUserByID, id))
	if err != nil {
		return core.User{}, notFound(err, "user "+id)
	}
	return u, nil
}

func (r *Repository) CreateSession(ctx context.Context, s core.Session) error {
	if _, err := r.exec(ctx, r.db, qCreateSession, s.Token, s.UserID, s.ExpiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, token string) (core.Session, error) {
	var (
		s       core.Session
		expires int64
	)
	if err := r.queryRow(ctx, r.db, qGetSession, token).Scan(&s.Token, &s.UserID, &expires); err != nil {
		return core.Session{}, notFound(err, "session")
	}
	s.ExpiresAt = time.UnixMilli(expires).UTC()
	return s, nil
}

func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.exec(ctx, r.db, qDeleteSession, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
