package core

import "time"

type (
	User struct {
		ID           string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}

	// Session is an authenticated browser or API session.
	Session struct {
		Token     string
		UserID    string
		ExpiresAt time.Time
	}
)

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
