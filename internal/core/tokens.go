package core

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// inviteAlphabet omits 0/O and 1/I/L so codes can be read aloud.
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const InviteCodeLength = 6

// NewID returns a time-ordered identifier for kids, transactions and households.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewInviteCode returns a random household invite code.
func NewInviteCode() string {
	b := make([]byte, InviteCodeLength)
	_, _ = rand.Read(b)
	out := make([]byte, InviteCodeLength)
	for i, v := range b {
		out[i] = inviteAlphabet[int(v)%len(inviteAlphabet)]
	}
	return string(out)
}

// NormalizeInviteCode upper-cases and trims a code typed by a user.
func NormalizeInviteCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NewSecretToken returns a URL-safe random token for sessions and view links.
func NewSecretToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DisplayName derives a short name from an email address.
func DisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
