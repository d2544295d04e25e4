package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/services"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "allowance_session"

var errUnauthenticated = errors.New("authentication required")

type userIDKey struct{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// userIDFrom returns the authenticated user. Only valid behind requireSession.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// sessionToken reads a bearer token, falling back to the session cookie.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			s.writeError(w, r, "auth", errUnauthenticated)
			return
		}
		sess, err := s.deps.Auth.Session(r.Context(), token)
		if err != nil {
			s.writeError(w, r, "auth", err)
			return
		}
		ctx := withUserID(r.Context(), sess.UserID)
		ctx = applog.WithUser(ctx, sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) sessionCookie(sess core.Session) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) clearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	}
}

type sessionJSON struct {
	Token     string         `json:"token,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      userJSON       `json:"user"`
	Household *householdJSON `json:"household,omitempty"`
}

type userJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserJSON(u core.User) userJSON {
	return userJSON{ID: u.ID, Email: u.Email, Name: core.DisplayName(u.Email)}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, http.StatusCreated, s.deps.Auth.SignUp)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, http.StatusOK, s.deps.Auth.SignIn)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, status int, open func(ctx context.Context, email, password string) (core.Session, error)) {
	p, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, "auth", err)
		return
	}
	sess, err := open(r.Context(), p.Get("email"), p.Get("password"))
	if err != nil {
		s.writeError(w, r, "auth", err)
		return
	}
	user, err := s.deps.Auth.User(r.Context(), sess.UserID)
	if err != nil {
		s.writeError(w, r, "auth", err)
		return
	}
	NewJSONResponse().
		Status(status).
		Cookie(s.sessionCookie(sess)).
		Body(sessionJSON{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: toUserJSON(user)}).
		Write(w)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.SignOut(r.Context(), sessionToken(r)); err != nil {
		s.writeError(w, r, "signout", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Cookie(s.clearedCookie()).Write(w)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.deps.Auth.Session(ctx, sessionToken(r))
	if err != nil {
		s.writeError(w, r, "session", err)
		return
	}
	user, err := s.deps.Auth.User(ctx, sess.UserID)
	if err != nil {
		s.writeError(w, r, "session", err)
		return
	}
	out := sessionJSON{ExpiresAt: sess.ExpiresAt, User: toUserJSON(user)}
	h, err := s.deps.Households.Current(ctx, sess.UserID)
	switch {
	case err == nil:
		hj := toHouseholdJSON(h)
		out.Household = &hj
	case !errors.Is(err, services.ErrNoHousehold):
		s.writeError(w, r, "session", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
