package http

import (
	"net/http"
	"net/url"
)

func (s *Server) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Households.Current(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, "household", err)
		return
	}
	writeJSON(w, http.StatusOK, toHouseholdJSON(h))
}

func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	p, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, "create_household", err)
		return
	}
	h, err := s.deps.Households.Create(r.Context(), userIDFrom(r.Context()), p.Get("name"))
	if err != nil {
		s.writeError(w, r, "create_household", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHouseholdJSON(h))
}

// handleJoinHousehold accepts the code in the body or as ?code= so join
// links can be posted as-is.
func (s *Server) handleJoinHousehold(w http.ResponseWriter, r *http.Request) {
	p, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, "join_household", err)
		return
	}
	code := p.Get("code")
	if code == "" {
		code = sanitizeInput(r.URL.Query().Get("code"))
	}
	h, err := s.deps.Households.Join(r.Context(), userIDFrom(r.Context()), code)
	if err != nil {
		s.writeError(w, r, "join_household", err)
		return
	}
	writeJSON(w, http.StatusOK, toHouseholdJSON(h))
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	code, err := s.deps.Households.InviteCode(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, "invite", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"invite_code": code,
		"join_url":    s.deps.BaseURL + "/api/household/join?code=" + url.QueryEscape(code),
	})
}
