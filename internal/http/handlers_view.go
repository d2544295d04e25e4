package http

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	applog "allowance/internal/log"
)

type viewJSON struct {
	Name         string            `json:"name"`
	Balance      moneyJSON         `json:"balance"`
	Negative     bool              `json:"negative"`
	Since        string            `json:"since"`
	Transactions []transactionJSON `json:"transactions"`
}

// handleViewJSON serves the read-only view of a kid's ledger.
func (s *Server) handleViewJSON(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Views.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, "view", err)
		return
	}
	rows := toRowsJSON(v.Rows)
	for i := range rows {
		rows[i].AddedBy = ""
	}
	writeJSON(w, http.StatusOK, viewJSON{
		Name:         v.KidName,
		Balance:      toMoneyJSON(v.Balance),
		Negative:     v.Balance.IsNegative(),
		Since:        v.Since.Format(dateLayout),
		Transactions: rows,
	})
}

// handleViewPage renders the same view as HTML for the kid's browser.
func (s *Server) handleViewPage(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Views.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.writeError(w, r, "view_page", err)
			return
		}
		s.renderPage(w, r, status, "not_found.html", nil)
		return
	}
	s.renderPage(w, r, http.StatusOK, "view.html", v)
}

// renderPage executes into a buffer so a template error never leaves a
// half-written page.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Template render failed",
			applog.FieldOperation, applog.OpRender, "template", name, applog.FieldError, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
