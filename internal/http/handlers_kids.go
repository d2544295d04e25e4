package http

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"allowance/internal/core"
)

type summaryJSON struct {
	Household householdJSON    `json:"household"`
	Total     moneyJSON        `json:"total"`
	Kids      []kidSummaryJSON `json:"kids"`
}

type kidSummaryJSON struct {
	kidJSON
	Recent []transactionJSON `json:"recent"`
}

// handleOverview returns every kid with its balance and latest activity.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Ledger.Overview(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, "overview", err)
		return
	}
	out := summaryJSON{
		Household: toHouseholdJSON(sum.Household),
		Total:     toMoneyJSON(sum.Total),
		Kids:      make([]kidSummaryJSON, 0, len(sum.Kids)),
	}
	for _, k := range sum.Kids {
		out.Kids = append(out.Kids, kidSummaryJSON{kidJSON: toKidJSON(k.Kid), Recent: toRowsJSON(k.Recent)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListKids(w http.ResponseWriter, r *http.Request) {
	kids, err := s.deps.Ledger.ListKids(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, "list_kids", err)
		return
	}
	out := make([]kidJSON, 0, len(kids))
	for _, k := range kids {
		out = append(out, toKidJSON(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"kids": out})
}

// allowanceFields reads the optional allowance amount and the preset list.
func allowanceFields(p *RequestBodyParser) (*core.Money, []core.Money, error) {
	allowance, err := p.OptionalMoney("allowance")
	if err != nil {
		return nil, nil, err
	}
	presets, err := p.MoneyList("presets")
	if err != nil {
		return nil, nil, err
	}
	return allowance, presets, nil
}

func (s *Server) handleCreateKid(w http.ResponseWriter, r *http.Request) {
	p, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, "create_kid", err)
		return
	}
	allowance, presets, err := allowanceFields(p)
	if err != nil {
		s.writeError(w, r, "create_kid", err)
		return
	}
	kid, err := s.deps.Ledger.AddKid(r.Context(), userIDFrom(r.Context()), p.Get("name"), allowance, presets)
	if err != nil {
		s.writeError(w, r, "create_kid", err)
		return
	}
	NewJSONResponse().Created().Header("Location", "/api/kids/"+kid.ID+"/transactions").Body(toKidJSON(kid)).Write(w)
}

// handleConfigureAllowance replaces the allowance and presets. A missing or
// empty allowance clears it.
func (s *Server) handleConfigureAllowance(w http.ResponseWriter, r *http.Request) {
	p, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, "configure_allowance", err)
		return
	}
	allowance, presets, err := allowanceFields(p)
	if err != nil {
		s.writeError(w, r, "configure_allowance", err)
		return
	}
	kid, err := s.deps.Ledger.ConfigureAllowance(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), allowance, presets)
	if err != nil {
		s.writeError(w, r, "configure_allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, toKidJSON(kid))
}

// handlePayAllowance credits the kid's configured allowance.
func (s *Server) handlePayAllowance(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Ledger.AddAllowance(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "pay_allowance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationJSON(m))
}

func (s *Server) handleViewLink(w http.ResponseWriter, r *http.Request) {
	token, err := s.deps.Ledger.ViewToken(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "view_link", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"url":   s.deps.BaseURL + "/view/" + url.PathEscape(token),
	})
}
