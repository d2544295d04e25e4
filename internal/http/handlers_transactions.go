package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"allowance/internal/core"
	"allowance/internal/services"
)

type ledgerJSON struct {
	Kid          kidJSON           `json:"kid"`
	Range        rangeJSON         `json:"range"`
	Transactions []transactionJSON `json:"transactions"`
}

// handleListTransactions returns a window of the kid's ledger, newest first,
// each row with the balance after it. ?range= takes 7d, 30d, month or all;
// ?from=&to= (inclusive YYYY-MM-DD) override it.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := core.ParseDateRange(q.Get("range"), q.Get("from"), q.Get("to"), s.now())
	if err != nil {
		s.writeError(w, r, "list_transactions", err)
		return
	}
	ledger, err := s.deps.Ledger.ListTransactions(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), window)
	if err != nil {
		s.writeError(w, r, "list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerJSON{
		Kid:          toKidJSON(ledger.Kid),
		Range:        toRangeJSON(ledger.Range),
		Transactions: toRowsJSON(ledger.Rows),
	})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	p, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}
	typ, err := core.ParseTransactionType(p.Get("type"))
	if err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}
	amount, err := p.Money("amount")
	if err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}
	date, err := s.transactionDate(p)
	if err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}

	m, err := s.deps.Ledger.AddTransaction(r.Context(), userIDFrom(r.Context()), services.TransactionInput{
		KidID:       chi.URLParam(r, "id"),
		Type:        typ,
		Amount:      amount,
		Date:        date,
		Description: p.Get("description"),
	})
	if err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationJSON(m))
}

// transactionDate reads the optional date field. Today (or no date) keeps
// the zero time so the service stamps the current instant; other days are
// stored at local midnight.
func (s *Server) transactionDate(p *RequestBodyParser) (time.Time, error) {
	now := s.now()
	d, err := p.Date("date", now.Location())
	if err != nil || d.IsZero() {
		return time.Time{}, err
	}
	if d.Format(dateLayout) == now.Format(dateLayout) {
		return time.Time{}, nil
	}
	return d, nil
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Ledger.DeleteTransaction(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "delete_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationJSON(m))
}
