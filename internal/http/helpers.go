package http

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"allowance/internal/auth"
	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/ports"
	"allowance/internal/services"
)

const dateLayout = "2006-01-02"

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, ports.ErrAlreadyMember),
		errors.Is(err, ports.ErrConflict),
		errors.Is(err, ports.ErrConcurrentUpdate),
		errors.Is(err, services.ErrNoHousehold):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrEmptyKid),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrZeroDate),
		errors.Is(err, core.ErrTooManyPresets),
		errors.Is(err, core.ErrDescriptionTooLong),
		errors.Is(err, core.ErrNameTooLong),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, services.ErrNoAllowance),
		errors.Is(err, ports.ErrInvalidInviteCode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes the JSON error body.
// Internal error details never reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldOperation, op, applog.FieldPath, r.URL.Path, applog.FieldError, err)
		msg = "internal error"
	} else if status == http.StatusNotFound {
		msg = "not found"
	} else if errors.Is(err, ports.ErrConcurrentUpdate) {
		msg = ports.ErrConcurrentUpdate.Error()
	}
	writeJSONError(w, status, msg)
}

type moneyJSON struct {
	Cents   int64  `json:"cents"`
	Amount  string `json:"amount"`
	Display string `json:"display"`
}

func toMoneyJSON(m core.Money) moneyJSON {
	return moneyJSON{Cents: m.Cents, Amount: m.String(), Display: core.FormatAmount(m)}
}

type kidJSON struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Balance   moneyJSON   `json:"balance"`
	Negative  bool        `json:"negative"`
	Allowance *moneyJSON  `json:"allowance"`
	Presets   []moneyJSON `json:"presets"`
}

func toKidJSON(k core.Kid) kidJSON {
	out := kidJSON{
		ID:       k.ID,
		Name:     k.Name,
		Balance:  toMoneyJSON(k.CurrentBalance),
		Negative: k.CurrentBalance.IsNegative(),
		Presets:  make([]moneyJSON, 0, len(k.Presets)),
	}
	if k.Allowance != nil {
		a := toMoneyJSON(*k.Allowance)
		out.Allowance = &a
	}
	for _, p := range k.Presets {
		out.Presets = append(out.Presets, toMoneyJSON(p))
	}
	return out
}

type transactionJSON struct {
	ID           string     `json:"id"`
	KidID        string     `json:"kid_id"`
	Type         string     `json:"type"`
	Amount       moneyJSON  `json:"amount"`
	Signed       string     `json:"signed"`
	Date         string     `json:"date"`
	Description  string     `json:"description"`
	AddedBy      string     `json:"added_by,omitempty"`
	BalanceAfter *moneyJSON `json:"balance_after,omitempty"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          t.ID,
		KidID:       t.KidID,
		Type:        string(t.Type),
		Amount:      toMoneyJSON(t.Amount),
		Signed:      core.FormatSigned(t.Type, t.Amount),
		Date:        t.Date.Format(dateLayout),
		Description: t.Description,
		AddedBy:     t.AddedBy,
	}
}

func toRowsJSON(rows []core.LedgerRow) []transactionJSON {
	out := make([]transactionJSON, 0, len(rows))
	for _, row := range rows {
		tj := toTransactionJSON(row.Transaction)
		b := toMoneyJSON(row.BalanceAfter)
		tj.BalanceAfter = &b
		out = append(out, tj)
	}
	return out
}

type mutationJSON struct {
	Transaction transactionJSON `json:"transaction"`
	Balance     moneyJSON       `json:"balance"`
}

func toMutationJSON(m core.LedgerMutation) mutationJSON {
	return mutationJSON{Transaction: toTransactionJSON(m.Transaction), Balance: toMoneyJSON(m.Balance)}
}

type householdJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	InviteCode string `json:"invite_code,omitempty"`
}

func toHouseholdJSON(h core.Household) householdJSON {
	return householdJSON{ID: h.ID, Name: h.Name, InviteCode: h.InviteCode}
}

type rangeJSON struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// toRangeJSON renders the half-open range with an inclusive end date.
func toRangeJSON(r core.DateRange) rangeJSON {
	var out rangeJSON
	if !r.From.IsZero() {
		out.From = r.From.Format(dateLayout)
	}
	if !r.To.IsZero() {
		out.To = r.To.AddDate(0, 0, -1).Format(dateLayout)
	}
	return out
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"money":  core.FormatAmount,
		"signed": core.FormatSigned,
		"date": func(t time.Time) string {
			return t.Format("Jan 2, 2006")
		},
		"negative": func(m core.Money) bool { return m.IsNegative() },
		"credit":   func(t core.TransactionType) bool { return t == core.Credit },
	}
}
