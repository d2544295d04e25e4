package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"allowance/internal/auth"
	applog "allowance/internal/log"
	"allowance/internal/ports"
	"allowance/internal/services"
	"allowance/internal/storage/memory"
)

type testEnv struct {
	srv *Server
}

func newTestEnv(t *testing.T, writeLimit int) *testEnv {
	t.Helper()
	store := memory.New()
	logger := applog.Discard()
	views := services.NewViewService(store, 16, time.Minute, logger)
	srv := NewServer(":0", Deps{
		Store:          store,
		Auth:           auth.NewService(store, time.Hour, logger, auth.WithCost(bcrypt.MinCost)),
		Ledger:         services.NewLedgerService(store, nil, views, logger),
		Households:     services.NewHouseholdService(store, logger),
		Views:          views,
		Logger:         logger,
		BaseURL:        "http://example.test/",
		WriteRateLimit: writeLimit,
	})
	t.Cleanup(srv.Stop)
	return &testEnv{srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body=%s", rr.Code, want, rr.Body.String())
	}
}

// signUp registers a parent and returns the session token.
func (e *testEnv) signUp(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/signup", "", `{"email":"`+email+`","password":"correct horse"}`)
	expectStatus(t, rr, http.StatusCreated)
	return decodeBody[sessionJSON](t, rr).Token
}

// parentWithKid signs up, creates a household and a kid, and returns the
// token and kid id.
func (e *testEnv) parentWithKid(t *testing.T, email string) (string, string) {
	t.Helper()
	token := e.signUp(t, email)
	expectStatus(t, e.do(t, http.MethodPost, "/api/household", token, `{"name":"Home"}`), http.StatusCreated)
	rr := e.do(t, http.MethodPost, "/api/kids", token, `{"name":"Ada","allowance":"5.00","presets":["1","2"]}`)
	expectStatus(t, rr, http.StatusCreated)
	return token, decodeBody[kidJSON](t, rr).ID
}

func TestHealthReadyMetrics(t *testing.T) {
	e := newTestEnv(t, 100)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := e.do(t, http.MethodGet, path, "", "")
		expectStatus(t, rr, http.StatusOK)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing X-Request-ID", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing security headers", path)
		}
	}
	ready := decodeBody[map[string]any](t, e.do(t, http.MethodGet, "/readyz", "", ""))
	if ready["status"] != "ready" {
		t.Fatalf("readyz = %v", ready)
	}

	rr := e.do(t, http.MethodGet, "/metrics", "", "")
	expectStatus(t, rr, http.StatusOK)
	for _, name := range []string{"http_requests_total", "view_cache_hits_total", "rate_limit_hits_total", "uptime_seconds"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t, 100)

	rr := e.do(t, http.MethodPost, "/api/auth/signup", "", `{"email":"Parent@Example.com","password":"correct horse"}`)
	expectStatus(t, rr, http.StatusCreated)
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("session cookie = %+v", cookie)
	}
	if got := decodeBody[sessionJSON](t, rr).User.Email; got != "parent@example.com" {
		t.Fatalf("email = %q", got)
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"duplicate email", "/api/auth/signup", `{"email":"parent@example.com","password":"correct horse"}`, http.StatusConflict},
		{"weak password", "/api/auth/signup", `{"email":"other@example.com","password":"short"}`, http.StatusUnprocessableEntity},
		{"bad email", "/api/auth/signup", `{"email":"nope","password":"correct horse"}`, http.StatusUnprocessableEntity},
		{"wrong password", "/api/auth/signin", `{"email":"parent@example.com","password":"wrong horse"}`, http.StatusUnauthorized},
		{"malformed", "/api/auth/signin", `{"email":`, http.StatusBadRequest},
		{"signin", "/api/auth/signin", `{"email":"parent@example.com","password":"correct horse"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.do(t, http.MethodPost, tt.path, "", tt.body), tt.status)
		})
	}

	// The cookie alone authenticates.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)
	if s := decodeBody[sessionJSON](t, rr); s.Household != nil || s.User.Name != "parent" {
		t.Fatalf("session = %+v", s)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusNoContent)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestRequiresSession(t *testing.T) {
	e := newTestEnv(t, 100)

	for _, token := range []string{"", "not-a-session"} {
		rr := e.do(t, http.MethodGet, "/api/kids", token, "")
		expectStatus(t, rr, http.StatusUnauthorized)
		if decodeBody[errorBody](t, rr).Error == "" {
			t.Fatal("expected JSON error body")
		}
	}
}

func TestNoHousehold(t *testing.T) {
	e := newTestEnv(t, 100)
	token := e.signUp(t, "solo@example.com")

	expectStatus(t, e.do(t, http.MethodGet, "/api/kids", token, ""), http.StatusConflict)
	expectStatus(t, e.do(t, http.MethodGet, "/api/household", token, ""), http.StatusConflict)
	expectStatus(t, e.do(t, http.MethodPost, "/api/household/join", token, `{"code":"ZZZZZZ"}`), http.StatusUnprocessableEntity)
}

func TestLedgerFlow(t *testing.T) {
	e := newTestEnv(t, 100)
	token, kidID := e.parentWithKid(t, "parent@example.com")
	txPath := "/api/kids/" + kidID + "/transactions"

	post := func(body string) mutationJSON {
		t.Helper()
		rr := e.do(t, http.MethodPost, txPath, token, body)
		expectStatus(t, rr, http.StatusCreated)
		return decodeBody[mutationJSON](t, rr)
	}

	post(`{"type":"credit","amount":"20.00","date":"2024-01-03","description":"Birthday"}`)
	b := post(`{"type":"expense","amount":5,"date":"2024-01-02"}`)
	m := post(`{"type":"credit","amount":"10","date":"2024-01-01"}`)
	if m.Balance.Cents != 2500 {
		t.Fatalf("balance = %d, want 2500", m.Balance.Cents)
	}
	if b.Transaction.Description != "Expense" {
		t.Fatalf("default description = %q", b.Transaction.Description)
	}

	rr := e.do(t, http.MethodGet, txPath+"?range=all", token, "")
	expectStatus(t, rr, http.StatusOK)
	ledger := decodeBody[ledgerJSON](t, rr)
	wantBal := []int64{2500, 500, 1000}
	if len(ledger.Transactions) != len(wantBal) {
		t.Fatalf("rows = %d", len(ledger.Transactions))
	}
	for i, row := range ledger.Transactions {
		if row.BalanceAfter == nil || row.BalanceAfter.Cents != wantBal[i] {
			t.Errorf("row %d balance = %+v, want %d", i, row.BalanceAfter, wantBal[i])
		}
	}
	if ledger.Kid.Balance.Display != "$25.00" {
		t.Fatalf("display = %q", ledger.Kid.Balance.Display)
	}

	rr = e.do(t, http.MethodPost, "/api/kids/"+kidID+"/allowance", token, "")
	expectStatus(t, rr, http.StatusCreated)
	if got := decodeBody[mutationJSON](t, rr).Balance.Cents; got != 3000 {
		t.Fatalf("after allowance = %d, want 3000", got)
	}

	rr = e.do(t, http.MethodDelete, "/api/transactions/"+b.Transaction.ID, token, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[mutationJSON](t, rr).Balance.Cents; got != 3500 {
		t.Fatalf("after delete = %d, want 3500", got)
	}

	// A custom window is anchored on the current balance, not on zero.
	rr = e.do(t, http.MethodGet, txPath+"?from=2024-01-02&to=2024-01-03", token, "")
	expectStatus(t, rr, http.StatusOK)
	ledger = decodeBody[ledgerJSON](t, rr)
	if len(ledger.Transactions) != 1 || ledger.Transactions[0].BalanceAfter.Cents != 3000 {
		t.Fatalf("window = %+v", ledger.Transactions)
	}
	if ledger.Range.From != "2024-01-02" || ledger.Range.To != "2024-01-03" {
		t.Fatalf("range = %+v", ledger.Range)
	}
}

func TestLedgerValidation(t *testing.T) {
	e := newTestEnv(t, 100)
	token, kidID := e.parentWithKid(t, "parent@example.com")
	txPath := "/api/kids/" + kidID + "/transactions"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad amount", http.MethodPost, txPath, `{"type":"credit","amount":"abc"}`, http.StatusUnprocessableEntity},
		{"zero amount", http.MethodPost, txPath, `{"type":"credit","amount":"0"}`, http.StatusUnprocessableEntity},
		{"bad type", http.MethodPost, txPath, `{"type":"gift","amount":"1"}`, http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, txPath, `{"type":"credit","amount":"1","date":"01/02/2024"}`, http.StatusBadRequest},
		{"long description", http.MethodPost, txPath, `{"type":"credit","amount":"1","description":"` + strings.Repeat("x", 201) + `"}`, http.StatusUnprocessableEntity},
		{"bad range", http.MethodGet, txPath + "?range=year", "", http.StatusBadRequest},
		{"inverted range", http.MethodGet, txPath + "?from=2024-02-01&to=2024-01-01", "", http.StatusBadRequest},
		{"unknown kid", http.MethodGet, "/api/kids/nope/transactions", "", http.StatusNotFound},
		{"unknown transaction", http.MethodDelete, "/api/transactions/nope", "", http.StatusNotFound},
		{"too many presets", http.MethodPut, "/api/kids/" + kidID + "/allowance", `{"allowance":"5","presets":["1","2","3","4"]}`, http.StatusUnprocessableEntity},
		{"empty kid name", http.MethodPost, "/api/kids", `{"name":"  "}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.do(t, tt.method, tt.path, token, tt.body), tt.status)
		})
	}
}

func TestConfigureAllowance(t *testing.T) {
	e := newTestEnv(t, 100)
	token, kidID := e.parentWithKid(t, "parent@example.com")
	path := "/api/kids/" + kidID + "/allowance"

	rr := e.do(t, http.MethodPut, path, token, `{"allowance":"7.50","presets":["0.5"]}`)
	expectStatus(t, rr, http.StatusOK)
	kid := decodeBody[kidJSON](t, rr)
	if kid.Allowance == nil || kid.Allowance.Cents != 750 || len(kid.Presets) != 1 {
		t.Fatalf("kid = %+v", kid)
	}

	rr = e.do(t, http.MethodPut, path, token, `{"allowance":null}`)
	expectStatus(t, rr, http.StatusOK)
	if decodeBody[kidJSON](t, rr).Allowance != nil {
		t.Fatal("allowance should be cleared")
	}
	expectStatus(t, e.do(t, http.MethodPost, path, token, ""), http.StatusUnprocessableEntity)
}

func TestHouseholdSharingAndIsolation(t *testing.T) {
	e := newTestEnv(t, 100)
	token, kidID := e.parentWithKid(t, "first@example.com")

	rr := e.do(t, http.MethodGet, "/api/household/invite", token, "")
	expectStatus(t, rr, http.StatusOK)
	invite := decodeBody[map[string]string](t, rr)
	if !strings.HasPrefix(invite["join_url"], "http://example.test/api/household/join?code=") {
		t.Fatalf("join_url = %q", invite["join_url"])
	}

	outsider, _ := e.parentWithKid(t, "outsider@example.com")
	expectStatus(t, e.do(t, http.MethodGet, "/api/kids/"+kidID+"/transactions", outsider, ""), http.StatusForbidden)
	expectStatus(t, e.do(t, http.MethodPost, "/api/kids/"+kidID+"/allowance", outsider, ""), http.StatusForbidden)
	expectStatus(t, e.do(t, http.MethodPost, "/api/household/join?code="+invite["invite_code"], outsider, ""), http.StatusConflict)

	second := e.signUp(t, "second@example.com")
	expectStatus(t, e.do(t, http.MethodPost, "/api/household/join?code="+strings.ToLower(invite["invite_code"]), second, ""), http.StatusOK)

	rr = e.do(t, http.MethodGet, "/api/kids", second, "")
	expectStatus(t, rr, http.StatusOK)
	kids := decodeBody[map[string][]kidJSON](t, rr)["kids"]
	if len(kids) != 1 || kids[0].ID != kidID {
		t.Fatalf("kids = %+v", kids)
	}

	rr = e.do(t, http.MethodGet, "/api/overview", second, "")
	expectStatus(t, rr, http.StatusOK)
	if sum := decodeBody[summaryJSON](t, rr); len(sum.Kids) != 1 || sum.Household.Name != "Home" {
		t.Fatalf("overview = %+v", sum)
	}
}

func TestReadOnlyView(t *testing.T) {
	e := newTestEnv(t, 100)
	token, kidID := e.parentWithKid(t, "parent@example.com")
	expectStatus(t, e.do(t, http.MethodPost, "/api/kids/"+kidID+"/transactions", token, `{"type":"expense","amount":"12.50","description":"Comic"}`), http.StatusCreated)

	rr := e.do(t, http.MethodGet, "/api/kids/"+kidID+"/view-link", token, "")
	expectStatus(t, rr, http.StatusOK)
	link := decodeBody[map[string]string](t, rr)
	if link["url"] != "http://example.test/view/"+link["token"] {
		t.Fatalf("link = %v", link)
	}

	rr = e.do(t, http.MethodGet, "/api/view/"+link["token"], "", "")
	expectStatus(t, rr, http.StatusOK)
	v := decodeBody[viewJSON](t, rr)
	if v.Name != "Ada" || v.Balance.Cents != -1250 || !v.Negative || len(v.Transactions) != 1 {
		t.Fatalf("view = %+v", v)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("view must not be cached")
	}

	rr = e.do(t, http.MethodGet, "/view/"+link["token"], "", "")
	expectStatus(t, rr, http.StatusOK)
	page := rr.Body.String()
	for _, want := range []string{"Ada", "-$12.50", "Comic"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}

	expectStatus(t, e.do(t, http.MethodGet, "/api/view/bogus", "", ""), http.StatusNotFound)
	rr = e.do(t, http.MethodGet, "/view/bogus", "", "")
	expectStatus(t, rr, http.StatusNotFound)
	if !strings.Contains(rr.Body.String(), "Link not found") {
		t.Fatal("expected not-found page")
	}
}

func TestWriteRateLimit(t *testing.T) {
	e := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		e.do(t, http.MethodPost, "/api/auth/signin", "", `{}`)
	}
	rr := e.do(t, http.MethodPost, "/api/auth/signin", "", `{}`)
	expectStatus(t, rr, http.StatusTooManyRequests)
	expectStatus(t, e.do(t, http.MethodGet, "/healthz", "", ""), http.StatusOK)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrForbidden, http.StatusForbidden},
		{auth.ErrSessionExpired, http.StatusUnauthorized},
		{services.ErrNoAllowance, http.StatusUnprocessableEntity},
		{errUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("kid k: %w", ports.ErrConcurrentUpdate), http.StatusConflict},
		{http.ErrHandlerTimeout, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
