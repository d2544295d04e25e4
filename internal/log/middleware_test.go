package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func bufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{Component: "test", Handler: slog.NewTextHandler(buf, nil)})
}

func TestLogHTTPEnd_ReportsUserSetDownstream(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)
	sl := NewStructuredLogger(logger)

	ctx := NewRequestContext(context.Background(), logger)
	// A handler further down the chain resolves the session.
	inner := WithUser(ctx, "user-42")
	if FromContext(inner) == FromContext(ctx) {
		t.Fatal("WithUser should return a context with an enriched logger")
	}

	r := httptest.NewRequest(http.MethodPost, "/api/kids", nil)
	sl.LogHTTPEnd(ctx, r, http.StatusCreated, 3, "10.0.0.1")

	out := buf.String()
	if !strings.Contains(out, "user_id=user-42") {
		t.Fatalf("completion log missing user_id: %s", out)
	}
	if !strings.Contains(out, "status_code=201") {
		t.Fatalf("completion log missing status: %s", out)
	}
}

func TestLogHTTPEnd_Anonymous(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)
	ctx := NewRequestContext(context.Background(), logger)

	NewStructuredLogger(logger).LogHTTPEnd(ctx, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK, 1, "")

	if strings.Contains(buf.String(), FieldUserID) {
		t.Fatalf("anonymous request logged a user: %s", buf.String())
	}
}

func TestLogMutation_CarriesUser(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)
	ctx := WithUser(NewRequestContext(context.Background(), logger), "user-7")

	NewStructuredLogger(logger).LogMutation(ctx, OpCreate, "kid-1", "tx-1", "credit", 500, 1500)

	out := buf.String()
	for _, want := range []string{"user_id=user-7", "kid_id=kid-1", "transaction_id=tx-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("mutation log missing %q: %s", want, out)
		}
	}
}

func TestFromContext_Default(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Fatalf("default logger = %+v", l)
	}
}
