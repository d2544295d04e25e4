package core

import (
	"strings"
	"testing"
)

func TestNewInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := NewInviteCode()
		if len(code) != InviteCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(inviteAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("too many collisions: %d unique of 50", len(seen))
	}
}

func TestNormalizeInviteCode(t *testing.T) {
	if got := NormalizeInviteCode("  ab3xyz "); got != "AB3XYZ" {
		t.Fatalf("got %q", got)
	}
}

func TestNewIDOrdering(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || len(a) != 36 {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}

func TestNewSecretToken(t *testing.T) {
	a, b := NewSecretToken(), NewSecretToken()
	if a == b || len(a) != 32 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"jane.doe@example.com": "jane.doe",
		"nobody":               "nobody",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummarize(t *testing.T) {
	h := Household{ID: "h1", Name: "Home"}
	kids := []Kid{
		{ID: "k1", Name: "Ada", CurrentBalance: Money{Cents: 1500}},
		{ID: "k2", Name: "Bo", CurrentBalance: Money{Cents: -250}},
	}
	s := Summarize(h, kids)
	if s.Total.Cents != 1250 || len(s.Kids) != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Kids[0].Negative || !s.Kids[1].Negative {
		t.Fatalf("negative flags wrong: %+v", s.Kids)
	}
}
