// Package memory is an in-process Store used for demos and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"allowance/internal/core"
	"allowance/internal/ports"
)

type syncState int

const (
	syncPending syncState = iota
	syncDone
	syncFailed
)

type txRecord struct {
	tx   core.Transaction
	sync syncState
}

type Store struct {
	mu         sync.Mutex
	kids       map[string]core.Kid
	txs        map[string]*txRecord
	households map[string]core.Household
	members    map[string]string // user id -> household id
	viewTokens map[string]string // token -> kid id
	kidTokens  map[string]string // kid id -> token
	users      map[string]core.User
	emails     map[string]string // email -> user id
	sessions   map[string]core.Session
	tombstones []string // deleted transaction ids awaiting sheet removal, oldest first
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		kids:       map[string]core.Kid{},
		txs:        map[string]*txRecord{},
		households: map[string]core.Household{},
		members:    map[string]string{},
		viewTokens: map[string]string{},
		kidTokens:  map[string]string{},
		users:      map[string]core.User{},
		emails:     map[string]string{},
		sessions:   map[string]core.Session{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func cloneKid(k core.Kid) core.Kid {
	k.Presets = slices.Clone(k.Presets)
	if k.Allowance != nil {
		a := *k.Allowance
		k.Allowance = &a
	}
	return k
}

// Kids

func (s *Store) ListKids(_ context.Context, householdID string) ([]core.Kid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Kid, 0)
	for _, k := range s.kids {
		if k.HouseholdID == householdID {
			out = append(out, cloneKid(k))
		}
	}
	slices.SortFunc(out, func(a, b core.Kid) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetKid(_ context.Context, id string) (core.Kid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.kids[id]
	if !ok {
		return core.Kid{}, fmt.Errorf("kid %s: %w", id, ports.ErrNotFound)
	}
	return cloneKid(k), nil
}

func (s *Store) CreateKid(_ context.Context, kid core.Kid) (core.Kid, error) {
	if err := kid.Validate(); err != nil {
		return core.Kid{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.households[kid.HouseholdID]; !ok {
		return core.Kid{}, fmt.Errorf("household %s: %w", kid.HouseholdID, ports.ErrNotFound)
	}
	if kid.ID == "" {
		kid.ID = core.NewID()
	}
	kid.Name = strings.TrimSpace(kid.Name)
	kid.CurrentBalance = core.Money{}
	kid = cloneKid(kid)
	s.kids[kid.ID] = kid
	return cloneKid(kid), nil
}

func (s *Store) UpdateKidAllowance(_ context.Context, id string, allowance *core.Money, presets []core.Money) (core.Kid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.kids[id]
	if !ok {
		return core.Kid{}, fmt.Errorf("kid %s: %w", id, ports.ErrNotFound)
	}
	k.Allowance = allowance
	k.Presets = presets
	if err := k.Validate(); err != nil {
		return core.Kid{}, err
	}
	k = cloneKid(k)
	s.kids[id] = k
	return cloneKid(k), nil
}

// Transactions

func (s *Store) ListTransactions(_ context.Context, kidID string, r core.DateRange) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kids[kidID]; !ok {
		return nil, fmt.Errorf("kid %s: %w", kidID, ports.ErrNotFound)
	}
	return core.SortNewestFirst(r.Filter(s.ledgerLocked(kidID))), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	return rec.tx, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) (core.LedgerMutation, error) {
	if tx.ID == "" {
		tx.ID = core.NewID()
	}
	if err := tx.Validate(); err != nil {
		return core.LedgerMutation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kids[tx.KidID]; !ok {
		return core.LedgerMutation{}, fmt.Errorf("kid %s: %w", tx.KidID, ports.ErrNotFound)
	}
	if _, ok := s.txs[tx.ID]; ok {
		return core.LedgerMutation{}, fmt.Errorf("transaction %s: %w", tx.ID, ports.ErrConflict)
	}
	s.txs[tx.ID] = &txRecord{tx: tx}
	return core.LedgerMutation{Transaction: tx, Balance: s.recomputeLocked(tx.KidID)}, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) (core.LedgerMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[id]
	if !ok {
		return core.LedgerMutation{}, fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	delete(s.txs, id)
	s.tombstones = append(s.tombstones, id)
	return core.LedgerMutation{Transaction: rec.tx, Balance: s.recomputeLocked(rec.tx.KidID)}, nil
}

func (s *Store) ledgerLocked(kidID string) []core.Transaction {
	var out []core.Transaction
	for _, rec := range s.txs {
		if rec.tx.KidID == kidID {
			out = append(out, rec.tx)
		}
	}
	return out
}

func (s *Store) recomputeLocked(kidID string) core.Money {
	k := s.kids[kidID]
	k.CurrentBalance = core.ComputeBalance(s.ledgerLocked(kidID))
	s.kids[kidID] = k
	return k.CurrentBalance
}

// Households

func (s *Store) HouseholdForUser(_ context.Context, userID string) (core.Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hid, ok := s.members[userID]
	if !ok {
		return core.Household{}, fmt.Errorf("household for user %s: %w", userID, ports.ErrNotFound)
	}
	return s.households[hid], nil
}

func (s *Store) CreateHousehold(_ context.Context, userID string, h core.Household) (core.Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[userID]; ok {
		return core.Household{}, ports.ErrAlreadyMember
	}
	if h.ID == "" {
		h.ID = core.NewID()
	}
	for h.InviteCode == "" || s.codeTakenLocked(h.InviteCode) {
		h.InviteCode = core.NewInviteCode()
	}
	s.households[h.ID] = h
	s.members[userID] = h.ID
	return h, nil
}

func (s *Store) codeTakenLocked(code string) bool {
	for _, h := range s.households {
		if h.InviteCode == code {
			return true
		}
	}
	return false
}

func (s *Store) JoinHousehold(_ context.Context, userID, inviteCode string) (core.Household, error) {
	code := core.NormalizeInviteCode(inviteCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	var target core.Household
	found := false
	for _, h := range s.households {
		if code != "" && h.InviteCode == code {
			target, found = h, true
			break
		}
	}
	if !found {
		return core.Household{}, ports.ErrInvalidInviteCode
	}
	if current, ok := s.members[userID]; ok {
		if current == target.ID {
			return target, nil
		}
		return core.Household{}, ports.ErrAlreadyMember
	}
	s.members[userID] = target.ID
	return target, nil
}

func (s *Store) InviteCode(_ context.Context, householdID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.households[householdID]
	if !ok {
		return "", fmt.Errorf("household %s: %w", householdID, ports.ErrNotFound)
	}
	return h.InviteCode, nil
}

func (s *Store) IsMember(_ context.Context, userID, householdID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return householdID != "" && s.members[userID] == householdID, nil
}

// View tokens

func (s *Store) GetOrCreateViewToken(_ context.Context, kidID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kids[kidID]; !ok {
		return "", fmt.Errorf("kid %s: %w", kidID, ports.ErrNotFound)
	}
	if tok, ok := s.kidTokens[kidID]; ok {
		return tok, nil
	}
	tok := core.NewSecretToken()
	s.kidTokens[kidID] = tok
	s.viewTokens[tok] = kidID
	return tok, nil
}

func (s *Store) KidForViewToken(_ context.Context, token string) (core.Kid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kidID, ok := s.viewTokens[token]
	if !ok {
		return core.Kid{}, fmt.Errorf("view token: %w", ports.ErrNotFound)
	}
	k, ok := s.kids[kidID]
	if !ok {
		return core.Kid{}, fmt.Errorf("kid %s: %w", kidID, ports.ErrNotFound)
	}
	return cloneKid(k), nil
}

// Users and sessions

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return fmt.Errorf("user %s: %w", u.Email, ports.ErrConflict)
	}
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", email, ports.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) UserByID(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", id, ports.ErrNotFound)
	}
	return u, nil
}

func (s *Store) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return core.Session{}, fmt.Errorf("session: %w", ports.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Sync

func (s *Store) PendingSync(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, rec := range s.txs {
		if rec.sync == syncPending {
			out = append(out, rec.tx)
		}
	}
	out = core.SortNewestFirst(out)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, txID string) error {
	return s.mark(txID, syncDone)
}

func (s *Store) MarkSyncError(_ context.Context, txID string) error {
	return s.mark(txID, syncFailed)
}

func (s *Store) mark(txID string, state syncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[txID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txID, ports.ErrNotFound)
	}
	rec.sync = state
	return nil
}

func (s *Store) PendingDeletes(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tombstones)
	if limit > 0 && n > limit {
		n = limit
	}
	return slices.Clone(s.tombstones[:n]), nil
}

func (s *Store) ClearPendingDelete(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones = slices.DeleteFunc(s.tombstones, func(id string) bool { return id == txID })
	return nil
}

func (s *Store) ReconcileBalances(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fixed []string
	for id, k := range s.kids {
		want := core.ComputeBalance(s.ledgerLocked(id))
		if k.CurrentBalance != want {
			k.CurrentBalance = want
			s.kids[id] = k
			fixed = append(fixed, id)
		}
	}
	slices.Sort(fixed)
	return fixed, nil
}
