package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"allowance/internal/cache"
	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/ports"
)

// viewWindowDays is how far back the read-only view looks.
const viewWindowDays = 30

// KidView is what a read-only link shows: the kid, the current balance and
// the last month of activity with the balance after each entry.
type KidView struct {
	KidID   string
	KidName string
	Balance core.Money
	Since   time.Time
	Rows    []core.LedgerRow
}

type ViewStore interface {
	ports.ViewTokenStore
	ledgerReader
}

// ViewService resolves view tokens. Results are cached per token and
// concurrent misses for the same token share one load.
//
// Each kid carries a generation bumped by InvalidateKid. A load only fills
// the cache when the generation it started under is still current.
type ViewService struct {
	store  ViewStore
	cache  *cache.LRUCache[KidView]
	group  singleflight.Group
	logger *applog.Logger
	now    func() time.Time

	mu          sync.Mutex
	generations map[string]uint64
}

func NewViewService(store ViewStore, size int, ttl time.Duration, logger *applog.Logger) *ViewService {
	return &ViewService{
		store:  store,
		cache:  cache.NewLRUCache[KidView](size, ttl),
		logger: logger.WithComponent(applog.ComponentView),
		now:    time.Now,

		generations: make(map[string]uint64),
	}
}

// Cache exposes the underlying cache for cleanup registration and metrics.
func (s *ViewService) Cache() *cache.LRUCache[KidView] {
	return s.cache
}

func (s *ViewService) Get(ctx context.Context, token string) (KidView, error) {
	if v, ok := s.cache.Get(token); ok {
		return v, nil
	}

	res, err, _ := s.group.Do(token, func() (any, error) {
		v, gen, err := s.load(ctx, token)
		if err != nil {
			return KidView{}, err
		}
		s.setIfCurrent(token, v, gen)
		return v, nil
	})
	if err != nil {
		return KidView{}, err
	}
	return res.(KidView), nil
}

// load returns the view and the kid's generation observed before reading
// the ledger.
func (s *ViewService) load(ctx context.Context, token string) (KidView, uint64, error) {
	kid, err := s.store.KidForViewToken(ctx, token)
	if err != nil {
		return KidView{}, 0, err
	}
	gen := s.generation(kid.ID)
	window := core.LastDays(s.now(), viewWindowDays)
	kid, rows, err := loadLedger(ctx, s.store, kid.ID, window)
	if err != nil {
		return KidView{}, 0, err
	}
	s.logger.DebugContext(ctx, "View loaded", applog.FieldKidID, kid.ID, "rows", len(rows))
	return KidView{
		KidID:   kid.ID,
		KidName: kid.Name,
		Balance: kid.CurrentBalance,
		Since:   window.From,
		Rows:    rows,
	}, gen, nil
}

func (s *ViewService) generation(kidID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[kidID]
}

func (s *ViewService) setIfCurrent(token string, v KidView, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[v.KidID] != gen {
		s.logger.Debug("Skipping cache fill for invalidated view", applog.FieldKidID, v.KidID)
		return
	}
	s.cache.Set(token, v)
}

// InvalidateKid drops every cached view of the kid and discards loads
// already in flight for it.
func (s *ViewService) InvalidateKid(kidID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[kidID]++
	s.cache.DeleteWhere(func(v KidView) bool { return v.KidID == kidID })
}
