// Package standings serves cached leaderboards and keeps them current by
// recomputing when observations or predictions change.
package standings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/metrics"
	"github.com/lox/skylineoracle/internal/scoring"
	"github.com/lox/skylineoracle/internal/store"
)

// DefaultTTL bounds how long a board is served without a recompute, in case
// a change never reaches the cache.
const DefaultTTL = 5 * time.Minute

type cacheKey struct {
	date    string
	station string
}

type cached struct {
	entries  []scoring.Entry
	storedAt time.Time
}

// stamp records the invalidation state a board was computed under. A board
// is only stored if no invalidation touched its date in the meantime.
type stamp struct {
	epoch uint64
	gen   uint64
}

type Service struct {
	store  *store.Store
	logger *zap.Logger
	clock  clockwork.Clock
	ttl    time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cached
	epoch uint64
	gens  map[string]uint64
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTTL sets the maximum age of a cached board. Zero or negative keeps
// boards until invalidated.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

func New(st *store.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  st,
		logger: logger.Named("standings"),
		clock:  clockwork.NewRealClock(),
		ttl:    DefaultTTL,
		cache:  make(map[cacheKey]cached),
		gens:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Leaderboard returns the ranked entries for a target date and station
// filter. An empty station means all stations.
func (s *Service) Leaderboard(ctx context.Context, date, station string) ([]scoring.Entry, error) {
	if station == "" {
		station = scoring.AllStations
	}
	key := cacheKey{date: date, station: station}

	entries, st, ok := s.lookup(key)
	if ok {
		return entries, nil
	}

	entries, err := s.compute(ctx, date, station)
	if err != nil {
		return nil, err
	}
	s.save(key, st, entries)
	return entries, nil
}

// Recompute drops every cached board for date and rebuilds the all-station
// board. Per-station boards are rebuilt lazily.
func (s *Service) Recompute(ctx context.Context, date string) error {
	st := s.invalidate(date)

	entries, err := s.compute(ctx, date, scoring.AllStations)
	if err != nil {
		return err
	}
	metrics.LeaderboardRecomputes.Inc()
	s.save(cacheKey{date: date, station: scoring.AllStations}, st, entries)
	return nil
}

// lookup returns a fresh cached board, or the stamp to save a new one under.
func (s *Service) lookup(key cacheKey) ([]scoring.Entry, stamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[key]
	if ok && s.ttl > 0 && s.clock.Since(c.storedAt) >= s.ttl {
		delete(s.cache, key)
		ok = false
	}
	return c.entries, s.stampLocked(key.date), ok
}

// save stores entries unless the date was invalidated after st was taken.
func (s *Service) save(key cacheKey, st stamp, entries []scoring.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stampLocked(key.date) != st {
		s.logger.Debug("discarding stale board", zap.String("date", key.date), zap.String("station", key.station))
		return
	}
	s.cache[key] = cached{entries: entries, storedAt: s.clock.Now()}
}

func (s *Service) stampLocked(date string) stamp {
	return stamp{epoch: s.epoch, gen: s.gens[date]}
}

// invalidate drops cached boards for date, or every board when date is
// empty, and returns the new stamp for date.
func (s *Service) invalidate(date string) stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if date == "" {
		s.epoch++
		s.cache = make(map[cacheKey]cached)
		return s.stampLocked("")
	}
	s.gens[date]++
	for k := range s.cache {
		if k.date == date {
			delete(s.cache, k)
		}
	}
	return s.stampLocked(date)
}

// Watch consumes changes until the channel closes.
func (s *Service) Watch(ctx context.Context, changes <-chan changefeed.Change) {
	for c := range changes {
		s.Apply(ctx, c)
	}
}

// Apply reacts to a single change.
func (s *Service) Apply(ctx context.Context, c changefeed.Change) {
	switch c.Table {
	case changefeed.Observations, changefeed.Predictions:
		if c.Date == "" {
			s.invalidate("")
			return
		}
		if err := s.Recompute(ctx, c.Date); err != nil {
			s.logger.Error("recompute leaderboard", zap.String("date", c.Date), zap.Error(err))
		}
	case changefeed.Profiles:
		s.invalidate("")
	case changefeed.Resync:
		s.logger.Warn("missed changes, dropping all cached boards")
		s.invalidate("")
	}
}

func (s *Service) compute(ctx context.Context, date, station string) ([]scoring.Entry, error) {
	filter := ""
	if station != scoring.AllStations {
		filter = station
	}
	preds, err := s.store.GetPredictionsForDate(ctx, date, filter)
	if err != nil {
		return nil, fmt.Errorf("load predictions: %w", err)
	}
	obs, err := s.store.GetObservationsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	stations, err := s.store.GetActiveStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, p := range preds {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	names, err := s.store.Usernames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load usernames: %w", err)
	}

	return scoring.Rank(scoring.Board{
		Predictions:  preds,
		Observations: obs,
		Station:      station,
		StationCount: len(stations),
		Usernames:    names,
	}), nil
}
