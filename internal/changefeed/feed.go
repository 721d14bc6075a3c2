// Package changefeed is an in-process publish/subscribe of data changes.
// Writers publish after a successful write; readers such as the standings
// cache subscribe and recompute. Delivery never blocks the publisher.
package changefeed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/metrics"
)

type Table string

const (
	Observations Table = "actual_weather"
	Predictions  Table = "predictions"
	Comments     Table = "comments"
	Winners      Table = "monthly_winners"
	Profiles     Table = "profiles"

	// Resync replaces changes a slow subscriber missed. Receivers should
	// treat everything derived from the feed as stale.
	Resync Table = "resync"
)

// Change identifies a write. Date is the calendar date the write belongs
// to; it is empty for changes that span many dates (a monthly purge).
type Change struct {
	Table     Table
	Date      string
	StationID string
}

const DefaultBuffer = 64

type Feed struct {
	mu     sync.RWMutex
	subs   map[int]chan Change
	nextID int
	buffer int
	closed bool
	logger *zap.Logger
}

func New(buffer int, logger *zap.Logger) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		subs:   make(map[int]chan Change),
		buffer: buffer,
		logger: logger.Named("changefeed"),
	}
}

// Publish delivers c to every subscriber. When a subscriber's buffer is
// full its queued changes are discarded and replaced by a single Resync,
// so a reader that falls behind learns it missed something.
func (f *Feed) Publish(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for id, ch := range f.subs {
		select {
		case ch <- c:
			continue
		default:
		}

		dropped := 1
	drain:
		for {
			select {
			case <-ch:
				dropped++
			default:
				break drain
			}
		}
		metrics.ChangesDropped.WithLabelValues(string(c.Table)).Add(float64(dropped))
		f.logger.Warn("subscriber full, requesting resync",
			zap.Int("subscriber", id),
			zap.Int("dropped", dropped),
			zap.String("table", string(c.Table)),
			zap.String("date", c.Date))

		// Only Publish sends, and it holds the write lock, so the drained
		// buffer has room.
		ch <- Change{Table: Resync}
	}
}

// Subscribe returns a channel of changes that is closed when ctx is done
// or the feed is closed.
func (f *Feed) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, f.buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.unsubscribe(id)
	}()
	return ch
}

func (f *Feed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
