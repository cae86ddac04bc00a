package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 256

// DeltaBus fans deltas out to local subscribers. Each subscriber owns a
// bounded channel; Publish never blocks and drops the delta for any
// subscriber whose buffer is full.
type DeltaBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	dropped atomic.Int64
	sent    atomic.Int64
	metrics domain.MetricsRecorder
	now     func() time.Time
	logger  *zap.Logger
}

type subscription struct {
	ch      chan domain.Delta
	dropped atomic.Int64
}

// NewDeltaBus returns a bus with no subscribers.
func NewDeltaBus(logger *zap.Logger) *DeltaBus {
	return &DeltaBus{
		subs:    make(map[uint64]*subscription),
		metrics: nopMetrics{},
		now:     time.Now,
		logger:  logger,
	}
}

func (b *DeltaBus) SetMetrics(m domain.MetricsRecorder) {
	if m != nil {
		b.metrics = m
	}
}

// Subscribe returns a receive channel and a cancel func that closes it. A
// buffer of zero or less uses the default size.
func (b *DeltaBus) Subscribe(buffer int) (<-chan domain.Delta, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscription{ch: make(chan domain.Delta, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish stamps d and offers it to every subscriber without blocking.
// A subscriber whose buffer is full misses the delta; the drop is counted.
func (b *DeltaBus) Publish(d domain.Delta) {
	if d.Timestamp.IsZero() {
		d.Timestamp = b.now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- d:
			b.sent.Add(1)
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.metrics.DeltaDropped(1)
			b.logger.Debug("delta dropped for slow subscriber", zap.String("type", string(d.Type)))
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *DeltaBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped is the total number of deltas dropped across all subscribers.
func (b *DeltaBus) Dropped() int64 {
	return b.dropped.Load()
}

// Delivered counts deltas handed to subscriber channels.
func (b *DeltaBus) Delivered() int64 {
	return b.sent.Load()
}
