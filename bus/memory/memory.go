// Package memory implements an in-process bus.Backend: the reference
// backend for development, tests, and single-instance deployments. It
// keeps no external dependency and shards locking per run to avoid
// contention across unrelated runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dockrion/dockrion/bus"
	"github.com/dockrion/dockrion/event"
	"github.com/dockrion/dockrion/internal/telemetry"
	"github.com/dockrion/dockrion/streamerr"
)

// Options configures a Backend.
type Options struct {
	// MaxEventsPerRun bounds the number of events retained per run;
	// oldest non-mandatory events are evicted first. Zero means
	// unbounded.
	MaxEventsPerRun int
	// SubscriberBufferSize bounds the channel used to fan events out to
	// each live subscriber. A slow subscriber whose buffer fills is
	// dropped; it recovers by reconnecting with from_sequence.
	SubscriberBufferSize int
	// StreamTTL bounds how long a terminated run's events remain
	// queryable before the sweeper removes them. Zero disables sweeping.
	StreamTTL time.Duration
	// SweepInterval controls how often the TTL sweeper runs. Defaults to
	// one minute when StreamTTL is set and SweepInterval is zero.
	SweepInterval time.Duration
	// Logger receives diagnostic messages. Defaults to a no-op logger.
	Logger telemetry.Logger
}

type run struct {
	mu          sync.Mutex
	events      []event.Event
	subscribers map[*subscriberChan]struct{}
	hasTerminal bool
	terminalAt  time.Time
}

type subscriberChan struct {
	ch chan event.Event
}

// Backend is an in-memory bus.Backend implementation.
type Backend struct {
	opts Options

	mu   sync.RWMutex
	runs map[string]*run

	stopSweep chan struct{}
	sweepDone chan struct{}
}

var _ bus.Backend = (*Backend)(nil)

// New constructs an in-memory Backend. If opts.StreamTTL is non-zero, a
// background sweeper removes terminated runs older than the TTL.
func New(opts Options) *Backend {
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	b := &Backend{
		opts:      opts,
		runs:      make(map[string]*run),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if opts.StreamTTL > 0 {
		interval := opts.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go b.sweepLoop(interval)
	} else {
		close(b.sweepDone)
	}
	return b
}

// Close stops the background TTL sweeper, if running.
func (b *Backend) Close() {
	select {
	case <-b.stopSweep:
	default:
		close(b.stopSweep)
	}
	<-b.sweepDone
}

func (b *Backend) sweepLoop(interval time.Duration) {
	defer close(b.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopSweep:
			return
		case <-ticker.C:
			b.sweepExpired()
		}
	}
}

func (b *Backend) sweepExpired() {
	cutoff := time.Now().Add(-b.opts.StreamTTL)
	var expired []string
	b.mu.RLock()
	for id, r := range b.runs {
		r.mu.Lock()
		if r.hasTerminal && r.terminalAt.Before(cutoff) {
			expired = append(expired, id)
		}
		r.mu.Unlock()
	}
	b.mu.RUnlock()
	for _, id := range expired {
		_ = b.Trim(context.Background(), id)
	}
}

func (b *Backend) getOrCreateRun(runID string) *run {
	b.mu.RLock()
	r, ok := b.runs[runID]
	b.mu.RUnlock()
	if ok {
		return r
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.runs[runID]; ok {
		return r
	}
	r = &run{subscribers: make(map[*subscriberChan]struct{})}
	b.runs[runID] = r
	return r
}

// Publish implements bus.Backend.
func (b *Backend) Publish(ctx context.Context, runID string, ev event.Event) error {
	r := b.getOrCreateRun(runID)

	r.mu.Lock()
	if r.hasTerminal {
		r.mu.Unlock()
		return streamerr.AlreadyTerminal
	}
	r.events = append(r.events, ev)
	b.evictLocked(r)
	if ev.Type.IsTerminal() {
		r.hasTerminal = true
		r.terminalAt = time.Now()
	}
	subs := make([]*subscriberChan, 0, len(r.subscribers))
	for sc := range r.subscribers {
		subs = append(subs, sc)
	}
	r.mu.Unlock()

	for _, sc := range subs {
		select {
		case sc.ch <- ev:
		default:
			b.dropSubscriber(r, sc)
		}
	}
	return nil
}

// evictLocked drops the oldest non-mandatory event while r.events exceeds
// the configured cap. Must be called with r.mu held. Mandatory events are
// never evicted, even if the cap is exceeded as a result.
func (b *Backend) evictLocked(r *run) {
	if b.opts.MaxEventsPerRun <= 0 {
		return
	}
	for len(r.events) > b.opts.MaxEventsPerRun {
		idx := -1
		for i, e := range r.events {
			if !e.Type.IsMandatory() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		r.events = append(r.events[:idx], r.events[idx+1:]...)
	}
}

func (b *Backend) dropSubscriber(r *run, sc *subscriberChan) {
	r.mu.Lock()
	delete(r.subscribers, sc)
	r.mu.Unlock()
	close(sc.ch)
}

// Subscribe implements bus.Backend.
func (b *Backend) Subscribe(ctx context.Context, runID string, fromSequence int64) (*bus.Subscription, error) {
	r := b.getOrCreateRun(runID)

	r.mu.Lock()
	snapshot := snapshotFrom(r.events, fromSequence)
	wasTerminal := r.hasTerminal
	sc := &subscriberChan{ch: make(chan event.Event, b.opts.SubscriberBufferSize)}
	r.subscribers[sc] = struct{}{}
	r.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan event.Event, b.opts.SubscriberBufferSize)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		for _, ev := range snapshot {
			select {
			case out <- ev:
				if ev.Type.IsTerminal() {
					return
				}
			case <-subCtx.Done():
				return
			}
		}
		// The run already reached a terminal event before this subscriber
		// was registered, and the snapshot above didn't include it (it was
		// before fromSequence): nothing further will ever be published for
		// this run, so close immediately rather than blocking on sc.ch.
		if wasTerminal {
			return
		}
		for {
			select {
			case ev, ok := <-sc.ch:
				if !ok {
					return
				}
				select {
				case out <- ev:
					if ev.Type.IsTerminal() {
						return
					}
				case <-subCtx.Done():
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	closeFn := func() {
		cancel()
		r.mu.Lock()
		delete(r.subscribers, sc)
		r.mu.Unlock()
	}
	return bus.NewSubscription(out, errs, closeFn), nil
}

// GetEvents implements bus.Backend.
func (b *Backend) GetEvents(ctx context.Context, runID string, fromSequence int64, limit int) ([]event.Event, error) {
	r := b.getOrCreateRun(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	events := snapshotFrom(r.events, fromSequence)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Trim implements bus.Backend.
func (b *Backend) Trim(ctx context.Context, runID string) error {
	b.mu.Lock()
	r, ok := b.runs[runID]
	delete(b.runs, runID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	for sc := range r.subscribers {
		close(sc.ch)
	}
	r.subscribers = map[*subscriberChan]struct{}{}
	r.events = nil
	r.mu.Unlock()
	return nil
}

func snapshotFrom(events []event.Event, fromSequence int64) []event.Event {
	idx := sort.Search(len(events), func(i int) bool { return events[i].Sequence >= fromSequence })
	out := make([]event.Event, len(events)-idx)
	copy(out, events[idx:])
	return out
}
