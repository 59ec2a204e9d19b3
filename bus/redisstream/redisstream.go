// Package redisstream implements a bus.Backend on top of Redis Streams,
// the production backend: multi-instance, replayable within a configured
// TTL, and tolerant of backend restarts because ordering authority rests
// with the producer-assigned sequence field, never the Redis entry ID.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dockrion/dockrion/bus"
	"github.com/dockrion/dockrion/event"
	"github.com/dockrion/dockrion/internal/telemetry"
	"github.com/dockrion/dockrion/streamerr"
)

// TTLPolicy selects when a run's stream key receives its expiry.
type TTLPolicy string

const (
	// TTLFixedPostMortem sets EXPIRE only once the terminal event is
	// published, giving every run a fixed post-mortem retention window.
	// This is the default.
	TTLFixedPostMortem TTLPolicy = "fixed_post_mortem"
	// TTLSliding resets EXPIRE on every publish, extending retention as
	// long as the run remains active.
	TTLSliding TTLPolicy = "sliding"
)

// Options configures a Backend.
type Options struct {
	// Client is the Redis client to use. Required.
	Client *redis.Client
	// MaxEventsPerRun bounds the approximate per-stream length via
	// XADD MAXLEN ~. Defaults to 1000. Should be sized comfortably above
	// the mandatory-event budget so mandatory events are not evicted in
	// practice.
	MaxEventsPerRun int64
	// StreamTTL is the retention window applied per TTLPolicy. Defaults
	// to one hour.
	StreamTTL time.Duration
	// TTLPolicy selects when StreamTTL is applied. Defaults to
	// TTLFixedPostMortem.
	TTLPolicy TTLPolicy
	// BlockDuration bounds each XREAD BLOCK call in the subscriber tail
	// loop. Defaults to 5 seconds.
	BlockDuration time.Duration
	// Logger receives diagnostic messages. Defaults to a no-op logger.
	Logger telemetry.Logger
	// Metrics receives publish/subscribe instrumentation. Defaults to a
	// no-op recorder.
	Metrics telemetry.Metrics
}

// Backend is a Redis Streams bus.Backend implementation.
type Backend struct {
	client        *redis.Client
	maxEvents     int64
	ttl           time.Duration
	ttlPolicy     TTLPolicy
	blockDuration time.Duration
	logger        telemetry.Logger
	metrics       telemetry.Metrics
}

var _ bus.Backend = (*Backend)(nil)

// New validates opts and constructs a Backend.
func New(opts Options) (*Backend, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstream: Client is required")
	}
	if opts.MaxEventsPerRun <= 0 {
		opts.MaxEventsPerRun = 1000
	}
	if opts.StreamTTL <= 0 {
		opts.StreamTTL = time.Hour
	}
	if opts.TTLPolicy == "" {
		opts.TTLPolicy = TTLFixedPostMortem
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Backend{
		client:        opts.Client,
		maxEvents:     opts.MaxEventsPerRun,
		ttl:           opts.StreamTTL,
		ttlPolicy:     opts.TTLPolicy,
		blockDuration: opts.BlockDuration,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}, nil
}

// Publish implements bus.Backend. The producer-assigned sequence is the
// ordering authority; the Redis-assigned entry ID is only ever used to
// drive XREAD's cursor within a single subscription.
func (b *Backend) Publish(ctx context.Context, runID string, ev event.Event) error {
	start := time.Now()
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("redisstream: marshal payload: %w", err)
	}

	key := streamKey(runID)
	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: b.maxEvents,
		Approx: true,
		Values: map[string]any{
			"seq":     ev.Sequence,
			"type":    string(ev.Type),
			"payload": string(payload),
			"ts":      ev.Timestamp.Format(time.RFC3339Nano),
		},
	}
	if err := withRetry(ctx, writeRetry, func(ctx context.Context) error {
		return b.client.XAdd(ctx, args).Err()
	}); err != nil {
		b.metrics.IncCounter("redisstream_publish_errors_total", 1, "run_id", runID)
		return fmt.Errorf("%w: xadd: %v", streamerr.BackendUnavailable, err)
	}

	switch b.ttlPolicy {
	case TTLSliding:
		b.client.Expire(ctx, key, b.ttl)
	default:
		if ev.Type.IsTerminal() {
			b.client.Expire(ctx, key, b.ttl)
		}
	}

	if err := b.client.ZAdd(ctx, runsIndexKey, redis.Z{Score: float64(time.Now().Unix()), Member: runID}).Err(); err != nil {
		b.logger.Warn(ctx, "redisstream: failed to update runs index", "run_id", runID, "error", err.Error())
	}

	b.metrics.RecordTimer("redisstream_publish_duration", time.Since(start), "run_id", runID)
	return nil
}

// GetEvents implements bus.Backend as a one-shot XRANGE query.
func (b *Backend) GetEvents(ctx context.Context, runID string, fromSequence int64, limit int) ([]event.Event, error) {
	var msgs []redis.XMessage
	if err := withRetry(ctx, readRetry, func(ctx context.Context) error {
		m, err := b.client.XRange(ctx, streamKey(runID), "-", "+").Result()
		if err != nil {
			return err
		}
		msgs = m
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: xrange: %v", streamerr.BackendUnavailable, err)
	}
	var out []event.Event
	for _, msg := range msgs {
		ev, err := decodeEntry(runID, msg)
		if err != nil {
			b.logger.Warn(ctx, "redisstream: dropping undecodable entry", "run_id", runID, "entry_id", msg.ID, "error", err.Error())
			continue
		}
		if ev.Sequence < fromSequence {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Subscribe implements bus.Backend. Phase one replays XRANGE from
// fromSequence; phase two tails new entries via XREAD BLOCK in a loop,
// stopping when a terminal event is observed or the subscription is
// closed.
func (b *Backend) Subscribe(ctx context.Context, runID string, fromSequence int64) (*bus.Subscription, error) {
	key := streamKey(runID)
	var msgs []redis.XMessage
	if err := withRetry(ctx, readRetry, func(ctx context.Context) error {
		m, err := b.client.XRange(ctx, key, "-", "+").Result()
		if err != nil {
			return err
		}
		msgs = m
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: xrange: %v", streamerr.BackendUnavailable, err)
	}

	out := make(chan event.Event, 64)
	errs := make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)

		lastID := "0"
		terminal := false
		for _, msg := range msgs {
			lastID = msg.ID
			ev, err := decodeEntry(runID, msg)
			if err != nil {
				continue
			}
			// The run may already be known-terminal even if this
			// particular replayed entry falls before fromSequence and is
			// not itself forwarded below: terminality must be tracked
			// independent of the forwarding decision, or a subscriber
			// whose fromSequence lands after the terminal entry would
			// fall through to the live-tail loop below and poll
			// indefinitely instead of closing immediately.
			if ev.Type.IsTerminal() {
				terminal = true
			}
			if ev.Sequence < fromSequence {
				continue
			}
			select {
			case out <- ev:
			case <-subCtx.Done():
				return
			}
			if terminal {
				break
			}
		}
		if terminal {
			return
		}

		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}

			var res []redis.XStream
			err := withRetry(subCtx, readRetry, func(ctx context.Context) error {
				r, err := b.client.XRead(ctx, &redis.XReadArgs{
					Streams: []string{key, lastID},
					Block:   b.blockDuration,
					Count:   100,
				}).Result()
				if err != nil {
					return err
				}
				res = r
				return nil
			})
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				select {
				case errs <- fmt.Errorf("%w: xread: %v", streamerr.BackendUnavailable, err):
				default:
				}
				return
			}
			for _, stream := range res {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					ev, err := decodeEntry(runID, msg)
					if err != nil {
						continue
					}
					if ev.Sequence < fromSequence {
						continue
					}
					select {
					case out <- ev:
					case <-subCtx.Done():
						return
					}
					if ev.Type.IsTerminal() {
						return
					}
				}
			}
		}
	}()

	closeFn := func() { cancel() }
	return bus.NewSubscription(out, errs, closeFn), nil
}

// Trim implements bus.Backend.
func (b *Backend) Trim(ctx context.Context, runID string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, streamKey(runID))
	pipe.Del(ctx, runKey(runID))
	pipe.ZRem(ctx, runsIndexKey, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: trim: %v", streamerr.BackendUnavailable, err)
	}
	return nil
}

// decodeEntry reconstructs an event.Event from a raw stream entry, reusing
// event.Event's own type-directed JSON decoding so the payload shape is
// defined in exactly one place.
func decodeEntry(runID string, msg redis.XMessage) (event.Event, error) {
	seqStr, _ := msg.Values["seq"].(string)
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return event.Event{}, fmt.Errorf("redisstream: invalid seq %q: %w", seqStr, err)
	}
	typ, _ := msg.Values["type"].(string)
	payloadRaw, _ := msg.Values["payload"].(string)
	tsRaw, _ := msg.Values["ts"].(string)

	var fields map[string]any
	if payloadRaw != "" {
		if err := json.Unmarshal([]byte(payloadRaw), &fields); err != nil {
			return event.Event{}, fmt.Errorf("redisstream: invalid payload: %w", err)
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["type"] = typ
	fields["run_id"] = runID
	fields["sequence"] = seq
	fields["ts"] = tsRaw

	data, err := json.Marshal(fields)
	if err != nil {
		return event.Event{}, fmt.Errorf("redisstream: re-marshal entry: %w", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return event.Event{}, fmt.Errorf("redisstream: decode event: %w", err)
	}
	return ev, nil
}
