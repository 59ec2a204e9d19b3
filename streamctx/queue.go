package streamctx

import (
	"sync"
	"time"

	"github.com/dockrion/dockrion/event"
)

// queue is the internal bounded ordered sequence backing queue-mode
// StreamContexts (Pattern A). Events are transient: nothing is persisted
// to a backend, and DrainQueuedEvents is the only way to retrieve them.
type queue struct {
	mu            sync.Mutex
	events        []event.Event
	highWaterMark int
}

func newQueue(highWaterMark int) *queue {
	return &queue{highWaterMark: highWaterMark}
}

// append adds ev to the queue, evicting the oldest non-mandatory event if
// the high-water mark is exceeded. If every remaining event is mandatory
// and the mark is still exceeded, the oldest entry is replaced with a
// synthesized error event rather than dropping a mandatory event outright.
func (q *queue) append(ev event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, ev)
	if q.highWaterMark <= 0 {
		return
	}
	for len(q.events) > q.highWaterMark {
		idx := -1
		for i, e := range q.events {
			if !e.Type.IsMandatory() {
				idx = i
				break
			}
		}
		if idx < 0 {
			q.events[0] = event.Event{
				Type:      event.TypeError,
				RunID:     ev.RunID,
				Sequence:  q.events[0].Sequence,
				Timestamp: time.Now().UTC(),
				Payload: event.ErrorPayload{
					Error: "queue overflow: mandatory events could not all be retained",
					Code:  "queue_overflow",
				},
			}
			return
		}
		q.events = append(q.events[:idx], q.events[idx+1:]...)
	}
}

// drain atomically removes and returns all currently queued events.
func (q *queue) drain() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
