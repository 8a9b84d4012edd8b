// Package eventbus carries typed events between the execution kernel and
// external consumers (UI, log sinks, the memory writer), guaranteeing
// FIFO delivery within a goal even when several goroutines publish for
// that goal concurrently (spec §4.1, §5 "Ordering is FIFO within a
// goal; no ordering is guaranteed across concurrent goals").
package eventbus

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
)

type (
	// Bus publishes kernel events to registered subscribers in a
	// synchronous fan-out. Emissions are synchronous from the emitter's
	// perspective: Publish returns only after every subscriber has seen
	// the event (spec §4.1 "return only after buffering").
	Bus interface {
		// Publish delivers event to every registered subscriber, in
		// registration order. Iteration stops at the first subscriber
		// error, and that error is returned to the publisher. Deliveries
		// sharing the same event.GoalID never interleave, so a subscriber
		// finishes handling one goal event before the next for that goal
		// starts, regardless of which goroutine called Publish.
		Publish(ctx context.Context, event Event) error

		// Subscribe registers sub and returns a Subscription that can be
		// closed to unregister.
		Subscribe(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus.
	Subscription interface {
		// Close removes the subscriber. Idempotent and thread-safe.
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
		nextSeq     uint64

		// goalLocks stripes goal IDs across a fixed set of mutexes so
		// Publish can serialize delivery per goal without growing an
		// unbounded per-goal lock table over a long-running process.
		goalLocks [goalLockStripes]sync.Mutex
	}

	subscription struct {
		bus  *bus
		once sync.Once
		seq  uint64
	}
)

// goalLockStripes bounds the false-contention rate between unrelated
// goals sharing a stripe; 32 is small enough to stay cheap and large
// enough that collisions are rare for the goal counts a single Sunwell
// process handles.
const goalLockStripes = 32

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// New constructs an in-memory event bus.
func New() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	lock := b.goalLock(event.GoalID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	regs := make([]*subscription, 0, len(b.subscribers))
	for s := range b.subscribers {
		regs = append(regs, s)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	subs := make([]Subscriber, 0, len(regs))
	for _, s := range regs {
		subs = append(subs, b.subscribers[s])
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// goalLock returns the stripe serializing deliveries for goalID. The
// empty goal ID (process-level events like backlog_refreshed) always
// maps to stripe 0, so those events are serialized against each other
// too.
func (b *bus) goalLock(goalID string) *sync.Mutex {
	if goalID == "" {
		return &b.goalLocks[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(goalID))
	return &b.goalLocks[h.Sum32()%goalLockStripes]
}

func (b *bus) Subscribe(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("eventbus: subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.nextSeq++
	s.seq = b.nextSeq
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
