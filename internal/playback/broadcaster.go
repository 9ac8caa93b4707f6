package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultEmitThreshold is the position change below which a snapshot
	// that changes nothing else is dropped.
	DefaultEmitThreshold = 500 * time.Millisecond

	subscriberBufferSize = 16
)

// Subscription is a registered snapshot observer. Each subscription has its
// own delivery goroutine, so snapshots reach a subscriber in the order they
// were published while a slow or broken subscriber cannot hold up others.
type Subscription struct {
	id   uuid.UUID
	fn   func(Snapshot)
	ch   chan Snapshot
	wake chan struct{}
	done chan struct{}

	// Guarded by Broadcaster.mu
	last *Snapshot
	// Newest snapshot that did not fit in ch. While set, everything in ch
	// is older, so later publishes overwrite it instead of queueing.
	latest *Snapshot
}

// ID returns the subscription's unique identifier
func (s *Subscription) ID() string {
	return s.id.String()
}

// Broadcaster fans snapshots out to subscribers, rate-limiting position-only
// updates. Delivery is best-effort: nothing is queued for subscribers that
// are not attached. A subscriber whose buffer is full skips intermediate
// snapshots but always receives the newest one.
type Broadcaster struct {
	mu        sync.Mutex
	subs      []*Subscription
	threshold time.Duration
	closed    bool
	logger    zerolog.Logger
}

// NewBroadcaster creates a Broadcaster. threshold <= 0 uses DefaultEmitThreshold.
func NewBroadcaster(threshold time.Duration, logger zerolog.Logger) *Broadcaster {
	if threshold <= 0 {
		threshold = DefaultEmitThreshold
	}
	return &Broadcaster{
		threshold: threshold,
		logger:    logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers fn. The first snapshot published after subscribing is
// always delivered, whatever the threshold says.
func (b *Broadcaster) Subscribe(fn func(Snapshot)) *Subscription {
	sub := &Subscription{
		id:   uuid.New(),
		fn:   fn,
		ch:   make(chan Snapshot, subscriberBufferSize),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.deliver(sub)

	b.logger.Debug().Str("subscription", sub.ID()).Msg("Subscriber attached")
	return sub
}

// Unsubscribe detaches sub. Snapshots already queued for it are discarded.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.done)
			b.logger.Debug().Str("subscription", sub.ID()).Msg("Subscriber detached")
			return
		}
	}
}

// Publish offers snap to every subscriber. force skips rate limiting; the
// engine forces after state transitions and resync requests.
func (b *Broadcaster) Publish(snap Snapshot, force bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !force && !b.shouldEmit(sub.last, snap) {
			continue
		}

		s := snap
		sub.last = &s

		if sub.latest == nil {
			select {
			case sub.ch <- snap:
				continue
			default:
			}
		} else {
			b.logger.Debug().Str("subscription", sub.ID()).Msg("Replaced pending snapshot for slow subscriber")
		}
		sub.latest = &s
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// takeLatest returns and clears the subscriber's overflow snapshot
func (b *Broadcaster) takeLatest(sub *Subscription) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.latest == nil {
		return Snapshot{}, false
	}
	snap := *sub.latest
	sub.latest = nil
	return snap, true
}

// Close detaches every subscriber
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.done)
	}
	b.subs = nil
}

// shouldEmit applies the rate limit for one subscriber.
// Must be called with b.mu held.
func (b *Broadcaster) shouldEmit(last *Snapshot, snap Snapshot) bool {
	if last == nil || isTransition(*last, snap) {
		return true
	}

	moved := snap.Position - last.Position
	if moved < 0 {
		moved = -moved
	}
	return moved >= b.threshold
}

// isTransition reports whether anything besides the position changed
func isTransition(prev, next Snapshot) bool {
	return prev.Phase != next.Phase ||
		prev.IsPlaying != next.IsPlaying ||
		prev.TrackURL != next.TrackURL ||
		prev.Title != next.Title ||
		prev.Duration != next.Duration ||
		prev.Err != next.Err
}

// deliver runs a subscriber's callback for each queued snapshot until the
// subscription is detached. The overflow snapshot goes out only once the
// queue ahead of it is empty.
func (b *Broadcaster) deliver(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case snap := <-sub.ch:
			if !b.handle(sub, snap) {
				return
			}
		case <-sub.wake:
			for drained := false; !drained; {
				select {
				case snap := <-sub.ch:
					if !b.handle(sub, snap) {
						return
					}
				default:
					drained = true
				}
			}
			if snap, ok := b.takeLatest(sub); ok {
				if !b.handle(sub, snap) {
					return
				}
			}
		}
	}
}

// handle delivers one snapshot, reporting false once sub is detached
func (b *Broadcaster) handle(sub *Subscription, snap Snapshot) bool {
	// Prefer detaching over delivering once both are ready
	select {
	case <-sub.done:
		return false
	default:
	}
	if err := b.invoke(sub, snap); err != nil {
		b.logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Subscriber failed to handle snapshot")
	}
	return true
}

// invoke calls the subscriber callback, converting a panic into an error
func (b *Broadcaster) invoke(sub *Subscription, snap Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrObserverDelivery, r)
		}
	}()
	sub.fn(snap)
	return nil
}
