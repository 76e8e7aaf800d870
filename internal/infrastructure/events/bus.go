// Package events is the in-process live bus: scan events fan out to SSE and
// websocket subscribers, with a bounded per-scan replay buffer so late
// attachers can catch up.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
)

const defaultBufferCapacity = 1000

// LiveBus multiplexes scan events to subscribers. Publish is called strictly
// after the storage transaction commits, so everything on the bus is durable.
// Slow subscribers are dropped rather than blocking the producer.
type LiveBus struct {
	mu       sync.RWMutex
	scans    map[string]*scanStream
	capacity int
	logger   *zap.Logger
}

type scanStream struct {
	subs map[uuid.UUID]chan *scan.Event

	// ring is the replay buffer: a fixed-capacity circular slice that
	// overwrites the oldest event when full.
	ring  []*scan.Event
	start int
	count int
}

// NewLiveBus creates the bus with the given replay buffer capacity per scan.
func NewLiveBus(capacity int, logger *zap.Logger) *LiveBus {
	if capacity < 1 {
		capacity = defaultBufferCapacity
	}
	return &LiveBus{
		scans:    make(map[string]*scanStream),
		capacity: capacity,
		logger:   logger,
	}
}

func (b *LiveBus) stream(scanID string) *scanStream {
	s, ok := b.scans[scanID]
	if !ok {
		s = &scanStream{
			subs: make(map[uuid.UUID]chan *scan.Event),
			ring: make([]*scan.Event, b.capacity),
		}
		b.scans[scanID] = s
	}
	return s
}

// Publish buffers the event for replay and fans it out. Subscribers whose
// channel is full are unsubscribed and their channel closed.
func (b *LiveBus) Publish(event *scan.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(event.ScanID)

	// Buffer for replay, overwriting the oldest entry when full.
	if s.count == len(s.ring) {
		s.ring[s.start] = event
		s.start = (s.start + 1) % len(s.ring)
	} else {
		s.ring[(s.start+s.count)%len(s.ring)] = event
		s.count++
	}

	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			delete(s.subs, id)
			close(ch)
			b.logger.Warn("dropping slow event subscriber",
				zap.String("scan_id", event.ScanID),
				zap.String("subscriber_id", id.String()))
		}
	}
}

// Subscribe registers a listener for one scan. With replay, the returned
// channel is primed with the buffered events in order before any live event
// arrives. The channel is closed when the subscriber is dropped or the scan
// buffer released.
func (b *LiveBus) Subscribe(scanID string, withReplay bool) (uuid.UUID, <-chan *scan.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(scanID)
	id := uuid.New()

	// Channel buffer covers a full replay plus the same headroom a fresh
	// subscriber gets, so priming below can never block.
	ch := make(chan *scan.Event, 2*b.capacity)
	if withReplay {
		for i := 0; i < s.count; i++ {
			ch <- s.ring[(s.start+i)%len(s.ring)]
		}
	}
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *LiveBus) Unsubscribe(scanID string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.scans[scanID]
	if !ok {
		return
	}
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	if len(s.subs) == 0 && s.count == 0 {
		delete(b.scans, scanID)
	}
}

// Prune removes events of the given types from a scan's replay buffer. Live
// subscribers are unaffected. Resuming a scan prunes the prior run's PAUSED
// terminal event so replay-attached streams do not close on it before the
// resumed run's events arrive.
func (b *LiveBus) Prune(scanID string, types ...scan.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.scans[scanID]
	if !ok || s.count == 0 {
		return
	}

	kept := make([]*scan.Event, 0, s.count)
	for i := 0; i < s.count; i++ {
		ev := s.ring[(s.start+i)%len(s.ring)]
		drop := false
		for _, t := range types {
			if ev.Type == t {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, ev)
		}
	}

	ring := make([]*scan.Event, len(s.ring))
	copy(ring, kept)
	s.ring = ring
	s.start = 0
	s.count = len(kept)
}

// Release drops the replay buffer and closes every subscriber of a scan.
// Called on purge.
func (b *LiveBus) Release(scanID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.scans[scanID]
	if !ok {
		return
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	delete(b.scans, scanID)
}

// ReleaseAll drops every buffer and subscriber on the bus.
func (b *LiveBus) ReleaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for scanID, s := range b.scans {
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		delete(b.scans, scanID)
	}
}

// Buffered returns the replay buffer contents of a scan in order.
func (b *LiveBus) Buffered(scanID string) []*scan.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.scans[scanID]
	if !ok {
		return nil
	}
	out := make([]*scan.Event, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.ring[(s.start+i)%len(s.ring)])
	}
	return out
}

// SubscriberCount reports the live subscribers across all scans.
func (b *LiveBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, s := range b.scans {
		n += len(s.subs)
	}
	return n
}
