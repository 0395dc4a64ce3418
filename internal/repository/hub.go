package repository

import (
	"context"
	"sync"

	"registerhub/internal/model"

	"github.com/google/uuid"
)

// Hub fans change events out to in-process subscribers of a business.
//
// Each subscriber owns an unbounded queue drained by its own goroutine, so
// Publish never blocks and a slow reader never loses events.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*hubSub]struct{}
	closed bool
}

type hubSub struct {
	mu    sync.Mutex
	queue []model.ChangeEvent
	wake  chan struct{}
	done  chan struct{}
	out   chan model.ChangeEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*hubSub]struct{})}
}

// Subscribe implements ChangeFeed.
func (h *Hub) Subscribe(ctx context.Context, businessID uuid.UUID) (<-chan model.ChangeEvent, error) {
	s := &hubSub{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan model.ChangeEvent),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrFeedClosed
	}
	set, ok := h.subs[businessID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[businessID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		s.pump(ctx)
		h.remove(businessID, s)
	}()
	return s.out, nil
}

// Publish queues evt for every subscriber of evt.BusinessID. A resync event
// with a nil business id goes to every subscriber.
func (h *Hub) Publish(evt model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if evt.Op == model.OpResync && evt.BusinessID == uuid.Nil {
		for _, set := range h.subs {
			for s := range set {
				s.push(evt)
			}
		}
		return
	}
	for s := range h.subs[evt.BusinessID] {
		s.push(evt)
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			close(s.done)
		}
	}
	h.subs = map[uuid.UUID]map[*hubSub]struct{}{}
}

// Subscribers returns the number of live subscriptions for a business.
func (h *Hub) Subscribers(businessID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[businessID])
}

func (h *Hub) remove(businessID uuid.UUID, s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[businessID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, businessID)
	}
}

func (s *hubSub) push(evt model.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *hubSub) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.wake:
				continue
			}
		}
		evt := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}
