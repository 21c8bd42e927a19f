package local

import (
	"context"
	"sync"

	gatekeeper "github.com/goliatone/go-gatekeeper"
)

type authEvent struct {
	event   gatekeeper.AuthEvent
	session *gatekeeper.Session
}

// subscriber delivers events to one listener in order. The queue is
// unbounded so a slow listener never blocks the publisher.
type subscriber struct {
	listener gatekeeper.AuthStateListener

	mu     sync.Mutex
	queue  []authEvent
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newSubscriber(listener gatekeeper.AuthStateListener) *subscriber {
	s := &subscriber{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) push(ev authEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.listener(context.Background(), ev.event, ev.session)
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}

// hub fans auth events out to the listeners of a client
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*subscriber
}

func newHub() *hub {
	return &hub{subs: map[string]map[int]*subscriber{}}
}

func (h *hub) subscribe(clientID string, listener gatekeeper.AuthStateListener) gatekeeper.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	if h.subs[clientID] == nil {
		h.subs[clientID] = map[int]*subscriber{}
	}
	sub := newSubscriber(listener)
	h.subs[clientID][id] = sub

	return gatekeeper.SubscriptionFunc(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if subs, ok := h.subs[clientID]; ok {
			if s, ok := subs[id]; ok {
				s.close()
				delete(subs, id)
			}
			if len(subs) == 0 {
				delete(h.subs, clientID)
			}
		}
	})
}

func (h *hub) publish(clientID string, event gatekeeper.AuthEvent, session *gatekeeper.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs[clientID] {
		var sess *gatekeeper.Session
		if session != nil {
			c := *session
			sess = &c
		}
		s.push(authEvent{event: event, session: sess})
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clientID, subs := range h.subs {
		for _, s := range subs {
			s.close()
		}
		delete(h.subs, clientID)
	}
}
