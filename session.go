package authkit

import (
	"slices"
	"sync"
)

// Session holds the current user snapshot of one adapter instance and fans
// transitions out to listeners. Only a Bridge writes to it.
type Session struct {
	mu        sync.Mutex
	user      User
	listeners map[uint64]func(User)
	nextID    uint64

	// held for the duration of a delivery round so listeners observe
	// transitions in commit order
	delivery sync.Mutex
}

func newSession() *Session {
	return &Session{listeners: make(map[uint64]func(User))}
}

// Current returns the latest committed user, nil when signed out.
func (s *Session) Current() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Subscribe registers fn and invokes it with the current snapshot before any
// later transition. Listeners must not subscribe or dispatch from inside fn.
func (s *Session) Subscribe(fn func(User)) (remove func()) {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	snapshot := s.user
	s.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (s *Session) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// publish commits u and delivers it to every listener in registration order.
// Publishing a snapshot equal to the current one is a no-op.
func (s *Session) publish(u User) bool {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	if SameUser(s.user, u) {
		s.mu.Unlock()
		return false
	}
	s.user = u
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(User), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
	return true
}

// SameUser reports whether a and b describe the same account state.
func SameUser(a, b User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UserID() == b.UserID() &&
		a.Email() == b.Email() &&
		a.IsAnonymous() == b.IsAnonymous() &&
		a.DisplayName() == b.DisplayName() &&
		a.GivenName() == b.GivenName() &&
		a.FamilyName() == b.FamilyName() &&
		a.CreationDate().Equal(b.CreationDate()) &&
		slices.Equal(a.AuthProviderLinks(), b.AuthProviderLinks())
}

// userQueue is an unbounded FIFO that lets a listener hand users to a
// consumer goroutine without blocking delivery.
type userQueue struct {
	mu    sync.Mutex
	items []User
	ready chan struct{}
}

func newUserQueue() *userQueue {
	return &userQueue{ready: make(chan struct{}, 1)}
}

func (q *userQueue) push(u User) {
	q.mu.Lock()
	q.items = append(q.items, u)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *userQueue) drain() []User {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
