package authkit

import (
	"context"
	"log/slog"
	"sync"
)

// Event is a backend state change normalized across backends.
type Event int

const (
	EventSignedIn Event = iota
	EventSignedOut
	EventSessionExpired
	EventUserDeleted
	EventFederationChanged
)

func (e Event) String() string {
	switch e {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventSessionExpired:
		return "session_expired"
	case EventUserDeleted:
		return "user_deleted"
	case EventFederationChanged:
		return "federation_changed"
	}
	return "unknown"
}

// ClearsSession reports whether the event ends the current session.
func (e Event) ClearsSession() bool {
	switch e {
	case EventSignedOut, EventSessionExpired, EventUserDeleted:
		return true
	}
	return false
}

// UserFetcher loads the user an event refers to.
type UserFetcher func(ctx context.Context) (User, error)

// UserValue returns a fetcher that yields u without blocking.
func UserValue(u User) UserFetcher {
	return func(context.Context) (User, error) { return u, nil }
}

// Bridge is the single writer of a Session. Events are sequenced in arrival
// order; a user fetched for an event is committed only if no later event or
// Set has happened meanwhile.
//
// Commits hold the bridge lock while listeners run, so listeners must not
// call back into the bridge (or an adapter operation that does) synchronously.
type Bridge struct {
	session *Session
	logger  *slog.Logger

	mu  sync.Mutex
	seq uint64
}

// NewBridge creates a Bridge over a fresh, empty Session.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{session: newSession(), logger: logger}
}

func (b *Bridge) Session() *Session {
	return b.session
}

func (b *Bridge) Current() User {
	return b.session.Current()
}

func (b *Bridge) Subscribe(fn func(User)) (remove func()) {
	return b.session.Subscribe(fn)
}

// Set commits u directly, superseding any fetch still in flight.
func (b *Bridge) Set(u User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.session.publish(u)
}

// Clear commits the signed-out state.
func (b *Bridge) Clear() {
	b.Set(nil)
}

// Dispatch applies ev. Clearing events, and events without a fetcher, commit
// nil immediately. Otherwise fetch runs in the background; a failed fetch
// commits nil, and a fetch that returns after a newer event is discarded.
// The returned channel is closed once the event was committed or discarded.
func (b *Bridge) Dispatch(ctx context.Context, ev Event, fetch UserFetcher) <-chan struct{} {
	done := make(chan struct{})

	b.mu.Lock()
	b.seq++
	ticket := b.seq
	if ev.ClearsSession() || fetch == nil {
		b.session.publish(nil)
		b.mu.Unlock()
		b.logger.Debug("auth session cleared", "event", ev.String())
		close(done)
		return done
	}
	b.mu.Unlock()

	go func() {
		defer close(done)
		u, err := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Warn("failed to fetch user for auth event", "event", ev.String(), "error", err)
			u = nil
		}
		if !b.commit(ticket, u) {
			b.logger.Debug("discarding stale auth event", "event", ev.String())
		}
	}()
	return done
}

func (b *Bridge) commit(ticket uint64, u User) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ticket != b.seq {
		return false
	}
	b.session.publish(u)
	return true
}
