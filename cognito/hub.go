package cognito

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/panyam/authkit"
)

// Auth hub event names.
const (
	EventNameSignedIn                        = "signedIn"
	EventNameSignedOut                       = "signedOut"
	EventNameSessionExpired                  = "sessionExpired"
	EventNameUserDeleted                     = "userDeleted"
	EventNameFederatedToIdentityPool         = "federatedToIdentityPool"
	EventNameFederationToIdentityPoolCleared = "federationToIdentityPoolCleared"
)

// HubPayload is one message on the auth channel of the hub.
type HubPayload struct {
	EventName string
	Data      any
}

// Hub is the SDK's named pub/sub boundary.
type Hub interface {
	Listen(fn func(HubPayload)) (remove func())
}

// EventHub is an in-process Hub. Payloads are delivered synchronously on the
// publishing goroutine, in subscription order.
type EventHub struct {
	mu        sync.Mutex
	order     []string
	listeners map[string]func(HubPayload)
}

func NewEventHub() *EventHub {
	return &EventHub{listeners: make(map[string]func(HubPayload))}
}

func (h *EventHub) Listen(fn func(HubPayload)) func() {
	id := uuid.NewString()
	h.mu.Lock()
	h.order = append(h.order, id)
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.listeners[id]; !ok {
			return
		}
		delete(h.listeners, id)
		h.order = slices.DeleteFunc(h.order, func(s string) bool { return s == id })
	}
}

// Publish delivers p to every listener.
func (h *EventHub) Publish(p HubPayload) {
	h.mu.Lock()
	fns := make([]func(HubPayload), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// translate maps a hub event onto the normalized event set. refetch reports
// whether the event carries a user that must be fetched.
func translate(name string) (ev authkit.Event, refetch bool, ok bool) {
	switch name {
	case EventNameSignedIn:
		return authkit.EventSignedIn, true, true
	case EventNameFederatedToIdentityPool:
		return authkit.EventFederationChanged, true, true
	case EventNameFederationToIdentityPoolCleared:
		return authkit.EventFederationChanged, false, true
	case EventNameSignedOut:
		return authkit.EventSignedOut, false, true
	case EventNameSessionExpired:
		return authkit.EventSessionExpired, false, true
	case EventNameUserDeleted:
		return authkit.EventUserDeleted, false, true
	}
	return 0, false, false
}
