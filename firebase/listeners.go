package firebase

import (
	"net/url"
	"slices"
	"sync"
)

// StateListeners is the listener registry behind AddStateDidChangeListener
// for Auth implementations. The zero value is ready to use.
type StateListeners struct {
	mu   sync.Mutex
	fns  map[uint64]func(*UserRecord)
	next uint64
}

// Add registers fn and returns a function that removes it.
func (l *StateListeners) Add(fn func(*UserRecord)) (remove func()) {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(*UserRecord))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// Notify calls every listener in registration order, each with its own copy
// of rec. Callers must not hold their own locks.
func (l *StateListeners) Notify(rec *UserRecord) {
	l.mu.Lock()
	ids := make([]uint64, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(*UserRecord), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(CopyRecord(rec))
	}
}

// CopyRecord returns a deep copy of rec, or nil.
func CopyRecord(rec *UserRecord) *UserRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.ProviderData = slices.Clone(rec.ProviderData)
	return &out
}

// OOBCode returns the oobCode parameter of an emailed action link.
func OOBCode(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("oobCode")
}
