package monthcache

import (
	"errors"
	"sync"
)

// ErrStale reports that a newer request for the same scope has started.
var ErrStale = errors.New("monthcache: superseded by a newer request")

// Latest hands out request tickets per scope. Only the most recent ticket
// of a scope is current; results obtained under an older ticket must be
// discarded.
type Latest struct {
	mu  sync.Mutex
	seq map[string]uint64
}

func NewLatest() *Latest {
	return &Latest{seq: make(map[string]uint64)}
}

// Ticket identifies one request within a scope.
type Ticket struct {
	l     *Latest
	scope string
	n     uint64
}

// Begin starts a request in scope, superseding earlier ones.
func (l *Latest) Begin(scope string) Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq[scope]++
	return Ticket{l: l, scope: scope, n: l.seq[scope]}
}

// Current reports whether no newer ticket exists for the scope.
func (t Ticket) Current() bool {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return t.l.seq[t.scope] == t.n
}

// Check returns ErrStale if the ticket has been superseded.
func (t Ticket) Check() error {
	if !t.Current() {
		return ErrStale
	}
	return nil
}
