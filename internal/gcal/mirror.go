package gcal

import (
	"slices"
	"strings"
	"sync"
	"time"

	"taskcal/internal/model"
)

// Mirror is the local copy of the remote calendar built from pull results.
type Mirror struct {
	mu     sync.RWMutex
	events map[string]model.RemoteEvent
}

func NewMirror() *Mirror {
	return &Mirror{events: make(map[string]model.RemoteEvent)}
}

// Apply merges a pull result. A full result replaces the mirror; a delta
// upserts live items and drops cancelled ids.
func (m *Mirror) Apply(res PullResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.Full {
		m.events = make(map[string]model.RemoteEvent, len(res.Events))
	}
	for _, id := range res.Deleted {
		delete(m.events, id)
	}
	for _, ev := range res.Events {
		m.events[ev.ID] = ev
	}
}

// Get returns the mirrored event with id.
func (m *Mirror) Get(id string) (model.RemoteEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	return ev, ok
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Events returns a snapshot ordered by start, then id.
func (m *Mirror) Events() []model.RemoteEvent {
	m.mu.RLock()
	out := make([]model.RemoteEvent, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	m.mu.RUnlock()
	sortEvents(out)
	return out
}

// Between returns the snapshot events overlapping [from, to).
func (m *Mirror) Between(from, to time.Time) []model.RemoteEvent {
	all := m.Events()
	out := all[:0]
	for _, ev := range all {
		end := ev.End
		if !end.After(ev.Start) {
			end = ev.Start.Add(time.Nanosecond)
		}
		if ev.Start.Before(to) && end.After(from) {
			out = append(out, ev)
		}
	}
	return out
}

func sortEvents(events []model.RemoteEvent) {
	slices.SortFunc(events, func(a, b model.RemoteEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
