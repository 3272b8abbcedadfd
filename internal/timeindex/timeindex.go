// Package timeindex buckets tasks and events by local calendar day.
//
// Everything here is pure: no I/O, no shared state, safe to call from any
// goroutine.
package timeindex

import (
	"slices"
	"sort"
	"time"

	"taskcal/internal/model"
)

// DateKeyLayout is the YYYY-MM-DD form used for bucket keys.
const DateKeyLayout = "2006-01-02"

// DateKey returns the local date key of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateKeyLayout)
}

// Index maps date keys to the tasks due on that day.
type Index map[string][]model.Task

// Bucket places every task with a deadline under the date key of that
// deadline in loc. Within a day tasks are ordered by deadline ascending;
// ties keep input order.
func Bucket(tasks []model.Task, loc *time.Location) Index {
	dated := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.HasDeadline() {
			dated = append(dated, t)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Deadline.Before(*dated[j].Deadline)
	})

	idx := make(Index)
	for _, t := range dated {
		key := DateKey(*t.Deadline, loc)
		idx[key] = append(idx[key], t)
	}
	return idx
}

// Day returns the tasks due on the local day containing t.
func (idx Index) Day(t time.Time, loc *time.Location) []model.Task {
	return idx[DateKey(t, loc)]
}

// Keys returns the date keys in ascending order.
func (idx Index) Keys() []string {
	keys := make([]string, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Flatten returns every bucketed task, day by day in key order.
func (idx Index) Flatten() []model.Task {
	var out []model.Task
	for _, k := range idx.Keys() {
		out = append(out, idx[k]...)
	}
	return out
}

// EventIndex maps date keys to the events covering that day.
type EventIndex map[string][]model.RemoteEvent

// BucketEvents lists each event under every local day it covers. A
// multi-day event appears on each of its days. Within a day events are
// ordered by start ascending; ties keep input order.
func BucketEvents(events []model.RemoteEvent, loc *time.Location) EventIndex {
	if loc == nil {
		loc = time.Local
	}
	sorted := slices.Clone(events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	idx := make(EventIndex)
	for _, ev := range sorted {
		first, last := DaySpan(ev, loc)
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			key := d.Format(DateKeyLayout)
			idx[key] = append(idx[key], ev)
		}
	}
	return idx
}

// DaySpan returns the first and last local day an event covers, as UTC
// midnights so day arithmetic is immune to DST shifts. End is treated as
// exclusive; a zero-length event covers its start day.
func DaySpan(ev model.RemoteEvent, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	first := CivilDay(ev.Start, loc)
	if !ev.End.After(ev.Start) {
		return first, first
	}
	last := CivilDay(ev.End.Add(-time.Nanosecond), loc)
	if last.Before(first) {
		last = first
	}
	return first, last
}

// CivilDay returns the local calendar date of t as a UTC midnight.
func CivilDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
