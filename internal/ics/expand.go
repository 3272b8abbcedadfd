package ics

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

const DefaultMaxOccurrences = 5000

// ExpandOptions bounds recurrence expansion.
type ExpandOptions struct {
	// Location is the display timezone; nil means UTC.
	Location *time.Location

	// From and To are the half-open window [From, To).
	From time.Time
	To   time.Time

	// MaxOccurrences caps instances per UID; zero uses DefaultMaxOccurrences.
	MaxOccurrences int
}

// ExpandResult lists concrete instances sorted by start, then id.
type ExpandResult struct {
	Events    []model.RemoteEvent
	Truncated []string
}

// Expand turns parsed VEVENTs into concrete events inside the window. It
// applies RRULE, EXDATE and RECURRENCE-ID overrides; cancelled instances are
// dropped.
func Expand(events []VEvent, opts ExpandOptions) (ExpandResult, error) {
	var res ExpandResult
	if opts.To.Before(opts.From) {
		return res, errors.New("ics: expand window ends before it starts")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = DefaultMaxOccurrences
	}

	type uidKey struct{ source, uid string }
	bases := make(map[uidKey][]VEvent)
	overrides := make(map[uidKey][]VEvent)
	var order []uidKey
	for _, ev := range events {
		k := uidKey{ev.Source.ID, ev.UID}
		if ev.IsOverride() {
			overrides[k] = append(overrides[k], ev)
			continue
		}
		if _, seen := bases[k]; !seen {
			order = append(order, k)
		}
		bases[k] = append(bases[k], ev)
	}

	for _, k := range order {
		ov := overrides[k]
		used := make(map[int]bool)
		for _, base := range bases[k] {
			out, capped := expandOne(base, ov, used, opts)
			if capped {
				res.Truncated = append(res.Truncated, k.uid)
				appLog.Warn("ics: occurrences truncated", "uid", k.uid, "cap", opts.MaxOccurrences)
			}
			res.Events = append(res.Events, out...)
		}
		// Overrides that moved an instance into the window from outside it.
		for i, o := range ov {
			if used[i] || o.Cancelled || excluded(bases[k], *o.RecurrenceID) {
				continue
			}
			if overlaps(o.Start, o.End, opts.From, opts.To) {
				res.Events = append(res.Events, toEvent(o, o.Start, o.End, *o.RecurrenceID, opts.Location))
			}
		}
	}

	slices.SortStableFunc(res.Events, func(a, b model.RemoteEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return res, nil
}

func expandOne(ev VEvent, overrides []VEvent, used map[int]bool, opts ExpandOptions) ([]model.RemoteEvent, bool) {
	var out []model.RemoteEvent

	emit := func(start, end time.Time) {
		if i, o, ok := findOverride(overrides, start); ok {
			used[i] = true
			if o.Cancelled || !overlaps(o.Start, o.End, opts.From, opts.To) {
				return
			}
			out = append(out, toEvent(o, o.Start, o.End, start, opts.Location))
			return
		}
		if overlaps(start, end, opts.From, opts.To) {
			out = append(out, toEvent(ev, start, end, start, opts.Location))
		}
	}

	if ev.Cancelled {
		return nil, false
	}
	if ev.RRule == "" {
		emit(ev.Start, ev.End)
		return out, false
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics: invalid RRULE", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Instances starting before From can still overlap it.
	dur := ev.End.Sub(ev.Start)
	days := calendarDays(ev.Start, ev.End)
	from := opts.From.Add(-dur).In(ev.Start.Location())
	to := opts.To.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	capped := false
	if len(starts) > opts.MaxOccurrences {
		starts = starts[:opts.MaxOccurrences]
		capped = true
	}
	for _, s := range starts {
		if ev.AllDay {
			emit(s, s.AddDate(0, 0, days))
		} else {
			emit(s, s.Add(dur))
		}
	}
	return out, capped
}

func findOverride(overrides []VEvent, start time.Time) (int, VEvent, bool) {
	for i, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			return i, o, true
		}
	}
	return -1, VEvent{}, false
}

func excluded(bases []VEvent, rid time.Time) bool {
	for _, b := range bases {
		for _, ex := range b.ExDates {
			if ex.Equal(rid) {
				return true
			}
		}
	}
	return false
}

func toEvent(ev VEvent, start, end, instance time.Time, loc *time.Location) model.RemoteEvent {
	return model.RemoteEvent{
		ID:       fmt.Sprintf("ics:%s:%s:%s", ev.Source.ID, ev.UID, instance.UTC().Format("20060102T150405Z")),
		Title:    ev.Summary,
		Start:    start.In(loc),
		End:      end.In(loc),
		IsAllDay: ev.AllDay,
		Source:   model.SourceICS,
	}
}

// overlaps treats [s, e) against [from, to); a point event overlaps when
// its instant lies inside the window.
func overlaps(s, e, from, to time.Time) bool {
	if !e.After(s) {
		return !s.Before(from) && s.Before(to)
	}
	return s.Before(to) && e.After(from)
}

func calendarDays(start, end time.Time) int {
	a := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if d := int(b.Sub(a).Hours() / 24); d > 0 {
		return d
	}
	return 1
}
