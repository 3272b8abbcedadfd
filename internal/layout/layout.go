// Package layout assigns multi-day events to display lanes inside the
// week rows of a month grid.
//
// Lanes are assigned per week with a greedy interval coloring: events are
// sorted by start column, longer events first, and each takes the lowest
// lane whose previous occupant ends before it starts. The result depends
// only on the input slice (order included), never on map iteration.
package layout

import (
	"sort"
	"time"

	"taskcal/internal/model"
	"taskcal/internal/timeindex"
)

// DaysPerWeek is the number of columns in a week row.
const DaysPerWeek = 7

// Grid describes the week rows that make up a visible month.
type Grid struct {
	Month model.YearMonth

	// WeekStarts holds the first day of each row as a UTC midnight.
	WeekStarts []time.Time

	Location *time.Location
}

// NewGrid builds the rows covering every day of month, each row starting
// on firstWeekday. Rows may include leading/trailing days of the adjacent
// months.
func NewGrid(month model.YearMonth, firstWeekday time.Weekday, loc *time.Location) Grid {
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(month.Year, month.Month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	offset := (int(first.Weekday()) - int(firstWeekday) + DaysPerWeek) % DaysPerWeek
	start := first.AddDate(0, 0, -offset)

	g := Grid{Month: month, Location: loc}
	for ws := start; !ws.After(last); ws = ws.AddDate(0, 0, DaysPerWeek) {
		g.WeekStarts = append(g.WeekStarts, ws)
	}
	return g
}

// Start returns the first visible day (UTC midnight).
func (g Grid) Start() time.Time {
	if len(g.WeekStarts) == 0 {
		return time.Time{}
	}
	return g.WeekStarts[0]
}

// End returns the last visible day (UTC midnight).
func (g Grid) End() time.Time {
	if len(g.WeekStarts) == 0 {
		return time.Time{}
	}
	return g.WeekStarts[len(g.WeekStarts)-1].AddDate(0, 0, DaysPerWeek-1)
}

// VisibleRange returns the visible days as a half-open local time range,
// suitable for fetching events.
func (g Grid) VisibleRange() (time.Time, time.Time) {
	s, e := g.Start(), g.End().AddDate(0, 0, 1)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, g.Location),
		time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, g.Location)
}

type placement struct {
	order    int
	eventID  string
	startCol int
	endCol   int
}

// Layout places events into the month grid starting on Monday in loc.
func Layout(events []model.RemoteEvent, month model.YearMonth, loc *time.Location) []model.LayoutSlot {
	return NewGrid(month, time.Monday, loc).Layout(events)
}

// Layout computes one LayoutSlot per (event, week) pair. events must not be
// mutated while Layout runs; pass a snapshot.
func (g Grid) Layout(events []model.RemoteEvent) []model.LayoutSlot {
	type span struct {
		id          string
		first, last time.Time
	}
	spans := make([]span, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" || ev.Start.IsZero() {
			continue
		}
		first, last := timeindex.DaySpan(ev, g.Location)
		spans = append(spans, span{id: ev.ID, first: first, last: last})
	}

	var out []model.LayoutSlot
	for week, ws := range g.WeekStarts {
		we := ws.AddDate(0, 0, DaysPerWeek-1)

		placed := make([]placement, 0)
		for i, s := range spans {
			if s.last.Before(ws) || s.first.After(we) {
				continue
			}
			placed = append(placed, placement{
				order:    i,
				eventID:  s.id,
				startCol: clampCol(dayDiff(ws, s.first)),
				endCol:   clampCol(dayDiff(ws, s.last)),
			})
		}

		sort.SliceStable(placed, func(i, j int) bool {
			a, b := placed[i], placed[j]
			if a.startCol != b.startCol {
				return a.startCol < b.startCol
			}
			return a.endCol-a.startCol > b.endCol-b.startCol
		})

		out = append(out, assignLanes(week, placed)...)
	}
	return out
}

// assignLanes runs the greedy pass over placements already sorted by start
// column. Because starts are non-decreasing, a lane is free for p exactly
// when its last occupant ends before p.startCol.
func assignLanes(week int, placed []placement) []model.LayoutSlot {
	var laneEnds []int
	out := make([]model.LayoutSlot, 0, len(placed))
	for _, p := range placed {
		lane := -1
		for l, end := range laneEnds {
			if end < p.startCol {
				lane = l
				break
			}
		}
		if lane == -1 {
			lane = len(laneEnds)
			laneEnds = append(laneEnds, p.endCol)
		} else {
			laneEnds[lane] = p.endCol
		}
		out = append(out, model.LayoutSlot{
			EventID:   p.eventID,
			WeekIndex: week,
			Lane:      lane,
			StartCol:  p.startCol,
			EndCol:    p.endCol,
		})
	}
	return out
}

// LaneCount returns the number of lanes used in each week row.
func LaneCount(slots []model.LayoutSlot, weeks int) []int {
	counts := make([]int, weeks)
	for _, s := range slots {
		if s.WeekIndex >= 0 && s.WeekIndex < weeks && s.Lane+1 > counts[s.WeekIndex] {
			counts[s.WeekIndex] = s.Lane + 1
		}
	}
	return counts
}

// IsSpan reports whether an event belongs in the lane area: all-day events
// and anything crossing a day boundary.
func IsSpan(ev model.RemoteEvent, loc *time.Location) bool {
	if ev.IsAllDay {
		return true
	}
	first, last := timeindex.DaySpan(ev, loc)
	return last.After(first)
}

func dayDiff(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func clampCol(c int) int {
	if c < 0 {
		return 0
	}
	if c > DaysPerWeek-1 {
		return DaysPerWeek - 1
	}
	return c
}
