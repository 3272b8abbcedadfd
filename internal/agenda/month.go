package agenda

import (
	"context"
	"slices"
	"strings"
	"time"

	"taskcal/internal/layout"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/timeindex"
)

// MonthView is everything a month grid needs, as structured data.
type MonthView struct {
	Month      string               `json:"month"`
	Timezone   string               `json:"timezone"`
	WeekStarts []string             `json:"weekStarts"`
	Events     []model.RemoteEvent  `json:"events"`
	Slots      []model.LayoutSlot   `json:"slots"`
	Lanes      []int                `json:"lanes"`
	Days       timeindex.Index      `json:"days"`
	EventDays  timeindex.EventIndex `json:"eventDays"`

	// Partial is set when the feeds could not be loaded.
	Partial bool `json:"partial,omitempty"`
}

// Month builds the view of one month. Within a scope only the latest call
// gets a result; superseded calls return monthcache.ErrStale.
func (s *Service) Month(ctx context.Context, scope string, month model.YearMonth) (MonthView, error) {
	ticket := s.latest.Begin("month:" + scope)

	grid := layout.NewGrid(month, s.firstWeekday, s.loc)
	from, to := grid.VisibleRange()
	tasks := s.Tasks()

	local := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		local[t.ID] = true
	}

	var events []model.RemoteEvent
	for _, ev := range s.mirror.Between(from, to) {
		owner := ev.TaskID
		if s.linker != nil {
			if id, ok := s.linker.TaskFor(ev.ID); ok {
				owner = id
			}
		}
		// A task's own remote event is shown through the task itself (its
		// day entry or period span), never a second time as an event.
		if owner != "" && local[owner] {
			continue
		}
		events = append(events, ev)
	}

	partial := false
	if s.feeds != nil {
		feedEvents, err := s.feeds.Get(ctx, month)
		switch {
		case ctx.Err() != nil:
			return MonthView{}, ctx.Err()
		case err != nil:
			appLog.Warn("agenda: feeds unavailable for month", "month", month.String(), "err", err)
			partial = true
		default:
			for _, ev := range feedEvents {
				if overlaps(ev, from, to) {
					events = append(events, ev)
				}
			}
		}
		s.feeds.Prefetch(context.WithoutCancel(ctx), month.Prev(), month.Next())
	}

	for _, ev := range taskSpans(tasks, s.loc) {
		if overlaps(ev, from, to) {
			events = append(events, ev)
		}
	}

	if err := ticket.Check(); err != nil {
		return MonthView{}, err
	}

	firstKey, lastKey := grid.Start().Format(timeindex.DateKeyLayout), grid.End().Format(timeindex.DateKeyLayout)
	days := timeindex.Bucket(tasks, s.loc)
	for k := range days {
		if k < firstKey || k > lastKey {
			delete(days, k)
		}
	}
	eventDays := timeindex.BucketEvents(events, s.loc)
	for k := range eventDays {
		if k < firstKey || k > lastKey {
			delete(eventDays, k)
		}
	}

	s.metrics.ObserveMonth(partial)

	// Timed events inside one day stay in EventDays; only spans take lanes.
	spans := make([]model.RemoteEvent, 0, len(events))
	for _, ev := range events {
		if layout.IsSpan(ev, s.loc) {
			spans = append(spans, ev)
		}
	}
	slots := grid.Layout(spans)
	weekStarts := make([]string, 0, len(grid.WeekStarts))
	for _, ws := range grid.WeekStarts {
		weekStarts = append(weekStarts, ws.Format(timeindex.DateKeyLayout))
	}

	return MonthView{
		Month:      month.String(),
		Timezone:   s.loc.String(),
		WeekStarts: weekStarts,
		Events:     events,
		Slots:      slots,
		Lanes:      layout.LaneCount(slots, len(grid.WeekStarts)),
		Days:       days,
		EventDays:  eventDays,
		Partial:    partial,
	}, nil
}

// taskSpans turns tasks with a period into all-day local spans from the
// period start through the deadline day. They are never pushed.
func taskSpans(tasks []model.Task, loc *time.Location) []model.RemoteEvent {
	var out []model.RemoteEvent
	for _, t := range tasks {
		ps := t.DeadlineDetails.PeriodStart
		if !t.HasDeadline() || ps == nil {
			continue
		}
		first := timeindex.CivilDay(*ps, loc)
		last := timeindex.CivilDay(*t.Deadline, loc)
		out = append(out, model.RemoteEvent{
			ID:       "task:" + t.ID,
			Title:    t.Title,
			Start:    time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc),
			End:      time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, loc),
			IsAllDay: true,
			TaskID:   t.ID,
			Source:   model.SourceTask,
		})
	}
	slices.SortFunc(out, func(a, b model.RemoteEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func overlaps(ev model.RemoteEvent, from, to time.Time) bool {
	end := ev.End
	if !end.After(ev.Start) {
		end = ev.Start.Add(time.Nanosecond)
	}
	return ev.Start.Before(to) && end.After(from)
}
