package gcal

import (
	"errors"
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"taskcal/internal/model"
)

const (
	dateLayout = "2006-01-02"

	// statusCancelled marks a deleted item in a delta listing.
	statusCancelled = "cancelled"

	// taskIDProperty is the private extended property holding the id of
	// the task an event was pushed for.
	taskIDProperty = "taskId"

	timedTaskDuration = time.Hour
)

var errMissingStart = errors.New("missing start")

// EventFromTask translates a task into the remote event body. ok is false
// for tasks without a deadline, which have no remote presence.
//
// A date-only deadline becomes a one-day all-day event (end date is
// exclusive). A timed deadline becomes a one-hour window starting at the
// deadline, expressed in UTC.
func EventFromTask(t model.Task, loc *time.Location) (*calendar.Event, bool) {
	if !t.HasDeadline() {
		return nil, false
	}
	if loc == nil {
		loc = time.Local
	}
	ev := &calendar.Event{
		Summary:     t.Title,
		Description: t.Memo,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: t.ID},
		},
	}

	deadline := *t.Deadline
	if t.AllDay() {
		y, m, d := deadline.In(loc).Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		ev.Start = &calendar.EventDateTime{Date: day.Format(dateLayout)}
		ev.End = &calendar.EventDateTime{Date: day.AddDate(0, 0, 1).Format(dateLayout)}
		return ev, true
	}

	start := deadline.UTC()
	ev.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)}
	ev.End = &calendar.EventDateTime{DateTime: start.Add(timedTaskDuration).Format(time.RFC3339)}
	return ev, true
}

// eventFromRemote converts a live remote item. Items without an id or a
// usable start are rejected.
func eventFromRemote(item *calendar.Event, loc *time.Location) (model.RemoteEvent, error) {
	if item == nil || item.Id == "" {
		return model.RemoteEvent{}, errors.New("missing id")
	}
	start, allDay, err := parseEventTime(item.Start, loc)
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("start: %w", err)
	}

	end := start
	if allDay {
		end = start.AddDate(0, 0, 1)
	}
	if item.End != nil {
		if e, _, err := parseEventTime(item.End, loc); err == nil && !e.Before(start) {
			end = e
		}
	}

	ev := model.RemoteEvent{
		ID:       item.Id,
		Title:    item.Summary,
		Start:    start,
		End:      end,
		IsAllDay: allDay,
		Source:   model.SourceRemote,
	}
	if item.ExtendedProperties != nil {
		ev.TaskID = item.ExtendedProperties.Private[taskIDProperty]
	}
	return ev, nil
}

// parseEventTime reads either {date} (all-day, local midnight in loc) or
// {dateTime} (RFC 3339).
func parseEventTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, errMissingStart
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		if loc == nil {
			loc = time.Local
		}
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, errMissingStart
}
