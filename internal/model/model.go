package model

import (
	"fmt"
	"time"
)

// DeadlineDetails refines how a task's deadline is interpreted.
type DeadlineDetails struct {
	// IsTaskDeadlineTimeEnabled is false for date-only (all-day) deadlines.
	IsTaskDeadlineTimeEnabled bool `json:"isTaskDeadlineTimeEnabled"`

	// PeriodStart, if set, marks the first day of a multi-day task. It only
	// affects local layout; the remote event mirrors the deadline alone.
	PeriodStart *time.Time `json:"periodStart,omitempty"`
}

// Task is owned by the task-management side and read-only to the calendar
// core. A task with a nil Deadline has no calendar presence.
type Task struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Memo            string          `json:"memo"`
	Deadline        *time.Time      `json:"deadline"`
	DeadlineDetails DeadlineDetails `json:"deadlineDetails"`
	CompletedAt     *time.Time      `json:"completedAt"`
}

// HasDeadline reports whether the task appears on the calendar.
func (t Task) HasDeadline() bool {
	return t.Deadline != nil && !t.Deadline.IsZero()
}

// AllDay reports whether the deadline is date-only.
func (t Task) AllDay() bool {
	return !t.DeadlineDetails.IsTaskDeadlineTimeEnabled
}

// Event sources.
const (
	SourceRemote = "remote"
	SourceTask   = "task"
	SourceICS    = "ics"
)

// RemoteEvent is a calendar event as seen by the layout and index code.
// Events produced by the remote service are immutable except through
// explicit create/update/delete calls.
type RemoteEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	IsAllDay bool      `json:"isAllDay"`

	// TaskID is the back-reference written into events pushed for a task.
	TaskID string `json:"taskId,omitempty"`

	// Source is one of SourceRemote, SourceTask or SourceICS.
	Source string `json:"source,omitempty"`
}

// LayoutSlot is the placement of one event inside one visible week row.
// Columns are inclusive day offsets from the week's first day (0..6).
type LayoutSlot struct {
	EventID   string `json:"eventId"`
	WeekIndex int    `json:"weekIndex"`
	Lane      int    `json:"lane"`
	StartCol  int    `json:"startCol"`
	EndCol    int    `json:"endCol"`
}

// Link associates a task with the remote event created on its behalf.
type Link struct {
	TaskID        string `json:"taskId"`
	RemoteEventID string `json:"remoteEventId"`
}

// YearMonth identifies a visible month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t in t's location.
func MonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("model: invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

func (m YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// First returns midnight of the first day of the month in loc.
func (m YearMonth) First(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// Range returns [first day 00:00, first day of next month 00:00) in loc.
func (m YearMonth) Range(loc *time.Location) (time.Time, time.Time) {
	first := m.First(loc)
	return first, first.AddDate(0, 1, 0)
}

func (m YearMonth) Next() YearMonth {
	return MonthOf(m.First(time.UTC).AddDate(0, 1, 0))
}

func (m YearMonth) Prev() YearMonth {
	return MonthOf(m.First(time.UTC).AddDate(0, -1, 0))
}
