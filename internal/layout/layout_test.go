package layout

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

var march2024 = model.YearMonth{Year: 2024, Month: time.March}

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

// allDay builds an all-day event covering [first, last] inclusive.
func allDay(id string, first, last time.Time) model.RemoteEvent {
	return model.RemoteEvent{ID: id, Start: first, End: last.AddDate(0, 0, 1), IsAllDay: true}
}

func slotsFor(slots []model.LayoutSlot, week int) map[string]model.LayoutSlot {
	out := make(map[string]model.LayoutSlot)
	for _, s := range slots {
		if s.WeekIndex == week {
			out[s.EventID] = s
		}
	}
	return out
}

func TestNewGridMondayStart(t *testing.T) {
	g := NewGrid(march2024, time.Monday, time.UTC)
	require.Len(t, g.WeekStarts, 5)
	assert.Equal(t, day(time.February, 26), g.Start())
	assert.Equal(t, day(time.March, 31), g.End())
}

func TestNewGridSundayStart(t *testing.T) {
	g := NewGrid(march2024, time.Sunday, time.UTC)
	require.Len(t, g.WeekStarts, 6)
	assert.Equal(t, day(time.February, 25), g.Start())
	assert.Equal(t, day(time.April, 6), g.End())
}

func TestLayoutStackingScenario(t *testing.T) {
	events := []model.RemoteEvent{
		allDay("long", day(time.March, 4), day(time.March, 10)),
		allDay("mid", day(time.March, 6), day(time.March, 8)),
		allDay("tail", day(time.March, 9), day(time.March, 10)),
	}

	week := slotsFor(Layout(events, march2024, time.UTC), 1)

	require.Len(t, week, 3)
	assert.Equal(t, model.LayoutSlot{EventID: "long", WeekIndex: 1, Lane: 0, StartCol: 0, EndCol: 6}, week["long"])
	assert.Equal(t, model.LayoutSlot{EventID: "mid", WeekIndex: 1, Lane: 1, StartCol: 2, EndCol: 4}, week["mid"])
	assert.Equal(t, model.LayoutSlot{EventID: "tail", WeekIndex: 1, Lane: 1, StartCol: 5, EndCol: 6}, week["tail"])
}

func TestLayoutLongerEventClaimsLowerLane(t *testing.T) {
	events := []model.RemoteEvent{
		allDay("short", day(time.March, 11), day(time.March, 11)),
		allDay("long", day(time.March, 11), day(time.March, 14)),
	}
	week := slotsFor(Layout(events, march2024, time.UTC), 2)
	assert.Equal(t, 0, week["long"].Lane)
	assert.Equal(t, 1, week["short"].Lane)
}

func TestLayoutTieKeepsInputOrder(t *testing.T) {
	events := []model.RemoteEvent{
		allDay("b", day(time.March, 12), day(time.March, 13)),
		allDay("a", day(time.March, 12), day(time.March, 13)),
	}
	week := slotsFor(Layout(events, march2024, time.UTC), 2)
	assert.Equal(t, 0, week["b"].Lane)
	assert.Equal(t, 1, week["a"].Lane)
}

func TestLayoutClipsAtWeekBoundaries(t *testing.T) {
	// Covers the whole visible grid, including days outside March.
	events := []model.RemoteEvent{allDay("all", day(time.February, 20), day(time.April, 10))}

	slots := Layout(events, march2024, time.UTC)

	require.Len(t, slots, 5)
	for i, s := range slots {
		assert.Equal(t, i, s.WeekIndex)
		assert.Equal(t, 0, s.StartCol)
		assert.Equal(t, 6, s.EndCol)
		assert.Equal(t, 0, s.Lane)
	}
}

func TestLayoutCrossWeekEventReappears(t *testing.T) {
	events := []model.RemoteEvent{allDay("x", day(time.March, 9), day(time.March, 12))}
	slots := Layout(events, march2024, time.UTC)
	require.Len(t, slots, 2)
	assert.Equal(t, model.LayoutSlot{EventID: "x", WeekIndex: 1, StartCol: 5, EndCol: 6}, slots[0])
	assert.Equal(t, model.LayoutSlot{EventID: "x", WeekIndex: 2, StartCol: 0, EndCol: 1}, slots[1])
}

func TestLayoutPointEventOccupiesOneColumn(t *testing.T) {
	at := time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC)
	events := []model.RemoteEvent{
		{ID: "point", Start: at, End: at},
		allDay("span", day(time.March, 12), day(time.March, 14)),
	}
	week := slotsFor(Layout(events, march2024, time.UTC), 2)
	assert.Equal(t, 2, week["point"].StartCol)
	assert.Equal(t, 2, week["point"].EndCol)
	assert.Equal(t, 0, week["span"].Lane)
	assert.Equal(t, 1, week["point"].Lane)
}

func TestLayoutSkipsEventsOutsideGrid(t *testing.T) {
	events := []model.RemoteEvent{
		allDay("before", day(time.January, 1), day(time.January, 3)),
		{ID: "", Start: day(time.March, 5), End: day(time.March, 6)},
	}
	assert.Empty(t, Layout(events, march2024, time.UTC))
}

func TestLayoutUsesLocalDays(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 2024-03-10T20:00Z..2024-03-11T20:00Z is Mar 11 05:00 .. Mar 12 05:00 in Seoul.
	ev := model.RemoteEvent{
		ID:    "overnight",
		Start: time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 11, 20, 0, 0, 0, time.UTC),
	}
	slots := NewGrid(march2024, time.Monday, seoul).Layout([]model.RemoteEvent{ev})
	require.Len(t, slots, 1)
	assert.Equal(t, 2, slots[0].WeekIndex)
	assert.Equal(t, 0, slots[0].StartCol)
	assert.Equal(t, 1, slots[0].EndCol)
	assert.True(t, IsSpan(ev, seoul))
}

func randomEvents(r *rand.Rand, n int) []model.RemoteEvent {
	events := make([]model.RemoteEvent, 0, n)
	for i := 0; i < n; i++ {
		first := day(time.February, 24).AddDate(0, 0, r.Intn(42))
		last := first.AddDate(0, 0, r.Intn(10))
		events = append(events, allDay(fmt.Sprintf("e%d", i), first, last))
	}
	return events
}

func TestLayoutProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	g := NewGrid(march2024, time.Monday, time.UTC)

	for round := 0; round < 50; round++ {
		events := randomEvents(r, 1+r.Intn(25))

		slots := g.Layout(events)
		assert.Equal(t, slots, g.Layout(events), "layout must be deterministic")

		// No overlap inside a (week, lane).
		for i, a := range slots {
			for _, b := range slots[i+1:] {
				if a.WeekIndex == b.WeekIndex && a.Lane == b.Lane {
					overlap := a.StartCol <= b.EndCol && b.StartCol <= a.EndCol
					assert.False(t, overlap, "round %d: %+v overlaps %+v", round, a, b)
				}
			}
		}

		// Lane count equals the maximum column depth, which no lane
		// assignment can beat.
		lanes := LaneCount(slots, len(g.WeekStarts))
		for week := range g.WeekStarts {
			var depth [DaysPerWeek]int
			for _, s := range slots {
				if s.WeekIndex != week {
					continue
				}
				for c := s.StartCol; c <= s.EndCol; c++ {
					depth[c]++
				}
			}
			maxDepth := 0
			for _, d := range depth {
				maxDepth = max(maxDepth, d)
			}
			assert.Equal(t, maxDepth, lanes[week], "round %d week %d", round, week)
		}
	}
}
