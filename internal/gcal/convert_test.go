package gcal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"

	"taskcal/internal/model"
)

func TestEventFromTaskAllDayUsesLocalDate(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 2024-03-10T16:00Z is 2024-03-11 01:00 in Seoul.
	deadline := time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC)
	body, ok := EventFromTask(model.Task{ID: "t", Deadline: &deadline}, seoul)
	require.True(t, ok)
	assert.Equal(t, "2024-03-11", body.Start.Date)
	assert.Equal(t, "2024-03-12", body.End.Date)
	assert.Empty(t, body.Start.DateTime)
}

func TestEventFromRemoteDefaults(t *testing.T) {
	ev, err := eventFromRemote(&calendar.Event{Id: "x", Start: &calendar.EventDateTime{Date: "2024-03-10"}}, time.UTC)
	require.NoError(t, err)
	assert.True(t, ev.IsAllDay)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), ev.End)

	_, err = eventFromRemote(&calendar.Event{Start: &calendar.EventDateTime{Date: "2024-03-10"}}, time.UTC)
	assert.Error(t, err)

	_, err = eventFromRemote(&calendar.Event{Id: "y", Start: &calendar.EventDateTime{DateTime: "not a time"}}, time.UTC)
	assert.Error(t, err)

	ev, err = eventFromRemote(&calendar.Event{
		Id:                 "z",
		Start:              &calendar.EventDateTime{DateTime: "2024-03-10T09:00:00Z"},
		End:                &calendar.EventDateTime{DateTime: "2024-03-10T08:00:00Z"},
		ExtendedProperties: &calendar.EventExtendedProperties{Private: map[string]string{"taskId": "t9"}},
	}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ev.Start, ev.End, "end before start collapses to a point")
	assert.Equal(t, "t9", ev.TaskID)
}
