package timeindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func ids(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestBucketOrdersByDeadlineThenInput(t *testing.T) {
	tasks := []model.Task{
		{ID: "late", Deadline: at("2024-03-10T18:00:00Z")},
		{ID: "none"},
		{ID: "early", Deadline: at("2024-03-10T08:00:00Z")},
		{ID: "tie-a", Deadline: at("2024-03-10T12:00:00Z")},
		{ID: "tie-b", Deadline: at("2024-03-10T12:00:00Z")},
		{ID: "next", Deadline: at("2024-03-11T00:30:00Z")},
	}

	idx := Bucket(tasks, time.UTC)

	assert.Equal(t, []string{"2024-03-10", "2024-03-11"}, idx.Keys())
	assert.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, ids(idx["2024-03-10"]))
	assert.Equal(t, []string{"next"}, ids(idx.Day(*at("2024-03-11T23:00:00Z"), time.UTC)))
}

func TestBucketUsesLocalDate(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 2024-03-10T20:00Z is already 2024-03-11 in Seoul.
	idx := Bucket([]model.Task{{ID: "t1", Deadline: at("2024-03-10T20:00:00Z")}}, seoul)
	assert.Equal(t, []string{"2024-03-11"}, idx.Keys())
}

func TestBucketIsIdempotent(t *testing.T) {
	tasks := []model.Task{
		{ID: "b", Deadline: at("2024-03-12T09:00:00Z")},
		{ID: "a", Deadline: at("2024-03-10T09:00:00Z")},
		{ID: "c", Deadline: at("2024-03-10T09:00:00Z")},
	}
	first := Bucket(tasks, time.UTC)
	second := Bucket(first.Flatten(), time.UTC)
	assert.Equal(t, first, second)
}

func TestBucketEventsCoversEveryDay(t *testing.T) {
	events := []model.RemoteEvent{
		{ID: "trip", Start: *at("2024-03-09T00:00:00Z"), End: *at("2024-03-12T00:00:00Z"), IsAllDay: true},
		{ID: "call", Start: *at("2024-03-10T09:00:00Z"), End: *at("2024-03-10T10:00:00Z")},
		{ID: "point", Start: *at("2024-03-11T07:00:00Z"), End: *at("2024-03-11T07:00:00Z")},
	}

	idx := BucketEvents(events, time.UTC)

	assert.Len(t, idx, 3)
	assert.Len(t, idx["2024-03-09"], 1)
	assert.Equal(t, "trip", idx["2024-03-10"][0].ID)
	assert.Equal(t, "call", idx["2024-03-10"][1].ID)
	assert.Equal(t, "point", idx["2024-03-11"][1].ID)
	assert.Empty(t, idx["2024-03-12"])
}
