package ics

import (
	"context"
	"errors"
	"time"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

// monthPadding widens a month so leading and trailing grid days are covered.
const monthPadding = 7

// Feeds loads every configured subscription for a month.
type Feeds struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
}

func NewFeeds(fetcher *Fetcher, sources []Source, loc *time.Location) *Feeds {
	if loc == nil {
		loc = time.UTC
	}
	return &Feeds{fetcher: fetcher, sources: sources, loc: loc}
}

func (f *Feeds) Len() int {
	return len(f.sources)
}

// Month returns feed instances overlapping the month plus a week on each
// side. A source that fails is skipped; the call errors only when every
// source failed.
func (f *Feeds) Month(ctx context.Context, month model.YearMonth) ([]model.RemoteEvent, error) {
	if len(f.sources) == 0 {
		return nil, nil
	}

	first, next := month.Range(f.loc)
	from := first.AddDate(0, 0, -monthPadding)
	to := next.AddDate(0, 0, monthPadding)

	results, errs := f.fetcher.FetchAll(ctx, f.sources)
	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var parsed []VEvent
	for _, res := range results {
		events, err := Parse(res.Source, res.Body, f.loc)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, events...)
	}

	out, err := Expand(parsed, ExpandOptions{
		Location: f.loc,
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, err
	}
	appLog.Info("ics month loaded", "month", month.String(), "sources", len(results), "events", len(out.Events))
	return out.Events, nil
}
