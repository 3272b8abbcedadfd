// Package gcal mirrors a remote calendar through token-based incremental
// sync and pushes task deadlines to it as events.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

const (
	DefaultCalendarID = "primary"
	DefaultLookback   = 365 * 24 * time.Hour
	DefaultMaxResults = 2500
)

// Options configures a Client.
type Options struct {
	CalendarID string

	// Endpoint overrides the service base path, e.g. an httptest server URL
	// with a trailing slash.
	Endpoint string

	// HTTPClient is the transport. Authorization is added per call from
	// Tokens, so this client must not inject credentials of its own.
	HTTPClient *http.Client

	Tokens  TokenProvider
	Cursors *CursorStore

	// Location resolves all-day dates.
	Location *time.Location

	// Lookback bounds a full listing: timeMin = now - Lookback.
	Lookback time.Duration

	MaxResults int64

	Now func() time.Time
}

// PullResult is the outcome of one complete (all pages) pull.
type PullResult struct {
	// Full is true when the pull was a full listing rather than a delta.
	// A full result replaces the local mirror.
	Full bool

	// Events holds live items in service order.
	Events []model.RemoteEvent

	// Deleted holds ids of cancelled items.
	Deleted []string

	// Skipped counts malformed items dropped from the result.
	Skipped int

	// Cursor is the cursor persisted after the final page ("" if the
	// service returned none).
	Cursor string
}

// Client talks to the remote calendar service.
type Client struct {
	svc        *calendar.Service
	calendarID string
	tokens     TokenProvider
	cursors    *CursorStore
	loc        *time.Location
	lookback   time.Duration
	maxResults int64
	now        func() time.Time

	// pullMu serializes pulls so the persisted cursor has one writer.
	pullMu sync.Mutex
}

// New builds a Client. Cursors is required.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Cursors == nil {
		return nil, errors.New("gcal: cursor store is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	copts := []option.ClientOption{option.WithHTTPClient(hc)}
	if opts.Endpoint != "" {
		copts = append(copts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := calendar.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: new service: %w", err)
	}

	c := &Client{
		svc:        svc,
		calendarID: opts.CalendarID,
		tokens:     opts.Tokens,
		cursors:    opts.Cursors,
		loc:        opts.Location,
		lookback:   opts.Lookback,
		maxResults: opts.MaxResults,
		now:        opts.Now,
	}
	if c.calendarID == "" {
		c.calendarID = DefaultCalendarID
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.lookback <= 0 {
		c.lookback = DefaultLookback
	}
	if c.maxResults <= 0 || c.maxResults > DefaultMaxResults {
		c.maxResults = DefaultMaxResults
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Pull fetches remote changes. With a stored cursor it requests a delta;
// without one it performs a full listing bounded by the lookback window,
// deleted items included. All pages are consumed before the final page's
// sync token is persisted; on any failure nothing is persisted and the
// partial result is discarded.
//
// A rejected cursor is cleared and reported as ErrCursorInvalid; the next
// Pull performs a full listing.
func (c *Client) Pull(ctx context.Context) (PullResult, error) {
	const op = "pull"

	c.pullMu.Lock()
	defer c.pullMu.Unlock()

	tok, err := bearer(ctx, c.tokens, op)
	if err != nil {
		return PullResult{}, err
	}
	cursor, err := c.cursors.Load()
	if err != nil {
		return PullResult{}, &Error{Op: op, Kind: ErrTransient, Err: fmt.Errorf("load cursor: %w", err)}
	}

	res := PullResult{Full: cursor == ""}
	timeMin := c.now().Add(-c.lookback).Format(time.RFC3339)
	pageToken := ""
	pages := 0

	for {
		call := c.svc.Events.List(c.calendarID).
			SingleEvents(true).
			MaxResults(c.maxResults).
			Context(ctx)
		if cursor != "" {
			call = call.SyncToken(cursor)
		} else {
			call = call.ShowDeleted(true).TimeMin(timeMin)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		call.Header().Set("Authorization", "Bearer "+tok)

		page, err := call.Do()
		if err != nil {
			if cursor != "" && cursorRejected(err) {
				if cerr := c.cursors.Clear(); cerr != nil {
					appLog.Error("gcal: clear rejected cursor failed", cerr)
				}
				appLog.Warn("gcal: sync cursor rejected; next pull is a full listing", "calendar", c.calendarID)
				return PullResult{}, &Error{Op: op, Kind: ErrCursorInvalid, Err: err}
			}
			return PullResult{}, classify(op, err)
		}
		pages++

		for _, item := range page.Items {
			if item == nil {
				res.Skipped++
				continue
			}
			if item.Status == statusCancelled {
				if item.Id != "" {
					res.Deleted = append(res.Deleted, item.Id)
				}
				continue
			}
			ev, err := eventFromRemote(item, c.loc)
			if err != nil {
				res.Skipped++
				appLog.Warn("gcal: skipping malformed item", "id", item.Id, "reason", err.Error())
				continue
			}
			res.Events = append(res.Events, ev)
		}

		if page.NextPageToken == "" {
			res.Cursor = page.NextSyncToken
			break
		}
		if page.NextPageToken == pageToken {
			return PullResult{}, &Error{Op: op, Kind: ErrTransient, Err: errors.New("page token did not advance")}
		}
		pageToken = page.NextPageToken
	}

	if res.Cursor != "" {
		if err := c.cursors.Save(res.Cursor); err != nil {
			return PullResult{}, &Error{Op: op, Kind: ErrTransient, Err: fmt.Errorf("save cursor: %w", err)}
		}
	}

	appLog.Info("gcal: pull completed",
		"calendar", c.calendarID,
		"full", res.Full,
		"pages", pages,
		"events", len(res.Events),
		"deleted", len(res.Deleted),
		"skipped", res.Skipped,
	)
	return res, nil
}

// Push creates the remote event for a task and returns its id. A task
// without a deadline is a no-op and returns "".
func (c *Client) Push(ctx context.Context, t model.Task) (string, error) {
	const op = "push"
	body, ok := EventFromTask(t, c.loc)
	if !ok {
		return "", nil
	}
	tok, err := bearer(ctx, c.tokens, op)
	if err != nil {
		return "", err
	}

	call := c.svc.Events.Insert(c.calendarID, body).Context(ctx)
	call.Header().Set("Authorization", "Bearer "+tok)
	created, err := call.Do()
	if err != nil {
		return "", classify(op, err)
	}
	if created == nil || created.Id == "" {
		return "", &Error{Op: op, Kind: ErrTransient, Err: errors.New("created event has no id")}
	}
	return created.Id, nil
}

// Update replaces the remote event with the task's current state. A task
// without a deadline is a no-op.
func (c *Client) Update(ctx context.Context, remoteEventID string, t model.Task) error {
	const op = "update"
	body, ok := EventFromTask(t, c.loc)
	if !ok {
		return nil
	}
	tok, err := bearer(ctx, c.tokens, op)
	if err != nil {
		return err
	}

	call := c.svc.Events.Update(c.calendarID, remoteEventID, body).Context(ctx)
	call.Header().Set("Authorization", "Bearer "+tok)
	if _, err := call.Do(); err != nil {
		return classify(op, err)
	}
	return nil
}

// Remove deletes a remote event.
func (c *Client) Remove(ctx context.Context, remoteEventID string) error {
	const op = "remove"
	tok, err := bearer(ctx, c.tokens, op)
	if err != nil {
		return err
	}

	call := c.svc.Events.Delete(c.calendarID, remoteEventID).Context(ctx)
	call.Header().Set("Authorization", "Bearer "+tok)
	if err := call.Do(); err != nil {
		return classify(op, err)
	}
	return nil
}
