// Package agenda ties the task collection, the remote mirror and the ICS
// feeds together and serves month views.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskcal/internal/gcal"
	"taskcal/internal/linker"
	appLog "taskcal/internal/log"
	"taskcal/internal/metrics"
	"taskcal/internal/model"
	"taskcal/internal/monthcache"
	"taskcal/internal/store"
)

var (
	ErrTaskNotFound = errors.New("agenda: task not found")
	ErrInvalidTask  = errors.New("agenda: invalid task")
	ErrSyncDisabled = errors.New("agenda: remote sync disabled")
)

// Remote is the sync client surface the service drives.
type Remote interface {
	linker.Remote
	Pull(ctx context.Context) (gcal.PullResult, error)
}

// Options wires a Service. Store is required; Remote and Feeds are
// optional.
type Options struct {
	Store        store.Store
	Remote       Remote
	Feeds        monthcache.FetchFunc[[]model.RemoteEvent]
	Location     *time.Location
	FirstWeekday time.Weekday
	Now          func() time.Time

	// CacheMonths bounds the feed month cache; zero uses the default.
	CacheMonths int
	Metrics     *metrics.Metrics
}

type Service struct {
	kv           store.Store
	remote       Remote
	linker       *linker.Linker
	mirror       *gcal.Mirror
	feeds        *monthcache.Cache[[]model.RemoteEvent]
	latest       *monthcache.Latest
	loc          *time.Location
	firstWeekday time.Weekday
	now          func() time.Time
	metrics      *metrics.Metrics

	pullMu sync.Mutex

	mu       sync.RWMutex
	tasks    map[string]model.Task
	lastPull time.Time
}

// New loads persisted tasks and links.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("agenda: store is required")
	}
	s := &Service{
		kv:           opts.Store,
		remote:       opts.Remote,
		mirror:       gcal.NewMirror(),
		latest:       monthcache.NewLatest(),
		loc:          opts.Location,
		firstWeekday: opts.FirstWeekday,
		now:          opts.Now,
		metrics:      opts.Metrics,
		tasks:        make(map[string]model.Task),
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Feeds != nil {
		s.feeds = monthcache.NewSize(opts.Feeds, opts.CacheMonths)
	}

	var list []model.Task
	if _, err := store.LoadJSON(s.kv, store.KeyTasks, &list); err != nil {
		return nil, fmt.Errorf("agenda: load tasks: %w", err)
	}
	for _, t := range list {
		if t.ID != "" {
			s.tasks[t.ID] = t
		}
	}

	if s.remote != nil {
		l, err := linker.New(s.remote, s.kv)
		if err != nil {
			return nil, err
		}
		l.Adoptable = func(id string) bool {
			t, ok := s.Task(id)
			return ok && t.HasDeadline()
		}
		s.linker = l
	}

	appLog.Info("agenda ready", "tasks", len(s.tasks), "remote", s.remote != nil, "feeds", s.feeds != nil)
	return s, nil
}

// Tasks returns all tasks: dated ones by deadline, then undated ones, ties
// by id.
func (s *Service) Tasks() []model.Task {
	s.mu.RLock()
	out := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Task) int {
		switch {
		case a.HasDeadline() && !b.HasDeadline():
			return -1
		case !a.HasDeadline() && b.HasDeadline():
			return 1
		case a.HasDeadline() && b.HasDeadline():
			if c := a.Deadline.Compare(*b.Deadline); c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Service) Task(id string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// LinkState reports the remote link state of a task.
func (s *Service) LinkState(id string) linker.State {
	if s.linker == nil {
		return linker.Unlinked
	}
	return s.linker.State(id)
}

// SaveTask creates or replaces a task. An empty id gets a fresh one. The
// task is persisted before any remote call; a remote failure is returned
// alongside the saved task.
func (s *Service) SaveTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := validate(t); err != nil {
		return model.Task{}, err
	}

	s.mu.Lock()
	prev, existed := s.tasks[t.ID]
	s.tasks[t.ID] = t
	if err := s.persistLocked(); err != nil {
		if existed {
			s.tasks[t.ID] = prev
		} else {
			delete(s.tasks, t.ID)
		}
		s.mu.Unlock()
		return model.Task{}, err
	}
	s.mu.Unlock()

	if s.linker == nil {
		return t, nil
	}
	err := s.linker.TaskChanged(ctx, t)
	s.metrics.ObserveTaskSync("save", err)
	if err != nil {
		appLog.Warn("agenda: remote sync of task failed", "task", t.ID, "err", err)
		return t, err
	}
	return t, nil
}

// DeleteTask removes a task locally, then its remote event.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	prev, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	if err := s.persistLocked(); err != nil {
		s.tasks[id] = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if s.linker == nil {
		return nil
	}
	err := s.linker.TaskDeleted(ctx, id)
	s.metrics.ObserveTaskSync("delete", err)
	if err != nil {
		appLog.Warn("agenda: remote delete failed", "task", id, "err", err)
		return err
	}
	return nil
}

// Pull refreshes the mirror. A rejected cursor is retried once right away
// as a full listing.
func (s *Service) Pull(ctx context.Context) (gcal.PullResult, error) {
	if s.remote == nil {
		return gcal.PullResult{}, ErrSyncDisabled
	}
	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	started := s.now()
	res, err := s.remote.Pull(ctx)
	if errors.Is(err, gcal.ErrCursorInvalid) {
		appLog.Warn("agenda: sync cursor rejected; running full resync")
		res, err = s.remote.Pull(ctx)
	}
	s.metrics.ObservePull(res.Full, s.now().Sub(started), err)
	if err != nil {
		return gcal.PullResult{}, err
	}

	s.mirror.Apply(res)
	unlinked, adopted, err := s.linker.ObservePull(res)
	if err != nil {
		appLog.Error("agenda: persist links after pull failed", err)
	}

	s.mu.Lock()
	s.lastPull = s.now()
	s.mu.Unlock()

	appLog.Info("agenda pull applied",
		"full", res.Full,
		"events", len(res.Events),
		"deleted", len(res.Deleted),
		"skipped", res.Skipped,
		"unlinked", unlinked,
		"adopted", adopted,
		"mirror", s.mirror.Len(),
	)
	return res, nil
}

// LastPull returns when the mirror was last refreshed.
func (s *Service) LastPull() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPull
}

// Refresh pulls the remote calendar and drops cached feed months.
func (s *Service) Refresh(ctx context.Context) error {
	if s.feeds != nil {
		s.feeds.InvalidateAll()
	}
	if s.remote == nil {
		return nil
	}
	_, err := s.Pull(ctx)
	return err
}

func (s *Service) persistLocked() error {
	list := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	slices.SortFunc(list, func(a, b model.Task) int {
		return strings.Compare(a.ID, b.ID)
	})
	if err := store.SaveJSON(s.kv, store.KeyTasks, list); err != nil {
		return fmt.Errorf("agenda: persist tasks: %w", err)
	}
	return nil
}

func validate(t model.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	ps := t.DeadlineDetails.PeriodStart
	if ps == nil {
		return nil
	}
	if !t.HasDeadline() {
		return fmt.Errorf("%w: period start without deadline", ErrInvalidTask)
	}
	if ps.After(*t.Deadline) {
		return fmt.Errorf("%w: period start after deadline", ErrInvalidTask)
	}
	return nil
}
