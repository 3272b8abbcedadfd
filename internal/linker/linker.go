// Package linker keeps the association between local tasks and the remote
// events pushed for them, and decides which remote call a task mutation
// needs.
//
// Per task the states are Unlinked, Linked and PendingDelete:
//
//	Unlinked -> Linked         deadline set, first push succeeded
//	Linked   -> Linked         deadline-relevant change, update in place
//	Linked   -> Unlinked       deadline cleared (one remove call) or remote
//	                           deletion observed by a pull (no call)
//	Linked   -> PendingDelete  task deleted, remove call in flight; the link
//	                           is dropped when the call returns, success or not
package linker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taskcal/internal/gcal"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/store"
)

// Remote is the subset of the sync client the linker drives.
type Remote interface {
	Push(ctx context.Context, t model.Task) (string, error)
	Update(ctx context.Context, remoteEventID string, t model.Task) error
	Remove(ctx context.Context, remoteEventID string) error
}

type State int

const (
	Unlinked State = iota
	Linked
	PendingDelete
)

func (s State) String() string {
	switch s {
	case Linked:
		return "linked"
	case PendingDelete:
		return "pending_delete"
	default:
		return "unlinked"
	}
}

// Linker applies task mutations to the remote calendar and maintains the
// persisted link table.
type Linker struct {
	remote Remote
	kv     store.Store

	// Adoptable, if set, limits pull adoption to tasks that exist locally and
	// still have a deadline.
	Adoptable func(taskID string) bool

	// opMu serializes mutations so one task never has two remote calls in
	// flight. mu guards the table and is never held across remote calls.
	opMu    sync.Mutex
	mu      sync.Mutex
	links   *Links
	pending map[string]string
}

// New loads the persisted link table from kv.
func New(remote Remote, kv store.Store) (*Linker, error) {
	links, err := LoadLinks(kv)
	if err != nil {
		return nil, err
	}
	return &Linker{
		remote:  remote,
		kv:      kv,
		links:   links,
		pending: make(map[string]string),
	}, nil
}

// State reports the link state of a task.
func (l *Linker) State(taskID string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[taskID]; ok {
		return PendingDelete
	}
	if _, ok := l.links.RemoteID(taskID); ok {
		return Linked
	}
	return Unlinked
}

// RemoteID returns the linked remote event id of a task.
func (l *Linker) RemoteID(taskID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.links.RemoteID(taskID)
}

// TaskFor returns the task linked to a remote event id.
func (l *Linker) TaskFor(remoteID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.links.TaskID(remoteID)
}

// Links returns a snapshot of the table.
func (l *Linker) Links() []model.Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.links.List()
}

// TaskChanged reconciles the remote calendar with a created or edited task.
// A failed push leaves the task Unlinked.
func (l *Linker) TaskChanged(ctx context.Context, t model.Task) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.State(t.ID) == PendingDelete {
		return nil
	}
	remoteID, linked := l.RemoteID(t.ID)

	if !t.HasDeadline() {
		if !linked {
			return nil
		}
		l.mu.Lock()
		l.links.RemoveTask(t.ID)
		saveErr := l.saveLocked()
		l.mu.Unlock()

		if err := l.remote.Remove(ctx, remoteID); err != nil && !errors.Is(err, gcal.ErrNotFound) {
			return fmt.Errorf("linker: remove event for cleared deadline of %s: %w", t.ID, err)
		}
		return saveErr
	}

	if linked {
		err := l.remote.Update(ctx, remoteID, t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, gcal.ErrNotFound) {
			return fmt.Errorf("linker: update %s: %w", t.ID, err)
		}
		appLog.Warn("linker: linked event vanished remotely; pushing again", "task", t.ID, "remote", remoteID)
		l.mu.Lock()
		l.links.RemoveTask(t.ID)
		l.mu.Unlock()
	}

	id, err := l.remote.Push(ctx, t)
	if err != nil {
		if linked {
			l.mu.Lock()
			_ = l.saveLocked()
			l.mu.Unlock()
		}
		return fmt.Errorf("linker: push %s: %w", t.ID, err)
	}
	if id == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.links.Set(t.ID, id); err != nil {
		appLog.Warn("linker: pushed event id already linked elsewhere", "task", t.ID, "remote", id)
		return fmt.Errorf("linker: link %s: %w", t.ID, err)
	}
	return l.saveLocked()
}

// TaskDeleted removes the remote event of a deleted task. The link is
// dropped whether or not the remove call succeeds.
func (l *Linker) TaskDeleted(ctx context.Context, taskID string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	remoteID, linked := l.links.RemoteID(taskID)
	if !linked {
		l.mu.Unlock()
		return nil
	}
	l.pending[taskID] = remoteID
	l.mu.Unlock()

	err := l.remote.Remove(ctx, remoteID)

	l.mu.Lock()
	delete(l.pending, taskID)
	l.links.RemoveTask(taskID)
	saveErr := l.saveLocked()
	l.mu.Unlock()

	if err != nil && !errors.Is(err, gcal.ErrNotFound) {
		return fmt.Errorf("linker: remove event of deleted task %s: %w", taskID, err)
	}
	return saveErr
}

// ObservePull folds a pull result into the table without remote calls.
// Deleted remote ids unlink their tasks. A live event carrying a task
// back-reference is adopted as that task's link when neither side is linked
// yet; otherwise it is treated as foreign for linking purposes.
func (l *Linker) ObservePull(res gcal.PullResult) (unlinked, adopted int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range res.Deleted {
		if taskID, ok := l.links.RemoveRemote(id); ok {
			unlinked++
			appLog.Debug("linker: remote deletion observed", "task", taskID, "remote", id)
		}
	}

	for _, ev := range res.Events {
		if ev.TaskID == "" {
			continue
		}
		if owner, ok := l.links.TaskID(ev.ID); ok {
			if owner != ev.TaskID {
				appLog.Warn("linker: remote event already linked to another task", "remote", ev.ID, "linked_task", owner, "claimed_task", ev.TaskID)
			}
			continue
		}
		if current, ok := l.links.RemoteID(ev.TaskID); ok {
			appLog.Debug("linker: ignoring duplicate event for linked task", "task", ev.TaskID, "linked", current, "remote", ev.ID)
			continue
		}
		if _, ok := l.pending[ev.TaskID]; ok {
			continue
		}
		if l.Adoptable != nil && !l.Adoptable(ev.TaskID) {
			continue
		}
		if err := l.links.Set(ev.TaskID, ev.ID); err == nil {
			adopted++
		}
	}

	if unlinked > 0 || adopted > 0 {
		err = l.saveLocked()
	}
	return unlinked, adopted, err
}

func (l *Linker) saveLocked() error {
	if err := l.links.Save(l.kv); err != nil {
		appLog.Error("linker: persist links failed", err)
		return err
	}
	return nil
}
