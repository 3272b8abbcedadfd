package linker

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"taskcal/internal/model"
	"taskcal/internal/store"
)

// ErrConflict is returned when a remote id is already linked to another task.
var ErrConflict = errors.New("linker: remote event already linked to another task")

// Links is a 1:1 task <-> remote event table. It is not safe for
// concurrent use; Linker guards it.
type Links struct {
	byTask   map[string]string
	byRemote map[string]string
}

func NewLinks() *Links {
	return &Links{
		byTask:   make(map[string]string),
		byRemote: make(map[string]string),
	}
}

// LoadLinks reads the table from kv. Entries that would break the 1:1
// invariant are dropped, first one wins.
func LoadLinks(kv store.Store) (*Links, error) {
	var list []model.Link
	if _, err := store.LoadJSON(kv, store.KeyLinks, &list); err != nil {
		return nil, fmt.Errorf("linker: load links: %w", err)
	}
	l := NewLinks()
	for _, link := range list {
		if link.TaskID == "" || link.RemoteEventID == "" {
			continue
		}
		if _, ok := l.byTask[link.TaskID]; ok {
			continue
		}
		_ = l.Set(link.TaskID, link.RemoteEventID)
	}
	return l, nil
}

// Save writes the whole table to kv.
func (l *Links) Save(kv store.Store) error {
	return store.SaveJSON(kv, store.KeyLinks, l.List())
}

func (l *Links) RemoteID(taskID string) (string, bool) {
	id, ok := l.byTask[taskID]
	return id, ok
}

func (l *Links) TaskID(remoteID string) (string, bool) {
	id, ok := l.byRemote[remoteID]
	return id, ok
}

// Set links taskID to remoteID, replacing any previous link of the task.
// It fails with ErrConflict if remoteID belongs to a different task.
func (l *Links) Set(taskID, remoteID string) error {
	if owner, ok := l.byRemote[remoteID]; ok && owner != taskID {
		return ErrConflict
	}
	if old, ok := l.byTask[taskID]; ok {
		delete(l.byRemote, old)
	}
	l.byTask[taskID] = remoteID
	l.byRemote[remoteID] = taskID
	return nil
}

func (l *Links) RemoveTask(taskID string) (string, bool) {
	remoteID, ok := l.byTask[taskID]
	if !ok {
		return "", false
	}
	delete(l.byTask, taskID)
	delete(l.byRemote, remoteID)
	return remoteID, true
}

func (l *Links) RemoveRemote(remoteID string) (string, bool) {
	taskID, ok := l.byRemote[remoteID]
	if !ok {
		return "", false
	}
	delete(l.byRemote, remoteID)
	delete(l.byTask, taskID)
	return taskID, true
}

func (l *Links) Len() int {
	return len(l.byTask)
}

// List returns the links ordered by task id.
func (l *Links) List() []model.Link {
	out := make([]model.Link, 0, len(l.byTask))
	for taskID, remoteID := range l.byTask {
		out = append(out, model.Link{TaskID: taskID, RemoteEventID: remoteID})
	}
	slices.SortFunc(out, func(a, b model.Link) int {
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return out
}
