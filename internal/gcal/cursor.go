package gcal

import (
	"taskcal/internal/store"
)

// CursorStore persists the sync cursor under store.KeySyncCursor. An absent
// key means "never synchronized".
type CursorStore struct {
	kv store.Store
}

func NewCursorStore(kv store.Store) *CursorStore {
	return &CursorStore{kv: kv}
}

// Load returns the stored cursor or "" when none exists.
func (c *CursorStore) Load() (string, error) {
	v, ok, err := c.kv.Get(store.KeySyncCursor)
	if err != nil || !ok {
		return "", err
	}
	return string(v), nil
}

func (c *CursorStore) Save(cursor string) error {
	if cursor == "" {
		return c.Clear()
	}
	return c.kv.Set(store.KeySyncCursor, []byte(cursor))
}

func (c *CursorStore) Clear() error {
	return c.kv.Delete(store.KeySyncCursor)
}
