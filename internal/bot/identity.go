package bot

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type identityLookup interface {
	IdentityLookup(ctx context.Context) (string, error)
}

// Identity caches the bot's own user ID for the life of the process.
type Identity struct {
	lookup identityLookup
	group  singleflight.Group

	mu     sync.RWMutex
	userID string
}

// NewIdentity creates an Identity resolved lazily through lookup.
func NewIdentity(lookup identityLookup) *Identity {
	return &Identity{lookup: lookup}
}

// UserID returns the cached bot user ID, looking it up on first use.
// Concurrent callers share one lookup. Failed lookups are not cached.
func (i *Identity) UserID(ctx context.Context) (string, error) {
	i.mu.RLock()
	id := i.userID
	i.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	v, err, _ := i.group.Do("user_id", func() (any, error) {
		id, err := i.lookup.IdentityLookup(ctx)
		if err != nil {
			return "", err
		}
		i.mu.Lock()
		i.userID = id
		i.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forgets the cached ID, e.g. after the token was rotated.
func (i *Identity) Invalidate() {
	i.mu.Lock()
	i.userID = ""
	i.mu.Unlock()
}
