// Package index keeps the process-wide map from a person's display name to
// the store's permanent identifier.
//
// The index is a hint, not a source of truth: names are not unique, the
// map is built from a single startup scan, and other processes may write
// to the store. A miss means "ask the store".
package index

import (
	"context"
	"sync"

	"github.com/ha1tch/friendgraph/pkg/models"
)

// Index maps names to permanent identifiers
type Index struct {
	mu    sync.RWMutex
	uids  map[string]string
	ready chan struct{}
	once  sync.Once
}

// New creates an empty, not yet loaded index
func New() *Index {
	return &Index{
		uids:  make(map[string]string),
		ready: make(chan struct{}),
	}
}

// Load populates the index from a node scan and opens the readiness
// barrier. Later nodes win when names collide. Only the first call has
// any effect.
func (i *Index) Load(nodes []models.Node) {
	i.once.Do(func() {
		i.mu.Lock()
		for _, n := range nodes {
			if n.Name == "" || n.UID == "" {
				continue
			}
			i.uids[n.Name] = n.UID
		}
		i.mu.Unlock()
		close(i.ready)
	})
}

// Ready returns a channel closed once the index is loaded
func (i *Index) Ready() <-chan struct{} {
	return i.ready
}

// IsReady reports whether the index has been loaded
func (i *Index) IsReady() bool {
	select {
	case <-i.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the index is loaded or ctx is done
func (i *Index) Wait(ctx context.Context) error {
	select {
	case <-i.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve returns the identifier last recorded for name. It never blocks;
// before Load it always misses.
func (i *Index) Resolve(name string) (string, bool) {
	if !i.IsReady() {
		return "", false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()

	uid, ok := i.uids[name]
	return uid, ok
}

// Insert records name -> uid, replacing any previous mapping
func (i *Index) Insert(name, uid string) {
	if name == "" || uid == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	i.uids[name] = uid
}

// Forget removes name only while it still points at uid
func (i *Index) Forget(name, uid string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.uids[name] == uid {
		delete(i.uids, name)
	}
}

// Len returns the number of names in the index
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.uids)
}
