package mux

import (
	"path/filepath"
	"sync"

	"github.com/dchest/uniuri"
	"github.com/vishalkuo/bimap"
	"k8s.io/utils/keymutex"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// Registry enforces one active session per output path. Lock serializes
// the sessions that create or finalize a path; mu guards the ownership
// index only.
type Registry struct {
	pathLock keymutex.KeyMutex

	mu     sync.RWMutex
	owners *bimap.BiMap[string, string] // path <-> session id
	tokens map[string]string
}

// DefaultRegistry is shared by sessions created without WithRegistry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		pathLock: keymutex.NewHashed(64),
		owners:   bimap.NewBiMap[string, string](),
		tokens:   map[string]string{},
	}
}

func registryKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Lock blocks until no other session is creating or finalizing path.
func (r *Registry) Lock(path string) {
	r.pathLock.LockKey(registryKey(path))
}

// Unlock releases a lock taken with Lock.
func (r *Registry) Unlock(path string) {
	r.pathLock.UnlockKey(registryKey(path))
}

// Acquire claims path for the session with the given id. It returns a
// release token, or an error with av.CodeBusy if another session holds it.
func (r *Registry) Acquire(path, sessionID string) (string, error) {
	key := registryKey(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners.Get(key); ok {
		return "", av.Errorf(av.CodeBusy, "acquire", "%s held by session %s", path, owner)
	}
	token := uniuri.NewLen(32)
	r.owners.Insert(key, sessionID)
	r.tokens[key] = token
	return token, nil
}

// Release frees path if token matches the one handed out by Acquire.
func (r *Registry) Release(path, token string) bool {
	key := registryKey(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[key]; !ok || t != token {
		return false
	}
	r.owners.Delete(key)
	delete(r.tokens, key)
	return true
}

// Owner returns the id of the session holding path.
func (r *Registry) Owner(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners.Get(registryKey(path))
}

// PathOf returns the output path held by a session.
func (r *Registry) PathOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners.GetInverse(sessionID)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
