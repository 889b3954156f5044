package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/helixcare/secrets-core/interfaces"
)

// MountEntry describes one mounted backend.
type MountEntry struct {
	// Path is the mount point, normalized with a trailing slash.
	Path string `json:"path"`

	// Type names the backend kind: "kv", "userpass" or "approle".
	Type string `json:"type"`

	Description string `json:"description,omitempty"`

	// RealmID scopes the mount to one realm; empty means the root realm.
	RealmID string `json:"realm_id,omitempty"`

	backend interfaces.Backend
}

// AuthMount reports whether the mount is an authentication method, whose
// login path is reachable without a token.
func (e *MountEntry) AuthMount() bool {
	return e.Type == "userpass" || e.Type == "approle"
}

// Router maps logical paths to mounted backends by longest prefix.
type Router struct {
	mu     sync.RWMutex
	mounts map[string]*MountEntry
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{mounts: map[string]*MountEntry{}}
}

// normalizeMountPath validates a mount point and appends the trailing
// slash the router keys on.
func normalizeMountPath(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: invalid mount path %q", interfaces.ErrValidation, path)
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	if strings.HasPrefix(path, "sys/") {
		return "", fmt.Errorf("%w: the sys/ prefix is reserved", interfaces.ErrValidation)
	}
	return path, nil
}

// Mount registers a backend. Mount points must not nest: no mount may be
// a path prefix of another, so every logical path has at most one owner.
func (r *Router) Mount(entry *MountEntry, backend interfaces.Backend) error {
	path, err := normalizeMountPath(entry.Path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for existing := range r.mounts {
		if strings.HasPrefix(path, existing) || strings.HasPrefix(existing, path) {
			return fmt.Errorf("%w: mount %q conflicts with existing mount %q",
				interfaces.ErrValidation, path, existing)
		}
	}

	entry.Path = path
	entry.backend = backend
	r.mounts[path] = entry
	return nil
}

// Unmount removes a mount point.
func (r *Router) Unmount(path string) error {
	path, err := normalizeMountPath(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mounts[path]; !ok {
		return fmt.Errorf("%w: no mount at %q", interfaces.ErrNotFound, path)
	}
	delete(r.mounts, path)
	return nil
}

// Resolve finds the mount owning a logical path and returns it together
// with the mount-relative remainder of the path.
func (r *Router) Resolve(path string) (*MountEntry, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *MountEntry
	for mountPath, entry := range r.mounts {
		if strings.HasPrefix(path, mountPath) {
			if best == nil || len(mountPath) > len(best.Path) {
				best = entry
			}
		}
	}
	if best == nil {
		return nil, "", fmt.Errorf("%w: no mount for path %q", interfaces.ErrNotFound, path)
	}
	return best, strings.TrimPrefix(path, best.Path), nil
}

// Mounts lists every mount entry ordered by path.
func (r *Router) Mounts() []*MountEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*MountEntry, 0, len(r.mounts))
	for _, entry := range r.mounts {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Reset drops every mount. Called when the barrier seals, since mounted
// backends hold views that are useless against a sealed barrier.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts = map[string]*MountEntry{}
}
