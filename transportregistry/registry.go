// Package transportregistry tracks the set of physical transport slots
// (serial ports, USB endpoints, RFCOMM channels) a named accessory link
// may be dialed over, persisting the set to disk so it survives restarts
// and is available before any transport has actually been probed.
package transportregistry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Transport describes one physical slot a session can be started on.
type Transport struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"` // device path or address, transport-specific
	Kind     string    `json:"kind"` // "serial", "usb", "bluetooth"
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// Registry is the live, in-memory set of known transports, backed by an
// atomically-written JSON cache.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]*Transport
	onChange   func(map[string]*Transport)
	cache      *cache
}

// NewRegistry builds a Registry, seeding it from dataDir's cache file if
// present.
func NewRegistry(dataDir string) *Registry {
	r := &Registry{
		transports: make(map[string]*Transport),
		cache:      newCache(dataDir),
	}
	if cached := r.cache.Load(); cached != nil {
		r.transports = cached
	}
	return r
}

// OnChange registers a callback invoked (with a snapshot) after Add,
// Remove, or SetOnline mutate the registry.
func (r *Registry) OnChange(fn func(map[string]*Transport)) {
	r.onChange = fn
}

// Add registers or updates a transport slot by name.
func (r *Registry) Add(name, path, kind string) {
	r.mu.Lock()
	r.transports[name] = &Transport{Name: name, Path: path, Kind: kind, Online: true, LastSeen: time.Now()}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	log.Infof("transportregistry: added %s (%s, %s)", name, kind, path)
	r.notify(snapshot)
}

// Remove forgets a transport slot.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.transports, name)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
}

// SetOnline updates a transport's liveness, as observed by a caller that
// actually dialed (or failed to dial) it.
func (r *Registry) SetOnline(name string, online bool) {
	r.mu.Lock()
	t, ok := r.transports[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	t.Online = online
	t.LastSeen = time.Now()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
}

// Get returns a copy of one transport's record, or nil if unknown.
func (r *Registry) Get(name string) *Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// List returns a snapshot of every known transport.
func (r *Registry) List() map[string]*Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() map[string]*Transport {
	out := make(map[string]*Transport, len(r.transports))
	for name, t := range r.transports {
		cp := *t
		out[name] = &cp
	}
	return out
}

func (r *Registry) notify(snapshot map[string]*Transport) {
	r.cache.Save(snapshot)
	if r.onChange != nil {
		r.onChange(snapshot)
	}
}

// cache persists the transport map to disk, atomically.
type cache struct {
	path string
	mu   sync.Mutex
}

func newCache(dataDir string) *cache {
	return &cache{path: filepath.Join(dataDir, "transport-cache.json")}
}

func (c *cache) Load() map[string]*Transport {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("transportregistry: failed to read cache: %v", err)
		}
		return nil
	}
	var transports map[string]*Transport
	if err := json.Unmarshal(data, &transports); err != nil {
		log.Warnf("transportregistry: failed to parse cache: %v", err)
		return nil
	}
	log.Infof("transportregistry: loaded %d transports from cache", len(transports))
	return transports
}

func (c *cache) Save(transports map[string]*Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(transports, "", "  ")
	if err != nil {
		log.Warnf("transportregistry: failed to marshal cache: %v", err)
		return
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warnf("transportregistry: failed to create cache dir: %v", err)
		return
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Warnf("transportregistry: failed to write cache tmp: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Warnf("transportregistry: failed to rename cache: %v", err)
		os.Remove(tmp)
	}
}
