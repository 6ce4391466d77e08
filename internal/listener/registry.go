package listener

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry tracks every running listener by key, including ones armed at
// runtime, so shutdown can stop them all.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	stopping map[string]*Handle
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handles:  make(map[string]*Handle),
		stopping: make(map[string]*Handle),
		logger:   logger.With(slog.String("component", "listener_registry")),
	}
}

// Arm starts a listener unless one with the same key is already running. It
// reports whether start was called. Arm is idempotent and safe for concurrent
// use. A listener still shutting down under key is waited for first, so two
// loops never share a cursor.
func (r *Registry) Arm(key string, start func() (*Handle, error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		old, ok := r.stopping[key]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-old.Done()
		r.mu.Lock()
		if r.stopping[key] == old {
			delete(r.stopping, key)
		}
	}

	if _, ok := r.handles[key]; ok {
		return false, nil
	}
	h, err := start()
	if err != nil {
		return false, err
	}
	r.handles[key] = h
	r.logger.Info("listener armed", slog.String("listener", key))
	return true, nil
}

// Has reports whether a listener is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

// Stop stops one listener and waits for its loop to exit.
func (r *Registry) Stop(key string) bool {
	r.mu.Lock()
	h, ok := r.handles[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.handles, key)
	r.stopping[key] = h
	r.mu.Unlock()

	h.Stop()
	<-h.Done()

	r.mu.Lock()
	if r.stopping[key] == h {
		delete(r.stopping, key)
	}
	r.mu.Unlock()
	r.logger.Info("listener disarmed", slog.String("listener", key))
	return true
}

// StopAll stops every listener and waits for their loops to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	for _, h := range handles {
		<-h.Done()
	}
	r.logger.Info("all listeners stopped", slog.Int("count", len(handles)))
}

// Keys returns the registered listener keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
