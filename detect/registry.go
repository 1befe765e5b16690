package detect

import (
	"context"
	"fmt"

	"github.com/openanesth/chart-digitizer/config"
)

// Registry holds the loaded model pools, constructed once at process start
// and passed by reference into pipeline calls. It replaces hidden global
// model state with an explicit handle, so tests can build registries over
// mock backends.
type Registry struct {
	configs map[string]config.ModelConfig
	pools   map[string]*SessionPool
}

// NewRegistry loads every configured model eagerly. A load failure is
// startup-class and aborts construction.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]config.ModelConfig, len(cfg.Models)),
		pools:   make(map[string]*SessionPool, len(cfg.Models)),
	}
	for name, mc := range cfg.Models {
		mc := mc
		factory := func() (Backend, error) {
			if mc.Pose {
				return NewOnnxPose(mc)
			}
			return NewOnnxDetector(mc)
		}
		pool, err := NewSessionPool(factory, cfg.PoolSize)
		if err != nil {
			r.Destroy()
			return nil, fmt.Errorf("loading model %q: %w", name, err)
		}
		r.configs[name] = mc
		r.pools[name] = pool
	}
	return r, nil
}

// NewMockRegistry wires pre-built backends under the given names, for
// deterministic tests without native model sessions.
func NewMockRegistry(models map[string]config.ModelConfig, backends map[string]Backend) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]config.ModelConfig, len(models)),
		pools:   make(map[string]*SessionPool, len(models)),
	}
	for name, mc := range models {
		backend, ok := backends[name]
		if !ok {
			r.Destroy()
			return nil, fmt.Errorf("no backend supplied for model %q", name)
		}
		pool, err := NewSessionPool(func() (Backend, error) { return backend, nil }, 1)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.configs[name] = mc
		r.pools[name] = pool
	}
	return r, nil
}

// Config returns the configuration of a registered model.
func (r *Registry) Config(name string) (config.ModelConfig, error) {
	mc, ok := r.configs[name]
	if !ok {
		return config.ModelConfig{}, fmt.Errorf("model %q is not registered", name)
	}
	return mc, nil
}

// Acquire checks out a session for the named model. The caller must hand
// the session back via Release.
func (r *Registry) Acquire(ctx context.Context, name string) (Backend, error) {
	pool, ok := r.pools[name]
	if !ok {
		return nil, fmt.Errorf("model %q is not registered", name)
	}
	return pool.Acquire(ctx)
}

// Release returns a session acquired for the named model.
func (r *Registry) Release(name string, b Backend) {
	if pool, ok := r.pools[name]; ok {
		pool.Release(b)
	}
}

// Stats reports per-model pool statistics.
func (r *Registry) Stats() map[string]PoolStats {
	stats := make(map[string]PoolStats, len(r.pools))
	for name, pool := range r.pools {
		stats[name] = pool.Stats()
	}
	return stats
}

// Destroy releases every pool.
func (r *Registry) Destroy() {
	for _, pool := range r.pools {
		pool.Destroy()
	}
}
