package engine

import (
	"fmt"
	"log/slog"

	"github.com/metriclabs/speechbench/internal/config"
)

// Registry maps engine slugs to backends. It is built once at startup,
// preserves insertion order and is read-only afterwards, so it may be shared
// across goroutines without locking.
type Registry struct {
	names    []string
	backends map[string]Backend
}

// NewRegistry assembles a registry from already-constructed backends.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, backend := range backends {
		name := backend.Name()
		if _, dup := r.backends[name]; dup {
			return nil, fmt.Errorf("duplicate engine name %q", name)
		}
		r.names = append(r.names, name)
		r.backends[name] = backend
	}
	return r, nil
}

// Build constructs the backends declared in config, loading (or reusing)
// native models, and wraps them in a registry.
func Build(cfgs []config.EngineConfig, log *slog.Logger) (*Registry, error) {
	backends := make([]Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		var (
			backend Backend
			err     error
		)
		switch cfg.Kind {
		case "vosk":
			backend, err = NewVoskBackend(cfg, log)
		case "whisper":
			backend, err = NewWhisperBackend(cfg, log)
		case "mock":
			backend = NewMockBackend(cfg.Name)
		default:
			err = fmt.Errorf("unknown engine kind %q", cfg.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("build engine %q: %w", cfg.Name, err)
		}
		backends = append(backends, backend)
	}
	return NewRegistry(backends...)
}

// NamesOnly wraps mock backends carrying the configured engine slugs, for
// aggregation paths that query history but never transcribe. Unnamed engines
// get the same model-path-derived slug Build would give them.
func NamesOnly(cfgs []config.EngineConfig) (*Registry, error) {
	backends := make([]Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		name := cfg.Name
		if name == "" {
			name = NameForModelPath(cfg.ModelPath)
		}
		backends = append(backends, NewMockBackend(name))
	}
	return NewRegistry(backends...)
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	backend, ok := r.backends[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return backend, nil
}

// All returns the backends in registration order.
func (r *Registry) All() []Backend {
	out := make([]Backend, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.backends[name])
	}
	return out
}

// Names returns the engine slugs in registration order, parallel to All.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len reports the number of registered backends.
func (r *Registry) Len() int {
	return len(r.names)
}
