package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

// ErrSourceNotRegistered is returned by [Registry.CreateSource] when no
// factory has been registered for the requested source kind.
var ErrSourceNotRegistered = errors.New("config: source kind not registered")

// SourceFactory opens an audio source. The returned source must deliver
// frames matching cfg.SampleRate and cfg.FrameSize, in cfg.Mode.
type SourceFactory func(src SourceConfig, cfg detector.Config) (audio.Source, error)

// Registry maps source kinds to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[SourceKind]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{sources: make(map[SourceKind]SourceFactory)}
}

// RegisterSource registers a factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterSource(kind SourceKind, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = factory
}

// CreateSource opens the source described by d using the factory registered
// for d.Source.Kind.
func (r *Registry) CreateSource(d DetectorConfig, cfg detector.Config) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[d.Source.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, d.Source.Kind)
	}
	src, err := factory(d.Source, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create %s source for %q: %w", d.Source.Kind, d.Name, err)
	}
	return src, nil
}

// Kinds returns the registered source kinds in sorted order.
func (r *Registry) Kinds() []SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]SourceKind, 0, len(r.sources))
	for k := range r.sources {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
