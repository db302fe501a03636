// Copyright 2025 James Ross
// Package codec provides a pluggable, string-keyed job payload codec
// registry, defaulting to JSON.
package codec

import (
	"encoding/json"
	"sync"

	"github.com/flyingrobots/dogqueue/internal/backend"
)

// Codec encodes and decodes job payloads to and from bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
	ID() string
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error)        { return json.Marshal(v) }
func (jsonCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }
func (jsonCodec) ID() string                          { return "json" }

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// Registry is a string-keyed set of available codecs.
type Registry struct {
	mu      sync.RWMutex
	codecs  map[string]Codec
	dflt    string
}

// NewRegistry returns a Registry with JSON registered and set as default.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec), dflt: JSON.ID()}
	r.codecs[JSON.ID()] = JSON
	return r
}

// Register adds or replaces c under its own ID.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ID()] = c
}

// Get returns the codec registered under id.
func (r *Registry) Get(id string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id]
	if !ok {
		return nil, backend.ErrCodecNotFound(id)
	}
	return c, nil
}

// Default returns the registry's default codec.
func (r *Registry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codecs[r.dflt]
}

// SetDefault changes the default codec to the one registered under id.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[id]; !ok {
		return backend.ErrCodecNotFound(id)
	}
	r.dflt = id
	return nil
}

// Available lists every registered codec ID.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.codecs))
	for id := range r.codecs {
		out = append(out, id)
	}
	return out
}
