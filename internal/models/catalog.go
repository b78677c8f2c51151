package models

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a model ID is not in the catalog
var ErrNotFound = errors.New("model not found")

// Catalog is a read-only set of models keyed by ID
type Catalog struct {
	models    map[string]Model
	order     []string
	defaultID string
}

// NewCatalog builds and validates a catalog. The first model is the default
// unless defaultID names another one.
func NewCatalog(list []Model, defaultID string) (*Catalog, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one model")
	}

	c := &Catalog{
		models: make(map[string]Model, len(list)),
		order:  make([]string, 0, len(list)),
	}

	for _, m := range list {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.models[m.ID]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		c.models[m.ID] = m
		c.order = append(c.order, m.ID)
	}

	c.defaultID = c.order[0]
	if defaultID != "" {
		if _, ok := c.models[defaultID]; !ok {
			return nil, fmt.Errorf("default model %s: %w", defaultID, ErrNotFound)
		}
		c.defaultID = defaultID
	}

	if err := c.validateFallbacks(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Catalog) validateFallbacks() error {
	for _, id := range c.order {
		m := c.models[id]
		if m.FallbackID == "" {
			continue
		}
		fb, ok := c.models[m.FallbackID]
		if !ok {
			return fmt.Errorf("model %s: fallback %s: %w", m.ID, m.FallbackID, ErrNotFound)
		}
		if !fb.BatchCapable() {
			return fmt.Errorf("model %s: fallback %s is streaming-only", m.ID, fb.ID)
		}
	}
	return nil
}

// Get returns the model with the given ID
func (c *Catalog) Get(id string) (Model, error) {
	m, ok := c.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return m, nil
}

// Default returns the default model
func (c *Catalog) Default() Model {
	return c.models[c.defaultID]
}

// Resolve returns the model for id, or the default model when id is empty
func (c *Catalog) Resolve(id string) (Model, error) {
	if id == "" {
		return c.Default(), nil
	}
	return c.Get(id)
}

// List returns models in configuration order
func (c *Catalog) List() []Model {
	out := make([]Model, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}

// Providers returns the distinct providers referenced by the catalog
func (c *Catalog) Providers() []Provider {
	seen := make(map[Provider]struct{})
	for _, m := range c.models {
		seen[m.Provider] = struct{}{}
	}
	out := make([]Provider, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FallbackFor returns the batch model to use when streaming with m fails.
// Only streaming-only models get a substitute; ok is false otherwise.
func (c *Catalog) FallbackFor(m Model) (Model, bool) {
	if !m.StreamingOnly || m.FallbackID == "" {
		return Model{}, false
	}
	fb, ok := c.models[m.FallbackID]
	return fb, ok
}
