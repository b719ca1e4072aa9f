// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package route

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the in-memory set of route definitions. The engine only toggles
// the active flag and decrements repeat counts; everything else is edited
// through Put and Delete.
type Catalog struct {
	mu     sync.RWMutex
	routes map[int]*Definition
}

// NewCatalog creates a catalog holding the given routes. Invalid routes are
// rejected.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{routes: make(map[int]*Definition)}
	for _, d := range defs {
		if err := c.Put(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns a copy of a route
func (c *Catalog) Get(id int) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.routes[id]
	if !ok {
		return Definition{}, false
	}
	return d.Clone(), true
}

// Put validates and stores a route, replacing any route with the same id
func (c *Catalog) Put(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	stored := d.Clone()
	c.mu.Lock()
	c.routes[d.ID] = &stored
	c.mu.Unlock()
	return nil
}

// Delete removes a route
func (c *Catalog) Delete(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routes[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(c.routes, id)
	return nil
}

// List returns copies of every route ordered by id
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.routes))
	for _, d := range c.routes {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActive toggles a route's active flag
func (c *Catalog) SetActive(id int, active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.routes[id]
	if ok {
		d.Active = active
	}
	return ok
}

// DecrementRepeat lowers the repeat count by one and returns the new value
func (c *Catalog) DecrementRepeat(id int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.routes[id]
	if !ok {
		return 0, false
	}
	if d.RepeatCount > 0 {
		d.RepeatCount--
	}
	return d.RepeatCount, true
}

// ============================================================
// Catalog files
// ============================================================

type catalogFile struct {
	Routes []Definition `yaml:"routes"`
}

// ParseCatalog decodes a YAML catalog document
func ParseCatalog(data []byte) ([]Definition, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse route catalog: %w", err)
	}
	for i := range f.Routes {
		if err := f.Routes[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Routes, nil
}

// LoadCatalog reads a YAML catalog file. An empty path yields the built-in
// default routes.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultRoutes()...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route catalog: %w", err)
	}
	defs, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewCatalog(defs...)
}

// MarshalCatalog encodes routes as a YAML catalog document
func MarshalCatalog(defs []Definition) ([]byte, error) {
	return yaml.Marshal(catalogFile{Routes: defs})
}

// DefaultRouteID is the id of the built-in picking route
const DefaultRouteID = 0

// DefaultRoutes returns the built-in route set
func DefaultRoutes() []Definition {
	angle := 90.0
	return []Definition{
		{
			ID:          DefaultRouteID,
			Name:        "Route A - Picking Line",
			Description: "Main picking route with feeding tables",
			RepeatCount: 5,
			Steps: []Step{
				{ID: 1, Operation: OpNorm, DistanceMM: 2000, Speed: 500, Description: "Start from base"},
				{ID: 2, Operation: OpTurnLeft, DistanceMM: 1000, Speed: 300, MagnetCorrection: -5 * 2.17, Description: "Turn left to shelf 1"},
				{ID: 3, Operation: OpNorm, DistanceMM: 3000, Speed: 500, Description: "Approach feeding table 1"},
				{ID: 4, Operation: OpNorm, DistanceMM: 500, Speed: 200, Description: "Precise positioning"},
				{ID: 5, Operation: OpTurnRight, DistanceMM: 1000, Speed: 300, MagnetCorrection: 5 * 2.17, Description: "Turn right to shelf 2"},
				{ID: 6, Operation: OpNorm, DistanceMM: 2000, Speed: 500, Description: "Approach feeding table 2"},
				{ID: 7, Operation: OpLeft90, DistanceMM: 0, Speed: 300, AngleDegrees: &angle, Description: "90 degree left turn"},
				{ID: 8, Operation: OpNorm, DistanceMM: 1500, Speed: 400, Description: "Return to base"},
			},
		},
	}
}
