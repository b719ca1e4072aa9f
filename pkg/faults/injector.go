// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package faults

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/furrow/pkg/sensor"
)

// NoiseSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type NoiseSource interface {
	Float64() float64
}

// ChangeHook is called after the active profile is replaced or cleared
type ChangeHook func(p *Profile)

// Option configures an Injector
type Option func(*Injector)

// WithSeed seeds the default noise source. A zero seed uses the current time.
func WithSeed(seed int64) Option {
	return func(i *Injector) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		i.noise = rand.New(rand.NewSource(seed))
	}
}

// WithNoiseSource replaces the noise source
func WithNoiseSource(src NoiseSource) Option {
	return func(i *Injector) {
		if src != nil {
			i.noise = src
		}
	}
}

// WithChangeHook registers a profile change callback
func WithChangeHook(hook ChangeHook) Option {
	return func(i *Injector) {
		if hook != nil {
			i.hooks = append(i.hooks, hook)
		}
	}
}

type frozenValue struct {
	set   bool
	axis  sensor.Axis
	value float64
}

// Injector applies the active fault profile to decoded snapshots.
//
// Stuck axes hold the value the axis had in the last emitted snapshot when the
// fault was enabled. When nothing has been emitted yet, the first value seen
// after enabling (with bias applied) is captured instead.
type Injector struct {
	mu      sync.Mutex
	profile *Profile
	noise   NoiseSource
	hooks   []ChangeHook

	frozen [len(sensor.Kinds)]frozenValue
	last   *sensor.Snapshot
}

// NewInjector creates an injector with a disabled profile
func NewInjector(opts ...Option) *Injector {
	i := &Injector{profile: Disabled()}
	for _, opt := range opts {
		opt(i)
	}
	if i.noise == nil {
		i.noise = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return i
}

// Set replaces the active profile
func (i *Injector) Set(p *Profile) {
	if p == nil {
		p = Disabled()
	}

	i.mu.Lock()
	for _, k := range sensor.Kinds {
		axis, stuck := p.StuckAxis(k)
		prev := i.frozen[k]
		switch {
		case !p.Enabled() || !stuck:
			i.frozen[k] = frozenValue{}
		case prev.set && prev.axis == axis && i.profile.Enabled() && i.profile.IsStuck(k, axis):
			// already frozen on this axis
		case i.last != nil:
			i.frozen[k] = frozenValue{set: true, axis: axis, value: i.last.Get(k, axis)}
		default:
			i.frozen[k] = frozenValue{axis: axis}
		}
	}
	i.profile = p
	hooks := i.hooks
	i.mu.Unlock()

	for _, hook := range hooks {
		hook(p)
	}
}

// SetConfig validates a configuration and makes it active
func (i *Injector) SetConfig(c Config) (*Profile, error) {
	p, err := c.Profile()
	if err != nil {
		return nil, err
	}
	i.Set(p)
	return p, nil
}

// Clear disables fault injection and releases any frozen axes
func (i *Injector) Clear() {
	i.Set(Disabled())
}

// Profile returns the active profile
func (i *Injector) Profile() *Profile {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.profile
}

// Apply runs the active profile over a snapshot: bias, then stuck axes, then
// noise on every axis that is not stuck. It cannot fail.
func (i *Injector) Apply(s sensor.Snapshot) sensor.Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := s
	p := i.profile
	if p.Enabled() {
		for _, k := range sensor.Kinds {
			v := out.Vector(k)
			*v = v.Add(p.Offset(k))
		}

		for _, k := range sensor.Kinds {
			axis, ok := p.StuckAxis(k)
			if !ok {
				continue
			}
			f := &i.frozen[k]
			if !f.set {
				*f = frozenValue{set: true, axis: axis, value: out.Get(k, axis)}
			}
			out.Set(k, axis, f.value)
		}

		if level := p.NoiseLevel(); level > 0 {
			for _, k := range sensor.Kinds {
				for _, a := range sensor.Axes {
					if p.IsStuck(k, a) {
						continue
					}
					n := (i.noise.Float64() - 0.5) * level * noiseScale[k]
					out.Set(k, a, out.Get(k, a)+n)
				}
			}
		}

		out.Faulted = true
	}

	last := out
	i.last = &last
	return out
}
