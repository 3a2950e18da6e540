// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labbench

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ResourceManager lists and opens resources. It is implemented by
// lib/visa.Manager for real transports and by fakes in tests.
type ResourceManager interface {
	// ListResources returns the resource ids matching the VISA expression
	// filter.
	ListResources(filter string) ([]string, error)

	// OpenResource opens a communication channel to the resource.
	OpenResource(resource string) (Handle, error)
}

// Entry is one identified instrument known to the Registry.
type Entry struct {
	Resource string
	Identity Identity
	Handle   Handle
}

// Registry maintains the live set of identified instruments and resolves a
// device name to its handles. The Registry owns every handle it tracks.
type Registry struct {
	mu      sync.Mutex
	rm      ResourceManager
	filter  string
	settle  time.Duration
	entries []Entry
	logger  zerolog.Logger
	sleep   func(time.Duration)
}

// RegistryOption applies an option to the registry.
type RegistryOption func(*Registry)

// WithFilter sets the default resource expression used by Refresh.
func WithFilter(filter string) RegistryOption {
	return func(r *Registry) { r.filter = filter }
}

// WithSettleDelay sets how long to wait after opening a serial resource
// before identifying it. Arduino boards reset when the port opens.
func WithSettleDelay(d time.Duration) RegistryOption {
	return func(r *Registry) { r.settle = d }
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithSleep replaces time.Sleep, for tests.
func WithSleep(sleep func(time.Duration)) RegistryOption {
	return func(r *Registry) { r.sleep = sleep }
}

// NewRegistry creates an empty registry on top of rm. Call Refresh to
// populate it.
func NewRegistry(rm ResourceManager, opts ...RegistryOption) *Registry {
	r := &Registry{
		rm:     rm,
		filter: DefaultFilter,
		settle: 2 * time.Second,
		logger: zerolog.Nop(),
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh revalidates the known entries, then lists the resources matching
// filter (the registry default when empty) and identifies the new ones.
// Resources that fail to identify are skipped silently. Only a failure to
// list resources is returned.
func (r *Registry) Refresh(filter string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if filter == "" {
		filter = r.filter
	}
	r.revalidate()

	resources, err := r.rm.ListResources(filter)
	if err != nil {
		return err
	}
	r.logger.Debug().Str("filter", filter).Strs("resources", resources).Msg("resource list")

	for _, res := range resources {
		if r.indexOf(res) >= 0 {
			continue
		}
		h, err := r.rm.OpenResource(res)
		if err != nil {
			r.logger.Debug().Str("resource", res).Err(err).Msg("listed but cannot be opened")
			continue
		}
		if isSerial(res) && r.settle > 0 {
			r.sleep(r.settle)
		}
		id, err := Identify(h)
		if err != nil {
			r.logger.Debug().Str("resource", res).Err(err).Msg("listed but not identified")
			_ = h.Close()
			continue
		}
		r.entries = append(r.entries, Entry{Resource: res, Identity: id, Handle: h})
		r.logger.Info().Str("resource", res).Str("name", id.Name).Str("serial", id.Serial).Msg("instrument found")
	}
	return nil
}

// Revalidate queries the identity of every known entry and drops the ones
// that do not answer.
func (r *Registry) Revalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revalidate()
}

func (r *Registry) revalidate() {
	alive := r.entries[:0]
	for _, e := range r.entries {
		if _, err := e.Handle.Query(IdentifyQuery); err != nil {
			r.logger.Info().Str("resource", e.Resource).Err(err).Msg("instrument disconnected")
			_ = e.Handle.Close()
			continue
		}
		alive = append(alive, e)
	}
	// clear the tail so dropped handles can be collected
	for i := len(alive); i < len(r.entries); i++ {
		r.entries[i] = Entry{}
	}
	r.entries = alive
}

func (r *Registry) indexOf(resource string) int {
	for i, e := range r.entries {
		if e.Resource == resource {
			return i
		}
	}
	return -1
}

// ResolveByName returns every entry whose identity name equals name, in
// discovery order. The result is empty, never nil-with-error, when no
// instrument matches; callers decide whether that is fatal.
func (r *Registry) ResolveByName(name string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Entry{}
	for _, e := range r.entries {
		if e.Identity.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// OpenRaw opens resource without identity check or liveness guarantee. The
// registry does not track the returned handle; the caller closes it.
func (r *Registry) OpenRaw(resource string) (Handle, error) {
	return r.rm.OpenResource(resource)
}

// Entries returns a copy of the known entries in discovery order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of known entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every tracked handle and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, e := range r.entries {
		err = multierr.Append(err, e.Handle.Close())
	}
	r.entries = nil
	return err
}

func isSerial(resource string) bool {
	return strings.HasPrefix(strings.ToUpper(resource), "ASRL")
}
