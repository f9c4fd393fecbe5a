// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package typeschema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

// Registry maps type names to schemas. Registration happens at startup;
// once frozen the registry is read-only.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	frozen  bool
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// RegisterType builds a schema from the field descriptors and registers it.
func (r *Registry) RegisterType(typeName string, descriptors ...*fields.Descriptor) (*Schema, error) {
	s, err := NewSchema(&Definition{Name: typeName, Fields: descriptors})
	if err != nil {
		return nil, err
	}
	if err := r.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds a schema. Duplicate type names are rejected.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register type %s", s.TypeName)
	}
	if _, ok := r.schemas[s.TypeName]; ok {
		return fmt.Errorf("artifact type %s is already registered", s.TypeName)
	}
	r.schemas[s.TypeName] = s
	log.Infof("Registered artifact type %s with %d fields", s.TypeName, len(s.TypeFields()))
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the schema registered for the type name.
func (r *Registry) Get(typeName string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[typeName]
	if !ok {
		return nil, errors.NewNotFound(errors.WithResourceType(errors.ArtifactTypeType), errors.WithResourceName(typeName))
	}
	return s, nil
}

// TypeNames returns the registered type names in sorted order.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Init registers the definitions in the process-wide registry and freezes it.
// It may be called only once.
func Init(defs ...*Definition) (*Registry, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry != nil {
		return nil, fmt.Errorf("artifact type registry is already initialized")
	}
	r := NewRegistry()
	for _, def := range defs {
		s, err := NewSchema(def)
		if err != nil {
			return nil, err
		}
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	defaultRegistry = r
	return r, nil
}

// Default returns the process-wide registry, or nil before Init.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}
