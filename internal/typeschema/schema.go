// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package typeschema

import (
	"fmt"
	"regexp"

	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
)

var typeNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// Definition is the declaration of an artifact type before registration.
type Definition struct {
	Name        string
	DisplayName string
	Description string
	Version     string
	Fields      []*fields.Descriptor
}

// Schema is a registered artifact type: the base fields followed by the
// type specific fields.
type Schema struct {
	TypeName    string
	DisplayName string
	Description string
	Version     string

	ordered []*fields.Descriptor
	byName  map[string]*fields.Descriptor
}

// NewSchema checks the definition and builds its schema. Type specific fields
// may not reuse a base field name.
func NewSchema(def *Definition) (*Schema, error) {
	if !typeNameRe.MatchString(def.Name) {
		return nil, fmt.Errorf("invalid type name %q", def.Name)
	}
	s := &Schema{
		TypeName:    def.Name,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Version:     def.Version,
		ordered:     BaseFields(),
		byName:      make(map[string]*fields.Descriptor),
	}
	if s.DisplayName == "" {
		s.DisplayName = def.Name
	}
	if s.Version == "" {
		s.Version = "1.0"
	}
	for _, d := range s.ordered {
		s.byName[d.Name] = d
	}
	for _, d := range def.Fields {
		if IsBaseField(d.Name) {
			return nil, fmt.Errorf("type %s: field name %q is reserved", def.Name, d.Name)
		}
		if _, ok := s.byName[d.Name]; ok {
			return nil, fmt.Errorf("type %s: field %q is declared twice", def.Name, d.Name)
		}
		if d.System {
			return nil, fmt.Errorf("type %s: field %q cannot be a system field", def.Name, d.Name)
		}
		if err := d.Prepare(); err != nil {
			return nil, fmt.Errorf("type %s: %w", def.Name, err)
		}
		s.ordered = append(s.ordered, d)
		s.byName[d.Name] = d
	}
	return s, nil
}

// GetField returns the descriptor of the named field.
func (s *Schema) GetField(name string) (*fields.Descriptor, error) {
	if d, ok := s.byName[name]; ok {
		return d, nil
	}
	return nil, errors.NewNotFound(errors.WithResourceType(errors.FieldType), errors.WithResourceName(name),
		errors.WithMessage("in artifact type %s", s.TypeName))
}

func (s *Schema) BaseFields() []*fields.Descriptor {
	return BaseFields()
}

// AllFields returns every field of the type keyed by name.
func (s *Schema) AllFields() map[string]*fields.Descriptor {
	out := make(map[string]*fields.Descriptor, len(s.byName))
	for k, v := range s.byName {
		out[k] = v
	}
	return out
}

// Fields returns every field in declaration order, base fields first.
func (s *Schema) Fields() []*fields.Descriptor {
	out := make([]*fields.Descriptor, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// TypeFields returns the type specific fields.
func (s *Schema) TypeFields() []*fields.Descriptor {
	return s.Fields()[len(baseFields):]
}

func (s *Schema) BlobFields() []*fields.Descriptor {
	var out []*fields.Descriptor
	for _, d := range s.ordered {
		if d.Kind.IsBlob() {
			out = append(out, d)
		}
	}
	return out
}

// ReferenceFields returns the fields holding artifact references, including
// lists and dicts of references.
func (s *Schema) ReferenceFields() []*fields.Descriptor {
	var out []*fields.Descriptor
	for _, d := range s.ordered {
		if d.Kind == fields.Reference || d.ElementKind == fields.Reference {
			out = append(out, d)
		}
	}
	return out
}

// PropertyFields returns the non-blob fields that are not stored as artifact
// columns.
func (s *Schema) PropertyFields() []*fields.Descriptor {
	var out []*fields.Descriptor
	for _, d := range s.ordered {
		if !d.Kind.IsBlob() && !IsColumnField(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// WithDefaults fills in the default value of every property field missing
// from values.
func (s *Schema) WithDefaults(values map[string]any) map[string]any {
	if values == nil {
		values = make(map[string]any)
	}
	for _, d := range s.PropertyFields() {
		if _, ok := values[d.Name]; !ok {
			if def := d.DefaultValue(); def != nil {
				values[d.Name] = def
			}
		}
	}
	return values
}

// JSONSchema renders the artifact type as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.ordered))
	var required []any
	for _, d := range s.ordered {
		props[d.Name] = d.JSONSchema()
		if d.Required {
			required = append(required, d.Name)
		}
	}
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                s.DisplayName,
		"name":                 s.TypeName,
		"version":              s.Version,
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"required":             []any{FieldName},
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	if required != nil {
		doc["x-required-on-activate"] = required
	}
	return doc
}
