// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sort"

	"github.com/blang/semver/v4"
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// FilterSpec restricts a listing to artifacts whose field compares to the
// values. Key selects an entry of a dict field.
type FilterSpec struct {
	Field  string
	Key    string
	Op     fields.FilterOp
	Values []any
}

type SortSpec struct {
	Field string
	Desc  bool
}

// ListOptions select a page of artifacts. Without sort keys artifacts are
// listed newest first.
type ListOptions struct {
	Filters []*FilterSpec
	Sort    []*SortSpec
	Offset  int
	Limit   int
	// Latest keeps only the highest version of every name within an owner.
	Latest bool
}

// Get returns an artifact the caller can see.
func (e *Engine) Get(ctx context.Context, typeName string, id string) (*store.Artifact, error) {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	a, err := e.load(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	if !visible(creds, a) || (a.Status == typeschema.StatusDeleted && !creds.IsAdmin()) {
		return nil, notFound(id)
	}
	if err := e.checker.Check(ctx, creds, policy.ArtifactGet, target(a)); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns a page of the artifacts of the type the caller can see.
// Deleted artifacts are never listed.
func (e *Engine) List(ctx context.Context, typeName string, opts *ListOptions) (*store.Page, error) {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	if err := e.checker.Check(ctx, creds, policy.ArtifactList, nil); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &ListOptions{}
	}
	q, err := buildQuery(schema, opts)
	if err != nil {
		return nil, err
	}
	if !creds.IsAdmin() {
		q.Owner = creds.ProjectID
	}

	var page *store.Page
	if opts.Latest {
		offset, limit := q.Offset, q.Limit
		q.Offset, q.Limit = 0, 0
		if page, err = e.store.List(ctx, q); err != nil {
			return nil, err
		}
		page.Artifacts = latest(page.Artifacts)
		page.TotalCount = len(page.Artifacts)
		page.Artifacts = page.Artifacts[min(offset, len(page.Artifacts)):]
		page.Artifacts = page.Artifacts[:min(limit, len(page.Artifacts))]
	} else if page, err = e.store.List(ctx, q); err != nil {
		return nil, err
	}
	for _, a := range page.Artifacts {
		typed(schema, a)
	}
	return page, nil
}

func buildQuery(schema *typeschema.Schema, opts *ListOptions) (*store.Query, error) {
	if opts.Offset < 0 || opts.Limit < 0 {
		return nil, errors.NewInvalidArgument(errors.WithMessage("offset and limit must not be negative"))
	}
	q := &store.Query{TypeName: schema.TypeName, Offset: opts.Offset, Limit: opts.Limit}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	q.Limit = min(q.Limit, MaxPageSize)

	for _, f := range opts.Filters {
		filter, err := buildFilter(schema, f)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, filter)
	}

	byID := false
	for _, s := range opts.Sort {
		d, err := schema.GetField(s.Field)
		if err != nil {
			return nil, invalidField(s.Field, "unknown field of artifact type %s", schema.TypeName)
		}
		if !d.Sortable {
			return nil, invalidField(s.Field, "is not sortable")
		}
		q.Sort = append(q.Sort, &store.Sort{Field: d.Name, Kind: d.Kind, Desc: s.Desc,
			Column: typeschema.IsColumnField(d.Name)})
		byID = byID || d.Name == typeschema.FieldID
	}
	if len(q.Sort) == 0 {
		q.Sort = append(q.Sort, &store.Sort{Field: typeschema.FieldCreatedAt, Kind: fields.DateTime, Desc: true,
			Column: true})
	}
	if !byID {
		q.Sort = append(q.Sort, &store.Sort{Field: typeschema.FieldID, Kind: fields.String, Column: true})
	}
	return q, nil
}

func buildFilter(schema *typeschema.Schema, f *FilterSpec) (*store.Filter, error) {
	d, err := schema.GetField(f.Field)
	if err != nil {
		return nil, invalidField(f.Field, "unknown field of artifact type %s", schema.TypeName)
	}
	op := f.Op
	if op == "" {
		op = fields.OpEQ
	}
	if !d.AllowsFilter(op) {
		return nil, invalidField(d.Name, "cannot be filtered with %s", op)
	}
	switch {
	case d.Kind == fields.Dict && f.Key == "":
		return nil, invalidField(d.Name, "a key is required to filter a dict")
	case d.Kind != fields.Dict && f.Key != "":
		return nil, invalidField(d.Name, "only dict filters take a key")
	case len(f.Values) == 0:
		return nil, invalidField(d.Name, "no filter value")
	case op != fields.OpIn && len(f.Values) > 1:
		return nil, invalidField(d.Name, "%s takes a single value", op)
	}
	kind := d.Kind
	if kind.IsCompound() {
		kind = d.ElementKind
	}
	elem := &fields.Descriptor{Name: d.Name, Kind: kind}
	values := make([]any, 0, len(f.Values))
	for _, raw := range f.Values {
		v, err := elem.Coerce(raw)
		if err != nil {
			return nil, invalid(err)
		}
		values = append(values, v)
	}
	return &store.Filter{
		Field:  d.Name,
		Kind:   kind,
		Key:    f.Key,
		Op:     op,
		Values: values,
		Column: typeschema.IsColumnField(d.Name),
	}, nil
}

// latest keeps the highest version of every name and owner, preserving the
// listing order of the kept artifacts.
func latest(arts []*store.Artifact) []*store.Artifact {
	best := map[[2]string]*store.Artifact{}
	for _, a := range arts {
		k := [2]string{a.Name, a.Owner}
		if cur, ok := best[k]; !ok || newer(a.Version, cur.Version) {
			best[k] = a
		}
	}
	out := make([]*store.Artifact, 0, len(best))
	for _, a := range arts {
		if best[[2]string{a.Name, a.Owner}] == a {
			out = append(out, a)
		}
	}
	return out
}

func newer(v string, than string) bool {
	sv, err1 := semver.Parse(v)
	st, err2 := semver.Parse(than)
	if err1 != nil || err2 != nil {
		return v > than
	}
	return sv.GT(st)
}

// ResolveReferences returns a summary of every artifact the reference fields
// point to, keyed by field name. References to artifacts that are gone or not
// visible to the caller are left out.
func (e *Engine) ResolveReferences(ctx context.Context, typeName string, id string) (map[string][]*notification.Summary, error) {
	a, err := e.Get(ctx, typeName, id)
	if err != nil {
		return nil, err
	}
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	out := map[string][]*notification.Summary{}
	for _, d := range schema.ReferenceFields() {
		for _, ref := range references(d, a.Properties[d.Name]) {
			target, err := e.store.Get(ctx, ref)
			if errors.IsNotFound(err) {
				continue
			} else if err != nil {
				return nil, err
			}
			if target.Status == typeschema.StatusDeleted || !visible(creds, target) {
				continue
			}
			out[d.Name] = append(out[d.Name], notification.NewSummary(target))
		}
	}
	return out, nil
}

// TypeNames lists the registered artifact types.
func (e *Engine) TypeNames() []string {
	names := e.registry.TypeNames()
	sort.Strings(names)
	return names
}

// TypeSchema returns the JSON Schema of an artifact type.
func (e *Engine) TypeSchema(typeName string) (map[string]any, error) {
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	return schema.JSONSchema(), nil
}
