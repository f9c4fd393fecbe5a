// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// Filter restricts a listing on one field. Values are already coerced to the
// field kind. Column is set for fields stored on the artifact row. Key selects
// a dict entry.
type Filter struct {
	Field  string
	Kind   fields.Kind
	Key    string
	Op     fields.FilterOp
	Values []any
	Column bool
}

// Sort orders a listing by one field.
type Sort struct {
	Field  string
	Kind   fields.Kind
	Desc   bool
	Column bool
}

// Query selects a page of artifacts of one type.
type Query struct {
	TypeName string
	Filters  []*Filter
	Sort     []*Sort
	Offset   int
	Limit    int

	// Owner restricts results to the project's artifacts and public ones.
	// Empty means no restriction.
	Owner          string
	IncludeDeleted bool
}

// Page is one page of a listing.
type Page struct {
	Artifacts  []*Artifact
	TotalCount int
}

// List returns the artifacts matching the query with their details loaded,
// together with the total number of matches.
func (s *Store) List(ctx context.Context, q *Query) (*Page, error) {
	var page *Page
	err := s.withReadTx(ctx, func(tq *queries) error {
		b := tq.builder()
		t := b.Table(ArtifactsTable.Name)
		pred, err := tq.listPredicate(t, q)
		if err != nil {
			return err
		}

		countQuery, countArgs := b.Select().Count().From(t).Where(pred).Query()
		total, err := tq.scalar(ctx, countQuery, countArgs)
		if err != nil {
			return err
		}

		sel := b.Select(qualified(t, artifactColumns)...).From(t).Where(pred)
		for i, srt := range q.Sort {
			if err := applySort(b, sel, t, srt, i); err != nil {
				return err
			}
		}
		if q.Limit > 0 {
			sel.Limit(q.Limit)
		}
		if q.Offset > 0 {
			sel.Offset(q.Offset)
		}
		query, args := sel.Query()
		arts, err := tq.scanArtifacts(ctx, query, args)
		if err != nil {
			return err
		}
		if err := tq.loadDetails(ctx, arts); err != nil {
			return err
		}
		page = &Page{Artifacts: arts, TotalCount: int(total)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (q *queries) listPredicate(t *entsql.SelectTable, query *Query) (*entsql.Predicate, error) {
	preds := []*entsql.Predicate{entsql.EQ(t.C("type_name"), query.TypeName)}
	if query.Owner != "" {
		preds = append(preds, entsql.Or(
			entsql.EQ(t.C("owner"), query.Owner),
			entsql.EQ(t.C("visibility"), typeschema.VisibilityPublic),
		))
	}
	if !query.IncludeDeleted {
		preds = append(preds, entsql.NEQ(t.C("status"), typeschema.StatusDeleted))
	}
	for _, f := range query.Filters {
		var (
			p   *entsql.Predicate
			err error
		)
		if f.Column {
			p, err = columnPredicate(t, f)
		} else {
			p, err = q.propertyPredicate(t, f)
		}
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return entsql.And(preds...), nil
}

func columnPredicate(t *entsql.SelectTable, f *Filter) (*entsql.Predicate, error) {
	if f.Kind == fields.Version {
		return versionPredicate(t, f)
	}
	return comparison(t.C(f.Field), f)
}

// comparison builds the predicate of a filter on a single column.
func comparison(col string, f *Filter) (*entsql.Predicate, error) {
	if len(f.Values) == 0 {
		return nil, invalidFilter(f, "no value")
	}
	if f.Op != fields.OpIn && len(f.Values) != 1 {
		return nil, invalidFilter(f, "operator %s takes one value", f.Op)
	}
	v := f.Values[0]
	switch f.Op {
	case fields.OpEQ:
		return entsql.EQ(col, v), nil
	case fields.OpNEQ:
		return entsql.NEQ(col, v), nil
	case fields.OpIn:
		return entsql.In(col, f.Values...), nil
	case fields.OpGT:
		return entsql.GT(col, v), nil
	case fields.OpGTE:
		return entsql.GTE(col, v), nil
	case fields.OpLT:
		return entsql.LT(col, v), nil
	case fields.OpLTE:
		return entsql.LTE(col, v), nil
	case fields.OpLike:
		s, ok := v.(string)
		if !ok {
			return nil, invalidFilter(f, "like requires a string value")
		}
		return entsql.Like(col, strings.ReplaceAll(s, "*", "%")), nil
	}
	return nil, invalidFilter(f, "unknown operator %s", f.Op)
}

// versionPredicate compares versions on the split semver columns so that
// ordering follows semantic versioning rather than string order.
func versionPredicate(t *entsql.SelectTable, f *Filter) (*entsql.Predicate, error) {
	switch f.Op {
	case fields.OpEQ, fields.OpNEQ, fields.OpIn, fields.OpLike:
		return comparison(t.C("version"), f)
	}
	if len(f.Values) != 1 {
		return nil, invalidFilter(f, "operator %s takes one value", f.Op)
	}
	s, ok := f.Values[0].(string)
	if !ok {
		return nil, invalidFilter(f, "version must be a string")
	}
	vp := splitVersion(s)
	major, minor, patch := t.C("version_major"), t.C("version_minor"), t.C("version_patch")
	stable, pre := t.C("version_stable"), t.C("version_pre")

	// greater is true for versions strictly above the bound.
	var greater, equal *entsql.Predicate
	releaseGreater := entsql.Or(
		entsql.GT(major, vp.major),
		entsql.And(entsql.EQ(major, vp.major), entsql.GT(minor, vp.minor)),
		entsql.And(entsql.EQ(major, vp.major), entsql.EQ(minor, vp.minor), entsql.GT(patch, vp.patch)),
	)
	releaseEqual := entsql.And(entsql.EQ(major, vp.major), entsql.EQ(minor, vp.minor), entsql.EQ(patch, vp.patch))
	if vp.stable {
		greater = releaseGreater
		equal = entsql.And(releaseEqual, entsql.EQ(stable, true))
	} else {
		greater = entsql.Or(releaseGreater,
			entsql.And(releaseEqual, entsql.EQ(stable, true)),
			entsql.And(releaseEqual, entsql.EQ(stable, false), entsql.GT(pre, vp.pre)),
		)
		equal = entsql.And(releaseEqual, entsql.EQ(stable, false), entsql.EQ(pre, vp.pre))
	}
	switch f.Op {
	case fields.OpGT:
		return greater, nil
	case fields.OpGTE:
		return entsql.Or(greater, equal), nil
	case fields.OpLT:
		return entsql.Not(entsql.Or(greater, equal)), nil
	case fields.OpLTE:
		return entsql.Not(greater), nil
	}
	return nil, invalidFilter(f, "unknown operator %s", f.Op)
}

// propertyPredicate matches artifacts holding at least one property row that
// satisfies the filter. For neq the artifact must hold no row equal to the
// value.
func (q *queries) propertyPredicate(t *entsql.SelectTable, f *Filter) (*entsql.Predicate, error) {
	b := q.builder()
	p := b.Table(ArtifactPropertiesTable.Name)
	col, err := valueColumn(p, f.Kind)
	if err != nil {
		return nil, invalidFilter(f, "%v", err)
	}
	op := *f
	op.Values = make([]any, len(f.Values))
	for i, v := range f.Values {
		pv, err := encodeScalar(v)
		if err != nil {
			return nil, invalidFilter(f, "%v", err)
		}
		op.Values[i] = pv.value()
	}
	negate := f.Op == fields.OpNEQ
	if negate {
		op.Op = fields.OpEQ
	}
	cmp, err := comparison(col, &op)
	if err != nil {
		return nil, err
	}
	preds := []*entsql.Predicate{entsql.EQ(p.C("name"), f.Field), cmp}
	if f.Key != "" {
		preds = append(preds, entsql.EQ(p.C("key_name"), f.Key))
	}
	sub := b.Select(p.C("artifact_id")).From(p).Where(entsql.And(preds...))
	if negate {
		return entsql.Not(entsql.In(t.C("id"), sub)), nil
	}
	return entsql.In(t.C("id"), sub), nil
}

func valueColumn(p *entsql.SelectTable, kind fields.Kind) (string, error) {
	switch kind {
	case fields.Integer:
		return p.C("int_value"), nil
	case fields.Float:
		return p.C("numeric_value"), nil
	case fields.Boolean:
		return p.C("bool_value"), nil
	case fields.String, fields.Version, fields.Reference, fields.DateTime:
		return p.C("string_value"), nil
	}
	return "", fmt.Errorf("cannot filter on %s values", kind)
}

// applySort orders by a column, or by a scalar property through a left join.
// Rows without the property sort as nulls.
func applySort(b *entsql.DialectBuilder, sel *entsql.Selector, t *entsql.SelectTable, srt *Sort, i int) error {
	order := func(col string) string {
		if srt.Desc {
			return entsql.Desc(col)
		}
		return entsql.Asc(col)
	}
	if srt.Column {
		if srt.Kind == fields.Version {
			for _, c := range []string{"version_major", "version_minor", "version_patch", "version_stable", "version_pre"} {
				sel.OrderBy(order(t.C(c)))
			}
			return nil
		}
		sel.OrderBy(order(t.C(srt.Field)))
		return nil
	}
	p := b.Table(ArtifactPropertiesTable.Name).As(fmt.Sprintf("sort%d", i))
	col, err := valueColumn(p, srt.Kind)
	if err != nil {
		return errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
			errors.WithResourceName(srt.Field), errors.WithMessage("cannot sort: %v", err))
	}
	sel.LeftJoin(p).OnP(entsql.And(
		entsql.ColumnsEQ(p.C("artifact_id"), t.C("id")),
		entsql.EQ(p.C("name"), srt.Field),
		entsql.IsNull(p.C("position")),
		entsql.IsNull(p.C("key_name")),
	))
	sel.OrderBy(order(col))
	return nil
}

func invalidFilter(f *Filter, format string, args ...any) error {
	return errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType), errors.WithResourceName(f.Field),
		errors.WithMessage("invalid filter: "+format, args...))
}
