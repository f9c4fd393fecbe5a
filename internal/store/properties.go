// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
)

// emptyPosition marks the single row of an empty list or dict, so that an
// empty collection reads back empty rather than unset. The row of an empty
// dict also carries an empty key.
const emptyPosition = -1

// timeFormat keeps a fixed width so stored datetimes compare in time order.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

var propertyColumns = []string{
	"artifact_id", "name", "position", "key_name", "int_value", "numeric_value", "bool_value", "string_value",
}

// propertyValue is a scalar encoded into one of the typed value columns.
type propertyValue struct {
	i *int64
	f *float64
	b *bool
	s *string
}

func encodeScalar(v any) (propertyValue, error) {
	var pv propertyValue
	switch t := v.(type) {
	case int:
		n := int64(t)
		pv.i = &n
	case int64:
		pv.i = &t
	case float64:
		pv.f = &t
	case bool:
		pv.b = &t
	case string:
		pv.s = &t
	case time.Time:
		s := t.UTC().Format(timeFormat)
		pv.s = &s
	default:
		return pv, fmt.Errorf("unsupported property value %T", v)
	}
	return pv, nil
}

func (pv propertyValue) value() any {
	switch {
	case pv.i != nil:
		return *pv.i
	case pv.f != nil:
		return *pv.f
	case pv.b != nil:
		return *pv.b
	case pv.s != nil:
		return *pv.s
	}
	return nil
}

// insertProperties writes one row per scalar, list element or dict entry.
// Nil values produce no rows and empty collections a marker row.
func (q *queries) insertProperties(ctx context.Context, artifactID string, props map[string]any) error {
	ins := q.builder().Insert(ArtifactPropertiesTable.Name).Columns(propertyColumns...)
	n := 0
	add := func(name string, position *int, key *string, v any) error {
		pv, err := encodeScalar(v)
		if err != nil {
			return errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
				errors.WithResourceName(name), errors.WithError(err))
		}
		ins.Values(artifactID, name, position, key, pv.i, pv.f, pv.b, pv.s)
		n++
		return nil
	}
	marker := func(name string, key *string) {
		pos := emptyPosition
		ins.Values(artifactID, name, &pos, key, nil, nil, nil, nil)
		n++
	}
	for _, name := range sortedNames(props) {
		switch v := props[name].(type) {
		case nil:
		case []any:
			if len(v) == 0 {
				marker(name, nil)
			}
			for i, e := range v {
				pos := i
				if err := add(name, &pos, nil, e); err != nil {
					return err
				}
			}
		case map[string]any:
			if len(v) == 0 {
				empty := ""
				marker(name, &empty)
			}
			for _, k := range sortedNames(v) {
				key := k
				if err := add(name, nil, &key, v[k]); err != nil {
					return err
				}
			}
		default:
			if err := add(name, nil, nil, v); err != nil {
				return err
			}
		}
	}
	if n == 0 {
		return nil
	}
	query, args := ins.Query()
	_, err := q.exec(ctx, query, args)
	return err
}

// loadProperties rebuilds the property maps of the artifacts. Rows with a
// position form lists, rows with a key form dicts.
func (q *queries) loadProperties(ctx context.Context, ids []any, byID map[string]*Artifact) error {
	b := q.builder()
	t := b.Table(ArtifactPropertiesTable.Name)
	query, args := b.Select(qualified(t, propertyColumns)...).From(t).
		Where(entsql.In(t.C("artifact_id"), ids...)).
		OrderBy(t.C("artifact_id"), t.C("name"), t.C("position"), t.C("key_name")).
		Query()
	rows, err := q.query(ctx, query, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			artifactID, name string
			position         sql.NullInt64
			key              sql.NullString
			iv               sql.NullInt64
			fv               sql.NullFloat64
			bv               sql.NullBool
			sv               sql.NullString
		)
		if err := rows.Scan(&artifactID, &name, &position, &key, &iv, &fv, &bv, &sv); err != nil {
			return errors.NewDBError(errors.WithError(err))
		}
		var pv propertyValue
		switch {
		case iv.Valid:
			pv.i = &iv.Int64
		case fv.Valid:
			pv.f = &fv.Float64
		case bv.Valid:
			pv.b = &bv.Bool
		case sv.Valid:
			pv.s = &sv.String
		}
		a, ok := byID[artifactID]
		if !ok {
			continue
		}
		switch {
		case position.Valid && position.Int64 == emptyPosition && key.Valid:
			if _, ok := a.Properties[name].(map[string]any); !ok {
				a.Properties[name] = map[string]any{}
			}
		case position.Valid && position.Int64 == emptyPosition:
			if _, ok := a.Properties[name].([]any); !ok {
				a.Properties[name] = []any{}
			}
		case position.Valid:
			l, _ := a.Properties[name].([]any)
			a.Properties[name] = append(l, pv.value())
		case key.Valid:
			m, ok := a.Properties[name].(map[string]any)
			if !ok {
				m = map[string]any{}
				a.Properties[name] = m
			}
			m[key.String] = pv.value()
		default:
			a.Properties[name] = pv.value()
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewDBError(errors.WithError(err))
	}
	return nil
}
