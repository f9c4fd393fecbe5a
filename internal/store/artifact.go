// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/blang/semver/v4"
	"github.com/google/uuid"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// Artifact is a persisted artifact record. Base fields are stored as columns,
// every other non-blob field lives in Properties.
type Artifact struct {
	ID          string
	TypeName    string
	Name        string
	Version     string
	Owner       string
	Visibility  string
	Status      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ActivatedAt *time.Time
	Revision    int64

	Properties map[string]any
	Blobs      []*Blob
}

// Value returns the value of any non-blob field by name.
func (a *Artifact) Value(name string) any {
	switch name {
	case typeschema.FieldID:
		return a.ID
	case typeschema.FieldTypeName:
		return a.TypeName
	case typeschema.FieldName:
		return a.Name
	case typeschema.FieldVersion:
		return a.Version
	case typeschema.FieldOwner:
		return a.Owner
	case typeschema.FieldVisibility:
		return a.Visibility
	case typeschema.FieldStatus:
		return a.Status
	case typeschema.FieldDescription:
		return a.Description
	case typeschema.FieldCreatedAt:
		return a.CreatedAt
	case typeschema.FieldUpdatedAt:
		return a.UpdatedAt
	case typeschema.FieldActivatedAt:
		if a.ActivatedAt == nil {
			return nil
		}
		return *a.ActivatedAt
	case typeschema.FieldRevision:
		return a.Revision
	}
	return a.Properties[name]
}

// Blob returns the blob record held in the field and key, or nil.
func (a *Artifact) Blob(field string, key string) *Blob {
	for _, b := range a.Blobs {
		if b.Field == field && b.Key == key {
			return b
		}
	}
	return nil
}

// BlobsOf returns every blob record of the field.
func (a *Artifact) BlobsOf(field string) []*Blob {
	var out []*Blob
	for _, b := range a.Blobs {
		if b.Field == field {
			out = append(out, b)
		}
	}
	return out
}

// Change is a set of field changes applied atomically by Update. Column
// values are keyed by base field name. A nil property value removes the
// property.
type Change struct {
	Columns    map[string]any
	Properties map[string]any
}

var artifactColumns = []string{
	"id", "type_name", "name", "version", "owner", "visibility", "status",
	"description", "created_at", "updated_at", "activated_at", "revision",
}

var updatableColumns = map[string]bool{
	typeschema.FieldName:        true,
	typeschema.FieldVersion:     true,
	typeschema.FieldVisibility:  true,
	typeschema.FieldStatus:      true,
	typeschema.FieldDescription: true,
	typeschema.FieldActivatedAt: true,
}

type versionParts struct {
	major, minor, patch int64
	stable              bool
	pre                 string
}

func splitVersion(v string) versionParts {
	sv, err := semver.Parse(v)
	if err != nil {
		return versionParts{stable: true}
	}
	parts := versionParts{
		major:  int64(sv.Major),
		minor:  int64(sv.Minor),
		patch:  int64(sv.Patch),
		stable: len(sv.Pre) == 0,
	}
	pre := make([]string, 0, len(sv.Pre))
	for _, p := range sv.Pre {
		pre = append(pre, p.String())
	}
	parts.pre = strings.Join(pre, ".")
	return parts
}

// Create persists a new artifact and its properties. A missing id is
// generated.
func (s *Store) Create(ctx context.Context, a *Artifact) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	ts := now()
	a.CreatedAt, a.UpdatedAt, a.Revision = ts, ts, 1
	if a.Version == "" {
		a.Version = typeschema.DefaultVersion
	}
	err := s.withTx(ctx, func(q *queries) error {
		vp := splitVersion(a.Version)
		query, args := q.builder().Insert(ArtifactsTable.Name).
			Columns(append(artifactColumns,
				"version_major", "version_minor", "version_patch", "version_stable", "version_pre")...).
			Values(a.ID, a.TypeName, a.Name, a.Version, a.Owner, a.Visibility, a.Status,
				a.Description, a.CreatedAt, a.UpdatedAt, a.ActivatedAt, a.Revision,
				vp.major, vp.minor, vp.patch, vp.stable, vp.pre).
			Query()
		if _, err := q.exec(ctx, query, args); err != nil {
			return err
		}
		return q.insertProperties(ctx, a.ID, a.Properties)
	})
	if err != nil {
		return "", err
	}
	log.Debugf("Created artifact %s/%s", a.TypeName, a.ID)
	return a.ID, nil
}

// Get returns the artifact with its properties and blob records.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	var arts []*Artifact
	err := s.withReadTx(ctx, func(q *queries) error {
		b := q.builder()
		t := b.Table(ArtifactsTable.Name)
		query, args := b.Select(qualified(t, artifactColumns)...).From(t).Where(entsql.EQ(t.C("id"), id)).Query()
		var err error
		if arts, err = q.scanArtifacts(ctx, query, args); err != nil {
			return err
		}
		if len(arts) == 0 {
			return errors.NewNotFound(errors.WithResourceType(errors.ArtifactType), errors.WithResourceName(id))
		}
		return q.loadDetails(ctx, arts)
	})
	if err != nil {
		return nil, err
	}
	return arts[0], nil
}

// Update applies the change if the stored revision still equals
// expectedRevision, bumping the revision. A mismatch is reported as a
// conflict.
func (s *Store) Update(ctx context.Context, id string, change *Change, expectedRevision int64) (*Artifact, error) {
	err := s.withTx(ctx, func(q *queries) error {
		upd := q.builder().Update(ArtifactsTable.Name).
			Set("updated_at", now()).
			Add("revision", 1).
			Where(entsql.And(entsql.EQ("id", id), entsql.EQ("revision", expectedRevision)))
		for _, name := range sortedNames(change.Columns) {
			if !updatableColumns[name] {
				return errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
					errors.WithResourceName(name), errors.WithMessage("cannot be updated"))
			}
			v := change.Columns[name]
			if v == nil {
				upd.SetNull(name)
				continue
			}
			upd.Set(name, v)
			if name == typeschema.FieldVersion {
				vp := splitVersion(v.(string))
				upd.Set("version_major", vp.major).Set("version_minor", vp.minor).
					Set("version_patch", vp.patch).Set("version_stable", vp.stable).Set("version_pre", vp.pre)
			}
		}
		query, args := upd.Query()
		res, err := q.exec(ctx, query, args)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return q.revisionMismatch(ctx, id, expectedRevision)
		}
		if len(change.Properties) == 0 {
			return nil
		}
		names := make([]any, 0, len(change.Properties))
		for _, name := range sortedNames(change.Properties) {
			names = append(names, name)
		}
		query, args = q.builder().Delete(ArtifactPropertiesTable.Name).
			Where(entsql.And(entsql.EQ("artifact_id", id), entsql.In("name", names...))).
			Query()
		if _, err := q.exec(ctx, query, args); err != nil {
			return err
		}
		return q.insertProperties(ctx, id, change.Properties)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (q *queries) revisionMismatch(ctx context.Context, id string, expected int64) error {
	query, args := q.builder().Select("revision").From(q.builder().Table(ArtifactsTable.Name)).
		Where(entsql.EQ("id", id)).Query()
	rows, err := q.query(ctx, query, args)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		return errors.NewNotFound(errors.WithResourceType(errors.ArtifactType), errors.WithResourceName(id))
	}
	var current int64
	if err := rows.Scan(&current); err != nil {
		return errors.NewDBError(errors.WithError(err))
	}
	return errors.NewConflict(errors.WithResourceType(errors.ArtifactType), errors.WithResourceName(id),
		errors.WithMessage("expected revision %d, found %d", expected, current))
}

// Delete physically removes the artifact with its properties and blob records.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(q *queries) error {
		for _, table := range []string{ArtifactPropertiesTable.Name, ArtifactBlobsTable.Name} {
			query, args := q.builder().Delete(table).Where(entsql.EQ("artifact_id", id)).Query()
			if _, err := q.exec(ctx, query, args); err != nil {
				return err
			}
		}
		query, args := q.builder().Delete(ArtifactsTable.Name).Where(entsql.EQ("id", id)).Query()
		res, err := q.exec(ctx, query, args)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NewNotFound(errors.WithResourceType(errors.ArtifactType), errors.WithResourceName(id))
		}
		return nil
	})
}

func (q *queries) scanArtifacts(ctx context.Context, query string, args []any) ([]*Artifact, error) {
	rows, err := q.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var arts []*Artifact
	for rows.Next() {
		a := &Artifact{Properties: map[string]any{}}
		var activated sql.NullTime
		if err := rows.Scan(&a.ID, &a.TypeName, &a.Name, &a.Version, &a.Owner, &a.Visibility, &a.Status,
			&a.Description, &a.CreatedAt, &a.UpdatedAt, &activated, &a.Revision); err != nil {
			return nil, errors.NewDBError(errors.WithError(err))
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		if activated.Valid {
			at := activated.Time.UTC()
			a.ActivatedAt = &at
		}
		arts = append(arts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError(errors.WithError(err))
	}
	return arts, nil
}

// loadDetails fills in properties and blob records of the artifacts.
func (q *queries) loadDetails(ctx context.Context, arts []*Artifact) error {
	if len(arts) == 0 {
		return nil
	}
	byID := make(map[string]*Artifact, len(arts))
	ids := make([]any, 0, len(arts))
	for _, a := range arts {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}
	if err := q.loadProperties(ctx, ids, byID); err != nil {
		return err
	}
	blobs, err := q.blobsOf(ctx, ids...)
	if err != nil {
		return err
	}
	for _, bl := range blobs {
		if a, ok := byID[bl.ArtifactID]; ok {
			a.Blobs = append(a.Blobs, bl)
		}
	}
	return nil
}

func qualified(t *entsql.SelectTable, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = t.C(c)
	}
	return out
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
