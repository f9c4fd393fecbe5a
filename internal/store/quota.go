// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// Quota is a per-project limit override. Name is either a global quota name
// or "<name>:<type>".
type Quota struct {
	ProjectID string
	Name      string
	Value     int64
}

// SetQuotas replaces the listed project quotas atomically.
func (s *Store) SetQuotas(ctx context.Context, quotas []*Quota) error {
	return s.withTx(ctx, func(q *queries) error {
		for _, quota := range quotas {
			query, args := q.builder().Delete(QuotasTable.Name).
				Where(entsql.And(entsql.EQ("project_id", quota.ProjectID), entsql.EQ("name", quota.Name))).
				Query()
			if _, err := q.exec(ctx, query, args); err != nil {
				return err
			}
			query, args = q.builder().Insert(QuotasTable.Name).Columns("project_id", "name", "value").
				Values(quota.ProjectID, quota.Name, quota.Value).Query()
			if _, err := q.exec(ctx, query, args); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListQuotas returns the quotas of the project, or of every project if
// projectID is empty.
func (s *Store) ListQuotas(ctx context.Context, projectID string) ([]*Quota, error) {
	b := s.builder()
	t := b.Table(QuotasTable.Name)
	sel := b.Select(t.C("project_id"), t.C("name"), t.C("value")).From(t).
		OrderBy(t.C("project_id"), t.C("name"))
	if projectID != "" {
		sel.Where(entsql.EQ(t.C("project_id"), projectID))
	}
	query, args := sel.Query()
	rows, err := s.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quotas []*Quota
	for rows.Next() {
		quota := &Quota{}
		if err := rows.Scan(&quota.ProjectID, &quota.Name, &quota.Value); err != nil {
			return nil, errors.NewDBError(errors.WithError(err))
		}
		quotas = append(quotas, quota)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError(errors.WithError(err))
	}
	return quotas, nil
}

// CountArtifacts returns the number of artifacts owned by the project,
// optionally restricted to one type.
func (s *Store) CountArtifacts(ctx context.Context, owner string, typeName string) (int64, error) {
	b := s.builder()
	t := b.Table(ArtifactsTable.Name)
	preds := []*entsql.Predicate{entsql.EQ(t.C("owner"), owner)}
	if typeName != "" {
		preds = append(preds, entsql.EQ(t.C("type_name"), typeName))
	}
	query, args := b.Select().Count().From(t).Where(entsql.And(preds...)).Query()
	return s.scalar(ctx, query, args)
}

// UploadedData returns the number of bytes the project keeps in blob
// backends, counting blobs being saved with their reserved size. External
// blobs are not counted.
func (s *Store) UploadedData(ctx context.Context, owner string, typeName string) (int64, error) {
	b := s.builder()
	a := b.Table(ArtifactsTable.Name)
	bl := b.Table(ArtifactBlobsTable.Name)
	preds := []*entsql.Predicate{
		entsql.EQ(a.C("owner"), owner),
		entsql.In(bl.C("status"), string(BlobSaving), string(BlobActive)),
		entsql.EQ(bl.C("external"), false),
	}
	if typeName != "" {
		preds = append(preds, entsql.EQ(a.C("type_name"), typeName))
	}
	query, args := b.Select(entsql.Sum(bl.C("size"))).From(bl).
		Join(a).On(bl.C("artifact_id"), a.C("id")).
		Where(entsql.And(preds...)).Query()
	return s.scalar(ctx, query, args)
}

// Scope identifies artifacts that must be unique. Public artifacts are unique
// across all owners, private ones within their owner.
type Scope struct {
	TypeName  string
	Name      string
	Version   string
	Owner     string
	Public    bool
	ExcludeID string
}

// CountInScope returns the number of live artifacts sharing the scope.
func (s *Store) CountInScope(ctx context.Context, scope Scope) (int64, error) {
	b := s.builder()
	t := b.Table(ArtifactsTable.Name)
	preds := []*entsql.Predicate{
		entsql.EQ(t.C("type_name"), scope.TypeName),
		entsql.EQ(t.C("name"), scope.Name),
		entsql.EQ(t.C("version"), scope.Version),
		entsql.NEQ(t.C("status"), typeschema.StatusDeleted),
	}
	if scope.Public {
		preds = append(preds, entsql.EQ(t.C("visibility"), typeschema.VisibilityPublic))
	} else {
		preds = append(preds, entsql.EQ(t.C("owner"), scope.Owner))
	}
	if scope.ExcludeID != "" {
		preds = append(preds, entsql.NEQ(t.C("id"), scope.ExcludeID))
	}
	query, args := b.Select().Count().From(t).Where(entsql.And(preds...)).Query()
	return s.scalar(ctx, query, args)
}

func (q *queries) scalar(ctx context.Context, query string, args []any) (int64, error) {
	rows, err := q.query(ctx, query, args)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n sql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, errors.NewDBError(errors.WithError(err))
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.NewDBError(errors.WithError(err))
	}
	return n.Int64, nil
}
