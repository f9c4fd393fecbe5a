// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"

	atlas "ariga.io/atlas/sql/migrate"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
)

// MigrateDiff writes a named versioned migration file into dir holding the
// statements that bring the database behind drv to the current store schema.
// The database must be a disposable development database.
func MigrateDiff(ctx context.Context, drv *entsql.Driver, dir string, name string, extra ...*schema.Table) error {
	local, err := atlas.NewLocalDir(dir)
	if err != nil {
		return err
	}
	m, err := schema.NewMigrate(drv,
		schema.WithDir(local),
		schema.WithMigrationMode(schema.ModeReplay),
		schema.WithDialect(drv.Dialect()),
		schema.WithFormatter(atlas.DefaultFormatter),
	)
	if err != nil {
		return err
	}
	tables := append(append([]*schema.Table{}, Tables...), extra...)
	return m.NamedDiff(ctx, name, tables...)
}

// MoveProject hands the artifacts and quotas of one project over to another.
// It returns the number of artifacts moved.
func (s *Store) MoveProject(ctx context.Context, from string, to string) (int64, error) {
	var moved int64
	err := s.withTx(ctx, func(q *queries) error {
		query, args := q.builder().Update(ArtifactsTable.Name).Set("owner", to).
			Where(entsql.EQ("owner", from)).Query()
		res, err := q.exec(ctx, query, args)
		if err != nil {
			return err
		}
		if moved, err = rowsAffected(res); err != nil {
			return err
		}
		query, args = q.builder().Update(QuotasTable.Name).Set("project_id", to).
			Where(entsql.EQ("project_id", from)).Query()
		_, err = q.exec(ctx, query, args)
		return err
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
