// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package store persists artifacts, their properties and blob records in a
// relational database.
package store

import (
	"context"
	"database/sql"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

// Store is the metadata store adapter. Every exported operation runs in its
// own transaction or as a single statement.
type Store struct {
	drv *entsql.Driver
	queries
}

type queries struct {
	conn    dialect.ExecQuerier
	dialect string
}

// Open connects to the database. SQLite connections are limited to one so
// that in-memory databases are shared by every query.
func Open(driverName string, dataSource string) (*Store, error) {
	drv, err := entsql.Open(driverName, dataSource)
	if err != nil {
		return nil, err
	}
	if driverName == dialect.SQLite {
		drv.DB().SetMaxOpenConns(1)
	}
	return NewStore(drv), nil
}

// NewStore wraps an existing driver.
func NewStore(drv *entsql.Driver) *Store {
	return &Store{drv: drv, queries: queries{conn: drv, dialect: drv.Dialect()}}
}

func (s *Store) Driver() *entsql.Driver {
	return s.drv
}

func (s *Store) Close() error {
	return s.drv.Close()
}

// Migrate creates or updates the store tables and any extra tables.
func (s *Store) Migrate(ctx context.Context, extra ...*schema.Table) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return err
	}
	tables := append(append([]*schema.Table{}, Tables...), extra...)
	if err := m.Create(ctx, tables...); err != nil {
		return err
	}
	log.Infof("Database schema is up to date (%d tables)", len(tables))
	return nil
}

type tx struct {
	dialect.Tx
	queries
}

var (
	writeTx = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	// reads of an artifact span several statements and must see one snapshot
	readTx = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
)

func (s *Store) startTransaction(ctx context.Context, opts *sql.TxOptions) (*tx, error) {
	t, err := s.drv.BeginTx(ctx, opts)
	if err != nil {
		return nil, errors.NewDBError(errors.WithError(err))
	}
	return &tx{Tx: t, queries: queries{conn: t, dialect: s.dialect}}, nil
}

func commitTransaction(t *tx) error {
	if err := t.Commit(); err != nil {
		return errors.NewDBError(errors.WithError(err))
	}
	return nil
}

func rollbackTransaction(t *tx) {
	if err := t.Rollback(); err != nil {
		log.Warnf("Failed to rollback transaction: %v", err)
	}
}

// withTx runs fn in a transaction, rolling back if fn fails.
func (s *Store) withTx(ctx context.Context, fn func(q *queries) error) error {
	return s.inTx(ctx, writeTx, fn)
}

// withReadTx runs the reads of fn in one read-only snapshot.
func (s *Store) withReadTx(ctx context.Context, fn func(q *queries) error) error {
	return s.inTx(ctx, readTx, fn)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(q *queries) error) error {
	t, err := s.startTransaction(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(&t.queries); err != nil {
		rollbackTransaction(t)
		return err
	}
	return commitTransaction(t)
}

func (q *queries) builder() *entsql.DialectBuilder {
	return entsql.Dialect(q.dialect)
}

func (q *queries) exec(ctx context.Context, query string, args []any) (sql.Result, error) {
	var res sql.Result
	if err := q.conn.Exec(ctx, query, args, &res); err != nil {
		return nil, errors.NewDBError(errors.WithError(err))
	}
	return res, nil
}

func (q *queries) query(ctx context.Context, query string, args []any) (*entsql.Rows, error) {
	rows := &entsql.Rows{}
	if err := q.conn.Query(ctx, query, args, rows); err != nil {
		return nil, errors.NewDBError(errors.WithError(err))
	}
	return rows, nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewDBError(errors.WithError(err))
	}
	return n, nil
}

// now returns the current time at the precision every supported database keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
