// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
)

// BlobStatus is the lifecycle state of a single blob.
type BlobStatus string

const (
	BlobSaving        BlobStatus = "saving"
	BlobActive        BlobStatus = "active"
	BlobError         BlobStatus = "error"
	BlobPendingDelete BlobStatus = "pending_delete"
)

// Blob is the metadata of binary data held in a blob field, or in one key of
// a blob dict field. Field-level blobs have an empty Key.
type Blob struct {
	ID          string
	ArtifactID  string
	Field       string
	Key         string
	Status      BlobStatus
	Size        int64
	Checksum    string
	MD5         string
	SHA1        string
	SHA256      string
	BLAKE3      string
	Location    string
	External    bool
	ContentType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var blobColumns = []string{
	"id", "artifact_id", "field_name", "key_name", "status", "size", "checksum", "md5", "sha1", "sha256",
	"blake3", "location", "external", "content_type", "created_at", "updated_at",
}

// SaveBlob inserts the blob record, or replaces the record held in the same
// field and key. Saving a blob does not change the artifact revision.
func (s *Store) SaveBlob(ctx context.Context, b *Blob) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	ts := now()
	b.UpdatedAt = ts
	if b.CreatedAt.IsZero() {
		b.CreatedAt = ts
	}
	return s.withTx(ctx, func(q *queries) error {
		query, args := q.builder().Delete(ArtifactBlobsTable.Name).
			Where(entsql.And(
				entsql.EQ("artifact_id", b.ArtifactID),
				entsql.EQ("field_name", b.Field),
				entsql.EQ("key_name", b.Key),
			)).Query()
		if _, err := q.exec(ctx, query, args); err != nil {
			return err
		}
		query, args = q.builder().Insert(ArtifactBlobsTable.Name).Columns(blobColumns...).
			Values(b.ID, b.ArtifactID, b.Field, b.Key, string(b.Status), b.Size, b.Checksum, b.MD5, b.SHA1,
				b.SHA256, b.BLAKE3, b.Location, b.External, b.ContentType, b.CreatedAt, b.UpdatedAt).
			Query()
		_, err := q.exec(ctx, query, args)
		return err
	})
}

// GetBlob returns the blob record held in the field and key.
func (s *Store) GetBlob(ctx context.Context, artifactID string, field string, key string) (*Blob, error) {
	b := s.builder()
	t := b.Table(ArtifactBlobsTable.Name)
	query, args := b.Select(qualified(t, blobColumns)...).From(t).
		Where(entsql.And(
			entsql.EQ(t.C("artifact_id"), artifactID),
			entsql.EQ(t.C("field_name"), field),
			entsql.EQ(t.C("key_name"), key),
		)).Query()
	blobs, err := s.scanBlobs(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(blobs) == 0 {
		return nil, errors.NewNotFound(errors.WithResourceType(errors.BlobType), errors.WithResourceName(blobName(field, key)))
	}
	return blobs[0], nil
}

// ListBlobs returns every blob record of the artifact.
func (s *Store) ListBlobs(ctx context.Context, artifactID string) ([]*Blob, error) {
	return s.blobsOf(ctx, artifactID)
}

// SetBlobStatus moves a blob from one status to another. It fails with a
// conflict if the blob is no longer in the expected status.
func (s *Store) SetBlobStatus(ctx context.Context, id string, from BlobStatus, to BlobStatus) error {
	query, args := s.builder().Update(ArtifactBlobsTable.Name).
		Set("status", string(to)).
		Set("updated_at", now()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(from)))).
		Query()
	res, err := s.exec(ctx, query, args)
	if err != nil {
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewConflict(errors.WithResourceType(errors.BlobType), errors.WithResourceName(id),
			errors.WithMessage("blob is no longer %s", from))
	}
	return nil
}

// CompleteBlob records the outcome of an upload on a blob that is still
// being saved: its status, size, checksums and location.
func (s *Store) CompleteBlob(ctx context.Context, b *Blob) error {
	b.UpdatedAt = now()
	query, args := s.builder().Update(ArtifactBlobsTable.Name).
		Set("status", string(b.Status)).
		Set("size", b.Size).
		Set("checksum", b.Checksum).
		Set("md5", b.MD5).
		Set("sha1", b.SHA1).
		Set("sha256", b.SHA256).
		Set("blake3", b.BLAKE3).
		Set("location", b.Location).
		Set("content_type", b.ContentType).
		Set("updated_at", b.UpdatedAt).
		Where(entsql.And(entsql.EQ("id", b.ID), entsql.EQ("status", string(BlobSaving)))).
		Query()
	res, err := s.exec(ctx, query, args)
	if err != nil {
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewConflict(errors.WithResourceType(errors.BlobType), errors.WithResourceName(b.ID),
			errors.WithMessage("blob is no longer saving"))
	}
	return nil
}

// DeleteBlob removes the blob record.
func (s *Store) DeleteBlob(ctx context.Context, id string) error {
	query, args := s.builder().Delete(ArtifactBlobsTable.Name).Where(entsql.EQ("id", id)).Query()
	res, err := s.exec(ctx, query, args)
	if err != nil {
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFound(errors.WithResourceType(errors.BlobType), errors.WithResourceName(id))
	}
	return nil
}

// CountBlobsAt returns the number of blob records pointing at the location.
func (s *Store) CountBlobsAt(ctx context.Context, location string) (int64, error) {
	b := s.builder()
	t := b.Table(ArtifactBlobsTable.Name)
	query, args := b.Select().Count().From(t).Where(entsql.EQ(t.C("location"), location)).Query()
	return s.scalar(ctx, query, args)
}

func (q *queries) blobsOf(ctx context.Context, artifactIDs ...any) ([]*Blob, error) {
	b := q.builder()
	t := b.Table(ArtifactBlobsTable.Name)
	query, args := b.Select(qualified(t, blobColumns)...).From(t).
		Where(entsql.In(t.C("artifact_id"), artifactIDs...)).
		OrderBy(t.C("artifact_id"), t.C("field_name"), t.C("key_name")).
		Query()
	return q.scanBlobs(ctx, query, args)
}

func (q *queries) scanBlobs(ctx context.Context, query string, args []any) ([]*Blob, error) {
	rows, err := q.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blobs []*Blob
	for rows.Next() {
		b := &Blob{}
		var status string
		if err := rows.Scan(&b.ID, &b.ArtifactID, &b.Field, &b.Key, &status, &b.Size, &b.Checksum, &b.MD5,
			&b.SHA1, &b.SHA256, &b.BLAKE3, &b.Location, &b.External, &b.ContentType, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, errors.NewDBError(errors.WithError(err))
		}
		b.Status = BlobStatus(status)
		b.CreatedAt = b.CreatedAt.UTC()
		b.UpdatedAt = b.UpdatedAt.UTC()
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError(errors.WithError(err))
	}
	return blobs, nil
}

func blobName(field string, key string) string {
	if key == "" {
		return field
	}
	return field + "/" + key
}
