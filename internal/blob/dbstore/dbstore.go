// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package dbstore keeps blob data in the metadata database as a sequence of
// optionally compressed chunks.
package dbstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

const (
	Scheme = "db"

	// DefaultChunkSize is the number of uncompressed bytes kept per row.
	DefaultChunkSize = 1 << 20

	encodingNone = ""
	encodingZstd = "zstd"
)

var (
	// BlobChunksColumns holds the columns for the "blob_chunks" table.
	BlobChunksColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "blob_id", Type: field.TypeString, Size: 64},
		{Name: "seq", Type: field.TypeInt},
		{Name: "encoding", Type: field.TypeString, Size: 16, Default: ""},
		{Name: "data", Type: field.TypeBytes},
	}
	// BlobChunksTable holds the schema information for the "blob_chunks" table.
	BlobChunksTable = &schema.Table{
		Name:       "blob_chunks",
		Columns:    BlobChunksColumns,
		PrimaryKey: []*schema.Column{BlobChunksColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "blobchunk_blob_id_seq",
				Unique:  true,
				Columns: []*schema.Column{BlobChunksColumns[1], BlobChunksColumns[2]},
			},
		},
	}
)

// Store is a blob backend writing to the blob_chunks table.
type Store struct {
	drv       *entsql.Driver
	chunkSize int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

type Option func(*Store) error

// WithCompression compresses every chunk with zstd.
func WithCompression() Option {
	return WithCompressionLevel(zstd.SpeedDefault)
}

// WithCompressionLevel compresses every chunk with zstd at the level.
func WithCompressionLevel(level zstd.EncoderLevel) Option {
	return func(s *Store) error {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		s.encoder = enc
		return nil
	}
}

func WithChunkSize(n int) Option {
	return func(s *Store) error {
		if n > 0 {
			s.chunkSize = n
		}
		return nil
	}
}

// New returns a backend using the driver. The blob_chunks table must have
// been migrated.
func New(drv *entsql.Driver, opts ...Option) (*Store, error) {
	s := &Store{drv: drv, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	var err error
	// compressed chunks are readable whether or not compression is enabled
	if s.decoder, err = zstd.NewReader(nil); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Scheme() string {
	return Scheme
}

// Put writes the data as chunks under a new id. Chunks only become reachable
// through the returned location; on failure the chunks written so far are
// removed.
func (s *Store) Put(ctx context.Context, hint string, r io.Reader) (string, int64, string, error) {
	id := uuid.NewString()
	location := Scheme + "://" + id
	buf := make([]byte, s.chunkSize)
	var size int64
	for seq := 0; ; seq++ {
		n, rerr := fill(r, buf)
		// an empty blob still gets its first chunk
		if n > 0 || seq == 0 {
			if err := s.writeChunk(ctx, id, seq, buf[:n]); err != nil {
				s.cleanup(id)
				return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Location: location, Err: err}
			}
			size += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			s.cleanup(id)
			return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Location: location, Err: rerr}
		}
	}
	log.Debugf("Stored %d bytes for %s at %s", size, hint, location)
	return location, size, "", nil
}

// fill reads until buf is full or r fails. Unlike io.ReadFull it reports the
// reader's own error unchanged.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Store) writeChunk(ctx context.Context, id string, seq int, data []byte) error {
	encoding := encodingNone
	if s.encoder != nil {
		data = s.encoder.EncodeAll(data, make([]byte, 0, len(data)))
		encoding = encodingZstd
	}
	query, args := entsql.Dialect(s.drv.Dialect()).Insert(BlobChunksTable.Name).
		Columns("blob_id", "seq", "encoding", "data").
		Values(id, seq, encoding, data).
		Query()
	var res sql.Result
	return s.drv.Exec(ctx, query, args, &res)
}

func (s *Store) cleanup(id string) {
	if err := s.delete(context.Background(), id); err != nil {
		log.Warnf("Failed to remove partial blob %s: %v", id, err)
	}
}

// Get streams the chunks of the location in order, reading one chunk at a
// time.
func (s *Store) Get(ctx context.Context, location string) (io.ReadCloser, error) {
	id, err := parseLocation(location)
	if err != nil {
		return nil, err
	}
	n, err := s.count(ctx, id)
	if err != nil {
		return nil, &blob.BackendError{Backend: Scheme, Op: "get", Location: location, Err: err}
	}
	if n == 0 {
		return nil, &blob.BackendError{Backend: Scheme, Op: "get", Location: location, Err: fmt.Errorf("no data")}
	}
	return &chunkReader{ctx: ctx, store: s, id: id, location: location, chunks: n}, nil
}

// Delete removes every chunk of the location.
func (s *Store) Delete(ctx context.Context, location string) error {
	id, err := parseLocation(location)
	if err != nil {
		return err
	}
	if err := s.delete(ctx, id); err != nil {
		return &blob.BackendError{Backend: Scheme, Op: "delete", Location: location, Err: err}
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	query, args := entsql.Dialect(s.drv.Dialect()).Delete(BlobChunksTable.Name).
		Where(entsql.EQ("blob_id", id)).Query()
	var res sql.Result
	return s.drv.Exec(ctx, query, args, &res)
}

func (s *Store) count(ctx context.Context, id string) (int, error) {
	b := entsql.Dialect(s.drv.Dialect())
	t := b.Table(BlobChunksTable.Name)
	query, args := b.Select().Count().From(t).Where(entsql.EQ(t.C("blob_id"), id)).Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func (s *Store) chunk(ctx context.Context, id string, seq int) ([]byte, error) {
	b := entsql.Dialect(s.drv.Dialect())
	t := b.Table(BlobChunksTable.Name)
	query, args := b.Select(t.C("encoding"), t.C("data")).From(t).
		Where(entsql.And(entsql.EQ(t.C("blob_id"), id), entsql.EQ(t.C("seq"), seq))).Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	var (
		encoding string
		data     []byte
	)
	found := rows.Next()
	if found {
		if err := rows.Scan(&encoding, &data); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("chunk %d missing", seq)
	}
	if encoding == encodingZstd {
		return s.decoder.DecodeAll(data, nil)
	}
	return data, nil
}

type chunkReader struct {
	ctx      context.Context
	store    *Store
	id       string
	location string
	chunks   int
	next     int
	buf      bytes.Reader
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		if c.next >= c.chunks {
			return 0, io.EOF
		}
		data, err := c.store.chunk(c.ctx, c.id, c.next)
		if err != nil {
			return 0, &blob.BackendError{Backend: Scheme, Op: "get", Location: c.location, Err: err}
		}
		c.buf.Reset(data)
		c.next++
	}
	return c.buf.Read(p)
}

func (c *chunkReader) Close() error {
	return nil
}

func parseLocation(location string) (string, error) {
	id, ok := strings.CutPrefix(location, Scheme+"://")
	if !ok || id == "" {
		return "", &blob.BackendError{Backend: Scheme, Op: "parse", Location: location,
			Err: fmt.Errorf("not a %s location", Scheme)}
	}
	return id, nil
}
