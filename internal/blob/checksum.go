// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"crypto/md5" //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
)

// Checksums of a blob computed while it streams to the backend.
type Checksums struct {
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
	BLAKE3 string
	// Digest is the sha256 digest in "sha256:<hex>" form.
	Digest digest.Digest
}

// hashingReader computes every checksum of the bytes read through it.
type hashingReader struct {
	r      io.Reader
	md5    hash.Hash
	sha1   hash.Hash
	sha256 digest.Digester
	blake3 *blake3.Hasher
	w      io.Writer
	n      int64
}

func newHashingReader(r io.Reader) *hashingReader {
	h := &hashingReader{
		r:      r,
		md5:    md5.New(), //nolint:gosec
		sha1:   sha1.New(), //nolint:gosec
		sha256: digest.Canonical.Digester(),
		blake3: blake3.New(),
	}
	h.w = io.MultiWriter(h.md5, h.sha1, h.sha256.Hash(), h.blake3)
	return h
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.n += int64(n)
		_, _ = h.w.Write(p[:n])
	}
	return n, err
}

func (h *hashingReader) Checksums() *Checksums {
	d := h.sha256.Digest()
	return &Checksums{
		Size:   h.n,
		MD5:    hex.EncodeToString(h.md5.Sum(nil)),
		SHA1:   hex.EncodeToString(h.sha1.Sum(nil)),
		SHA256: d.Encoded(),
		BLAKE3: hex.EncodeToString(h.blake3.Sum(nil)),
		Digest: d,
	}
}

// ErrTooLarge is returned when a stream exceeds the bytes allowed for it.
type ErrTooLarge struct {
	Limit  int64
	Reason string
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("data exceeds %s of %d bytes", e.Reason, e.Limit)
}

// limitedReader fails once more than limit bytes have been read. A negative
// limit disables the check.
type limitedReader struct {
	r      io.Reader
	limit  int64
	reason string
	n      int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.limit >= 0 && l.n > l.limit {
		return 0, &ErrTooLarge{Limit: l.limit, Reason: l.reason}
	}
	return n, err
}

// sizedReader fails with io.ErrUnexpectedEOF if the stream ends before the
// expected number of bytes. A negative size disables the check.
type sizedReader struct {
	r        io.Reader
	expected int64
	n        int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err == io.EOF && s.expected >= 0 && s.n != s.expected {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

// verifyingReader checks the sha256 digest of the data once it has been read
// completely.
type verifyingReader struct {
	rc       io.ReadCloser
	verifier digest.Verifier
	location string
}

func newVerifyingReader(rc io.ReadCloser, d digest.Digest, location string) io.ReadCloser {
	if d == "" || d.Validate() != nil {
		return rc
	}
	return &verifyingReader{
		rc:       rc,
		verifier: d.Verifier(),
		location: location,
	}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	if n > 0 {
		_, _ = v.verifier.Write(p[:n])
	}
	if err == io.EOF && !v.verifier.Verified() {
		return n, &BackendError{Backend: SchemeOf(v.location), Op: "verify", Location: v.location,
			Err: fmt.Errorf("checksum mismatch")}
	}
	return n, err
}

func (v *verifyingReader) Close() error {
	return v.rc.Close()
}
