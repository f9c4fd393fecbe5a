// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ocistore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/shared/version"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

func newBackend(t *testing.T) *Store {
	layout, err := oci.New(t.TempDir())
	require.NoError(t, err)
	return New(layout, "local/blobs")
}

func TestPutGetDelete(t *testing.T) {
	s := newBackend(t)
	ctx := context.Background()
	data := "layer data"
	d := digest.FromString(data)

	location, size, checksum, err := s.Put(ctx, "hint", strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "oci://local/blobs@"+d.String()+"?size=10", location)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, d.String(), checksum)
	assert.Equal(t, Scheme, blob.SchemeOf(location))

	// identical content maps to the same location
	again, _, _, err := s.Put(ctx, "other", strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, location, again)

	rc, err := s.Get(ctx, location)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, string(got))

	found, err := s.Exists(ctx, location)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.Delete(ctx, location))
	require.NoError(t, s.Delete(ctx, location))
	found, err = s.Exists(ctx, location)
	require.NoError(t, err)
	assert.False(t, found)
	_, err = s.Get(ctx, location)
	var be *blob.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "get", be.Op)
}

func TestPutReaderFailure(t *testing.T) {
	s := newBackend(t)
	boom := errors.New("stream broken")
	_, _, _, err := s.Put(context.Background(), "hint", io.MultiReader(strings.NewReader("abc"), &errReader{boom}))
	assert.ErrorIs(t, err, boom)
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

func TestParseLocation(t *testing.T) {
	s := newBackend(t)
	d := digest.FromString("x")
	for _, bad := range []string{
		"db://abc",
		"oci://local/blobs",
		"oci://other/repo@" + d.String() + "?size=1",
		"oci://local/blobs@sha256:zz?size=1",
		"oci://local/blobs@" + d.String(),
	} {
		_, err := s.parse(bad)
		assert.Error(t, err, bad)
	}
	desc, err := s.parse("oci://local/blobs@" + d.String() + "?size=1")
	require.NoError(t, err)
	assert.Equal(t, d, desc.Digest)
	assert.Equal(t, int64(1), desc.Size)
}

func TestNewRemote(t *testing.T) {
	s, err := NewRemote("registry.example.com/artifacts/blobs", Credentials{AccessToken: "token"}, true)
	require.NoError(t, err)
	assert.Equal(t, Scheme, s.Scheme())
	client := s.repo.(*remote.Repository).Client.(*auth.Client)
	assert.Equal(t, version.Current().UserAgent(), client.Header.Get("User-Agent"))

	_, err = NewRemote("not a reference", Credentials{}, false)
	assert.Error(t, err)
}
