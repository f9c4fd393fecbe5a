// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package ocistore keeps blob data as content-addressed blobs in an OCI
// registry repository.
package ocistore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/shared/version"
	"github.com/open-edge-platform/orch-library/go/dazl"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

var log = dazl.GetPackageLogger()

const Scheme = "oci"

// MediaType of the blobs pushed by the backend.
const MediaType = "application/vnd.artifacts.blob.v1"

// Repository is the part of an OCI repository used by the backend. Remote
// repositories and OCI image layouts both satisfy it.
type Repository interface {
	content.Storage
	content.Deleter
}

// Store is a blob backend pushing data to one repository.
type Store struct {
	repo Repository
	name string
}

// New returns a backend over the repository. The name is recorded in
// locations and must identify the repository.
func New(repo Repository, name string) *Store {
	return &Store{repo: repo, name: name}
}

// Credentials for a remote registry. An access token takes precedence over
// the username and password.
type Credentials struct {
	Username    string
	Password    string
	AccessToken string
}

// NewRemote returns a backend over a remote repository such as
// "registry.example.com/artifacts/blobs".
func NewRemote(reference string, creds Credentials, plainHTTP bool) (*Store, error) {
	repo, err := remote.NewRepository(reference)
	if err != nil {
		return nil, &blob.BackendError{Backend: Scheme, Op: "connect", Location: reference, Err: err}
	}
	repo.PlainHTTP = plainHTTP
	host := repo.Reference.Registry
	client := &auth.Client{
		Client: retry.DefaultClient,
		Header: auth.DefaultClient.Header.Clone(),
		Cache:  auth.NewCache(),
	}
	switch {
	case creds.AccessToken != "":
		client.Credential = auth.StaticCredential(host, auth.Credential{AccessToken: creds.AccessToken})
	case creds.Username != "":
		client.Credential = auth.StaticCredential(host, auth.Credential{Username: creds.Username, Password: creds.Password})
	}
	client.SetUserAgent(version.Current().UserAgent())
	repo.Client = client
	return New(repo, reference), nil
}

func (s *Store) Scheme() string {
	return Scheme
}

// Put spools the data to a temporary file to learn its digest and size, then
// pushes it unless the repository already holds the same content.
func (s *Store) Put(ctx context.Context, hint string, r io.Reader) (string, int64, string, error) {
	f, err := os.CreateTemp("", "blob-*")
	if err != nil {
		return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Err: err}
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	digester := digest.Canonical.Digester()
	size, err := io.Copy(io.MultiWriter(f, digester.Hash()), r)
	if err != nil {
		return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Err: err}
	}
	desc := ocispec.Descriptor{MediaType: MediaType, Digest: digester.Digest(), Size: size}
	location := s.location(desc)

	exists, err := s.repo.Exists(ctx, desc)
	if err != nil {
		return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Location: location, Err: err}
	}
	if !exists {
		if err := s.repo.Push(ctx, desc, f); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
			return "", 0, "", &blob.BackendError{Backend: Scheme, Op: "put", Location: location, Err: err}
		}
	}
	log.Debugf("Pushed %d bytes for %s to %s", size, hint, location)
	return location, size, desc.Digest.String(), nil
}

// Get fetches the blob at the location.
func (s *Store) Get(ctx context.Context, location string) (io.ReadCloser, error) {
	desc, err := s.parse(location)
	if err != nil {
		return nil, err
	}
	rc, err := s.repo.Fetch(ctx, desc)
	if err != nil {
		return nil, &blob.BackendError{Backend: Scheme, Op: "get", Location: location, Err: err}
	}
	return rc, nil
}

// Exists reports whether the repository still holds the blob at the location.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	desc, err := s.parse(location)
	if err != nil {
		return false, err
	}
	found, err := s.repo.Exists(ctx, desc)
	if err != nil {
		return false, &blob.BackendError{Backend: Scheme, Op: "exists", Location: location, Err: err}
	}
	return found, nil
}

// Delete removes the blob at the location. A blob already gone is not an
// error.
func (s *Store) Delete(ctx context.Context, location string) error {
	desc, err := s.parse(location)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, desc); err != nil && !isNotFound(err) {
		return &blob.BackendError{Backend: Scheme, Op: "delete", Location: location, Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errdef.ErrNotFound)
}

func (s *Store) location(desc ocispec.Descriptor) string {
	return fmt.Sprintf("%s://%s@%s?size=%d", Scheme, s.name, desc.Digest, desc.Size)
}

// parse reads a location of the form oci://<repository>@<digest>?size=<n>.
func (s *Store) parse(location string) (ocispec.Descriptor, error) {
	fail := func(err error) (ocispec.Descriptor, error) {
		return ocispec.Descriptor{}, &blob.BackendError{Backend: Scheme, Op: "parse", Location: location, Err: err}
	}
	rest, ok := strings.CutPrefix(location, Scheme+"://")
	if !ok {
		return fail(fmt.Errorf("not an %s location", Scheme))
	}
	rest, query, _ := strings.Cut(rest, "?")
	i := strings.LastIndex(rest, "@")
	if i < 0 {
		return fail(fmt.Errorf("missing digest"))
	}
	if rest[:i] != s.name {
		return fail(fmt.Errorf("location belongs to repository %s", rest[:i]))
	}
	d, err := digest.Parse(rest[i+1:])
	if err != nil {
		return fail(err)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return fail(err)
	}
	size, err := strconv.ParseInt(values.Get("size"), 10, 64)
	if err != nil {
		return fail(fmt.Errorf("invalid size: %w", err))
	}
	return ocispec.Descriptor{MediaType: MediaType, Digest: d, Size: size}, nil
}
