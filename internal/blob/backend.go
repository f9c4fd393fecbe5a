// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package blob

//go:generate mockgen -destination=blobmock/mock_backend.go -package=blobmock . Backend

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/internal/shared/verboseerror"
)

// Backend stores blob bytes. Locations returned by Put start with the
// backend scheme followed by "://".
type Backend interface {
	Scheme() string
	// Put stores the bytes read from r. The hint identifies the blob and may be
	// used to derive the location. The checksum, when not empty, is a
	// "sha256:" digest of the stored bytes.
	Put(ctx context.Context, hint string, r io.Reader) (location string, size int64, checksum string, err error)
	Get(ctx context.Context, location string) (io.ReadCloser, error)
	// Delete removes the bytes at the location. Deleting a missing location
	// succeeds.
	Delete(ctx context.Context, location string) error
}

// SharedContent is implemented by backends that keep identical data at one
// location shared by every blob holding it.
type SharedContent interface {
	Exists(ctx context.Context, location string) (bool, error)
}

// SchemeOf returns the scheme of a backend location.
func SchemeOf(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	return location[:i]
}

// BackendError is returned by backends when the storage tier fails.
type BackendError struct {
	Backend  string
	Op       string
	Location string

	Err error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s backend: %s failed", e.Backend, e.Op)
	if e.Location != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.Location)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BackendError) Verbose(wr io.Writer) {
	errTemplate := `------------------------------------------------------------
Blob storage error
------------------------------------------------------------
Backend:       {{.Backend}}
Operation:     {{.Op}}
{{ if .Location -}}
Location:      {{.Location}}
{{end -}}
{{- if .Err -}}
Wrapped Error: {{.Err}}
{{end}}
Check that the storage backend is reachable and that its credentials are valid.
`
	verboseerror.WriteErrorTemplate("BackendError", errTemplate, wr, e)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
