// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"io"

	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// UploadOptions describe the data of an upload.
type UploadOptions struct {
	ContentType string
	// Size is the announced length of the data, negative if unknown.
	Size int64
}

func blobLabel(field string, key string) string {
	if key == "" {
		return field
	}
	return field + "/" + key
}

// blobField returns the blob field descriptor the caller may change.
func blobField(c *call, field string) (*fields.Descriptor, error) {
	d, err := c.schema.GetField(field)
	if err != nil {
		return nil, err
	}
	if !d.Kind.IsBlob() {
		return nil, invalidField(field, "is not a blob field")
	}
	if err := writable(c.artifact); err != nil {
		return nil, err
	}
	if err := mutable(d, c.artifact); err != nil {
		return nil, err
	}
	return d, nil
}

// UploadBlob stores the data read from r in a blob field, or in one key of a
// blob dict field. The slot is reserved under the artifact lock, the data is
// streamed without holding it, and the outcome is recorded under the lock
// again.
func (e *Engine) UploadBlob(ctx context.Context, typeName string, id string, field string, key string,
	r io.Reader, opts *UploadOptions) (*store.Artifact, error) {
	if opts == nil {
		opts = &UploadOptions{Size: -1}
	}
	var up *blob.Upload
	err := e.withArtifact(ctx, typeName, id, policy.ArtifactUpload, func(c *call) error {
		d, err := blobField(c, field)
		if err != nil {
			return err
		}
		quotaLeft, err := e.uploadQuotaLeft(ctx, c.artifact.Owner, c.artifact.TypeName)
		if err != nil {
			return err
		}
		up, err = e.blobs.BeginUpload(ctx, &blob.UploadRequest{
			Artifact:     c.artifact,
			Field:        d,
			Key:          key,
			ContentType:  opts.ContentType,
			QuotaLeft:    quotaLeft,
			ExpectedSize: opts.Size,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	up.Relock = func(ctx context.Context) (func(), error) {
		lock, err := e.locker.Acquire(ctx, artifactLockKey(id), e.config.LockTimeout)
		if err != nil {
			return nil, err
		}
		return lock.Release, nil
	}

	b, err := e.blobs.StreamUpload(ctx, up, r)
	if err != nil {
		return nil, err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	a, err := e.load(context.WithoutCancel(ctx), schema, id)
	if err != nil {
		return nil, err
	}
	logActivity(ctx, "uploaded", typeName, a.Owner, a.Name, a.Version, blobLabel(field, key))
	ev := notification.NewEvent(notification.UploadedEvent, a)
	ev.Blob = blobLabel(b.Field, b.Key)
	if err := e.notifier.Notify(ctx, ev); err != nil {
		log.Warnf("Failed to deliver %s event for artifact %s: %v", ev.Type, a.ID, err)
	}
	return a, nil
}

// DownloadBlob opens the data held in a blob field or blob dict key. Readers
// do not take the artifact lock.
func (e *Engine) DownloadBlob(ctx context.Context, typeName string, id string, field string,
	key string) (*blob.Download, error) {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	a, err := e.load(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	if !visible(creds, a) || a.Status == typeschema.StatusDeleted {
		return nil, notFound(id)
	}
	if err := e.checker.Check(ctx, creds, policy.ArtifactDownload, target(a)); err != nil {
		return nil, err
	}
	d, err := schema.GetField(field)
	if err != nil {
		return nil, err
	}
	if !d.Kind.IsBlob() {
		return nil, invalidField(field, "is not a blob field")
	}
	b := a.Blob(field, key)
	if b == nil {
		return nil, errors.NewNotFound(errors.WithResourceType(errors.BlobType),
			errors.WithResourceName(blobLabel(field, key)))
	}
	return e.blobs.Download(ctx, b)
}

// AddBlobLocation records data kept at an external URL in a blob slot.
func (e *Engine) AddBlobLocation(ctx context.Context, typeName string, id string, field string, key string,
	loc *blob.ExternalLocation) (*store.Artifact, error) {
	var result *store.Artifact
	err := e.withArtifact(ctx, typeName, id, policy.ArtifactSetLocation, func(c *call) error {
		d, err := blobField(c, field)
		if err != nil {
			return err
		}
		if _, err := e.blobs.AddLocation(ctx, c.artifact, d, key, loc); err != nil {
			return err
		}
		a, err := e.reload(ctx, c)
		if err != nil {
			return err
		}
		result = a
		c.emit(notification.LocationEvent, a).Blob = blobLabel(field, key)
		logActivity(ctx, "added location to", typeName, a.Owner, a.Name, a.Version, blobLabel(field, key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteExternalBlob removes an external blob record from its slot.
func (e *Engine) DeleteExternalBlob(ctx context.Context, typeName string, id string, field string,
	key string) (*store.Artifact, error) {
	var result *store.Artifact
	err := e.withArtifact(ctx, typeName, id, policy.ArtifactDeleteExternalBlob, func(c *call) error {
		if _, err := blobField(c, field); err != nil {
			return err
		}
		b := c.artifact.Blob(field, key)
		if b == nil {
			return errors.NewNotFound(errors.WithResourceType(errors.BlobType),
				errors.WithResourceName(blobLabel(field, key)))
		}
		if !b.External {
			return errors.NewInvalidArgument(errors.WithResourceType(errors.BlobType),
				errors.WithResourceName(blobLabel(field, key)), errors.WithMessage("blob is not external"))
		}
		if err := e.blobs.Delete(ctx, b); err != nil {
			return err
		}
		a, err := e.reload(ctx, c)
		if err != nil {
			return err
		}
		result = a
		c.emit(notification.BlobDeletedEvent, a).Blob = blobLabel(field, key)
		logActivity(ctx, "deleted external blob of", typeName, a.Owner, a.Name, a.Version, blobLabel(field, key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
