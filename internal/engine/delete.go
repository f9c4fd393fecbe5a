// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// Delete marks the artifact deleted and removes its blob data. Once every
// blob is gone the artifact is removed from the store. Blobs whose data could
// not be deleted stay pending_delete under the deleted artifact, and deleting
// it again retries them. With delayed delete the data is left for a later
// cleanup.
func (e *Engine) Delete(ctx context.Context, typeName string, id string) error {
	return e.withArtifact(ctx, typeName, id, policy.ArtifactDelete, func(c *call) error {
		a := c.artifact
		for _, b := range a.Blobs {
			if b.Status == store.BlobSaving {
				return errors.NewFailedPrecondition(errors.WithResourceType(errors.ArtifactType),
					errors.WithResourceName(a.ID),
					errors.WithMessage("blob %s is being uploaded", blobLabel(b.Field, b.Key)))
			}
		}
		if a.Status != typeschema.StatusDeleted {
			change := &store.Change{Columns: map[string]any{typeschema.FieldStatus: typeschema.StatusDeleted}}
			if _, err := e.store.Update(ctx, a.ID, change, a.Revision); err != nil {
				return err
			}
			var err error
			if a, err = e.reload(ctx, c); err != nil {
				return err
			}
			c.emit(notification.DeletedEvent, a)
			logActivity(ctx, "deleted", typeName, a.Owner, a.Name, a.Version)
		}

		if e.config.DelayedDelete {
			for _, b := range a.Blobs {
				if b.Status == store.BlobPendingDelete {
					continue
				}
				if err := e.store.SetBlobStatus(ctx, b.ID, b.Status, store.BlobPendingDelete); err != nil {
					return err
				}
			}
			return nil
		}

		var failed error
		for _, b := range a.Blobs {
			if err := e.blobs.Delete(ctx, b); err != nil {
				log.Warnf("Blob %s of deleted artifact %s not removed: %v", blobLabel(b.Field, b.Key), a.ID, err)
				if failed == nil {
					failed = err
				}
			}
		}
		if failed != nil {
			return failed
		}
		return e.store.Delete(ctx, a.ID)
	})
}
