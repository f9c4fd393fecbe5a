// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// transitions lists the status changes each action may make.
var transitions = map[policy.Action]struct{ from, to string }{
	policy.ArtifactActivate:   {typeschema.StatusDrafted, typeschema.StatusActivated},
	policy.ArtifactDeactivate: {typeschema.StatusActivated, typeschema.StatusDeactivated},
	policy.ArtifactReactivate: {typeschema.StatusDeactivated, typeschema.StatusActivated},
}

func badTransition(a *store.Artifact, to string) error {
	return errors.NewFailedPrecondition(errors.WithResourceType(errors.ArtifactType),
		errors.WithResourceName(a.ID), errors.WithMessage("cannot become %s while %s", to, a.Status))
}

// Update changes fields of a drafted or activated artifact. A nil value
// resets a property to its default. Making the artifact public publishes it.
func (e *Engine) Update(ctx context.Context, typeName string, id string, changes map[string]any) (*store.Artifact, error) {
	var updated *store.Artifact
	err := e.withArtifact(ctx, typeName, id, policy.ArtifactUpdate, func(c *call) error {
		a := c.artifact
		if err := writable(a); err != nil {
			return err
		}
		change := &store.Change{Columns: map[string]any{}, Properties: map[string]any{}}
		publish := false
		for _, name := range sortedKeys(changes) {
			d, err := settable(c.schema, name)
			if err != nil {
				return err
			}
			raw := changes[name]
			if name == typeschema.FieldVisibility {
				v, err := d.Validate(raw)
				if err != nil {
					return invalid(err)
				}
				switch {
				case v == a.Visibility:
				case v == typeschema.VisibilityPublic:
					publish = true
				default:
					return invalidField(name, "public artifacts cannot be made private")
				}
				continue
			}
			if err := mutable(d, a); err != nil {
				return err
			}
			if raw == nil && !typeschema.IsColumnField(name) && (d.Nullable || d.Default != nil || d.Kind.IsCompound()) {
				change.Properties[name] = nil
				continue
			}
			v, err := d.Validate(raw)
			if err != nil {
				return invalid(err)
			}
			if typeschema.IsColumnField(name) {
				if v != a.Value(name) {
					change.Columns[name] = v
				}
			} else {
				change.Properties[name] = v
			}
		}
		if err := e.checkReferences(ctx, c.creds, c.schema, change.Properties); err != nil {
			return err
		}
		if publish {
			if err := e.checker.Check(ctx, c.creds, policy.ArtifactPublish, target(a)); err != nil {
				return err
			}
			if a.Status != typeschema.StatusActivated {
				return errors.NewFailedPrecondition(errors.WithResourceType(errors.ArtifactType),
					errors.WithResourceName(a.ID), errors.WithMessage("only activated artifacts can be published"))
			}
			change.Columns[typeschema.FieldVisibility] = typeschema.VisibilityPublic
		}
		if len(change.Columns) == 0 && len(change.Properties) == 0 {
			updated = a
			return nil
		}

		next := *a
		if name, ok := change.Columns[typeschema.FieldName]; ok {
			next.Name = name.(string)
		}
		if version, ok := change.Columns[typeschema.FieldVersion]; ok {
			next.Version = version.(string)
		}
		if publish || next.Name != a.Name || next.Version != a.Version {
			owner := next.Owner
			if publish {
				owner = ""
			}
			lock, err := e.locker.Acquire(ctx, scopeLockKey(a.TypeName, next.Name, next.Version, owner),
				e.config.LockTimeout)
			if err != nil {
				return err
			}
			defer lock.Release()
			if err := e.checkScope(ctx, &next, publish); err != nil {
				return err
			}
		}

		if _, err := e.store.Update(ctx, a.ID, change, a.Revision); err != nil {
			return err
		}
		a, err := e.reload(ctx, c)
		if err != nil {
			return err
		}
		updated = a
		c.emit(notification.UpdatedEvent, a)
		if publish {
			c.emit(notification.PublishedEvent, a)
			logActivity(ctx, "published", typeName, a.Owner, a.Name, a.Version)
		} else {
			logActivity(ctx, "updated", typeName, a.Owner, a.Name, a.Version)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Publish makes an activated artifact public.
func (e *Engine) Publish(ctx context.Context, typeName string, id string) (*store.Artifact, error) {
	return e.Update(ctx, typeName, id, map[string]any{typeschema.FieldVisibility: typeschema.VisibilityPublic})
}

// Activate moves a drafted artifact to activated once every required field
// has a value and every blob is active.
func (e *Engine) Activate(ctx context.Context, typeName string, id string) (*store.Artifact, error) {
	return e.transition(ctx, typeName, id, policy.ArtifactActivate, notification.ActivatedEvent, "activated",
		func(c *call) error {
			return complete(c.schema, c.artifact)
		})
}

// Deactivate blocks changes to an activated artifact. Only admins may read
// its data until it is reactivated.
func (e *Engine) Deactivate(ctx context.Context, typeName string, id string) (*store.Artifact, error) {
	return e.transition(ctx, typeName, id, policy.ArtifactDeactivate, notification.DeactivatedEvent, "deactivated", nil)
}

// Reactivate returns a deactivated artifact to activated.
func (e *Engine) Reactivate(ctx context.Context, typeName string, id string) (*store.Artifact, error) {
	return e.transition(ctx, typeName, id, policy.ArtifactReactivate, notification.ReactivatedEvent, "reactivated", nil)
}

func (e *Engine) transition(ctx context.Context, typeName string, id string, action policy.Action,
	eventType notification.EventType, verb string, check func(c *call) error) (*store.Artifact, error) {
	t := transitions[action]
	var result *store.Artifact
	err := e.withArtifact(ctx, typeName, id, action, func(c *call) error {
		a := c.artifact
		if a.Status != t.from {
			return badTransition(a, t.to)
		}
		if check != nil {
			if err := check(c); err != nil {
				return err
			}
		}
		change := &store.Change{Columns: map[string]any{typeschema.FieldStatus: t.to}}
		if action == policy.ArtifactActivate {
			change.Columns[typeschema.FieldActivatedAt] = time.Now().UTC()
		}
		if _, err := e.store.Update(ctx, a.ID, change, a.Revision); err != nil {
			return err
		}
		a, err := e.reload(ctx, c)
		if err != nil {
			return err
		}
		result = a
		c.emit(eventType, a)
		logActivity(ctx, verb, typeName, a.Owner, a.Name, a.Version)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// complete checks that the artifact may be activated: required fields hold a
// value, required blob fields hold an active blob and no blob is in any other
// state.
func complete(schema *typeschema.Schema, a *store.Artifact) error {
	for _, d := range schema.Fields() {
		if d.Kind.IsBlob() {
			blobs := a.BlobsOf(d.Name)
			active := 0
			for _, b := range blobs {
				if b.Status != store.BlobActive {
					return errors.NewInvalidArgument(errors.WithResourceType(errors.BlobType),
						errors.WithResourceName(d.Name), errors.WithMessage("holds a %s blob", b.Status))
				}
				active++
			}
			if d.Required && active == 0 {
				return invalidField(d.Name, "is required")
			}
			continue
		}
		if d.Required && fields.IsEmpty(a.Value(d.Name)) {
			return invalidField(d.Name, "is required")
		}
	}
	return nil
}
