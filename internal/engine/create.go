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

// scopeLockKey names the lock serializing changes to one name and version.
// Public artifacts share a scope across owners.
func scopeLockKey(typeName string, name string, version string, owner string) string {
	key := "scope:" + typeName + ":" + name + ":" + version
	if owner != "" {
		key += ":" + owner
	}
	return key
}

// checkScope fails if another live artifact holds the name and version of a.
func (e *Engine) checkScope(ctx context.Context, a *store.Artifact, public bool) error {
	n, err := e.store.CountInScope(ctx, store.Scope{
		TypeName:  a.TypeName,
		Name:      a.Name,
		Version:   a.Version,
		Owner:     a.Owner,
		Public:    public,
		ExcludeID: a.ID,
	})
	if err != nil {
		return err
	}
	if n > 0 {
		where := "project " + a.Owner
		if public {
			where = "public artifacts"
		}
		return errors.NewAlreadyExists(errors.WithResourceType(errors.ArtifactType),
			errors.WithResourceName(a.Name), errors.WithResourceVersion(a.Version),
			errors.WithMessage("in %s", where))
	}
	return nil
}

// Create validates the initial values and stores a new drafted artifact owned
// by the caller's project. Fields that are not given get their default.
func (e *Engine) Create(ctx context.Context, typeName string, values map[string]any) (*store.Artifact, error) {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	if err := e.checker.Check(ctx, creds, policy.ArtifactCreate, &policy.Target{
		Owner:      creds.ProjectID,
		Visibility: typeschema.VisibilityPrivate,
		Status:     typeschema.StatusDrafted,
	}); err != nil {
		return nil, err
	}

	a := &store.Artifact{
		TypeName:   schema.TypeName,
		Owner:      creds.ProjectID,
		Visibility: typeschema.VisibilityPrivate,
		Status:     typeschema.StatusDrafted,
		Properties: map[string]any{},
	}
	for _, name := range sortedKeys(values) {
		d, err := settable(schema, name)
		if err != nil {
			return nil, err
		}
		v, err := d.Validate(values[name])
		if err != nil {
			return nil, invalid(err)
		}
		switch name {
		case typeschema.FieldName:
			a.Name = v.(string)
		case typeschema.FieldVersion:
			a.Version = v.(string)
		case typeschema.FieldDescription:
			a.Description = v.(string)
		case typeschema.FieldVisibility:
			if v != typeschema.VisibilityPrivate {
				return nil, invalidField(name, "artifacts are created private and published once activated")
			}
		default:
			if v != nil {
				a.Properties[name] = v
			}
		}
	}
	if a.Name == "" {
		return nil, invalidField(typeschema.FieldName, "is required")
	}
	if a.Version == "" {
		a.Version = typeschema.DefaultVersion
	}
	a.Properties = schema.WithDefaults(a.Properties)
	if err := e.checkReferences(ctx, creds, schema, a.Properties); err != nil {
		return nil, err
	}

	lock, err := e.locker.Acquire(ctx, scopeLockKey(a.TypeName, a.Name, a.Version, a.Owner), e.config.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := e.checkScope(ctx, a, false); err != nil {
		return nil, err
	}
	if err := e.checkArtifactQuota(ctx, a.Owner, a.TypeName); err != nil {
		return nil, err
	}
	id, err := e.store.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	created, err := e.load(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	logActivity(ctx, "created", typeName, creds.ProjectID, created.Name, created.Version)
	var events notification.Events
	events.Append(notification.NewEvent(notification.CreatedEvent, created))
	events.SendToAll(ctx, e.notifier)
	return created, nil
}
