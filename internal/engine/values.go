// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	goerrors "errors"
	"sort"

	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// invalid reports a rejected field value as a validation error naming the
// field.
func invalid(err error) error {
	var fe *fields.Error
	if goerrors.As(err, &fe) {
		return errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType),
			errors.WithResourceName(fe.Field), errors.WithMessage("%s", fe.Reason))
	}
	return err
}

func invalidField(name string, format string, args ...any) error {
	return errors.NewInvalidArgument(errors.WithResourceType(errors.FieldType), errors.WithResourceName(name),
		errors.WithMessage(format, args...))
}

// settable returns the descriptor of a field callers may set.
func settable(schema *typeschema.Schema, name string) (*fields.Descriptor, error) {
	d, err := schema.GetField(name)
	if err != nil {
		return nil, invalidField(name, "unknown field of artifact type %s", schema.TypeName)
	}
	if d.System {
		return nil, invalidField(name, "is maintained by the service")
	}
	if d.Kind.IsBlob() {
		return nil, invalidField(name, "blob fields are changed by uploading data")
	}
	return d, nil
}

// mutable checks that the field may change in the current artifact status.
func mutable(d *fields.Descriptor, a *store.Artifact) error {
	switch d.Mutability {
	case fields.Immutable:
		return invalidField(d.Name, "is immutable")
	case fields.MutableBeforeActivation:
		if a.Status != typeschema.StatusDrafted {
			return invalidField(d.Name, "can only be changed before activation")
		}
	}
	return nil
}

// writable checks that the artifact accepts changes at all.
func writable(a *store.Artifact) error {
	switch a.Status {
	case typeschema.StatusDeleted, typeschema.StatusDeactivated:
		return errors.NewFailedPrecondition(errors.WithResourceType(errors.ArtifactType),
			errors.WithResourceName(a.ID), errors.WithMessage("artifact is %s", a.Status))
	}
	return nil
}

// references returns the artifact ids a property value points to.
func references(d *fields.Descriptor, v any) []string {
	var ids []string
	switch c := v.(type) {
	case string:
		if d.Kind == fields.Reference {
			ids = append(ids, c)
		}
	case []any:
		for _, e := range c {
			if id, ok := e.(string); ok {
				ids = append(ids, id)
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(c) {
			if id, ok := c[k].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// checkReferences verifies that the reference values among props point to
// live artifacts the caller can see, of the required type.
func (e *Engine) checkReferences(ctx context.Context, creds *policy.Credentials, schema *typeschema.Schema,
	props map[string]any) error {
	for _, d := range schema.ReferenceFields() {
		v, ok := props[d.Name]
		if !ok {
			continue
		}
		for _, id := range references(d, v) {
			target, err := e.store.Get(ctx, id)
			if errors.IsNotFound(err) {
				return errors.NewInvalidArgument(errors.WithResourceType(errors.ReferenceType),
					errors.WithResourceName(d.Name), errors.WithMessage("artifact %s does not exist", id))
			} else if err != nil {
				return err
			}
			if target.Status == typeschema.StatusDeleted || !visible(creds, target) {
				return errors.NewInvalidArgument(errors.WithResourceType(errors.ReferenceType),
					errors.WithResourceName(d.Name), errors.WithMessage("artifact %s does not exist", id))
			}
			if d.ReferenceType != "" && target.TypeName != d.ReferenceType {
				return errors.NewInvalidArgument(errors.WithResourceType(errors.ReferenceType),
					errors.WithResourceName(d.Name),
					errors.WithMessage("artifact %s is a %s, not a %s", id, target.TypeName, d.ReferenceType))
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
