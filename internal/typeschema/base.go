// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package typeschema

import (
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
)

// Base field names.
const (
	FieldID          = "id"
	FieldTypeName    = "type_name"
	FieldName        = "name"
	FieldVersion     = "version"
	FieldOwner       = "owner"
	FieldVisibility  = "visibility"
	FieldStatus      = "status"
	FieldDescription = "description"
	FieldTags        = "tags"
	FieldMetadata    = "metadata"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"
	FieldActivatedAt = "activated_at"
	FieldRevision    = "revision"
)

// Artifact statuses.
const (
	StatusDrafted     = "drafted"
	StatusActivated   = "activated"
	StatusDeactivated = "deactivated"
	StatusDeleted     = "deleted"
)

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// DefaultVersion is assigned to artifacts created without a version.
const DefaultVersion = "0.0.0"

var baseFields []*fields.Descriptor

func init() {
	noSeparators := fields.ForbiddenChars(",/")
	baseFields = []*fields.Descriptor{
		{Name: FieldID, Kind: fields.String, System: true, Sortable: true,
			Validators:  []fields.Validator{fields.UUID(), fields.MaxLength(36)},
			Description: "Artifact UUID."},
		{Name: FieldTypeName, Kind: fields.String, System: true, Sortable: true,
			Description: "Name of the artifact type."},
		{Name: FieldName, Kind: fields.String, Sortable: true,
			Validators:  []fields.Validator{fields.MinLength(1)},
			Description: "Name of the artifact."},
		{Name: FieldVersion, Kind: fields.Version, Sortable: true, Default: DefaultVersion,
			Description: "Semantic version of the artifact."},
		{Name: FieldOwner, Kind: fields.String, System: true, Sortable: true,
			Description: "Project that owns the artifact."},
		{Name: FieldVisibility, Kind: fields.String, Mutability: fields.MutableAlways, Sortable: true,
			Default:     VisibilityPrivate,
			Validators:  []fields.Validator{fields.AllowedValues(VisibilityPrivate, VisibilityPublic)},
			Description: "Artifact visibility. Only activated artifacts can be made public."},
		{Name: FieldStatus, Kind: fields.String, System: true, Sortable: true, Default: StatusDrafted,
			Validators: []fields.Validator{
				fields.AllowedValues(StatusDrafted, StatusActivated, StatusDeactivated, StatusDeleted),
			},
			Description: "Artifact status."},
		{Name: FieldDescription, Kind: fields.String, Mutability: fields.MutableAlways, Default: "",
			Validators:  []fields.Validator{fields.MaxLength(4096)},
			FilterOps:   []fields.FilterOp{fields.OpEQ, fields.OpNEQ, fields.OpLike},
			Description: "Artifact description."},
		{Name: FieldTags, Kind: fields.List, ElementKind: fields.String, Mutability: fields.MutableAlways,
			Validators:        []fields.Validator{fields.Unique(true)},
			ElementValidators: []fields.Validator{fields.MinLength(1), noSeparators},
			Description:       "List of tags. Commas and slashes are not allowed."},
		{Name: FieldMetadata, Kind: fields.Dict, ElementKind: fields.String,
			Description: "Key-value metadata."},
		{Name: FieldCreatedAt, Kind: fields.DateTime, System: true, Sortable: true,
			Description: "Creation time."},
		{Name: FieldUpdatedAt, Kind: fields.DateTime, System: true, Sortable: true,
			Description: "Time of the last change."},
		{Name: FieldActivatedAt, Kind: fields.DateTime, System: true, Sortable: true, Nullable: true,
			Description: "Activation time."},
		{Name: FieldRevision, Kind: fields.Integer, System: true,
			Description: "Revision counter, incremented on every change."},
	}
	for _, d := range baseFields {
		if err := d.Prepare(); err != nil {
			panic(err)
		}
	}
}

// BaseFields returns the fields every artifact type has, in declaration order.
func BaseFields() []*fields.Descriptor {
	out := make([]*fields.Descriptor, len(baseFields))
	copy(out, baseFields)
	return out
}

// IsBaseField reports whether the name is reserved by a base field.
func IsBaseField(name string) bool {
	for _, d := range baseFields {
		if d.Name == name {
			return true
		}
	}
	return false
}

// IsColumnField reports whether a base field is stored directly on the
// artifact row rather than as a property.
func IsColumnField(name string) bool {
	return IsBaseField(name) && name != FieldTags && name != FieldMetadata
}
