// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// ArtifactsColumns holds the columns for the "artifacts" table.
	ArtifactsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "type_name", Type: field.TypeString, Size: 64},
		{Name: "name", Type: field.TypeString, Size: 255},
		{Name: "version", Type: field.TypeString, Size: 255},
		{Name: "version_major", Type: field.TypeInt64, Default: 0},
		{Name: "version_minor", Type: field.TypeInt64, Default: 0},
		{Name: "version_patch", Type: field.TypeInt64, Default: 0},
		{Name: "version_stable", Type: field.TypeBool, Default: true},
		{Name: "version_pre", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "owner", Type: field.TypeString, Size: 255},
		{Name: "visibility", Type: field.TypeString, Size: 32},
		{Name: "status", Type: field.TypeString, Size: 32},
		{Name: "description", Type: field.TypeString, Size: 4096, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "activated_at", Type: field.TypeTime, Nullable: true},
		{Name: "revision", Type: field.TypeInt64, Default: 1},
	}
	// ArtifactsTable holds the schema information for the "artifacts" table.
	ArtifactsTable = &schema.Table{
		Name:       "artifacts",
		Columns:    ArtifactsColumns,
		PrimaryKey: []*schema.Column{ArtifactsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "artifact_type_name_name_version",
				Unique:  false,
				Columns: []*schema.Column{ArtifactsColumns[1], ArtifactsColumns[2], ArtifactsColumns[3]},
			},
			{
				Name:    "artifact_owner_status",
				Unique:  false,
				Columns: []*schema.Column{ArtifactsColumns[9], ArtifactsColumns[11]},
			},
		},
	}
	// ArtifactPropertiesColumns holds the columns for the "artifact_properties" table.
	ArtifactPropertiesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "name", Type: field.TypeString, Size: 255},
		{Name: "position", Type: field.TypeInt, Nullable: true},
		{Name: "key_name", Type: field.TypeString, Size: 255, Nullable: true},
		{Name: "int_value", Type: field.TypeInt64, Nullable: true},
		{Name: "numeric_value", Type: field.TypeFloat64, Nullable: true},
		{Name: "bool_value", Type: field.TypeBool, Nullable: true},
		{Name: "string_value", Type: field.TypeString, Nullable: true},
		{Name: "artifact_id", Type: field.TypeString, Size: 36},
	}
	// ArtifactPropertiesTable holds the schema information for the "artifact_properties" table.
	ArtifactPropertiesTable = &schema.Table{
		Name:       "artifact_properties",
		Columns:    ArtifactPropertiesColumns,
		PrimaryKey: []*schema.Column{ArtifactPropertiesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "artifact_properties_artifacts_properties",
				Columns:    []*schema.Column{ArtifactPropertiesColumns[8]},
				RefColumns: []*schema.Column{ArtifactsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "artifactproperty_artifact_id_name",
				Unique:  false,
				Columns: []*schema.Column{ArtifactPropertiesColumns[8], ArtifactPropertiesColumns[1]},
			},
		},
	}
	// ArtifactBlobsColumns holds the columns for the "artifact_blobs" table.
	ArtifactBlobsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "field_name", Type: field.TypeString, Size: 255},
		{Name: "key_name", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "status", Type: field.TypeString, Size: 32},
		{Name: "size", Type: field.TypeInt64, Default: 0},
		{Name: "checksum", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "md5", Type: field.TypeString, Size: 32, Default: ""},
		{Name: "sha1", Type: field.TypeString, Size: 40, Default: ""},
		{Name: "sha256", Type: field.TypeString, Size: 64, Default: ""},
		{Name: "blake3", Type: field.TypeString, Size: 64, Default: ""},
		{Name: "location", Type: field.TypeString, Size: 2048, Default: ""},
		{Name: "external", Type: field.TypeBool, Default: false},
		{Name: "content_type", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "artifact_id", Type: field.TypeString, Size: 36},
	}
	// ArtifactBlobsTable holds the schema information for the "artifact_blobs" table.
	ArtifactBlobsTable = &schema.Table{
		Name:       "artifact_blobs",
		Columns:    ArtifactBlobsColumns,
		PrimaryKey: []*schema.Column{ArtifactBlobsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "artifact_blobs_artifacts_blobs",
				Columns:    []*schema.Column{ArtifactBlobsColumns[15]},
				RefColumns: []*schema.Column{ArtifactsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "artifactblob_artifact_id_field_name_key_name",
				Unique:  true,
				Columns: []*schema.Column{ArtifactBlobsColumns[15], ArtifactBlobsColumns[1], ArtifactBlobsColumns[2]},
			},
		},
	}
	// QuotasColumns holds the columns for the "quotas" table.
	QuotasColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "project_id", Type: field.TypeString, Size: 255},
		{Name: "name", Type: field.TypeString, Size: 255},
		{Name: "value", Type: field.TypeInt64},
	}
	// QuotasTable holds the schema information for the "quotas" table.
	QuotasTable = &schema.Table{
		Name:       "quotas",
		Columns:    QuotasColumns,
		PrimaryKey: []*schema.Column{QuotasColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "quota_project_id_name",
				Unique:  true,
				Columns: []*schema.Column{QuotasColumns[1], QuotasColumns[2]},
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		ArtifactsTable,
		ArtifactPropertiesTable,
		ArtifactBlobsTable,
		QuotasTable,
	}
)

func init() {
	ArtifactPropertiesTable.ForeignKeys[0].RefTable = ArtifactsTable
	ArtifactBlobsTable.ForeignKeys[0].RefTable = ArtifactsTable
}
