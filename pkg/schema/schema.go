// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package schema holds the JSON Schema, written in YAML, that artifact type
// definition files must satisfy.
package schema

import (
	_ "embed"
)

// SchemaID is the value of the $schema property that marks a YAML document
// as an artifact type definition.
const SchemaID = "https://schema.intel.com/artifacts.orchestrator/0.1/schema"

// ArtifactTypeSchema is the meta-schema for artifact type definitions.
//
//go:embed artifact-type.schema.yaml
var ArtifactTypeSchema string
