// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fields

// blobSchema describes the blob record returned to callers.
var blobSchema = map[string]any{
	"type": []any{"object", "null"},
	"properties": map[string]any{
		"url":          map[string]any{"type": "string"},
		"size":         map[string]any{"type": []any{"integer", "null"}},
		"checksum":     map[string]any{"type": []any{"string", "null"}},
		"md5":          map[string]any{"type": []any{"string", "null"}},
		"sha1":         map[string]any{"type": []any{"string", "null"}},
		"sha256":       map[string]any{"type": []any{"string", "null"}},
		"external":     map[string]any{"type": "boolean"},
		"status":       map[string]any{"type": "string", "enum": []any{"saving", "active", "error", "pending_delete", "deleted"}},
		"content_type": map[string]any{"type": "string"},
	},
	"required": []any{"url", "size", "checksum", "external", "status", "content_type"},
}

func scalarSchema(k Kind) map[string]any {
	switch k {
	case Integer:
		return map[string]any{"type": "integer"}
	case Float:
		return map[string]any{"type": "number"}
	case Boolean:
		return map[string]any{"type": "boolean"}
	case Version:
		return map[string]any{"type": "string", "format": "semver"}
	case Reference:
		return map[string]any{"type": "string", "format": "uuid"}
	case DateTime:
		return map[string]any{"type": "string", "format": "date-time"}
	}
	return map[string]any{"type": "string"}
}

// JSONSchema renders the descriptor as a JSON Schema property definition.
// Engine specific attributes are carried in "x-" keywords.
func (d *Descriptor) JSONSchema() map[string]any {
	var s map[string]any
	switch d.Kind {
	case List:
		items := scalarSchema(d.ElementKind)
		merge(items, d.ElementValidators)
		s = map[string]any{"type": "array", "items": items}
	case Dict:
		values := scalarSchema(d.ElementKind)
		merge(values, d.ElementValidators)
		s = map[string]any{"type": "object", "additionalProperties": values}
	case Blob:
		s = copySchema(blobSchema)
		s["x-max-blob-size"] = d.MaxBlobSize
	case BlobDict:
		s = map[string]any{"type": []any{"object", "null"}, "additionalProperties": copySchema(blobSchema)}
		s["x-max-blob-size"] = d.MaxBlobSize
		s["x-max-folder-size"] = d.MaxFolderSize
		s["x-allow-overwrite"] = d.AllowOverwrite
	default:
		s = scalarSchema(d.Kind)
	}
	merge(s, d.Validators)
	if d.Nullable && !d.Kind.IsBlob() {
		s["type"] = []any{s["type"], "null"}
	}
	if d.Description != "" {
		s["description"] = d.Description
	}
	if d.Default != nil {
		s["default"] = d.Default
	}
	if d.System {
		s["readOnly"] = true
	}
	s["x-mutability"] = string(d.Mutability)
	s["x-sortable"] = d.Sortable
	s["x-required-on-activate"] = d.Required
	if d.ReferenceType != "" {
		s["x-reference-type"] = d.ReferenceType
	}
	ops := make([]any, 0, len(d.FilterOps))
	for _, op := range d.FilterOps {
		ops = append(ops, string(op))
	}
	s["x-filter-ops"] = ops
	return s
}

func merge(s map[string]any, vs []Validator) {
	for _, v := range vs {
		for k, val := range v.Schema() {
			if existing, ok := s[k].(map[string]any); ok {
				if add, ok := val.(map[string]any); ok {
					for ak, av := range add {
						existing[ak] = av
					}
					continue
				}
			}
			s[k] = val
		}
	}
}

func copySchema(s map[string]any) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
