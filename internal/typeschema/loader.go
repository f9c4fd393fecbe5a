// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package typeschema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/shared/verboseerror"
	"github.com/open-edge-platform/app-orch-artifacts/pkg/schema/validator"
)

// LoadError is returned when a type definition file cannot be loaded.
type LoadError struct {
	Path string
	Type string
	Msg  string

	Err error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Msg, e.Path)
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type %s)", msg, e.Type)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoadError) Verbose(wr io.Writer) {
	errTemplate := `------------------------------------------------------------
Artifact type definition error
------------------------------------------------------------
{{ if .Msg -}}
Message:       {{.Msg}}
{{end -}}
{{- if .Path -}}
File:          {{.Path}}
{{end -}}
{{- if .Type -}}
Type:          {{.Type}}
{{end}}
{{- if .Err -}}
Wrapped Error: {{.Err}}
{{end}}
Type definitions must declare "specSchema: ArtifactType" and satisfy the
artifact type schema. Run "artifact-types validate <path>" for details.
`
	verboseerror.WriteErrorTemplate("LoadError", errTemplate, wr, e)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadDefinitions reads every artifact type definition found in the given
// files and directories.
func LoadDefinitions(paths ...string) ([]*Definition, error) {
	v, err := validator.NewValidator()
	if err != nil {
		return nil, err
	}
	files, err := validator.FindYAMLFiles(paths...)
	if err != nil {
		return nil, &LoadError{Msg: "Failed to list type definitions", Path: strings.Join(paths, ","), Err: err}
	}
	var defs []*Definition
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, &LoadError{Msg: "Failed to read type definition", Path: file, Err: err}
		}
		docs, err := v.Decode(data)
		if err != nil {
			return nil, &LoadError{Msg: "Invalid type definition", Path: file, Err: err}
		}
		for _, doc := range docs {
			def, err := DefinitionFromDocument(doc)
			if err != nil {
				name, _ := doc["name"].(string)
				return nil, &LoadError{Msg: "Invalid type definition", Path: file, Type: name, Err: err}
			}
			log.Debugf("Loaded artifact type %s from %s", def.Name, file)
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// DefinitionFromDocument converts a decoded, schema-valid YAML document into
// a type definition.
func DefinitionFromDocument(doc map[string]interface{}) (*Definition, error) {
	def := &Definition{
		Name:        stringOf(doc, "name"),
		DisplayName: stringOf(doc, "displayName"),
		Description: stringOf(doc, "description"),
		Version:     stringOf(doc, "version"),
	}
	raw, _ := doc["fields"].([]interface{})
	for i, r := range raw {
		fd, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %d is not a mapping", i)
		}
		d, err := descriptorFromDocument(fd)
		if err != nil {
			return nil, err
		}
		def.Fields = append(def.Fields, d)
	}
	return def, nil
}

func descriptorFromDocument(fd map[string]interface{}) (*fields.Descriptor, error) {
	d := &fields.Descriptor{
		Name:           stringOf(fd, "name"),
		Description:    stringOf(fd, "description"),
		Nullable:       boolOf(fd, "nullable"),
		Required:       boolOf(fd, "required"),
		Sortable:       boolOf(fd, "sortable"),
		ReferenceType:  stringOf(fd, "referenceType"),
		AllowOverwrite: boolOf(fd, "allowOverwrite"),
		Default:        fd["default"],
	}
	var ok bool
	if d.Kind, ok = fields.ParseKind(stringOf(fd, "type")); !ok {
		return nil, fmt.Errorf("field %s: unknown type %q", d.Name, stringOf(fd, "type"))
	}
	if et := stringOf(fd, "elementType"); et != "" {
		if d.ElementKind, ok = fields.ParseKind(et); !ok {
			return nil, fmt.Errorf("field %s: unknown element type %q", d.Name, et)
		}
	}
	if d.Mutability, ok = fields.ParseMutability(stringOf(fd, "mutability")); !ok {
		return nil, fmt.Errorf("field %s: unknown mutability %q", d.Name, stringOf(fd, "mutability"))
	}
	if n, ok := intOf(fd, "maxBlobSize"); ok {
		d.MaxBlobSize = n
	}
	if n, ok := intOf(fd, "maxFolderSize"); ok {
		d.MaxFolderSize = n
	}
	if ops, ok := fd["filterOps"].([]interface{}); ok {
		d.FilterOps = []fields.FilterOp{}
		for _, o := range ops {
			op, ok := fields.ParseFilterOp(fmt.Sprint(o))
			if !ok {
				return nil, fmt.Errorf("field %s: unknown filter operator %v", d.Name, o)
			}
			d.FilterOps = append(d.FilterOps, op)
		}
	}

	var err error
	if d.Validators, err = validatorsFromDocument(fd); err != nil {
		return nil, fmt.Errorf("field %s: %w", d.Name, err)
	}
	if ev, ok := fd["elementValidators"].(map[string]interface{}); ok {
		if d.ElementValidators, err = validatorsFromDocument(ev); err != nil {
			return nil, fmt.Errorf("field %s: %w", d.Name, err)
		}
	}
	return d, nil
}

func validatorsFromDocument(m map[string]interface{}) ([]fields.Validator, error) {
	var vs []fields.Validator
	if n, ok := intOf(m, "minLength"); ok {
		vs = append(vs, fields.MinLength(int(n)))
	}
	if n, ok := intOf(m, "maxLength"); ok {
		vs = append(vs, fields.MaxLength(int(n)))
	}
	if p := stringOf(m, "pattern"); p != "" {
		v, err := fields.Pattern(p)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	if av, ok := m["allowedValues"].([]interface{}); ok {
		vs = append(vs, fields.AllowedValues(av...))
	}
	if fc := stringOf(m, "forbiddenChars"); fc != "" {
		vs = append(vs, fields.ForbiddenChars(fc))
	}
	if n, ok := numberOf(m, "minimum"); ok {
		vs = append(vs, fields.Minimum(n))
	}
	if n, ok := numberOf(m, "maximum"); ok {
		vs = append(vs, fields.Maximum(n))
	}
	switch stringOf(m, "format") {
	case "uuid":
		vs = append(vs, fields.UUID())
	case "semver":
		vs = append(vs, fields.SemVer())
	}
	if n, ok := intOf(m, "minItems"); ok {
		vs = append(vs, fields.MinItems(int(n)))
	}
	if n, ok := intOf(m, "maxItems"); ok {
		vs = append(vs, fields.MaxItems(int(n)))
	}
	switch u := m["unique"].(type) {
	case bool:
		if u {
			vs = append(vs, fields.Unique(false))
		}
	case string:
		if u == "set" {
			vs = append(vs, fields.Unique(true))
		}
	}
	if keys, ok := stringsOf(m, "allowedKeys"); ok {
		vs = append(vs, fields.AllowedKeys(keys...))
	}
	if keys, ok := stringsOf(m, "requiredKeys"); ok {
		vs = append(vs, fields.RequiredKeys(keys...))
	}
	if n, ok := intOf(m, "minKeyLength"); ok {
		vs = append(vs, fields.MinKeyLength(int(n)))
	}
	if n, ok := intOf(m, "maxKeyLength"); ok {
		vs = append(vs, fields.MaxKeyLength(int(n)))
	}
	if js, ok := m["jsonSchema"].(map[string]interface{}); ok {
		v, err := fields.JSONSchema(js)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func stringOf(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolOf(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intOf(m map[string]interface{}, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func numberOf(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func stringsOf(m map[string]interface{}, key string) ([]string, bool) {
	l, ok := m[key].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, e := range l {
		out = append(out, fmt.Sprint(e))
	}
	return out, true
}
