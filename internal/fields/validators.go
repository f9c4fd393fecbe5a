// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fields

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/blang/semver/v4"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator is a predicate over a coerced value. Validate returns the reason
// the value was rejected.
type Validator interface {
	Name() string
	Validate(value any) error
	// Applies reports whether the validator can check values of the kind.
	Applies(k Kind) bool
	// Schema returns the JSON Schema keywords equivalent to the validator.
	Schema() map[string]any
}

// Normalizer is implemented by validators that rewrite the value before it
// is checked.
type Normalizer interface {
	Normalize(value any) any
}

type maxLength struct{ n int }

// MaxLength limits the number of characters in a string.
func MaxLength(n int) Validator { return &maxLength{n: n} }

func (v *maxLength) Name() string { return "maxLength" }
func (v *maxLength) Applies(k Kind) bool { return k.isTextual() }
func (v *maxLength) Schema() map[string]any { return map[string]any{"maxLength": v.n} }
func (v *maxLength) Validate(value any) error {
	if s, ok := value.(string); ok && utf8.RuneCountInString(s) > v.n {
		return fmt.Errorf("length is greater than %d", v.n)
	}
	return nil
}

type minLength struct{ n int }

func MinLength(n int) Validator { return &minLength{n: n} }

func (v *minLength) Name() string { return "minLength" }
func (v *minLength) Applies(k Kind) bool { return k.isTextual() }
func (v *minLength) Schema() map[string]any { return map[string]any{"minLength": v.n} }
func (v *minLength) Validate(value any) error {
	if s, ok := value.(string); ok && utf8.RuneCountInString(s) < v.n {
		return fmt.Errorf("length is less than %d", v.n)
	}
	return nil
}

type pattern struct{ re *regexp.Regexp }

// Pattern requires strings to match the regular expression.
func Pattern(expr string) (Validator, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return &pattern{re: re}, nil
}

func (v *pattern) Name() string { return "pattern" }
func (v *pattern) Applies(k Kind) bool { return k == String }
func (v *pattern) Schema() map[string]any { return map[string]any{"pattern": v.re.String()} }
func (v *pattern) Validate(value any) error {
	if s, ok := value.(string); ok && !v.re.MatchString(s) {
		return fmt.Errorf("does not match pattern %s", v.re.String())
	}
	return nil
}

type allowedValues struct{ values []any }

func AllowedValues(values ...any) Validator { return &allowedValues{values: values} }

func (v *allowedValues) Name() string { return "allowedValues" }
func (v *allowedValues) Applies(k Kind) bool { return k.IsScalar() && k != DateTime }
func (v *allowedValues) Schema() map[string]any {
	return map[string]any{"enum": v.values}
}
func (v *allowedValues) Validate(value any) error {
	for _, allowed := range v.values {
		if scalarEqual(allowed, value) {
			return nil
		}
	}
	return fmt.Errorf("value %v is not one of %v", value, v.values)
}

type forbiddenChars struct{ chars string }

func ForbiddenChars(chars string) Validator { return &forbiddenChars{chars: chars} }

func (v *forbiddenChars) Name() string { return "forbiddenChars" }
func (v *forbiddenChars) Applies(k Kind) bool { return k == String }
func (v *forbiddenChars) Schema() map[string]any {
	return map[string]any{"pattern": "^[^" + regexp.QuoteMeta(v.chars) + "]*$"}
}
func (v *forbiddenChars) Validate(value any) error {
	if s, ok := value.(string); ok && strings.ContainsAny(s, v.chars) {
		return fmt.Errorf("contains one of the forbidden characters %q", v.chars)
	}
	return nil
}

type maxItems struct{ n int }

// MaxItems limits the number of list elements or dict entries.
func MaxItems(n int) Validator { return &maxItems{n: n} }

func (v *maxItems) Name() string { return "maxItems" }
func (v *maxItems) Applies(k Kind) bool { return k.IsCompound() || k == BlobDict }
func (v *maxItems) Schema() map[string]any {
	return map[string]any{"maxItems": v.n, "maxProperties": v.n}
}
func (v *maxItems) Validate(value any) error {
	if size(value) > v.n {
		return fmt.Errorf("size is greater than %d", v.n)
	}
	return nil
}

type minItems struct{ n int }

func MinItems(n int) Validator { return &minItems{n: n} }

func (v *minItems) Name() string { return "minItems" }
func (v *minItems) Applies(k Kind) bool { return k.IsCompound() }
func (v *minItems) Schema() map[string]any {
	return map[string]any{"minItems": v.n, "minProperties": v.n}
}
func (v *minItems) Validate(value any) error {
	if size(value) < v.n {
		return fmt.Errorf("size is less than %d", v.n)
	}
	return nil
}

type maximum struct{ n float64 }

func Maximum(n float64) Validator { return &maximum{n: n} }

func (v *maximum) Name() string { return "maximum" }
func (v *maximum) Applies(k Kind) bool { return k.isNumeric() }
func (v *maximum) Schema() map[string]any { return map[string]any{"maximum": v.n} }
func (v *maximum) Validate(value any) error {
	if f, ok := toFloat(value); ok && f > v.n {
		return fmt.Errorf("value %v is greater than %v", value, v.n)
	}
	return nil
}

type minimum struct{ n float64 }

func Minimum(n float64) Validator { return &minimum{n: n} }

func (v *minimum) Name() string { return "minimum" }
func (v *minimum) Applies(k Kind) bool { return k.isNumeric() }
func (v *minimum) Schema() map[string]any { return map[string]any{"minimum": v.n} }
func (v *minimum) Validate(value any) error {
	if f, ok := toFloat(value); ok && f < v.n {
		return fmt.Errorf("value %v is less than %v", value, v.n)
	}
	return nil
}

type unique struct{ convertToSet bool }

// Unique rejects lists with repeated elements. With convertToSet repeated
// elements are dropped instead.
func Unique(convertToSet bool) Validator { return &unique{convertToSet: convertToSet} }

func (v *unique) Name() string { return "unique" }
func (v *unique) Applies(k Kind) bool { return k == List }
func (v *unique) Schema() map[string]any { return map[string]any{"uniqueItems": true} }
func (v *unique) Normalize(value any) any {
	l, ok := value.([]any)
	if !ok || !v.convertToSet {
		return value
	}
	out := make([]any, 0, len(l))
	for _, e := range l {
		if !containsScalar(out, e) {
			out = append(out, e)
		}
	}
	return out
}
func (v *unique) Validate(value any) error {
	l, _ := value.([]any)
	for i, e := range l {
		if containsScalar(l[:i], e) {
			return fmt.Errorf("element %v is repeated", e)
		}
	}
	return nil
}

type allowedKeys struct{ keys []string }

func AllowedKeys(keys ...string) Validator { return &allowedKeys{keys: keys} }

func (v *allowedKeys) Name() string { return "allowedKeys" }
func (v *allowedKeys) Applies(k Kind) bool { return k == Dict || k == BlobDict }
func (v *allowedKeys) Schema() map[string]any {
	props := map[string]any{}
	for _, k := range v.keys {
		props[k] = map[string]any{}
	}
	return map[string]any{"properties": props, "additionalProperties": false}
}
func (v *allowedKeys) Validate(value any) error {
	m, _ := value.(map[string]any)
	for _, k := range sortedKeys(m) {
		if !containsString(v.keys, k) {
			return fmt.Errorf("key %q is not one of %v", k, v.keys)
		}
	}
	return nil
}

type requiredKeys struct{ keys []string }

func RequiredKeys(keys ...string) Validator { return &requiredKeys{keys: keys} }

func (v *requiredKeys) Name() string { return "requiredKeys" }
func (v *requiredKeys) Applies(k Kind) bool { return k == Dict }
func (v *requiredKeys) Schema() map[string]any {
	return map[string]any{"required": v.keys}
}
func (v *requiredKeys) Validate(value any) error {
	m, _ := value.(map[string]any)
	for _, k := range v.keys {
		if _, ok := m[k]; !ok {
			return fmt.Errorf("required key %q is missing", k)
		}
	}
	return nil
}

type maxKeyLength struct{ n int }

func MaxKeyLength(n int) Validator { return &maxKeyLength{n: n} }

func (v *maxKeyLength) Name() string { return "maxKeyLength" }
func (v *maxKeyLength) Applies(k Kind) bool { return k == Dict || k == BlobDict }
func (v *maxKeyLength) Schema() map[string]any {
	return map[string]any{"propertyNames": map[string]any{"maxLength": v.n}}
}
func (v *maxKeyLength) Validate(value any) error {
	m, _ := value.(map[string]any)
	for _, k := range sortedKeys(m) {
		if utf8.RuneCountInString(k) > v.n {
			return fmt.Errorf("key %q is longer than %d", k, v.n)
		}
	}
	return nil
}

type minKeyLength struct{ n int }

func MinKeyLength(n int) Validator { return &minKeyLength{n: n} }

func (v *minKeyLength) Name() string { return "minKeyLength" }
func (v *minKeyLength) Applies(k Kind) bool { return k == Dict || k == BlobDict }
func (v *minKeyLength) Schema() map[string]any {
	return map[string]any{"propertyNames": map[string]any{"minLength": v.n}}
}
func (v *minKeyLength) Validate(value any) error {
	m, _ := value.(map[string]any)
	for _, k := range sortedKeys(m) {
		if utf8.RuneCountInString(k) < v.n {
			return fmt.Errorf("key %q is shorter than %d", k, v.n)
		}
	}
	return nil
}

type uuidValidator struct{}

func UUID() Validator { return uuidValidator{} }

func (uuidValidator) Name() string { return "uuid" }
func (uuidValidator) Applies(k Kind) bool { return k == String || k == Reference }
func (uuidValidator) Schema() map[string]any { return map[string]any{"format": "uuid"} }
func (uuidValidator) Validate(value any) error {
	if s, ok := value.(string); ok {
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Errorf("%q is not a UUID", s)
		}
	}
	return nil
}

type versionValidator struct{}

// SemVer requires strict semantic version strings.
func SemVer() Validator { return versionValidator{} }

func (versionValidator) Name() string { return "version" }
func (versionValidator) Applies(k Kind) bool { return k == String || k == Version }
func (versionValidator) Schema() map[string]any { return map[string]any{"format": "semver"} }
func (versionValidator) Validate(value any) error {
	if s, ok := value.(string); ok {
		if _, err := semver.Parse(s); err != nil {
			return fmt.Errorf("%q is not a semantic version", s)
		}
	}
	return nil
}

type jsonSchemaValidator struct {
	doc    map[string]any
	schema *jsonschema.Schema
}

// JSONSchema checks list and dict values against an inline JSON Schema document.
func JSONSchema(doc map[string]any) (Validator, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("inline.json", bytes.NewReader(data)); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile("inline.json")
	if err != nil {
		return nil, err
	}
	return &jsonSchemaValidator{doc: doc, schema: sch}, nil
}

func (v *jsonSchemaValidator) Name() string { return "jsonSchema" }
func (v *jsonSchemaValidator) Applies(k Kind) bool { return k.IsCompound() }
func (v *jsonSchemaValidator) Schema() map[string]any { return v.doc }
func (v *jsonSchemaValidator) Validate(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := v.schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%s", ve.Error())
		}
		return err
	}
	return nil
}

func size(value any) int {
	switch v := value.(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return 0
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func scalarEqual(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return a == b
}

func containsScalar(l []any, e any) bool {
	for _, x := range l {
		if scalarEqual(x, e) {
			return true
		}
	}
	return false
}

func containsString(l []string, s string) bool {
	for _, x := range l {
		if x == s {
			return true
		}
	}
	return false
}
