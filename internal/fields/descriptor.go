// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fields

import (
	"fmt"
)

const (
	// DefaultMaxStringLength is applied to strings that declare no length bound.
	DefaultMaxStringLength = 255
	// DefaultMaxItems is applied to lists and dicts that declare no size bound.
	DefaultMaxItems = 255
	// DefaultMaxKeyLength bounds dict keys.
	DefaultMaxKeyLength = 255

	DefaultMaxBlobSize   int64 = 10485760
	DefaultMaxFolderSize int64 = 2673868800
)

// Descriptor describes one field of an artifact type. A descriptor must be
// prepared before use and must not be modified afterwards.
type Descriptor struct {
	Name        string
	Kind        Kind
	ElementKind Kind
	Description string

	Mutability Mutability
	// System fields are maintained by the engine and never set by callers.
	System   bool
	Nullable bool
	// Required fields must hold a value before the artifact can be activated.
	Required bool
	Default  any

	Validators        []Validator
	ElementValidators []Validator

	Sortable  bool
	FilterOps []FilterOp

	// ReferenceType restricts reference values to artifacts of one type.
	ReferenceType string

	MaxBlobSize   int64
	MaxFolderSize int64
	// AllowOverwrite lets a blob-dict key that is already active be replaced.
	AllowOverwrite bool

	prepared bool
}

// Error reports a rejected field value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newError(field string, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Prepare checks the descriptor for consistency and fills in the default
// validators, filter operators and limits.
func (d *Descriptor) Prepare() error {
	if d.prepared {
		return nil
	}
	if d.Name == "" {
		return fmt.Errorf("field name must not be empty")
	}
	if _, ok := kinds[d.Kind]; !ok {
		return fmt.Errorf("field %s: unknown type %q", d.Name, d.Kind)
	}
	if d.Mutability == "" {
		d.Mutability = MutableBeforeActivation
	}
	if d.Kind.IsCompound() {
		if !d.ElementKind.IsScalar() {
			return fmt.Errorf("field %s: %s elements must be a scalar type, not %q", d.Name, d.Kind, d.ElementKind)
		}
	} else if d.ElementKind != "" {
		return fmt.Errorf("field %s: element type is only allowed for lists and dicts", d.Name)
	}
	if d.Sortable && !d.Kind.IsScalar() {
		return fmt.Errorf("field %s: %s fields cannot be sortable", d.Name, d.Kind)
	}
	if d.ReferenceType != "" && d.Kind != Reference && d.ElementKind != Reference {
		return fmt.Errorf("field %s: reference type is only allowed for references", d.Name)
	}
	if d.Kind.IsBlob() && d.Mutability == Immutable {
		return fmt.Errorf("field %s: blobs are uploaded after creation and cannot be immutable", d.Name)
	}
	if d.AllowOverwrite && d.Kind != BlobDict {
		return fmt.Errorf("field %s: overwrite can only be allowed for blob dicts", d.Name)
	}

	for _, v := range d.Validators {
		if !v.Applies(d.Kind) {
			return fmt.Errorf("field %s: validator %s cannot be used with %s", d.Name, v.Name(), d.Kind)
		}
	}
	for _, v := range d.ElementValidators {
		if !d.Kind.IsCompound() || !v.Applies(d.ElementKind) {
			return fmt.Errorf("field %s: element validator %s cannot be used with %s", d.Name, v.Name(), d.ElementKind)
		}
	}
	d.injectDefaults()

	if d.Sortable && d.Kind == String && d.maxLength() > DefaultMaxStringLength {
		return fmt.Errorf("field %s: sortable strings cannot be longer than %d", d.Name, DefaultMaxStringLength)
	}
	if d.FilterOps == nil {
		d.FilterOps = defaultFilterOps(d.Kind)
	}
	for _, op := range d.FilterOps {
		if !containsOp(defaultFilterOps(d.Kind), op) {
			return fmt.Errorf("field %s: filter operator %s cannot be used with %s", d.Name, op, d.Kind)
		}
	}
	if d.Default != nil {
		def, err := d.Validate(d.Default)
		if err != nil {
			return fmt.Errorf("field %s: invalid default: %w", d.Name, err)
		}
		d.Default = def
	}
	d.prepared = true
	return nil
}

func (d *Descriptor) injectDefaults() {
	switch d.Kind {
	case String:
		if !d.hasValidator("maxLength", "allowedValues") {
			d.Validators = append(d.Validators, MaxLength(DefaultMaxStringLength))
		}
	case List, Dict:
		if !d.hasValidator("maxItems") {
			d.Validators = append(d.Validators, MaxItems(DefaultMaxItems))
		}
		if d.ElementKind == String && !d.hasElementValidator("maxLength", "allowedValues") {
			d.ElementValidators = append(d.ElementValidators, MaxLength(DefaultMaxStringLength))
		}
	case Blob:
		if d.MaxBlobSize <= 0 {
			d.MaxBlobSize = DefaultMaxBlobSize
		}
	case BlobDict:
		if d.MaxBlobSize <= 0 {
			d.MaxBlobSize = DefaultMaxBlobSize
		}
		if d.MaxFolderSize <= 0 {
			d.MaxFolderSize = DefaultMaxFolderSize
		}
		if !d.hasValidator("maxItems") {
			d.Validators = append(d.Validators, MaxItems(DefaultMaxItems))
		}
	}
	if d.Kind == Dict || d.Kind == BlobDict {
		if !d.hasValidator("maxKeyLength") {
			d.Validators = append(d.Validators, MaxKeyLength(DefaultMaxKeyLength))
		}
		if !d.hasValidator("minKeyLength") {
			d.Validators = append(d.Validators, MinKeyLength(1))
		}
	}
}

func (d *Descriptor) hasValidator(names ...string) bool {
	return hasValidator(d.Validators, names...)
}

func (d *Descriptor) hasElementValidator(names ...string) bool {
	return hasValidator(d.ElementValidators, names...)
}

func hasValidator(vs []Validator, names ...string) bool {
	for _, v := range vs {
		for _, n := range names {
			if v.Name() == n {
				return true
			}
		}
	}
	return false
}

func (d *Descriptor) maxLength() int {
	for _, v := range d.Validators {
		if m, ok := v.(*maxLength); ok {
			return m.n
		}
	}
	return 0
}

func containsOp(ops []FilterOp, op FilterOp) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// AllowsFilter reports whether the operator may be used to filter on the field.
func (d *Descriptor) AllowsFilter(op FilterOp) bool {
	return containsOp(d.FilterOps, op)
}

// Coerce converts a raw value into the typed form of the field. Integers are
// int64, floats float64, lists []any and dicts map[string]any.
func (d *Descriptor) Coerce(raw any) (any, error) {
	if raw == nil {
		switch {
		case d.Kind == List:
			return []any{}, nil
		case d.Kind == Dict:
			return map[string]any{}, nil
		case d.Nullable:
			return nil, nil
		}
		return nil, newError(d.Name, "value must not be null")
	}
	var (
		out any
		err error
	)
	switch d.Kind {
	case List:
		out, err = coerceList(d.ElementKind, raw)
	case Dict:
		out, err = coerceDict(d.ElementKind, raw)
	case Blob, BlobDict:
		return nil, newError(d.Name, "blob fields can only be changed through the blob API")
	default:
		out, err = coerceScalar(d.Kind, raw)
	}
	if err != nil {
		return nil, newError(d.Name, "%v", err)
	}
	return out, nil
}

// Validate coerces the candidate value and runs every validator over it.
// The returned value is the normalized form that should be stored.
func (d *Descriptor) Validate(raw any) (any, error) {
	value, err := d.Coerce(raw)
	if err != nil || value == nil {
		return value, err
	}
	value = normalize(d.Validators, value)
	for _, v := range d.Validators {
		if err := v.Validate(value); err != nil {
			return nil, newError(d.Name, "%v", err)
		}
	}
	if len(d.ElementValidators) == 0 {
		return value, nil
	}
	switch c := value.(type) {
	case []any:
		for i, e := range c {
			for _, v := range d.ElementValidators {
				if err := v.Validate(e); err != nil {
					return nil, newError(fmt.Sprintf("%s[%d]", d.Name, i), "%v", err)
				}
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(c) {
			for _, v := range d.ElementValidators {
				if err := v.Validate(c[k]); err != nil {
					return nil, newError(fmt.Sprintf("%s[%s]", d.Name, k), "%v", err)
				}
			}
		}
	}
	return value, nil
}

// ValidateBlobKey checks a new blob-dict key against the key validators,
// given the keys that are already present.
func (d *Descriptor) ValidateBlobKey(key string, existing []string) error {
	if d.Kind != BlobDict {
		if key != "" {
			return newError(d.Name, "keys are only allowed for blob dicts")
		}
		return nil
	}
	if key == "" {
		return newError(d.Name, "a key is required for blob dicts")
	}
	keys := map[string]any{key: nil}
	for _, k := range existing {
		keys[k] = nil
	}
	for _, v := range d.Validators {
		if err := v.Validate(keys); err != nil {
			return newError(d.Name, "%v", err)
		}
	}
	return nil
}

// DefaultValue returns the value a field holds when it was never set.
func (d *Descriptor) DefaultValue() any {
	switch {
	case d.Default != nil:
		return copyValue(d.Default)
	case d.Kind == List:
		return []any{}
	case d.Kind == Dict:
		return map[string]any{}
	}
	return nil
}

func normalize(vs []Validator, value any) any {
	for _, v := range vs {
		if n, ok := v.(Normalizer); ok {
			value = n.Normalize(value)
		}
	}
	return value
}

func copyValue(v any) any {
	switch c := v.(type) {
	case []any:
		out := make([]any, len(c))
		copy(out, c)
		return out
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, e := range c {
			out[k] = e
		}
		return out
	}
	return v
}

// IsEmpty reports whether a value counts as unset for required checks.
func IsEmpty(v any) bool {
	switch c := v.(type) {
	case nil:
		return true
	case string:
		return c == ""
	case []any:
		return len(c) == 0
	case map[string]any:
		return len(c) == 0
	}
	return false
}
