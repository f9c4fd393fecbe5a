// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fields

// Kind is the semantic type of a field value.
type Kind string

const (
	Integer   Kind = "integer"
	Float     Kind = "float"
	Boolean   Kind = "boolean"
	String    Kind = "string"
	Version   Kind = "version"
	Reference Kind = "reference"
	DateTime  Kind = "datetime"
	List      Kind = "list"
	Dict      Kind = "dict"
	Blob      Kind = "blob"
	BlobDict  Kind = "blob-dict"
)

var kinds = map[Kind]bool{
	Integer: true, Float: true, Boolean: true, String: true, Version: true,
	Reference: true, DateTime: true, List: true, Dict: true, Blob: true, BlobDict: true,
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, bool) {
	k := Kind(name)
	return k, kinds[k]
}

// IsScalar reports whether values of the kind are single primitive values.
func (k Kind) IsScalar() bool {
	switch k {
	case Integer, Float, Boolean, String, Version, Reference, DateTime:
		return true
	}
	return false
}

func (k Kind) IsCompound() bool {
	return k == List || k == Dict
}

func (k Kind) IsBlob() bool {
	return k == Blob || k == BlobDict
}

func (k Kind) isNumeric() bool {
	return k == Integer || k == Float
}

func (k Kind) isTextual() bool {
	return k == String || k == Version || k == Reference
}

// Mutability controls in which artifact statuses a field may be changed.
type Mutability string

const (
	// MutableAlways fields may change while the artifact is drafted or activated.
	MutableAlways Mutability = "mutable-always"
	// MutableBeforeActivation fields may change only while the artifact is drafted.
	MutableBeforeActivation Mutability = "mutable-only-before-activation"
	// Immutable fields may only be set when the artifact is created.
	Immutable Mutability = "immutable"
)

func ParseMutability(s string) (Mutability, bool) {
	switch Mutability(s) {
	case MutableAlways, MutableBeforeActivation, Immutable:
		return Mutability(s), true
	case "":
		return MutableBeforeActivation, true
	}
	return "", false
}

// FilterOp is a comparison operator usable in list filters.
type FilterOp string

const (
	OpEQ   FilterOp = "eq"
	OpNEQ  FilterOp = "neq"
	OpIn   FilterOp = "in"
	OpGT   FilterOp = "gt"
	OpGTE  FilterOp = "gte"
	OpLT   FilterOp = "lt"
	OpLTE  FilterOp = "lte"
	OpLike FilterOp = "like"
)

func ParseFilterOp(s string) (FilterOp, bool) {
	switch op := FilterOp(s); op {
	case OpEQ, OpNEQ, OpIn, OpGT, OpGTE, OpLT, OpLTE, OpLike:
		return op, true
	}
	return "", false
}

func defaultFilterOps(k Kind) []FilterOp {
	switch k {
	case Integer, Float, Version, DateTime:
		return []FilterOp{OpEQ, OpNEQ, OpIn, OpGT, OpGTE, OpLT, OpLTE}
	case String:
		return []FilterOp{OpEQ, OpNEQ, OpIn, OpGT, OpGTE, OpLT, OpLTE, OpLike}
	case Boolean:
		return []FilterOp{OpEQ, OpNEQ}
	case Reference, List, Dict:
		return []FilterOp{OpEQ, OpNEQ, OpIn}
	}
	return nil
}
