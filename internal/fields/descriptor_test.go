// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fields

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepared(t *testing.T, d *Descriptor) *Descriptor {
	t.Helper()
	require.NoError(t, d.Prepare())
	return d
}

func TestCoerceScalars(t *testing.T) {
	cases := []struct {
		kind Kind
		raw  any
		want any
	}{
		{Integer, 42, int64(42)},
		{Integer, "17", int64(17)},
		{Integer, 3.0, int64(3)},
		{Float, "2.5", 2.5},
		{Float, 7, 7.0},
		{Boolean, "yes", true},
		{Boolean, "TRUE", true},
		{Boolean, "1", true},
		{Boolean, "off", false},
		{Boolean, 0, false},
		{String, "x", "x"},
		{String, 12, "12"},
		{String, true, "true"},
		{Version, "1.0", "1.0.0"},
		{Version, "2.1.3-rc.1", "2.1.3-rc.1"},
		{Reference, "/artifacts/images/5F0E3C2A-1B7B-4D8A-9B51-0D6A8C1E2F30", "5f0e3c2a-1b7b-4d8a-9b51-0d6a8c1e2f30"},
	}
	for _, tc := range cases {
		d := prepared(t, &Descriptor{Name: "f", Kind: tc.kind})
		got, err := d.Validate(tc.raw)
		require.NoError(t, err, "%s %v", tc.kind, tc.raw)
		assert.Equal(t, tc.want, got, "%s %v", tc.kind, tc.raw)
	}
}

func TestCoerceRejects(t *testing.T) {
	cases := []struct {
		kind Kind
		raw  any
	}{
		{Integer, "abc"},
		{Integer, 1.5},
		{Float, "nan"},
		{Boolean, "maybe"},
		{Boolean, 2},
		{String, []string{"a"}},
		{Version, "not-a-version"},
		{Reference, "/artifacts/images"},
		{Reference, "plain"},
		{DateTime, "yesterday"},
	}
	for _, tc := range cases {
		d := prepared(t, &Descriptor{Name: "f", Kind: tc.kind})
		_, err := d.Validate(tc.raw)
		var fe *Error
		require.ErrorAs(t, err, &fe, "%s %v", tc.kind, tc.raw)
		assert.Equal(t, "f", fe.Field)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	descriptors := []*Descriptor{
		{Name: "i", Kind: Integer},
		{Name: "f", Kind: Float},
		{Name: "b", Kind: Boolean},
		{Name: "s", Kind: String},
		{Name: "v", Kind: Version},
		{Name: "d", Kind: DateTime},
		{Name: "l", Kind: List, ElementKind: Integer, Validators: []Validator{Unique(true)}},
		{Name: "m", Kind: Dict, ElementKind: String},
	}
	inputs := []any{
		"12", "1.25", "on", 99, "3", "2024-05-01T10:00:00.123456789+02:00",
		[]any{"1", 2, 2.0, "3"},
		map[string]any{"a": 1, "b": true},
	}
	for i, d := range descriptors {
		prepared(t, d)
		once, err := d.Validate(inputs[i])
		require.NoError(t, err, d.Name)
		twice, err := d.Validate(once)
		require.NoError(t, err, d.Name)
		assert.Equal(t, once, twice, d.Name)
	}
}

func TestNullHandling(t *testing.T) {
	d := prepared(t, &Descriptor{Name: "s", Kind: String})
	_, err := d.Validate(nil)
	assert.Error(t, err)

	d = prepared(t, &Descriptor{Name: "s", Kind: String, Nullable: true})
	v, err := d.Validate(nil)
	assert.NoError(t, err)
	assert.Nil(t, v)

	d = prepared(t, &Descriptor{Name: "l", Kind: List, ElementKind: String})
	v, err = d.Validate(nil)
	assert.NoError(t, err)
	assert.Equal(t, []any{}, v)

	_, err = d.Validate([]any{"a", nil})
	assert.Error(t, err)
}

func TestDefaultValidators(t *testing.T) {
	d := prepared(t, &Descriptor{Name: "s", Kind: String})
	_, err := d.Validate(strings.Repeat("x", DefaultMaxStringLength+1))
	assert.Error(t, err)

	d = prepared(t, &Descriptor{Name: "l", Kind: List, ElementKind: Integer})
	big := make([]any, DefaultMaxItems+1)
	for i := range big {
		big[i] = i
	}
	_, err = d.Validate(big)
	assert.Error(t, err)

	d = prepared(t, &Descriptor{Name: "m", Kind: Dict, ElementKind: String})
	_, err = d.Validate(map[string]any{"": "x"})
	assert.Error(t, err)
}

func TestValidatorsComposeConjunctively(t *testing.T) {
	re, err := Pattern("^[a-z]+$")
	require.NoError(t, err)
	d := prepared(t, &Descriptor{Name: "s", Kind: String, Validators: []Validator{MinLength(2), MaxLength(4), re}})

	_, err = d.Validate("abc")
	assert.NoError(t, err)
	_, err = d.Validate("a")
	assert.ErrorContains(t, err, "less than 2")
	_, err = d.Validate("abcde")
	assert.ErrorContains(t, err, "greater than 4")
	_, err = d.Validate("AB")
	assert.ErrorContains(t, err, "pattern")
}

func TestElementValidators(t *testing.T) {
	d := prepared(t, &Descriptor{
		Name:              "tags",
		Kind:              List,
		ElementKind:       String,
		Validators:        []Validator{Unique(false)},
		ElementValidators: []Validator{ForbiddenChars(",/")},
	})
	_, err := d.Validate([]any{"a", "b/c"})
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "tags[1]", fe.Field)

	_, err = d.Validate([]any{"a", "a"})
	assert.ErrorContains(t, err, "repeated")
}

func TestDictValidators(t *testing.T) {
	d := prepared(t, &Descriptor{
		Name:        "limits",
		Kind:        Dict,
		ElementKind: Integer,
		Validators:  []Validator{AllowedKeys("cpu", "mem"), RequiredKeys("cpu")},
		ElementValidators: []Validator{
			Minimum(0), Maximum(64),
		},
	})
	v, err := d.Validate(map[string]any{"cpu": "4"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"cpu": int64(4)}, v)

	_, err = d.Validate(map[string]any{"mem": 1})
	assert.ErrorContains(t, err, "required key")
	_, err = d.Validate(map[string]any{"cpu": 1, "gpu": 1})
	assert.ErrorContains(t, err, "gpu")
	_, err = d.Validate(map[string]any{"cpu": 100})
	assert.ErrorContains(t, err, "greater than")
}

func TestJSONSchemaValidator(t *testing.T) {
	js, err := JSONSchema(map[string]any{
		"type":     "object",
		"required": []any{"port"},
		"properties": map[string]any{
			"port": map[string]any{"type": "integer", "maximum": 65535},
		},
	})
	require.NoError(t, err)
	d := prepared(t, &Descriptor{Name: "svc", Kind: Dict, ElementKind: Integer, Validators: []Validator{js}})

	_, err = d.Validate(map[string]any{"port": 8080})
	assert.NoError(t, err)
	_, err = d.Validate(map[string]any{"port": 70000})
	assert.Error(t, err)
	_, err = d.Validate(map[string]any{"other": 1})
	assert.Error(t, err)
}

func TestPrepareRejectsInvalidDescriptors(t *testing.T) {
	bad := []*Descriptor{
		{Name: "", Kind: String},
		{Name: "x", Kind: "bytes"},
		{Name: "x", Kind: List, ElementKind: Blob},
		{Name: "x", Kind: List},
		{Name: "x", Kind: Dict, ElementKind: Dict},
		{Name: "x", Kind: List, ElementKind: String, Sortable: true},
		{Name: "x", Kind: String, Sortable: true, Validators: []Validator{MaxLength(1024)}},
		{Name: "x", Kind: Integer, Validators: []Validator{MaxLength(3)}},
		{Name: "x", Kind: Blob, AllowOverwrite: true},
		{Name: "x", Kind: Blob, Mutability: Immutable},
		{Name: "x", Kind: BlobDict, Mutability: Immutable, Required: true},
		{Name: "x", Kind: Boolean, FilterOps: []FilterOp{OpLike}},
		{Name: "x", Kind: Integer, Default: "abc"},
	}
	for _, d := range bad {
		assert.Error(t, d.Prepare(), "%+v", d)
	}
}

func TestBlobFieldsAreNotSettable(t *testing.T) {
	d := prepared(t, &Descriptor{Name: "payload", Kind: Blob})
	assert.Equal(t, DefaultMaxBlobSize, d.MaxBlobSize)
	_, err := d.Validate("bytes")
	assert.ErrorContains(t, err, "blob API")
}

func TestValidateBlobKey(t *testing.T) {
	d := prepared(t, &Descriptor{Name: "files", Kind: BlobDict, Validators: []Validator{MaxItems(2)}})
	assert.NoError(t, d.ValidateBlobKey("a", nil))
	assert.Error(t, d.ValidateBlobKey("", nil))
	assert.Error(t, d.ValidateBlobKey("c", []string{"a", "b"}))
	assert.NoError(t, d.ValidateBlobKey("a", []string{"a", "b"}))

	single := prepared(t, &Descriptor{Name: "payload", Kind: Blob})
	assert.NoError(t, single.ValidateBlobKey("", nil))
	assert.Error(t, single.ValidateBlobKey("k", nil))
}

func TestDateTimeNormalizedToUTC(t *testing.T) {
	d := prepared(t, &Descriptor{Name: "at", Kind: DateTime})
	v, err := d.Validate("2024-05-01T10:00:00+02:00")
	require.NoError(t, err)
	at, ok := v.(time.Time)
	require.True(t, ok)
	assert.True(t, at.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, at.Location())
}

func TestDescriptorJSONSchema(t *testing.T) {
	d := prepared(t, &Descriptor{
		Name:       "os",
		Kind:       String,
		Mutability: MutableAlways,
		Validators: []Validator{AllowedValues("linux", "windows")},
		Sortable:   true,
	})
	s := d.JSONSchema()
	assert.Equal(t, "string", s["type"])
	assert.Equal(t, []any{"linux", "windows"}, s["enum"])
	assert.Equal(t, "mutable-always", s["x-mutability"])
	assert.Equal(t, true, s["x-sortable"])

	d = prepared(t, &Descriptor{Name: "files", Kind: BlobDict})
	s = d.JSONSchema()
	assert.Equal(t, DefaultMaxFolderSize, s["x-max-folder-size"])
}
