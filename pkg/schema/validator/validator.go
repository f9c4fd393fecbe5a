// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/pkg/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Validator validates YAML documents against the artifact type definition schema
type Validator struct {
	schema *jsonschema.Schema
}

const specSchemaProperty = "specSchema: ArtifactType"

type ValidationResult struct {
	Path    string
	Err     error
	Message string
}

// ValidateFiles validates the specified YAML files or directories recursively against the artifact type definition schema.
func ValidateFiles(paths ...string) ([]ValidationResult, error) {
	// Create a validator
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}

	// Iterate over all specified files or directories and find all YAML files
	files, err := findYAMLFiles(paths)
	if err != nil {
		return nil, err
	}

	results := make([]ValidationResult, 0, len(files))
	var firstErr error
	for _, file := range files {
		yamlBytes, err := os.ReadFile(file)
		if err != nil {
			results, firstErr = latchError(results, file, err, firstErr)
			continue
		}

		// Files without a type definition are not ours to judge
		if strings.Contains(string(yamlBytes), specSchemaProperty) {
			err = v.Validate(yamlBytes)
			if err != nil {
				results, firstErr = latchError(results, file, err, firstErr)
				continue
			}
			results = append(results, ValidationResult{Path: file})
		}
	}
	return results, firstErr
}

func latchError(results []ValidationResult, path string, err error, oldError error) ([]ValidationResult, error) {
	message := ""
	if _, ok := err.(*jsonschema.ValidationError); ok {
		message = fmt.Sprintf("%#v\n", err)
	} else {
		message = fmt.Sprintf("validation failed: %v\n", err)
	}
	if oldError == nil {
		return append(results, ValidationResult{Path: path, Err: err, Message: message}), err
	}
	return append(results, ValidationResult{Path: path, Err: err, Message: message}), oldError
}

func isDir(path string) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return stat.IsDir(), nil
}

func findYAMLFiles(paths []string) ([]string, error) {
	files := make([]string, 0)

	var err error
	for _, path := range paths {
		isDirectory, err := isDir(path)
		if err != nil {
			return nil, err
		}

		if isDirectory {
			dirPath := path
			err = filepath.WalkDir(dirPath, func(path string, d os.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}
				if !d.IsDir() && (strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else {
			files = append(files, path)
		}
	}
	return files, err
}

// FindYAMLFiles expands directories into the YAML files they contain.
func FindYAMLFiles(paths ...string) ([]string, error) {
	return findYAMLFiles(paths)
}

// NewValidator creates a new artifact type definition validator.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.LoadURL = loadURL

	validator := &Validator{}
	var err error
	validator.schema, err = compiler.Compile("-")
	if err != nil {
		return nil, err
	}
	return validator, nil
}

// Validate validates every document in the given YAML bytes.
func (v *Validator) Validate(yamlBytes []byte) error {
	_, err := v.Decode(yamlBytes)
	return err
}

// Decode validates every document in the given YAML bytes and returns the
// decoded documents.
func (v *Validator) Decode(yamlBytes []byte) ([]map[string]interface{}, error) {
	raw, err := decodeBytes(yamlBytes)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]interface{}, 0, len(raw))
	for i, r := range raw {
		if r == nil {
			continue
		}
		if err = v.schema.Validate(r); err != nil {
			return nil, filterError(err, i)
		}
		doc, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("document %d is not a mapping", i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Reduces the error chain to its most specific cause
func filterError(err error, doc int) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	leaf := ve
	for len(leaf.Causes) == 1 {
		leaf = leaf.Causes[0]
	}
	if leaf == ve {
		return fmt.Errorf("document %d: %w", doc, ve)
	}
	return fmt.Errorf("document %d: %s: %s: %w", doc, leaf.InstanceLocation, leaf.Message, ve)
}

func loadURL(s string) (io.ReadCloser, error) {
	r := io.NopCloser(strings.NewReader(schema.ArtifactTypeSchema))
	defer r.Close()

	v, err := decodeYAML(r, s)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// The following has been adapted from the https://github.com/santhosh-tekuri/jsonschema/blob/master/cmd/jv/main.go

func decodeYAML(r io.Reader, name string) (interface{}, error) {
	var v interface{}
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid yaml file %s: %w", name, err)
	}
	return v, nil
}

func decodeBytes(yamlBytes []byte) ([]interface{}, error) {
	raw := make([]interface{}, 0, 1)
	dec := yaml.NewDecoder(bytes.NewReader(yamlBytes))

	for {
		var r interface{}
		err := dec.Decode(&r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
		raw = append(raw, r)
	}
	return raw, nil
}
