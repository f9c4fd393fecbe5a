// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package wiper

import (
	"context"

	"github.com/open-edge-platform/app-orch-artifacts/internal/engine"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

const wiperClient = "project-wiper"

// ProjectWiper is a tool for wiping data associated with a project
type ProjectWiper interface {
	Wipe(ctx context.Context, projectUUID string) []error
}

type engineWiper struct {
	engine *engine.Engine
}

// NewEngineWiper creates a project wiper deleting artifacts through the engine
func NewEngineWiper(e *engine.Engine) ProjectWiper {
	return &engineWiper{engine: e}
}

// Acts as the given project, keeping the user of the caller
func asProject(ctx context.Context, projectUUID string) context.Context {
	creds := &policy.Credentials{ProjectID: projectUUID, Client: wiperClient}
	if caller, err := policy.FromContext(ctx); err == nil {
		creds.User = caller.User
	}
	return policy.NewContext(ctx, creds)
}

// Wipe deletes the artifacts of every type owned by the given project.
func (w *engineWiper) Wipe(ctx context.Context, projectUUID string) []error {
	var errors []error
	pctx := asProject(ctx, projectUUID)
	for _, typeName := range w.engine.TypeNames() {
		errors = append(errors, w.wipeType(pctx, projectUUID, typeName)...)
	}
	log.Infof("Wiped project %s with %d errors", projectUUID, len(errors))
	return errors
}

// Sweeps through the artifacts of a type owned by the project; public
// artifacts of other projects are listed too and must be left alone. Failed
// deletions stay listed and are skipped on the next page
func (w *engineWiper) wipeType(ctx context.Context, projectUUID string, typeName string) []error {
	var errors []error
	for {
		page, err := w.engine.List(ctx, typeName, &engine.ListOptions{
			Filters: []*engine.FilterSpec{{Field: typeschema.FieldOwner, Values: []any{projectUUID}}},
			Offset:  len(errors),
			Limit:   engine.MaxPageSize,
		})
		if err != nil {
			return append(errors, err)
		}
		if len(page.Artifacts) == 0 {
			return errors
		}
		for _, a := range page.Artifacts {
			if err := w.engine.Delete(ctx, typeName, a.ID); err != nil {
				log.Warnf("Unable to delete %s %s:%s: %v", typeName, a.Name, a.Version, err)
				errors = append(errors, err)
			}
		}
	}
}
