// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"slices"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"google.golang.org/grpc/metadata"
)

// Metadata keys carrying the caller identity.
const (
	ActiveProjectID = "activeprojectid"
	UserName        = "name"
	Roles           = "roles"
	Client          = "client"

	// DefaultProjectID is used for callers that name no project.
	DefaultProjectID = "default"
	AdminRole        = "admin"
)

// Credentials identify the caller of an operation.
type Credentials struct {
	ProjectID string
	User      string
	Client    string
	Roles     []string
}

func (c *Credentials) IsAdmin() bool {
	return slices.Contains(c.Roles, AdminRole)
}

// FromContext reads the credentials from incoming gRPC metadata.
func FromContext(ctx context.Context) (*Credentials, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, errors.NewInvalidArgument(errors.WithMessage("incomplete request: unable to fetch request metadata"))
	}
	creds := &Credentials{
		ProjectID: first(md, ActiveProjectID),
		User:      first(md, UserName),
		Client:    first(md, Client),
	}
	if creds.ProjectID == "" {
		creds.ProjectID = DefaultProjectID
	}
	for _, v := range md.Get(Roles) {
		for _, role := range strings.Split(v, ",") {
			if role = strings.TrimSpace(role); role != "" {
				creds.Roles = append(creds.Roles, role)
			}
		}
	}
	return creds, nil
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// NewContext returns a context whose incoming metadata carries creds.
func NewContext(ctx context.Context, creds *Credentials) context.Context {
	md := metadata.Pairs(ActiveProjectID, creds.ProjectID)
	if creds.User != "" {
		md.Set(UserName, creds.User)
	}
	if creds.Client != "" {
		md.Set(Client, creds.Client)
	}
	if len(creds.Roles) > 0 {
		md.Set(Roles, strings.Join(creds.Roles, ","))
	}
	return metadata.NewIncomingContext(ctx, md)
}
