// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package northbound

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// render flattens the artifact into one document: base fields, properties and
// blob fields side by side. Blob dict fields map their keys to blobs.
func render(a *store.Artifact) gin.H {
	doc := gin.H{
		typeschema.FieldID:          a.ID,
		typeschema.FieldTypeName:    a.TypeName,
		typeschema.FieldName:        a.Name,
		typeschema.FieldVersion:     a.Version,
		typeschema.FieldOwner:       a.Owner,
		typeschema.FieldVisibility:  a.Visibility,
		typeschema.FieldStatus:      a.Status,
		typeschema.FieldDescription: a.Description,
		typeschema.FieldCreatedAt:   a.CreatedAt.Format(time.RFC3339Nano),
		typeschema.FieldUpdatedAt:   a.UpdatedAt.Format(time.RFC3339Nano),
		typeschema.FieldRevision:    a.Revision,
	}
	if a.ActivatedAt != nil {
		doc[typeschema.FieldActivatedAt] = a.ActivatedAt.Format(time.RFC3339Nano)
	}
	for name, v := range a.Properties {
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339Nano)
		}
		doc[name] = v
	}
	for _, b := range a.Blobs {
		if b.Key == "" {
			doc[b.Field] = renderBlob(b)
			continue
		}
		dict, ok := doc[b.Field].(gin.H)
		if !ok {
			dict = gin.H{}
			doc[b.Field] = dict
		}
		dict[b.Key] = renderBlob(b)
	}
	return doc
}

func renderBlob(b *store.Blob) gin.H {
	out := gin.H{
		"status":       b.Status,
		"size":         b.Size,
		"checksum":     b.Checksum,
		"md5":          b.MD5,
		"sha1":         b.SHA1,
		"sha256":       b.SHA256,
		"content_type": b.ContentType,
		"external":     b.External,
	}
	if b.External {
		out["url"] = b.Location
	}
	return out
}
