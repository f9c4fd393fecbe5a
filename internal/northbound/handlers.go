// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package northbound

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/engine"
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
)

// Query parameters of artifact listings that are not filters.
const (
	limitParam  = "limit"
	offsetParam = "offset"
	sortParam   = "sort"
	latestParam = "latest"
)

func (s *Server) listTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": s.engine.TypeNames()})
}

func (s *Server) getType(c *gin.Context) {
	schema, err := s.engine.TypeSchema(c.Param("type"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (s *Server) createArtifact(c *gin.Context) {
	values := map[string]any{}
	if err := c.ShouldBindJSON(&values); err != nil {
		abortWithError(c, errors.NewInvalidArgument(errors.WithMessage("malformed artifact"), errors.WithError(err)))
		return
	}
	a, err := s.engine.Create(c.Request.Context(), c.Param("type"), values)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, render(a))
}

func (s *Server) getArtifact(c *gin.Context) {
	a, err := s.engine.Get(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(a))
}

func (s *Server) updateArtifact(c *gin.Context) {
	changes := map[string]any{}
	if err := c.ShouldBindJSON(&changes); err != nil {
		abortWithError(c, errors.NewInvalidArgument(errors.WithMessage("malformed changes"), errors.WithError(err)))
		return
	}
	a, err := s.engine.Update(c.Request.Context(), c.Param("type"), c.Param("id"), changes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(a))
}

func (s *Server) deleteArtifact(c *gin.Context) {
	if err := s.engine.Delete(c.Request.Context(), c.Param("type"), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) changeState(c *gin.Context) {
	ctx, typeName, id := c.Request.Context(), c.Param("type"), c.Param("id")
	var (
		a   *store.Artifact
		err error
	)
	switch c.Param("action") {
	case "activate":
		a, err = s.engine.Activate(ctx, typeName, id)
	case "deactivate":
		a, err = s.engine.Deactivate(ctx, typeName, id)
	case "reactivate":
		a, err = s.engine.Reactivate(ctx, typeName, id)
	case "publish":
		a, err = s.engine.Publish(ctx, typeName, id)
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown action " + c.Param("action")})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(a))
}

func (s *Server) listArtifacts(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	page, err := s.engine.List(c.Request.Context(), c.Param("type"), opts)
	if err != nil {
		abortWithError(c, err)
		return
	}
	arts := make([]gin.H, 0, len(page.Artifacts))
	for _, a := range page.Artifacts {
		arts = append(arts, render(a))
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": arts, "total_count": page.TotalCount})
}

// listOptions reads a listing from the query. Every parameter other than
// limit, offset, sort and latest filters on the field it names, "field.key"
// naming an entry of a dict field. Filter values are "op:value" or a bare
// value compared for equality; "in:" takes a comma separated list.
func listOptions(c *gin.Context) (*engine.ListOptions, error) {
	opts := &engine.ListOptions{}
	var err error
	for param, values := range c.Request.URL.Query() {
		switch param {
		case limitParam:
			if opts.Limit, err = strconv.Atoi(values[0]); err != nil {
				return nil, errors.NewInvalidArgument(errors.WithMessage("limit must be a number"))
			}
		case offsetParam:
			if opts.Offset, err = strconv.Atoi(values[0]); err != nil {
				return nil, errors.NewInvalidArgument(errors.WithMessage("offset must be a number"))
			}
		case latestParam:
			if opts.Latest, err = strconv.ParseBool(values[0]); err != nil {
				return nil, errors.NewInvalidArgument(errors.WithMessage("latest must be a boolean"))
			}
		case sortParam:
			for _, v := range values {
				opts.Sort = append(opts.Sort, sortKeys(v)...)
			}
		default:
			field, key, _ := strings.Cut(param, ".")
			for _, v := range values {
				opts.Filters = append(opts.Filters, filterSpec(field, key, v))
			}
		}
	}
	return opts, nil
}

func sortKeys(v string) []*engine.SortSpec {
	var keys []*engine.SortSpec
	for _, k := range strings.Split(v, ",") {
		field, dir, _ := strings.Cut(strings.TrimSpace(k), ":")
		if field == "" {
			continue
		}
		keys = append(keys, &engine.SortSpec{Field: field, Desc: dir == "desc"})
	}
	return keys
}

func filterSpec(field string, key string, v string) *engine.FilterSpec {
	f := &engine.FilterSpec{Field: field, Key: key, Op: fields.OpEQ}
	if prefix, rest, ok := strings.Cut(v, ":"); ok {
		if op, known := fields.ParseFilterOp(prefix); known {
			f.Op, v = op, rest
		}
	}
	if f.Op == fields.OpIn {
		for _, item := range strings.Split(v, ",") {
			f.Values = append(f.Values, item)
		}
		return f
	}
	f.Values = []any{v}
	return f
}

func (s *Server) resolveReferences(c *gin.Context) {
	refs, err := s.engine.ResolveReferences(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, refs)
}

func (s *Server) uploadBlob(c *gin.Context) {
	opts := &engine.UploadOptions{
		ContentType: c.ContentType(),
		Size:        c.Request.ContentLength,
	}
	a, err := s.engine.UploadBlob(c.Request.Context(), c.Param("type"), c.Param("id"), c.Param("field"),
		c.Query("key"), c.Request.Body, opts)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(a))
}

// downloadBlob streams the blob data, or redirects to the URL of an external
// blob.
func (s *Server) downloadBlob(c *gin.Context) {
	d, err := s.engine.DownloadBlob(c.Request.Context(), c.Param("type"), c.Param("id"), c.Param("field"),
		c.Query("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if d.Reader == nil {
		c.Redirect(http.StatusTemporaryRedirect, d.Location)
		return
	}
	defer func() {
		if err := d.Reader.Close(); err != nil {
			log.Warnf("Download of blob %s ended with error: %v", d.Blob.ID, err)
		}
	}()
	contentType := d.Blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"Content-MD5": d.Blob.MD5,
		"ETag":        strconv.Quote(d.Blob.Checksum),
	}
	c.DataFromReader(http.StatusOK, d.Blob.Size, contentType, d.Reader, headers)
}

type location struct {
	URL         string `json:"url" binding:"required"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
	SHA1        string `json:"sha1"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
}

func (s *Server) addBlobLocation(c *gin.Context) {
	loc := &location{}
	if err := c.ShouldBindJSON(loc); err != nil {
		abortWithError(c, errors.NewInvalidArgument(errors.WithResourceType(errors.BlobType),
			errors.WithMessage("malformed location"), errors.WithError(err)))
		return
	}
	a, err := s.engine.AddBlobLocation(c.Request.Context(), c.Param("type"), c.Param("id"), c.Param("field"),
		c.Query("key"), &blob.ExternalLocation{
			URL:         loc.URL,
			Size:        loc.Size,
			MD5:         loc.MD5,
			SHA1:        loc.SHA1,
			SHA256:      loc.SHA256,
			ContentType: loc.ContentType,
		})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(a))
}

func (s *Server) deleteExternalBlob(c *gin.Context) {
	a, err := s.engine.DeleteExternalBlob(c.Request.Context(), c.Param("type"), c.Param("id"), c.Param("field"),
		c.Query("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(a))
}

type quota struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Value     int64  `json:"value"`
}

func (s *Server) listQuotas(c *gin.Context) {
	quotas, err := s.engine.ListQuotas(c.Request.Context(), c.Query("project"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]*quota, 0, len(quotas))
	for _, q := range quotas {
		out = append(out, &quota{ProjectID: q.ProjectID, Name: q.Name, Value: q.Value})
	}
	c.JSON(http.StatusOK, gin.H{"quotas": out})
}

func (s *Server) setQuotas(c *gin.Context) {
	var in []*quota
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithError(c, errors.NewInvalidArgument(errors.WithResourceType(errors.QuotaType),
			errors.WithMessage("malformed quotas"), errors.WithError(err)))
		return
	}
	quotas := make([]*store.Quota, 0, len(in))
	for _, q := range in {
		quotas = append(quotas, &store.Quota{ProjectID: q.ProjectID, Name: q.Name, Value: q.Value})
	}
	if err := s.engine.SetQuotas(c.Request.Context(), quotas); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// wipeProject deletes every artifact of a project. Only administrators and
// the project itself may wipe it.
func (s *Server) wipeProject(c *gin.Context) {
	project := c.Param("project")
	creds, err := policy.FromContext(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !creds.IsAdmin() && creds.ProjectID != project {
		abortWithError(c, errors.NewPermissionDenied(errors.WithMessage("project %s cannot be wiped by %s", project, creds.ProjectID)))
		return
	}
	if errs := s.wiper.Wipe(c.Request.Context(), project); len(errs) > 0 {
		log.Warnf("Wipe of project %s left %d artifacts", project, len(errs))
		abortWithError(c, errs[0])
		return
	}
	c.Status(http.StatusNoContent)
}
