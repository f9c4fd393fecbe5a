// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Suite of store tests against an in-memory database
type StoreTestSuite struct {
	suite.Suite

	ctx    context.Context
	cancel context.CancelFunc
	store  *Store
}

func (s *StoreTestSuite) SetupTest() {
	var err error
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.store, err = Open("sqlite3", "file:ent?mode=memory&_fk=1")
	s.NoError(err)
	s.NoError(s.store.Migrate(s.ctx))
}

func (s *StoreTestSuite) TearDownTest() {
	s.NoError(s.store.Close())
	s.cancel()
}

func TestStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{})
}

func (s *StoreTestSuite) newArtifact(name string, version string, owner string, props map[string]any) *Artifact {
	return &Artifact{
		TypeName:   "images",
		Name:       name,
		Version:    version,
		Owner:      owner,
		Visibility: typeschema.VisibilityPrivate,
		Status:     typeschema.StatusDrafted,
		Properties: props,
	}
}

func (s *StoreTestSuite) create(name string, version string, owner string, props map[string]any) *Artifact {
	id, err := s.store.Create(s.ctx, s.newArtifact(name, version, owner, props))
	s.NoError(err)
	a, err := s.store.Get(s.ctx, id)
	s.NoError(err)
	return a
}

func (s *StoreTestSuite) TestCreateAndGet() {
	created := time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)
	a := s.create("ubuntu", "1.2.3-rc.1", "p1", map[string]any{
		"size":    int64(42),
		"ratio":   0.5,
		"enabled": true,
		"os":      "linux",
		"built":   created,
		"tags":    []any{"b", "a"},
		"labels":  map[string]any{"arch": "amd64", "tier": "base"},
		"empty":   []any{},
		"nokeys":  map[string]any{},
		"missing": nil,
	})
	s.Len(a.ID, 36)
	s.Equal("images", a.TypeName)
	s.Equal("1.2.3-rc.1", a.Version)
	s.Equal(int64(1), a.Revision)
	s.Nil(a.ActivatedAt)
	s.Equal(time.UTC, a.CreatedAt.Location())

	s.Equal(int64(42), a.Properties["size"])
	s.Equal(0.5, a.Properties["ratio"])
	s.Equal(true, a.Properties["enabled"])
	s.Equal("linux", a.Properties["os"])
	s.Equal("2024-05-01T10:00:00.123456Z", a.Properties["built"])
	s.Equal([]any{"b", "a"}, a.Properties["tags"])
	s.Equal(map[string]any{"arch": "amd64", "tier": "base"}, a.Properties["labels"])
	s.Equal([]any{}, a.Properties["empty"])
	s.Equal(map[string]any{}, a.Properties["nokeys"])
	s.NotContains(a.Properties, "missing")

	s.Equal("ubuntu", a.Value(typeschema.FieldName))
	s.Equal(int64(42), a.Value("size"))
	s.Nil(a.Value(typeschema.FieldActivatedAt))
}

func (s *StoreTestSuite) TestGetNotFound() {
	_, err := s.store.Get(s.ctx, "00000000-0000-0000-0000-000000000000")
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *StoreTestSuite) TestUpdateRevision() {
	a := s.create("ubuntu", "1.0.0", "p1", map[string]any{"os": "linux", "tags": []any{"x"}})

	updated, err := s.store.Update(s.ctx, a.ID, &Change{
		Columns:    map[string]any{typeschema.FieldDescription: "new", typeschema.FieldVersion: "2.0.0"},
		Properties: map[string]any{"os": "windows", "tags": nil},
	}, a.Revision)
	s.NoError(err)
	s.Equal(int64(2), updated.Revision)
	s.Equal("new", updated.Description)
	s.Equal("2.0.0", updated.Version)
	s.Equal("windows", updated.Properties["os"])
	s.NotContains(updated.Properties, "tags")
	s.False(updated.UpdatedAt.Before(a.UpdatedAt))

	// a stale revision is rejected and nothing changes
	_, err = s.store.Update(s.ctx, a.ID, &Change{
		Columns: map[string]any{typeschema.FieldDescription: "stale"},
	}, a.Revision)
	s.Equal(codes.Aborted, status.Code(err))
	s.Contains(err.Error(), "expected revision 1, found 2")

	current, err := s.store.Get(s.ctx, a.ID)
	s.NoError(err)
	s.Equal("new", current.Description)
	s.Equal(int64(2), current.Revision)
}

func (s *StoreTestSuite) TestGetSeesWholeUpdates() {
	a := s.newArtifact("ubuntu", "1.0.0", "p1", map[string]any{"count": int64(0)})
	a.Description = "0"
	id, err := s.store.Create(s.ctx, a)
	s.Require().NoError(err)
	a, err = s.store.Get(s.ctx, id)
	s.Require().NoError(err)

	const n = 50
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			got, err := s.store.Get(s.ctx, a.ID)
			if !s.NoError(err) {
				return
			}
			s.Equal(got.Description, fmt.Sprint(got.Properties["count"]), "revision %d", got.Revision)
		}
	}()
	for i := 1; i <= n; i++ {
		a, err = s.store.Update(s.ctx, a.ID, &Change{
			Columns:    map[string]any{typeschema.FieldDescription: fmt.Sprint(i)},
			Properties: map[string]any{"count": int64(i)},
		}, a.Revision)
		s.Require().NoError(err)
	}
	close(done)
	wg.Wait()
	s.Equal(fmt.Sprint(n), a.Description)
}

func (s *StoreTestSuite) TestUpdateErrors() {
	_, err := s.store.Update(s.ctx, "00000000-0000-0000-0000-000000000000", &Change{}, 1)
	s.Equal(codes.NotFound, status.Code(err))

	a := s.create("ubuntu", "1.0.0", "p1", nil)
	_, err = s.store.Update(s.ctx, a.ID, &Change{Columns: map[string]any{typeschema.FieldOwner: "p2"}}, a.Revision)
	s.Equal(codes.InvalidArgument, status.Code(err))

	_, err = s.store.Update(s.ctx, a.ID, &Change{
		Columns: map[string]any{typeschema.FieldActivatedAt: time.Now()},
	}, a.Revision)
	s.NoError(err)
	_, err = s.store.Update(s.ctx, a.ID, &Change{
		Columns: map[string]any{typeschema.FieldActivatedAt: nil},
	}, a.Revision+1)
	s.NoError(err)
}

func (s *StoreTestSuite) TestDelete() {
	a := s.create("ubuntu", "1.0.0", "p1", map[string]any{"os": "linux"})
	s.NoError(s.store.SaveBlob(s.ctx, &Blob{ArtifactID: a.ID, Field: "image", Status: BlobActive, Size: 3}))
	s.NoError(s.store.Delete(s.ctx, a.ID))

	_, err := s.store.Get(s.ctx, a.ID)
	s.Equal(codes.NotFound, status.Code(err))
	blobs, err := s.store.ListBlobs(s.ctx, a.ID)
	s.NoError(err)
	s.Empty(blobs)

	err = s.store.Delete(s.ctx, a.ID)
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *StoreTestSuite) TestBlobs() {
	a := s.create("ubuntu", "1.0.0", "p1", nil)
	b := &Blob{ArtifactID: a.ID, Field: "files", Key: "readme", Status: BlobSaving, Size: 100}
	s.NoError(s.store.SaveBlob(s.ctx, b))
	s.NotEmpty(b.ID)

	got, err := s.store.GetBlob(s.ctx, a.ID, "files", "readme")
	s.NoError(err)
	s.Equal(BlobSaving, got.Status)
	s.Equal(int64(100), got.Size)

	s.NoError(s.store.SetBlobStatus(s.ctx, b.ID, BlobSaving, BlobActive))
	err = s.store.SetBlobStatus(s.ctx, b.ID, BlobSaving, BlobError)
	s.Equal(codes.Aborted, status.Code(err))

	// replacing the record of the same key keeps a single row
	s.NoError(s.store.SaveBlob(s.ctx, &Blob{ArtifactID: a.ID, Field: "files", Key: "readme",
		Status: BlobActive, Size: 5, SHA256: "abc"}))
	reloaded, err := s.store.Get(s.ctx, a.ID)
	s.NoError(err)
	s.Len(reloaded.Blobs, 1)
	s.Equal("abc", reloaded.Blob("files", "readme").SHA256)
	s.Len(reloaded.BlobsOf("files"), 1)
	s.Nil(reloaded.Blob("files", "other"))

	// blob changes leave the artifact revision alone
	s.Equal(a.Revision, reloaded.Revision)

	_, err = s.store.GetBlob(s.ctx, a.ID, "files", "other")
	s.Equal(codes.NotFound, status.Code(err))

	s.NoError(s.store.DeleteBlob(s.ctx, reloaded.Blob("files", "readme").ID))
	err = s.store.DeleteBlob(s.ctx, b.ID)
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *StoreTestSuite) TestQuotasAndUsage() {
	s.NoError(s.store.SetQuotas(s.ctx, []*Quota{
		{ProjectID: "p1", Name: "max_artifact_number", Value: 10},
		{ProjectID: "p1", Name: "max_artifact_number:images", Value: 2},
		{ProjectID: "p2", Name: "max_uploaded_data", Value: -1},
	}))
	s.NoError(s.store.SetQuotas(s.ctx, []*Quota{{ProjectID: "p1", Name: "max_artifact_number", Value: 5}}))

	quotas, err := s.store.ListQuotas(s.ctx, "p1")
	s.NoError(err)
	s.Len(quotas, 2)
	s.Equal("max_artifact_number", quotas[0].Name)
	s.Equal(int64(5), quotas[0].Value)
	all, err := s.store.ListQuotas(s.ctx, "")
	s.NoError(err)
	s.Len(all, 3)

	a1 := s.create("a", "1.0.0", "p1", nil)
	a2 := s.create("b", "1.0.0", "p1", nil)
	s.create("c", "1.0.0", "p2", nil)

	n, err := s.store.CountArtifacts(s.ctx, "p1", "")
	s.NoError(err)
	s.Equal(int64(2), n)
	n, err = s.store.CountArtifacts(s.ctx, "p1", "other")
	s.NoError(err)
	s.Equal(int64(0), n)

	used, err := s.store.UploadedData(s.ctx, "p1", "")
	s.NoError(err)
	s.Equal(int64(0), used)

	s.NoError(s.store.SaveBlob(s.ctx, &Blob{ArtifactID: a1.ID, Field: "image", Status: BlobActive, Size: 10}))
	s.NoError(s.store.SaveBlob(s.ctx, &Blob{ArtifactID: a2.ID, Field: "image", Status: BlobSaving, Size: 20}))
	s.NoError(s.store.SaveBlob(s.ctx, &Blob{ArtifactID: a2.ID, Field: "files", Key: "x", Status: BlobError, Size: 40}))
	s.NoError(s.store.SaveBlob(s.ctx, &Blob{ArtifactID: a2.ID, Field: "files", Key: "y", Status: BlobActive,
		Size: 80, External: true}))

	used, err = s.store.UploadedData(s.ctx, "p1", "images")
	s.NoError(err)
	s.Equal(int64(30), used)
}

func (s *StoreTestSuite) TestMoveProject() {
	s.create("a", "1.0.0", "default", nil)
	s.create("b", "1.0.0", "default", nil)
	s.create("c", "1.0.0", "p2", nil)
	s.NoError(s.store.SetQuotas(s.ctx, []*Quota{{ProjectID: "default", Name: "max_artifact_number", Value: 3}}))

	moved, err := s.store.MoveProject(s.ctx, "default", "p1")
	s.NoError(err)
	s.Equal(int64(2), moved)

	n, err := s.store.CountArtifacts(s.ctx, "p1", "")
	s.NoError(err)
	s.Equal(int64(2), n)
	n, err = s.store.CountArtifacts(s.ctx, "default", "")
	s.NoError(err)
	s.Equal(int64(0), n)
	quotas, err := s.store.ListQuotas(s.ctx, "p1")
	s.NoError(err)
	s.Len(quotas, 1)

	moved, err = s.store.MoveProject(s.ctx, "default", "p1")
	s.NoError(err)
	s.Zero(moved)
}

func (s *StoreTestSuite) TestCountInScope() {
	a := s.create("ubuntu", "1.0.0", "p1", nil)
	s.create("ubuntu", "1.0.0", "p2", nil)

	n, err := s.store.CountInScope(s.ctx, Scope{TypeName: "images", Name: "ubuntu", Version: "1.0.0", Owner: "p1"})
	s.NoError(err)
	s.Equal(int64(1), n)
	n, err = s.store.CountInScope(s.ctx, Scope{TypeName: "images", Name: "ubuntu", Version: "1.0.0", Owner: "p1",
		ExcludeID: a.ID})
	s.NoError(err)
	s.Equal(int64(0), n)
	n, err = s.store.CountInScope(s.ctx, Scope{TypeName: "images", Name: "ubuntu", Version: "1.0.0", Public: true})
	s.NoError(err)
	s.Equal(int64(0), n)

	_, err = s.store.Update(s.ctx, a.ID, &Change{
		Columns: map[string]any{typeschema.FieldVisibility: typeschema.VisibilityPublic},
	}, a.Revision)
	s.NoError(err)
	n, err = s.store.CountInScope(s.ctx, Scope{TypeName: "images", Name: "ubuntu", Version: "1.0.0", Public: true})
	s.NoError(err)
	s.Equal(int64(1), n)
}

func (s *StoreTestSuite) listNames(q *Query) ([]string, int) {
	page, err := s.store.List(s.ctx, q)
	s.NoError(err)
	names := make([]string, 0, len(page.Artifacts))
	for _, a := range page.Artifacts {
		names = append(names, a.Name+"@"+a.Version)
	}
	return names, page.TotalCount
}

func (s *StoreTestSuite) TestList() {
	s.create("alpha", "1.9.0", "p1", map[string]any{"size": int64(10), "os": "linux", "tags": []any{"x", "y"}})
	s.create("alpha", "1.10.0", "p1", map[string]any{"size": int64(30), "os": "windows", "tags": []any{"y"}})
	s.create("beta", "2.0.0-rc.1", "p1", map[string]any{"size": int64(20), "labels": map[string]any{"arch": "arm"}})
	other := s.create("gamma", "0.1.0", "p2", map[string]any{"size": int64(5)})

	byName := []*Sort{{Field: "name", Kind: fields.String, Column: true}, {Field: "version", Kind: fields.Version, Column: true}}

	names, total := s.listNames(&Query{TypeName: "images", Sort: byName})
	s.Equal([]string{"alpha@1.9.0", "alpha@1.10.0", "beta@2.0.0-rc.1", "gamma@0.1.0"}, names)
	s.Equal(4, total)

	// private artifacts of other owners are hidden
	names, _ = s.listNames(&Query{TypeName: "images", Owner: "p1", Sort: byName})
	s.Equal([]string{"alpha@1.9.0", "alpha@1.10.0", "beta@2.0.0-rc.1"}, names)
	_, err := s.store.Update(s.ctx, other.ID, &Change{
		Columns: map[string]any{typeschema.FieldVisibility: typeschema.VisibilityPublic},
	}, other.Revision)
	s.NoError(err)
	_, total = s.listNames(&Query{TypeName: "images", Owner: "p1"})
	s.Equal(4, total)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "version", Kind: fields.Version, Op: fields.OpGT, Values: []any{"1.9.0"}, Column: true},
	}})
	s.Equal([]string{"alpha@1.10.0", "beta@2.0.0-rc.1"}, names)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "version", Kind: fields.Version, Op: fields.OpLT, Values: []any{"2.0.0"}, Column: true},
	}})
	s.Equal([]string{"alpha@1.9.0", "alpha@1.10.0", "beta@2.0.0-rc.1", "gamma@0.1.0"}, names)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "size", Kind: fields.Integer, Op: fields.OpGTE, Values: []any{int64(20)}},
	}})
	s.Equal([]string{"alpha@1.10.0", "beta@2.0.0-rc.1"}, names)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "tags", Kind: fields.String, Op: fields.OpEQ, Values: []any{"x"}},
	}})
	s.Equal([]string{"alpha@1.9.0"}, names)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "os", Kind: fields.String, Op: fields.OpNEQ, Values: []any{"linux"}},
	}})
	s.Equal([]string{"alpha@1.10.0", "beta@2.0.0-rc.1", "gamma@0.1.0"}, names)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "labels", Kind: fields.String, Key: "arch", Op: fields.OpIn, Values: []any{"arm", "x86"}},
	}})
	s.Equal([]string{"beta@2.0.0-rc.1"}, names)

	names, _ = s.listNames(&Query{TypeName: "images", Sort: byName, Filters: []*Filter{
		{Field: "name", Kind: fields.String, Op: fields.OpLike, Values: []any{"al*"}, Column: true},
	}})
	s.Equal([]string{"alpha@1.9.0", "alpha@1.10.0"}, names)

	// sorting on a property joins its value
	names, _ = s.listNames(&Query{TypeName: "images", Sort: []*Sort{
		{Field: "size", Kind: fields.Integer, Desc: true},
		{Field: "id", Kind: fields.String, Column: true},
	}})
	s.Equal([]string{"alpha@1.10.0", "beta@2.0.0-rc.1", "alpha@1.9.0", "gamma@0.1.0"}, names)

	names, total = s.listNames(&Query{TypeName: "images", Sort: byName, Offset: 1, Limit: 2})
	s.Equal([]string{"alpha@1.10.0", "beta@2.0.0-rc.1"}, names)
	s.Equal(4, total)
}

func (s *StoreTestSuite) TestListExcludesDeleted() {
	a := s.create("alpha", "1.0.0", "p1", nil)
	s.create("beta", "1.0.0", "p1", nil)
	_, err := s.store.Update(s.ctx, a.ID, &Change{
		Columns: map[string]any{typeschema.FieldStatus: typeschema.StatusDeleted},
	}, a.Revision)
	s.NoError(err)

	_, total := s.listNames(&Query{TypeName: "images"})
	s.Equal(1, total)
	_, total = s.listNames(&Query{TypeName: "images", IncludeDeleted: true})
	s.Equal(2, total)
}

func (s *StoreTestSuite) TestListInvalidFilter() {
	_, err := s.store.List(s.ctx, &Query{TypeName: "images", Filters: []*Filter{
		{Field: "size", Kind: fields.Integer, Op: fields.OpEQ, Values: []any{int64(1), int64(2)}},
	}})
	s.Equal(codes.InvalidArgument, status.Code(err))

	_, err = s.store.List(s.ctx, &Query{TypeName: "images", Filters: []*Filter{
		{Field: "tags", Kind: fields.List, Op: fields.OpEQ, Values: []any{"x"}},
	}})
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *StoreTestSuite) TestSplitVersion() {
	vp := splitVersion("1.2.3-rc.1+build.5")
	s.Equal(versionParts{major: 1, minor: 2, patch: 3, stable: false, pre: "rc.1"}, vp)
	s.Equal(versionParts{major: 4, stable: true}, splitVersion("4.0.0"))
	s.Equal(versionParts{stable: true}, splitVersion("not-a-version"))
}
