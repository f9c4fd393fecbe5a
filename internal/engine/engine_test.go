// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob/dbstore"
	"github.com/open-edge-platform/app-orch-artifacts/internal/fields"
	"github.com/open-edge-platform/app-orch-artifacts/internal/locking"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification/notificationmock"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy/policymock"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const images = "images"

// Suite of artifact engine tests
type EngineTestSuite struct {
	suite.Suite

	ctx      context.Context
	cancel   context.CancelFunc
	store    *store.Store
	blobs    *blob.Manager
	registry *typeschema.Registry
	locker   *locking.LocalLocker

	listeners  *notification.Listeners
	events     <-chan *notification.Event
	stopEvents func()
	engine     *Engine

	owner context.Context
	other context.Context
	admin context.Context
}

func (s *EngineTestSuite) SetupTest() {
	var err error
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.store, err = store.Open("sqlite3", "file:ent?mode=memory&_fk=1")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Migrate(s.ctx, dbstore.BlobChunksTable))
	backend, err := dbstore.New(s.store.Driver())
	s.Require().NoError(err)
	s.blobs = blob.NewManager(s.store, backend)

	s.registry = typeschema.NewRegistry()
	_, err = s.registry.RegisterType(images,
		&fields.Descriptor{Name: "payload", Kind: fields.Blob, Required: true},
		&fields.Descriptor{Name: "files", Kind: fields.BlobDict},
		&fields.Descriptor{Name: "count", Kind: fields.Integer, Sortable: true},
		&fields.Descriptor{Name: "ratio", Kind: fields.Float},
		&fields.Descriptor{Name: "enabled", Kind: fields.Boolean},
		&fields.Descriptor{Name: "label", Kind: fields.String, Mutability: fields.MutableAlways},
		&fields.Descriptor{Name: "serial", Kind: fields.String, Mutability: fields.Immutable},
		&fields.Descriptor{Name: "released", Kind: fields.DateTime, Nullable: true},
		&fields.Descriptor{Name: "ports", Kind: fields.List, ElementKind: fields.Integer},
		&fields.Descriptor{Name: "labels", Kind: fields.Dict, ElementKind: fields.String},
		&fields.Descriptor{Name: "base", Kind: fields.Reference, ReferenceType: images, Nullable: true},
		&fields.Descriptor{Name: "deps", Kind: fields.List, ElementKind: fields.Reference},
		&fields.Descriptor{Name: "arches", Kind: fields.List, ElementKind: fields.String,
			Default: []any{"amd64"}, Mutability: fields.MutableAlways},
		&fields.Descriptor{Name: "annotations", Kind: fields.Dict, ElementKind: fields.String,
			Default: map[string]any{"origin": "build"}},
	)
	s.Require().NoError(err)
	_, err = s.registry.RegisterType("charts")
	s.Require().NoError(err)
	s.registry.Freeze()

	s.locker = locking.NewLocalLocker()
	s.listeners = notification.NewListeners()
	s.events, s.stopEvents = s.listeners.Add(&notification.Filter{}, 100)
	s.engine = s.newEngine(Config{LockTimeout: 5 * time.Second}, WithNotifier(s.listeners))

	s.owner = policy.NewContext(s.ctx, &policy.Credentials{ProjectID: "p1", User: "alice", Client: "test"})
	s.other = policy.NewContext(s.ctx, &policy.Credentials{ProjectID: "p2", User: "bob"})
	s.admin = policy.NewContext(s.ctx, &policy.Credentials{ProjectID: "ops", User: "root",
		Roles: []string{policy.AdminRole}})
}

func (s *EngineTestSuite) TearDownTest() {
	s.stopEvents()
	s.NoError(s.store.Close())
	s.cancel()
}

func TestEngine(t *testing.T) {
	suite.Run(t, &EngineTestSuite{})
}

func (s *EngineTestSuite) newEngine(config Config, opts ...Option) *Engine {
	return New(config, s.registry, s.store, s.blobs, append([]Option{WithLocker(s.locker)}, opts...)...)
}

func (s *EngineTestSuite) create(ctx context.Context, values map[string]any) *store.Artifact {
	a, err := s.engine.Create(ctx, images, values)
	s.Require().NoError(err)
	return a
}

func (s *EngineTestSuite) upload(ctx context.Context, id string, field string, key string, data string) *store.Artifact {
	a, err := s.engine.UploadBlob(ctx, images, id, field, key, strings.NewReader(data), nil)
	s.Require().NoError(err)
	return a
}

// activated creates an artifact of p1 ready to be published.
func (s *EngineTestSuite) activated(name string) *store.Artifact {
	a := s.create(s.owner, map[string]any{"name": name, "version": "1.0.0"})
	s.upload(s.owner, a.ID, "payload", "", "data")
	a, err := s.engine.Activate(s.owner, images, a.ID)
	s.Require().NoError(err)
	return a
}

func (s *EngineTestSuite) drainEvents() []notification.EventType {
	var types []notification.EventType
	for {
		select {
		case ev := <-s.events:
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func (s *EngineTestSuite) download(ctx context.Context, id string, field string, key string) string {
	dl, err := s.engine.DownloadBlob(ctx, images, id, field, key)
	s.Require().NoError(err)
	defer dl.Reader.Close()
	data, err := io.ReadAll(dl.Reader)
	s.Require().NoError(err)
	return string(data)
}

func (s *EngineTestSuite) TestActivationScenario() {
	a := s.create(s.owner, map[string]any{"name": "x"})
	s.Equal(typeschema.StatusDrafted, a.Status)
	s.Equal(typeschema.DefaultVersion, a.Version)
	s.Equal("p1", a.Owner)
	s.Equal(int64(1), a.Revision)

	_, err := s.engine.Activate(s.owner, images, a.ID)
	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Equal(errors.KindValidation, errors.KindOf(err))
	s.Contains(err.Error(), "payload")
	got, err := s.engine.Get(s.owner, images, a.ID)
	s.NoError(err)
	s.Equal(typeschema.StatusDrafted, got.Status)

	a = s.upload(s.owner, a.ID, "payload", "", "hello world")
	b := a.Blob("payload", "")
	s.Require().NotNil(b)
	s.Equal(store.BlobActive, b.Status)
	s.NotEmpty(b.Checksum)
	s.Equal(int64(11), b.Size)

	_, err = s.engine.UploadBlob(s.owner, images, a.ID, "payload", "", strings.NewReader("again"), nil)
	s.Equal(codes.FailedPrecondition, status.Code(err))
	s.True(errors.IsConflict(err))

	a, err = s.engine.Activate(s.owner, images, a.ID)
	s.NoError(err)
	s.Equal(typeschema.StatusActivated, a.Status)
	s.NotNil(a.ActivatedAt)

	_, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"name": "y"})
	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Contains(err.Error(), "before activation")

	a, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"label": "stable", "description": "after"})
	s.NoError(err)
	s.Equal("stable", a.Properties["label"])
	s.Equal("after", a.Description)
	s.Equal("x", a.Name)
	s.Equal("hello world", s.download(s.owner, a.ID, "payload", ""))

	s.Equal([]notification.EventType{
		notification.CreatedEvent,
		notification.UploadedEvent,
		notification.ActivatedEvent,
		notification.UpdatedEvent,
	}, s.drainEvents())
}

func (s *EngineTestSuite) TestRoundTrip() {
	base := s.create(s.owner, map[string]any{"name": "base"})
	values := map[string]any{
		"name":        "rt",
		"version":     "1.2",
		"description": "all kinds",
		"count":       "42",
		"ratio":       1.5,
		"enabled":     "yes",
		"label":       7,
		"serial":      "S-1",
		"released":    "2024-01-02T03:04:05Z",
		"ports":       []any{"80", 443},
		"labels":      map[string]any{"env": "prod", "tier": "web"},
		"tags":        []any{"t1", "t2", "t1"},
		"metadata":    map[string]any{"k": "v"},
		"base":        fields.LinkPrefix + images + "/" + base.ID,
		"deps":        []any{base.ID},
	}
	created := s.create(s.owner, values)
	got, err := s.engine.Get(s.owner, images, created.ID)
	s.Require().NoError(err)

	schema, err := s.registry.Get(images)
	s.Require().NoError(err)
	for name, raw := range values {
		d, err := schema.GetField(name)
		s.Require().NoError(err)
		want, err := d.Validate(raw)
		s.Require().NoError(err, name)
		if t, ok := want.(time.Time); ok {
			s.True(t.Equal(got.Value(name).(time.Time)), name)
			continue
		}
		s.Equal(want, got.Value(name), name)
		s.Equal(want, created.Value(name), name)
	}
	s.Equal("1.2.0", got.Version)
	s.Equal(int64(42), got.Properties["count"])
	s.Equal(true, got.Properties["enabled"])
	s.Equal("7", got.Properties["label"])
	s.Equal([]any{int64(80), int64(443)}, got.Properties["ports"])
	s.Equal(base.ID, got.Properties["base"])

	// fields never set read as their defaults
	plain := s.create(s.owner, map[string]any{"name": "plain"})
	s.Equal([]any{}, plain.Properties["ports"])
	s.Equal(map[string]any{}, plain.Properties["labels"])
	s.Nil(plain.Properties["released"])
}

func (s *EngineTestSuite) TestEmptyCollectionsKeepOverDefaults() {
	plain := s.create(s.owner, map[string]any{"name": "plain"})
	s.Equal([]any{"amd64"}, plain.Properties["arches"])
	s.Equal(map[string]any{"origin": "build"}, plain.Properties["annotations"])

	a := s.create(s.owner, map[string]any{"name": "bare", "arches": []any{}, "annotations": map[string]any{}})
	got, err := s.engine.Get(s.owner, images, a.ID)
	s.Require().NoError(err)
	s.Equal([]any{}, got.Properties["arches"])
	s.Equal(map[string]any{}, got.Properties["annotations"])

	b := s.create(s.owner, map[string]any{"name": "multi", "arches": []any{"arm64", "riscv"}})
	updated, err := s.engine.Update(s.owner, images, b.ID, map[string]any{"arches": []any{}})
	s.Require().NoError(err)
	s.Equal([]any{}, updated.Properties["arches"])
	got, err = s.engine.Get(s.owner, images, b.ID)
	s.Require().NoError(err)
	s.Equal([]any{}, got.Properties["arches"])

	// clearing goes back to the default
	_, err = s.engine.Update(s.owner, images, b.ID, map[string]any{"arches": nil})
	s.Require().NoError(err)
	got, err = s.engine.Get(s.owner, images, b.ID)
	s.Require().NoError(err)
	s.Equal([]any{"amd64"}, got.Properties["arches"])
}

func (s *EngineTestSuite) TestCreateValidation() {
	for name, values := range map[string]map[string]any{
		"missing name":  {"version": "1.0.0"},
		"unknown field": {"name": "a", "nope": 1},
		"system field":  {"name": "a", "status": typeschema.StatusActivated},
		"blob field":    {"name": "a", "payload": "data"},
		"public":        {"name": "a", "visibility": typeschema.VisibilityPublic},
		"bad integer":   {"name": "a", "count": "many"},
		"bad version":   {"name": "a", "version": "one"},
		"bad tag":       {"name": "a", "tags": []any{"a,b"}},
	} {
		_, err := s.engine.Create(s.owner, images, values)
		s.Equal(codes.InvalidArgument, status.Code(err), name)
	}
	_, err := s.engine.Create(s.owner, images, map[string]any{"name": "a", "count": "many"})
	s.Contains(err.Error(), "count")

	_, err = s.engine.Create(s.owner, "unknown", map[string]any{"name": "a"})
	s.Equal(codes.NotFound, status.Code(err))
	_, err = s.engine.Create(s.ctx, images, map[string]any{"name": "a"})
	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Empty(s.drainEvents())
}

func (s *EngineTestSuite) TestCreateDuplicate() {
	s.create(s.owner, map[string]any{"name": "dup", "version": "1.0.0"})
	_, err := s.engine.Create(s.owner, images, map[string]any{"name": "dup", "version": "1.0"})
	s.Equal(codes.AlreadyExists, status.Code(err))
	s.True(errors.IsConflict(err))

	s.create(s.owner, map[string]any{"name": "dup", "version": "1.0.1"})
	s.create(s.other, map[string]any{"name": "dup", "version": "1.0.0"})

	b := s.create(s.owner, map[string]any{"name": "other", "version": "1.0.0"})
	_, err = s.engine.Update(s.owner, images, b.ID, map[string]any{"name": "dup"})
	s.Equal(codes.AlreadyExists, status.Code(err))
}

func (s *EngineTestSuite) TestConcurrentDisjointUpdates() {
	a := s.create(s.owner, map[string]any{"name": "busy"})
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := s.engine.Update(s.owner, images, a.ID, map[string]any{"count": i})
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := s.engine.Update(s.owner, images, a.ID, map[string]any{"label": fmt.Sprintf("l%d", i)})
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
	got, err := s.engine.Get(s.owner, images, a.ID)
	s.Require().NoError(err)
	s.Equal(int64(n-1), got.Properties["count"])
	s.Equal(fmt.Sprintf("l%d", n-1), got.Properties["label"])
	s.Equal(int64(2*n+1), got.Revision)
}

func (s *EngineTestSuite) TestUpdateRules() {
	a := s.create(s.owner, map[string]any{"name": "u", "serial": "S-1", "released": "2024-01-02T03:04:05Z"})

	_, err := s.engine.Update(s.owner, images, a.ID, map[string]any{"serial": "S-2"})
	s.Equal(codes.InvalidArgument, status.Code(err))
	_, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"status": typeschema.StatusActivated})
	s.Equal(codes.InvalidArgument, status.Code(err))
	_, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"payload": "x"})
	s.Equal(codes.InvalidArgument, status.Code(err))
	_, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"count": 1.5})
	s.Equal(codes.InvalidArgument, status.Code(err))

	a, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"released": nil, "ports": []any{1}})
	s.NoError(err)
	s.Nil(a.Properties["released"])
	s.Equal([]any{int64(1)}, a.Properties["ports"])
	a, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"ports": nil})
	s.NoError(err)
	s.Equal([]any{}, a.Properties["ports"])

	revision := a.Revision
	a, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"name": "u"})
	s.NoError(err)
	s.Equal(revision, a.Revision)

	_, err = s.engine.Update(s.other, images, a.ID, map[string]any{"label": "x"})
	s.Equal(codes.NotFound, status.Code(err))
	_, err = s.engine.Update(s.owner, "charts", a.ID, map[string]any{"label": "x"})
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *EngineTestSuite) TestStateMachine() {
	a := s.create(s.owner, map[string]any{"name": "sm"})
	_, err := s.engine.Deactivate(s.admin, images, a.ID)
	s.Equal(codes.FailedPrecondition, status.Code(err))
	_, err = s.engine.Reactivate(s.admin, images, a.ID)
	s.Equal(codes.FailedPrecondition, status.Code(err))

	s.upload(s.owner, a.ID, "payload", "", "data")
	_, err = s.engine.Activate(s.owner, images, a.ID)
	s.Require().NoError(err)
	_, err = s.engine.Activate(s.owner, images, a.ID)
	s.Equal(codes.FailedPrecondition, status.Code(err))

	_, err = s.engine.Deactivate(s.owner, images, a.ID)
	s.Equal(codes.PermissionDenied, status.Code(err))
	a, err = s.engine.Deactivate(s.admin, images, a.ID)
	s.Require().NoError(err)
	s.Equal(typeschema.StatusDeactivated, a.Status)

	_, err = s.engine.Update(s.admin, images, a.ID, map[string]any{"label": "x"})
	s.Equal(codes.FailedPrecondition, status.Code(err))
	_, err = s.engine.DownloadBlob(s.owner, images, a.ID, "payload", "")
	s.Equal(codes.PermissionDenied, status.Code(err))
	s.Equal("data", s.download(s.admin, a.ID, "payload", ""))

	a, err = s.engine.Reactivate(s.admin, images, a.ID)
	s.Require().NoError(err)
	s.Equal(typeschema.StatusActivated, a.Status)
	s.Equal("data", s.download(s.owner, a.ID, "payload", ""))
}

func (s *EngineTestSuite) TestActivateRequiresActiveBlobs() {
	a := s.create(s.owner, map[string]any{"name": "blobs"})
	s.upload(s.owner, a.ID, "payload", "", "data")
	_, err := s.engine.UploadBlob(s.owner, images, a.ID, "files", "a.txt", strings.NewReader("abc"),
		&UploadOptions{Size: 10})
	s.Error(err)

	_, err = s.engine.Activate(s.owner, images, a.ID)
	s.Equal(codes.InvalidArgument, status.Code(err))
	s.Contains(err.Error(), "files")

	s.upload(s.owner, a.ID, "files", "a.txt", "abc")
	a, err = s.engine.Activate(s.owner, images, a.ID)
	s.NoError(err)
	s.Equal(typeschema.StatusActivated, a.Status)

	_, err = s.engine.UploadBlob(s.owner, images, a.ID, "files", "b.txt", strings.NewReader("abc"), nil)
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *EngineTestSuite) TestPublish() {
	a := s.create(s.owner, map[string]any{"name": "pub", "version": "1.0.0"})
	_, err := s.engine.Publish(s.admin, images, a.ID)
	s.Equal(codes.FailedPrecondition, status.Code(err))

	a = s.activated("shared")
	_, err = s.engine.Publish(s.owner, images, a.ID)
	s.Equal(codes.PermissionDenied, status.Code(err))
	_, err = s.engine.Get(s.other, images, a.ID)
	s.Equal(codes.NotFound, status.Code(err))

	a, err = s.engine.Publish(s.admin, images, a.ID)
	s.Require().NoError(err)
	s.Equal(typeschema.VisibilityPublic, a.Visibility)
	got, err := s.engine.Get(s.other, images, a.ID)
	s.NoError(err)
	s.Equal(a.ID, got.ID)
	s.Equal("data", s.download(s.other, a.ID, "payload", ""))

	_, err = s.engine.Update(s.owner, images, a.ID, map[string]any{"label": "x"})
	s.Equal(codes.PermissionDenied, status.Code(err))
	_, err = s.engine.Update(s.admin, images, a.ID, map[string]any{"visibility": typeschema.VisibilityPrivate})
	s.Equal(codes.InvalidArgument, status.Code(err))

	b := s.create(s.other, map[string]any{"name": "shared", "version": "1.0.0"})
	s.upload(s.other, b.ID, "payload", "", "data")
	_, err = s.engine.Activate(s.other, images, b.ID)
	s.Require().NoError(err)
	_, err = s.engine.Publish(s.admin, images, b.ID)
	s.Equal(codes.AlreadyExists, status.Code(err))

	events := s.drainEvents()
	s.Contains(events, notification.PublishedEvent)
}

func (s *EngineTestSuite) TestDeleteWithUploadInProgress() {
	a := s.create(s.owner, map[string]any{"name": "del"})
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.engine.UploadBlob(s.owner, images, a.ID, "payload", "", pr, nil)
		done <- err
	}()
	s.Eventually(func() bool {
		b, err := s.store.GetBlob(s.ctx, a.ID, "payload", "")
		return err == nil && b.Status == store.BlobSaving
	}, 5*time.Second, 10*time.Millisecond)

	err := s.engine.Delete(s.owner, images, a.ID)
	s.Equal(codes.FailedPrecondition, status.Code(err))
	s.True(errors.IsConflict(err))
	got, err := s.engine.Get(s.owner, images, a.ID)
	s.Require().NoError(err)
	s.Equal(typeschema.StatusDrafted, got.Status)

	_, err = pw.Write([]byte("payload"))
	s.NoError(err)
	s.NoError(pw.Close())
	s.NoError(<-done)

	s.NoError(s.engine.Delete(s.owner, images, a.ID))
	_, err = s.engine.DownloadBlob(s.owner, images, a.ID, "payload", "")
	s.Equal(codes.NotFound, status.Code(err))
	_, err = s.store.Get(s.ctx, a.ID)
	s.Equal(codes.NotFound, status.Code(err))
	s.Contains(s.drainEvents(), notification.DeletedEvent)
}

func (s *EngineTestSuite) TestFailedUploadCanBeDeleted() {
	a := s.create(s.owner, map[string]any{"name": "broken"})
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.engine.UploadBlob(s.owner, images, a.ID, "payload", "", pr, nil)
		done <- err
	}()
	s.Eventually(func() bool {
		b, err := s.store.GetBlob(s.ctx, a.ID, "payload", "")
		return err == nil && b.Status == store.BlobSaving
	}, 5*time.Second, 10*time.Millisecond)
	s.NoError(pw.CloseWithError(goerrors.New("client went away")))
	s.Error(<-done)

	b, err := s.store.GetBlob(s.ctx, a.ID, "payload", "")
	s.Require().NoError(err)
	s.Equal(store.BlobError, b.Status)
	s.NoError(s.engine.Delete(s.owner, images, a.ID))
	_, err = s.store.Get(s.ctx, a.ID)
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *EngineTestSuite) TestDelayedDelete() {
	e := s.newEngine(Config{DelayedDelete: true})
	a := s.create(s.owner, map[string]any{"name": "later"})
	s.upload(s.owner, a.ID, "payload", "", "data")

	s.NoError(e.Delete(s.owner, images, a.ID))
	stored, err := s.store.Get(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(typeschema.StatusDeleted, stored.Status)
	s.Equal(store.BlobPendingDelete, stored.Blob("payload", "").Status)
	_, err = s.engine.Get(s.owner, images, a.ID)
	s.Equal(codes.NotFound, status.Code(err))
	got, err := s.engine.Get(s.admin, images, a.ID)
	s.NoError(err)
	s.Equal(typeschema.StatusDeleted, got.Status)

	// deleting again removes what was left behind
	s.NoError(s.engine.Delete(s.owner, images, a.ID))
	_, err = s.store.Get(s.ctx, a.ID)
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *EngineTestSuite) TestLockTimeout() {
	a := s.create(s.owner, map[string]any{"name": "locked"})
	lock, err := s.locker.Acquire(s.ctx, artifactLockKey(a.ID), time.Second)
	s.Require().NoError(err)
	defer lock.Release()

	e := s.newEngine(Config{LockTimeout: 50 * time.Millisecond})
	_, err = e.Update(s.owner, images, a.ID, map[string]any{"label": "x"})
	s.Equal(codes.DeadlineExceeded, status.Code(err))
	s.Equal(errors.KindLockTimeout, errors.KindOf(err))
	s.True(errors.IsRetryable(err))

	// other artifacts are not blocked
	b := s.create(s.owner, map[string]any{"name": "free"})
	_, err = e.Update(s.owner, images, b.ID, map[string]any{"label": "x"})
	s.NoError(err)
}

func (s *EngineTestSuite) TestPolicyDenied() {
	ctrl := gomock.NewController(s.T())
	checker := policymock.NewMockChecker(ctrl)
	e := s.newEngine(Config{}, WithChecker(checker), WithNotifier(s.listeners))

	checker.EXPECT().Check(gomock.Any(), gomock.Any(), policy.ArtifactCreate, gomock.Any()).Return(nil)
	checker.EXPECT().Check(gomock.Any(), gomock.Any(), policy.ArtifactUpdate, gomock.Any()).
		DoAndReturn(func(_ context.Context, creds *policy.Credentials, _ policy.Action, t *policy.Target) error {
			s.Equal("p1", creds.ProjectID)
			s.Equal("p1", t.Owner)
			s.Equal(typeschema.StatusDrafted, t.Status)
			return errors.NewPermissionDenied(errors.WithMessage("%s", policy.ArtifactUpdate))
		})

	a, err := e.Create(s.owner, images, map[string]any{"name": "guarded"})
	s.Require().NoError(err)
	_, err = e.Update(s.owner, images, a.ID, map[string]any{"label": "x"})
	s.Equal(codes.PermissionDenied, status.Code(err))
	s.Equal(errors.KindAccessDenied, errors.KindOf(err))

	got, err := s.engine.Get(s.owner, images, a.ID)
	s.Require().NoError(err)
	s.Equal(a.Revision, got.Revision)
	s.Equal([]notification.EventType{notification.CreatedEvent}, s.drainEvents())
}

func (s *EngineTestSuite) TestNotificationFailureDoesNotFailOperation() {
	ctrl := gomock.NewController(s.T())
	notifier := notificationmock.NewMockNotifier(ctrl)
	e := s.newEngine(Config{}, WithNotifier(notifier))

	gomock.InOrder(
		notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, ev *notification.Event) error {
				s.Equal(notification.CreatedEvent, ev.Type)
				s.Equal("quiet", ev.Artifact.Name)
				return goerrors.New("broker down")
			}),
		notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, ev *notification.Event) error {
				s.Equal(notification.UploadedEvent, ev.Type)
				s.Equal("payload", ev.Blob)
				return goerrors.New("broker down")
			}),
	)
	a, err := e.Create(s.owner, images, map[string]any{"name": "quiet"})
	s.Require().NoError(err)
	_, err = e.UploadBlob(s.owner, images, a.ID, "payload", "", strings.NewReader("data"), nil)
	s.NoError(err)
}

func (s *EngineTestSuite) TestQuotas() {
	e := s.newEngine(Config{Quotas: map[string]int64{
		MaxArtifactNumber:              1,
		MaxUploadedData + ":" + images: 6,
	}})
	a, err := e.Create(s.owner, images, map[string]any{"name": "q1"})
	s.Require().NoError(err)
	_, err = e.Create(s.owner, images, map[string]any{"name": "q2"})
	s.Equal(codes.ResourceExhausted, status.Code(err))
	s.Equal(errors.KindQuotaExceeded, errors.KindOf(err))

	_, err = e.Create(s.other, images, map[string]any{"name": "q2"})
	s.NoError(err)

	s.Equal(codes.PermissionDenied, status.Code(e.SetQuotas(s.owner,
		[]*store.Quota{{ProjectID: "p1", Name: MaxArtifactNumber, Value: 5}})))
	s.Equal(codes.InvalidArgument, status.Code(e.SetQuotas(s.admin,
		[]*store.Quota{{ProjectID: "p1", Name: "max_things", Value: 5}})))
	s.Equal(codes.InvalidArgument, status.Code(e.SetQuotas(s.admin,
		[]*store.Quota{{ProjectID: "p1", Name: MaxArtifactNumber + ":nope", Value: 5}})))
	s.Equal(codes.InvalidArgument, status.Code(e.SetQuotas(s.admin,
		[]*store.Quota{{ProjectID: "p1", Name: MaxArtifactNumber, Value: -2}})))
	s.NoError(e.SetQuotas(s.admin, []*store.Quota{{ProjectID: "p1", Name: MaxArtifactNumber, Value: Unlimited}}))
	_, err = e.Create(s.owner, images, map[string]any{"name": "q2"})
	s.NoError(err)

	quotas, err := e.ListQuotas(s.owner, "p1")
	s.NoError(err)
	s.Len(quotas, 1)
	_, err = e.ListQuotas(s.owner, "p2")
	s.Equal(codes.PermissionDenied, status.Code(err))
	quotas, err = e.ListQuotas(s.admin, "")
	s.NoError(err)
	s.Len(quotas, 1)

	_, err = e.UploadBlob(s.owner, images, a.ID, "files", "a", strings.NewReader("1234"), &UploadOptions{Size: 4})
	s.NoError(err)
	_, err = e.UploadBlob(s.owner, images, a.ID, "files", "b", strings.NewReader("1234"), &UploadOptions{Size: 4})
	s.Equal(codes.ResourceExhausted, status.Code(err))
	_, err = e.UploadBlob(s.owner, images, a.ID, "files", "b", strings.NewReader("12"), &UploadOptions{Size: 2})
	s.NoError(err)
	_, err = e.UploadBlob(s.owner, images, a.ID, "files", "c", strings.NewReader("1"), nil)
	s.Equal(codes.ResourceExhausted, status.Code(err))
}

func (s *EngineTestSuite) TestList() {
	s.create(s.owner, map[string]any{"name": "a", "version": "1.0.0", "count": 1, "tags": []any{"x"}})
	s.create(s.owner, map[string]any{"name": "a", "version": "2.0.0", "count": 2, "labels": map[string]any{"env": "prod"}})
	s.create(s.owner, map[string]any{"name": "b", "version": "1.0.0", "count": 3, "tags": []any{"x", "y"}})
	s.create(s.other, map[string]any{"name": "c", "version": "1.0.0", "count": 4})

	names := func(page *store.Page) []string {
		var out []string
		for _, a := range page.Artifacts {
			out = append(out, a.Name+"@"+a.Version)
		}
		return out
	}

	page, err := s.engine.List(s.owner, images, nil)
	s.Require().NoError(err)
	s.Equal(3, page.TotalCount)
	s.Equal([]string{"b@1.0.0", "a@2.0.0", "a@1.0.0"}, names(page))
	s.Equal(int64(3), page.Artifacts[0].Properties["count"])

	page, err = s.engine.List(s.admin, images, nil)
	s.Require().NoError(err)
	s.Equal(4, page.TotalCount)

	page, err = s.engine.List(s.owner, images, &ListOptions{
		Filters: []*FilterSpec{{Field: "count", Op: fields.OpGT, Values: []any{"1"}}},
		Sort:    []*SortSpec{{Field: "count"}},
	})
	s.Require().NoError(err)
	s.Equal([]string{"a@2.0.0", "b@1.0.0"}, names(page))

	page, err = s.engine.List(s.owner, images, &ListOptions{
		Filters: []*FilterSpec{{Field: "tags", Values: []any{"x"}}},
		Sort:    []*SortSpec{{Field: "name"}},
	})
	s.Require().NoError(err)
	s.Equal([]string{"a@1.0.0", "b@1.0.0"}, names(page))

	page, err = s.engine.List(s.owner, images, &ListOptions{
		Filters: []*FilterSpec{{Field: "labels", Key: "env", Values: []any{"prod"}}},
	})
	s.Require().NoError(err)
	s.Equal([]string{"a@2.0.0"}, names(page))

	page, err = s.engine.List(s.owner, images, &ListOptions{Sort: []*SortSpec{{Field: "count"}}, Offset: 1, Limit: 1})
	s.Require().NoError(err)
	s.Equal(3, page.TotalCount)
	s.Equal([]string{"a@2.0.0"}, names(page))

	page, err = s.engine.List(s.owner, images, &ListOptions{Latest: true, Sort: []*SortSpec{{Field: "name"}}})
	s.Require().NoError(err)
	s.Equal(2, page.TotalCount)
	s.Equal([]string{"a@2.0.0", "b@1.0.0"}, names(page))

	for name, opts := range map[string]*ListOptions{
		"unknown field":  {Filters: []*FilterSpec{{Field: "nope", Values: []any{1}}}},
		"bad operator":   {Filters: []*FilterSpec{{Field: "enabled", Op: fields.OpGT, Values: []any{true}}}},
		"dict no key":    {Filters: []*FilterSpec{{Field: "labels", Values: []any{"prod"}}}},
		"no value":       {Filters: []*FilterSpec{{Field: "count"}}},
		"many values":    {Filters: []*FilterSpec{{Field: "count", Values: []any{1, 2}}}},
		"bad value":      {Filters: []*FilterSpec{{Field: "count", Values: []any{"many"}}}},
		"not sortable":   {Sort: []*SortSpec{{Field: "label"}}},
		"negative limit": {Limit: -1},
	} {
		_, err := s.engine.List(s.owner, images, opts)
		s.Equal(codes.InvalidArgument, status.Code(err), name)
	}
}

func (s *EngineTestSuite) TestReferences() {
	base := s.create(s.owner, map[string]any{"name": "base"})
	chart, err := s.engine.Create(s.owner, "charts", map[string]any{"name": "chart"})
	s.Require().NoError(err)
	hidden := s.create(s.other, map[string]any{"name": "hidden"})

	for name, ref := range map[string]any{
		"unknown":    uuid.NewString(),
		"wrong type": chart.ID,
		"invisible":  hidden.ID,
		"not a uuid": "nope",
	} {
		_, err := s.engine.Create(s.owner, images, map[string]any{"name": "ref", "base": ref})
		s.Equal(codes.InvalidArgument, status.Code(err), name)
	}

	a := s.create(s.owner, map[string]any{"name": "ref", "base": base.ID, "deps": []any{base.ID, chart.ID}})
	refs, err := s.engine.ResolveReferences(s.owner, images, a.ID)
	s.Require().NoError(err)
	s.Require().Len(refs["base"], 1)
	s.Equal("base", refs["base"][0].Name)
	s.Len(refs["deps"], 2)

	s.NoError(s.engine.Delete(s.owner, images, base.ID))
	refs, err = s.engine.ResolveReferences(s.owner, images, a.ID)
	s.Require().NoError(err)
	s.Empty(refs["base"])
	s.Len(refs["deps"], 1)
}

func (s *EngineTestSuite) TestExternalBlobs() {
	a := s.create(s.owner, map[string]any{"name": "ext"})
	loc := &blob.ExternalLocation{
		URL:    "https://example.com/readme",
		Size:   10,
		SHA256: strings.Repeat("ab", 32),
	}
	_, err := s.engine.AddBlobLocation(s.owner, images, a.ID, "files", "readme", loc)
	s.Equal(codes.PermissionDenied, status.Code(err))

	got, err := s.engine.AddBlobLocation(s.admin, images, a.ID, "files", "readme", loc)
	s.Require().NoError(err)
	b := got.Blob("files", "readme")
	s.Require().NotNil(b)
	s.True(b.External)
	s.Equal(store.BlobActive, b.Status)

	dl, err := s.engine.DownloadBlob(s.owner, images, a.ID, "files", "readme")
	s.Require().NoError(err)
	s.Nil(dl.Reader)
	s.Equal(loc.URL, dl.Location)

	s.upload(s.owner, a.ID, "payload", "", "data")
	_, err = s.engine.DeleteExternalBlob(s.admin, images, a.ID, "payload", "")
	s.Equal(codes.InvalidArgument, status.Code(err))
	_, err = s.engine.DeleteExternalBlob(s.admin, images, a.ID, "files", "missing")
	s.Equal(codes.NotFound, status.Code(err))

	got, err = s.engine.DeleteExternalBlob(s.admin, images, a.ID, "files", "readme")
	s.Require().NoError(err)
	s.Nil(got.Blob("files", "readme"))
	_, err = s.engine.DownloadBlob(s.owner, images, a.ID, "files", "readme")
	s.Equal(codes.NotFound, status.Code(err))

	events := s.drainEvents()
	s.Contains(events, notification.LocationEvent)
	s.Contains(events, notification.BlobDeletedEvent)
}

func (s *EngineTestSuite) TestTypes() {
	s.Equal([]string{"charts", images}, s.engine.TypeNames())
	doc, err := s.engine.TypeSchema(images)
	s.Require().NoError(err)
	s.Equal(images, doc["name"])
	s.Contains(doc["properties"], "payload")
	_, err = s.engine.TypeSchema("nope")
	s.Equal(codes.NotFound, status.Code(err))
}
