// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the artifact operations. Every mutating operation
// runs under the lock of its artifact: the artifact is loaded, the caller is
// authorized, the change is validated and persisted, and a notification is
// emitted before the lock is released.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/locking"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/open-edge-platform/orch-library/go/dazl"
	"google.golang.org/grpc/metadata"
)

var log = dazl.GetPackageLogger()
var activityLog = dazl.GetPackageLogger().WithSkipCalls(1)

// Config holds the engine settings.
type Config struct {
	// LockTimeout bounds the wait for an artifact lock.
	LockTimeout time.Duration
	// DelayedDelete keeps deleted artifacts and their blob data for a later
	// cleanup instead of removing them immediately.
	DelayedDelete bool
	// Quotas are the limits of every project without an override, keyed by
	// quota name, optionally suffixed with ":<type>". Missing quotas are
	// unlimited.
	Quotas map[string]int64
}

// Engine runs artifact operations.
type Engine struct {
	config   Config
	registry *typeschema.Registry
	store    *store.Store
	blobs    *blob.Manager
	locker   locking.Locker
	checker  policy.Checker
	notifier notification.Notifier
}

type Option func(*Engine)

func WithLocker(l locking.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

func WithChecker(c policy.Checker) Option {
	return func(e *Engine) {
		e.checker = c
	}
}

func WithNotifier(n notification.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// New returns an engine over the registry, the metadata store and the blob
// manager. Without options it uses in-process locks, the default policy rules
// and logs events.
func New(config Config, registry *typeschema.Registry, st *store.Store, blobs *blob.Manager, opts ...Option) *Engine {
	if config.LockTimeout <= 0 {
		config.LockTimeout = locking.DefaultTimeout
	}
	e := &Engine{
		config:   config,
		registry: registry,
		store:    st,
		blobs:    blobs,
		locker:   locking.NewLocalLocker(),
		notifier: notification.Log{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.checker == nil {
		// the default rules are always valid
		e.checker, _ = policy.NewRuleChecker(nil)
	}
	return e
}

func artifactLockKey(id string) string {
	return "artifact:" + id
}

// call is the state of one operation on an existing artifact.
type call struct {
	creds    *policy.Credentials
	schema   *typeschema.Schema
	artifact *store.Artifact
	events   notification.Events
}

func (c *call) emit(eventType notification.EventType, a *store.Artifact) *notification.Event {
	ev := notification.NewEvent(eventType, a)
	c.events.Append(ev)
	return ev
}

// withArtifact runs fn under the artifact lock once the artifact is loaded and
// the caller authorized for the action. Events queued by fn are sent before
// the lock is released, even if fn fails after committing a change.
func (e *Engine) withArtifact(ctx context.Context, typeName string, id string, action policy.Action,
	fn func(c *call) error) error {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return err
	}
	schema, err := e.registry.Get(typeName)
	if err != nil {
		return err
	}
	lock, err := e.locker.Acquire(ctx, artifactLockKey(id), e.config.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	a, err := e.load(ctx, schema, id)
	if err != nil {
		return err
	}
	if !visible(creds, a) {
		return notFound(id)
	}
	if err := e.checker.Check(ctx, creds, action, target(a)); err != nil {
		return err
	}
	c := &call{creds: creds, schema: schema, artifact: a}
	err = fn(c)
	c.events.SendToAll(ctx, e.notifier)
	return err
}

// load reads an artifact of the schema's type.
func (e *Engine) load(ctx context.Context, schema *typeschema.Schema, id string) (*store.Artifact, error) {
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.TypeName != schema.TypeName {
		return nil, notFound(id)
	}
	typed(schema, a)
	return a, nil
}

// typed brings the stored properties of a to their field types. Properties
// never set read as their default.
func typed(schema *typeschema.Schema, a *store.Artifact) {
	props := make(map[string]any, len(a.Properties))
	for _, d := range schema.PropertyFields() {
		raw, ok := a.Properties[d.Name]
		if !ok {
			props[d.Name] = d.DefaultValue()
			continue
		}
		v, err := d.Coerce(raw)
		if err != nil {
			log.Warnf("Stored value of %s.%s does not match its field: %v", a.ID, d.Name, err)
			v = raw
		}
		props[d.Name] = v
	}
	a.Properties = props
}

// reload reads the artifact again after a change.
func (e *Engine) reload(ctx context.Context, c *call) (*store.Artifact, error) {
	a, err := e.load(ctx, c.schema, c.artifact.ID)
	if err != nil {
		return nil, err
	}
	c.artifact = a
	return a, nil
}

func visible(creds *policy.Credentials, a *store.Artifact) bool {
	return creds.IsAdmin() || a.Owner == creds.ProjectID || a.Visibility == typeschema.VisibilityPublic
}

func target(a *store.Artifact) *policy.Target {
	return &policy.Target{Owner: a.Owner, Visibility: a.Visibility, Status: a.Status}
}

func notFound(id string) error {
	return errors.NewNotFound(errors.WithResourceType(errors.ArtifactType), errors.WithResourceName(id))
}

func logActivity(ctx context.Context, verb string, thing string, project string, args ...string) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok && len(md.Get(policy.UserName)) > 0 {
		activityLog.Infof("User '%v' %s %s %s (project: %s) from %v",
			md.Get(policy.UserName), verb, thing, strings.Join(args, "/"), project, md.Get(policy.Client))
	} else {
		activityLog.Infof("Someone %s %s %s (project: %s) from %v",
			verb, thing, strings.Join(args, "/"), project, md.Get(policy.Client))
	}
}
