// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether a caller may perform an action on an
// artifact.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/open-edge-platform/orch-library/go/dazl"
	"gopkg.in/yaml.v3"
)

var log = dazl.GetPackageLogger()

//go:generate mockgen -destination=policymock/mock_checker.go -package=policymock . Checker

type Action string

const (
	ArtifactCreate             Action = "artifact:create"
	ArtifactGet                Action = "artifact:get"
	ArtifactList               Action = "artifact:list"
	ArtifactUpdate             Action = "artifact:update"
	ArtifactActivate           Action = "artifact:activate"
	ArtifactDeactivate         Action = "artifact:deactivate"
	ArtifactReactivate         Action = "artifact:reactivate"
	ArtifactPublish            Action = "artifact:publish"
	ArtifactDelete             Action = "artifact:delete"
	ArtifactUpload             Action = "artifact:upload"
	ArtifactDownload           Action = "artifact:download"
	ArtifactSetLocation        Action = "artifact:set_location"
	ArtifactDeleteExternalBlob Action = "artifact:delete_external_blob"
	QuotasSet                  Action = "quotas:set"
	QuotasList                 Action = "quotas:list"
)

// Target is the artifact an action applies to. Actions that do not apply to
// an existing artifact use a nil target.
type Target struct {
	Owner      string
	Visibility string
	Status     string
}

// Checker authorizes actions. A denial is reported as a permission denied
// error.
type Checker interface {
	Check(ctx context.Context, creds *Credentials, action Action, target *Target) error
}

// Rule is a preset deciding who may perform an action.
type Rule string

const (
	Anyone       Rule = ""
	Admin        Rule = "admin"
	Owner        Rule = "owner"
	AdminOrOwner Rule = "admin_or_owner"
	Deny         Rule = "deny"
)

var rules = map[Rule]bool{Anyone: true, Admin: true, Owner: true, AdminOrOwner: true, Deny: true}

// DefaultRules apply to actions without an override.
var DefaultRules = map[Action]Rule{
	ArtifactCreate:             Anyone,
	ArtifactGet:                Anyone,
	ArtifactList:               Anyone,
	ArtifactDownload:           Anyone,
	ArtifactUpdate:             AdminOrOwner,
	ArtifactActivate:           AdminOrOwner,
	ArtifactUpload:             AdminOrOwner,
	ArtifactDelete:             AdminOrOwner,
	ArtifactDeactivate:         Admin,
	ArtifactReactivate:         Admin,
	ArtifactPublish:            Admin,
	ArtifactSetLocation:        Admin,
	ArtifactDeleteExternalBlob: Admin,
	QuotasSet:                  Admin,
	QuotasList:                 Admin,
}

// RuleChecker evaluates preset rules. Besides the rule of the action, public
// artifacts may only be updated or deleted by admins, and deactivated
// artifacts may only be downloaded or deleted by admins.
type RuleChecker struct {
	rules map[Action]Rule
}

// NewRuleChecker returns a checker using the default rules replaced by the
// overrides.
func NewRuleChecker(overrides map[Action]Rule) (*RuleChecker, error) {
	c := &RuleChecker{rules: map[Action]Rule{}}
	for action, rule := range DefaultRules {
		c.rules[action] = rule
	}
	for action, rule := range overrides {
		if _, ok := DefaultRules[action]; !ok {
			return nil, fmt.Errorf("unknown action %q", action)
		}
		if !rules[rule] {
			return nil, fmt.Errorf("unknown rule %q for action %s", rule, action)
		}
		c.rules[action] = rule
	}
	return c, nil
}

// LoadRules reads rule overrides from a YAML map of action to rule.
func LoadRules(path string) (map[Action]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	overrides := map[Action]Rule{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return overrides, nil
}

func (c *RuleChecker) Check(_ context.Context, creds *Credentials, action Action, target *Target) error {
	rule, ok := c.rules[action]
	if !ok {
		return denied(action, "unknown action")
	}
	admin := creds.IsAdmin()
	owner := target != nil && target.Owner == creds.ProjectID
	allowed := false
	switch rule {
	case Anyone:
		allowed = true
	case Admin:
		allowed = admin
	case Owner:
		allowed = owner
	case AdminOrOwner:
		allowed = admin || owner
	}
	if !allowed {
		return denied(action, "rule %q not satisfied", rule)
	}
	if target != nil && !admin {
		switch {
		case target.Visibility == typeschema.VisibilityPublic && (action == ArtifactUpdate || action == ArtifactDelete):
			return denied(action, "public artifacts are managed by admins")
		case target.Status == typeschema.StatusDeactivated && (action == ArtifactDownload || action == ArtifactDelete):
			return denied(action, "deactivated artifacts are managed by admins")
		}
	}
	log.Debugf("%s authorized for project %s", action, creds.ProjectID)
	return nil
}

func denied(action Action, reason string, args ...any) error {
	log.Debugf("access denied to %s: %s", action, fmt.Sprintf(reason, args...))
	return errors.NewPermissionDenied(errors.WithMessage("%s", string(action)))
}
