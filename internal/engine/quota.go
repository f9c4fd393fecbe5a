// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
)

// Quota names. A name suffixed with ":<type>" limits artifacts of one type.
const (
	MaxArtifactNumber = "max_artifact_number"
	MaxUploadedData   = "max_uploaded_data"
)

// Unlimited is the value of a quota that does not limit anything.
const Unlimited int64 = -1

// limits returns the quotas applying to the project: the configured defaults
// overridden by the project's own quotas.
func (e *Engine) limits(ctx context.Context, projectID string) (map[string]int64, error) {
	out := make(map[string]int64, len(e.config.Quotas))
	for k, v := range e.config.Quotas {
		out[k] = v
	}
	quotas, err := e.store.ListQuotas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, q := range quotas {
		out[q.Name] = q.Value
	}
	return out, nil
}

func limit(limits map[string]int64, name string) int64 {
	if v, ok := limits[name]; ok {
		return v
	}
	return Unlimited
}

// checkArtifactQuota fails if the owner may not create another artifact of
// the type.
func (e *Engine) checkArtifactQuota(ctx context.Context, owner string, typeName string) error {
	limits, err := e.limits(ctx, owner)
	if err != nil {
		return err
	}
	for _, scope := range []string{"", typeName} {
		name := MaxArtifactNumber
		if scope != "" {
			name += ":" + scope
		}
		quota := limit(limits, name)
		if quota < 0 {
			continue
		}
		n, err := e.store.CountArtifacts(ctx, owner, scope)
		if err != nil {
			return err
		}
		if n >= quota {
			return errors.NewQuotaExceeded(errors.WithResourceType(errors.QuotaType), errors.WithResourceName(name),
				errors.WithMessage("project %s may keep at most %d artifacts", owner, quota))
		}
	}
	return nil
}

// uploadQuotaLeft returns the number of bytes the owner may still upload to
// artifacts of the type, Unlimited if no quota applies.
func (e *Engine) uploadQuotaLeft(ctx context.Context, owner string, typeName string) (int64, error) {
	limits, err := e.limits(ctx, owner)
	if err != nil {
		return 0, err
	}
	left := Unlimited
	for _, scope := range []string{"", typeName} {
		name := MaxUploadedData
		if scope != "" {
			name += ":" + scope
		}
		quota := limit(limits, name)
		if quota < 0 {
			continue
		}
		used, err := e.store.UploadedData(ctx, owner, scope)
		if err != nil {
			return 0, err
		}
		if l := max(0, quota-used); left < 0 || l < left {
			left = l
		}
	}
	return left, nil
}

func (e *Engine) validQuotaName(name string) bool {
	base, typeName, scoped := strings.Cut(name, ":")
	if base != MaxArtifactNumber && base != MaxUploadedData {
		return false
	}
	if !scoped {
		return true
	}
	_, err := e.registry.Get(typeName)
	return err == nil
}

// SetQuotas sets quota overrides of projects.
func (e *Engine) SetQuotas(ctx context.Context, quotas []*store.Quota) error {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := e.checker.Check(ctx, creds, policy.QuotasSet, nil); err != nil {
		return err
	}
	for _, q := range quotas {
		switch {
		case q.ProjectID == "":
			return errors.NewInvalidArgument(errors.WithResourceType(errors.QuotaType),
				errors.WithResourceName(q.Name), errors.WithMessage("project is required"))
		case !e.validQuotaName(q.Name):
			return errors.NewInvalidArgument(errors.WithResourceType(errors.QuotaType),
				errors.WithResourceName(q.Name), errors.WithMessage("unknown quota"))
		case q.Value < Unlimited:
			return errors.NewInvalidArgument(errors.WithResourceType(errors.QuotaType),
				errors.WithResourceName(q.Name), errors.WithMessage("value must be %d or more", Unlimited))
		}
	}
	if err := e.store.SetQuotas(ctx, quotas); err != nil {
		return err
	}
	for _, q := range quotas {
		logActivity(ctx, "set", "quota", q.ProjectID, q.Name)
	}
	return nil
}

// ListQuotas returns the quota overrides of a project, or of every project if
// projectID is empty. Callers may always list their own project's quotas.
func (e *Engine) ListQuotas(ctx context.Context, projectID string) ([]*store.Quota, error) {
	creds, err := policy.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if projectID != creds.ProjectID {
		if err := e.checker.Check(ctx, creds, policy.QuotasList, nil); err != nil {
			return nil, err
		}
	}
	return e.store.ListQuotas(ctx, projectID)
}
