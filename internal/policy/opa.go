// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/orch-library/go/pkg/openpolicyagent"
	"google.golang.org/grpc/metadata"
)

// OPAPackage is the policy package holding the rules of the artifact actions.
const OPAPackage = "artifacts"

// OPAChecker asks an Open Policy Agent server for every decision. The action
// "artifact:update" is evaluated by rule "artifact_update" of OPAPackage.
type OPAChecker struct {
	client openpolicyagent.ClientWithResponsesInterface
}

func NewOPAChecker(client openpolicyagent.ClientWithResponsesInterface) *OPAChecker {
	return &OPAChecker{client: client}
}

func (c *OPAChecker) Check(ctx context.Context, creds *Credentials, action Action, target *Target) error {
	md, _ := metadata.FromIncomingContext(ctx)
	input := openpolicyagent.OpaInput{
		Input: map[string]interface{}{
			"action":      string(action),
			"credentials": creds,
			"target":      target,
			"metadata":    md,
		},
	}
	// can safely ignore the JSON error - will not happen with OPA data
	body, _ := json.Marshal(input)

	rule := strings.ReplaceAll(string(action), ":", "_")
	trueBool := true
	resp, err := c.client.PostV1DataPackageRuleWithBodyWithResponse(
		ctx,
		OPAPackage,
		rule,
		&openpolicyagent.PostV1DataPackageRuleParams{
			Pretty:  &trueBool,
			Metrics: &trueBool,
		},
		"application/json",
		bytes.NewReader(body))
	if err != nil {
		return errors.NewUnavailable(errors.WithMessage("policy service"), errors.WithError(err))
	}
	if resp.JSON200 == nil {
		log.Debugf("access denied by OPA rule %s. OPA response %d", rule, resp.StatusCode())
		return errors.NewPermissionDenied(errors.WithMessage("%s", string(action)))
	}

	allowed, boolErr := resp.JSON200.Result.AsOpaResponseResult1()
	if boolErr != nil {
		resultObj, objErr := resp.JSON200.Result.AsOpaResponseResult0()
		if objErr != nil {
			log.Debugf("(#1) access denied by OPA rule %s: %v", rule, objErr)
		} else {
			log.Debugf("(#2) access denied by OPA rule %s: %v", rule, resultObj)
		}
		return errors.NewPermissionDenied(errors.WithMessage("%s", string(action)))
	}
	if !allowed {
		log.Debugf("access denied by OPA rule %s. OPA response %d", rule, resp.StatusCode())
		return errors.NewPermissionDenied(errors.WithMessage("%s", string(action)))
	}
	log.Debugf("%s authorized", rule)
	return nil
}
