// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package secrets reads storage backend credentials from Vault.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

const (
	vaultK8STokenFile  = `/var/run/secrets/kubernetes.io/serviceaccount/token` // #nosec
	vaultK8SLoginURL   = `/v1/auth/kubernetes/login`
	vaultSecretBaseURL = `/v1/secret/data/`           // #nosec
	vaultRevokeSelfURL = `/v1/auth/token/revoke-self` // #nosec
)

// Service reads secrets on behalf of the service account.
type Service interface {
	ReadSecret(ctx context.Context, path string) (string, error)
	Logout(ctx context.Context)
}

// Config locates the Vault server and the service account identity.
type Config struct {
	Address string
	// TokenFile holds the Kubernetes service account token used to log in.
	TokenFile string
	Role      string
	Timeout   time.Duration
}

// ConfigFromEnv reads the Vault address and role from the environment.
func ConfigFromEnv() *Config {
	return &Config{
		Address:   os.Getenv("VAULT_SERVER_ADDRESS"),
		TokenFile: vaultK8STokenFile,
		Role:      os.Getenv("SERVICE_ACCOUNT"),
		Timeout:   10 * time.Second,
	}
}

type vaultServer struct {
	cfg        *Config
	httpClient *http.Client
	vaultToken string
}

// New logs in to Vault with the service account token.
func New(ctx context.Context, cfg *Config) (Service, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	v := &vaultServer{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	token, err := v.login(ctx)
	if err != nil {
		return nil, errors.NewVaultError(errors.WithError(err))
	}
	v.vaultToken = token
	return v, nil
}

func (v *vaultServer) url(path string) string {
	return v.cfg.Address + path
}

func (v *vaultServer) login(ctx context.Context) (string, error) {
	tokenData, err := os.ReadFile(v.cfg.TokenFile)
	if err != nil {
		return "", err
	}
	loginReq := struct {
		JWT  string `json:"jwt"`
		Role string `json:"role"`
	}{
		JWT:  string(tokenData),
		Role: v.cfg.Role,
	}
	body, _ := json.Marshal(loginReq)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url(vaultK8SLoginURL), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", "application/json")
	log.Debugf("Logging in with URL %s", req.URL.String())
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var loginResp struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	if loginResp.Auth.ClientToken == "" {
		return "", fmt.Errorf("login refused: %v", loginResp.Errors)
	}
	return loginResp.Auth.ClientToken, nil
}

func (v *vaultServer) Logout(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url(vaultRevokeSelfURL), nil)
	if err != nil {
		log.Infof("Error creating request revoking vault token: %v", err)
		return
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Set("X-Vault-Token", v.vaultToken)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		log.Infof("Error invoking request revoking vault token: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		log.Infof("http error on revoke: %d", resp.StatusCode)
		return
	}
	v.vaultToken = ""
}

// ReadSecret returns the value stored under the path of the KV engine.
func (v *vaultServer) ReadSecret(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url(vaultSecretBaseURL+path), nil)
	if err != nil {
		return "", errors.NewVaultError(errors.WithError(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vault-Token", v.vaultToken)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", errors.NewVaultError(errors.WithError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewNotFound(errors.WithMessage("secret %s", path))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewVaultError(errors.WithError(err))
	}
	var secret vault.Secret
	if err := json.Unmarshal(raw, &secret); err != nil {
		return "", errors.NewVaultError(errors.WithError(err))
	}
	dataMap, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.NewNotFound(errors.WithMessage("secret %s", path))
	}
	value, ok := dataMap["value"].(string)
	if !ok {
		return "", errors.NewNotFound(errors.WithMessage("secret %s", path))
	}
	return value, nil
}

// RegistryCredentials authenticate against an OCI registry.
type RegistryCredentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	AccessToken string `json:"access_token"`
}

// ReadRegistryCredentials reads registry credentials stored as a JSON
// document under the path.
func ReadRegistryCredentials(ctx context.Context, s Service, path string) (*RegistryCredentials, error) {
	value, err := s.ReadSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	creds := &RegistryCredentials{}
	if err := json.Unmarshal([]byte(value), creds); err != nil {
		return nil, errors.NewVaultError(errors.WithMessage("malformed registry credentials"), errors.WithError(err))
	}
	return creds, nil
}
