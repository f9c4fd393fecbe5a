// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"strings"
	"time"

	"github.com/open-edge-platform/app-orch-artifacts/internal/manager"
	"github.com/open-edge-platform/app-orch-artifacts/internal/shared/version"
	"github.com/open-edge-platform/orch-library/go/dazl"
	_ "github.com/open-edge-platform/orch-library/go/dazl/zap"
)

var log = dazl.GetLogger()

func main() {
	grpcPort := flag.Int("grpcPort", 8080, "health service network port")
	httpPort := flag.Int("httpPort", 8081, "REST API network port")
	basePath := flag.String("basePath", "/", "base path of the REST API")
	allowedCorsOrigins := flag.String("allowedCorsOrigins", "", "comma separated list of allowed CORS origins")

	databaseDriver := flag.String("databaseDriver", "postgres", "database driver (postgres or sqlite3)")
	databaseHostname := flag.String("databaseHostname", "localhost", "database hostname")
	databasePort := flag.Int("databasePort", 5432, "database network port")
	databaseName := flag.String("databaseName", "postgres", "database name, or the file of SQLite")
	databaseSslMode := flag.Bool("databaseSslMode", true, "database SSL mode")
	databaseDisableMigration := flag.Bool("databaseDisableMigration", false, "disable database migration")
	migrationsDir := flag.String("migrationsDir", "", "directory containing versioned database schema migrations")
	defaultProjectUUID := flag.String("defaultProjectUUID", "", "project receiving the artifacts of the default project")

	typeDefinitions := flag.String("typeDefinitions", "/etc/artifact-types", "comma separated artifact type definition files or directories")
	policyRules := flag.String("policyRules", "", "YAML file overriding the default access rules")
	opaEndpoint := flag.String("opaEndpoint", "", "Open Policy Agent endpoint; access rules are used when empty")

	blobBackend := flag.String("blobBackend", manager.BackendDatabase, "blob storage backend (database or oci)")
	blobCompression := flag.Bool("blobCompression", false, "compress blob data kept in the database")
	ociRepository := flag.String("ociRepository", "", "OCI repository receiving blob data")
	ociUsername := flag.String("ociUsername", "", "OCI registry user")
	ociPassword := flag.String("ociPassword", "", "OCI registry password")
	ociPlainHTTP := flag.Bool("ociPlainHTTP", false, "access the OCI registry over plain HTTP")
	useSecretsService := flag.Bool("useSecretsService", false, "read the OCI registry credentials from the secrets service")
	ociSecretPath := flag.String("ociSecretPath", "artifact-engine/registry", "secrets service path of the OCI registry credentials")

	redisAddress := flag.String("redisAddress", "", "Redis address shared by replicas for locks and events")
	redisChannel := flag.String("redisChannel", "artifact-events", "Redis channel of artifact events")

	lockTimeout := flag.Duration("lockTimeout", 5*time.Second, "maximum wait for an artifact lock")
	delayedDelete := flag.Bool("delayedDelete", false, "mark deleted artifacts instead of removing them")
	maxArtifactNumber := flag.Int64("maxArtifactNumber", -1, "default maximum number of artifacts per project and type, -1 for no limit")
	maxUploadedData := flag.Int64("maxUploadedData", -1, "default maximum uploaded bytes per project and type, -1 for no limit")
	flag.Parse()

	version.LogVersion("artifact-engine")
	log.Infof("Blob backend %s, gRPC port %d, HTTP port %d", *blobBackend, *grpcPort, *httpPort)

	cfg := manager.Config{
		GRPCPort:                 *grpcPort,
		HTTPPort:                 *httpPort,
		BasePath:                 *basePath,
		AllowedCorsOrigins:       *allowedCorsOrigins,
		DatabaseDriver:           *databaseDriver,
		DatabaseHostname:         *databaseHostname,
		DatabasePort:             *databasePort,
		DatabaseName:             *databaseName,
		DatabaseSslmode:          *databaseSslMode,
		DatabaseDisableMigration: *databaseDisableMigration,
		MigrationsDir:            *migrationsDir,
		DefaultProjectUUID:       *defaultProjectUUID,
		TypeDefinitions:          splitList(*typeDefinitions),
		PolicyRules:              *policyRules,
		OPAEndpoint:              *opaEndpoint,
		BlobBackend:              *blobBackend,
		BlobCompression:          *blobCompression,
		OCIRepository:            *ociRepository,
		OCIUsername:              *ociUsername,
		OCIPassword:              *ociPassword,
		OCIPlainHTTP:             *ociPlainHTTP,
		UseSecretService:         *useSecretsService,
		OCISecretPath:            *ociSecretPath,
		RedisAddress:             *redisAddress,
		RedisChannel:             *redisChannel,
		LockTimeout:              *lockTimeout,
		DelayedDelete:            *delayedDelete,
		MaxArtifactNumber:        *maxArtifactNumber,
		MaxUploadedData:          *maxUploadedData,
	}

	mgr := manager.NewManager(cfg)
	mgr.Run()
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
