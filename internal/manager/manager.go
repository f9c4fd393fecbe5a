// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob/dbstore"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob/ocistore"
	"github.com/open-edge-platform/app-orch-artifacts/internal/engine"
	"github.com/open-edge-platform/app-orch-artifacts/internal/locking"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/internal/secrets"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/open-edge-platform/orch-library/go/dazl"
	"github.com/open-edge-platform/orch-library/go/pkg/openpolicyagent"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	// pq is Postgres driver for the database/sql package
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var log = dazl.GetPackageLogger()

const (
	databaseUser = "DATABASE_USER"
	databasePwd  = "DATABASE_PWD"

	// BackendDatabase keeps blob data in the metadata database.
	BackendDatabase = "database"
	// BackendOCI pushes blob data to an OCI registry repository.
	BackendOCI = "oci"

	shutdownTimeout = 10 * time.Second
)

// Config is a manager configuration
type Config struct {
	GRPCPort           int
	HTTPPort           int
	BasePath           string
	AllowedCorsOrigins string

	DatabaseHostname         string
	DatabasePort             int
	DatabaseSslmode          bool
	DatabaseDisableMigration bool
	DatabaseDriver           string
	// DatabaseName is the database of a server, or the file of SQLite.
	DatabaseName       string
	MigrationsDir      string
	DefaultProjectUUID string

	TypeDefinitions []string
	PolicyRules     string
	OPAEndpoint     string

	BlobBackend      string
	BlobCompression  bool
	OCIRepository    string
	OCIUsername      string
	OCIPassword      string
	OCIPlainHTTP     bool
	UseSecretService bool
	OCISecretPath    string

	RedisAddress string
	RedisChannel string

	LockTimeout       time.Duration
	DelayedDelete     bool
	MaxArtifactNumber int64
	MaxUploadedData   int64
}

// NewManager creates a new manager
func NewManager(config Config) *Manager {
	log.Infof("Creating Manager with config: %+v", redacted(config))
	return &Manager{
		Config:    config,
		listeners: notification.NewListeners(),
	}
}

func redacted(config Config) Config {
	if config.OCIPassword != "" {
		config.OCIPassword = "***"
	}
	return config
}

// Manager single point of entry for the artifact engine service.
type Manager struct {
	Config Config

	store     *store.Store
	redis     redis.UniversalClient
	listeners *notification.Listeners
	engine    *engine.Engine
	health    *health.Server
}

// Run starts the service and blocks until it fails.
func (m *Manager) Run() {
	log.Infof("Starting Manager")
	if err := m.Start(context.Background()); err != nil {
		log.Fatalw("Unable to run Manager", dazl.Error(err))
	}
}

// Start wires the engine and serves it until ctx is done or a server fails.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Setup(ctx); err != nil {
		return err
	}
	defer m.Close()
	return m.serve(ctx)
}

// Setup opens the database, migrates it and builds the engine.
func (m *Manager) Setup(ctx context.Context) error {
	registry, err := m.loadTypes()
	if err != nil {
		return err
	}
	if err := m.openStore(ctx); err != nil {
		return err
	}
	backend, err := m.newBackend(ctx)
	if err != nil {
		return err
	}
	checker, err := m.newChecker()
	if err != nil {
		return err
	}

	var locker locking.Locker = locking.NewLocalLocker()
	var notifier notification.Notifier = notification.Multi{notification.Log{}, m.listeners}
	if m.Config.RedisAddress != "" {
		m.redis = redis.NewClient(&redis.Options{Addr: m.Config.RedisAddress})
		locker = locking.NewRedisLocker(m.redis)
		// local listeners receive events through the relay, like other replicas
		notifier = notification.Multi{notification.Log{},
			notification.NewRedisPublisher(m.redis, m.Config.RedisChannel)}
		log.Infof("Sharing locks and events through Redis at %s", m.Config.RedisAddress)
	}

	blobs := blob.NewManager(m.store, backend)
	blobs.SetLocker(locker)
	m.engine = engine.New(engine.Config{
		LockTimeout:   m.Config.LockTimeout,
		DelayedDelete: m.Config.DelayedDelete,
		Quotas: map[string]int64{
			engine.MaxArtifactNumber: m.Config.MaxArtifactNumber,
			engine.MaxUploadedData:   m.Config.MaxUploadedData,
		},
	}, registry, m.store, blobs,
		engine.WithLocker(locker), engine.WithChecker(checker), engine.WithNotifier(notifier))
	return nil
}

func (m *Manager) loadTypes() (*typeschema.Registry, error) {
	defs, err := typeschema.LoadDefinitions(m.Config.TypeDefinitions...)
	if err != nil {
		return nil, err
	}
	registry, err := typeschema.Init(defs...)
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded artifact types %s", strings.Join(registry.TypeNames(), ", "))
	return registry, nil
}

func (m *Manager) openStore(ctx context.Context) error {
	dsn, dbUser, err := dataSource(m.Config)
	if err != nil {
		return err
	}
	if m.store, err = store.Open(m.Config.DatabaseDriver, dsn); err != nil {
		return fmt.Errorf("failed opening connection to %s %s:%d:%s for %s: %w",
			m.Config.DatabaseDriver, m.Config.DatabaseHostname, m.Config.DatabasePort, m.Config.DatabaseName, dbUser, err)
	}
	log.Infof("Connected to %s %s:%d:%s as %s",
		m.Config.DatabaseDriver, m.Config.DatabaseHostname, m.Config.DatabasePort, m.Config.DatabaseName, dbUser)

	if m.Config.DatabaseDisableMigration {
		return nil
	}
	return newMigration(m.store, m.Config).run(ctx)
}

// dataSource returns the connection string of the configured database and
// the user connecting to it.
func dataSource(cfg Config) (string, string, error) {
	if cfg.DatabaseDriver == dialect.SQLite {
		return cfg.DatabaseName, "", nil
	}
	dbUser, ok := os.LookupEnv(databaseUser)
	if !ok {
		return "", "", fmt.Errorf("%s env var is not set", databaseUser)
	}
	dbPwd, ok := os.LookupEnv(databasePwd)
	if !ok {
		return "", "", fmt.Errorf("%s env var is not set", databasePwd)
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=%s",
		cfg.DatabaseHostname, cfg.DatabasePort, dbUser, cfg.DatabaseName, dbPwd, sslMode(cfg)), dbUser, nil
}

func sslMode(cfg Config) string {
	if cfg.DatabaseSslmode {
		return "require"
	}
	return "disable"
}

func (m *Manager) newBackend(ctx context.Context) (blob.Backend, error) {
	switch m.Config.BlobBackend {
	case "", BackendDatabase:
		var opts []dbstore.Option
		if m.Config.BlobCompression {
			opts = append(opts, dbstore.WithCompression())
		}
		return dbstore.New(m.store.Driver(), opts...)
	case BackendOCI:
		creds := ocistore.Credentials{Username: m.Config.OCIUsername, Password: m.Config.OCIPassword}
		if m.Config.UseSecretService {
			ss, err := secrets.New(ctx, secrets.ConfigFromEnv())
			if err != nil {
				return nil, err
			}
			defer ss.Logout(ctx)
			stored, err := secrets.ReadRegistryCredentials(ctx, ss, m.Config.OCISecretPath)
			if err != nil {
				return nil, err
			}
			creds = ocistore.Credentials{Username: stored.Username, Password: stored.Password,
				AccessToken: stored.AccessToken}
		}
		return ocistore.NewRemote(m.Config.OCIRepository, creds, m.Config.OCIPlainHTTP)
	}
	return nil, fmt.Errorf("unknown blob backend %q", m.Config.BlobBackend)
}

func (m *Manager) newChecker() (policy.Checker, error) {
	if m.Config.OPAEndpoint != "" {
		client, err := openpolicyagent.NewClientWithResponses(m.Config.OPAEndpoint)
		if err != nil {
			return nil, err
		}
		log.Infof("Authorizing with OPA at %s", m.Config.OPAEndpoint)
		return policy.NewOPAChecker(client), nil
	}
	var overrides map[policy.Action]policy.Rule
	if m.Config.PolicyRules != "" {
		var err error
		if overrides, err = policy.LoadRules(m.Config.PolicyRules); err != nil {
			return nil, err
		}
	}
	return policy.NewRuleChecker(overrides)
}

// Engine returns the engine built by Setup.
func (m *Manager) Engine() *engine.Engine {
	return m.engine
}

func (m *Manager) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	server := northbound.NewServer(&northbound.Config{
		Port:               m.Config.HTTPPort,
		BasePath:           m.Config.BasePath,
		AllowedCorsOrigins: m.Config.AllowedCorsOrigins,
	}, m.engine, m.listeners)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", m.Config.HTTPPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	g.Go(func() error {
		log.Infof("Starting REST server on port %d", m.Config.HTTPPort)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", m.Config.GRPCPort))
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	m.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, m.health)
	g.Go(func() error {
		log.Infof("Started health service on %s", lis.Addr())
		if err := grpcServer.Serve(lis); !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	if m.redis != nil {
		publisher := notification.NewRedisPublisher(m.redis, m.Config.RedisChannel)
		g.Go(func() error {
			return publisher.Relay(ctx, m.listeners)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Infof("Stopping servers")
		m.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})
	return g.Wait()
}

// Close releases the database and Redis connections.
func (m *Manager) Close() {
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			log.Warnf("Failed to close Redis client: %v", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			log.Warnf("Failed to close database: %v", err)
		}
	}
	log.Info("Closing Manager")
}
