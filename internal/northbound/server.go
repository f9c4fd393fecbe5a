// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package northbound exposes the artifact engine over HTTP and relays artifact
// events to websocket clients.
package northbound

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/open-edge-platform/app-orch-artifacts/internal/engine"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
	"github.com/open-edge-platform/app-orch-artifacts/pkg/wiper"
	"github.com/open-edge-platform/orch-library/go/dazl"
	ginlogger "github.com/open-edge-platform/orch-library/go/pkg/logging/gin"
	ginutils "github.com/open-edge-platform/orch-library/go/pkg/middleware/gin"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var log = dazl.GetPackageLogger()

// HTTP headers carrying the caller identity. They are set by the
// authenticating proxy in front of the service.
const (
	ActiveProjectID = "ActiveProjectID"
	UserHeader      = "X-Auth-User"
	RolesHeader     = "X-Auth-Roles"
)

// Config defines configurable parameters for setting up the REST server.
type Config struct {
	Port               int
	BasePath           string
	AllowedCorsOrigins string
}

// Server serves the artifact API.
type Server struct {
	cfg     *Config
	engine  *engine.Engine
	router  *gin.Engine
	watcher *EventHandler
	wiper   wiper.ProjectWiper
}

// NewServer creates the REST server over the engine. Events sent to the
// listeners are relayed to websocket watch sessions.
func NewServer(cfg *Config, e *engine.Engine, listeners *notification.Listeners) *Server {
	log.Infof("Creating REST server on port %d", cfg.Port)
	gin.DefaultWriter = ginlogger.NewWriter(log)

	router := gin.New()
	s := &Server{
		cfg:     cfg,
		engine:  e,
		router:  router,
		watcher: NewEventHandler(e, listeners),
		wiper:   wiper.NewEngineWiper(e),
	}

	// Answer unroutable requests with 405 if another method matches the path.
	router.HandleMethodNotAllowed = true
	router.Handle(http.MethodGet, "/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	corsOrigins := strings.Split(cfg.AllowedCorsOrigins, ",")
	if len(corsOrigins) > 1 {
		config := cors.DefaultConfig()
		config.AllowOrigins = corsOrigins
		router.Use(cors.New(config))
	}
	router.Use(ginlogger.NewGinLogger(log))
	router.Use(secure.New(secure.Config{ContentTypeNosniff: true}))
	router.Use(ginutils.PathParamUnicodeCheckerMiddleware())

	base := fmt.Sprintf("%sartifacts/v1", normalizeBasePath(cfg.BasePath))
	api := router.Group(base, withCredentials)
	api.GET("/events", s.watcher.Watch)
	api.GET("/types", s.listTypes)
	api.GET("/types/:type", s.getType)

	// Blob bodies are opaque and skip the printable characters check.
	blobs := api.Group("/artifacts/:type/:id/blobs")
	blobs.PUT("/:field", s.uploadBlob)
	blobs.GET("/:field", s.downloadBlob)

	docs := api.Group("", ginutils.UnicodePrintableCharsChecker())
	docs.GET("/quotas", s.listQuotas)
	docs.PUT("/quotas", s.setQuotas)
	docs.DELETE("/projects/:project", s.wipeProject)

	arts := docs.Group("/artifacts/:type")
	arts.POST("", s.createArtifact)
	arts.GET("", s.listArtifacts)
	arts.GET("/:id", s.getArtifact)
	arts.PATCH("/:id", s.updateArtifact)
	arts.DELETE("/:id", s.deleteArtifact)
	arts.POST("/:id/actions/:action", s.changeState)
	arts.GET("/:id/references", s.resolveReferences)
	arts.POST("/:id/locations/:field", s.addBlobLocation)
	arts.DELETE("/:id/locations/:field", s.deleteExternalBlob)
	return s
}

func normalizeBasePath(p string) string {
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// withCredentials translates the identity headers into the incoming gRPC
// metadata the engine reads its credentials from.
func withCredentials(c *gin.Context) {
	md := metadata.Pairs(
		"authorization", c.Request.Header.Get("Authorization"),
		policy.ActiveProjectID, c.Request.Header.Get(ActiveProjectID),
		policy.Client, c.Request.Header.Get("User-Agent"),
	)
	if user := c.Request.Header.Get(UserHeader); user != "" {
		md.Set(policy.UserName, user)
	}
	if roles := c.Request.Header.Get(RolesHeader); roles != "" {
		md.Set(policy.Roles, roles)
	}
	c.Request = c.Request.WithContext(metadata.NewIncomingContext(c.Request.Context(), md))
	c.Next()
}

// abortWithError answers the request with the HTTP status matching the error
// code.
func abortWithError(c *gin.Context, err error) {
	st := status.Convert(err)
	code := runtime.HTTPStatusFromCode(st.Code())
	if code >= http.StatusInternalServerError {
		log.Warnf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": st.Message()})
}
