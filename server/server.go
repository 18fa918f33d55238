package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/eidolex/sqlgate/core/broker"
	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/ssh"
	"github.com/eidolex/sqlgate/core/store"
	"github.com/eidolex/sqlgate/core/utils"
	"github.com/eidolex/sqlgate/server/handlers"
	"github.com/eidolex/sqlgate/server/middleware"
)

// Server is the HTTP API server exposing the database command surface
// to the local UI.
type Server struct {
	config *models.Config
	router *gin.Engine
	broker *broker.Broker
	store  *store.Store
	logger utils.Logger
}

// NewServer wires the tunnel registry, broker, store and routes.
func NewServer(config *models.Config, logger utils.Logger) (*Server, error) {
	st, err := store.New(config.Storage.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	registry := ssh.NewTunnelRegistry(config.SSH, logger)
	b := broker.NewBroker(registry, logger)

	s := &Server{
		config: config,
		broker: b,
		store:  st,
		logger: logger.WithGroup("server"),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger))

	corsConfig := cors.DefaultConfig()
	if len(s.config.Server.CORS.AllowedOrigins) > 0 &&
		s.config.Server.CORS.AllowedOrigins[0] != "*" {
		corsConfig.AllowOrigins = s.config.Server.CORS.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = s.config.Server.CORS.AllowedMethods
	corsConfig.AllowHeaders = s.config.Server.CORS.AllowedHeaders
	router.Use(cors.New(corsConfig))

	h := handlers.NewHandlers(s.broker, s.store, s.logger)

	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		connections := api.Group("/connections")
		{
			connections.POST("", h.ConnectDB)
			connections.POST("/:id/disconnect", h.DisconnectDB)
			connections.GET("/:id/databases", h.ListDatabases)
			connections.GET("/:id/tables", h.ListTables)
			connections.POST("/:id/tables/:table/data", h.GetTableData)
			connections.GET("/:id/tables/:table/structure", h.GetTableStructure)
			connections.GET("/:id/tables/:table/indexes", h.GetTableIndexes)
			connections.POST("/:id/query", h.ExecuteQuery)
			connections.GET("/:id/schema", h.GetDatabaseSchema)
		}

		saved := api.Group("/saved-connections")
		{
			saved.GET("", h.LoadConnections)
			saved.POST("", h.SaveConnection)
			saved.DELETE("/:id", h.DeleteConnection)
		}

		api.GET("/app-state", h.LoadAppState)
		api.PUT("/app-state", h.SaveAppState)
	}

	s.router = router
}

// Start runs the server until SIGINT/SIGTERM, then drains connections.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.broker.Close(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}
