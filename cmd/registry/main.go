package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/ballast/internal/auth"
	"github.com/lgulliver/ballast/internal/catalog"
	"github.com/lgulliver/ballast/internal/common"
	"github.com/lgulliver/ballast/internal/distribution"
	"github.com/lgulliver/ballast/internal/edgecache"
	"github.com/lgulliver/ballast/internal/storage"
	"github.com/lgulliver/ballast/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting ballast registry")

	factory := storage.NewFactory(&cfg.Storage)
	store, err := factory.CreateStore()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize object store")
	}

	opts := []distribution.Option{
		distribution.WithAuthorizer(auth.NewStatic(&cfg.Auth)),
		distribution.WithStateSecret([]byte(cfg.Auth.StateSecret)),
	}

	var catalogService *catalog.Service
	if cfg.Database.Enabled {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to catalog database")
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to run catalog migrations")
		}
		catalogService = catalog.NewService(db.DB)
		opts = append(opts, distribution.WithCatalog(catalogService))
	}

	if cfg.Redis.Enabled {
		cache, err := edgecache.New(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
		opts = append(opts, distribution.WithCache(cache))
	}

	registry := distribution.New(store, opts...)
	router := setupRouter(registry, catalogService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

func setupRouter(registry *distribution.Registry, catalogService *catalog.Service) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Ballast Registry")
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.Any("/v2/*path", registry.Handler())

	if catalogService != nil {
		catalog.Routes(router, catalogService)
	}

	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "404 page not found")
	})

	return router
}
