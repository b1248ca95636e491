package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/thetvman/couchsync/internal/cache"
	"github.com/thetvman/couchsync/internal/config"
	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/feed"
	"github.com/thetvman/couchsync/internal/handler"
	"github.com/thetvman/couchsync/internal/hosttoken"
	"github.com/thetvman/couchsync/internal/repository"
	"github.com/thetvman/couchsync/internal/service"
	"github.com/thetvman/couchsync/pkg/database"
	pkglog "github.com/thetvman/couchsync/pkg/log"
	"github.com/thetvman/couchsync/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "couchsync",
	})
	logger := pkglog.L()

	// Connect to database using GORM
	dbConfig := &database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	db, err := database.New(dbConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate
	if err := database.AutoMigrate(db, &domain.SessionModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	// Initialize repository
	sessionRepo := repository.NewGormSessionRepository(db)

	// Initialize Redis cache
	sessionCache, err := cache.NewRedisSessionCache(cfg.Redis, cfg.Cache.Prefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer sessionCache.Close()
	logger.Info().Msg("redis cache connected")

	// Initialize the update feed bus
	bus, err := pubsub.New(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to pubsub")
	}
	defer bus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("update feed bus connected")

	// Initialize host token manager
	tokens := hosttoken.NewManager(cfg.Session.HostTokenSecret, cfg.Session.TTL)

	// Initialize service
	watchService := service.NewWatchService(sessionRepo, sessionCache, bus, tokens, cfg.Session.TTL, cfg.Cache.TTL)

	// Initialize handlers
	httpHandler := handler.NewHandler(watchService)
	feedCfg := feed.Config{
		BackoffBase: cfg.Feed.BackoffBase,
		BackoffMax:  cfg.Feed.BackoffMax,
		MaxAttempts: cfg.Feed.MaxAttempts,
	}
	wsHandler := handler.NewWSHandler(watchService, bus, feedCfg)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Register routes
	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("db_driver", cfg.Database.Driver).Msg("couchsync starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Expired session sweeper
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := watchService.SweepExpired(gctx); err != nil {
					logger.Warn().Err(err).Msg("expiry sweep failed")
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("couchsync stopped")
}
