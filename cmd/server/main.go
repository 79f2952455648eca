package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	authgate "go.pilab.hu/authgate"
	echoapi "go.pilab.hu/authgate/api/echo"
	"go.pilab.hu/authgate/cache"
	rediscache "go.pilab.hu/authgate/cache/redis"
	"go.pilab.hu/authgate/config"
	"go.pilab.hu/authgate/internal/metrics"
	"go.pilab.hu/authgate/mongodb"
	"go.pilab.hu/authgate/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)
	log.Info().Msg("starting authgate server")

	metrics.Init(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	mongoClient, err := mongodb.Connect(ctx, cfg.MongoURI)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	db := mongoClient.Database(cfg.MongoDBName)

	startCtx := context.Background()
	userRepo, err := mongodb.NewUserRepository(startCtx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize user repository")
	}
	sessionRepo, err := mongodb.NewSessionRepository(startCtx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session repository")
	}

	keyResolver := authgate.NewKeyResolver(cfg.JWKSTimeout(), cfg.JWKSCacheTTL())
	defer keyResolver.Close()

	var replayStore cache.ReplayStore
	if cfg.ReplayProtection {
		if cfg.ReplayRedisAddr != "" {
			redisClient := goredis.NewClient(&goredis.Options{
				Addr: cfg.ReplayRedisAddr,
				DB:   cfg.ReplayRedisDB,
			})
			replayStore = rediscache.NewReplayStore(redisClient, "authgate")
			log.Info().Str("addr", cfg.ReplayRedisAddr).Msg("replay defense backed by Redis")
		} else {
			memStore := cache.NewMemoryReplayStore()
			defer memStore.Close()
			replayStore = memStore
			log.Info().Msg("replay defense backed by process-local store")
		}
	}

	verifier := authgate.NewTokenVerifier(keyResolver, replayStore, authgate.VerifierConfig{
		TrustedIssuers:   cfg.TrustedIssuers(),
		TrustedClients:   cfg.TrustedClients(),
		ExpiryGrace:      cfg.ExpiryGrace(),
		MaxTokenAge:      cfg.MaxTokenAge(),
		ReplayProtection: cfg.ReplayProtection,
		ReplayWindow:     cfg.ReplayWindow(),
	})
	limiter := authgate.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow())
	sessionService := services.NewSessionService(userRepo, sessionRepo, cfg.SessionCeiling, cfg.SessionCeilingDuration())
	authService := services.NewAuthService(limiter, verifier, sessionService)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	api := echoapi.NewAuthAPI(authService, sessionService, mongoPinger{client: mongoClient})
	api.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil {
			log.Info().Err(err).Msg("HTTP server stopped")
		}
	}()
	log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MongoDB disconnect failed")
	}
}

func initLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// mongoPinger adapts the MongoDB client to the API's health check.
type mongoPinger struct {
	client interface {
		Ping(ctx context.Context, rp *readpref.ReadPref) error
	}
}

func (p mongoPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}
