package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/pvp-typing/arena/internal/config"
	"github.com/pvp-typing/arena/internal/coordinator"
	"github.com/pvp-typing/arena/internal/elo"
	"github.com/pvp-typing/arena/internal/handlers"
	"github.com/pvp-typing/arena/internal/httpapi"
	"github.com/pvp-typing/arena/internal/lifecycle"
	"github.com/pvp-typing/arena/internal/matchmaking"
	"github.com/pvp-typing/arena/internal/middleware"
	"github.com/pvp-typing/arena/internal/migrations"
	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/repositories"
	"github.com/pvp-typing/arena/internal/router"
	"github.com/pvp-typing/arena/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	migrator, err := migrations.NewMigrator(db)
	if err != nil {
		log.Fatalf("failed to initialize migrator: %v", err)
	}
	if err := migrator.MigrateUp(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	slog.Info("database migrations applied")

	var redisClient *redis.Client
	var presence *realtime.RedisPresence
	var distStore middleware.RateLimitStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to ping redis: %v", err)
		}
		defer redisClient.Close()
		presence = realtime.NewRedisPresence(redisClient)
		distStore = middleware.NewRedisRateLimitStore(middleware.NewGoRedisAdapter(redisClient))
		slog.Info("connected to redis")
	} else {
		slog.Warn("REDIS_URL not set: presence and rate limiting fall back to single-instance, in-memory state")
	}

	rankingRepo := repositories.NewRankingRepository(db)
	matchRepo := repositories.NewMatchRepository(db)
	eloCalc := elo.NewCalculator(cfg.EloKFactor)

	hub := realtime.NewHub(presence)
	coord := coordinator.New(hub, rankingRepo, matchRepo, eloCalc, cfg.DefaultElo, cfg.MatchTimeout, cfg.TestDuration)
	queue := matchmaking.NewQueue(hub, coord, cfg.QueueTimeout, cfg.CleanupInterval)
	eventRouter := router.New(queue, coord)

	restHandler := httpapi.NewHandler(rankingRepo, matchRepo, queue)
	wsHandler := httpapi.NewWebSocketHandler(hub, eventRouter, cfg.JWTSecret)
	healthHandler := handlers.NewHealthHandler(db)

	var distLimiter *middleware.DistributedRateLimiter
	var localLimiter *middleware.RateLimiter
	if distStore != nil {
		distLimiter = middleware.NewDistributedStrictRateLimiter(distStore)
	} else {
		localLimiter = middleware.NewStrictRateLimiter()
		defer localLimiter.Stop()
	}

	allowOrigins := cfg.AllowedOrigins
	if cfg.FrontendURL != "" {
		allowOrigins = append([]string{cfg.FrontendURL}, cfg.AllowedOrigins...)
	}

	engine := gin.New()
	engine.Use(middleware.RecoveryMiddleware())
	engine.Use(middleware.SecurityHeaders(cfg.CookieSecure))
	engine.Use(gzip.Gzip(gzip.DefaultCompression))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	engine.GET("/health", healthHandler.Health)
	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)

	engine.GET("/pvp/ws", wsHandler.Handle)

	pvp := engine.Group("/pvp")
	pvp.GET("/ranking/:userId", restHandler.GetRanking)
	pvp.GET("/leaderboard", restHandler.GetLeaderboard)
	pvp.GET("/history/:userId", restHandler.GetHistory)

	protected := pvp.Group("")
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	if distLimiter != nil {
		protected.POST("/queue/join", middleware.DistributedRateLimitMiddleware(distLimiter, middleware.UserOrIPKeyFunc), restHandler.JoinQueue)
	} else {
		protected.POST("/queue/join", middleware.RateLimitMiddleware(localLimiter, middleware.UserOrIPKeyFunc), restHandler.JoinQueue)
	}
	protected.DELETE("/queue/leave", restHandler.LeaveQueue)

	srv := server.NewServer(server.ServerConfig{
		Addr:            ":" + cfg.Port,
		Handler:         engine,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	lifecycleMgr := lifecycle.New(srv.ShutdownManager(), hub, queue, coord, rankingRepo, matchRepo)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	lifecycleMgr.Start(ctx)
	srv.ShutdownManager().RegisterDatabase(db)

	if err := srv.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
