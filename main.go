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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/slothflix/lldap-bridge/handlers"
	"github.com/slothflix/lldap-bridge/internal/auth"
	"github.com/slothflix/lldap-bridge/internal/config"
	"github.com/slothflix/lldap-bridge/internal/directory"
	"github.com/slothflix/lldap-bridge/internal/discordbot"
	"github.com/slothflix/lldap-bridge/internal/provision"
	"github.com/slothflix/lldap-bridge/internal/reconcile"
	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
	"github.com/slothflix/lldap-bridge/pkg/middleware"
)

func main() {
	// logging first (LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	bindUsername, err := cfg.BindUsername()
	if err != nil {
		logger.Fatalf("failed to derive bind username: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// credential lifecycle: a failed primary login is fatal to process start
	authMgr := auth.NewManager(cfg.Directory.LoginURL, bindUsername, cfg.Directory.BindPassword)
	defer authMgr.Close()
	if err := authMgr.Authenticate(ctx); err != nil {
		logger.Fatalf("directory authentication failed: %v", err)
	}

	client := directory.NewClient(cfg.Directory.LoginURL, authMgr)
	if err := client.Initialize(ctx); err != nil {
		logger.Fatalf("directory client init failed: %v", err)
	}

	passwords := directory.NewLDAPPasswordSetter(cfg.Directory.ServerURL, cfg.Directory.BindDN, cfg.Directory.BindPassword)
	provisioner := provision.NewService(client, passwords, cfg.Directory.BaseDN,
		cfg.Sync.SubscribersGroupID, cfg.Sync.LifetimeGroupID, cfg.Sync.UsernameMaxLength)

	pairs := []reconcile.Pair{
		{RoleName: cfg.Sync.SubscriberRoleName, GroupID: cfg.Sync.SubscribersGroupID},
	}
	if cfg.Sync.LifetimeRoleName != "" && cfg.Sync.LifetimeGroupID != 0 {
		pairs = append(pairs, reconcile.Pair{RoleName: cfg.Sync.LifetimeRoleName, GroupID: cfg.Sync.LifetimeGroupID})
	}

	// the roster source needs the gateway session, so build the bot first
	// with a placeholder reconciler slot and wire the real one below
	bot, err := discordbot.New(cfg, provisioner, nil)
	if err != nil {
		logger.Fatalf("discord bot setup failed: %v", err)
	}
	roster := discordbot.NewRoster(bot.Session())
	reconciler := reconcile.New(client, roster, cfg.Discord.GuildID, pairs)
	bot.SetReconciler(reconciler)

	if err := bot.Start(ctx); err != nil {
		logger.Fatalf("discord bot start failed: %v", err)
	}
	defer bot.Close()

	// admin/ops HTTP surface
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	adminMiddlewares := []gin.HandlerFunc{middleware.AdminAuthMiddleware(cfg.Server.AdminToken)}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && cfg.Redis.Host != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
				Password: cfg.Redis.Password,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warnf("redis unavailable (%v), falling back to in-memory rate limiter", err)
				adminMiddlewares = append(adminMiddlewares, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
			} else {
				win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
				adminMiddlewares = append(adminMiddlewares, middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
			}
		} else {
			adminMiddlewares = append(adminMiddlewares, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	h := handlers.NewAdminHandler(reconciler, authMgr, bot.Ready)
	h.Register(r.Group("/"), adminMiddlewares...)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("admin api listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
