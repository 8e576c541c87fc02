package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deltaDAO/mvg-portal-sub004/internal/api"
	"github.com/deltaDAO/mvg-portal-sub004/internal/auth"
	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/config"
	"github.com/deltaDAO/mvg-portal-sub004/internal/engine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("config load failed", zap.Error(err))
	}

	log, _ := zap.NewProduction()
	if cfg.Log.Development {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync() //nolint:errcheck

	// ── Redis (creation-block cache + nonce store) ────────────────────────────
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		defer rdb.Close() //nolint:errcheck
	} else {
		log.Warn("redis disabled: creation blocks are not cached and invoice routes are unauthenticated")
	}

	// ── Networks ──────────────────────────────────────────────────────────────
	reg, err := chain.DialRegistry(cfg)
	if err != nil {
		log.Fatal("chain registry init failed", zap.Error(err))
	}
	defer reg.Close()

	eng, err := engine.New(reg, cfg, rdb, log)
	if err != nil {
		log.Fatal("engine init failed", zap.Error(err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newRouter(eng, rdb, log),
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.Int64s("chains", eng.ChainIDs()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// servedChains is implemented by engine.Engine.
type servedChains interface {
	api.Invoicer
	ChainIDs() []int64
}

// newRouter builds the Gin engine. Wallet authentication needs the nonce store,
// so with rdb nil the invoice routes are served without it.
func newRouter(eng servedChains, rdb *redis.Client, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "chains": eng.ChainIDs()})
	})

	var walletAuth gin.HandlerFunc
	if rdb != nil {
		walletAuth = auth.Middleware(rdb, auth.Binding{Action: "invoice", ResourceParam: "txHash"}, log)
	}
	api.NewHandler(eng, log).Register(r.Group("/api"), walletAuth)
	return r
}
