package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shadercomp/internal/compiler"
	"shadercomp/internal/engine"
	"shadercomp/internal/handlers"
	"shadercomp/internal/httpserver"
	"shadercomp/internal/metrics"
	"shadercomp/pkg/logging/logging"
)

type Config struct {
	Port          string
	CacheMode     string // "0" disabled, "1" in-memory, "2" on-disk, "3" distributed
	CacheDir      string
	RedisAddr     string
	Target        string // "major.minor.stepping"
	SplitCache    string
	ContextFloor  int
	ModuleCacheSz int
}

func LoadConfig() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		CacheMode:     getenv("SHADER_CACHE_MODE", "2"),
		CacheDir:      getenv("SHADER_CACHE_DIR", "/var/cache/shadercomp"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		Target:        getenv("GPU_TARGET", "10.3.0"),
		SplitCache:    getenv("SPLIT_CACHE", "true"),
		ContextFloor:  getenvInt("CONTEXT_POOL_FLOOR", 2),
		ModuleCacheSz: getenvInt("MODULE_CACHE_SIZE", 512),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("shadercompd exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_mode", cfg.CacheMode),
		zap.String("cache_dir", cfg.CacheDir),
		zap.String("gpu_target", cfg.Target),
		zap.String("split_cache", cfg.SplitCache),
	)

	target, err := parseTarget(cfg.Target)
	if err != nil {
		return err
	}

	// ----- Redis client (only for distributed cache mode) -----
	var redisClient *redis.Client
	if cfg.CacheMode == "3" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Compiler runtime -----
	runtime, err := compiler.NewRuntime(compiler.RuntimeConfig{
		Backend:         engine.NewPackager(logger),
		Logger:          logger,
		ContextFloor:    cfg.ContextFloor,
		ModuleCacheSize: cfg.ModuleCacheSz,
		RedisClient:     redisClient,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	comp, err := runtime.CreateCompiler(target, []string{
		"-shader-cache-mode=" + cfg.CacheMode,
		"-shader-cache-dir=" + cfg.CacheDir,
		"-enable-split-cache=" + cfg.SplitCache,
	})
	if err != nil {
		return err
	}
	defer comp.Destroy()

	// ----- Handlers -----
	pipelineHandler := handlers.NewPipelineHandler(comp)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, pipelineHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting shadercompd",
		zap.String("addr", srv.Addr),
		zap.String("gpu_target", target.String()),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// parseTarget parses "major.minor.stepping".
func parseTarget(s string) (engine.TargetVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return engine.TargetVersion{}, fmt.Errorf("bad GPU_TARGET %q, want major.minor.stepping", s)
	}
	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return engine.TargetVersion{}, fmt.Errorf("bad GPU_TARGET %q: %v", s, err)
		}
		nums[i] = uint32(n)
	}
	return engine.TargetVersion{Major: nums[0], Minor: nums[1], Stepping: nums[2]}, nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
