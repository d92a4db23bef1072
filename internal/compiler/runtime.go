package compiler

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shadercomp/internal/cache"
	"shadercomp/internal/engine"
	"shadercomp/pkg/hash"
)

// Runtime owns the state shared by every compiler instance: the context
// pool, the process-wide option fingerprint, the internal cache store and
// the module cache. Construct one per process (or one per test case) and
// tear it down with Close.
type Runtime struct {
	backend engine.Backend
	pool    *contextPool
	modules *moduleCache
	redis   *redis.Client
	logger  *zap.Logger

	mu          sync.Mutex
	fingerprint hash.Hash
	instances   int
	store       *cache.Store
	opts        *Options
}

// RuntimeConfig configures a Runtime. Backend is required; everything else
// has a usable default.
type RuntimeConfig struct {
	Backend engine.Backend
	Logger  *zap.Logger

	// ContextFloor is the number of idle compile contexts kept alive
	// across Drain calls.
	ContextFloor int

	// ModuleCacheSize bounds the shader module memoization cache.
	ModuleCacheSize int

	// RedisClient backs the distributed cache mode. Optional.
	RedisClient *redis.Client
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: no backend", ErrInvalidConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	modules, err := newModuleCache(cfg.ModuleCacheSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		backend: cfg.Backend,
		pool:    newContextPool(cfg.ContextFloor, logger),
		modules: modules,
		redis:   cfg.RedisClient,
		logger:  logger,
	}, nil
}

// CreateCompiler validates the option list against the runtime's current
// fingerprint and returns a compiler bound to the target version.
//
// The first compiler (or the first after all instances are destroyed) sets
// the runtime's option state and rebuilds the internal cache store from the
// cache options. While any instance is live, a different fingerprint is a
// configuration conflict: option state cannot be reset under a live
// instance without racing its compiles.
func (r *Runtime) CreateCompiler(target engine.TargetVersion, optionList []string) (*Compiler, error) {
	opts, err := ParseOptions(optionList)
	if err != nil {
		return nil, err
	}
	fp := opts.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instances > 0 {
		if fp != r.fingerprint {
			return nil, fmt.Errorf("%w: option fingerprint %s conflicts with %d live instance(s)",
				ErrInvalidConfiguration, fp.Hex()[:16], r.instances)
		}
	} else {
		store, err := r.buildStore(opts)
		if err != nil {
			return nil, err
		}
		r.fingerprint = fp
		r.store = store
		r.opts = opts
	}
	r.instances++

	r.logger.Info("compiler created",
		zap.String("target", target.String()),
		zap.String("fingerprint", fp.Hex()[:16]),
		zap.Int("instances", r.instances))

	return &Compiler{
		runtime: r,
		target:  target,
		opts:    r.opts,
		logger:  r.logger.With(zap.String("target", target.String())),
	}, nil
}

func (r *Runtime) buildStore(opts *Options) (*cache.Store, error) {
	cfg := cache.Config{Dir: opts.CacheDir}
	switch opts.CacheMode {
	case cache.ModeDisabled:
		cfg.Backend = "disabled"
	case cache.ModeRuntime:
		cfg.Backend = "memory"
	case cache.ModePersistent:
		if r.redis != nil {
			cfg.Backend = "redis"
		} else {
			cfg.Backend = "disk"
		}
	}
	return cache.New(cfg, r.redis, r.logger)
}

// destroyCompiler drops one instance. The last destruction releases the
// option state so a later CreateCompiler may reparse with a different
// fingerprint.
func (r *Runtime) destroyCompiler() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instances > 0 {
		r.instances--
	}
}

// Store returns the runtime's internal cache store.
func (r *Runtime) Store() *cache.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store
}

// Close drains the context pool down to the residency floor.
func (r *Runtime) Close() {
	r.pool.Drain()
}
