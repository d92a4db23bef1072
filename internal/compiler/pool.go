package compiler

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"shadercomp/internal/engine"
	"shadercomp/internal/metrics"
)

// Context is one pooled compilation environment. While checked out it
// belongs exclusively to the caller; it must be returned with Release on
// every path, including errors.
type Context struct {
	env   *engine.Environment
	inUse bool
}

// Env returns the underlying backend environment.
func (c *Context) Env() *engine.Environment {
	return c.env
}

// contextPool reuses compilation environments across builds, keyed by
// target version. One coarse lock guards the whole pool: the scan for a
// free context and the in-use mark happen as a single atomic step.
type contextPool struct {
	mu       sync.Mutex
	contexts []*Context
	floor    int
	logger   *zap.Logger
}

func newContextPool(floor int, logger *zap.Logger) *contextPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &contextPool{floor: floor, logger: logger}
}

// Acquire returns a free context for the target, creating one if none is
// free. Construction failure is surfaced as ErrOutOfMemory.
func (p *contextPool) Acquire(target engine.TargetVersion) (*Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.contexts {
		if !c.inUse && c.env.Target == target {
			c.inUse = true
			return c, nil
		}
	}

	env, err := engine.NewEnvironment(target)
	if err != nil {
		return nil, fmt.Errorf("%w: create compilation environment: %v", ErrOutOfMemory, err)
	}
	c := &Context{env: env, inUse: true}
	p.contexts = append(p.contexts, c)
	metrics.ContextPoolSize.Set(float64(len(p.contexts)))
	p.logger.Debug("created compile context",
		zap.String("target", target.String()),
		zap.Int("pool_size", len(p.contexts)))
	return c, nil
}

// Release resets the context's transient state and marks it free.
func (p *contextPool) Release(c *Context) {
	if c == nil {
		return
	}
	c.env.ResetTransient()
	p.mu.Lock()
	c.inUse = false
	p.mu.Unlock()
}

// Drain destroys idle contexts above the residency floor. In-use contexts
// are never touched; the floor keeps construction cost amortized across
// repeated invocations.
func (p *contextPool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.contexts[:0]
	idle := 0
	for _, c := range p.contexts {
		if c.inUse {
			kept = append(kept, c)
			continue
		}
		if idle < p.floor {
			idle++
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(p.contexts); i++ {
		p.contexts[i] = nil
	}
	p.contexts = kept
	metrics.ContextPoolSize.Set(float64(len(p.contexts)))
}

// Len reports the number of pooled contexts, in-use included.
func (p *contextPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}
