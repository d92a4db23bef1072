package compiler

import (
	"sync"
	"testing"

	"shadercomp/internal/engine"
)

func TestPoolReusesFreeContexts(t *testing.T) {
	p := newContextPool(2, nil)
	target := engine.TargetVersion{Major: 10, Minor: 3}

	c1, err := p.Acquire(target)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c1)

	c2, err := p.Acquire(target)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c2 != c1 {
		t.Error("free context not reused")
	}
	if p.Len() != 1 {
		t.Errorf("pool size = %d, want 1", p.Len())
	}
	p.Release(c2)
}

func TestPoolSeparatesTargets(t *testing.T) {
	p := newContextPool(2, nil)

	c1, err := p.Acquire(engine.TargetVersion{Major: 10, Minor: 3})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c1)

	c2, err := p.Acquire(engine.TargetVersion{Major: 11})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c2 == c1 {
		t.Error("context for a different target reused")
	}
	if c2.Env().Target.Major != 11 {
		t.Errorf("context target = %v", c2.Env().Target)
	}
	p.Release(c2)
}

func TestPoolConcurrentAcquireAndDrain(t *testing.T) {
	const workers = 8

	p := newContextPool(2, nil)
	target := engine.TargetVersion{Major: 10, Minor: 3}

	var mu sync.Mutex
	held := make(map[*Context]struct{}, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			c, err := p.Acquire(target)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			if _, dup := held[c]; dup {
				t.Error("context handed to two concurrent callers")
			}
			held[c] = struct{}{}
			mu.Unlock()
		}()
	}
	start.Done()
	done.Wait()

	if n := p.Len(); n != workers {
		t.Fatalf("pool size under full load = %d, want %d", n, workers)
	}

	// Nothing has been released yet, so a drain must not touch anything.
	p.Drain()
	if n := p.Len(); n != workers {
		t.Fatalf("pool size after draining busy pool = %d, want %d", n, workers)
	}

	for c := range held {
		p.Release(c)
	}
	p.Drain()
	if n := p.Len(); n != 2 {
		t.Fatalf("pool size after drain = %d, want residency floor 2", n)
	}

	// Contexts kept through the drain are still usable.
	c, err := p.Acquire(target)
	if err != nil {
		t.Fatalf("Acquire after drain: %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("acquire after drain grew the pool to %d", p.Len())
	}
	p.Release(c)
}

func TestPoolReleaseResetsTransientState(t *testing.T) {
	p := newContextPool(1, nil)
	c, err := p.Acquire(engine.TargetVersion{Major: 10, Minor: 3})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c.Env().Diagnostics = append(c.Env().Diagnostics, "leftover")
	p.Release(c)

	c2, err := p.Acquire(engine.TargetVersion{Major: 10, Minor: 3})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(c2.Env().Diagnostics) != 0 {
		t.Error("diagnostics survived release")
	}
	p.Release(c2)
}
