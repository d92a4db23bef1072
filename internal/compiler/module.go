package compiler

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"shadercomp/internal/pipeline"
	"shadercomp/pkg/hash"
)

const defaultModuleCacheSize = 512

// moduleCache memoizes BuildShaderModule results, keyed by the hash of the
// module's code after debug-info trimming. Modules declaring specialization
// constants are never cached: their compiled form depends on per-pipeline
// constant values.
type moduleCache struct {
	lru *lru.Cache[hash.Hash, *pipeline.ShaderModule]
}

func newModuleCache(size int) (*moduleCache, error) {
	if size <= 0 {
		size = defaultModuleCacheSize
	}
	c, err := lru.New[hash.Hash, *pipeline.ShaderModule](size)
	if err != nil {
		return nil, err
	}
	return &moduleCache{lru: c}, nil
}

func (mc *moduleCache) Get(key hash.Hash) (*pipeline.ShaderModule, bool) {
	return mc.lru.Get(key)
}

func (mc *moduleCache) Add(key hash.Hash, m *pipeline.ShaderModule) {
	if m.UseSpecConstant {
		return
	}
	mc.lru.Add(key, m)
}
