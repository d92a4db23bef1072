package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shadercomp/internal/metrics"
	"shadercomp/pkg/logging/logging"
)

// LoggingBlobStore wraps a BlobStore with logging + metrics.
type LoggingBlobStore struct {
	inner   BlobStore
	backend string
}

// NewLoggingBlobStore returns a blob store that logs and records metrics.
func NewLoggingBlobStore(inner BlobStore, backend string) BlobStore {
	return &LoggingBlobStore{inner: inner, backend: backend}
}

func (s *LoggingBlobStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	blob, ok, err := s.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.BlobHitsTotal.WithLabelValues(s.backend).Inc()
	}

	fields := []zap.Field{
		zap.String("cache_backend", s.backend),
		zap.String("blob_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("blob_store_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("blob_store_get", fields...)
	}

	return blob, ok, err
}

func (s *LoggingBlobStore) Set(ctx context.Context, key string, blob []byte) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, blob)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_backend", s.backend),
		zap.String("blob_key", key),
		zap.Int("blob_size", len(blob)),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("blob_store_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("blob_store_set", fields...)
	}

	return err
}

func (s *LoggingBlobStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	if err != nil {
		logging.L(ctx).Error("blob_store_delete",
			zap.String("cache_backend", s.backend),
			zap.String("blob_key", key),
			zap.Error(err))
	}
	return err
}
