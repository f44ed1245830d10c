package cache

import (
	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
)

// LoggingInvalidator logs each invalidation. It stands in for the real
// cache store when the agent runs without one attached.
type LoggingInvalidator struct{}

func (LoggingInvalidator) Invalidate(key string) {
	logger.Log.Debug("Invalidated cache key", zap.String("key", key))
}
