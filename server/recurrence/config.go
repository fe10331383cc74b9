package recurrence

import (
	"time"
)

// EngineConfig holds configuration options for the recurrence engine
type EngineConfig struct {
	// WeekStart is the first day of a week when counting weekly intervals.
	WeekStart time.Weekday

	// MaxCountHorizonDays caps the forward scan used to locate the last
	// occurrence of a count-terminated rule.
	MaxCountHorizonDays int

	// Cache configuration
	CacheEnabled bool
	CacheConfig  CacheConfig
}

// DefaultEngineConfig provides sensible defaults for production use
var DefaultEngineConfig = EngineConfig{
	WeekStart:           time.Sunday,
	MaxCountHorizonDays: 100 * 366,
	CacheEnabled:        true,
	CacheConfig:         DefaultCacheConfig,
}

// LowMemoryConfig keeps few cut-off entries around.
var LowMemoryConfig = EngineConfig{
	WeekStart:           time.Sunday,
	MaxCountHorizonDays: 100 * 366,
	CacheEnabled:        true,
	CacheConfig: CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 100,
	},
}

// DisabledCacheConfig turns off caching entirely
var DisabledCacheConfig = EngineConfig{
	WeekStart:           time.Sunday,
	MaxCountHorizonDays: 100 * 366,
	CacheEnabled:        false,
}

// NewEngineWithConfig creates a new recurrence engine with custom configuration
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.MaxCountHorizonDays <= 0 {
		config.MaxCountHorizonDays = DefaultEngineConfig.MaxCountHorizonDays
	}

	var cache *CountCache
	if config.CacheEnabled {
		cache = NewCountCache(config.CacheConfig)
	}

	return &Engine{
		weekStart: config.WeekStart,
		horizon:   config.MaxCountHorizonDays,
		cache:     cache,
		config:    config,
	}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// CacheStats reports cut-off cache usage; the zero value when caching is off.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}
