package storage

import "github.com/sajjad-MoBe/kvlog/internal/wal"

// Config contains configuration for a Store
type Config struct {
	SyncMode     wal.SyncMode // When appends are fsynced; zero value is SyncAlways
	MaxKeySize   int          // Largest accepted key in bytes
	MaxValueSize int          // Largest accepted value in bytes
}

// DefaultConfig returns a Config with the default limits and SyncAlways
func DefaultConfig() Config {
	return Config{
		SyncMode:     wal.SyncAlways,
		MaxKeySize:   int(wal.DefaultLimits.MaxKeySize),
		MaxValueSize: int(wal.DefaultLimits.MaxValueSize),
	}
}

// withDefaults fills zero or out-of-range fields from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxKeySize <= 0 || uint64(c.MaxKeySize) > uint64(^uint32(0)) {
		c.MaxKeySize = def.MaxKeySize
	}
	if c.MaxValueSize <= 0 || uint64(c.MaxValueSize) > uint64(^uint32(0)) {
		c.MaxValueSize = def.MaxValueSize
	}
	return c
}

func (c Config) limits() wal.Limits {
	return wal.Limits{
		MaxKeySize:   uint32(c.MaxKeySize),
		MaxValueSize: uint32(c.MaxValueSize),
	}
}
