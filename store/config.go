package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// VersionAttribute is the integer attribute carried by every versioned
	// item. Tables may override it with WithVersionAttribute.
	// Default: "item_version"
	VersionAttribute string

	// LastWrittenAttribute receives the commit time, in RFC 3339 UTC, on
	// every item put by a transaction.
	// Default: "last_written_at"
	LastWrittenAttribute string

	// DisableLastWritten turns off the LastWrittenAttribute stamp.
	DisableLastWritten bool

	// MaxTransactItems bounds the number of items in one transaction,
	// including condition checks for items that were only read.
	// Default: 25
	// Max: 100 (the DynamoDB TransactWriteItems limit)
	MaxTransactItems int

	// Timeout is the wall-clock budget for retrying one transaction.
	// Default: 5s
	Timeout time.Duration

	// MaxAttempts bounds the number of attempts for one transaction.
	// Default: 25
	MaxAttempts int

	// InitialInterval is the first sleep between attempts. Sleeps grow
	// exponentially up to MaxInterval and are randomized.
	// Default: 20ms
	InitialInterval time.Duration

	// MaxInterval caps a single sleep between attempts.
	// Default: 1s
	MaxInterval time.Duration

	// Logger receives retry and commit diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now returns the commit time.
	// Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the defaults used when a field is left empty.
func DefaultConfig() Config {
	return Config{
		VersionAttribute:     "item_version",
		LastWrittenAttribute: "last_written_at",
		MaxTransactItems:     25,
		Timeout:              5 * time.Second,
		MaxAttempts:          25,
		InitialInterval:      20 * time.Millisecond,
		MaxInterval:          time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.VersionAttribute == "" {
		c.VersionAttribute = "item_version"
	}
	if c.LastWrittenAttribute == "" {
		c.LastWrittenAttribute = "last_written_at"
	}
	if c.MaxTransactItems < 1 {
		c.MaxTransactItems = 25
	}
	if c.MaxTransactItems > 100 {
		c.MaxTransactItems = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 25
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 20 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Second
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
