package types

import (
	"errors"
	"time"
)

// Config holds driver selection and engine parameters for a Session.
type Config struct {
	Driver         string        `json:"driver" yaml:"driver"`
	Database       string        `json:"database" yaml:"database"`
	Schema         string        `json:"schema" yaml:"schema"`
	PageSize       int           `json:"page_size" yaml:"page_size"`
	RefreshDelay   time.Duration `json:"refresh_delay" yaml:"refresh_delay"`
	CheckIntegrity bool          `json:"check_integrity" yaml:"check_integrity"`
}

// Supported driver names.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// Engine defaults.
const (
	DefaultPageSize     = 2000
	DefaultRefreshDelay = 50 * time.Millisecond
)

// Config validation errors.
var (
	ErrDriverEmpty     = errors.New("driver must not be empty")
	ErrDriverUnknown   = errors.New("unknown driver")
	ErrDatabaseEmpty   = errors.New("database path must not be empty")
	ErrPageSizeInvalid = errors.New("page size must be positive")
	ErrRefreshDelayNeg = errors.New("refresh delay must not be negative")
)

// knownDrivers lists the drivers that Validate accepts.
var knownDrivers = map[string]bool{
	DriverSQLite:  true,
	DriverSQLite3: true,
}

// DefaultConfig returns a Config with the engine defaults applied.
func DefaultConfig() Config {
	return Config{
		Driver:         DriverSQLite,
		PageSize:       DefaultPageSize,
		RefreshDelay:   DefaultRefreshDelay,
		CheckIntegrity: true,
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Driver == "" {
		return ErrDriverEmpty
	}
	if !knownDrivers[c.Driver] {
		return ErrDriverUnknown
	}
	if c.Database == "" {
		return ErrDatabaseEmpty
	}
	if c.PageSize <= 0 {
		return ErrPageSizeInvalid
	}
	if c.RefreshDelay < 0 {
		return ErrRefreshDelayNeg
	}
	return nil
}
