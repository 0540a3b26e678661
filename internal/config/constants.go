package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const MaintenanceJobInterval = 5 * time.Minute

// Default rate limiting
const DefaultRateLimitPerMin = 120

// Storage collaborator
const (
	StorageRequestTimeout = 10 * time.Second
	MaxProfilePictureSize = 5 << 20
)

// Session side effects (DB writes, event publishing) run detached from the
// protocol callback and get their own deadline.
const SessionEffectTimeout = 10 * time.Second

// Ingestion queue polling
const (
	IngestBlockTimeout = 5 * time.Second
	IngestClaimMinIdle = 2 * time.Minute
	IngestClaimEvery   = 30 * time.Second
)
