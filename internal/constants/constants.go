// Package constants defines application-wide constants to avoid magic numbers
package constants

import "time"

// Network and Port Constants
const (
	// DefaultServerPort is the default port for the orchestra API server
	DefaultServerPort = 8080

	// DefaultPortRangeMin is the first port handed out to worktrees
	DefaultPortRangeMin = 3001

	// DefaultPortRangeMax is the last port handed out to worktrees
	DefaultPortRangeMax = 3999

	// MinPortNumber is the minimum valid TCP port number
	MinPortNumber = 1

	// MaxPortNumber is the maximum valid TCP port number
	MaxPortNumber = 65535
)

// File System Permissions
const (
	DirPermissions        = 0755
	FilePermissions       = 0644
	SecureFilePermissions = 0600
)

// Database Configuration
const (
	DefaultMaxOpenConnections = 25
	DefaultMaxIdleConnections = 5
	DefaultConnectionTimeout  = 5 * time.Minute
	DefaultIdleTimeout        = 1 * time.Minute
)

// HTTP Configuration
const (
	// DefaultHTTPClientTimeout is the default timeout for outbound HTTP requests
	DefaultHTTPClientTimeout = 30 * time.Second

	DefaultServerReadTimeout     = 10 * time.Second
	DefaultServerWriteTimeout    = 10 * time.Second
	DefaultServerShutdownTimeout = 30 * time.Second
)

// Worktree lifecycle
const (
	// DefaultReconcileInterval is how often orphaned worktrees are swept
	DefaultReconcileInterval = 5 * time.Minute

	// DefaultCreatingGrace is how long a record may stay in "creating" before
	// the reconciler treats it as abandoned
	DefaultCreatingGrace = 10 * time.Minute

	// DefaultCommandTimeout bounds commands run inside a worktree
	DefaultCommandTimeout = 5 * time.Minute
)

// Context provider
const (
	// DefaultContextCacheTTL is how long fetched issue context is reused
	DefaultContextCacheTTL = 5 * time.Minute

	// DefaultContextCacheSize caps the number of cached issue contexts
	DefaultContextCacheSize = 256

	DefaultFetchRetries = 3
	DefaultRetryDelay   = 200 * time.Millisecond
)

// Events
const (
	// DefaultEventBuffer is the per-subscriber channel capacity
	DefaultEventBuffer = 64

	// DefaultZoneQueueSize is the per-zone evaluation queue capacity
	DefaultZoneQueueSize = 128
)

// Output limits
const (
	// MaxOutputLength is the maximum length for command output kept in an outcome
	MaxOutputLength = 4096

	DefaultExecutionListLimit = 50
	MaxExecutionListLimit     = 500
)

// Server
const (
	// Version is reported by the health endpoint and the CLI
	Version = "0.1.0"

	// EventStreamPingInterval keeps idle event stream connections alive
	EventStreamPingInterval = 30 * time.Second

	// EventStreamWriteTimeout bounds a single write to an event stream client
	EventStreamWriteTimeout = 10 * time.Second
)
