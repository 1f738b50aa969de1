// Package config provides configuration types for webpilot components
// Supports dependency injection for customizable behavior
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// SessionConfig holds all configurable session-engine parameters
type SessionConfig struct {
	HandshakeTimeout time.Duration // WebSocket dial timeout (default: 10s)
	ReadBufSize      int           // Per-read reassembly buffer (default: 64KB)
	MaxPayload       int64         // Max reassembled message size (default: 256MB)
	WatchdogWindow   time.Duration // Read window before a probe is produced (default: 3s)
	CommandTimeout   time.Duration // Overall exchange deadline (default: 30s)
	NavigateTimeout  time.Duration // Bound for the page-stopped-loading wait (default: 30s)
	ReleaseOnExit    bool          // Close the browser when the session ends
}

// DefaultSessionConfig returns the default session configuration
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadBufSize:      SocketReadBufSize,
		MaxPayload:       MaxFramePayload,
		WatchdogWindow:   3 * time.Second,
		CommandTimeout:   30 * time.Second,
		NavigateTimeout:  30 * time.Second,
	}
}

// LaunchConfig holds browser launcher parameters
type LaunchConfig struct {
	ExecutablePath string        // Browser binary (auto-detected if empty)
	Headless       bool          // Run without a window
	NoSandbox      bool          // Disable the browser sandbox (containers)
	UserDataDir    string        // Profile directory; marker files land here
	DebugPort      int           // Remote-debugging port (default: 9222)
	StartupURL     string        // Initial page
	Protocol       string        // "cdp" or "bidi" (default: "cdp")
	ExtraArgs      string        // Additional flags, shell-style quoting
	PollInterval   time.Duration // Marker-file poll interval (default: 200ms)
	PollTimeout    time.Duration // Marker-file poll bound (default: 20s)
	CacheDir       string        // Launch cache location ("" disables caching)
}

// DefaultLaunchConfig returns the default launcher configuration
func DefaultLaunchConfig() *LaunchConfig {
	return &LaunchConfig{
		Headless:     true,
		UserDataDir:  DefaultUserDataDir(),
		DebugPort:    DefaultDebugPort,
		Protocol:     "cdp",
		PollInterval: 200 * time.Millisecond,
		PollTimeout:  20 * time.Second,
		CacheDir:     DefaultCacheDir(),
	}
}

// RecorderConfig holds flight-recorder storage configuration
type RecorderConfig struct {
	DBPath          string        // Database path
	MaxOpenConns    int           // Max open connections (default: 4)
	MaxIdleConns    int           // Max idle connections (default: 4)
	ConnMaxLifetime time.Duration // Connection max lifetime (default: 5m)
	WalMode         bool          // Enable WAL mode (default: true)
	SyncMode        string        // Sync mode (default: "NORMAL")
	MaxFrames       int           // Prune threshold per session (0 = unlimited)
}

// DefaultRecorderConfig returns the default recorder configuration
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		DBPath:          DefaultRecorderDBPath(),
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
		WalMode:         true,
		SyncMode:        "NORMAL",
	}
}

// InspectConfig holds the live frame inspector configuration
type InspectConfig struct {
	ListenAddr   string        // Host:port to bind (default: 127.0.0.1:55017)
	AuthToken    string        // Token clients must present (empty = open)
	MaxConns     int32         // Max concurrent WebSocket clients (default: 8)
	PingInterval time.Duration // Keepalive interval (default: 30s)
	WriteTimeout time.Duration // Per-frame write bound (default: 5s)
}

// DefaultInspectConfig returns the default inspector configuration
func DefaultInspectConfig() *InspectConfig {
	return &InspectConfig{
		ListenAddr:   "127.0.0.1:55017",
		MaxConns:     8,
		PingInterval: 30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// EngineConfig combines all component configurations
type EngineConfig struct {
	Session  *SessionConfig
	Launch   *LaunchConfig
	Recorder *RecorderConfig
	Inspect  *InspectConfig
}

// DefaultEngineConfig returns a complete default configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Session:  DefaultSessionConfig(),
		Launch:   DefaultLaunchConfig(),
		Recorder: DefaultRecorderConfig(),
		Inspect:  DefaultInspectConfig(),
	}
}

// LoadFromEnv overrides configuration with environment variables
func (c *EngineConfig) LoadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "BROWSER"); v != "" {
		c.Launch.ExecutablePath = v
	}
	if v := os.Getenv(prefix + "DEBUG_PORT"); v != "" {
		c.Launch.DebugPort = parseInt(v, c.Launch.DebugPort)
	}
	if v := os.Getenv(prefix + "USER_DATA_DIR"); v != "" {
		c.Launch.UserDataDir = v
	}
	if v := os.Getenv(prefix + "PROTOCOL"); v != "" {
		c.Launch.Protocol = strings.ToLower(v)
	}
	if v := os.Getenv(prefix + "HEADLESS"); v != "" {
		c.Launch.Headless = parseBool(v, c.Launch.Headless)
	}
	if v := os.Getenv(prefix + "EXTRA_ARGS"); v != "" {
		c.Launch.ExtraArgs = v
	}
	if v := os.Getenv(prefix + "COMMAND_TIMEOUT"); v != "" {
		c.Session.CommandTimeout = parseDuration(v, c.Session.CommandTimeout)
	}
	if v := os.Getenv(prefix + "WATCHDOG_WINDOW"); v != "" {
		c.Session.WatchdogWindow = parseDuration(v, c.Session.WatchdogWindow)
	}
	if v := os.Getenv(prefix + "RELEASE_ON_EXIT"); v != "" {
		c.Session.ReleaseOnExit = parseBool(v, c.Session.ReleaseOnExit)
	}
	if v := os.Getenv(prefix + "DB_PATH"); v != "" {
		c.Recorder.DBPath = v
	}
	if v := os.Getenv(prefix + "INSPECT_ADDR"); v != "" {
		c.Inspect.ListenAddr = v
	}
	if v := os.Getenv(prefix + "INSPECT_TOKEN"); v != "" {
		c.Inspect.AuthToken = v
	}
}

// LoadEnvFile reads a KEY=VALUE file and applies the entries to the current
// process environment without clobbering variables that are already set.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		os.Setenv(key, strings.TrimSpace(parts[1]))
	}
	return scanner.Err()
}

// Helper functions
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseBool(s string, defaultVal bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
