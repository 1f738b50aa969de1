// Package config provides configuration types and defaults for webpilot
// Centralized management of all constants and default values

package config

import (
	"os"
	"path/filepath"
)

// ===== Ports =====

const (
	// DefaultDebugPort is the standard remote-debugging port
	DefaultDebugPort = 9222

	// DefaultInspectPort is the port for the live frame inspector
	DefaultInspectPort = 55017
)

// ===== Paths =====

// DefaultDataDir returns the default data directory
func DefaultDataDir() string {
	if d := os.Getenv("WEBPILOT_DATA_DIR"); d != "" {
		return d
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "data")
}

// DefaultUserDataDir returns the default browser profile directory
func DefaultUserDataDir() string {
	return filepath.Join(os.TempDir(), "webpilot-profile")
}

// DefaultRecorderDBPath returns the default flight-recorder database path
func DefaultRecorderDBPath() string {
	return filepath.Join(DefaultDataDir(), "frames.db")
}

// DefaultCacheDir returns the default launch-cache directory
func DefaultCacheDir() string {
	return filepath.Join(DefaultDataDir(), "cache")
}

// ===== Buffers/Limits =====

const (
	// SocketReadBufSize is the per-read reassembly buffer. Full-page PDF
	// payloads span many reads of this size.
	SocketReadBufSize = 64 * 1024 // 64KB

	// MaxFramePayload bounds one reassembled logical message (PDF data
	// for a long page can get close to this)
	MaxFramePayload = 256 * 1024 * 1024 // 256MB

	// Browser defaults
	DefaultBrowserWidth  = 1280
	DefaultBrowserHeight = 720
)
