// Package config reads the daemon's process-level configuration from the
// environment. Camera and trigger settings live in the persisted settings
// store; this package only covers what must be known before that store can
// be opened: filesystem paths, binaries, and the API listen address.
package config

import (
	"path/filepath"
	"time"
)

// Config is the daemon's process-level configuration.
type Config struct {
	// DataDir holds the SQLite database and long-lived state.
	DataDir string
	// MediaDir is the root for recordings, photos and timelapses.
	MediaDir string
	// HLSDir receives the playlist and segment files.
	HLSDir string
	// RunDir holds PID markers and the startup gate file.
	RunDir string

	ListenAddr string
	FFmpegBin  string
	FFprobeBin string
	LogLevel   string

	// GateStaleAge is how old an unheld startup gate file must be before a
	// new daemon reclaims it.
	GateStaleAge time.Duration
}

// FromEnv builds the configuration from NESTCAM_* environment variables,
// falling back to deployment defaults.
func FromEnv() Config {
	dataDir := ParseString("NESTCAM_DATA", "/var/lib/nestcam")
	runDir := ParseString("NESTCAM_RUN_DIR", "/run/nestcam")
	return Config{
		DataDir:      dataDir,
		MediaDir:     ParseString("NESTCAM_MEDIA_DIR", filepath.Join(dataDir, "media")),
		HLSDir:       ParseString("NESTCAM_HLS_DIR", filepath.Join(runDir, "hls")),
		RunDir:       runDir,
		ListenAddr:   ParseString("NESTCAM_LISTEN", ":8080"),
		FFmpegBin:    ParseString("NESTCAM_FFMPEG", "ffmpeg"),
		FFprobeBin:   ParseString("NESTCAM_FFPROBE", "ffprobe"),
		LogLevel:     ParseString("NESTCAM_LOG_LEVEL", "info"),
		GateStaleAge: ParseDuration("NESTCAM_GATE_STALE_AGE", time.Hour),
	}
}

// DBPath is the SQLite database shared by the settings store and the media
// catalog.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "nestcam.db")
}

// GatePath is the startup gate lock file.
func (c Config) GatePath() string {
	return filepath.Join(c.RunDir, "nestcam.lock")
}
