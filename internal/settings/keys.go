// Package settings provides the flat key/value configuration for the rig:
// static defaults seeded from the environment, overridden by rows in the
// persisted settings store, exposed as immutable snapshots. Long-running
// loops reload their snapshot on a fixed interval; a reload either replaces
// the whole snapshot or keeps the previous one, never a mix.
package settings

import (
	"os"
	"time"
)

// ReloadInterval is how often long-running loops refresh their snapshot.
// Setting changes may take up to one interval to take effect; this batching
// is deliberate.
const ReloadInterval = 5 * time.Minute

// Setting keys. Values are stored as strings and parsed by Snapshot getters.
const (
	KeyVideoSource  = "VIDEO_SOURCE"
	KeyAudioSource  = "AUDIO_SOURCE"
	KeyStreamUDPURL = "STREAM_UDP_URL"
	KeyMotionSource = "MOTION_SOURCE"

	KeyStreamMode        = "STREAM_MODE"
	KeyStreamRes         = "STREAM_RES"
	KeyStreamFPS         = "STREAM_FPS"
	KeyRecordRes         = "RECORD_RES"
	KeyRecordFPS         = "RECORD_FPS"
	KeyRecordMaxDuration = "RECORD_MAX_DURATION_S"
	KeyVideoRotation     = "VIDEO_ROTATION"
	KeyHLSSegmentSeconds = "HLS_SEGMENT_SECONDS"
	KeyHLSPlaylistSize   = "HLS_PLAYLIST_SIZE"
	KeyPrefix            = "PREFIX"

	KeyMotionEnabled          = "MOTION_ENABLED"
	KeyMotionThreshold        = "MOTION_THRESHOLD"
	KeyMotionDurationS        = "MOTION_DURATION_S"
	KeyMotionCooldownS        = "MOTION_COOLDOWN_S"
	KeyMotionSensorPin        = "MOTION_SENSOR_PIN"
	KeyMotionSensorEnabled    = "MOTION_SENSOR_ENABLED"
	KeyMotionFramediffEnabled = "MOTION_FRAMEDIFF_ENABLED"
	KeyMotionServiceEnabled   = "MOTION_SERVICE_ENABLED"
	KeyMotionMinContourArea   = "MOTION_MIN_CONTOUR_AREA"

	KeyDayNightEnabled   = "DAY_NIGHT_ENABLED"
	KeyDayNightThreshold = "DAY_NIGHT_THRESHOLD"
	KeyDayNightInterval  = "DAY_NIGHT_CHECK_INTERVAL"

	KeyPhotoIntervalS = "PHOTO_INTERVAL_S"
	KeyTimelapseFPS   = "TIMELAPSE_FPS"
)

// Defaults returns the static default configuration. Environment variables of
// the same name override the built-in value, mirroring deployment practice on
// the rig (systemd unit files set these).
func Defaults() map[string]string {
	defaults := map[string]string{
		KeyVideoSource:  "/dev/video0",
		KeyAudioSource:  "",
		KeyStreamUDPURL: "udp://127.0.0.1:5004?pkt_size=1316&reuse=1&overrun_nonfatal=1&fifo_size=5000000",
		KeyMotionSource: "",

		KeyStreamMode:        "hls",
		KeyStreamRes:         "1280x720",
		KeyStreamFPS:         "30",
		KeyRecordRes:         "1280x720",
		KeyRecordFPS:         "30",
		KeyRecordMaxDuration: "600",
		KeyVideoRotation:     "0",
		KeyHLSSegmentSeconds: "3",
		KeyHLSPlaylistSize:   "6",
		KeyPrefix:            "nest_",

		KeyMotionEnabled:          "1",
		KeyMotionThreshold:        "25",
		KeyMotionDurationS:        "10",
		KeyMotionCooldownS:        "5",
		KeyMotionSensorPin:        "22",
		KeyMotionSensorEnabled:    "0",
		KeyMotionFramediffEnabled: "1",
		KeyMotionServiceEnabled:   "0",
		KeyMotionMinContourArea:   "35",

		KeyDayNightEnabled:   "0",
		KeyDayNightThreshold: "30.0",
		KeyDayNightInterval:  "60",

		KeyPhotoIntervalS: "60",
		KeyTimelapseFPS:   "30",
	}

	for key := range defaults {
		if env := os.Getenv(key); env != "" {
			defaults[key] = env
		}
	}
	return defaults
}
