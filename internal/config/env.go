package config

import (
	"os"
	"strconv"
	"time"

	"github.com/fbirkner/nestcam/internal/log"
)

// ParseString reads a string environment variable, falling back to
// defaultValue when unset or empty.
func ParseString(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

// ParseInt reads an integer environment variable. Unparsable values log a
// warning and fall back to the default.
func ParseInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer value, using default")
		return defaultValue
	}
	return i
}

// ParseBool reads a boolean environment variable. Accepts true/1/yes and
// false/0/no; anything else logs a warning and falls back.
func ParseBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch v {
	case "true", "1", "yes", "TRUE", "True":
		return true
	case "false", "0", "no", "FALSE", "False":
		return false
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).
		Str("value", v).
		Bool("default", defaultValue).
		Msg("invalid boolean value, using default")
	return defaultValue
}

// ParseDuration reads a duration environment variable in Go syntax ("90s",
// "1h"). Unparsable values log a warning and fall back.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration value, using default")
		return defaultValue
	}
	return d
}
