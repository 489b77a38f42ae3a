package settings

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one immutable view of the effective configuration: stored
// overrides merged over defaults. Consumers keep a snapshot for a whole loop
// iteration and never observe a partial update.
type Snapshot struct {
	values map[string]string
	loaded time.Time
}

// Loader builds snapshots from a store. A nil store yields pure defaults,
// which tests use directly.
type Loader struct {
	store *Store
}

// NewLoader creates a snapshot loader backed by the given store.
func NewLoader(store *Store) *Loader {
	return &Loader{store: store}
}

// Snapshot merges stored overrides over defaults into a fresh snapshot.
// On a store read error the error is returned and the caller keeps its
// previous snapshot; a half-merged result is never produced.
func (l *Loader) Snapshot(ctx context.Context) (Snapshot, error) {
	values := Defaults()

	if l.store != nil {
		overrides, err := l.store.All(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		for k, v := range overrides {
			if strings.TrimSpace(v) != "" {
				values[k] = v
			}
		}
	}

	return Snapshot{values: values, loaded: time.Now()}, nil
}

// FromMap builds a snapshot directly from a value map (test helper).
func FromMap(values map[string]string) Snapshot {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Snapshot{values: copied, loaded: time.Now()}
}

// LoadedAt reports when this snapshot was taken.
func (s Snapshot) LoadedAt() time.Time {
	return s.loaded
}

// Str returns the string value for key, or fallback when absent/empty.
func (s Snapshot) Str(key, fallback string) string {
	if v, ok := s.values[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// Int returns the integer value for key, or fallback on absence or parse error.
func (s Snapshot) Int(key string, fallback int) int {
	if v, ok := s.values[key]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// Float returns the float value for key, or fallback on absence or parse error.
func (s Snapshot) Float(key string, fallback float64) float64 {
	if v, ok := s.values[key]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// Bool interprets "1", "true", "yes" (any case) as true, everything else as
// false; fallback applies only when the key is absent.
func (s Snapshot) Bool(key string, fallback bool) bool {
	v, ok := s.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Seconds returns the duration for a key holding whole seconds.
func (s Snapshot) Seconds(key string, fallback time.Duration) time.Duration {
	if v, ok := s.values[key]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}
