package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Well-known subdirectories of the media root.
const (
	DirVideos    = "videos"
	DirMotion    = "motion"
	DirSnapshots = "snapshots"
	DirTimelapse = "timelapse"
)

const timestampLayout = "20060102_150405"

// Filename builds the canonical artifact filename {prefix}{kind}_{timestamp}.{ext}.
func Filename(prefix, kind, ext string, t time.Time) string {
	return fmt.Sprintf("%s%s_%s.%s", prefix, kind, t.Format(timestampLayout), ext)
}

// Layout resolves artifact directories under one media root.
type Layout struct {
	Root string
}

// Dir returns the absolute path of a well-known subdirectory, creating it on
// first use.
func (l Layout) Dir(sub string) (string, error) {
	dir := filepath.Join(l.Root, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media layout: create %s: %w", dir, err)
	}
	return dir, nil
}

// Rel returns path relative to the media root; catalog rows store this form.
func (l Layout) Rel(path string) (string, error) {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return "", fmt.Errorf("media layout: relativize %s: %w", path, err)
	}
	return rel, nil
}
