package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/settings"
)

type fixedProber struct{ v float64 }

func (p fixedProber) Brightness(ctx context.Context) (float64, error) { return p.v, nil }

// stubFFmpeg writes a fake capture binary that creates its output file.
func stubFFmpeg(t *testing.T, writeOutput bool) string {
	t.Helper()
	script := "#!/bin/sh\n"
	if writeOutput {
		script += "for last; do :; done\necho jpeg > \"$last\"\n"
	} else {
		script += "exit 1\n"
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestService(t *testing.T, bin string) (*Service, *media.Catalog) {
	t.Helper()
	catalog, err := media.NewCatalog(filepath.Join(t.TempDir(), "media.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	svc := New(Config{
		Logger:    zerolog.Nop(),
		Loader:    settings.NewLoader(nil),
		Catalog:   catalog,
		Layout:    media.Layout{Root: t.TempDir()},
		Modes:     daynight.New(fixedProber{v: 50}, nil),
		FFmpegBin: bin,
	})
	return svc, catalog
}

func TestCapturePersistsPhoto(t *testing.T) {
	svc, catalog := newTestService(t, stubFFmpeg(t, true))

	photo, err := svc.Capture(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, photo.ID)
	assert.True(t, strings.HasPrefix(filepath.Base(photo.Path), "nest_photo_"))
	assert.True(t, strings.HasSuffix(photo.Path, ".jpg"))

	var n int
	require.NoError(t, catalog.DB.QueryRow("SELECT COUNT(*) FROM photos").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestCaptureFfmpegFailure(t *testing.T) {
	svc, catalog := newTestService(t, stubFFmpeg(t, false))

	_, err := svc.Capture(context.Background())
	require.Error(t, err)

	var n int
	require.NoError(t, catalog.DB.QueryRow("SELECT COUNT(*) FROM photos").Scan(&n))
	assert.Zero(t, n, "failed capture must not create a catalog row")
}

func TestCaptureArgsNightModeAddsGrayscale(t *testing.T) {
	svc, _ := newTestService(t, "/bin/ffmpeg")
	snap := settings.FromMap(map[string]string{
		settings.KeyStreamUDPURL:  "udp://127.0.0.1:5004",
		settings.KeyVideoRotation: "90",
	})

	day := strings.Join(svc.captureArgs(snap, "/out.jpg"), " ")
	assert.NotContains(t, day, "hue=s=0")
	assert.Contains(t, day, "transpose=1")
	assert.Contains(t, day, "-frames:v 1")

	require.NoError(t, svc.modes.SetMode(daynight.ModeNight))
	night := strings.Join(svc.captureArgs(snap, "/out.jpg"), " ")
	assert.Contains(t, night, "hue=s=0")
}
