package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/motion"
	"github.com/fbirkner/nestcam/internal/record"
	"github.com/fbirkner/nestcam/internal/stream"
	"github.com/fbirkner/nestcam/internal/timelapse"
)

type fakePipeline struct {
	startErr  error
	stopErr   error
	restarted bool
	status    stream.Status
}

func (f *fakePipeline) Start(context.Context) error { return f.startErr }
func (f *fakePipeline) Stop(context.Context) error  { return f.stopErr }
func (f *fakePipeline) Status() stream.Status       { return f.status }
func (f *fakePipeline) RestartIngest(context.Context) bool {
	f.restarted = true
	return true
}

type fakeMotion struct {
	startErr error
	status   motion.Status
}

func (f *fakeMotion) Start(context.Context) error { return f.startErr }
func (f *fakeMotion) Stop(context.Context) error  { return nil }
func (f *fakeMotion) Status() motion.Status       { return f.status }

type fakeDayNight struct {
	status        daynight.Status
	setErr        error
	lastSet       daynight.Mode
	checked       bool
	running       bool
	lastThreshold float64
	lastInterval  time.Duration
}

func (f *fakeDayNight) Status() daynight.Status { return f.status }
func (f *fakeDayNight) SetMode(m daynight.Mode) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.lastSet = m
	return nil
}
func (f *fakeDayNight) CheckAndUpdate(context.Context) bool {
	f.checked = true
	return true
}
func (f *fakeDayNight) StartMonitoring(_ context.Context, threshold float64, interval time.Duration) {
	f.running = true
	f.lastThreshold = threshold
	f.lastInterval = interval
}
func (f *fakeDayNight) StopMonitoring()                                         { f.running = false }

type fakeRecorder struct {
	startErr error
	stopErr  error
	status   record.Status
	result   record.StopResult
}

func (f *fakeRecorder) Start(context.Context) (record.Status, error) {
	return f.status, f.startErr
}
func (f *fakeRecorder) Stop(context.Context) (record.StopResult, error) {
	return f.result, f.stopErr
}
func (f *fakeRecorder) Status() record.Status { return f.status }

type fakeSnapshots struct {
	photo media.Photo
	err   error
}

func (f *fakeSnapshots) Capture(context.Context) (media.Photo, error) { return f.photo, f.err }

type fakeTimelapses struct {
	clip media.Timelapse
	err  error
}

func (f *fakeTimelapses) Build(context.Context, time.Time, time.Time) (media.Timelapse, error) {
	return f.clip, f.err
}

type testDeps struct {
	pipeline   *fakePipeline
	motion     *fakeMotion
	daynight   *fakeDayNight
	recorder   *fakeRecorder
	snapshots  *fakeSnapshots
	timelapses *fakeTimelapses
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		pipeline:   &fakePipeline{},
		motion:     &fakeMotion{},
		daynight:   &fakeDayNight{status: daynight.Status{Mode: daynight.ModeDay, Brightness: 50}},
		recorder:   &fakeRecorder{},
		snapshots:  &fakeSnapshots{photo: media.Photo{ID: 7, Path: "snapshots/nest_photo.jpg"}},
		timelapses: &fakeTimelapses{clip: media.Timelapse{ID: 3, Path: "timelapse/nest_tl.mp4", FPS: 30}},
	}
	srv := New(Config{
		Logger:     zerolog.Nop(),
		Pipeline:   deps.pipeline,
		Motion:     deps.motion,
		DayNight:   deps.daynight,
		Recorder:   deps.recorder,
		Snapshots:  deps.snapshots,
		Timelapses: deps.timelapses,
	})
	return srv, deps
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doRequest(t, srv.Routes(), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestStreamStartReportsStatus(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.pipeline.status = stream.Status{Running: true, Mode: stream.ModeSegmented}

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/stream/start", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["running"])
	assert.Equal(t, string(stream.ModeSegmented), status["mode"])
}

func TestStreamStartFailure(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.pipeline.startErr = fmt.Errorf("ffmpeg binary not found")

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/stream/start", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "ffmpeg binary")
}

func TestRestartIngest(t *testing.T) {
	srv, deps := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/stream/restart-ingest", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["restarted"])
	assert.True(t, deps.pipeline.restarted)
}

func TestMotionStartConflictWhenNoTriggerEnabled(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.motion.startErr = motion.ErrNoTriggerEnabled

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/motion/start", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["ok"])
}

func TestMotionStatus(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.motion.status = motion.Status{State: motion.StateRunning, FrameTrigger: true}

	rec, body := doRequest(t, srv.Routes(), http.MethodGet, "/api/motion/status", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	status := body["status"].(map[string]any)
	assert.Equal(t, string(motion.StateRunning), status["state"])
	assert.Equal(t, true, status["frame_trigger"])
}

func TestDayNightSetMode(t *testing.T) {
	srv, deps := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/daynight/mode", `{"mode":"NIGHT"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, daynight.ModeNight, deps.daynight.lastSet)
}

func TestDayNightSetModeRequiresMode(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/daynight/mode", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["ok"])
}

func TestDayNightSetModeInvalid(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.daynight.setErr = fmt.Errorf("daynight: invalid mode %q", "DUSK")

	rec, _ := doRequest(t, srv.Routes(), http.MethodPost, "/api/daynight/mode", `{"mode":"DUSK"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDayNightCheck(t *testing.T) {
	srv, deps := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/daynight/check", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["changed"])
	assert.True(t, deps.daynight.checked)
}

func TestMonitorStartDefaults(t *testing.T) {
	srv, deps := newTestServer(t)

	rec, _ := doRequest(t, srv.Routes(), http.MethodPost, "/api/daynight/monitor/start", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, deps.daynight.running)
	assert.Equal(t, 30.0, deps.daynight.lastThreshold)
	assert.Equal(t, time.Minute, deps.daynight.lastInterval)
}

func TestMonitorStartZeroThreshold(t *testing.T) {
	srv, deps := newTestServer(t)

	rec, _ := doRequest(t, srv.Routes(), http.MethodPost, "/api/daynight/monitor/start",
		`{"threshold":0,"interval_s":5}`)

	// An explicit zero must pass through, not be replaced by the default.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, deps.daynight.lastThreshold)
	assert.Equal(t, 5*time.Second, deps.daynight.lastInterval)
}

func TestRecordingStartBusy(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.recorder.startErr = record.ErrGuardBusy

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/recording/start", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["ok"])
}

func TestRecordingStopResult(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.recorder.result = record.StopResult{SessionID: "abc", Path: "record/nest_record.mp4", ElapsedS: 12}

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/recording/stop", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	result := body["result"].(map[string]any)
	assert.Equal(t, "abc", result["session_id"])
	assert.Equal(t, float64(12), result["elapsed_s"])
}

func TestRecordingStopNotRecording(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.recorder.stopErr = record.ErrNotRecording

	rec, _ := doRequest(t, srv.Routes(), http.MethodPost, "/api/recording/stop", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSnapshotCapture(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/snapshot", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["id"])
	assert.Equal(t, "snapshots/nest_photo.jpg", body["path"])
}

func TestSnapshotNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.snapshots = nil

	rec, _ := doRequest(t, srv.Routes(), http.MethodPost, "/api/snapshot", "")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestTimelapseRequiresRange(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/timelapse", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["ok"])
}

func TestTimelapseNotEnoughFrames(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.timelapses.err = timelapse.ErrNotEnoughFrames

	rec, _ := doRequest(t, srv.Routes(), http.MethodPost, "/api/timelapse",
		`{"from":"2026-08-01T00:00:00Z","to":"2026-08-02T00:00:00Z"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTimelapseBuild(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doRequest(t, srv.Routes(), http.MethodPost, "/api/timelapse",
		`{"from":"2026-08-01T00:00:00Z","to":"2026-08-02T00:00:00Z"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "timelapse/nest_tl.mp4", body["path"])
	assert.Equal(t, float64(30), body["fps"])
}

func TestMutationRateLimit(t *testing.T) {
	deps := &testDeps{
		pipeline: &fakePipeline{},
		motion:   &fakeMotion{},
		daynight: &fakeDayNight{},
		recorder: &fakeRecorder{},
	}
	srv := New(Config{
		Logger:        zerolog.Nop(),
		Pipeline:      deps.pipeline,
		Motion:        deps.motion,
		DayNight:      deps.daynight,
		Recorder:      deps.recorder,
		MutationLimit: 2,
	})
	h := srv.Routes()

	for i := 0; i < 2; i++ {
		rec, _ := doRequest(t, h, http.MethodPost, "/api/stream/start", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := doRequest(t, h, http.MethodPost, "/api/stream/start", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// read endpoints stay reachable while the limiter is saturated
	rec, _ = doRequest(t, h, http.MethodGet, "/api/stream/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
