package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/motion"
	"github.com/fbirkner/nestcam/internal/record"
	"github.com/fbirkner/nestcam/internal/timelapse"
)

// --- stream ---

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Start(r.Context()); err != nil {
		s.respondErr(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respondOK(w, envelope{"status": s.pipeline.Status()})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Stop(r.Context()); err != nil {
		s.respondErr(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respondOK(w, envelope{"status": s.pipeline.Status()})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	s.respondOK(w, envelope{"status": s.pipeline.Status()})
}

func (s *Server) handleRestartIngest(w http.ResponseWriter, r *http.Request) {
	restarted := s.pipeline.RestartIngest(r.Context())
	s.respondOK(w, envelope{"restarted": restarted, "status": s.pipeline.Status()})
}

// --- motion ---

func (s *Server) handleMotionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.motion.Start(r.Context()); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, motion.ErrNoTriggerEnabled):
			code = http.StatusConflict
		case errors.Is(err, motion.ErrAlreadyRunning):
			code = http.StatusConflict
		}
		s.respondErr(w, r, code, err)
		return
	}
	s.respondOK(w, envelope{"status": s.motion.Status()})
}

func (s *Server) handleMotionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.motion.Stop(r.Context()); err != nil {
		s.respondErr(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respondOK(w, envelope{"status": s.motion.Status()})
}

func (s *Server) handleMotionStatus(w http.ResponseWriter, r *http.Request) {
	s.respondOK(w, envelope{"status": s.motion.Status()})
}

// --- day/night ---

func (s *Server) handleDayNightStatus(w http.ResponseWriter, r *http.Request) {
	s.respondOK(w, envelope{"status": s.daynight.Status()})
}

func (s *Server) handleDayNightSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		s.respondErr(w, r, http.StatusBadRequest, fmt.Errorf("mode is required"))
		return
	}
	if err := s.daynight.SetMode(daynight.Mode(req.Mode)); err != nil {
		s.respondErr(w, r, http.StatusBadRequest, err)
		return
	}
	s.respondOK(w, envelope{"status": s.daynight.Status()})
}

func (s *Server) handleDayNightCheck(w http.ResponseWriter, r *http.Request) {
	changed := s.daynight.CheckAndUpdate(r.Context())
	s.respondOK(w, envelope{"changed": changed, "status": s.daynight.Status()})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		// Pointer so an explicit zero threshold is distinguishable from an
		// absent field.
		Threshold *float64 `json:"threshold"`
		IntervalS int      `json:"interval_s"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, r, http.StatusBadRequest, err)
		return
	}
	threshold := 30.0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if req.IntervalS <= 0 {
		req.IntervalS = 60
	}
	s.daynight.StartMonitoring(r.Context(), threshold, time.Duration(req.IntervalS)*time.Second)
	s.respondOK(w, envelope{"status": s.daynight.Status()})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	s.daynight.StopMonitoring()
	s.respondOK(w, envelope{"status": s.daynight.Status()})
}

// --- manual recording ---

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.recorder.Start(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, record.ErrInProgress):
			code = http.StatusConflict
		case errors.Is(err, record.ErrGuardBusy):
			code = http.StatusConflict
		}
		s.respondErr(w, r, code, err)
		return
	}
	s.respondOK(w, envelope{"status": st})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.recorder.Stop(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, record.ErrNotRecording) {
			code = http.StatusConflict
		}
		s.respondErr(w, r, code, err)
		return
	}
	s.respondOK(w, envelope{"result": res})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	s.respondOK(w, envelope{"status": s.recorder.Status()})
}

// --- snapshot / timelapse ---

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.respondErr(w, r, http.StatusNotImplemented, fmt.Errorf("snapshot capture is not configured"))
		return
	}
	photo, err := s.snapshots.Capture(r.Context())
	if err != nil {
		s.respondErr(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respondOK(w, envelope{
		"id":         photo.ID,
		"path":       photo.Path,
		"created_at": photo.CreatedAt,
	})
}

func (s *Server) handleTimelapse(w http.ResponseWriter, r *http.Request) {
	if s.timelapses == nil {
		s.respondErr(w, r, http.StatusNotImplemented, fmt.Errorf("timelapse assembly is not configured"))
		return
	}
	var req struct {
		From time.Time `json:"from"`
		To   time.Time `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, r, http.StatusBadRequest, err)
		return
	}
	if req.From.IsZero() || req.To.IsZero() {
		s.respondErr(w, r, http.StatusBadRequest, fmt.Errorf("from and to are required"))
		return
	}
	clip, err := s.timelapses.Build(r.Context(), req.From, req.To)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, timelapse.ErrNotEnoughFrames) {
			code = http.StatusUnprocessableEntity
		}
		s.respondErr(w, r, code, err)
		return
	}
	s.respondOK(w, envelope{
		"id":   clip.ID,
		"path": clip.Path,
		"fps":  clip.FPS,
	})
}
