// Package metrics provides Prometheus metrics for the capture orchestration
// core. Labels are kept low-cardinality: component names, trigger sources and
// exit reasons only, never session IDs or file paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcStartTotal counts external process starts by component and result.
	ProcStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nestcam_proc_start_total",
		Help: "Total number of external process starts, by component and result.",
	}, []string{"component", "result"})

	// ProcExitTotal counts external process exits by component and reason.
	ProcExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nestcam_proc_exit_total",
		Help: "Total number of external process exits, by component and reason.",
	}, []string{"component", "reason"})

	// ProcTerminateTotal counts signals sent during termination escalation.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nestcam_proc_terminate_total",
		Help: "Total number of termination signals sent, by signal and outcome.",
	}, []string{"signal", "outcome"})

	// MotionTriggerTotal counts motion trigger events by source and result
	// (recorded, cooldown, busy).
	MotionTriggerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nestcam_motion_trigger_total",
		Help: "Total number of motion trigger events, by source and result.",
	}, []string{"source", "result"})

	// RecordingTotal counts finished recordings by origin and outcome.
	RecordingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nestcam_recording_total",
		Help: "Total number of finished recordings, by origin and outcome.",
	}, []string{"origin", "outcome"})

	// ModeSwitchTotal counts day/night mode transitions by target mode.
	ModeSwitchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nestcam_daynight_switch_total",
		Help: "Total number of day/night mode transitions, by target mode.",
	}, []string{"mode"})

	// Brightness tracks the last measured ambient brightness (0-100).
	Brightness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nestcam_daynight_brightness",
		Help: "Last measured ambient brightness on a 0-100 scale.",
	})

	// PipelineRunning reports pipeline liveness by process role (ingest, hls).
	PipelineRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nestcam_pipeline_running",
		Help: "Whether a pipeline process is currently considered running, by role.",
	}, []string{"role"})

	// GuardHeld reports whether the recording guard is currently held.
	GuardHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nestcam_recording_guard_held",
		Help: "Whether the system-wide recording guard is currently held.",
	})
)

// IncProcTerminate records a termination signal outcome.
func IncProcTerminate(signal, outcome string) {
	ProcTerminateTotal.WithLabelValues(signal, outcome).Inc()
}
