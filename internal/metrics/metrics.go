// Package metrics is the Prometheus instrumentation shared by all three
// ratcam processes, grounded on the teacher's own promauto gauge idiom in
// cmd/driver/main.go. Only MAIN serves them over HTTP (internal/debugsrv);
// CAMERA and CHAT still register and update the same global collectors so
// a future multi-process scrape target (or a local /metrics mounted on
// each process) has real data to read, even though spec.md only names
// MAIN's debug endpoint as the scrape surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActivePlugins is set once at start-up to the number of plugin
	// instances declared in the topology.
	ActivePlugins = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratcam_active_plugins",
		Help: "Number of plugin definitions active in the topology.",
	})

	// MediaInFlight tracks media.Manager's owned-record count: how many
	// delivered media items are still awaiting full consumption.
	MediaInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratcam_media_in_flight",
		Help: "Number of delivered media records not yet fully consumed.",
	})

	// RecorderActive is 1 while a recorder.DualBuffer has an active
	// recording in progress, 0 otherwise.
	RecorderActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratcam_recorder_active",
		Help: "1 while a motion clip recording is in progress.",
	})

	// MotionAccumulatorPeak is the highest single-cell accumulator value
	// observed by the most recent Feed call, a proxy for how close the
	// field is running to the trigger threshold.
	MotionAccumulatorPeak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratcam_motion_accumulator_peak",
		Help: "Peak cell value of the motion accumulator field as of the last frame.",
	})

	// ChatAuthOutcomes counts chatauth.TryAuth results by outcome label
	// (ok, wrong_token, too_many_retries, expired).
	ChatAuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratcam_chat_auth_outcomes_total",
		Help: "Count of chat authentication attempts by outcome.",
	}, []string{"outcome"})
)
