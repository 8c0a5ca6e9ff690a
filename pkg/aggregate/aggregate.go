// Package aggregate folds rolling windows of same-direction pings into single
// measurements with a reliability verdict.
package aggregate

import (
	"sync"
	"time"

	"echoloc-core/pkg/config"
	"echoloc-core/pkg/metrics"
	"echoloc-core/pkg/sonar"

	"gonum.org/v1/gonum/stat"
)

// AggregatedMeasurement is the statistical summary of a window of pings.
type AggregatedMeasurement struct {
	// Timestamp is the wall-clock time the aggregation was computed.
	Timestamp time.Time `json:"timestamp"`

	// Direction all contributing pings share.
	Direction sonar.Direction `json:"direction"`

	// DistanceMeters is the mean of contributing distances.
	DistanceMeters float64 `json:"distance_meters"`

	// StandardDeviation is the sample standard deviation of distances.
	StandardDeviation float64 `json:"standard_deviation"`

	// Confidence is the mean of ping confidences.
	Confidence float64 `json:"confidence"`

	// Quality is the mean of the per-ping overall quality scores.
	Quality float64 `json:"quality"`

	// SampleCount is the number of pings contributing to the measurement.
	SampleCount int `json:"sample_count"`

	// ContributingPings identifies the pings behind the measurement.
	ContributingPings []string `json:"contributing_pings"`

	// IsReliable is the threshold verdict over count, spread and confidence.
	IsReliable bool `json:"is_reliable"`

	// EstimatedAccuracy is a conservative error bound in meters.
	EstimatedAccuracy float64 `json:"estimated_accuracy_meters"`
}

// Aggregate computes the measurement for a window of pings. The caller is
// responsible for the window contents (same direction, bounded size); a
// Window handles both. An empty window yields a zero measurement that is
// never reliable.
func Aggregate(pings []*sonar.PingResult, cfg config.AggregationConfig) AggregatedMeasurement {
	m := AggregatedMeasurement{
		Timestamp:   time.Now(),
		SampleCount: len(pings),
	}
	if len(pings) == 0 {
		return m
	}

	distances := make([]float64, len(pings))
	confidences := make([]float64, len(pings))
	qualities := make([]float64, len(pings))
	m.ContributingPings = make([]string, len(pings))

	for i, p := range pings {
		distances[i] = p.DistanceMeters
		confidences[i] = p.Confidence
		qualities[i] = p.SignalQuality.OverallQuality
		m.ContributingPings[i] = p.ID
	}

	m.Direction = pings[0].Direction
	m.DistanceMeters = stat.Mean(distances, nil)
	m.Confidence = stat.Mean(confidences, nil)
	m.Quality = stat.Mean(qualities, nil)

	if len(pings) > 1 {
		m.StandardDeviation = stat.StdDev(distances, nil)
	}

	m.IsReliable = m.SampleCount >= cfg.MinSamples &&
		m.StandardDeviation <= cfg.MaxStdDevMeters &&
		m.Confidence >= cfg.MinConfidence

	m.EstimatedAccuracy = m.StandardDeviation + (1-m.Confidence)*cfg.AccuracyMarginMeters

	metrics.RecordAggregation(m.IsReliable)

	return m
}

// Window maintains a bounded rolling window of same-direction pings. A ping
// along a different direction resets the window: mixing directions would
// average distances to different surfaces.
type Window struct {
	cfg config.AggregationConfig

	mu        sync.Mutex
	direction sonar.Direction
	pings     []*sonar.PingResult
}

// NewWindow creates a rolling window with the configured size.
func NewWindow(cfg config.AggregationConfig) *Window {
	return &Window{
		cfg:   cfg,
		pings: make([]*sonar.PingResult, 0, cfg.WindowSize),
	}
}

// Add appends a ping to the window and returns the updated measurement.
func (w *Window) Add(ping *sonar.PingResult) AggregatedMeasurement {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pings) > 0 && ping.Direction != w.direction {
		w.pings = w.pings[:0]
	}
	w.direction = ping.Direction

	w.pings = append(w.pings, ping)
	if len(w.pings) > w.cfg.WindowSize {
		w.pings = w.pings[1:]
	}

	return Aggregate(w.pings, w.cfg)
}

// Len returns the number of pings currently in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pings)
}

// Reset empties the window, typically on session stop.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pings = w.pings[:0]
}
