package sonar

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"echoloc-core/pkg/audio"
	"echoloc-core/pkg/config"
	"echoloc-core/pkg/dsp"
	"echoloc-core/pkg/errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine drives a single ping end to end: chirp playback, echo capture,
// correlation, quality scoring and distance conversion. It does not own
// session state; the session manager serializes access to it.
type Engine struct {
	logger    *logrus.Logger
	provider  audio.Provider
	chirpCfg  config.ChirpConfig
	engineCfg config.EngineConfig

	// reference is the precomputed outgoing chirp, shared across pings.
	reference []float64
}

// NewEngine creates a ranging engine. The reference chirp is synthesized once
// here; it is immutable for the engine's lifetime.
func NewEngine(logger *logrus.Logger, provider audio.Provider, chirpCfg config.ChirpConfig, engineCfg config.EngineConfig) (*Engine, error) {
	if err := engineCfg.Validate(); err != nil {
		return nil, err
	}

	reference, err := dsp.GenerateChirpAmplitude(chirpCfg, engineCfg.PeakAmplitude)
	if err != nil {
		return nil, err
	}

	return &Engine{
		logger:    logger,
		provider:  provider,
		chirpCfg:  chirpCfg,
		engineCfg: engineCfg,
		reference: reference,
	}, nil
}

// Reference returns the outgoing chirp waveform. Callers must not mutate it.
func (e *Engine) Reference() []float64 {
	return e.reference
}

// WindowFor computes the echo recording window for a requested range: the
// round trip at the speed of sound, hard-capped to bound latency and memory.
func (e *Engine) WindowFor(maxRangeMeters float64) time.Duration {
	if maxRangeMeters <= 0 {
		maxRangeMeters = e.chirpCfg.MaxRangeMeters
	}

	window := time.Duration(maxRangeMeters * 2 / e.engineCfg.SpeedOfSound * float64(time.Second))
	if window > e.engineCfg.MaxWindow {
		window = e.engineCfg.MaxWindow
	}
	return window
}

// PerformPing emits one chirp along the given direction and estimates the
// distance to the nearest reflecting surface.
//
// An empty echo window yields the defined no-signal result rather than an
// error: absence of echo is an expected sensing outcome. Only hardware and
// cancellation failures are errors.
func (e *Engine) PerformPing(ctx context.Context, direction Direction, maxRangeMeters float64) (*PingResult, error) {
	started := time.Now()

	window := e.WindowFor(maxRangeMeters)
	numSamples := int(window.Seconds() * float64(e.chirpCfg.SampleRateHz))

	// Playback is scheduled, not awaited, so the capture window opens while
	// the chirp is still in flight.
	if err := e.provider.Play(ctx, e.reference); err != nil {
		return nil, e.classifyProviderError(err)
	}

	echo, err := e.provider.Capture(ctx, numSamples)
	if err != nil {
		return nil, e.classifyProviderError(err)
	}

	result := e.analyze(direction, echo, started)

	e.logger.WithFields(logrus.Fields{
		"ping_id":            result.ID,
		"distance_meters":    result.DistanceMeters,
		"confidence":         result.Confidence,
		"tof_micros":         result.TimeOfFlightMicros,
		"processing_time_ms": result.ProcessingTimeMs,
	}).Debug("Ping completed")

	return result, nil
}

// analyze runs the CPU-bound half of a ping: correlation, quality estimation
// and distance conversion.
func (e *Engine) analyze(direction Direction, echo []float64, started time.Time) *PingResult {
	result := &PingResult{
		ID:        uuid.New().String(),
		Timestamp: started,
		Direction: direction.Normalized(),
	}

	if len(echo) == 0 || len(e.reference) == 0 {
		result.SignalQuality = dsp.NoSignalQuality()
		result.ProcessingTimeMs = float64(time.Since(started).Microseconds()) / 1000
		return result
	}

	corr := dsp.Correlate(e.reference, echo)

	tofMicros := float64(corr.PeakIndex) / float64(e.chirpCfg.SampleRateHz) * 1e6

	result.TimeOfFlightMicros = tofMicros
	result.DistanceMeters = tofMicros / 1e6 * e.engineCfg.SpeedOfSound / 2
	result.SignalQuality = dsp.EstimateQuality(corr, echo)
	result.Confidence = confidenceFrom(corr.PeakValue)
	result.ProcessingTimeMs = float64(time.Since(started).Microseconds()) / 1000

	return result
}

// confidenceFrom maps the normalized correlation peak onto [0,1]: a peak at
// or above 0.5 earns full confidence.
func confidenceFrom(peakValue float64) float64 {
	return math.Min(math.Max(peakValue*2, 0), 1)
}

// classifyProviderError maps provider failures onto the engine taxonomy:
// cancellations abort the ping, anything else is a hardware failure.
func (e *Engine) classifyProviderError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewPingAborted(err)
	}
	if stderrors.Is(err, errors.ErrHardwareUnavailable) {
		return err
	}
	return errors.NewHardwareUnavailable(err)
}
