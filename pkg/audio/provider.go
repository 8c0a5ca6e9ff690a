package audio

import "context"

// Capabilities is a read-only snapshot of what the local audio hardware
// supports, queried once per session initialization.
type Capabilities struct {
	// SupportsUltrasonic reports whether the device chain can emit and
	// capture near-ultrasonic frequencies (18 kHz and above).
	SupportsUltrasonic bool `json:"supports_ultrasonic"`

	// HardwareEchoCancellation reports whether the device applies echo
	// cancellation in hardware. When set, it must be disabled for ranging:
	// the echo is the signal.
	HardwareEchoCancellation bool `json:"hardware_echo_cancellation"`

	// HardwareNoiseSuppression reports hardware noise suppression.
	HardwareNoiseSuppression bool `json:"hardware_noise_suppression"`

	// MinSampleRateHz and MaxSampleRateHz bound the supported rates.
	MinSampleRateHz int `json:"min_sample_rate_hz"`
	MaxSampleRateHz int `json:"max_sample_rate_hz"`

	// SupportedFormats lists the sample formats the device accepts.
	SupportedFormats []string `json:"supported_formats"`

	// RoundTripLatencyMs is the estimated playback-to-capture latency.
	RoundTripLatencyMs float64 `json:"round_trip_latency_ms"`
}

// SupportsSampleRate reports whether the device accepts the given rate.
func (c Capabilities) SupportsSampleRate(rateHz int) bool {
	return rateHz >= c.MinSampleRateHz && rateHz <= c.MaxSampleRateHz
}

// Provider is the capability boundary to the platform audio stack. Platform
// adapters (one per OS) implement only this interface; everything above it is
// portable. The active session owns the provider exclusively: no concurrent
// access from other components.
type Provider interface {
	// Capabilities returns the hardware capability snapshot.
	Capabilities() (Capabilities, error)

	// Available reports whether both an input and an output device are
	// present.
	Available() bool

	// Acquire readies the device chain for playback and capture. Idempotent.
	Acquire(ctx context.Context) error

	// Release frees the device chain. Idempotent; safe after a failed
	// Acquire.
	Release() error

	// Play starts playback of the sample buffer. It schedules playback and
	// returns without waiting for completion, so capture can start
	// immediately.
	Play(ctx context.Context, samples []float64) error

	// Capture blocks until numSamples samples are recorded or ctx is
	// canceled, in which case the partial buffer is discarded and ctx.Err
	// returned.
	Capture(ctx context.Context, numSamples int) ([]float64, error)
}
