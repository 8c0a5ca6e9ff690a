package audio

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"echoloc-core/pkg/errors"

	"github.com/sirupsen/logrus"
)

// SimulatedConfig configures the loopback provider: whatever is played comes
// back delayed, attenuated and with additive noise, emulating a reflecting
// surface at a fixed distance.
type SimulatedConfig struct {
	// EchoDelaySamples is the round-trip delay of the simulated surface.
	EchoDelaySamples int

	// EchoAttenuation scales the returned echo (0 disables the echo).
	EchoAttenuation float64

	// NoiseLevel is the peak amplitude of uniform background noise.
	NoiseLevel float64

	// Seed makes the noise deterministic for golden tests.
	Seed int64

	// CaptureDelay simulates the real-time cost of filling the capture
	// window. Zero returns immediately; tests exercising cancellation set
	// this high and cancel mid-capture.
	CaptureDelay time.Duration

	// FailAcquire makes Acquire fail, emulating a device held by another
	// process.
	FailAcquire bool
}

// DefaultSimulatedConfig returns a surface at ~0.5 m: 127 samples at
// 44.1 kHz is a 2.88 ms round trip.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		EchoDelaySamples: 127,
		EchoAttenuation:  0.3,
		NoiseLevel:       0.002,
		Seed:             1,
	}
}

// SimulatedProvider is a deterministic in-memory Provider used by tests and
// the demo daemon.
type SimulatedProvider struct {
	logger *logrus.Logger
	config SimulatedConfig

	mu         sync.Mutex
	acquired   bool
	lastPlayed []float64
	rng        *rand.Rand
}

// NewSimulatedProvider creates a simulated audio provider.
func NewSimulatedProvider(logger *logrus.Logger, config SimulatedConfig) *SimulatedProvider {
	return &SimulatedProvider{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Capabilities implements Provider.
func (p *SimulatedProvider) Capabilities() (Capabilities, error) {
	return Capabilities{
		SupportsUltrasonic:       true,
		HardwareEchoCancellation: false,
		HardwareNoiseSuppression: false,
		MinSampleRateHz:          8000,
		MaxSampleRateHz:          48000,
		SupportedFormats:         []string{"f32le", "s16le"},
		RoundTripLatencyMs:       20,
	}, nil
}

// Available implements Provider.
func (p *SimulatedProvider) Available() bool {
	return !p.config.FailAcquire
}

// Acquire implements Provider.
func (p *SimulatedProvider) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.config.FailAcquire {
		return errors.NewHardwareUnavailable(nil, map[string]interface{}{
			"provider": "simulated",
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.acquired {
		p.acquired = true
		p.logger.Debug("Simulated audio provider acquired")
	}
	return nil
}

// Release implements Provider.
func (p *SimulatedProvider) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.acquired {
		p.acquired = false
		p.lastPlayed = nil
		p.logger.Debug("Simulated audio provider released")
	}
	return nil
}

// Play implements Provider. The buffer is retained so the next Capture can
// fold it back in as the echo.
func (p *SimulatedProvider) Play(ctx context.Context, samples []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.acquired {
		return errors.NewHardwareUnavailable(nil, map[string]interface{}{
			"provider": "simulated",
			"reason":   "not acquired",
		})
	}

	p.lastPlayed = make([]float64, len(samples))
	copy(p.lastPlayed, samples)
	return nil
}

// Capture implements Provider. Returns the simulated echo window; honors
// cancellation while the window fills.
func (p *SimulatedProvider) Capture(ctx context.Context, numSamples int) ([]float64, error) {
	if p.config.CaptureDelay > 0 {
		timer := time.NewTimer(p.config.CaptureDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.acquired {
		return nil, errors.NewHardwareUnavailable(nil, map[string]interface{}{
			"provider": "simulated",
			"reason":   "not acquired",
		})
	}

	buffer := make([]float64, numSamples)

	if p.config.NoiseLevel > 0 {
		for i := range buffer {
			buffer[i] = p.config.NoiseLevel * (p.rng.Float64()*2 - 1)
		}
	}

	if p.lastPlayed != nil && p.config.EchoAttenuation != 0 {
		for i, s := range p.lastPlayed {
			idx := p.config.EchoDelaySamples + i
			if idx >= numSamples {
				break
			}
			buffer[idx] += p.config.EchoAttenuation * s
		}
	}

	return buffer, nil
}
