package dsp

import (
	"math"

	"echoloc-core/pkg/config"
	"echoloc-core/pkg/errors"
)

// DefaultPeakAmplitude is the chirp peak as a fraction of full scale. Kept
// low so playback never clips or distorts at the speaker.
const DefaultPeakAmplitude = 0.1

// GenerateChirp synthesizes the outgoing probe waveform for the given
// configuration at the default peak amplitude. The function is pure and
// deterministic: identical configuration yields bit-identical output.
func GenerateChirp(cfg config.ChirpConfig) ([]float64, error) {
	return GenerateChirpAmplitude(cfg, DefaultPeakAmplitude)
}

// GenerateChirpAmplitude synthesizes a linear frequency sweep from
// FrequencyStartHz to FrequencyEndHz over DurationMs, shaped by a half-sine
// envelope peaking mid-chirp to avoid spectral leakage at the edges.
//
// The instantaneous phase of a linear sweep f(t) = f0 + (f1-f0)*t/T is
// phi(t) = 2*pi*(f0*t + (f1-f0)*t^2/(2*T)).
func GenerateChirpAmplitude(cfg config.ChirpConfig, peakAmplitude float64) ([]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if peakAmplitude <= 0 || peakAmplitude > 1 {
		return nil, errors.NewInvalidConfig("peak amplitude must be within (0,1]", map[string]interface{}{
			"peak_amplitude": peakAmplitude,
		})
	}

	numSamples := cfg.SampleCount()
	duration := float64(cfg.DurationMs) / 1000.0
	sweepRate := (cfg.FrequencyEndHz - cfg.FrequencyStartHz) / duration

	samples := make([]float64, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(cfg.SampleRateHz)

		phase := 2 * math.Pi * (cfg.FrequencyStartHz*t + sweepRate*t*t/2)

		// Half-sine envelope: zero at both edges, unity mid-chirp.
		envelope := math.Sin(math.Pi * float64(i) / float64(numSamples))

		samples[i] = peakAmplitude * envelope * math.Sin(phase)
	}

	return samples, nil
}
