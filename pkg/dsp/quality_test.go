package dsp

import (
	"math/rand"
	"testing"

	"echoloc-core/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateQualityCleanEcho(t *testing.T) {
	chirp, err := GenerateChirp(config.DefaultChirpConfig())
	require.NoError(t, err)

	echo := delayAndScale(chirp, 200, 0.4, len(chirp)+1000)
	corr := Correlate(chirp, echo)

	quality := EstimateQuality(corr, echo)

	assert.InDelta(t, 1.0, quality.PeakCorrelation, 1e-6)
	assert.Greater(t, quality.EchoClarity, 0.5, "sharp peak over a quiet floor")
	assert.Equal(t, -quality.SignalToNoiseRatioDb, quality.NoiseLevelDb)
	assert.InDelta(t, 0.8, quality.FrequencyResponse, 1e-12)
	assert.Greater(t, quality.OverallQuality, 0.3)
	assert.LessOrEqual(t, quality.OverallQuality, 1.0)
}

func TestEstimateQualitySilentEcho(t *testing.T) {
	silence := make([]float64, 4096)
	corr := Correlate(silence, silence)

	quality := EstimateQuality(corr, silence)

	// 20*log10(epsilon) with epsilon=1e-3 is exactly -60 dB.
	assert.InDelta(t, -60.0, quality.SignalToNoiseRatioDb, 1e-9)
	assert.InDelta(t, 60.0, quality.NoiseLevelDb, 1e-9)
	assert.Equal(t, 0.0, quality.EchoClarity)
	assert.Equal(t, 0.0, quality.PeakCorrelation)
}

func TestEstimateQualityEmptyInputs(t *testing.T) {
	quality := EstimateQuality(Correlation{}, nil)

	assert.Equal(t, NoSignalQuality(), quality)
	assert.Equal(t, -60.0, quality.SignalToNoiseRatioDb)
	assert.Equal(t, 0.0, quality.EchoClarity)
	assert.Equal(t, 0.0, quality.OverallQuality)
}

// TestEstimateQualityBounds fuzzes randomized noise and delayed-chirp mixes
// and verifies every quality field stays within its documented range.
func TestEstimateQualityBounds(t *testing.T) {
	cfg := config.DefaultChirpConfig()
	cfg.DurationMs = 10 // keep the fuzz loop fast
	chirp, err := GenerateChirp(cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		total := len(chirp) + rng.Intn(2000)
		echo := make([]float64, total)

		// Random mix of a delayed, attenuated chirp and noise; sometimes
		// noise only, sometimes silence.
		if rng.Float64() > 0.2 {
			delay := rng.Intn(total)
			scale := rng.Float64()
			for j, s := range chirp {
				if delay+j < total {
					echo[delay+j] += scale * s
				}
			}
		}
		noiseLevel := rng.Float64() * 0.5
		if rng.Float64() > 0.1 {
			for j := range echo {
				echo[j] += noiseLevel * (rng.Float64()*2 - 1)
			}
		}

		corr := Correlate(chirp, echo)
		quality := EstimateQuality(corr, echo)

		require.GreaterOrEqual(t, quality.EchoClarity, 0.0, "case %d", i)
		require.LessOrEqual(t, quality.EchoClarity, 1.0, "case %d", i)
		require.GreaterOrEqual(t, quality.PeakCorrelation, 0.0, "case %d", i)
		require.LessOrEqual(t, quality.PeakCorrelation, 1.0, "case %d", i)
		require.GreaterOrEqual(t, quality.FrequencyResponse, 0.0, "case %d", i)
		require.LessOrEqual(t, quality.FrequencyResponse, 1.0, "case %d", i)
		require.GreaterOrEqual(t, quality.OverallQuality, 0.0, "case %d", i)
		require.LessOrEqual(t, quality.OverallQuality, 1.0, "case %d", i)
		require.Equal(t, -quality.SignalToNoiseRatioDb, quality.NoiseLevelDb, "case %d", i)
	}
}

func TestOverallQualityWeighting(t *testing.T) {
	// Full clarity at the -60 dB floor scores on clarity alone.
	assert.InDelta(t, 0.6, overallQuality(1.0, -60), 1e-9)

	// Zero clarity at 0 dB scores on SNR alone.
	assert.InDelta(t, 0.4, overallQuality(0.0, 0), 1e-9)

	// SNR outside the [-60,0] band clamps.
	assert.InDelta(t, 0.4, overallQuality(0.0, 20), 1e-9)
	assert.InDelta(t, 0.0, overallQuality(0.0, -80), 1e-9)
}
