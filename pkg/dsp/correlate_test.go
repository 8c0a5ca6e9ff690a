package dsp

import (
	"math/rand"
	"testing"

	"echoloc-core/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelateSelfPeaksAtZeroLag(t *testing.T) {
	chirp, err := GenerateChirp(config.DefaultChirpConfig())
	require.NoError(t, err)

	corr := Correlate(chirp, chirp)

	assert.Equal(t, 0, corr.PeakIndex)
	assert.InDelta(t, 1.0, corr.PeakValue, 1e-9)

	// No other lag beats the aligned one.
	for lag, v := range corr.Curve {
		require.LessOrEqual(t, v, corr.PeakValue+1e-12, "lag %d", lag)
	}
}

func TestCorrelateRecoversDelay(t *testing.T) {
	chirp, err := GenerateChirp(config.DefaultChirpConfig())
	require.NoError(t, err)

	for _, delay := range []int{1, 42, 127, 1000} {
		recorded := delayAndScale(chirp, delay, 0.3, len(chirp)+2000)

		corr := Correlate(chirp, recorded)
		assert.Equal(t, delay, corr.PeakIndex, "delay %d", delay)

		// An attenuated exact copy still correlates at ~1 thanks to the
		// energy normalization.
		assert.InDelta(t, 1.0, corr.PeakValue, 1e-6, "delay %d", delay)
	}
}

func TestCorrelateTieBreaksOnEarliestLag(t *testing.T) {
	// Two identical echoes: the earlier return must win.
	chirp, err := GenerateChirp(config.DefaultChirpConfig())
	require.NoError(t, err)

	recorded := make([]float64, len(chirp)+3000)
	for i, s := range chirp {
		recorded[i+100] += s
		recorded[i+2100] += s
	}

	corr := Correlate(chirp, recorded)
	assert.Equal(t, 100, corr.PeakIndex)
}

func TestCorrelateEmptyInputs(t *testing.T) {
	corr := Correlate(nil, []float64{1, 2, 3})
	assert.Equal(t, 0, corr.PeakIndex)
	assert.Equal(t, 0.0, corr.PeakValue)
	assert.Empty(t, corr.Curve)

	corr = Correlate([]float64{1, 2, 3}, nil)
	assert.Empty(t, corr.Curve)
}

func TestCorrelateSilentBuffers(t *testing.T) {
	silence := make([]float64, 512)

	corr := Correlate(silence, silence)
	assert.Equal(t, 0, corr.PeakIndex)
	assert.Equal(t, 0.0, corr.PeakValue)
	assert.Len(t, corr.Curve, 512)
}

func TestCorrelateCurveLength(t *testing.T) {
	ref := []float64{1, -1, 1}
	rec := make([]float64, 10)
	rec[4] = 1

	corr := Correlate(ref, rec)
	assert.Len(t, corr.Curve, 10)

	corr = Correlate(rec, ref)
	assert.Len(t, corr.Curve, 10)
}

func TestCorrelatePrefersPositivePeak(t *testing.T) {
	// A phase-inverted echo correlates strongly negative; the peak must be
	// the maximum value, not the maximum magnitude.
	chirp, err := GenerateChirp(config.DefaultChirpConfig())
	require.NoError(t, err)

	recorded := make([]float64, len(chirp)+500)
	for i, s := range chirp {
		recorded[i+50] -= s // inverted strong echo
	}

	corr := Correlate(chirp, recorded)
	assert.InDelta(t, -1.0, corr.Curve[50], 1e-6)
	assert.NotEqual(t, 50, corr.PeakIndex)
	assert.GreaterOrEqual(t, corr.PeakValue, 0.0)
}

func TestCorrelateNoiseRobustness(t *testing.T) {
	chirp, err := GenerateChirp(config.DefaultChirpConfig())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	recorded := delayAndScale(chirp, 250, 0.5, len(chirp)+1000)
	for i := range recorded {
		recorded[i] += 0.005 * rng.NormFloat64()
	}

	corr := Correlate(chirp, recorded)
	assert.Equal(t, 250, corr.PeakIndex)
	assert.Greater(t, corr.PeakValue, 0.5)
}

// delayAndScale builds a synthetic echo buffer of the given total length with
// the reference delayed by delay samples and scaled.
func delayAndScale(reference []float64, delay int, scale float64, total int) []float64 {
	out := make([]float64, total)
	for i, s := range reference {
		if delay+i < total {
			out[delay+i] = scale * s
		}
	}
	return out
}

func BenchmarkCorrelate(b *testing.B) {
	cfg := config.DefaultChirpConfig()
	cfg.DurationMs = 20
	chirp, err := GenerateChirp(cfg)
	if err != nil {
		b.Fatal(err)
	}
	recorded := delayAndScale(chirp, 300, 0.4, len(chirp)+4410)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Correlate(chirp, recorded)
	}
}
