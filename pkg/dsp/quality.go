package dsp

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// epsilon keeps the quality formulas defined for silent or empty buffers.
const epsilon = 1e-3

// placeholderFrequencyResponse is a fixed value: a real frequency-domain
// measurement is an extension point, not implemented here. Range [0,1].
const placeholderFrequencyResponse = 0.8

// SignalQuality captures the per-ping signal diagnostics. All fields are
// derived values with no independent lifecycle.
type SignalQuality struct {
	// PeakCorrelation is the normalized correlation peak in [0,1].
	PeakCorrelation float64 `json:"peak_correlation"`

	// SignalToNoiseRatioDb is the echo energy expressed in dB.
	SignalToNoiseRatioDb float64 `json:"signal_to_noise_ratio_db"`

	// EchoClarity is the ratio of the correlation peak to the average
	// correlation noise floor, clamped to [0,1].
	EchoClarity float64 `json:"echo_clarity"`

	// NoiseLevelDb is the inverse of the SNR estimate.
	NoiseLevelDb float64 `json:"noise_level_db"`

	// FrequencyResponse is a placeholder constant in [0,1]; see
	// placeholderFrequencyResponse.
	FrequencyResponse float64 `json:"frequency_response"`

	// OverallQuality is a weighted combination of clarity and normalized
	// SNR, in [0,1]. Consumed by the measurement aggregator.
	OverallQuality float64 `json:"overall_quality"`
}

// NoSignalQuality is the defined quality for an empty echo window: absence of
// echo is an expected sensing outcome, not an error.
func NoSignalQuality() SignalQuality {
	return SignalQuality{
		SignalToNoiseRatioDb: -60,
		NoiseLevelDb:         60,
	}
}

// EstimateQuality derives the signal diagnostics from a correlation result
// and the raw echo samples. Pure function of its inputs.
func EstimateQuality(corr Correlation, echo []float64) SignalQuality {
	if len(echo) == 0 || len(corr.Curve) == 0 {
		return NoSignalQuality()
	}

	// Mean squared echo amplitude, in dB. The epsilon floor puts a silent
	// buffer at exactly -60 dB.
	squared := make([]float64, len(echo))
	for i, s := range echo {
		squared[i] = s * s
	}
	snrDb := 20 * math.Log10(stat.Mean(squared, nil)+epsilon)

	absCurve := make([]float64, len(corr.Curve))
	for i, c := range corr.Curve {
		absCurve[i] = math.Abs(c)
	}
	clarity := math.Min(corr.PeakValue/(stat.Mean(absCurve, nil)+epsilon), 1.0)
	if clarity < 0 {
		clarity = 0
	}

	peak := math.Min(math.Max(corr.PeakValue, 0), 1)

	return SignalQuality{
		PeakCorrelation:      peak,
		SignalToNoiseRatioDb: snrDb,
		EchoClarity:          clarity,
		NoiseLevelDb:         -snrDb,
		FrequencyResponse:    placeholderFrequencyResponse,
		OverallQuality:       overallQuality(clarity, snrDb),
	}
}

// overallQuality folds clarity and SNR into one score. SNR is normalized from
// the [-60,0] dB band onto [0,1]; clarity dominates the mix because peak
// sharpness is the better predictor of a trustworthy range estimate.
func overallQuality(clarity, snrDb float64) float64 {
	normalizedSNR := (snrDb + 60) / 60
	if normalizedSNR < 0 {
		normalizedSNR = 0
	}
	if normalizedSNR > 1 {
		normalizedSNR = 1
	}
	return 0.6*clarity + 0.4*normalizedSNR
}
