package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Correlation is the result of cross-correlating a reference chirp against a
// recorded echo buffer.
type Correlation struct {
	// PeakIndex is the lag (in samples) of the strongest correlation. Ties
	// resolve to the smallest lag: in echolocation the earliest strong
	// return is the physically meaningful one.
	PeakIndex int `json:"peak_index"`

	// PeakValue is the normalized correlation at PeakIndex, in [-1,1] for
	// well-formed inputs.
	PeakValue float64 `json:"peak_value"`

	// Curve is the full normalized correlation curve, one value per lag.
	Curve []float64 `json:"-"`
}

// Correlate computes the time-domain cross-correlation between a reference
// signal and a recorded buffer, normalized by the geometric mean of the two
// signal energies so an attenuated exact copy still correlates at 1.0.
//
// For lag i the raw value is sum over j of reference[j]*recorded[j+i] across
// the overlapping range. The peak is the maximum value (not absolute value).
// This is the O(n*m) direct form; an FFT-based implementation may replace it
// as long as peak lag and peak value are preserved within floating-point
// tolerance.
func Correlate(reference, recorded []float64) Correlation {
	if len(reference) == 0 || len(recorded) == 0 {
		return Correlation{Curve: []float64{}}
	}

	numLags := len(reference)
	if len(recorded) > numLags {
		numLags = len(recorded)
	}

	refEnergy := floats.Dot(reference, reference)
	recEnergy := floats.Dot(recorded, recorded)
	norm := math.Sqrt(refEnergy * recEnergy)
	if norm == 0 {
		return Correlation{Curve: make([]float64, numLags)}
	}

	curve := make([]float64, numLags)
	peakIndex := 0
	peakValue := math.Inf(-1)

	for lag := 0; lag < numLags; lag++ {
		overlap := len(recorded) - lag
		if overlap > len(reference) {
			overlap = len(reference)
		}
		if overlap > 0 {
			curve[lag] = floats.Dot(reference[:overlap], recorded[lag:lag+overlap]) / norm
		}

		// Strictly-greater keeps the first (smallest-lag) occurrence on ties.
		if curve[lag] > peakValue {
			peakValue = curve[lag]
			peakIndex = lag
		}
	}

	return Correlation{
		PeakIndex: peakIndex,
		PeakValue: peakValue,
		Curve:     curve,
	}
}
