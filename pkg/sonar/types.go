package sonar

import (
	"math"
	"time"

	"echoloc-core/pkg/dsp"
)

// Direction is the unit vector a ping was emitted along, in the device frame.
type Direction struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Forward is the default ping direction (straight out of the device).
var Forward = Direction{Z: 1}

// IsZero reports whether the direction carries no orientation.
func (d Direction) IsZero() bool {
	return d.X == 0 && d.Y == 0 && d.Z == 0
}

// Normalized returns the direction scaled to unit length. The zero direction
// normalizes to Forward.
func (d Direction) Normalized() Direction {
	length := math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
	if length == 0 {
		return Forward
	}
	return Direction{X: d.X / length, Y: d.Y / length, Z: d.Z / length}
}

// PingResult is the immutable outcome of a single ping. It crosses the engine
// boundary as plain structured data.
type PingResult struct {
	// ID uniquely identifies the ping.
	ID string `json:"id"`

	// Timestamp is the wall-clock time the ping started.
	Timestamp time.Time `json:"timestamp"`

	// Direction is the unit vector the ping was emitted along.
	Direction Direction `json:"direction"`

	// DistanceMeters is the estimated distance to the nearest reflecting
	// surface. Zero with zero confidence means no echo was detected.
	DistanceMeters float64 `json:"distance_meters"`

	// Confidence expresses trust in the estimate, in [0,1].
	Confidence float64 `json:"confidence"`

	// TimeOfFlightMicros is the round-trip delay of the detected echo.
	TimeOfFlightMicros float64 `json:"time_of_flight_micros"`

	// SignalQuality carries the per-ping diagnostics.
	SignalQuality dsp.SignalQuality `json:"signal_quality"`

	// ProcessingTimeMs is the start-to-finish wall-clock cost of the ping.
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}
