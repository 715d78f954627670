// Package detector implements the three-gate crash trigger evaluated on every
// new motion sample: sustained high-G magnitude, minimum window population and
// a rotational discontinuity between the window endpoints.
package detector

import (
	"math"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/buffer"
	"Mansoor88-6/crash-sentinel-agent/internal/models"
)

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

// Reason explains the outcome of an evaluation
type Reason string

const (
	ReasonCrash            Reason = "crash"
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonLowMagnitude     Reason = "low_magnitude"
	ReasonLowRotation      Reason = "low_rotation"
)

// Config holds the trigger profile
type Config struct {
	SustainedWindow   time.Duration
	HighGThreshold    float64 // g; a sample qualifies when strictly above
	MinHighGSamples   int     // inclusive
	MinWindowSamples  int     // inclusive
	RotationThreshold float64 // max |last-first| angular rate must be strictly above
}

// DefaultConfig returns the reference trigger profile
func DefaultConfig() Config {
	return Config{
		SustainedWindow:   100 * time.Millisecond,
		HighGThreshold:    4.0,
		MinHighGSamples:   3,
		MinWindowSamples:  5,
		RotationThreshold: 90,
	}
}

// Result describes a single evaluation
type Result struct {
	Crash         bool
	Reason        Reason
	WindowSamples int
	HighGSamples  int
	PeakG         float64
	RotationDelta float64
}

// Detector evaluates a sample buffer against the trigger profile.
// It keeps no state between evaluations.
type Detector struct {
	cfg Config
}

// New creates a detector with the given profile
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the active trigger profile
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect reports whether the buffer's most recent window looks like a crash
func (d *Detector) Detect(b *buffer.SampleBuffer) bool {
	return d.Evaluate(b).Crash
}

// Evaluate runs all gates against the window ending at the most recent sample
func (d *Detector) Evaluate(b *buffer.SampleBuffer) Result {
	return d.EvaluateWindow(b.WindowSlice(d.cfg.SustainedWindow))
}

// EvaluateWindow runs all gates against an already selected window, oldest first
func (d *Detector) EvaluateWindow(window []models.MotionSample) Result {
	res := Result{WindowSamples: len(window)}

	threshold := d.cfg.HighGThreshold * StandardGravity
	var peak float64
	for _, s := range window {
		mag := Magnitude(s)
		if mag > peak {
			peak = mag
		}
		if mag > threshold {
			res.HighGSamples++
		}
	}
	res.PeakG = peak / StandardGravity

	if res.WindowSamples < d.cfg.MinWindowSamples {
		res.Reason = ReasonInsufficientData
		return res
	}
	if res.HighGSamples < d.cfg.MinHighGSamples {
		res.Reason = ReasonLowMagnitude
		return res
	}

	res.RotationDelta = RotationDelta(window)
	if res.RotationDelta <= d.cfg.RotationThreshold {
		res.Reason = ReasonLowRotation
		return res
	}

	res.Crash = true
	res.Reason = ReasonCrash
	return res
}

// Magnitude returns the Euclidean norm of the sample's linear acceleration in m/s²
func Magnitude(s models.MotionSample) float64 {
	return math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
}

// RotationDelta returns the largest absolute change in any angular-rate axis
// between the first and last sample of the window. This compares endpoints
// and is not an integral of the rate.
func RotationDelta(window []models.MotionSample) float64 {
	if len(window) < 2 {
		return 0
	}
	first, last := window[0], window[len(window)-1]
	return max(
		math.Abs(last.RotAlpha-first.RotAlpha),
		math.Abs(last.RotBeta-first.RotBeta),
		math.Abs(last.RotGamma-first.RotGamma),
	)
}
