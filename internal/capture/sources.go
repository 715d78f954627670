package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/models"
)

// AudioUnavailable is recorded as the audio signature when no fingerprint could be taken.
const AudioUnavailable = "unavailable"

// ImageSource captures a still image from the outward-facing camera
type ImageSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// LocationSource returns the current position or an error when none is available in time
type LocationSource interface {
	CurrentPosition(ctx context.Context) (models.Position, error)
}

// AudioSource records d of audio and returns a fingerprint of it
type AudioSource interface {
	Fingerprint(ctx context.Context, d time.Duration) (string, error)
}

// Pattern names an audible alert pattern
type Pattern string

const (
	PatternConfirming Pattern = "confirming"
	PatternCapture    Pattern = "capture"
)

// Alerter emits an audible alert. Implementations must not block.
type Alerter interface {
	Alert(p Pattern)
}

// Sources bundles the capture collaborators. Location, Audio and Alerter may be
// nil when the device lacks the capability.
type Sources struct {
	Image    ImageSource
	Location LocationSource
	Audio    AudioSource
	Alerter  Alerter
}

// Fingerprint derives a short audio signature from raw captured bytes
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:8])
}
