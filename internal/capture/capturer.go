// Package capture assembles the evidence bundle for a confirmed crash: an
// audible alert, a short grace delay, then image, position and an audio
// fingerprint acquired concurrently.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/metrics"
	"Mansoor88-6/crash-sentinel-agent/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TimestampLayout is the ISO-8601 form used for packet timestamps
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrImageCapture is returned when the photo could not be taken. It is the only
// failure that aborts a capture.
var ErrImageCapture = errors.New("image capture failed")

// Config holds capture timing
type Config struct {
	GraceDelay      time.Duration
	ImageTimeout    time.Duration
	LocationTimeout time.Duration

	// AudioDuration is the recording length. AudioTimeout bounds the whole
	// audio acquisition, recorder start-up included.
	AudioDuration time.Duration
	AudioTimeout  time.Duration
}

// DefaultConfig returns the reference capture timing
func DefaultConfig() Config {
	return Config{
		GraceDelay:      time.Second,
		ImageTimeout:    10 * time.Second,
		LocationTimeout: 5 * time.Second,
		AudioDuration:   100 * time.Millisecond,
		AudioTimeout:    time.Second,
	}
}

// Capturer produces unsealed trust packets
type Capturer struct {
	sources    Sources
	cfg        Config
	agentInfo  string
	deviceInfo string
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCapturer creates a new evidence capturer
func NewCapturer(sources Sources, cfg Config, agentInfo, deviceInfo string, logger *zap.Logger) *Capturer {
	return &Capturer{
		sources:    sources,
		cfg:        cfg,
		agentInfo:  agentInfo,
		deviceInfo: deviceInfo,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Capture runs the full acquisition sequence and returns an unsealed packet.
// Only an image failure is returned as an error; position and audio failures
// degrade to null and AudioUnavailable respectively.
func (c *Capturer) Capture(ctx context.Context) (*models.TrustPacket, error) {
	start := c.now()
	if c.sources.Alerter != nil {
		c.sources.Alerter.Alert(PatternCapture)
	}

	if err := c.sleep(ctx, c.cfg.GraceDelay); err != nil {
		metrics.Captures.WithLabelValues("aborted").Inc()
		return nil, fmt.Errorf("capture interrupted during grace delay: %w", err)
	}

	var (
		mu       sync.Mutex
		photo    []byte
		location models.Location
		audioSig = AudioUnavailable
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := c.captureImage(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		photo = img
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		loc := c.captureLocation(gctx)
		mu.Lock()
		location = loc
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		sig := c.captureAudio(gctx)
		mu.Lock()
		audioSig = sig
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.Captures.WithLabelValues("failed").Inc()
		c.logger.Error("Evidence capture failed", zap.Error(err))
		return nil, err
	}

	delay := c.now().Sub(start)
	ts := c.now().UTC()

	packet := &models.TrustPacket{
		EventID:   NewEventID(ts),
		Timestamp: ts.Format(TimestampLayout),
		Location:  location,
		Evidence: models.Evidence{
			Photo:          photo,
			AudioSignature: audioSig,
		},
		Metadata: models.Metadata{
			AgentInfo:      c.agentInfo,
			DeviceInfo:     c.deviceInfo,
			CaptureDelayMs: delay.Milliseconds(),
		},
	}

	metrics.Captures.WithLabelValues("success").Inc()
	metrics.CaptureDelay.Observe(delay.Seconds())
	c.logger.Info("Evidence captured",
		zap.String("event_id", packet.EventID),
		zap.Int("photo_bytes", len(photo)),
		zap.Bool("location_fix", location.HasFix()),
		zap.String("audio_signature", audioSig),
		zap.Duration("capture_delay", delay),
	)

	return packet, nil
}

func (c *Capturer) captureImage(ctx context.Context) ([]byte, error) {
	if c.sources.Image == nil {
		return nil, fmt.Errorf("%w: no camera available", ErrImageCapture)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ImageTimeout)
	defer cancel()

	img, err := c.sources.Image.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageCapture, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrImageCapture)
	}
	return img, nil
}

func (c *Capturer) captureLocation(ctx context.Context) models.Location {
	if c.sources.Location == nil {
		metrics.DegradedEvidence.WithLabelValues("location").Inc()
		c.logger.Warn("No location capability, recording null position")
		return models.Location{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.LocationTimeout)
	defer cancel()

	pos, err := c.sources.Location.CurrentPosition(ctx)
	if err != nil {
		metrics.DegradedEvidence.WithLabelValues("location").Inc()
		c.logger.Warn("Location unavailable, recording null position", zap.Error(err))
		return models.Location{}
	}
	return pos.Location()
}

func (c *Capturer) captureAudio(ctx context.Context) string {
	if c.sources.Audio == nil {
		metrics.DegradedEvidence.WithLabelValues("audio").Inc()
		c.logger.Warn("No audio capability, recording sentinel signature")
		return AudioUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AudioTimeout)
	defer cancel()

	sig, err := c.sources.Audio.Fingerprint(ctx, c.cfg.AudioDuration)
	if err != nil || sig == "" {
		metrics.DegradedEvidence.WithLabelValues("audio").Inc()
		c.logger.Warn("Audio fingerprint unavailable", zap.Error(err))
		return AudioUnavailable
	}
	return sig
}

// NewEventID returns an id with a millisecond time prefix and a random suffix
func NewEventID(ts time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("evt_%d_%s", ts.UnixMilli(), suffix)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
