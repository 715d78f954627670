package sensors

import (
	"errors"
	"sync"

	"Mansoor88-6/crash-sentinel-agent/internal/metrics"
	"Mansoor88-6/crash-sentinel-agent/internal/models"

	"go.uber.org/zap"
)

// ErrFeedStopped is returned when samples are published to a feed nobody is consuming
var ErrFeedStopped = errors.New("motion feed not running")

// MotionFeed receives motion batches from the sensor bridge and delivers them
// to the session in arrival order. A full channel drops samples instead of
// blocking the HTTP intake.
type MotionFeed struct {
	out     chan<- models.MotionSample
	running bool
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewMotionFeed creates a stopped feed
func NewMotionFeed(logger *zap.Logger) *MotionFeed {
	return &MotionFeed{logger: logger}
}

// Start begins delivering published samples to out
func (f *MotionFeed) Start(out chan<- models.MotionSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return errors.New("motion feed already started")
	}
	f.out = out
	f.running = true

	f.logger.Info("Motion feed started", zap.Int("buffer", cap(out)))
	return nil
}

// Stop ends delivery and closes the output channel
func (f *MotionFeed) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return nil
	}
	f.running = false
	close(f.out)
	f.out = nil

	f.logger.Info("Motion feed stopped")
	return nil
}

// Publish forwards a batch in order and returns how many samples were accepted
func (f *MotionFeed) Publish(events []models.MotionEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return 0, ErrFeedStopped
	}

	accepted := 0
	for _, e := range events {
		select {
		case f.out <- e.Sample():
			accepted++
		default:
			metrics.MotionSamplesDropped.Inc()
		}
	}
	metrics.MotionSamplesReceived.Add(float64(accepted))

	if dropped := len(events) - accepted; dropped > 0 {
		f.logger.Warn("Dropped motion samples, session not keeping up",
			zap.Int("dropped", dropped),
			zap.Int("accepted", accepted),
		)
	}
	return accepted, nil
}

// Running reports whether the feed has a consumer
func (f *MotionFeed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
