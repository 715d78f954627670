package sensors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/models"

	"go.uber.org/zap"
)

var (
	ErrNoFix           = errors.New("no location fix available")
	ErrInvalidPosition = errors.New("invalid position")
)

type storedFix struct {
	position   models.Position
	receivedAt time.Time
}

// LocationStore keeps the last fix posted by the companion device. A fix is
// usable for ttl after it was received.
type LocationStore struct {
	mu        sync.RWMutex
	fix       *storedFix
	updated   chan struct{}
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	cleanupWg sync.WaitGroup
}

// NewLocationStore creates a store and starts its expiry loop
func NewLocationStore(ttl time.Duration, logger *zap.Logger) *LocationStore {
	store := &LocationStore{
		updated:  make(chan struct{}),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	store.cleanupWg.Add(1)
	go store.cleanupLoop()

	return store
}

// Update records a new fix and wakes any waiting CurrentPosition calls
func (s *LocationStore) Update(pos models.Position) error {
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lon < -180 || pos.Lon > 180 || pos.Accuracy < 0 {
		return fmt.Errorf("%w: lat=%f lon=%f accuracy=%f", ErrInvalidPosition, pos.Lat, pos.Lon, pos.Accuracy)
	}

	s.mu.Lock()
	s.fix = &storedFix{position: pos, receivedAt: s.now()}
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()

	s.logger.Debug("Stored location fix",
		zap.Float64("lat", pos.Lat),
		zap.Float64("lon", pos.Lon),
		zap.Float64("accuracy", pos.Accuracy),
	)
	return nil
}

// Latest returns the current fix if one exists and has not expired
func (s *LocationStore) Latest() (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok, _ := s.latestLocked()
	return pos, ok
}

// CurrentPosition returns a fresh fix, waiting for the next update until ctx ends
func (s *LocationStore) CurrentPosition(ctx context.Context) (models.Position, error) {
	for {
		s.mu.RLock()
		pos, ok, updated := s.latestLocked()
		s.mu.RUnlock()
		if ok {
			return pos, nil
		}

		select {
		case <-updated:
		case <-ctx.Done():
			return models.Position{}, fmt.Errorf("%w: %w", ErrNoFix, ctx.Err())
		case <-s.stopChan:
			return models.Position{}, ErrNoFix
		}
	}
}

// latestLocked must be called with s.mu held
func (s *LocationStore) latestLocked() (models.Position, bool, <-chan struct{}) {
	if s.fix == nil || s.now().Sub(s.fix.receivedAt) > s.ttl {
		return models.Position{}, false, s.updated
	}
	return s.fix.position, true, s.updated
}

func (s *LocationStore) cleanupLoop() {
	defer s.cleanupWg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *LocationStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fix != nil && s.now().Sub(s.fix.receivedAt) > s.ttl {
		s.fix = nil
		s.logger.Debug("Expired stale location fix")
	}
}

// Stop stops the expiry loop and releases waiters
func (s *LocationStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cleanupWg.Wait()
		s.logger.Info("Location store stopped")
	})
}
