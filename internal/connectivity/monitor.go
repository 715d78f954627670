// Package connectivity watches the dispatch channel and reports online/offline changes.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober checks whether the dispatch channel is reachable
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Monitor polls a Prober and calls onChange whenever reachability flips.
// The first probe always reports.
type Monitor struct {
	prober       Prober
	pollInterval time.Duration
	probeTimeout time.Duration
	onChange     func(online bool)
	logger       *zap.Logger

	mu       sync.RWMutex
	known    bool
	online   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a new connectivity monitor
func NewMonitor(prober Prober, pollInterval, probeTimeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		prober:       prober,
		pollInterval: pollInterval,
		probeTimeout: probeTimeout,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling
func (m *Monitor) Start(onChange func(online bool)) error {
	m.onChange = onChange

	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("Connectivity monitor started",
		zap.Duration("poll_interval", m.pollInterval),
	)
	return nil
}

// Stop stops polling and waits for an in-flight probe
func (m *Monitor) Stop() {
	m.mu.Lock()
	select {
	case <-m.stopChan:
		m.mu.Unlock()
		return
	default:
		close(m.stopChan)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Connectivity monitor stopped")
}

// Online returns the last observed reachability
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.check()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	// Abandon the probe if we are stopped while it runs
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := m.prober.HealthCheck(ctx)
	online := err == nil

	select {
	case <-m.stopChan:
		return
	default:
	}

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.logger.Info("Dispatch channel reachable")
	} else {
		m.logger.Warn("Dispatch channel unreachable", zap.Error(err))
	}
	if m.onChange != nil {
		m.onChange(online)
	}
}
