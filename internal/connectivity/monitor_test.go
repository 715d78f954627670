package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedProber struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProber) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.results) {
		return p.results[len(p.results)-1]
	}
	return p.results[i]
}

func (p *scriptedProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []bool
}

func (r *changeRecorder) record(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, online)
}

func (r *changeRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.changes...)
}

func TestMonitor_ReportsOnlyChanges(t *testing.T) {
	down := errors.New("connection refused")
	prober := &scriptedProber{results: []error{down, down, nil, nil, nil, down}}
	rec := &changeRecorder{}

	m := NewMonitor(prober, 5*time.Millisecond, time.Second, zap.NewNop())
	require.NoError(t, m.Start(rec.record))
	require.Eventually(t, func() bool { return prober.count() >= 7 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	assert.Equal(t, []bool{false, true, false}, rec.get())
	assert.False(t, m.Online())
}

func TestMonitor_FirstProbeAlwaysReports(t *testing.T) {
	prober := &scriptedProber{results: []error{nil}}
	rec := &changeRecorder{}

	m := NewMonitor(prober, time.Hour, time.Second, zap.NewNop())
	require.NoError(t, m.Start(rec.record))
	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()

	assert.Equal(t, []bool{true}, rec.get())
	assert.True(t, m.Online())
}
