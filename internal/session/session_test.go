package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/capture"
	"Mansoor88-6/crash-sentinel-agent/internal/client"
	"Mansoor88-6/crash-sentinel-agent/internal/database"
	"Mansoor88-6/crash-sentinel-agent/internal/detector"
	"Mansoor88-6/crash-sentinel-agent/internal/models"
	"Mansoor88-6/crash-sentinel-agent/internal/notify"
	"Mansoor88-6/crash-sentinel-agent/internal/queue"
	"Mansoor88-6/crash-sentinel-agent/internal/sealer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// fakeClock fires AfterFunc callbacks synchronously from Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeCapturer struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{}
	started chan struct{}
}

func (c *fakeCapturer) Capture(ctx context.Context) (*models.TrustPacket, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	err := c.err
	c.mu.Unlock()

	if c.started != nil {
		close(c.started)
	}
	if c.release != nil {
		<-c.release
	}
	if err != nil {
		return nil, err
	}
	return &models.TrustPacket{
		EventID:   fmt.Sprintf("evt_%d_0000000%d", epoch.UnixMilli(), n),
		Timestamp: epoch.Format(capture.TimestampLayout),
		Evidence:  models.Evidence{Photo: []byte{0xff, 0xd8}, AudioSignature: capture.AudioUnavailable},
		Metadata:  models.Metadata{AgentInfo: "test", DeviceInfo: "test", CaptureDelayMs: 1000},
	}, nil
}

type memRecords struct {
	mu      sync.Mutex
	records []*models.TrustPacket
	err     error
}

func (r *memRecords) Save(ctx context.Context, p *models.TrustPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, p)
	return nil
}

func (r *memRecords) all() []*models.TrustPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.TrustPacket(nil), r.records...)
}

type fakeDispatcher struct {
	mu        sync.Mutex
	alertErr  error
	uploadErr error
	alerts    []string
	uploads   []string
}

func (d *fakeDispatcher) SendAlert(ctx context.Context, p *models.TrustPacket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, p.EventID)
	return d.alertErr
}

func (d *fakeDispatcher) UploadRecord(ctx context.Context, p *models.TrustPacket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, p.EventID)
	return d.uploadErr
}

func (d *fakeDispatcher) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alerts), len(d.uploads)
}

func (d *fakeDispatcher) fail(alertErr, uploadErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alertErr, d.uploadErr = alertErr, uploadErr
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (n *recordingNotifier) Notify(notice notify.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

type recordingAlerter struct {
	mu       sync.Mutex
	patterns []capture.Pattern
}

func (a *recordingAlerter) Alert(p capture.Pattern) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patterns = append(a.patterns, p)
}

type harness struct {
	session    *Session
	clock      *fakeClock
	capturer   *fakeCapturer
	records    *memRecords
	dispatcher *fakeDispatcher
	queue      *queue.DurableQueue
	notifier   *recordingNotifier
	alerter    *recordingAlerter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "session.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		clock:      newFakeClock(),
		capturer:   &fakeCapturer{},
		records:    &memRecords{},
		dispatcher: &fakeDispatcher{},
		queue:      queue.NewDurableQueue(db.DB, queue.DefaultMaxAttempts, zap.NewNop()),
		notifier:   &recordingNotifier{},
		alerter:    &recordingAlerter{},
	}
	h.session = New(DefaultConfig(), Deps{
		Detector:   detector.New(detector.DefaultConfig()),
		Capturer:   h.capturer,
		Records:    h.records,
		Dispatcher: h.dispatcher,
		Queue:      h.queue,
		Notifier:   h.notifier,
		Alerter:    h.alerter,
		Clock:      h.clock,
	}, zap.NewNop())
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) queueSize(t *testing.T) int {
	t.Helper()
	size, err := h.queue.Size(context.Background())
	require.NoError(t, err)
	return size
}

// crashSamples is six 5g samples spanning 100ms whose rotation change only clears the threshold on the last one
func crashSamples(start time.Time) []models.MotionSample {
	samples := make([]models.MotionSample, 6)
	for i := range samples {
		samples[i] = models.MotionSample{
			Timestamp: start.Add(time.Duration(i*20) * time.Millisecond),
			AccelX:    5.0 * detector.StandardGravity,
			RotGamma:  float64(i) * 20,
		}
	}
	return samples
}

func TestSession_DetectionMovesArmedToConfirming(t *testing.T) {
	h := newHarness(t)

	samples := crashSamples(epoch)
	for _, s := range samples[:5] {
		assert.False(t, h.session.PushSample(s))
	}
	assert.True(t, h.session.PushSample(samples[5]))
	assert.Equal(t, StateConfirming, h.session.State())
	assert.Equal(t, []capture.Pattern{capture.PatternConfirming}, h.alerter.patterns)

	// Further detections while confirming are ignored and do not restart the countdown
	for _, s := range crashSamples(epoch.Add(200 * time.Millisecond)) {
		assert.False(t, h.session.PushSample(s))
	}
	assert.Equal(t, 1, h.clock.pending())
}

func TestSession_QuietSamplesStayArmed(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 50; i++ {
		h.session.PushSample(models.MotionSample{
			Timestamp: epoch.Add(time.Duration(i*20) * time.Millisecond),
			AccelZ:    0.3,
		})
	}
	assert.Equal(t, StateArmed, h.session.State())
	assert.Equal(t, 50, h.session.Status(context.Background()).BufferedSamples)
}

func TestSession_CountdownTriggersAtExactlyFiveSeconds(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(true)

	require.NoError(t, h.session.Trigger())
	st := h.session.Status(context.Background())
	require.NotNil(t, st.CountdownDeadline)
	assert.Equal(t, epoch.Add(5*time.Second), *st.CountdownDeadline)

	h.clock.Advance(4999 * time.Millisecond)
	assert.Equal(t, StateConfirming, h.session.State())
	assert.Equal(t, 0, h.capturer.calls)

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, StateTriggered, h.session.State())

	st = h.session.Status(context.Background())
	require.NotNil(t, st.TriggeredAt)
	assert.Equal(t, epoch.Add(5000*time.Millisecond), *st.TriggeredAt)
	assert.False(t, st.Busy)
	assert.Equal(t, 1, h.capturer.calls)

	records := h.records.all()
	require.Len(t, records, 1)
	assert.NoError(t, sealer.Verify(records[0]))
	assert.Equal(t, records[0].EventID, st.LastEventID)

	alerts, uploads := h.dispatcher.counts()
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 0, h.queueSize(t))
}

func TestSession_CancelReturnsToArmedExactlyOnce(t *testing.T) {
	h := newHarness(t)

	for _, s := range crashSamples(epoch) {
		h.session.PushSample(s)
	}
	require.Equal(t, StateConfirming, h.session.State())

	require.NoError(t, h.session.Cancel())
	assert.Equal(t, StateArmed, h.session.State())
	assert.Equal(t, 0, h.session.Status(context.Background()).BufferedSamples, "buffer cleared on cancel")
	assert.ErrorIs(t, h.session.Cancel(), ErrInvalidTransition)

	// The cancelled countdown never fires
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, StateArmed, h.session.State())
	assert.Equal(t, 0, h.capturer.calls)
	assert.Contains(t, h.notifier.kinds(), notify.KindCancelled)
}

func TestSession_StaleCountdownIgnoredAfterRetrigger(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.session.Cancel())
	require.NoError(t, h.session.Trigger())

	// The first countdown's deadline passes but only the second may trigger
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, StateConfirming, h.session.State())

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, StateTriggered, h.session.State())
	assert.Equal(t, 1, h.capturer.calls)
}

func TestSession_OnlyValidTransitions(t *testing.T) {
	h := newHarness(t)

	// Armed
	assert.ErrorIs(t, h.session.Cancel(), ErrInvalidTransition)
	assert.ErrorIs(t, h.session.Reset(), ErrInvalidTransition)

	// Confirming
	require.NoError(t, h.session.Trigger())
	assert.ErrorIs(t, h.session.Trigger(), ErrInvalidTransition)
	assert.ErrorIs(t, h.session.Reset(), ErrInvalidTransition)
	assert.Equal(t, StateConfirming, h.session.State())

	// Triggered
	h.clock.Advance(5 * time.Second)
	require.Equal(t, StateTriggered, h.session.State())
	assert.ErrorIs(t, h.session.Trigger(), ErrInvalidTransition)
	assert.ErrorIs(t, h.session.Cancel(), ErrInvalidTransition)
	for _, s := range crashSamples(epoch.Add(6 * time.Second)) {
		assert.False(t, h.session.PushSample(s))
	}
	assert.Equal(t, StateTriggered, h.session.State())

	require.NoError(t, h.session.Reset())
	assert.Equal(t, StateArmed, h.session.State())
	assert.Equal(t, 0, h.session.Status(context.Background()).BufferedSamples)
	assert.ErrorIs(t, h.session.Reset(), ErrInvalidTransition)
}

func TestSession_ResetRejectedWhileCapturing(t *testing.T) {
	h := newHarness(t)
	h.capturer.release = make(chan struct{})
	h.capturer.started = make(chan struct{})

	require.NoError(t, h.session.Trigger())
	done := make(chan struct{})
	go func() {
		h.clock.Advance(5 * time.Second)
		close(done)
	}()

	<-h.capturer.started
	assert.Equal(t, StateTriggered, h.session.State())
	assert.True(t, h.session.Status(context.Background()).Busy)
	assert.ErrorIs(t, h.session.Reset(), ErrCaptureInProgress)

	close(h.capturer.release)
	<-done
	assert.NoError(t, h.session.Reset())
}

func TestSession_CaptureFailureReturnsToArmed(t *testing.T) {
	h := newHarness(t)
	h.capturer.err = fmt.Errorf("%w: camera busy", capture.ErrImageCapture)

	for _, s := range crashSamples(epoch) {
		h.session.PushSample(s)
	}
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, StateArmed, h.session.State())
	assert.Empty(t, h.records.all())
	assert.Equal(t, 0, h.queueSize(t))
	assert.Contains(t, h.notifier.kinds(), notify.KindCaptureFailed)

	st := h.session.Status(context.Background())
	assert.Contains(t, st.LastError, "camera busy")
	assert.Equal(t, 0, st.BufferedSamples)
	assert.Nil(t, st.TriggeredAt)

	// The session is armed again and can detect the next impact
	h.capturer.err = nil
	for _, s := range crashSamples(epoch.Add(10 * time.Second)) {
		h.session.PushSample(s)
	}
	assert.Equal(t, StateConfirming, h.session.State())
}

func TestSession_OfflineQueueThenDrainOnce(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(false)

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)
	require.Equal(t, StateTriggered, h.session.State())

	assert.Equal(t, 2, h.queueSize(t))
	alerts, uploads := h.dispatcher.counts()
	assert.Equal(t, 0, alerts+uploads)
	assert.Contains(t, h.notifier.kinds(), notify.KindQueued)

	pending, err := h.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.KindAlertDispatch, pending[0].Kind)
	assert.Equal(t, models.KindRecordUpload, pending[1].Kind)

	h.session.SetOnline(true)
	assert.Equal(t, 0, h.queueSize(t))
	alerts, uploads = h.dispatcher.counts()
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, uploads)

	result, err := h.session.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Delivered)
	alerts, uploads = h.dispatcher.counts()
	assert.Equal(t, 1, alerts, "no duplicate alert on second drain")
	assert.Equal(t, 1, uploads, "no duplicate upload on second drain")

	// The drained payload is the same sealed record
	assert.Equal(t, h.records.all()[0].EventID, h.dispatcher.alerts[0])
}

func TestSession_UnavailableWhileOnlineIsQueued(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(true)
	h.dispatcher.fail(fmt.Errorf("%w: connection refused", client.ErrUnavailable), nil)

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, 1, h.queueSize(t))
	pending, err := h.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.KindAlertDispatch, pending[0].Kind)
}

func TestSession_PeriodicDrainRetriesWhileOnline(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(true)
	require.NoError(t, h.session.Start(context.Background()))
	h.dispatcher.fail(fmt.Errorf("%w: status 503", client.ErrUnavailable), nil)

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)
	require.Equal(t, 1, h.queueSize(t))

	// The backend recovers but the health check never reported it offline
	h.dispatcher.fail(nil, nil)
	h.session.SetOnline(true)
	assert.Equal(t, 1, h.queueSize(t))

	h.clock.Advance(DefaultConfig().DrainInterval)
	assert.Equal(t, 0, h.queueSize(t))
	alerts, uploads := h.dispatcher.counts()
	assert.Equal(t, 2, alerts)
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, h.clock.pending(), "the next drain is scheduled")
}

func TestSession_PeriodicDrainSkippedWhileOffline(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)
	require.Equal(t, 2, h.queueSize(t))

	h.clock.Advance(DefaultConfig().DrainInterval)
	assert.Equal(t, 2, h.queueSize(t))
	alerts, uploads := h.dispatcher.counts()
	assert.Zero(t, alerts)
	assert.Zero(t, uploads)
	assert.Equal(t, 1, h.clock.pending())

	h.session.Close()
	assert.Zero(t, h.clock.pending())
	h.clock.Advance(DefaultConfig().DrainInterval)
	assert.Equal(t, 2, h.queueSize(t))
}

func TestSession_PersistFailureIsNotified(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(true)
	h.records.err = errors.New("disk full")

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)

	assert.Contains(t, h.notifier.kinds(), notify.KindPersistFailed)
	assert.Empty(t, h.records.all())
	require.NotNil(t, h.session.LastRecord())

	alerts, uploads := h.dispatcher.counts()
	assert.Equal(t, 1, alerts, "dispatch proceeds without the local copy")
	assert.Equal(t, 1, uploads)
}

func TestSession_PermanentRejectionSurfacedImmediately(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(true)
	h.dispatcher.fail(&client.BadRequestError{Message: "invalid", StatusCode: 400}, nil)

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, 0, h.queueSize(t))
	assert.Contains(t, h.notifier.kinds(), notify.KindDispatchFailed)
}

func TestSession_ExhaustedItemsAreReported(t *testing.T) {
	h := newHarness(t)
	h.session.SetOnline(false)

	require.NoError(t, h.session.Trigger())
	h.clock.Advance(5 * time.Second)
	require.Equal(t, 2, h.queueSize(t))

	h.dispatcher.fail(errors.New("still failing"), errors.New("still failing"))
	for i := 0; i < 3; i++ {
		_, err := h.session.Drain(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 0, h.queueSize(t))
	alerts, uploads := h.dispatcher.counts()
	assert.Equal(t, 3, alerts)
	assert.Equal(t, 3, uploads)

	failed := 0
	for _, k := range h.notifier.kinds() {
		if k == notify.KindDispatchFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)

	_, err := h.session.Drain(context.Background())
	require.NoError(t, err)
	alerts, _ = h.dispatcher.counts()
	assert.Equal(t, 3, alerts, "never retried a fourth time")
}

func TestSession_StartDrainsWhenOnline(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"eventId":"evt_1_deadbeef","timestamp":"2026-01-01T00:00:00.000Z","location":{"lat":null,"lon":null,"accuracy":null},"evidence":{"photo":null,"audioSignature":"unavailable"},"metadata":{"agentInfo":"","deviceInfo":"","captureDelayMs":0},"digest":"x"}`)
	_, err := h.queue.Enqueue(context.Background(), models.QueueItem{Kind: models.KindAlertDispatch, Payload: payload})
	require.NoError(t, err)

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, 1, h.queueSize(t), "offline start leaves the queue alone")

	h.session.mu.Lock()
	h.session.online = true
	h.session.mu.Unlock()
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, 0, h.queueSize(t))
	assert.Equal(t, []string{"evt_1_deadbeef"}, h.dispatcher.alerts)
}

type chanSource struct {
	samples []models.MotionSample
	stopped bool
}

func (s *chanSource) Start(out chan<- models.MotionSample) error {
	go func() {
		for _, sample := range s.samples {
			out <- sample
		}
		close(out)
	}()
	return nil
}

func (s *chanSource) Stop() error {
	s.stopped = true
	return nil
}

func TestSession_RunProcessesSamplesInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	src := &chanSource{samples: crashSamples(epoch)}

	require.NoError(t, h.session.Run(context.Background(), src))
	assert.True(t, src.stopped)
	assert.Equal(t, StateConfirming, h.session.State())
}

func TestSession_CloseStopsCountdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Trigger())
	h.session.Close()

	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.capturer.calls)
	assert.ErrorIs(t, h.session.Trigger(), ErrClosed)
	assert.False(t, h.session.PushSample(crashSamples(epoch)[0]))
}
