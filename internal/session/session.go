// Package session implements the monitoring session: the Armed, Confirming and
// Triggered state machine that arbitrates detections, runs the evidence capture
// and hands sealed records to the dispatch path.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/buffer"
	"Mansoor88-6/crash-sentinel-agent/internal/capture"
	"Mansoor88-6/crash-sentinel-agent/internal/client"
	"Mansoor88-6/crash-sentinel-agent/internal/detector"
	"Mansoor88-6/crash-sentinel-agent/internal/metrics"
	"Mansoor88-6/crash-sentinel-agent/internal/models"
	"Mansoor88-6/crash-sentinel-agent/internal/notify"
	"Mansoor88-6/crash-sentinel-agent/internal/queue"
	"Mansoor88-6/crash-sentinel-agent/internal/sealer"

	"go.uber.org/zap"
)

// State is the detection state of a session
type State string

const (
	StateArmed      State = "armed"
	StateConfirming State = "confirming"
	StateTriggered  State = "triggered"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrCaptureInProgress = errors.New("evidence capture in progress")
	ErrClosed            = errors.New("session closed")
)

// Capturer produces an unsealed trust packet
type Capturer interface {
	Capture(ctx context.Context) (*models.TrustPacket, error)
}

// RecordStore persists sealed records
type RecordStore interface {
	Save(ctx context.Context, packet *models.TrustPacket) error
}

// Dispatcher is the outbound delivery channel. Errors wrapping
// client.ErrUnavailable are queued; any other error is reported.
type Dispatcher interface {
	SendAlert(ctx context.Context, packet *models.TrustPacket) error
	UploadRecord(ctx context.Context, packet *models.TrustPacket) error
}

// Queue is the durability queue
type Queue interface {
	Enqueue(ctx context.Context, item models.QueueItem) (models.QueueItem, error)
	Drain(ctx context.Context, handler queue.Handler) (queue.DrainResult, error)
	Size(ctx context.Context) (int, error)
}

// MotionSource delivers motion samples until stopped. It may go silent at any time.
type MotionSource interface {
	Start(out chan<- models.MotionSample) error
	Stop() error
}

// Config holds session timing
type Config struct {
	BufferCapacity    int
	IntakeBuffer      int // samples held between the motion source and the detector
	CountdownDuration time.Duration
	DispatchTimeout   time.Duration

	// DrainInterval paces queue drains while online. Zero disables them.
	DrainInterval time.Duration
}

// DefaultConfig returns the reference session timing
func DefaultConfig() Config {
	return Config{
		BufferCapacity:    buffer.DefaultCapacity,
		IntakeBuffer:      256,
		CountdownDuration: 5 * time.Second,
		DispatchTimeout:   15 * time.Second,
		DrainInterval:     60 * time.Second,
	}
}

// Deps are the session collaborators. Alerter and Clock are optional.
type Deps struct {
	Detector   *detector.Detector
	Capturer   Capturer
	Records    RecordStore
	Dispatcher Dispatcher
	Queue      Queue
	Notifier   notify.Notifier
	Alerter    capture.Alerter
	Clock      Clock
}

// Status is a snapshot for status displays
type Status struct {
	State             State      `json:"state"`
	BufferedSamples   int        `json:"bufferedSamples"`
	QueueSize         int        `json:"queueSize"`
	Online            bool       `json:"online"`
	Busy              bool       `json:"busy"`
	CountdownDeadline *time.Time `json:"countdownDeadline,omitempty"`
	TriggeredAt       *time.Time `json:"triggeredAt,omitempty"`
	LastEventID       string     `json:"lastEventId,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

// Session is one monitoring session. Sample arrival, countdown expiry and
// operator actions are serialized by the session mutex.
type Session struct {
	cfg  Config
	deps Deps

	buffer *buffer.SampleBuffer
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	state             State
	online            bool
	busy              bool
	closed            bool
	generation        uint64
	countdown         Timer
	countdownDeadline time.Time
	drainTimer        Timer
	triggeredAt       time.Time
	lastRecord        *models.TrustPacket
	lastError         error
}

// New creates an armed session
func New(cfg Config, deps Deps, logger *zap.Logger) *Session {
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Detector == nil {
		deps.Detector = detector.New(detector.DefaultConfig())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		deps:   deps,
		buffer: buffer.New(cfg.BufferCapacity),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		state:  StateArmed,
	}
}

// Start drains any items left over from a previous run when online and
// schedules the periodic drain
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("Starting monitoring session",
		zap.Duration("countdown", s.cfg.CountdownDuration),
		zap.Duration("drain_interval", s.cfg.DrainInterval),
		zap.Int("buffer_capacity", s.buffer.Cap()),
	)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.drainTimer == nil {
		s.scheduleDrain()
	}
	s.mu.Unlock()

	if !s.Online() {
		return nil
	}
	if _, err := s.Drain(ctx); err != nil {
		return fmt.Errorf("failed to drain queue on startup: %w", err)
	}
	return nil
}

// Run pumps samples from source into the session until ctx ends or the source closes its channel
func (s *Session) Run(ctx context.Context, source MotionSource) error {
	size := s.cfg.IntakeBuffer
	if size <= 0 {
		size = 256
	}
	samples := make(chan models.MotionSample, size)
	if err := source.Start(samples); err != nil {
		return fmt.Errorf("failed to start motion source: %w", err)
	}
	defer source.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-samples:
			if !ok {
				s.logger.Info("Motion source closed")
				return nil
			}
			s.PushSample(sample)
		}
	}
}

// PushSample buffers a sample and, while armed, evaluates the detector.
// It reports whether this sample moved the session to confirming.
func (s *Session) PushSample(sample models.MotionSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.buffer.Push(sample)
	if s.state != StateArmed {
		return false
	}

	res := s.deps.Detector.Evaluate(s.buffer)
	metrics.DetectorEvaluations.WithLabelValues(string(res.Reason)).Inc()
	if !res.Crash {
		return false
	}

	s.logger.Warn("Crash signature detected",
		zap.Int("window_samples", res.WindowSamples),
		zap.Int("high_g_samples", res.HighGSamples),
		zap.Float64("peak_g", res.PeakG),
		zap.Float64("rotation_delta", res.RotationDelta),
	)
	s.enterConfirming("detection")
	return true
}

// Trigger starts the confirmation countdown manually
func (s *Session) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != StateArmed {
		return fmt.Errorf("%w: trigger while %s", ErrInvalidTransition, s.state)
	}
	s.enterConfirming("manual")
	return nil
}

// Cancel aborts a running countdown and re-arms the session
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != StateConfirming {
		return fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, s.state)
	}

	s.stopCountdown()
	s.buffer.Clear()
	s.setState(StateArmed)
	s.notify(notify.Notice{Kind: notify.KindCancelled, Message: "Crash alert cancelled by operator"})
	return nil
}

// Reset re-arms a triggered session once its capture and dispatch have finished
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != StateTriggered {
		return fmt.Errorf("%w: reset while %s", ErrInvalidTransition, s.state)
	}
	if s.busy {
		return ErrCaptureInProgress
	}

	s.buffer.Clear()
	s.triggeredAt = time.Time{}
	s.setState(StateArmed)
	return nil
}

// SetOnline records the dispatch channel's connectivity. Going online drains the queue.
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	closed := s.closed
	s.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}

	if wasOnline == online || closed {
		return
	}
	s.logger.Info("Dispatch channel connectivity changed", zap.Bool("online", online))

	if online {
		if _, err := s.Drain(s.ctx); err != nil {
			s.logger.Error("Failed to drain queue after reconnect", zap.Error(err))
		}
	}
}

// Online reports the last known connectivity
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Drain replays queued items through the dispatcher
func (s *Session) Drain(ctx context.Context) (queue.DrainResult, error) {
	result, err := s.deps.Queue.Drain(ctx, s.replay)

	for _, item := range result.Delivered {
		metrics.Dispatches.WithLabelValues(string(item.Kind), "delivered").Inc()
		s.notify(notify.Notice{
			Kind:     notify.KindDelivered,
			ItemKind: string(item.Kind),
			Message:  "Queued item delivered",
		})
	}
	for _, item := range result.Exhausted {
		metrics.Dispatches.WithLabelValues(string(item.Kind), "exhausted").Inc()
		s.notify(notify.Notice{
			Kind:     notify.KindDispatchFailed,
			ItemKind: string(item.Kind),
			Message:  fmt.Sprintf("Delivery failed permanently after %d attempts", item.AttemptCount),
		})
	}

	return result, err
}

// Status returns a snapshot of the session
func (s *Session) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		State:           s.state,
		BufferedSamples: s.buffer.Len(),
		Online:          s.online,
		Busy:            s.busy,
	}
	if s.state == StateConfirming {
		deadline := s.countdownDeadline
		st.CountdownDeadline = &deadline
	}
	if !s.triggeredAt.IsZero() {
		at := s.triggeredAt
		st.TriggeredAt = &at
	}
	if s.lastRecord != nil {
		st.LastEventID = s.lastRecord.EventID
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	s.mu.Unlock()

	if size, err := s.deps.Queue.Size(ctx); err == nil {
		st.QueueSize = size
	}
	return st
}

// State returns the current detection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastRecord returns the most recent sealed record of this session
func (s *Session) LastRecord() *models.TrustPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRecord
}

// Close stops any countdown and discards the buffer
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.stopCountdown()
	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}
	s.buffer.Clear()
	s.cancel()
	s.logger.Info("Monitoring session closed")
}

// scheduleDrain must be called with s.mu held
func (s *Session) scheduleDrain() {
	if s.cfg.DrainInterval <= 0 || s.closed {
		return
	}
	s.drainTimer = s.deps.Clock.AfterFunc(s.cfg.DrainInterval, s.periodicDrain)
}

// periodicDrain retries queued items that stayed behind while the channel
// was reported online, then re-arms itself
func (s *Session) periodicDrain() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	online := s.online
	s.mu.Unlock()

	if online {
		if _, err := s.Drain(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Error("Periodic queue drain failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.scheduleDrain()
	s.mu.Unlock()
}

// enterConfirming must be called with s.mu held and the session armed
func (s *Session) enterConfirming(cause string) {
	s.generation++
	gen := s.generation

	s.setState(StateConfirming)
	s.countdownDeadline = s.deps.Clock.Now().Add(s.cfg.CountdownDuration)
	s.countdown = s.deps.Clock.AfterFunc(s.cfg.CountdownDuration, func() {
		s.countdownElapsed(gen)
	})

	if s.deps.Alerter != nil {
		s.deps.Alerter.Alert(capture.PatternConfirming)
	}
	s.notify(notify.Notice{
		Kind:    notify.KindConfirming,
		Message: fmt.Sprintf("Crash alert (%s): sending in %s unless cancelled", cause, s.cfg.CountdownDuration),
	})
}

// stopCountdown must be called with s.mu held
func (s *Session) stopCountdown() {
	s.generation++
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

func (s *Session) countdownElapsed(gen uint64) {
	s.mu.Lock()
	if s.closed || s.state != StateConfirming || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.countdown = nil
	s.busy = true
	s.triggeredAt = s.deps.Clock.Now()
	s.setState(StateTriggered)
	s.mu.Unlock()

	s.runTriggered()
}

// runTriggered captures, seals, persists and dispatches. It is not cancellable.
func (s *Session) runTriggered() {
	ctx := context.WithoutCancel(s.ctx)

	packet, err := s.deps.Capturer.Capture(ctx)
	if err == nil {
		packet, err = sealer.Seal(packet)
	}
	if err != nil {
		s.mu.Lock()
		s.busy = false
		s.lastError = err
		s.buffer.Clear()
		s.triggeredAt = time.Time{}
		s.setState(StateArmed)
		s.mu.Unlock()

		s.notify(notify.Notice{
			Kind:    notify.KindCaptureFailed,
			Message: fmt.Sprintf("Evidence capture failed: %v", err),
		})
		return
	}

	if err := s.deps.Records.Save(ctx, packet); err != nil {
		s.logger.Error("Failed to persist sealed record",
			zap.String("event_id", packet.EventID),
			zap.Error(err),
		)
		s.notify(notify.Notice{
			Kind:    notify.KindPersistFailed,
			EventID: packet.EventID,
			Message: fmt.Sprintf("Sealed record was not stored on this device: %v", err),
		})
	}

	s.mu.Lock()
	s.lastRecord = packet
	s.lastError = nil
	s.mu.Unlock()

	s.notify(notify.Notice{
		Kind:    notify.KindCaptured,
		EventID: packet.EventID,
		Message: "Evidence sealed",
	})

	s.dispatch(ctx, packet)

	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) dispatch(ctx context.Context, packet *models.TrustPacket) {
	payload, err := json.Marshal(packet)
	if err != nil {
		s.notify(notify.Notice{
			Kind:    notify.KindDispatchFailed,
			EventID: packet.EventID,
			Message: fmt.Sprintf("Failed to encode record: %v", err),
		})
		return
	}

	for _, kind := range []models.ItemKind{models.KindAlertDispatch, models.KindRecordUpload} {
		s.deliver(ctx, kind, packet, payload)
	}
}

func (s *Session) deliver(ctx context.Context, kind models.ItemKind, packet *models.TrustPacket, payload []byte) {
	if !s.Online() {
		s.enqueue(ctx, kind, packet.EventID, payload)
		return
	}

	err := s.send(ctx, kind, packet)
	switch {
	case err == nil:
		metrics.Dispatches.WithLabelValues(string(kind), "delivered").Inc()
		s.notify(notify.Notice{
			Kind:     notify.KindDelivered,
			EventID:  packet.EventID,
			ItemKind: string(kind),
			Message:  "Delivered",
		})
	case errors.Is(err, client.ErrUnavailable):
		s.logger.Warn("Dispatch channel unavailable, queuing locally",
			zap.String("kind", string(kind)),
			zap.String("event_id", packet.EventID),
			zap.Error(err),
		)
		s.enqueue(ctx, kind, packet.EventID, payload)
	default:
		metrics.Dispatches.WithLabelValues(string(kind), "failed").Inc()
		s.notify(notify.Notice{
			Kind:     notify.KindDispatchFailed,
			EventID:  packet.EventID,
			ItemKind: string(kind),
			Message:  fmt.Sprintf("Delivery rejected: %v", err),
		})
	}
}

func (s *Session) enqueue(ctx context.Context, kind models.ItemKind, eventID string, payload []byte) {
	item, err := s.deps.Queue.Enqueue(ctx, models.QueueItem{Kind: kind, Payload: payload})
	if err != nil {
		metrics.Dispatches.WithLabelValues(string(kind), "failed").Inc()
		s.notify(notify.Notice{
			Kind:     notify.KindDispatchFailed,
			EventID:  eventID,
			ItemKind: string(kind),
			Message:  fmt.Sprintf("Could not queue for later delivery: %v", err),
		})
		return
	}

	metrics.Dispatches.WithLabelValues(string(kind), "queued").Inc()
	s.logger.Info("Queued for later delivery",
		zap.String("id", item.ID),
		zap.String("kind", string(kind)),
		zap.String("event_id", eventID),
	)
	s.notify(notify.Notice{
		Kind:     notify.KindQueued,
		EventID:  eventID,
		ItemKind: string(kind),
		Message:  "Queued for later delivery",
	})
}

func (s *Session) send(ctx context.Context, kind models.ItemKind, packet *models.TrustPacket) error {
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}

	switch kind {
	case models.KindAlertDispatch:
		return s.deps.Dispatcher.SendAlert(ctx, packet)
	case models.KindRecordUpload:
		return s.deps.Dispatcher.UploadRecord(ctx, packet)
	default:
		return fmt.Errorf("unknown item kind %q", kind)
	}
}

// replay is the queue handler for drained items
func (s *Session) replay(ctx context.Context, item models.QueueItem) error {
	var packet models.TrustPacket
	if err := json.Unmarshal(item.Payload, &packet); err != nil {
		return fmt.Errorf("failed to decode queued record: %w", err)
	}
	return s.send(ctx, item.Kind, &packet)
}

// setState must be called with s.mu held
func (s *Session) setState(to State) {
	from := s.state
	s.state = to
	metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("Detection state changed",
		zap.String("old_state", string(from)),
		zap.String("new_state", string(to)),
	)
}

func (s *Session) notify(n notify.Notice) {
	if s.deps.Notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = s.deps.Clock.Now()
	}
	s.deps.Notifier.Notify(n)
}

