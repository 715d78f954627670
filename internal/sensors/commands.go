package sensors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/capture"

	"go.uber.org/zap"
)

const (
	maxImageBytes = 16 << 20
	maxAudioBytes = 1 << 20
	waitDelay     = 200 * time.Millisecond
)

// ErrEmptyOutput is returned when a capture command succeeded but produced nothing
var ErrEmptyOutput = errors.New("command produced no output")

// SplitCommand splits a configured command line on whitespace. It returns nil
// for an empty line, which means the capability is absent.
func SplitCommand(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// CommandImageSource takes a still by running a command that writes the image to stdout
type CommandImageSource struct {
	argv   []string
	logger *zap.Logger
}

func NewCommandImageSource(argv []string, logger *zap.Logger) *CommandImageSource {
	return &CommandImageSource{argv: argv, logger: logger}
}

func (s *CommandImageSource) Capture(ctx context.Context) ([]byte, error) {
	out, err := runCapture(ctx, s.argv, maxImageBytes)
	if err != nil {
		return nil, fmt.Errorf("camera command %s: %w", s.argv[0], err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("camera command %s: %w", s.argv[0], ErrEmptyOutput)
	}

	s.logger.Debug("Image captured", zap.Int("bytes", len(out)))
	return out, nil
}

// CommandAudioSource records by running a command that streams raw audio to stdout.
// Recording stops after the requested duration.
type CommandAudioSource struct {
	argv   []string
	logger *zap.Logger
}

func NewCommandAudioSource(argv []string, logger *zap.Logger) *CommandAudioSource {
	return &CommandAudioSource{argv: argv, logger: logger}
}

func (s *CommandAudioSource) Fingerprint(ctx context.Context, d time.Duration) (string, error) {
	recCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	out, err := runCapture(recCtx, s.argv, maxAudioBytes)
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("microphone command %s: %w", s.argv[0], ctx.Err())
	}
	// The recording window ending is the normal way out for streaming recorders
	if err != nil && !errors.Is(recCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("microphone command %s: %w", s.argv[0], err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("microphone command %s: %w", s.argv[0], ErrEmptyOutput)
	}

	s.logger.Debug("Audio recorded", zap.Int("bytes", len(out)), zap.Duration("duration", d))
	return capture.Fingerprint(out), nil
}

// runCapture runs argv and returns at most limit bytes of its stdout
func runCapture(ctx context.Context, argv []string, limit int64) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	out, readErr := io.ReadAll(io.LimitReader(stdout, limit))
	if int64(len(out)) == limit {
		// Drain the rest so the child is not blocked on a full pipe
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case waitErr != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", waitErr, msg)
		}
		return out, waitErr
	case readErr != nil:
		return out, readErr
	}
	return out, nil
}

// CommandAlerter plays alert patterns by running a command in the background.
// The pattern is passed in SENTINEL_ALERT_PATTERN. A new alert stops the one
// still playing and starts once that command has exited.
type CommandAlerter struct {
	argv    []string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCommandAlerter(argv []string, timeout time.Duration, logger *zap.Logger) *CommandAlerter {
	return &CommandAlerter{argv: argv, timeout: timeout, logger: logger}
}

func (a *CommandAlerter) Alert(p capture.Pattern) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	done := make(chan struct{})

	a.mu.Lock()
	prevCancel, prevDone := a.cancel, a.done
	a.cancel, a.done = cancel, done
	a.mu.Unlock()

	if prevCancel != nil {
		a.logger.Debug("Stopping playing alert", zap.String("pattern", string(p)))
		prevCancel()
	}

	go func() {
		defer close(done)
		defer a.finish(done)
		defer cancel()

		if prevDone != nil {
			<-prevDone
		}
		if ctx.Err() != nil {
			return
		}

		cmd := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...)
		cmd.Env = append(os.Environ(), "SENTINEL_ALERT_PATTERN="+string(p))
		cmd.WaitDelay = waitDelay
		err := cmd.Run()
		switch {
		case err == nil:
		case errors.Is(ctx.Err(), context.Canceled):
			a.logger.Debug("Alert preempted", zap.String("pattern", string(p)))
		default:
			a.logger.Warn("Alert command failed",
				zap.String("pattern", string(p)),
				zap.Error(err),
			)
		}
	}()
}

// finish clears the current run unless a newer alert already replaced it
func (a *CommandAlerter) finish(done chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == done {
		a.cancel, a.done = nil, nil
	}
}

// Playing reports whether an alert command is running or about to start
func (a *CommandAlerter) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done != nil
}

// Stop kills the playing alert and waits for its command to exit
func (a *CommandAlerter) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
