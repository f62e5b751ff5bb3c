package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"healthvoice/pkg/model"
)

const (
	startupWindow = 250 * time.Millisecond
	stopGrace     = 1200 * time.Millisecond
)

type MicConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

// Microphone streams raw s16le PCM from the capture device through ffmpeg
type Microphone struct {
	cfg MicConfig
}

func NewMicrophone(cfg MicConfig) *Microphone {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultFormat.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Microphone{cfg: cfg}
}

// Format is the PCM format produced by the microphone
func (m *Microphone) Format() Format {
	return Format{SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels, BitsPerSample: 16}
}

// PCMStream is raw PCM audio being captured
type PCMStream interface {
	io.Reader
	Stop() error
}

// PCMSource opens raw PCM captures
type PCMSource interface {
	Open(ctx context.Context) (PCMStream, error)
	Format() Format
}

// Open starts capturing. The returned stream must be stopped by the caller.
func (m *Microphone) Open(ctx context.Context) (PCMStream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", m.cfg.InputFormat,
		"-i", m.cfg.InputDevice,
		"-ac", strconv.Itoa(m.cfg.Channels),
		"-ar", strconv.Itoa(m.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, m.cfg.Command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found", model.ErrCaptureUnsupported, m.cfg.Command)
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, classifyDeviceError(err, stderr.String())
	case <-time.After(startupWindow):
	}

	return &MicStream{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// MicStream is a live microphone capture
type MicStream struct {
	stdout io.ReadCloser
	stderr *syncBuffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *MicStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *MicStream) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg, killing it if it does not exit in time
func (s *MicStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

func classifyDeviceError(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)

	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not permitted"):
		return fmt.Errorf("%w: %s", model.ErrPermissionDenied, detail)
	case err == nil:
		return fmt.Errorf("%w: ffmpeg exited before capture started", model.ErrDeviceUnavailable)
	}
	return fmt.Errorf("%w: %w: %s", model.ErrDeviceUnavailable, err, detail)
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer is a bytes.Buffer safe for the exec writer goroutine and readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
