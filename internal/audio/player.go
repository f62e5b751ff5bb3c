package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

// ErrStopped is passed to the done callback of a clip halted by Stop
var ErrStopped = errors.New("playback stopped")

// Player plays clips through ffplay, one at a time. Starting a clip stops the
// previous one first.
type Player struct {
	command string

	mu      sync.Mutex
	current *playing
}

type playing struct {
	cmd     *exec.Cmd
	stopped bool
}

func NewPlayer(command string) *Player {
	if command == "" {
		command = "ffplay"
	}
	return &Player{command: command}
}

// Play starts clip and returns once the output device accepted it. done is
// called once when the clip finishes, fails or is stopped. A device that
// refuses playback yields model.ErrAutoplayBlocked.
func (p *Player) Play(ctx context.Context, clip model.AudioClip, done func(error)) error {
	if err := p.Stop(); err != nil {
		logger.Debug("Failed to stop previous clip", zap.Error(err))
	}

	cmd := exec.CommandContext(ctx, p.command,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(clip.Data)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found", model.ErrSpeechUnavailable, p.command)
		}
		return fmt.Errorf("failed to start player: %w", err)
	}

	current := &playing{cmd: cmd}
	p.mu.Lock()
	p.current = current
	p.mu.Unlock()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	finish := func(err error) {
		p.mu.Lock()
		stopped := current.stopped
		if p.current == current {
			p.current = nil
		}
		p.mu.Unlock()

		switch {
		case stopped:
			err = ErrStopped
		case err != nil:
			err = classifyPlayError(err, stderr.String())
		}
		if done != nil {
			done(err)
		}
	}

	select {
	case err := <-waitErr:
		// short clips can finish inside the startup window
		if err != nil {
			p.mu.Lock()
			if p.current == current {
				p.current = nil
			}
			p.mu.Unlock()
			return classifyPlayError(err, stderr.String())
		}
		go finish(nil)
		return nil
	case <-time.After(startupWindow):
	}

	go func() {
		finish(<-waitErr)
	}()
	return nil
}

// Stop halts the clip that is playing, if any
func (p *Player) Stop() error {
	p.mu.Lock()
	current := p.current
	if current != nil {
		current.stopped = true
	}
	p.current = nil
	p.mu.Unlock()

	if current == nil || current.cmd.Process == nil {
		return nil
	}
	if err := current.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "process already finished") {
		return fmt.Errorf("failed to stop player: %w", err)
	}
	return nil
}

func classifyPlayError(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)

	for _, marker := range []string{
		"audio open failed",
		"could not open audio",
		"no available audio device",
		"permission denied",
		"device or resource busy",
	} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", model.ErrAutoplayBlocked, detail)
		}
	}
	if detail == "" {
		return fmt.Errorf("playback failed: %w", err)
	}
	return fmt.Errorf("playback failed: %w: %s", err, detail)
}
