package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"healthvoice/internal/events"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

// silentWAV is a 44 byte header with an empty data chunk
const silentWAV = "UklGRiQAAABXQVZFZm10IBAAAAABAAEARKwAABCxAgAEABAAZGF0YQAAAAA="

var silentClip = func() model.AudioClip {
	data, _ := base64.StdEncoding.DecodeString(silentWAV)
	return model.AudioClip{Data: data, MimeType: "audio/wav"}
}()

// Gate tracks whether the audio output accepts playback. It is unlocked by
// playing a silent clip, which only succeeds after a user gesture on devices
// that restrict autoplay.
type Gate struct {
	output AudioOutput
	sink   events.Sink

	mu       sync.Mutex
	unlocked bool
	blocked  bool
}

func NewGate(output AudioOutput, sink events.Sink) *Gate {
	if sink == nil {
		sink = events.Nop
	}
	return &Gate{output: output, sink: sink}
}

// Unlocked reports whether a previous unlock succeeded and was not revoked
func (g *Gate) Unlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// Ensure unlocks the output unless it already is
func (g *Gate) Ensure(ctx context.Context) error {
	if g.Unlocked() {
		return nil
	}
	return g.Unlock(ctx)
}

// Unlock plays the silent clip. On model.ErrAutoplayBlocked the enable-audio
// prompt is surfaced.
func (g *Gate) Unlock(ctx context.Context) error {
	err := g.output.Play(ctx, silentClip, nil)
	if err == nil {
		if stopErr := g.output.Stop(); stopErr != nil {
			logger.Debug("Failed to stop unlock clip", zap.Error(stopErr))
		}

		g.mu.Lock()
		wasBlocked := g.blocked
		g.unlocked = true
		g.blocked = false
		g.mu.Unlock()

		if wasBlocked {
			g.sink.Emit(events.Event{Type: events.AudioUnlocked})
		}
		return nil
	}

	if errors.Is(err, model.ErrAutoplayBlocked) {
		g.Reject()
	}
	return err
}

// Reject records a renewed refusal by the output and surfaces the prompt again
func (g *Gate) Reject() {
	g.mu.Lock()
	g.unlocked = false
	g.blocked = true
	g.mu.Unlock()

	g.sink.Emit(events.Event{
		Type:  events.AudioBlocked,
		Error: model.ErrAutoplayBlocked.Error(),
	})
}
