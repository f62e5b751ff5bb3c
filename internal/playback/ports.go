package playback

import (
	"context"
	"errors"
	"fmt"

	"healthvoice/pkg/model"
)

type EngineEventKind string

const (
	EngineStarted EngineEventKind = "started"
	EngineEnded   EngineEventKind = "ended"
	EngineFailed  EngineEventKind = "failed"
)

// EngineEvent is reported by a LocalEngine while an utterance plays
type EngineEvent struct {
	Kind EngineEventKind
	Err  error
}

// Engine error codes
const (
	CodeCanceled         = "canceled"
	CodeInterrupted      = "interrupted"
	CodeNotAllowed       = "not-allowed"
	CodeAudioBusy        = "audio-busy"
	CodeSynthesisFailed  = "synthesis-failed"
	CodeVoiceUnavailable = "voice-unavailable"
)

// EngineError is a failure reported by the local speech engine
type EngineError struct {
	Code   string
	Detail string
}

func (e *EngineError) Error() string {
	if e.Detail == "" {
		return "speech engine error: " + e.Code
	}
	return fmt.Sprintf("speech engine error: %s: %s", e.Code, e.Detail)
}

// isSwallowed reports whether err is the engine telling us we cut it off
func isSwallowed(err error) bool {
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		return false
	}
	return engineErr.Code == CodeCanceled || engineErr.Code == CodeInterrupted
}

// mapEngineError turns a terminal engine error into the error callers see
func mapEngineError(err error) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Code == CodeNotAllowed {
		return fmt.Errorf("%w: %w", model.ErrAutoplayBlocked, err)
	}
	return err
}

// LocalEngine is an on-device synthesizer with a voice catalog.
//
// Speak returns once the utterance is queued; progress is reported through
// onEvent. Cancel halts whatever is speaking.
type LocalEngine interface {
	Voices() []model.Voice
	CatalogReady() <-chan struct{}
	Speak(ctx context.Context, utterance model.Utterance, onEvent func(EngineEvent)) error
	Cancel()
}

// CloudSynthesizer turns text into an audio clip remotely
type CloudSynthesizer interface {
	Synthesize(ctx context.Context, text string, language model.Language) (model.AudioClip, error)
}

// AudioOutput plays decoded clips. done is called once the clip ends.
type AudioOutput interface {
	Play(ctx context.Context, clip model.AudioClip, done func(error)) error
	Stop() error
}
