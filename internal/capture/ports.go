package capture

import (
	"context"

	"healthvoice/pkg/model"
)

// Fragment is one recognition result. Interim fragments may be revised by
// later ones; final fragments never change.
type Fragment struct {
	Text  string
	Final bool
}

// RecognitionStream is a running recognition engine.
//
// Ready is closed once the engine is listening. Fragments is closed when the
// engine terminates, after which Done is closed and Err reports why.
type RecognitionStream interface {
	Ready() <-chan struct{}
	Fragments() <-chan Fragment
	Done() <-chan struct{}
	Err() error
	// Stop asks the engine to flush pending results and terminate
	Stop() error
	// Abort terminates the engine and drops pending results
	Abort() error
}

// Recognizer starts incremental recognition from the microphone
type Recognizer interface {
	Start(ctx context.Context, language model.Language) (RecognitionStream, error)
}

// Recording is a raw microphone recording in progress.
//
// Ready is closed once audio is flowing and Done when the recorder ends on
// its own. Stop ends the recording and returns the captured audio.
type Recording interface {
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Stop() (model.AudioClip, error)
	Abort() error
}

// Recorder captures raw audio when no incremental recognizer is available
type Recorder interface {
	Start(ctx context.Context) (Recording, error)
}

// BatchTranscriber converts a finished recording into text
type BatchTranscriber interface {
	Transcribe(ctx context.Context, clip model.AudioClip, language model.Language) (string, error)
}
