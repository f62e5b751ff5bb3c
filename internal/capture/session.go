package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"healthvoice/internal/events"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultStartTimeout = 3500 * time.Millisecond

type Config struct {
	StartTimeout time.Duration
}

// Session turns one microphone recording at a time into a transcript. When a
// Recognizer is configured it is preferred; otherwise raw audio is recorded
// and handed to the BatchTranscriber on Stop.
type Session struct {
	recognizer  Recognizer
	recorder    Recorder
	transcriber BatchTranscriber
	sink        events.Sink
	cfg         Config

	// recordings run under ctx, not the ctx handed to Start
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        model.CaptureState
	current      *recording
	onTranscript func(model.Transcript)
}

type recording struct {
	id       string
	language model.Language
	source   model.TranscriptSource
	stream   RecognitionStream
	agg      *aggregator
	cancel   context.CancelFunc

	// guarded by Session.mu
	stopRequested bool
	discarded     bool

	finalizeOnce sync.Once
	transcript   *model.Transcript
	err          error
	done         chan struct{}
}

// NewSession builds a capture session. recognizer may be nil, in which case
// recorder and transcriber are both required for capture to work.
func NewSession(recognizer Recognizer, recorder Recorder, transcriber BatchTranscriber, sink events.Sink, cfg Config) *Session {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if sink == nil {
		sink = events.Nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		recognizer:  recognizer,
		recorder:    recorder,
		transcriber: transcriber,
		sink:        sink,
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		state:       model.CaptureStateIdle,
	}
}

// OnTranscript registers the handler for transcripts produced when the engine
// ends on its own. Transcripts returned by Stop are not passed to it.
func (s *Session) OnTranscript(fn func(model.Transcript)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTranscript = fn
}

// Supported reports whether any capture path is configured
func (s *Session) Supported() bool {
	return s.recognizer != nil || (s.recorder != nil && s.transcriber != nil)
}

// Start opens the microphone and waits for the engine to become ready. A
// recording already in progress is discarded first. ctx bounds the start
// handshake only; the recording itself lives until Stop, Abort or Close.
func (s *Session) Start(ctx context.Context, language model.Language) error {
	if !s.Supported() {
		s.emitError(model.ErrCaptureUnsupported)
		return model.ErrCaptureUnsupported
	}

	s.mu.Lock()
	previous := s.current
	var previousStream RecognitionStream
	if previous != nil {
		previous.discarded = true
		previousStream = previous.stream
	}
	recCtx, recCancel := context.WithCancel(s.ctx)
	rec := &recording{
		id:       uuid.NewString(),
		language: language,
		agg:      newAggregator(),
		cancel:   recCancel,
		done:     make(chan struct{}),
	}
	s.current = rec
	s.mu.Unlock()

	if previous != nil {
		logger.Debug("Discarding previous recording", zap.String("recording_id", previous.id))
		if previousStream != nil {
			_ = previousStream.Abort()
		}
		previous.cancel()
	}

	s.setState(rec, model.CaptureStateStarting)

	stopWatch := context.AfterFunc(ctx, recCancel)
	stream, source, err := s.open(recCtx, language)
	if err != nil {
		stopWatch()
		recCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.fail(rec, err)
		return err
	}

	s.mu.Lock()
	if rec.discarded {
		s.mu.Unlock()
		stopWatch()
		_ = stream.Abort()
		recCancel()
		return context.Canceled
	}
	rec.stream = stream
	rec.source = source
	s.mu.Unlock()

	err = s.awaitReady(ctx, stream)
	if err == nil && !stopWatch() {
		err = ctx.Err()
	}
	if err != nil {
		stopWatch()
		_ = stream.Abort()
		recCancel()
		if s.isDiscarded(rec) {
			return context.Canceled
		}
		s.fail(rec, err)
		return err
	}

	s.mu.Lock()
	if rec.discarded {
		s.mu.Unlock()
		_ = stream.Abort()
		recCancel()
		return context.Canceled
	}
	s.mu.Unlock()

	s.setState(rec, model.CaptureStateRecording)
	logger.Info("Recording started",
		zap.String("recording_id", rec.id),
		zap.String("source", string(source)),
		zap.String("language", string(language)))

	go s.consume(rec)
	return nil
}

func (s *Session) open(ctx context.Context, language model.Language) (RecognitionStream, model.TranscriptSource, error) {
	if s.recognizer != nil {
		stream, err := s.recognizer.Start(ctx, language)
		if err != nil {
			return nil, "", fmt.Errorf("failed to start recognizer: %w", err)
		}
		return stream, model.TranscriptSourceIncremental, nil
	}

	rec, err := s.recorder.Start(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start recorder: %w", err)
	}
	return newBatchStream(ctx, rec, s.transcriber, language), model.TranscriptSourceBatch, nil
}

// awaitReady is the start watchdog
func (s *Session) awaitReady(ctx context.Context, stream RecognitionStream) error {
	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-stream.Ready():
		return nil
	case <-timer.C:
		return model.ErrEngineStartTimeout
	case <-stream.Done():
		if err := stream.Err(); err != nil {
			return err
		}
		return model.ErrDeviceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) consume(rec *recording) {
	for fragment := range rec.stream.Fragments() {
		if s.isDiscarded(rec) {
			continue
		}
		rec.agg.Add(fragment)
		if !fragment.Final {
			s.sink.Emit(events.Event{
				Type:  events.CapturePartial,
				Text:  rec.agg.Live(),
				Attrs: map[string]string{"recording_id": rec.id},
			})
		}
	}
	<-rec.stream.Done()

	s.finalize(rec, rec.stream.Err())
}

// finalize runs once per recording, whether the engine ended on its own or
// through Stop. Transcripts of recordings that ended on their own are passed
// to the OnTranscript handler.
func (s *Session) finalize(rec *recording, streamErr error) {
	var surface func(model.Transcript)

	rec.finalizeOnce.Do(func() {
		defer close(rec.done)
		defer rec.cancel()

		s.mu.Lock()
		if rec.discarded {
			s.mu.Unlock()
			return
		}
		spontaneous := !rec.stopRequested
		handler := s.onTranscript
		s.mu.Unlock()

		text := rec.agg.Final()
		if text == "" {
			rec.err = model.ErrNoSpeechDetected
			if streamErr != nil {
				rec.err = fmt.Errorf("failed to transcribe recording: %w", streamErr)
			}
			s.fail(rec, rec.err)
			return
		}

		transcript := model.Transcript{
			Text:      text,
			Signature: rec.id + ":" + text,
			Source:    rec.source,
			Language:  rec.language,
		}

		s.setState(rec, model.CaptureStateIdle)
		rec.transcript = &transcript

		s.sink.Emit(events.Event{
			Type:     events.CaptureFinal,
			Text:     transcript.Text,
			Language: string(transcript.Language),
			Attrs: map[string]string{
				"recording_id": rec.id,
				"source":       string(transcript.Source),
			},
		})
		logger.Info("Transcript finalized",
			zap.String("recording_id", rec.id),
			zap.String("source", string(transcript.Source)),
			zap.Int("length", len(transcript.Text)))

		if spontaneous {
			surface = handler
		}
	})

	if surface != nil && rec.transcript != nil {
		surface(*rec.transcript)
	}
}

// Stop ends the recording and returns its transcript. With no recording in
// progress it does nothing and returns nil, nil.
func (s *Session) Stop(ctx context.Context) (*model.Transcript, error) {
	s.mu.Lock()
	rec := s.current
	state := s.state
	switch {
	case rec == nil, state == model.CaptureStateStopping:
		s.mu.Unlock()
		return nil, nil
	case rec.stream == nil, state != model.CaptureStateRecording:
		s.mu.Unlock()
		// still starting, nothing was heard yet
		s.Abort()
		return nil, nil
	}
	rec.stopRequested = true
	s.mu.Unlock()

	s.setState(rec, model.CaptureStateStopping)

	if err := rec.stream.Stop(); err != nil {
		logger.Warn("Failed to stop recognition cleanly", zap.Error(err))
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		s.Abort()
		return nil, ctx.Err()
	}

	return rec.transcript, rec.err
}

// Abort discards the recording in progress without producing a transcript
func (s *Session) Abort() {
	s.mu.Lock()
	rec := s.current
	if rec == nil {
		s.mu.Unlock()
		return
	}
	rec.discarded = true
	stream := rec.stream
	s.current = nil
	s.state = model.CaptureStateIdle
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Abort()
	}
	rec.cancel()
	s.emitState(model.CaptureStateIdle, rec.id)
}

// Close discards any recording in progress. The session cannot record
// afterwards.
func (s *Session) Close() {
	s.Abort()
	s.cancel()
}

// State returns the current capture state
func (s *Session) State() model.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LiveText is the in-progress transcript for display
func (s *Session) LiveText() string {
	s.mu.Lock()
	rec := s.current
	s.mu.Unlock()
	if rec == nil {
		return ""
	}
	return rec.agg.Live()
}

func (s *Session) isDiscarded(rec *recording) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rec.discarded
}

// setState updates the state only while rec is the current recording
func (s *Session) setState(rec *recording, state model.CaptureState) {
	s.mu.Lock()
	if s.current != rec || rec.discarded {
		s.mu.Unlock()
		return
	}
	s.state = state
	if state == model.CaptureStateIdle {
		s.current = nil
	}
	s.mu.Unlock()

	s.emitState(state, rec.id)
}

func (s *Session) fail(rec *recording, err error) {
	if s.isDiscarded(rec) {
		return
	}
	s.setState(rec, model.CaptureStateIdle)
	if errors.Is(err, context.Canceled) {
		return
	}
	s.emitError(err)
	logger.Warn("Capture failed", zap.String("recording_id", rec.id), zap.Error(err))
}

func (s *Session) emitState(state model.CaptureState, recordingID string) {
	s.sink.Emit(events.Event{
		Type:  events.CaptureStateChanged,
		State: string(state),
		Attrs: map[string]string{"recording_id": recordingID},
	})
}

func (s *Session) emitError(err error) {
	s.sink.Emit(events.Event{Type: events.CaptureError, Error: err.Error()})
}
