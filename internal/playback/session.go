package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"healthvoice/internal/events"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

const (
	DefaultCatalogTimeout = 300 * time.Millisecond
	DefaultRetryDelay     = 80 * time.Millisecond
)

type Config struct {
	CatalogTimeout time.Duration
	RetryDelay     time.Duration
}

// Session speaks one utterance at a time. Every Speak or Stop starts a new
// generation; engine and output callbacks from older generations are ignored.
type Session struct {
	engine LocalEngine
	cloud  CloudSynthesizer
	output AudioOutput
	gate   *Gate
	sink   events.Sink
	cfg    Config

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	genCtx     context.Context
	state      model.SpeechState
	pending    *pendingClip
}

// pendingClip is cloud audio refused by the output, waiting for EnableAudio
type pendingClip struct {
	generation uint64
	utterance  model.Utterance
	clip       model.AudioClip
}

// NewSession builds a playback session. engine and cloud may each be nil;
// cloud requires output.
func NewSession(engine LocalEngine, cloud CloudSynthesizer, output AudioOutput, sink events.Sink, cfg Config) *Session {
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = DefaultCatalogTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if sink == nil {
		sink = events.Nop
	}
	if output == nil {
		cloud = nil
	}

	s := &Session{
		engine: engine,
		cloud:  cloud,
		output: output,
		sink:   sink,
		cfg:    cfg,
		state:  model.SpeechStateIdle,
		genCtx: context.Background(),
	}
	if output != nil {
		s.gate = NewGate(output, sink)
	}
	return s
}

// Gate exposes the autoplay gate, nil without an audio output
func (s *Session) Gate() *Gate {
	return s.gate
}

func (s *Session) State() model.SpeechState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Supported reports whether any synthesis path is configured
func (s *Session) Supported() bool {
	return s.engine != nil || s.cloud != nil
}

// Speak halts whatever is playing and starts text. It returns once playback
// has started; completion and late failures are reported as events.
func (s *Session) Speak(ctx context.Context, text string, language model.Language) error {
	text = strings.TrimSpace(text)
	if text == "" {
		s.sink.Emit(events.Event{
			Type:     events.SpeechWarning,
			Language: string(language),
			Error:    model.ErrNothingToSay.Error(),
		})
		return model.ErrNothingToSay
	}
	if !s.Supported() {
		return model.ErrSpeechUnavailable
	}

	gen, genCtx := s.begin()

	// synthesis is bound to both the caller and the generation
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(genCtx, cancel)
	defer stop()

	s.awaitCatalog(callCtx)

	utterance := model.Utterance{
		Text:       text,
		Language:   language,
		Locale:     language.PreferredLocale(),
		Generation: gen,
	}

	var voice *model.Voice
	if s.engine != nil {
		voice = SelectVoice(s.engine.Voices(), language)
	}

	if voice == nil {
		if s.cloud != nil {
			return s.speakCloud(callCtx, genCtx, utterance)
		}
		s.warn(gen, language, events.WarningNoLocalVoice, nil)
		return s.speakLocal(genCtx, neutral(utterance), false)
	}

	utterance.Voice = voice
	utterance.Locale = voice.Locale
	return s.speakLocal(genCtx, utterance, false)
}

// Stop halts playback and invalidates every outstanding callback
func (s *Session) Stop() {
	gen, _ := s.begin()

	s.mu.Lock()
	wasSpeaking := s.state == model.SpeechStateSpeaking
	s.state = model.SpeechStateIdle
	s.mu.Unlock()

	if wasSpeaking {
		s.sink.Emit(events.Event{
			Type:       events.SpeechEnded,
			Generation: gen,
			Attrs:      map[string]string{"reason": "stopped"},
		})
	}
}

// EnableAudio is the user gesture that unlocks the output. A clip refused for
// the current generation is played without synthesizing it again.
func (s *Session) EnableAudio(ctx context.Context) error {
	if s.gate == nil {
		return model.ErrSpeechUnavailable
	}
	if err := s.gate.Unlock(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	genCtx := s.genCtx
	current := pending != nil && pending.generation == s.generation
	s.mu.Unlock()

	if !current {
		return nil
	}
	logger.Debug("Replaying pending clip", zap.Uint64("generation", pending.generation))
	return s.playClip(genCtx, pending.utterance, pending.clip)
}

// Close stops playback for good
func (s *Session) Close() {
	s.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

// begin starts a new generation, cancelling the previous one
func (s *Session) begin() (uint64, context.Context) {
	genCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	s.cancel = cancel
	s.genCtx = genCtx
	s.pending = nil
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.Cancel()
	}
	if s.output != nil {
		if err := s.output.Stop(); err != nil {
			logger.Debug("Failed to stop audio output", zap.Error(err))
		}
	}
	return gen, genCtx
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

func (s *Session) awaitCatalog(ctx context.Context) {
	if s.engine == nil {
		return
	}
	ready := s.engine.CatalogReady()
	select {
	case <-ready:
		return
	default:
	}

	timer := time.NewTimer(s.cfg.CatalogTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		logger.Debug("Voice catalog not ready, continuing")
	case <-ctx.Done():
	}
}

func (s *Session) speakCloud(ctx, genCtx context.Context, utterance model.Utterance) error {
	utterance.Engine = model.EngineCloud
	gen := utterance.Generation

	clip, err := s.cloud.Synthesize(ctx, utterance.Text, utterance.Language)
	if !s.isCurrent(gen) {
		return context.Canceled
	}
	if err != nil {
		if s.engine == nil {
			s.fail(gen, utterance, err)
			return err
		}
		s.warn(gen, utterance.Language, events.WarningFallbackVoice, err)
		return s.speakLocal(genCtx, neutral(utterance), false)
	}

	return s.playClip(genCtx, utterance, clip)
}

// playClip passes the clip through the gate and the output. A refused clip
// is kept for EnableAudio.
func (s *Session) playClip(genCtx context.Context, utterance model.Utterance, clip model.AudioClip) error {
	gen := utterance.Generation

	err := s.gate.Ensure(genCtx)
	if err == nil {
		if s.engine != nil {
			s.engine.Cancel()
		}
		err = s.output.Play(genCtx, clip, func(playErr error) {
			s.onClipDone(utterance, playErr)
		})
		if errors.Is(err, model.ErrAutoplayBlocked) {
			s.gate.Reject()
		}
	}

	if err != nil {
		if !s.isCurrent(gen) {
			return context.Canceled
		}
		if errors.Is(err, model.ErrAutoplayBlocked) {
			s.mu.Lock()
			s.pending = &pendingClip{generation: gen, utterance: utterance, clip: clip}
			s.mu.Unlock()
			return model.ErrAutoplayBlocked
		}
		err = fmt.Errorf("failed to play synthesized speech: %w", err)
		s.fail(gen, utterance, err)
		return err
	}

	s.started(utterance)
	return nil
}

func (s *Session) onClipDone(utterance model.Utterance, err error) {
	if !s.isCurrent(utterance.Generation) {
		return
	}
	if err != nil {
		s.fail(utterance.Generation, utterance, fmt.Errorf("failed to play synthesized speech: %w", err))
		return
	}
	s.ended(utterance)
}

func (s *Session) speakLocal(genCtx context.Context, utterance model.Utterance, retried bool) error {
	utterance.Engine = model.EngineLocal

	err := s.engine.Speak(genCtx, utterance, func(event EngineEvent) {
		s.onEngineEvent(genCtx, utterance, retried, event)
	})
	if err == nil {
		return nil
	}
	if !s.isCurrent(utterance.Generation) || isSwallowed(err) {
		return nil
	}
	if retried {
		err = mapEngineError(err)
		s.fail(utterance.Generation, utterance, err)
		return err
	}
	if !s.sleep(genCtx) {
		return nil
	}
	return s.speakLocal(genCtx, neutral(utterance), true)
}

func (s *Session) onEngineEvent(genCtx context.Context, utterance model.Utterance, retried bool, event EngineEvent) {
	if !s.isCurrent(utterance.Generation) {
		return
	}

	switch event.Kind {
	case EngineStarted:
		s.started(utterance)
	case EngineEnded:
		s.ended(utterance)
	case EngineFailed:
		if isSwallowed(event.Err) {
			logger.Debug("Speech engine interrupted", zap.Error(event.Err))
			s.setIdle(utterance.Generation)
			return
		}
		if retried {
			s.fail(utterance.Generation, utterance, mapEngineError(event.Err))
			return
		}
		logger.Warn("Local speech failed, retrying with neutral voice",
			zap.String("language", string(utterance.Language)),
			zap.Error(event.Err),
		)
		go func() {
			if !s.sleep(genCtx) {
				return
			}
			_ = s.speakLocal(genCtx, neutral(utterance), true)
		}()
	}
}

func (s *Session) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) started(utterance model.Utterance) {
	s.mu.Lock()
	if s.generation != utterance.Generation {
		s.mu.Unlock()
		return
	}
	s.state = model.SpeechStateSpeaking
	s.mu.Unlock()

	s.sink.Emit(events.Event{
		Type:       events.SpeechStarted,
		Text:       utterance.Text,
		Language:   string(utterance.Language),
		Engine:     string(utterance.Engine),
		Generation: utterance.Generation,
	})
}

func (s *Session) ended(utterance model.Utterance) {
	if !s.setIdle(utterance.Generation) {
		return
	}
	s.sink.Emit(events.Event{
		Type:       events.SpeechEnded,
		Language:   string(utterance.Language),
		Engine:     string(utterance.Engine),
		Generation: utterance.Generation,
	})
}

func (s *Session) fail(gen uint64, utterance model.Utterance, err error) {
	if !s.setIdle(gen) {
		return
	}
	logger.Warn("Speech playback failed",
		zap.String("engine", string(utterance.Engine)),
		zap.Uint64("generation", gen),
		zap.Error(err),
	)
	s.sink.Emit(events.Event{
		Type:       events.SpeechError,
		Language:   string(utterance.Language),
		Engine:     string(utterance.Engine),
		Generation: gen,
		Error:      err.Error(),
	})
}

func (s *Session) warn(gen uint64, language model.Language, warning string, cause error) {
	event := events.Event{
		Type:       events.SpeechWarning,
		Text:       warning,
		Language:   string(language),
		Generation: gen,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	s.sink.Emit(event)
}

func (s *Session) setIdle(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.state = model.SpeechStateIdle
	return true
}

// neutral drops the selected voice so the engine uses its default
func neutral(utterance model.Utterance) model.Utterance {
	utterance.Voice = nil
	utterance.Locale = utterance.Language.DefaultLocale()
	utterance.Engine = model.EngineLocal
	return utterance
}
