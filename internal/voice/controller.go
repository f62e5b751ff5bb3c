package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"healthvoice/internal/events"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultCity = "Nagpur"

var (
	ErrSuperseded  = errors.New("superseded by a newer request")
	ErrNoTriage    = errors.New("no triage result to summarize")
	ErrNoRecipient = errors.New("no recipient configured for the summary")
)

// Assistant is the remote triage and eligibility service
type Assistant interface {
	Triage(ctx context.Context, text string, language model.Language) (*model.TriageResult, error)
	Eligibility(ctx context.Context, profile model.ApplicantProfile) (*model.EligibilityResult, error)
}

// Capturer records the user's speech
type Capturer interface {
	Start(ctx context.Context, language model.Language) error
	Stop(ctx context.Context) (*model.Transcript, error)
	Abort()
	OnTranscript(fn func(model.Transcript))
}

// Speaker plays assistant replies
type Speaker interface {
	Speak(ctx context.Context, text string, language model.Language) error
	Stop()
	EnableAudio(ctx context.Context) error
}

// Notifier delivers conversation summaries
type Notifier interface {
	Send(ctx context.Context, payload model.SummaryPayload) (*model.DeliveryRequest, error)
	Resend(ctx context.Context, payload model.SummaryPayload) (*model.DeliveryRequest, error)
}

// Settings are the user preferences of a voice session
type Settings struct {
	Language       model.Language
	AutoVoiceReply bool
	AutoNotify     bool
	Recipient      string
	City           string
}

// Controller runs the listen, triage, reply and notify loop. Replies and
// summaries run in the background as independent flows; Wait blocks until
// they are done.
type Controller struct {
	capture   Capturer
	speaker   Speaker
	notifier  Notifier
	assistant Assistant
	sink      events.Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	settings         Settings
	epoch            uint64
	eligibilityEpoch uint64
	triage           *model.TriageResult
	eligibility      *model.EligibilityResult
	closed           bool
}

// NewController wires the session components. notifier may be nil when
// summaries are disabled.
func NewController(capture Capturer, speaker Speaker, notifier Notifier, assistant Assistant, sink events.Sink, settings Settings) *Controller {
	if sink == nil {
		sink = events.Nop
	}
	if settings.Language == "" {
		settings.Language = model.LanguageEnglish
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		capture:   capture,
		speaker:   speaker,
		notifier:  notifier,
		assistant: assistant,
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
		settings:  settings,
	}

	if capture != nil {
		capture.OnTranscript(func(transcript model.Transcript) {
			c.spawn(func(ctx context.Context) {
				if _, err := c.HandleTranscript(ctx, transcript); err != nil && !errors.Is(err, ErrSuperseded) {
					logger.Warn("Failed to handle transcript", zap.Error(err))
				}
			})
		})
	}
	return c
}

func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings replaces the preferences used by later requests
func (c *Controller) UpdateSettings(settings Settings) {
	if settings.Language == "" {
		settings.Language = model.LanguageEnglish
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()

	logger.Debug("Voice settings updated",
		zap.String("language", string(settings.Language)),
		zap.Bool("auto_voice_reply", settings.AutoVoiceReply),
		zap.Bool("auto_notify", settings.AutoNotify),
	)
}

// Triage returns the latest accepted triage result
func (c *Controller) Triage() *model.TriageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triage
}

// Eligibility returns the latest eligibility result
func (c *Controller) Eligibility() *model.EligibilityResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eligibility
}

// StartListening silences any reply and opens the microphone
func (c *Controller) StartListening(ctx context.Context) error {
	if c.capture == nil {
		return model.ErrCaptureUnsupported
	}
	if c.speaker != nil {
		c.speaker.Stop()
	}
	return c.capture.Start(ctx, c.Settings().Language)
}

// StopListening ends the recording and submits its transcript. Without a
// transcript it returns nil, nil.
func (c *Controller) StopListening(ctx context.Context) (*model.TriageResult, error) {
	if c.capture == nil {
		return nil, model.ErrCaptureUnsupported
	}
	transcript, err := c.capture.Stop(ctx)
	if err != nil {
		return nil, err
	}
	if transcript == nil {
		return nil, nil
	}
	return c.HandleTranscript(ctx, *transcript)
}

// HandleTranscript submits a finalized transcript for triage
func (c *Controller) HandleTranscript(ctx context.Context, transcript model.Transcript) (*model.TriageResult, error) {
	logger.Info("Transcript received",
		zap.String("signature", transcript.Signature),
		zap.String("source", string(transcript.Source)),
	)
	return c.SubmitText(ctx, transcript.Text)
}

// SubmitText sends symptoms for triage. A result arriving after a newer
// submission is dropped with ErrSuperseded.
func (c *Controller) SubmitText(ctx context.Context, text string) (*model.TriageResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.ErrNothingToSay
	}

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	settings := c.settings
	c.mu.Unlock()

	result, err := c.assistant.Triage(ctx, text, settings.Language)

	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		logger.Debug("Dropping stale triage response", zap.Uint64("epoch", epoch))
		return nil, ErrSuperseded
	}
	if err == nil {
		c.triage = result
	}
	c.mu.Unlock()

	if err != nil {
		c.emitAssistantError("triage", err)
		return nil, fmt.Errorf("failed to triage symptoms: %w", err)
	}

	c.sink.Emit(events.Event{
		Type:     events.TriageCompleted,
		Text:     TriageText(result, settings.Language),
		State:    result.RiskLevel,
		Language: string(settings.Language),
		Attrs:    map[string]string{"emergency": fmt.Sprint(result.EmergencyFlag)},
	})

	c.spawn(func(ctx context.Context) {
		c.reply(ctx, settings, TriageText(result, settings.Language), true)
	})
	return result, nil
}

// CheckEligibility runs the eligibility check and replies like SubmitText
func (c *Controller) CheckEligibility(ctx context.Context, profile model.ApplicantProfile) (*model.EligibilityResult, error) {
	c.mu.Lock()
	c.eligibilityEpoch++
	epoch := c.eligibilityEpoch
	settings := c.settings
	c.mu.Unlock()

	result, err := c.assistant.Eligibility(ctx, profile)

	c.mu.Lock()
	if c.eligibilityEpoch != epoch || c.closed {
		c.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err == nil {
		c.eligibility = result
	}
	hasTriage := c.triage != nil
	c.mu.Unlock()

	if err != nil {
		c.emitAssistantError("eligibility", err)
		return nil, fmt.Errorf("failed to check eligibility: %w", err)
	}

	c.sink.Emit(events.Event{
		Type:     events.EligibilityCompleted,
		Text:     EligibilityText(result, settings.Language),
		State:    fmt.Sprint(result.Eligible),
		Language: string(settings.Language),
	})

	c.spawn(func(ctx context.Context) {
		c.reply(ctx, settings, EligibilityText(result, settings.Language), hasTriage)
	})
	return result, nil
}

// reply speaks text and sends the summary concurrently. A failure in one
// flow does not stop the other.
func (c *Controller) reply(ctx context.Context, settings Settings, text string, notify bool) {
	var g errgroup.Group

	if settings.AutoVoiceReply && c.speaker != nil {
		g.Go(func() error {
			if err := c.speaker.Speak(ctx, text, settings.Language); err != nil {
				return fmt.Errorf("failed to speak reply: %w", err)
			}
			return nil
		})
	}

	if notify && settings.AutoNotify && c.notifier != nil && strings.TrimSpace(settings.Recipient) != "" {
		g.Go(func() error {
			if _, err := c.sendSummary(ctx, settings, false); err != nil {
				return fmt.Errorf("failed to send summary: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if model.IsRecoverable(err) {
			logger.Info("Reply needs user action", zap.Error(err))
			return
		}
		logger.Warn("Reply flow failed", zap.Error(err))
	}
}

// PlayTriageReply speaks the latest triage result again
func (c *Controller) PlayTriageReply(ctx context.Context) error {
	language := c.Settings().Language
	return c.speak(ctx, TriageText(c.Triage(), language), language)
}

// PlayEligibilityReply speaks the latest eligibility result again
func (c *Controller) PlayEligibilityReply(ctx context.Context) error {
	language := c.Settings().Language
	return c.speak(ctx, EligibilityText(c.Eligibility(), language), language)
}

func (c *Controller) speak(ctx context.Context, text string, language model.Language) error {
	if c.speaker == nil {
		return model.ErrSpeechUnavailable
	}
	return c.speaker.Speak(ctx, text, language)
}

func (c *Controller) StopSpeaking() {
	if c.speaker != nil {
		c.speaker.Stop()
	}
}

// EnableAudio is the user gesture that unlocks playback
func (c *Controller) EnableAudio(ctx context.Context) error {
	if c.speaker == nil {
		return model.ErrSpeechUnavailable
	}
	return c.speaker.EnableAudio(ctx)
}

// SendSummaryNow sends the summary even if it was already sent
func (c *Controller) SendSummaryNow(ctx context.Context) (*model.DeliveryRequest, error) {
	return c.sendSummary(ctx, c.Settings(), true)
}

func (c *Controller) sendSummary(ctx context.Context, settings Settings, force bool) (*model.DeliveryRequest, error) {
	if c.notifier == nil {
		return nil, model.ErrProviderMisconfigured
	}

	c.mu.Lock()
	payload, ok := SummaryPayload(settings, c.triage, c.eligibility)
	c.mu.Unlock()

	if !ok {
		return nil, ErrNoTriage
	}
	if payload.PhoneNumber == "" {
		return nil, ErrNoRecipient
	}

	if force {
		return c.notifier.Resend(ctx, payload)
	}
	return c.notifier.Send(ctx, payload)
}

// Close stops capture and playback and cancels background flows
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if c.capture != nil {
		c.capture.Abort()
	}
	if c.speaker != nil {
		c.speaker.Stop()
	}
}

// Wait blocks until background reply flows finish
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) spawn(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *Controller) emitAssistantError(kind string, err error) {
	logger.Warn("Assistant request failed", zap.String("kind", kind), zap.Error(err))
	c.sink.Emit(events.Event{
		Type:  events.AssistantError,
		Error: err.Error(),
		Attrs: map[string]string{"kind": kind},
	})
}
