package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"healthvoice/internal/events"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultPollAttempts = 7
)

var (
	ErrNoRecipient   = errors.New("recipient phone number is required")
	ErrTrackerClosed = errors.New("delivery tracker is closed")
)

// Sender is the notification endpoint of the backend
type Sender interface {
	SendSummary(ctx context.Context, payload model.SummaryPayload) (model.DeliveryReceipt, error)
	DeliveryStatus(ctx context.Context, id int64) (model.DeliveryReceipt, error)
}

type Config struct {
	PollInterval time.Duration
	PollAttempts int
}

// Tracker sends conversation summaries and polls the provider until each
// reaches a terminal status. An unchanged summary is sent only once.
type Tracker struct {
	sender Sender
	sink   events.Sink
	cfg    Config

	mu            sync.Mutex
	lastSignature string
	inFlight      map[string]bool
	closed        bool
	closeCtx      context.Context
	cancel        context.CancelFunc
}

func NewTracker(sender Sender, sink events.Sink, cfg Config) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if sink == nil {
		sink = events.Nop
	}

	closeCtx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		sender:   sender,
		sink:     sink,
		cfg:      cfg,
		inFlight: make(map[string]bool),
		closeCtx: closeCtx,
		cancel:   cancel,
	}
}

// Signature identifies a payload for duplicate suppression
func Signature(payload model.SummaryPayload) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Send delivers payload unless the same summary was already sent or is being
// sent. A skipped request is returned with Skipped set.
func (t *Tracker) Send(ctx context.Context, payload model.SummaryPayload) (*model.DeliveryRequest, error) {
	return t.send(ctx, payload, false)
}

// Resend delivers payload even if it matches the last summary sent
func (t *Tracker) Resend(ctx context.Context, payload model.SummaryPayload) (*model.DeliveryRequest, error) {
	return t.send(ctx, payload, true)
}

// Close stops all polling; results arriving afterwards are dropped
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
}

// LastSignature returns the signature of the last successful send
func (t *Tracker) LastSignature() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSignature
}

func (t *Tracker) send(ctx context.Context, payload model.SummaryPayload, force bool) (*model.DeliveryRequest, error) {
	payload.PhoneNumber = strings.TrimSpace(payload.PhoneNumber)
	if payload.PhoneNumber == "" {
		return nil, ErrNoRecipient
	}

	signature := Signature(payload)
	req := &model.DeliveryRequest{Recipient: payload.PhoneNumber, Signature: signature}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTrackerClosed
	}
	if !force && (signature == t.lastSignature || t.inFlight[signature]) {
		t.mu.Unlock()
		req.Skipped = true
		logger.Debug("Skipping duplicate summary", zap.String("signature", signature))
		return req, nil
	}
	t.inFlight[signature] = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inFlight, signature)
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.closeCtx, cancel)
	defer stop()

	receipt, err := t.sender.SendSummary(ctx, payload)
	if err != nil {
		if t.isClosed() {
			return req, ErrTrackerClosed
		}
		t.emitError(req, payload.PreferredLanguage, ErrorMessage(err, payload.PreferredLanguage), err)
		return req, fmt.Errorf("failed to send summary: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return req, ErrTrackerClosed
	}
	t.lastSignature = signature
	t.mu.Unlock()

	req.Apply(receipt)
	t.emitStatus(req, payload.PreferredLanguage)

	logger.Info("Summary sent",
		zap.Int64("delivery_id", req.ID),
		zap.String("status", string(req.Status)),
	)

	if err := t.poll(ctx, req, payload.PreferredLanguage); err != nil {
		return req, err
	}
	return req, t.outcome(req)
}

// poll queries the status until it is terminal or the attempts run out. Each
// query waits one interval first.
func (t *Tracker) poll(ctx context.Context, req *model.DeliveryRequest, language model.Language) error {
	if req.IsCompleted() || req.ID == 0 || t.cfg.PollAttempts == 0 {
		return nil
	}

	failures := 0
	var lastErr error
	for attempt := 1; attempt <= t.cfg.PollAttempts; attempt++ {
		timer := time.NewTimer(t.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if t.isClosed() {
				return ErrTrackerClosed
			}
			return ctx.Err()
		case <-timer.C:
		}

		receipt, err := t.sender.DeliveryStatus(ctx, req.ID)
		if t.isClosed() {
			return ErrTrackerClosed
		}
		req.Attempts = attempt

		if err != nil {
			failures++
			lastErr = err
			logger.Debug("Delivery status poll failed",
				zap.Int64("delivery_id", req.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		req.Apply(receipt)
		t.emitStatus(req, language)
		if req.IsCompleted() {
			return nil
		}
	}

	if failures == req.Attempts {
		req.Unknown = true
		t.emitError(req, language, UnknownStatusMessage(language), lastErr)
		logger.Warn("Delivery status unknown", zap.Int64("delivery_id", req.ID), zap.Error(lastErr))
	}
	return nil
}

// outcome turns a terminal failure caused by provider setup into an error
func (t *Tracker) outcome(req *model.DeliveryRequest) error {
	if req.Status.IsFailure() && strings.TrimSpace(req.ProviderReference) == model.ProviderCodeNotConfigured {
		return model.ErrProviderMisconfigured
	}
	return nil
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) emitStatus(req *model.DeliveryRequest, language model.Language) {
	t.sink.Emit(events.Event{
		Type:     events.DeliveryUpdated,
		State:    string(req.Status),
		Text:     StatusMessage(req.Status, req.ProviderReference, language),
		Language: string(language),
		Attrs:    deliveryAttrs(req),
	})

	if req.Status.IsFailure() {
		t.emitError(req, language, FailureMessage(req.ProviderReference, language), nil)
	}
}

func (t *Tracker) emitError(req *model.DeliveryRequest, language model.Language, message string, cause error) {
	attrs := deliveryAttrs(req)
	switch {
	case req.Unknown:
		attrs["reason"] = model.ReasonStatusUnknown
	case req.Status.IsFailure():
		attrs["reason"] = model.FailureReason(req.ProviderReference)
	}

	event := events.Event{
		Type:     events.DeliveryError,
		State:    string(req.Status),
		Text:     message,
		Language: string(language),
		Attrs:    attrs,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	t.sink.Emit(event)
}

func deliveryAttrs(req *model.DeliveryRequest) map[string]string {
	attrs := map[string]string{
		"recipient": req.Recipient,
		"attempts":  strconv.Itoa(req.Attempts),
	}
	if req.ID != 0 {
		attrs["delivery_id"] = strconv.FormatInt(req.ID, 10)
	}
	if req.ProviderReference != "" {
		attrs["provider_reference"] = req.ProviderReference
	}
	return attrs
}
