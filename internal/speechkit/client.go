package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"healthvoice/internal/audio"
	"healthvoice/internal/storage"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

const (
	RecognizeURL  = "https://transcribe.api.cloud.yandex.net/speech/stt/v2/longRunningRecognize"
	OperationURL  = "https://operation.api.cloud.yandex.net/operations"
	OperationPoll = 2 * time.Second
	MaxWaitTime   = 2 * time.Minute
)

// Stager uploads a clip somewhere SpeechKit can read it
type Stager interface {
	Stage(ctx context.Context, clip model.AudioClip, extension string) (storage.StagedClip, error)
	Remove(ctx context.Context, key string) error
}

type Config struct {
	APIKey       string
	FolderID     string
	RecognizeURL string
	OperationURL string
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Client transcribes finished recordings with Yandex SpeechKit long running
// recognition
type Client struct {
	cfg    Config
	stager Stager
	client *http.Client
}

func NewClient(cfg Config, stager Stager) *Client {
	if cfg.RecognizeURL == "" {
		cfg.RecognizeURL = RecognizeURL
	}
	if cfg.OperationURL == "" {
		cfg.OperationURL = OperationURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = OperationPoll
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = MaxWaitTime
	}
	return &Client{
		cfg:    cfg,
		stager: stager,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transcribe stages the recording as raw PCM and waits for the recognition
func (c *Client) Transcribe(ctx context.Context, clip model.AudioClip, language model.Language) (string, error) {
	pcm, format, err := audio.DecodeWAV(clip.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode recording: %w", err)
	}

	staged, err := c.stager.Stage(ctx, model.AudioClip{Data: pcm, MimeType: "audio/l16"}, ".pcm")
	if err != nil {
		return "", fmt.Errorf("failed to stage recording: %w: %w", model.ErrRemoteService, err)
	}
	defer func() {
		if err := c.stager.Remove(context.WithoutCancel(ctx), staged.Key); err != nil {
			logger.Warn("Failed to remove staged recording", zap.String("key", staged.Key), zap.Error(err))
		}
	}()

	operationID, err := c.StartRecognition(ctx, staged.URL, language, format)
	if err != nil {
		return "", err
	}

	result, err := c.WaitForResult(ctx, operationID)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// StartRecognition submits the staged audio and returns the operation id
func (c *Client) StartRecognition(ctx context.Context, uri string, language model.Language, format audio.Format) (string, error) {
	reqBody := RecognitionRequest{
		Config: RecognitionConfig{
			Specification: Specification{
				LanguageCode:      language.PreferredLocale(),
				Model:             "general",
				AudioEncoding:     "LINEAR16_PCM",
				SampleRateHertz:   format.SampleRate,
				AudioChannelCount: format.Channels,
				LiteratureText:    true,
			},
			FolderID: c.cfg.FolderID,
		},
		Audio: AudioSource{URI: uri},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RecognizeURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debug("Starting speech recognition", zap.String("uri", uri))

	var op Operation
	if err := c.doJSON(req, &op); err != nil {
		return "", fmt.Errorf("recognition request failed: %w", err)
	}

	logger.Info("Recognition started", zap.String("operation_id", op.ID))
	return op.ID, nil
}

// WaitForResult polls the operation until it is done, ctx ends or the
// maximum wait passes
func (c *Client) WaitForResult(ctx context.Context, operationID string) (*RecognitionResult, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.cfg.OperationURL, "/"), operationID)
	startTime := time.Now()

	for {
		if time.Since(startTime) > c.cfg.MaxWait {
			return nil, fmt.Errorf("%w: recognition timeout exceeded", model.ErrRemoteService)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		var op Operation
		if err := c.doJSON(req, &op); err != nil {
			return nil, fmt.Errorf("operation check failed: %w", err)
		}

		if op.Done {
			if op.Error != nil {
				return nil, fmt.Errorf("%w: recognition failed: %s (code: %d)", model.ErrRemoteService, op.Error.Message, op.Error.Code)
			}

			result := op.Response
			if result == nil {
				result = &RecognitionResult{}
			}
			logger.Info("Recognition completed",
				zap.String("operation_id", operationID),
				zap.Int("chunks", len(result.Chunks)))
			return result, nil
		}

		logger.Debug("Recognition in progress",
			zap.String("operation_id", operationID),
			zap.Duration("elapsed", time.Since(startTime)))

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Authorization", fmt.Sprintf("Api-Key %s", c.cfg.APIKey))
	if c.cfg.FolderID != "" {
		req.Header.Set("x-folder-id", c.cfg.FolderID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrRemoteService, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status=%d, body=%s", model.ErrRemoteService, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// Text joins the first alternative of every chunk
func (r *RecognitionResult) Text() string {
	parts := make([]string, 0, len(r.Chunks))
	for _, chunk := range r.Chunks {
		if len(chunk.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(chunk.Alternatives[0].Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
