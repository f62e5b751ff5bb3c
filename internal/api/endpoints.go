package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"healthvoice/pkg/model"
)

// Token is the bearer credential issued by /auth/login
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SignupRequest registers a backend account
type SignupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	State    string `json:"state,omitempty"`
}

type triageRequest struct {
	SymptomText string         `json:"symptom_text"`
	Language    model.Language `json:"language"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
	Disclaimer string `json:"disclaimer"`
}

type ttsRequest struct {
	Text     string         `json:"text"`
	Language model.Language `json:"language,omitempty"`
}

type ttsResponse struct {
	AudioBase64 string `json:"audio_base64"`
	MimeType    string `json:"mime_type"`
	Provider    string `json:"provider"`
}

// Login exchanges credentials for a bearer token
func (c *Client) Login(ctx context.Context, email, password string) (*Token, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req := request{
		method:      http.MethodPost,
		path:        "/auth/login",
		contentType: "application/x-www-form-urlencoded",
		body:        []byte(form.Encode()),
	}

	var token Token
	if err := c.do(ctx, req, &token); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("login returned an empty token: %w", model.ErrRemoteService)
	}
	return &token, nil
}

// Signup creates an account
func (c *Client) Signup(ctx context.Context, payload SignupRequest) error {
	req, err := jsonRequest(http.MethodPost, "/auth/signup", payload, false)
	if err != nil {
		return err
	}
	if err := c.do(ctx, req, nil); err != nil {
		return fmt.Errorf("failed to sign up: %w", err)
	}
	return nil
}

// Triage submits symptom text and returns the advisory
func (c *Client) Triage(ctx context.Context, text string, language model.Language) (*model.TriageResult, error) {
	req, err := jsonRequest(http.MethodPost, "/triage", triageRequest{SymptomText: text, Language: language}, true)
	if err != nil {
		return nil, err
	}

	var result model.TriageResult
	if err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("failed to run triage: %w", err)
	}
	return &result, nil
}

// Eligibility evaluates an applicant profile against the benefit schemes
func (c *Client) Eligibility(ctx context.Context, profile model.ApplicantProfile) (*model.EligibilityResult, error) {
	req, err := jsonRequest(http.MethodPost, "/eligibility", profile, true)
	if err != nil {
		return nil, err
	}

	var result model.EligibilityResult
	if err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("failed to check eligibility: %w", err)
	}
	return &result, nil
}

// Transcribe uploads a recorded clip as multipart "file" and returns the text
func (c *Client) Transcribe(ctx context.Context, clip model.AudioClip, _ model.Language) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "recording"+extensionFor(clip.MimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req := request{
		method:      http.MethodPost,
		path:        "/voice/transcribe",
		contentType: writer.FormDataContentType(),
		body:        buf.Bytes(),
	}

	var resp transcribeResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Transcript), nil
}

// Synthesize asks the cloud voice for text and decodes the returned audio
func (c *Client) Synthesize(ctx context.Context, text string, language model.Language) (model.AudioClip, error) {
	req, err := jsonRequest(http.MethodPost, "/voice/tts", ttsRequest{Text: text, Language: language}, false)
	if err != nil {
		return model.AudioClip{}, err
	}

	var resp ttsResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return model.AudioClip{}, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return model.AudioClip{}, fmt.Errorf("failed to decode synthesized audio: %w: %w", model.ErrRemoteService, err)
	}
	if len(data) == 0 {
		return model.AudioClip{}, fmt.Errorf("synthesized audio is empty: %w", model.ErrRemoteService)
	}

	mimeType := resp.MimeType
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	return model.AudioClip{Data: data, MimeType: mimeType}, nil
}

// SendSummary posts the conversation summary to the notification provider
func (c *Client) SendSummary(ctx context.Context, payload model.SummaryPayload) (model.DeliveryReceipt, error) {
	req, err := jsonRequest(http.MethodPost, "/whatsapp/send-conversation-summary", payload, true)
	if err != nil {
		return model.DeliveryReceipt{}, err
	}

	var receipt model.DeliveryReceipt
	if err := c.do(ctx, req, &receipt); err != nil {
		return model.DeliveryReceipt{}, fmt.Errorf("failed to send summary: %w", err)
	}
	return receipt, nil
}

// DeliveryStatus fetches the current provider status of a sent summary
func (c *Client) DeliveryStatus(ctx context.Context, id int64) (model.DeliveryReceipt, error) {
	req := request{
		method: http.MethodGet,
		path:   "/whatsapp/status/" + strconv.FormatInt(id, 10),
		route:  "/whatsapp/status/{id}",
		auth:   true,
	}

	var receipt model.DeliveryReceipt
	if err := c.do(ctx, req, &receipt); err != nil {
		return model.DeliveryReceipt{}, fmt.Errorf("failed to fetch delivery status: %w", err)
	}
	return receipt, nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/webm":
		return ".webm"
	}
	return ".wav"
}
