package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"healthvoice/internal/audio"
	"healthvoice/internal/capture"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultURL   = "https://api.deepgram.com/v1"
	DefaultModel = "nova-2"

	chunkSize    = 4096
	closeTimeout = 4 * time.Second
)

// Config controls the websocket listen API
type Config struct {
	URL    string
	APIKey string
	Model  string
}

// Recognizer streams microphone audio to a Deepgram style websocket and
// turns its results into capture fragments
type Recognizer struct {
	cfg    Config
	mic    audio.PCMSource
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config, mic audio.PCMSource) *Recognizer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Recognizer{
		cfg:    cfg,
		mic:    mic,
		dialer: websocket.DefaultDialer,
	}
}

func (r *Recognizer) Start(ctx context.Context, language model.Language) (capture.RecognitionStream, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: streaming api key is not configured", model.ErrCaptureUnsupported)
	}

	wsURL, err := buildListenURL(r.cfg, language, r.mic.Format())
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition websocket: %w: %w", model.ErrRemoteService, err)
	}

	mic, err := r.mic.Open(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &stream{
		conn:      conn,
		mic:       mic,
		ready:     make(chan struct{}),
		fragments: make(chan capture.Fragment, 64),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pumpLoop()
	go func() {
		s.wg.Wait()
		close(s.fragments)
		_ = conn.Close()
		close(s.done)
	}()

	logger.Debug("Recognition stream opened", zap.String("language", string(language)))
	return s, nil
}

type stream struct {
	conn *websocket.Conn
	mic  audio.PCMStream

	ready     chan struct{}
	readyOnce sync.Once
	fragments chan capture.Fragment
	done      chan struct{}
	readDone  chan struct{}

	wg      sync.WaitGroup
	writeMu sync.Mutex

	errMu   sync.Mutex
	err     error
	aborted bool

	stopOnce  sync.Once
	abortOnce sync.Once
}

func (s *stream) Ready() <-chan struct{}             { return s.ready }
func (s *stream) Fragments() <-chan capture.Fragment { return s.fragments }
func (s *stream) Done() <-chan struct{}              { return s.done }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop ends the microphone; the pump then asks the server to flush and the
// stream ends when the server closes or the close timeout passes
func (s *stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.mic.Stop()
		go func() {
			select {
			case <-s.readDone:
			case <-time.After(closeTimeout):
				_ = s.conn.Close()
			}
		}()
	})
	return err
}

func (s *stream) Abort() error {
	s.abortOnce.Do(func() {
		s.errMu.Lock()
		s.aborted = true
		s.errMu.Unlock()

		_ = s.mic.Stop()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *stream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.aborted || s.err != nil {
		return
	}
	s.err = err
}

func (s *stream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *stream) pumpLoop() {
	defer s.wg.Done()

	buf := make([]byte, chunkSize)
	for {
		n, err := s.mic.Read(buf)
		if n > 0 {
			if werr := s.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", werr))
				_ = s.mic.Stop()
				return
			}
			s.readyOnce.Do(func() { close(s.ready) })
		}
		if err != nil {
			break
		}
	}

	if err := s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read recognition event: %w", err))
			return
		}

		fragment, ok, err := parseResult(payload)
		if err != nil {
			s.setErr(err)
			return
		}
		if ok {
			s.fragments <- fragment
		}
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResult converts one server message into a fragment. Metadata and
// empty results yield ok=false.
func parseResult(payload []byte) (capture.Fragment, bool, error) {
	var response listenResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return capture.Fragment{}, false, nil
	}

	if strings.EqualFold(response.Type, "Error") {
		message := strings.TrimSpace(response.Message)
		if message == "" {
			message = "recognition service returned an unknown error"
		}
		return capture.Fragment{}, false, fmt.Errorf("%w: %w", model.ErrRemoteService, errors.New(message))
	}

	if len(response.Channel.Alternatives) == 0 {
		return capture.Fragment{}, false, nil
	}
	text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
	if text == "" {
		return capture.Fragment{}, false, nil
	}

	return capture.Fragment{Text: text, Final: response.IsFinal || response.SpeechFinal}, true, nil
}

func buildListenURL(cfg Config, language model.Language, format audio.Format) (string, error) {
	base := strings.TrimSpace(cfg.URL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid recognition URL: %w", err)
	}
	if listenURL.Scheme != "ws" && listenURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid recognition URL scheme %q", listenURL.Scheme)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(format.SampleRate))
	query.Set("channels", strconv.Itoa(format.Channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", "true")
	query.Set("language", language.PreferredLocale())
	listenURL.RawQuery = query.Encode()

	return listenURL.String(), nil
}
