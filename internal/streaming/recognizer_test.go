package streaming

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"healthvoice/internal/audio"
	"healthvoice/internal/capture"
	"healthvoice/pkg/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMicStream struct {
	chunks  chan []byte
	stopped chan struct{}
	once    sync.Once
}

func newFakeMicStream(chunks ...[]byte) *fakeMicStream {
	s := &fakeMicStream{
		chunks:  make(chan []byte, len(chunks)),
		stopped: make(chan struct{}),
	}
	for _, c := range chunks {
		s.chunks <- c
	}
	return s
}

func (s *fakeMicStream) Read(p []byte) (int, error) {
	select {
	case c := <-s.chunks:
		return copy(p, c), nil
	default:
	}
	select {
	case c := <-s.chunks:
		return copy(p, c), nil
	case <-s.stopped:
		return 0, io.EOF
	}
}

func (s *fakeMicStream) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

type fakeMic struct {
	stream *fakeMicStream
	err    error
}

func (m *fakeMic) Open(ctx context.Context) (audio.PCMStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func (m *fakeMic) Format() audio.Format { return audio.DefaultFormat }

func TestBuildListenURL(t *testing.T) {
	cfg := Config{URL: "https://api.deepgram.com/v1/", Model: "nova-2"}

	raw, err := buildListenURL(cfg, model.LanguageHindi, audio.DefaultFormat)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wss", parsed.Scheme)
	assert.Equal(t, "/v1/listen", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "nova-2", q.Get("model"))
	assert.Equal(t, "linear16", q.Get("encoding"))
	assert.Equal(t, "16000", q.Get("sample_rate"))
	assert.Equal(t, "1", q.Get("channels"))
	assert.Equal(t, "true", q.Get("interim_results"))
	assert.Equal(t, "hi-IN", q.Get("language"))
}

func TestBuildListenURL_InvalidScheme(t *testing.T) {
	_, err := buildListenURL(Config{URL: "ftp://example.com"}, model.LanguageEnglish, audio.DefaultFormat)
	assert.Error(t, err)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    capture.Fragment
		ok      bool
		wantErr bool
	}{
		{
			name:    "interim",
			payload: `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":" mujhe "}]}}`,
			want:    capture.Fragment{Text: "mujhe"},
			ok:      true,
		},
		{
			name:    "final",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"fever since two days"}]}}`,
			want:    capture.Fragment{Text: "fever since two days", Final: true},
			ok:      true,
		},
		{
			name:    "speech final",
			payload: `{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":"cough"}]}}`,
			want:    capture.Fragment{Text: "cough", Final: true},
			ok:      true,
		},
		{name: "empty transcript", payload: `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "metadata", payload: `{"type":"Metadata","request_id":"abc"}`},
		{name: "garbage", payload: `not json`},
		{name: "error", payload: `{"type":"Error","message":"bad key"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fragment, ok, err := parseResult([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrRemoteService)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, fragment)
		})
	}
}

func newListenServer(t *testing.T, authSeen chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen <- r.Header.Get("Authorization")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sentInterim := false
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage && !sentInterim {
				sentInterim = true
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"head"}]}}`))
				continue
			}
			if messageType == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"headache and fever"}]}}`))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func TestRecognizer_StreamsFragments(t *testing.T) {
	authSeen := make(chan string, 1)
	server := newListenServer(t, authSeen)
	defer server.Close()

	mic := &fakeMic{stream: newFakeMicStream(make([]byte, 320), make([]byte, 320))}
	recognizer := NewRecognizer(Config{URL: server.URL, APIKey: "secret"}, mic)

	stream, err := recognizer.Start(context.Background(), model.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Token secret", <-authSeen)

	select {
	case <-stream.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("stream never became ready")
	}

	interim := <-stream.Fragments()
	assert.Equal(t, capture.Fragment{Text: "head"}, interim)

	require.NoError(t, stream.Stop())

	var fragments []capture.Fragment
	for fragment := range stream.Fragments() {
		fragments = append(fragments, fragment)
	}
	<-stream.Done()

	assert.Equal(t, []capture.Fragment{{Text: "headache and fever", Final: true}}, fragments)
	assert.NoError(t, stream.Err())
}

func TestRecognizer_AbortEndsWithoutError(t *testing.T) {
	authSeen := make(chan string, 1)
	server := newListenServer(t, authSeen)
	defer server.Close()

	mic := &fakeMic{stream: newFakeMicStream()}
	recognizer := NewRecognizer(Config{URL: server.URL, APIKey: "secret"}, mic)

	stream, err := recognizer.Start(context.Background(), model.LanguageEnglish)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range stream.Fragments() {
		}
		close(done)
	}()

	require.NoError(t, stream.Abort())
	<-done
	assert.NoError(t, stream.Err())
}

func TestRecognizer_MissingKey(t *testing.T) {
	recognizer := NewRecognizer(Config{}, &fakeMic{})

	_, err := recognizer.Start(context.Background(), model.LanguageEnglish)
	assert.ErrorIs(t, err, model.ErrCaptureUnsupported)
}

func TestRecognizer_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	recognizer := NewRecognizer(Config{URL: server.URL, APIKey: "bad"}, &fakeMic{})

	_, err := recognizer.Start(context.Background(), model.LanguageEnglish)
	assert.ErrorIs(t, err, model.ErrRemoteService)
}

func TestRecognizer_MicFailureClosesConnection(t *testing.T) {
	authSeen := make(chan string, 1)
	server := newListenServer(t, authSeen)
	defer server.Close()

	recognizer := NewRecognizer(Config{URL: server.URL, APIKey: "secret"}, &fakeMic{err: model.ErrPermissionDenied})

	_, err := recognizer.Start(context.Background(), model.LanguageEnglish)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}
