package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"healthvoice/internal/events"
	"healthvoice/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	voices    []model.Voice
	ready     chan struct{}
	results   []error
	hold      bool
	calls     []model.Utterance
	callbacks []func(EngineEvent)
	cancels   int
}

func newFakeEngine(voices ...model.Voice) *fakeEngine {
	ready := make(chan struct{})
	close(ready)
	return &fakeEngine{voices: voices, ready: ready}
}

func (e *fakeEngine) Voices() []model.Voice          { return e.voices }
func (e *fakeEngine) CatalogReady() <-chan struct{} { return e.ready }

func (e *fakeEngine) Speak(ctx context.Context, utterance model.Utterance, onEvent func(EngineEvent)) error {
	e.mu.Lock()
	idx := len(e.calls)
	e.calls = append(e.calls, utterance)
	e.callbacks = append(e.callbacks, onEvent)
	hold := e.hold
	var result error
	if idx < len(e.results) {
		result = e.results[idx]
	}
	e.mu.Unlock()

	onEvent(EngineEvent{Kind: EngineStarted})
	if hold {
		return nil
	}
	if result != nil {
		onEvent(EngineEvent{Kind: EngineFailed, Err: result})
		return nil
	}
	onEvent(EngineEvent{Kind: EngineEnded})
	return nil
}

func (e *fakeEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels++
}

func (e *fakeEngine) Calls() []model.Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Utterance(nil), e.calls...)
}

type MockCloud struct {
	mock.Mock
}

func (m *MockCloud) Synthesize(ctx context.Context, text string, language model.Language) (model.AudioClip, error) {
	args := m.Called(ctx, text, language)
	return args.Get(0).(model.AudioClip), args.Error(1)
}

type fakeOutput struct {
	mu     sync.Mutex
	errs   []error
	played []model.AudioClip
	dones  []func(error)
	stops  int
}

func (o *fakeOutput) Play(ctx context.Context, clip model.AudioClip, done func(error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, clip)
	o.dones = append(o.dones, done)
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		return err
	}
	return nil
}

func (o *fakeOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
	return nil
}

// spoken returns the non-silent clips handed to the output
func (o *fakeOutput) spoken() []model.AudioClip {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.AudioClip
	for _, clip := range o.played {
		if clip.MimeType != silentClip.MimeType {
			out = append(out, clip)
		}
	}
	return out
}

var (
	hindiVoice   = model.Voice{Name: "Lekha", Locale: "hi-IN"}
	englishVoice = model.Voice{Name: "Samantha", Locale: "en-US"}
	cloudClip    = model.AudioClip{Data: []byte("mp3"), MimeType: "audio/mpeg"}
)

func testConfig() Config {
	return Config{CatalogTimeout: 10 * time.Millisecond, RetryDelay: time.Millisecond}
}

func TestSelectVoice(t *testing.T) {
	tests := []struct {
		name     string
		voices   []model.Voice
		language model.Language
		want     *model.Voice
	}{
		{
			name:     "exact preferred locale wins over prefix",
			voices:   []model.Voice{englishVoice, {Name: "Rishi", Locale: "en_IN"}},
			language: model.LanguageEnglish,
			want:     &model.Voice{Name: "Rishi", Locale: "en_IN"},
		},
		{
			name:     "language prefix",
			voices:   []model.Voice{hindiVoice, englishVoice},
			language: model.LanguageEnglish,
			want:     &englishVoice,
		},
		{
			name:     "bare language code",
			voices:   []model.Voice{{Name: "Hindi", Locale: "hi"}},
			language: model.LanguageHindi,
			want:     &model.Voice{Name: "Hindi", Locale: "hi"},
		},
		{
			name:     "no match",
			voices:   []model.Voice{englishVoice},
			language: model.LanguageHindi,
		},
		{
			name:     "hindi prefix does not match hindustani lookalike",
			voices:   []model.Voice{{Name: "Other", Locale: "hif"}},
			language: model.LanguageHindi,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectVoice(tt.voices, tt.language))
		})
	}
}

func TestSession_NothingToSay(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	session := NewSession(engine, nil, nil, recorder, testConfig())

	err := session.Speak(context.Background(), "   ", model.LanguageEnglish)

	assert.ErrorIs(t, err, model.ErrNothingToSay)
	assert.Empty(t, engine.Calls())
	assert.Empty(t, recorder.OfType(events.SpeechError))
}

func TestSession_Unsupported(t *testing.T) {
	session := NewSession(nil, nil, nil, nil, testConfig())
	assert.ErrorIs(t, session.Speak(context.Background(), "hello", model.LanguageEnglish), model.ErrSpeechUnavailable)
}

func TestSession_LocalVoice(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice, hindiVoice)
	cloud := &MockCloud{}
	session := NewSession(engine, cloud, &fakeOutput{}, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "aapko bukhar hai", model.LanguageHindi))

	calls := engine.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Voice)
	assert.Equal(t, "Lekha", calls[0].Voice.Name)
	assert.Equal(t, model.EngineLocal, calls[0].Engine)

	started, ok := recorder.Last(events.SpeechStarted)
	require.True(t, ok)
	assert.Equal(t, "local", started.Engine)
	assert.Len(t, recorder.OfType(events.SpeechEnded), 1)
	assert.Equal(t, model.SpeechStateIdle, session.State())
	cloud.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_NoLocalVoiceUsesCloud(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	cloud := &MockCloud{}
	cloud.On("Synthesize", mock.Anything, "jaldi doctor se milen", model.LanguageHindi).Return(cloudClip, nil)
	output := &fakeOutput{}
	session := NewSession(engine, cloud, output, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "jaldi doctor se milen", model.LanguageHindi))

	assert.Empty(t, engine.Calls())
	assert.Equal(t, []model.AudioClip{cloudClip}, output.spoken())
	assert.Equal(t, model.SpeechStateSpeaking, session.State())

	started, ok := recorder.Last(events.SpeechStarted)
	require.True(t, ok)
	assert.Equal(t, "cloud", started.Engine)

	output.mu.Lock()
	done := output.dones[len(output.dones)-1]
	output.mu.Unlock()
	done(nil)

	assert.Equal(t, model.SpeechStateIdle, session.State())
	assert.Len(t, recorder.OfType(events.SpeechEnded), 1)
	cloud.AssertExpectations(t)
}

func TestSession_CloudFailureFallsBackToLocalDefault(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	cloud := &MockCloud{}
	cloud.On("Synthesize", mock.Anything, mock.Anything, model.LanguageHindi).
		Return(model.AudioClip{}, model.ErrRemoteService)
	session := NewSession(engine, cloud, &fakeOutput{}, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "namaste", model.LanguageHindi))

	calls := engine.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Voice)
	assert.Equal(t, "hi-IN", calls[0].Locale)

	warning, ok := recorder.Last(events.SpeechWarning)
	require.True(t, ok)
	assert.Equal(t, events.WarningFallbackVoice, warning.Text)
	assert.Empty(t, recorder.OfType(events.SpeechError))
}

func TestSession_CloudFailureWithoutEngine(t *testing.T) {
	recorder := &events.Recorder{}
	cloud := &MockCloud{}
	cloud.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).
		Return(model.AudioClip{}, model.ErrRemoteService)
	session := NewSession(nil, cloud, &fakeOutput{}, recorder, testConfig())

	err := session.Speak(context.Background(), "hello", model.LanguageEnglish)

	assert.ErrorIs(t, err, model.ErrRemoteService)
	assert.Len(t, recorder.OfType(events.SpeechError), 1)
}

func TestSession_NoCloudWarnsAndUsesDefaultVoice(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	session := NewSession(engine, nil, nil, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "namaste", model.LanguageHindi))

	warning, ok := recorder.Last(events.SpeechWarning)
	require.True(t, ok)
	assert.Equal(t, events.WarningNoLocalVoice, warning.Text)
	require.Len(t, engine.Calls(), 1)
	assert.Nil(t, engine.Calls()[0].Voice)
}

func TestSession_RetriesOnceWithNeutralVoice(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	engine.results = []error{&EngineError{Code: CodeSynthesisFailed}}
	session := NewSession(engine, nil, nil, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "take rest", model.LanguageEnglish))

	require.Eventually(t, func() bool { return len(engine.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(recorder.OfType(events.SpeechEnded)) == 1 }, time.Second, 5*time.Millisecond)

	retry := engine.Calls()[1]
	assert.Nil(t, retry.Voice)
	assert.Equal(t, "en-US", retry.Locale)
	assert.Empty(t, recorder.OfType(events.SpeechError))
}

func TestSession_SecondFailureIsReported(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	engine.results = []error{
		&EngineError{Code: CodeNotAllowed},
		&EngineError{Code: CodeNotAllowed},
		&EngineError{Code: CodeNotAllowed},
	}
	session := NewSession(engine, nil, nil, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "take rest", model.LanguageEnglish))

	require.Eventually(t, func() bool { return len(recorder.OfType(events.SpeechError)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, engine.Calls(), 2)
	speechErr, _ := recorder.Last(events.SpeechError)
	assert.Contains(t, speechErr.Error, model.ErrAutoplayBlocked.Error())
	assert.Equal(t, model.SpeechStateIdle, session.State())
}

func TestSession_SwallowedEngineErrors(t *testing.T) {
	for _, code := range []string{CodeCanceled, CodeInterrupted} {
		t.Run(code, func(t *testing.T) {
			recorder := &events.Recorder{}
			engine := newFakeEngine(englishVoice)
			engine.results = []error{&EngineError{Code: code}}
			session := NewSession(engine, nil, nil, recorder, testConfig())

			require.NoError(t, session.Speak(context.Background(), "hello", model.LanguageEnglish))
			time.Sleep(20 * time.Millisecond)

			assert.Len(t, engine.Calls(), 1)
			assert.Empty(t, recorder.OfType(events.SpeechError))
			assert.Equal(t, model.SpeechStateIdle, session.State())
		})
	}
}

func TestSession_StaleCallbacksIgnored(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	engine.hold = true
	session := NewSession(engine, nil, nil, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "first", model.LanguageEnglish))
	require.NoError(t, session.Speak(context.Background(), "second", model.LanguageEnglish))

	engine.mu.Lock()
	first, second := engine.callbacks[0], engine.callbacks[1]
	engine.mu.Unlock()

	first(EngineEvent{Kind: EngineFailed, Err: &EngineError{Code: CodeSynthesisFailed}})
	first(EngineEvent{Kind: EngineEnded})
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, engine.Calls(), 2)
	assert.Empty(t, recorder.OfType(events.SpeechEnded))
	assert.Equal(t, model.SpeechStateSpeaking, session.State())

	second(EngineEvent{Kind: EngineEnded})
	assert.Equal(t, model.SpeechStateIdle, session.State())
	assert.GreaterOrEqual(t, engine.cancels, 2)
}

func TestSession_StopHaltsAndInvalidates(t *testing.T) {
	recorder := &events.Recorder{}
	engine := newFakeEngine(englishVoice)
	engine.hold = true
	output := &fakeOutput{}
	session := NewSession(engine, nil, output, recorder, testConfig())

	require.NoError(t, session.Speak(context.Background(), "hello", model.LanguageEnglish))
	assert.Equal(t, model.SpeechStateSpeaking, session.State())

	session.Stop()

	assert.Equal(t, model.SpeechStateIdle, session.State())
	ended, ok := recorder.Last(events.SpeechEnded)
	require.True(t, ok)
	assert.Equal(t, "stopped", ended.Attrs["reason"])

	engine.mu.Lock()
	callback := engine.callbacks[0]
	engine.mu.Unlock()
	callback(EngineEvent{Kind: EngineFailed, Err: errors.New("late")})
	assert.Empty(t, recorder.OfType(events.SpeechError))
}

func TestSession_AutoplayBlockedThenEnableReplays(t *testing.T) {
	recorder := &events.Recorder{}
	cloud := &MockCloud{}
	cloud.On("Synthesize", mock.Anything, "hello", model.LanguageEnglish).Return(cloudClip, nil).Once()
	output := &fakeOutput{errs: []error{model.ErrAutoplayBlocked}}
	session := NewSession(nil, cloud, output, recorder, testConfig())

	err := session.Speak(context.Background(), "hello", model.LanguageEnglish)
	assert.ErrorIs(t, err, model.ErrAutoplayBlocked)
	assert.Len(t, recorder.OfType(events.AudioBlocked), 1)
	assert.Empty(t, output.spoken())
	assert.Empty(t, recorder.OfType(events.SpeechError))

	require.NoError(t, session.EnableAudio(context.Background()))

	assert.Equal(t, []model.AudioClip{cloudClip}, output.spoken())
	assert.Len(t, recorder.OfType(events.AudioUnlocked), 1)
	assert.True(t, session.Gate().Unlocked())
	assert.Equal(t, model.SpeechStateSpeaking, session.State())
	cloud.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestSession_RenewedRejectionKeepsClipPending(t *testing.T) {
	recorder := &events.Recorder{}
	cloud := &MockCloud{}
	cloud.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(cloudClip, nil)
	// unlock succeeds, then the real clip is refused
	output := &fakeOutput{errs: []error{nil, model.ErrAutoplayBlocked}}
	session := NewSession(nil, cloud, output, recorder, testConfig())

	err := session.Speak(context.Background(), "hello", model.LanguageEnglish)
	assert.ErrorIs(t, err, model.ErrAutoplayBlocked)
	assert.False(t, session.Gate().Unlocked())
	assert.Len(t, recorder.OfType(events.AudioBlocked), 1)

	require.NoError(t, session.EnableAudio(context.Background()))
	assert.Len(t, output.spoken(), 2)
}

func TestSession_StopDropsPendingClip(t *testing.T) {
	cloud := &MockCloud{}
	cloud.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(cloudClip, nil)
	output := &fakeOutput{errs: []error{model.ErrAutoplayBlocked}}
	session := NewSession(nil, cloud, output, nil, testConfig())

	assert.ErrorIs(t, session.Speak(context.Background(), "hello", model.LanguageEnglish), model.ErrAutoplayBlocked)
	session.Stop()

	require.NoError(t, session.EnableAudio(context.Background()))
	assert.Empty(t, output.spoken())
}

func TestSession_CatalogWaitIsBounded(t *testing.T) {
	engine := newFakeEngine(englishVoice)
	engine.ready = make(chan struct{})
	session := NewSession(engine, nil, nil, nil, testConfig())

	start := time.Now()
	require.NoError(t, session.Speak(context.Background(), "hello", model.LanguageEnglish))

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, engine.Calls(), 1)
}

func TestGate_UnlockIsRemembered(t *testing.T) {
	recorder := &events.Recorder{}
	output := &fakeOutput{}
	gate := NewGate(output, recorder)

	require.NoError(t, gate.Ensure(context.Background()))
	require.NoError(t, gate.Ensure(context.Background()))

	assert.Len(t, output.played, 1)
	assert.Equal(t, 44, len(output.played[0].Data))
	assert.Empty(t, recorder.OfType(events.AudioUnlocked))
}

func TestGate_BlockedThenUnlocked(t *testing.T) {
	recorder := &events.Recorder{}
	output := &fakeOutput{errs: []error{model.ErrAutoplayBlocked}}
	gate := NewGate(output, recorder)

	assert.ErrorIs(t, gate.Ensure(context.Background()), model.ErrAutoplayBlocked)
	assert.False(t, gate.Unlocked())
	assert.Len(t, recorder.OfType(events.AudioBlocked), 1)

	require.NoError(t, gate.Unlock(context.Background()))
	assert.True(t, gate.Unlocked())
	assert.Len(t, recorder.OfType(events.AudioUnlocked), 1)
}

func TestGate_OtherErrorsDoNotPrompt(t *testing.T) {
	recorder := &events.Recorder{}
	output := &fakeOutput{errs: []error{model.ErrSpeechUnavailable}}
	gate := NewGate(output, recorder)

	assert.ErrorIs(t, gate.Ensure(context.Background()), model.ErrSpeechUnavailable)
	assert.Empty(t, recorder.OfType(events.AudioBlocked))
}

func TestParseVoices(t *testing.T) {
	out := []byte(`Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  en-us           --/M      English_(America)  gmw/en-US            (en 2)
 5  hi              --/M      Hindi              inc/hi
 5  ta              --/M      Tamil              dra/ta
`)

	voices := parseVoices(out)

	assert.Equal(t, []model.Voice{
		{Name: "English (America)", Locale: "en-us"},
		{Name: "Hindi", Locale: "hi"},
		{Name: "Tamil", Locale: "ta"},
	}, voices)
	assert.Equal(t, &model.Voice{Name: "Hindi", Locale: "hi"}, SelectVoice(voices, model.LanguageHindi))
}

func TestClassifySpeakError(t *testing.T) {
	tests := []struct {
		stderr string
		code   string
	}{
		{"ALSA lib pcm.c: permission denied", CodeNotAllowed},
		{"cannot open audio device: Device or resource busy", CodeAudioBusy},
		{"Voice does not exist", CodeVoiceUnavailable},
		{"", CodeSynthesisFailed},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifySpeakError(errors.New("exit status 1"), tt.stderr)
			var engineErr *EngineError
			require.ErrorAs(t, err, &engineErr)
			assert.Equal(t, tt.code, engineErr.Code)
		})
	}
}

func TestEngineErrorMapping(t *testing.T) {
	assert.True(t, isSwallowed(&EngineError{Code: CodeCanceled}))
	assert.True(t, isSwallowed(&EngineError{Code: CodeInterrupted}))
	assert.False(t, isSwallowed(&EngineError{Code: CodeAudioBusy}))
	assert.False(t, isSwallowed(errors.New("canceled")))

	assert.ErrorIs(t, mapEngineError(&EngineError{Code: CodeNotAllowed}), model.ErrAutoplayBlocked)
	assert.NotErrorIs(t, mapEngineError(&EngineError{Code: CodeAudioBusy}), model.ErrAutoplayBlocked)
}
