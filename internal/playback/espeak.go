package playback

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

// Espeak drives the espeak-ng command line synthesizer. It speaks straight to
// the default audio device.
type Espeak struct {
	command string

	ready    chan struct{}
	voicesMu sync.RWMutex
	voices   []model.Voice

	mu      sync.Mutex
	current *speaking
}

type speaking struct {
	cmd    *exec.Cmd
	reason string
}

// NewEspeak builds the engine and loads its voice catalog in the background
func NewEspeak(command string) *Espeak {
	if command == "" {
		command = "espeak-ng"
	}
	e := &Espeak{
		command: command,
		ready:   make(chan struct{}),
	}
	go e.loadCatalog()
	return e
}

// Available reports whether the espeak binary can be found
func (e *Espeak) Available() bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *Espeak) CatalogReady() <-chan struct{} {
	return e.ready
}

func (e *Espeak) Voices() []model.Voice {
	e.voicesMu.RLock()
	defer e.voicesMu.RUnlock()
	return append([]model.Voice(nil), e.voices...)
}

func (e *Espeak) loadCatalog() {
	defer close(e.ready)

	out, err := exec.Command(e.command, "--voices").Output()
	if err != nil {
		logger.Warn("Failed to load espeak voices", zap.String("command", e.command), zap.Error(err))
		return
	}

	voices := parseVoices(out)
	e.voicesMu.Lock()
	e.voices = voices
	e.voicesMu.Unlock()

	logger.Debug("Voice catalog loaded", zap.Int("voices", len(voices)))
}

// Speak starts the utterance, interrupting the previous one
func (e *Espeak) Speak(ctx context.Context, utterance model.Utterance, onEvent func(EngineEvent)) error {
	e.halt(CodeInterrupted)

	cmd := exec.CommandContext(ctx, e.command, "-v", e.voiceFor(utterance), "--stdin")
	cmd.Stdin = strings.NewReader(utterance.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found", model.ErrSpeechUnavailable, e.command)
		}
		return &EngineError{Code: CodeSynthesisFailed, Detail: err.Error()}
	}

	current := &speaking{cmd: cmd}
	e.mu.Lock()
	e.current = current
	e.mu.Unlock()

	onEvent(EngineEvent{Kind: EngineStarted})

	go func() {
		err := cmd.Wait()

		e.mu.Lock()
		reason := current.reason
		if e.current == current {
			e.current = nil
		}
		e.mu.Unlock()

		switch {
		case reason != "":
			onEvent(EngineEvent{Kind: EngineFailed, Err: &EngineError{Code: reason}})
		case ctx.Err() != nil:
			onEvent(EngineEvent{Kind: EngineFailed, Err: &EngineError{Code: CodeCanceled}})
		case err != nil:
			onEvent(EngineEvent{Kind: EngineFailed, Err: classifySpeakError(err, stderr.String())})
		default:
			onEvent(EngineEvent{Kind: EngineEnded})
		}
	}()
	return nil
}

func (e *Espeak) Cancel() {
	e.halt(CodeCanceled)
}

func (e *Espeak) halt(reason string) {
	e.mu.Lock()
	current := e.current
	e.current = nil
	if current != nil {
		current.reason = reason
	}
	e.mu.Unlock()

	if current == nil || current.cmd.Process == nil {
		return
	}
	if err := current.cmd.Process.Kill(); err != nil {
		logger.Debug("Failed to stop espeak", zap.Error(err))
	}
}

// voiceFor resolves the -v argument: the selected voice, else the locale
// when the catalog knows it, else the bare language
func (e *Espeak) voiceFor(utterance model.Utterance) string {
	if utterance.Voice != nil && utterance.Voice.Name != "" {
		return utterance.Voice.Locale
	}

	locale := normalizeLocale(utterance.Locale)
	for _, voice := range e.Voices() {
		if normalizeLocale(voice.Locale) == locale {
			return voice.Locale
		}
	}
	return string(utterance.Language)
}

// parseVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  hi              --/M      Hindi              inc/hi
func parseVoices(out []byte) []model.Voice {
	var voices []model.Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, model.Voice{
			Name:   strings.ReplaceAll(fields[3], "_", " "),
			Locale: fields[1],
		})
	}
	return voices
}

func classifySpeakError(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)

	switch {
	case strings.Contains(lower, "permission denied"):
		return &EngineError{Code: CodeNotAllowed, Detail: detail}
	case strings.Contains(lower, "device or resource busy"), strings.Contains(lower, "audio"):
		return &EngineError{Code: CodeAudioBusy, Detail: detail}
	case strings.Contains(lower, "voice") && strings.Contains(lower, "not"):
		return &EngineError{Code: CodeVoiceUnavailable, Detail: detail}
	}
	if detail == "" {
		detail = err.Error()
	}
	return &EngineError{Code: CodeSynthesisFailed, Detail: detail}
}
