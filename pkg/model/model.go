package model

import (
	"strings"
)

// Language is the conversation language selected by the user
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
)

// ParseLanguage normalizes a user supplied language code. Unknown codes fall
// back to English.
func ParseLanguage(code string) Language {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if strings.HasPrefix(normalized, "hi") {
		return LanguageHindi
	}
	return LanguageEnglish
}

// PreferredLocale is the locale a local voice should match exactly
func (l Language) PreferredLocale() string {
	if l == LanguageHindi {
		return "hi-IN"
	}
	return "en-IN"
}

// DefaultLocale is the neutral locale used when no voice matched
func (l Language) DefaultLocale() string {
	if l == LanguageHindi {
		return "hi-IN"
	}
	return "en-US"
}

// CaptureState is the lifecycle of one audio capture session
type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateStarting  CaptureState = "starting"
	CaptureStateRecording CaptureState = "recording"
	CaptureStateStopping  CaptureState = "stopping"
)

// TranscriptSource tells which capture path produced a transcript
type TranscriptSource string

const (
	TranscriptSourceIncremental TranscriptSource = "incremental"
	TranscriptSourceBatch       TranscriptSource = "batch"
)

// Transcript is a finalized recognition result
type Transcript struct {
	Text      string           `json:"text"`
	Signature string           `json:"signature"`
	Source    TranscriptSource `json:"source"`
	Language  Language         `json:"language"`
}

// Engine identifies which synthesizer produced an utterance
type Engine string

const (
	EngineLocal Engine = "local"
	EngineCloud Engine = "cloud"
)

// Voice is one entry of the local speech engine catalog
type Voice struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// Utterance is a single playback request. Generation is assigned by the
// playback session; callbacks carrying an older generation are ignored.
type Utterance struct {
	Text       string   `json:"text"`
	Language   Language `json:"language"`
	Locale     string   `json:"locale"`
	Engine     Engine   `json:"engine"`
	Voice      *Voice   `json:"voice,omitempty"`
	Generation uint64   `json:"generation"`
}

// AudioClip is a decoded, playable audio resource
type AudioClip struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// SpeechState is the playback session state
type SpeechState string

const (
	SpeechStateIdle     SpeechState = "idle"
	SpeechStateSpeaking SpeechState = "speaking"
)
