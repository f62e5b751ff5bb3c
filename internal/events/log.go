package events

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes events to a zap logger. Error events are logged at warn
// level, partial transcripts at debug.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(event Event) {
	level := zapcore.InfoLevel
	switch event.Type {
	case CapturePartial:
		level = zapcore.DebugLevel
	case CaptureError, SpeechError, DeliveryError, AssistantError, AudioBlocked, SpeechWarning:
		level = zapcore.WarnLevel
	}

	ce := s.log.Check(level, string(event.Type))
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 8+len(event.Attrs))
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.Text != "" {
		fields = append(fields, zap.String("text", event.Text))
	}
	if event.State != "" {
		fields = append(fields, zap.String("state", event.State))
	}
	if event.Language != "" {
		fields = append(fields, zap.String("language", event.Language))
	}
	if event.Engine != "" {
		fields = append(fields, zap.String("engine", event.Engine))
	}
	if event.Generation != 0 {
		fields = append(fields, zap.Uint64("generation", event.Generation))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	for k, v := range event.Attrs {
		fields = append(fields, zap.String(k, v))
	}
	ce.Write(fields...)
}
