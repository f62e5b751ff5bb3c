package model

import "errors"

var (
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrDeviceUnavailable     = errors.New("audio capture device unavailable")
	ErrEngineStartTimeout    = errors.New("could not start speech recognition")
	ErrNoSpeechDetected      = errors.New("no speech detected")
	ErrCaptureUnsupported    = errors.New("speech capture is not supported")
	ErrRemoteService         = errors.New("remote service failure")
	ErrAutoplayBlocked       = errors.New("audio playback blocked, enable audio to continue")
	ErrProviderMisconfigured = errors.New("notification provider not configured")
	ErrNothingToSay          = errors.New("nothing to say")
	ErrSpeechUnavailable     = errors.New("speech playback is not available")
)

// IsRecoverable reports whether a repeated user gesture can fix the error
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAutoplayBlocked) || errors.Is(err, ErrEngineStartTimeout)
}
