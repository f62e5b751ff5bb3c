package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"healthvoice/internal/notify"
	"healthvoice/internal/voice"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

type sessionController interface {
	Settings() voice.Settings
	UpdateSettings(settings voice.Settings)
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) (*model.TriageResult, error)
	SubmitText(ctx context.Context, text string) (*model.TriageResult, error)
	CheckEligibility(ctx context.Context, profile model.ApplicantProfile) (*model.EligibilityResult, error)
	PlayTriageReply(ctx context.Context) error
	StopSpeaking()
	EnableAudio(ctx context.Context) error
	SendSummaryNow(ctx context.Context) (*model.DeliveryRequest, error)
}

type captureState interface {
	State() model.CaptureState
}

// shell is the terminal front end. An empty line toggles recording, other
// lines are submitted as symptoms unless they start with ':'.
type shell struct {
	controller sessionController
	capture    captureState
	in         io.Reader
	out        io.Writer
}

func newShell(controller sessionController, capture captureState, in io.Reader, out io.Writer) *shell {
	return &shell{controller: controller, capture: capture, in: in, out: out}
}

func (s *shell) Run(ctx context.Context) {
	s.printf("Press Enter to start or stop listening, type symptoms, or :help\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := s.handle(ctx, line); quit {
				return
			}
		}
	}
}

// handle runs one input line and reports whether the shell should exit
func (s *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		s.toggleListening(ctx)
		return false
	}
	if !strings.HasPrefix(line, ":") {
		s.submit(ctx, line)
		return false
	}

	command, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)
	language := s.controller.Settings().Language

	switch command {
	case "quit", "q":
		return true
	case "help":
		s.printf(":enable  unlock audio output\n:stop    stop speaking\n:replay  repeat the triage reply\n:send    send the summary again\n:eligibility <json>  check benefit eligibility\n:lang en|hi  switch language\n:quit\n")
	case "enable":
		if err := s.controller.EnableAudio(ctx); err != nil {
			s.report("Failed to enable audio", err)
		}
	case "stop":
		s.controller.StopSpeaking()
	case "replay":
		if err := s.controller.PlayTriageReply(ctx); err != nil {
			s.report("Failed to replay", err)
		}
	case "send":
		req, err := s.controller.SendSummaryNow(ctx)
		if err != nil {
			s.printf("%s\n", notify.ErrorMessage(err, language))
			return false
		}
		if req == nil {
			return false
		}
		s.printf("%s\n", notify.StatusMessage(req.Status, req.ProviderReference, language))
	case "eligibility":
		var profile model.ApplicantProfile
		if err := json.Unmarshal([]byte(arg), &profile); err != nil {
			s.report("Invalid applicant profile", err)
			return false
		}
		result, err := s.controller.CheckEligibility(ctx, profile)
		if err != nil {
			s.report("Eligibility check failed", err)
			return false
		}
		s.printf("%s\n", voice.EligibilityText(result, language))
	case "lang":
		settings := s.controller.Settings()
		settings.Language = model.ParseLanguage(arg)
		s.controller.UpdateSettings(settings)
		s.printf("Language: %s\n", settings.Language)
	default:
		s.printf("Unknown command %q, try :help\n", command)
	}
	return false
}

func (s *shell) toggleListening(ctx context.Context) {
	if s.capture.State() == model.CaptureStateIdle {
		if err := s.controller.StartListening(ctx); err != nil {
			s.report("Failed to start listening", err)
			return
		}
		s.printf("Listening... press Enter to stop\n")
		return
	}

	result, err := s.controller.StopListening(ctx)
	switch {
	case err != nil:
		s.report("Failed to stop listening", err)
	case result == nil:
		s.printf("Nothing was heard\n")
	default:
		s.printf("%s\n", voice.TriageText(result, s.controller.Settings().Language))
	}
}

func (s *shell) submit(ctx context.Context, text string) {
	result, err := s.controller.SubmitText(ctx, text)
	if err != nil {
		s.report("Triage failed", err)
		return
	}
	s.printf("%s\n", voice.TriageText(result, s.controller.Settings().Language))
}

func (s *shell) report(msg string, err error) {
	if errors.Is(err, voice.ErrSuperseded) || errors.Is(err, context.Canceled) {
		return
	}
	logger.Debug(msg, zap.Error(err))
	s.printf("%s: %v\n", msg, err)
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
