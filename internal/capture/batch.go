package capture

import (
	"context"
	"sync"

	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

// batchStream presents a raw recording plus a batch transcriber as a
// RecognitionStream, so the session drives both capture paths the same way.
// The transcript arrives as a single final fragment after the recording ends.
type batchStream struct {
	recording   Recording
	transcriber BatchTranscriber
	language    model.Language

	ctx    context.Context
	cancel context.CancelFunc

	fragments chan Fragment
	done      chan struct{}
	stopCh    chan struct{}

	stopOnce sync.Once
	errMu    sync.Mutex
	err      error
	aborted  bool
}

func newBatchStream(ctx context.Context, recording Recording, transcriber BatchTranscriber, language model.Language) *batchStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &batchStream{
		recording:   recording,
		transcriber: transcriber,
		language:    language,
		ctx:         ctx,
		cancel:      cancel,
		fragments:   make(chan Fragment, 1),
		done:        make(chan struct{}),
		stopCh:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *batchStream) Ready() <-chan struct{}     { return s.recording.Ready() }
func (s *batchStream) Fragments() <-chan Fragment { return s.fragments }
func (s *batchStream) Done() <-chan struct{}      { return s.done }

func (s *batchStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *batchStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *batchStream) Abort() error {
	s.errMu.Lock()
	s.aborted = true
	s.errMu.Unlock()

	s.cancel()
	err := s.recording.Abort()
	s.Stop()
	return err
}

func (s *batchStream) isAborted() bool {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.aborted
}

func (s *batchStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *batchStream) run() {
	defer close(s.done)
	defer close(s.fragments)
	defer s.cancel()

	select {
	case <-s.stopCh:
	case <-s.recording.Done():
	case <-s.ctx.Done():
	}

	if s.isAborted() {
		return
	}

	clip, err := s.recording.Stop()
	if err != nil {
		s.setErr(err)
		return
	}
	if len(clip.Data) == 0 {
		return
	}

	text, err := s.transcriber.Transcribe(s.ctx, clip, s.language)
	if err != nil {
		logger.Warn("Batch transcription failed", zap.Error(err))
		s.setErr(err)
		return
	}
	if s.isAborted() {
		return
	}

	s.fragments <- Fragment{Text: text, Final: true}
}
