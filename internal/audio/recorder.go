package audio

import (
	"context"
	"sync"

	"healthvoice/internal/capture"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"go.uber.org/zap"
)

const readChunk = 4096

// Recorder buffers microphone PCM and hands it back as a WAV clip. It is the
// capture path used when no incremental recognizer is configured.
type Recorder struct {
	mic PCMSource
}

func NewRecorder(mic PCMSource) *Recorder {
	return &Recorder{mic: mic}
}

func (r *Recorder) Start(ctx context.Context) (capture.Recording, error) {
	stream, err := r.mic.Open(ctx)
	if err != nil {
		return nil, err
	}

	rec := &recording{
		stream: stream,
		format: r.mic.Format(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go rec.pump()
	return rec, nil
}

type recording struct {
	stream PCMStream
	format Format

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	pcm []byte
}

func (r *recording) Ready() <-chan struct{} { return r.ready }
func (r *recording) Done() <-chan struct{}  { return r.done }

func (r *recording) pump() {
	defer close(r.done)

	buf := make([]byte, readChunk)
	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			r.readyOnce.Do(func() { close(r.ready) })
			r.mu.Lock()
			r.pcm = append(r.pcm, buf[:n]...)
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Stop ends the capture and returns everything recorded as WAV
func (r *recording) Stop() (model.AudioClip, error) {
	if err := r.stream.Stop(); err != nil {
		logger.Warn("Recorder did not stop cleanly", zap.Error(err))
	}
	<-r.done

	r.mu.Lock()
	pcm := r.pcm
	r.pcm = nil
	r.mu.Unlock()

	if len(pcm) == 0 {
		return model.AudioClip{}, nil
	}

	data, err := EncodeWAV(pcm, r.format)
	if err != nil {
		return model.AudioClip{}, err
	}

	logger.Debug("Recording captured", zap.Int("pcm_bytes", len(pcm)))
	return model.AudioClip{Data: data, MimeType: "audio/wav"}, nil
}

func (r *recording) Abort() error {
	err := r.stream.Stop()
	<-r.done

	r.mu.Lock()
	r.pcm = nil
	r.mu.Unlock()
	return err
}
