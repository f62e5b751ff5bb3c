package audio

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"healthvoice/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDeviceError(t *testing.T) {
	err := classifyDeviceError(errors.New("exit status 1"), "default: Permission denied\n")
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	err = classifyDeviceError(errors.New("exit status 1"), "pulse: No such device")
	assert.ErrorIs(t, err, model.ErrDeviceUnavailable)

	err = classifyDeviceError(nil, "")
	assert.ErrorIs(t, err, model.ErrDeviceUnavailable)
}

func TestClassifyPlayError(t *testing.T) {
	err := classifyPlayError(errors.New("exit status 1"), "SDL_OpenAudio (2 channels, 24000 Hz): Audio open failed")
	assert.ErrorIs(t, err, model.ErrAutoplayBlocked)
	assert.True(t, model.IsRecoverable(err))

	err = classifyPlayError(errors.New("exit status 1"), "pipe:0: Invalid data found when processing input")
	assert.NotErrorIs(t, err, model.ErrAutoplayBlocked)
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestNormalizeStopErr(t *testing.T) {
	assert.NoError(t, normalizeStopErr(nil))
	assert.NoError(t, normalizeStopErr(&exec.ExitError{}))
	assert.Error(t, normalizeStopErr(errors.New("wait failed")))
}

func TestMicrophone_MissingCommand(t *testing.T) {
	mic := NewMicrophone(MicConfig{Command: "healthvoice-no-such-ffmpeg"})

	_, err := mic.Open(context.Background())
	assert.ErrorIs(t, err, model.ErrCaptureUnsupported)
}

func TestPlayer_MissingCommand(t *testing.T) {
	player := NewPlayer("healthvoice-no-such-ffplay")

	err := player.Play(context.Background(), model.AudioClip{Data: []byte("x")}, nil)
	assert.ErrorIs(t, err, model.ErrSpeechUnavailable)
	assert.NoError(t, player.Stop())
}

func TestMicrophone_Defaults(t *testing.T) {
	mic := NewMicrophone(MicConfig{})

	assert.Equal(t, "ffmpeg", mic.cfg.Command)
	assert.Equal(t, DefaultFormat, mic.Format())
}

type fakePCMStream struct {
	chunks  chan []byte
	stopped chan struct{}
}

func (s *fakePCMStream) Read(p []byte) (int, error) {
	select {
	case chunk := <-s.chunks:
		return copy(p, chunk), nil
	case <-s.stopped:
		return 0, io.EOF
	}
}

func (s *fakePCMStream) Stop() error {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
	return nil
}

type fakePCMSource struct {
	stream *fakePCMStream
}

func (f *fakePCMSource) Open(ctx context.Context) (PCMStream, error) { return f.stream, nil }
func (f *fakePCMSource) Format() Format                              { return DefaultFormat }

func TestRecorder_StopReturnsWAV(t *testing.T) {
	stream := &fakePCMStream{chunks: make(chan []byte, 2), stopped: make(chan struct{})}
	stream.chunks <- []byte{1, 0, 2, 0}
	stream.chunks <- []byte{3, 0}

	rec, err := NewRecorder(&fakePCMSource{stream: stream}).Start(context.Background())
	require.NoError(t, err)

	select {
	case <-rec.Ready():
	case <-time.After(time.Second):
		t.Fatal("recording never became ready")
	}

	require.Eventually(t, func() bool { return len(stream.chunks) == 0 }, time.Second, time.Millisecond)

	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", clip.MimeType)

	pcm, format, err := DecodeWAV(clip.Data)
	require.NoError(t, err)
	assert.Equal(t, DefaultFormat, format)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, pcm)
}

func TestRecorder_AbortDiscards(t *testing.T) {
	stream := &fakePCMStream{chunks: make(chan []byte, 1), stopped: make(chan struct{})}
	stream.chunks <- []byte{1, 0}

	rec, err := NewRecorder(&fakePCMSource{stream: stream}).Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, rec.Abort())
	<-rec.Done()

	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.Empty(t, clip.Data)
}
