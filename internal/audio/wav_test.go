package audio

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}

	data, err := EncodeWAV(pcm, DefaultFormat)
	require.NoError(t, err)
	assert.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	decoded, format, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
	assert.Equal(t, DefaultFormat, format)
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	_, err := EncodeWAV([]byte{0, 0}, Format{SampleRate: 0})
	assert.Error(t, err)
}

func TestDecodeWAV_EmptyDataChunk(t *testing.T) {
	silent, err := base64.StdEncoding.DecodeString("UklGRiQAAABXQVZFZm10IBAAAAABAAEARKwAABCxAgAEABAAZGF0YQAAAAA=")
	require.NoError(t, err)

	pcm, format, err := DecodeWAV(silent)
	require.NoError(t, err)
	assert.Empty(t, pcm)
	assert.Equal(t, 44100, format.SampleRate)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte("RIFF")},
		{"not wave", []byte("RIFF\x00\x00\x00\x00AVI LIST")},
		{"no data", []byte("RIFF\x04\x00\x00\x00WAVE")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeWAV(tt.data)
			assert.Error(t, err)
		})
	}
}
