package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(S3Config{})
	assert.Error(t, err)
}

func TestS3Storage_Keys(t *testing.T) {
	s, err := NewS3Storage(S3Config{AccessKey: "key", SecretKey: "secret", Bucket: "clips-bucket"})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC) }

	key := s.GenerateKey("3f2a", ".pcm")
	assert.Equal(t, "clips/2026/03/09/3f2a.pcm", key)
	assert.Equal(t, "https://storage.yandexcloud.net/clips-bucket/clips/2026/03/09/3f2a.pcm", s.ObjectURL(key))
}

func TestS3Storage_CustomEndpoint(t *testing.T) {
	s, err := NewS3Storage(S3Config{Endpoint: "http://localhost:9000", Bucket: "dev"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/dev/a.wav", s.ObjectURL("a.wav"))
}
