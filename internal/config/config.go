package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"healthvoice/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	API struct {
		BaseURL   string        `yaml:"base_url" env:"HEALTHVOICE_API_BASE_URL" env-default:"http://localhost:8000/api"`
		Timeout   time.Duration `yaml:"timeout" env:"HEALTHVOICE_API_TIMEOUT" env-default:"15s"`
		RateLimit int           `yaml:"rate_limit" env:"HEALTHVOICE_API_RATE_LIMIT" env-default:"10"`
	} `yaml:"api"`

	Auth struct {
		Email    string        `yaml:"email" env:"HEALTHVOICE_EMAIL" env-default:"admin@example.com"`
		Password string        `yaml:"password" env:"HEALTHVOICE_PASSWORD"`
		FullName string        `yaml:"full_name" env:"HEALTHVOICE_FULL_NAME" env-default:"Admin User"`
		Phone    string        `yaml:"phone" env:"HEALTHVOICE_PHONE"`
		State    string        `yaml:"state" env:"HEALTHVOICE_STATE" env-default:"Maharashtra"`
		TokenTTL time.Duration `yaml:"token_ttl" env:"HEALTHVOICE_TOKEN_TTL" env-default:"12h"`
	} `yaml:"auth"`

	Streaming struct {
		URL    string `yaml:"url" env:"STREAMING_ASR_URL"`
		APIKey string `yaml:"api_key" env:"STREAMING_ASR_API_KEY"`
		Model  string `yaml:"model" env:"STREAMING_ASR_MODEL" env-default:"nova-2"`
	} `yaml:"streaming"`

	Transcription struct {
		Provider string `yaml:"provider" env:"TRANSCRIPTION_PROVIDER" env-default:"backend"`
	} `yaml:"transcription"`

	SpeechKit struct {
		FolderID string `yaml:"folder_id" env:"YANDEX_FOLDER_ID"`
		APIKey   string `yaml:"api_key" env:"YANDEX_API_KEY"`
	} `yaml:"speechkit"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	} `yaml:"s3"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Audio struct {
		RecorderCommand string `yaml:"recorder_command" env:"AUDIO_RECORDER_COMMAND" env-default:"ffmpeg"`
		InputFormat     string `yaml:"input_format" env:"AUDIO_INPUT_FORMAT" env-default:"pulse"`
		InputDevice     string `yaml:"input_device" env:"AUDIO_INPUT_DEVICE" env-default:"default"`
		SampleRate      int    `yaml:"sample_rate" env:"AUDIO_SAMPLE_RATE" env-default:"16000"`
		PlayerCommand   string `yaml:"player_command" env:"AUDIO_PLAYER_COMMAND" env-default:"ffplay"`
		TTSCommand      string `yaml:"tts_command" env:"LOCAL_TTS_COMMAND" env-default:"espeak-ng"`
	} `yaml:"audio"`

	Session struct {
		Language       string        `yaml:"language" env:"VOICE_LANGUAGE" env-default:"en"`
		AutoVoiceReply bool          `yaml:"auto_voice_reply" env:"AUTO_VOICE_REPLY" env-default:"true"`
		AutoNotify     bool          `yaml:"auto_notify" env:"AUTO_NOTIFY" env-default:"false"`
		Recipient      string        `yaml:"recipient" env:"NOTIFY_RECIPIENT"`
		City           string        `yaml:"city" env:"NOTIFY_CITY" env-default:"Nagpur"`
		StartTimeout   time.Duration `yaml:"start_timeout" env:"CAPTURE_START_TIMEOUT" env-default:"3500ms"`
		CatalogTimeout time.Duration `yaml:"catalog_timeout" env:"VOICE_CATALOG_TIMEOUT" env-default:"300ms"`
		PollInterval   time.Duration `yaml:"poll_interval" env:"DELIVERY_POLL_INTERVAL" env-default:"1500ms"`
		PollAttempts   int           `yaml:"poll_attempts" env:"DELIVERY_POLL_ATTEMPTS" env-default:"7"`
	} `yaml:"session"`

	Metrics struct {
		Addr string `yaml:"addr" env:"METRICS_ADDR"`
	} `yaml:"metrics"`

	Debug bool `yaml:"debug" env:"HEALTHVOICE_DEBUG" env-default:"false"`
}

// LoadConfig reads the yaml file at path when it exists and then applies the
// environment on top of it.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			logger.Info("Config loaded successfully")
			return &cfg, cfg.Validate()
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	logger.Info("Config loaded from environment")
	return &cfg, cfg.Validate()
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api base url is required")
	}
	if c.Transcription.Provider == "speechkit" {
		if c.SpeechKit.APIKey == "" || c.SpeechKit.FolderID == "" {
			return errors.New("speechkit transcription requires YANDEX_API_KEY and YANDEX_FOLDER_ID")
		}
		if c.S3.Bucket == "" {
			return errors.New("speechkit transcription requires an S3 bucket for staging clips")
		}
	}
	if c.Session.PollAttempts < 0 {
		return errors.New("poll attempts must not be negative")
	}
	return nil
}
