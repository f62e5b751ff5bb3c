package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthvoice/internal/api"
	"healthvoice/internal/audio"
	"healthvoice/internal/auth"
	"healthvoice/internal/capture"
	"healthvoice/internal/config"
	"healthvoice/internal/events"
	"healthvoice/internal/metrics"
	"healthvoice/internal/notify"
	"healthvoice/internal/playback"
	"healthvoice/internal/queue"
	"healthvoice/internal/speechkit"
	"healthvoice/internal/storage"
	"healthvoice/internal/streaming"
	"healthvoice/internal/voice"
	"healthvoice/pkg/cache"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the yaml config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	sessionID := uuid.NewString()
	logger.Info("Starting healthvoice session", zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Token cache
	var tokenCache cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
			return
		}
		tokenCache = redisCache
		logger.Info("Redis cache connection established")
	} else {
		tokenCache = cache.NewMemoryCache(cfg.Auth.TokenTTL)
	}
	defer tokenCache.Close()

	m := metrics.NewMetrics()

	// Event sinks
	sinks := []events.Sink{events.NewLogSink(logger.Named("events")), m}
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
			return
		}
		defer rabbitMQ.Close()
		sinks = append(sinks, events.NewAMQPSink(rabbitMQ))
		logger.Info("RabbitMQ connection established")
	}
	sink := events.WithSession(events.Multi(sinks...), sessionID)

	// Backend client
	base := api.NewClient(api.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
	}).WithObserver(m)

	tokens := auth.NewSource(base, tokenCache, auth.Credentials{
		Email:    cfg.Auth.Email,
		Password: cfg.Auth.Password,
		FullName: cfg.Auth.FullName,
		Phone:    cfg.Auth.Phone,
		State:    cfg.Auth.State,
	}, cfg.Auth.TokenTTL)
	client := base.WithTokenSource(tokens)

	// Capture
	mic := audio.NewMicrophone(audio.MicConfig{
		Command:     cfg.Audio.RecorderCommand,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Audio.SampleRate,
	})

	var recognizer capture.Recognizer
	if cfg.Streaming.APIKey != "" {
		recognizer = streaming.NewRecognizer(streaming.Config{
			URL:    cfg.Streaming.URL,
			APIKey: cfg.Streaming.APIKey,
			Model:  cfg.Streaming.Model,
		}, mic)
		logger.Info("Streaming recognition enabled")
	}

	var transcriber capture.BatchTranscriber = client
	if cfg.Transcription.Provider == "speechkit" {
		s3Storage, err := storage.NewS3Storage(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
			return
		}
		transcriber = speechkit.NewClient(speechkit.Config{
			APIKey:   cfg.SpeechKit.APIKey,
			FolderID: cfg.SpeechKit.FolderID,
		}, s3Storage)
		logger.Info("SpeechKit transcription enabled")
	}

	captureSession := capture.NewSession(recognizer, audio.NewRecorder(mic), transcriber, sink, capture.Config{
		StartTimeout: cfg.Session.StartTimeout,
	})
	defer captureSession.Close()

	// Playback
	var engine playback.LocalEngine
	if espeak := playback.NewEspeak(cfg.Audio.TTSCommand); espeak.Available() {
		engine = espeak
	} else {
		logger.Warn("Local speech engine not found, using cloud voices only", zap.String("command", cfg.Audio.TTSCommand))
	}
	speech := playback.NewSession(engine, client, audio.NewPlayer(cfg.Audio.PlayerCommand), sink, playback.Config{
		CatalogTimeout: cfg.Session.CatalogTimeout,
	})
	defer speech.Close()

	tracker := notify.NewTracker(client, sink, notify.Config{
		PollInterval: cfg.Session.PollInterval,
		PollAttempts: cfg.Session.PollAttempts,
	})
	defer tracker.Close()

	controller := voice.NewController(captureSession, speech, tracker, client, sink, voice.Settings{
		Language:       model.ParseLanguage(cfg.Session.Language),
		AutoVoiceReply: cfg.Session.AutoVoiceReply,
		AutoNotify:     cfg.Session.AutoNotify,
		Recipient:      cfg.Session.Recipient,
		City:           cfg.Session.City,
	})

	// Metrics endpoint
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shell := newShell(controller, captureSession, os.Stdin, os.Stdout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		shell.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-done:
	}

	cancel()
	controller.Close()
	controller.Wait()
	logger.Info("Voice session shutdown complete")
}
