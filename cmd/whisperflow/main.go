package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/api"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/config"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/controller"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/events"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/notify"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/protocol"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/service"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/watch"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.ScriptPath, "script", "", "path to the whisperx runner script")
	flag.StringVar(&overrides.Interpreter, "interpreter", "", "python interpreter to launch the runner with")
	flag.StringVar(&overrides.DefaultModel, "model", "", "default model for auto-loaded transcriptions")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "drop directory to watch for audio files")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("whisperflow starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(256)

	// Runner process manager. Output lines and state changes fan out to
	// SSE subscribers through the bus.
	mgr := service.NewManager(service.Options{
		ScriptPath:       cfg.ScriptPath,
		Interpreter:      cfg.Interpreter,
		InterpreterArgs:  cfg.InterpreterArgs,
		HandshakeTimeout: cfg.HandshakeTimeout,
		StopGrace:        cfg.StopGrace,
		OnLine: func(ev protocol.LineEvent) {
			switch ev.Kind {
			case protocol.LineProgress:
				bus.Publish(events.TypeProgress, map[string]any{"percent": ev.Progress})
			case protocol.LineLog:
				bus.Publish(events.TypeLog, map[string]any{"line": ev.Text})
			}
		},
		OnStateChange: func(s service.State) {
			bus.Publish(events.TypeState, map[string]any{"state": s.String()})
		},
		Log: log.With().Str("component", "service").Logger(),
	})

	ctrl := controller.New(controller.Options{
		Manager:           mgr,
		LoadModelTimeout:  cfg.LoadModelTimeout,
		TranscribeTimeout: cfg.TranscribeTimeout,
		Publish: func(eventType string, data map[string]any) {
			data["event"] = eventType
			bus.Publish(events.TypeOperation, data)
		},
		Log: log.With().Str("component", "controller").Logger(),
	})

	// Drive the controller's poll/timeout machinery.
	go ctrl.Run(ctx, cfg.PollInterval)

	// Optional drop-dir watcher.
	var watcher *watch.Watcher
	if cfg.WatchDir != "" {
		watcher = watch.New(watch.Options{
			Dir:          cfg.WatchDir,
			DefaultModel: cfg.DefaultModel,
			Diarize:      cfg.Diarize,
			Interval:     cfg.PollInterval,
			Ctrl:         ctrl,
			Log:          log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start drop-dir watcher")
		}
	}

	// Optional MQTT event mirror.
	var publisher *notify.Publisher
	if cfg.MQTTBrokerURL != "" {
		publisher, err = notify.Connect(notify.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			Topic:     cfg.MQTTTopic,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		stopForward := publisher.Forward(bus)
		defer stopForward()
	}

	srv := api.NewServer(api.Options{
		Config:     cfg,
		Controller: ctrl,
		Service:    mgr,
		Events:     bus,
		Version:    version,
		StartTime:  startTime,
		Log:        log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if watcher != nil {
		watcher.Stop()
	}
	mgr.Stop()
	if publisher != nil {
		publisher.Close()
	}

	log.Info().Msg("whisperflow stopped")
}
