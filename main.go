package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"read2me/internal/bootstrap"
	"read2me/internal/config"
	"read2me/internal/graph"
	"read2me/internal/llm"
	"read2me/internal/logger"
	"read2me/internal/page"
	"read2me/internal/prefetch"
	"read2me/internal/server"
	"read2me/internal/session"
	"read2me/internal/speech"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	storyPath := pflag.String("config", "", "path to a story YAML file (built-in story when empty)")
	envFile := pflag.String("env-file", ".env", "path to a .env file")
	addr := pflag.String("addr", "", "listen address, overrides SERVER_ADDR")
	pflag.Parse()

	// Load environment variables from .env file
	envErr := godotenv.Load(*envFile)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	if err := logger.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	if envErr != nil {
		logger.Logger.Warn().Err(envErr).Str("path", *envFile).Msg("no .env file loaded, using the environment only")
	}

	if err := run(cfg, *storyPath); err != nil {
		logger.Logger.Error().Err(err).Msg("read2me stopped with an error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, storyPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logger.Component("main")

	story, err := config.LoadStory(storyPath)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	tts, err := speech.NewGeminiRenderer(ctx, cfg.Speech.APIKey, cfg.Speech.Model, story.Narrator, story.Guide)
	if err != nil {
		return err
	}
	speechLog := logger.Component("speech")
	pageVoice := speech.WithRetry(tts, cfg.Speech.MaxRetries, cfg.Speech.RetryInterval, speechLog)
	introVoice := speech.WithRetry(tts.WithModel(cfg.Speech.IntroModel), cfg.Speech.MaxRetries, cfg.Speech.RetryInterval, speechLog)

	library := speech.NewLibrary(cfg.Server.AudioDir)

	generator, err := page.NewGenerator(ctx, page.Options{
		Store:     store,
		ChatModel: chatModel,
		Story:     story,
		Renderer:  pageVoice,
		Audio:     library,
		Logger:    logger.Component("page"),
	})
	if err != nil {
		return err
	}

	scheduler, err := prefetch.New(prefetch.Config{
		Workers:   cfg.Prefetch.Workers,
		QueueSize: cfg.Prefetch.QueueSize,
		Pacing:    cfg.Prefetch.Pacing,
	}, generator, logger.Component("prefetch"))
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	res, err := bootstrap.Run(ctx, bootstrap.Deps{
		Store:         store,
		Generator:     generator,
		Queue:         scheduler,
		Audio:         library,
		IntroRenderer: introVoice,
		Story:         story,
		Logger:        logger.Component("bootstrap"),
	})
	if err != nil {
		_ = scheduler.Stop(context.Background())
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	log.Info().Str("start_node", res.Start.ID).Int("prefetching", res.Enqueued).Msg("story ready")

	machine := session.New(session.Options{
		Store:  store,
		Audio:  library,
		Queue:  scheduler,
		Intros: len(story.Intros),
		Logger: logger.Component("session"),
	})

	srv := server.New(server.Options{
		Machine:   machine,
		Server:    cfg.Server,
		Responses: story.Responses,
		AuthToken: cfg.Twilio.AuthToken,
		Logger:    logger.Component("server"),
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, err)
	if err == nil {
		errs = append(errs, srv.Shutdown(shutdownCtx))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("prefetch shutdown: %w", err))
	}
	if err := store.Flush(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}

	stats := scheduler.Stats()
	log.Info().
		Int64("generated", stats.Generated).
		Int64("failed", stats.Failed).
		Int64("unparseable", stats.Unparseable).
		Msg("read2me stopped")
	return errors.Join(errs...)
}

// openStore opens the configured graph backend
func openStore(ctx context.Context, cfg config.StoreConfig) (graph.Store, io.Closer, error) {
	switch cfg.Backend {
	case "redis":
		rs, err := graph.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, cfg.RedisBGSave)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs, nil
	default:
		ms, err := graph.NewMemoryStore(cfg.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		return ms, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
