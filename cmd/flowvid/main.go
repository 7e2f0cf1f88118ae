package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fenwray/flowvid/internal/accounts"
	"github.com/fenwray/flowvid/internal/config"
	"github.com/fenwray/flowvid/internal/events"
	"github.com/fenwray/flowvid/internal/flow"
	"github.com/fenwray/flowvid/internal/httpapi"
	"github.com/fenwray/flowvid/internal/jobs"
	"github.com/fenwray/flowvid/internal/refresher"
	"github.com/fenwray/flowvid/internal/storage"
	"github.com/fenwray/flowvid/internal/videostore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load configuration")
	}

	logger := newLogger(cfg.System)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("flowvid exited")
	}
}

func newLogger(cfg config.SystemConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.MultiLevelWriter(os.Stderr)
	if cfg.LogPretty {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := videostore.NewStore(cfg.System.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	pool, err := accounts.NewPool(accounts.PoolConfig{
		Accounts:         poolAccounts(cfg.Accounts),
		CookieFile:       cfg.Accounts.CookieFile,
		ExpiryBuffer:     cfg.Accounts.ExpiryBuffer,
		FailureThreshold: cfg.Accounts.FailureThreshold,
		Cooldown:         cfg.Accounts.Cooldown,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	sessions := flow.NewSessionClient(cfg.Flow.SessionURL, cfg.Flow.SessionTimeout, logger)
	resolver := flow.NewResolver(pool, sessions, cfg.Flow.LegacyBearerToken, logger)
	client := flow.NewClient(flow.ClientConfig{
		GenerateURL:        cfg.Flow.GenerateURL,
		StatusURL:          cfg.Flow.StatusURL,
		ProjectID:          cfg.Flow.ProjectID,
		DefaultVideoModel:  cfg.Flow.DefaultVideoModel,
		DefaultAspectRatio: cfg.Flow.DefaultAspectRatio,
		UserPaygateTier:    cfg.Flow.UserPaygateTier,
		Timeout:            cfg.Flow.RequestTimeout,
	}, pool, resolver, logger)

	assets, err := newAssets(cfg.Storage, logger)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	queue := jobs.NewQueue(jobs.Config{
		Capacity:       cfg.Queue.Capacity,
		MaxPolls:       cfg.Queue.MaxPolls,
		PollInterval:   cfg.Queue.PollInterval,
		LoadRetries:    cfg.Queue.LoadRetries,
		LoadRetryDelay: cfg.Queue.LoadRetryDelay,
	}, client, store, assets, publisher, logger)

	browser := refresher.NewExecBrowser(cfg.Accounts.BrowserCommand, cfg.Accounts.BrowserTimeout, logger)
	cookies := refresher.NewCookieRefresher(refresher.CookieConfig{
		Interval:    cfg.Refresh.CookieInterval,
		CheckEvery:  cfg.Refresh.CookieCheckEvery,
		EarlyMargin: cfg.Refresh.CookieEarlyMargin,
		BackoffMax:  cfg.Refresh.CookieBackoffMax,
	}, pool, browser, logger)
	tokens := refresher.NewTokenRefresher(refresher.TokenConfig{
		Margin:       cfg.Refresh.TokenMargin,
		FailureDelay: cfg.Refresh.TokenFailureDelay,
		ExpiredDelay: cfg.Refresh.TokenExpiredDelay,
	}, resolver, cookies, logger)

	var serverOpts []httpapi.Option
	if cfg.Storage.Backend == "local" {
		serverOpts = append(serverOpts, httpapi.WithMediaServing(cfg.Storage.MediaDir))
	}
	server := httpapi.NewServer(store, queue, pool, logger, serverOpts...)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return queue.Run(ctx) })
	group.Go(func() error { return cookies.Run(ctx) })
	group.Go(func() error { return tokens.Run(ctx) })
	group.Go(func() error {
		logger.Info().Str("addr", cfg.System.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(cfg.System.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info().Msg("flowvid started")
	return group.Wait()
}

// poolAccounts pairs emails with passwords. With no accounts configured
// (legacy-token mode) a placeholder keeps the pool non-empty; it never
// gets a cookie jar, so the resolver falls through to the static token.
func poolAccounts(cfg config.AccountsConfig) []accounts.Account {
	if len(cfg.Emails) == 0 {
		return []accounts.Account{{Email: "legacy@local"}}
	}
	ret := make([]accounts.Account, 0, len(cfg.Emails))
	for i, email := range cfg.Emails {
		account := accounts.Account{Email: email}
		if i < len(cfg.Passwords) {
			account.Password = cfg.Passwords[i]
		}
		ret = append(ret, account)
	}
	return ret
}

func newAssets(cfg config.StorageConfig, logger zerolog.Logger) (jobs.Assets, error) {
	switch cfg.Backend {
	case "", "local":
		return storage.NewLocalService(storage.Config{
			MediaDir:      cfg.MediaDir,
			PublicBaseURL: cfg.PublicBaseURL,
		}, logger)
	case "none":
		return storage.Noop{}, nil
	default:
		return nil, errors.New("unknown MEDIA_STORAGE_BACKEND: " + cfg.Backend)
	}
}

func newPublisher(cfg config.EventsConfig, logger zerolog.Logger) (jobs.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}, func() {}, nil
	}
	publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() { _ = publisher.Close() }, nil
}
