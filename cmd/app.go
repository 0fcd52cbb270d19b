package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/ai/gemini"
	"github.com/spigell/hh-autopilot/internal/apply"
	"github.com/spigell/hh-autopilot/internal/fetcher"
	"github.com/spigell/hh-autopilot/internal/filtering"
	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/ledger"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/oauth"
	"github.com/spigell/hh-autopilot/internal/resume"
	"github.com/spigell/hh-autopilot/internal/scheduler"
	"github.com/spigell/hh-autopilot/internal/scoring"
	"github.com/spigell/hh-autopilot/internal/secrets"
	"github.com/spigell/hh-autopilot/internal/server"
	"github.com/spigell/hh-autopilot/internal/store/postgres"
	"github.com/spigell/hh-autopilot/internal/users"
)

// application holds the wired components of one command invocation.
type application struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store *postgres.Store
	redis *redis.Client

	hh       *headhunter.Client
	oauth    *oauth.Manager
	users    *users.Service
	profiles *resume.Profiles
	ledger   *ledger.Ledger
}

// setup loads the config, builds the logger and opens the stores every command needs.
func setup(ctx context.Context, withRedis bool) (*application, error) {
	zlog, err := logger.New(logger.Options{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Service: app,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}

	a := &application{
		config:  config,
		logger:  zlog,
		metrics: metrics.New(),
	}

	databaseURL, err := secrets.Load(secrets.Source{
		Name:    "database url",
		Value:   config.Database.URL,
		File:    config.Database.URLFile,
		FileEnv: "DATABASE_URL_FILE",
		Env:     "DATABASE_URL",
	})
	if err != nil {
		return nil, err
	}

	a.store, err = postgres.Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := a.store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if withRedis || config.Redis.URL != "" {
		a.redis, err = newRedisClient(ctx, config.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.hh = headhunter.New(zlog)
	if config.HH.UserAgent != "" {
		a.hh.UserAgent = config.HH.UserAgent
	}

	var states oauth.StateStore = oauth.NewMemoryStates()
	var notifier users.Notifier
	if a.redis != nil {
		states = oauth.NewRedisStates(a.redis)
		notifier = users.NewRedisNotifier(a.redis)
	}

	creds, err := a.credentials()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.oauth = oauth.New(a.hh, a.store, states, oauth.Options{
		Credentials:   creds,
		RefreshMargin: config.OAuth.RefreshMargin,
		Timeout:       config.OAuth.Timeout,
		StateTTL:      config.OAuth.StateTTL,
	}, zlog, a.metrics)
	a.users = users.New(a.store, a.oauth, notifier, zlog)
	a.profiles = resume.NewProfiles(a.store, zlog)
	a.ledger = ledger.New(a.store)

	return a, nil
}

// credentials are optional for commands that never talk to the token endpoint.
func (a *application) credentials() (headhunter.Credentials, error) {
	creds := headhunter.Credentials{
		ClientID:    a.config.HH.ClientID,
		RedirectURI: a.config.HH.RedirectURI,
	}
	if creds.ClientID == "" {
		return creds, nil
	}

	secret, err := secrets.Load(secrets.Source{
		Name:    "hh client secret",
		Value:   a.config.HH.ClientSecret,
		File:    a.config.HH.ClientSecretFile,
		FileEnv: "HH_CLIENT_SECRET_FILE",
	})
	if err != nil {
		return creds, err
	}
	creds.ClientSecret = secret

	return creds, nil
}

// serverOptions resolves the operator token. It is optional: without it the operator endpoints stay disabled.
func (a *application) serverOptions() (server.Options, error) {
	opts := a.config.Server
	if opts.Token == "" && opts.TokenFile == "" {
		return opts, nil
	}

	token, err := secrets.Load(secrets.Source{
		Name:  "server token",
		Value: opts.Token,
		File:  opts.TokenFile,
	})
	if err != nil {
		return opts, err
	}
	opts.Token = token

	return opts, nil
}

// newScheduler wires the cycle pipeline.
func (a *application) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	cfg := a.config
	if cfg.HH.ClientID == "" {
		return nil, errors.New("hh.client-id is required to keep tokens fresh")
	}

	letters, err := a.newLetterWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("building letter writer: %w", err)
	}

	scorer, err := scoring.New(cfg.Scoring)
	if err != nil {
		return nil, err
	}

	filters := filtering.Default()
	if len(cfg.Filters.RedFlags) == 0 {
		filtering.DisableByName(filters, "red_flags", "no red flags configured")
	}
	if err := filtering.Validate(&cfg.Filters, filters); err != nil {
		return nil, fmt.Errorf("filters: %w", err)
	}
	for _, status := range filtering.Describe(filters) {
		a.logger.Debug("filter", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled), zap.String("reason", status.Reason))
	}

	opts := cfg.Scheduler
	opts.Search = cfg.Search.SearchParams
	opts.MinResults = cfg.Search.MinResults

	return scheduler.New(scheduler.Deps{
		Users:        a.store,
		Tokens:       a.oauth,
		Profiles:     a.profiles,
		Search:       fetcher.New(a.hh, cfg.Fetch, a.logger, a.metrics),
		Scorer:       scorer,
		Submitter:    apply.New(a.hh, letters, a.ledger, cfg.Submission, a.logger, a.metrics),
		Filters:      filters,
		Ledger:       a.ledger,
		Negotiations: a.hh,
		Reauth:       a.users,
	}, opts, a.logger, a.metrics)
}

func (a *application) newLetterWriter(ctx context.Context) (*gemini.Writer, error) {
	cfg := a.config.AI.Gemini
	if cfg == nil {
		cfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:    "gemini api key",
		Value:   cfg.APIKey,
		File:    cfg.APIKeyFile,
		FileEnv: "GEMINI_API_KEY_FILE",
		Env:     "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	genLogger := a.logger.With(zap.Int("ai_retry_attempts", cfg.MaxRetries))
	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewWriter(generator, logger.WithCommonFields(a.logger, "gemini", generator.Model()), cfg.MaxLogLength), nil
}

func (a *application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis client", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

// newRedisClient parses redisURL and verifies connectivity.
func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("redis.url is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
