package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hh-autopilot/internal/apply"
	"github.com/spigell/hh-autopilot/internal/fetcher"
	"github.com/spigell/hh-autopilot/internal/filtering"
	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/scheduler"
	"github.com/spigell/hh-autopilot/internal/scoring"
	"github.com/spigell/hh-autopilot/internal/server"
)

const (
	app       = "hh-autopilot"
	envPrefix = "HH_AUTOPILOT"
)

type Config struct {
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	HH         HHConfig          `mapstructure:"hh"`
	OAuth      OAuthConfig       `mapstructure:"oauth"`
	Search     SearchConfig      `mapstructure:"search"`
	Fetch      fetcher.Options   `mapstructure:"fetch"`
	Scoring    scoring.Config    `mapstructure:"scoring"`
	Scheduler  scheduler.Options `mapstructure:"scheduler"`
	Submission apply.Options     `mapstructure:"submission"`
	Filters    filtering.Config  `mapstructure:"filters"`
	AI         AIConfig          `mapstructure:"ai"`
	Server     server.Options    `mapstructure:"server"`
	Triggers   TriggersConfig    `mapstructure:"triggers"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	URLFile string `mapstructure:"url-file"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type HHConfig struct {
	ClientID         string `mapstructure:"client-id"`
	ClientSecret     string `mapstructure:"client-secret"`
	ClientSecretFile string `mapstructure:"client-secret-file"`
	RedirectURI      string `mapstructure:"redirect-uri"`
	UserAgent        string `mapstructure:"user-agent"`
}

type OAuthConfig struct {
	RefreshMargin float64       `mapstructure:"refresh-margin"`
	StateTTL      time.Duration `mapstructure:"state-ttl"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// SearchConfig is the base hh.ru query of every cycle.
type SearchConfig struct {
	headhunter.SearchParams `mapstructure:",squash"`
	// MinResults stops the escalation to broader search modes.
	MinResults int `mapstructure:"min-results"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type TriggersConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hh-autopilot finds fitting vacancies on hh.ru and responds to them on behalf of its users",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hh-autopilot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	weights := scoring.DefaultWeights()
	v.SetDefault("scoring.threshold", scoring.DefaultThreshold)
	v.SetDefault("scoring.weights.skills", weights.Skills)
	v.SetDefault("scoring.weights.experience", weights.Experience)
	v.SetDefault("scoring.weights.salary", weights.Salary)
	v.SetDefault("scoring.weights.location", weights.Location)

	v.SetDefault("fetch.max-pages", 5)
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.backoff.base", "1s")
	v.SetDefault("fetch.backoff.max", "30s")
	v.SetDefault("fetch.backoff.retries", 3)

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.cycle-timeout", "10m")
	v.SetDefault("scheduler.max-submissions", 20)
	v.SetDefault("scheduler.run-on-start", false)

	v.SetDefault("oauth.refresh-margin", 0.1)
	v.SetDefault("oauth.state-ttl", "10m")
	v.SetDefault("oauth.timeout", "10s")

	v.SetDefault("submission.timeout", "30s")
	v.SetDefault("submission.letter-timeout", "60s")

	v.SetDefault("search.period", 1)
	v.SetDefault("search.order_by", "publication_time")
	v.SetDefault("search.per_page", 100)
	v.SetDefault("search.min-results", 20)

	v.SetDefault("filters.exclude-employers", []string{})
	v.SetDefault("filters.red-flags", []string{})
	v.SetDefault("filters.skip-applied-history", false)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.link-ttl", "24h")
	v.SetDefault("triggers.concurrency", 2)

	// Secrets and endpoints have no defaults; registering them lets the environment fill them in.
	for _, key := range []string{
		"database.url", "database.url-file", "redis.url",
		"hh.client-id", "hh.client-secret", "hh.client-secret-file", "hh.redirect-uri", "hh.user-agent",
		"ai.gemini.api-key", "ai.gemini.api-key-file",
		"server.token", "server.token-file", "server.public-url",
	} {
		v.SetDefault(key, "")
	}
}

func initConfig() {
	// A missing .env is fine, the environment may be set another way.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicitly requested config must exist and parse.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks the values the core cannot work with.
func (c *Config) Validate() error {
	if _, err := scoring.New(c.Scoring); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.New("scheduler.concurrency must be at least 1")
	}
	if c.OAuth.RefreshMargin <= 0 || c.OAuth.RefreshMargin >= 1 {
		return fmt.Errorf("oauth.refresh-margin %v must be within (0,1)", c.OAuth.RefreshMargin)
	}
	if c.Fetch.Backoff.Retries < 0 {
		return errors.New("fetch.backoff.retries must not be negative")
	}
	if c.Search.PerPage > 100 {
		return errors.New("search.per_page must not exceed 100")
	}
	if c.AI.Provider != "" && !strings.EqualFold(c.AI.Provider, "gemini") {
		return fmt.Errorf("unsupported ai provider: %s", c.AI.Provider)
	}

	return nil
}
