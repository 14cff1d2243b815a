package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"ResearchBrief/internal/domain"
)

const (
	defaultTimezone = "UTC"

	ConfigPathEnv      = "RESEARCH_BRIEF_CONFIG"
	databaseDriverEnv  = "DATABASE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	generationKeyEnv   = "GENERATION_API_KEY"
	generationModelEnv = "GENERATION_MODEL"
	generationProvEnv  = "GENERATION_PROVIDER"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_OPERATOR_CHAT_ID"
	tokenSigningKeyEnv = "TOKEN_SIGNING_KEY"
	researchEnabledEnv = "RESEARCH_ENABLED"
	logLevelEnv        = "LOG_LEVEL"
)

// Generation providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Research      ResearchConfig     `yaml:"research"`
	Generation    GenerationConfig   `yaml:"generation"`
	Notifications NotificationConfig `yaml:"notifications"`
	Tokens        TokensConfig       `yaml:"tokens"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the SQL connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when ticks run in daemon mode and how periods are keyed.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	Period         string         `yaml:"period"`
	LockFile       string         `yaml:"lockFile"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// PeriodKind returns the parsed period kind; Validate guarantees it parses.
func (s SchedulerConfig) PeriodKind() domain.PeriodKind {
	kind, err := domain.ParsePeriodKind(s.Period)
	if err != nil {
		return domain.PeriodWeek
	}
	return kind
}

// ResearchConfig carries the job engine limits.
type ResearchConfig struct {
	Enabled            bool            `yaml:"enabled"`
	MaxJobsPerTick     int             `yaml:"maxJobsPerTick"`
	AdvanceBudget      time.Duration   `yaml:"advanceBudget"`
	StepBudget         time.Duration   `yaml:"stepBudget"`
	JobShareFloor      time.Duration   `yaml:"jobShareFloor"`
	JobShareCeiling    time.Duration   `yaml:"jobShareCeiling"`
	BudgetBuffer       time.Duration   `yaml:"budgetBuffer"`
	MaxAttempts        int             `yaml:"maxAttempts"`
	MaxSteps           int             `yaml:"maxSteps"`
	LookbackDays       int             `yaml:"lookbackDays"`
	MinSources         int             `yaml:"minSources"`
	MaxSources         int             `yaml:"maxSources"`
	DefaultSources     int             `yaml:"defaultSources"`
	DefaultQualityTier int             `yaml:"defaultQualityTier"`
	BlockedHosts       []string        `yaml:"blockedHosts"`
	PublicBaseURL      string          `yaml:"publicBaseUrl"`
	Fetch              FetchConfig     `yaml:"fetch"`
	Synthesis          SynthesisConfig `yaml:"synthesis"`
}

// FetchConfig tunes the evidence extractor.
type FetchConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	Timeout          time.Duration `yaml:"timeout"`
	UserAgent        string        `yaml:"userAgent"`
	MinReadableChars int           `yaml:"minReadableChars"`
	MaxStoredChars   int           `yaml:"maxStoredChars"`
}

// SynthesisConfig tunes the synthesizer.
type SynthesisConfig struct {
	PreferredStrategy string        `yaml:"preferredStrategy"`
	FallbackStrategy  string        `yaml:"fallbackStrategy"`
	MinSourcesDirect  int           `yaml:"minSourcesDirect"`
	MinSourcesPartial int           `yaml:"minSourcesPartial"`
	MaxSources        int           `yaml:"maxSources"`
	ExcerptChars      int           `yaml:"excerptChars"`
	DirectTimeout     time.Duration `yaml:"directTimeout"`
	MapTimeout        time.Duration `yaml:"mapTimeout"`
	ReduceTimeout     time.Duration `yaml:"reduceTimeout"`
	MaxOutputTokens   int           `yaml:"maxOutputTokens"`
	MapOutputTokens   int           `yaml:"mapOutputTokens"`
	Temperature       float64       `yaml:"temperature"`
}

// GenerationConfig defines how to contact the generation service.
type GenerationConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages. Briefs go to each
// user's chat id from the directory. OperatorChatID switches to
// single-recipient operator mode: every brief and its link tokens go to that
// one chat, so set it only when a single user is served.
type TelegramConfig struct {
	BotToken       string `yaml:"botToken"`
	OperatorChatID string `yaml:"operatorChatId"`
	APIBase        string `yaml:"apiBase"`
}

// TokensConfig selects remote token issuance or local signing.
type TokensConfig struct {
	IssuerURL  string        `yaml:"issuerUrl"`
	APIKey     string        `yaml:"apiKey"`
	SigningKey string        `yaml:"signingKey"`
	TTL        time.Duration `yaml:"ttl"`
}

// Load reads YAML configuration over the defaults and applies environment
// overrides. An empty path falls back to RESEARCH_BRIEF_CONFIG; no path at
// all means defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(generationProvEnv); v != "" {
		c.Generation.Provider = v
	}
	if v := os.Getenv(generationKeyEnv); v != "" {
		c.Generation.APIKey = v
	}
	if v := os.Getenv(generationModelEnv); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.OperatorChatID = v
	}
	if v := os.Getenv(tokenSigningKeyEnv); v != "" {
		c.Tokens.SigningKey = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(researchEnabledEnv); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", researchEnabledEnv, err)
		}
		c.Research.Enabled = enabled
	}
	return nil
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %s: %w", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

// Validate rejects combinations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch strings.ToLower(c.Generation.Provider) {
	case ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q must be openai or gemini", c.Generation.Provider))
	}
	if _, err := domain.ParsePeriodKind(c.Scheduler.Period); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.period: %w", err))
	}

	r := c.Research
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("research.maxAttempts must be at least 1"))
	}
	if r.MaxSteps < r.MaxAttempts {
		errs = append(errs, errors.New("research.maxSteps must not be below research.maxAttempts"))
	}
	if r.JobShareFloor <= 0 || r.JobShareFloor > r.JobShareCeiling {
		errs = append(errs, errors.New("research.jobShareFloor must be positive and not exceed jobShareCeiling"))
	}
	if r.BudgetBuffer < 0 || r.BudgetBuffer >= r.JobShareFloor {
		errs = append(errs, errors.New("research.budgetBuffer must be below research.jobShareFloor"))
	}
	if r.MinSources < 1 || r.MinSources > r.MaxSources {
		errs = append(errs, errors.New("research.minSources must be between 1 and research.maxSources"))
	}
	if r.LookbackDays < 1 {
		errs = append(errs, errors.New("research.lookbackDays must be at least 1"))
	}
	if r.Fetch.BatchSize < 1 {
		errs = append(errs, errors.New("research.fetch.batchSize must be at least 1"))
	}
	if r.Fetch.MinReadableChars < 1 || r.Fetch.MinReadableChars > r.Fetch.MaxStoredChars {
		errs = append(errs, errors.New("research.fetch.minReadableChars must be between 1 and maxStoredChars"))
	}
	s := r.Synthesis
	if s.MinSourcesPartial < 1 || s.MinSourcesPartial > s.MinSourcesDirect {
		errs = append(errs, errors.New("research.synthesis.minSourcesPartial must be between 1 and minSourcesDirect"))
	}
	if s.MapTimeout <= 0 || s.ReduceTimeout <= 0 || s.MapTimeout+s.ReduceTimeout >= s.DirectTimeout {
		errs = append(errs, errors.New("research.synthesis.mapTimeout plus reduceTimeout must be positive and below directTimeout"))
	}
	if r.JobShareFloor < r.Fetch.Timeout+r.BudgetBuffer {
		errs = append(errs, errors.New("research.jobShareFloor must fit research.fetch.timeout plus research.budgetBuffer"))
	}
	if r.JobShareCeiling < s.DirectTimeout+r.BudgetBuffer {
		errs = append(errs, errors.New("research.jobShareCeiling must fit research.synthesis.directTimeout plus research.budgetBuffer"))
	}
	if r.StepBudget < s.DirectTimeout+r.BudgetBuffer {
		errs = append(errs, errors.New("research.stepBudget must fit research.synthesis.directTimeout plus research.budgetBuffer"))
	}
	for name, value := range map[string]string{"preferredStrategy": s.PreferredStrategy, "fallbackStrategy": s.FallbackStrategy} {
		switch domain.Strategy(value) {
		case domain.StrategyDirect, domain.StrategyMapReduce, domain.StrategyTemplate:
		default:
			errs = append(errs, fmt.Errorf("research.synthesis.%s %q is unknown", name, value))
		}
	}

	return errors.Join(errs...)
}

// Default returns the built-in configuration.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "research-brief.db"},
		Scheduler: SchedulerConfig{
			CronExpression: "0 6 * * *",
			Timezone:       defaultTimezone,
			Period:         string(domain.PeriodWeek),
			LockFile:       "research-brief.lock",
			location:       tz,
		},
		Research: ResearchConfig{
			Enabled:            false,
			MaxJobsPerTick:     10,
			AdvanceBudget:      4 * time.Minute,
			StepBudget:         45 * time.Second,
			JobShareFloor:      15 * time.Second,
			JobShareCeiling:    45 * time.Second,
			BudgetBuffer:       5 * time.Second,
			MaxAttempts:        3,
			MaxSteps:           12,
			LookbackDays:       7,
			MinSources:         6,
			MaxSources:         12,
			DefaultSources:     8,
			DefaultQualityTier: 3,
			PublicBaseURL:      "https://brief.example.com",
			Fetch: FetchConfig{
				BatchSize:        4,
				Timeout:          10 * time.Second,
				MinReadableChars: 1200,
				MaxStoredChars:   20000,
			},
			Synthesis: SynthesisConfig{
				PreferredStrategy: string(domain.StrategyDirect),
				FallbackStrategy:  string(domain.StrategyMapReduce),
				MinSourcesDirect:  4,
				MinSourcesPartial: 2,
				MaxSources:        8,
				ExcerptChars:      3000,
				DirectTimeout:     35 * time.Second,
				MapTimeout:        12 * time.Second,
				ReduceTimeout:     20 * time.Second,
				MaxOutputTokens:   1800,
				MapOutputTokens:   220,
				Temperature:       0.3,
			},
		},
		Generation: GenerationConfig{
			Provider: ProviderOpenAI,
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Tokens: TokensConfig{TTL: 30 * 24 * time.Hour},
	}
}
