package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Execution modes.
const (
	ModeSimulation = "simulation"
	ModeHybrid     = "hybrid"
	ModeReal       = "real"
)

type Config struct {
	Mode      string          `yaml:"mode"`
	Cache     CacheConfig     `yaml:"cache"`
	Usage     UsageConfig     `yaml:"usage"`
	Model     ModelConfig     `yaml:"model"`
	Team      TeamConfig      `yaml:"team"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

type UsageConfig struct {
	StatsFile       string `yaml:"stats_file"`
	MaxCallsPerDay  int    `yaml:"max_calls_per_day"`
	MaxTokensPerDay int    `yaml:"max_tokens_per_day"`
}

type ModelConfig struct {
	APIKey      string        `yaml:"api_key"`
	Name        string        `yaml:"name"`
	MaxTokens   int64         `yaml:"max_tokens"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	BaseURL     string        `yaml:"base_url"`
}

type TeamConfig struct {
	CLIPath           string        `yaml:"cli_path"`
	WorkDir           string        `yaml:"work_dir"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	TaskSpacing       time.Duration `yaml:"task_spacing"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	MaxOutputBytes    int           `yaml:"max_output_bytes"`
}

type NATSConfig struct {
	Port int `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

func defaults() Config {
	return Config{
		Mode: ModeSimulation,
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 100,
			TTL:        24 * time.Hour,
		},
		Usage: UsageConfig{
			StatsFile:       "data/usage-stats.json",
			MaxCallsPerDay:  1000,
			MaxTokensPerDay: 100000,
		},
		Model: ModelConfig{
			Name:        "claude-sonnet-4-5-20250929",
			MaxTokens:   4096,
			MaxAttempts: 3,
			RetryDelay:  time.Second,
		},
		Team: TeamConfig{
			CLIPath:           "claude-code",
			CommandTimeout:    5 * time.Minute,
			CompletionTimeout: 2 * time.Minute,
			PollInterval:      500 * time.Millisecond,
			TaskSpacing:       time.Second,
			ShutdownGrace:     5 * time.Second,
			MaxOutputBytes:    10 * 1024 * 1024,
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/office.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval:  30 * time.Second,
			SweepSchedule: "*/10 * * * *",
		},
	}
}

func Load() (*Config, error) {
	// .env.local wins over .env; neither is required
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := defaults()

	path := os.Getenv("OFFICE_CONFIG")
	if path == "" {
		path = "config/office.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	if !ValidMode(c.Mode) {
		return fmt.Errorf("invalid mode %q: must be simulation, hybrid, or real", c.Mode)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Scheduler.SweepSchedule != "" && !gronx.New().IsValid(c.Scheduler.SweepSchedule) {
		return fmt.Errorf("invalid sweep schedule %q", c.Scheduler.SweepSchedule)
	}
	return nil
}

func ValidMode(mode string) bool {
	switch mode {
	case ModeSimulation, ModeHybrid, ModeReal:
		return true
	}
	return false
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true"
	}
	if v := os.Getenv("MAX_COST_ALERT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.MaxCallsPerDay = n
		}
	}
	if v := os.Getenv("MAX_TOKENS_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.MaxTokensPerDay = n
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("OFFICE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("OFFICE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("OFFICE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("OFFICE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("OFFICE_USAGE_FILE"); v != "" {
		cfg.Usage.StatsFile = v
	}
	if v := os.Getenv("OFFICE_TEAM_CLI"); v != "" {
		cfg.Team.CLIPath = v
	}
	if v := os.Getenv("OFFICE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("OFFICE_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}
