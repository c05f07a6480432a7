package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Provider ProviderConfig
	Probe    ProbeConfig
	Cache    CacheConfig
	Quota    QuotaConfig
	Models   ModelsConfig
	Ensemble EnsembleConfig
	AdminIDs []int64
}

type ServerConfig struct {
	Port      string
	Mode      string
	JWTSecret string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type ProviderConfig struct {
	URL            string
	APIKey         string
	RequestTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
}

type ProbeConfig struct {
	Interval     time.Duration
	Freshness    time.Duration
	TextTimeout  time.Duration
	ImageTimeout time.Duration
}

type CacheConfig struct {
	ProfileTTL time.Duration
}

type QuotaConfig struct {
	// Limits is keyed by subscription tier (0=Free .. 3=Max).
	Limits map[int]TierLimits
	// BonusDaily replaces the tier-0 daily limit once the reward bonus
	// has been granted.
	BonusDaily int
	// UTCOffsetHours fixes the calendar-day boundary for quota rollover.
	UTCOffsetHours int
}

type TierLimits struct {
	Daily    int
	Ensemble int
}

type ModelsConfig struct {
	Categories         map[string][]string
	TierAccess         map[int][]string
	ImageModels        []string
	DefaultTextModel   string
	DefaultImageModel  string
	DefaultTemperature float64
	SystemPrompt       string
}

type EnsembleConfig struct {
	Participants []string
	Arbiter      string
}

func Load() (*Config, error) {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("ARIMA")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("provider.requesttimeout", "120s")
	viper.SetDefault("provider.ratepersecond", 10.0)
	viper.SetDefault("provider.rateburst", 20)
	viper.SetDefault("probe.interval", "10m")
	viper.SetDefault("probe.freshness", "10m")
	viper.SetDefault("probe.texttimeout", "20s")
	viper.SetDefault("probe.imagetimeout", "45s")
	viper.SetDefault("cache.profilettl", "5m")
	viper.SetDefault("quota.bonusdaily", 7)
	viper.SetDefault("quota.utcoffsethours", 3)
	viper.SetDefault("models.defaulttextmodel", "chatgpt-4o-latest")
	viper.SetDefault("models.defaultimagemodel", "gpt-image-1")
	viper.SetDefault("models.defaulttemperature", 0.7)
	viper.SetDefault("models.systemprompt", "You are MiniArima, an advanced GenAI assistant.")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("API_URL"); url != "" {
		cfg.Provider.URL = url
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if ids := os.Getenv("ADMIN_IDS"); ids != "" {
		parsed, err := parseAdminIDs(ids)
		if err != nil {
			return nil, err
		}
		cfg.AdminIDs = parsed
	}

	applyModelDefaults(&cfg)
	applyQuotaDefaults(&cfg)

	return &cfg, nil
}

func parseAdminIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Default model catalog if not configured
func applyModelDefaults(cfg *Config) {
	if len(cfg.Models.Categories) == 0 {
		cfg.Models.Categories = map[string][]string{
			"OpenAI":    {"gpt-4.5-preview", "gpt-4.1", "o4-mini", "chatgpt-4o-latest"},
			"DeepSeek":  {"deepseek-chat-v3-0324", "deepseek-r1-0528"},
			"Meta":      {"llama-3.1-nemotron-ultra-253b-v1"},
			"Alibaba":   {"qwen3-235b-a22b"},
			"Microsoft": {"phi-4-reasoning-plus"},
			"xAI":       {"grok-3", "grok-3-mini"},
			"Anthropic": {"claude-3.7-sonnet"},
		}
	}
	if len(cfg.Models.TierAccess) == 0 {
		standard := []string{
			"deepseek-chat-v3-0324", "gpt-4.1", "chatgpt-4o-latest",
			"llama-3.1-nemotron-ultra-253b-v1", "qwen3-235b-a22b",
			"phi-4-reasoning-plus", "grok-3-mini",
		}
		cfg.Models.TierAccess = map[int][]string{
			0: {"deepseek-chat-v3-0324", "gpt-4.1", "chatgpt-4o-latest"},
			1: standard,
			2: cfg.AllTextModels(),
			3: cfg.AllTextModels(),
		}
	}
	if len(cfg.Models.ImageModels) == 0 {
		cfg.Models.ImageModels = []string{"gpt-image-1", "flux-1.1-pro"}
	}
	if len(cfg.Ensemble.Participants) == 0 {
		cfg.Ensemble.Participants = []string{
			"grok-3", "gpt-4.1", "deepseek-chat-v3-0324",
			"gpt-4.5-preview", "chatgpt-4o-latest", "claude-3.7-sonnet",
		}
	}
	if cfg.Ensemble.Arbiter == "" {
		cfg.Ensemble.Arbiter = "deepseek-r1-0528"
	}
}

func applyQuotaDefaults(cfg *Config) {
	if len(cfg.Quota.Limits) == 0 {
		cfg.Quota.Limits = map[int]TierLimits{
			0: {Daily: 3, Ensemble: 0},
			1: {Daily: 40, Ensemble: 0},
			2: {Daily: 100, Ensemble: 0},
			3: {Daily: 100, Ensemble: 5},
		}
	}
}

// AllTextModels returns every text model across the catalog, deduplicated.
func (c *Config) AllTextModels() []string {
	seen := make(map[string]struct{})
	models := []string{}
	for _, cat := range c.Models.Categories {
		for _, m := range cat {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			models = append(models, m)
		}
	}
	return models
}

// IsAdmin reports whether the user carries the unrestricted
// administrative identity.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// QuotaLocation is the fixed timezone used for calendar-day rollover.
func (c *Config) QuotaLocation() *time.Location {
	return time.FixedZone("MSK", c.Quota.UTCOffsetHours*3600)
}
