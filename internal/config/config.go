package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	AnalysisDelay       time.Duration `mapstructure:"ANALYSIS_DELAY"`
	ConsentTimeout      time.Duration `mapstructure:"CONSENT_REQUEST_TIMEOUT"`
	DraftIdleTTL        time.Duration `mapstructure:"DRAFT_IDLE_TTL"`
	DraftSweepInterval  time.Duration `mapstructure:"DRAFT_SWEEP_INTERVAL"`
	DefaultDosingLine   string        `mapstructure:"DEFAULT_DOSING_LINE"`
	CoveragePublicRate  int64         `mapstructure:"COVERAGE_PUBLIC_RATE"`
	CoveragePrivateRate int64         `mapstructure:"COVERAGE_PRIVATE_RATE"`
	CoverageDelay       time.Duration `mapstructure:"COVERAGE_DELAY"`
	SignURL             string        `mapstructure:"SIGN_URL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"ANALYSIS_DELAY", "CONSENT_REQUEST_TIMEOUT", "DRAFT_IDLE_TTL", "DRAFT_SWEEP_INTERVAL",
	"DEFAULT_DOSING_LINE", "COVERAGE_PUBLIC_RATE", "COVERAGE_PRIVATE_RATE", "COVERAGE_DELAY",
	"SIGN_URL",
}

// Load reads the configuration from the environment, falling back to a .env
// file when present. DATABASE_URL and REDIS_URL are optional: without them
// the server keeps orders in memory and signature requests are only logged.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("ANALYSIS_DELAY", "1500ms")
	v.SetDefault("CONSENT_REQUEST_TIMEOUT", "15m")
	v.SetDefault("DRAFT_IDLE_TTL", "2h")
	v.SetDefault("DRAFT_SWEEP_INTERVAL", "1m")
	v.SetDefault("DEFAULT_DOSING_LINE", "Take as directed by the prescribing physician")
	v.SetDefault("COVERAGE_PUBLIC_RATE", 80)
	v.SetDefault("COVERAGE_PRIVATE_RATE", 60)
	v.SetDefault("COVERAGE_DELAY", "2s")
	v.SetDefault("SIGN_URL", "http://localhost:3000/consent/sign")

	// Bind explicitly so Unmarshal picks up keys that have no default.
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is required so bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production")
	}
	for name, rate := range map[string]int64{
		"COVERAGE_PUBLIC_RATE":  c.CoveragePublicRate,
		"COVERAGE_PRIVATE_RATE": c.CoveragePrivateRate,
	} {
		if rate < 0 || rate > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, rate)
		}
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.AnalysisDelay < 0 || c.ConsentTimeout < 0 || c.DraftIdleTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.DraftIdleTTL > 0 && c.DraftSweepInterval <= 0 {
		return fmt.Errorf("DRAFT_SWEEP_INTERVAL must be positive when DRAFT_IDLE_TTL is set")
	}
	if strings.TrimSpace(c.DefaultDosingLine) == "" {
		return fmt.Errorf("DEFAULT_DOSING_LINE must not be empty")
	}
	return nil
}
