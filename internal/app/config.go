package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-referral/internal/authority"
)

// Config holds the authority server configuration, loadable from environment
// variables (REFERRAL_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (REFERRAL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (REFERRAL_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Program      ProgramConfig
	Codes        CodesConfig
	Sweep        SweepConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig enables the distributed redemption lock. Without an address
// locks are held in process, which is only correct for a single instance.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for redemption locks" flag:"redis-addr"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	LockTTL  time.Duration `default:"5s" usage:"Redemption lock lifetime" flag:"lock-ttl"`
}

// ProgramConfig holds the program defaults for contexts without stored
// settings. Amounts are decimal strings.
type ProgramConfig struct {
	Enabled            bool   `default:"true" usage:"Referral program enabled"`
	ReferrerPercentage string `default:"15" usage:"Referrer reward percentage"`
	ReferredPercentage string `default:"10" usage:"Referred customer discount percentage"`
	CodePrefix         string `default:"REF" usage:"Referral code prefix"`
	MinOrderAmount     string `default:"0" usage:"Minimum order total for a discount"`
	MaxUsesPerCode     int    `default:"1" usage:"Redemptions allowed per code"`
	CodeValidityDays   int    `default:"365" usage:"Days a code stays valid"`
}

// CodesConfig tunes code generation.
type CodesConfig struct {
	BloomCapacity uint    `default:"1000000" usage:"Expected number of codes"`
	BloomFPR      float64 `default:"0.001" usage:"Bloom filter false positive rate"`
	IssueAttempts uint    `default:"5" usage:"Collision retries when issuing"`
}

// SweepConfig schedules deactivation of expired codes.
type SweepConfig struct {
	Schedule string `default:"@every 1h" usage:"Cron schedule of the expiry sweep"`
}

// RateLimitConfig controls the per-terminal rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Settings converts the program defaults.
func (p ProgramConfig) Settings() (authority.Settings, error) {
	var s authority.Settings
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"referrer percentage", p.ReferrerPercentage, &s.ReferrerPercentage},
		{"referred percentage", p.ReferredPercentage, &s.ReferredPercentage},
		{"minimum order amount", p.MinOrderAmount, &s.MinOrderAmount},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return s, errors.Wrapf(err, "parse %s", f.name)
		}
		*f.dst = v
	}
	s.Enabled = p.Enabled
	s.CodePrefix = p.CodePrefix
	s.MaxUsesPerCode = p.MaxUsesPerCode
	s.CodeValidityDays = p.CodeValidityDays

	if err := s.Validate(); err != nil {
		return s, errors.Wrap(err, "program defaults")
	}
	return s, nil
}

// LoadConfig loads configuration from command-line flags, environment
// variables, YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		Args:      args,
		EnvPrefix: "REFERRAL",
		Files:     []string{"config.yaml", "/etc/referral/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set REFERRAL_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Program.Settings(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT variables.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
