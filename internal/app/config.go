package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (MERCH_ prefix), flags, or YAML config files.
type Config struct {
	Addr            string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL     string `usage:"PostgreSQL connection URL (MERCH_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AdminToken      string `usage:"Bearer token accepted on /admin endpoints (MERCH_ADMIN_TOKEN)" flag:"admin-token"`
	APIKeyPepper    string `usage:"HMAC pepper for API key hashing (MERCH_API_KEY_PEPPER)" flag:"api-key-pepper"`
	SafeMode        bool   `default:"false" usage:"Place real orders without the confirmReal flag" flag:"safe-mode"`
	BackgroundImage string `default:"" usage:"Storefront background image URL" flag:"background-image"`
	PricingFile     string `default:"" usage:"YAML file with shipping methods and display rates" flag:"pricing-file"`
	Storage         StorageConfig
	Printify        PrintifyConfig
	SMTP            SMTPConfig
	Redis           RedisConfig
	Timeouts        TimeoutConfig
	Maintenance     MaintenanceConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// StorageConfig selects the order store.
type StorageConfig struct {
	Driver string `default:"" usage:"Order store: file or postgres (default postgres when a database URL is set)"`
	Dir    string `default:"data/orders" usage:"Directory of the file order store"`
}

// PrintifyConfig enables external fulfillment when Token and ShopID are set.
type PrintifyConfig struct {
	Token    string        `usage:"Printify API token"`
	ShopID   string        `usage:"Printify shop id"`
	BaseURL  string        `default:"https://api.printify.com" usage:"Printify API base URL"`
	Timeout  time.Duration `default:"10s" usage:"Timeout of a single Printify request"`
	MaxTries uint          `default:"3" usage:"Attempts of idempotent Printify reads"`
}

// Enabled reports whether Printify credentials are configured.
func (c PrintifyConfig) Enabled() bool {
	return c.Token != "" && c.ShopID != ""
}

// SMTPConfig enables confirmation emails when Host is set.
type SMTPConfig struct {
	Host     string `usage:"SMTP server host"`
	Port     int    `default:"587" usage:"SMTP server port"`
	Username string `usage:"SMTP username"`
	Password string `usage:"SMTP password"`
	From     string `usage:"Sender address of confirmations"`
	ShopName string `default:"Merch Shop" usage:"Shop name used in confirmations"`
}

// RedisConfig enables the catalog cache when Addr is set.
type RedisConfig struct {
	Addr       string        `usage:"Redis address for the catalog cache"`
	CatalogTTL time.Duration `default:"5m" usage:"Catalog cache TTL" flag:"catalog-ttl"`
}

// TimeoutConfig bounds the checkout side effects.
type TimeoutConfig struct {
	External time.Duration `default:"15s" usage:"Fulfillment provider call timeout"`
	Store    time.Duration `default:"5s"  usage:"Order store write timeout"`
	Notify   time.Duration `default:"30s" usage:"Confirmation delivery timeout"`
}

// MaintenanceConfig switches the public API into maintenance mode.
type MaintenanceConfig struct {
	Enabled     bool          `default:"false" usage:"Answer 503 on /api routes"`
	RetryAfter  time.Duration `default:"5m" usage:"Retry-After advertised during maintenance"`
	BypassToken string        `usage:"Token accepted in X-Maintenance-Bypass"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max        int           `default:"100" usage:"Max requests per window"`
	Window     time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustProxy bool          `default:"false" usage:"Key clients by X-Forwarded-For" flag:"trust-proxy"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "MERCH",
		Files:     []string{"config.yaml", "/etc/merch/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, ac)
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MERCH_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
		if c.DatabaseURL != "" {
			c.Storage.Driver = DriverPostgres
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.Dir == "" {
			return errors.New("storage dir is required for the file driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set MERCH_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if (c.Printify.Token == "") != (c.Printify.ShopID == "") {
		return errors.New("printify token and shop id must be set together")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return errors.New("smtp from address is required when smtp host is set")
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		return errors.New("admin token must be at least 16 characters")
	}
	return nil
}
