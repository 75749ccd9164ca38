package backoffice

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/virtualcc/backoffice/internal/logging"
)

// Config holds all configuration for the back office service.
type Config struct {
	// Server
	DataDir        string
	DatabasePath   string
	BindAddress    string
	Port           int
	BaseURL        string
	AllowedOrigins []string
	PublicMetrics  bool

	// Auth
	JWTSecret   string
	TokenTTL    time.Duration
	AdminAPIKey string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string

	// Xero
	XeroClientID     string
	XeroClientSecret string
	XeroTenantID     string
	XeroWebhookKey   string
	XeroBaseURL      string
	XeroTokenURL     string

	// Email
	SMTPHost            string
	SMTPPort            int
	SMTPSecure          bool
	SMTPUser            string
	SMTPPassword        string
	PostmarkServerToken string
	EmailFrom           string
	ReportURL           string
	ClientURL           string

	// Rate limits, per client IP and window.
	WebhookRateLimit int
	APIRateLimit     int
	RateWindow       time.Duration

	DNSCacheTTL time.Duration

	Logging logging.Config
}

// LoadConfig loads configuration from environment variables. A .env file is
// loaded if present but not required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	smtpPort, err := envOrDefaultInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	webhookLimit, err := envOrDefaultInt("WEBHOOK_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	apiLimit, err := envOrDefaultInt("API_RATE_LIMIT", 300)
	if err != nil {
		return nil, err
	}
	rateWindow, err := envOrDefaultDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := envOrDefaultDuration("JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	dnsTTL, err := envOrDefaultDuration("DNS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	logMaxSize, err := envOrDefaultInt("LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return nil, err
	}
	logMaxAge, err := envOrDefaultInt("LOG_MAX_AGE_DAYS", 30)
	if err != nil {
		return nil, err
	}

	dataDir := envOrDefault("DATA_DIR", "./data")
	dbPath, err := databasePath(dataDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:        dataDir,
		DatabasePath:   dbPath,
		BindAddress:    envOrDefault("BIND_ADDRESS", "0.0.0.0"),
		Port:           port,
		BaseURL:        strings.TrimSpace(os.Getenv("BASE_URL")),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		PublicMetrics:  envBool("PUBLIC_METRICS"),

		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
		TokenTTL:    tokenTTL,
		AdminAPIKey: strings.TrimSpace(os.Getenv("ADMIN_API_KEY")),

		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIURL:        strings.TrimSpace(os.Getenv("STRIPE_API_URL")),

		XeroClientID:     strings.TrimSpace(os.Getenv("XERO_CLIENT_ID")),
		XeroClientSecret: strings.TrimSpace(os.Getenv("XERO_CLIENT_SECRET")),
		XeroTenantID:     strings.TrimSpace(os.Getenv("XERO_TENANT_ID")),
		XeroWebhookKey:   strings.TrimSpace(os.Getenv("XERO_WEBHOOK_KEY")),
		XeroBaseURL:      strings.TrimSpace(os.Getenv("XERO_BASE_URL")),
		XeroTokenURL:     strings.TrimSpace(os.Getenv("XERO_TOKEN_URL")),

		SMTPHost:            strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:            smtpPort,
		SMTPSecure:          envBool("SMTP_SECURE"),
		SMTPUser:            strings.TrimSpace(os.Getenv("SMTP_USER")),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("EMAIL_FROM", "VCC Employment <noreply@vcc.org.au>"),
		ReportURL:           strings.TrimSpace(os.Getenv("REPORT_URL")),
		ClientURL:           strings.TrimRight(strings.TrimSpace(os.Getenv("CLIENT_URL")), "/"),

		WebhookRateLimit: webhookLimit,
		APIRateLimit:     apiLimit,
		RateWindow:       rateWindow,
		DNSCacheTTL:      dnsTTL,

		Logging: logging.Config{
			Format:        envOrDefault("LOG_FORMAT", "auto"),
			Level:         envOrDefault("LOG_LEVEL", "info"),
			Component:     "backoffice",
			FilePath:      strings.TrimSpace(os.Getenv("LOG_FILE")),
			ErrorFilePath: strings.TrimSpace(os.Getenv("LOG_ERROR_FILE")),
			MaxSizeMB:     logMaxSize,
			MaxAgeDays:    logMaxAge,
			Compress:      envBoolDefault("LOG_COMPRESS", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate backoffice config: %w", err)
	}
	return cfg, nil
}

// DatabasePathFromEnv resolves the database location without loading the
// rest of the configuration, for offline commands.
func DatabasePathFromEnv() (string, error) {
	_ = godotenv.Load()
	return databasePath(envOrDefault("DATA_DIR", "./data"))
}

// databasePath resolves DATABASE_URL, or its legacy alias MONGODB_URI, to a
// sqlite file path. It defaults to backoffice.db under dataDir.
func databasePath(dataDir string) (string, error) {
	raw := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	source := "DATABASE_URL"
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("MONGODB_URI"))
		source = "MONGODB_URI"
	}
	if raw == "" {
		return filepath.Join(dataDir, "backoffice.db"), nil
	}

	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "mongodb://") || strings.HasPrefix(lower, "mongodb+srv://") {
		return "", fmt.Errorf("%s points at MongoDB; the back office stores data in sqlite, set DATABASE_URL to a sqlite file path", source)
	}
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(lower, prefix) {
			raw = raw[len(prefix):]
			break
		}
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "", fmt.Errorf("%s must name a sqlite database file", source)
	}
	return raw, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT must be between 1 and 65535, got %d", c.SMTPPort)
	}
	if c.WebhookRateLimit <= 0 || c.APIRateLimit <= 0 {
		return fmt.Errorf("rate limits must be greater than 0")
	}
	if (c.XeroClientID == "") != (c.XeroClientSecret == "") {
		return fmt.Errorf("XERO_CLIENT_ID and XERO_CLIENT_SECRET must be set together")
	}

	for name, raw := range map[string]string{"BASE_URL": c.BaseURL, "CLIENT_URL": c.ClientURL, "REPORT_URL": c.ReportURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s must be a valid URL: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must use http or https scheme", name)
		}
		if u.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	return nil
}

// XeroEnabled reports whether Xero credentials are configured.
func (c *Config) XeroEnabled() bool {
	return c.XeroClientID != "" && c.XeroClientSecret != ""
}

// SecureCookies reports whether auth cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.BaseURL), "https://")
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("%s must be positive", key)
		}
		return d, nil
	}
	return fallback, nil
}

func envBool(key string) bool {
	return envBoolDefault(key, false)
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
