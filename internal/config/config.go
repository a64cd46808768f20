package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	OAuth   OAuthConfig
	Voice   VoiceConfig
	Billing BillingConfig
	CRM     CRMConfig
	Calls   CallsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is explicit so production deployments cannot silently run
	// without TLS. Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// OAuthConfig points at the external identity provider.
// Protocol handling itself lives in golang.org/x/oauth2.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserinfoURL  string
}

// VoiceConfig identifies the account at the voice-call provider.
type VoiceConfig struct {
	AccountID  string
	APIToken   string
	BaseURL    string
	FromNumber string
}

type BillingConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type CRMConfig struct {
	BaseURL string
	APIKey  string
}

// CallsConfig carries call-lifecycle policy knobs.
type CallsConfig struct {
	// InboundControlPolicy decides who may answer/reject an inbound call:
	// "team_inbox" (any authenticated user) or "owner_only".
	InboundControlPolicy string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.OAuth.ClientID = strings.TrimSpace(os.Getenv("OAUTH_CLIENT_ID"))
	c.OAuth.ClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	c.OAuth.RedirectURL = strings.TrimSpace(os.Getenv("OAUTH_REDIRECT_URL"))
	c.OAuth.AuthURL = strings.TrimSpace(os.Getenv("OAUTH_AUTH_URL"))
	c.OAuth.TokenURL = strings.TrimSpace(os.Getenv("OAUTH_TOKEN_URL"))
	c.OAuth.UserinfoURL = strings.TrimSpace(os.Getenv("OAUTH_USERINFO_URL"))

	c.Voice.AccountID = strings.TrimSpace(os.Getenv("VOICE_ACCOUNT_ID"))
	c.Voice.APIToken = os.Getenv("VOICE_API_TOKEN")
	c.Voice.BaseURL = strings.TrimSpace(os.Getenv("VOICE_BASE_URL"))
	c.Voice.FromNumber = strings.TrimSpace(os.Getenv("VOICE_FROM_NUMBER"))

	c.Billing.APIKey = os.Getenv("BILLING_API_KEY")
	c.Billing.BaseURL = strings.TrimSpace(os.Getenv("BILLING_BASE_URL"))
	c.Billing.WebhookSecret = os.Getenv("BILLING_WEBHOOK_SECRET")
	c.Billing.SuccessURL = strings.TrimSpace(os.Getenv("BILLING_SUCCESS_URL"))
	c.Billing.CancelURL = strings.TrimSpace(os.Getenv("BILLING_CANCEL_URL"))

	c.CRM.BaseURL = strings.TrimSpace(os.Getenv("CRM_BASE_URL"))
	c.CRM.APIKey = os.Getenv("CRM_API_KEY")

	c.Calls.InboundControlPolicy = strings.TrimSpace(os.Getenv("CALLS_INBOUND_CONTROL_POLICY"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("OAUTH_CLIENT_ID is required"))
	}
	if c.OAuth.ClientSecret == "" {
		errs = append(errs, errors.New("OAUTH_CLIENT_SECRET is required"))
	}
	if c.OAuth.RedirectURL == "" {
		errs = append(errs, errors.New("OAUTH_REDIRECT_URL is required"))
	}
	if c.OAuth.AuthURL == "" || c.OAuth.TokenURL == "" || c.OAuth.UserinfoURL == "" {
		errs = append(errs, errors.New("OAUTH_AUTH_URL, OAUTH_TOKEN_URL and OAUTH_USERINFO_URL are required"))
	}

	if c.Voice.AccountID == "" {
		errs = append(errs, errors.New("VOICE_ACCOUNT_ID is required"))
	}
	if c.Voice.APIToken == "" {
		errs = append(errs, errors.New("VOICE_API_TOKEN is required"))
	}
	if c.Voice.BaseURL == "" {
		errs = append(errs, errors.New("VOICE_BASE_URL is required"))
	}
	if c.Voice.FromNumber == "" {
		errs = append(errs, errors.New("VOICE_FROM_NUMBER is required"))
	}

	// Billing and CRM are optional integrations outside production.
	if c.IsProduction() {
		if c.Billing.APIKey == "" || c.Billing.BaseURL == "" {
			errs = append(errs, errors.New("BILLING_API_KEY and BILLING_BASE_URL are required in production"))
		}
	}

	switch c.Calls.InboundControlPolicy {
	case "":
		// Matches the historical behavior: inbound calls are a team inbox.
		c.Calls.InboundControlPolicy = "team_inbox"
	case "team_inbox", "owner_only":
	default:
		errs = append(errs, fmt.Errorf("CALLS_INBOUND_CONTROL_POLICY must be team_inbox or owner_only, got %q", c.Calls.InboundControlPolicy))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
