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
// All values must come from env (or a .env file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Events    EventsConfig
	Vapi      VapiConfig
	OpenAI    OpenAIConfig
	Reconcile ReconcileConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// StoreConfig selects where call records live.
// Accepts: memory, sqlite, postgres, redis
type StoreConfig struct {
	Backend    string
	SQLitePath string
	// CallsKey is the redis key holding the whole collection.
	CallsKey string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is either a full REDIS_URL or the split host settings.
// URL wins when both are set.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

// EventsConfig selects the change-event broker.
// Accepts: memory, redis
type EventsConfig struct {
	Backend string
	Channel string
}

// VapiConfig secrets are optional at boot; requests needing them fail with
// a configuration error instead.
type VapiConfig struct {
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	BaseURL       string

	// Persona overrides. Blank fields keep the built-in screening persona.
	FirstMessage  string
	SystemPrompt  string
	ModelProvider string
	Model         string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type ReconcileConfig struct {
	Tick            time.Duration
	FetchDelay      time.Duration
	ProviderTimeout time.Duration
}

type MetricsConfig struct {
	Namespace string
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
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.Store.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	c.Store.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	c.Store.CallsKey = strings.TrimSpace(os.Getenv("REDIS_CALLS_KEY"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.URL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Events.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("EVENTS_BACKEND")))
	c.Events.Channel = strings.TrimSpace(os.Getenv("EVENTS_CHANNEL"))

	c.Vapi.APIKey = strings.TrimSpace(os.Getenv("VAPI_API_KEY"))
	c.Vapi.AssistantID = strings.TrimSpace(os.Getenv("VAPI_ASSISTANT_ID"))
	c.Vapi.PhoneNumberID = strings.TrimSpace(os.Getenv("VAPI_PHONE_NUMBER_ID"))
	c.Vapi.BaseURL = strings.TrimSpace(os.Getenv("VAPI_BASE_URL"))
	c.Vapi.FirstMessage = strings.TrimSpace(os.Getenv("VAPI_FIRST_MESSAGE"))
	c.Vapi.SystemPrompt = strings.TrimSpace(os.Getenv("VAPI_SYSTEM_PROMPT"))
	c.Vapi.ModelProvider = strings.TrimSpace(os.Getenv("VAPI_MODEL_PROVIDER"))
	c.Vapi.Model = strings.TrimSpace(os.Getenv("VAPI_MODEL"))

	c.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	c.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	c.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))

	// Durations are optional; defaults applied in Validate().
	{
		d, err := optionalDuration("RECONCILE_TICK")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Reconcile.Tick = d
	}
	{
		d, err := optionalDuration("RECONCILE_FETCH_DELAY")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Reconcile.FetchDelay = d
	}
	{
		d, err := optionalDuration("PROVIDER_TIMEOUT")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Reconcile.ProviderTimeout = d
	}

	c.Metrics.Namespace = strings.TrimSpace(os.Getenv("METRICS_NAMESPACE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills env-dependent defaults in place.
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
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	switch c.Store.Backend {
	case "memory", "redis":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "phonescreen.db"
		}
	case "postgres":
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, sqlite, postgres, redis, got %q", c.Store.Backend))
	}
	if c.Store.CallsKey == "" {
		c.Store.CallsKey = "calls"
	}

	if c.Events.Backend == "" {
		c.Events.Backend = "memory"
	}
	if c.Events.Backend != "memory" && c.Events.Backend != "redis" {
		errs = append(errs, fmt.Errorf("EVENTS_BACKEND must be one of memory, redis, got %q", c.Events.Backend))
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "calls-updated"
	}

	if c.NeedsRedis() && c.Redis.URL == "" {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST or REDIS_URL is required for the redis store or events backend"))
		}
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB))
		}
	}

	if c.Vapi.BaseURL == "" {
		c.Vapi.BaseURL = "https://api.vapi.ai"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4"
	}

	if c.Reconcile.Tick <= 0 {
		c.Reconcile.Tick = time.Second
	}
	if c.Reconcile.FetchDelay <= 0 {
		// Give the provider a moment to finish post-call processing.
		c.Reconcile.FetchDelay = 2 * time.Second
	}
	if c.Reconcile.ProviderTimeout <= 0 {
		c.Reconcile.ProviderTimeout = 30 * time.Second
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "phonescreen"
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
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
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) NeedsRedis() bool {
	return c.Store.Backend == "redis" || c.Events.Backend == "redis"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PostgresDSN is in key=value form, accepted by the pgx stdlib driver.
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 2s or 500ms, got %q", key, v)
	}
	return d, nil
}

func appendParseErr[T any](errs []error, v T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
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
