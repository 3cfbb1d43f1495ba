package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the engine process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Generator GeneratorConfig
	CRM       CRMConfig
	SMTP      SMTPConfig
	Rotation  RotationConfig
	Engine    EngineConfig
	AMQP      AMQPConfig
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
	SSLMode  string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	// CronSecret guards scheduler tick endpoints. Empty disables the check
	// (local only; Validate rejects empty in production).
	CronSecret string
}

// GeneratorConfig points at the AI generation collaborator
// (an OpenAI-compatible chat completions endpoint).
type GeneratorConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// CRMConfig points at the CRM collaborator (upsert/delete by email).
type CRMConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Sender is one outbound identity in the rotation pool.
type Sender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type RotationConfig struct {
	// Senders is parsed from SENDERS, a JSON array of {name,email}.
	Senders  []Sender
	DailyCap int
	BatchMax int
	// Timezone fixes the daily counter reset boundary.
	Timezone string
}

type EngineConfig struct {
	ClaimTTL        time.Duration
	WorkingHourFrom int
	WorkingHourTo   int
	// SendRatePerSec paces message delivery inside a dispatch batch.
	SendRatePerSec int
}

type AMQPConfig struct {
	// URL is optional; empty disables the activity event publisher.
	URL      string
	Exchange string
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
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.CronSecret = os.Getenv("CRON_SECRET")

	c.Generator.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
	c.Generator.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	c.Generator.Timeout = optDuration("OPENAI_TIMEOUT")

	c.CRM.BaseURL = strings.TrimSpace(os.Getenv("CRM_BASE_URL"))
	c.CRM.Username = strings.TrimSpace(os.Getenv("CRM_USERNAME"))
	c.CRM.Password = os.Getenv("CRM_PASSWORD")
	c.CRM.Timeout = optDuration("CRM_TIMEOUT")

	c.SMTP.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	{
		n, err := mustInt("SMTP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.SMTP.Port = n
	}
	c.SMTP.Username = strings.TrimSpace(os.Getenv("SMTP_USER"))
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")

	if raw := strings.TrimSpace(os.Getenv("SENDERS")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Rotation.Senders); err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("SENDERS must be a JSON array of {name,email}: %w", err))
		}
	}
	c.Rotation.DailyCap = optInt("DAILY_SEND_CAP")
	c.Rotation.BatchMax = optInt("BATCH_SEND_MAX")
	c.Rotation.Timezone = strings.TrimSpace(os.Getenv("SEND_TIMEZONE"))

	c.Engine.ClaimTTL = optDuration("CLAIM_TTL")
	c.Engine.WorkingHourFrom = optInt("WORKING_HOUR_FROM")
	c.Engine.WorkingHourTo = optInt("WORKING_HOUR_TO")
	c.Engine.SendRatePerSec = optInt("SEND_RATE_PER_SEC")

	c.AMQP.URL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.AMQP.Exchange = strings.TrimSpace(os.Getenv("AMQP_EXCHANGE"))

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
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
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
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}
	if c.IsProduction() && c.Auth.CronSecret == "" {
		errs = append(errs, errors.New("CRON_SECRET is required in production"))
	}

	if c.Generator.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Generator.Model == "" {
		c.Generator.Model = "gpt-4o-mini"
	}
	if c.Generator.Timeout <= 0 {
		c.Generator.Timeout = 60 * time.Second
	}

	if c.CRM.Timeout <= 0 {
		c.CRM.Timeout = 15 * time.Second
	}

	if len(c.Rotation.Senders) == 0 {
		errs = append(errs, errors.New("SENDERS must list at least one sender identity"))
	}
	for i, s := range c.Rotation.Senders {
		if s.Email == "" {
			errs = append(errs, fmt.Errorf("SENDERS[%d] is missing an email", i))
		}
	}
	if c.Rotation.DailyCap <= 0 {
		c.Rotation.DailyCap = 300
	}
	if c.Rotation.BatchMax <= 0 {
		c.Rotation.BatchMax = 5
	}
	if c.Rotation.Timezone == "" {
		c.Rotation.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Rotation.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("SEND_TIMEZONE %q is not a valid IANA zone", c.Rotation.Timezone))
	}

	if c.Engine.ClaimTTL <= 0 {
		c.Engine.ClaimTTL = 5 * time.Minute
	}
	if c.Engine.WorkingHourFrom == 0 && c.Engine.WorkingHourTo == 0 {
		c.Engine.WorkingHourFrom = 9
		c.Engine.WorkingHourTo = 17
	}
	if c.Engine.WorkingHourFrom < 0 || c.Engine.WorkingHourTo > 24 || c.Engine.WorkingHourFrom >= c.Engine.WorkingHourTo {
		errs = append(errs, fmt.Errorf("working hours [%d, %d) are not a valid window", c.Engine.WorkingHourFrom, c.Engine.WorkingHourTo))
	}
	if c.Engine.SendRatePerSec <= 0 {
		c.Engine.SendRatePerSec = 2
	}

	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "outreach.activity"
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

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
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
