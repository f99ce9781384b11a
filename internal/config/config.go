package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Billing BillingConfig
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

	// SSLMode is kept explicit. Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// BillingConfig carries the ledger policy knobs. Cadence and amounts are
// operator decisions; the services only consume them.
type BillingConfig struct {
	// CallCost is the fixed per-call charge applied to connected calls.
	CallCost decimal.Decimal
	// InitialBalance is granted to the base bucket on first access.
	InitialBalance decimal.Decimal
	// ReferralReward is the default bonus credit per successful referral.
	ReferralReward decimal.Decimal
	// ResetAmount is the absolute base balance applied by scheduled resets.
	ResetAmount decimal.Decimal

	// ReconcileInterval drives the failed-deduction sweep.
	ReconcileInterval time.Duration
	// StaleCallTimeout marks initiated/ringing calls as missed after this long.
	StaleCallTimeout time.Duration
	// RewardGuardTTL bounds the duplicate-suppression window for reward triggers.
	RewardGuardTTL time.Duration
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
	// Optional; default applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	// Billing amounts are optional in env; Validate() applies defaults.
	var decErrs []error
	c.Billing.CallCost, decErrs = appendDecimal(decErrs, "BILLING_CALL_COST")
	c.Billing.InitialBalance, decErrs = appendDecimal(decErrs, "BILLING_INITIAL_BALANCE")
	c.Billing.ReferralReward, decErrs = appendDecimal(decErrs, "BILLING_REFERRAL_REWARD")
	c.Billing.ResetAmount, decErrs = appendDecimal(decErrs, "BILLING_RESET_AMOUNT")
	parseErrs = append(parseErrs, decErrs...)

	c.Billing.ReconcileInterval = mustDuration("BILLING_RECONCILE_INTERVAL")
	c.Billing.StaleCallTimeout = mustDuration("BILLING_STALE_CALL_TIMEOUT")
	c.Billing.RewardGuardTTL = mustDuration("BILLING_REWARD_GUARD_TTL")

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
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	// Billing defaults mirror the platform policy seeds.
	if c.Billing.CallCost.IsZero() {
		c.Billing.CallCost = decimal.RequireFromString("1.00")
	}
	if c.Billing.CallCost.IsNegative() {
		errs = append(errs, errors.New("BILLING_CALL_COST must be > 0"))
	}
	if c.Billing.InitialBalance.IsZero() {
		c.Billing.InitialBalance = decimal.RequireFromString("10.00")
	}
	if c.Billing.InitialBalance.IsNegative() {
		errs = append(errs, errors.New("BILLING_INITIAL_BALANCE must be >= 0"))
	}
	if c.Billing.ReferralReward.IsZero() {
		c.Billing.ReferralReward = decimal.RequireFromString("5.00")
	}
	if c.Billing.ReferralReward.IsNegative() {
		errs = append(errs, errors.New("BILLING_REFERRAL_REWARD must be > 0"))
	}
	if c.Billing.ResetAmount.IsZero() {
		c.Billing.ResetAmount = decimal.RequireFromString("5.00")
	}
	if c.Billing.ResetAmount.IsNegative() {
		errs = append(errs, errors.New("BILLING_RESET_AMOUNT must be >= 0"))
	}

	if c.Billing.ReconcileInterval <= 0 {
		c.Billing.ReconcileInterval = 5 * time.Minute
	}
	if c.Billing.StaleCallTimeout <= 0 {
		c.Billing.StaleCallTimeout = 60 * time.Second
	}
	if c.Billing.RewardGuardTTL <= 0 {
		c.Billing.RewardGuardTTL = 24 * time.Hour
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

func appendDecimal(errs []error, key string) (decimal.Decimal, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return decimal.Zero, errs
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, append(errs, fmt.Errorf("%s must be a decimal, got %q", key, v))
	}
	return d, errs
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
