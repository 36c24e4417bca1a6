package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is applied by envconfig to unprefixed struct fields.
const EnvPrefix = "IFARMA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "IFARMA_DB_DSN"
	EnvDBHost = "IFARMA_DB_HOST"
	EnvDBUser = "IFARMA_DB_USER"
	EnvDBName = "IFARMA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	Billing      BillingConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"IFARMA_APP_ENV" required:"true"`
	Port         string `envconfig:"IFARMA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"IFARMA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"IFARMA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"IFARMA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"IFARMA_DB_DSN"`
	Driver string `envconfig:"IFARMA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"IFARMA_DB_HOST"`
	LegacyPort     int    `envconfig:"IFARMA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"IFARMA_DB_USER"`
	LegacyPassword string `envconfig:"IFARMA_DB_PASSWORD"`
	LegacyName     string `envconfig:"IFARMA_DB_NAME"`
	LegacySSLMode  string `envconfig:"IFARMA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"IFARMA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"IFARMA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"IFARMA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"IFARMA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"IFARMA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"IFARMA_REDIS_ADDR"`
	Password     string        `envconfig:"IFARMA_REDIS_PASSWORD"`
	DB           int           `envconfig:"IFARMA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"IFARMA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"IFARMA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"IFARMA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"IFARMA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"IFARMA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"IFARMA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"IFARMA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"IFARMA_JWT_EXPIRATION_MINUTES" required:"true"`
}

// GatewayConfig points the payments integration at the PIX gateway.
type GatewayConfig struct {
	BaseURL         string        `envconfig:"IFARMA_GATEWAY_BASE_URL" required:"true"`
	APIKey          string        `envconfig:"IFARMA_GATEWAY_API_KEY" required:"true"`
	WebhookToken    string        `envconfig:"IFARMA_GATEWAY_WEBHOOK_TOKEN"`
	RequestTimeout  time.Duration `envconfig:"IFARMA_GATEWAY_REQUEST_TIMEOUT" default:"10s"`
	SessionTokenTTL time.Duration `envconfig:"IFARMA_GATEWAY_SESSION_TOKEN_TTL" default:"15m"`
}

// BillingConfig carries the knobs of the billing engine itself.
type BillingConfig struct {
	VoucherPollInterval    time.Duration `envconfig:"IFARMA_BILLING_VOUCHER_POLL_INTERVAL" default:"3s"`
	VoucherPollMaxAttempts int           `envconfig:"IFARMA_BILLING_VOUCHER_POLL_MAX_ATTEMPTS" default:"20"`
	InvoiceDueDays         int           `envconfig:"IFARMA_BILLING_INVOICE_DUE_DAYS" default:"5"`
	ActivationGuardTTL     time.Duration `envconfig:"IFARMA_BILLING_ACTIVATION_GUARD_TTL" default:"30s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"IFARMA_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"IFARMA_CRON_LOCK_TTL" default:"55m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"IFARMA_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"IFARMA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"IFARMA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrderGateTopic string `envconfig:"IFARMA_PUBSUB_ORDER_GATE_TOPIC" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"IFARMA_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
