package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Automation    AutomationConfig
	Rewards       RewardsConfig
	Square        SquareConfig
	Patreon       PatreonConfig
	Notifications NotificationsConfig
	Cron          CronConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Rewards.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REWARDLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"REWARDLEDGER_APP_PORT" default:"8081"`
	LogLevel     string `envconfig:"REWARDLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REWARDLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REWARDLEDGER_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN        string `envconfig:"REWARDLEDGER_DB_DSN"`
	Driver     string `envconfig:"REWARDLEDGER_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"REWARDLEDGER_SQLITE_PATH" default:"rewardledger.db"`

	LegacyHost     string `envconfig:"REWARDLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"REWARDLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REWARDLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"REWARDLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"REWARDLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"REWARDLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REWARDLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REWARDLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REWARDLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REWARDLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REWARDLEDGER_REDIS_URL"`
	Address      string        `envconfig:"REWARDLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"REWARDLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"REWARDLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REWARDLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REWARDLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REWARDLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REWARDLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REWARDLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"REWARDLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"REWARDLEDGER_AUTO_MIGRATE" default:"false"`
	FakeVendor  bool `envconfig:"REWARDLEDGER_FAKE_VENDOR" default:"false"`
}

// AutomationConfig holds the switches that gate the scheduled money movers.
type AutomationConfig struct {
	PaymentsEnabled   bool          `envconfig:"REWARDLEDGER_AUTOMATED_PAYMENTS_ENABLED" default:"false"`
	RewardsEnabled    bool          `envconfig:"REWARDLEDGER_AUTOMATED_REWARDS_ENABLED" default:"false"`
	RefusalCooldown   time.Duration `envconfig:"REWARDLEDGER_REFUSAL_COOLDOWN" default:"72h"`
	ExpiryGrace       time.Duration `envconfig:"REWARDLEDGER_SUBSCRIPTION_EXPIRY_GRACE" default:"720h"`
	SubscriptionBatch int           `envconfig:"REWARDLEDGER_SUBSCRIPTION_BATCH_SIZE" default:"250"`
	CurrencyPerUSD    string        `envconfig:"REWARDLEDGER_CURRENCY_PER_USD" default:"100"`
}

// CurrencyRate parses the account currency granted per USD on direct purchases.
func (a AutomationConfig) CurrencyRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(a.CurrencyPerUSD))
	if err != nil || !rate.IsPositive() {
		return decimal.NewFromInt(100)
	}
	return rate
}

type RewardsConfig struct {
	PledgeMultiplier string   `envconfig:"REWARDLEDGER_PLEDGE_MULTIPLIER" default:"2"`
	Campaigns        []string `envconfig:"REWARDLEDGER_PATREON_CAMPAIGNS"`
}

// Multiplier returns the USD to account currency factor used for pledge rewards.
func (r RewardsConfig) Multiplier() decimal.Decimal {
	m, err := decimal.NewFromString(strings.TrimSpace(r.PledgeMultiplier))
	if err != nil {
		return decimal.NewFromInt(2)
	}
	return m
}

func (r RewardsConfig) validate() error {
	m, err := decimal.NewFromString(strings.TrimSpace(r.PledgeMultiplier))
	if err != nil {
		return fmt.Errorf("%s must be a decimal: %w", EnvPledgeMultiplier, err)
	}
	if !m.IsPositive() {
		return fmt.Errorf("%s must be positive", EnvPledgeMultiplier)
	}
	return nil
}

type SquareConfig struct {
	AccessToken string `envconfig:"REWARDLEDGER_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"REWARDLEDGER_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"REWARDLEDGER_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// Enabled reports whether enough credentials exist to build a Square client.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

type PatreonConfig struct {
	BaseURL     string        `envconfig:"REWARDLEDGER_PATREON_BASE_URL" default:"https://www.patreon.com/api/oauth2/v2"`
	AccessToken string        `envconfig:"REWARDLEDGER_PATREON_ACCESS_TOKEN"`
	PageSize    int           `envconfig:"REWARDLEDGER_PATREON_PAGE_SIZE" default:"500"`
	Timeout     time.Duration `envconfig:"REWARDLEDGER_PATREON_TIMEOUT" default:"30s"`
}

type NotificationsConfig struct {
	Sink         string `envconfig:"REWARDLEDGER_NOTIFICATION_SINK" default:"redis"`
	RedisChannel string `envconfig:"REWARDLEDGER_NOTIFICATION_CHANNEL" default:"rl:rewards"`
	BatchSize    int    `envconfig:"REWARDLEDGER_NOTIFICATION_BATCH_SIZE" default:"100"`
	MaxAttempts  int    `envconfig:"REWARDLEDGER_NOTIFICATION_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"REWARDLEDGER_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"REWARDLEDGER_CRON_LOCK_TTL" default:"55m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REWARDLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"REWARDLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REWARDLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	RewardsTopic string `envconfig:"REWARDLEDGER_PUBSUB_REWARDS_TOPIC" default:"rl-reward-events"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
