package config

const EnvPrefix = "REWARDLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "REWARDLEDGER_APP_ENV"
	EnvPort   = "REWARDLEDGER_APP_PORT"

	EnvDBDSN  = "REWARDLEDGER_DB_DSN"
	EnvDBHost = "REWARDLEDGER_DB_HOST"
	EnvDBUser = "REWARDLEDGER_DB_USER"
	EnvDBName = "REWARDLEDGER_DB_NAME"

	EnvUseSQLite = "REWARDLEDGER_USE_SQLITE"
	EnvRedisURL  = "REWARDLEDGER_REDIS_URL"

	EnvAutomatedPayments = "REWARDLEDGER_AUTOMATED_PAYMENTS_ENABLED"
	EnvAutomatedRewards  = "REWARDLEDGER_AUTOMATED_REWARDS_ENABLED"
	EnvRefusalCooldown   = "REWARDLEDGER_REFUSAL_COOLDOWN"

	EnvPledgeMultiplier = "REWARDLEDGER_PLEDGE_MULTIPLIER"
	EnvPatreonCampaigns = "REWARDLEDGER_PATREON_CAMPAIGNS"
	EnvPatreonToken     = "REWARDLEDGER_PATREON_ACCESS_TOKEN"

	EnvSquareAccessToken = "REWARDLEDGER_SQUARE_ACCESS_TOKEN"
	EnvNotificationSink  = "REWARDLEDGER_NOTIFICATION_SINK"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
