package config

const EnvPrefix = "BIZLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv          = "BIZLEDGER_APP_ENV"
	EnvPort            = "BIZLEDGER_APP_PORT"
	EnvMasterDBDSN     = "BIZLEDGER_MASTER_DB_DSN"
	EnvMasterDBHost    = "BIZLEDGER_MASTER_DB_HOST"
	EnvMasterDBUser    = "BIZLEDGER_MASTER_DB_USER"
	EnvMasterDBName    = "BIZLEDGER_MASTER_DB_NAME"
	EnvRedisURL        = "BIZLEDGER_REDIS_URL"
	EnvJWTSecret       = "BIZLEDGER_JWT_SECRET"
	EnvJWTExpMins      = "BIZLEDGER_JWT_EXPIRATION_MINUTES"
	EnvLockThreshold   = "BIZLEDGER_LOCKOUT_THRESHOLD"
	EnvEvictInterval   = "BIZLEDGER_TENANT_DB_EVICTION_INTERVAL"
	EnvLegacyEnabled   = "BIZLEDGER_LEGACY_ENABLED"
	EnvLegacyTenantID  = "BIZLEDGER_LEGACY_TENANT_ID"
	EnvLegacyDSN       = "BIZLEDGER_LEGACY_DB_DSN"
	EnvTenantDBDriver  = "BIZLEDGER_TENANT_DB_DRIVER"
	EnvTenantDBUser    = "BIZLEDGER_TENANT_DB_USER"
	EnvTenantDBPass    = "BIZLEDGER_TENANT_DB_PASSWORD"
	EnvTenantDBDefault = "BIZLEDGER_TENANT_DB_DEFAULT_HOST"
)

var masterDBEnvVars = []string{
	EnvMasterDBHost,
	EnvMasterDBUser,
	EnvMasterDBName,
}
