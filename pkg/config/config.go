package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	MasterDB      DBConfig
	TenantDB      TenantDBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Lockout       LockoutConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	Legacy        LegacyConfig
	Maintenance   MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Legacy.validate(); err != nil {
		return nil, err
	}
	// A legacy-only deployment may run without a Master DB.
	if !cfg.Legacy.Enabled || cfg.MasterDB.configured() {
		if err := cfg.MasterDB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// MultiTenant reports whether the Master DB is configured, which enables the
// multi-tenant login path.
func (c *Config) MultiTenant() bool {
	return c.MasterDB.DSN != ""
}

type AppConfig struct {
	Env          string `envconfig:"BIZLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"BIZLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BIZLEDGER_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BIZLEDGER_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BIZLEDGER_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"BIZLEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"BIZLEDGER_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// DBConfig describes the Master database connection.
type DBConfig struct {
	DSN    string `envconfig:"BIZLEDGER_MASTER_DB_DSN"`
	Driver string `envconfig:"BIZLEDGER_MASTER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"BIZLEDGER_MASTER_DB_HOST"`
	Port     int    `envconfig:"BIZLEDGER_MASTER_DB_PORT" default:"5432"`
	User     string `envconfig:"BIZLEDGER_MASTER_DB_USER"`
	Password string `envconfig:"BIZLEDGER_MASTER_DB_PASSWORD"`
	Name     string `envconfig:"BIZLEDGER_MASTER_DB_NAME"`
	SSLMode  string `envconfig:"BIZLEDGER_MASTER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BIZLEDGER_MASTER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BIZLEDGER_MASTER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BIZLEDGER_MASTER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BIZLEDGER_MASTER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// TenantDBConfig holds the shared coordinates used to reach every tenant
// database. The per-tenant server and database name come from the Master DB.
type TenantDBConfig struct {
	Driver      string `envconfig:"BIZLEDGER_TENANT_DB_DRIVER" default:"postgres"`
	DefaultHost string `envconfig:"BIZLEDGER_TENANT_DB_DEFAULT_HOST" default:"localhost"`
	Port        int    `envconfig:"BIZLEDGER_TENANT_DB_PORT" default:"5432"`
	User        string `envconfig:"BIZLEDGER_TENANT_DB_USER"`
	Password    string `envconfig:"BIZLEDGER_TENANT_DB_PASSWORD"`
	SSLMode     string `envconfig:"BIZLEDGER_TENANT_DB_SSLMODE" default:"disable"`
	// SQLitePattern is used when Driver is sqlite; %s receives the database name.
	SQLitePattern string `envconfig:"BIZLEDGER_TENANT_DB_SQLITE_PATTERN" default:"file:%s?mode=memory&cache=shared"`

	MaxOpenConns    int           `envconfig:"BIZLEDGER_TENANT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"BIZLEDGER_TENANT_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"BIZLEDGER_TENANT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BIZLEDGER_TENANT_DB_CONN_MAX_IDLE_TIME" default:"5m"`

	EvictionInterval time.Duration `envconfig:"BIZLEDGER_TENANT_DB_EVICTION_INTERVAL" default:"5m"`
	MaxIdleAge       time.Duration `envconfig:"BIZLEDGER_TENANT_DB_MAX_IDLE_AGE" default:"30m"`
	// RouteCacheTTL bounds how long tenant routing rows stay in Redis.
	RouteCacheTTL time.Duration `envconfig:"BIZLEDGER_TENANT_DB_ROUTE_CACHE_TTL" default:"5m"`
}

// DSNFor builds the connection string for a tenant database. An empty server
// falls back to DefaultHost.
func (t TenantDBConfig) DSNFor(server, database string) (string, error) {
	if strings.TrimSpace(database) == "" {
		return "", fmt.Errorf("tenant database name is required")
	}
	if strings.EqualFold(t.Driver, DriverSQLite) {
		return fmt.Sprintf(t.SQLitePattern, database), nil
	}

	host := strings.TrimSpace(server)
	if host == "" {
		host = t.DefaultHost
	}
	if !strings.Contains(host, ":") && t.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, t.Port)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(t.User, t.Password),
		Host:   host,
		Path:   database,
	}
	if t.Password == "" {
		u.User = url.User(t.User)
	}
	if t.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", t.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// PoolSettings exposes the tenant pool sizing in the shape used for the master.
func (t TenantDBConfig) PoolSettings() DBConfig {
	return DBConfig{
		Driver:          t.Driver,
		MaxOpenConns:    t.MaxOpenConns,
		MaxIdleConns:    t.MaxIdleConns,
		ConnMaxLifetime: t.ConnMaxLifetime,
		ConnMaxIdleTime: t.ConnMaxIdleTime,
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"BIZLEDGER_REDIS_URL"`
	Address      string        `envconfig:"BIZLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"BIZLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"BIZLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BIZLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BIZLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BIZLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BIZLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BIZLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"BIZLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BIZLEDGER_JWT_ISSUER" default:"bizledger"`
	ExpirationMinutes int    `envconfig:"BIZLEDGER_JWT_EXPIRATION_MINUTES" default:"480"`
	CookieName        string `envconfig:"BIZLEDGER_JWT_COOKIE_NAME" default:"session"`
}

// TTL returns the token validity window.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type LockoutConfig struct {
	Threshold int           `envconfig:"BIZLEDGER_LOCKOUT_THRESHOLD" default:"5"`
	Window    time.Duration `envconfig:"BIZLEDGER_LOCKOUT_WINDOW" default:"15m"`
}

// PasswordConfig sizes Argon2id for newly hashed credentials. Verification
// reads the parameters embedded in each stored hash.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"BIZLEDGER_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"BIZLEDGER_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"BIZLEDGER_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"BIZLEDGER_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"BIZLEDGER_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow     time.Duration `envconfig:"BIZLEDGER_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit int           `envconfig:"BIZLEDGER_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"10"`
	LoginIPLimit    int           `envconfig:"BIZLEDGER_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"30"`
}

// LegacyConfig switches the process to the single-tenant login path, which
// authenticates against one tenant database without consulting the Master DB.
type LegacyConfig struct {
	Enabled  bool   `envconfig:"BIZLEDGER_LEGACY_ENABLED" default:"false"`
	TenantID string `envconfig:"BIZLEDGER_LEGACY_TENANT_ID"`
	DSN      string `envconfig:"BIZLEDGER_LEGACY_DB_DSN"`
	Driver   string `envconfig:"BIZLEDGER_LEGACY_DB_DRIVER" default:"postgres"`
}

// TenantUUID parses the configured legacy tenant id.
func (l LegacyConfig) TenantUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(l.TenantID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", EnvLegacyTenantID, err)
	}
	return id, nil
}

func (l LegacyConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if l.DSN == "" {
		return fmt.Errorf("%s is required when legacy mode is enabled", EnvLegacyDSN)
	}
	_, err := l.TenantUUID()
	return err
}

// MaintenanceConfig drives the background maintenance worker.
type MaintenanceConfig struct {
	Interval time.Duration `envconfig:"BIZLEDGER_MAINTENANCE_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"BIZLEDGER_MAINTENANCE_LOCK_TTL" default:"55m"`
}

func (db *DBConfig) configured() bool {
	return db.DSN != "" || db.Host != "" || db.Name != ""
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvMasterDBHost: db.Host,
		EnvMasterDBUser: db.User,
		EnvMasterDBName: db.Name,
	}
	for _, env := range masterDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvMasterDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
