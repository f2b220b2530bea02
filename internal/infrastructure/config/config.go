package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Vault     VaultConfig
	Queue     QueueConfig
	Meta      MetaConfig
	GoogleAds GoogleAdsConfig
	Hashing   HashingConfig
	Archive   ArchiveConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings for the delivery ledger
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	LedgerTTL time.Duration // how long a delivered job key is remembered
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// VaultConfig holds the credential encryption key.
// Either EncryptionKey (64 hex chars) or Passphrase plus Salt must be set.
type VaultConfig struct {
	EncryptionKey string
	Passphrase    string
	Salt          string
}

// QueueConfig holds dispatch queue and worker settings
type QueueConfig struct {
	Store               string // postgres or memory
	MaxAttempts         int
	MetaBackoff         time.Duration
	GoogleAdsBackoff    time.Duration
	Concurrency         int
	PollInterval        time.Duration
	LeaseDuration       time.Duration
	JobTimeout          time.Duration
	MaintenanceInterval time.Duration
	CompletedRetention  time.Duration
	CompletedKeep       int
	FailedRetention     time.Duration
}

// MetaConfig holds Meta Conversions API settings
type MetaConfig struct {
	Enabled        bool
	APIBaseURL     string
	APIVersion     string
	TimeoutSeconds int
}

// GoogleAdsConfig holds Google Ads API settings shared by every customer
type GoogleAdsConfig struct {
	Enabled           bool
	APIBaseURL        string
	APIVersion        string
	DeveloperToken    string
	OAuthClientID     string
	OAuthClientSecret string
	TokenURL          string
	TimeoutSeconds    int
}

// HashingConfig holds PII normalization settings
type HashingConfig struct {
	DefaultCountryCode string
}

// ArchiveConfig holds the S3 dead-letter archive settings
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// HTTPConfig holds the ops HTTP server configuration
type HTTPConfig struct {
	Enabled      bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool          // Whether to export metrics
	CollectorEndpoint string        // OTEL Collector endpoint (e.g., "localhost:4317")
	ServiceName       string        // Service name for metrics
	Insecure          bool          // Use insecure (non-TLS) connection (development only)
	ExportInterval    time.Duration // Periodic reader interval
	SamplingRatio     float64       // Trace sampling ratio, 0 to 1
	SpanProfiles      bool          // Link trace spans to Pyroscope profiles
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	BasicAuthUser     string
	BasicAuthPassword string
	Contention        bool // mutex and block profiles
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CONV_ prefix (e.g., CONV_VAULT_ENCRYPTION_KEY)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// booleans cannot be detected as unset after the fact
	v.SetDefault("meta.enabled", true)
	v.SetDefault("google_ads.enabled", true)
	v.SetDefault("http.enabled", true)
	v.SetDefault("telemetry.sampling_ratio", 1.0)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			LedgerTTL: v.GetDuration("redis.ledger_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Vault: VaultConfig{
			EncryptionKey: v.GetString("vault.encryption_key"),
			Passphrase:    v.GetString("vault.passphrase"),
			Salt:          v.GetString("vault.salt"),
		},
		Queue: QueueConfig{
			Store:               v.GetString("queue.store"),
			MaxAttempts:         v.GetInt("queue.max_attempts"),
			MetaBackoff:         v.GetDuration("queue.meta_backoff"),
			GoogleAdsBackoff:    v.GetDuration("queue.google_ads_backoff"),
			Concurrency:         v.GetInt("queue.concurrency"),
			PollInterval:        v.GetDuration("queue.poll_interval"),
			LeaseDuration:       v.GetDuration("queue.lease_duration"),
			JobTimeout:          v.GetDuration("queue.job_timeout"),
			MaintenanceInterval: v.GetDuration("queue.maintenance_interval"),
			CompletedRetention:  v.GetDuration("queue.completed_retention"),
			CompletedKeep:       v.GetInt("queue.completed_keep"),
			FailedRetention:     v.GetDuration("queue.failed_retention"),
		},
		Meta: MetaConfig{
			Enabled:        v.GetBool("meta.enabled"),
			APIBaseURL:     v.GetString("meta.api_base_url"),
			APIVersion:     v.GetString("meta.api_version"),
			TimeoutSeconds: v.GetInt("meta.timeout_seconds"),
		},
		GoogleAds: GoogleAdsConfig{
			Enabled:           v.GetBool("google_ads.enabled"),
			APIBaseURL:        v.GetString("google_ads.api_base_url"),
			APIVersion:        v.GetString("google_ads.api_version"),
			DeveloperToken:    v.GetString("google_ads.developer_token"),
			OAuthClientID:     v.GetString("google_ads.oauth_client_id"),
			OAuthClientSecret: v.GetString("google_ads.oauth_client_secret"),
			TokenURL:          v.GetString("google_ads.token_url"),
			TimeoutSeconds:    v.GetInt("google_ads.timeout_seconds"),
		},
		Hashing: HashingConfig{
			DefaultCountryCode: v.GetString("hashing.default_country_code"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("archive.enabled"),
			Bucket:          v.GetString("archive.bucket"),
			Region:          v.GetString("archive.region"),
			Endpoint:        v.GetString("archive.endpoint"),
			AccessKeyID:     v.GetString("archive.access_key_id"),
			SecretAccessKey: v.GetString("archive.secret_access_key"),
			Prefix:          v.GetString("archive.prefix"),
			UsePathStyle:    v.GetBool("archive.use_path_style"),
		},
		HTTP: HTTPConfig{
			Enabled:      v.GetBool("http.enabled"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			Contention:        v.GetBool("profiling.contention"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "conversion-delivery"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8081"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "funnel"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.LedgerTTL == 0 {
		cfg.Redis.LedgerTTL = 30 * 24 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Queue.Store == "" {
		cfg.Queue.Store = "postgres"
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.MetaBackoff == 0 {
		cfg.Queue.MetaBackoff = time.Second
	}
	if cfg.Queue.GoogleAdsBackoff == 0 {
		cfg.Queue.GoogleAdsBackoff = 2 * time.Second
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 2
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = time.Second
	}
	if cfg.Queue.LeaseDuration == 0 {
		cfg.Queue.LeaseDuration = 2 * time.Minute
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = time.Minute
	}
	if cfg.Queue.MaintenanceInterval == 0 {
		cfg.Queue.MaintenanceInterval = time.Minute
	}
	if cfg.Queue.CompletedRetention == 0 {
		cfg.Queue.CompletedRetention = time.Hour
	}
	if cfg.Queue.CompletedKeep == 0 {
		cfg.Queue.CompletedKeep = 1000
	}
	if cfg.Queue.FailedRetention == 0 {
		cfg.Queue.FailedRetention = 7 * 24 * time.Hour
	}
	if cfg.Meta.APIBaseURL == "" {
		cfg.Meta.APIBaseURL = "https://graph.facebook.com"
	}
	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v21.0"
	}
	if cfg.Meta.TimeoutSeconds == 0 {
		cfg.Meta.TimeoutSeconds = 30
	}
	if cfg.GoogleAds.APIBaseURL == "" {
		cfg.GoogleAds.APIBaseURL = "https://googleads.googleapis.com"
	}
	if cfg.GoogleAds.APIVersion == "" {
		cfg.GoogleAds.APIVersion = "v18"
	}
	if cfg.GoogleAds.TokenURL == "" {
		cfg.GoogleAds.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.GoogleAds.TimeoutSeconds == 0 {
		cfg.GoogleAds.TimeoutSeconds = 30
	}
	if cfg.Hashing.DefaultCountryCode == "" {
		cfg.Hashing.DefaultCountryCode = "+61"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "dead-letter"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 5 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Queue.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("queue.store must be postgres or memory, got %q", c.Queue.Store)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	if c.Queue.MetaBackoff < 0 || c.Queue.GoogleAdsBackoff < 0 {
		return fmt.Errorf("queue backoff cannot be negative")
	}
	if c.Queue.JobTimeout >= c.Queue.LeaseDuration {
		return fmt.Errorf("queue.job_timeout (%s) must be shorter than queue.lease_duration (%s)",
			c.Queue.JobTimeout, c.Queue.LeaseDuration)
	}
	if c.Queue.CompletedKeep < 0 {
		return fmt.Errorf("queue.completed_keep cannot be negative")
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}

	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Queue.Store == "memory" {
			return fmt.Errorf("queue.store=memory is not durable and cannot be used in production")
		}
		if c.GoogleAds.Enabled && c.GoogleAds.DeveloperToken == "" {
			return fmt.Errorf("google_ads.developer_token is required in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
