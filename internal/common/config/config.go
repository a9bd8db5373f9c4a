// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Lifecycle     LifecycleConfig         `mapstructure:"lifecycle"`
	Payment       PaymentConfig           `mapstructure:"payment"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryDelay     int    `mapstructure:"retry_delay"` // milliseconds

	// ProcessID is the BPMN process started for every submitted application.
	ProcessID string `mapstructure:"process_id"`
	// UserTaskTimeout is how long a parked human-task job stays locked to this
	// service before the broker hands it out again.
	UserTaskTimeout int `mapstructure:"user_task_timeout"` // milliseconds
	// StageKeys maps lifecycle stage names to the job types of their tasks.
	StageKeys map[string]string `mapstructure:"stage_keys"`
}

type DatabaseConfig struct {
	// Driver selects the application store: "postgres" or "mysql".
	Driver        string              `mapstructure:"driver"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type MySQLConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	ConnMaxLife    int    `mapstructure:"conn_max_lifetime"` // milliseconds
}

// GetDSN returns a go-sql-driver DSN with time parsing enabled.
func (m MySQLConfig) GetDSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		m.User, m.Password, m.Host, m.Port, m.Database,
	)
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
	// TransitionIndex receives one document per committed stage transition.
	TransitionIndex string `mapstructure:"transition_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces the task inbox and application locks.
	KeyPrefix string `mapstructure:"key_prefix"`
	LockTTL   int    `mapstructure:"lock_ttl"`  // milliseconds
	LockWait  int    `mapstructure:"lock_wait"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// HTTPConfig holds settings for the loan application API.
type HTTPConfig struct {
	Port           int     `mapstructure:"port"`
	RequestTimeout int     `mapstructure:"request_timeout"` // milliseconds
	RateLimit      float64 `mapstructure:"rate_limit"`      // requests per second per client
	RateBurst      int     `mapstructure:"rate_burst"`
}

// LifecycleConfig tunes stage evaluation.
type LifecycleConfig struct {
	// TransitionTimeout bounds one stage transition end to end.
	TransitionTimeout int `mapstructure:"transition_timeout"` // milliseconds
	// MirrorRiskIntoCreditScore also writes the rounded risk score into the
	// credit score field, for consumers that still read it from there.
	MirrorRiskIntoCreditScore bool `mapstructure:"mirror_risk_into_credit_score"`
	// CreditScoreSeed fixes the simulated bureau. Zero seeds from the clock.
	CreditScoreSeed int64 `mapstructure:"credit_score_seed"`
}

// PaymentConfig selects the payment gateway.
type PaymentConfig struct {
	// Mode is "simulated" or "http".
	Mode    string `mapstructure:"mode"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// NotificationConfig holds settings for applicant notifications.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
