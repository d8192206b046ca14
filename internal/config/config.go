package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"smartshopai/provisioner/internal/manifest"
)

// Config is the root configuration for the provisioner.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	BootstrapOnStart bool          `mapstructure:"bootstrap_on_start"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ServiceName    string        `mapstructure:"service_name"`
	LogLevel       string        `mapstructure:"log_level"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

type BootstrapConfig struct {
	Timeout         time.Duration  `mapstructure:"timeout"`
	Topology        string         `mapstructure:"topology"`
	SeedMode        string         `mapstructure:"seed_mode"`
	Manifest        string         `mapstructure:"manifest"`
	PrincipalSecret string         `mapstructure:"principal_secret"`
	Mongo           MongoConfig    `mapstructure:"mongo"`
	NATS            NATSConfig     `mapstructure:"nats"`
	Redis           RedisConfig    `mapstructure:"redis"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
}

type MongoConfig struct {
	URI                    string        `mapstructure:"uri"`
	Host                   string        `mapstructure:"host"`
	Port                   int           `mapstructure:"port"`
	User                   string        `mapstructure:"user"`
	Password               string        `mapstructure:"password"`
	AuthSource             string        `mapstructure:"auth_source"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`
	SocketTimeout          time.Duration `mapstructure:"socket_timeout"`
	HeartbeatInterval      time.Duration `mapstructure:"heartbeat_interval"`
}

// ConnString returns URI when set, otherwise builds one from the discrete
// fields. Credentials are only embedded when both user and password are set.
func (m MongoConfig) ConnString() string {
	if m.URI != "" {
		return m.URI
	}
	u := url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", m.Host, m.Port),
		Path:   "/",
	}
	if m.User != "" && m.Password != "" {
		u.User = url.UserPassword(m.User, m.Password)
		authSource := m.AuthSource
		if authSource == "" {
			authSource = "admin"
		}
		u.RawQuery = url.Values{"authSource": []string{authSource}}.Encode()
	}
	return u.String()
}

// EventSubjectPrefix is the subject space bound to the provisioning event
// stream. Completion subjects must fall inside it.
const EventSubjectPrefix = "provisioning."

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the PROVISIONER_ prefix
// (e.g. PROVISIONER_BOOTSTRAP_MONGO_HOST).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Bootstrap.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the bootstrap routine cannot interpret.
func (b BootstrapConfig) Validate() error {
	if _, err := manifest.ParseTopology(b.Topology); err != nil {
		return fmt.Errorf("bootstrap.topology: %w", err)
	}
	if _, err := manifest.ParseSeedMode(b.SeedMode); err != nil {
		return fmt.Errorf("bootstrap.seed_mode: %w", err)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("bootstrap.timeout: must be positive, got %s", b.Timeout)
	}
	if b.NATS.Enabled {
		if err := b.NATS.Validate(); err != nil {
			return fmt.Errorf("bootstrap.nats.subject: %w", err)
		}
	}
	return nil
}

// Validate checks that Subject is a literal subject under EventSubjectPrefix.
func (n NATSConfig) Validate() error {
	if !strings.HasPrefix(n.Subject, EventSubjectPrefix) {
		return fmt.Errorf("%q is outside the %s> stream", n.Subject, EventSubjectPrefix)
	}
	for _, tok := range strings.Split(n.Subject, ".") {
		if tok == "" || tok == "*" || tok == ">" || strings.ContainsAny(tok, " \t\r\n") {
			return fmt.Errorf("%q is not a valid publish subject", n.Subject)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.bootstrap_on_start", false)

	// Empty endpoint disables OTEL export.
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "smartshopai-provisioner")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metric_interval", 10*time.Second)

	v.SetDefault("bootstrap.timeout", 2*time.Minute)
	v.SetDefault("bootstrap.topology", string(manifest.TopologySingle))
	v.SetDefault("bootstrap.seed_mode", string(manifest.SeedModeEnsure))
	v.SetDefault("bootstrap.manifest", "")
	v.SetDefault("bootstrap.principal_secret", "")

	v.SetDefault("bootstrap.mongo.uri", "")
	v.SetDefault("bootstrap.mongo.host", "localhost")
	v.SetDefault("bootstrap.mongo.port", 27017)
	v.SetDefault("bootstrap.mongo.user", "")
	v.SetDefault("bootstrap.mongo.password", "")
	v.SetDefault("bootstrap.mongo.auth_source", "admin")
	v.SetDefault("bootstrap.mongo.connect_timeout", 5*time.Second)
	v.SetDefault("bootstrap.mongo.server_selection_timeout", 5*time.Second)
	v.SetDefault("bootstrap.mongo.socket_timeout", 30*time.Second)
	v.SetDefault("bootstrap.mongo.heartbeat_interval", 10*time.Second)

	v.SetDefault("bootstrap.nats.enabled", false)
	v.SetDefault("bootstrap.nats.url", "nats://localhost:4222")
	v.SetDefault("bootstrap.nats.subject", "provisioning.bootstrap.completed")

	v.SetDefault("bootstrap.redis.enabled", false)
	v.SetDefault("bootstrap.redis.host", "localhost")
	v.SetDefault("bootstrap.redis.port", 6379)
	v.SetDefault("bootstrap.redis.db", 0)
	v.SetDefault("bootstrap.redis.lock_key", "smartshopai:provisioner:lock")
	v.SetDefault("bootstrap.redis.lock_ttl", 5*time.Minute)

	v.SetDefault("bootstrap.postgres.enabled", false)
	v.SetDefault("bootstrap.postgres.host", "localhost")
	v.SetDefault("bootstrap.postgres.port", 5432)
	v.SetDefault("bootstrap.postgres.user", "provisioner")
	v.SetDefault("bootstrap.postgres.db", "provisioner")
	v.SetDefault("bootstrap.postgres.ssl_mode", "disable")
	v.SetDefault("bootstrap.postgres.max_conns", 4)
}
