package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	OCPP    OCPPConfig    `mapstructure:"ocpp"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Profile string `mapstructure:"profile"` // development, production
}

// ServerConfig 服务器配置
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"` // 优先于host+port
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// OCPPConfig OCPP协议配置
type OCPPConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PendingRequestTTL time.Duration `mapstructure:"pending_request_ttl"`
	MaxOutboundQueue  int           `mapstructure:"max_outbound_queue"`
	WSPathPrefix      string        `mapstructure:"ws_path_prefix"`
}

// AuthConfig 授权配置
type AuthConfig struct {
	// AcceptUnknownTags 未显式配置时跟随profile：development放行
	AcceptUnknownTags *bool     `mapstructure:"accept_unknown_tags"`
	Tags              []SeedTag `mapstructure:"tags"`
}

// SeedTag 配置文件中预置的授权标签
type SeedTag struct {
	IdTag       string `mapstructure:"id_tag"`
	Status      string `mapstructure:"status"`
	ExpiryDate  string `mapstructure:"expiry_date"` // RFC3339，可空
	ParentIdTag string `mapstructure:"parent_id_tag"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Async  bool   `mapstructure:"async"`
}

// MetricsConfig 监控指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RedisConfig Redis持久化配置，Addr为空则不启用
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka配置，Brokers为空则不启用
type KafkaConfig struct {
	Brokers       []string       `mapstructure:"brokers"`
	EventTopic    string         `mapstructure:"event_topic"`
	CommandTopic  string         `mapstructure:"command_topic"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

// ProducerConfig Kafka生产者配置
type ProducerConfig struct {
	RetryMax       int           `mapstructure:"retry_max"`
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
}

// ConsumerConfig Kafka消费者配置
type ConsumerConfig struct {
	OffsetsInitial string `mapstructure:"offsets_initial"` // newest, oldest
}

// Load 加载配置：默认值 < 配置文件 < 环境变量
// configFile为空时只使用默认值与环境变量
func Load(configFile string) (*Config, error) {
	setDefaults()
	bindEnvVars()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("app.name", "central-system")
	viper.SetDefault("app.profile", "development")

	viper.SetDefault("server.listen_addr", "")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "60s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.max_connections", 10000)

	viper.SetDefault("ocpp.heartbeat_interval", "300s")
	viper.SetDefault("ocpp.ping_interval", "30s")
	viper.SetDefault("ocpp.pending_request_ttl", "30s")
	viper.SetDefault("ocpp.max_outbound_queue", 256)
	viper.SetDefault("ocpp.ws_path_prefix", "/ocpp/")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.async", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", ":9090")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "centralsystem")
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("redis.min_idle_conns", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.event_topic", "ocpp-events")
	viper.SetDefault("kafka.command_topic", "ocpp-commands")
	viper.SetDefault("kafka.consumer_group", "central-system")
	viper.SetDefault("kafka.producer.retry_max", 3)
	viper.SetDefault("kafka.producer.flush_frequency", "500ms")
	viper.SetDefault("kafka.consumer.offsets_initial", "newest")
}

// bindEnvVars 绑定环境变量
func bindEnvVars() {
	viper.BindEnv("app.profile", "APP_PROFILE")
	viper.BindEnv("server.listen_addr", "LISTEN_ADDR")
	viper.BindEnv("ocpp.heartbeat_interval", "HEARTBEAT_INTERVAL")
	viper.BindEnv("ocpp.ping_interval", "PING_INTERVAL")
	viper.BindEnv("ocpp.pending_request_ttl", "PENDING_REQUEST_TTL")
	viper.BindEnv("ocpp.max_outbound_queue", "MAX_OUTBOUND_QUEUE")
	viper.BindEnv("ocpp.ws_path_prefix", "WS_PATH_PREFIX")
	viper.BindEnv("auth.accept_unknown_tags", "ACCEPT_UNKNOWN_TAGS")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.addr", "METRICS_ADDR")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
}

// IsDevelopment 是否开发环境
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.Profile, "development")
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Profile, "production")
}

// AcceptUnknownTags 未配置时development放行未知标签
func (c *Config) AcceptUnknownTags() bool {
	if c.Auth.AcceptUnknownTags != nil {
		return *c.Auth.AcceptUnknownTags
	}
	return c.IsDevelopment()
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	if c.Server.ListenAddr != "" {
		return c.Server.ListenAddr
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetWSPathPrefix 获取充电桩WebSocket接入路径前缀，保证首尾斜杠
func (c *Config) GetWSPathPrefix() string {
	prefix := c.OCPP.WSPathPrefix
	if prefix == "" {
		prefix = "/ocpp/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// RedisEnabled 是否启用Redis持久化
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// KafkaEnabled 是否启用Kafka
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
