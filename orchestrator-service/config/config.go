package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName  string       `mapstructure:"service_name"`
	Env          string       `mapstructure:"env"`
	Port         string       `mapstructure:"port"`
	Database     Database     `mapstructure:"database"`
	AWS          AWS          `mapstructure:"aws"`
	Telemetry    Telemetry    `mapstructure:"telemetry"`
	Orchestrator Orchestrator `mapstructure:"orchestrator"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type AWS struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	EndpointSNS     string `mapstructure:"endpoint_sns"`
	EndpointSQS     string `mapstructure:"endpoint_sqs"`
	SNSTopicArn     string `mapstructure:"sns_topic_arn"`
	SQSQueueURL     string `mapstructure:"sqs_queue_url"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Orchestrator struct {
	Balancer Balancer `mapstructure:"balancer"`
	Registry Registry `mapstructure:"registry"`
	Breaker  Breaker  `mapstructure:"breaker"`
	Bridges  Bridges  `mapstructure:"bridges"`
}

type Balancer struct {
	Strategy string `mapstructure:"strategy"`
}

type Registry struct {
	TTLSeconds   int `mapstructure:"ttl_seconds"`
	GraceSeconds int `mapstructure:"grace_seconds"`
	SweepSeconds int `mapstructure:"sweep_seconds"`
}

type Breaker struct {
	FailureThreshold   int `mapstructure:"failure_threshold"`
	SuccessThreshold   int `mapstructure:"success_threshold"`
	RecoverySeconds    int `mapstructure:"recovery_seconds"`
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
}

type Bridges struct {
	ClaudeFlow BridgeSettings `mapstructure:"claude_flow"`
	Codex      BridgeSettings `mapstructure:"codex"`
	Plugins    []PluginBridge `mapstructure:"plugins"`
}

type BridgeSettings struct {
	Enabled  bool              `mapstructure:"enabled"`
	Settings map[string]string `mapstructure:"settings"`
}

type PluginBridge struct {
	ServiceType    string            `mapstructure:"service_type"`
	Capabilities   []string          `mapstructure:"capabilities"`
	OperationsPath string            `mapstructure:"operations_path"`
	Settings       map[string]string `mapstructure:"settings"`
}

func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("unable to get current file")
	}

	configDir := filepath.Join(filepath.Dir(filename))
	viper.SetConfigName(getConfigName())
	viper.SetConfigType("json")
	viper.AddConfigPath(configDir)

	// Allow environment variables to override config
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ORCHESTRATOR")

	setDefaultsFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults and environment variables carry a missing config file
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

// setDefaultsFromEnv sets defaults from environment variables
func setDefaultsFromEnv() {
	// Service defaults
	viper.SetDefault("service_name", "orchestrator-service")
	viper.SetDefault("env", getEnv("ENV", "local"))
	viper.SetDefault("port", getEnv("PORT", "8080"))

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "orchestrator")
	viper.SetDefault("database.ssl_mode", "disable")

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	// AWS defaults
	viper.SetDefault("aws.access_key_id", getEnv("AWS_ACCESS_KEY_ID", "test"))
	viper.SetDefault("aws.secret_access_key", getEnv("AWS_SECRET_ACCESS_KEY", "test"))
	viper.SetDefault("aws.region", getEnv("AWS_DEFAULT_REGION", "us-east-1"))
	viper.SetDefault("aws.endpoint_sns", getEnv("AWS_ENDPOINT_URL_SNS", "http://localhost:4566"))
	viper.SetDefault("aws.endpoint_sqs", getEnv("AWS_ENDPOINT_URL_SQS", "http://localhost:4566"))
	viper.SetDefault("aws.sns_topic_arn", getEnv("SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:000000000000:orchestrator-events"))
	viper.SetDefault("aws.sqs_queue_url", getEnv("SQS_QUEUE_URL", "http://localhost:4566/000000000000/orchestrator-events"))

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.otlp_endpoint", getEnv("OTLP_ENDPOINT", "localhost:4317"))

	// Orchestrator defaults
	viper.SetDefault("orchestrator.balancer.strategy", "round_robin")
	viper.SetDefault("orchestrator.registry.ttl_seconds", 30)
	viper.SetDefault("orchestrator.registry.grace_seconds", 60)
	viper.SetDefault("orchestrator.registry.sweep_seconds", 10)
	viper.SetDefault("orchestrator.breaker.failure_threshold", 5)
	viper.SetDefault("orchestrator.breaker.success_threshold", 2)
	viper.SetDefault("orchestrator.breaker.recovery_seconds", 60)
	viper.SetDefault("orchestrator.breaker.call_timeout_seconds", 30)
	viper.SetDefault("orchestrator.bridges.claude_flow.enabled", true)
	viper.SetDefault("orchestrator.bridges.codex.enabled", true)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetDatabaseURL constructs database URL from config
func (c *Config) GetDatabaseURL() string {
	if url := viper.GetString("database.url"); url != "" {
		return url
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RegistryTTL returns the endpoint freshness window
func (c *Config) RegistryTTL() time.Duration {
	return time.Duration(c.Orchestrator.Registry.TTLSeconds) * time.Second
}

// RegistryGrace returns the extra window before eviction
func (c *Config) RegistryGrace() time.Duration {
	return time.Duration(c.Orchestrator.Registry.GraceSeconds) * time.Second
}

// RegistrySweepInterval returns how often stale endpoints are evicted
func (c *Config) RegistrySweepInterval() time.Duration {
	return time.Duration(c.Orchestrator.Registry.SweepSeconds) * time.Second
}
