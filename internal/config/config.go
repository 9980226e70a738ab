package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"invoiceMonitor/internal/model"
)

const envPrefix = "MONITOR"

// Checkpoint backends.
const (
	CheckpointFile     = "file"
	CheckpointPostgres = "postgres"
	CheckpointRedis    = "redis"
)

// Dead letter sinks.
const (
	DeadLetterNone     = "none"
	DeadLetterPostgres = "postgres"
	DeadLetterJSONL    = "jsonl"
	DeadLetterKafka    = "kafka"
)

// Config holds configuration for the run command.
type Config struct {
	Networks       []model.Network
	EventSignature string

	RequestsPerMinute int
	CreditsPerSecond  int
	CreditsPerDay     int
	CostBlockNumber   int
	CostLogs          int

	RPCTimeout      time.Duration
	ResponseTimeout time.Duration
	RetryDelay      time.Duration
	PollInterval    time.Duration
	BatchSize       uint64
	AmountDecimals  int32

	CheckpointBackend string
	Checkpoint        string
	PostgresDSN       string
	Migrate           bool
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string

	DeadLetter     string
	DeadLetterPath string
	KafkaBrokers   []string
	KafkaTopic     string

	WebBaseURL     string
	BrevoAPIKey    string
	EmailSender    string
	TelegramToken  string
	TelegramRPS    float64
	WebhookTimeout time.Duration

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("event-signature", "PayInvoiceEvent(string,address,address,uint128,uint128)")
	v.SetDefault("rpm", 60)
	v.SetDefault("credits-per-second", 500)
	v.SetDefault("credits-per-day", 3_000_000)
	v.SetDefault("cost-block-number", 80)
	v.SetDefault("cost-logs", 255)
	v.SetDefault("rpc-timeout", 30*time.Second)
	v.SetDefault("response-timeout", 5*time.Minute)
	v.SetDefault("retry-delay", time.Second)
	v.SetDefault("poll-interval", time.Duration(0))
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("amount-decimals", 6)
	v.SetDefault("checkpoint-backend", CheckpointPostgres)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("migrate", false)
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("redis-prefix", "monitor:checkpoint:")
	v.SetDefault("dead-letter", DeadLetterPostgres)
	v.SetDefault("dead-letter-path", "./data/dead_letters.jsonl")
	v.SetDefault("kafka-topic", "invoice-monitor.dead-letters")
	v.SetDefault("telegram-rps", 25.0)
	v.SetDefault("webhook-timeout", 10*time.Second)
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	networks, err := loadNetworks(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Networks:          networks,
		EventSignature:    v.GetString("event-signature"),
		RequestsPerMinute: v.GetInt("rpm"),
		CreditsPerSecond:  v.GetInt("credits-per-second"),
		CreditsPerDay:     v.GetInt("credits-per-day"),
		CostBlockNumber:   v.GetInt("cost-block-number"),
		CostLogs:          v.GetInt("cost-logs"),
		RPCTimeout:        v.GetDuration("rpc-timeout"),
		ResponseTimeout:   v.GetDuration("response-timeout"),
		RetryDelay:        v.GetDuration("retry-delay"),
		PollInterval:      v.GetDuration("poll-interval"),
		BatchSize:         v.GetUint64("batch-size"),
		AmountDecimals:    v.GetInt32("amount-decimals"),
		CheckpointBackend: strings.ToLower(v.GetString("checkpoint-backend")),
		Checkpoint:        v.GetString("checkpoint"),
		PostgresDSN:       v.GetString("pg-dsn"),
		Migrate:           v.GetBool("migrate"),
		RedisAddr:         v.GetString("redis-addr"),
		RedisPassword:     v.GetString("redis-password"),
		RedisDB:           v.GetInt("redis-db"),
		RedisPrefix:       v.GetString("redis-prefix"),
		DeadLetter:        strings.ToLower(v.GetString("dead-letter")),
		DeadLetterPath:    v.GetString("dead-letter-path"),
		KafkaBrokers:      getStringSlice(v, "kafka-brokers"),
		KafkaTopic:        v.GetString("kafka-topic"),
		WebBaseURL:        v.GetString("web-base-url"),
		BrevoAPIKey:       v.GetString("brevo-api-key"),
		EmailSender:       v.GetString("email-sender"),
		TelegramToken:     v.GetString("telegram-token"),
		TelegramRPS:       v.GetFloat64("telegram-rps"),
		WebhookTimeout:    v.GetDuration("webhook-timeout"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("no networks configured")
	}
	seen := make(map[string]struct{}, len(c.Networks))
	for _, network := range c.Networks {
		if network.Name == "" {
			return fmt.Errorf("network name is required")
		}
		if _, ok := seen[network.Name]; ok {
			return fmt.Errorf("duplicate network %q", network.Name)
		}
		seen[network.Name] = struct{}{}
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch-size must be greater than zero")
	}
	if c.AmountDecimals < 0 {
		return fmt.Errorf("amount-decimals must not be negative")
	}
	// invoices always live in postgres
	if c.PostgresDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	switch c.CheckpointBackend {
	case CheckpointFile, CheckpointRedis, CheckpointPostgres:
	default:
		return fmt.Errorf("unknown checkpoint-backend %q", c.CheckpointBackend)
	}

	switch c.DeadLetter {
	case DeadLetterNone, DeadLetterJSONL, DeadLetterPostgres:
	case DeadLetterKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka-brokers is required for kafka dead letters")
		}
	default:
		return fmt.Errorf("unknown dead-letter sink %q", c.DeadLetter)
	}
	return nil
}

// read binds env and flags and loads the config file into v.
func read(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadNetworks accepts either a list in the config file or a JSON array
// string from env or flags.
func loadNetworks(v *viper.Viper) ([]model.Network, error) {
	if !v.IsSet("networks") {
		return nil, nil
	}

	var networks []model.Network
	switch raw := v.Get("networks").(type) {
	case string:
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(raw), &networks); err != nil {
			return nil, fmt.Errorf("parse networks: %w", err)
		}
	default:
		if err := v.UnmarshalKey("networks", &networks); err != nil {
			return nil, fmt.Errorf("parse networks: %w", err)
		}
	}

	for i := range networks {
		networks[i].Name = strings.TrimSpace(networks[i].Name)
		networks[i].RPCURL = strings.TrimSpace(networks[i].RPCURL)
		networks[i].Contract = strings.TrimSpace(networks[i].Contract)
	}
	return networks, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
