package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In             string
	Out            string
	Errors         string
	EventSignature string
	AmountDecimals int32
	LogLevel       string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v := viper.New()
	v.SetDefault("out", "./data/payments.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("event-signature", "PayInvoiceEvent(string,address,address,uint128,uint128)")
	v.SetDefault("amount-decimals", 6)
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		In:             v.GetString("in"),
		Out:            v.GetString("out"),
		Errors:         v.GetString("errors"),
		EventSignature: v.GetString("event-signature"),
		AmountDecimals: v.GetInt32("amount-decimals"),
		LogLevel:       v.GetString("log-level"),
	}
	if cfg.In == "" {
		return DecodeConfig{}, fmt.Errorf("input file is required")
	}
	return cfg, nil
}

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	PostgresDSN    string
	DeadLetterPath string
	Network        string
	Limit          int
	EventSignature string
	AmountDecimals int32
	Notify         bool

	WebBaseURL    string
	BrevoAPIKey   string
	EmailSender   string
	TelegramToken string
	TelegramRPS   float64
	LogLevel      string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v := viper.New()
	v.SetDefault("limit", 100)
	v.SetDefault("event-signature", "PayInvoiceEvent(string,address,address,uint128,uint128)")
	v.SetDefault("amount-decimals", 6)
	v.SetDefault("notify", true)
	v.SetDefault("telegram-rps", 25.0)
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		PostgresDSN:    v.GetString("pg-dsn"),
		DeadLetterPath: v.GetString("dead-letter-path"),
		Network:        v.GetString("network"),
		Limit:          v.GetInt("limit"),
		EventSignature: v.GetString("event-signature"),
		AmountDecimals: v.GetInt32("amount-decimals"),
		Notify:         v.GetBool("notify"),
		WebBaseURL:     v.GetString("web-base-url"),
		BrevoAPIKey:    v.GetString("brevo-api-key"),
		EmailSender:    v.GetString("email-sender"),
		TelegramToken:  v.GetString("telegram-token"),
		TelegramRPS:    v.GetFloat64("telegram-rps"),
		LogLevel:       v.GetString("log-level"),
	}
	if cfg.PostgresDSN == "" {
		return ReplayConfig{}, fmt.Errorf("pg-dsn is required")
	}
	if cfg.Limit <= 0 {
		return ReplayConfig{}, fmt.Errorf("limit must be greater than zero")
	}
	return cfg, nil
}
