package utils

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
)

const (
	FlagConfigFile      = "config"
	FlagDataDir         = "datadir"
	FlagRPCTimeout      = "rpc-timeout"
	FlagReceiptTimeout  = "receipt-timeout"
	FlagPollInterval    = "poll-interval"
	FlagLogLevel        = "log-level"
	FlagDefaultEndpoint = "default-endpoint"
	FlagDefaultGasPrice = "default-gas-price"
	FlagDefaultDecimals = "default-decimals"

	EnvPrefix = "AIRDROP"
)

// Settings are the tool level options. The airdrop itself (sender, token,
// recipients) lives in the database.
type Settings struct {
	DataDir         string
	RPCTimeout      time.Duration // per JSON-RPC request
	ReceiptTimeout  time.Duration // total wait for a receipt
	PollInterval    time.Duration
	LogLevel        string
	DefaultEndpoint string
	DefaultGasPrice string
	DefaultDecimals uint8
}

// RegisterFlags adds the settings flags to a command's persistent flag set
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfigFile, "", "Path to a settings file (yaml, json or toml)")
	flags.String(FlagDataDir, "./airdrop-db", "Directory of the airdrop database")
	flags.Duration(FlagRPCTimeout, 20*time.Second, "Timeout of a single JSON-RPC request")
	flags.Duration(FlagReceiptTimeout, 120*time.Second, "How long to wait for a transaction receipt")
	flags.Duration(FlagPollInterval, time.Second, "Receipt polling interval")
	flags.String(FlagLogLevel, "warn", "Log level: trace, debug, info, warn, error, crit")
	flags.String(FlagDefaultEndpoint, "https://data-seed-prebsc-2-s1.binance.org:8545/", "Endpoint written by 'init'")
	flags.String(FlagDefaultGasPrice, "10gwei", "Gas price written by 'init'")
	flags.Uint8(FlagDefaultDecimals, airdrop.DefaultDecimals, "Token decimals written by 'init'")
}

// LoadSettings resolves settings from flags, AIRDROP_* environment variables
// and the optional settings file, in that order of precedence.
func LoadSettings(v *viper.Viper, flags *pflag.FlagSet) (*Settings, error) {
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(FlagConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", file, err)
		}
	}

	decimals := v.GetUint(FlagDefaultDecimals)
	if decimals > math.MaxUint8 {
		return nil, fmt.Errorf("%s must be at most %d, got %d", FlagDefaultDecimals, math.MaxUint8, decimals)
	}

	s := &Settings{
		DataDir:         v.GetString(FlagDataDir),
		RPCTimeout:      v.GetDuration(FlagRPCTimeout),
		ReceiptTimeout:  v.GetDuration(FlagReceiptTimeout),
		PollInterval:    v.GetDuration(FlagPollInterval),
		LogLevel:        v.GetString(FlagLogLevel),
		DefaultEndpoint: v.GetString(FlagDefaultEndpoint),
		DefaultGasPrice: v.GetString(FlagDefaultGasPrice),
		DefaultDecimals: uint8(decimals),
	}
	return s, s.Validate()
}

func (s *Settings) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("%s must not be empty", FlagDataDir)
	}
	if s.RPCTimeout <= 0 || s.ReceiptTimeout <= 0 || s.PollInterval <= 0 {
		return fmt.Errorf("timeouts and poll interval must be positive")
	}
	if _, err := airdrop.ParseGasPrice(s.DefaultGasPrice); err != nil {
		return err
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid %s: %w", FlagLogLevel, err)
	}
	return nil
}
