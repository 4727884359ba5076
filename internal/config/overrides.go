package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Keys understood by ApplyOverrides. The matching environment variables use
// the AGORA_ prefix with dots replaced by underscores, e.g.
// AGORA_AUCTION_MAX_ROUNDS.
const (
	KeyInstance       = "instance"
	KeyLedgerPath     = "ledger.path"
	KeyInitialCredits = "auction.initial_credits"
	KeyMaxRounds      = "auction.max_rounds"
	KeyPause          = "auction.pause"
	KeyBidTimeout     = "auction.bid_timeout"
	KeyStreamMode     = "stream.mode"
	KeyReplayDelay    = "stream.replay_delay"
	KeyServerAddr     = "server.addr"
	KeyRedisURL       = "redis.url"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "AGORA"

// NewViper returns a viper instance reading AGORA_* environment variables.
// Callers bind command-line flags to it with BindPFlag.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key that is set in v (by flag or environment)
// over the configuration and re-validates it.
func (c *SimulationConfig) ApplyOverrides(v *viper.Viper) error {
	if v == nil {
		return c.Validate()
	}

	if v.IsSet(KeyInstance) {
		c.Instance = v.GetString(KeyInstance)
	}
	if v.IsSet(KeyLedgerPath) {
		c.Ledger.Path = v.GetString(KeyLedgerPath)
	}
	if v.IsSet(KeyInitialCredits) {
		c.Auction.InitialCredits = v.GetInt(KeyInitialCredits)
	}
	if v.IsSet(KeyMaxRounds) {
		c.Auction.MaxRounds = v.GetInt(KeyMaxRounds)
	}
	if v.IsSet(KeyPause) {
		c.Auction.Pause = durationPtr(v.GetDuration(KeyPause))
	}
	if v.IsSet(KeyBidTimeout) {
		c.Auction.BidTimeout = durationPtr(v.GetDuration(KeyBidTimeout))
	}
	if v.IsSet(KeyStreamMode) {
		c.Stream.Mode = v.GetString(KeyStreamMode)
	}
	if v.IsSet(KeyReplayDelay) {
		c.Stream.ReplayDelay = durationPtr(v.GetDuration(KeyReplayDelay))
	}
	if v.IsSet(KeyServerAddr) {
		c.Server.Addr = v.GetString(KeyServerAddr)
	}
	if v.IsSet(KeyRedisURL) {
		c.Redis.URL = v.GetString(KeyRedisURL)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration after overrides: %w", err)
	}
	return nil
}
