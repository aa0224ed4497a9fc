// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the lending VM.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"github.com/spf13/viper"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
)

var (
	ErrInvalidConfig = errors.New("invalid config")

	errNotVerified = errors.New("config used before Verify")
)

// FallbackPrice is an admin-configured price used when a snapshot has none.
type FallbackPrice struct {
	Multiplier uint64 `json:"multiplier"`
	Decimals   uint8  `json:"decimals"`
}

// MarginConfig contains the leveraged trading parameters.
type MarginConfig struct {
	// MaxNumPositions is the maximum number of open positions per account
	MaxNumPositions uint32 `json:"maxNumPositions"`
	// MaxLeverageRate caps debt value over collateral value, scaled by 1e4
	MaxLeverageRate uint32 `json:"maxLeverageRate"`
	// MinSafetyBufferBps is the margin kept above debt before liquidation
	MinSafetyBufferBps uint32 `json:"minSafetyBufferBps"`

	LiquidationBenefitProtocolBps   uint32 `json:"liquidationBenefitProtocolBps"`
	LiquidationBenefitLiquidatorBps uint32 `json:"liquidationBenefitLiquidatorBps"`

	// OpenPositionFeeBps is charged on the borrowed amount
	OpenPositionFeeBps uint32 `json:"openPositionFeeBps"`

	// Flat fee escrowed by stop orders and paid to the triggering keeper
	StopServiceFeeAsset  string `json:"stopServiceFeeAsset"`
	StopServiceFeeAmount string `json:"stopServiceFeeAmount"`

	MinPositionDuration time.Duration `json:"minPositionDuration"`
	// Positions older than this may be liquidated by keepers
	MaxPositionDuration time.Duration `json:"maxPositionDuration"`
}

// Config contains configuration parameters for the lending VM.
type Config struct {
	// MaxNumAssets bounds the distinct assets one principal may hold
	MaxNumAssets uint32 `json:"maxNumAssets"`

	// Price snapshot freshness
	MaximumRecencyDuration   time.Duration `json:"maximumRecencyDuration"`
	MaximumStalenessDuration time.Duration `json:"maximumStalenessDuration"`

	// Oracle is the only caller allowed on the oracle callback entry point
	Oracle string `json:"oracle"`
	// Owner may register assets and claim reserves
	Owner string `json:"owner"`
	// ReliableLiquidators may exceed supply and borrow caps
	ReliableLiquidators []string `json:"reliableLiquidators"`

	FallbackPrices map[string]FallbackPrice `json:"fallbackPrices"`
	// LegacyTokens maps a retired token to its successor
	LegacyTokens map[string]string `json:"legacyTokens"`

	Margin MarginConfig `json:"margin"`

	verified   bool
	oracleID   ids.ShortID
	ownerID    ids.ShortID
	reliable   set.Set[ids.ShortID]
	fallbacks  map[ledger.AssetID]*oracle.Price
	stopFee    *big.Int
	legacyToks map[ledger.AssetID]ledger.AssetID
}

// DefaultConfig returns the default configuration for the lending VM.
func DefaultConfig() Config {
	return Config{
		MaxNumAssets:             10,
		MaximumRecencyDuration:   90 * time.Second,
		MaximumStalenessDuration: 60 * time.Second,
		Margin: MarginConfig{
			MaxNumPositions:                 10,
			MaxLeverageRate:                 50_000, // 5x
			MinSafetyBufferBps:              1_000,  // 10%
			LiquidationBenefitProtocolBps:   2_000,
			LiquidationBenefitLiquidatorBps: 3_000,
			OpenPositionFeeBps:              5,
			StopServiceFeeAmount:            "0",
			MinPositionDuration:             0,
			MaxPositionDuration:             365 * 24 * time.Hour,
		},
	}
}

// Load reads a config file over the defaults. Keys match field names case
// insensitively; durations accept strings such as "90s".
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	v.SetEnvPrefix("lendingvm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Verify validates the config and resolves its identifiers.
func (c *Config) Verify() error {
	m := &c.Margin
	switch {
	case c.MaxNumAssets == 0:
		return fmt.Errorf("%w: maxNumAssets must be positive", ErrInvalidConfig)
	case c.MaximumRecencyDuration <= 0 || c.MaximumStalenessDuration <= 0:
		return fmt.Errorf("%w: price durations must be positive", ErrInvalidConfig)
	case m.LiquidationBenefitProtocolBps+m.LiquidationBenefitLiquidatorBps > ledger.MaxBps:
		return fmt.Errorf("%w: liquidation benefits exceed 100%%", ErrInvalidConfig)
	case m.MaxLeverageRate == 0:
		return fmt.Errorf("%w: maxLeverageRate must be positive", ErrInvalidConfig)
	case m.OpenPositionFeeBps > ledger.MaxBps:
		return fmt.Errorf("%w: openPositionFeeBps out of range", ErrInvalidConfig)
	case m.MaxPositionDuration != 0 && m.MaxPositionDuration < m.MinPositionDuration:
		return fmt.Errorf("%w: maxPositionDuration below minPositionDuration", ErrInvalidConfig)
	}

	var err error
	if c.oracleID, err = parseShortID(c.Oracle); err != nil {
		return fmt.Errorf("%w: oracle: %w", ErrInvalidConfig, err)
	}
	if c.ownerID, err = parseShortID(c.Owner); err != nil {
		return fmt.Errorf("%w: owner: %w", ErrInvalidConfig, err)
	}
	c.reliable = set.NewSet[ids.ShortID](len(c.ReliableLiquidators))
	for _, s := range c.ReliableLiquidators {
		id, err := ids.ShortFromString(s)
		if err != nil {
			return fmt.Errorf("%w: reliable liquidator %q: %w", ErrInvalidConfig, s, err)
		}
		c.reliable.Add(id)
	}

	c.fallbacks = make(map[ledger.AssetID]*oracle.Price, len(c.FallbackPrices))
	for asset, p := range c.FallbackPrices {
		if p.Multiplier == 0 {
			return fmt.Errorf("%w: zero fallback price for %s", ErrInvalidConfig, asset)
		}
		c.fallbacks[ledger.AssetID(asset)] = &oracle.Price{
			Multiplier: new(big.Int).SetUint64(p.Multiplier),
			Decimals:   p.Decimals,
		}
	}

	c.legacyToks = make(map[ledger.AssetID]ledger.AssetID, len(c.LegacyTokens))
	for legacy, successor := range c.LegacyTokens {
		if legacy == successor {
			return fmt.Errorf("%w: legacy token %s is its own successor", ErrInvalidConfig, legacy)
		}
		c.legacyToks[ledger.AssetID(legacy)] = ledger.AssetID(successor)
	}

	fee := m.StopServiceFeeAmount
	if fee == "" {
		fee = "0"
	}
	var ok bool
	if c.stopFee, ok = new(big.Int).SetString(fee, 10); !ok || c.stopFee.Sign() < 0 {
		return fmt.Errorf("%w: stopServiceFeeAmount %q", ErrInvalidConfig, m.StopServiceFeeAmount)
	}
	if c.stopFee.Sign() > 0 && m.StopServiceFeeAsset == "" {
		return fmt.Errorf("%w: stop service fee without asset", ErrInvalidConfig)
	}

	c.verified = true
	return nil
}

func parseShortID(s string) (ids.ShortID, error) {
	if s == "" {
		return ids.ShortEmpty, nil
	}
	return ids.ShortFromString(s)
}

func (c *Config) mustBeVerified() {
	if !c.verified {
		panic(errNotVerified)
	}
}

// OracleID is the caller accepted on the oracle callback entry point.
func (c *Config) OracleID() ids.ShortID {
	c.mustBeVerified()
	return c.oracleID
}

// OwnerID is the administrative caller.
func (c *Config) OwnerID() ids.ShortID {
	c.mustBeVerified()
	return c.ownerID
}

// IsReliableLiquidator reports whether id may bypass caps.
func (c *Config) IsReliableLiquidator(id ids.ShortID) bool {
	c.mustBeVerified()
	return c.reliable.Contains(id)
}

// PriceLimits returns the snapshot limits for calls.
func (c *Config) PriceLimits() oracle.Limits {
	c.mustBeVerified()
	return oracle.Limits{
		MaxRecency:   c.MaximumRecencyDuration,
		MaxStaleness: c.MaximumStalenessDuration,
		Fallbacks:    c.fallbacks,
	}
}

// Successor returns the token that repays debt in a legacy token.
func (c *Config) Successor(legacy ledger.AssetID) (ledger.AssetID, bool) {
	c.mustBeVerified()
	successor, ok := c.legacyToks[legacy]
	return successor, ok
}

// StopFee returns the flat stop order service fee as an inner amount of its
// asset.
func (c *Config) StopFee() (ledger.AssetID, *big.Int) {
	c.mustBeVerified()
	return ledger.AssetID(c.Margin.StopServiceFeeAsset), new(big.Int).Set(c.stopFee)
}
