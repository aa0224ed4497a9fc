// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// MaxBps is 100% in basis points.
	MaxBps = 10_000

	// MaxExtraDecimals bounds the decimal normalization factor.
	MaxExtraDecimals = 24
)

var (
	ErrInvalidConfig = errors.New("invalid asset config")

	// UnitRate is a per-second multiplier of exactly one, scaled by 1e27.
	UnitRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
)

// AssetID identifies a fungible token by its contract address.
type AssetID string

func (id AssetID) String() string {
	return string(id)
}

// AssetConfig describes the capabilities and rate curve of one asset.
// Rates are per-second compounding multipliers scaled by 1e27.
type AssetConfig struct {
	// Share of borrower interest kept by the protocol.
	ReserveRatioBps uint32 `json:"reserveRatioBps"`
	// Share of the reserve part routed to the claimable protocol fee.
	ProtocolFeeRatioBps uint32 `json:"protocolFeeRatioBps"`

	TargetUtilizationBps  uint32   `json:"targetUtilizationBps"`
	TargetUtilizationRate *big.Int `json:"targetUtilizationRate"`
	MaxUtilizationRate    *big.Int `json:"maxUtilizationRate"`

	// Rate at which margin positions accrue holding fees.
	HoldingPositionFeeRate *big.Int `json:"holdingPositionFeeRate"`

	// Collateral values are multiplied and borrowed values divided by this
	// ratio when computing risk.
	VolatilityRatioBps uint32 `json:"volatilityRatioBps"`

	// Inner amounts are token amounts scaled by 10^ExtraDecimals.
	ExtraDecimals uint8 `json:"extraDecimals"`

	CanDeposit         bool `json:"canDeposit"`
	CanWithdraw        bool `json:"canWithdraw"`
	CanUseAsCollateral bool `json:"canUseAsCollateral"`
	CanBorrow          bool `json:"canBorrow"`

	// Weight of this asset in reported protocol TVL.
	NetTvlMultiplierBps uint32 `json:"netTvlMultiplierBps"`

	// Nil means no cap.
	SuppliedLimit *big.Int `json:"suppliedLimit,omitempty"`
	BorrowedLimit *big.Int `json:"borrowedLimit,omitempty"`

	MinBorrowedAmount *big.Int `json:"minBorrowedAmount,omitempty"`

	// Share of the ordinary borrow rate charged on margin debt.
	MarginDebtDiscountRateBps uint32 `json:"marginDebtDiscountRateBps"`

	// Constituent tokens an LP-style asset unwinds into. Assets with
	// underlying tokens are only accepted as isolated collateral.
	UnderlyingTokens []AssetID `json:"underlyingTokens,omitempty"`
}

// Verify checks the config is internally consistent.
func (c *AssetConfig) Verify() error {
	switch {
	case c.VolatilityRatioBps == 0 || c.VolatilityRatioBps > MaxBps:
		return fmt.Errorf("%w: volatility ratio %d out of range", ErrInvalidConfig, c.VolatilityRatioBps)
	case c.ReserveRatioBps > MaxBps:
		return fmt.Errorf("%w: reserve ratio %d out of range", ErrInvalidConfig, c.ReserveRatioBps)
	case c.ProtocolFeeRatioBps > MaxBps:
		return fmt.Errorf("%w: protocol fee ratio %d out of range", ErrInvalidConfig, c.ProtocolFeeRatioBps)
	case c.TargetUtilizationBps == 0 || c.TargetUtilizationBps >= MaxBps:
		return fmt.Errorf("%w: target utilization %d out of range", ErrInvalidConfig, c.TargetUtilizationBps)
	case c.MarginDebtDiscountRateBps > MaxBps:
		return fmt.Errorf("%w: margin debt discount %d out of range", ErrInvalidConfig, c.MarginDebtDiscountRateBps)
	case c.ExtraDecimals > MaxExtraDecimals:
		return fmt.Errorf("%w: extra decimals %d out of range", ErrInvalidConfig, c.ExtraDecimals)
	case c.TargetUtilizationRate == nil || c.TargetUtilizationRate.Cmp(UnitRate) < 0:
		return fmt.Errorf("%w: target utilization rate below one", ErrInvalidConfig)
	case c.MaxUtilizationRate == nil || c.MaxUtilizationRate.Cmp(c.TargetUtilizationRate) < 0:
		return fmt.Errorf("%w: max utilization rate below target rate", ErrInvalidConfig)
	case c.HoldingPositionFeeRate != nil && c.HoldingPositionFeeRate.Cmp(UnitRate) < 0:
		return fmt.Errorf("%w: holding fee rate below one", ErrInvalidConfig)
	}

	seen := make(map[AssetID]struct{}, len(c.UnderlyingTokens))
	for _, token := range c.UnderlyingTokens {
		if _, ok := seen[token]; ok {
			return fmt.Errorf("%w: duplicate underlying token %s", ErrInvalidConfig, token)
		}
		seen[token] = struct{}{}
	}
	return nil
}

// IsLiquidityToken reports whether the asset unwinds into constituent tokens.
func (c *AssetConfig) IsLiquidityToken() bool {
	return len(c.UnderlyingTokens) > 0
}

func (c *AssetConfig) holdingFeeRate() *big.Int {
	if c.HoldingPositionFeeRate == nil {
		return UnitRate
	}
	return c.HoldingPositionFeeRate
}
