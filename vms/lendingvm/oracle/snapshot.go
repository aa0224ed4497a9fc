// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle validates caller-supplied price snapshots and values ledger
// amounts against them.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

var (
	ErrStalePrices   = errors.New("stale price snapshot")
	ErrMissingPrice  = errors.New("missing price")
	ErrInvalidPrice  = errors.New("invalid price")
	ErrFuturePrices  = errors.New("price snapshot from the future")
	errNoSnapshotSet = errors.New("no price snapshot supplied")

	// ValueScale is the fixed point scale of USD values.
	ValueScale = big.NewInt(1e18)
)

// Price is Multiplier / 10^Decimals USD per smallest token unit.
type Price struct {
	Multiplier *big.Int `json:"multiplier"`
	Decimals   uint8    `json:"decimals"`
}

// NewPrice returns a price of multiplier / 10^decimals.
func NewPrice(multiplier int64, decimals uint8) *Price {
	return &Price{
		Multiplier: big.NewInt(multiplier),
		Decimals:   decimals,
	}
}

// Decimal returns the USD price of one smallest token unit.
func (p *Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(p.Multiplier, -int32(p.Decimals))
}

func (p *Price) verify() error {
	if p.Multiplier == nil || p.Multiplier.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// PriceSnapshot is a set of prices supplied with a request. A nil entry
// means the oracle had no price for that asset.
type PriceSnapshot struct {
	// Unix nanoseconds at which the prices were observed.
	Timestamp uint64 `json:"timestamp"`
	// Spread between the oldest and newest source observation.
	RecencyDuration time.Duration             `json:"recencyDuration"`
	Prices          map[ledger.AssetID]*Price `json:"prices"`
}

// Limits bound the snapshots a call accepts.
type Limits struct {
	MaxRecency   time.Duration
	MaxStaleness time.Duration
	// Admin-configured prices for a small allow-list of assets.
	Fallbacks map[ledger.AssetID]*Price
}

// Verify checks the snapshot is fresh enough at now and returns a book to
// value amounts with. A nil snapshot yields a book holding only fallbacks.
func (s *PriceSnapshot) Verify(now uint64, limits Limits) (*Book, error) {
	if s == nil {
		return &Book{fallbacks: limits.Fallbacks}, nil
	}
	if s.RecencyDuration < 0 || s.RecencyDuration > limits.MaxRecency {
		return nil, fmt.Errorf("%w: recency %s exceeds %s", ErrStalePrices, s.RecencyDuration, limits.MaxRecency)
	}
	if s.Timestamp > now {
		return nil, fmt.Errorf("%w: %d > %d", ErrFuturePrices, s.Timestamp, now)
	}
	if age := time.Duration(now - s.Timestamp); age > limits.MaxStaleness {
		return nil, fmt.Errorf("%w: age %s exceeds %s", ErrStalePrices, age, limits.MaxStaleness)
	}
	for asset, price := range s.Prices {
		if price == nil {
			continue
		}
		if err := price.verify(); err != nil {
			return nil, fmt.Errorf("%w for %s", err, asset)
		}
	}
	return &Book{
		snapshot:  s,
		fallbacks: limits.Fallbacks,
	}, nil
}

// Book resolves prices from a verified snapshot.
type Book struct {
	snapshot  *PriceSnapshot
	fallbacks map[ledger.AssetID]*Price
}

// HasSnapshot reports whether the book was built from a caller snapshot.
func (b *Book) HasSnapshot() bool {
	return b.snapshot != nil
}

// Get returns the price of asset, falling back to an allow-listed default.
func (b *Book) Get(asset ledger.AssetID) (*Price, error) {
	if b.snapshot != nil {
		if price := b.snapshot.Prices[asset]; price != nil {
			return price, nil
		}
	}
	if price, ok := b.fallbacks[asset]; ok && price != nil {
		return price, nil
	}
	if b.snapshot == nil {
		return nil, fmt.Errorf("%w: %w for %s", ErrMissingPrice, errNoSnapshotSet, asset)
	}
	return nil, fmt.Errorf("%w for %s", ErrMissingPrice, asset)
}

// Value converts an inner amount of asset to USD scaled by 1e18.
func (b *Book) Value(asset *ledger.Asset, amount *big.Int, roundUp bool) (*big.Int, error) {
	price, err := b.Get(asset.ID)
	if err != nil {
		return nil, err
	}
	return Value(amount, price, asset.Config.ExtraDecimals, roundUp), nil
}

// Value converts an inner amount to USD scaled by 1e18.
func Value(amount *big.Int, price *Price, extraDecimals uint8, roundUp bool) *big.Int {
	num := new(big.Int).Mul(amount, price.Multiplier)
	return safemath.MulDiv(num, ValueScale, safemath.Pow10(price.Decimals+extraDecimals), roundUp)
}

// Amount converts a USD value scaled by 1e18 back to an inner amount.
func Amount(value *big.Int, price *Price, extraDecimals uint8, roundUp bool) *big.Int {
	num := new(big.Int).Mul(value, safemath.Pow10(price.Decimals+extraDecimals))
	den := new(big.Int).Mul(price.Multiplier, ValueScale)
	return safemath.MulDiv(num, big.NewInt(1), den, roundUp)
}
