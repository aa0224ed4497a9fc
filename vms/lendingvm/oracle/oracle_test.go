// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

const second = uint64(time.Second)

var limits = Limits{
	MaxRecency:   90 * time.Second,
	MaxStaleness: 60 * time.Second,
}

func TestVerifySnapshot(t *testing.T) {
	require := require.New(t)

	now := 1_000 * second
	snapshot := &PriceSnapshot{
		Timestamp:       now - 10*second,
		RecencyDuration: 30 * time.Second,
		Prices: map[ledger.AssetID]*Price{
			"wnative": NewPrice(100_000, 22),
			"usdc":    nil,
		},
	}
	book, err := snapshot.Verify(now, limits)
	require.NoError(err)
	require.True(book.HasSnapshot())

	price, err := book.Get("wnative")
	require.NoError(err)
	require.Equal("0.00000000000000001", price.Decimal().String())

	_, err = book.Get("usdc")
	require.ErrorIs(err, ErrMissingPrice)

	withFallback := limits
	withFallback.Fallbacks = map[ledger.AssetID]*Price{"usdc": NewPrice(10_000, 22)}
	book, err = snapshot.Verify(now, withFallback)
	require.NoError(err)
	_, err = book.Get("usdc")
	require.NoError(err)
}

func TestVerifyRejectsStale(t *testing.T) {
	now := 1_000 * second
	tests := []struct {
		name     string
		snapshot *PriceSnapshot
		err      error
	}{
		{
			name:     "recency too wide",
			snapshot: &PriceSnapshot{Timestamp: now, RecencyDuration: 91 * time.Second},
			err:      ErrStalePrices,
		},
		{
			name:     "too old",
			snapshot: &PriceSnapshot{Timestamp: now - 61*second},
			err:      ErrStalePrices,
		},
		{
			name:     "from the future",
			snapshot: &PriceSnapshot{Timestamp: now + 1},
			err:      ErrFuturePrices,
		},
		{
			name: "non-positive price",
			snapshot: &PriceSnapshot{
				Timestamp: now,
				Prices:    map[ledger.AssetID]*Price{"usdc": NewPrice(0, 4)},
			},
			err: ErrInvalidPrice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.snapshot.Verify(now, limits)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNilSnapshotUsesFallbacksOnly(t *testing.T) {
	require := require.New(t)

	var snapshot *PriceSnapshot
	book, err := snapshot.Verify(0, Limits{Fallbacks: map[ledger.AssetID]*Price{"usdc": NewPrice(1, 0)}})
	require.NoError(err)
	require.False(book.HasSnapshot())

	_, err = book.Get("usdc")
	require.NoError(err)
	_, err = book.Get("wnative")
	require.ErrorIs(err, ErrMissingPrice)
}

func TestValue(t *testing.T) {
	require := require.New(t)

	// $12 per 1e18-unit token.
	price := NewPrice(120_000, 22)
	amount := new(big.Int).Mul(big.NewInt(50), big.NewInt(1e18))
	value := Value(amount, price, 0, false)
	require.Equal("600000000000000000000", value.String())

	back := Amount(value, price, 0, false)
	require.Zero(back.Cmp(amount))

	// Extra decimals shift the inner amount only.
	scaled := new(big.Int).Mul(amount, big.NewInt(1_000))
	require.Zero(Value(scaled, price, 3, false).Cmp(value))

	dust := NewPrice(1, 22)
	require.Zero(Value(big.NewInt(1), dust, 0, false).Sign())
	require.Equal(int64(1), Value(big.NewInt(1), dust, 0, true).Int64())
}

func TestFeedAverages(t *testing.T) {
	require := require.New(t)

	feed, err := NewFeed(100 * time.Second)
	require.NoError(err)

	require.NoError(feed.Record("wnative", NewPrice(10, 0), 0))
	require.NoError(feed.Record("wnative", NewPrice(20, 0), 50*second))
	require.ErrorIs(feed.Record("wnative", NewPrice(20, 1), 60*second), ErrDecimalsChange)

	price, err := feed.Price("wnative", 100*second)
	require.NoError(err)
	require.Equal(int64(15), price.Multiplier.Int64())

	price, err = feed.Price("wnative", 200*second)
	require.NoError(err)
	require.Equal(int64(20), price.Multiplier.Int64())

	_, err = feed.Price("usdc", 100*second)
	require.ErrorIs(err, ErrNoObservations)

	_, err = NewFeed(0)
	require.ErrorIs(err, ErrInvalidWindow)
}

func TestFeedSnapshot(t *testing.T) {
	require := require.New(t)

	feed, err := NewFeed(time.Minute)
	require.NoError(err)
	require.NoError(feed.Record("usdc", NewPrice(10_000, 10), 100*second))
	require.NoError(feed.Record("wnative", NewPrice(100_000, 22), 130*second))

	snapshot := feed.Snapshot(140*second, []ledger.AssetID{"usdc", "wnative", "unknown"})
	require.Equal(140*second, snapshot.Timestamp)
	require.Equal(40*time.Second, snapshot.RecencyDuration)
	require.NotNil(snapshot.Prices["usdc"])
	require.NotNil(snapshot.Prices["wnative"])
	require.Nil(snapshot.Prices["unknown"])

	book, err := snapshot.Verify(140*second, limits)
	require.NoError(err)
	_, err = book.Get("unknown")
	require.ErrorIs(err, ErrMissingPrice)

	require.Equal([]ledger.AssetID{"usdc", "wnative"}, feed.Assets())
}
