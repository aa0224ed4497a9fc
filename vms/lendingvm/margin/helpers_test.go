// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package margin_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/luxfi/lendingvm/vms/lendingvm/config"
	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending/lendingmock"
	"github.com/luxfi/lendingvm/vms/lendingvm/margin"
	"github.com/luxfi/lendingvm/vms/lendingvm/metrics"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
	"github.com/luxfi/lendingvm/vms/lendingvm/state"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap/swapmock"
)

const (
	second = uint64(time.Second)
	now    = 1_000 * second
)

var (
	owner = ids.ShortID{0xff}
	alice = ids.ShortID{1}
	bob   = ids.ShortID{2}
	carol = ids.ShortID{3}

	rateAPR8   = mustBig("1000000002440418608258400030")
	rateAPR250 = mustBig("1000000039724853136740579970")
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func assetConfig(volatilityBps uint32) ledger.AssetConfig {
	return ledger.AssetConfig{
		TargetUtilizationBps:      8000,
		TargetUtilizationRate:     new(big.Int).Set(rateAPR8),
		MaxUtilizationRate:        new(big.Int).Set(rateAPR250),
		VolatilityRatioBps:        volatilityBps,
		CanDeposit:                true,
		CanWithdraw:               true,
		CanUseAsCollateral:        true,
		CanBorrow:                 true,
		MarginDebtDiscountRateBps: 5000,
	}
}

type env struct {
	require    *require.Assertions
	config     *config.Config
	lending    *lending.Engine
	margin     *margin.Engine
	store      *state.State
	swapper    *swapmock.Swapper
	transferer *lendingmock.Transferer
}

// newEnv lists USDC at $1 and the native token. Carol supplies 10000 USDC
// for margin debt and alice's margin account holds 1100 USDC.
func newEnv(t *testing.T, opts ...func(*config.Config)) *env {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	cfg := config.DefaultConfig()
	cfg.Owner = owner.String()
	cfg.Margin.StopServiceFeeAsset = "usdc"
	cfg.Margin.StopServiceFeeAmount = tokens(1).String()
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(cfg.Verify())

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(err)

	e := &env{
		require:    require,
		config:     &cfg,
		store:      state.New(memdb.New()),
		swapper:    swapmock.NewSwapper(ctrl),
		transferer: lendingmock.NewTransferer(ctrl),
	}
	logger := log.NewNoOpLogger()
	e.lending = lending.NewEngine(&cfg, logger, m, e.transferer, lendingmock.NewUnwinder(ctrl))
	e.margin = margin.NewEngine(e.lending, logger, m, e.swapper)
	e.lending.SetMarginEngine(e.margin)

	for id, vol := range map[ledger.AssetID]uint32{"usdc": 9500, "wnative": 6000} {
		require.NoError(e.lending.AddAsset(e.store, call(owner, now), id, assetConfig(vol)))
	}
	require.NoError(e.lending.Deposit(e.store, call(carol, now), "usdc", tokens(10_000), nil))
	require.NoError(e.margin.Deposit(e.store, call(alice, now), "usdc", tokens(1_100)))
	return e
}

func call(caller ids.ShortID, at uint64) lending.Call {
	return lending.Call{
		Caller:        caller,
		AttachedStake: 1,
		Now:           at,
	}
}

// pricesAt returns a snapshot observed at with USDC at $1 and the native
// token at nativeUSD.
func pricesAt(at uint64, nativeUSD int64) *oracle.PriceSnapshot {
	return &oracle.PriceSnapshot{
		Timestamp: at,
		Prices: map[ledger.AssetID]*oracle.Price{
			"usdc":    oracle.NewPrice(10_000, 22),
			"wnative": oracle.NewPrice(nativeUSD*10_000, 22),
		},
	}
}

func prices(nativeUSD int64) *oracle.PriceSnapshot {
	return pricesAt(now, nativeUSD)
}

// expectSwap captures the next swap intent id.
func (e *env) expectSwap(tokenIn ledger.AssetID, amountIn *big.Int, tokenOut ledger.AssetID) *ids.ID {
	var intentID ids.ID
	e.swapper.EXPECT().Swap(gomock.Any(), tokenIn, gomock.Any(), tokenOut, gomock.Any(), gomock.Any()).DoAndReturn(
		func(id ids.ID, _ ledger.AssetID, got *big.Int, _ ledger.AssetID, _ *big.Int, _ swap.Indication) error {
			intentID = id
			e.require.Zero(amountIn.Cmp(got), "swap of %s, want %s", got, amountIn)
			return nil
		},
	)
	return &intentID
}

func openRequest() *margin.OpenRequest {
	return &margin.OpenRequest{
		CollateralAsset:   "usdc",
		CollateralAmount:  tokens(1_000),
		DebtAsset:         "usdc",
		DebtAmount:        tokens(2_000),
		PositionAsset:     "wnative",
		MinPositionAmount: tokens(190),
		Indication:        swap.Indication{DexID: "dex"},
	}
}

// open opens alice's 2000 USDC position into 200 native at $10.
func (e *env) open() ids.ID {
	intentID := e.expectSwap("usdc", tokens(2_000), "wnative")
	positionID, err := e.margin.Open(e.store, call(alice, now), prices(10), openRequest())
	e.require.NoError(err)
	e.require.NoError(e.margin.OnSwapResolved(e.store, now, *intentID, true, tokens(200)))
	return positionID
}

func (e *env) account(owner ids.ShortID) *margin.Account {
	account, err := e.store.GetMarginAccount(owner)
	e.require.NoError(err)
	return account
}

func (e *env) asset(id ledger.AssetID) *ledger.Asset {
	asset, err := lending.LoadAsset(e.store, id, now)
	e.require.NoError(err)
	return asset
}

func (e *env) unwind(id ids.ID, minOut int64) *margin.UnwindRequest {
	return &margin.UnwindRequest{
		Owner:        alice,
		PositionID:   id,
		MinAmountOut: tokens(minOut),
	}
}
