// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database"
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
	"github.com/luxfi/lendingvm/vms/lendingvm/metrics"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
	"github.com/luxfi/lendingvm/vms/lendingvm/state"
)

const (
	second = uint64(time.Second)
	now    = 1_000 * second
	year   = ledger.SecondsPerYear * ledger.NanosPerSecond
)

var (
	owner    = ids.ShortID{0xff}
	oracleID = ids.ShortID{0xfe}
	alice    = ids.ShortID{1}
	bob      = ids.ShortID{2}
	carol    = ids.ShortID{3}

	// 8% APR compounded per second.
	rateAPR8 = mustBig("1000000002440418608258400030")
	// 250% APR compounded per second.
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

// tenths returns n/10 whole tokens.
func tenths(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e17))
}

// usd returns a price of dollars per whole 18 decimal token.
func usd(dollars int64) *oracle.Price {
	return oracle.NewPrice(dollars*10_000, 22)
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
	t          *testing.T
	require    *require.Assertions
	config     *config.Config
	engine     *lending.Engine
	db         database.Database
	store      *state.State
	transferer *lendingmock.Transferer
	unwinder   *lendingmock.Unwinder
}

func newEnv(t *testing.T, opts ...func(*config.Config)) *env {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	cfg := config.DefaultConfig()
	cfg.Owner = owner.String()
	cfg.Oracle = oracleID.String()
	cfg.LegacyTokens = map[string]string{"usdc.e": "usdc"}
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(cfg.Verify())

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(err)

	db := memdb.New()
	e := &env{
		t:          t,
		require:    require,
		config:     &cfg,
		db:         db,
		store:      state.New(db),
		transferer: lendingmock.NewTransferer(ctrl),
		unwinder:   lendingmock.NewUnwinder(ctrl),
	}
	e.engine = lending.NewEngine(&cfg, log.NewNoOpLogger(), m, e.transferer, e.unwinder)

	e.addAsset("usdc", assetConfig(9500))
	e.addAsset("wnative", assetConfig(6000))
	return e
}

func (e *env) addAsset(id ledger.AssetID, cfg ledger.AssetConfig) {
	e.require.NoError(e.engine.AddAsset(e.store, call(owner), id, cfg))
}

// commit writes the working state and opens a fresh one over the same
// database.
func (e *env) commit() {
	e.require.NoError(e.store.Write())
	e.store = state.New(e.db)
}

// rollback drops the working state, including whatever a failed call left
// in it.
func (e *env) rollback() {
	e.store = state.New(e.db)
}

func call(caller ids.ShortID) lending.Call {
	return lending.Call{
		Caller:        caller,
		AttachedStake: 1,
		Now:           now,
	}
}

// prices returns a fresh snapshot with USDC at $1 and the native token at
// nativeUSD.
func prices(nativeUSD int64, extra ...map[ledger.AssetID]*oracle.Price) *oracle.PriceSnapshot {
	snapshot := &oracle.PriceSnapshot{
		Timestamp: now,
		Prices: map[ledger.AssetID]*oracle.Price{
			"usdc":    usd(1),
			"usdc.e":  usd(1),
			"wnative": usd(nativeUSD),
		},
	}
	for _, m := range extra {
		for asset, price := range m {
			snapshot.Prices[asset] = price
		}
	}
	return snapshot
}

func (e *env) deposit(account ids.ShortID, token ledger.AssetID, amount *big.Int, actions ...lending.Action) error {
	return e.engine.Deposit(e.store, call(account), token, amount, actions)
}

func (e *env) execute(account ids.ShortID, snapshot *oracle.PriceSnapshot, actions ...lending.Action) error {
	return e.engine.Execute(e.store, call(account), snapshot, actions)
}

func (e *env) asset(id ledger.AssetID) *ledger.Asset {
	asset, err := lending.LoadAsset(e.store, id, now)
	e.require.NoError(err)
	return asset
}

func (e *env) principal(id ids.ShortID) *lending.Principal {
	p, err := e.store.GetPrincipal(id)
	e.require.NoError(err)
	return p
}

func (e *env) position(id ids.ShortID, name string) lending.Position {
	pos, ok := e.principal(id).Position(name)
	e.require.True(ok, "missing position %s", name)
	return pos
}

func (e *env) discount(snapshot *oracle.PriceSnapshot, pos lending.Position) *big.Int {
	book, err := snapshot.Verify(now, e.config.PriceLimits())
	e.require.NoError(err)
	load := func(id ledger.AssetID) (*ledger.Asset, error) {
		return lending.LoadAsset(e.store, id, now)
	}
	d, err := lending.RiskDiscount(load, book, pos)
	e.require.NoError(err)
	return d
}

// expectTransfer captures the next transfer intent id.
func (e *env) expectTransfer(token ledger.AssetID, receiver ids.ShortID, amount *big.Int) *ids.ID {
	var intentID ids.ID
	e.transferer.EXPECT().Transfer(gomock.Any(), token, receiver, gomock.Any()).DoAndReturn(
		func(id ids.ID, _ ledger.AssetID, _ ids.ShortID, got *big.Int) error {
			intentID = id
			e.require.Zero(amount.Cmp(got), "transfer of %s, want %s", got, amount)
			return nil
		},
	)
	return &intentID
}

// borrowScenario has carol supply 50 of the native token, then supplies
// 1000 USDC as alice's regular collateral and borrows those 50 at $10.
func (e *env) borrowScenario() {
	e.require.NoError(e.deposit(carol, "wnative", tokens(50)))
	e.require.NoError(e.deposit(alice, "usdc", tokens(1_000),
		collateral("usdc"),
	))
	e.require.NoError(e.execute(alice, prices(10),
		&lending.Borrow{AssetAmount: lending.AssetAmount{Asset: "wnative", Amount: tokens(50)}},
	))
}

// collateral moves the whole supply of asset into the regular position.
func collateral(asset ledger.AssetID) *lending.IncreaseCollateral {
	return &lending.IncreaseCollateral{AssetAmount: lending.AssetAmount{Asset: asset}}
}

// assertConservation checks every pool's shares equal the shares held by
// the given principals.
func (e *env) assertConservation(accounts ...ids.ShortID) {
	assetIDs, err := e.store.AssetIDs()
	e.require.NoError(err)
	for _, id := range assetIDs {
		supplied := new(big.Int)
		borrowed := new(big.Int)
		for _, account := range accounts {
			p := e.principal(account)
			supplied.Add(supplied, p.SuppliedShares(id))
			for _, name := range p.PositionNames() {
				shares := p.Positions[name].Balances()
				if v, ok := shares.Collateral[id]; ok {
					supplied.Add(supplied, v)
				}
				if v, ok := shares.Borrowed[id]; ok {
					borrowed.Add(borrowed, v)
				}
			}
		}
		asset := e.asset(id)
		e.require.Zero(asset.Supplied.Shares.Cmp(supplied), "%s supplied shares", id)
		e.require.Zero(asset.Borrowed.Shares.Cmp(borrowed), "%s borrowed shares", id)
	}
}
