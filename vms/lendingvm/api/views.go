// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"math/big"
	"sort"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/margin"

	avajson "github.com/luxfi/lendingvm/utils/json"
)

// PoolView is a pool in API form.
type PoolView struct {
	Shares  avajson.BigInt `json:"shares"`
	Balance avajson.BigInt `json:"balance"`
}

func newPoolView(p *ledger.Pool) PoolView {
	return PoolView{
		Shares:  avajson.NewBigInt(p.Shares),
		Balance: avajson.NewBigInt(p.Balance),
	}
}

// AssetView is an asset accrued up to the time of the request. APRs are
// decimal fractions.
type AssetView struct {
	ID                ledger.AssetID     `json:"id"`
	Supplied          PoolView           `json:"supplied"`
	Borrowed          PoolView           `json:"borrowed"`
	MarginDebt        PoolView           `json:"marginDebt"`
	MarginPendingDebt avajson.BigInt     `json:"marginPendingDebt"`
	MarginPosition    avajson.BigInt     `json:"marginPosition"`
	Reserved          avajson.BigInt     `json:"reserved"`
	ProtocolFee       avajson.BigInt     `json:"protocolFee"`
	ProtocolDebt      avajson.BigInt     `json:"protocolDebt"`
	SupplyAPR         string             `json:"supplyApr"`
	BorrowAPR         string             `json:"borrowApr"`
	LastUpdate        avajson.Uint64     `json:"lastUpdateTimestamp"`
	Config            ledger.AssetConfig `json:"config"`
}

func newAssetView(a *ledger.Asset) AssetView {
	return AssetView{
		ID:                a.ID,
		Supplied:          newPoolView(&a.Supplied),
		Borrowed:          newPoolView(&a.Borrowed),
		MarginDebt:        newPoolView(&a.MarginDebt),
		MarginPendingDebt: avajson.NewBigInt(a.MarginPendingDebt),
		MarginPosition:    avajson.NewBigInt(a.MarginPosition),
		Reserved:          avajson.NewBigInt(a.Reserved),
		ProtocolFee:       avajson.NewBigInt(a.ProtocolFee),
		ProtocolDebt:      avajson.NewBigInt(a.ProtocolDebt),
		SupplyAPR:         a.SupplyAPR().StringFixed(6),
		BorrowAPR:         a.BorrowAPR().StringFixed(6),
		LastUpdate:        avajson.Uint64(a.LastUpdateTimestamp),
		Config:            a.Config,
	}
}

// Balance is a share balance together with the inner amount it is worth.
type Balance struct {
	Asset  ledger.AssetID `json:"asset"`
	Shares avajson.BigInt `json:"shares"`
	Amount avajson.BigInt `json:"amount"`
}

// balances values shares against pool. Assets missing from assets are
// reported with a zero amount.
func balances(shares map[ledger.AssetID]*big.Int, assets map[ledger.AssetID]*ledger.Asset, pool func(*ledger.Asset) *ledger.Pool) []Balance {
	assetIDs := make([]ledger.AssetID, 0, len(shares))
	for id := range shares {
		assetIDs = append(assetIDs, id)
	}
	sort.Slice(assetIDs, func(i, j int) bool { return assetIDs[i] < assetIDs[j] })

	out := make([]Balance, 0, len(assetIDs))
	for _, id := range assetIDs {
		b := Balance{
			Asset:  id,
			Shares: avajson.NewBigInt(shares[id]),
		}
		if asset, ok := assets[id]; ok {
			b.Amount = avajson.NewBigInt(pool(asset).SharesToAmount(shares[id], false))
		}
		out = append(out, b)
	}
	return out
}

func suppliedPool(a *ledger.Asset) *ledger.Pool { return &a.Supplied }
func borrowedPool(a *ledger.Asset) *ledger.Pool { return &a.Borrowed }

// PositionView is a lending position in API form.
type PositionView struct {
	Name       string    `json:"name"`
	Collateral []Balance `json:"collateral"`
	Borrowed   []Balance `json:"borrowed"`
}

// AccountView is a principal in API form.
type AccountView struct {
	Account   ids.ShortID    `json:"account"`
	Supplied  []Balance      `json:"supplied"`
	Positions []PositionView `json:"positions"`
	IsLocked  bool           `json:"isLocked"`
}

func newAccountView(p *lending.Principal, assets map[ledger.AssetID]*ledger.Asset) AccountView {
	view := AccountView{
		Account:   p.ID,
		Supplied:  balances(p.Supplied, assets, suppliedPool),
		Positions: make([]PositionView, 0, len(p.Positions)),
		IsLocked:  p.IsLocked,
	}
	for _, name := range p.PositionNames() {
		pos, _ := p.Position(name)
		shares := pos.Balances()
		view.Positions = append(view.Positions, PositionView{
			Name:       name,
			Collateral: balances(shares.Collateral, assets, suppliedPool),
			Borrowed:   balances(shares.Borrowed, assets, borrowedPool),
		})
	}
	return view
}

// MarginPositionView is a margin position in API form.
type MarginPositionView struct {
	ID               ids.ID         `json:"id"`
	State            string         `json:"state"`
	CollateralAsset  ledger.AssetID `json:"collateralAsset"`
	CollateralShares avajson.BigInt `json:"collateralShares"`
	DebtAsset        ledger.AssetID `json:"debtAsset"`
	DebtShares       avajson.BigInt `json:"debtShares"`
	PendingDebt      avajson.BigInt `json:"pendingDebt"`
	PositionAsset    ledger.AssetID `json:"positionAsset"`
	PositionAmount   avajson.BigInt `json:"positionAmount"`
	UnpaidFee        avajson.BigInt `json:"unpaidFee"`
	OpenedAt         avajson.Uint64 `json:"openedAt"`
}

// MarginAccountView is a margin account in API form.
type MarginAccountView struct {
	Owner     ids.ShortID          `json:"owner"`
	Supplied  []Balance            `json:"supplied"`
	Positions []MarginPositionView `json:"positions"`
}

func newMarginAccountView(a *margin.Account, assets map[ledger.AssetID]*ledger.Asset) MarginAccountView {
	view := MarginAccountView{
		Owner:     a.Owner,
		Supplied:  balances(a.Supplied, assets, suppliedPool),
		Positions: make([]MarginPositionView, 0, len(a.Positions)),
	}
	for _, pos := range a.SortedPositions() {
		view.Positions = append(view.Positions, MarginPositionView{
			ID:               pos.ID,
			State:            pos.State.String(),
			CollateralAsset:  pos.CollateralAsset,
			CollateralShares: avajson.NewBigInt(pos.CollateralShares),
			DebtAsset:        pos.DebtAsset,
			DebtShares:       avajson.NewBigInt(pos.DebtShares),
			PendingDebt:      avajson.NewBigInt(pos.PendingDebt),
			PositionAsset:    pos.PositionAsset,
			PositionAmount:   avajson.NewBigInt(pos.PositionAmount),
			UnpaidFee:        avajson.NewBigInt(pos.UnpaidFee),
			OpenedAt:         avajson.Uint64(pos.OpenedAt),
		})
	}
	return view
}
