// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package margin

import (
	"encoding/json"
	"math/big"
	"sort"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
)

// State is the lifecycle stage of a margin position.
type State uint8

const (
	Opening State = iota
	Open
	Decreasing
	Closing
	Liquidating
	ForceClosing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Decreasing:
		return "decreasing"
	case Closing:
		return "closing"
	case Liquidating:
		return "liquidating"
	case ForceClosing:
		return "force_closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position is a leveraged exposure: debt borrowed from the margin debt pool
// of one asset and swapped into another.
type Position struct {
	ID    ids.ID      `json:"id"`
	Owner ids.ShortID `json:"owner"`

	CollateralAsset ledger.AssetID `json:"collateralAsset"`
	// Supplied pool shares escrowed from the owner's margin account.
	CollateralShares *big.Int `json:"collateralShares"`

	DebtAsset ledger.AssetID `json:"debtAsset"`
	// Margin debt pool shares. Zero until the open swap settles.
	DebtShares *big.Int `json:"debtShares"`
	// Debt reserved while the open swap is in flight.
	PendingDebt *big.Int `json:"pendingDebt"`

	PositionAsset  ledger.AssetID `json:"positionAsset"`
	PositionAmount *big.Int       `json:"positionAmount"`

	// Open fee plus holding fees accrued so far, in the debt asset.
	UnpaidFee *big.Int `json:"unpaidFee"`
	// Holding fee index of the debt asset when fees were last accrued.
	HoldingFeeIndex *big.Int `json:"holdingFeeIndex"`

	OpenedAt    uint64 `json:"openedAt"`
	State       State  `json:"state"`
	PendingSwap ids.ID `json:"pendingSwap"`
}

// Account is the margin trading balance of one owner, separate from its
// lending principal.
type Account struct {
	Owner ids.ShortID `json:"owner"`
	// Supplied pool shares available for collateral and fees.
	Supplied  map[ledger.AssetID]*big.Int `json:"supplied"`
	Positions map[ids.ID]*Position        `json:"-"`
}

// NewAccount returns an empty account.
func NewAccount(owner ids.ShortID) *Account {
	return &Account{
		Owner:     owner,
		Supplied:  make(map[ledger.AssetID]*big.Int),
		Positions: make(map[ids.ID]*Position),
	}
}

type accountJSON struct {
	Owner     ids.ShortID                 `json:"owner"`
	Supplied  map[ledger.AssetID]*big.Int `json:"supplied"`
	Positions []*Position                 `json:"positions"`
}

func (a *Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(accountJSON{
		Owner:     a.Owner,
		Supplied:  a.Supplied,
		Positions: a.SortedPositions(),
	})
}

func (a *Account) UnmarshalJSON(b []byte) error {
	var raw accountJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = *NewAccount(raw.Owner)
	for asset, shares := range raw.Supplied {
		a.Supplied[asset] = shares
	}
	for _, pos := range raw.Positions {
		a.Positions[pos.ID] = pos
	}
	return nil
}

// SortedPositions returns the positions ordered by open time, then id.
func (a *Account) SortedPositions() []*Position {
	positions := make([]*Position, 0, len(a.Positions))
	for _, pos := range a.Positions {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].OpenedAt != positions[j].OpenedAt {
			return positions[i].OpenedAt < positions[j].OpenedAt
		}
		return positions[i].ID.Compare(positions[j].ID) < 0
	})
	return positions
}

// SuppliedShares returns the account's shares of asset.
func (a *Account) SuppliedShares(asset ledger.AssetID) *big.Int {
	if v, ok := a.Supplied[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (a *Account) credit(asset ledger.AssetID, shares *big.Int) {
	if shares.Sign() == 0 {
		return
	}
	if v, ok := a.Supplied[asset]; ok {
		v.Add(v, shares)
		return
	}
	a.Supplied[asset] = new(big.Int).Set(shares)
}

func (a *Account) debit(asset ledger.AssetID, shares *big.Int) error {
	v := a.SuppliedShares(asset)
	if v.Cmp(shares) < 0 {
		return ledger.ErrInsufficientShares
	}
	v.Sub(v, shares)
	if v.Sign() == 0 {
		delete(a.Supplied, asset)
	} else {
		a.Supplied[asset] = v
	}
	return nil
}

// StopOrder closes a position once its price ratio moves far enough from
// the ratio at which the order was set.
type StopOrder struct {
	PositionID ids.ID      `json:"positionId"`
	Owner      ids.ShortID `json:"owner"`
	// Thresholds relative to EntryPrice. A nil threshold is disabled.
	StopProfitBps *uint32 `json:"stopProfitBps,omitempty"`
	StopLossBps   *uint32 `json:"stopLossBps,omitempty"`
	// Service fee escrowed as supplied pool shares and paid to the keeper
	// that triggers the order.
	FeeAsset    ledger.AssetID `json:"feeAsset"`
	EscrowedFee *big.Int       `json:"escrowedFee"`
	// Position asset price over debt asset price, scaled by 1e18.
	EntryPrice *big.Int `json:"entryPrice"`
	CreatedAt  uint64   `json:"createdAt"`
}

// Less orders stop orders for keeper scans.
func (o *StopOrder) Less(than *StopOrder) bool {
	if o.CreatedAt != than.CreatedAt {
		return o.CreatedAt < than.CreatedAt
	}
	return o.PositionID.Compare(than.PositionID) < 0
}

// SwapKind names the lifecycle step a swap belongs to.
type SwapKind uint8

const (
	SwapOpen SwapKind = iota
	SwapDecrease
	SwapClose
	SwapLiquidate
	SwapForceClose
)

func (k SwapKind) String() string {
	switch k {
	case SwapOpen:
		return "open"
	case SwapDecrease:
		return "decrease"
	case SwapClose:
		return "close"
	case SwapLiquidate:
		return "liquidate"
	case SwapForceClose:
		return "force_close"
	default:
		return "unknown"
	}
}

func (k SwapKind) state() State {
	switch k {
	case SwapOpen:
		return Opening
	case SwapDecrease:
		return Decreasing
	case SwapClose:
		return Closing
	case SwapLiquidate:
		return Liquidating
	default:
		return ForceClosing
	}
}

// SwapIntent records a swap in flight. Amounts are inner amounts.
type SwapIntent struct {
	ID         ids.ID      `json:"id"`
	Kind       SwapKind    `json:"kind"`
	Owner      ids.ShortID `json:"owner"`
	PositionID ids.ID      `json:"positionId"`
	// Caller that started the swap; receives the liquidation benefit.
	Keeper       ids.ShortID    `json:"keeper"`
	TokenIn      ledger.AssetID `json:"tokenIn"`
	AmountIn     *big.Int       `json:"amountIn"`
	TokenOut     ledger.AssetID `json:"tokenOut"`
	MinAmountOut *big.Int       `json:"minAmountOut"`
	CreatedAt    uint64         `json:"createdAt"`
}

// Store is the working copy of one call, extended with margin records.
type Store interface {
	lending.Store

	// GetMarginAccount returns the account, creating an empty one if needed.
	GetMarginAccount(owner ids.ShortID) (*Account, error)

	GetSwapIntent(id ids.ID) (*SwapIntent, error)
	PutSwapIntent(intent *SwapIntent) error
	DeleteSwapIntent(id ids.ID) error

	// GetStopOrder returns ErrNoStopOrder if the position has none.
	GetStopOrder(positionID ids.ID) (*StopOrder, error)
	PutStopOrder(order *StopOrder) error
	DeleteStopOrder(positionID ids.ID) error
	StopOrders() ([]*StopOrder, error)
}
