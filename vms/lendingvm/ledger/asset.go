// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"fmt"
	"math/big"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

// CurrentVersion is the schema version written by this code. Version 1
// records predate margin trading and protocol debt.
const CurrentVersion uint8 = 2

var (
	ErrDepositDisabled       = errors.New("deposits are disabled for asset")
	ErrWithdrawDisabled      = errors.New("withdrawals are disabled for asset")
	ErrBorrowDisabled        = errors.New("borrowing is disabled for asset")
	ErrCollateralDisabled    = errors.New("asset cannot be used as collateral")
	ErrSupplyCapExceeded     = errors.New("supplied limit exceeded")
	ErrBorrowCapExceeded     = errors.New("borrowed limit exceeded")
	ErrBelowMinBorrow        = errors.New("borrow below minimum amount")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientReserve   = errors.New("insufficient reserve")
)

// Asset is the aggregate ledger state of one token.
type Asset struct {
	ID AssetID `json:"id"`

	Supplied   Pool `json:"supplied"`
	Borrowed   Pool `json:"borrowed"`
	MarginDebt Pool `json:"marginDebt"`

	// Debt reserved for margin opens whose swap has not settled.
	MarginPendingDebt *big.Int `json:"marginPendingDebt"`
	// Tokens held on behalf of open margin positions.
	MarginPosition *big.Int `json:"marginPosition"`

	Reserved    *big.Int `json:"reserved"`
	ProtocolFee *big.Int `json:"protocolFee"`
	// Shortfall left by a force-close that reserves could not cover.
	ProtocolDebt *big.Int `json:"protocolDebt"`

	// Compounded holding fee multiplier for margin debt, scaled by 1e27.
	HoldingFeeIndex *big.Int `json:"holdingFeeIndex"`

	LastUpdateTimestamp uint64      `json:"lastUpdateTimestamp"`
	Config              AssetConfig `json:"config"`
	Version             uint8       `json:"version"`
}

// NewAsset creates an empty asset whose accrual clock starts at now.
func NewAsset(id AssetID, config AssetConfig, now uint64) *Asset {
	return &Asset{
		ID:                  id,
		Supplied:            NewPool(),
		Borrowed:            NewPool(),
		MarginDebt:          NewPool(),
		MarginPendingDebt:   new(big.Int),
		MarginPosition:      new(big.Int),
		Reserved:            new(big.Int),
		ProtocolFee:         new(big.Int),
		ProtocolDebt:        new(big.Int),
		HoldingFeeIndex:     new(big.Int).Set(UnitRate),
		LastUpdateTimestamp: now,
		Config:              config,
		Version:             CurrentVersion,
	}
}

// Migrate upgrades a record written by an older schema in place and reports
// whether anything changed.
func (a *Asset) Migrate() bool {
	if a.Version >= CurrentVersion {
		return false
	}
	fill := func(v **big.Int) {
		if *v == nil {
			*v = new(big.Int)
		}
	}
	fillPool := func(p *Pool) {
		fill(&p.Shares)
		fill(&p.Balance)
	}
	fillPool(&a.Supplied)
	fillPool(&a.Borrowed)
	fillPool(&a.MarginDebt)
	fill(&a.MarginPendingDebt)
	fill(&a.MarginPosition)
	fill(&a.Reserved)
	fill(&a.ProtocolFee)
	fill(&a.ProtocolDebt)
	if a.HoldingFeeIndex == nil || a.HoldingFeeIndex.Sign() == 0 {
		a.HoldingFeeIndex = new(big.Int).Set(UnitRate)
	}
	a.Version = CurrentVersion
	return true
}

// Clone returns a deep copy.
func (a *Asset) Clone() *Asset {
	c := *a
	c.Supplied = a.Supplied.clone()
	c.Borrowed = a.Borrowed.clone()
	c.MarginDebt = a.MarginDebt.clone()
	c.MarginPendingDebt = safemath.Copy(a.MarginPendingDebt)
	c.MarginPosition = safemath.Copy(a.MarginPosition)
	c.Reserved = safemath.Copy(a.Reserved)
	c.ProtocolFee = safemath.Copy(a.ProtocolFee)
	c.ProtocolDebt = safemath.Copy(a.ProtocolDebt)
	c.HoldingFeeIndex = safemath.Copy(a.HoldingFeeIndex)
	c.Config.UnderlyingTokens = append([]AssetID(nil), a.Config.UnderlyingTokens...)
	return &c
}

// AvailableAmount is the liquidity that can leave the protocol:
// supplied + reserved - borrowed - margin debt - pending margin debt -
// protocol debt, floored at zero. The protocol fee is never lent out.
func (a *Asset) AvailableAmount() *big.Int {
	have := new(big.Int).Add(a.Supplied.Balance, a.Reserved)
	owed := new(big.Int).Add(a.Borrowed.Balance, a.MarginDebt.Balance)
	owed.Add(owed, a.MarginPendingDebt)
	owed.Add(owed, a.ProtocolDebt)
	return safemath.SubFloor(have, owed)
}

// AssertAvailable fails if amount exceeds available liquidity.
func (a *Asset) AssertAvailable(amount *big.Int) error {
	if available := a.AvailableAmount(); amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: %s available, %s requested", ErrInsufficientLiquidity, available, amount)
	}
	return nil
}

// AssertSupplyCap checks the post-touch supplied balance against its cap.
func (a *Asset) AssertSupplyCap(bypass bool) error {
	if bypass || a.Config.SuppliedLimit == nil {
		return nil
	}
	if a.Supplied.Balance.Cmp(a.Config.SuppliedLimit) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrSupplyCapExceeded, a.Supplied.Balance, a.Config.SuppliedLimit)
	}
	return nil
}

// AssertBorrowCap checks the post-touch borrowed balance against its cap.
func (a *Asset) AssertBorrowCap(bypass bool) error {
	if bypass || a.Config.BorrowedLimit == nil {
		return nil
	}
	if a.Borrowed.Balance.Cmp(a.Config.BorrowedLimit) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrBorrowCapExceeded, a.Borrowed.Balance, a.Config.BorrowedLimit)
	}
	return nil
}

// AssertMinBorrow rejects borrows smaller than the configured minimum.
func (a *Asset) AssertMinBorrow(amount *big.Int) error {
	if floor := a.Config.MinBorrowedAmount; floor != nil && amount.Cmp(floor) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinBorrow, amount, floor)
	}
	return nil
}

// DepositToReserve adds amount to the reserve after paying down any
// outstanding protocol debt.
func (a *Asset) DepositToReserve(amount *big.Int) {
	repaid := safemath.Min(amount, a.ProtocolDebt)
	a.ProtocolDebt.Sub(a.ProtocolDebt, repaid)
	a.Reserved.Add(a.Reserved, new(big.Int).Sub(amount, repaid))
}

// WithdrawFromReserve removes amount from the reserve.
func (a *Asset) WithdrawFromReserve(amount *big.Int) error {
	if amount.Cmp(a.Reserved) > 0 {
		return fmt.Errorf("%w: %s reserved, %s needed", ErrInsufficientReserve, a.Reserved, amount)
	}
	a.Reserved.Sub(a.Reserved, amount)
	return nil
}

// CoverShortfall pays amount out of the reserve and records whatever the
// reserve cannot cover as protocol debt. It returns the recorded debt.
func (a *Asset) CoverShortfall(amount *big.Int) *big.Int {
	fromReserve := safemath.Min(amount, a.Reserved)
	a.Reserved.Sub(a.Reserved, fromReserve)
	uncovered := new(big.Int).Sub(amount, fromReserve)
	a.ProtocolDebt.Add(a.ProtocolDebt, uncovered)
	return uncovered
}

// SettleDust moves balances no share can claim. Supplied dust goes to the
// reserve; unowned debt is absorbed by the reserve.
func (a *Asset) SettleDust() {
	if dust := a.Supplied.takeDust(); dust.Sign() > 0 {
		a.Reserved.Add(a.Reserved, dust)
	}
	if dust := a.Borrowed.takeDust(); dust.Sign() > 0 {
		a.CoverShortfall(dust)
	}
	if dust := a.MarginDebt.takeDust(); dust.Sign() > 0 {
		a.CoverShortfall(dust)
	}
}

// ToInner scales a token amount to the inner precision.
func (a *Asset) ToInner(tokenAmount *big.Int) *big.Int {
	return new(big.Int).Mul(tokenAmount, safemath.Pow10(a.Config.ExtraDecimals))
}

// ToToken scales an inner amount down to token precision, rounding down.
func (a *Asset) ToToken(inner *big.Int) *big.Int {
	return new(big.Int).Quo(inner, safemath.Pow10(a.Config.ExtraDecimals))
}

// FloorToToken rounds an inner amount down to a whole token unit.
func (a *Asset) FloorToToken(inner *big.Int) *big.Int {
	return a.ToInner(a.ToToken(inner))
}
