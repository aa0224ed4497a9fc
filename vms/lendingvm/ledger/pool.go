// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger holds the per-asset accounting state: share pools, reserve
// and fee balances, the interest rate curve and lazy accrual.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	safemath "github.com/luxfi/lendingvm/utils/math"
)

var (
	ErrZeroShares          = errors.New("zero shares")
	ErrZeroAmount          = errors.New("zero amount")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInsufficientBalance = errors.New("insufficient pool balance")
	ErrPoolInconsistent    = errors.New("pool left with shares but no balance")
)

// Pool converts between shares and token amounts for one accounting bucket.
// Shares from different pools are never comparable.
type Pool struct {
	Shares  *big.Int `json:"shares"`
	Balance *big.Int `json:"balance"`
}

// NewPool returns an empty pool.
func NewPool() Pool {
	return Pool{
		Shares:  new(big.Int),
		Balance: new(big.Int),
	}
}

// IsEmpty reports whether the pool holds no shares.
func (p *Pool) IsEmpty() bool {
	return p.Shares.Sign() == 0
}

// AmountToShares converts amount at the current ratio. An empty pool converts
// one to one.
func (p *Pool) AmountToShares(amount *big.Int, roundUp bool) *big.Int {
	if p.Shares.Sign() == 0 || p.Balance.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	return safemath.MulDiv(amount, p.Shares, p.Balance, roundUp)
}

// SharesToAmount converts shares at the current ratio. An empty pool converts
// one to one.
func (p *Pool) SharesToAmount(shares *big.Int, roundUp bool) *big.Int {
	if p.Shares.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	return safemath.MulDiv(shares, p.Balance, p.Shares, roundUp)
}

// Deposit adds shares and amount in lockstep.
func (p *Pool) Deposit(shares, amount *big.Int) error {
	if shares.Sign() <= 0 {
		return ErrZeroShares
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	p.Shares.Add(p.Shares, shares)
	p.Balance.Add(p.Balance, amount)
	return nil
}

// Withdraw removes shares and amount in lockstep. Removing the last share
// with balance left over is allowed; the owning asset settles that dust.
func (p *Pool) Withdraw(shares, amount *big.Int) error {
	if shares.Sign() <= 0 {
		return ErrZeroShares
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if shares.Cmp(p.Shares) > 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientShares, p.Shares, shares)
	}
	if amount.Cmp(p.Balance) > 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, p.Balance, amount)
	}
	if shares.Cmp(p.Shares) < 0 && amount.Cmp(p.Balance) == 0 {
		return ErrPoolInconsistent
	}
	p.Shares.Sub(p.Shares, shares)
	p.Balance.Sub(p.Balance, amount)
	return nil
}

// Remove takes shares and their amount out without the non-zero guards of
// Withdraw. Forced settlements use it for positions whose shares round to
// nothing.
func (p *Pool) Remove(shares, amount *big.Int) error {
	if shares.Cmp(p.Shares) > 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientShares, p.Shares, shares)
	}
	if amount.Cmp(p.Balance) > 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, p.Balance, amount)
	}
	p.Shares.Sub(p.Shares, shares)
	p.Balance.Sub(p.Balance, amount)
	return nil
}

// takeDust clears a balance that no share can claim and returns it.
func (p *Pool) takeDust() *big.Int {
	if p.Shares.Sign() != 0 || p.Balance.Sign() == 0 {
		return new(big.Int)
	}
	dust := new(big.Int).Set(p.Balance)
	p.Balance.SetInt64(0)
	return dust
}

func (p *Pool) clone() Pool {
	return Pool{
		Shares:  safemath.Copy(p.Shares),
		Balance: safemath.Copy(p.Balance),
	}
}
