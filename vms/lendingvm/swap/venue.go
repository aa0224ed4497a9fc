// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrPoolExists            = errors.New("pool already exists")
	ErrSameToken             = errors.New("cannot create pool with same token")

	_ Swapper          = (*Venue)(nil)
	_ lending.Unwinder = (*Venue)(nil)
)

// Pool is a constant product pool. Its liquidity token may be registered as
// a lending asset and unwound by the venue.
type Pool struct {
	LiquidityToken ledger.AssetID `json:"liquidityToken"`
	Token0         ledger.AssetID `json:"token0"`
	Token1         ledger.AssetID `json:"token1"`
	Reserve0       *big.Int       `json:"reserve0"`
	Reserve1       *big.Int       `json:"reserve1"`
	FeeBps         uint16         `json:"feeBps"`
	TotalSupply    *big.Int       `json:"totalSupply"`
}

// Result is the outcome of a swap or unwind, queued until the host delivers
// it back to the engine.
type Result struct {
	IntentID ids.ID
	// Unwind results carry Amounts; swap results carry AmountOut.
	Unwind    bool
	OK        bool
	AmountOut *big.Int
	Amounts   []lending.TokenAmount
	Err       error
}

// Venue is an in-process exchange. Swaps execute immediately against its
// pools, but their results are only observable through Drain, the same way
// an external exchange reports back asynchronously.
type Venue struct {
	mu      sync.Mutex
	pools   map[string]*Pool
	byToken map[ledger.AssetID]*Pool
	results []Result
}

// NewVenue returns an empty venue.
func NewVenue() *Venue {
	return &Venue{
		pools:   make(map[string]*Pool),
		byToken: make(map[ledger.AssetID]*Pool),
	}
}

func pairKey(a, b ledger.AssetID) string {
	if a > b {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

// CreatePool seeds a pool for the pair. lpToken names its liquidity token.
func (v *Venue) CreatePool(lpToken, token0, token1 ledger.AssetID, amount0, amount1 *big.Int, feeBps uint16) (*Pool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if token0 == token1 {
		return nil, ErrSameToken
	}
	if token0 > token1 {
		token0, token1 = token1, token0
		amount0, amount1 = amount1, amount0
	}
	key := pairKey(token0, token1)
	if _, exists := v.pools[key]; exists {
		return nil, ErrPoolExists
	}
	if amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	pool := &Pool{
		LiquidityToken: lpToken,
		Token0:         token0,
		Token1:         token1,
		Reserve0:       new(big.Int).Set(amount0),
		Reserve1:       new(big.Int).Set(amount1),
		FeeBps:         feeBps,
		TotalSupply:    new(big.Int).Sqrt(new(big.Int).Mul(amount0, amount1)),
	}
	v.pools[key] = pool
	v.byToken[lpToken] = pool
	return pool, nil
}

// Quote returns the output of swapping amountIn without executing it.
func (v *Venue) Quote(tokenIn, tokenOut ledger.AssetID, amountIn *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pool, ok := v.pools[pairKey(tokenIn, tokenOut)]
	if !ok {
		return nil, ErrPoolNotFound
	}
	out, _, _, err := pool.quote(tokenIn, amountIn)
	return out, err
}

// Swap executes against the pair's pool and queues the result. A swap that
// cannot execute is queued as failed.
func (v *Venue) Swap(
	intentID ids.ID,
	tokenIn ledger.AssetID,
	amountIn *big.Int,
	tokenOut ledger.AssetID,
	minAmountOut *big.Int,
	_ Indication,
) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	out, err := v.swap(tokenIn, amountIn, tokenOut, minAmountOut)
	v.results = append(v.results, Result{
		IntentID:  intentID,
		OK:        err == nil,
		AmountOut: out,
		Err:       err,
	})
	return nil
}

func (v *Venue) swap(tokenIn ledger.AssetID, amountIn *big.Int, tokenOut ledger.AssetID, minAmountOut *big.Int) (*big.Int, error) {
	pool, ok := v.pools[pairKey(tokenIn, tokenOut)]
	if !ok {
		return nil, ErrPoolNotFound
	}
	out, newIn, newOut, err := pool.quote(tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if out.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, out, minAmountOut)
	}
	if tokenIn == pool.Token0 {
		pool.Reserve0, pool.Reserve1 = newIn, newOut
	} else {
		pool.Reserve1, pool.Reserve0 = newIn, newOut
	}
	return out, nil
}

// quote implements x * y = k with the fee taken from the input.
func (p *Pool) quote(tokenIn ledger.AssetID, amountIn *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, nil, nil, ErrInvalidAmount
	}
	var reserveIn, reserveOut *big.Int
	switch tokenIn {
	case p.Token0:
		reserveIn, reserveOut = p.Reserve0, p.Reserve1
	case p.Token1:
		reserveIn, reserveOut = p.Reserve1, p.Reserve0
	default:
		return nil, nil, nil, ErrPoolNotFound
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10_000-p.FeeBps)))
	// amountOut = (reserveOut * amountInWithFee) / (reserveIn * 10000 + amountInWithFee)
	numerator := new(big.Int).Mul(reserveOut, amountInWithFee)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10_000))
	denominator.Add(denominator, amountInWithFee)
	amountOut := new(big.Int).Quo(numerator, denominator)
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}
	return amountOut, new(big.Int).Add(reserveIn, amountIn), new(big.Int).Sub(reserveOut, amountOut), nil
}

// Unwind redeems liquidity tokens for a pro-rata share of both reserves and
// queues the result.
func (v *Venue) Unwind(intentID ids.ID, token ledger.AssetID, amount *big.Int, minAmounts []lending.TokenAmount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	amounts, err := v.unwind(token, amount, minAmounts)
	v.results = append(v.results, Result{
		IntentID: intentID,
		Unwind:   true,
		OK:       err == nil,
		Amounts:  amounts,
		Err:      err,
	})
	return nil
}

func (v *Venue) unwind(token ledger.AssetID, amount *big.Int, minAmounts []lending.TokenAmount) ([]lending.TokenAmount, error) {
	pool, ok := v.byToken[token]
	if !ok {
		return nil, ErrPoolNotFound
	}
	if amount.Sign() <= 0 || amount.Cmp(pool.TotalSupply) > 0 {
		return nil, ErrInvalidAmount
	}
	out0 := new(big.Int).Mul(pool.Reserve0, amount)
	out0.Quo(out0, pool.TotalSupply)
	out1 := new(big.Int).Mul(pool.Reserve1, amount)
	out1.Quo(out1, pool.TotalSupply)

	amounts := []lending.TokenAmount{
		{Asset: pool.Token0, Amount: out0},
		{Asset: pool.Token1, Amount: out1},
	}
	for _, m := range minAmounts {
		for _, a := range amounts {
			if a.Asset == m.Asset && a.Amount.Cmp(m.Amount) < 0 {
				return nil, fmt.Errorf("%w: %s %s < %s", ErrSlippageExceeded, a.Asset, a.Amount, m.Amount)
			}
		}
	}
	pool.Reserve0.Sub(pool.Reserve0, out0)
	pool.Reserve1.Sub(pool.Reserve1, out1)
	pool.TotalSupply.Sub(pool.TotalSupply, amount)
	return amounts, nil
}

// Drain returns and clears the queued results in the order they were
// produced.
func (v *Venue) Drain() []Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	results := v.results
	v.results = nil
	return results
}
