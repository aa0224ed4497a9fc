// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lendingvm

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap"
	"github.com/luxfi/lendingvm/vms/lendingvm/txs"
)

var (
	_ lending.Transferer = (*outbox)(nil)
	_ lending.Unwinder   = (*outbox)(nil)
	_ swap.Swapper       = (*outbox)(nil)
)

type swapRequest struct {
	intentID     ids.ID
	tokenIn      ledger.AssetID
	amountIn     *big.Int
	tokenOut     ledger.AssetID
	minAmountOut *big.Int
	indication   swap.Indication
}

type unwindRequest struct {
	intentID   ids.ID
	token      ledger.AssetID
	amount     *big.Int
	minAmounts []lending.TokenAmount
}

// outbox holds the external requests made during one call. They are only
// dispatched once the call commits.
type outbox struct {
	transfers []txs.Transfer
	swaps     []swapRequest
	unwinds   []unwindRequest
}

func (o *outbox) Transfer(intentID ids.ID, token ledger.AssetID, receiver ids.ShortID, amount *big.Int) error {
	o.transfers = append(o.transfers, txs.Transfer{
		IntentID: intentID,
		Token:    token,
		Receiver: receiver,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

func (o *outbox) Swap(
	intentID ids.ID,
	tokenIn ledger.AssetID,
	amountIn *big.Int,
	tokenOut ledger.AssetID,
	minAmountOut *big.Int,
	indication swap.Indication,
) error {
	o.swaps = append(o.swaps, swapRequest{
		intentID:     intentID,
		tokenIn:      tokenIn,
		amountIn:     clone(amountIn),
		tokenOut:     tokenOut,
		minAmountOut: clone(minAmountOut),
		indication:   indication,
	})
	return nil
}

func (o *outbox) Unwind(intentID ids.ID, token ledger.AssetID, amount *big.Int, minAmounts []lending.TokenAmount) error {
	o.unwinds = append(o.unwinds, unwindRequest{
		intentID:   intentID,
		token:      token,
		amount:     new(big.Int).Set(amount),
		minAmounts: minAmounts,
	})
	return nil
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (o *outbox) reset() {
	o.transfers = nil
	o.swaps = nil
	o.unwinds = nil
}
