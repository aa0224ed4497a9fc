// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swap is the boundary to the external exchange used by margin
// positions and liquidity-token unwinds.
package swap

import (
	"encoding/json"
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

// Indication tells the venue how to route a swap. The engine treats it as
// opaque.
type Indication struct {
	DexID       string          `json:"dexId"`
	Instruction json.RawMessage `json:"instruction,omitempty"`
}

// Swapper starts a swap whose result is delivered later through the swap
// resolution callback with the same intent id. Amounts are token units.
type Swapper interface {
	Swap(
		intentID ids.ID,
		tokenIn ledger.AssetID,
		amountIn *big.Int,
		tokenOut ledger.AssetID,
		minAmountOut *big.Int,
		indication Indication,
	) error
}
