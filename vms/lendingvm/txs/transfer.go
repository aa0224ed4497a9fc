// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

// Transfer is a token transfer out of the ledger awaiting confirmation from
// the token host. Amount is in token units.
type Transfer struct {
	IntentID ids.ID         `json:"intentId"`
	Token    ledger.AssetID `json:"token"`
	Receiver ids.ShortID    `json:"receiver"`
	Amount   *big.Int       `json:"amount"`
}
