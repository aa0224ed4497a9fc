// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
)

// Store is the working copy of one call. Records returned by Get are owned by
// the store and written back when the call commits; a failed call discards
// every change.
type Store interface {
	GetAsset(id ledger.AssetID) (*ledger.Asset, error)
	AddAsset(asset *ledger.Asset) error
	AssetIDs() ([]ledger.AssetID, error)

	// GetPrincipal returns the principal, creating an empty one if needed.
	GetPrincipal(id ids.ShortID) (*Principal, error)

	GetTransferIntent(id ids.ID) (*TransferIntent, error)
	PutTransferIntent(intent *TransferIntent) error
	DeleteTransferIntent(id ids.ID) error

	GetUnwindIntent(id ids.ID) (*UnwindIntent, error)
	PutUnwindIntent(intent *UnwindIntent) error
	DeleteUnwindIntent(id ids.ID) error

	// NextNonce returns a counter that never repeats across calls.
	NextNonce() (uint64, error)
}

// Transferer sends tokens out of the protocol. The result arrives later
// through the transfer resolution callback.
type Transferer interface {
	Transfer(intentID ids.ID, token ledger.AssetID, receiver ids.ShortID, amount *big.Int) error
}

// Unwinder redeems a liquidity token for its constituent tokens. The result
// arrives later through the unwind resolution callback.
type Unwinder interface {
	Unwind(intentID ids.ID, token ledger.AssetID, amount *big.Int, minAmounts []TokenAmount) error
}

// MarginEngine is the part of the margin engine the lending core calls into.
type MarginEngine interface {
	// DirectLiquidate settles a margin position into the liquidator's
	// ordinary supply and regular position.
	DirectLiquidate(store Store, now uint64, book *oracle.Book, liquidator, owner ids.ShortID, positionID ids.ID) error
	// Recredit returns a failed margin withdrawal to its account.
	Recredit(store Store, now uint64, intent *TransferIntent) error
}

// Call describes the caller of an entry point.
type Call struct {
	Caller ids.ShortID
	// Must be exactly one on batch entry points.
	AttachedStake uint64
	// Unix nanoseconds.
	Now uint64
}

// TokenAmount is an amount of a specific token.
type TokenAmount struct {
	Asset  ledger.AssetID `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

// TransferSource names the balance a withdrawal was debited from.
type TransferSource string

const (
	SourceSupply  TransferSource = "supply"
	SourceMargin  TransferSource = "margin"
	SourceReserve TransferSource = "reserve"
)

// TransferIntent records a withdrawal awaiting confirmation. The inner
// amount was already debited and is re-credited if the transfer fails.
type TransferIntent struct {
	ID          ids.ID         `json:"id"`
	Source      TransferSource `json:"source"`
	Receiver    ids.ShortID    `json:"receiver"`
	Asset       ledger.AssetID `json:"asset"`
	Amount      *big.Int       `json:"amount"`
	TokenAmount *big.Int       `json:"tokenAmount"`
	CreatedAt   uint64         `json:"createdAt"`
}

// UnwindIntent records seized liquidity-token collateral being redeemed for
// the liquidator while both principals stay locked.
type UnwindIntent struct {
	ID              ids.ID         `json:"id"`
	Liquidator      ids.ShortID    `json:"liquidator"`
	Target          ids.ShortID    `json:"target"`
	Asset           ledger.AssetID `json:"asset"`
	Amount          *big.Int       `json:"amount"`
	MinTokenAmounts []TokenAmount  `json:"minTokenAmounts"`
	CreatedAt       uint64         `json:"createdAt"`
}

// IntentID derives a unique intent identifier from a domain tag and a store
// nonce.
func IntentID(tag string, nonce uint64) ids.ID {
	b := make([]byte, len(tag)+8)
	copy(b, tag)
	binary.BigEndian.PutUint64(b[len(tag):], nonce)
	return ids.ID(sha256.Sum256(b))
}

// NewIntentID draws a nonce from store and derives an intent identifier.
func NewIntentID(store Store, tag string) (ids.ID, error) {
	nonce, err := store.NextNonce()
	if err != nil {
		return ids.Empty, err
	}
	return IntentID(tag, nonce), nil
}
