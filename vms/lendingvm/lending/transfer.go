// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"fmt"
	"math/big"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

const transferTag = "lending/transfer"

// SendTransfer records an outgoing transfer of an already debited inner
// amount and hands it to the transferer. Only whole token units leave.
func (e *Engine) SendTransfer(
	store Store,
	source TransferSource,
	receiver ids.ShortID,
	asset *ledger.Asset,
	amount *big.Int,
	now uint64,
) error {
	id, err := NewIntentID(store, transferTag)
	if err != nil {
		return err
	}
	intent := &TransferIntent{
		ID:          id,
		Source:      source,
		Receiver:    receiver,
		Asset:       asset.ID,
		Amount:      new(big.Int).Set(amount),
		TokenAmount: asset.ToToken(amount),
		CreatedAt:   now,
	}
	if err := store.PutTransferIntent(intent); err != nil {
		return err
	}
	if err := e.transferer.Transfer(id, asset.ID, receiver, intent.TokenAmount); err != nil {
		return fmt.Errorf("failed to start transfer %s: %w", id, err)
	}
	e.log.Debug("transfer started",
		log.Stringer("intentID", id),
		log.String("source", string(source)),
		log.Stringer("receiver", receiver),
		log.Stringer("asset", asset.ID),
		log.Stringer("amount", intent.TokenAmount),
	)
	return nil
}

// OnTransferResolved settles a transfer intent. A confirmed transfer is
// forgotten; a failed one is credited back to the balance it came from.
func (e *Engine) OnTransferResolved(store Store, now uint64, id ids.ID, ok bool) error {
	intent, err := store.GetTransferIntent(id)
	if err != nil {
		return err
	}
	if err := store.DeleteTransferIntent(id); err != nil {
		return err
	}
	if ok {
		return nil
	}

	switch intent.Source {
	case SourceSupply:
		asset, err := LoadAsset(store, intent.Asset, now)
		if err != nil {
			return err
		}
		principal, err := store.GetPrincipal(intent.Receiver)
		if err != nil {
			return err
		}
		if err := e.supply(principal, asset, intent.Amount); err != nil {
			return err
		}
	case SourceReserve:
		asset, err := LoadAsset(store, intent.Asset, now)
		if err != nil {
			return err
		}
		asset.DepositToReserve(intent.Amount)
	case SourceMargin:
		if e.margin == nil {
			return ErrNoMarginEngine
		}
		if err := e.margin.Recredit(store, now, intent); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transfer source %q", intent.Source)
	}

	e.metrics.MarkCompensation("transfer")
	e.log.Warn("transfer failed, balance restored",
		log.Stringer("intentID", id),
		log.String("source", string(intent.Source)),
		log.Stringer("receiver", intent.Receiver),
		log.Stringer("asset", intent.Asset),
		log.Stringer("amount", intent.Amount),
	)
	return nil
}
