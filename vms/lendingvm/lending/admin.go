// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"fmt"
	"math/big"

	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

func (e *Engine) assertOwner(call Call) error {
	if call.Caller != e.config.OwnerID() {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, call.Caller)
	}
	return nil
}

// AddAsset registers a new asset.
func (e *Engine) AddAsset(store Store, call Call, id ledger.AssetID, cfg ledger.AssetConfig) error {
	if err := e.assertOwner(call); err != nil {
		return err
	}
	if err := cfg.Verify(); err != nil {
		return err
	}
	for _, token := range cfg.UnderlyingTokens {
		if _, err := store.GetAsset(token); err != nil {
			return fmt.Errorf("underlying token %s: %w", token, err)
		}
	}
	if err := store.AddAsset(ledger.NewAsset(id, cfg, call.Now)); err != nil {
		return err
	}
	e.log.Info("asset added",
		log.Stringer("asset", id),
	)
	return nil
}

// UpdateAssetConfig replaces the config of an asset after accruing it under
// the old one.
func (e *Engine) UpdateAssetConfig(store Store, call Call, id ledger.AssetID, cfg ledger.AssetConfig) error {
	if err := e.assertOwner(call); err != nil {
		return err
	}
	if err := cfg.Verify(); err != nil {
		return err
	}
	asset, err := LoadAsset(store, id, call.Now)
	if err != nil {
		return err
	}
	if cfg.ExtraDecimals != asset.Config.ExtraDecimals {
		return fmt.Errorf("%w: extra decimals cannot change", ledger.ErrInvalidConfig)
	}
	asset.Config = cfg
	e.log.Info("asset config updated",
		log.Stringer("asset", id),
	)
	return nil
}

// ClaimReserve sends amount of the asset's reserve to the owner. A nil amount
// claims the whole reserve.
func (e *Engine) ClaimReserve(store Store, call Call, id ledger.AssetID, amount *big.Int) error {
	if err := e.assertOwner(call); err != nil {
		return err
	}
	asset, err := LoadAsset(store, id, call.Now)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = asset.Reserved
	}
	amount = asset.FloorToToken(amount)
	if amount.Sign() <= 0 {
		return ledger.ErrZeroAmount
	}
	if err := asset.AssertAvailable(amount); err != nil {
		return err
	}
	if err := asset.WithdrawFromReserve(amount); err != nil {
		return err
	}
	return e.SendTransfer(store, SourceReserve, call.Caller, asset, amount, call.Now)
}
