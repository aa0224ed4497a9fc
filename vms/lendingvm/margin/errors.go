// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package margin

import (
	"errors"

	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
)

var (
	ErrPositionNotFound   = errors.New("margin position not found")
	ErrTooManyPositions   = errors.New("too many margin positions")
	ErrSameAsset          = errors.New("position asset must differ from debt asset")
	ErrSwapIntentNotFound = errors.New("swap intent not found")
	ErrSlippage           = errors.New("swap returned less than minimum")
	ErrTooEarly           = errors.New("margin position is younger than the minimum duration")
	ErrNothingToRemove    = errors.New("nothing to remove")
	ErrNoStopOrder        = errors.New("stop order not found")
	ErrInvalidStop        = errors.New("invalid stop threshold")
	ErrWrongStore         = errors.New("store does not hold margin state")

	ErrLeverageTooHigh  = errors.New("debt exceeds maximum leverage")
	ErrUnhealthyOpen    = errors.New("position would open below the safety buffer")
	ErrPositionHealthy  = errors.New("margin position is healthy")
	ErrNotUnderwater    = errors.New("margin position can still cover its debt")
	ErrStopNotTriggered = errors.New("stop order conditions not met")

	ErrPositionBusy = errors.New("margin position has a swap in flight")
)

func init() {
	lending.RegisterErrorKind(lending.RiskViolation,
		ErrLeverageTooHigh,
		ErrUnhealthyOpen,
		ErrPositionHealthy,
		ErrNotUnderwater,
		ErrStopNotTriggered,
	)
	lending.RegisterErrorKind(lending.ConcurrencyError, ErrPositionBusy)
}
