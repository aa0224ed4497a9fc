// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"errors"
	"sync"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
)

var (
	ErrAssetNotFound         = errors.New("asset not found")
	ErrAssetExists           = errors.New("asset already exists")
	ErrInvalidAttachedStake  = errors.New("exactly one unit of confirmation stake must be attached")
	ErrUnauthorized          = errors.New("caller is not authorized")
	ErrPositionNotFound      = errors.New("position not found")
	ErrIsolatedMismatch      = errors.New("isolated position only holds its own asset as collateral")
	ErrLiquidityTokenRegular = errors.New("liquidity tokens are only accepted as isolated collateral")
	ErrMaxAssetsExceeded     = errors.New("too many assets held by principal")
	ErrAmountRequired        = errors.New("amount or max amount required")
	ErrNoDebt                = errors.New("position has no debt in asset")
	ErrSelfLiquidation       = errors.New("cannot liquidate own position")
	ErrMinTokenAmounts       = errors.New("min token amounts must match underlying tokens")
	ErrIntentNotFound        = errors.New("intent not found")
	ErrUnwindShortfall       = errors.New("unwind returned less than minimum")
	ErrDuplicateAsset        = errors.New("asset listed twice")
	ErrNoMarginEngine        = errors.New("margin engine not configured")

	ErrPositionAtRisk         = errors.New("position would be at risk")
	ErrNotAtRisk              = errors.New("position is not at risk")
	ErrLiquidationTooGreedy   = errors.New("seized value exceeds discounted repayment")
	ErrLiquidationTooFar      = errors.New("liquidation leaves position not at risk")
	ErrLiquidationIneffective = errors.New("liquidation does not reduce risk")
	ErrNotBadDebt             = errors.New("position debt does not exceed collateral")

	ErrPrincipalLocked = errors.New("principal is locked by a pending settlement")
)

// ErrorKind classifies failures so callers can tell "retry later" apart from
// "will never succeed".
type ErrorKind uint8

const (
	ValidationError ErrorKind = iota
	RiskViolation
	StalenessError
	ReserveShortfall
	ConcurrencyError
)

func (k ErrorKind) String() string {
	switch k {
	case ValidationError:
		return "ValidationError"
	case RiskViolation:
		return "RiskViolation"
	case StalenessError:
		return "StalenessError"
	case ReserveShortfall:
		return "ReserveShortfall"
	case ConcurrencyError:
		return "ConcurrencyError"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the same call may succeed later unchanged.
func (k ErrorKind) Retryable() bool {
	return k == StalenessError || k == ConcurrencyError
}

var (
	kindsLock sync.RWMutex
	kinds     = map[error]ErrorKind{
		ErrPositionAtRisk:         RiskViolation,
		ErrNotAtRisk:              RiskViolation,
		ErrLiquidationTooGreedy:   RiskViolation,
		ErrLiquidationTooFar:      RiskViolation,
		ErrLiquidationIneffective: RiskViolation,
		ErrNotBadDebt:             RiskViolation,

		oracle.ErrStalePrices:  StalenessError,
		oracle.ErrFuturePrices: StalenessError,
		oracle.ErrMissingPrice: StalenessError,

		ledger.ErrInsufficientReserve: ReserveShortfall,

		ErrPrincipalLocked: ConcurrencyError,
	}
)

// RegisterErrorKind classifies errors defined by packages built on top of
// this one. Unregistered errors are validation errors.
func RegisterErrorKind(kind ErrorKind, errs ...error) {
	kindsLock.Lock()
	defer kindsLock.Unlock()

	for _, err := range errs {
		kinds[err] = kind
	}
}

// KindOf returns the kind of err. Staleness and concurrency take precedence
// so wrapped retryable causes are never reported as permanent.
func KindOf(err error) ErrorKind {
	kindsLock.RLock()
	defer kindsLock.RUnlock()

	found := ValidationError
	for sentinel, kind := range kinds {
		if !errors.Is(err, sentinel) {
			continue
		}
		if kind.Retryable() {
			return kind
		}
		found = max(found, kind)
	}
	return found
}
