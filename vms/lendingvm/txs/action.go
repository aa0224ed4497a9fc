// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"errors"
	"fmt"

	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
)

var (
	ErrNoAction        = errors.New("action envelope is empty")
	ErrMultipleActions = errors.New("action envelope holds more than one action")

	_ lending.Visitor = (*envelopeWriter)(nil)
)

// ActionEnvelope is the wire form of one batch action. Exactly one field is
// set.
type ActionEnvelope struct {
	Withdraw              *lending.Withdraw              `json:"withdraw,omitempty"`
	IncreaseCollateral    *lending.IncreaseCollateral    `json:"increaseCollateral,omitempty"`
	DecreaseCollateral    *lending.DecreaseCollateral    `json:"decreaseCollateral,omitempty"`
	Borrow                *lending.Borrow                `json:"borrow,omitempty"`
	Repay                 *lending.Repay                 `json:"repay,omitempty"`
	Liquidate             *lending.Liquidate             `json:"liquidate,omitempty"`
	ForceClose            *lending.ForceClose            `json:"forceClose,omitempty"`
	MarginDirectLiquidate *lending.MarginDirectLiquidate `json:"marginDirectLiquidate,omitempty"`
}

// Action returns the single action held by the envelope.
func (e *ActionEnvelope) Action() (lending.Action, error) {
	var (
		action lending.Action
		count  int
	)
	set := func(a lending.Action) {
		action = a
		count++
	}
	if e.Withdraw != nil {
		set(e.Withdraw)
	}
	if e.IncreaseCollateral != nil {
		set(e.IncreaseCollateral)
	}
	if e.DecreaseCollateral != nil {
		set(e.DecreaseCollateral)
	}
	if e.Borrow != nil {
		set(e.Borrow)
	}
	if e.Repay != nil {
		set(e.Repay)
	}
	if e.Liquidate != nil {
		set(e.Liquidate)
	}
	if e.ForceClose != nil {
		set(e.ForceClose)
	}
	if e.MarginDirectLiquidate != nil {
		set(e.MarginDirectLiquidate)
	}
	switch count {
	case 0:
		return nil, ErrNoAction
	case 1:
		return action, nil
	default:
		return nil, fmt.Errorf("%w: %d actions", ErrMultipleActions, count)
	}
}

// Wrap returns the envelope of a.
func Wrap(a lending.Action) ActionEnvelope {
	w := &envelopeWriter{}
	_ = a.Visit(w)
	return w.envelope
}

// Actions unwraps a list of envelopes, reporting the index of the first bad
// one.
func Actions(envelopes []ActionEnvelope) ([]lending.Action, error) {
	actions := make([]lending.Action, len(envelopes))
	for i := range envelopes {
		action, err := envelopes[i].Action()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions[i] = action
	}
	return actions, nil
}

type envelopeWriter struct {
	envelope ActionEnvelope
}

func (w *envelopeWriter) Withdraw(a *lending.Withdraw) error {
	w.envelope.Withdraw = a
	return nil
}

func (w *envelopeWriter) IncreaseCollateral(a *lending.IncreaseCollateral) error {
	w.envelope.IncreaseCollateral = a
	return nil
}

func (w *envelopeWriter) DecreaseCollateral(a *lending.DecreaseCollateral) error {
	w.envelope.DecreaseCollateral = a
	return nil
}

func (w *envelopeWriter) Borrow(a *lending.Borrow) error {
	w.envelope.Borrow = a
	return nil
}

func (w *envelopeWriter) Repay(a *lending.Repay) error {
	w.envelope.Repay = a
	return nil
}

func (w *envelopeWriter) Liquidate(a *lending.Liquidate) error {
	w.envelope.Liquidate = a
	return nil
}

func (w *envelopeWriter) ForceClose(a *lending.ForceClose) error {
	w.envelope.ForceClose = a
	return nil
}

func (w *envelopeWriter) MarginDirectLiquidate(a *lending.MarginDirectLiquidate) error {
	w.envelope.MarginDirectLiquidate = a
	return nil
}
