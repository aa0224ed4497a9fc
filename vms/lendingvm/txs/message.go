// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txs defines the messages attached to token transfers into the
// ledger.
package txs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrUnexpectedActions  = errors.New("actions are only allowed in execute messages")
	ErrNoActions          = errors.New("execute message has no actions")
)

// MessageType selects what a transfer into the ledger does with its tokens.
type MessageType uint8

const (
	// Supply deposits into the sender's supply. An empty message means
	// Supply.
	Supply MessageType = iota
	// Reserve adds to the asset's protocol reserve.
	Reserve
	// Margin deposits into the sender's margin account.
	Margin
	// Execute deposits into supply and then runs the attached batch.
	Execute
)

var messageTypeNames = []string{
	Supply:  "deposit",
	Reserve: "depositToReserve",
	Margin:  "depositToMargin",
	Execute: "execute",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "unknown"
}

func (t MessageType) MarshalJSON() ([]byte, error) {
	if int(t) >= len(messageTypeNames) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageType, t)
	}
	return json.Marshal(t.String())
}

func (t *MessageType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, n := range messageTypeNames {
		if n == name {
			*t = MessageType(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidMessageType, name)
}

// Message is the payload of a transfer notification.
type Message struct {
	Type    MessageType      `json:"type"`
	Actions []ActionEnvelope `json:"actions,omitempty"`
}

// Verify checks that actions appear exactly when the type calls for them.
func (m *Message) Verify() error {
	switch m.Type {
	case Execute:
		if len(m.Actions) == 0 {
			return ErrNoActions
		}
	case Supply, Reserve, Margin:
		if len(m.Actions) != 0 {
			return fmt.Errorf("%w: %s", ErrUnexpectedActions, m.Type)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMessageType, m.Type)
	}
	return nil
}

// Batch returns the decoded actions of an execute message.
func (m *Message) Batch() ([]lending.Action, error) {
	return Actions(m.Actions)
}

// Bytes returns the wire encoding of m.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes and verifies a transfer message. Unknown fields are
// rejected.
func ParseMessage(data []byte) (*Message, error) {
	msg := &Message{}
	if len(bytes.TrimSpace(data)) == 0 {
		return msg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, fmt.Errorf("couldn't parse message: %w", err)
	}
	if err := msg.Verify(); err != nil {
		return nil, err
	}
	return msg, nil
}
