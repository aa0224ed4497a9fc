// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package json provides string-encoded numeric types for API replies.
// Ledger balances routinely exceed 2^53, so every number crosses the wire
// as a decimal string.
package json

import (
	"errors"
	"math/big"
	"strconv"
)

const Null = "null"

var errInvalidBigInt = errors.New("invalid big integer")

func unquote(b []byte) string {
	str := string(b)
	if len(str) >= 2 {
		if lastIndex := len(str) - 1; str[0] == '"' && str[lastIndex] == '"' {
			str = str[1:lastIndex]
		}
	}
	return str
}

// Uint64 is a uint64 that can be JSON marshaled as a string.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(u), 10) + `"`), nil
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	if string(b) == Null {
		return nil
	}
	val, err := strconv.ParseUint(unquote(b), 10, 64)
	*u = Uint64(val)
	return err
}

// BigInt is an arbitrary precision integer that can be JSON marshaled as a
// string. The zero value encodes as "0".
type BigInt struct {
	v *big.Int
}

// NewBigInt copies v into a BigInt. A nil v yields zero.
func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{}
	}
	return BigInt{v: new(big.Int).Set(v)}
}

// Int returns a copy of the wrapped value.
func (b BigInt) Int() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.v)
}

// IsSet reports whether a value was decoded.
func (b BigInt) IsSet() bool {
	return b.v != nil
}

func (b BigInt) String() string {
	if b.v == nil {
		return "0"
	}
	return b.v.String()
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	if string(data) == Null {
		b.v = nil
		return nil
	}
	v, ok := new(big.Int).SetString(unquote(data), 10)
	if !ok {
		return errInvalidBigInt
	}
	b.v = v
	return nil
}
