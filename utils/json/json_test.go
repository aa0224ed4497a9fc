// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package json

import (
	stdjson "encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigIntJSON(t *testing.T) {
	require := require.New(t)

	v, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	b, err := stdjson.Marshal(NewBigInt(v))
	require.NoError(err)
	require.Equal(`"123456789012345678901234567890"`, string(b))

	var decoded BigInt
	require.NoError(stdjson.Unmarshal(b, &decoded))
	require.Zero(v.Cmp(decoded.Int()))

	require.NoError(stdjson.Unmarshal([]byte(`42`), &decoded))
	require.Equal("42", decoded.String())

	require.ErrorIs(stdjson.Unmarshal([]byte(`"4x2"`), &decoded), errInvalidBigInt)

	var unset BigInt
	require.NoError(stdjson.Unmarshal([]byte(Null), &unset))
	require.False(unset.IsSet())
	require.Equal("0", unset.String())
}

func TestUint64JSON(t *testing.T) {
	require := require.New(t)

	b, err := stdjson.Marshal(Uint64(7))
	require.NoError(err)
	require.Equal(`"7"`, string(b))

	var u Uint64
	require.NoError(stdjson.Unmarshal([]byte(`"9"`), &u))
	require.Equal(Uint64(9), u)
}
