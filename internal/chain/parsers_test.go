package chain_test

import (
	"math/big"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/chain"
)

func TestParseInteger(t *testing.T) {
	n, err := chain.ParseInteger(chain.IntegerItem(big.NewInt(-42)))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), n.Int64())

	n, err = chain.ParseInteger(chain.BoolItem(true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Int64())

	n, err = chain.ParseInteger(chain.ByteStringItem([]byte{0xff}))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n.Int64())

	n, err = chain.ParseInteger(chain.ByteStringItem([]byte{0x00, 0x01}))
	require.NoError(t, err)
	assert.Equal(t, int64(256), n.Int64())

	_, err = chain.ParseInteger(chain.ArrayItem())
	assert.Error(t, err)
}

func TestParseBooleanAndString(t *testing.T) {
	b, err := chain.ParseBoolean(chain.BoolItem(true))
	require.NoError(t, err)
	assert.True(t, b)

	b, err = chain.ParseBoolean(chain.Int64Item(0))
	require.NoError(t, err)
	assert.False(t, b)

	s, err := chain.ParseString(chain.StringItem("Dr. Calm"))
	require.NoError(t, err)
	assert.Equal(t, "Dr. Calm", s)

	s, err = chain.ParseString(chain.NullItem())
	require.NoError(t, err)
	assert.Empty(t, s)
	assert.True(t, chain.IsNull(chain.NullItem()))
}

func TestParseAddress(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	hash := priv.GetScriptHash()

	addr, err := chain.ParseAddress(chain.Hash160Item(hash))
	require.NoError(t, err)
	assert.Equal(t, address.Uint160ToString(hash), addr)

	param, err := chain.NewHash160ParamFromAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, "Hash160", param.Type)
	assert.Equal(t, chain.FormatContractHash(hash), param.Value)

	_, err = chain.ParseAddress(chain.StringItem("short"))
	assert.Error(t, err)
}

func TestParseArray(t *testing.T) {
	items, err := chain.ParseArray(chain.ArrayItem(chain.Int64Item(1), chain.NullItem()))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = chain.ParseArray(chain.Int64Item(1))
	assert.Error(t, err)
}

func TestContractHashRoundTrip(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	hash := priv.GetScriptHash()

	parsed, err := chain.ParseContractHash(chain.FormatContractHash(hash))
	require.NoError(t, err)
	assert.True(t, hash.Equals(parsed))
}
