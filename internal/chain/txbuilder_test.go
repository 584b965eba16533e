package chain_test

import (
	"context"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/pkg/testutil"
)

func TestAccountFromKey(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)

	fromWIF, err := chain.AccountFromKey(priv.WIF())
	require.NoError(t, err)
	fromHex, err := chain.AccountFromKey(priv.String())
	require.NoError(t, err)
	assert.Equal(t, fromWIF.Address, fromHex.Address)

	_, err = chain.AccountFromKey("")
	assert.Error(t, err)
	_, err = chain.AccountFromKey("not-a-key")
	assert.Error(t, err)
}

func TestTxBuilder_BuildAndSign(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	account := wallet.NewAccountFromPrivateKey(priv)

	mux := testutil.NewRPCMux()
	mux.Result("getblockcount", 100)
	mux.Result("calculatenetworkfee", map[string]string{"networkfee": "123456"})
	client := newTestClient(t, mux)

	builder := chain.NewTxBuilder(client, account, 894710606)
	assert.Equal(t, account.Address, builder.Address())
	require.Len(t, builder.Signers(), 1)
	assert.Equal(t, "CalledByEntry", builder.Signers()[0].Scopes)

	tx, err := builder.BuildAndSign(context.Background(), []byte{0x40}, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), tx.SystemFee)
	assert.Equal(t, int64(123456), tx.NetworkFee)
	assert.Equal(t, uint32(100+chain.DefaultValidBlocks), tx.ValidUntilBlock)
	require.Len(t, tx.Signers, 1)
	assert.True(t, tx.Signers[0].Account.Equals(account.ScriptHash()))
	require.Len(t, tx.Scripts, 1)
	assert.NotEmpty(t, tx.Scripts[0].InvocationScript)
	assert.NotEmpty(t, chain.EncodeTx(tx))
}

func TestParseGas(t *testing.T) {
	gas, err := chain.ParseGas("997776")
	require.NoError(t, err)
	assert.Equal(t, int64(997776), gas)

	gas, err = chain.ParseGas("")
	require.NoError(t, err)
	assert.Zero(t, gas)
}
