package chain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// =============================================================================
// Transaction Builder
// =============================================================================

// DefaultValidBlocks is how many blocks a built transaction stays valid for.
const DefaultValidBlocks = 240

// AccountFromKey creates a neo-go account from a WIF or hex private key.
func AccountFromKey(key string) (*wallet.Account, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty private key")
	}
	if priv, err := keys.NewPrivateKeyFromWIF(key); err == nil {
		return wallet.NewAccountFromPrivateKey(priv), nil
	}
	raw := strings.TrimPrefix(key, "0x")
	if _, err := hex.DecodeString(raw); err != nil {
		return nil, fmt.Errorf("private key is neither WIF nor hex")
	}
	priv, err := keys.NewPrivateKeyFromHex(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return wallet.NewAccountFromPrivateKey(priv), nil
}

// TxBuilder builds and signs invocation transactions for a single account.
type TxBuilder struct {
	client      *Client
	account     *wallet.Account
	network     netmode.Magic
	validBlocks uint32
}

// NewTxBuilder creates a builder signing with account for network.
func NewTxBuilder(client *Client, account *wallet.Account, network uint32) *TxBuilder {
	return &TxBuilder{
		client:      client,
		account:     account,
		network:     netmode.Magic(network),
		validBlocks: DefaultValidBlocks,
	}
}

// Address returns the signer's Neo address.
func (b *TxBuilder) Address() string {
	return b.account.Address
}

// Signers returns the signer list used for test invocations so that witness
// checks in the contract see the same caller as the real transaction.
func (b *TxBuilder) Signers() []Signer {
	return []Signer{{
		Account: "0x" + b.account.ScriptHash().StringLE(),
		Scopes:  transaction.CalledByEntry.String(),
	}}
}

// BuildAndSign wraps a test-invoked script in a signed transaction. sysFee
// is the gas the test invocation consumed.
func (b *TxBuilder) BuildAndSign(ctx context.Context, script []byte, sysFee int64) (*transaction.Transaction, error) {
	height, err := b.client.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	tx := transaction.New(script, sysFee)
	tx.Nonce = rand.Uint32()
	tx.ValidUntilBlock = height + b.validBlocks
	tx.Signers = []transaction.Signer{{
		Account: b.account.ScriptHash(),
		Scopes:  transaction.CalledByEntry,
	}}
	tx.Scripts = []transaction.Witness{{
		VerificationScript: b.account.Contract.Script,
	}}

	netFee, err := b.client.CalculateNetworkFee(ctx, EncodeTx(tx))
	if err != nil {
		return nil, fmt.Errorf("calculate network fee: %w", err)
	}
	tx.NetworkFee = netFee

	if err := b.account.SignTx(b.network, tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// EncodeTx renders a transaction in the base64 wire form the node accepts.
func EncodeTx(tx *transaction.Transaction) string {
	return base64.StdEncoding.EncodeToString(tx.Bytes())
}

// DecodeScript decodes the base64 script of an invoke result.
func DecodeScript(result *InvokeResult) ([]byte, error) {
	script, err := base64.StdEncoding.DecodeString(result.Script)
	if err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return script, nil
}

// ParseGas parses a gas amount reported as a decimal integer string.
func ParseGas(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
