package ledgertest

import (
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
)

// NewAddress returns a fresh random Neo address.
func NewAddress(t testing.TB) string {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return address.Uint160ToString(priv.GetScriptHash())
}
