package chain

import (
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Stack item builders produce the node's JSON encoding. They are used by
// fakes and tests that stand in for a node.

// IntegerItem encodes an Integer.
func IntegerItem(v *big.Int) StackItem {
	if v == nil {
		v = new(big.Int)
	}
	return StackItem{Type: "Integer", Value: mustJSON(v.String())}
}

// Int64Item encodes an Integer from an int64.
func Int64Item(v int64) StackItem {
	return IntegerItem(big.NewInt(v))
}

// BoolItem encodes a Boolean.
func BoolItem(v bool) StackItem {
	return StackItem{Type: "Boolean", Value: mustJSON(v)}
}

// ByteStringItem encodes a ByteString.
func ByteStringItem(b []byte) StackItem {
	return StackItem{Type: "ByteString", Value: mustJSON(base64.StdEncoding.EncodeToString(b))}
}

// StringItem encodes a UTF-8 string as a ByteString.
func StringItem(s string) StackItem {
	return ByteStringItem([]byte(s))
}

// Hash160Item encodes a script hash as a ByteString.
func Hash160Item(h util.Uint160) StackItem {
	return ByteStringItem(h.BytesBE())
}

// ArrayItem encodes an Array.
func ArrayItem(items ...StackItem) StackItem {
	if items == nil {
		items = []StackItem{}
	}
	return StackItem{Type: "Array", Value: mustJSON(items)}
}

// NullItem encodes the VM null value.
func NullItem() StackItem {
	return StackItem{Type: "Any"}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
