package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// =============================================================================
// Stack Item Parsers
// =============================================================================

// IsNull reports whether item is the VM null value.
func IsNull(item StackItem) bool {
	return item.Type == "Any" && (len(item.Value) == 0 || string(item.Value) == "null") || item.Type == "Null"
}

// ParseArray extracts the elements of an Array or Struct.
func ParseArray(item StackItem) ([]StackItem, error) {
	if item.Type != "Array" && item.Type != "Struct" {
		return nil, fmt.Errorf("expected Array or Struct, got %s", item.Type)
	}

	var items []StackItem
	if err := json.Unmarshal(item.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}
	return items, nil
}

// ParseByteArray decodes a ByteString or Buffer. Null yields nil.
func ParseByteArray(item StackItem) ([]byte, error) {
	if IsNull(item) {
		return nil, nil
	}
	if item.Type != "ByteString" && item.Type != "Buffer" {
		return nil, fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(value)
}

// ParseString decodes a UTF-8 string. Null yields "".
func ParseString(item StackItem) (string, error) {
	b, err := ParseByteArray(item)
	if err != nil {
		return "", fmt.Errorf("parse string: %w", err)
	}
	return string(b), nil
}

// ParseInteger decodes an Integer. Booleans and short byte strings are
// accepted the way the VM converts them.
func ParseInteger(item StackItem) (*big.Int, error) {
	switch item.Type {
	case "Integer":
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return n, nil
	case "Boolean":
		b, err := ParseBoolean(item)
		if err != nil {
			return nil, err
		}
		if b {
			return big.NewInt(1), nil
		}
		return new(big.Int), nil
	case "ByteString", "Buffer":
		b, err := ParseByteArray(item)
		if err != nil {
			return nil, err
		}
		if len(b) > 32 {
			return nil, fmt.Errorf("integer too long: %d bytes", len(b))
		}
		return fromLESigned(b), nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseBoolean decodes a Boolean. Integers are accepted as non-zero checks.
func ParseBoolean(item StackItem) (bool, error) {
	switch item.Type {
	case "Boolean":
		var value bool
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return false, err
		}
		return value, nil
	case "Integer":
		n, err := ParseInteger(item)
		if err != nil {
			return false, err
		}
		return n.Sign() != 0, nil
	}
	return false, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseHash160 decodes a 20-byte script hash.
func ParseHash160(item StackItem) (util.Uint160, error) {
	b, err := ParseByteArray(item)
	if err != nil {
		return util.Uint160{}, err
	}
	return util.Uint160DecodeBytesBE(b)
}

// ParseAddress decodes a script hash and renders it as a Neo address.
func ParseAddress(item StackItem) (string, error) {
	h, err := ParseHash160(item)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	return address.Uint160ToString(h), nil
}

// ParseContractHash accepts "0x"-prefixed or bare display-order hashes.
func ParseContractHash(s string) (util.Uint160, error) {
	return util.Uint160DecodeStringLE(strings.TrimPrefix(strings.ToLower(s), "0x"))
}

// FormatContractHash renders a script hash the way the node reports it.
func FormatContractHash(h util.Uint160) string {
	return "0x" + h.StringLE()
}

// fromLESigned decodes the VM's little-endian two's complement integers.
func fromLESigned(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	be := make([]byte, len(b))
	for i, v := range b {
		be[len(b)-1-i] = v
	}
	n := new(big.Int).SetBytes(be)
	if b[len(b)-1]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
	}
	return n
}
