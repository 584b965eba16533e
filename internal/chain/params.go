package chain

import (
	"encoding/base64"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ContractParam is an invokefunction argument.
type ContractParam struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// NewIntegerParam creates an Integer parameter.
func NewIntegerParam(v *big.Int) ContractParam {
	if v == nil {
		v = new(big.Int)
	}
	return ContractParam{Type: "Integer", Value: v.String()}
}

// NewStringParam creates a String parameter.
func NewStringParam(s string) ContractParam {
	return ContractParam{Type: "String", Value: s}
}

// NewByteArrayParam creates a ByteArray parameter.
func NewByteArrayParam(b []byte) ContractParam {
	return ContractParam{Type: "ByteArray", Value: base64.StdEncoding.EncodeToString(b)}
}

// NewHash160Param creates a Hash160 parameter from a script hash.
func NewHash160Param(h util.Uint160) ContractParam {
	return ContractParam{Type: "Hash160", Value: "0x" + h.StringLE()}
}

// NewHash160ParamFromAddress creates a Hash160 parameter from a Neo address.
func NewHash160ParamFromAddress(addr string) (ContractParam, error) {
	h, err := address.StringToUint160(addr)
	if err != nil {
		return ContractParam{}, err
	}
	return NewHash160Param(h), nil
}
