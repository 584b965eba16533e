package chain

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// JSON-RPC Envelope
// =============================================================================

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node. Receiving one means the
// node processed the request and refused it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// =============================================================================
// Invocation
// =============================================================================

// Signer is a transaction signer as accepted by invokefunction.
type Signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

// InvokeResult is the result of invokefunction.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
}

// StackItem is a Neo VM stack item.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// VM states.
const (
	VMStateHalt  = "HALT"
	VMStateFault = "FAULT"
)

// =============================================================================
// Blocks and Logs
// =============================================================================

// Block is a verbose block as returned by getblock.
type Block struct {
	Hash  string    `json:"hash"`
	Index uint32    `json:"index"`
	Time  uint64    `json:"time"`
	Tx    []BlockTx `json:"tx"`
}

// BlockTx is the part of a verbose transaction the listener needs.
type BlockTx struct {
	Hash string `json:"hash"`
}

// ApplicationLog is the application log for a transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is a single execution in the application log.
type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	Exception     string         `json:"exception,omitempty"`
	GasConsumed   string         `json:"gasconsumed"`
	Stack         []StackItem    `json:"stack"`
	Notifications []Notification `json:"notifications"`
}

// Notification is a contract notification.
type Notification struct {
	Contract  string    `json:"contract"`
	EventName string    `json:"eventname"`
	State     StackItem `json:"state"`
}

// =============================================================================
// Node and Contract Info
// =============================================================================

// NodeVersion is the subset of getversion the client checks.
type NodeVersion struct {
	UserAgent string `json:"useragent"`
	Network   uint32 `json:"network"`
}

// ContractState is the subset of getcontractstate the client checks.
type ContractState struct {
	ID   int    `json:"id"`
	Hash string `json:"hash"`
	Name string `json:"name"`
}
