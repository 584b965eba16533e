package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// =============================================================================
// Contract Invocation Methods
// =============================================================================

// DefaultTxWaitTimeout is the default timeout for waiting for transaction execution.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = 2 * time.Second

// InvokeFunction invokes a contract function (read-only).
func (c *Client) InvokeFunction(ctx context.Context, contract, method string, params []ContractParam) (*InvokeResult, error) {
	return c.InvokeFunctionWithSigners(ctx, contract, method, params, nil)
}

// InvokeFunctionWithSigners test-invokes a contract function with witnesses
// checked against signers. Nothing is persisted.
func (c *Client) InvokeFunctionWithSigners(ctx context.Context, contract, method string, params []ContractParam, signers []Signer) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}
	args := []any{contract, method, params}
	if len(signers) > 0 {
		args = append(args, signers)
	}

	result, err := c.Call(ctx, "invokefunction", args...)
	if err != nil {
		return nil, err
	}

	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

// CalculateNetworkFee asks the node for the verification cost of a
// transaction in its base64 wire form.
func (c *Client) CalculateNetworkFee(ctx context.Context, txBase64 string) (int64, error) {
	result, err := c.Call(ctx, "calculatenetworkfee", txBase64)
	if err != nil {
		return 0, err
	}
	fee := gjson.GetBytes(result, "networkfee")
	if !fee.Exists() {
		return 0, fmt.Errorf("calculatenetworkfee: missing networkfee in %s", result)
	}
	return fee.Int(), nil
}

// SendRawTransaction broadcasts a signed transaction in base64 wire form.
func (c *Client) SendRawTransaction(ctx context.Context, txBase64 string) (string, error) {
	result, err := c.Call(ctx, "sendrawtransaction", txBase64)
	if err != nil {
		return "", err
	}

	var response struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return response.Hash, nil
}

// WaitForApplicationLog polls for a transaction application log until it is available or context is done.
// A missing transaction is treated as transient and retried until the context deadline/timeout expires.
func (c *Client) WaitForApplicationLog(ctx context.Context, txHash string, pollInterval time.Duration) (*ApplicationLog, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
			log, err := c.GetApplicationLog(ctx, txHash)
			if err != nil {
				if isNotFoundError(err) {
					continue
				}
				return nil, err
			}
			return log, nil
		}
	}
}

func isNotFoundError(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message + " " + rpcErr.Data)
	return rpcErr.Code == -100 || strings.Contains(msg, "unknown transaction") || strings.Contains(msg, "not found")
}

// FaultReason extracts the contract's abort message from a VM exception.
// Contracts abort with "Reason: <code>"; anything else is returned trimmed.
func FaultReason(exception string) string {
	if i := strings.LastIndex(exception, "Reason:"); i >= 0 {
		return strings.TrimSpace(exception[i+len("Reason:"):])
	}
	if i := strings.LastIndex(exception, "ABORTMSG is executed."); i >= 0 {
		return strings.TrimSpace(exception[i+len("ABORTMSG is executed."):])
	}
	return strings.TrimSpace(exception)
}

// =============================================================================
// Node and Contract Info
// =============================================================================

// GetVersion returns the node's user agent and network magic.
func (c *Client) GetVersion(ctx context.Context) (*NodeVersion, error) {
	result, err := c.Call(ctx, "getversion")
	if err != nil {
		return nil, err
	}
	network := gjson.GetBytes(result, "protocol.network")
	if !network.Exists() {
		return nil, fmt.Errorf("getversion: missing protocol.network")
	}
	return &NodeVersion{
		UserAgent: gjson.GetBytes(result, "useragent").String(),
		Network:   uint32(network.Uint()),
	}, nil
}

// GetContractState returns the deployed contract's id, hash and name.
func (c *Client) GetContractState(ctx context.Context, contract string) (*ContractState, error) {
	result, err := c.Call(ctx, "getcontractstate", contract)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(result)
	return &ContractState{
		ID:   int(parsed.Get("id").Int()),
		Hash: parsed.Get("hash").String(),
		Name: parsed.Get("manifest.name").String(),
	}, nil
}
