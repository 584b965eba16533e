// Package testutil provides test helpers shared across packages.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// NewHTTPTestServer starts an httptest server that is closed with the test.
func NewHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// RPCResponse encodes a JSON-RPC success envelope.
func RPCResponse(result any) []byte {
	resultJSON, _ := json.Marshal(result)
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  json.RawMessage(resultJSON),
	}
	data, _ := json.Marshal(resp)
	return data
}

// RPCErrorResponse encodes a JSON-RPC error envelope.
func RPCErrorResponse(code int, message string) []byte {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

// RPCCall is a request received by an RPCMux.
type RPCCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// RPCHandler answers one JSON-RPC method. It returns the raw envelope.
type RPCHandler func(call RPCCall) []byte

// RPCMux is a JSON-RPC node stand-in routing by method name.
type RPCMux struct {
	mu       sync.Mutex
	handlers map[string]RPCHandler
	calls    []RPCCall
}

// NewRPCMux creates an empty mux. Unknown methods answer with -32601.
func NewRPCMux() *RPCMux {
	return &RPCMux{handlers: make(map[string]RPCHandler)}
}

// Handle registers a handler for method.
func (m *RPCMux) Handle(method string, h RPCHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = h
}

// Result registers a fixed result for method.
func (m *RPCMux) Result(method string, result any) {
	body := RPCResponse(result)
	m.Handle(method, func(RPCCall) []byte { return body })
}

// Calls returns the methods received so far, in order.
func (m *RPCMux) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Method
	}
	return out
}

// CallsTo returns the received calls of one method.
func (m *RPCMux) CallsTo(method string) []RPCCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RPCCall
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *RPCMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var call RPCCall
	if err := json.Unmarshal(body, &call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	h, ok := m.handlers[call.Method]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_, _ = w.Write(RPCErrorResponse(-32601, "Method not found"))
		return
	}
	_, _ = w.Write(h(call))
}
