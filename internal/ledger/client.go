// Package ledger is the engine's only gateway to the ledger contract.
//
// Reads are test invocations. Submissions are test-invoked with the session
// signer, signed, broadcast and awaited until the transaction is persisted.
// Contract notifications are delivered to subscribers in ledger order.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// Confirmation describes a persisted, successfully executed transaction.
type Confirmation struct {
	TxHash      string
	GasConsumed int64
	Events      []Event
}

// Metrics receives submission outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveSubmit(op string, outcome string, d time.Duration)
	SetListenerHeight(height uint32)
}

// Config configures a Client.
type Config struct {
	Contract     string // "0x" display-order script hash
	Network      uint32
	WaitTimeout  time.Duration
	PollInterval time.Duration

	// Listener settings. WebSocketURL is optional.
	StartBlock         uint32
	ListenInterval     time.Duration
	WebSocketURL       string
	DisableEventStream bool
}

// Client implements reads, submissions and event subscriptions against the
// ledger contract.
type Client struct {
	rpc      *chain.Client
	builder  *chain.TxBuilder
	config   Config
	log      *logger.Logger
	metrics  Metrics
	verified atomic.Bool

	dispatcher *Dispatcher
	listener   *chain.BlockListener

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the submission metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client. builder may be nil for a read-only client.
func NewClient(rpc *chain.Client, builder *chain.TxBuilder, cfg Config, opts ...Option) (*Client, error) {
	if _, err := chain.ParseContractHash(cfg.Contract); err != nil {
		return nil, errors.Configurationf(errors.ReasonInvalidConfiguration, "contract hash %q: %v", cfg.Contract, err)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = chain.DefaultTxWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = chain.DefaultPollInterval
	}

	c := &Client{
		rpc:        rpc,
		builder:    builder,
		config:     cfg,
		log:        logger.NewNop(),
		dispatcher: NewDispatcher(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.listener = chain.NewBlockListener(rpc, chain.ListenerConfig{
		Contract:     cfg.Contract,
		StartBlock:   cfg.StartBlock,
		PollInterval: cfg.ListenInterval,
	}, c.onContractEvent, c.log.Named("block-listener"))
	return c, nil
}

// Identity returns the signer address, or "" for a read-only client.
func (c *Client) Identity() string {
	if c.builder == nil {
		return ""
	}
	return c.builder.Address()
}

// VerifyNetwork checks the node's network magic and that the contract is
// deployed. Every other call fails until it succeeded once.
func (c *Client) VerifyNetwork(ctx context.Context) error {
	version, err := c.rpc.GetVersion(ctx)
	if err != nil {
		return errors.Transport("getversion", err)
	}
	if version.Network != c.config.Network {
		return errors.Configurationf(errors.ReasonNetworkMismatch,
			"node network %d, configured %d", version.Network, c.config.Network)
	}

	state, err := c.rpc.GetContractState(ctx, c.config.Contract)
	if err != nil {
		var rpcErr *chain.RPCError
		if stderrors.As(err, &rpcErr) {
			return errors.Configuration(errors.ReasonContractMissing, err)
		}
		return errors.Transport("getcontractstate", err)
	}

	c.verified.Store(true)
	c.log.WithFields(map[string]interface{}{
		"network":   version.Network,
		"contract":  c.config.Contract,
		"name":      state.Name,
		"useragent": version.UserAgent,
	}).Info("ledger network verified")
	return nil
}

func (c *Client) checkVerified() error {
	if !c.verified.Load() {
		return errors.Configuration(errors.ReasonNetworkMismatch, fmt.Errorf("network not verified"))
	}
	return nil
}

// Height returns the current block count.
func (c *Client) Height(ctx context.Context) (uint32, error) {
	if err := c.checkVerified(); err != nil {
		return 0, err
	}
	h, err := c.rpc.GetBlockCount(ctx)
	if err != nil {
		return 0, errors.Transport("getblockcount", err)
	}
	return h, nil
}

// ReadField reads one address-keyed field. It is idempotent and safe for
// concurrent use.
func (c *Client) ReadField(ctx context.Context, field Field, address string) (chain.StackItem, error) {
	if err := c.checkVerified(); err != nil {
		return chain.StackItem{}, err
	}
	param, err := chain.NewHash160ParamFromAddress(address)
	if err != nil {
		return chain.StackItem{}, errors.Format(errors.ReasonInvalidAddress, err)
	}

	return c.invokeRead(ctx, string(field), param)
}

// Owner returns the address of the contract owner, or "" when the contract
// reports none.
func (c *Client) Owner(ctx context.Context) (string, error) {
	if err := c.checkVerified(); err != nil {
		return "", err
	}
	item, err := c.invokeRead(ctx, methodOwner)
	if err != nil {
		return "", err
	}
	if chain.IsNull(item) {
		return "", nil
	}
	owner, err := chain.ParseAddress(item)
	if err != nil {
		return "", fmt.Errorf("decode owner: %w", err)
	}
	return owner, nil
}

func (c *Client) invokeRead(ctx context.Context, method string, params ...chain.ContractParam) (chain.StackItem, error) {
	result, err := c.rpc.InvokeFunction(ctx, c.config.Contract, method, params)
	if err != nil {
		return chain.StackItem{}, errors.Transport(method, err)
	}
	if result.State != chain.VMStateHalt {
		return chain.StackItem{}, errors.RejectedByLedger(method, chain.FaultReason(result.Exception), nil)
	}
	if len(result.Stack) == 0 {
		return chain.StackItem{}, errors.Transport(method, fmt.Errorf("empty result stack"))
	}
	return result.Stack[0], nil
}

// Submit executes op with args and waits until the transaction is persisted.
// It returns RejectedByLedger when the ledger refused the operation and a
// transport error when the outcome is unknown.
func (c *Client) Submit(ctx context.Context, op Operation, args ...chain.ContractParam) (conf *Confirmation, err error) {
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := c.checkVerified(); err != nil {
		return nil, err
	}
	if c.builder == nil {
		return nil, errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("no signer configured"))
	}
	name := string(op)
	log := c.log.WithContext(ctx).WithField("op", name)

	invoke, err := c.rpc.InvokeFunctionWithSigners(ctx, c.config.Contract, name, args, c.builder.Signers())
	if err != nil {
		return nil, c.classify(name, err)
	}
	if invoke.State != chain.VMStateHalt {
		reason := chain.FaultReason(invoke.Exception)
		log.WithField("reason", reason).Info("test invocation faulted")
		return nil, errors.RejectedByLedger(name, reason, nil)
	}

	script, err := chain.DecodeScript(invoke)
	if err != nil {
		return nil, errors.Transport(name, err)
	}
	sysFee, err := chain.ParseGas(invoke.GasConsumed)
	if err != nil {
		return nil, errors.Transport(name, fmt.Errorf("parse gas: %w", err))
	}

	tx, err := c.builder.BuildAndSign(ctx, script, sysFee)
	if err != nil {
		return nil, c.classify(name, err)
	}

	txHash, err := c.rpc.SendRawTransaction(ctx, chain.EncodeTx(tx))
	if err != nil {
		return nil, c.classify(name, err)
	}
	log = log.WithField("tx", txHash)
	log.Debug("transaction broadcast")

	waitCtx, cancel := context.WithTimeout(ctx, c.config.WaitTimeout)
	defer cancel()
	appLog, err := c.rpc.WaitForApplicationLog(waitCtx, txHash, c.config.PollInterval)
	if err != nil {
		log.WithError(err).Warn("confirmation not observed")
		return nil, errors.Transport(name, fmt.Errorf("tx %s: %w", txHash, err))
	}

	exec, ok := applicationExecution(appLog)
	if !ok {
		return nil, errors.Transport(name, fmt.Errorf("tx %s: no executions in application log", txHash))
	}
	if exec.VMState != chain.VMStateHalt {
		reason := chain.FaultReason(exec.Exception)
		log.WithField("reason", reason).Warn("transaction faulted on chain")
		return nil, errors.RejectedByLedger(name, reason, fmt.Errorf("tx %s", txHash))
	}

	gas, _ := chain.ParseGas(exec.GasConsumed)
	conf = &Confirmation{TxHash: txHash, GasConsumed: gas}
	for i, n := range exec.Notifications {
		ev, err := ParseEvent(chain.ContractEvent{
			Position:  chain.Position{Notification: i},
			TxHash:    txHash,
			Contract:  n.Contract,
			EventName: n.EventName,
			State:     n.State,
		})
		if err == nil {
			conf.Events = append(conf.Events, ev)
		}
	}
	log.WithField("gas", gas).Info("transaction confirmed")
	return conf, nil
}

func applicationExecution(log *chain.ApplicationLog) (chain.Execution, bool) {
	for _, exec := range log.Executions {
		if exec.Trigger == "" || exec.Trigger == "Application" {
			return exec, true
		}
	}
	return chain.Execution{}, false
}

// classify maps node refusals to rejections and everything else to an
// unknown outcome.
func (c *Client) classify(op string, err error) error {
	var rpcErr *chain.RPCError
	if stderrors.As(err, &rpcErr) {
		return errors.RejectedByLedger(op, rpcErr.Message, err)
	}
	return errors.Transport(op, err)
}

func (c *Client) observe(op Operation, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "confirmed"
	if err != nil {
		if kind, ok := errors.KindOf(err); ok {
			outcome = string(kind)
		} else {
			outcome = "error"
		}
	}
	c.metrics.ObserveSubmit(string(op), outcome, time.Since(start))
}

// =============================================================================
// Events
// =============================================================================

// Subscribe registers h for kind.
func (c *Client) Subscribe(kind EventKind, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("nil handler")
	}
	return c.dispatcher.Subscribe(kind, h), nil
}

// Unsubscribe removes sub; the handler never fires after it returns.
func (c *Client) Unsubscribe(sub *Subscription) {
	c.dispatcher.Unsubscribe(sub)
}

func (c *Client) onContractEvent(raw chain.ContractEvent) {
	ev, err := ParseEvent(raw)
	if err != nil {
		c.log.WithError(err).WithFields(map[string]interface{}{
			"event": raw.EventName,
			"block": raw.Block,
			"tx":    raw.TxHash,
		}).Warn("undecodable contract event")
	}
	if c.metrics != nil {
		c.metrics.SetListenerHeight(raw.Block)
	}
	c.dispatcher.Dispatch(ev)
}

// Start runs the block listener and, when configured, the WebSocket
// notifier that wakes it.
func (c *Client) Start(ctx context.Context) error {
	if err := c.checkVerified(); err != nil {
		return err
	}
	if c.config.DisableEventStream {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("ledger client already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := c.listener.Start(runCtx); err != nil {
		cancel()
		return errors.Transport("listen", err)
	}
	c.cancel = cancel

	if c.config.WebSocketURL != "" {
		notifier, err := chain.NewBlockNotifier(c.config.WebSocketURL, func(uint32) {
			c.listener.Wake()
		}, c.log.Named("block-notifier"))
		if err != nil {
			c.log.WithError(err).Warn("block notifier disabled")
		} else {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				notifier.Run(runCtx)
			}()
		}
	}

	c.log.WithContext(ctx).WithField("from_block", c.listener.NextBlock()).Info("ledger event stream started")
	return nil
}

// Close stops the event stream.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	c.listener.Stop()
	cancel()
	c.wg.Wait()
	return nil
}
