package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// =============================================================================
// Block Listener
// =============================================================================

// Position orders notifications within the ledger.
type Position struct {
	Block        uint32 `json:"block"`
	Tx           int    `json:"tx"`
	Notification int    `json:"notification"`
}

// Less reports whether p precedes o in ledger order.
func (p Position) Less(o Position) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	if p.Tx != o.Tx {
		return p.Tx < o.Tx
	}
	return p.Notification < o.Notification
}

// ContractEvent is a notification emitted by the watched contract in a
// successfully executed transaction.
type ContractEvent struct {
	Position
	TxHash    string
	Contract  string
	EventName string
	State     StackItem
}

// BlockSource is the node surface the listener polls.
type BlockSource interface {
	GetBlockCount(ctx context.Context) (uint32, error)
	GetBlock(ctx context.Context, index uint32) (*Block, error)
	GetApplicationLog(ctx context.Context, txHash string) (*ApplicationLog, error)
}

// ListenerConfig configures the block listener.
type ListenerConfig struct {
	// Contract to watch, in the node's "0x" display form.
	Contract string

	// First block to scan. Zero starts at the current height.
	StartBlock uint32

	// Polling interval when no notifier wakes the listener.
	PollInterval time.Duration
}

// EventHandler receives contract events in ledger order.
type EventHandler func(ContractEvent)

// BlockListener scans persisted blocks for the contract's notifications.
// Events of a block are delivered only after the whole block was read; a
// failed block is retried on the next pass without advancing, so delivery
// is at-least-once.
type BlockListener struct {
	mu      sync.RWMutex
	source  BlockSource
	config  ListenerConfig
	handler EventHandler
	log     *logger.Logger

	running   bool
	nextBlock uint32
	wake      chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
}

// NewBlockListener creates a listener delivering to handler.
func NewBlockListener(source BlockSource, config ListenerConfig, handler EventHandler, log *logger.Logger) *BlockListener {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	config.Contract = strings.ToLower(config.Contract)

	return &BlockListener{
		source:    source,
		config:    config,
		handler:   handler,
		log:       log,
		nextBlock: config.StartBlock,
		wake:      make(chan struct{}, 1),
	}
}

// Start positions the listener and begins polling.
func (l *BlockListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("listener already running")
	}

	if l.nextBlock == 0 {
		count, err := l.source.GetBlockCount(ctx)
		if err != nil {
			return fmt.Errorf("get block count: %w", err)
		}
		l.nextBlock = count
	}

	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(ctx, l.stopCh, l.done)
	return nil
}

// Stop stops polling and waits for the in-flight pass to finish.
func (l *BlockListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	done := l.done
	l.mu.Unlock()
	<-done
}

// Wake triggers an immediate pass. It never blocks.
func (l *BlockListener) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// NextBlock returns the index of the next block to scan.
func (l *BlockListener) NextBlock() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextBlock
}

func (l *BlockListener) run(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		case <-l.wake:
		}
		if err := l.Poll(ctx); err != nil && ctx.Err() == nil {
			l.log.WithError(err).WithField("block", l.NextBlock()).Warn("block scan failed, will retry")
		}
	}
}

// Poll scans every block persisted since the last pass. It is called by the
// polling loop and must not be called concurrently with it.
func (l *BlockListener) Poll(ctx context.Context) error {
	count, err := l.source.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("get block count: %w", err)
	}

	for index := l.NextBlock(); index < count; index++ {
		events, err := l.scanBlock(ctx, index)
		if err != nil {
			return fmt.Errorf("scan block %d: %w", index, err)
		}
		for _, ev := range events {
			l.handler(ev)
		}
		l.mu.Lock()
		l.nextBlock = index + 1
		l.mu.Unlock()
	}
	return nil
}

func (l *BlockListener) scanBlock(ctx context.Context, index uint32) ([]ContractEvent, error) {
	block, err := l.source.GetBlock(ctx, index)
	if err != nil {
		return nil, err
	}

	var events []ContractEvent
	for txIndex, tx := range block.Tx {
		appLog, err := l.source.GetApplicationLog(ctx, tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("application log %s: %w", tx.Hash, err)
		}
		for _, exec := range appLog.Executions {
			if exec.VMState != VMStateHalt {
				continue
			}
			for n, notification := range exec.Notifications {
				if strings.ToLower(notification.Contract) != l.config.Contract {
					continue
				}
				events = append(events, ContractEvent{
					Position:  Position{Block: index, Tx: txIndex, Notification: n},
					TxHash:    tx.Hash,
					Contract:  notification.Contract,
					EventName: notification.EventName,
					State:     notification.State,
				})
			}
		}
	}
	return events, nil
}
