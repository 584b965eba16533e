// Package session wires the engine together. Open is the only place
// components are constructed; everything else receives its dependencies.
package session

import (
	"context"
	"fmt"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/config"
	"github.com/R3E-Network/habit_ledger/internal/controller"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/guard"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/metrics"
	"github.com/R3E-Network/habit_ledger/internal/projection"
	"github.com/R3E-Network/habit_ledger/internal/synchronizer"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// Options supplies collaborators that outlive the session.
type Options struct {
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Persister projection.Persister
}

// Session is a running engine bound to one signer identity.
type Session struct {
	Config     *config.Config
	Ledger     *ledger.Client
	Store      *projection.Store
	Sync       *synchronizer.Synchronizer
	Scheduler  *synchronizer.Scheduler
	Controller *controller.Controller
	// Owner is the contract owner read at Open, empty when the contract
	// does not expose one.
	Owner string

	log *logger.Logger
}

// Open builds the engine. The node's network and the contract are verified
// before anything else touches the ledger; a mismatch is a configuration
// error. Persisted projection records are loaded as advisory state.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	chainCfg := chain.Config{
		RPCURL:    cfg.Ledger.RPCURL,
		Timeout:   cfg.Ledger.Timeout,
		RateLimit: cfg.Ledger.RateLimit,
		Burst:     cfg.Ledger.Burst,
	}
	ledgerOpts := []ledger.Option{ledger.WithLogger(log.Named("ledger"))}
	if opts.Metrics != nil {
		chainCfg.Observer = opts.Metrics
		ledgerOpts = append(ledgerOpts, ledger.WithMetrics(opts.Metrics))
	}
	rpc, err := chain.NewClient(chainCfg)
	if err != nil {
		return nil, errors.Configuration(errors.ReasonInvalidConfiguration, err)
	}
	account, err := chain.AccountFromKey(cfg.Signer.Key)
	if err != nil {
		return nil, errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("signer key: %w", err))
	}
	builder := chain.NewTxBuilder(rpc, account, cfg.Ledger.Network)

	lc, err := ledger.NewClient(rpc, builder, ledger.Config{
		Contract:           cfg.Ledger.Contract,
		Network:            cfg.Ledger.Network,
		WaitTimeout:        cfg.Ledger.WaitTimeout,
		PollInterval:       cfg.Ledger.PollInterval,
		StartBlock:         cfg.Ledger.StartBlock,
		ListenInterval:     cfg.Ledger.ListenInterval,
		WebSocketURL:       cfg.Ledger.WebSocketURL,
		DisableEventStream: cfg.Ledger.DisableEvents,
	}, ledgerOpts...)
	if err != nil {
		return nil, err
	}
	if err := lc.VerifyNetwork(ctx); err != nil {
		return nil, err
	}
	owner, err := lc.Owner(ctx)
	if err != nil {
		if !errors.IsRejected(err) {
			return nil, err
		}
		log.WithError(err).Warn("contract exposes no owner")
	}

	storeOpts := projection.Options{Persister: opts.Persister, Logger: log.Named("projection")}
	syncOpts := synchronizer.Options{Logger: log.Named("synchronizer"), RunTimeout: cfg.Sync.RunTimeout}
	ctlOpts := []controller.Option{controller.WithLogger(log.Named("controller"))}
	if opts.Metrics != nil {
		storeOpts.Metrics = opts.Metrics
		syncOpts.Metrics = opts.Metrics
		ctlOpts = append(ctlOpts, controller.WithMetrics(opts.Metrics))
	}

	store := projection.NewStore(storeOpts)
	stamper := projection.NewStamper()
	if opts.Persister != nil {
		n, err := store.Load(ctx, stamper)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load projection: %w", err)
		}
		log.WithField("records", n).Info("projection warmed from storage")
	}

	sync := synchronizer.New(lc, store, stamper, syncOpts)
	sched, err := synchronizer.NewScheduler(sync, cfg.Sync.Schedule, log.Named("scheduler"))
	if err != nil {
		store.Close()
		return nil, errors.Configuration(errors.ReasonInvalidConfiguration, err)
	}

	lo, hi, err := cfg.Token.FeeBounds()
	if err != nil {
		store.Close()
		return nil, err
	}
	g := guard.New(guard.Limits{MinSessionFee: lo, MaxSessionFee: hi})

	return &Session{
		Config:     cfg,
		Ledger:     lc,
		Store:      store,
		Sync:       sync,
		Scheduler:  sched,
		Controller: controller.New(lc, store, g, sync, ctlOpts...),
		Owner:      owner,
		log:        log,
	}, nil
}

// Identity is the signer address.
func (s *Session) Identity() string {
	return s.Ledger.Identity()
}

// Start tracks the identity and the configured addresses, subscribes the
// synchronizer, starts the event stream and the schedule, and queues an
// initial reload of everything tracked.
func (s *Session) Start(ctx context.Context) error {
	s.Sync.Track(s.Identity())
	for _, a := range s.Config.Sync.Track {
		s.Sync.Track(a)
	}
	if err := s.Sync.Start(ctx, s.Ledger); err != nil {
		return err
	}
	if err := s.Ledger.Start(ctx); err != nil {
		return err
	}
	s.Scheduler.Start()
	s.Sync.ReloadTracked()

	s.log.WithField("identity", s.Identity()).WithField("tracked", len(s.Sync.Tracked())).Info("session started")
	return nil
}

// Close stops everything in reverse order of Start.
func (s *Session) Close(ctx context.Context) error {
	s.Scheduler.Stop(ctx)
	err := s.Ledger.Close()
	s.Sync.Stop()
	s.Store.Close()
	return err
}
