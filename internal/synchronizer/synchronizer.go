// Package synchronizer reconciles the projection store with the ledger.
//
// Every address has at most one reload in flight. Requests that arrive while
// a reload runs are merged into the next one, so a burst of events for one
// address costs at most two reloads. A result's marker is the ledger height
// read when its reload began plus a stamp taken when its read returned, so
// at equal heights the read that completed later wins. The store discards
// older markers.
package synchronizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/projection"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// DefaultRunTimeout bounds one background reload.
const DefaultRunTimeout = 30 * time.Second

// ErrStopped is returned for requests made after Stop.
var ErrStopped = stderrors.New("synchronizer: stopped")

// Reader is the read side of the ledger client.
type Reader interface {
	Height(ctx context.Context) (uint32, error)
	ReadField(ctx context.Context, field ledger.Field, address string) (chain.StackItem, error)
}

// Subscriber is the event side of the ledger client.
type Subscriber interface {
	Subscribe(kind ledger.EventKind, h ledger.Handler) (*ledger.Subscription, error)
	Unsubscribe(sub *ledger.Subscription)
}

// Metrics receives reload outcomes.
type Metrics interface {
	ObserveReconcile(scope, outcome string, d time.Duration)
}

// Options configures a Synchronizer.
type Options struct {
	Logger     *logger.Logger
	Metrics    Metrics
	RunTimeout time.Duration
}

type addrState struct {
	running bool
	pending Scope
	waiters []chan error
}

// Synchronizer is the only writer to the projection store.
type Synchronizer struct {
	reader  Reader
	store   *projection.Store
	stamper *projection.Stamper
	log     *logger.Logger
	metrics Metrics
	timeout time.Duration

	mu      sync.Mutex
	addrs   map[string]*addrState
	tracked map[string]struct{}
	stopped bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subscriber Subscriber
	subs       []*ledger.Subscription
}

// New creates a synchronizer writing into store.
func New(reader Reader, store *projection.Store, stamper *projection.Stamper, opts Options) *Synchronizer {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	if stamper == nil {
		stamper = projection.NewStamper()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		reader:  reader,
		store:   store,
		stamper: stamper,
		log:     log,
		metrics: opts.Metrics,
		timeout: timeout,
		addrs:   make(map[string]*addrState),
		tracked: make(map[string]struct{}),
		base:    base,
		cancel:  cancel,
	}
}

// =============================================================================
// Tracking
// =============================================================================

// Track adds address to the set reconciled on events and schedules.
func (s *Synchronizer) Track(address string) {
	s.mu.Lock()
	s.tracked[address] = struct{}{}
	s.mu.Unlock()
}

// Untrack removes address from the tracked set.
func (s *Synchronizer) Untrack(address string) {
	s.mu.Lock()
	delete(s.tracked, address)
	s.mu.Unlock()
}

// Tracked returns the tracked addresses, sorted.
func (s *Synchronizer) Tracked() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tracked))
	for a := range s.tracked {
		out = append(out, a)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// IsTracked reports whether address is tracked.
func (s *Synchronizer) IsTracked(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[address]
	return ok
}

// =============================================================================
// Requests
// =============================================================================

// Refresh reloads scope for address and waits for the result. If a reload is
// already running, the request joins the following one.
func (s *Synchronizer) Refresh(ctx context.Context, address string, scope Scope) error {
	done := s.request(address, scope)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Transport("refresh", ctx.Err())
	}
}

// FullReload re-reads everything known about address and waits.
func (s *Synchronizer) FullReload(ctx context.Context, address string) error {
	return s.Refresh(ctx, address, ScopeAll)
}

// Enqueue schedules a reload without waiting.
func (s *Synchronizer) Enqueue(address string, scope Scope) {
	s.request(address, scope)
}

// ReloadTracked enqueues a full reload of every tracked address.
func (s *Synchronizer) ReloadTracked() {
	for _, addr := range s.Tracked() {
		s.Enqueue(addr, ScopeAll)
	}
}

// Reconcile enqueues reloads for the tracked addresses an event affects.
// Events that name no address reconcile every tracked address.
func (s *Synchronizer) Reconcile(ev ledger.Event) {
	targets := Targets(ev)
	if len(targets) == 0 {
		s.log.WithField("event", ev.Kind).WithField("tx", ev.TxHash).
			Debug("uncorrelated event, reloading all tracked addresses")
		s.ReloadTracked()
		return
	}
	for _, t := range targets {
		if s.IsTracked(t.Address) {
			s.Enqueue(t.Address, t.Scope)
		}
	}
}

func (s *Synchronizer) request(address string, scope Scope) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		done <- ErrStopped
		return done
	}
	st, ok := s.addrs[address]
	if !ok {
		st = &addrState{}
		s.addrs[address] = st
	}
	st.pending |= scope
	st.waiters = append(st.waiters, done)
	if !st.running {
		st.running = true
		s.wg.Add(1)
		go s.work(address, st)
	}
	return done
}

func (s *Synchronizer) work(address string, st *addrState) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if st.pending == 0 {
			st.running = false
			delete(s.addrs, address)
			s.mu.Unlock()
			return
		}
		scope, waiters := st.pending, st.waiters
		st.pending, st.waiters = 0, nil
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		err := s.reload(ctx, address, scope)
		cancel()

		for _, w := range waiters {
			w <- err
		}
	}
}

// =============================================================================
// Reload
// =============================================================================

func (s *Synchronizer) reload(ctx context.Context, address string, scope Scope) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			s.metrics.ObserveReconcile(scope.String(), outcome, time.Since(start))
		}
		if err != nil {
			s.log.WithError(err).WithField("address", address).WithField("scope", scope.String()).
				Warn("reload failed")
		}
	}()

	height, err := s.reader.Height(ctx)
	if err != nil {
		return err
	}

	var errs []error
	if scope&ScopeUser != 0 {
		errs = append(errs, s.reloadUser(ctx, address, height))
	}
	if scope&ScopeTherapist != 0 {
		errs = append(errs, s.reloadTherapist(ctx, address, height))
	}
	if scope&ScopeBookings != 0 {
		errs = append(errs,
			s.reloadBookings(ctx, ledger.FieldUserBookings, address, height),
			s.reloadBookings(ctx, ledger.FieldTherapistBookings, address, height))
	}
	return stderrors.Join(errs...)
}

// read performs one field read and stamps the result once the read returned.
func (s *Synchronizer) read(ctx context.Context, field ledger.Field, address string, height uint32) (chain.StackItem, projection.Marker, error) {
	item, err := s.reader.ReadField(ctx, field, address)
	if err != nil {
		return chain.StackItem{}, projection.Marker{}, err
	}
	return item, s.stamper.Mark(height), nil
}

func (s *Synchronizer) reloadUser(ctx context.Context, address string, height uint32) error {
	item, marker, err := s.read(ctx, ledger.FieldUserAccount, address, height)
	if err != nil {
		return err
	}
	u, err := ledger.DecodeUserAccount(address, item)
	if err != nil {
		return fmt.Errorf("decode user %s: %w", address, err)
	}
	return s.accept(s.store.ReplaceUser(u, marker))
}

func (s *Synchronizer) reloadTherapist(ctx context.Context, address string, height uint32) error {
	item, marker, err := s.read(ctx, ledger.FieldTherapistProfile, address, height)
	if err != nil {
		return err
	}
	t, err := ledger.DecodeTherapistProfile(address, item)
	if err != nil {
		return fmt.Errorf("decode therapist %s: %w", address, err)
	}
	if t == nil {
		return nil
	}
	return s.accept(s.store.ReplaceTherapist(*t, marker))
}

func (s *Synchronizer) reloadBookings(ctx context.Context, field ledger.Field, address string, height uint32) error {
	item, marker, err := s.read(ctx, field, address, height)
	if err != nil {
		return err
	}
	bookings, err := ledger.DecodeBookings(item)
	if err != nil {
		return fmt.Errorf("decode %s %s: %w", field, address, err)
	}
	var errs []error
	for _, b := range bookings {
		errs = append(errs, s.accept(s.store.ReplaceBooking(b, marker)))
	}
	return stderrors.Join(errs...)
}

// accept drops outcomes that only mean a newer value is already stored.
func (s *Synchronizer) accept(err error) error {
	switch {
	case err == nil, stderrors.Is(err, projection.ErrStale):
		return nil
	case stderrors.Is(err, projection.ErrIllegalTransition):
		s.log.WithError(err).Error("ledger reported an illegal booking change")
		return nil
	}
	return err
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start subscribes to every event kind, and to notifications of unknown
// kinds, and reconciles on each event.
func (s *Synchronizer) Start(_ context.Context, sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.subscriber != nil {
		return fmt.Errorf("synchronizer: already started")
	}
	for _, kind := range append(ledger.EventKinds(), ledger.EventOther) {
		h, err := sub.Subscribe(kind, s.Reconcile)
		if err != nil {
			for _, prev := range s.subs {
				sub.Unsubscribe(prev)
			}
			s.subs = nil
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		s.subs = append(s.subs, h)
	}
	s.subscriber = sub
	return nil
}

// Stop unsubscribes, abandons running reloads and waits for workers.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sub, subs := s.subscriber, s.subs
	s.subs = nil
	s.mu.Unlock()

	if sub != nil {
		for _, h := range subs {
			sub.Unsubscribe(h)
		}
	}
	s.cancel()
	s.wg.Wait()
}
