// Package ledgertest provides an in-memory ledger contract for tests.
//
// Ledger holds the contract state; Client binds it to one signer and
// satisfies the read, submit and subscribe surface of ledger.Client. Events
// are dispatched synchronously after a submission is applied.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
)

type userState struct {
	staked, earned *big.Int
	streak         uint64
	active         bool
}

type therapistState struct {
	name     string
	sessions uint64
	active   bool
	earnings *big.Int
}

type bookingState struct {
	index     uint64
	user      string
	therapist string
	createdAt time.Time
	fee       *big.Int
	report    string
	status    domain.BookingStatus
}

type fault struct {
	err   error
	apply bool
}

// Ledger is the shared contract state.
type Ledger struct {
	mu         sync.Mutex
	users      map[string]*userState
	therapists map[string]*therapistState
	bookings   []*bookingState
	perTherap  map[string]uint64
	height     uint32
	txCounter  uint64
	minFee     *big.Int
	maxFee     *big.Int
	faults     map[ledger.Operation][]fault
	readErr    error
	readHook   func(ctx context.Context, field ledger.Field, address string)
	now        func() time.Time

	dispatchMu sync.Mutex
	dispatcher *ledger.Dispatcher

	reads   atomic.Int64
	submits atomic.Int64
}

// New creates an empty ledger at height 1.
func New() *Ledger {
	return &Ledger{
		users:      make(map[string]*userState),
		therapists: make(map[string]*therapistState),
		perTherap:  make(map[string]uint64),
		height:     1,
		faults:     make(map[ledger.Operation][]fault),
		dispatcher: ledger.NewDispatcher(),
		now:        time.Now,
	}
}

// Client binds the ledger to a signer address.
func (l *Ledger) Client(signer string) *Client {
	return &Client{ledger: l, signer: signer}
}

// SetFeeBounds makes bookTherapist enforce [lo, hi].
func (l *Ledger) SetFeeBounds(lo, hi *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minFee, l.maxFee = lo, hi
}

// FailNext makes the next submission of op fail with err without applying it.
func (l *Ledger) FailNext(op ledger.Operation, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], fault{err: err})
}

// FailAfterApply makes the next submission of op take effect on the ledger
// and then return err, as when a confirmation is lost in transit.
func (l *Ledger) FailAfterApply(op ledger.Operation, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], fault{err: err, apply: true})
}

// SetReadError makes every read fail with err until cleared with nil.
func (l *Ledger) SetReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// SetReadHook installs a callback run before every read, outside the lock.
func (l *Ledger) SetReadHook(hook func(ctx context.Context, field ledger.Field, address string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readHook = hook
}

// Reads returns the number of ReadField calls so far.
func (l *Ledger) Reads() int64 { return l.reads.Load() }

// Submits returns the number of Submit calls so far.
func (l *Ledger) Submits() int64 { return l.submits.Load() }

// Calls returns reads plus submits.
func (l *Ledger) Calls() int64 { return l.Reads() + l.Submits() }

// Dispatch delivers an event to subscribers as if the chain emitted it.
func (l *Ledger) Dispatch(ev ledger.Event) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	l.dispatcher.Dispatch(ev)
}

// Fund credits earned tokens directly, standing in for rewards granted by
// other contract paths.
func (l *Ledger) Fund(user string, earned int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u := l.user(user)
	u.earned.Add(u.earned, big.NewInt(earned))
	u.active = true
	l.height++
}

// Earned returns the ledger-side earned balance of user.
func (l *Ledger) Earned(user string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[user]; ok {
		return new(big.Int).Set(u.earned)
	}
	return new(big.Int)
}

// Staked returns the ledger-side staked balance of user.
func (l *Ledger) Staked(user string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[user]; ok {
		return new(big.Int).Set(u.staked)
	}
	return new(big.Int)
}

func (l *Ledger) user(addr string) *userState {
	u, ok := l.users[addr]
	if !ok {
		u = &userState{staked: new(big.Int), earned: new(big.Int)}
		l.users[addr] = u
	}
	return u
}

// Client is a signer-bound view of a Ledger.
type Client struct {
	ledger *Ledger
	signer string
}

// Identity returns the signer address.
func (c *Client) Identity() string { return c.signer }

// Height returns the ledger height.
func (c *Client) Height(context.Context) (uint32, error) {
	c.ledger.mu.Lock()
	defer c.ledger.mu.Unlock()
	if c.ledger.readErr != nil {
		return 0, errors.Transport("getblockcount", c.ledger.readErr)
	}
	return c.ledger.height, nil
}

// Subscribe registers h for kind.
func (c *Client) Subscribe(kind ledger.EventKind, h ledger.Handler) (*ledger.Subscription, error) {
	return c.ledger.dispatcher.Subscribe(kind, h), nil
}

// Unsubscribe removes sub.
func (c *Client) Unsubscribe(sub *ledger.Subscription) {
	c.ledger.dispatcher.Unsubscribe(sub)
}

// ReadField answers the contract's read methods.
func (c *Client) ReadField(ctx context.Context, field ledger.Field, addr string) (chain.StackItem, error) {
	l := c.ledger
	l.reads.Add(1)

	l.mu.Lock()
	hook, readErr := l.readHook, l.readErr
	l.mu.Unlock()
	if hook != nil {
		hook(ctx, field, addr)
	}
	if readErr != nil {
		return chain.StackItem{}, errors.Transport(string(field), readErr)
	}
	if err := ctx.Err(); err != nil {
		return chain.StackItem{}, errors.Transport(string(field), err)
	}
	if _, err := address.StringToUint160(addr); err != nil {
		return chain.StackItem{}, errors.Format(errors.ReasonInvalidAddress, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch field {
	case ledger.FieldUserAccount:
		u, ok := l.users[addr]
		if !ok {
			return chain.NullItem(), nil
		}
		return chain.ArrayItem(chain.IntegerItem(u.staked), chain.IntegerItem(u.earned),
			chain.IntegerItem(new(big.Int).SetUint64(u.streak)), chain.BoolItem(u.active)), nil
	case ledger.FieldTherapistProfile:
		t, ok := l.therapists[addr]
		if !ok {
			return chain.ArrayItem(chain.NullItem(), chain.Int64Item(0), chain.BoolItem(false), chain.Int64Item(0)), nil
		}
		return chain.ArrayItem(chain.StringItem(t.name), chain.IntegerItem(new(big.Int).SetUint64(t.sessions)),
			chain.BoolItem(t.active), chain.IntegerItem(t.earnings)), nil
	case ledger.FieldUserBookings, ledger.FieldTherapistBookings:
		var rows []chain.StackItem
		for _, b := range l.bookings {
			if (field == ledger.FieldUserBookings && b.user == addr) ||
				(field == ledger.FieldTherapistBookings && b.therapist == addr) {
				rows = append(rows, encodeBooking(b))
			}
		}
		return chain.ArrayItem(rows...), nil
	}
	return chain.StackItem{}, errors.RejectedByLedger(string(field), "unknown method", nil)
}

func encodeBooking(b *bookingState) chain.StackItem {
	report := chain.NullItem()
	if b.report != "" {
		report = chain.StringItem(b.report)
	}
	return chain.ArrayItem(
		chain.IntegerItem(new(big.Int).SetUint64(b.index)),
		hashItem(b.user),
		hashItem(b.therapist),
		chain.Int64Item(b.createdAt.UnixMilli()),
		chain.IntegerItem(b.fee),
		report,
		chain.Int64Item(int64(b.status)),
	)
}

func hashItem(addr string) chain.StackItem {
	h, err := address.StringToUint160(addr)
	if err != nil {
		panic(fmt.Sprintf("ledgertest: invalid address %q", addr))
	}
	return chain.Hash160Item(h)
}

// Submit applies op with the contract's rules.
func (c *Client) Submit(ctx context.Context, op ledger.Operation, args ...chain.ContractParam) (*ledger.Confirmation, error) {
	l := c.ledger
	l.submits.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, errors.Transport(string(op), err)
	}

	l.mu.Lock()
	var injected *fault
	if queue := l.faults[op]; len(queue) > 0 {
		f := queue[0]
		l.faults[op] = queue[1:]
		injected = &f
	}
	if injected != nil && !injected.apply {
		l.mu.Unlock()
		return nil, injected.err
	}

	events, err := l.apply(c.signer, op, args)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.height++
	l.txCounter++
	conf := &ledger.Confirmation{TxHash: fmt.Sprintf("0x%064x", l.txCounter), GasConsumed: 1000000}
	for i := range events {
		events[i].Position = chain.Position{Block: l.height - 1, Notification: i}
		events[i].TxHash = conf.TxHash
	}
	conf.Events = events
	l.mu.Unlock()

	for _, ev := range events {
		l.Dispatch(ev)
	}
	if injected != nil {
		return nil, injected.err
	}
	return conf, nil
}

func (l *Ledger) apply(caller string, op ledger.Operation, args []chain.ContractParam) ([]ledger.Event, error) {
	name := string(op)
	reject := func(reason string) error { return errors.RejectedByLedger(name, reason, nil) }

	switch op {
	case ledger.OpStake, ledger.OpUnstake, ledger.OpCompleteTask, ledger.OpRedeem:
		amount, err := intArg(args, 0)
		if err != nil {
			return nil, reject(err.Error())
		}
		if amount.Sign() <= 0 {
			return nil, reject(errors.ReasonAmountNotPositive)
		}
		u := l.user(caller)
		switch op {
		case ledger.OpStake:
			u.staked.Add(u.staked, amount)
			u.active = true
			return []ledger.Event{{Kind: ledger.EventTokensStaked, User: caller, Amount: amount}}, nil
		case ledger.OpUnstake:
			if u.staked.Cmp(amount) < 0 {
				return nil, reject(errors.ReasonInsufficientStaked)
			}
			u.staked.Sub(u.staked, amount)
			return []ledger.Event{{Kind: ledger.EventTokensUnstaked, User: caller, Amount: amount}}, nil
		case ledger.OpCompleteTask:
			u.earned.Add(u.earned, amount)
			u.streak++
			u.active = true
			return []ledger.Event{{Kind: ledger.EventTaskCompleted, User: caller, Amount: amount}}, nil
		default:
			if u.earned.Cmp(amount) < 0 {
				return nil, reject(errors.ReasonInsufficientEarned)
			}
			u.earned.Sub(u.earned, amount)
			return []ledger.Event{{Kind: ledger.EventTokensRedeemed, User: caller, Amount: amount}}, nil
		}

	case ledger.OpRegisterTherapist:
		name, err := stringArg(args, 0)
		if err != nil {
			return nil, reject(err.Error())
		}
		if strings.TrimSpace(name) == "" {
			return nil, reject(errors.ReasonEmptyName)
		}
		if _, ok := l.therapists[caller]; ok {
			return nil, reject(errors.ReasonTherapistRegistered)
		}
		l.therapists[caller] = &therapistState{name: name, active: true, earnings: new(big.Int)}
		return []ledger.Event{{Kind: ledger.EventTherapistRegistered, Therapist: caller, Name: name}}, nil

	case ledger.OpDeactivateTherapist, ledger.OpReactivateTherapist:
		t, ok := l.therapists[caller]
		if !ok {
			return nil, reject(errors.ReasonTherapistNotFound)
		}
		if op == ledger.OpDeactivateTherapist {
			if !t.active {
				return nil, reject(errors.ReasonTherapistInactive)
			}
			t.active = false
			return []ledger.Event{{Kind: ledger.EventTherapistDeactivated, Therapist: caller}}, nil
		}
		if t.active {
			return nil, reject(errors.ReasonTherapistActive)
		}
		t.active = true
		return []ledger.Event{{Kind: ledger.EventTherapistReactivated, Therapist: caller}}, nil

	case ledger.OpBookTherapist:
		therapist, err := addressArg(args, 0)
		if err != nil {
			return nil, reject(errors.ReasonInvalidAddress)
		}
		fee, err := intArg(args, 1)
		if err != nil {
			return nil, reject(err.Error())
		}
		t, ok := l.therapists[therapist]
		if !ok {
			return nil, reject(errors.ReasonTherapistNotFound)
		}
		if !t.active {
			return nil, reject(errors.ReasonTherapistInactive)
		}
		if therapist == caller {
			return nil, reject(errors.ReasonSelfBooking)
		}
		if fee.Sign() <= 0 || (l.minFee != nil && fee.Cmp(l.minFee) < 0) || (l.maxFee != nil && fee.Cmp(l.maxFee) > 0) {
			return nil, reject(errors.ReasonFeeOutOfRange)
		}
		u := l.user(caller)
		if u.earned.Cmp(fee) < 0 {
			return nil, reject(errors.ReasonInsufficientEarned)
		}
		u.earned.Sub(u.earned, fee)

		index := l.perTherap[therapist]
		l.perTherap[therapist] = index + 1
		l.bookings = append(l.bookings, &bookingState{
			index:     index,
			user:      caller,
			therapist: therapist,
			createdAt: l.now().UTC().Truncate(time.Millisecond),
			fee:       new(big.Int).Set(fee),
			status:    domain.BookingPending,
		})
		return []ledger.Event{{Kind: ledger.EventSessionBooked, User: caller, Therapist: therapist, Amount: fee, BookingIndex: index}}, nil

	case ledger.OpCancelBooking:
		therapist, err := addressArg(args, 0)
		if err != nil {
			return nil, reject(errors.ReasonInvalidAddress)
		}
		index, err := intArg(args, 1)
		if err != nil {
			return nil, reject(err.Error())
		}
		b := l.booking(therapist, index.Uint64())
		if b == nil {
			return nil, reject(errors.ReasonBookingNotFound)
		}
		if b.status != domain.BookingPending {
			return nil, reject(errors.ReasonBookingNotPending)
		}
		if b.report != "" {
			return nil, reject(errors.ReasonReportPresent)
		}
		b.status = domain.BookingCancelled
		u := l.user(b.user)
		u.earned.Add(u.earned, b.fee)
		return []ledger.Event{{Kind: ledger.EventBookingCancelled, User: b.user, Therapist: b.therapist, BookingIndex: b.index}}, nil

	case ledger.OpUploadReport:
		index, err := intArg(args, 0)
		if err != nil {
			return nil, reject(err.Error())
		}
		ref, err := stringArg(args, 1)
		if err != nil {
			return nil, reject(err.Error())
		}
		b := l.booking(caller, index.Uint64())
		if b == nil {
			return nil, reject(errors.ReasonBookingNotFound)
		}
		if b.status != domain.BookingPending {
			return nil, reject(errors.ReasonBookingNotPending)
		}
		if b.report != "" {
			return nil, reject(errors.ReasonReportPresent)
		}
		if strings.TrimSpace(ref) == "" {
			return nil, reject(errors.ReasonEmptyReport)
		}
		b.report = ref
		b.status = domain.BookingCompleted
		t := l.therapists[caller]
		t.sessions++
		t.earnings.Add(t.earnings, b.fee)
		return []ledger.Event{{Kind: ledger.EventReportUploaded, User: b.user, Therapist: caller, Reference: ref, BookingIndex: b.index}}, nil
	}
	return nil, reject("unknown method")
}

func (l *Ledger) booking(therapist string, index uint64) *bookingState {
	for _, b := range l.bookings {
		if b.therapist == therapist && b.index == index {
			return b
		}
	}
	return nil
}

func arg(args []chain.ContractParam, i int, typ string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	if args[i].Type != typ {
		return "", fmt.Errorf("argument %d: expected %s, got %s", i, typ, args[i].Type)
	}
	s, ok := args[i].Value.(string)
	if !ok {
		return "", fmt.Errorf("argument %d: unexpected value %T", i, args[i].Value)
	}
	return s, nil
}

func intArg(args []chain.ContractParam, i int) (*big.Int, error) {
	s, err := arg(args, i, "Integer")
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("argument %d: invalid integer %q", i, s)
	}
	return n, nil
}

func stringArg(args []chain.ContractParam, i int) (string, error) {
	return arg(args, i, "String")
}

func addressArg(args []chain.ContractParam, i int) (string, error) {
	s, err := arg(args, i, "Hash160")
	if err != nil {
		return "", err
	}
	h, err := util.Uint160DecodeStringLE(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return "", err
	}
	return address.Uint160ToString(h), nil
}
