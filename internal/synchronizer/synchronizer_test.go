package synchronizer_test

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/ledger/ledgertest"
	"github.com/R3E-Network/habit_ledger/internal/projection"
	"github.com/R3E-Network/habit_ledger/internal/synchronizer"
)

type replaceRecorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *replaceRecorder) ObserveReplace(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	r.seen[kind+"/"+outcome]++
}

func (r *replaceRecorder) count(kind, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[kind+"/"+outcome]
}

// gatedReader runs after once a read has returned and before its result is
// applied.
type gatedReader struct {
	synchronizer.Reader
	after func(field ledger.Field, address string)
}

func (g gatedReader) ReadField(ctx context.Context, field ledger.Field, address string) (chain.StackItem, error) {
	item, err := g.Reader.ReadField(ctx, field, address)
	if g.after != nil {
		g.after(field, address)
	}
	return item, err
}

type fixture struct {
	ledger    *ledgertest.Ledger
	store     *projection.Store
	sync      *synchronizer.Synchronizer
	replaces  *replaceRecorder
	user      string
	therapist string
}

func newFixture(t *testing.T, wrap func(synchronizer.Reader) synchronizer.Reader) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    ledgertest.New(),
		replaces:  &replaceRecorder{},
		user:      ledgertest.NewAddress(t),
		therapist: ledgertest.NewAddress(t),
	}
	f.store = projection.NewStore(projection.Options{Metrics: f.replaces})
	var reader synchronizer.Reader = f.ledger.Client(f.user)
	if wrap != nil {
		reader = wrap(reader)
	}
	f.sync = synchronizer.New(reader, f.store, projection.NewStamper(), synchronizer.Options{})
	t.Cleanup(func() {
		f.sync.Stop()
		f.store.Close()
	})
	return f
}

func (f *fixture) submit(t *testing.T, signer string, op ledger.Operation, args ...chain.ContractParam) {
	t.Helper()
	_, err := f.ledger.Client(signer).Submit(context.Background(), op, args...)
	require.NoError(t, err)
}

func (f *fixture) bookSession(t *testing.T) {
	t.Helper()
	f.ledger.Fund(f.user, 100)
	f.submit(t, f.therapist, ledger.OpRegisterTherapist, chain.NewStringParam("Dr. Calm"))
	tp, err := chain.NewHash160ParamFromAddress(f.therapist)
	require.NoError(t, err)
	f.submit(t, f.user, ledger.OpBookTherapist, tp, chain.NewIntegerParam(big.NewInt(25)))
}

func TestSynchronizer_FullReload(t *testing.T) {
	f := newFixture(t, nil)
	f.bookSession(t)

	require.NoError(t, f.sync.FullReload(context.Background(), f.user))
	require.NoError(t, f.sync.FullReload(context.Background(), f.therapist))

	u, ok := f.store.User(f.user)
	require.True(t, ok)
	assert.Equal(t, "75", u.Earned.String())

	tp, ok := f.store.Therapist(f.therapist)
	require.True(t, ok)
	assert.Equal(t, "Dr. Calm", tp.DisplayName)
	assert.True(t, tp.Active)

	_, ok = f.store.Therapist(f.user)
	assert.False(t, ok, "unregistered address has no profile")

	b, ok := f.store.Booking(domain.BookingKey{Therapist: f.therapist, Index: 0})
	require.True(t, ok)
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, "25", b.SessionFee.String())
	assert.Len(t, f.store.UserBookings(f.user), 1)
}

func TestSynchronizer_UnknownAddressIsZeroAccount(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sync.Refresh(context.Background(), f.user, synchronizer.ScopeUser))

	u, ok := f.store.User(f.user)
	require.True(t, ok)
	assert.Zero(t, u.Staked.Sign())
	assert.Zero(t, u.Earned.Sign())
}

func TestSynchronizer_CoalescesRequests(t *testing.T) {
	var userReads atomic.Int32
	entered, release := make(chan struct{}), make(chan struct{})

	f := newFixture(t, nil)
	f.ledger.SetReadHook(func(_ context.Context, field ledger.Field, _ string) {
		if field != ledger.FieldUserAccount {
			return
		}
		if userReads.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	first := make(chan error, 1)
	go func() { first <- f.sync.Refresh(context.Background(), f.user, synchronizer.ScopeUser) }()
	<-entered

	for i := 0; i < 5; i++ {
		f.sync.Enqueue(f.user, synchronizer.ScopeUser)
	}
	second := make(chan error, 1)
	go func() { second <- f.sync.Refresh(context.Background(), f.user, synchronizer.ScopeUser) }()

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(2), userReads.Load())
}

func TestSynchronizer_StaleResultArrivingLastIsDiscarded(t *testing.T) {
	ctx := context.Background()
	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once

	var f *fixture
	f = newFixture(t, func(r synchronizer.Reader) synchronizer.Reader {
		return gatedReader{Reader: r, after: func(field ledger.Field, addr string) {
			if field == ledger.FieldUserBookings && addr == f.user {
				once.Do(func() {
					close(entered)
					<-release
				})
			}
		}}
	})
	f.bookSession(t)

	slow := make(chan error, 1)
	go func() { slow <- f.sync.Refresh(ctx, f.user, synchronizer.ScopeBookings) }()
	<-entered

	// the slow run now holds a Pending copy; the ledger moves on
	f.submit(t, f.therapist, ledger.OpUploadReport, chain.NewIntegerParam(big.NewInt(0)), chain.NewStringParam("ipfs://report"))
	require.NoError(t, f.sync.Refresh(ctx, f.therapist, synchronizer.ScopeBookings))

	close(release)
	require.NoError(t, <-slow)

	b, ok := f.store.Booking(domain.BookingKey{Therapist: f.therapist, Index: 0})
	require.True(t, ok)
	assert.Equal(t, domain.BookingCompleted, b.Status)
	assert.Equal(t, "ipfs://report", b.ReportReference)
	assert.Equal(t, 1, f.replaces.count(string(domain.KindBooking), "stale"))
}

func TestSynchronizer_StaleResultArrivingFirstIsReplaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.bookSession(t)

	require.NoError(t, f.sync.Refresh(ctx, f.user, synchronizer.ScopeBookings))
	f.submit(t, f.therapist, ledger.OpUploadReport, chain.NewIntegerParam(big.NewInt(0)), chain.NewStringParam("ipfs://report"))
	require.NoError(t, f.sync.Refresh(ctx, f.therapist, synchronizer.ScopeBookings))

	b, ok := f.store.Booking(domain.BookingKey{Therapist: f.therapist, Index: 0})
	require.True(t, ok)
	assert.Equal(t, domain.BookingCompleted, b.Status)
	assert.Zero(t, f.replaces.count(string(domain.KindBooking), "stale"))
}

func TestSynchronizer_LaterReadWinsAcrossAddresses(t *testing.T) {
	ctx := context.Background()
	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once

	f := newFixture(t, nil)
	f.bookSession(t)
	f.ledger.SetReadHook(func(_ context.Context, field ledger.Field, addr string) {
		if field == ledger.FieldUserBookings && addr == f.user {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})

	// the user's run has read the height but not yet its bookings
	userRun := make(chan error, 1)
	go func() { userRun <- f.sync.Refresh(ctx, f.user, synchronizer.ScopeBookings) }()
	<-entered

	require.NoError(t, f.sync.Refresh(ctx, f.therapist, synchronizer.ScopeBookings))
	b, ok := f.store.Booking(domain.BookingKey{Therapist: f.therapist, Index: 0})
	require.True(t, ok)
	require.Equal(t, domain.BookingPending, b.Status)

	f.submit(t, f.therapist, ledger.OpUploadReport, chain.NewIntegerParam(big.NewInt(0)), chain.NewStringParam("ipfs://report"))
	close(release)
	require.NoError(t, <-userRun)

	b, ok = f.store.Booking(domain.BookingKey{Therapist: f.therapist, Index: 0})
	require.True(t, ok)
	assert.Equal(t, domain.BookingCompleted, b.Status)
	assert.Equal(t, "ipfs://report", b.ReportReference)
	assert.Zero(t, f.replaces.count(string(domain.KindBooking), "stale"))
}

func TestSynchronizer_ReconcileOnEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.Track(f.user)
	require.NoError(t, f.sync.Start(context.Background(), f.ledger.Client(f.user)))

	f.submit(t, f.user, ledger.OpStake, chain.NewIntegerParam(big.NewInt(10)))
	require.Eventually(t, func() bool {
		u, ok := f.store.User(f.user)
		return ok && u.Staked.Cmp(big.NewInt(10)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	f.submit(t, f.therapist, ledger.OpRegisterTherapist, chain.NewStringParam("Untracked"))
	assert.Never(t, func() bool {
		_, ok := f.store.Therapist(f.therapist)
		return ok
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSynchronizer_UncorrelatedEventReloadsTracked(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.Fund(f.user, 40)
	f.sync.Track(f.user)
	require.NoError(t, f.sync.Start(context.Background(), f.ledger.Client(f.user)))

	f.ledger.Dispatch(ledger.Event{Kind: ledger.EventTokensRedeemed})
	require.Eventually(t, func() bool {
		u, ok := f.store.User(f.user)
		return ok && u.Earned.Cmp(big.NewInt(40)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSynchronizer_ForeignNotificationReloadsTracked(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.Fund(f.user, 15)
	f.sync.Track(f.user)
	require.NoError(t, f.sync.Start(context.Background(), f.ledger.Client(f.user)))

	f.ledger.Dispatch(ledger.Event{Kind: "Transfer"})
	require.Eventually(t, func() bool {
		u, ok := f.store.User(f.user)
		return ok && u.Earned.Cmp(big.NewInt(15)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSynchronizer_ReadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.SetReadError(context.DeadlineExceeded)

	err := f.sync.FullReload(context.Background(), f.user)
	require.Error(t, err)
	_, ok := f.store.User(f.user)
	assert.False(t, ok)
}

func TestSynchronizer_Stop(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.Track(f.user)
	require.NoError(t, f.sync.Start(context.Background(), f.ledger.Client(f.user)))
	f.sync.Stop()

	err := f.sync.Refresh(context.Background(), f.user, synchronizer.ScopeUser)
	assert.ErrorIs(t, err, synchronizer.ErrStopped)
	assert.Equal(t, []string{f.user}, f.sync.Tracked())
}
