package projection

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/domain"
)

func user(addr string, earned int64) domain.UserAccount {
	u := domain.NewUserAccount(addr)
	u.Earned.SetInt64(earned)
	return u
}

func booking(status domain.BookingStatus) domain.Booking {
	return domain.Booking{
		Index:      0,
		User:       "NUser",
		Therapist:  "NTherapist",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionFee: big.NewInt(25),
		Status:     status,
	}
}

func TestStore_StaleMarkerDiscarded(t *testing.T) {
	s := NewStore(Options{})

	require.NoError(t, s.ReplaceUser(user("NUser", 40), Marker{Height: 10, Stamp: 2}))
	err := s.ReplaceUser(user("NUser", 90), Marker{Height: 10, Stamp: 1})
	assert.ErrorIs(t, err, ErrStale)
	err = s.ReplaceUser(user("NUser", 90), Marker{Height: 9, Stamp: 99})
	assert.ErrorIs(t, err, ErrStale)

	u, ok := s.User("NUser")
	require.True(t, ok)
	assert.Equal(t, "40", u.Earned.String())

	require.NoError(t, s.ReplaceUser(user("NUser", 10), Marker{Height: 11, Stamp: 0}))
	u, _ = s.User("NUser")
	assert.Equal(t, "10", u.Earned.String())
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore(Options{})
	require.NoError(t, s.ReplaceUser(user("NUser", 40), Marker{Height: 1}))

	u, _ := s.User("NUser")
	u.Earned.SetInt64(0)

	again, _ := s.User("NUser")
	assert.Equal(t, "40", again.Earned.String())
}

func TestStore_TerminalBookingNeverLeaves(t *testing.T) {
	s := NewStore(Options{})
	require.NoError(t, s.ReplaceBooking(booking(domain.BookingPending), Marker{Height: 1}))
	require.NoError(t, s.ReplaceBooking(booking(domain.BookingCompleted), Marker{Height: 2}))

	err := s.ReplaceBooking(booking(domain.BookingPending), Marker{Height: 3})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	err = s.ReplaceBooking(booking(domain.BookingCancelled), Marker{Height: 3})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	b, ok := s.Booking(domain.BookingKey{Therapist: "NTherapist", Index: 0})
	require.True(t, ok)
	assert.Equal(t, domain.BookingCompleted, b.Status)

	require.NoError(t, s.ReplaceBooking(booking(domain.BookingCompleted), Marker{Height: 4}))
}

func TestStore_BookingFeeNeverChanges(t *testing.T) {
	s := NewStore(Options{})
	require.NoError(t, s.ReplaceBooking(booking(domain.BookingPending), Marker{Height: 1}))

	repriced := booking(domain.BookingPending)
	repriced.SessionFee = big.NewInt(30)
	err := s.ReplaceBooking(repriced, Marker{Height: 2})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	b, ok := s.Booking(domain.BookingKey{Therapist: "NTherapist", Index: 0})
	require.True(t, ok)
	assert.Equal(t, "25", b.SessionFee.String())
}

func TestStore_GetAndListings(t *testing.T) {
	s := NewStore(Options{})
	b0 := booking(domain.BookingPending)
	b1 := booking(domain.BookingCancelled)
	b1.Index = 1
	b1.CreatedAt = b0.CreatedAt.Add(time.Hour)
	require.NoError(t, s.ReplaceBooking(b1, Marker{Height: 1}))
	require.NoError(t, s.ReplaceBooking(b0, Marker{Height: 1}))
	require.NoError(t, s.ReplaceTherapist(domain.TherapistProfile{Address: "NTherapist", DisplayName: "Dr", Active: true}, Marker{Height: 1}))

	list := s.TherapistBookings("NTherapist")
	require.Len(t, list, 2)
	assert.Equal(t, uint64(0), list[0].Index)
	assert.Len(t, s.UserBookings("NUser"), 2)
	assert.Empty(t, s.UserBookings("NOther"))

	v, m, ok := s.Get(domain.KindBooking, "NTherapist/1")
	require.True(t, ok)
	assert.Equal(t, uint32(1), m.Height)
	assert.Equal(t, domain.BookingCancelled, v.(domain.Booking).Status)

	v, _, ok = s.Get(domain.KindTherapist, "NTherapist")
	require.True(t, ok)
	assert.True(t, v.(domain.TherapistProfile).Active)

	_, _, ok = s.Get(domain.KindBooking, "garbage")
	assert.False(t, ok)
}

func TestStore_ViewIsStable(t *testing.T) {
	s := NewStore(Options{})
	require.NoError(t, s.ReplaceUser(user("NUser", 1), Marker{Height: 1}))
	view := s.View()
	require.NoError(t, s.ReplaceUser(user("NUser", 2), Marker{Height: 2}))

	old, _ := view.User("NUser")
	assert.Equal(t, "1", old.Earned.String())
}

func TestStore_Watch(t *testing.T) {
	s := NewStore(Options{})
	changes, cancel := s.Watch(4)
	defer cancel()

	require.NoError(t, s.ReplaceUser(user("NUser", 1), Marker{Height: 1}))
	_ = s.ReplaceUser(user("NUser", 0), Marker{Height: 0})

	select {
	case c := <-changes:
		assert.Equal(t, domain.KindUser, c.Kind)
		assert.Equal(t, "NUser", c.Key)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
	select {
	case c := <-changes:
		t.Fatalf("stale replacement published %+v", c)
	default:
	}
}

type memPersister struct {
	mu      sync.Mutex
	records map[string]Record
	failed  bool
}

func (m *memPersister) Save(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errors.New("down")
	}
	k := string(r.Kind) + ":" + r.Key
	if cur, ok := m.records[k]; ok && r.Marker.Less(cur.Marker) {
		return nil
	}
	m.records[k] = r
	return nil
}

func (m *memPersister) LoadAll(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func TestStore_PersistAndLoad(t *testing.T) {
	p := &memPersister{records: map[string]Record{}}
	s := NewStore(Options{Persister: p})
	require.NoError(t, s.ReplaceUser(user("NUser", 40), Marker{Height: 3, Stamp: 500}))
	require.NoError(t, s.ReplaceTherapist(domain.TherapistProfile{Address: "NTherapist", DisplayName: "Dr", TotalEarnings: big.NewInt(7)}, Marker{Height: 3, Stamp: 501}))
	require.NoError(t, s.ReplaceBooking(booking(domain.BookingPending), Marker{Height: 3, Stamp: 502}))
	s.Close()
	assert.Len(t, p.records, 3)

	warm := NewStore(Options{Persister: p})
	defer warm.Close()
	stamper := NewStamper()
	stamper.now = func() time.Time { return time.Unix(0, 100) }

	n, err := warm.Load(context.Background(), stamper)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	u, ok := warm.User("NUser")
	require.True(t, ok)
	assert.Equal(t, "40", u.Earned.String())
	b, ok := warm.Booking(domain.BookingKey{Therapist: "NTherapist", Index: 0})
	require.True(t, ok)
	assert.Equal(t, int64(25), b.SessionFee.Int64())

	assert.Greater(t, stamper.Next(), int64(502))
}

func TestStore_ReplaceAfterCloseDoesNotPanic(t *testing.T) {
	p := &memPersister{records: map[string]Record{}}
	s := NewStore(Options{Persister: p})
	s.Close()
	assert.NoError(t, s.ReplaceUser(user("NUser", 1), Marker{Height: 1}))
}
