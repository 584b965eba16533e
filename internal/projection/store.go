// Package projection holds the client-side projection of ledger state.
//
// Reads never block: they load an immutable snapshot through an atomic
// pointer. Writers copy the touched map, apply the change and publish a new
// snapshot under a single mutex. Every replacement carries a Marker; older
// markers are discarded.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

var (
	// ErrStale is returned when a replacement is older than the stored value.
	ErrStale = errors.New("projection: stale marker")

	// ErrIllegalTransition is returned when a replacement would move a
	// booking out of a terminal status or change its session fee.
	ErrIllegalTransition = errors.New("projection: illegal booking transition")
)

type entry[T any] struct {
	value  T
	marker Marker
}

type snapshot struct {
	users      map[string]entry[domain.UserAccount]
	therapists map[string]entry[domain.TherapistProfile]
	bookings   map[domain.BookingKey]entry[domain.Booking]
}

// Change announces a replaced entity.
type Change struct {
	Kind   domain.EntityKind `json:"kind"`
	Key    string            `json:"key"`
	Marker Marker            `json:"marker"`
}

// Metrics receives replacement outcomes.
type Metrics interface {
	ObserveReplace(kind, outcome string)
}

// Options configures a Store.
type Options struct {
	Persister  Persister
	Logger     *logger.Logger
	Metrics    Metrics
	QueueDepth int
}

// Store is the projection store. Only the synchronizer writes to it.
type Store struct {
	snap atomic.Pointer[snapshot]
	mu   sync.Mutex

	watchMu  sync.Mutex
	watchers map[int]chan Change
	nextID   int

	persister Persister
	queue     chan Record
	done      chan struct{}
	closed    bool
	closeOnce sync.Once
	log       *logger.Logger
	metrics   Metrics
}

// NewStore creates an empty store. With a persister, accepted replacements
// are saved in the background in acceptance order.
func NewStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{
		watchers:  make(map[int]chan Change),
		persister: opts.Persister,
		log:       log,
		metrics:   opts.Metrics,
	}
	s.snap.Store(&snapshot{
		users:      map[string]entry[domain.UserAccount]{},
		therapists: map[string]entry[domain.TherapistProfile]{},
		bookings:   map[domain.BookingKey]entry[domain.Booking]{},
	})

	if s.persister != nil {
		depth := opts.QueueDepth
		if depth <= 0 {
			depth = 1024
		}
		s.queue = make(chan Record, depth)
		s.done = make(chan struct{})
		go s.persistLoop()
	}
	return s
}

// =============================================================================
// Reads
// =============================================================================

// View is an immutable point-in-time view of the store.
type View struct {
	s *snapshot
}

// View returns the current snapshot.
func (s *Store) View() View {
	return View{s: s.snap.Load()}
}

// User returns a copy of the projected account.
func (v View) User(address string) (domain.UserAccount, bool) {
	e, ok := v.s.users[address]
	return e.value.Clone(), ok
}

// Therapist returns a copy of the projected profile.
func (v View) Therapist(address string) (domain.TherapistProfile, bool) {
	e, ok := v.s.therapists[address]
	return e.value.Clone(), ok
}

// Booking returns a copy of the projected booking.
func (v View) Booking(key domain.BookingKey) (domain.Booking, bool) {
	e, ok := v.s.bookings[key]
	return e.value.Clone(), ok
}

// UserBookings returns the user's bookings, oldest first.
func (v View) UserBookings(address string) []domain.Booking {
	return v.bookings(func(b domain.Booking) bool { return b.User == address })
}

// TherapistBookings returns the therapist's bookings ordered by index.
func (v View) TherapistBookings(address string) []domain.Booking {
	return v.bookings(func(b domain.Booking) bool { return b.Therapist == address })
}

func (v View) bookings(match func(domain.Booking) bool) []domain.Booking {
	var out []domain.Booking
	for _, e := range v.s.bookings {
		if match(e.value) {
			out = append(out, e.value.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Therapist != out[j].Therapist {
			return out[i].Therapist < out[j].Therapist
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// Get returns the entity of kind under key along with its marker. Booking
// keys use BookingKey.String.
func (v View) Get(kind domain.EntityKind, key string) (any, Marker, bool) {
	switch kind {
	case domain.KindUser:
		e, ok := v.s.users[key]
		return e.value.Clone(), e.marker, ok
	case domain.KindTherapist:
		e, ok := v.s.therapists[key]
		return e.value.Clone(), e.marker, ok
	case domain.KindBooking:
		bk, err := domain.ParseBookingKey(key)
		if err != nil {
			return nil, Marker{}, false
		}
		e, ok := v.s.bookings[bk]
		return e.value.Clone(), e.marker, ok
	}
	return nil, Marker{}, false
}

// Get is View().Get.
func (s *Store) Get(kind domain.EntityKind, key string) (any, Marker, bool) {
	return s.View().Get(kind, key)
}

// User is View().User.
func (s *Store) User(address string) (domain.UserAccount, bool) { return s.View().User(address) }

// Therapist is View().Therapist.
func (s *Store) Therapist(address string) (domain.TherapistProfile, bool) {
	return s.View().Therapist(address)
}

// Booking is View().Booking.
func (s *Store) Booking(key domain.BookingKey) (domain.Booking, bool) { return s.View().Booking(key) }

// UserBookings is View().UserBookings.
func (s *Store) UserBookings(address string) []domain.Booking { return s.View().UserBookings(address) }

// TherapistBookings is View().TherapistBookings.
func (s *Store) TherapistBookings(address string) []domain.Booking {
	return s.View().TherapistBookings(address)
}

// =============================================================================
// Writes
// =============================================================================

// ReplaceUser replaces the account if marker is not older than the stored one.
func (s *Store) ReplaceUser(u domain.UserAccount, marker Marker) error {
	u = u.Clone()
	return s.replace(domain.KindUser, u.Address, marker, u, func(cur *snapshot) (*snapshot, error) {
		if e, ok := cur.users[u.Address]; ok && marker.Less(e.marker) {
			return nil, ErrStale
		}
		next := *cur
		next.users = copyMap(cur.users)
		next.users[u.Address] = entry[domain.UserAccount]{value: u, marker: marker}
		return &next, nil
	})
}

// ReplaceTherapist replaces the profile if marker is not older than the stored one.
func (s *Store) ReplaceTherapist(t domain.TherapistProfile, marker Marker) error {
	t = t.Clone()
	return s.replace(domain.KindTherapist, t.Address, marker, t, func(cur *snapshot) (*snapshot, error) {
		if e, ok := cur.therapists[t.Address]; ok && marker.Less(e.marker) {
			return nil, ErrStale
		}
		next := *cur
		next.therapists = copyMap(cur.therapists)
		next.therapists[t.Address] = entry[domain.TherapistProfile]{value: t, marker: marker}
		return &next, nil
	})
}

// ReplaceBooking replaces the booking if marker is not older than the stored
// one, the status change is legal and the session fee is unchanged.
func (s *Store) ReplaceBooking(b domain.Booking, marker Marker) error {
	b = b.Clone()
	key := b.Key()
	return s.replace(domain.KindBooking, key.String(), marker, b, func(cur *snapshot) (*snapshot, error) {
		if e, ok := cur.bookings[key]; ok {
			if marker.Less(e.marker) {
				return nil, ErrStale
			}
			if !e.value.Status.CanTransition(b.Status) {
				return nil, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, key, e.value.Status, b.Status)
			}
			if e.value.SessionFee != nil && b.SessionFee != nil && e.value.SessionFee.Cmp(b.SessionFee) != 0 {
				return nil, fmt.Errorf("%w: %s fee %s -> %s", ErrIllegalTransition, key, e.value.SessionFee, b.SessionFee)
			}
		}
		next := *cur
		next.bookings = copyMap(cur.bookings)
		next.bookings[key] = entry[domain.Booking]{value: b, marker: marker}
		return &next, nil
	})
}

func (s *Store) replace(kind domain.EntityKind, key string, marker Marker, value any, mutate func(*snapshot) (*snapshot, error)) error {
	var payload json.RawMessage
	if s.queue != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", kind, key, err)
		}
		payload = b
	}

	s.mu.Lock()
	next, err := mutate(s.snap.Load())
	if err == nil {
		s.snap.Store(next)
		if payload != nil && !s.closed {
			s.enqueueLocked(Record{Kind: kind, Key: key, Marker: marker, Payload: payload})
		}
	}
	s.mu.Unlock()

	s.observe(kind, err)
	if err != nil {
		return err
	}
	s.notify(Change{Kind: kind, Key: key, Marker: marker})
	return nil
}

func (s *Store) observe(kind domain.EntityKind, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "applied"
	switch {
	case errors.Is(err, ErrStale):
		outcome = "stale"
	case errors.Is(err, ErrIllegalTransition):
		outcome = "refused"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ObserveReplace(string(kind), outcome)
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// Watchers
// =============================================================================

// Watch returns a channel of changes. Slow watchers miss changes rather than
// blocking writers. Call cancel to stop watching.
func (s *Store) Watch(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)

	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify(c Change) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- c:
		default:
			s.log.WithField("key", c.Key).Debug("watcher full, change dropped")
		}
	}
}

// =============================================================================
// Persistence
// =============================================================================

func (s *Store) enqueueLocked(r Record) {
	select {
	case s.queue <- r:
	default:
		s.log.WithField("key", r.Key).Warn("persistence queue full, record skipped")
	}
}

func (s *Store) persistLoop() {
	defer close(s.done)
	for r := range s.queue {
		if err := s.persister.Save(context.Background(), r); err != nil {
			s.log.WithError(err).WithFields(map[string]interface{}{
				"kind": r.Kind,
				"key":  r.Key,
			}).Warn("persist projection record")
		}
	}
}

// Load warms the store from the persister. Loaded entities are advisory
// until the synchronizer reconciles them; the highest loaded stamp is
// reported to stamper so new markers sort after persisted ones.
func (s *Store) Load(ctx context.Context, stamper *Stamper) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	records, err := s.persister.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load projection: %w", err)
	}

	loaded := 0
	for _, r := range records {
		if stamper != nil {
			stamper.Observe(r.Marker.Stamp)
		}
		if err := s.restore(r); err != nil {
			s.log.WithError(err).WithField("key", r.Key).Warn("skip persisted record")
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (s *Store) restore(r Record) error {
	var install func(*snapshot) *snapshot
	switch r.Kind {
	case domain.KindUser:
		var u domain.UserAccount
		if err := json.Unmarshal(r.Payload, &u); err != nil {
			return err
		}
		install = func(cur *snapshot) *snapshot {
			next := *cur
			next.users = copyMap(cur.users)
			next.users[u.Address] = entry[domain.UserAccount]{value: u.Clone(), marker: r.Marker}
			return &next
		}
	case domain.KindTherapist:
		var t domain.TherapistProfile
		if err := json.Unmarshal(r.Payload, &t); err != nil {
			return err
		}
		install = func(cur *snapshot) *snapshot {
			next := *cur
			next.therapists = copyMap(cur.therapists)
			next.therapists[t.Address] = entry[domain.TherapistProfile]{value: t.Clone(), marker: r.Marker}
			return &next
		}
	case domain.KindBooking:
		var b domain.Booking
		if err := json.Unmarshal(r.Payload, &b); err != nil {
			return err
		}
		install = func(cur *snapshot) *snapshot {
			next := *cur
			next.bookings = copyMap(cur.bookings)
			next.bookings[b.Key()] = entry[domain.Booking]{value: b.Clone(), marker: r.Marker}
			return &next
		}
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}

	s.mu.Lock()
	s.snap.Store(install(s.snap.Load()))
	s.mu.Unlock()
	return nil
}

// Close flushes pending records and stops the persistence worker.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.queue == nil {
			return
		}
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
}
