package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/ledger/ledgertest"
	"github.com/R3E-Network/habit_ledger/internal/projection"
)

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(New(nil, projection.NewStore(projection.Options{}), nil, Options{}), "every now and then", nil)
	assert.Error(t, err)
}

func TestScheduler_TickReloadsTracked(t *testing.T) {
	l := ledgertest.New()
	user := ledgertest.NewAddress(t)
	l.Fund(user, 7)

	store := projection.NewStore(projection.Options{})
	s := New(l.Client(user), store, nil, Options{})
	defer s.Stop()
	s.Track(user)

	sc, err := NewScheduler(s, "@every 1h", nil)
	require.NoError(t, err)
	sc.Start()
	defer sc.Stop(context.Background())

	sc.tick()
	require.Eventually(t, func() bool {
		u, ok := store.User(user)
		return ok && u.Earned.Int64() == 7
	}, 2*time.Second, 10*time.Millisecond)
}
