package hub

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/ledger"
	"github.com/DoyleJ11/casebattle-backend/internal/room"
	"github.com/DoyleJ11/casebattle-backend/internal/store/memory"
)

var box = catalog.Box{
	ID: "box-1", Price: 100, Purchasable: true,
	Items: []catalog.BoxItem{{ItemID: "a", Weight: 1, Value: 10}},
}

type countingRecorder struct {
	registered chan struct{}
	removed    chan struct{}
}

func (c *countingRecorder) RoomRegistered() { c.registered <- struct{}{} }
func (c *countingRecorder) RoomRemoved()    { c.removed <- struct{}{} }

func newHub(t *testing.T, timing room.Timing) (*Hub, *countingRecorder) {
	t.Helper()
	st := memory.New(box)
	l := ledger.NewMemory()
	l.DefaultBalance = 10_000
	rec := &countingRecorder{registered: make(chan struct{}, 16), removed: make(chan struct{}, 16)}
	h := NewHub(context.Background(), room.Deps{
		Ledger:    l,
		Store:     st,
		Committer: fairness.NewCommitter(st),
		Log:       zaptest.NewLogger(t),
		Timing:    timing,
		FeeRate:   decimal.Zero,
	}, rec)
	t.Cleanup(h.Shutdown)
	return h, rec
}

func params(creator string) room.CreateParams {
	return room.CreateParams{CreatorID: creator, Box: box, MaxPlayers: 2, TotalRounds: 1, EntryFee: 100}
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h, rec := newHub(t, room.Timing{Countdown: time.Hour, RoundDelay: time.Hour, ArchiveAfter: time.Hour})

	r1, err := h.Create(ctx, params("u0"))
	require.NoError(t, err)
	wait(t, rec.registered)

	r2, err := h.Get(ctx, r1.ID())
	require.NoError(t, err)
	if r1 != r2 {
		t.Fatalf("expected same room pointer")
	}

	_, err = h.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHub_ListOpenRooms(t *testing.T) {
	ctx := context.Background()
	h, _ := newHub(t, room.Timing{Countdown: time.Hour, RoundDelay: time.Hour, ArchiveAfter: time.Hour})

	open, err := h.Create(ctx, params("u0"))
	require.NoError(t, err)
	full, err := h.Create(ctx, params("u1"))
	require.NoError(t, err)
	require.NoError(t, full.Join(ctx, "u2", "two"))

	all, err := h.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	waiting, err := h.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, open.ID(), waiting[0].State.ID)
	assert.Equal(t, engine.StatusWaiting, waiting[0].State.Status)
}

func TestHub_ArchivedRoomIsRemoved(t *testing.T) {
	ctx := context.Background()
	h, rec := newHub(t, room.Timing{ArchiveAfter: 10 * time.Millisecond})

	r, err := h.Create(ctx, params("u0"))
	require.NoError(t, err)
	wait(t, rec.registered)
	require.NoError(t, r.Cancel(ctx, "u0", ""))

	wait(t, rec.removed)
	_, err = h.Get(ctx, r.ID())
	assert.ErrorIs(t, err, engine.ErrBattleNotFound)
}

func TestHub_LobbyFollowsRegistry(t *testing.T) {
	ctx := context.Background()
	h, rec := newHub(t, room.Timing{ArchiveAfter: 10 * time.Millisecond})
	lobby := make(chan room.Event, 8)
	require.NoError(t, h.SubscribeLobby(ctx, "client-1", lobby))

	r, err := h.Create(ctx, params("u0"))
	require.NoError(t, err)
	created := next(t, lobby)
	assert.Equal(t, room.EventBattleCreated, created.Type)
	assert.Equal(t, r.ID(), created.BattleID)
	assert.Equal(t, engine.StatusWaiting, created.Data.(room.SnapshotData).Battle.Status)

	require.NoError(t, r.Cancel(ctx, "u0", ""))
	wait(t, rec.removed)
	removed := next(t, lobby)
	assert.Equal(t, EventBattleRemoved, removed.Type)
	assert.Equal(t, r.ID(), removed.BattleID)
	assert.Greater(t, removed.Seq, created.Seq)

	h.UnsubscribeLobby("client-1")
	select {
	case _, ok := <-lobby:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("lobby outbox not closed")
	}
}

func next(t *testing.T, ch <-chan room.Event) room.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "outbox closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lobby event")
		return room.Event{}
	}
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	ctx := context.Background()
	h, _ := newHub(t, room.Timing{Countdown: time.Hour, RoundDelay: time.Hour, ArchiveAfter: time.Hour})

	r, err := h.Create(ctx, params("u0"))
	require.NoError(t, err)

	h.Shutdown()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room still running after hub shutdown")
	}
	<-h.Done()

	_, err = h.Create(ctx, params("u1"))
	assert.Error(t, err)
}

func TestHub_CreateDuringShutdownRefundsCreator(t *testing.T) {
	st := memory.New(box)
	l := ledger.NewMemory()
	l.Deposit("u0", 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &Hub{
		inbox: make(chan HubMsg),
		rooms: make(map[string]*room.Room),
		deps: room.Deps{
			Ledger:    l,
			Store:     st,
			Committer: fairness.NewCommitter(st),
			Log:       zaptest.NewLogger(t),
			FeeRate:   decimal.Zero,
		},
		log:    zaptest.NewLogger(t),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	// The registry accepts the registration and stops before answering.
	var registered *room.Room
	go func() {
		msg := (<-h.inbox).(RegisterRoom)
		registered = msg.Room
		cancel()
		close(h.done)
	}()

	_, err := h.Create(context.Background(), params("u0"))
	require.ErrorIs(t, err, ErrHubClosed)
	require.NotNil(t, registered)

	bal, err := l.Balance(context.Background(), "u0")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	persisted, err := st.GetBattle(context.Background(), registered.ID())
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCancelled, persisted.Status)
}
