package opening_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/ledger"
	"github.com/DoyleJ11/casebattle-backend/internal/opening"
	"github.com/DoyleJ11/casebattle-backend/internal/store/memory"
)

var boxes = []catalog.Box{
	{
		ID: "box-1", Name: "Starter", Price: 500, Purchasable: true,
		Items: []catalog.BoxItem{
			{ItemID: "a", Name: "Sticker", Weight: 90, Value: 50},
			{ItemID: "b", Name: "Knife", Weight: 10, Rarity: catalog.RarityLegendary, Value: 9000},
		},
	},
	{
		ID: "retired", Name: "Retired", Price: 100,
		Items: []catalog.BoxItem{{ItemID: "x", Weight: 1, Value: 1}},
	},
}

type counter struct {
	mu    sync.Mutex
	boxes []string
}

func (c *counter) OpeningCompleted(boxID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boxes = append(c.boxes, boxID)
}

// failingStore refuses to persist openings.
type failingStore struct {
	*memory.Store
}

func (failingStore) CreateOpening(context.Context, opening.Opening) error {
	return errors.New("disk full")
}

// nonceless cannot hand out nonces.
type nonceless struct {
	*memory.Store
}

func (nonceless) NextNonce(context.Context, string, string) (uint64, error) {
	return 0, errors.New("connection refused")
}

// abandoningStore cancels the request while the opening is being written,
// the way a client disconnect does.
type abandoningStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s abandoningStore) CreateOpening(ctx context.Context, _ opening.Opening) error {
	s.cancel()
	return ctx.Err()
}

// ctxLedger refuses operations on a cancelled context, like a database does.
type ctxLedger struct {
	*ledger.Memory
}

func (l ctxLedger) Credit(ctx context.Context, userID string, amount int64, opID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Memory.Credit(ctx, userID, amount, opID)
}

func newService(t *testing.T, st opening.Store, base *memory.Store) (*opening.Service, *ledger.Memory, *counter) {
	t.Helper()
	l := ledger.NewMemory()
	l.Deposit("alice", 1000)
	c := &counter{}
	svc := opening.NewService(base, st, fairness.NewCommitter(base), l, zaptest.NewLogger(t), c)
	return svc, l, c
}

func TestOpen_DebitsAndRevealsVerifiableDraw(t *testing.T) {
	ctx := context.Background()
	st := memory.New(boxes...)
	svc, l, c := newService(t, st, st)

	first, err := svc.Open(ctx, "alice", "box-1", "lucky")
	require.NoError(t, err)
	second, err := svc.Open(ctx, "alice", "box-1", "")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Nonce)
	assert.Equal(t, uint64(2), second.Nonce)
	assert.NotEmpty(t, second.ClientSeed)
	assert.NotEqual(t, first.ServerSeedHash, second.ServerSeedHash)
	assert.Equal(t, fairness.ProtocolVersion, first.Protocol)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	require.NotEmpty(t, first.ServerSeed)
	v, err := fairness.Verify(boxes[0].Entries(), first.ServerSeed, first.ServerSeedHash, first.ClientSeed, first.Nonce, first.ItemID)
	require.NoError(t, err)
	assert.True(t, v.Match)

	stored, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ServerSeed, stored.ServerSeed)

	inv, err := svc.Inventory(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, inv, 2)
	assert.Equal(t, []string{"box-1", "box-1"}, c.boxes)
}

func TestOpen_Rejections(t *testing.T) {
	ctx := context.Background()
	st := memory.New(boxes...)
	svc, l, _ := newService(t, st, st)

	cases := []struct {
		name string
		user string
		box  string
		want error
	}{
		{"missing user", "", "box-1", apperr.ErrValidation},
		{"unknown box", "alice", "nope", apperr.ErrNotFound},
		{"not purchasable", "alice", "retired", catalog.ErrBoxNotPurchasable},
		{"cannot afford", "bob", "box-1", apperr.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Open(ctx, tc.user, tc.box, "")
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, l.Entries())

	_, err := svc.Inventory(ctx, "")
	assert.ErrorIs(t, err, opening.ErrMissingUser)
}

func TestOpen_UnaffordableLeavesNonceUntouched(t *testing.T) {
	ctx := context.Background()
	st := memory.New(boxes...)
	svc, l, _ := newService(t, st, st)

	_, err := svc.Open(ctx, "bob", "box-1", "")
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	l.Deposit("bob", 500)
	o, err := svc.Open(ctx, "bob", "box-1", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.Nonce)
}

func TestOpen_RefundsWhenNonceFails(t *testing.T) {
	ctx := context.Background()
	base := memory.New(boxes...)
	svc, l, c := newService(t, nonceless{base}, base)

	_, err := svc.Open(ctx, "alice", "box-1", "")
	require.Error(t, err)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.RefundFor(entries[0].OperationID), entries[1].OperationID)
	assert.Empty(t, c.boxes)
}

func TestOpen_RefundSurvivesCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := memory.New(boxes...)
	l := ctxLedger{ledger.NewMemory()}
	l.Deposit("alice", 1000)
	svc := opening.NewService(base, abandoningStore{base, cancel}, fairness.NewCommitter(base), l, zaptest.NewLogger(t), nil)

	_, err := svc.Open(ctx, "alice", "box-1", "")
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, apperr.ErrIntegrity)

	bal, err := l.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
	require.Len(t, l.Entries(), 2)
}

func TestOpen_RefundsWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	base := memory.New(boxes...)
	svc, l, c := newService(t, failingStore{base}, base)

	_, err := svc.Open(ctx, "alice", "box-1", "lucky")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrIntegrity)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-500), entries[0].Amount)
	assert.Equal(t, ledger.RefundFor(entries[0].OperationID), entries[1].OperationID)
	assert.Empty(t, c.boxes)
}
