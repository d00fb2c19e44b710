package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
)

var testBox = catalog.Box{
	ID:          "box-1",
	Price:       500,
	Purchasable: true,
	Items: []catalog.BoxItem{
		{ItemID: "1", Weight: 70, Rarity: catalog.RarityCommon, Value: 100},
		{ItemID: "2", Weight: 25, Rarity: catalog.RarityRare, Value: 1000},
		{ItemID: "3", Weight: 5, Rarity: catalog.RarityEpic, Value: 5000},
	},
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newRoom(t *testing.T, maxPlayers, rounds int) Room {
	t.Helper()
	r, events, err := New(NewParams{
		ID: "b1", CreatorID: "u0", CreatorUsername: "creator", Box: testBox,
		MaxPlayers: maxPlayers, EntryFee: 1000, TotalRounds: rounds, Now: t0,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !containsEvent(events, EvtBattleCreated) {
		t.Fatalf("expected EvtBattleCreated")
	}
	return r
}

func mustApply(t *testing.T, s Room, cmd Command) ([]Event, Room) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	if err != nil {
		t.Fatalf("Apply(%s): %v", cmd.Type, err)
	}
	return events, next
}

func containsEvent(events []Event, eventType EventType) bool {
	return ContainsEvent(events, eventType)
}

func roundOf(s Room, round int, values ...int64) Command {
	results := make([]RoundResult, len(s.Participants))
	for i, p := range s.Participants {
		results[i] = RoundResult{Round: round, UserID: p.UserID, ItemID: "1", Value: values[i]}
	}
	return Command{Type: CmdRecordRound, Round: round, Results: results, At: t0}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		params NewParams
	}{
		{"one player", NewParams{ID: "b", CreatorID: "u", Box: testBox, MaxPlayers: 1, TotalRounds: 1}},
		{"over player limit", NewParams{ID: "b", CreatorID: "u", Box: testBox, MaxPlayers: 5, TotalRounds: 1, Limits: Limits{MaxPlayers: 4}}},
		{"zero rounds", NewParams{ID: "b", CreatorID: "u", Box: testBox, MaxPlayers: 2}},
		{"negative fee", NewParams{ID: "b", CreatorID: "u", Box: testBox, MaxPlayers: 2, TotalRounds: 1, EntryFee: -1}},
		{"empty box", NewParams{ID: "b", CreatorID: "u", Box: catalog.Box{ID: "x"}, MaxPlayers: 2, TotalRounds: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := New(tc.params)
			if err == nil || !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestNew_SnapshotsBox(t *testing.T) {
	box := testBox.Snapshot()
	r, _, err := New(NewParams{ID: "b", CreatorID: "u", Box: box, MaxPlayers: 2, TotalRounds: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	box.Items[0].Value = 999999
	if r.Box.Items[0].Value != 100 {
		t.Fatalf("room box changed with catalog: %d", r.Box.Items[0].Value)
	}
}

func TestJoin_Rules(t *testing.T) {
	s := newRoom(t, 3, 1)

	if _, _, err := Apply(s, Command{Type: CmdJoin, UserID: "u0"}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("want ErrAlreadyJoined, got %v", err)
	}

	events, s := mustApply(t, s, Command{Type: CmdJoin, UserID: "u1", Username: "one", At: t0})
	if !containsEvent(events, EvtParticipantJoined) || containsEvent(events, EvtBattleStarted) {
		t.Fatalf("unexpected events %+v", events)
	}
	if s.Status != StatusWaiting {
		t.Fatalf("want waiting, got %s", s.Status)
	}

	events, s = mustApply(t, s, Command{Type: CmdJoin, UserID: "u2", Username: "two", At: t0})
	if !containsEvent(events, EvtBattleStarted) {
		t.Fatalf("expected auto start when last slot fills")
	}
	if s.Status != StatusActive || s.StartedAt == nil {
		t.Fatalf("want active with start time, got %s", s.Status)
	}
	for i, p := range s.Participants {
		if p.JoinOrder != i {
			t.Fatalf("participant %d has join order %d", i, p.JoinOrder)
		}
	}

	_, _, err := Apply(s, Command{Type: CmdJoin, UserID: "u3"})
	if !errors.Is(err, ErrRoomFull) || !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want ErrRoomFull conflict, got %v", err)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := newRoom(t, 2, 1)
	_, next := mustApply(t, s, Command{Type: CmdJoin, UserID: "u1"})
	if len(s.Participants) != 1 || s.Status != StatusWaiting {
		t.Fatalf("input state mutated: %+v", s)
	}

	_, after := mustApply(t, next, roundOf(next, 1, 10, 20))
	if next.Participants[0].TotalValue != 0 || len(next.Rounds) != 0 {
		t.Fatalf("input state mutated by round: %+v", next)
	}
	if after.Participants[1].TotalValue != 20 {
		t.Fatalf("want total 20, got %d", after.Participants[1].TotalValue)
	}
}

func TestStart_CreatorOnlyWithTwoPlayers(t *testing.T) {
	s := newRoom(t, 4, 1)

	if _, _, err := Apply(s, Command{Type: CmdStart, UserID: "u0"}); !errors.Is(err, ErrTooFewPlayers) {
		t.Fatalf("want ErrTooFewPlayers, got %v", err)
	}
	_, s = mustApply(t, s, Command{Type: CmdJoin, UserID: "u1"})
	if _, _, err := Apply(s, Command{Type: CmdStart, UserID: "u1"}); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("want ErrNotCreator, got %v", err)
	}
	events, s := mustApply(t, s, Command{Type: CmdStart, UserID: "u0"})
	if !containsEvent(events, EvtBattleStarted) || s.Status != StatusActive {
		t.Fatalf("expected start, got %s %+v", s.Status, events)
	}
	if _, _, err := Apply(s, Command{Type: CmdJoin, UserID: "u2"}); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("participant set must be frozen once active, got %v", err)
	}
}

func TestCancelAndForceStop_AllowedStates(t *testing.T) {
	waiting := newRoom(t, 2, 2)
	if _, _, err := Apply(waiting, Command{Type: CmdForceStop}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("force stop from waiting: want ErrNotActive, got %v", err)
	}
	events, cancelled := mustApply(t, waiting, Command{Type: CmdCancel, Reason: "creator_abort"})
	if !containsEvent(events, EvtBattleCancelled) || cancelled.Status != StatusCancelled || cancelled.Reason != "creator_abort" {
		t.Fatalf("unexpected cancel result %+v", cancelled)
	}

	_, active := mustApply(t, waiting, Command{Type: CmdJoin, UserID: "u1"})
	if _, _, err := Apply(active, Command{Type: CmdCancel}); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("cancel from active: want ErrNotWaiting, got %v", err)
	}
	events, stopped := mustApply(t, active, Command{Type: CmdForceStop, Reason: "admin"})
	if !containsEvent(events, EvtBattleForceStopped) || stopped.Status != StatusCancelled {
		t.Fatalf("unexpected force stop result %+v", stopped)
	}

	for _, cmd := range []CommandType{CmdJoin, CmdStart, CmdCancel, CmdForceStop, CmdRecordRound} {
		if _, _, err := Apply(stopped, Command{Type: cmd, UserID: "u9", Round: 1}); !errors.Is(err, ErrBattleClosed) {
			t.Fatalf("%s after terminal: want ErrBattleClosed, got %v", cmd, err)
		}
	}
}

func TestRecordRound_OrderingAndCompletion(t *testing.T) {
	s := newRoom(t, 2, 3)
	_, s = mustApply(t, s, Command{Type: CmdJoin, UserID: "u1"})

	if _, _, err := Apply(s, roundOf(s, 2, 1, 1)); !errors.Is(err, ErrRoundOutOfOrder) {
		t.Fatalf("skipping a round: want ErrRoundOutOfOrder, got %v", err)
	}

	swapped := roundOf(s, 1, 1, 1)
	swapped.Results[0], swapped.Results[1] = swapped.Results[1], swapped.Results[0]
	if _, _, err := Apply(s, swapped); !errors.Is(err, ErrRoundMismatch) {
		t.Fatalf("results out of join order: want ErrRoundMismatch, got %v", err)
	}

	_, s = mustApply(t, s, roundOf(s, 1, 100, 5000))
	_, s = mustApply(t, s, roundOf(s, 2, 1000, 100))
	events, s := mustApply(t, s, roundOf(s, 3, 5000, 100))

	if !containsEvent(events, EvtRoundCompleted) || !containsEvent(events, EvtBattleFinished) {
		t.Fatalf("expected round completed + finished, got %+v", events)
	}
	if s.Status != StatusFinished || s.WinnerID != "u0" {
		t.Fatalf("want finished won by u0, got %s %s", s.Status, s.WinnerID)
	}
	if s.Participants[0].TotalValue != 6100 || s.Participants[1].TotalValue != 5200 {
		t.Fatalf("unexpected totals %+v", s.Participants)
	}
	if len(s.Rounds) != 3 {
		t.Fatalf("want 3 rounds recorded, got %d", len(s.Rounds))
	}

	if _, _, err := Apply(s, roundOf(s, 4, 1, 1)); !errors.Is(err, ErrBattleClosed) {
		t.Fatalf("round past total: want ErrBattleClosed, got %v", err)
	}
}

func TestWinner_TieGoesToEarliestJoin(t *testing.T) {
	ps := []Participant{
		{UserID: "late", JoinOrder: 2, TotalValue: 500},
		{UserID: "early", JoinOrder: 0, TotalValue: 500},
		{UserID: "mid", JoinOrder: 1, TotalValue: 400},
	}
	if w := Winner(ps); w.UserID != "early" {
		t.Fatalf("want early, got %s", w.UserID)
	}
}

func TestSettlement(t *testing.T) {
	cases := []struct {
		name       string
		pot        int64
		rate       string
		wantPayout int64
		wantFee    int64
	}{
		{"four players ten dollars five percent", 4000, "0.05", 3800, 200},
		{"fee rounds down", 999, "0.05", 950, 49},
		{"no fee", 4000, "0", 4000, 0},
		{"free battle", 0, "0.05", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payout, fee := Settlement(tc.pot, decimal.RequireFromString(tc.rate))
			if payout != tc.wantPayout || fee != tc.wantFee {
				t.Fatalf("got payout=%d fee=%d, want %d/%d", payout, fee, tc.wantPayout, tc.wantFee)
			}
		})
	}
}
