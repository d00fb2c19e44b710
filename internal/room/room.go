// Package room runs one battle as an actor: a single goroutine owns the
// engine state, receives every command on its inbox, drives the round timer
// and fans events out to subscribers in emission order.
package room

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/ledger"
)

var ErrRoomClosed = apperr.New(apperr.KindConflict, "battle room closed")
var ErrMissingUser = apperr.New(apperr.KindValidation, "missing user id")

const (
	ReasonExpired           = "expired"
	ReasonCreatorAbort      = "creator_abort"
	ReasonResolverFailed    = "resolver_failed"
	ReasonPersistenceFailed = "persistence_failed"
	ReasonCommitmentFailed  = "commitment_failed"
	ReasonShutdown          = "shutdown"
)

// Store persists battles. Every method is all-or-nothing; AppendRound must
// reject a (battle, round, user) triple that already exists.
type Store interface {
	CreateBattle(ctx context.Context, r engine.Room) error
	AddParticipant(ctx context.Context, battleID string, p engine.Participant) error
	SaveParticipants(ctx context.Context, battleID string, ps []engine.Participant) error
	AppendRound(ctx context.Context, battleID string, results []engine.RoundResult) error
	UpdateBattle(ctx context.Context, r engine.Room) error
}

type Committer interface {
	Commit(ctx context.Context) (fairness.Commitment, error)
	Reveal(ctx context.Context, id string) (fairness.Commitment, error)
}

type Recorder interface {
	BattleCreated()
	BattleEnded(status string)
	RoundResolved()
}

type Timing struct {
	Countdown    time.Duration // battle start -> round 1
	RoundDelay   time.Duration // round n -> round n+1
	WaitingTTL   time.Duration // zero disables expiry
	ArchiveAfter time.Duration // terminal -> deregistered
}

type Deps struct {
	Ledger    ledger.Ledger
	Store     Store
	Committer Committer
	Log       *zap.Logger
	Metrics   Recorder
	Timing    Timing
	FeeRate   decimal.Decimal
	Limits    engine.Limits
	Retry     ledger.RetryPolicy
	Now       func() time.Time
	OnArchive func(battleID string)
}

type CreateParams struct {
	CreatorID       string
	CreatorUsername string
	Box             catalog.Box
	MaxPlayers      int
	EntryFee        int64
	TotalRounds     int
}

type Msg interface{ isRoomMsg() }

type Join struct {
	UserID   string
	Username string
	Reply    chan error
}

func (Join) isRoomMsg() {}

type Start struct {
	UserID string
	Reply  chan error
}

func (Start) isRoomMsg() {}

// Cancel aborts a waiting room. An empty UserID is a system cancel.
type Cancel struct {
	UserID string
	Reason string
	Reply  chan error
}

func (Cancel) isRoomMsg() {}

type ForceStop struct {
	Reason string
	Reply  chan error
}

func (ForceStop) isRoomMsg() {}

type Subscribe struct {
	ClientID string
	Outbox   chan Event // where this client wants to receive events
}

func (Subscribe) isRoomMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type timerKind int

const (
	timerRound timerKind = iota
	timerExpire
	timerArchive
)

type timerFired struct {
	Gen  int
	Kind timerKind
}

func (timerFired) isRoomMsg() {}

type View struct {
	Seq        uint64
	NumClients int
	State      engine.Room
}

type Room struct {
	id      string
	inbox   chan Msg
	done    chan struct{}
	state   engine.Room
	created engine.Room // as persisted by Create, never mutated
	seq     uint64
	clients map[string]chan Event
	seeds   map[string]fairness.Commitment
	escrows map[string]string // user -> escrow debit op id
	tries   map[string]int
	deps    Deps
	log     *zap.Logger

	timer    *time.Timer
	timerGen int

	ctx    context.Context
	cancel context.CancelFunc
}

// Create escrows the creator's entry fee, persists the room in waiting and
// starts its actor. ctx bounds the synchronous work; parent bounds the
// room's lifetime.
func Create(ctx, parent context.Context, deps Deps, p CreateParams) (*Room, error) {
	deps = deps.withDefaults()
	if p.CreatorID == "" {
		return nil, ErrMissingUser
	}

	state, _, err := engine.New(engine.NewParams{
		ID:              uuid.NewString(),
		CreatorID:       p.CreatorID,
		CreatorUsername: p.CreatorUsername,
		Box:             p.Box,
		MaxPlayers:      p.MaxPlayers,
		EntryFee:        p.EntryFee,
		TotalRounds:     p.TotalRounds,
		Limits:          deps.Limits,
		Now:             deps.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	r := newRoom(parent, deps, state)
	opID, err := r.escrow(ctx, p.CreatorID)
	if err != nil {
		r.cancel()
		return nil, err
	}
	if err := deps.Store.CreateBattle(ctx, state); err != nil {
		r.log.Error("persist battle failed, refunding creator", zap.Error(err))
		if refundErr := r.refund(ctx, p.CreatorID, opID); refundErr != nil {
			err = multierr.Append(err, refundErr)
		}
		r.cancel()
		return nil, apperr.Integrity(fmt.Errorf("persist battle: %w", err))
	}

	r.created = state.Clone()
	r.publish(EventBattleCreated, SnapshotData{Battle: state.Clone()})
	if deps.Timing.WaitingTTL > 0 {
		r.armTimer(deps.Timing.WaitingTTL, timerExpire)
	}
	if deps.Metrics != nil {
		deps.Metrics.BattleCreated()
	}
	r.log.Info("battle created",
		zap.String("box_id", state.BoxID),
		zap.Int("max_players", state.MaxPlayers),
		zap.Int("total_rounds", state.TotalRounds),
		zap.Int64("entry_fee", state.EntryFee))

	go r.loop()
	return r, nil
}

func newRoom(parent context.Context, deps Deps, state engine.Room) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		id:      state.ID,
		inbox:   make(chan Msg, 64), // Small buffer
		done:    make(chan struct{}),
		state:   state,
		clients: make(map[string]chan Event),
		seeds:   make(map[string]fairness.Commitment),
		escrows: make(map[string]string),
		tries:   make(map[string]int),
		deps:    deps,
		log:     deps.Log.With(zap.String("battle_id", state.ID)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Retry.MaxTries == 0 {
		d.Retry = ledger.DefaultRetry
	}
	return d
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- r.handleJoin(msg)

			case Start:
				msg.Reply <- r.handleStart(msg)

			case Cancel:
				msg.Reply <- r.handleCancel(msg)

			case ForceStop:
				msg.Reply <- r.handleForceStop(msg)

			case Subscribe:
				r.subscribe(msg)

			case Unsubscribe:
				if ch, ok := r.clients[msg.ClientID]; ok {
					close(ch)
					delete(r.clients, msg.ClientID)
				}

			case GetState:
				msg.Reply <- r.view()

			case timerFired:
				if msg.Gen != r.timerGen {
					// Stale fire from a timer that was re-armed or stopped.
					break
				}
				if r.onTimer(msg.Kind) {
					r.shutdown()
					return
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) error {
	if msg.UserID == "" {
		return ErrMissingUser
	}
	cmd := engine.Command{Type: engine.CmdJoin, UserID: msg.UserID, Username: msg.Username, At: r.now()}
	// Dry run so a rejected join never touches the ledger.
	if _, _, err := engine.Apply(r.state, cmd); err != nil {
		return err
	}

	opID, err := r.escrow(r.ctx, msg.UserID)
	if err != nil {
		return err
	}

	events, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		return multierr.Append(err, r.refund(r.ctx, msg.UserID, opID))
	}
	p := next.Participants[len(next.Participants)-1]
	if err := r.deps.Store.AddParticipant(r.ctx, r.id, p); err != nil {
		r.log.Error("persist participant failed, refunding", zap.String("user_id", msg.UserID), zap.Error(err))
		if refundErr := r.refund(r.ctx, msg.UserID, opID); refundErr != nil {
			err = multierr.Append(err, refundErr)
		}
		return apperr.Integrity(fmt.Errorf("persist participant: %w", err))
	}

	r.state = next
	r.publish(EventParticipantJoined, ParticipantJoinedData{
		Participant:  p,
		Participants: len(next.Participants),
		MaxPlayers:   next.MaxPlayers,
	})
	r.log.Info("participant joined", zap.String("user_id", msg.UserID), zap.Int("join_order", p.JoinOrder))

	if engine.ContainsEvent(events, engine.EvtBattleStarted) {
		r.begin()
	}
	return nil
}

func (r *Room) handleStart(msg Start) error {
	_, next, err := engine.Apply(r.state, engine.Command{Type: engine.CmdStart, UserID: msg.UserID, At: r.now()})
	if err != nil {
		return err
	}
	r.state = next
	r.begin()
	return nil
}

func (r *Room) handleCancel(msg Cancel) error {
	if msg.UserID != "" && msg.UserID != r.state.CreatorID {
		return engine.ErrNotCreator
	}
	reason := msg.Reason
	if reason == "" {
		reason = ReasonCreatorAbort
	}
	_, next, err := engine.Apply(r.state, engine.Command{Type: engine.CmdCancel, Reason: reason, At: r.now()})
	if err != nil {
		return err
	}
	r.state = next
	r.stopTimer()
	r.closeOut(EventBattleCancelled)
	return nil
}

func (r *Room) handleForceStop(msg ForceStop) error {
	_, next, err := engine.Apply(r.state, engine.Command{Type: engine.CmdForceStop, Reason: msg.Reason, At: r.now()})
	if err != nil {
		return err
	}
	r.state = next
	// Invalidate any pending round timer before anything else can run.
	r.stopTimer()
	r.closeOut(EventBattleForceStopped)
	return nil
}

// begin commits one fresh server seed per participant and schedules round 1.
func (r *Room) begin() {
	for i, p := range r.state.Participants {
		c, err := r.deps.Committer.Commit(r.ctx)
		if err != nil {
			r.abort(ReasonCommitmentFailed, err)
			return
		}
		r.seeds[p.UserID] = c
		r.state.Participants[i].CommitmentID = c.ID
		r.state.Participants[i].ServerSeedHash = c.ServerSeedHash
	}
	if err := r.deps.Store.SaveParticipants(r.ctx, r.id, r.state.Participants); err != nil {
		r.abort(ReasonPersistenceFailed, err)
		return
	}
	if err := r.deps.Store.UpdateBattle(r.ctx, r.state); err != nil {
		r.abort(ReasonPersistenceFailed, err)
		return
	}

	r.publish(EventBattleStarted, BattleStartedData{
		Protocol:     fairness.ProtocolVersion,
		TotalRounds:  r.state.TotalRounds,
		Participants: append([]engine.Participant(nil), r.state.Participants...),
	})
	r.log.Info("battle started", zap.Int("participants", len(r.state.Participants)))
	r.scheduleRound(1, r.deps.Timing.Countdown)
}

func (r *Room) scheduleRound(round int, delay time.Duration) {
	r.publish(EventRoundStarting, RoundStartingData{
		Round:       round,
		TotalRounds: r.state.TotalRounds,
		StartsInMs:  delay.Milliseconds(),
	})
	r.armTimer(delay, timerRound)
}

func (r *Room) onTimer(kind timerKind) (exit bool) {
	switch kind {
	case timerRound:
		if r.state.Status == engine.StatusActive {
			r.runRound(r.state.Round + 1)
		}
	case timerExpire:
		if r.state.Status == engine.StatusWaiting {
			_ = r.handleCancel(Cancel{Reason: ReasonExpired})
		}
	case timerArchive:
		if r.deps.OnArchive != nil {
			r.deps.OnArchive(r.id)
		}
		r.log.Info("battle archived")
		return true
	}
	return false
}

// runRound resolves one draw per participant in join order. Each draw uses
// that participant's own seed, their user id as client seed and the round
// number as nonce, so outcomes are independent of each other.
func (r *Room) runRound(round int) {
	entries := r.state.Box.Entries()
	results := make([]engine.RoundResult, 0, len(r.state.Participants))
	for _, p := range r.state.Participants {
		seed, ok := r.seeds[p.UserID]
		if !ok {
			r.abort(ReasonResolverFailed, fmt.Errorf("no commitment for %s", p.UserID))
			return
		}
		itemID, err := fairness.Resolve(entries, seed.ServerSeed, p.UserID, uint64(round))
		if err != nil {
			r.abort(ReasonResolverFailed, err)
			return
		}
		item, ok := r.state.Box.Item(itemID)
		if !ok {
			r.abort(ReasonResolverFailed, fmt.Errorf("resolved item %s not in box", itemID))
			return
		}
		results = append(results, engine.RoundResult{
			Round:  round,
			UserID: p.UserID,
			ItemID: item.ItemID,
			Rarity: item.Rarity,
			Value:  item.Value,
		})
	}

	events, next, err := engine.Apply(r.state, engine.Command{
		Type:    engine.CmdRecordRound,
		Round:   round,
		Results: results,
		At:      r.now(),
	})
	if err != nil {
		r.abort(ReasonResolverFailed, err)
		return
	}
	if err := r.deps.Store.AppendRound(r.ctx, r.id, results); err != nil {
		r.abort(ReasonPersistenceFailed, err)
		return
	}
	r.state = next
	if r.deps.Metrics != nil {
		r.deps.Metrics.RoundResolved()
	}

	out := make([]ParticipantResult, len(results))
	for i, res := range results {
		p := next.Participants[i]
		item, _ := next.Box.Item(res.ItemID)
		out[i] = ParticipantResult{
			UserID:     p.UserID,
			Username:   p.Username,
			ItemID:     res.ItemID,
			ItemName:   item.Name,
			Rarity:     res.Rarity,
			Value:      res.Value,
			TotalValue: p.TotalValue,
		}
	}
	r.publish(EventRoundCompleted, RoundCompletedData{
		Round:        round,
		TotalRounds:  next.TotalRounds,
		Participants: out,
	})

	if engine.ContainsEvent(events, engine.EvtBattleFinished) {
		r.finish()
		return
	}
	r.scheduleRound(round+1, r.deps.Timing.RoundDelay)
}

func (r *Room) finish() {
	payout, fee := engine.Settlement(r.state.Pot(), r.deps.FeeRate)
	r.state.Payout, r.state.Fee = payout, fee

	if err := r.deps.Store.UpdateBattle(r.ctx, r.state); err != nil {
		// Every round is already committed; the result stands.
		r.log.Error("persist finished battle failed", zap.Error(err))
	}
	r.revealSeeds()
	winner := r.winner()

	if payout > 0 {
		err := ledger.Retry(r.ctx, r.deps.Retry, func(ctx context.Context) error {
			return r.deps.Ledger.Credit(ctx, winner.UserID, payout, ledger.PayoutID(r.id))
		})
		if err != nil {
			r.log.Error("payout not settled; replay operation id to settle",
				zap.String("operation_id", ledger.PayoutID(r.id)), zap.Error(err))
		}
	}

	r.publish(EventBattleFinished, BattleFinishedData{
		Winner:       winner,
		Payout:       payout,
		Fee:          fee,
		Participants: append([]engine.Participant(nil), r.state.Participants...),
	})
	r.log.Info("battle finished",
		zap.String("winner_id", winner.UserID),
		zap.Int64("total_value", winner.TotalValue),
		zap.Int64("payout", payout),
		zap.Int64("fee", fee))
	if r.deps.Metrics != nil {
		r.deps.Metrics.BattleEnded(string(engine.StatusFinished))
	}
	r.armTimer(r.deps.Timing.ArchiveAfter, timerArchive)
}

func (r *Room) winner() engine.Participant {
	for _, p := range r.state.Participants {
		if p.UserID == r.state.WinnerID {
			return p
		}
	}
	return engine.Participant{}
}

// abort cancels an active battle after an integrity failure. Rounds that
// were already committed stay final.
func (r *Room) abort(reason string, cause error) {
	r.log.Error("battle aborted", zap.String("reason", reason), zap.Error(cause))
	r.stopTimer()
	_, next, err := engine.Apply(r.state, engine.Command{Type: engine.CmdForceStop, Reason: reason, At: r.now()})
	if err != nil {
		r.log.Error("abort rejected by state machine", zap.Error(err))
		return
	}
	r.state = next
	r.closeOut(EventBattleForceStopped)
}

// closeOut settles a cancelled battle: persist, refund every escrow,
// reveal seeds and broadcast the terminal event.
func (r *Room) closeOut(evt EventType) {
	if err := r.deps.Store.UpdateBattle(r.ctx, r.state); err != nil {
		r.log.Error("persist cancelled battle failed", zap.Error(err))
	}

	var refundErr error
	for _, p := range r.state.Participants {
		if opID, ok := r.escrows[p.UserID]; ok {
			refundErr = multierr.Append(refundErr, r.refund(r.ctx, p.UserID, opID))
		}
	}
	if refundErr != nil {
		r.log.Error("refunds incomplete; replay operation ids to settle", zap.Error(refundErr))
	}
	r.revealSeeds()

	r.publish(evt, BattleStoppedData{
		Reason:       r.state.Reason,
		Round:        r.state.Round,
		Participants: append([]engine.Participant(nil), r.state.Participants...),
	})
	r.log.Info("battle cancelled", zap.String("reason", r.state.Reason), zap.Int("round", r.state.Round))
	if r.deps.Metrics != nil {
		r.deps.Metrics.BattleEnded(string(engine.StatusCancelled))
	}
	r.armTimer(r.deps.Timing.ArchiveAfter, timerArchive)
}

func (r *Room) revealSeeds() {
	if len(r.seeds) == 0 {
		return
	}
	for i, p := range r.state.Participants {
		c, ok := r.seeds[p.UserID]
		if !ok {
			continue
		}
		revealed, err := r.deps.Committer.Reveal(r.ctx, c.ID)
		if err != nil {
			r.log.Error("reveal seed failed", zap.String("user_id", p.UserID), zap.Error(err))
			continue
		}
		r.state.Participants[i].ServerSeed = revealed.ServerSeed
	}
	if err := r.deps.Store.SaveParticipants(r.ctx, r.id, r.state.Participants); err != nil {
		r.log.Error("persist revealed seeds failed", zap.Error(err))
	}
}

func (r *Room) escrow(ctx context.Context, userID string) (string, error) {
	r.tries[userID]++
	opID := ledger.EscrowID(r.id, userID, r.tries[userID])
	if r.state.EntryFee > 0 {
		if err := r.deps.Ledger.Debit(ctx, userID, r.state.EntryFee, opID); err != nil {
			return "", err
		}
	}
	r.escrows[userID] = opID
	return opID, nil
}

// refund credits an escrow back. It runs detached from ctx's cancellation:
// the debit already happened.
func (r *Room) refund(ctx context.Context, userID, escrowID string) error {
	delete(r.escrows, userID)
	if r.state.EntryFee <= 0 {
		return nil
	}
	return ledger.Compensate(ctx, r.deps.Retry, func(ctx context.Context) error {
		return r.deps.Ledger.Credit(ctx, userID, r.state.EntryFee, ledger.RefundFor(escrowID))
	})
}

func (r *Room) armTimer(d time.Duration, kind timerKind) {
	r.stopTimer()
	gen := r.timerGen
	r.timer = time.AfterFunc(d, func() {
		select {
		case r.inbox <- timerFired{Gen: gen, Kind: kind}:
		case <-r.done:
		}
	})
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Room) subscribe(msg Subscribe) {
	if old, ok := r.clients[msg.ClientID]; ok && old != msg.Outbox {
		close(old)
	}
	r.clients[msg.ClientID] = msg.Outbox
	snap := Event{Seq: r.seq, Type: EventSnapshot, BattleID: r.id, Data: SnapshotData{Battle: r.state.Clone()}}
	select {
	case msg.Outbox <- snap:
	default:
		close(msg.Outbox)
		delete(r.clients, msg.ClientID)
	}
}

func (r *Room) publish(t EventType, data any) {
	r.seq++
	r.broadcast(Event{Seq: r.seq, Type: t, BattleID: r.id, Data: data})
}

func (r *Room) broadcast(ev Event) {
	for id, ch := range r.clients {
		select {
		case ch <- ev:
			//ok
		default:
			// Client is slow/full - drop them. They resubscribe for a fresh snapshot.
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Room) view() View {
	return View{Seq: r.seq, NumClients: len(r.clients), State: r.state.Clone()}
}

func (r *Room) shutdown() {
	r.stopTimer()
	for id, ch := range r.clients {
		close(ch) // Tell client no more events
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) now() time.Time { return r.deps.Now().UTC() }

func (r *Room) ID() string { return r.id }

// Created is the battle as it was when the room was created.
func (r *Room) Created() engine.Room { return r.created.Clone() }

// Inbox exposes the raw mailbox for callers that build their own messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the actor goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Stop tears the actor down without settling anything. It does not block.
func (r *Room) Stop() { r.cancel() }

// Discard stops a room that never made it into a registry. Once the actor
// has exited, every escrow it still holds is refunded and the battle is
// recorded as cancelled. ctx only bounds waiting for the actor.
func (r *Room) Discard(ctx context.Context) error {
	r.Stop()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.state.Status.Terminal() {
		return nil
	}

	cmd := engine.CmdCancel
	if r.state.Status == engine.StatusActive {
		cmd = engine.CmdForceStop
	}
	_, next, err := engine.Apply(r.state, engine.Command{Type: cmd, Reason: ReasonShutdown, At: r.now()})
	if err != nil {
		return err
	}
	r.state = next

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledger.CompensateTimeout)
	defer cancel()
	var errs error
	for _, p := range r.state.Participants {
		if opID, ok := r.escrows[p.UserID]; ok {
			errs = multierr.Append(errs, r.refund(ctx, p.UserID, opID))
		}
	}
	errs = multierr.Append(errs, r.deps.Store.UpdateBattle(ctx, r.state))
	if r.deps.Metrics != nil {
		r.deps.Metrics.BattleEnded(string(engine.StatusCancelled))
	}
	r.log.Info("unregistered battle discarded", zap.Error(errs))
	return errs
}

func (r *Room) Join(ctx context.Context, userID, username string) error {
	reply := make(chan error, 1)
	return r.call(ctx, Join{UserID: userID, Username: username, Reply: reply}, reply)
}

func (r *Room) Start(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	return r.call(ctx, Start{UserID: userID, Reply: reply}, reply)
}

func (r *Room) Cancel(ctx context.Context, userID, reason string) error {
	reply := make(chan error, 1)
	return r.call(ctx, Cancel{UserID: userID, Reason: reason, Reply: reply}, reply)
}

func (r *Room) ForceStop(ctx context.Context, reason string) error {
	reply := make(chan error, 1)
	return r.call(ctx, ForceStop{Reason: reason, Reply: reply}, reply)
}

func (r *Room) Subscribe(ctx context.Context, clientID string, outbox chan Event) error {
	return r.send(ctx, Subscribe{ClientID: clientID, Outbox: outbox})
}

func (r *Room) Unsubscribe(ctx context.Context, clientID string) error {
	return r.send(ctx, Unsubscribe{ClientID: clientID})
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return View{}, ErrRoomClosed
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) call(ctx context.Context, m Msg, reply chan error) error {
	if err := r.send(ctx, m); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		// The loop may have answered right before exiting.
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
