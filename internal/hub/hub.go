package hub

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/room"
)

var ErrHubClosed = apperr.New(apperr.KindConflict, "battle registry is shutting down")

// EventBattleRemoved tells lobby subscribers a battle left the registry.
const EventBattleRemoved room.EventType = "battle_removed"

type HubMsg interface{ isHubMsg() }

type RegisterRoom struct {
	Room  *room.Room
	Reply chan error
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

type ListRooms struct {
	Reply chan []*room.Room
}

type RemoveRoom struct {
	ID string
}

// SubscribeLobby registers an outbox for registry-wide events:
// battle_created when a room is registered and battle_removed when it is
// archived. Resubscribing under the same client id replaces the outbox.
type SubscribeLobby struct {
	ClientID string
	Outbox   chan room.Event
}

type UnsubscribeLobby struct {
	ClientID string
}

type ShutdownHub struct{}

func (RegisterRoom) isHubMsg()     {}
func (GetRoom) isHubMsg()          {}
func (ListRooms) isHubMsg()        {}
func (RemoveRoom) isHubMsg()       {}
func (SubscribeLobby) isHubMsg()   {}
func (UnsubscribeLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg()      {}

type Recorder interface {
	RoomRegistered()
	RoomRemoved()
}

// Hub owns the id -> room registry. Rooms run under the hub's context, so
// cancelling it stops every room.
type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Room
	lobby   map[string]chan room.Event
	seq     uint64 // lobby events
	deps    room.Deps
	metrics Recorder
	log     *zap.Logger
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub starts the registry. deps is the template handed to every room;
// its OnArchive is replaced so archived rooms leave the registry.
func NewHub(parent context.Context, deps room.Deps, metrics Recorder) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		lobby:   make(map[string]chan room.Event),
		metrics: metrics,
		log:     deps.Log,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	deps.OnArchive = h.Remove
	h.deps = deps
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case RegisterRoom:
				h.rooms[msg.Room.ID()] = msg.Room
				if h.metrics != nil {
					h.metrics.RoomRegistered()
				}
				msg.Reply <- nil
				h.publish(room.EventBattleCreated, msg.Room.ID(), room.SnapshotData{Battle: msg.Room.Created()})

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // May be nil

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, r := range h.rooms {
					out = append(out, r)
				}
				msg.Reply <- out

			case RemoveRoom:
				if _, ok := h.rooms[msg.ID]; ok {
					delete(h.rooms, msg.ID)
					if h.metrics != nil {
						h.metrics.RoomRemoved()
					}
					h.publish(EventBattleRemoved, msg.ID, nil)
				}

			case SubscribeLobby:
				if old, ok := h.lobby[msg.ClientID]; ok && old != msg.Outbox {
					close(old)
				}
				h.lobby[msg.ClientID] = msg.Outbox

			case UnsubscribeLobby:
				if ch, ok := h.lobby[msg.ClientID]; ok {
					close(ch)
					delete(h.lobby, msg.ClientID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// publish fans a lobby event out. Slow subscribers are dropped the same way
// rooms drop them.
func (h *Hub) publish(t room.EventType, battleID string, data any) {
	h.seq++
	ev := room.Event{Seq: h.seq, Type: t, BattleID: battleID, Data: data}
	for id, ch := range h.lobby {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(h.lobby, id)
		}
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.lobby {
		close(ch)
		delete(h.lobby, id)
	}
	for id, r := range h.rooms {
		r.Stop()
		delete(h.rooms, id)
		if h.metrics != nil {
			h.metrics.RoomRemoved()
		}
	}
	h.cancel()
	h.log.Info("battle registry stopped")
}

// Create builds a room (escrowing the creator's fee) and registers it.
func (h *Hub) Create(ctx context.Context, p room.CreateParams) (*room.Room, error) {
	if h.ctx.Err() != nil {
		return nil, ErrHubClosed
	}
	r, err := room.Create(ctx, h.ctx, h.deps, p)
	if err != nil {
		return nil, err
	}
	reply := make(chan error, 1)
	if err := h.send(ctx, RegisterRoom{Room: r, Reply: reply}); err != nil {
		h.discard(ctx, r)
		return nil, err
	}
	select {
	case err := <-reply:
		return r, err
	case <-h.done:
		h.discard(ctx, r)
		return nil, ErrHubClosed
	}
}

// discard settles a room that was persisted and escrowed but never
// registered. It outlives ctx.
func (h *Hub) discard(ctx context.Context, r *room.Room) {
	if err := r.Discard(context.WithoutCancel(ctx)); err != nil {
		h.log.Error("discard unregistered room failed", zap.String("battle_id", r.ID()), zap.Error(err))
	}
}

func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		if r == nil {
			return nil, engine.ErrBattleNotFound
		}
		return r, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List returns views of live rooms, oldest first. With openOnly set only
// rooms still accepting joins are returned.
func (h *Hub) List(ctx context.Context, openOnly bool) ([]room.View, error) {
	reply := make(chan []*room.Room, 1)
	if err := h.send(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	var rooms []*room.Room
	select {
	case rooms = <-reply:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	views := make([]room.View, 0, len(rooms))
	for _, r := range rooms {
		v, err := r.View(ctx)
		if err != nil {
			// Archived between listing and asking.
			continue
		}
		if openOnly && v.State.Status != engine.StatusWaiting {
			continue
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].State.CreatedAt.Before(views[j].State.CreatedAt)
	})
	return views, nil
}

// Remove deregisters a room. It never blocks on a stopped hub.
func (h *Hub) Remove(id string) {
	select {
	case h.inbox <- RemoveRoom{ID: id}:
	case <-h.done:
	}
}

// SubscribeLobby starts delivering registry events to outbox, beginning
// with rooms registered after it returns.
func (h *Hub) SubscribeLobby(ctx context.Context, clientID string, outbox chan room.Event) error {
	return h.send(ctx, SubscribeLobby{ClientID: clientID, Outbox: outbox})
}

// UnsubscribeLobby closes the client's lobby outbox. It never blocks on a
// stopped hub.
func (h *Hub) UnsubscribeLobby(clientID string) {
	select {
	case h.inbox <- UnsubscribeLobby{ClientID: clientID}:
	case <-h.done:
	}
}

// Shutdown stops every room and the hub loop.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
