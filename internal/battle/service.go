// Package battle is the command surface shared by the HTTP API and the
// websocket gateway. It resolves battle ids to live rooms through the hub
// and falls back to the store for battles that were already archived.
package battle

import (
	"context"
	"errors"

	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/hub"
	"github.com/DoyleJ11/casebattle-backend/internal/room"
)

// Archive reads persisted battles.
type Archive interface {
	GetBattle(ctx context.Context, id string) (engine.Room, error)
}

type CreateRequest struct {
	CreatorID       string
	CreatorUsername string
	BoxID           string
	MaxPlayers      int
	EntryFee        int64
	TotalRounds     int
}

type Service struct {
	hub     *hub.Hub
	boxes   catalog.Boxes
	archive Archive
}

func NewService(h *hub.Hub, boxes catalog.Boxes, archive Archive) *Service {
	return &Service{hub: h, boxes: boxes, archive: archive}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (room.View, error) {
	if req.CreatorID == "" {
		return room.View{}, room.ErrMissingUser
	}
	box, err := s.boxes.GetBox(ctx, req.BoxID)
	if err != nil {
		return room.View{}, err
	}
	r, err := s.hub.Create(ctx, room.CreateParams{
		CreatorID:       req.CreatorID,
		CreatorUsername: req.CreatorUsername,
		Box:             box,
		MaxPlayers:      req.MaxPlayers,
		EntryFee:        req.EntryFee,
		TotalRounds:     req.TotalRounds,
	})
	if err != nil {
		return room.View{}, err
	}
	return r.View(ctx)
}

func (s *Service) Join(ctx context.Context, battleID, userID, username string) error {
	r, err := s.live(ctx, battleID)
	if err != nil {
		return err
	}
	return r.Join(ctx, userID, username)
}

func (s *Service) Start(ctx context.Context, battleID, userID string) error {
	r, err := s.live(ctx, battleID)
	if err != nil {
		return err
	}
	return r.Start(ctx, userID)
}

// Cancel aborts a waiting battle on behalf of its creator.
func (s *Service) Cancel(ctx context.Context, battleID, userID, reason string) error {
	if userID == "" {
		return room.ErrMissingUser
	}
	r, err := s.live(ctx, battleID)
	if err != nil {
		return err
	}
	return r.Cancel(ctx, userID, reason)
}

// ForceStop is the administrative stop of an active battle.
func (s *Service) ForceStop(ctx context.Context, battleID, reason string) error {
	r, err := s.live(ctx, battleID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "admin"
	}
	return r.ForceStop(ctx, reason)
}

// Get returns the live state of a battle, or its persisted record once the
// room is gone.
func (s *Service) Get(ctx context.Context, battleID string) (engine.Room, error) {
	r, err := s.hub.Get(ctx, battleID)
	if err == nil {
		v, err := r.View(ctx)
		if err == nil {
			return v.State, nil
		}
		if !errors.Is(err, room.ErrRoomClosed) {
			return engine.Room{}, err
		}
	} else if !errors.Is(err, engine.ErrBattleNotFound) {
		return engine.Room{}, err
	}
	return s.archive.GetBattle(ctx, battleID)
}

// List returns battles still accepting joins.
func (s *Service) List(ctx context.Context) ([]engine.Room, error) {
	views, err := s.hub.List(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Room, len(views))
	for i, v := range views {
		out[i] = v.State
	}
	return out, nil
}

func (s *Service) Subscribe(ctx context.Context, battleID, clientID string, outbox chan room.Event) error {
	r, err := s.live(ctx, battleID)
	if err != nil {
		return err
	}
	return r.Subscribe(ctx, clientID, outbox)
}

// Unsubscribe is a no-op when the room is already gone.
func (s *Service) Unsubscribe(ctx context.Context, battleID, clientID string) error {
	r, err := s.hub.Get(ctx, battleID)
	if err != nil {
		if errors.Is(err, engine.ErrBattleNotFound) {
			return nil
		}
		return err
	}
	if err := r.Unsubscribe(ctx, clientID); err != nil && !errors.Is(err, room.ErrRoomClosed) {
		return err
	}
	return nil
}

// SubscribeLobby delivers battle_created and battle_removed for every room
// in the registry to outbox.
func (s *Service) SubscribeLobby(ctx context.Context, clientID string, outbox chan room.Event) error {
	return s.hub.SubscribeLobby(ctx, clientID, outbox)
}

func (s *Service) UnsubscribeLobby(clientID string) {
	s.hub.UnsubscribeLobby(clientID)
}

// live resolves a room that can still take commands. A battle that only
// exists in the archive is reported as closed.
func (s *Service) live(ctx context.Context, battleID string) (*room.Room, error) {
	r, err := s.hub.Get(ctx, battleID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, engine.ErrBattleNotFound) {
		return nil, err
	}
	if _, archErr := s.archive.GetBattle(ctx, battleID); archErr == nil {
		return nil, engine.ErrBattleClosed
	}
	return nil, err
}
