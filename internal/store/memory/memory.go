// Package memory is the in-process persistence adapter used for local runs
// and tests. Every method holds one mutex for its whole body, so each call
// is atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/opening"
	"github.com/DoyleJ11/casebattle-backend/internal/store"
)

type Store struct {
	mu          sync.Mutex
	boxes       map[string]catalog.Box
	commitments map[string]fairness.Commitment
	hashes      map[string]bool
	nonces      map[string]uint64
	openings    map[string]opening.Opening
	inventory   map[string][]opening.InventoryItem
	battles     map[string]engine.Room
}

var _ store.Store = (*Store)(nil)

func New(boxes ...catalog.Box) *Store {
	s := &Store{
		boxes:       make(map[string]catalog.Box),
		commitments: make(map[string]fairness.Commitment),
		hashes:      make(map[string]bool),
		nonces:      make(map[string]uint64),
		openings:    make(map[string]opening.Opening),
		inventory:   make(map[string][]opening.InventoryItem),
		battles:     make(map[string]engine.Room),
	}
	for _, b := range boxes {
		s.boxes[b.ID] = b.Snapshot()
	}
	return s
}

func (s *Store) PutBox(b catalog.Box) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxes[b.ID] = b.Snapshot()
}

func (s *Store) GetBox(_ context.Context, id string) (catalog.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boxes[id]
	if !ok {
		return catalog.Box{}, catalog.ErrBoxNotFound
	}
	return b.Snapshot(), nil
}

func (s *Store) ListBoxes(_ context.Context) ([]catalog.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Box, 0, len(s.boxes))
	for _, b := range s.boxes {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveCommitment(_ context.Context, c fairness.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[c.ServerSeedHash] {
		return fairness.ErrSeedReused
	}
	if _, ok := s.commitments[c.ID]; ok {
		return store.ErrDuplicate
	}
	s.commitments[c.ID] = c
	s.hashes[c.ServerSeedHash] = true
	return nil
}

func (s *Store) GetCommitment(_ context.Context, id string) (fairness.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return fairness.Commitment{}, fairness.ErrCommitmentNotFound
	}
	return c, nil
}

func (s *Store) MarkRevealed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return fairness.ErrCommitmentNotFound
	}
	if c.RevealedAt == nil {
		c.RevealedAt = &at
		s.commitments[id] = c
	}
	return nil
}

func (s *Store) NextNonce(_ context.Context, userID, boxID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "|" + boxID
	s.nonces[key]++
	return s.nonces[key], nil
}

func (s *Store) CreateOpening(_ context.Context, o opening.Opening) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.openings[o.ID]; ok {
		return store.ErrDuplicate
	}
	s.openings[o.ID] = o
	s.inventory[o.UserID] = append(s.inventory[o.UserID], opening.InventoryItemFor(o))
	return nil
}

func (s *Store) RevealOpening(_ context.Context, id, serverSeed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.openings[id]
	if !ok {
		return opening.ErrOpeningNotFound
	}
	o.ServerSeed = serverSeed
	s.openings[id] = o
	return nil
}

func (s *Store) GetOpening(_ context.Context, id string) (opening.Opening, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.openings[id]
	if !ok {
		return opening.Opening{}, opening.ErrOpeningNotFound
	}
	return o, nil
}

func (s *Store) ListInventory(_ context.Context, userID string) ([]opening.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]opening.InventoryItem(nil), s.inventory[userID]...), nil
}

func (s *Store) CreateBattle(_ context.Context, r engine.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.battles[r.ID]; ok {
		return store.ErrDuplicate
	}
	s.battles[r.ID] = r.Clone()
	return nil
}

func (s *Store) AddParticipant(_ context.Context, battleID string, p engine.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[battleID]
	if !ok {
		return engine.ErrBattleNotFound
	}
	if b.HasParticipant(p.UserID) {
		return store.ErrDuplicate
	}
	b = b.Clone()
	b.Participants = append(b.Participants, p)
	s.battles[battleID] = b
	return nil
}

func (s *Store) SaveParticipants(_ context.Context, battleID string, ps []engine.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[battleID]
	if !ok {
		return engine.ErrBattleNotFound
	}
	b = b.Clone()
	for _, p := range ps {
		i := indexOf(b.Participants, p.UserID)
		if i < 0 {
			return fmt.Errorf("battle %s: unknown participant %s: %w", battleID, p.UserID, engine.ErrBattleNotFound)
		}
		b.Participants[i] = p
	}
	s.battles[battleID] = b
	return nil
}

func (s *Store) AppendRound(_ context.Context, battleID string, results []engine.RoundResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[battleID]
	if !ok {
		return engine.ErrBattleNotFound
	}
	if len(results) == 0 {
		return nil
	}
	round := results[0].Round
	if round <= len(b.Rounds) {
		return store.ErrDuplicate
	}
	b = b.Clone()
	for _, res := range results {
		if i := indexOf(b.Participants, res.UserID); i >= 0 {
			b.Participants[i].TotalValue += res.Value
		}
	}
	b.Rounds = append(b.Rounds, append([]engine.RoundResult(nil), results...))
	b.Round = round
	s.battles[battleID] = b
	return nil
}

// UpdateBattle overwrites the battle header. Participants and rounds only
// change through their own methods.
func (s *Store) UpdateBattle(_ context.Context, r engine.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[r.ID]
	if !ok {
		return engine.ErrBattleNotFound
	}
	b.Status = r.Status
	b.WinnerID = r.WinnerID
	b.Reason = r.Reason
	b.Payout = r.Payout
	b.Fee = r.Fee
	b.StartedAt = r.StartedAt
	b.EndedAt = r.EndedAt
	s.battles[r.ID] = b
	return nil
}

func (s *Store) GetBattle(_ context.Context, id string) (engine.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return engine.Room{}, engine.ErrBattleNotFound
	}
	return b.Clone(), nil
}

func indexOf(ps []engine.Participant, userID string) int {
	for i, p := range ps {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}
