package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/store"
)

func participantRow(battleID string, p engine.Participant) participantModel {
	return participantModel{
		BattleID: battleID, UserID: p.UserID, Username: p.Username, JoinOrder: p.JoinOrder,
		TotalValue: p.TotalValue, CommitmentID: p.CommitmentID,
		ServerSeedHash: p.ServerSeedHash, ServerSeed: p.ServerSeed,
	}
}

func (s *Store) CreateBattle(ctx context.Context, r engine.Room) error {
	box, err := json.Marshal(r.Box)
	if err != nil {
		return fmt.Errorf("encode box snapshot: %w", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := battleModel{
			ID: r.ID, BoxID: r.BoxID, BoxJSON: string(box), CreatorID: r.CreatorID,
			MaxPlayers: r.MaxPlayers, EntryFee: r.EntryFee, TotalRounds: r.TotalRounds,
			Status: string(r.Status), Round: r.Round, WinnerID: r.WinnerID, Reason: r.Reason,
			Payout: r.Payout, Fee: r.Fee, CreatedAt: r.CreatedAt, StartedAt: r.StartedAt, EndedAt: r.EndedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, p := range r.Participants {
			pr := participantRow(r.ID, p)
			if err := tx.Create(&pr).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create battle %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) battleExists(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&battleModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrBattleNotFound
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, battleID string, p engine.Participant) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.battleExists(tx, battleID); err != nil {
			return err
		}
		row := participantRow(battleID, p)
		return tx.Create(&row).Error
	})
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	case errors.Is(err, engine.ErrBattleNotFound):
		return err
	case err != nil:
		return fmt.Errorf("add participant to %s: %w", battleID, err)
	}
	return nil
}

func (s *Store) SaveParticipants(ctx context.Context, battleID string, ps []engine.Participant) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range ps {
			res := tx.Model(&participantModel{}).
				Where("battle_id = ? AND user_id = ?", battleID, p.UserID).
				Updates(map[string]any{
					"username":         p.Username,
					"join_order":       p.JoinOrder,
					"total_value":      p.TotalValue,
					"commitment_id":    p.CommitmentID,
					"server_seed_hash": p.ServerSeedHash,
					"server_seed":      p.ServerSeed,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("battle %s: unknown participant %s: %w", battleID, p.UserID, engine.ErrBattleNotFound)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, engine.ErrBattleNotFound) {
		return fmt.Errorf("save participants of %s: %w", battleID, err)
	}
	return err
}

// AppendRound stores one round's results and folds them into the running
// totals. A round at or below the stored round is rejected as a duplicate.
func (s *Store) AppendRound(ctx context.Context, battleID string, results []engine.RoundResult) error {
	if len(results) == 0 {
		return nil
	}
	round := results[0].Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b battleModel
		err := tx.Select("id", "round").First(&b, "id = ?", battleID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.ErrBattleNotFound
		}
		if err != nil {
			return err
		}
		if round <= b.Round {
			return store.ErrDuplicate
		}
		for i, res := range results {
			row := roundResultModel{
				BattleID: battleID, Round: res.Round, UserID: res.UserID, Position: i,
				ItemID: res.ItemID, Rarity: int(res.Rarity), Value: res.Value,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			err := tx.Model(&participantModel{}).
				Where("battle_id = ? AND user_id = ?", battleID, res.UserID).
				Update("total_value", gorm.Expr("total_value + ?", res.Value)).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&battleModel{}).Where("id = ?", battleID).Update("round", round).Error
	})
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, engine.ErrBattleNotFound):
		return err
	case err != nil:
		return fmt.Errorf("append round %d to %s: %w", round, battleID, err)
	}
	return nil
}

// UpdateBattle overwrites the battle header. Participants and rounds only
// change through their own methods.
func (s *Store) UpdateBattle(ctx context.Context, r engine.Room) error {
	res := s.db.WithContext(ctx).Model(&battleModel{}).Where("id = ?", r.ID).Updates(map[string]any{
		"status":     string(r.Status),
		"winner_id":  r.WinnerID,
		"reason":     r.Reason,
		"payout":     r.Payout,
		"fee":        r.Fee,
		"started_at": r.StartedAt,
		"ended_at":   r.EndedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update battle %s: %w", r.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return engine.ErrBattleNotFound
	}
	return nil
}

func (s *Store) GetBattle(ctx context.Context, id string) (engine.Room, error) {
	db := s.db.WithContext(ctx)
	var b battleModel
	err := db.First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Room{}, engine.ErrBattleNotFound
	}
	if err != nil {
		return engine.Room{}, fmt.Errorf("get battle %s: %w", id, err)
	}

	var box catalog.Box
	if err := json.Unmarshal([]byte(b.BoxJSON), &box); err != nil {
		return engine.Room{}, fmt.Errorf("decode box snapshot of %s: %w", id, err)
	}
	r := engine.Room{
		ID: b.ID, BoxID: b.BoxID, Box: box, CreatorID: b.CreatorID, MaxPlayers: b.MaxPlayers,
		EntryFee: b.EntryFee, TotalRounds: b.TotalRounds, Status: engine.Status(b.Status),
		Round: b.Round, WinnerID: b.WinnerID, Reason: b.Reason, Payout: b.Payout, Fee: b.Fee,
		CreatedAt: b.CreatedAt, StartedAt: b.StartedAt, EndedAt: b.EndedAt,
	}

	var ps []participantModel
	if err := db.Where("battle_id = ?", id).Order("join_order").Find(&ps).Error; err != nil {
		return engine.Room{}, fmt.Errorf("load participants of %s: %w", id, err)
	}
	r.Participants = make([]engine.Participant, len(ps))
	for i, p := range ps {
		r.Participants[i] = engine.Participant{
			UserID: p.UserID, Username: p.Username, JoinOrder: p.JoinOrder, TotalValue: p.TotalValue,
			CommitmentID: p.CommitmentID, ServerSeedHash: p.ServerSeedHash, ServerSeed: p.ServerSeed,
		}
	}

	var rs []roundResultModel
	if err := db.Where("battle_id = ?", id).Order("round, position").Find(&rs).Error; err != nil {
		return engine.Room{}, fmt.Errorf("load rounds of %s: %w", id, err)
	}
	for _, res := range rs {
		for len(r.Rounds) < res.Round {
			r.Rounds = append(r.Rounds, nil)
		}
		r.Rounds[res.Round-1] = append(r.Rounds[res.Round-1], engine.RoundResult{
			Round: res.Round, UserID: res.UserID, ItemID: res.ItemID,
			Rarity: catalog.Rarity(res.Rarity), Value: res.Value,
		})
	}
	return r, nil
}
