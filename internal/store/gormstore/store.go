// Package gormstore is the Postgres persistence adapter. Connections come
// from pgx's database/sql driver; gorm maps the rows. Every multi-row write
// runs in one transaction.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/opening"
	"github.com/DoyleJ11/casebattle-backend/internal/store"
)

// Config is the gorm configuration every adapter connection uses.
// Driver errors are translated so duplicate keys surface as
// gorm.ErrDuplicatedKey.
func Config() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to Postgres through pgx's stdlib driver.
func Open(dsn string) (*gorm.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	sqlDB := stdlib.OpenDB(*cfg)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), Config())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SeedBoxes upserts boxes and replaces their item tables.
func (s *Store) SeedBoxes(ctx context.Context, boxes []catalog.Box) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, b := range boxes {
			row := boxModel{ID: b.ID, Name: b.Name, Price: b.Price, Purchasable: b.Purchasable}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("upsert box %s: %w", b.ID, err)
			}
			if err := tx.Where("box_id = ?", b.ID).Delete(&boxItemModel{}).Error; err != nil {
				return fmt.Errorf("clear items of %s: %w", b.ID, err)
			}
			items := make([]boxItemModel, len(b.Items))
			for i, it := range b.Items {
				items[i] = boxItemModel{
					BoxID: b.ID, ItemID: it.ItemID, Position: i, Name: it.Name,
					Weight: it.Weight, Rarity: int(it.Rarity), Value: it.Value,
				}
			}
			if len(items) > 0 {
				if err := tx.Create(&items).Error; err != nil {
					return fmt.Errorf("insert items of %s: %w", b.ID, err)
				}
			}
		}
		return nil
	})
}

func preloadItems(db *gorm.DB) *gorm.DB { return db.Order("position") }

func toBox(m boxModel) catalog.Box {
	b := catalog.Box{ID: m.ID, Name: m.Name, Price: m.Price, Purchasable: m.Purchasable}
	b.Items = make([]catalog.BoxItem, len(m.Items))
	for i, it := range m.Items {
		b.Items[i] = catalog.BoxItem{
			ItemID: it.ItemID, Name: it.Name, Weight: it.Weight,
			Rarity: catalog.Rarity(it.Rarity), Value: it.Value,
		}
	}
	return b
}

func (s *Store) GetBox(ctx context.Context, id string) (catalog.Box, error) {
	var m boxModel
	err := s.db.WithContext(ctx).Preload("Items", preloadItems).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Box{}, catalog.ErrBoxNotFound
	}
	if err != nil {
		return catalog.Box{}, fmt.Errorf("get box %s: %w", id, err)
	}
	return toBox(m), nil
}

func (s *Store) ListBoxes(ctx context.Context) ([]catalog.Box, error) {
	var rows []boxModel
	if err := s.db.WithContext(ctx).Preload("Items", preloadItems).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	out := make([]catalog.Box, len(rows))
	for i, m := range rows {
		out[i] = toBox(m)
	}
	return out, nil
}

func (s *Store) SaveCommitment(ctx context.Context, c fairness.Commitment) error {
	row := commitmentModel{
		ID: c.ID, ServerSeed: c.ServerSeed, ServerSeedHash: c.ServerSeedHash,
		CreatedAt: c.CreatedAt, RevealedAt: c.RevealedAt,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fairness.ErrSeedReused
	}
	if err != nil {
		return fmt.Errorf("save commitment: %w", err)
	}
	return nil
}

func (s *Store) GetCommitment(ctx context.Context, id string) (fairness.Commitment, error) {
	var m commitmentModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fairness.Commitment{}, fairness.ErrCommitmentNotFound
	}
	if err != nil {
		return fairness.Commitment{}, fmt.Errorf("get commitment: %w", err)
	}
	return fairness.Commitment{
		ID: m.ID, ServerSeed: m.ServerSeed, ServerSeedHash: m.ServerSeedHash,
		CreatedAt: m.CreatedAt, RevealedAt: m.RevealedAt,
	}, nil
}

func (s *Store) MarkRevealed(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&commitmentModel{}).
		Where("id = ? AND revealed_at IS NULL", id).
		Update("revealed_at", at)
	if res.Error != nil {
		return fmt.Errorf("mark revealed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&commitmentModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("mark revealed: %w", err)
		}
		if n == 0 {
			return fairness.ErrCommitmentNotFound
		}
	}
	return nil
}

func (s *Store) NextNonce(ctx context.Context, userID, boxID string) (uint64, error) {
	var next uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := nonceCounterModel{UserID: userID, BoxID: boxID, Value: 1}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "box_id"}},
			DoUpdates: clause.Assignments(map[string]any{"value": gorm.Expr("nonce_counters.value + 1")}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		var cur nonceCounterModel
		if err := tx.First(&cur, "user_id = ? AND box_id = ?", userID, boxID).Error; err != nil {
			return err
		}
		next = cur.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("next nonce: %w", err)
	}
	return next, nil
}

func (s *Store) CreateOpening(ctx context.Context, o opening.Opening) error {
	inv := opening.InventoryItemFor(o)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := openingModel{
			ID: o.ID, UserID: o.UserID, BoxID: o.BoxID, ItemID: o.ItemID, ItemName: o.ItemName,
			Rarity: int(o.Rarity), ItemValue: o.ItemValue, Price: o.Price, ClientSeed: o.ClientSeed,
			Nonce: o.Nonce, CommitmentID: o.CommitmentID, ServerSeedHash: o.ServerSeedHash,
			ServerSeed: o.ServerSeed, Protocol: o.Protocol, CreatedAt: o.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&inventoryModel{
			OpeningID: inv.OpeningID, UserID: inv.UserID, ItemID: inv.ItemID, ItemName: inv.ItemName,
			Rarity: int(inv.Rarity), Value: inv.Value, AcquiredAt: inv.AcquiredAt,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create opening: %w", err)
	}
	return nil
}

func (s *Store) RevealOpening(ctx context.Context, id, serverSeed string) error {
	res := s.db.WithContext(ctx).Model(&openingModel{}).Where("id = ?", id).Update("server_seed", serverSeed)
	if res.Error != nil {
		return fmt.Errorf("reveal opening: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return opening.ErrOpeningNotFound
	}
	return nil
}

func (s *Store) GetOpening(ctx context.Context, id string) (opening.Opening, error) {
	var m openingModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return opening.Opening{}, opening.ErrOpeningNotFound
	}
	if err != nil {
		return opening.Opening{}, fmt.Errorf("get opening: %w", err)
	}
	return opening.Opening{
		ID: m.ID, UserID: m.UserID, BoxID: m.BoxID, ItemID: m.ItemID, ItemName: m.ItemName,
		Rarity: catalog.Rarity(m.Rarity), ItemValue: m.ItemValue, Price: m.Price,
		ClientSeed: m.ClientSeed, Nonce: m.Nonce, CommitmentID: m.CommitmentID,
		ServerSeedHash: m.ServerSeedHash, ServerSeed: m.ServerSeed, Protocol: m.Protocol,
		CreatedAt: m.CreatedAt,
	}, nil
}

func (s *Store) ListInventory(ctx context.Context, userID string) ([]opening.InventoryItem, error) {
	var rows []inventoryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("acquired_at, opening_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	out := make([]opening.InventoryItem, len(rows))
	for i, m := range rows {
		out[i] = opening.InventoryItem{
			OpeningID: m.OpeningID, UserID: m.UserID, ItemID: m.ItemID, ItemName: m.ItemName,
			Rarity: catalog.Rarity(m.Rarity), Value: m.Value, AcquiredAt: m.AcquiredAt,
		}
	}
	return out, nil
}
