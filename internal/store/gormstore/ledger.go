package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/casebattle-backend/internal/ledger"
)

// Ledger keeps balances and the operation log in the same database as the
// rest of the state. Each operation locks the user's balance row and records
// its entry in one transaction.
type Ledger struct {
	db             *gorm.DB
	DefaultBalance int64
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var b balanceModel
	err := l.db.WithContext(ctx).First(&b, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return l.DefaultBalance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", userID, err)
	}
	return b.Amount, nil
}

func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, opID string) error {
	return l.apply(ctx, userID, -amount, opID, amount)
}

func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, opID string) error {
	return l.apply(ctx, userID, amount, opID, amount)
}

func (l *Ledger) apply(ctx context.Context, userID string, delta int64, opID string, amount int64) error {
	if amount < 0 || opID == "" {
		return ledger.ErrInvalidAmount
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if done, err := replayed(tx, userID, delta, opID); done || err != nil {
			return err
		}

		seed := balanceModel{UserID: userID, Amount: l.DefaultBalance}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		var bal balanceModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&bal, "user_id = ?", userID).Error; err != nil {
			return err
		}
		if bal.Amount+delta < 0 {
			return ledger.ErrInsufficientFunds
		}
		if err := tx.Model(&bal).Update("amount", bal.Amount+delta).Error; err != nil {
			return err
		}
		return tx.Create(&ledgerEntryModel{OperationID: opID, UserID: userID, Amount: delta}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// a concurrent call with the same operation id won the insert
		_, err = replayed(l.db.WithContext(ctx), userID, delta, opID)
	}
	if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) && !errors.Is(err, ledger.ErrOperationReused) {
		return fmt.Errorf("ledger %s: %w", opID, err)
	}
	return err
}

// replayed reports whether opID has already been applied. An entry recorded
// with a different user or amount is ErrOperationReused.
func replayed(db *gorm.DB, userID string, delta int64, opID string) (bool, error) {
	var prev ledgerEntryModel
	err := db.First(&prev, "operation_id = ?", opID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if prev.UserID != userID || prev.Amount != delta {
		return true, ledger.ErrOperationReused
	}
	return true, nil
}

// Entries returns the operation log for userID, oldest first.
func (l *Ledger) Entries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	var rows []ledgerEntryModel
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, operation_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("entries of %s: %w", userID, err)
	}
	out := make([]ledger.Entry, len(rows))
	for i, r := range rows {
		out[i] = ledger.Entry{OperationID: r.OperationID, UserID: r.UserID, Amount: r.Amount}
	}
	return out, nil
}
