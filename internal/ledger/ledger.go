// Package ledger is the boundary to the currency ledger. Every debit and
// credit carries an operation id and must be idempotent on it: replaying an
// operation id that already succeeded is a no-op.
package ledger

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
)

var ErrInsufficientFunds = apperr.New(apperr.KindInsufficientFunds, "insufficient funds")
var ErrInvalidAmount = apperr.New(apperr.KindValidation, "invalid amount")

// ErrOperationReused is returned when an operation id is replayed with a
// different user or amount.
var ErrOperationReused = apperr.New(apperr.KindConflict, "operation id reused with different parameters")

type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, opID string) error
	Credit(ctx context.Context, userID string, amount int64, opID string) error
}

// Entry is one applied operation. Amount is negative for debits.
type Entry struct {
	OperationID string
	UserID      string
	Amount      int64
}

func OpeningDebitID(openingID string) string  { return fmt.Sprintf("opening:%s:debit", openingID) }
func OpeningRefundID(openingID string) string { return RefundFor(OpeningDebitID(openingID)) }

// EscrowID names one escrow attempt; a user whose join was rolled back gets
// a fresh attempt number on the next try.
func EscrowID(battleID, userID string, attempt int) string {
	return fmt.Sprintf("battle:%s:escrow:%s:%d", battleID, userID, attempt)
}

// RefundFor names the credit that reverses a specific debit.
func RefundFor(debitID string) string { return debitID + ":refund" }

func PayoutID(battleID string) string { return fmt.Sprintf("battle:%s:payout", battleID) }
