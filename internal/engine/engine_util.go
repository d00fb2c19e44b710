package engine

import (
	"github.com/shopspring/decimal"
)

// Winner returns the participant with the highest total; ties go to the
// earliest join order.
func Winner(ps []Participant) Participant {
	var best Participant
	for i, p := range ps {
		if i == 0 || p.TotalValue > best.TotalValue ||
			(p.TotalValue == best.TotalValue && p.JoinOrder < best.JoinOrder) {
			best = p
		}
	}
	return best
}

// Pot is the sum of all escrowed entry fees.
func (s Room) Pot() int64 {
	return s.EntryFee * int64(len(s.Participants))
}

// Settlement splits a pot into the winner's payout and the platform fee.
// The fee is floor(pot * rate) so rounding never favours the platform.
func Settlement(pot int64, rate decimal.Decimal) (payout, fee int64) {
	if pot <= 0 || rate.Sign() <= 0 {
		return pot, 0
	}
	fee = decimal.NewFromInt(pot).Mul(rate).Floor().IntPart()
	if fee > pot {
		fee = pot
	}
	return pot - fee, fee
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
