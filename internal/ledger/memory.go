package ledger

import (
	"context"
	"sync"
)

// Memory is an in-process ledger. DefaultBalance, when positive, is granted
// to users the first time they are seen (local development only).
type Memory struct {
	mu             sync.Mutex
	balances       map[string]int64
	applied        map[string]Entry
	order          []string
	DefaultBalance int64
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]int64),
		applied:  make(map[string]Entry),
	}
}

// Deposit sets up funds outside the operation log.
func (m *Memory) Deposit(userID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(userID)
	m.balances[userID] += amount
}

func (m *Memory) touch(userID string) {
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = m.DefaultBalance
	}
}

func (m *Memory) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(userID)
	return m.balances[userID], nil
}

func (m *Memory) Debit(_ context.Context, userID string, amount int64, opID string) error {
	return m.apply(userID, -amount, opID, amount)
}

func (m *Memory) Credit(_ context.Context, userID string, amount int64, opID string) error {
	return m.apply(userID, amount, opID, amount)
}

func (m *Memory) apply(userID string, delta int64, opID string, amount int64) error {
	if amount < 0 || opID == "" {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.applied[opID]; ok {
		if prev.UserID != userID || prev.Amount != delta {
			return ErrOperationReused
		}
		return nil
	}
	m.touch(userID)
	if m.balances[userID]+delta < 0 {
		return ErrInsufficientFunds
	}
	m.balances[userID] += delta
	m.applied[opID] = Entry{OperationID: opID, UserID: userID, Amount: delta}
	m.order = append(m.order, opID)
	return nil
}

// Entries returns applied operations in application order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.applied[id])
	}
	return out
}
