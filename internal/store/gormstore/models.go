package gormstore

import (
	"time"
)

type boxModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Price       int64  `gorm:"not null"`
	Purchasable bool   `gorm:"not null;default:true"`
	UpdatedAt   time.Time

	Items []boxItemModel `gorm:"foreignKey:BoxID;constraint:OnDelete:CASCADE"`
}

func (boxModel) TableName() string { return "boxes" }

type boxItemModel struct {
	BoxID    string `gorm:"primaryKey"`
	ItemID   string `gorm:"primaryKey"`
	Position int    `gorm:"not null"`
	Name     string `gorm:"not null"`
	Weight   int64  `gorm:"not null"`
	Rarity   int    `gorm:"not null"`
	Value    int64  `gorm:"not null"`
}

func (boxItemModel) TableName() string { return "box_items" }

type commitmentModel struct {
	ID             string `gorm:"primaryKey"`
	ServerSeed     string `gorm:"not null"`
	ServerSeedHash string `gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time
	RevealedAt     *time.Time
}

func (commitmentModel) TableName() string { return "commitments" }

type nonceCounterModel struct {
	UserID string `gorm:"primaryKey"`
	BoxID  string `gorm:"primaryKey"`
	Value  uint64 `gorm:"not null"`
}

func (nonceCounterModel) TableName() string { return "nonce_counters" }

type openingModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index;not null"`
	BoxID          string `gorm:"not null"`
	ItemID         string `gorm:"not null"`
	ItemName       string
	Rarity         int
	ItemValue      int64  `gorm:"not null"`
	Price          int64  `gorm:"not null"`
	ClientSeed     string `gorm:"not null"`
	Nonce          uint64 `gorm:"not null"`
	CommitmentID   string `gorm:"uniqueIndex;not null"`
	ServerSeedHash string `gorm:"not null"`
	ServerSeed     string
	Protocol       string `gorm:"not null"`
	CreatedAt      time.Time
}

func (openingModel) TableName() string { return "openings" }

type inventoryModel struct {
	OpeningID  string `gorm:"primaryKey"`
	UserID     string `gorm:"index;not null"`
	ItemID     string `gorm:"not null"`
	ItemName   string
	Rarity     int
	Value      int64 `gorm:"not null"`
	AcquiredAt time.Time
}

func (inventoryModel) TableName() string { return "inventory" }

type battleModel struct {
	ID          string `gorm:"primaryKey"`
	BoxID       string `gorm:"index;not null"`
	BoxJSON     string `gorm:"not null"` // snapshot taken at creation
	CreatorID   string `gorm:"not null"`
	MaxPlayers  int    `gorm:"not null"`
	EntryFee    int64  `gorm:"not null"`
	TotalRounds int    `gorm:"not null"`
	Status      string `gorm:"index;not null"`
	Round       int    `gorm:"not null;default:0"`
	WinnerID    string
	Reason      string
	Payout      int64
	Fee         int64
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}

func (battleModel) TableName() string { return "battles" }

type participantModel struct {
	BattleID       string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey"`
	Username       string
	JoinOrder      int   `gorm:"not null"`
	TotalValue     int64 `gorm:"not null;default:0"`
	CommitmentID   string
	ServerSeedHash string
	ServerSeed     string
}

func (participantModel) TableName() string { return "battle_participants" }

type roundResultModel struct {
	BattleID string `gorm:"primaryKey"`
	Round    int    `gorm:"primaryKey"`
	UserID   string `gorm:"primaryKey"`
	Position int    `gorm:"not null"`
	ItemID   string `gorm:"not null"`
	Rarity   int
	Value    int64 `gorm:"not null"`
}

func (roundResultModel) TableName() string { return "battle_round_results" }

type balanceModel struct {
	UserID string `gorm:"primaryKey"`
	Amount int64  `gorm:"not null"`
}

func (balanceModel) TableName() string { return "balances" }

type ledgerEntryModel struct {
	OperationID string `gorm:"primaryKey"`
	UserID      string `gorm:"index;not null"`
	Amount      int64  `gorm:"not null"`
	CreatedAt   time.Time
}

func (ledgerEntryModel) TableName() string { return "ledger_entries" }

func allModels() []any {
	return []any{
		&boxModel{}, &boxItemModel{}, &commitmentModel{}, &nonceCounterModel{},
		&openingModel{}, &inventoryModel{}, &battleModel{}, &participantModel{},
		&roundResultModel{}, &balanceModel{}, &ledgerEntryModel{},
	}
}
