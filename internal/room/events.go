package room

import (
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
)

type EventType string

const (
	EventSnapshot           EventType = "battle_snapshot"
	EventBattleCreated      EventType = "battle_created"
	EventParticipantJoined  EventType = "participant_joined"
	EventBattleStarted      EventType = "battle_started"
	EventRoundStarting      EventType = "round_starting"
	EventRoundCompleted     EventType = "round_completed"
	EventBattleFinished     EventType = "battle_finished"
	EventBattleForceStopped EventType = "battle_force_stopped"
	EventBattleCancelled    EventType = "battle_cancelled"
)

func (t EventType) Terminal() bool {
	return t == EventBattleFinished || t == EventBattleForceStopped || t == EventBattleCancelled
}

// Event is what subscribers receive. Seq strictly increases per room; a
// snapshot carries the seq of the last event it already reflects.
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	BattleID string    `json:"battleId"`
	Data     any       `json:"data,omitempty"`
}

type SnapshotData struct {
	Battle engine.Room `json:"battle"`
}

type ParticipantJoinedData struct {
	Participant  engine.Participant `json:"participant"`
	Participants int                `json:"participants"`
	MaxPlayers   int                `json:"maxPlayers"`
}

type BattleStartedData struct {
	Protocol     string               `json:"protocol"`
	TotalRounds  int                  `json:"totalRounds"`
	Participants []engine.Participant `json:"participants"`
}

type RoundStartingData struct {
	Round       int   `json:"round"`
	TotalRounds int   `json:"totalRounds"`
	StartsInMs  int64 `json:"startsInMs"`
}

type ParticipantResult struct {
	UserID     string         `json:"userId"`
	Username   string         `json:"username"`
	ItemID     string         `json:"itemId"`
	ItemName   string         `json:"itemName"`
	Rarity     catalog.Rarity `json:"rarity"`
	Value      int64          `json:"value"`
	TotalValue int64          `json:"totalValue"`
}

type RoundCompletedData struct {
	Round        int                 `json:"round"`
	TotalRounds  int                 `json:"totalRounds"`
	Participants []ParticipantResult `json:"participants"`
}

type BattleFinishedData struct {
	Winner       engine.Participant   `json:"winner"`
	Payout       int64                `json:"payout"`
	Fee          int64                `json:"fee"`
	Participants []engine.Participant `json:"participants"`
}

type BattleStoppedData struct {
	Reason       string               `json:"reason"`
	Round        int                  `json:"round"`
	Participants []engine.Participant `json:"participants"`
}
