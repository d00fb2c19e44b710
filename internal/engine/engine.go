package engine

import (
	"time"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
)

var ErrRoomFull = apperr.New(apperr.KindConflict, "room full")
var ErrAlreadyJoined = apperr.New(apperr.KindValidation, "already joined")
var ErrNotWaiting = apperr.New(apperr.KindConflict, "battle is not accepting joins")
var ErrNotActive = apperr.New(apperr.KindValidation, "battle is not active")
var ErrBattleClosed = apperr.New(apperr.KindValidation, "battle already finished")
var ErrNotCreator = apperr.New(apperr.KindValidation, "only the creator may do that")
var ErrTooFewPlayers = apperr.New(apperr.KindValidation, "not enough players to start")
var ErrRoundOutOfOrder = apperr.New(apperr.KindIntegrity, "round out of order")
var ErrRoundMismatch = apperr.New(apperr.KindIntegrity, "round results do not match participants")
var ErrInvalidConfig = apperr.New(apperr.KindValidation, "invalid battle configuration")
var ErrUnsupportedCommand = apperr.New(apperr.KindValidation, "unsupported command")
var ErrBattleNotFound = apperr.New(apperr.KindNotFound, "battle not found")

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool { return s == StatusFinished || s == StatusCancelled }

type Participant struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	JoinOrder      int    `json:"joinOrder"`
	TotalValue     int64  `json:"totalValue"`
	CommitmentID   string `json:"commitmentId,omitempty"`
	ServerSeedHash string `json:"serverSeedHash,omitempty"`
	ServerSeed     string `json:"serverSeed,omitempty"` // set on reveal
}

type RoundResult struct {
	Round  int            `json:"round"`
	UserID string         `json:"userId"`
	ItemID string         `json:"itemId"`
	Rarity catalog.Rarity `json:"rarity"`
	Value  int64          `json:"value"`
}

type Room struct {
	ID           string          `json:"id"`
	BoxID        string          `json:"boxId"`
	Box          catalog.Box     `json:"box"`
	CreatorID    string          `json:"creatorId"`
	MaxPlayers   int             `json:"maxPlayers"`
	EntryFee     int64           `json:"entryFee"`
	TotalRounds  int             `json:"totalRounds"`
	Status       Status          `json:"status"`
	Round        int             `json:"round"` // last completed round
	Participants []Participant   `json:"participants"`
	Rounds       [][]RoundResult `json:"rounds"`
	WinnerID     string          `json:"winnerId,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Payout       int64           `json:"payout,omitempty"`
	Fee          int64           `json:"fee,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	EndedAt      *time.Time      `json:"endedAt,omitempty"`
}

type Limits struct {
	MaxPlayers int
	MaxRounds  int
}

type NewParams struct {
	ID              string
	CreatorID       string
	CreatorUsername string
	Box             catalog.Box
	MaxPlayers      int
	EntryFee        int64
	TotalRounds     int
	Limits          Limits
	Now             time.Time
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdStart       CommandType = "Start"
	CmdCancel      CommandType = "Cancel"
	CmdForceStop   CommandType = "ForceStop"
	CmdRecordRound CommandType = "RecordRound"
)

/*
	CmdJoin        -> EvtParticipantJoined [-> EvtBattleStarted when the last slot fills]
	CmdStart       -> EvtBattleStarted
	CmdCancel      -> EvtBattleCancelled            (waiting only)
	CmdForceStop   -> EvtBattleForceStopped         (active only)
	CmdRecordRound -> EvtRoundCompleted [-> EvtBattleFinished on the last round]
*/

type Command struct {
	Type     CommandType
	UserID   string
	Username string
	Reason   string
	Round    int
	Results  []RoundResult
	At       time.Time
}

type EventType string

const (
	EvtBattleCreated      EventType = "BattleCreated"
	EvtParticipantJoined  EventType = "ParticipantJoined"
	EvtBattleStarted      EventType = "BattleStarted"
	EvtRoundCompleted     EventType = "RoundCompleted"
	EvtBattleFinished     EventType = "BattleFinished"
	EvtBattleCancelled    EventType = "BattleCancelled"
	EvtBattleForceStopped EventType = "BattleForceStopped"
)

type Event struct {
	Type   EventType
	UserID string
	Round  int
	Reason string
}

// New builds a waiting room with the creator seated at join order 0.
func New(p NewParams) (Room, []Event, error) {
	if p.ID == "" || p.CreatorID == "" {
		return Room{}, nil, ErrInvalidConfig
	}
	if p.MaxPlayers < 2 || (p.Limits.MaxPlayers > 0 && p.MaxPlayers > p.Limits.MaxPlayers) {
		return Room{}, nil, ErrInvalidConfig
	}
	if p.TotalRounds < 1 || (p.Limits.MaxRounds > 0 && p.TotalRounds > p.Limits.MaxRounds) {
		return Room{}, nil, ErrInvalidConfig
	}
	if p.EntryFee < 0 {
		return Room{}, nil, ErrInvalidConfig
	}
	if err := p.Box.Validate(); err != nil {
		return Room{}, nil, err
	}

	r := Room{
		ID:          p.ID,
		BoxID:       p.Box.ID,
		Box:         p.Box.Snapshot(),
		CreatorID:   p.CreatorID,
		MaxPlayers:  p.MaxPlayers,
		EntryFee:    p.EntryFee,
		TotalRounds: p.TotalRounds,
		Status:      StatusWaiting,
		Participants: []Participant{
			{UserID: p.CreatorID, Username: p.CreatorUsername, JoinOrder: 0},
		},
		CreatedAt: p.Now,
	}
	return r, []Event{{Type: EvtBattleCreated, UserID: p.CreatorID}}, nil
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never mutated; on error the returned state is s.
func Apply(s Room, cmd Command) ([]Event, Room, error) {
	if s.Status.Terminal() {
		return nil, s, ErrBattleClosed
	}

	switch cmd.Type {
	case CmdJoin:
		if s.Status != StatusWaiting {
			if s.Status == StatusActive && len(s.Participants) >= s.MaxPlayers {
				return nil, s, ErrRoomFull
			}
			return nil, s, ErrNotWaiting
		}
		if s.HasParticipant(cmd.UserID) {
			return nil, s, ErrAlreadyJoined
		}
		if len(s.Participants) >= s.MaxPlayers {
			return nil, s, ErrRoomFull
		}

		next := s.clone()
		next.Participants = append(next.Participants, Participant{
			UserID:    cmd.UserID,
			Username:  cmd.Username,
			JoinOrder: next.nextJoinOrder(),
		})
		events := []Event{{Type: EvtParticipantJoined, UserID: cmd.UserID}}

		// Auto-start the instant the last slot fills.
		if len(next.Participants) == next.MaxPlayers {
			next.activate(cmd.At)
			events = append(events, Event{Type: EvtBattleStarted})
		}
		return events, next, nil

	case CmdStart:
		if s.Status != StatusWaiting {
			return nil, s, ErrNotWaiting
		}
		if cmd.UserID != s.CreatorID {
			return nil, s, ErrNotCreator
		}
		if len(s.Participants) < 2 {
			return nil, s, ErrTooFewPlayers
		}
		next := s.clone()
		next.activate(cmd.At)
		return []Event{{Type: EvtBattleStarted}}, next, nil

	case CmdCancel:
		if s.Status != StatusWaiting {
			return nil, s, ErrNotWaiting
		}
		next := s.clone()
		next.end(StatusCancelled, cmd.Reason, cmd.At)
		return []Event{{Type: EvtBattleCancelled, Reason: cmd.Reason}}, next, nil

	case CmdForceStop:
		if s.Status != StatusActive {
			return nil, s, ErrNotActive
		}
		next := s.clone()
		next.end(StatusCancelled, cmd.Reason, cmd.At)
		return []Event{{Type: EvtBattleForceStopped, Reason: cmd.Reason}}, next, nil

	case CmdRecordRound:
		if s.Status != StatusActive {
			return nil, s, ErrNotActive
		}
		if cmd.Round != s.Round+1 || cmd.Round > s.TotalRounds {
			return nil, s, ErrRoundOutOfOrder
		}
		if len(cmd.Results) != len(s.Participants) {
			return nil, s, ErrRoundMismatch
		}
		for i, res := range cmd.Results {
			if res.Round != cmd.Round || res.UserID != s.Participants[i].UserID || res.Value < 0 {
				return nil, s, ErrRoundMismatch
			}
		}

		next := s.clone()
		for i, res := range cmd.Results {
			next.Participants[i].TotalValue += res.Value
		}
		next.Rounds = append(next.Rounds, append([]RoundResult(nil), cmd.Results...))
		next.Round = cmd.Round
		events := []Event{{Type: EvtRoundCompleted, Round: cmd.Round}}

		if next.Round == next.TotalRounds {
			w := Winner(next.Participants)
			next.WinnerID = w.UserID
			next.end(StatusFinished, "", cmd.At)
			events = append(events, Event{Type: EvtBattleFinished, UserID: w.UserID})
		}
		return events, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (s Room) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// clone copies every slice so the returned room shares nothing mutable with s.
func (s Room) clone() Room {
	next := s
	next.Participants = append([]Participant(nil), s.Participants...)
	next.Rounds = make([][]RoundResult, len(s.Rounds))
	for i, round := range s.Rounds {
		next.Rounds[i] = append([]RoundResult(nil), round...)
	}
	return next
}

// Clone is the exported deep copy used for snapshots handed to other goroutines.
func (s Room) Clone() Room {
	next := s.clone()
	next.Box = s.Box.Snapshot()
	return next
}

func (s *Room) nextJoinOrder() int {
	order := 0
	for _, p := range s.Participants {
		if p.JoinOrder >= order {
			order = p.JoinOrder + 1
		}
	}
	return order
}

func (s *Room) activate(at time.Time) {
	s.Status = StatusActive
	s.StartedAt = &at
}

func (s *Room) end(status Status, reason string, at time.Time) {
	s.Status = status
	s.Reason = reason
	s.EndedAt = &at
}
