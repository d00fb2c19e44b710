package types

// ClientMessage is every inbound websocket frame. Which fields are read
// depends on Type.
type ClientMessage struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Username    string `json:"username,omitempty"`
	BattleID    string `json:"battleId,omitempty"`
	BoxID       string `json:"boxId,omitempty"`
	MaxPlayers  int    `json:"maxPlayers,omitempty"`
	EntryFee    int64  `json:"entryFee,omitempty"`
	TotalRounds int    `json:"totalRounds,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

const (
	CmdIdentify         = "identify"
	CmdSubscribe        = "subscribe_battle"
	CmdUnsubscribe      = "unsubscribe_battle"
	CmdSubscribeLobby   = "subscribe_lobby"
	CmdUnsubscribeLobby = "unsubscribe_lobby"
	CmdCreate           = "create_battle"
	CmdJoin             = "join_battle"
	CmdStart            = "start_battle"
	CmdCancel           = "cancel_battle"
)

// ServerMessage carries battle events as well as command acks and errors.
type ServerMessage struct {
	Type      string `json:"type"` // battle event type | "ack" | "error" | "subscription_closed"
	RequestID string `json:"requestId,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	BattleID  string `json:"battleId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	MsgAck                = "ack"
	MsgError              = "error"
	MsgSubscriptionClosed = "subscription_closed"
)
