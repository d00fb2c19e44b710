package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/battle"
	"github.com/DoyleJ11/casebattle-backend/internal/room"
	"github.com/DoyleJ11/casebattle-backend/internal/types"
)

var errNotIdentified = apperr.New(apperr.KindValidation, "identify first")
var errUnknownType = apperr.New(apperr.KindValidation, "unknown type")
var errBadJSON = apperr.New(apperr.KindValidation, "bad json")

type ConnRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
}

type Options struct {
	Log            *zap.Logger
	Metrics        ConnRecorder
	WriteTimeout   time.Duration
	OriginPatterns []string
	OutboxSize     int
}

// Handler upgrades to a websocket and serves one client: a reader loop for
// commands, a writer goroutine owning the socket, and a forwarder per
// subscription (one battle and the lobby).
func Handler(svc *battle.Service, opts Options) http.HandlerFunc {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 32
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		if opts.Metrics != nil {
			opts.Metrics.ConnectionOpened()
			defer opts.Metrics.ConnectionClosed()
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{
			id:       uuid.NewString(),
			svc:      svc,
			opts:     opts,
			userID:   r.Header.Get("X-User-ID"),
			username: r.Header.Get("X-Username"),
			send:     make(chan types.ServerMessage, opts.OutboxSize),
			ctx:      ctx,
		}
		c.log = opts.Log.With(zap.String("client_id", c.id))
		defer c.unsubscribeLobby()
		defer c.unsubscribe()

		// Writer goroutine. c.log belongs to the reader from here on.
		wlog := c.log
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-c.send:
					wctx, wcancel := context.WithTimeout(ctx, opts.WriteTimeout)
					err := wsjson.Write(wctx, conn, msg)
					wcancel()
					if err != nil {
						wlog.Debug("write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					c.log.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.reply("", nil, errBadJSON)
				continue
			}
			c.handle(cm)
		}
	}
}

type client struct {
	id       string
	svc      *battle.Service
	opts     Options
	log      *zap.Logger
	userID   string
	username string
	send     chan types.ServerMessage
	ctx      context.Context

	battle *subscription // nil when none
	lobby  *subscription
}

// subscription ties a forwarder to one Subscribe call. quit is closed when
// the client ends it, so the forwarder can tell that from the server
// dropping the outbox.
type subscription struct {
	battleID string
	quit     chan struct{}
}

func newSubscription(battleID string) *subscription {
	return &subscription{battleID: battleID, quit: make(chan struct{})}
}

func (s *subscription) ended() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (c *client) handle(cm types.ClientMessage) {
	switch cm.Type {
	case types.CmdIdentify:
		if cm.UserID == "" {
			c.reply(cm.RequestID, nil, room.ErrMissingUser)
			return
		}
		c.userID, c.username = cm.UserID, cm.Username
		c.log = c.log.With(zap.String("user_id", c.userID))
		c.reply(cm.RequestID, map[string]string{"userId": c.userID}, nil)

	case types.CmdSubscribe:
		c.reply(cm.RequestID, nil, c.subscribe(cm.BattleID))

	case types.CmdUnsubscribe:
		c.unsubscribe()
		c.reply(cm.RequestID, nil, nil)

	case types.CmdSubscribeLobby:
		c.reply(cm.RequestID, nil, c.subscribeLobby())

	case types.CmdUnsubscribeLobby:
		c.unsubscribeLobby()
		c.reply(cm.RequestID, nil, nil)

	case types.CmdCreate:
		if c.userID == "" {
			c.reply(cm.RequestID, nil, errNotIdentified)
			return
		}
		v, err := c.svc.Create(c.ctx, battle.CreateRequest{
			CreatorID:       c.userID,
			CreatorUsername: c.username,
			BoxID:           cm.BoxID,
			MaxPlayers:      cm.MaxPlayers,
			EntryFee:        cm.EntryFee,
			TotalRounds:     cm.TotalRounds,
		})
		if err != nil {
			c.reply(cm.RequestID, nil, err)
			return
		}
		c.reply(cm.RequestID, v.State, nil)

	case types.CmdJoin, types.CmdStart, types.CmdCancel:
		if c.userID == "" {
			c.reply(cm.RequestID, nil, errNotIdentified)
			return
		}
		var err error
		switch cm.Type {
		case types.CmdJoin:
			err = c.svc.Join(c.ctx, cm.BattleID, c.userID, c.username)
		case types.CmdStart:
			err = c.svc.Start(c.ctx, cm.BattleID, c.userID)
		case types.CmdCancel:
			err = c.svc.Cancel(c.ctx, cm.BattleID, c.userID, cm.Reason)
		}
		c.reply(cm.RequestID, nil, err)

	default:
		c.reply(cm.RequestID, nil, errUnknownType)
	}
}

// subscribe replaces the current subscription. The room sends a snapshot
// first; the forwarder relays events until the room closes the outbox.
func (c *client) subscribe(battleID string) error {
	c.unsubscribe()
	out := make(chan room.Event, c.opts.OutboxSize)
	if err := c.svc.Subscribe(c.ctx, battleID, c.id, out); err != nil {
		return err
	}
	c.battle = newSubscription(battleID)
	go c.forward(c.battle, out)
	return nil
}

func (c *client) unsubscribe() {
	sub := c.battle
	if sub == nil {
		return
	}
	c.battle = nil
	close(sub.quit)
	// The request context may already be gone when the socket closes.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), time.Second)
	defer cancel()
	if err := c.svc.Unsubscribe(ctx, sub.battleID, c.id); err != nil {
		c.log.Debug("unsubscribe failed", zap.String("battle_id", sub.battleID), zap.Error(err))
	}
}

func (c *client) subscribeLobby() error {
	c.unsubscribeLobby()
	out := make(chan room.Event, c.opts.OutboxSize)
	if err := c.svc.SubscribeLobby(c.ctx, c.id, out); err != nil {
		return err
	}
	c.lobby = newSubscription("")
	go c.forward(c.lobby, out)
	return nil
}

func (c *client) unsubscribeLobby() {
	if c.lobby == nil {
		return
	}
	close(c.lobby.quit)
	c.lobby = nil
	c.svc.UnsubscribeLobby(c.id)
}

func (c *client) forward(sub *subscription, out <-chan room.Event) {
	terminal := false
	for {
		select {
		case <-sub.quit:
			return
		case ev, ok := <-out:
			if !ok {
				// Closed by the server without a terminal event: dropped as
				// too slow, or the room was stopped. The client resubscribes
				// for a fresh snapshot.
				if !terminal && !sub.ended() {
					c.push(types.ServerMessage{Type: types.MsgSubscriptionClosed, BattleID: sub.battleID})
				}
				return
			}
			if ev.Type.Terminal() {
				terminal = true
			}
			if !c.push(types.ServerMessage{Type: string(ev.Type), Seq: ev.Seq, BattleID: ev.BattleID, Data: ev.Data}) {
				return
			}
		}
	}
}

func (c *client) reply(requestID string, data any, err error) {
	if err != nil {
		c.push(types.ServerMessage{
			Type:      types.MsgError,
			RequestID: requestID,
			Code:      string(apperr.KindOf(err)),
			Error:     err.Error(),
		})
		return
	}
	c.push(types.ServerMessage{Type: types.MsgAck, RequestID: requestID, Data: data})
}

func (c *client) push(msg types.ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}
