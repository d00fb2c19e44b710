package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casebattle-backend/internal/battle"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/opening"
)

// BoxLister is the catalog read side of the API.
type BoxLister interface {
	catalog.Boxes
	ListBoxes(ctx context.Context) ([]catalog.Box, error)
}

type API struct {
	battles   *battle.Service
	openings  *opening.Service
	boxes     BoxLister
	validator *validator.Validate
	log       *zap.Logger
}

func NewAPI(battles *battle.Service, openings *opening.Service, boxes BoxLister, log *zap.Logger) *API {
	return &API{
		battles:   battles,
		openings:  openings,
		boxes:     boxes,
		validator: validator.New(),
		log:       log,
	}
}

type caller struct {
	UserID   string
	Username string
}

// Identity is asserted by the gateway in front of this service.
func callerOf(r *http.Request) caller {
	return caller{UserID: r.Header.Get("X-User-ID"), Username: r.Header.Get("X-Username")}
}

// decode reads an optional JSON body and validates it.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "failed to decode request body")
		return false
	}
	if err := a.validator.Struct(v); err != nil {
		validationError(w, r, err)
		return false
	}
	return true
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) ListBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := a.boxes.ListBoxes(r.Context())
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.JSON(w, r, boxes)
}

type OpenBoxRequest struct {
	ClientSeed string `json:"clientSeed" validate:"max=128"`
}

func (a *API) OpenBox(w http.ResponseWriter, r *http.Request) {
	var req OpenBoxRequest
	if !a.decode(w, r, &req) {
		return
	}
	o, err := a.openings.Open(r.Context(), callerOf(r).UserID, chi.URLParam(r, "boxID"), req.ClientSeed)
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, o)
}

func (a *API) GetOpening(w http.ResponseWriter, r *http.Request) {
	o, err := a.openings.Get(r.Context(), chi.URLParam(r, "openingID"))
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.JSON(w, r, o)
}

func (a *API) Inventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.openings.Inventory(r.Context(), callerOf(r).UserID)
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.JSON(w, r, items)
}

type VerifyRequest struct {
	ServerSeed     string `validate:"required"`
	ServerSeedHash string `validate:"required,len=64,hexadecimal"`
	ClientSeed     string `validate:"required"`
	Nonce          uint64 `validate:"gte=1"`
	BoxID          string `validate:"required_without=BattleID"`
	BattleID       string
	ItemID         string `validate:"required"`
}

type VerifyResponse struct {
	fairness.Verification
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Verify recomputes a draw from revealed inputs. A battle id selects the
// box snapshot the battle was played with.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := VerifyRequest{
		ServerSeed:     q.Get("serverSeed"),
		ServerSeedHash: q.Get("serverSeedHash"),
		ClientSeed:     q.Get("clientSeed"),
		BoxID:          q.Get("boxId"),
		BattleID:       q.Get("battleId"),
		ItemID:         q.Get("itemId"),
	}
	if raw := q.Get("nonce"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, r, "nonce must be a positive integer")
			return
		}
		req.Nonce = n
	}
	if err := a.validator.Struct(req); err != nil {
		validationError(w, r, err)
		return
	}

	var box catalog.Box
	if req.BattleID != "" {
		b, err := a.battles.Get(r.Context(), req.BattleID)
		if err != nil {
			fail(w, r, a.log, err)
			return
		}
		box = b.Box
	} else {
		b, err := a.boxes.GetBox(r.Context(), req.BoxID)
		if err != nil {
			fail(w, r, a.log, err)
			return
		}
		box = b
	}

	v, err := fairness.Verify(box.Entries(), req.ServerSeed, req.ServerSeedHash, req.ClientSeed, req.Nonce, req.ItemID)
	resp := VerifyResponse{Verification: v, Valid: err == nil}
	if err != nil {
		if !errors.Is(err, fairness.ErrCommitmentMismatch) && !errors.Is(err, fairness.ErrOutcomeMismatch) {
			fail(w, r, a.log, err)
			return
		}
		resp.Error = err.Error()
	}
	render.JSON(w, r, resp)
}

type CreateBattleRequest struct {
	BoxID       string `json:"boxId" validate:"required"`
	MaxPlayers  int    `json:"maxPlayers" validate:"required,min=2"`
	EntryFee    int64  `json:"entryFee" validate:"gte=0"`
	TotalRounds int    `json:"totalRounds" validate:"required,min=1"`
}

func (a *API) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req CreateBattleRequest
	if !a.decode(w, r, &req) {
		return
	}
	c := callerOf(r)
	v, err := a.battles.Create(r.Context(), battle.CreateRequest{
		CreatorID:       c.UserID,
		CreatorUsername: c.Username,
		BoxID:           req.BoxID,
		MaxPlayers:      req.MaxPlayers,
		EntryFee:        req.EntryFee,
		TotalRounds:     req.TotalRounds,
	})
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, v.State)
}

func (a *API) ListBattles(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.battles.List(r.Context())
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.JSON(w, r, rooms)
}

func (a *API) GetBattle(w http.ResponseWriter, r *http.Request) {
	b, err := a.battles.Get(r.Context(), chi.URLParam(r, "battleID"))
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.JSON(w, r, b)
}

func (a *API) JoinBattle(w http.ResponseWriter, r *http.Request) {
	c := callerOf(r)
	a.command(w, r, func(ctx context.Context, id string) error {
		return a.battles.Join(ctx, id, c.UserID, c.Username)
	})
}

func (a *API) StartBattle(w http.ResponseWriter, r *http.Request) {
	c := callerOf(r)
	a.command(w, r, func(ctx context.Context, id string) error {
		return a.battles.Start(ctx, id, c.UserID)
	})
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=64"`
}

func (a *API) CancelBattle(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !a.decode(w, r, &req) {
		return
	}
	c := callerOf(r)
	a.command(w, r, func(ctx context.Context, id string) error {
		return a.battles.Cancel(ctx, id, c.UserID, req.Reason)
	})
}

func (a *API) ForceStopBattle(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.command(w, r, func(ctx context.Context, id string) error {
		return a.battles.ForceStop(ctx, id, req.Reason)
	})
}

// command runs fn against the battle in the URL and answers with its
// state afterwards.
func (a *API) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, battleID string) error) {
	id := chi.URLParam(r, "battleID")
	if err := fn(r.Context(), id); err != nil {
		fail(w, r, a.log, err)
		return
	}
	b, err := a.battles.Get(r.Context(), id)
	if err != nil {
		fail(w, r, a.log, err)
		return
	}
	render.JSON(w, r, b)
}
