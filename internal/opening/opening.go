// Package opening turns one user, one box and one provably-fair draw into a
// priced transaction.
package opening

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/ledger"
)

var ErrOpeningNotFound = apperr.New(apperr.KindNotFound, "opening not found")
var ErrMissingUser = apperr.New(apperr.KindValidation, "missing user id")

// Opening is the write-once audit record of a single-player box opening.
// ServerSeed stays empty until the commitment is revealed.
type Opening struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	BoxID          string         `json:"boxId"`
	ItemID         string         `json:"itemId"`
	ItemName       string         `json:"itemName"`
	Rarity         catalog.Rarity `json:"rarity"`
	ItemValue      int64          `json:"itemValue"`
	Price          int64          `json:"price"`
	ClientSeed     string         `json:"clientSeed"`
	Nonce          uint64         `json:"nonce"`
	CommitmentID   string         `json:"commitmentId"`
	ServerSeedHash string         `json:"serverSeedHash"`
	ServerSeed     string         `json:"serverSeed,omitempty"`
	Protocol       string         `json:"protocol"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// InventoryItem is the item credited to a user by an opening.
type InventoryItem struct {
	OpeningID  string         `json:"openingId"`
	UserID     string         `json:"userId"`
	ItemID     string         `json:"itemId"`
	ItemName   string         `json:"itemName"`
	Rarity     catalog.Rarity `json:"rarity"`
	Value      int64          `json:"value"`
	AcquiredAt time.Time      `json:"acquiredAt"`
}

// InventoryItemFor is the inventory row CreateOpening writes alongside o.
func InventoryItemFor(o Opening) InventoryItem {
	return InventoryItem{
		OpeningID:  o.ID,
		UserID:     o.UserID,
		ItemID:     o.ItemID,
		ItemName:   o.ItemName,
		Rarity:     o.Rarity,
		Value:      o.ItemValue,
		AcquiredAt: o.CreatedAt,
	}
}

// Store persists openings. CreateOpening must write the opening and the
// user's inventory credit in one transaction.
type Store interface {
	NextNonce(ctx context.Context, userID, boxID string) (uint64, error)
	CreateOpening(ctx context.Context, o Opening) error
	RevealOpening(ctx context.Context, id, serverSeed string) error
	GetOpening(ctx context.Context, id string) (Opening, error)
	ListInventory(ctx context.Context, userID string) ([]InventoryItem, error)
}

type Recorder interface {
	OpeningCompleted(boxID string)
}

type Service struct {
	boxes     catalog.Boxes
	store     Store
	committer *fairness.Committer
	ledger    ledger.Ledger
	log       *zap.Logger
	metrics   Recorder
	retry     ledger.RetryPolicy
	now       func() time.Time
}

func NewService(boxes catalog.Boxes, store Store, committer *fairness.Committer, l ledger.Ledger, log *zap.Logger, metrics Recorder) *Service {
	return &Service{
		boxes:     boxes,
		store:     store,
		committer: committer,
		ledger:    l,
		log:       log,
		metrics:   metrics,
		retry:     ledger.DefaultRetry,
		now:       time.Now,
	}
}

// Open runs one priced, verifiable box opening. The debit is taken first,
// so a user who cannot pay leaves no nonce or commitment behind. Any
// failure after it compensates the debit; a failure to persist the opening
// is reported as an integrity error.
func (s *Service) Open(ctx context.Context, userID, boxID, clientSeed string) (Opening, error) {
	if userID == "" {
		return Opening{}, ErrMissingUser
	}
	box, err := s.boxes.GetBox(ctx, boxID)
	if err != nil {
		return Opening{}, err
	}
	if !box.Purchasable {
		return Opening{}, catalog.ErrBoxNotPurchasable
	}
	entries := box.Entries()
	if err := fairness.ValidateEntries(entries); err != nil {
		return Opening{}, fmt.Errorf("box %s: %w", box.ID, err)
	}
	if clientSeed == "" {
		clientSeed = uuid.NewString()
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("opening_id", id), zap.String("user_id", userID), zap.String("box_id", box.ID))
	if err := s.ledger.Debit(ctx, userID, box.Price, ledger.OpeningDebitID(id)); err != nil {
		return Opening{}, err
	}
	undo := func(cause error) error {
		refundErr := ledger.Compensate(ctx, s.retry, func(ctx context.Context) error {
			return s.ledger.Credit(ctx, userID, box.Price, ledger.OpeningRefundID(id))
		})
		if refundErr != nil {
			log.Error("refund after failed opening did not complete", zap.Error(refundErr))
			return apperr.Integrity(multierr.Append(cause, refundErr))
		}
		return cause
	}

	nonce, err := s.store.NextNonce(ctx, userID, box.ID)
	if err != nil {
		return Opening{}, undo(fmt.Errorf("next nonce: %w", err))
	}
	commitment, err := s.committer.Commit(ctx)
	if err != nil {
		return Opening{}, undo(err)
	}

	itemID, err := fairness.Resolve(entries, commitment.ServerSeed, clientSeed, nonce)
	if err != nil {
		return Opening{}, undo(apperr.Integrity(fmt.Errorf("resolve box %s: %w", box.ID, err)))
	}
	item, ok := box.Item(itemID)
	if !ok {
		return Opening{}, undo(apperr.Integrity(fmt.Errorf("resolved item %s missing from box %s", itemID, box.ID)))
	}

	o := Opening{
		ID:             id,
		UserID:         userID,
		BoxID:          box.ID,
		ItemID:         item.ItemID,
		ItemName:       item.Name,
		Rarity:         item.Rarity,
		ItemValue:      item.Value,
		Price:          box.Price,
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CommitmentID:   commitment.ID,
		ServerSeedHash: commitment.ServerSeedHash,
		Protocol:       fairness.ProtocolVersion,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.store.CreateOpening(ctx, o); err != nil {
		log.Error("persist opening failed, refunding debit", zap.Error(err))
		return Opening{}, undo(apperr.Integrity(fmt.Errorf("persist opening: %w", err)))
	}

	revealed, err := s.committer.Reveal(ctx, commitment.ID)
	if err != nil {
		// The opening is final; the seed can be revealed later from the commitment.
		log.Error("reveal after opening failed", zap.Error(err))
	} else if err := s.store.RevealOpening(ctx, o.ID, revealed.ServerSeed); err != nil {
		log.Error("store revealed seed failed", zap.Error(err))
	} else {
		o.ServerSeed = revealed.ServerSeed
	}

	if s.metrics != nil {
		s.metrics.OpeningCompleted(box.ID)
	}
	log.Info("box opened", zap.String("item_id", o.ItemID), zap.Uint64("nonce", nonce))
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Opening, error) {
	return s.store.GetOpening(ctx, id)
}

func (s *Service) Inventory(ctx context.Context, userID string) ([]InventoryItem, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.store.ListInventory(ctx, userID)
}
