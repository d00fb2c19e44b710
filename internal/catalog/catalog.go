package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
)

var ErrBoxNotFound = apperr.New(apperr.KindNotFound, "box not found")
var ErrBoxNotPurchasable = apperr.New(apperr.KindValidation, "box is not purchasable")
var ErrUnknownRarity = apperr.New(apperr.KindValidation, "unknown rarity")

type Rarity int

const (
	RarityCommon Rarity = iota
	RarityRare
	RarityEpic
	RarityLegendary
	RarityMythical
)

var rarityNames = []string{"common", "rare", "epic", "legendary", "mythical"}

func (r Rarity) String() string {
	if r < 0 || int(r) >= len(rarityNames) {
		return fmt.Sprintf("rarity(%d)", int(r))
	}
	return rarityNames[r]
}

func ParseRarity(s string) (Rarity, error) {
	for i, name := range rarityNames {
		if strings.EqualFold(s, name) {
			return Rarity(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRarity, s)
}

func (r Rarity) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(rarityNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRarity, int(r))
	}
	return []byte(rarityNames[r]), nil
}

func (r *Rarity) UnmarshalText(b []byte) error {
	parsed, err := ParseRarity(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type BoxItem struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Weight int64  `json:"weight"`
	Rarity Rarity `json:"rarity"`
	Value  int64  `json:"value"` // cents
}

type Box struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"` // cents
	Purchasable bool      `json:"purchasable"`
	Items       []BoxItem `json:"items"`
}

// Entries returns the draw table in item order.
func (b Box) Entries() []fairness.Entry {
	entries := make([]fairness.Entry, len(b.Items))
	for i, it := range b.Items {
		entries[i] = fairness.Entry{ItemID: it.ItemID, Weight: it.Weight}
	}
	return entries
}

func (b Box) Item(itemID string) (BoxItem, bool) {
	for _, it := range b.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return BoxItem{}, false
}

// Snapshot returns a deep copy so later catalog edits cannot leak into a
// battle that already started.
func (b Box) Snapshot() Box {
	cp := b
	cp.Items = append([]BoxItem(nil), b.Items...)
	return cp
}

// Validate checks the draw table and that item ids are unique.
func (b Box) Validate() error {
	if err := fairness.ValidateEntries(b.Entries()); err != nil {
		return fmt.Errorf("box %s: %w", b.ID, err)
	}
	seen := make(map[string]bool, len(b.Items))
	for _, it := range b.Items {
		if it.ItemID == "" || seen[it.ItemID] {
			return fmt.Errorf("box %s: %w: duplicate or empty item id %q", b.ID, fairness.ErrInvalidWeights, it.ItemID)
		}
		seen[it.ItemID] = true
	}
	return nil
}

// Boxes looks up boxes by id.
type Boxes interface {
	GetBox(ctx context.Context, id string) (Box, error)
}

// LoadFile reads a JSON array of boxes and validates each one.
func LoadFile(path string) ([]Box, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boxes file: %w", err)
	}
	var boxes []Box
	if err := json.Unmarshal(data, &boxes); err != nil {
		return nil, fmt.Errorf("decode boxes file: %w", err)
	}
	for _, b := range boxes {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}
	return boxes, nil
}
