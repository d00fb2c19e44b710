package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
)

func writeBoxes(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boxes.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_ShippedCatalog(t *testing.T) {
	boxes, err := LoadFile(filepath.Join("..", "..", "boxes.json"))
	require.NoError(t, err)
	require.NotEmpty(t, boxes)
	for _, b := range boxes {
		assert.NotEmpty(t, b.Items, b.ID)
	}
}

func TestLoadFile_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"empty items", `[{"id":"b","items":[]}]`, fairness.ErrEmptyItemSet},
		{"zero total weight", `[{"id":"b","items":[{"itemId":"x","weight":0}]}]`, fairness.ErrInvalidWeights},
		{"duplicate item", `[{"id":"b","items":[{"itemId":"x","weight":1},{"itemId":"x","weight":1}]}]`, fairness.ErrInvalidWeights},
		{"unknown rarity", `[{"id":"b","items":[{"itemId":"x","weight":1,"rarity":"shiny"}]}]`, ErrUnknownRarity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeBoxes(t, tc.body))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRarity_Text(t *testing.T) {
	b, err := json.Marshal(BoxItem{ItemID: "x", Rarity: RarityEpic})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"rarity":"epic"`)

	r, err := ParseRarity("LEGENDARY")
	require.NoError(t, err)
	assert.Equal(t, RarityLegendary, r)
	assert.Equal(t, "rarity(9)", Rarity(9).String())
}

func TestSnapshot_IsIndependent(t *testing.T) {
	b := Box{ID: "b", Items: []BoxItem{{ItemID: "x", Weight: 1, Value: 10}}}
	snap := b.Snapshot()
	b.Items[0].Value = 99

	it, ok := snap.Item("x")
	require.True(t, ok)
	assert.Equal(t, int64(10), it.Value)
	_, ok = snap.Item("y")
	assert.False(t, ok)
}
