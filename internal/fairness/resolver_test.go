package fairness

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
)

// 70 / 25 / 5 table used by the documented examples below.
var exampleTable = []Entry{
	{ItemID: "1", Weight: 70},
	{ItemID: "2", Weight: 25},
	{ItemID: "3", Weight: 5},
}

func TestRoll_KnownVectors(t *testing.T) {
	cases := []struct {
		serverSeed string
		clientSeed string
		nonce      uint64
		want       uint64
	}{
		{"server-seed-1", "alice", 1, 10062910716984472170},
		{"server-seed-1", "alice", 2, 2642947112308797163},
		{"server-seed-1", "bob", 1, 13468947899383590681},
		{"fixed-seed", "client", 7, 6352556708918286234},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s/%d", tc.serverSeed, tc.clientSeed, tc.nonce), func(t *testing.T) {
			assert.Equal(t, tc.want, Roll(tc.serverSeed, tc.clientSeed, tc.nonce))
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	for nonce := uint64(1); nonce <= 50; nonce++ {
		a, err := Resolve(exampleTable, "seed", "client", nonce)
		require.NoError(t, err)
		b, err := Resolve(exampleTable, "seed", "client", nonce)
		require.NoError(t, err)
		require.Equal(t, a, b, "nonce %d", nonce)
	}
}

func TestResolve_DocumentedSeeds(t *testing.T) {
	cases := []struct {
		name  string
		nonce uint64
		want  string
	}{
		{"point 54 falls in [0,70)", 1, "1"},
		{"point 76 falls in [70,95)", 3, "2"},
		{"point 95 falls in [95,100)", 28, "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(exampleTable, "server-seed-1", "alice", tc.nonce)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPick_Fractions(t *testing.T) {
	cases := []struct {
		name string
		roll uint64
		want string
	}{
		{"r=0", 0, "1"},
		{"r=0.5 midpoint", 1 << 63, "1"},
		{"r=0.93", 17155471988549883904, "2"},
		{"r just below 1", math.MaxUint64, "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Pick(exampleTable, tc.roll)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPick_BoundaryGoesToLaterItem(t *testing.T) {
	// Total 4: a=[0,1) b=[1,2) c=[2,4). r=0.25 and r=0.5 land exactly on boundaries.
	table := []Entry{{ItemID: "a", Weight: 1}, {ItemID: "b", Weight: 1}, {ItemID: "c", Weight: 2}}

	got, err := Pick(table, 1<<62)
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	got, err = Pick(table, 1<<63)
	require.NoError(t, err)
	assert.Equal(t, "c", got)

	got, err = Pick(table, 1<<62-1)
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestPick_ZeroWeightNeverDrawn(t *testing.T) {
	table := []Entry{{ItemID: "zero", Weight: 0}, {ItemID: "only", Weight: 3}}
	for _, roll := range []uint64{0, 1, 1 << 63, math.MaxUint64} {
		got, err := Pick(table, roll)
		require.NoError(t, err)
		assert.Equal(t, "only", got)
	}
}

func TestPick_Errors(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
		wantErr error
	}{
		{"empty", nil, ErrEmptyItemSet},
		{"all zero", []Entry{{ItemID: "a"}, {ItemID: "b"}}, ErrInvalidWeights},
		{"negative", []Entry{{ItemID: "a", Weight: 5}, {ItemID: "b", Weight: -1}}, ErrInvalidWeights},
		{"overflow", []Entry{{ItemID: "a", Weight: math.MaxInt64}, {ItemID: "b", Weight: math.MaxInt64}, {ItemID: "c", Weight: 2}}, ErrInvalidWeights},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Pick(tc.entries, 42)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}
}

func TestResolve_FrequenciesMatchWeights(t *testing.T) {
	const samples = 100000
	counts := map[string]int{}
	for i := 0; i < samples; i++ {
		item, err := Resolve(exampleTable, "chi-squared-seed", "client", uint64(i))
		require.NoError(t, err)
		counts[item]++
	}

	var chi2 float64
	for _, e := range exampleTable {
		expected := float64(samples) * float64(e.Weight) / 100
		diff := float64(counts[e.ItemID]) - expected
		chi2 += diff * diff / expected
	}
	// 2 degrees of freedom; critical value at p=0.001 is 13.82.
	assert.Less(t, chi2, 13.82, "counts=%v", counts)
}

func TestVerify(t *testing.T) {
	seed := "server-seed-1"
	hash := HashSeed(seed)

	v, err := Verify(exampleTable, seed, hash, "alice", 28, "3")
	require.NoError(t, err)
	assert.True(t, v.CommitmentOK)
	assert.True(t, v.Match)
	assert.Equal(t, ProtocolVersion, v.Protocol)

	_, err = Verify(exampleTable, seed, hash, "alice", 28, "1")
	assert.ErrorIs(t, err, ErrOutcomeMismatch)

	_, err = Verify(exampleTable, "other-seed", hash, "alice", 28, "3")
	assert.ErrorIs(t, err, ErrCommitmentMismatch)
}
