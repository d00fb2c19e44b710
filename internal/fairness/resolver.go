// Package fairness implements the provably-fair draw: a server seed is
// committed (hashed and stored) before any outcome exists, outcomes are
// derived from (serverSeed, clientSeed, nonce), and the seed is revealed
// afterwards so anyone can recompute the result.
//
// # Protocol hmac-sha256-v1
//
//	mac   = HMAC-SHA256(key = serverSeed, msg = clientSeed + ":" + nonce)
//	roll  = big-endian uint64 of mac[0:8]          (r = roll / 2^64, r in [0,1))
//	point = floor(roll * totalWeight / 2^64)       (exact 128-bit product)
//
// Item i owns the half-open range [cum(i-1), cum(i)) of the cumulative
// weight table, so a point landing exactly on a boundary goes to the later
// item. The version string is stored with every draw; changing any step
// above requires a new version.
package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"strconv"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
)

const ProtocolVersion = "hmac-sha256-v1"

var ErrEmptyItemSet = apperr.New(apperr.KindValidation, "empty item set")
var ErrInvalidWeights = apperr.New(apperr.KindValidation, "invalid weights")
var ErrOutcomeMismatch = apperr.New(apperr.KindIntegrity, "outcome does not match recomputed draw")

// Entry is one row of a draw table.
type Entry struct {
	ItemID string `json:"itemId"`
	Weight int64  `json:"weight"`
}

// Roll derives the 64-bit draw value for one (serverSeed, clientSeed, nonce).
func Roll(serverSeed, clientSeed string, nonce uint64) uint64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed))
	mac.Write([]byte{':'})
	mac.Write([]byte(strconv.FormatUint(nonce, 10)))
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Fraction maps a roll onto [0,1). Display only; Pick never uses floats.
func Fraction(roll uint64) float64 {
	return float64(roll) / (1 << 64)
}

// ValidateEntries reports ErrEmptyItemSet or ErrInvalidWeights.
func ValidateEntries(entries []Entry) error {
	_, err := totalWeight(entries)
	return err
}

func totalWeight(entries []Entry) (uint64, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyItemSet
	}
	var total uint64
	for _, e := range entries {
		if e.Weight < 0 {
			return 0, ErrInvalidWeights
		}
		var carry uint64
		total, carry = bits.Add64(total, uint64(e.Weight), 0)
		if carry != 0 {
			return 0, ErrInvalidWeights
		}
	}
	if total == 0 {
		return 0, ErrInvalidWeights
	}
	return total, nil
}

// Pick maps a roll onto the cumulative weight table.
func Pick(entries []Entry, roll uint64) (string, error) {
	total, err := totalWeight(entries)
	if err != nil {
		return "", err
	}
	point, _ := bits.Mul64(roll, total)

	var cum uint64
	for _, e := range entries {
		cum += uint64(e.Weight)
		if point < cum {
			return e.ItemID, nil
		}
	}
	// point < total always holds, so the loop returns; keep the compiler happy.
	return entries[len(entries)-1].ItemID, nil
}

// Resolve returns exactly one item id for the given inputs. It is pure:
// identical inputs always yield the identical item.
func Resolve(entries []Entry, serverSeed, clientSeed string, nonce uint64) (string, error) {
	return Pick(entries, Roll(serverSeed, clientSeed, nonce))
}

// Verification is the outcome of Verify.
type Verification struct {
	Protocol       string  `json:"protocol"`
	CommitmentOK   bool    `json:"commitmentOk"`
	Roll           uint64  `json:"roll,string"`
	Fraction       float64 `json:"fraction"`
	ExpectedItemID string  `json:"expectedItemId"`
	Match          bool    `json:"match"`
}

// Verify recomputes a draw from revealed inputs. It returns
// ErrCommitmentMismatch when the seed does not hash to the commitment and
// ErrOutcomeMismatch when the recorded item differs from the recomputed one.
func Verify(entries []Entry, serverSeed, serverSeedHash, clientSeed string, nonce uint64, itemID string) (Verification, error) {
	v := Verification{Protocol: ProtocolVersion}
	v.CommitmentOK = HashSeed(serverSeed) == serverSeedHash
	v.Roll = Roll(serverSeed, clientSeed, nonce)
	v.Fraction = Fraction(v.Roll)

	expected, err := Pick(entries, v.Roll)
	if err != nil {
		return v, err
	}
	v.ExpectedItemID = expected
	v.Match = expected == itemID

	if !v.CommitmentOK {
		return v, ErrCommitmentMismatch
	}
	if !v.Match {
		return v, ErrOutcomeMismatch
	}
	return v, nil
}
