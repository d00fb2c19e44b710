package fairness

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
)

var ErrCommitmentMismatch = apperr.New(apperr.KindIntegrity, "server seed does not match commitment")
var ErrCommitmentNotFound = apperr.New(apperr.KindNotFound, "commitment not found")
var ErrSeedReused = apperr.New(apperr.KindIntegrity, "server seed hash already committed")

const seedBytes = 32

// Commitment binds a secret server seed to its published hash.
// ServerSeed never leaves the process before RevealedAt is set.
type Commitment struct {
	ID             string     `json:"id"`
	ServerSeed     string     `json:"-"`
	ServerSeedHash string     `json:"serverSeedHash"`
	CreatedAt      time.Time  `json:"createdAt"`
	RevealedAt     *time.Time `json:"revealedAt,omitempty"`
}

func (c Commitment) Revealed() bool { return c.RevealedAt != nil }

// Verify checks hash(ServerSeed) == ServerSeedHash.
func (c Commitment) Verify() error {
	if HashSeed(c.ServerSeed) != c.ServerSeedHash {
		return ErrCommitmentMismatch
	}
	return nil
}

// NewServerSeed returns 32 bytes from crypto/rand, hex encoded.
func NewServerSeed() (string, error) {
	var b [seedBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read server seed: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// HashSeed is the commitment hash: hex(SHA-256(seed)).
func HashSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// Store persists commitments. SaveCommitment must reject a hash that was
// already stored.
type Store interface {
	SaveCommitment(ctx context.Context, c Commitment) error
	GetCommitment(ctx context.Context, id string) (Commitment, error)
	MarkRevealed(ctx context.Context, id string, at time.Time) error
}

// Committer creates and reveals commitments.
type Committer struct {
	store Store
	now   func() time.Time
}

func NewCommitter(store Store) *Committer {
	return &Committer{store: store, now: time.Now}
}

// Commit generates a fresh seed and persists its commitment before
// returning, so the hash is retrievable before any draw uses the seed.
func (c *Committer) Commit(ctx context.Context) (Commitment, error) {
	seed, err := NewServerSeed()
	if err != nil {
		return Commitment{}, err
	}
	cm := Commitment{
		ID:             uuid.NewString(),
		ServerSeed:     seed,
		ServerSeedHash: HashSeed(seed),
		CreatedAt:      c.now().UTC(),
	}
	if err := c.store.SaveCommitment(ctx, cm); err != nil {
		return Commitment{}, fmt.Errorf("save commitment: %w", err)
	}
	return cm, nil
}

// Reveal marks the commitment revealed and returns it with the seed.
// Revealing twice is a no-op.
func (c *Committer) Reveal(ctx context.Context, id string) (Commitment, error) {
	cm, err := c.store.GetCommitment(ctx, id)
	if err != nil {
		return Commitment{}, fmt.Errorf("get commitment %s: %w", id, err)
	}
	if err := cm.Verify(); err != nil {
		return Commitment{}, fmt.Errorf("commitment %s: %w", id, err)
	}
	if cm.Revealed() {
		return cm, nil
	}
	at := c.now().UTC()
	if err := c.store.MarkRevealed(ctx, id, at); err != nil {
		return Commitment{}, fmt.Errorf("reveal commitment %s: %w", id, err)
	}
	cm.RevealedAt = &at
	return cm, nil
}
