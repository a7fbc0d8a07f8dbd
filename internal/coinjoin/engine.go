package coinjoin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kasmix/internal/chainadapter"
	"kasmix/internal/config"
	"kasmix/internal/store"
)

// roundState holds the coordinator-visible, key-free state of a round once
// it reaches assembly: the published descriptor and whichever signature
// shares have arrived so far. Never touched by anything but Build,
// SubmitSignatureShares, and Submit.
type roundState struct {
	descriptor *Descriptor
	signatures map[int]string // input index -> signature script
	signedBy   map[int]string // input index -> owning session id that supplied it
}

// Engine owns the CoinJoin round lifecycle: commit, reveal, round
// formation, assembly, signature aggregation, submission.
type Engine struct {
	store *store.Store
	chain chainadapter.Adapter

	mu     sync.Mutex
	rounds map[string]*roundState
}

// New creates a CoinJoin Engine bound to a session store and chain adapter.
func New(st *store.Store, chain chainadapter.Adapter) *Engine {
	return &Engine{store: st, chain: chain, rounds: make(map[string]*roundState)}
}

// Create opens a new CoinJoin session: computes the commitment locally and
// persists the committed session along with the one-click-reveal fields
// (§4.4.1, §4.4.8). utxos must sum to exactly perParticipantAmount; the
// caller is responsible for having obtained such a UTXO from the UTXO
// Service beforehand.
func (e *Engine) Create(perParticipantAmount store.Sompi, destination string, utxos []store.RevealedOutpoint) (*store.CoinJoinSession, error) {
	if len(utxos) == 0 {
		return nil, fmt.Errorf("%w: coinjoin session requires at least one utxo", config.ErrInputValidation)
	}
	if destination == "" {
		return nil, fmt.Errorf("%w: destination address must not be empty", config.ErrInputValidation)
	}
	if sumRevealedOutpoints(utxos) != perParticipantAmount {
		return nil, fmt.Errorf("%w: utxo total does not equal per-participant amount", config.ErrInputValidation)
	}

	salt := make([]byte, config.CommitmentSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate commitment salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	destHash := ComputeDestHash(destination, salt)
	utxoDigest := ComputeUTXODigest(utxos)
	commitment := ComputeCommitment(destHash, utxoDigest, perParticipantAmount)

	now := time.Now().UTC()
	session := &store.CoinJoinSession{
		SchemaVersion:          store.CurrentSchemaVersion,
		ID:                     uuid.New().String(),
		ParticipantCountTarget: config.ParticipantCountTarget,
		PerParticipantAmount:   perParticipantAmount,
		Commitment:             commitment,
		DestinationHash:        destHash,
		OriginalUTXOs:          utxos,
		OriginalDestination:    destination,
		Salt:                   saltHex,
		Status:                 store.CoinJoinCommitted,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := e.store.PutCoinJoinSession(session); err != nil {
		return nil, fmt.Errorf("persist new coinjoin session: %w", err)
	}
	return session, nil
}

// Get returns a session by id.
func (e *Engine) Get(id string) (*store.CoinJoinSession, error) {
	return e.store.GetCoinJoinSession(id)
}

// List returns every coinjoin session.
func (e *Engine) List() ([]store.CoinJoinSession, error) {
	return e.store.ListCoinJoinSessions()
}

// Delete removes a coinjoin session permanently.
func (e *Engine) Delete(id string) error {
	return e.store.DeleteCoinJoinSession(id)
}

// failSession persists session as failed with err recorded and wipes the
// one-click-reveal fields (§4.4.8: wiped on completed or failed).
func (e *Engine) failSession(session *store.CoinJoinSession, err error) error {
	session.Status = store.CoinJoinFailed
	session.Error = err.Error()
	session.UpdatedAt = time.Now().UTC()
	session.WipeOneClickReveal()
	if putErr := e.store.PutCoinJoinSession(session); putErr != nil {
		return fmt.Errorf("persist failed session %s: %w", session.ID, putErr)
	}
	return err
}
