package control

import (
	"context"
	"fmt"

	"kasmix/internal/coinjoin"
	"kasmix/internal/config"
	"kasmix/internal/mixer"
	"kasmix/internal/store"
	"kasmix/internal/walletkeys"
)

// Surface wires the mixer and coinjoin engines behind the Control Surface
// operations (§4.6). Every method returns a Result; none return a bare
// error.
type Surface struct {
	store    *store.Store
	mixer    *mixer.Engine
	coinjoin *coinjoin.Engine
	network  string
	events   *EventBus
}

// New creates a Surface bound to both engines and the store they share.
func New(st *store.Store, mixerEngine *mixer.Engine, coinjoinEngine *coinjoin.Engine, network string) *Surface {
	return &Surface{store: st, mixer: mixerEngine, coinjoin: coinjoinEngine, network: network, events: NewEventBus()}
}

// Subscribe registers an in-process consumer for stats-snapshot breadcrumbs
// (§5 "Supplemented features"). Not part of the §4.6 operation set exposed
// to callers; kasmixd's own structured-logging consumer is the only caller.
func (s *Surface) Subscribe() chan Event {
	return s.events.Subscribe()
}

// Unsubscribe removes a breadcrumb consumer registered via Subscribe.
func (s *Surface) Unsubscribe(ch chan Event) {
	s.events.Unsubscribe(ch)
}

// CreateMixing opens a new mixing session for the given destinations.
func (s *Surface) CreateMixing(destinations []store.Destination) Result {
	session, err := s.mixer.Create(destinations)
	if err != nil {
		return Err(err)
	}
	return Ok(session.Redacted())
}

// ListSessions returns every mixing session, private keys redacted.
func (s *Surface) ListSessions() Result {
	sessions, err := s.mixer.List()
	if err != nil {
		return Err(err)
	}
	redacted := make([]store.MixingSession, len(sessions))
	for i, sess := range sessions {
		redacted[i] = sess.Redacted()
	}
	return Ok(redacted)
}

// GetSession returns one mixing session, private keys redacted.
func (s *Surface) GetSession(id string) Result {
	session, err := s.mixer.Get(id)
	if err != nil {
		return Err(err)
	}
	return Ok(session.Redacted())
}

// DeleteSession removes a mixing session permanently.
func (s *Surface) DeleteSession(id string) Result {
	if err := s.mixer.Delete(id); err != nil {
		return Err(err)
	}
	return Ok(nil)
}

// exportKeysValue is the only Control Surface payload that carries secrets
// (§4.6): callers must authenticate before this result reaches them.
type exportKeysValue struct {
	DepositPrivateKey      string `json:"deposit_private_key"`
	IntermediatePrivateKey string `json:"intermediate_private_key"`
	DepositAddress         string `json:"deposit_address"`
	IntermediateAddress    string `json:"intermediate_address"`
}

// ExportKeys returns a mixing session's private keys. This is the only
// operation that returns secrets; the Bridge never brokers them (§4.6).
func (s *Surface) ExportKeys(id string) Result {
	session, err := s.mixer.Get(id)
	if err != nil {
		return Err(err)
	}
	return Ok(exportKeysValue{
		DepositPrivateKey:      session.DepositPrivateKeyHex,
		IntermediatePrivateKey: session.IntermediatePrivateKeyHex,
		DepositAddress:         session.DepositAddress,
		IntermediateAddress:    session.IntermediateAddress,
	})
}

// CreateCoinJoin opens a new CoinJoin session with a locally-computed
// commitment.
func (s *Surface) CreateCoinJoin(amount store.Sompi, destination string, utxos []store.RevealedOutpoint) Result {
	session, err := s.coinjoin.Create(amount, destination, utxos)
	if err != nil {
		return Err(err)
	}
	return Ok(session)
}

// ListCoinJoinSessions returns every CoinJoin session.
func (s *Surface) ListCoinJoinSessions() Result {
	sessions, err := s.coinjoin.List()
	if err != nil {
		return Err(err)
	}
	return Ok(sessions)
}

// GetCoinJoinSession returns one CoinJoin session.
func (s *Surface) GetCoinJoinSession(id string) Result {
	session, err := s.coinjoin.Get(id)
	if err != nil {
		return Err(err)
	}
	return Ok(session)
}

// DeleteCoinJoinSession removes a CoinJoin session permanently.
func (s *Surface) DeleteCoinJoinSession(id string) Result {
	if err := s.coinjoin.Delete(id); err != nil {
		return Err(err)
	}
	return Ok(nil)
}

// Reveal publishes a committed CoinJoin session's reveal data.
func (s *Surface) Reveal(id string) Result {
	session, err := s.coinjoin.Reveal(id)
	if err != nil {
		return Err(err)
	}
	return Ok(session)
}

// Build assembles the unsigned transaction descriptor for a formed round.
func (s *Surface) Build(ctx context.Context, roundID string) Result {
	descriptor, err := s.coinjoin.Build(ctx, roundID)
	if err != nil {
		return Err(err)
	}
	return Ok(descriptor)
}

// Sign produces a session's signature shares for a round's descriptor. The
// private key is accepted only from the caller's local wallet surface
// (§4.6); the Control Surface never fetches or stores it.
func (s *Surface) Sign(roundID, sessionID, expectedTxHash, privateKeyHex string, descriptor *coinjoin.Descriptor) Result {
	if descriptor == nil {
		return Err(fmt.Errorf("%w: no descriptor supplied for round %s", config.ErrInputValidation, roundID))
	}
	share, err := coinjoin.Sign(descriptor, sessionID, expectedTxHash, privateKeyHex, s.network)
	if err != nil {
		return Err(err)
	}
	return Ok(share)
}

// SubmitSignatureShares records a verified signature share against a round.
func (s *Surface) SubmitSignatureShares(ctx context.Context, roundID string, share *coinjoin.SignatureShare) Result {
	if err := s.coinjoin.SubmitSignatureShares(ctx, roundID, share); err != nil {
		return Err(err)
	}
	return Ok(nil)
}

// Submit broadcasts a fully-signed round's transaction.
func (s *Surface) Submit(ctx context.Context, roundID string) Result {
	txID, err := s.coinjoin.Submit(ctx, roundID)
	if err != nil {
		return Err(err)
	}
	return Ok(map[string]string{"tx_id": txID})
}

type statsValue struct {
	Mixing   map[store.MixingSessionStatus]int   `json:"mixing"`
	CoinJoin map[store.CoinJoinSessionStatus]int `json:"coinjoin"`
}

// Stats returns session counts by status across both subsystems, and
// broadcasts the same snapshot as a breadcrumb event for any subscribed
// in-process logger.
func (s *Surface) Stats() Result {
	mixingCounts, coinjoinCounts, err := s.store.Stats()
	if err != nil {
		return Err(err)
	}
	value := statsValue{Mixing: mixingCounts, CoinJoin: coinjoinCounts}
	s.events.Broadcast(Event{Type: "stats_snapshot", Data: value})
	return Ok(value)
}

// ImportExportedKey reconstructs a Keypair from hex for CLI-side signing
// flows that accept a private key directly from local storage rather than
// through the Surface.
func ImportExportedKey(hexKey, network string) (*walletkeys.Keypair, error) {
	return walletkeys.ImportPrivateKeyHex(hexKey, network)
}
