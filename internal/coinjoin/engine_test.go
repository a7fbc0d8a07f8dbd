package coinjoin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasmix/internal/chainadapter"
	"kasmix/internal/store"
	"kasmix/internal/walletkeys"
)

type stubChain struct {
	chainadapter.Adapter
	submitted   []string
	submitErr   error
	feeEstimate chainadapter.FeeEstimate
}

func newStubChain() *stubChain {
	return &stubChain{feeEstimate: chainadapter.FeeEstimate{Low: 1, Normal: 1, High: 2}}
}

func (s *stubChain) EstimateFeeRate(_ context.Context) (chainadapter.FeeEstimate, error) {
	return s.feeEstimate, nil
}

func (s *stubChain) SubmitTransaction(_ context.Context, _ string) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	txID := "tx-" + time.Now().UTC().Format("150405.000000000")
	s.submitted = append(s.submitted, txID)
	return txID, nil
}

func openTestEngine(t *testing.T, chain chainadapter.Adapter) (*Engine, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "coinjoin-test.sqlite")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, chain), st
}

const perParticipantAmount = store.Sompi(100_000_000)

// createFullRound runs ten independent sessions through create, reveal, and
// round formation, returning each session alongside the keypair that owns
// its revealed UTXO.
func createFullRound(t *testing.T, engine *Engine) ([]store.CoinJoinSession, map[string]*walletkeys.Keypair) {
	t.Helper()
	keys := make(map[string]*walletkeys.Keypair)
	for i := 0; i < 10; i++ {
		kp, err := walletkeys.Generate("testnet")
		require.NoError(t, err)

		destKp, err := walletkeys.Generate("testnet")
		require.NoError(t, err)

		utxos := []store.RevealedOutpoint{
			{TxID: kp.Address + "-tx", Index: 0, Amount: perParticipantAmount},
		}
		session, err := engine.Create(perParticipantAmount, destKp.Address, utxos)
		require.NoError(t, err)

		revealed, err := engine.Reveal(session.ID)
		require.NoError(t, err)

		keys[revealed.ID] = kp
	}

	batch, err := engine.FormRound(perParticipantAmount)
	require.NoError(t, err)
	require.Len(t, batch, 10)
	return batch, keys
}

func TestCreate_RejectsUnequalUTXOTotal(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())
	_, err := engine.Create(perParticipantAmount, "dest", []store.RevealedOutpoint{{TxID: "a", Index: 0, Amount: 1}})
	assert.Error(t, err)
}

func TestReveal_IsIdempotentOnceAlreadyRevealed(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())
	session, err := engine.Create(perParticipantAmount, "dest", []store.RevealedOutpoint{{TxID: "a", Index: 0, Amount: perParticipantAmount}})
	require.NoError(t, err)
	first, err := engine.Reveal(session.ID)
	require.NoError(t, err)
	second, err := engine.Reveal(session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, store.CoinJoinRevealed, second.Status)
}

func TestReveal_RejectsSessionInTerminalState(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())

	shared := []store.RevealedOutpoint{{TxID: "shared-tx", Index: 0, Amount: perParticipantAmount}}

	first, err := engine.Create(perParticipantAmount, "dest-a", shared)
	require.NoError(t, err)
	_, err = engine.Reveal(first.ID)
	require.NoError(t, err)

	second, err := engine.Create(perParticipantAmount, "dest-b", shared)
	require.NoError(t, err)
	_, err = engine.Reveal(second.ID)
	require.Error(t, err)

	reloaded, err := engine.Get(second.ID)
	require.NoError(t, err)
	require.Equal(t, store.CoinJoinFailed, reloaded.Status)

	_, err = engine.Reveal(second.ID)
	assert.Error(t, err)
}

func TestReveal_RejectsOverlappingOutpointWithAnotherRevealedSession(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())

	shared := []store.RevealedOutpoint{{TxID: "shared-tx", Index: 0, Amount: perParticipantAmount}}

	first, err := engine.Create(perParticipantAmount, "dest-a", shared)
	require.NoError(t, err)
	_, err = engine.Reveal(first.ID)
	require.NoError(t, err)

	second, err := engine.Create(perParticipantAmount, "dest-b", shared)
	require.NoError(t, err)
	_, err = engine.Reveal(second.ID)
	assert.Error(t, err)

	reloaded, err := engine.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CoinJoinFailed, reloaded.Status)
}

func TestFormRound_WaitsUntilTargetReached(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())

	for i := 0; i < 9; i++ {
		kp, err := walletkeys.Generate("testnet")
		require.NoError(t, err)
		utxos := []store.RevealedOutpoint{{TxID: kp.Address + "-tx", Index: 0, Amount: perParticipantAmount}}
		session, err := engine.Create(perParticipantAmount, "dest", utxos)
		require.NoError(t, err)
		_, err = engine.Reveal(session.ID)
		require.NoError(t, err)
	}

	batch, err := engine.FormRound(perParticipantAmount)
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestFullRoundLifecycle_BuildSignSubmitCompletes(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	batch, keys := createFullRound(t, engine)
	roundID := batch[0].RoundID
	require.NotEmpty(t, roundID)

	descriptor, err := engine.Build(context.Background(), roundID)
	require.NoError(t, err)
	assert.Len(t, descriptor.Unsigned.Inputs, 10)
	assert.Len(t, descriptor.Unsigned.Outputs, 10)
	assert.Equal(t, descriptor.PerOutput, descriptor.Unsigned.Outputs[0].Amount)

	for _, session := range batch {
		kp := keys[session.ID]
		reloaded, err := st.GetCoinJoinSession(session.ID)
		require.NoError(t, err)
		share, err := Sign(descriptor, session.ID, reloaded.BuiltTxHash, walletkeys.ExportPrivateKeyHex(kp), "testnet")
		require.NoError(t, err)
		require.NoError(t, engine.SubmitSignatureShares(context.Background(), roundID, share))
	}

	txID, err := engine.Submit(context.Background(), roundID)
	require.NoError(t, err)
	assert.NotEmpty(t, txID)
	assert.Len(t, chain.submitted, 1)

	for _, session := range batch {
		reloaded, err := st.GetCoinJoinSession(session.ID)
		require.NoError(t, err)
		assert.Equal(t, store.CoinJoinCompleted, reloaded.Status)
		assert.Equal(t, txID, reloaded.PayoutTxID)
		assert.Empty(t, reloaded.OriginalUTXOs)
		assert.Empty(t, reloaded.Salt)
	}
}

func TestSubmitSignatureShares_RejectsWrongOwnerClaim(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	batch, keys := createFullRound(t, engine)
	roundID := batch[0].RoundID
	descriptor, err := engine.Build(context.Background(), roundID)
	require.NoError(t, err)

	reloaded, err := st.GetCoinJoinSession(batch[0].ID)
	require.NoError(t, err)

	otherOwner := batch[1].ID
	kp := keys[batch[0].ID]
	share, err := Sign(descriptor, batch[0].ID, reloaded.BuiltTxHash, walletkeys.ExportPrivateKeyHex(kp), "testnet")
	require.NoError(t, err)

	share.SessionID = otherOwner
	err = engine.SubmitSignatureShares(context.Background(), roundID, share)
	assert.Error(t, err)
}

func TestSubmit_FailsRoundWideOnMempoolReject(t *testing.T) {
	chain := newStubChain()
	chain.submitErr = assertError("mempool rejected")
	engine, st := openTestEngine(t, chain)

	batch, keys := createFullRound(t, engine)
	roundID := batch[0].RoundID
	descriptor, err := engine.Build(context.Background(), roundID)
	require.NoError(t, err)

	for _, session := range batch {
		kp := keys[session.ID]
		reloaded, err := st.GetCoinJoinSession(session.ID)
		require.NoError(t, err)
		share, err := Sign(descriptor, session.ID, reloaded.BuiltTxHash, walletkeys.ExportPrivateKeyHex(kp), "testnet")
		require.NoError(t, err)
		require.NoError(t, engine.SubmitSignatureShares(context.Background(), roundID, share))
	}

	_, err = engine.Submit(context.Background(), roundID)
	assert.Error(t, err)

	for _, session := range batch {
		reloaded, err := st.GetCoinJoinSession(session.ID)
		require.NoError(t, err)
		assert.Equal(t, store.CoinJoinFailed, reloaded.Status)
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
