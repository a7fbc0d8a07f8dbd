package mixer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasmix/internal/chainadapter"
	"kasmix/internal/store"
)

type stubChain struct {
	chainadapter.Adapter
	utxosByAddr map[string][]chainadapter.UTXO
	inMempool   map[string]bool
	submitted   []string
	submitErr   error
	feeEstimate chainadapter.FeeEstimate
}

func newStubChain() *stubChain {
	return &stubChain{
		utxosByAddr: make(map[string][]chainadapter.UTXO),
		inMempool:   make(map[string]bool),
		feeEstimate: chainadapter.FeeEstimate{Low: 1, Normal: 2, High: 4},
	}
}

func (s *stubChain) GetUTXOs(_ context.Context, address string) ([]chainadapter.UTXO, error) {
	return s.utxosByAddr[address], nil
}

func (s *stubChain) IsInMempool(_ context.Context, txID string) (bool, error) {
	return s.inMempool[txID], nil
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
	dbPath := filepath.Join(t.TempDir(), "mixer-test.sqlite")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, chain, "testnet", 0), st
}

func TestCreate_ComputesTotalAndPersistsWaiting(t *testing.T) {
	chain := newStubChain()
	engine, _ := openTestEngine(t, chain)

	destinations := []store.Destination{
		{Address: "kaspatest:dest-a", Amount: 60_000_000},
		{Address: "kaspatest:dest-b", Amount: 40_000_000},
	}
	session, err := engine.Create(destinations)
	require.NoError(t, err)
	assert.Equal(t, store.Sompi(100_000_000), session.Amount)
	assert.Equal(t, store.MixingWaiting, session.Status)
	assert.NotEmpty(t, session.DepositAddress)
	assert.NotEmpty(t, session.IntermediateAddress)
	assert.NotEqual(t, session.DepositAddress, session.IntermediateAddress)

	loaded, err := engine.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.DepositPrivateKeyHex, loaded.DepositPrivateKeyHex)
}

func TestCreate_RejectsEmptyDestinations(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())
	_, err := engine.Create(nil)
	assert.Error(t, err)
}

func TestCreate_RejectsZeroAmountDestination(t *testing.T) {
	engine, _ := openTestEngine(t, newStubChain())
	_, err := engine.Create([]store.Destination{{Address: "addr", Amount: 0}})
	assert.Error(t, err)
}

func TestTickDeposits_TransitionsWaitingToDepositReceivedThenSwept(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	session, err := engine.Create([]store.Destination{{Address: "kaspatest:dest", Amount: 50_000_000}})
	require.NoError(t, err)

	chain.utxosByAddr[session.DepositAddress] = []chainadapter.UTXO{
		{Outpoint: chainadapter.Outpoint{TxID: "deposit-tx", OutputIndex: 0}, Amount: 50_000_000, BlockDAAScore: 10},
	}

	require.NoError(t, engine.TickDeposits(context.Background()))

	loaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MixingSentToIntermediate, loaded.Status)
	assert.Equal(t, "deposit-tx", loaded.DepositTxID)
	assert.NotEmpty(t, loaded.IntermediateTxID)
	assert.Len(t, chain.submitted, 1)
}

func TestTickDeposits_WaitsIfBalanceInsufficient(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	session, err := engine.Create([]store.Destination{{Address: "kaspatest:dest", Amount: 50_000_000}})
	require.NoError(t, err)

	chain.utxosByAddr[session.DepositAddress] = []chainadapter.UTXO{
		{Outpoint: chainadapter.Outpoint{TxID: "partial", OutputIndex: 0}, Amount: 10_000_000},
	}

	require.NoError(t, engine.TickDeposits(context.Background()))

	loaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MixingWaiting, loaded.Status)
}

func TestTickIntermediates_ConfirmsAndSchedulesDelay(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	session, err := engine.Create([]store.Destination{{Address: "kaspatest:dest", Amount: 50_000_000}})
	require.NoError(t, err)

	session.Status = store.MixingSentToIntermediate
	session.IntermediateTxID = "intermediate-tx"
	session.UpdatedAt = time.Now().UTC()
	require.NoError(t, st.PutMixingSession(session))

	chain.inMempool["intermediate-tx"] = false
	chain.utxosByAddr[session.IntermediateAddress] = []chainadapter.UTXO{
		{Outpoint: chainadapter.Outpoint{TxID: "intermediate-tx", OutputIndex: 0}, Amount: 50_000_000},
	}

	require.NoError(t, engine.TickIntermediates(context.Background()))

	loaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MixingIntermediateConfirm, loaded.Status)
	assert.True(t, loaded.IntermediateConfirmed)
	assert.True(t, loaded.IntermediateDelayUntil.After(time.Now().UTC()))
}

func TestTickIntermediates_DispatchesPayoutAfterDelayElapses(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	destinations := []store.Destination{
		{Address: "kaspatest:dest-a", Amount: 30_000_000},
		{Address: "kaspatest:dest-b", Amount: 19_999_000},
	}
	session, err := engine.Create(destinations)
	require.NoError(t, err)

	session.Status = store.MixingIntermediateConfirm
	session.IntermediateTxID = "intermediate-tx"
	session.IntermediateConfirmed = true
	session.IntermediateDelayUntil = time.Now().UTC().Add(-time.Second)
	session.UpdatedAt = time.Now().UTC()
	require.NoError(t, st.PutMixingSession(session))

	chain.utxosByAddr[session.IntermediateAddress] = []chainadapter.UTXO{
		{Outpoint: chainadapter.Outpoint{TxID: "intermediate-tx", OutputIndex: 0}, Amount: 50_000_000},
	}

	require.NoError(t, engine.TickIntermediates(context.Background()))

	loaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MixingConfirmed, loaded.Status)
	assert.Len(t, loaded.PayoutTxIDs, 1)
}

func TestTickIntermediates_DoesNotDispatchBeforeDelayElapses(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	session, err := engine.Create([]store.Destination{{Address: "kaspatest:dest", Amount: 10_000_000}})
	require.NoError(t, err)

	session.Status = store.MixingIntermediateConfirm
	session.IntermediateTxID = "intermediate-tx"
	session.IntermediateConfirmed = true
	session.IntermediateDelayUntil = time.Now().UTC().Add(time.Hour)
	session.UpdatedAt = time.Now().UTC()
	require.NoError(t, st.PutMixingSession(session))

	chain.utxosByAddr[session.IntermediateAddress] = []chainadapter.UTXO{
		{Outpoint: chainadapter.Outpoint{TxID: "intermediate-tx", OutputIndex: 0}, Amount: 20_000_000},
	}

	require.NoError(t, engine.TickIntermediates(context.Background()))

	loaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MixingIntermediateConfirm, loaded.Status)
	assert.Empty(t, loaded.PayoutTxIDs)
}

func TestRecordMixingFailure_LeavesStatusButSetsError(t *testing.T) {
	chain := newStubChain()
	engine, st := openTestEngine(t, chain)

	session, err := engine.Create([]store.Destination{{Address: "kaspatest:dest", Amount: 10_000_000}})
	require.NoError(t, err)
	session.Status = store.MixingDepositReceived
	require.NoError(t, st.PutMixingSession(session))

	loaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	engine.recordMixingFailure(*loaded, assertError("boom"))

	reloaded, err := st.GetMixingSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MixingDepositReceived, reloaded.Status)
	assert.Equal(t, "boom", reloaded.Error)
}

type assertError string

func (e assertError) Error() string { return string(e) }
