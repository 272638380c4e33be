package walletdb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), mwcrypto.NewKdf([]byte("test seed")), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addAvailable(t *testing.T, db *DB, values ...wallet.Amount) []wallet.Coin {
	t.Helper()
	coins := make([]wallet.Coin, 0, len(values))
	for _, v := range values {
		c := wallet.NewCoin(v, wallet.CoinAvailable)
		require.NoError(t, db.StoreCoin(&c))
		coins = append(coins, c)
	}
	return coins
}

type recordingObserver struct {
	coins     int
	txChanges []wallet.ChangeAction
}

func (r *recordingObserver) OnCoinsChanged() { r.coins++ }
func (r *recordingObserver) OnTransactionChanged(a wallet.ChangeAction, _ []wallet.TxDescription) {
	r.txChanges = append(r.txChanges, a)
}
func (r *recordingObserver) OnSystemStateChanged() {}
func (r *recordingObserver) OnAddressChanged()     {}

func TestStoreCoinAssignsIndexes(t *testing.T) {
	db := openTestDB(t)
	coins := addAvailable(t, db, 10, 20)

	require.Equal(t, uint64(1), coins[0].ID.Idx)
	require.Equal(t, uint64(2), coins[1].ID.Idx)

	found := wallet.Coin{ID: coins[1].ID}
	ok, err := db.FindCoin(&found)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wallet.Amount(20), found.ID.Value)
	require.Equal(t, wallet.CoinAvailable, found.Status)
}

func TestSelectCoinsJustEnough(t *testing.T) {
	db := openTestDB(t)
	addAvailable(t, db, 50, 5, 20, 10)

	coins, err := db.SelectCoins(30, false)
	require.NoError(t, err)

	// ascending scan: 5 + 10 + 20 covers 30
	require.Len(t, coins, 3)
	var total wallet.Amount
	for _, c := range coins {
		total += c.ID.Value
	}
	require.GreaterOrEqual(t, total, wallet.Amount(30))
}

func TestSelectCoinsInsufficient(t *testing.T) {
	db := openTestDB(t)
	addAvailable(t, db, 5, 6)

	coins, err := db.SelectCoins(12, true)
	require.NoError(t, err)
	require.Empty(t, coins)

	// nothing got locked
	require.NoError(t, db.VisitCoins(func(c wallet.Coin) bool {
		require.Equal(t, wallet.EmptyCoinSession, c.SessionID)
		return true
	}))
}

func TestSelectCoinsLocksSession(t *testing.T) {
	db := openTestDB(t)
	addAvailable(t, db, 6, 6)

	coins, err := db.SelectCoins(10, true)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	session := coins[0].SessionID
	require.NotEqual(t, wallet.EmptyCoinSession, session)
	require.Equal(t, session, coins[1].SessionID)

	// locked coins are not offered again
	again, err := db.SelectCoins(1, false)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestRollbackTx(t *testing.T) {
	db := openTestDB(t)
	txID := wallet.GenerateTxID()

	input := wallet.NewCoin(10, wallet.CoinAvailable)
	require.NoError(t, db.StoreCoin(&input))
	input.Status = wallet.CoinOutgoing
	input.SpentTxID = &txID
	input.SessionID = 42
	require.NoError(t, db.SaveCoins(input))

	created := wallet.NewCoin(7, wallet.CoinIncoming)
	created.CreateTxID = &txID
	require.NoError(t, db.StoreCoin(&created))

	require.NoError(t, db.RollbackTx(txID))

	require.NoError(t, db.VisitCoins(func(c wallet.Coin) bool {
		require.Nil(t, c.SpentTxID)
		require.Nil(t, c.CreateTxID)
		require.Equal(t, wallet.CoinAvailable, c.Status)
		require.Equal(t, wallet.EmptyCoinSession, c.SessionID)
		require.Equal(t, wallet.Amount(10), c.ID.Value)
		return true
	}))
}

func TestTxParameterRoundTrip(t *testing.T) {
	db := openTestDB(t)
	txID := wallet.GenerateTxID()

	changed, err := wallet.SetTxParam(db, txID, wallet.ParamAmount, wallet.Amount(42), false)
	require.NoError(t, err)
	require.True(t, changed)

	got, ok := wallet.GetTxParam[wallet.Amount](db, txID, wallet.ParamAmount)
	require.True(t, ok)
	require.Equal(t, wallet.Amount(42), got)

	// same value again: unchanged
	changed, err = wallet.SetTxParam(db, txID, wallet.ParamAmount, wallet.Amount(42), false)
	require.NoError(t, err)
	require.False(t, changed)

	_, ok = wallet.GetTxParam[wallet.Amount](db, txID, wallet.ParamFee)
	require.False(t, ok)
}

func TestTxParameterTypedSlots(t *testing.T) {
	db := openTestDB(t)
	txID := wallet.GenerateTxID()

	scalar := mwcrypto.RandomScalar()
	_, err := wallet.SetTxParam(db, txID, wallet.ParamBlindingExcess, scalar, false)
	require.NoError(t, err)
	gotScalar, ok := wallet.GetTxParam[mwcrypto.Scalar](db, txID, wallet.ParamBlindingExcess)
	require.True(t, ok)
	require.True(t, gotScalar.Equal(scalar))

	point := mwcrypto.RandomScalar().MulG()
	_, err = wallet.SetTxParam(db, txID, wallet.ParamPeerPublicExcess, point, false)
	require.NoError(t, err)
	gotPoint, ok := wallet.GetTxParam[mwcrypto.Point](db, txID, wallet.ParamPeerPublicExcess)
	require.True(t, ok)
	require.True(t, gotPoint.Equal(point))

	inputs := []wallet.Input{{Commitment: point}}
	_, err = wallet.SetTxParam(db, txID, wallet.ParamInputs, inputs, false)
	require.NoError(t, err)
	gotInputs, ok := wallet.GetTxParam[[]wallet.Input](db, txID, wallet.ParamInputs)
	require.True(t, ok)
	require.Len(t, gotInputs, 1)
	require.True(t, gotInputs[0].Commitment.Equal(point))
}

func TestObservableParamNotifies(t *testing.T) {
	db := openTestDB(t)
	txID := wallet.GenerateTxID()

	require.NoError(t, db.SaveTx(wallet.TxDescription{TxID: txID, Status: wallet.TxPending}))

	var obs recordingObserver
	db.Subscribe(&obs)
	defer db.Unsubscribe(&obs)

	_, err := wallet.SetTxParam(db, txID, wallet.ParamStatus, wallet.TxInProgress, true)
	require.NoError(t, err)
	require.Equal(t, []wallet.ChangeAction{wallet.ChangeUpdated}, obs.txChanges)

	// non-observable slot stays silent
	_, err = wallet.SetTxParam(db, txID, wallet.ParamMyNonce, [32]byte{1}, true)
	require.NoError(t, err)
	require.Len(t, obs.txChanges, 1)
}

func TestDeleteTxDropsParameters(t *testing.T) {
	db := openTestDB(t)
	txID := wallet.GenerateTxID()

	require.NoError(t, db.SaveTx(wallet.TxDescription{TxID: txID}))
	_, err := wallet.SetTxParam(db, txID, wallet.ParamAmount, wallet.Amount(5), false)
	require.NoError(t, err)

	require.NoError(t, db.DeleteTx(txID))

	_, ok := wallet.GetTxParam[wallet.Amount](db, txID, wallet.ParamAmount)
	require.False(t, ok)
	desc, err := db.GetTx(txID)
	require.NoError(t, err)
	require.Nil(t, desc)
}

func TestAllocateKidRange(t *testing.T) {
	db := openTestDB(t)

	first, err := db.AllocateKidRange(3)
	require.NoError(t, err)
	second, err := db.AllocateKidRange(1)
	require.NoError(t, err)
	require.Equal(t, first+3, second)
}

func TestAddressBook(t *testing.T) {
	db := openTestDB(t)

	a := wallet.NewWalletAddress()
	a.WalletID[0] = 2
	a.Label = "mining rig"
	a.OwnID = 7
	require.NoError(t, db.SaveAddress(a))

	got, err := db.GetAddress(a.WalletID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "mining rig", got.Label)
	require.False(t, got.IsExpired())

	own, err := db.Addresses(true)
	require.NoError(t, err)
	require.Len(t, own, 1)
	foreign, err := db.Addresses(false)
	require.NoError(t, err)
	require.Empty(t, foreign)

	require.NoError(t, db.SetNeverExpirationForAll())
	got, err = db.GetAddress(a.WalletID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Duration)
}

func TestSystemState(t *testing.T) {
	db := openTestDB(t)

	id, err := db.GetSystemStateID()
	require.NoError(t, err)
	require.Nil(t, id)

	state := wallet.BlockStateID{Height: 120}
	state.Hash[0] = 0xBE
	require.NoError(t, db.SetSystemStateID(state))

	got, err := db.GetSystemStateID()
	require.NoError(t, err)
	require.Equal(t, state, *got)

	h, err := db.CurrentHeight()
	require.NoError(t, err)
	require.Equal(t, wallet.Height(120), h)
}
