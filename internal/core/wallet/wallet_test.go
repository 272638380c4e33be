package wallet_test

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/darwayne/errutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/reactor"
	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/internal/core/wallet/walletdb"
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

// harness wires two wallet sides together with an in-memory message queue
// standing in for the node. Tasks run strictly in order, so every test is
// deterministic.
type harness struct {
	t     *testing.T
	tasks []func()
	sides map[wallet.WalletID]*side

	// kernelHeight is the height the fake chain answers kernel proof
	// requests with; zero means not on chain yet.
	kernelHeight wallet.Height
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, sides: make(map[wallet.WalletID]*side)}
}

func (h *harness) post(fn func()) { h.tasks = append(h.tasks, fn) }

func (h *harness) pump() {
	for len(h.tasks) > 0 {
		fn := h.tasks[0]
		h.tasks = h.tasks[1:]
		fn()
	}
}

// side is one wallet: a store, one own address and a Gateway that talks to
// the harness instead of a real node.
type side struct {
	h     *harness
	store *walletdb.DB
	addr  wallet.WalletAddress

	txs        map[wallet.TxID]*wallet.SimpleTransaction
	registered []wallet.Transaction
	completed  map[wallet.TxID]bool

	// mutate, when set, tampers with every outgoing message.
	mutate func(*wallet.SetTxParameterMsg)
}

const testTipHeight wallet.Height = 100

func newSide(t *testing.T, h *harness, seed string) *side {
	t.Helper()
	db, err := walletdb.Open(t.TempDir(), mwcrypto.NewKdf([]byte(seed)), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SetSystemStateID(wallet.BlockStateID{
		Height: testTipHeight,
		Hash:   chainhash.HashH([]byte(seed)),
	}))

	s := &side{
		h:         h,
		store:     db,
		txs:       make(map[wallet.TxID]*wallet.SimpleTransaction),
		completed: make(map[wallet.TxID]bool),
	}
	s.addr = s.newOwnAddress(t, "own")
	h.sides[s.addr.WalletID] = s
	return s
}

func (s *side) newOwnAddress(t *testing.T, label string) wallet.WalletAddress {
	t.Helper()
	ownID, err := s.store.AllocateKidRange(1)
	require.NoError(t, err)
	sk := s.store.MasterKdf().DeriveKey(mwcrypto.KeyID{Idx: ownID, Type: mwcrypto.KeyTypeBbs})
	addr := wallet.NewWalletAddress()
	addr.WalletID = wallet.WalletIDFromPoint(sk.MulG())
	addr.Label = label
	addr.OwnID = ownID
	require.NoError(t, s.store.SaveAddress(addr))
	return addr
}

func (s *side) addCoins(t *testing.T, values ...wallet.Amount) {
	t.Helper()
	for _, v := range values {
		c := wallet.NewCoin(v, wallet.CoinAvailable)
		require.NoError(t, s.store.StoreCoin(&c))
	}
}

func (s *side) tx(id wallet.TxID) *wallet.SimpleTransaction {
	if tx, ok := s.txs[id]; ok {
		return tx
	}
	tx := wallet.NewSimpleTransaction(s, s.store, id, zap.NewNop())
	s.txs[id] = tx
	return tx
}

func (s *side) status(t *testing.T, id wallet.TxID) wallet.TxStatus {
	t.Helper()
	status, ok := wallet.GetTxParam[wallet.TxStatus](s.store, id, wallet.ParamStatus)
	require.True(t, ok)
	return status
}

// createOutgoing seeds a fresh sender-side transaction the way the wallet
// front end would.
func (s *side) createOutgoing(t *testing.T, peer wallet.WalletID, amount, fee wallet.Amount, maxHeight wallet.Height) wallet.TxID {
	t.Helper()
	txID := wallet.GenerateTxID()
	now := wallet.Timestamp(time.Now().Unix())

	require.NoError(t, s.store.SaveTx(wallet.TxDescription{
		TxID:       txID,
		Type:       wallet.TxTypeSimple,
		Amount:     amount,
		Fee:        fee,
		MinHeight:  testTipHeight,
		MaxHeight:  maxHeight,
		PeerID:     peer,
		MyID:       s.addr.WalletID,
		CreateTime: now,
		ModifyTime: now,
		Sender:     true,
		Status:     wallet.TxPending,
	}))

	set := func(id wallet.ParameterID, v interface{}) {
		blob, err := wallet.EncodeParamValue(v)
		require.NoError(t, err)
		_, err = s.store.SetTxParameter(txID, id, blob, false)
		require.NoError(t, err)
	}
	set(wallet.ParamTransactionType, wallet.TxTypeSimple)
	set(wallet.ParamAmount, amount)
	set(wallet.ParamFee, fee)
	set(wallet.ParamMinHeight, testTipHeight)
	set(wallet.ParamMaxHeight, maxHeight)
	set(wallet.ParamPeerID, peer)
	set(wallet.ParamMyID, s.addr.WalletID)
	set(wallet.ParamIsSender, true)
	set(wallet.ParamIsInitiator, true)
	set(wallet.ParamStatus, wallet.TxPending)
	set(wallet.ParamCreateTime, now)
	return txID
}

// receive applies a peer message, creating the transaction on first contact.
func (s *side) receive(msg wallet.SetTxParameterMsg) {
	t := s.h.t
	desc, err := s.store.GetTx(msg.TxID)
	require.NoError(t, err)
	if desc == nil {
		amount, _ := wallet.GetMsgParam[wallet.Amount](&msg, wallet.ParamAmount)
		fee, _ := wallet.GetMsgParam[wallet.Amount](&msg, wallet.ParamFee)
		isSender, _ := wallet.GetMsgParam[bool](&msg, wallet.ParamIsSender)
		now := wallet.Timestamp(time.Now().Unix())

		require.NoError(t, s.store.SaveTx(wallet.TxDescription{
			TxID:       msg.TxID,
			Type:       wallet.TxTypeSimple,
			Amount:     amount,
			Fee:        fee,
			MinHeight:  testTipHeight,
			MaxHeight:  wallet.MaxHeight,
			PeerID:     msg.From,
			MyID:       s.addr.WalletID,
			CreateTime: now,
			ModifyTime: now,
			Sender:     isSender,
			Status:     wallet.TxPending,
		}))

		set := func(id wallet.ParameterID, v interface{}) {
			blob, err := wallet.EncodeParamValue(v)
			require.NoError(t, err)
			_, err = s.store.SetTxParameter(msg.TxID, id, blob, false)
			require.NoError(t, err)
		}
		set(wallet.ParamTransactionType, wallet.TxTypeSimple)
		set(wallet.ParamPeerID, msg.From)
		set(wallet.ParamMyID, s.addr.WalletID)
		set(wallet.ParamIsInitiator, false)
		set(wallet.ParamStatus, wallet.TxPending)
		set(wallet.ParamCreateTime, now)
	}

	for _, p := range msg.Params {
		_, err := s.store.SetTxParameter(msg.TxID, p.ID, p.Value, false)
		require.NoError(t, err)
	}
	s.tx(msg.TxID).Update()
}

// Gateway implementation.

func (s *side) GetTip() (wallet.BlockStateID, bool) {
	state, err := s.store.GetSystemStateID()
	if err != nil || state == nil {
		return wallet.BlockStateID{}, false
	}
	return *state, true
}

func (s *side) RegisterTx(txID wallet.TxID, tx wallet.Transaction) {
	s.registered = append(s.registered, tx)
	s.h.post(func() {
		_, err := wallet.SetTxParam(s.store, txID, wallet.ParamTransactionRegistered, true, false)
		require.NoError(s.h.t, err)
		s.tx(txID).Update()
	})
}

func (s *side) ConfirmKernel(txID wallet.TxID, _ *wallet.Kernel) {
	if s.h.kernelHeight == 0 {
		return
	}
	height := s.h.kernelHeight
	s.h.post(func() {
		_, err := wallet.SetTxParam(s.store, txID, wallet.ParamKernelProofHeight, height, false)
		require.NoError(s.h.t, err)
		s.tx(txID).Update()
	})
}

func (s *side) SendTxParams(peer wallet.WalletID, msg wallet.SetTxParameterMsg) {
	if s.mutate != nil {
		s.mutate(&msg)
	}
	s.h.post(func() {
		if dest, ok := s.h.sides[peer]; ok {
			dest.receive(msg)
		}
	})
}

func (s *side) OnTxCompleted(txID wallet.TxID) {
	s.completed[txID] = true
	delete(s.txs, txID)
}

func TestTwoPartySendReceive(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "sender seed")
	receiver := newSide(t, h, "receiver seed")
	sender.addCoins(t, 30, 80)

	txID := sender.createOutgoing(t, receiver.addr.WalletID, 60, 10, wallet.MaxHeight)
	sender.tx(txID).Update()
	h.pump()

	require.Len(t, sender.registered, 1)
	tx := sender.registered[0]
	require.NoError(t, tx.IsValid())
	kernel := tx.Kernels[0]
	require.True(t, kernel.Signature.Verify(kernel.Commitment, kernel.Hash()))
	require.Equal(t, wallet.Amount(10), kernel.Fee)

	require.Equal(t, wallet.TxRegistered, sender.status(t, txID))
	require.Equal(t, wallet.TxRegistered, receiver.status(t, txID))

	h.kernelHeight = 110
	sender.tx(txID).Update()
	receiver.tx(txID).Update()
	h.pump()

	require.Equal(t, wallet.TxCompleted, sender.status(t, txID))
	require.Equal(t, wallet.TxCompleted, receiver.status(t, txID))
	require.True(t, sender.completed[txID])
	require.True(t, receiver.completed[txID])

	// both inputs go in (30+80), 60 leaves, 10 burns as fee, 40 comes back
	spent, err := sender.store.Total(wallet.CoinSpent)
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(110), spent)
	senderLeft, err := sender.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(40), senderLeft)

	received, err := receiver.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(60), received)

	coins, err := receiver.store.CoinsCreatedByTx(txID)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, wallet.Height(110), coins[0].ConfirmHeight)
	require.Equal(t, wallet.Height(110)+wallet.MaturityStd, coins[0].Maturity)
}

func TestSelfTransaction(t *testing.T) {
	h := newHarness(t)
	s := newSide(t, h, "self seed")
	s.addCoins(t, 25, 25)
	other := s.newOwnAddress(t, "savings")

	txID := s.createOutgoing(t, other.WalletID, 40, 5, wallet.MaxHeight)
	s.tx(txID).Update()
	h.pump()

	require.Len(t, s.registered, 1)
	require.NoError(t, s.registered[0].IsValid())

	h.kernelHeight = 105
	s.tx(txID).Update()
	h.pump()

	require.Equal(t, wallet.TxCompleted, s.status(t, txID))

	// 40 comes straight back as a new output, 5 burns as fee
	available, err := s.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(45), available)
	spent, err := s.store.Total(wallet.CoinSpent)
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(50), spent)
}

func TestInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "poor seed")
	receiver := newSide(t, h, "receiver seed")
	sender.addCoins(t, 10)

	txID := sender.createOutgoing(t, receiver.addr.WalletID, 60, 10, wallet.MaxHeight)
	sender.tx(txID).Update()
	h.pump()

	require.Equal(t, wallet.TxFailed, sender.status(t, txID))
	reason, ok := wallet.GetTxParam[wallet.TxFailureReason](sender.store, txID, wallet.ParamFailureReason)
	require.True(t, ok)
	require.Equal(t, wallet.ReasonNoInputs, reason)

	available, err := sender.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(10), available)
}

func TestExpiry(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "sender seed")
	sender.addCoins(t, 100)

	// peer never answers; the tip then passes the kernel max height
	var silent wallet.WalletID
	silent[0] = 0x02
	txID := sender.createOutgoing(t, silent, 60, 10, testTipHeight+5)
	sender.tx(txID).Update()
	h.pump()
	require.Equal(t, wallet.TxInProgress, sender.status(t, txID))

	require.NoError(t, sender.store.SetSystemStateID(wallet.BlockStateID{
		Height: testTipHeight + 6,
		Hash:   chainhash.HashH([]byte("later")),
	}))
	sender.tx(txID).Update()
	h.pump()

	require.Equal(t, wallet.TxFailed, sender.status(t, txID))
	reason, ok := wallet.GetTxParam[wallet.TxFailureReason](sender.store, txID, wallet.ParamFailureReason)
	require.True(t, ok)
	require.Equal(t, wallet.ReasonTransactionExpired, reason)

	available, err := sender.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(100), available)
}

func TestCancelPendingDeletes(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "sender seed")
	var peer wallet.WalletID
	peer[0] = 0x02

	txID := sender.createOutgoing(t, peer, 10, 1, wallet.MaxHeight)
	sender.tx(txID).Cancel()

	desc, err := sender.store.GetTx(txID)
	require.NoError(t, err)
	require.Nil(t, desc)
}

func TestCancelInProgressRollsBack(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "sender seed")
	receiver := newSide(t, h, "receiver seed")
	sender.addCoins(t, 100)

	// drop the invitation so the negotiation stalls mid-flight
	sender.mutate = func(msg *wallet.SetTxParameterMsg) {
		msg.Params = nil
	}
	txID := sender.createOutgoing(t, receiver.addr.WalletID, 60, 10, wallet.MaxHeight)
	sender.tx(txID).Update()
	h.pump()
	require.Equal(t, wallet.TxInProgress, sender.status(t, txID))

	sender.mutate = nil
	sender.tx(txID).Cancel()
	h.pump()

	require.Equal(t, wallet.TxCancelled, sender.status(t, txID))
	available, err := sender.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(100), available)
}

func TestInvalidPeerSignature(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "sender seed")
	receiver := newSide(t, h, "receiver seed")
	sender.addCoins(t, 100)

	receiver.mutate = func(msg *wallet.SetTxParameterMsg) {
		for i, p := range msg.Params {
			if p.ID != wallet.ParamPeerSignature {
				continue
			}
			blob, err := wallet.EncodeParamValue(mwcrypto.RandomScalar())
			require.NoError(t, err)
			msg.Params[i].Value = blob
		}
	}

	txID := sender.createOutgoing(t, receiver.addr.WalletID, 60, 10, wallet.MaxHeight)
	sender.tx(txID).Update()
	h.pump()

	require.Empty(t, sender.registered)
	require.Equal(t, wallet.TxFailed, sender.status(t, txID))
	reason, ok := wallet.GetTxParam[wallet.TxFailureReason](sender.store, txID, wallet.ParamFailureReason)
	require.True(t, ok)
	require.Equal(t, wallet.ReasonInvalidPeerSignature, reason)

	available, err := sender.store.Available()
	require.NoError(t, err)
	require.Equal(t, wallet.Amount(100), available)
}

// stubChain answers node calls without a node: kernels are never on chain
// and registrations always succeed.
type stubChain struct{}

func (stubChain) GetTip(context.Context) (wallet.BlockStateID, error) {
	return wallet.BlockStateID{}, nil
}

func (stubChain) ConfirmKernel(context.Context, chainhash.Hash) (wallet.Height, error) {
	return 0, errutil.NewNotFound("kernel not found")
}

func (stubChain) RegisterTransaction(context.Context, wallet.Transaction) (bool, error) {
	return true, nil
}

type capturePeers struct {
	msgs []wallet.SetTxParameterMsg
}

func (p *capturePeers) SendTxParams(_ wallet.WalletID, msg wallet.SetTxParameterMsg) {
	p.msgs = append(p.msgs, msg)
}

func TestIncomingInvitationStartsTx(t *testing.T) {
	db, err := walletdb.Open(t.TempDir(), mwcrypto.NewKdf([]byte("invited seed")), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SetSystemStateID(wallet.BlockStateID{
		Height: testTipHeight,
		Hash:   chainhash.HashH([]byte("invited")),
	}))

	peers := &capturePeers{}
	w := wallet.New(reactor.New(zap.NewNop()), db, stubChain{}, peers, zap.NewNop())

	addr, err := w.NewAddress("inbox")
	require.NoError(t, err)

	var from wallet.WalletID
	from[0] = 0x02
	msg := wallet.SetTxParameterMsg{
		TxID: wallet.GenerateTxID(),
		Type: wallet.TxTypeSimple,
		From: from,
	}
	msg.Add(wallet.ParamAmount, wallet.Amount(60)).
		Add(wallet.ParamFee, wallet.Amount(10)).
		Add(wallet.ParamMinHeight, testTipHeight).
		Add(wallet.ParamMaxHeight, wallet.MaxHeight).
		Add(wallet.ParamIsSender, false).
		Add(wallet.ParamPeerProtoVersion, wallet.ProtoVersion).
		Add(wallet.ParamPeerPublicExcess, mwcrypto.RandomScalar().MulG()).
		Add(wallet.ParamPeerPublicNonce, mwcrypto.RandomScalar().MulG())

	w.OnTransactionMsg(addr.WalletID, msg)

	desc, err := db.GetTx(msg.TxID)
	require.NoError(t, err)
	require.NotNil(t, desc)
	require.False(t, desc.Sender)
	require.Equal(t, from, desc.PeerID)
	require.Equal(t, addr.WalletID, desc.MyID)
	require.Equal(t, wallet.TxRegistered, desc.Status)

	// the invitation got answered with our half of the signature
	require.NotEmpty(t, peers.msgs)
	reply := peers.msgs[len(peers.msgs)-1]
	require.Equal(t, msg.TxID, reply.TxID)
	require.Equal(t, addr.WalletID, reply.From)
	_, ok := wallet.GetMsgParam[mwcrypto.Scalar](&reply, wallet.ParamPeerSignature)
	require.True(t, ok)
}

func TestMissingPaymentConfirmation(t *testing.T) {
	h := newHarness(t)
	sender := newSide(t, h, "sender seed")
	receiver := newSide(t, h, "receiver seed")
	sender.addCoins(t, 100)

	receiver.mutate = func(msg *wallet.SetTxParameterMsg) {
		kept := msg.Params[:0]
		for _, p := range msg.Params {
			if p.ID != wallet.ParamPaymentConfirmation {
				kept = append(kept, p)
			}
		}
		msg.Params = kept
	}

	txID := sender.createOutgoing(t, receiver.addr.WalletID, 60, 10, wallet.MaxHeight)
	sender.tx(txID).Update()
	h.pump()

	require.Empty(t, sender.registered)
	require.Equal(t, wallet.TxFailed, sender.status(t, txID))
	reason, ok := wallet.GetTxParam[wallet.TxFailureReason](sender.store, txID, wallet.ParamFailureReason)
	require.True(t, ok)
	require.Equal(t, wallet.ReasonNoPaymentProof, reason)
}
