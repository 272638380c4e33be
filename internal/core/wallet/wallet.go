package wallet

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/darwayne/errutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/reactor"
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

const chainCallTimeout = 30 * time.Second

// ChainSource is the trusted node seen by the wallet. node.Client implements
// it.
type ChainSource interface {
	GetTip(ctx context.Context) (BlockStateID, error)
	// ConfirmKernel asks for a kernel inclusion proof. A kernel that is not
	// on chain yet is a not-found error.
	ConfirmKernel(ctx context.Context, kernelID chainhash.Hash) (Height, error)
	RegisterTransaction(ctx context.Context, tx Transaction) (bool, error)
}

// PeerChannel delivers negotiation messages to the peer wallet.
type PeerChannel interface {
	SendTxParams(to WalletID, msg SetTxParameterMsg)
}

// incomingPeerParams are the only slots a peer message may write. Everything
// else (keys, nonces, our own flags) stays local.
var incomingPeerParams = map[ParameterID]struct{}{
	ParamAmount:                {},
	ParamAmountList:            {},
	ParamFee:                   {},
	ParamMinHeight:             {},
	ParamMaxHeight:             {},
	ParamIsSender:              {},
	ParamFailureReason:         {},
	ParamTransactionRegistered: {},
	ParamPeerProtoVersion:      {},
	ParamPeerPublicExcess:      {},
	ParamPeerPublicNonce:       {},
	ParamPeerSignature:         {},
	ParamPeerInputs:            {},
	ParamPeerOutputs:           {},
	ParamPeerOffset:            {},
	ParamPaymentConfirmation:   {},
}

// Wallet owns the active negotiations and bridges them to the store, the
// node and the peer channel. Every method must run on the reactor goroutine;
// node calls leave it through short-lived goroutines and come back as posted
// tasks.
type Wallet struct {
	reactor *reactor.Reactor
	store   Store
	chain   ChainSource
	peers   PeerChannel
	log     *zap.Logger

	active map[TxID]*SimpleTransaction
}

func New(r *reactor.Reactor, store Store, chain ChainSource, peers PeerChannel, log *zap.Logger) *Wallet {
	return &Wallet{
		reactor: r,
		store:   store,
		chain:   chain,
		peers:   peers,
		log:     log.Named("wallet"),
		active:  make(map[TxID]*SimpleTransaction),
	}
}

// Resume re-drives every unfinished transaction after a restart.
func (w *Wallet) Resume() {
	history, err := w.store.TxHistory(0, 0)
	if err != nil {
		w.log.Error("cannot load history", zap.Error(err))
		return
	}
	for _, desc := range history {
		switch desc.Status {
		case TxPending, TxInProgress, TxRegistered:
			w.getTransaction(desc.TxID).Update()
		}
	}
}

// NewAddress allocates an own address. The wallet id is the public key of
// the derived address key, so payment confirmations verify against it.
func (w *Wallet) NewAddress(label string) (WalletAddress, error) {
	ownID, err := w.store.AllocateKidRange(1)
	if err != nil {
		return WalletAddress{}, err
	}
	sk := w.store.MasterKdf().DeriveKey(mwcrypto.KeyID{Idx: ownID, Type: mwcrypto.KeyTypeBbs})
	addr := NewWalletAddress()
	addr.WalletID = WalletIDFromPoint(sk.MulG())
	addr.Label = label
	addr.OwnID = ownID
	if err := w.store.SaveAddress(addr); err != nil {
		return WalletAddress{}, err
	}
	return addr, nil
}

// CreateSimpleTransaction starts sending amount to peerID and returns the
// new transaction id.
func (w *Wallet) CreateSimpleTransaction(myID, peerID WalletID, amount, fee Amount) (TxID, error) {
	txID := GenerateTxID()

	currentHeight, err := w.store.CurrentHeight()
	if err != nil {
		return TxID{}, errors.Wrap(err, "current height")
	}

	desc := TxDescription{
		TxID:       txID,
		Type:       TxTypeSimple,
		Amount:     amount,
		Fee:        fee,
		MinHeight:  currentHeight,
		MaxHeight:  MaxHeight,
		PeerID:     peerID,
		MyID:       myID,
		CreateTime: Timestamp(time.Now().Unix()),
		Sender:     true,
		Status:     TxPending,
	}
	desc.ModifyTime = desc.CreateTime
	if err := w.store.SaveTx(desc); err != nil {
		return TxID{}, errors.Wrap(err, "save tx")
	}

	params := []struct {
		id ParameterID
		v  interface{}
	}{
		{ParamTransactionType, TxTypeSimple},
		{ParamAmount, amount},
		{ParamFee, fee},
		{ParamMinHeight, currentHeight},
		{ParamMaxHeight, MaxHeight},
		{ParamPeerID, peerID},
		{ParamMyID, myID},
		{ParamIsSender, true},
		{ParamIsInitiator, true},
		{ParamStatus, TxPending},
		{ParamCreateTime, desc.CreateTime},
		{ParamModifyTime, desc.ModifyTime},
	}
	for _, p := range params {
		blob, err := EncodeParamValue(p.v)
		if err != nil {
			return TxID{}, err
		}
		if _, err := w.store.SetTxParameter(txID, p.id, blob, false); err != nil {
			return TxID{}, err
		}
	}

	w.getTransaction(txID).Update()
	return txID, nil
}

// CancelTransaction aborts a negotiation by id.
func (w *Wallet) CancelTransaction(txID TxID) {
	w.getTransaction(txID).Cancel()
}

// OnTransactionMsg applies a peer negotiation message delivered to one of
// our addresses. An unknown id starts a fresh non-initiator negotiation.
func (w *Wallet) OnTransactionMsg(to WalletID, msg SetTxParameterMsg) {
	if msg.Type != TxTypeSimple {
		w.log.Warn("unsupported tx type from peer",
			zap.Int("type", int(msg.Type)), zap.Stringer("peer", msg.From))
		return
	}

	desc, err := w.store.GetTx(msg.TxID)
	if err != nil {
		w.log.Error("cannot look up tx", zap.Error(err))
		return
	}
	if desc == nil {
		if err := w.createIncomingTx(to, msg); err != nil {
			w.log.Error("cannot accept incoming tx", zap.Error(err))
			return
		}
	}

	changed := false
	for _, p := range msg.Params {
		if _, ok := incomingPeerParams[p.ID]; !ok {
			w.log.Warn("ignoring peer parameter",
				zap.Stringer("tx", msg.TxID), zap.Int("param", int(p.ID)))
			continue
		}
		ok, err := w.store.SetTxParameter(msg.TxID, p.ID, p.Value, false)
		if err != nil {
			w.log.Error("cannot apply peer parameter", zap.Error(err))
			return
		}
		changed = changed || ok
	}

	if changed || desc == nil {
		w.getTransaction(msg.TxID).Update()
	}
}

func (w *Wallet) createIncomingTx(to WalletID, msg SetTxParameterMsg) error {
	currentHeight, err := w.store.CurrentHeight()
	if err != nil {
		return errors.Wrap(err, "current height")
	}

	amount, _ := GetMsgParam[Amount](&msg, ParamAmount)
	fee, _ := GetMsgParam[Amount](&msg, ParamFee)
	isSender, _ := GetMsgParam[bool](&msg, ParamIsSender)

	desc := TxDescription{
		TxID:       msg.TxID,
		Type:       TxTypeSimple,
		Amount:     amount,
		Fee:        fee,
		MinHeight:  currentHeight,
		MaxHeight:  MaxHeight,
		PeerID:     msg.From,
		MyID:       to,
		CreateTime: Timestamp(time.Now().Unix()),
		Sender:     isSender,
		Status:     TxPending,
	}
	desc.ModifyTime = desc.CreateTime
	if err := w.store.SaveTx(desc); err != nil {
		return errors.Wrap(err, "save tx")
	}

	params := []struct {
		id ParameterID
		v  interface{}
	}{
		{ParamTransactionType, TxTypeSimple},
		{ParamPeerID, msg.From},
		{ParamMyID, to},
		{ParamIsInitiator, false},
		{ParamStatus, TxPending},
		{ParamCreateTime, desc.CreateTime},
		{ParamModifyTime, desc.ModifyTime},
	}
	for _, p := range params {
		blob, err := EncodeParamValue(p.v)
		if err != nil {
			return err
		}
		if _, err := w.store.SetTxParameter(msg.TxID, p.id, blob, false); err != nil {
			return err
		}
	}
	return nil
}

// OnTipChanged records the new tip and re-drives every in-flight
// negotiation; ones waiting on a kernel proof re-ask the node.
func (w *Wallet) OnTipChanged(tip BlockStateID) {
	if err := w.store.SetSystemStateID(tip); err != nil {
		w.log.Error("cannot store tip", zap.Error(err))
		return
	}
	w.log.Debug("tip changed",
		zap.Uint64("height", uint64(tip.Height)), zap.Stringer("hash", tip.Hash))

	history, err := w.store.TxHistory(0, 0)
	if err != nil {
		w.log.Error("cannot load history", zap.Error(err))
		return
	}
	for _, desc := range history {
		switch desc.Status {
		case TxPending, TxInProgress, TxRegistered:
			w.getTransaction(desc.TxID).Update()
		}
	}
}

func (w *Wallet) getTransaction(txID TxID) *SimpleTransaction {
	if tx, ok := w.active[txID]; ok {
		return tx
	}
	tx := NewSimpleTransaction(w, w.store, txID, w.log)
	w.active[txID] = tx
	return tx
}

// Gateway implementation. Negotiators call these from the reactor goroutine.

func (w *Wallet) GetTip() (BlockStateID, bool) {
	state, err := w.store.GetSystemStateID()
	if err != nil || state == nil {
		return BlockStateID{}, false
	}
	return *state, true
}

func (w *Wallet) RegisterTx(txID TxID, tx Transaction) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), chainCallTimeout)
		defer cancel()
		ok, err := w.chain.RegisterTransaction(ctx, tx)
		if err != nil {
			w.log.Error("register tx failed",
				zap.Stringer("tx", txID), zap.Error(err))
			return
		}
		w.reactor.Post(func() { w.onTxRegistered(txID, ok) })
	}()
}

func (w *Wallet) ConfirmKernel(txID TxID, kernel *Kernel) {
	kernelID := kernel.ID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), chainCallTimeout)
		defer cancel()
		height, err := w.chain.ConfirmKernel(ctx, kernelID)
		if err != nil {
			if !errutil.IsNotFound(err) {
				w.log.Error("confirm kernel failed",
					zap.Stringer("tx", txID), zap.Error(err))
			}
			// not on chain yet; the next tip change retries
			return
		}
		w.reactor.Post(func() { w.onKernelProved(txID, height) })
	}()
}

func (w *Wallet) SendTxParams(peer WalletID, msg SetTxParameterMsg) {
	w.peers.SendTxParams(peer, msg)
}

func (w *Wallet) OnTxCompleted(txID TxID) {
	delete(w.active, txID)
}

func (w *Wallet) onTxRegistered(txID TxID, ok bool) {
	if _, err := SetTxParam(w.store, txID, ParamTransactionRegistered, ok, false); err != nil {
		w.log.Error("cannot persist registration result", zap.Error(err))
		return
	}
	w.getTransaction(txID).Update()
}

func (w *Wallet) onKernelProved(txID TxID, height Height) {
	if _, err := SetTxParam(w.store, txID, ParamKernelProofHeight, height, false); err != nil {
		w.log.Error("cannot persist kernel proof", zap.Error(err))
		return
	}
	w.getTransaction(txID).Update()
}
