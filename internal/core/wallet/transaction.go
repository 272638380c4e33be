package wallet

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

// ProtoVersion is announced to peers; peers that announce one too follow the
// short negotiation flow without the explicit registration round.
const ProtoVersion uint32 = 1

// NegotiationState is the persisted step of a SimpleTransaction. Values are
// stored; do not renumber.
type NegotiationState int

const (
	StateInitial NegotiationState = iota
	StateInvitation
	StateInvitationConfirmation
	StatePeerConfirmation
	StateKernelConfirmation
	StateRegistration
)

func (s NegotiationState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateInvitation:
		return "invitation"
	case StateInvitationConfirmation:
		return "invitation confirmation"
	case StatePeerConfirmation:
		return "peer confirmation"
	case StateKernelConfirmation:
		return "kernel confirmation"
	case StateRegistration:
		return "registration"
	}
	return "unknown"
}

// SimpleTransaction negotiates a two-party (or self) value transfer. All of
// its state lives in the parameter bag, so Update can be called any number of
// times, including after a restart, and performs at most one externally
// visible step.
type SimpleTransaction struct {
	gateway Gateway
	store   Store
	id      TxID
	log     *zap.Logger

	isInitiator *bool
}

func NewSimpleTransaction(gateway Gateway, store Store, id TxID, log *zap.Logger) *SimpleTransaction {
	return &SimpleTransaction{
		gateway: gateway,
		store:   store,
		id:      id,
		log:     log.With(zap.Stringer("tx", id)),
	}
}

func (t *SimpleTransaction) ID() TxID { return t.id }

func (t *SimpleTransaction) IsInitiator() bool {
	if t.isInitiator == nil {
		v, err := GetMandatoryTxParam[bool](t.store, t.id, ParamIsInitiator)
		if err != nil {
			t.log.Error("initiator flag missing", zap.Error(err))
			return false
		}
		t.isInitiator = &v
	}
	return *t.isInitiator
}

func (t *SimpleTransaction) peerVersion() uint32 {
	v, _ := GetTxParam[uint32](t.store, t.id, ParamPeerProtoVersion)
	return v
}

func (t *SimpleTransaction) State() NegotiationState {
	s, _ := GetTxParam[NegotiationState](t.store, t.id, ParamState)
	return s
}

func (t *SimpleTransaction) setState(s NegotiationState) {
	if _, err := SetTxParam(t.store, t.id, ParamState, s, false); err != nil {
		t.log.Error("cannot persist state", zap.Error(err))
	}
}

// IsSelfTx reports whether the peer address belongs to this wallet too.
func (t *SimpleTransaction) IsSelfTx() bool {
	peerID, err := GetMandatoryTxParam[WalletID](t.store, t.id, ParamPeerID)
	if err != nil {
		return false
	}
	addr, err := t.store.GetAddress(peerID)
	return err == nil && addr != nil && addr.OwnID != 0
}

// Update drives the negotiation one step forward. Idempotent; safe to call on
// every trigger (creation, peer message, node callback, tip change).
func (t *SimpleTransaction) Update() {
	if t.checkExternalFailures() {
		return
	}
	if err := t.updateImpl(); err != nil {
		var failed TxFailedError
		if errors.As(err, &failed) {
			t.log.Error("transaction failed", zap.Error(err))
			t.OnFailed(failed.Reason, failed.Notify)
		} else {
			t.log.Error("update failed", zap.Error(err))
		}
		return
	}
	t.checkExpired()
}

// Cancel aborts the negotiation. A transaction that never progressed is
// simply deleted; anything further along is failed, rolled back and the peer
// told.
func (t *SimpleTransaction) Cancel() {
	status, ok := GetTxParam[TxStatus](t.store, t.id, ParamStatus)
	if ok && status == TxPending {
		if err := t.store.DeleteTx(t.id); err != nil {
			t.log.Error("cannot delete tx", zap.Error(err))
		}
		return
	}
	t.NotifyFailure(ReasonCancelled)
	t.UpdateTxDescription(TxCancelled)
	t.RollbackTx()
	t.gateway.OnTxCompleted(t.id)
}

func (t *SimpleTransaction) RollbackTx() {
	t.log.Info("transaction failed, rolling back")
	if err := t.store.RollbackTx(t.id); err != nil {
		t.log.Error("rollback failed", zap.Error(err))
	}
}

func (t *SimpleTransaction) checkExpired() {
	status, err := GetMandatoryTxParam[TxStatus](t.store, t.id, ParamStatus)
	if err != nil || status == TxCompleted {
		return
	}
	maxHeight := MaxHeight
	if h, ok := GetTxParam[Height](t.store, t.id, ParamMaxHeight); ok {
		maxHeight = h
	}
	if tip, ok := t.gateway.GetTip(); ok && tip.Height > maxHeight {
		t.log.Info("transaction expired",
			zap.Uint64("height", uint64(tip.Height)),
			zap.Uint64("maxKernelHeight", uint64(maxHeight)))
		t.OnFailed(ReasonTransactionExpired, true)
	}
}

// checkExternalFailures handles a failure reason injected by the peer.
func (t *SimpleTransaction) checkExternalFailures() bool {
	reason, ok := GetTxParam[TxFailureReason](t.store, t.id, ParamFailureReason)
	if !ok {
		return false
	}
	status, err := GetMandatoryTxParam[TxStatus](t.store, t.id, ParamStatus)
	if err == nil && status == TxInProgress {
		t.OnFailed(reason, false)
		return true
	}
	return false
}

func (t *SimpleTransaction) confirmKernel(kernel *Kernel) {
	t.UpdateTxDescription(TxRegistered)
	t.gateway.ConfirmKernel(t.id, kernel)
}

func (t *SimpleTransaction) CompleteTx() {
	t.log.Info("transaction completed")
	t.UpdateTxDescription(TxCompleted)
	t.gateway.OnTxCompleted(t.id)
}

// UpdateTxDescription advances the persisted status. The history row carries
// the observer notification; the parameter bag stays the source of truth for
// the negotiation itself.
func (t *SimpleTransaction) UpdateTxDescription(s TxStatus) {
	now := Timestamp(time.Now().Unix())
	if _, err := SetTxParam(t.store, t.id, ParamStatus, s, false); err != nil {
		t.log.Error("cannot persist status", zap.Error(err))
	}
	if _, err := SetTxParam(t.store, t.id, ParamModifyTime, now, false); err != nil {
		t.log.Error("cannot persist modify time", zap.Error(err))
	}
	desc, err := t.store.GetTx(t.id)
	if err != nil || desc == nil {
		return
	}
	desc.Status = s
	desc.ModifyTime = now
	if err := t.store.SaveTx(*desc); err != nil {
		t.log.Error("cannot save tx description", zap.Error(err))
	}
}

func (t *SimpleTransaction) OnFailed(reason TxFailureReason, notify bool) {
	t.log.Error("failed", zap.String("reason", reason.String()))

	if notify {
		t.NotifyFailure(reason)
	}
	if reason == ReasonCancelled {
		t.UpdateTxDescription(TxCancelled)
	} else {
		t.UpdateTxDescription(TxFailed)
		if _, err := SetTxParam(t.store, t.id, ParamFailureReason, reason, false); err != nil {
			t.log.Error("cannot persist failure reason", zap.Error(err))
		}
	}
	t.RollbackTx()
	t.gateway.OnTxCompleted(t.id)
}

// NotifyFailure tells the peer, but only while the transaction could not yet
// be valid on chain.
func (t *SimpleTransaction) NotifyFailure(reason TxFailureReason) {
	status, _ := GetTxParam[TxStatus](t.store, t.id, ParamStatus)
	switch status {
	case TxPending, TxInProgress:
	default:
		return
	}
	var msg SetTxParameterMsg
	msg.Add(ParamFailureReason, reason)
	t.sendTxParameters(&msg)
}

func (t *SimpleTransaction) unconfirmedOutputs() []Coin {
	var outputs []Coin
	err := t.store.VisitCoins(func(c Coin) bool {
		created := c.CreateTxID != nil && *c.CreateTxID == t.id && c.Status == CoinIncoming
		spent := c.SpentTxID != nil && *c.SpentTxID == t.id && c.Status == CoinOutgoing
		if created || spent {
			outputs = append(outputs, c)
		}
		return true
	})
	if err != nil {
		t.log.Error("cannot scan coins", zap.Error(err))
	}
	return outputs
}

func (t *SimpleTransaction) sendTxParameters(msg *SetTxParameterMsg) bool {
	msg.TxID = t.id
	msg.Type = TxTypeSimple

	myID, hasMy := GetTxParam[WalletID](t.store, t.id, ParamMyID)
	peerID, hasPeer := GetTxParam[WalletID](t.store, t.id, ParamPeerID)
	if !hasMy || !hasPeer {
		return false
	}
	msg.From = myID
	t.gateway.SendTxParams(peerID, *msg)
	return true
}

func (t *SimpleTransaction) updateImpl() error {
	isSender, err := GetMandatoryTxParam[bool](t.store, t.id, ParamIsSender)
	if err != nil {
		return err
	}
	isSelfTx := t.IsSelfTx()
	txState := t.State()

	amountList, ok := GetTxParam[[]Amount](t.store, t.id, ParamAmountList)
	if !ok {
		amount, err := GetMandatoryTxParam[Amount](t.store, t.id, ParamAmount)
		if err != nil {
			return err
		}
		amountList = []Amount{amount}
	}
	fee, err := GetMandatoryTxParam[Amount](t.store, t.id, ParamFee)
	if err != nil {
		return err
	}

	builder := NewTxBuilder(t, amountList, fee)
	if !builder.GetInitialTxParams() && txState == StateInitial {
		verb := "receiving"
		if isSender {
			verb = "sending"
		}
		t.log.Info(verb,
			zap.String("amount", PrintableAmount(builder.GetAmount())),
			zap.String("fee", PrintableAmount(builder.GetFee())))

		if isSender {
			if err := builder.SelectInputs(); err != nil {
				return err
			}
			if err := builder.AddChangeOutput(); err != nil {
				return err
			}
		}
		if isSelfTx || !isSender {
			for _, amount := range builder.GetAmountList() {
				if err := builder.AddOutput(amount, false); err != nil {
					return err
				}
			}
		}
		if err := builder.FinalizeOutputs(); err != nil {
			return err
		}
		t.UpdateTxDescription(TxInProgress)
	}

	if _, ok := GetTxParam[uint64](t.store, t.id, ParamMyAddressID); !ok {
		if wid, ok := GetTxParam[WalletID](t.store, t.id, ParamMyID); ok {
			addr, err := t.store.GetAddress(wid)
			if err == nil && addr != nil && addr.OwnID != 0 {
				if _, err := SetTxParam(t.store, t.id, ParamMyAddressID, addr.OwnID, false); err != nil {
					return err
				}
			}
		}
	}

	if err := builder.CreateKernel(); err != nil {
		return err
	}

	if !isSelfTx && !builder.GetPeerPublicExcessAndNonce() {
		if txState == StateInitial {
			if err := t.sendInvitation(builder, isSender); err != nil {
				return err
			}
			t.setState(StateInvitation)
		}
		return nil
	}

	if err := builder.SignPartial(); err != nil {
		return err
	}

	hasPeersInputsAndOutputs := builder.GetPeerInputsAndOutputs()
	if !isSelfTx && !builder.GetPeerSignature() {
		if txState == StateInitial {
			// invited participant
			t.UpdateTxDescription(TxRegistered)
			if err := t.confirmInvitation(builder, !hasPeersInputsAndOutputs); err != nil {
				return err
			}

			if _, ok := GetTxParam[uint32](t.store, t.id, ParamPeerProtoVersion); ok {
				// a peer on the current flow expects no further rounds from
				// us; go straight to awaiting the proof
				if _, err := SetTxParam(t.store, t.id, ParamTransactionRegistered, true, false); err != nil {
					return err
				}
				t.setState(StateKernelConfirmation)
				t.confirmKernel(builder.GetKernel())
			} else {
				t.setState(StateInvitationConfirmation)
			}
			return nil
		}
		if t.IsInitiator() {
			return nil
		}
	}

	if t.IsInitiator() && !builder.IsPeerSignatureValid() {
		return newTxFailed(true, ReasonInvalidPeerSignature, "")
	}

	if !isSelfTx && isSender && t.IsInitiator() {
		if !t.verifyPaymentConfirmation() && t.peerVersion() >= ProtoVersion {
			return newTxFailed(false, ReasonNoPaymentProof, "")
		}
	}

	if err := builder.FinalizeSignature(); err != nil {
		return err
	}

	isRegistered, hasRegistered := GetTxParam[bool](t.store, t.id, ParamTransactionRegistered)
	if !hasRegistered {
		if !isSelfTx && (!hasPeersInputsAndOutputs || t.IsInitiator()) {
			if txState == StateInvitation {
				t.UpdateTxDescription(TxRegistered)
				t.confirmTransaction(builder, !hasPeersInputsAndOutputs)
				t.setState(StatePeerConfirmation)
			}
			if !hasPeersInputsAndOutputs {
				return nil
			}
		}

		transaction := builder.CreateTransaction()
		if err := transaction.IsValid(); err != nil {
			return newTxFailed(true, ReasonInvalidTransaction, err.Error())
		}
		t.gateway.RegisterTx(t.id, transaction)
		t.setState(StateRegistration)
		return nil
	}

	if !isRegistered {
		return newTxFailed(true, ReasonFailedToRegister, "")
	}

	proofHeight, _ := GetTxParam[Height](t.store, t.id, ParamKernelProofHeight)
	if proofHeight == 0 {
		if txState == StateRegistration {
			if _, ok := GetTxParam[uint32](t.store, t.id, ParamPeerProtoVersion); !ok {
				// old-flow peers learn about registration explicitly
				t.notifyTransactionRegistered()
			}
		}
		t.setState(StateKernelConfirmation)
		t.confirmKernel(builder.GetKernel())
		return nil
	}

	// the kernel proof confirms every coin of this tx; no per-coin proofs
	unconfirmed := t.unconfirmedOutputs()
	for i := range unconfirmed {
		if unconfirmed[i].Status == CoinOutgoing {
			unconfirmed[i].Status = CoinSpent
		} else {
			unconfirmed[i].Status = CoinAvailable
			unconfirmed[i].ConfirmHeight = proofHeight
			unconfirmed[i].Maturity = proofHeight + MaturityStd
		}
	}
	if err := t.store.SaveCoins(unconfirmed...); err != nil {
		return err
	}

	t.CompleteTx()
	return nil
}

func (t *SimpleTransaction) sendInvitation(builder *TxBuilder, isSender bool) error {
	var msg SetTxParameterMsg
	msg.Add(ParamAmount, builder.GetAmount()).
		Add(ParamFee, builder.GetFee()).
		Add(ParamMinHeight, builder.GetMinHeight()).
		Add(ParamMaxHeight, builder.GetMaxHeight()).
		Add(ParamIsSender, !isSender).
		Add(ParamPeerProtoVersion, ProtoVersion).
		Add(ParamPeerPublicExcess, builder.GetPublicExcess()).
		Add(ParamPeerPublicNonce, builder.GetPublicNonce())

	if !t.sendTxParameters(&msg) {
		return newTxFailed(false, ReasonFailedToSendParameters, "")
	}
	return nil
}

func (t *SimpleTransaction) confirmInvitation(builder *TxBuilder, sendUtxos bool) error {
	t.log.Info("transaction accepted",
		zap.String("kernel", builder.KernelID().String()))

	var msg SetTxParameterMsg
	msg.Add(ParamPeerProtoVersion, ProtoVersion).
		Add(ParamPeerPublicExcess, builder.GetPublicExcess()).
		Add(ParamPeerSignature, builder.GetPartialSignature()).
		Add(ParamPeerPublicNonce, builder.GetPublicNonce())
	if sendUtxos {
		msg.Add(ParamPeerInputs, builder.GetInputs()).
			Add(ParamPeerOutputs, builder.GetOutputs()).
			Add(ParamPeerOffset, builder.GetOffset())
	}

	isSender, err := GetMandatoryTxParam[bool](t.store, t.id, ParamIsSender)
	if err != nil {
		return err
	}
	if !isSender {
		if sig, ok := t.signPaymentConfirmation(builder); ok {
			msg.Add(ParamPaymentConfirmation, sig)
		}
	}

	t.sendTxParameters(&msg)
	return nil
}

// signPaymentConfirmation produces the receiver's acknowledgement with the
// key behind its own address.
func (t *SimpleTransaction) signPaymentConfirmation(builder *TxBuilder) (mwcrypto.Signature, bool) {
	widPeer, ok1 := GetTxParam[WalletID](t.store, t.id, ParamPeerID)
	widMy, ok2 := GetTxParam[WalletID](t.store, t.id, ParamMyID)
	amount, ok3 := GetTxParam[Amount](t.store, t.id, ParamAmount)
	if !ok1 || !ok2 || !ok3 {
		return mwcrypto.Signature{}, false
	}

	addr, err := t.store.GetAddress(widMy)
	if err != nil || addr == nil || addr.OwnID == 0 {
		return mwcrypto.Signature{}, false
	}
	sk := t.store.MasterKdf().DeriveKey(mwcrypto.KeyID{Idx: addr.OwnID, Type: mwcrypto.KeyTypeBbs})

	pc := PaymentConfirmation{
		KernelID: builder.KernelID(),
		Value:    amount,
		Sender:   widPeer,
	}
	pc.Sign(sk)
	return pc.Signature, true
}

// verifyPaymentConfirmation checks the receiver's acknowledgement on the
// sender side.
func (t *SimpleTransaction) verifyPaymentConfirmation() bool {
	widPeer, ok1 := GetTxParam[WalletID](t.store, t.id, ParamPeerID)
	widMy, ok2 := GetTxParam[WalletID](t.store, t.id, ParamMyID)
	kernelID, ok3 := GetTxParam[chainhash.Hash](t.store, t.id, ParamKernelID)
	amount, ok4 := GetTxParam[Amount](t.store, t.id, ParamAmount)
	sig, ok5 := GetTxParam[mwcrypto.Signature](t.store, t.id, ParamPaymentConfirmation)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return false
	}

	pc := PaymentConfirmation{
		KernelID:  kernelID,
		Value:     amount,
		Sender:    widMy,
		Signature: sig,
	}
	return pc.IsValid(widPeer)
}

// confirmTransaction is the explicit registration round kept for old-flow
// peers; current peers skip it.
func (t *SimpleTransaction) confirmTransaction(builder *TxBuilder, sendUtxos bool) {
	if _, ok := GetTxParam[uint32](t.store, t.id, ParamPeerProtoVersion); ok {
		return
	}
	var msg SetTxParameterMsg
	msg.Add(ParamPeerSignature, builder.GetPartialSignature())
	if sendUtxos {
		msg.Add(ParamPeerInputs, builder.GetInputs()).
			Add(ParamPeerOutputs, builder.GetOutputs()).
			Add(ParamPeerOffset, builder.GetOffset())
	}
	t.sendTxParameters(&msg)
}

func (t *SimpleTransaction) notifyTransactionRegistered() {
	var msg SetTxParameterMsg
	msg.Add(ParamTransactionRegistered, true)
	t.sendTxParameters(&msg)
}
