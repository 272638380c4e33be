package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

// TxBuilder assembles one side of a negotiated transaction. It is rebuilt
// from persisted parameters on every update, so a restart in the middle of a
// negotiation resumes with identical keys, nonces and outputs.
type TxBuilder struct {
	tx         *SimpleTransaction
	amountList []Amount
	fee        Amount
	change     Amount
	minHeight  Height
	maxHeight  Height

	inputs  []Input
	outputs []Output
	offset  mwcrypto.Scalar

	blindingExcess mwcrypto.Scalar
	nonce          mwcrypto.Scalar

	peerPublicExcess mwcrypto.Point
	peerPublicNonce  mwcrypto.Point
	peerSignature    mwcrypto.Scalar
	peerInputs       []Input
	peerOutputs      []Output
	peerOffset       mwcrypto.Scalar

	kernel           *Kernel
	message          [32]byte
	totalNoncePub    mwcrypto.Point
	partialSignature mwcrypto.Scalar
}

func NewTxBuilder(tx *SimpleTransaction, amountList []Amount, fee Amount) *TxBuilder {
	return &TxBuilder{
		tx:         tx,
		amountList: amountList,
		fee:        fee,
		maxHeight:  MaxHeight,
	}
}

// GetInitialTxParams restores persisted builder state. It reports whether the
// expensive first step (input selection and kernel key allocation) already
// ran.
func (b *TxBuilder) GetInitialTxParams() bool {
	s, id := b.tx.store, b.tx.id
	b.inputs, _ = GetTxParam[[]Input](s, id, ParamInputs)
	b.outputs, _ = GetTxParam[[]Output](s, id, ParamOutputs)
	if h, ok := GetTxParam[Height](s, id, ParamMinHeight); ok {
		b.minHeight = h
	}
	if h, ok := GetTxParam[Height](s, id, ParamMaxHeight); ok {
		b.maxHeight = h
	}
	excess, hasExcess := GetTxParam[mwcrypto.Scalar](s, id, ParamBlindingExcess)
	offset, hasOffset := GetTxParam[mwcrypto.Scalar](s, id, ParamOffset)
	if hasExcess {
		b.blindingExcess = excess
	}
	if hasOffset {
		b.offset = offset
	}
	return hasExcess && hasOffset
}

// SelectInputs locks enough coins for amount+fee, turns them into input
// commitments and folds their blinding factors into the offset.
func (b *TxBuilder) SelectInputs() error {
	amountWithFee := b.GetAmount() + b.fee
	coins, err := b.tx.store.SelectCoins(amountWithFee, true)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		available, _ := b.tx.store.Available()
		return newTxFailed(!b.tx.IsInitiator(), ReasonNoInputs,
			fmt.Sprintf("not enough funds, only %s available", PrintableAmount(available)))
	}

	var total Amount
	txID := b.tx.id
	for i := range coins {
		coins[i].SpentTxID = &txID
		coins[i].Status = CoinOutgoing

		blind, commitment := b.tx.store.CalcCommitment(coins[i].ID)
		b.inputs = append(b.inputs, Input{Commitment: commitment})
		b.offset = b.offset.Add(blind)
		total += coins[i].ID.Value
	}
	b.change = total - amountWithFee

	if _, err := SetTxParam(b.tx.store, txID, ParamChange, b.change, false); err != nil {
		return err
	}
	if _, err := SetTxParam(b.tx.store, txID, ParamInputs, b.inputs, false); err != nil {
		return err
	}
	if _, err := SetTxParam(b.tx.store, txID, ParamOffset, b.offset, false); err != nil {
		return err
	}
	return b.tx.store.SaveCoins(coins...)
}

func (b *TxBuilder) AddChangeOutput() error {
	if b.change == 0 {
		return nil
	}
	return b.AddOutput(b.change, true)
}

// AddOutput allocates a fresh incoming coin for amount and appends its
// confidential output. The output's blinding factor leaves the offset.
func (b *TxBuilder) AddOutput(amount Amount, change bool) error {
	coin := NewCoin(amount, CoinIncoming)
	txID := b.tx.id
	coin.CreateTxID = &txID
	coin.CreateHeight = b.minHeight
	if change {
		coin.ID.Type = mwcrypto.KeyTypeChange
	}
	if err := b.tx.store.StoreCoin(&coin); err != nil {
		return err
	}

	blind, commitment := b.tx.store.CalcCommitment(coin.ID)
	proofKey := b.tx.store.ChildKdf(coin.ID.SubIdx).Derive([]byte("proof"), commitment.Bytes())
	proof := proofKey.Bytes()

	b.outputs = append(b.outputs, Output{Commitment: commitment, Proof: proof[:]})
	b.offset = b.offset.Sub(blind)
	return nil
}

func (b *TxBuilder) FinalizeOutputs() error {
	if _, err := SetTxParam(b.tx.store, b.tx.id, ParamOutputs, b.outputs, false); err != nil {
		return err
	}
	_, err := SetTxParam(b.tx.store, b.tx.id, ParamOffset, b.offset, false)
	return err
}

// CreateKernel builds the kernel skeleton and this side's signing secrets.
// The blinding excess is persisted on first run; the multisig nonce is
// derived from a persisted random seed rather than stored directly.
func (b *TxBuilder) CreateKernel() error {
	b.kernel = &Kernel{
		Fee:       b.fee,
		MinHeight: b.minHeight,
		MaxHeight: b.maxHeight,
	}

	s, id := b.tx.store, b.tx.id
	excess, ok := GetTxParam[mwcrypto.Scalar](s, id, ParamBlindingExcess)
	if !ok {
		idx, err := s.AllocateKidRange(1)
		if err != nil {
			return err
		}
		excess = s.MasterKdf().DeriveKey(mwcrypto.KeyID{Idx: idx, Type: mwcrypto.KeyTypeKernel})
		if _, err := SetTxParam(s, id, ParamBlindingExcess, excess, false); err != nil {
			return err
		}
	}

	b.offset = b.offset.Add(excess)
	b.blindingExcess = excess.Negate()

	seed, ok := GetTxParam[[32]byte](s, id, ParamMyNonce)
	if !ok {
		seed = mwcrypto.GenRandom32()
		if _, err := SetTxParam(s, id, ParamMyNonce, seed, false); err != nil {
			return err
		}
	}
	b.nonce = s.MasterKdf().Derive([]byte("nonce"), seed[:])
	return nil
}

func (b *TxBuilder) GetPublicExcess() mwcrypto.Point {
	return b.blindingExcess.MulG()
}

func (b *TxBuilder) GetPublicNonce() mwcrypto.Point {
	return b.nonce.MulG()
}

func (b *TxBuilder) GetPeerPublicExcessAndNonce() bool {
	excess, hasExcess := GetTxParam[mwcrypto.Point](b.tx.store, b.tx.id, ParamPeerPublicExcess)
	nonce, hasNonce := GetTxParam[mwcrypto.Point](b.tx.store, b.tx.id, ParamPeerPublicNonce)
	if !hasExcess || !hasNonce {
		return false
	}
	b.peerPublicExcess = excess
	b.peerPublicNonce = nonce
	return true
}

func (b *TxBuilder) GetPeerSignature() bool {
	sig, ok := GetTxParam[mwcrypto.Scalar](b.tx.store, b.tx.id, ParamPeerSignature)
	if !ok {
		return false
	}
	b.peerSignature = sig
	return true
}

func (b *TxBuilder) GetPeerInputsAndOutputs() bool {
	inputs, hasInputs := GetTxParam[[]Input](b.tx.store, b.tx.id, ParamPeerInputs)
	outputs, hasOutputs := GetTxParam[[]Output](b.tx.store, b.tx.id, ParamPeerOutputs)
	offset, hasOffset := GetTxParam[mwcrypto.Scalar](b.tx.store, b.tx.id, ParamPeerOffset)
	if hasInputs {
		b.peerInputs = inputs
	}
	if hasOutputs && hasOffset {
		b.peerOutputs = outputs
		b.peerOffset = offset
	}
	return hasInputs || (hasOutputs && hasOffset)
}

// SignPartial fixes the kernel commitment and the total nonce, then produces
// this side's signature share over the kernel hash.
func (b *TxBuilder) SignPartial() error {
	b.kernel.Commitment = b.GetPublicExcess().Add(b.peerPublicExcess)
	b.message = b.kernel.Hash()
	b.totalNoncePub = b.GetPublicNonce().Add(b.peerPublicNonce)
	b.partialSignature = mwcrypto.SignPartial(b.nonce, b.blindingExcess, b.totalNoncePub, b.message)
	return b.StoreKernelID()
}

func (b *TxBuilder) IsPeerSignatureValid() bool {
	return mwcrypto.VerifyPartial(b.peerSignature, b.totalNoncePub,
		b.peerPublicNonce, b.peerPublicExcess, b.message)
}

// FinalizeSignature completes the kernel multisignature from both shares.
func (b *TxBuilder) FinalizeSignature() error {
	b.kernel.Signature = mwcrypto.Signature{
		NoncePub: b.totalNoncePub,
		K:        b.partialSignature.Add(b.peerSignature),
	}
	return b.StoreKernelID()
}

// CreateTransaction merges both sides into the final normalized transaction.
func (b *TxBuilder) CreateTransaction() Transaction {
	tx := Transaction{
		Inputs:  append(append([]Input(nil), b.inputs...), b.peerInputs...),
		Outputs: append(append([]Output(nil), b.outputs...), b.peerOutputs...),
		Kernels: []*Kernel{b.kernel},
		Offset:  b.offset.Add(b.peerOffset),
	}
	tx.Normalize()
	return tx
}

func (b *TxBuilder) StoreKernelID() error {
	_, err := SetTxParam(b.tx.store, b.tx.id, ParamKernelID, b.kernel.ID(), true)
	return err
}

func (b *TxBuilder) GetAmount() Amount {
	var total Amount
	for _, a := range b.amountList {
		total += a
	}
	return total
}

func (b *TxBuilder) GetAmountList() []Amount { return b.amountList }

func (b *TxBuilder) GetFee() Amount { return b.fee }

func (b *TxBuilder) GetMinHeight() Height { return b.minHeight }

func (b *TxBuilder) GetMaxHeight() Height { return b.maxHeight }

func (b *TxBuilder) GetInputs() []Input { return b.inputs }

func (b *TxBuilder) GetOutputs() []Output { return b.outputs }

func (b *TxBuilder) GetOffset() mwcrypto.Scalar { return b.offset }

func (b *TxBuilder) GetPartialSignature() mwcrypto.Scalar { return b.partialSignature }

func (b *TxBuilder) GetKernel() *Kernel { return b.kernel }

func (b *TxBuilder) KernelID() chainhash.Hash { return b.kernel.ID() }
