package wallet

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

// PaymentConfirmation is the receiver's signed acknowledgement of a payment:
// a Schnorr signature over (kernel id, amount, sender) with the key behind
// the receiver's address. The sender keeps it as a proof of payment.
type PaymentConfirmation struct {
	KernelID  chainhash.Hash
	Value     Amount
	Sender    WalletID
	Signature mwcrypto.Signature
}

func (pc *PaymentConfirmation) message() [32]byte {
	buf := make([]byte, 0, len(pc.KernelID)+8+len(pc.Sender))
	buf = append(buf, pc.KernelID[:]...)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(pc.Value))
	buf = append(buf, v[:]...)
	buf = append(buf, pc.Sender[:]...)
	return chainhash.HashH(buf)
}

// Sign fills Signature using the receiver's address key. The nonce is derived
// from the key and the message, so re-signing the same payment is stable.
func (pc *PaymentConfirmation) Sign(sk mwcrypto.Scalar) {
	msg := pc.message()
	skBytes := sk.Bytes()
	nonce := mwcrypto.HashToScalar([]byte("payment-nonce"), skBytes[:], msg[:])
	noncePub := nonce.MulG()

	e := mwcrypto.Challenge(noncePub, msg)
	pc.Signature = mwcrypto.Signature{
		NoncePub: noncePub,
		K:        nonce.Sub(e.Mul(sk)),
	}
}

// IsValid checks the signature against the receiver's public key.
func (pc *PaymentConfirmation) IsValid(receiver WalletID) bool {
	pk, err := receiver.Point()
	if err != nil {
		return false
	}
	return pc.Signature.Verify(pk, pc.message())
}
