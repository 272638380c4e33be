package wallet

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

type (
	Amount    uint64
	Height    uint64
	Timestamp int64
)

const MaxHeight = Height(math.MaxUint64)

// EmptyCoinSession marks a coin that is not locked into any transaction.
const EmptyCoinSession uint64 = 0

// MaturityStd is the number of blocks a freshly confirmed output stays
// immature after its kernel proof height.
const MaturityStd Height = 60

// TxID identifies a negotiated transaction on both sides of the channel.
type TxID [16]byte

func GenerateTxID() TxID {
	return TxID(uuid.New())
}

func (id TxID) String() string { return hex.EncodeToString(id[:]) }

func (id TxID) IsZero() bool { return id == TxID{} }

// WalletID is the compressed public key of a wallet address.
type WalletID [33]byte

func (w WalletID) IsZero() bool { return w == WalletID{} }

func (w WalletID) String() string { return hex.EncodeToString(w[:8]) }

func (w WalletID) Point() (mwcrypto.Point, error) {
	return mwcrypto.ParsePoint(w[:])
}

func WalletIDFromPoint(p mwcrypto.Point) WalletID {
	var w WalletID
	copy(w[:], p.Bytes())
	return w
}

// CoinStatus values are persisted; the order matches the original store so
// existing rows decode unchanged. ChangeV0 is read-compatible only and is
// normalized to Incoming on load.
type CoinStatus int

const (
	CoinUnavailable CoinStatus = iota
	CoinAvailable
	CoinMaturing
	CoinOutgoing
	CoinIncoming
	CoinChangeV0 // deprecated
	CoinSpent
)

func (s CoinStatus) String() string {
	switch s {
	case CoinUnavailable:
		return "unavailable"
	case CoinAvailable:
		return "available"
	case CoinMaturing:
		return "maturing"
	case CoinOutgoing:
		return "outgoing"
	case CoinIncoming:
		return "incoming"
	case CoinChangeV0:
		return "changeV0"
	case CoinSpent:
		return "spent"
	}
	return "unknown"
}

// CoinID addresses one owned UTXO: the key derivation path plus its value.
type CoinID struct {
	mwcrypto.KeyID
	Value Amount
}

// Coin is an owned UTXO tracked by the wallet store.
type Coin struct {
	ID            CoinID
	Status        CoinStatus
	CreateHeight  Height
	Maturity      Height
	ConfirmHeight Height
	LockedHeight  Height
	CreateTxID    *TxID
	SpentTxID     *TxID
	SessionID     uint64
}

func NewCoin(value Amount, status CoinStatus) Coin {
	return Coin{
		ID:            CoinID{Value: value},
		Status:        status,
		Maturity:      MaxHeight,
		ConfirmHeight: MaxHeight,
		LockedHeight:  MaxHeight,
	}
}

func (c Coin) IsReward() bool {
	return c.ID.Type == mwcrypto.KeyTypeCoinbase || c.ID.Type == mwcrypto.KeyTypeComission
}

// WalletAddress is an entry of the address book; OwnID is non-zero when the
// private key is held by this wallet.
type WalletAddress struct {
	WalletID   WalletID
	Label      string
	Category   string
	CreateTime Timestamp
	Duration   uint64 // seconds; 0 means the address never expires
	OwnID      uint64
}

const defaultAddressDuration = 24 * 60 * 60

func NewWalletAddress() WalletAddress {
	return WalletAddress{
		CreateTime: Timestamp(time.Now().Unix()),
		Duration:   defaultAddressDuration,
	}
}

func (a WalletAddress) ExpirationTime() Timestamp {
	if a.Duration == 0 {
		return Timestamp(math.MaxInt64)
	}
	return a.CreateTime + Timestamp(a.Duration)
}

func (a WalletAddress) IsExpired() bool {
	return Timestamp(time.Now().Unix()) > a.ExpirationTime()
}

type TxStatus int

const (
	TxPending TxStatus = iota
	TxInProgress
	TxCancelled
	TxCompleted
	TxFailed
	TxRegistered
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxInProgress:
		return "in progress"
	case TxCancelled:
		return "cancelled"
	case TxCompleted:
		return "completed"
	case TxFailed:
		return "failed"
	case TxRegistered:
		return "registered"
	}
	return "unknown"
}

type TxType int

const (
	TxTypeSimple TxType = iota
)

// TxFailureReason codes cross the wire to the peer; values are stable.
type TxFailureReason int

const (
	ReasonUnknown TxFailureReason = iota
	ReasonCancelled
	ReasonInvalidPeerSignature
	ReasonFailedToRegister
	ReasonInvalidTransaction
	ReasonInvalidKernel
	ReasonFailedToSendParameters
	ReasonNoInputs
	ReasonTransactionExpired
	ReasonNoPaymentProof
)

func (r TxFailureReason) String() string {
	switch r {
	case ReasonUnknown:
		return "unexpected reason"
	case ReasonCancelled:
		return "transaction cancelled"
	case ReasonInvalidPeerSignature:
		return "peer signature is not valid"
	case ReasonFailedToRegister:
		return "failed to register transaction"
	case ReasonInvalidTransaction:
		return "transaction is not valid"
	case ReasonInvalidKernel:
		return "invalid kernel proof provided"
	case ReasonFailedToSendParameters:
		return "failed to send tx parameters"
	case ReasonNoInputs:
		return "no inputs"
	case ReasonTransactionExpired:
		return "transaction timed out"
	case ReasonNoPaymentProof:
		return "payment not signed by the receiver"
	}
	return "unexpected reason"
}

// TxDescription is the summary row shown in history and pushed to observers.
type TxDescription struct {
	TxID          TxID
	Type          TxType
	Amount        Amount
	Fee           Amount
	Change        Amount
	MinHeight     Height
	MaxHeight     Height
	PeerID        WalletID
	MyID          WalletID
	CreateTime    Timestamp
	ModifyTime    Timestamp
	Sender        bool
	Status        TxStatus
	FailureReason TxFailureReason
	KernelID      chainhash.Hash
}

// BlockStateID identifies the chain tip.
type BlockStateID struct {
	Hash   chainhash.Hash
	Height Height
}

// Input spends a committed output.
type Input struct {
	Commitment mwcrypto.Point
}

// Output is a confidential output: a Pedersen commitment plus its opaque
// ownership proof.
type Output struct {
	Commitment mwcrypto.Point
	Proof      []byte
}

// Kernel carries the fee, the validity height range and the Schnorr
// multisignature over the transaction excess.
type Kernel struct {
	Fee        Amount
	MinHeight  Height
	MaxHeight  Height
	Commitment mwcrypto.Point
	Signature  mwcrypto.Signature
}

// Hash returns the message signed by the kernel multisignature. It covers
// everything except the signature itself.
func (k *Kernel) Hash() [32]byte {
	buf := make([]byte, 0, 24+33)
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], uint64(k.Fee))
	buf = append(buf, u[:]...)
	binary.BigEndian.PutUint64(u[:], uint64(k.MinHeight))
	buf = append(buf, u[:]...)
	binary.BigEndian.PutUint64(u[:], uint64(k.MaxHeight))
	buf = append(buf, u[:]...)
	buf = append(buf, k.Commitment.Bytes()...)
	return chainhash.HashH(buf)
}

// ID is the public identifier used to look the kernel up on chain.
func (k *Kernel) ID() chainhash.Hash {
	return chainhash.Hash(k.Hash())
}

// Transaction is the assembled confidential transaction submitted to the node.
type Transaction struct {
	Inputs  []Input
	Outputs []Output
	Kernels []*Kernel
	Offset  mwcrypto.Scalar
}

// Normalize sorts inputs and outputs by commitment and drops duplicates, so
// both parties produce an identical serialization.
func (t *Transaction) Normalize() {
	sort.Slice(t.Inputs, func(i, j int) bool {
		return lessBytes(t.Inputs[i].Commitment.Bytes(), t.Inputs[j].Commitment.Bytes())
	})
	t.Inputs = dedupeInputs(t.Inputs)
	sort.Slice(t.Outputs, func(i, j int) bool {
		return lessBytes(t.Outputs[i].Commitment.Bytes(), t.Outputs[j].Commitment.Bytes())
	})
	t.Outputs = dedupeOutputs(t.Outputs)
}

// IsValid performs the structural checks done before handing the transaction
// to the node: a kernel must exist, its height range must be sane and its
// signature must verify against its commitment.
func (t *Transaction) IsValid() error {
	if len(t.Kernels) == 0 {
		return errors.New("transaction has no kernel")
	}
	for _, k := range t.Kernels {
		if k.MinHeight > k.MaxHeight {
			return errors.New("kernel height range inverted")
		}
		if !k.Signature.Verify(k.Commitment, k.Hash()) {
			return errors.New("kernel signature does not verify")
		}
	}
	if len(t.Inputs) == 0 && len(t.Outputs) == 0 {
		return errors.New("transaction moves nothing")
	}
	return nil
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func dedupeInputs(in []Input) []Input {
	out := in[:0]
	for i, v := range in {
		if i > 0 && v.Commitment.Equal(in[i-1].Commitment) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func dedupeOutputs(in []Output) []Output {
	out := in[:0]
	for i, v := range in {
		if i > 0 && v.Commitment.Equal(in[i-1].Commitment) {
			continue
		}
		out = append(out, v)
	}
	return out
}
