package wallet

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// ParameterID keys one typed slot of the per-transaction parameter bag.
// Values are persisted; do not renumber.
type ParameterID uint8

const (
	ParamTransactionType ParameterID = 0
	ParamIsSender        ParameterID = 1
	ParamAmount          ParameterID = 2
	ParamFee             ParameterID = 3
	ParamMinHeight       ParameterID = 4
	ParamMaxHeight       ParameterID = 5
	ParamMyID            ParameterID = 6
	ParamPeerID          ParameterID = 7
	ParamIsInitiator     ParameterID = 8
	ParamAmountList      ParameterID = 9
	ParamChange          ParameterID = 10
	ParamMyAddressID     ParameterID = 11

	ParamStatus                ParameterID = 20
	ParamState                 ParameterID = 21
	ParamCreateTime            ParameterID = 22
	ParamModifyTime            ParameterID = 23
	ParamFailureReason         ParameterID = 24
	ParamKernelProofHeight     ParameterID = 25
	ParamTransactionRegistered ParameterID = 26
	ParamPeerProtoVersion      ParameterID = 27

	ParamBlindingExcess   ParameterID = 40
	ParamMyNonce          ParameterID = 41
	ParamOffset           ParameterID = 42
	ParamKernelID         ParameterID = 43
	ParamPartialSignature ParameterID = 44

	ParamInputs  ParameterID = 50
	ParamOutputs ParameterID = 51

	ParamPeerPublicExcess    ParameterID = 60
	ParamPeerPublicNonce     ParameterID = 61
	ParamPeerSignature       ParameterID = 62
	ParamPeerInputs          ParameterID = 63
	ParamPeerOutputs         ParameterID = 64
	ParamPeerOffset          ParameterID = 65
	ParamPaymentConfirmation ParameterID = 66
)

// observableParams are the slots whose mutation is surfaced to store
// observers as a transaction change.
var observableParams = map[ParameterID]struct{}{
	ParamAmount:          {},
	ParamFee:             {},
	ParamMinHeight:       {},
	ParamPeerID:          {},
	ParamMyID:            {},
	ParamCreateTime:      {},
	ParamIsSender:        {},
	ParamStatus:          {},
	ParamTransactionType: {},
	ParamKernelID:        {},
}

func IsObservableParam(id ParameterID) bool {
	_, ok := observableParams[id]
	return ok
}

// EncodeParamValue serializes one parameter value. Every ParameterID has a
// fixed Go type; gob keeps the table compile-time checked at the call sites.
func EncodeParamValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode tx parameter")
	}
	return buf.Bytes(), nil
}

func DecodeParamValue(data []byte, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return errors.Wrap(err, "decode tx parameter")
	}
	return nil
}

// GetTxParam reads a typed parameter from the store. The second return is
// false when the slot was never written.
func GetTxParam[T any](s Store, txID TxID, id ParameterID) (T, bool) {
	var v T
	blob, ok, err := s.GetTxParameter(txID, id)
	if err != nil || !ok {
		return v, false
	}
	if err := DecodeParamValue(blob, &v); err != nil {
		return v, false
	}
	return v, true
}

// GetMandatoryTxParam is GetTxParam for slots the protocol guarantees exist;
// a missing slot is a hard error for the current update.
func GetMandatoryTxParam[T any](s Store, txID TxID, id ParameterID) (T, error) {
	v, ok := GetTxParam[T](s, txID, id)
	if !ok {
		return v, errors.Errorf("tx %s: mandatory parameter %d missing", txID, id)
	}
	return v, nil
}

// SetTxParam writes a typed parameter and reports whether the stored value
// changed. Observers are notified only for observable slots and only when
// notify is set.
func SetTxParam[T any](s Store, txID TxID, id ParameterID, v T, notify bool) (bool, error) {
	blob, err := EncodeParamValue(v)
	if err != nil {
		return false, err
	}
	return s.SetTxParameter(txID, id, blob, notify)
}

// TxParameter is one (id, value) pair of a peer message.
type TxParameter struct {
	ID    ParameterID
	Value []byte
}

// SetTxParameterMsg is the peer-to-peer parameter message the negotiators
// exchange through the node.
type SetTxParameterMsg struct {
	TxID   TxID
	Type   TxType
	From   WalletID
	Params []TxParameter
}

// Add encodes v into the message.
func (m *SetTxParameterMsg) Add(id ParameterID, v interface{}) *SetTxParameterMsg {
	blob, err := EncodeParamValue(v)
	if err != nil {
		// A value that gob cannot encode is a programming error.
		panic(err)
	}
	m.Params = append(m.Params, TxParameter{ID: id, Value: blob})
	return m
}

// EncodeTxParamsMsg serializes a peer message for transport.
func EncodeTxParamsMsg(m SetTxParameterMsg) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, errors.Wrap(err, "encode tx params message")
	}
	return buf.Bytes(), nil
}

func DecodeTxParamsMsg(data []byte) (SetTxParameterMsg, error) {
	var m SetTxParameterMsg
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return m, errors.Wrap(err, "decode tx params message")
	}
	return m, nil
}

// GetMsgParam decodes one parameter out of a peer message.
func GetMsgParam[T any](m *SetTxParameterMsg, id ParameterID) (T, bool) {
	var v T
	for _, p := range m.Params {
		if p.ID != id {
			continue
		}
		if err := DecodeParamValue(p.Value, &v); err != nil {
			return v, false
		}
		return v, true
	}
	return v, false
}
