package wallet

// Gateway is the negotiator's door to the outside world: the chain tip, the
// node mempool and the peer wallet. All calls happen on the reactor
// goroutine; implementations must not block.
type Gateway interface {
	// GetTip returns the last known chain tip, false when none was seen yet.
	GetTip() (BlockStateID, bool)
	// RegisterTx submits a finalized transaction; the answer arrives later
	// through the TransactionRegistered parameter.
	RegisterTx(txID TxID, tx Transaction)
	// ConfirmKernel asks for the kernel's inclusion proof; the answer arrives
	// later through the KernelProofHeight parameter.
	ConfirmKernel(txID TxID, kernel *Kernel)
	// SendTxParams delivers a parameter message to the peer wallet.
	SendTxParams(peer WalletID, msg SetTxParameterMsg)
	// OnTxCompleted fires when the negotiation reached a terminal state.
	OnTxCompleted(txID TxID)
}

// TxFailedError aborts the current update and drives the transaction into a
// failed state. Notify controls whether the peer learns the reason.
type TxFailedError struct {
	Reason TxFailureReason
	Notify bool
	Msg    string
}

func (e TxFailedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Reason.String()
}

func newTxFailed(notify bool, reason TxFailureReason, msg string) TxFailedError {
	return TxFailedError{Reason: reason, Notify: notify, Msg: msg}
}
