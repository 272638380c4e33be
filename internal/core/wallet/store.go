package wallet

import (
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

// ChangeAction tags an observer notification.
type ChangeAction int

const (
	ChangeAdded ChangeAction = iota
	ChangeRemoved
	ChangeUpdated
	ChangeReset
)

// Observer receives store change notifications. Notifications are fanned out
// synchronously on the mutating goroutine.
type Observer interface {
	OnCoinsChanged()
	OnTransactionChanged(action ChangeAction, items []TxDescription)
	OnSystemStateChanged()
	OnAddressChanged()
}

// Store is the persistent wallet store consumed by the negotiation engine.
type Store interface {
	MasterKdf() *mwcrypto.Kdf
	ChildKdf(subIdx uint32) *mwcrypto.Kdf
	// CalcCommitment returns the blinding factor and commitment of a coin.
	CalcCommitment(id CoinID) (mwcrypto.Scalar, mwcrypto.Point)
	// AllocateKidRange reserves count consecutive key indices and returns
	// the first.
	AllocateKidRange(count uint64) (uint64, error)

	// SelectCoins picks available coins covering amount (ascending,
	// just-enough). With lock, the chosen coins get a fresh non-zero
	// session id. Returns an empty slice when the balance is short.
	SelectCoins(amount Amount, lock bool) ([]Coin, error)
	StoreCoin(c *Coin) error // insert; assigns c.ID.Idx
	SaveCoins(coins ...Coin) error
	RemoveCoin(id CoinID) error
	FindCoin(c *Coin) (bool, error)
	VisitCoins(fn func(Coin) bool) error
	CoinsCreatedByTx(txID TxID) ([]Coin, error)
	Available() (Amount, error)
	Total(status CoinStatus) (Amount, error)

	CurrentHeight() (Height, error)
	RollbackConfirmedUTXO(minHeight Height) error

	TxHistory(start, count int) ([]TxDescription, error)
	// GetTx returns (nil, nil) for an unknown transaction id.
	GetTx(txID TxID) (*TxDescription, error)
	SaveTx(tx TxDescription) error
	DeleteTx(txID TxID) error
	// RollbackTx reverts coin changes made on behalf of txID: inputs go
	// back to Available, created outputs are deleted.
	RollbackTx(txID TxID) error

	Addresses(own bool) ([]WalletAddress, error)
	SaveAddress(a WalletAddress) error
	GetAddress(id WalletID) (*WalletAddress, error)
	DeleteAddress(id WalletID) error
	SetNeverExpirationForAll() error

	SetSystemStateID(id BlockStateID) error
	GetSystemStateID() (*BlockStateID, error)

	SetTxParameter(txID TxID, id ParameterID, blob []byte, notify bool) (bool, error)
	GetTxParameter(txID TxID, id ParameterID) ([]byte, bool, error)

	Subscribe(o Observer)
	Unsubscribe(o Observer)

	Close() error
}
