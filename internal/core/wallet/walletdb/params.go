package walletdb

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mimblenet/walletcore/internal/core/wallet"
)

// parameter bag keys: txID (16 bytes) || parameterID (1 byte)
func paramKey(txID wallet.TxID, id wallet.ParameterID) []byte {
	k := make([]byte, 17)
	copy(k, txID[:])
	k[16] = byte(id)
	return k
}

// SetTxParameter stores one parameter blob. It reports whether the stored
// value changed, and fires the transaction-changed notification for
// observable slots when notify is set. The write and the notification are
// not interleaved with any other mutation (single reactor writer).
func (d *DB) SetTxParameter(txID wallet.TxID, id wallet.ParameterID, blob []byte, notify bool) (bool, error) {
	old, err := d.params.Get(paramKey(txID, id), nil)
	if err == nil && bytes.Equal(old, blob) {
		return false, nil
	}
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return false, errors.Wrap(err, "read tx parameter")
	}
	if err := d.params.Put(paramKey(txID, id), blob, nil); err != nil {
		return false, errors.Wrap(err, "write tx parameter")
	}

	if notify && wallet.IsObservableParam(id) {
		if desc, known, err := d.getTxRow(txID); err == nil && known {
			d.notifyTxChanged(wallet.ChangeUpdated, []wallet.TxDescription{*desc})
		}
	}
	return true, nil
}

func (d *DB) GetTxParameter(txID wallet.TxID, id wallet.ParameterID) ([]byte, bool, error) {
	blob, err := d.params.Get(paramKey(txID, id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "read tx parameter")
	}
	return blob, true, nil
}

func (d *DB) deleteTxParameters(txID wallet.TxID) error {
	iter := d.params.NewIterator(util.BytesPrefix(txID[:]), nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "iterate tx parameters")
	}
	return errors.Wrap(d.params.Write(batch, nil), "delete tx parameters")
}
