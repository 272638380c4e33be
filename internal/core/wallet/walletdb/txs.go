package walletdb

import (
	"database/sql"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"

	"github.com/mimblenet/walletcore/internal/core/wallet"
)

const txColumns = `txId, type, amount, fee, change, minHeight, maxHeight,
	peerId, myId, createTime, modifyTime, sender, status, failureReason, kernelId`

func scanTx(row interface{ Scan(...interface{}) error }) (wallet.TxDescription, error) {
	var t wallet.TxDescription
	var txID, peerID, myID, kernelID []byte
	var typ, amount, fee, change, minH, maxH, createT, modifyT, sender, status, reason int64
	err := row.Scan(&txID, &typ, &amount, &fee, &change, &minH, &maxH,
		&peerID, &myID, &createT, &modifyT, &sender, &status, &reason, &kernelID)
	if err != nil {
		return t, err
	}
	copy(t.TxID[:], txID)
	t.Type = wallet.TxType(typ)
	t.Amount = wallet.Amount(amount)
	t.Fee = wallet.Amount(fee)
	t.Change = wallet.Amount(change)
	t.MinHeight = iToH(minH)
	t.MaxHeight = iToH(maxH)
	copy(t.PeerID[:], peerID)
	copy(t.MyID[:], myID)
	t.CreateTime = wallet.Timestamp(createT)
	t.ModifyTime = wallet.Timestamp(modifyT)
	t.Sender = sender != 0
	t.Status = wallet.TxStatus(status)
	t.FailureReason = wallet.TxFailureReason(reason)
	if len(kernelID) == chainhash.HashSize {
		copy(t.KernelID[:], kernelID)
	}
	return t, nil
}

func (d *DB) SaveTx(t wallet.TxDescription) error {
	_, known, err := d.getTxRow(t.TxID)
	if err != nil {
		return err
	}
	sender := 0
	if t.Sender {
		sender = 1
	}
	_, err = d.sql.Exec(
		`INSERT INTO txs (`+txColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(txId) DO UPDATE SET
			amount=excluded.amount, fee=excluded.fee, change=excluded.change,
			minHeight=excluded.minHeight, maxHeight=excluded.maxHeight,
			peerId=excluded.peerId, myId=excluded.myId,
			modifyTime=excluded.modifyTime, sender=excluded.sender,
			status=excluded.status, failureReason=excluded.failureReason,
			kernelId=excluded.kernelId`,
		t.TxID[:], int64(t.Type), int64(t.Amount), int64(t.Fee), int64(t.Change),
		hToI(t.MinHeight), hToI(t.MaxHeight), t.PeerID[:], t.MyID[:],
		int64(t.CreateTime), int64(t.ModifyTime), sender,
		int64(t.Status), int64(t.FailureReason), t.KernelID[:],
	)
	if err != nil {
		return errors.Wrap(err, "save tx")
	}
	action := wallet.ChangeUpdated
	if !known {
		action = wallet.ChangeAdded
	}
	d.notifyTxChanged(action, []wallet.TxDescription{t})
	return nil
}

func (d *DB) getTxRow(txID wallet.TxID) (*wallet.TxDescription, bool, error) {
	row := d.sql.QueryRow(`SELECT `+txColumns+` FROM txs WHERE txId = ?`, txID[:])
	t, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get tx")
	}
	return &t, true, nil
}

// GetTx returns (nil, nil) when no row matches, same as GetAddress.
func (d *DB) GetTx(txID wallet.TxID) (*wallet.TxDescription, error) {
	t, _, err := d.getTxRow(txID)
	return t, err
}

func (d *DB) TxHistory(start, count int) ([]wallet.TxDescription, error) {
	if count <= 0 {
		count = -1
	}
	rows, err := d.sql.Query(
		`SELECT `+txColumns+` FROM txs ORDER BY createTime DESC LIMIT ? OFFSET ?`,
		count, start)
	if err != nil {
		return nil, errors.Wrap(err, "tx history")
	}
	defer rows.Close()
	var out []wallet.TxDescription
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan tx")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTx removes the transaction row and its whole parameter bag.
func (d *DB) DeleteTx(txID wallet.TxID) error {
	t, known, err := d.getTxRow(txID)
	if err != nil {
		return err
	}
	if _, err := d.sql.Exec(`DELETE FROM txs WHERE txId = ?`, txID[:]); err != nil {
		return errors.Wrap(err, "delete tx")
	}
	if err := d.deleteTxParameters(txID); err != nil {
		return err
	}
	if known {
		d.notifyTxChanged(wallet.ChangeRemoved, []wallet.TxDescription{*t})
	}
	return nil
}
