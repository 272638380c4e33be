package walletdb

import (
	"database/sql"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

const coinColumns = `idx, subIdx, type, value, status, createHeight, maturity,
	confirmHeight, lockedHeight, createTxId, spentTxId, sessionId`

func scanCoin(row interface{ Scan(...interface{}) error }) (wallet.Coin, error) {
	var c wallet.Coin
	var idx int64
	var subIdx, keyType int64
	var value, status, createH, maturity, confirmH, lockedH, session int64
	var createTx, spentTx []byte
	err := row.Scan(&idx, &subIdx, &keyType, &value, &status,
		&createH, &maturity, &confirmH, &lockedH, &createTx, &spentTx, &session)
	if err != nil {
		return c, err
	}
	c.ID = wallet.CoinID{
		KeyID: mwcrypto.KeyID{Idx: uint64(idx), Type: mwcrypto.KeyType(keyType), SubIdx: uint32(subIdx)},
		Value: wallet.Amount(value),
	}
	c.Status = wallet.CoinStatus(status)
	if c.Status == wallet.CoinChangeV0 {
		// deprecated status kept for backward reads only
		c.Status = wallet.CoinIncoming
		c.ID.Type = mwcrypto.KeyTypeChange
	}
	c.CreateHeight = iToH(createH)
	c.Maturity = iToH(maturity)
	c.ConfirmHeight = iToH(confirmH)
	c.LockedHeight = iToH(lockedH)
	c.SessionID = uint64(session)
	if len(createTx) == 16 {
		var id wallet.TxID
		copy(id[:], createTx)
		c.CreateTxID = &id
	}
	if len(spentTx) == 16 {
		var id wallet.TxID
		copy(id[:], spentTx)
		c.SpentTxID = &id
	}
	return c, nil
}

func txIDBlob(id *wallet.TxID) interface{} {
	if id == nil {
		return nil
	}
	return id[:]
}

// StoreCoin inserts a new coin; a zero Idx gets the next free index.
func (d *DB) StoreCoin(c *wallet.Coin) error {
	if c.ID.Idx == 0 {
		var maxIdx sql.NullInt64
		if err := d.sql.QueryRow(`SELECT MAX(idx) FROM coins`).Scan(&maxIdx); err != nil {
			return errors.Wrap(err, "next coin idx")
		}
		c.ID.Idx = uint64(maxIdx.Int64) + 1
	}
	_, err := d.sql.Exec(
		`INSERT INTO coins (`+coinColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		int64(c.ID.Idx), int64(c.ID.SubIdx), int64(c.ID.Type), int64(c.ID.Value),
		int64(c.Status), hToI(c.CreateHeight), hToI(c.Maturity),
		hToI(c.ConfirmHeight), hToI(c.LockedHeight),
		txIDBlob(c.CreateTxID), txIDBlob(c.SpentTxID), int64(c.SessionID),
	)
	if err != nil {
		return errors.Wrap(err, "store coin")
	}
	d.notifyCoinsChanged()
	return nil
}

// SaveCoins updates existing coins in place.
func (d *DB) SaveCoins(coins ...wallet.Coin) error {
	if len(coins) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	for _, c := range coins {
		if _, err := tx.Exec(
			`UPDATE coins SET value=?, status=?, createHeight=?, maturity=?,
				confirmHeight=?, lockedHeight=?, createTxId=?, spentTxId=?, sessionId=?
			 WHERE idx=? AND subIdx=? AND type=?`,
			int64(c.ID.Value), int64(c.Status), hToI(c.CreateHeight), hToI(c.Maturity),
			hToI(c.ConfirmHeight), hToI(c.LockedHeight),
			txIDBlob(c.CreateTxID), txIDBlob(c.SpentTxID), int64(c.SessionID),
			int64(c.ID.Idx), int64(c.ID.SubIdx), int64(c.ID.Type),
		); err != nil {
			return errors.Wrap(err, "save coin")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	d.notifyCoinsChanged()
	return nil
}

func (d *DB) RemoveCoin(id wallet.CoinID) error {
	_, err := d.sql.Exec(`DELETE FROM coins WHERE idx=? AND subIdx=? AND type=?`,
		int64(id.Idx), int64(id.SubIdx), int64(id.Type))
	if err != nil {
		return errors.Wrap(err, "remove coin")
	}
	d.notifyCoinsChanged()
	return nil
}

func (d *DB) FindCoin(c *wallet.Coin) (bool, error) {
	row := d.sql.QueryRow(
		`SELECT `+coinColumns+` FROM coins WHERE idx=? AND subIdx=? AND type=?`,
		int64(c.ID.Idx), int64(c.ID.SubIdx), int64(c.ID.Type))
	found, err := scanCoin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "find coin")
	}
	*c = found
	return true, nil
}

func (d *DB) VisitCoins(fn func(wallet.Coin) bool) error {
	rows, err := d.sql.Query(`SELECT ` + coinColumns + ` FROM coins ORDER BY idx`)
	if err != nil {
		return errors.Wrap(err, "visit coins")
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return errors.Wrap(err, "scan coin")
		}
		if !fn(c) {
			return nil
		}
	}
	return rows.Err()
}

func (d *DB) CoinsCreatedByTx(txID wallet.TxID) ([]wallet.Coin, error) {
	rows, err := d.sql.Query(
		`SELECT `+coinColumns+` FROM coins WHERE createTxId = ? ORDER BY idx`, txID[:])
	if err != nil {
		return nil, errors.Wrap(err, "coins created by tx")
	}
	defer rows.Close()
	var out []wallet.Coin
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan coin")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SelectCoins scans the available coins in ascending value order and stops as
// soon as the accumulated sum covers amount. When the wallet cannot cover the
// amount the result is empty and nothing is locked.
func (d *DB) SelectCoins(amount wallet.Amount, lock bool) ([]wallet.Coin, error) {
	rows, err := d.sql.Query(
		`SELECT `+coinColumns+` FROM coins
		 WHERE status = ? AND sessionId = ? ORDER BY value ASC, idx ASC`,
		int64(wallet.CoinAvailable), int64(wallet.EmptyCoinSession))
	if err != nil {
		return nil, errors.Wrap(err, "select coins")
	}
	defer rows.Close()

	var picked []wallet.Coin
	var total wallet.Amount
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan coin")
		}
		picked = append(picked, c)
		total += c.ID.Value
		if total >= amount {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total < amount {
		return nil, nil
	}

	if lock {
		session := newSessionID()
		for i := range picked {
			picked[i].SessionID = session
		}
		if err := d.SaveCoins(picked...); err != nil {
			return nil, err
		}
	}
	return picked, nil
}

func newSessionID() uint64 {
	for {
		if id := rand.Uint64(); id != wallet.EmptyCoinSession {
			return id
		}
	}
}

func (d *DB) Available() (wallet.Amount, error) {
	return d.Total(wallet.CoinAvailable)
}

func (d *DB) Total(status wallet.CoinStatus) (wallet.Amount, error) {
	var total sql.NullInt64
	err := d.sql.QueryRow(
		`SELECT SUM(value) FROM coins WHERE status = ?`, int64(status)).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "total by status")
	}
	return wallet.Amount(total.Int64), nil
}

// RollbackTx undoes coin changes made on behalf of one transaction: created
// outputs disappear, spent inputs become available again. All or nothing.
func (d *DB) RollbackTx(txID wallet.TxID) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM coins WHERE createTxId = ? AND status = ?`,
		txID[:], int64(wallet.CoinIncoming)); err != nil {
		return errors.Wrap(err, "drop created coins")
	}
	if _, err := tx.Exec(
		`UPDATE coins SET status = ?, spentTxId = NULL, sessionId = ?
		 WHERE spentTxId = ? AND status = ?`,
		int64(wallet.CoinAvailable), int64(wallet.EmptyCoinSession),
		txID[:], int64(wallet.CoinOutgoing)); err != nil {
		return errors.Wrap(err, "release spent coins")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	d.logger.Info("transaction rolled back", zap.String("tx", txID.String()))
	d.notifyCoinsChanged()
	return nil
}

// RollbackConfirmedUTXO reverts confirmations above minHeight after a chain
// reorganization.
func (d *DB) RollbackConfirmedUTXO(minHeight wallet.Height) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE coins SET status = ?, confirmHeight = ?, maturity = ?
		 WHERE confirmHeight > ? AND confirmHeight != ? AND status IN (?, ?)`,
		int64(wallet.CoinIncoming), hToI(wallet.MaxHeight), hToI(wallet.MaxHeight),
		hToI(minHeight), hToI(wallet.MaxHeight),
		int64(wallet.CoinAvailable), int64(wallet.CoinMaturing)); err != nil {
		return errors.Wrap(err, "revert confirmed outputs")
	}
	if _, err := tx.Exec(
		`UPDATE coins SET status = ?
		 WHERE confirmHeight > ? AND confirmHeight != ? AND status = ?`,
		int64(wallet.CoinOutgoing),
		hToI(minHeight), hToI(wallet.MaxHeight), int64(wallet.CoinSpent)); err != nil {
		return errors.Wrap(err, "revert spent outputs")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	d.notifyCoinsChanged()
	return nil
}
