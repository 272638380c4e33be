package walletdb

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/mimblenet/walletcore/internal/core/wallet"
)

func (d *DB) SaveAddress(a wallet.WalletAddress) error {
	_, err := d.sql.Exec(
		`INSERT INTO addresses (walletId, label, category, createTime, duration, ownId)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(walletId) DO UPDATE SET
			label=excluded.label, category=excluded.category,
			duration=excluded.duration, ownId=excluded.ownId`,
		a.WalletID[:], a.Label, a.Category, int64(a.CreateTime), int64(a.Duration), int64(a.OwnID))
	if err != nil {
		return errors.Wrap(err, "save address")
	}
	d.notifyAddressChanged()
	return nil
}

func (d *DB) GetAddress(id wallet.WalletID) (*wallet.WalletAddress, error) {
	row := d.sql.QueryRow(
		`SELECT walletId, label, category, createTime, duration, ownId
		 FROM addresses WHERE walletId = ?`, id[:])
	a, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get address")
	}
	return &a, nil
}

func (d *DB) Addresses(own bool) ([]wallet.WalletAddress, error) {
	cond := "= 0"
	if own {
		cond = "!= 0"
	}
	rows, err := d.sql.Query(
		`SELECT walletId, label, category, createTime, duration, ownId
		 FROM addresses WHERE ownId ` + cond + ` ORDER BY createTime DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	defer rows.Close()
	var out []wallet.WalletAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan address")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *DB) DeleteAddress(id wallet.WalletID) error {
	if _, err := d.sql.Exec(`DELETE FROM addresses WHERE walletId = ?`, id[:]); err != nil {
		return errors.Wrap(err, "delete address")
	}
	d.notifyAddressChanged()
	return nil
}

func (d *DB) SetNeverExpirationForAll() error {
	if _, err := d.sql.Exec(`UPDATE addresses SET duration = 0 WHERE ownId != 0`); err != nil {
		return errors.Wrap(err, "clear address expiration")
	}
	d.notifyAddressChanged()
	return nil
}

func scanAddress(row interface{ Scan(...interface{}) error }) (wallet.WalletAddress, error) {
	var a wallet.WalletAddress
	var id []byte
	var createTime, duration, ownID int64
	if err := row.Scan(&id, &a.Label, &a.Category, &createTime, &duration, &ownID); err != nil {
		return a, err
	}
	copy(a.WalletID[:], id)
	a.CreateTime = wallet.Timestamp(createTime)
	a.Duration = uint64(duration)
	a.OwnID = uint64(ownID)
	return a, nil
}
