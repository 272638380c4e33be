// Package walletdb implements wallet.Store on sqlite for structured rows
// (coins, transactions, addresses, system state) and leveldb for the
// per-transaction parameter bag.
package walletdb

import (
	"database/sql"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

const schema = `
CREATE TABLE IF NOT EXISTS coins (
	idx            INTEGER NOT NULL,
	subIdx         INTEGER NOT NULL,
	type           INTEGER NOT NULL,
	value          INTEGER NOT NULL,
	status         INTEGER NOT NULL,
	createHeight   INTEGER NOT NULL,
	maturity       INTEGER NOT NULL,
	confirmHeight  INTEGER NOT NULL,
	lockedHeight   INTEGER NOT NULL,
	createTxId     BLOB,
	spentTxId      BLOB,
	sessionId      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (idx, subIdx, type)
);
CREATE TABLE IF NOT EXISTS txs (
	txId           BLOB PRIMARY KEY,
	type           INTEGER NOT NULL,
	amount         INTEGER NOT NULL,
	fee            INTEGER NOT NULL,
	change         INTEGER NOT NULL,
	minHeight      INTEGER NOT NULL,
	maxHeight      INTEGER NOT NULL,
	peerId         BLOB NOT NULL,
	myId           BLOB NOT NULL,
	createTime     INTEGER NOT NULL,
	modifyTime     INTEGER NOT NULL,
	sender         INTEGER NOT NULL,
	status         INTEGER NOT NULL,
	failureReason  INTEGER NOT NULL DEFAULT 0,
	kernelId       BLOB
);
CREATE TABLE IF NOT EXISTS addresses (
	walletId       BLOB PRIMARY KEY,
	label          TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	createTime     INTEGER NOT NULL,
	duration       INTEGER NOT NULL,
	ownId          INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS vars (
	name           TEXT PRIMARY KEY,
	value          BLOB
);
`

// DB is the sqlite+leveldb backed wallet store. Mutation and notification
// both happen on the reactor goroutine; observers are therefore kept in a
// plain slice.
type DB struct {
	sql       *sql.DB
	params    *leveldb.DB
	kdf       *mwcrypto.Kdf
	logger    *zap.Logger
	observers []wallet.Observer
}

var _ wallet.Store = (*DB)(nil)

// Open creates or opens a wallet store rooted at dir. The master Kdf is
// supplied by the caller; the store never persists key material.
func Open(dir string, kdf *mwcrypto.Kdf, logger *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", filepath.Join(dir, "wallet.db"))
	if err != nil {
		return nil, errors.Wrap(err, "open wallet.db")
	}
	// The store is single-writer; one connection keeps sqlite happy.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	paramDB, err := leveldb.OpenFile(filepath.Join(dir, "params.db"), nil)
	if err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "open params.db")
	}

	return &DB{
		sql:    sqlDB,
		params: paramDB,
		kdf:    kdf,
		logger: logger,
	}, nil
}

func (d *DB) Close() error {
	perr := d.params.Close()
	serr := d.sql.Close()
	if perr != nil {
		return perr
	}
	return serr
}

func (d *DB) MasterKdf() *mwcrypto.Kdf { return d.kdf }

func (d *DB) ChildKdf(subIdx uint32) *mwcrypto.Kdf { return d.kdf.Child(subIdx) }

func (d *DB) CalcCommitment(id wallet.CoinID) (mwcrypto.Scalar, mwcrypto.Point) {
	return d.kdf.Commitment(id.KeyID, uint64(id.Value))
}

const kidRangeVar = "kidRange"

// AllocateKidRange reserves count consecutive key indices.
func (d *DB) AllocateKidRange(count uint64) (uint64, error) {
	var next uint64
	err := d.sql.QueryRow(`SELECT value FROM vars WHERE name = ?`, kidRangeVar).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		next = 1
	} else if err != nil {
		return 0, errors.Wrap(err, "read kid range")
	}
	if _, err := d.sql.Exec(
		`INSERT INTO vars(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		kidRangeVar, next+count,
	); err != nil {
		return 0, errors.Wrap(err, "advance kid range")
	}
	return next, nil
}

func (d *DB) Subscribe(o wallet.Observer) {
	for _, existing := range d.observers {
		if existing == o {
			return
		}
	}
	d.observers = append(d.observers, o)
}

func (d *DB) Unsubscribe(o wallet.Observer) {
	for i, existing := range d.observers {
		if existing == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			return
		}
	}
}

func (d *DB) notifyCoinsChanged() {
	for _, o := range d.observers {
		o.OnCoinsChanged()
	}
}

func (d *DB) notifyTxChanged(action wallet.ChangeAction, items []wallet.TxDescription) {
	for _, o := range d.observers {
		o.OnTransactionChanged(action, items)
	}
}

func (d *DB) notifySystemStateChanged() {
	for _, o := range d.observers {
		o.OnSystemStateChanged()
	}
}

func (d *DB) notifyAddressChanged() {
	for _, o := range d.observers {
		o.OnAddressChanged()
	}
}

const systemStateVar = "systemStateID"

func (d *DB) SetSystemStateID(id wallet.BlockStateID) error {
	blob, err := wallet.EncodeParamValue(id)
	if err != nil {
		return err
	}
	if _, err := d.sql.Exec(
		`INSERT INTO vars(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		systemStateVar, blob,
	); err != nil {
		return errors.Wrap(err, "save system state")
	}
	d.notifySystemStateChanged()
	return nil
}

func (d *DB) GetSystemStateID() (*wallet.BlockStateID, error) {
	var blob []byte
	err := d.sql.QueryRow(`SELECT value FROM vars WHERE name = ?`, systemStateVar).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read system state")
	}
	var id wallet.BlockStateID
	if err := wallet.DecodeParamValue(blob, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// CurrentHeight is the height of the last known system state.
func (d *DB) CurrentHeight() (wallet.Height, error) {
	id, err := d.GetSystemStateID()
	if err != nil || id == nil {
		return 0, err
	}
	return id.Height, nil
}

// heights are persisted as int64 bit patterns so MaxHeight survives sqlite.
func hToI(h wallet.Height) int64 { return int64(h) }
func iToH(v int64) wallet.Height { return wallet.Height(v) }
