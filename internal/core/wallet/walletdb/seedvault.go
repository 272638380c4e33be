package walletdb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"

	"github.com/darwayne/errutil"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const masterSeedVar = "masterSeed"

// scrypt parameters for the seed vault key.
const (
	vaultN       = 1 << 15
	vaultR       = 8
	vaultP       = 1
	vaultSaltLen = 16
)

func vaultKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, vaultN, vaultR, vaultP, 32)
	if err != nil {
		return nil, errors.Wrap(err, "derive vault key")
	}
	return key, nil
}

func vaultSeal(seed []byte, password string) ([]byte, error) {
	salt := make([]byte, vaultSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "vault salt")
	}
	key, err := vaultKey(password, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "vault cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "vault gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "vault nonce")
	}
	// blob layout: salt || nonce || ciphertext
	blob := append(append(salt, nonce...), gcm.Seal(nil, nonce, seed, nil)...)
	return blob, nil
}

func vaultOpen(blob []byte, password string) ([]byte, error) {
	if len(blob) < vaultSaltLen+12 {
		return nil, errors.New("seed vault corrupt")
	}
	key, err := vaultKey(password, blob[:vaultSaltLen])
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "vault cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "vault gcm")
	}
	nonce := blob[vaultSaltLen : vaultSaltLen+gcm.NonceSize()]
	seed, err := gcm.Open(nil, nonce, blob[vaultSaltLen+gcm.NonceSize():], nil)
	if err != nil {
		return nil, errors.New("wrong wallet password")
	}
	return seed, nil
}

// SaveMasterSeed encrypts the master seed under password and stores it.
func (d *DB) SaveMasterSeed(seed []byte, password string) error {
	blob, err := vaultSeal(seed, password)
	if err != nil {
		return err
	}
	_, err = d.sql.Exec(
		`INSERT INTO vars(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		masterSeedVar, blob)
	return errors.Wrap(err, "store master seed")
}

// LoadMasterSeed decrypts the stored master seed with password. A store that
// never saved a seed yields a not-found error.
func (d *DB) LoadMasterSeed(password string) ([]byte, error) {
	var blob []byte
	err := d.sql.QueryRow(
		`SELECT value FROM vars WHERE name = ?`, masterSeedVar).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errutil.NewNotFound("no master seed stored")
	}
	if err != nil {
		return nil, errors.Wrap(err, "load master seed")
	}
	return vaultOpen(blob, password)
}

// ChangePassword re-encrypts the stored master seed under a new password.
func (d *DB) ChangePassword(oldPassword, newPassword string) error {
	seed, err := d.LoadMasterSeed(oldPassword)
	if err != nil {
		return err
	}
	return d.SaveMasterSeed(seed, newPassword)
}
