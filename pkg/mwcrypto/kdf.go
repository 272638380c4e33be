package mwcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// KeyType tags the purpose of a derived key.
type KeyType uint32

const (
	KeyTypeRegular KeyType = iota
	KeyTypeCoinbase
	KeyTypeComission
	KeyTypeChange
	KeyTypeKernel
	KeyTypeBbs
)

// KeyID addresses one derived key inside a Kdf hierarchy.
type KeyID struct {
	Idx    uint64
	Type   KeyType
	SubIdx uint32
}

func (id KeyID) bytes() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:], id.Idx)
	binary.BigEndian.PutUint32(b[8:], uint32(id.Type))
	binary.BigEndian.PutUint32(b[12:], id.SubIdx)
	return b[:]
}

// Kdf derives scalars from a secret. Children are domain-separated by
// sub-index so per-account keys never collide with master keys.
type Kdf struct {
	secret [32]byte
}

func NewKdf(seed []byte) *Kdf {
	return &Kdf{secret: sha256.Sum256(seed)}
}

// SeedFromMnemonic derives the master seed from a BIP-39 mnemonic.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	return seed, nil
}

// KdfFromMnemonic builds the master Kdf from a BIP-39 mnemonic.
func KdfFromMnemonic(mnemonic, passphrase string) (*Kdf, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NewKdf(seed), nil
}

func (k *Kdf) Child(subIdx uint32) *Kdf {
	h := sha256.New()
	h.Write(k.secret[:])
	h.Write([]byte("child"))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], subIdx)
	h.Write(b[:])
	var c Kdf
	copy(c.secret[:], h.Sum(nil))
	return &c
}

// Derive produces a non-zero scalar bound to the given chunks.
func (k *Kdf) Derive(chunks ...[]byte) Scalar {
	mac := hmac.New(sha256.New, k.secret[:])
	for _, c := range chunks {
		mac.Write(c)
	}
	var sum [32]byte
	copy(sum[:], mac.Sum(nil))
	return scalarFromHash(sum)
}

// DeriveKey derives the private key for a KeyID.
func (k *Kdf) DeriveKey(id KeyID) Scalar {
	return k.Derive([]byte("key"), id.bytes())
}

// Commitment derives the blinding factor for (id, value) under the child Kdf
// of id.SubIdx and returns it with the Pedersen commitment it opens.
func (k *Kdf) Commitment(id KeyID, value uint64) (Scalar, Point) {
	sk := k.Child(id.SubIdx).DeriveKey(id)
	return sk, Commit(sk, value)
}
