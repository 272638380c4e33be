package mwcrypto

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	genHOnce sync.Once
	genH     Point
)

// GeneratorH returns the value generator H, derived from the encoding of G so
// that nobody knows its discrete log relative to G.
func GeneratorH() Point {
	genHOnce.Do(func() {
		var one [32]byte
		one[31] = 1
		seed := secp256k1.PrivKeyFromBytes(one[:]).PubKey().SerializeCompressed()
		for i := uint32(0); ; i++ {
			h := sha256.New()
			h.Write([]byte("mimblenet/H"))
			h.Write(seed)
			var ctr [4]byte
			binary.BigEndian.PutUint32(ctr[:], i)
			h.Write(ctr[:])
			candidate := append([]byte{0x02}, h.Sum(nil)...)
			pk, err := secp256k1.ParsePubKey(candidate)
			if err != nil {
				continue
			}
			genH = Point{pk: pk}
			return
		}
	})
	return genH
}

// Commit returns the Pedersen commitment blind·G + value·H.
func Commit(blind Scalar, value uint64) Point {
	var v Scalar
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], value)
	v.n.SetBytes(&b)
	return blind.MulG().Add(GeneratorH().Mul(v))
}
