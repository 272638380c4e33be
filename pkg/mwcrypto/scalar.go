// Package mwcrypto provides the elliptic-curve substrate for the wallet:
// scalars and points on secp256k1, Pedersen commitments, the two-party
// Schnorr multisignature used by transaction kernels, and key derivation.
package mwcrypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// Scalar is a value modulo the secp256k1 group order. The zero value is the
// zero scalar.
type Scalar struct {
	n secp256k1.ModNScalar
}

func NewScalar(b [32]byte) (Scalar, error) {
	var s Scalar
	if overflow := s.n.SetBytes(&b); overflow != 0 {
		return Scalar{}, errors.New("scalar overflows group order")
	}
	return s, nil
}

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar() Scalar {
	var b [32]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(err)
		}
		var s Scalar
		if s.n.SetBytes(&b) == 0 && !s.n.IsZero() {
			return s
		}
	}
}

// GenRandom32 returns 32 bytes of CSPRNG output.
func GenRandom32() [32]byte {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return b
}

func (s Scalar) Bytes() [32]byte { return s.n.Bytes() }

func (s Scalar) IsZero() bool { return s.n.IsZero() }

func (s Scalar) Equal(o Scalar) bool {
	a, b := s.Bytes(), o.Bytes()
	return bytes.Equal(a[:], b[:])
}

func (s Scalar) Add(o Scalar) Scalar {
	r := s
	r.n.Add(&o.n)
	return r
}

func (s Scalar) Sub(o Scalar) Scalar {
	var neg secp256k1.ModNScalar
	neg.NegateVal(&o.n)
	r := s
	r.n.Add(&neg)
	return r
}

func (s Scalar) Mul(o Scalar) Scalar {
	r := s
	r.n.Mul(&o.n)
	return r
}

func (s Scalar) Negate() Scalar {
	var r Scalar
	r.n.NegateVal(&s.n)
	return r
}

// MulG returns s·G.
func (s Scalar) MulG() Point {
	if s.n.IsZero() {
		return Point{}
	}
	b := s.n.Bytes()
	priv := secp256k1.PrivKeyFromBytes(b[:])
	return Point{pk: priv.PubKey()}
}

func (s Scalar) GobEncode() ([]byte, error) {
	b := s.n.Bytes()
	return b[:], nil
}

func (s *Scalar) GobDecode(data []byte) error {
	if len(data) != 32 {
		return errors.Errorf("scalar: want 32 bytes, got %d", len(data))
	}
	var b [32]byte
	copy(b[:], data)
	if overflow := s.n.SetBytes(&b); overflow != 0 {
		return errors.New("scalar: overflows group order")
	}
	return nil
}

// scalarFromHash reduces a 32-byte digest into a non-zero scalar.
func scalarFromHash(sum [32]byte) Scalar {
	var s Scalar
	s.n.SetByteSlice(sum[:])
	if s.n.IsZero() {
		var one secp256k1.ModNScalar
		one.SetInt(1)
		s.n.Add(&one)
	}
	return s
}

// HashToScalar reduces SHA-256 over the given chunks into a non-zero scalar.
func HashToScalar(chunks ...[]byte) Scalar {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return scalarFromHash(sum)
}
