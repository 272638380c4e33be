package mwcrypto

import (
	"bytes"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// Point is a point on secp256k1. The zero value is the point at infinity,
// which is also the identity for Add.
type Point struct {
	pk *secp256k1.PublicKey
}

func ParsePoint(b []byte) (Point, error) {
	if len(b) == 0 {
		return Point{}, nil
	}
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return Point{}, errors.Wrap(err, "parse point")
	}
	return Point{pk: pk}, nil
}

func (p Point) IsZero() bool { return p.pk == nil }

// Bytes returns the 33-byte compressed encoding, or nil for infinity.
func (p Point) Bytes() []byte {
	if p.pk == nil {
		return nil
	}
	return p.pk.SerializeCompressed()
}

func (p Point) Equal(o Point) bool {
	return bytes.Equal(p.Bytes(), o.Bytes())
}

func (p Point) Add(o Point) Point {
	if p.pk == nil {
		return o
	}
	if o.pk == nil {
		return p
	}
	var pj, oj, sum secp256k1.JacobianPoint
	p.pk.AsJacobian(&pj)
	o.pk.AsJacobian(&oj)
	secp256k1.AddNonConst(&pj, &oj, &sum)
	if sum.Z.IsZero() {
		return Point{}
	}
	sum.ToAffine()
	return Point{pk: secp256k1.NewPublicKey(&sum.X, &sum.Y)}
}

func (p Point) Negate() Point {
	if p.pk == nil {
		return Point{}
	}
	var pj secp256k1.JacobianPoint
	p.pk.AsJacobian(&pj)
	pj.Y.Negate(1)
	pj.Y.Normalize()
	pj.ToAffine()
	return Point{pk: secp256k1.NewPublicKey(&pj.X, &pj.Y)}
}

func (p Point) Sub(o Point) Point {
	return p.Add(o.Negate())
}

// Mul returns s·P.
func (p Point) Mul(s Scalar) Point {
	if p.pk == nil || s.n.IsZero() {
		return Point{}
	}
	var pj, out secp256k1.JacobianPoint
	p.pk.AsJacobian(&pj)
	secp256k1.ScalarMultNonConst(&s.n, &pj, &out)
	if out.Z.IsZero() {
		return Point{}
	}
	out.ToAffine()
	return Point{pk: secp256k1.NewPublicKey(&out.X, &out.Y)}
}

func (p Point) GobEncode() ([]byte, error) {
	return p.Bytes(), nil
}

func (p *Point) GobDecode(data []byte) error {
	pt, err := ParsePoint(data)
	if err != nil {
		return err
	}
	*p = pt
	return nil
}
