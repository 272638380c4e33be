package mwcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalarArithmetic(t *testing.T) {
	a := RandomScalar()
	b := RandomScalar()

	require.True(t, a.Add(b).Sub(b).Equal(a))
	require.True(t, a.Sub(a).IsZero())
	require.True(t, a.Add(a.Negate()).IsZero())
}

func TestPointAddSub(t *testing.T) {
	a := RandomScalar().MulG()
	b := RandomScalar().MulG()

	require.True(t, a.Add(b).Sub(b).Equal(a))
	require.True(t, a.Sub(a).IsZero())
	require.True(t, Point{}.Add(a).Equal(a))
}

func TestMulGIsHomomorphic(t *testing.T) {
	a := RandomScalar()
	b := RandomScalar()

	require.True(t, a.Add(b).MulG().Equal(a.MulG().Add(b.MulG())))
}

func TestCommitHomomorphism(t *testing.T) {
	b1 := RandomScalar()
	b2 := RandomScalar()

	// Commit(b1,v1) + Commit(b2,v2) == Commit(b1+b2, v1+v2)
	sum := Commit(b1, 40).Add(Commit(b2, 2))
	require.True(t, sum.Equal(Commit(b1.Add(b2), 42)))

	// value term actually contributes
	require.False(t, Commit(b1, 1).Equal(Commit(b1, 2)))
}

func TestSchnorrTwoParty(t *testing.T) {
	msg := GenRandom32()

	x1, x2 := RandomScalar(), RandomScalar()
	r1, r2 := RandomScalar(), RandomScalar()

	totalNonce := r1.MulG().Add(r2.MulG())
	totalExcess := x1.MulG().Add(x2.MulG())

	k1 := SignPartial(r1, x1, totalNonce, msg)
	k2 := SignPartial(r2, x2, totalNonce, msg)

	require.True(t, VerifyPartial(k1, totalNonce, r1.MulG(), x1.MulG(), msg))
	require.True(t, VerifyPartial(k2, totalNonce, r2.MulG(), x2.MulG(), msg))
	require.False(t, VerifyPartial(k1, totalNonce, r2.MulG(), x2.MulG(), msg))

	sig := Signature{NoncePub: totalNonce, K: k1.Add(k2)}
	require.True(t, sig.Verify(totalExcess, msg))

	wrong := GenRandom32()
	require.False(t, sig.Verify(totalExcess, wrong))
}

func TestKdfDeterminism(t *testing.T) {
	k := NewKdf([]byte("seed material"))
	id := KeyID{Idx: 7, Type: KeyTypeKernel}

	require.True(t, k.DeriveKey(id).Equal(k.DeriveKey(id)))
	require.False(t, k.DeriveKey(id).Equal(k.DeriveKey(KeyID{Idx: 8, Type: KeyTypeKernel})))
	require.False(t, k.Child(1).DeriveKey(id).Equal(k.Child(2).DeriveKey(id)))

	sk, comm := k.Commitment(KeyID{Idx: 1, Type: KeyTypeRegular}, 100)
	require.True(t, comm.Equal(Commit(sk, 100)))
}

func TestPointGobRoundTrip(t *testing.T) {
	p := RandomScalar().MulG()
	enc, err := p.GobEncode()
	require.NoError(t, err)

	var back Point
	require.NoError(t, back.GobDecode(enc))
	require.True(t, back.Equal(p))
}
