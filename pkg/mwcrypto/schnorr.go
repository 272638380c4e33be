package mwcrypto

// Two-party Schnorr multisignature over a shared message. Both parties hold a
// private excess x_i and a per-signature nonce r_i; the kernel commitment is
// X = x1·G + x2·G and the signature nonce is R = r1·G + r2·G. A partial share
// is k_i = r_i − e·x_i with e = H(R, m); the full signature scalar is the sum
// of the two shares.

// Signature is a completed (or partial, when K holds a single share) Schnorr
// signature.
type Signature struct {
	NoncePub Point
	K        Scalar
}

// Challenge derives the signature challenge for total nonce R and message m.
func Challenge(noncePub Point, msg [32]byte) Scalar {
	enc := noncePub.Bytes()
	if enc == nil {
		enc = make([]byte, 33)
	}
	return HashToScalar(enc, msg[:])
}

// SignPartial produces this party's share k = nonce − e·excess, where e is
// derived from the combined public nonce of both parties.
func SignPartial(nonce, excess Scalar, totalNoncePub Point, msg [32]byte) Scalar {
	e := Challenge(totalNoncePub, msg)
	return nonce.Sub(e.Mul(excess))
}

// VerifyPartial checks one party's share against its public nonce and public
// excess: k·G + e·X_i must equal R_i, with e derived from the total nonce.
func VerifyPartial(k Scalar, totalNoncePub, partNoncePub, partExcessPub Point, msg [32]byte) bool {
	e := Challenge(totalNoncePub, msg)
	lhs := k.MulG().Add(partExcessPub.Mul(e))
	return lhs.Equal(partNoncePub)
}

// Verify checks a completed signature against the combined public excess.
func (s Signature) Verify(excessPub Point, msg [32]byte) bool {
	e := Challenge(s.NoncePub, msg)
	lhs := s.K.MulG().Add(excessPub.Mul(e))
	return lhs.Equal(s.NoncePub)
}
