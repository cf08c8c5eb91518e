package crypto

import (
	"filippo.io/edwards25519"

	"github.com/go-cnote/cnoted/util"
)

// GenerateRingSignatures produces a CryptoNote ring signature over
// prefixHash: one (c, r) scalar pair per member of pubs, such that a
// verifier can confirm some secret key in the ring signed keyImage
// without learning which one. realIndex identifies secretKey's position
// in pubs.
func GenerateRingSignatures(prefixHash util.Hash, keyImage util.KeyImage, pubs []util.PublicKey, secretKey util.SecretKey, realIndex int) ([]util.Signature, error) {
	if realIndex < 0 || realIndex >= len(pubs) {
		return nil, errOutOfRange("realIndex", realIndex, len(pubs))
	}

	x, err := scalarFromSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	image, err := pointFromKeyImage(keyImage)
	if err != nil {
		return nil, err
	}

	points := make([]*edwards25519.Point, len(pubs))
	hp := make([]*edwards25519.Point, len(pubs))
	for i, pk := range pubs {
		p, err := pointFromPublicKey(pk)
		if err != nil {
			return nil, err
		}
		points[i] = p
		hp[i] = hashToPoint(pk)
	}

	q := make([]*edwards25519.Scalar, len(pubs))
	c := make([]*edwards25519.Scalar, len(pubs))
	L := make([]*edwards25519.Point, len(pubs))
	R := make([]*edwards25519.Point, len(pubs))

	for i := range pubs {
		qi, err := randomScalar()
		if err != nil {
			return nil, err
		}
		q[i] = qi

		if i == realIndex {
			L[i] = new(edwards25519.Point).ScalarBaseMult(qi)
			R[i] = new(edwards25519.Point).ScalarMult(qi, hp[i])
			continue
		}

		ci, err := randomScalar()
		if err != nil {
			return nil, err
		}
		c[i] = ci

		ciP := new(edwards25519.Point).ScalarMult(ci, points[i])
		L[i] = new(edwards25519.Point).Add(new(edwards25519.Point).ScalarBaseMult(qi), ciP)

		ciI := new(edwards25519.Point).ScalarMult(ci, image)
		R[i] = new(edwards25519.Point).Add(new(edwards25519.Point).ScalarMult(qi, hp[i]), ciI)
	}

	challenge := ringChallenge(prefixHash, L, R)

	sum := new(edwards25519.Scalar)
	for i := range pubs {
		if i == realIndex {
			continue
		}
		sum = new(edwards25519.Scalar).Add(sum, c[i])
	}
	c[realIndex] = new(edwards25519.Scalar).Subtract(challenge, sum)
	q[realIndex] = new(edwards25519.Scalar).Subtract(q[realIndex], new(edwards25519.Scalar).Multiply(c[realIndex], x))

	sigs := make([]util.Signature, len(pubs))
	for i := range pubs {
		copy(sigs[i][:32], c[i].Bytes())
		copy(sigs[i][32:], q[i].Bytes())
	}
	return sigs, nil
}

// CheckRingSignature verifies that sigs is a valid ring signature over
// prefixHash for the given ring and key image.
func CheckRingSignature(prefixHash util.Hash, keyImage util.KeyImage, pubs []util.PublicKey, sigs []util.Signature) (bool, error) {
	if len(sigs) != len(pubs) {
		return false, errOutOfRange("len(sigs)", len(sigs), len(pubs))
	}

	image, err := pointFromKeyImage(keyImage)
	if err != nil {
		return false, err
	}
	if !pointInPrimeOrderSubgroup(image) {
		return false, ErrInvalidSignature
	}

	L := make([]*edwards25519.Point, len(pubs))
	R := make([]*edwards25519.Point, len(pubs))
	c := make([]*edwards25519.Scalar, len(pubs))

	for i, pk := range pubs {
		p, err := pointFromPublicKey(pk)
		if err != nil {
			return false, err
		}
		hp := hashToPoint(pk)

		ci, err := new(edwards25519.Scalar).SetCanonicalBytes(sigs[i][:32])
		if err != nil {
			return false, ErrInvalidSignature
		}
		ri, err := new(edwards25519.Scalar).SetCanonicalBytes(sigs[i][32:])
		if err != nil {
			return false, ErrInvalidSignature
		}
		c[i] = ci

		riG := new(edwards25519.Point).ScalarBaseMult(ri)
		ciP := new(edwards25519.Point).ScalarMult(ci, p)
		L[i] = new(edwards25519.Point).Add(riG, ciP)

		riHp := new(edwards25519.Point).ScalarMult(ri, hp)
		ciI := new(edwards25519.Point).ScalarMult(ci, image)
		R[i] = new(edwards25519.Point).Add(riHp, ciI)
	}

	challenge := ringChallenge(prefixHash, L, R)

	sum := new(edwards25519.Scalar)
	for i := range c {
		sum = new(edwards25519.Scalar).Add(sum, c[i])
	}

	return sum.Equal(challenge) == 1, nil
}

// ringChallenge hashes prefixHash with every commitment pair into the
// single scalar every ring member's challenge must sum to.
func ringChallenge(prefixHash util.Hash, L, R []*edwards25519.Point) *edwards25519.Scalar {
	buf := make([]byte, 0, util.HashSize+64*len(L))
	buf = append(buf, prefixHash[:]...)
	for i := range L {
		buf = append(buf, L[i].Bytes()...)
		buf = append(buf, R[i].Bytes()...)
	}
	return hashToScalar(buf)
}

func pointFromKeyImage(ki util.KeyImage) (*edwards25519.Point, error) {
	p, err := new(edwards25519.Point).SetBytes(ki[:])
	if err != nil {
		return nil, ErrInvalidKey
	}
	return p, nil
}

func errOutOfRange(name string, got, n int) error {
	return &rangeError{name, got, n}
}

type rangeError struct {
	name   string
	got, n int
}

func (e *rangeError) Error() string {
	return "crypto: " + e.name + " out of range for ring of that size"
}
