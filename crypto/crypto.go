// Package crypto implements the CryptoNote cryptographic primitives the
// blockchain cache and transaction pool depend on for validation: key
// generation, key derivation (stealth addresses), key images, ring
// signatures, and the CryptoNight proof-of-work slow hash. Every operation
// that touches a secret runs in constant time with respect to that secret:
// there are no secret-dependent branches or table lookups here, only
// scalar and point arithmetic over Edwards25519 supplied by
// filippo.io/edwards25519.
//
// No operation in this package performs I/O.
package crypto

import (
	"crypto/rand"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// Sentinel errors making up the failure taxonomy of this package.
var (
	// ErrInvalidKey is returned when a point is not canonically encoded or
	// does not lie on the curve.
	ErrInvalidKey = errors.New("crypto: invalid key")
	// ErrInvalidSignature is returned by checkRingSignature when the ring
	// does not close or the key image is not in the prime-order subgroup.
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	// ErrPoWUnavailable is returned by cnSlowHash when the scratchpad
	// cannot be allocated at all (not even via the ordinary allocator
	// fallback).
	ErrPoWUnavailable = errors.New("crypto: proof-of-work unavailable")
)

// groupOrder (commonly written L) is the order of the Edwards25519 prime
// order subgroup, 2^252 + 27742317777372353535851937790883648493.
var groupOrder, _ = new(big.Int).SetString("1000000000000000000000000000000014def9dea2f79cd65812631a5cf5d3", 16)

// hashToScalar reduces the Keccak-256 hash of data modulo the group order
// and returns the canonical little-endian scalar encoding, commonly
// notated H_s.
func hashToScalar(data []byte) *edwards25519.Scalar {
	h := serialization.Keccak256(data)
	return reduceToScalar(h[:])
}

// reduceToScalar interprets b as a little-endian integer and reduces it
// modulo the group order, returning the canonical scalar. b may be of any
// length; generateRingSignatures folds the running challenge the same way
// across an arbitrarily long list of commitments.
func reduceToScalar(b []byte) *edwards25519.Scalar {
	be := reverseBytes(b)
	n := new(big.Int).SetBytes(be)
	n.Mod(n, groupOrder)

	// Place the big-endian magnitude into the low-order bytes of a 32-byte
	// buffer, then reverse to little-endian.
	canonical := make([]byte, 32)
	nBytes := n.Bytes()
	copy(canonical[32-len(nBytes):], nBytes)
	canonical = reverseBytes(canonical)

	s, err := new(edwards25519.Scalar).SetCanonicalBytes(canonical)
	if err != nil {
		// n was reduced modulo the group order, so this can only happen
		// on a library/encoding bug, not on attacker-controlled input.
		panic(errors.Wrap(err, "crypto: reduced scalar was not canonical"))
	}
	return s
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func randomScalar() (*edwards25519.Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, errors.Wrap(err, "crypto: reading random bytes")
	}
	return new(edwards25519.Scalar).SetUniformBytes(buf[:])
}

func pointFromPublicKey(pk util.PublicKey) (*edwards25519.Point, error) {
	p, err := new(edwards25519.Point).SetBytes(pk[:])
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	return p, nil
}

func publicKeyFromPoint(p *edwards25519.Point) util.PublicKey {
	var pk util.PublicKey
	copy(pk[:], p.Bytes())
	return pk
}

// pointInPrimeOrderSubgroup reports whether p lies in the prime-order
// subgroup generated by the base point, by checking that groupOrder*p is
// the identity element. The curve's full group has order 8*groupOrder,
// so a point with a nonzero torsion component (order dividing the
// cofactor 8) fails this check, mirroring the reference implementation's
// geCheckSubgroupPrecompVartime.
func pointInPrimeOrderSubgroup(p *edwards25519.Point) bool {
	q := scalarMultByOrder(p)
	return q.Equal(edwards25519.NewIdentityPoint()) == 1
}

// scalarMultByOrder computes groupOrder*p by double-and-add over
// groupOrder's bits directly in terms of Point.Add, the same technique
// cofactorClear uses for repeated doubling. groupOrder itself can't be
// loaded as an edwards25519.Scalar: canonical scalars are only defined
// for values strictly below the group order.
func scalarMultByOrder(p *edwards25519.Point) *edwards25519.Point {
	result := edwards25519.NewIdentityPoint()
	for i := groupOrder.BitLen() - 1; i >= 0; i-- {
		result = new(edwards25519.Point).Add(result, result)
		if groupOrder.Bit(i) == 1 {
			result = new(edwards25519.Point).Add(result, p)
		}
	}
	return result
}

func scalarFromSecretKey(sk util.SecretKey) (*edwards25519.Scalar, error) {
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(sk[:])
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	return s, nil
}

func secretKeyFromScalar(s *edwards25519.Scalar) util.SecretKey {
	var sk util.SecretKey
	copy(sk[:], s.Bytes())
	return sk
}
