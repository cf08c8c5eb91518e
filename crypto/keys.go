package crypto

import (
	"crypto/rand"

	"filippo.io/edwards25519"

	"github.com/go-cnote/cnoted/util"
)

// GenerateKeys produces a fresh secret scalar and its base-point
// multiple. The secret is drawn uniformly from the scalar field rather
// than clamped the way X25519 keys are, matching CryptoNote's original
// key generation.
func GenerateKeys() (util.PublicKey, util.SecretKey, error) {
	s, err := randomScalar()
	if err != nil {
		return util.PublicKey{}, util.SecretKey{}, err
	}
	p := new(edwards25519.Point).ScalarBaseMult(s)
	return publicKeyFromPoint(p), secretKeyFromScalar(s), nil
}

// CheckKey reports whether pk is a canonically encoded point on the
// curve. It does not check subgroup membership: CryptoNote public keys
// are not required to lie in the prime-order subgroup.
func CheckKey(pk util.PublicKey) bool {
	_, err := pointFromPublicKey(pk)
	return err == nil
}

// SecretKeyToPublicKey recovers the public key corresponding to sk.
func SecretKeyToPublicKey(sk util.SecretKey) (util.PublicKey, error) {
	s, err := scalarFromSecretKey(sk)
	if err != nil {
		return util.PublicKey{}, err
	}
	p := new(edwards25519.Point).ScalarBaseMult(s)
	return publicKeyFromPoint(p), nil
}

// GenerateKeyDerivation computes D = 8*a*R, the Diffie-Hellman shared
// secret used to derive one-time output keys. The cofactor multiplication
// by 8 matches the reference implementation's use of ge_scalarmult on an
// unclamped point followed by ge_mul8, clearing any small-subgroup
// component contributed by a malicious txPublicKey.
func GenerateKeyDerivation(txPublicKey util.PublicKey, viewSecretKey util.SecretKey) (util.KeyDerivation, error) {
	r, err := pointFromPublicKey(txPublicKey)
	if err != nil {
		return util.KeyDerivation{}, err
	}
	a, err := scalarFromSecretKey(viewSecretKey)
	if err != nil {
		return util.KeyDerivation{}, err
	}

	shared := new(edwards25519.Point).ScalarMult(a, r)
	shared = cofactorClear(shared)

	var d util.KeyDerivation
	copy(d[:], shared.Bytes())
	return d, nil
}

// cofactorClear multiplies p by the curve's cofactor (8), by doubling it
// three times.
func cofactorClear(p *edwards25519.Point) *edwards25519.Point {
	out := new(edwards25519.Point).Add(p, p)
	out = new(edwards25519.Point).Add(out, out)
	out = new(edwards25519.Point).Add(out, out)
	return out
}

// derivationToScalar hashes a key derivation together with an output
// index into a scalar, H_s(D || varint(outputIndex)).
func derivationToScalar(d util.KeyDerivation, outputIndex uint32) *edwards25519.Scalar {
	buf := make([]byte, 0, util.HashSize+5)
	buf = append(buf, d[:]...)
	buf = appendUvarint(buf, uint64(outputIndex))
	return hashToScalar(buf)
}

func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// DerivePublicKey computes the one-time output key P = Hs(D,i)*G + A
// that only the holder of the corresponding spend secret can later spend.
func DerivePublicKey(d util.KeyDerivation, outputIndex uint32, spendPublicKey util.PublicKey) (util.PublicKey, error) {
	a, err := pointFromPublicKey(spendPublicKey)
	if err != nil {
		return util.PublicKey{}, err
	}
	scalar := derivationToScalar(d, outputIndex)
	hsG := new(edwards25519.Point).ScalarBaseMult(scalar)
	p := new(edwards25519.Point).Add(hsG, a)
	return publicKeyFromPoint(p), nil
}

// DerivePublicKeyWithSuffix is the extra-field-tagged variant used by
// subaddresses: P = Hs(D,i,suffix)*G + A. suffix is appended to the
// derivation-to-scalar hash input before reduction.
func DerivePublicKeyWithSuffix(d util.KeyDerivation, outputIndex uint32, spendPublicKey util.PublicKey, suffix []byte) (util.PublicKey, error) {
	a, err := pointFromPublicKey(spendPublicKey)
	if err != nil {
		return util.PublicKey{}, err
	}
	buf := make([]byte, 0, util.HashSize+5+len(suffix))
	buf = append(buf, d[:]...)
	buf = appendUvarint(buf, uint64(outputIndex))
	buf = append(buf, suffix...)
	scalar := hashToScalar(buf)

	hsG := new(edwards25519.Point).ScalarBaseMult(scalar)
	p := new(edwards25519.Point).Add(hsG, a)
	return publicKeyFromPoint(p), nil
}

// DeriveSecretKey computes the one-time output secret x = Hs(D,i) + a,
// the counterpart to DerivePublicKey for the key holder.
func DeriveSecretKey(d util.KeyDerivation, outputIndex uint32, spendSecretKey util.SecretKey) (util.SecretKey, error) {
	a, err := scalarFromSecretKey(spendSecretKey)
	if err != nil {
		return util.SecretKey{}, err
	}
	scalar := derivationToScalar(d, outputIndex)
	x := new(edwards25519.Scalar).Add(scalar, a)
	return secretKeyFromScalar(x), nil
}

// UnderivePublicKey recovers the spend public key A = P - Hs(D,i)*G from
// a one-time output key, the check a full wallet scan performs to test
// "is this output mine" without needing the spend secret.
func UnderivePublicKey(d util.KeyDerivation, outputIndex uint32, outputPublicKey util.PublicKey) (util.PublicKey, error) {
	p, err := pointFromPublicKey(outputPublicKey)
	if err != nil {
		return util.PublicKey{}, err
	}
	scalar := derivationToScalar(d, outputIndex)
	hsG := new(edwards25519.Point).ScalarBaseMult(scalar)
	a := new(edwards25519.Point).Subtract(p, hsG)
	return publicKeyFromPoint(a), nil
}
