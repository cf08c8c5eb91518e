package crypto

import (
	"filippo.io/edwards25519"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// hashToPoint maps an arbitrary public key onto a curve point, commonly
// notated H_p. The reference implementation uses an Elligator-style
// field-element map (ge_fromfe_frombytes_vartime); this package instead
// tries decoding successive Keccak-256 digests of pk (with an appended
// counter byte) as a compressed point, keeping the first one that lands
// on the curve. That decoding never goes through the base point G, so
// unlike a construction of the form Hs(pk)*G -- whose discrete log
// relative to G is the publicly known scalar Hs(pk) -- nobody can
// produce a scalar s with Hp(pk) == s*G. generateKeyImage's I = x*Hp(P)
// depends on that: without it, I = Hs(P)*P is computable from the public
// key alone and every output's eventual key image is known before it is
// ever spent.
func hashToPoint(pk util.PublicKey) *edwards25519.Point {
	var buf [util.HashSize + 1]byte
	copy(buf[:util.HashSize], pk[:])
	for counter := 0; ; counter++ {
		buf[util.HashSize] = byte(counter)
		digest := serialization.Keccak256(buf[:])
		if p, err := new(edwards25519.Point).SetBytes(digest[:]); err == nil {
			return p
		}
	}
}

// GenerateKeyImage computes I = x * Hp(P), the linkable tag that lets the
// transaction pool and blockchain cache detect a double spend without
// learning which ring member actually signed.
func GenerateKeyImage(outputPublicKey util.PublicKey, outputSecretKey util.SecretKey) (util.KeyImage, error) {
	x, err := scalarFromSecretKey(outputSecretKey)
	if err != nil {
		return util.KeyImage{}, err
	}
	hp := hashToPoint(outputPublicKey)
	image := new(edwards25519.Point).ScalarMult(x, hp)

	var ki util.KeyImage
	copy(ki[:], image.Bytes())
	return ki, nil
}
