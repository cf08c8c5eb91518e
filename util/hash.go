// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package util collects the scalar and byte-array types shared by every
// layer of the node: 32-byte hashes and curve elements, the 64-byte
// signature type, and the Amount/Height/GlobalOutputIndex scalars used
// throughout the blockchain cache and transaction pool.
package util

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// HashSize is the number of bytes in a Hash, PublicKey, SecretKey,
// KeyImage, KeyDerivation, or curve point/scalar.
const HashSize = 32

// SignatureSize is the number of bytes in a ring-signature component pair
// (c, r), each an EllipticCurveScalar.
const SignatureSize = 64

// Hash is a 32-byte Keccak-256 digest, used for block hashes, transaction
// hashes, and the prefix hash signed by ring signatures.
type Hash [HashSize]byte

// String returns the hex encoding of the hash, most-significant byte first
// exactly as stored (the chain never reverses byte order the way Bitcoin
// display conventions do).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsEqual returns whether h and other represent the same hash. Two nil
// pointers are equal; a nil pointer never equals a non-nil one, even one
// holding the zero hash.
func (h *Hash) IsEqual(other *Hash) bool {
	if h == nil && other == nil {
		return true
	}
	if h == nil || other == nil {
		return false
	}
	return *h == *other
}

// NewHashFromStr creates a Hash from a hex string.
func NewHashFromStr(s string) (*Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "hash string is not valid hex")
	}
	return NewHash(b)
}

// NewHash creates a Hash from a byte slice of exactly HashSize bytes.
func NewHash(b []byte) (*Hash, error) {
	if len(b) != HashSize {
		return nil, errors.Errorf("invalid hash length of %d, expected %d", len(b), HashSize)
	}
	var h Hash
	copy(h[:], b)
	return &h, nil
}

// PublicKey is a compressed Edwards25519 curve point.
type PublicKey [HashSize]byte

// SecretKey is an Edwards25519 scalar.
type SecretKey [HashSize]byte

// KeyImage is the one-per-spend group element used for double-spend
// prevention.
type KeyImage [HashSize]byte

// KeyDerivation is the shared secret 8*(a*R) computed between a
// transaction's public key and a recipient's view key.
type KeyDerivation [HashSize]byte

// EllipticCurvePoint is a generic compressed Edwards25519 point.
type EllipticCurvePoint [HashSize]byte

// EllipticCurveScalar is a generic Edwards25519 scalar.
type EllipticCurveScalar [HashSize]byte

// Signature is one (c, r) component pair of a ring signature.
type Signature [SignatureSize]byte

// Amount represents a quantity of atomic units.
type Amount uint64

// Height indexes a block's position in the chain, genesis is height 0.
type Height uint32

// GlobalOutputIndex indexes a key output among every output of the same
// amount ever created on the chain.
type GlobalOutputIndex uint32

// MaxBlockHeightMarker is the boundary below which an unlockTime is
// interpreted as a block height rather than a UNIX timestamp; see
// isTransactionSpendTimeUnlocked.
const MaxBlockHeightMarker = 500000000
