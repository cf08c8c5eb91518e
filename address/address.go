// Package address implements the wallet-facing public address encoding:
// a Base58Check-style wrapper carrying a network prefix, a public spend
// key, a public view key, and a 4-byte Keccak checksum. Address parsing
// and formatting is the only piece of wallet functionality the core needs
// to expose, since the protocol and blockchain cache never interpret
// addresses themselves -- only the raw keys extracted from them.
package address

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
	"github.com/go-cnote/cnoted/util/base58"
)

// checksumSize is the number of Keccak-256 bytes appended to an address
// before Base58 encoding.
const checksumSize = 4

// Address is a decoded public address: a network prefix and the two
// public keys a sender needs to construct a one-time output.
type Address struct {
	Prefix         uint64
	PublicSpendKey util.PublicKey
	PublicViewKey  util.PublicKey
}

// Encode returns the Base58 string form of addr.
func Encode(addr *Address) string {
	w := serialization.NewWriter()
	w.WriteUvarint(addr.Prefix)
	w.WriteBytes(addr.PublicSpendKey[:])
	w.WriteBytes(addr.PublicViewKey[:])

	checksum := serialization.Keccak256(w.Bytes())
	w.WriteBytes(checksum[:checksumSize])

	return base58.Encode(w.Bytes())
}

// Decode parses a Base58 address string, verifying its checksum.
func Decode(encoded string) (*Address, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "address: invalid base58 encoding")
	}
	if len(raw) < checksumSize+2*util.HashSize {
		return nil, errors.New("address: too short")
	}

	payload := raw[:len(raw)-checksumSize]
	wantChecksum := raw[len(raw)-checksumSize:]
	gotChecksum := serialization.Keccak256(payload)
	for i := 0; i < checksumSize; i++ {
		if gotChecksum[i] != wantChecksum[i] {
			return nil, errors.New("address: checksum mismatch")
		}
	}

	r := serialization.NewReader(payload)
	prefix, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(err, "address: reading prefix")
	}
	spendBytes, err := r.ReadBytes(util.HashSize)
	if err != nil {
		return nil, errors.Wrap(err, "address: reading public spend key")
	}
	viewBytes, err := r.ReadBytes(util.HashSize)
	if err != nil {
		return nil, errors.Wrap(err, "address: reading public view key")
	}
	if err := r.Done(); err != nil {
		return nil, errors.Wrap(err, "address: trailing bytes after view key")
	}

	addr := &Address{Prefix: prefix}
	copy(addr.PublicSpendKey[:], spendBytes)
	copy(addr.PublicViewKey[:], viewBytes)
	return addr, nil
}
