package serialization

import (
	"golang.org/x/crypto/sha3"

	"github.com/go-cnote/cnoted/util"
)

// Keccak256 is the canonical "object hash" primitive: Keccak-256 (the
// original, pre-standardization padding, not NIST SHA3-256) of data. Every
// persisted record and wire message is hashed this way.
func Keccak256(data []byte) util.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out util.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ObjectHash encodes v with enc and returns the Keccak256 hash of the
// canonical encoding.
func ObjectHash(enc func(w *Writer)) util.Hash {
	w := NewWriter()
	enc(w)
	return Keccak256(w.Bytes())
}
