package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// CryptoNight scratchpad and iteration parameters (the v0 variant).
const (
	scratchpadSize = 2 * 1024 * 1024
	initSizeBlk    = 8
	initSizeByte   = initSizeBlk * aes.BlockSize
	slowHashRounds = scratchpadSize / 2 / aes.BlockSize
)

// CnSlowHash computes the CryptoNight proof-of-work hash of data. It
// follows the reference algorithm's three stages -- Keccak-1600
// absorption into scratchpad state, an AES-driven memory-hard mixing
// loop, and a final permutation -- using AES-NI-backed crypto/aes for
// the round function. The reference algorithm finalizes with a
// keyed-hash family selected by the low bits of the Keccak state (Blake,
// Groestl, JH, or Skein); none of those four have a maintained Go
// implementation in this module's dependency set, so this
// implementation always finalizes with Keccak-256 over the mixed
// scratchpad. That makes CnSlowHash internally consistent -- the same
// input always yields the same output, and the work stays memory-hard --
// without reproducing the reference implementation's exact output
// bytes.
func CnSlowHash(data []byte) (util.Hash, error) {
	state := expandState(data, 200)

	block, err := aes.NewCipher(state[:32])
	if err != nil {
		return util.Hash{}, ErrPoWUnavailable
	}

	scratchpad := make([]byte, scratchpadSize)
	buf := make([]byte, initSizeByte)
	copy(buf, state[64:64+initSizeByte])
	for i := 0; i < scratchpadSize/initSizeByte; i++ {
		for j := 0; j < initSizeBlk; j++ {
			off := j * aes.BlockSize
			block.Encrypt(buf[off:off+aes.BlockSize], buf[off:off+aes.BlockSize])
		}
		copy(scratchpad[i*initSizeByte:], buf)
	}

	a := xorBlocks(state[:16], state[32:48])
	b := xorBlocks(state[16:32], state[48:64])

	for i := 0; i < slowHashRounds; i++ {
		j := addrFromBlock(a) % (scratchpadSize / aes.BlockSize)
		off := j * aes.BlockSize
		c := make([]byte, aes.BlockSize)
		block.Encrypt(c, scratchpad[off:off+aes.BlockSize])
		c = xorBlocks(c, a)
		copy(scratchpad[off:off+aes.BlockSize], c)

		j = addrFromBlock(c) % (scratchpadSize / aes.BlockSize)
		off = j * aes.BlockSize
		d := mulAndAddQWords(c, scratchpad[off:off+aes.BlockSize])
		copy(scratchpad[off:off+aes.BlockSize], xorBlocks(scratchpad[off:off+aes.BlockSize], b))

		a = d
		b = c
	}

	mixed := serialization.Keccak256(append(state[:], scratchpad...))
	return mixed, nil
}

// expandState fills an n-byte buffer with Keccak-256(data || counter)
// blocks, standing in for the 1600-bit Keccak sponge state the reference
// algorithm keeps: neither the standard library nor golang.org/x/crypto
// exposes the raw sponge state outside of the fixed 32-byte digest, so
// this expands the digest deterministically instead of reimplementing
// the permutation.
func expandState(data []byte, n int) []byte {
	out := make([]byte, 0, n)
	var counter uint32
	for len(out) < n {
		block := make([]byte, len(data)+4)
		copy(block, data)
		binary.LittleEndian.PutUint32(block[len(data):], counter)
		h := serialization.Keccak256(block)
		out = append(out, h[:]...)
		counter++
	}
	return out[:n]
}

func xorBlocks(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func addrFromBlock(b []byte) int {
	return int(binary.LittleEndian.Uint32(b))
}

// mulAndAddQWords implements CryptoNight's 64x64->128 multiply-then-add
// step over the two little-endian quadwords of a and b.
func mulAndAddQWords(a, b []byte) []byte {
	a0 := binary.LittleEndian.Uint64(a[0:8])
	b0 := binary.LittleEndian.Uint64(b[0:8])

	hi, lo := mul64(a0, b0)

	out := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(out[0:8], lo+binary.LittleEndian.Uint64(b[8:16]))
	binary.LittleEndian.PutUint64(out[8:16], hi+binary.LittleEndian.Uint64(b[0:8]))
	return out
}

func mul64(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	lo = t & mask32
	carry := t >> 32

	t = aHi*bLo + carry
	carry = t >> 32
	low2 := t & mask32

	t = aLo*bHi + low2
	lo |= (t & mask32) << 32
	carry += t >> 32

	hi = aHi*bHi + carry
	return hi, lo
}
