// Package base58 implements CryptoNote-style Base58 encoding: data is
// encoded in fixed 8-byte blocks (the last block may be shorter), each
// block mapping to a fixed-width run of characters from a 58-symbol
// alphabet, rather than treating the whole payload as one big integer the
// way Bitcoin's Base58Check does. This is what lets every CryptoNote
// address of a given byte length decode to the same, predictable string
// length.
package base58

import (
	"math/bits"

	"github.com/pkg/errors"
)

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const alphabetSize = uint64(len(alphabet))

// fullBlockSize is the largest block of raw bytes encoded as one run of
// characters; encodedBlockSizes[n] is the character-run length for an
// n-byte block, 0 <= n <= fullBlockSize.
const fullBlockSize = 8

var encodedBlockSizes = [fullBlockSize + 1]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var fullEncodedBlockSize = encodedBlockSizes[fullBlockSize]

var reverseAlphabet = buildReverseAlphabet()

func buildReverseAlphabet() map[byte]int {
	m := make(map[byte]int, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		m[alphabet[i]] = i
	}
	return m
}

var decodedBlockSizes = buildDecodedBlockSizes()

func buildDecodedBlockSizes() map[int]int {
	m := make(map[int]int, fullBlockSize+1)
	for i := 0; i <= fullBlockSize; i++ {
		m[encodedBlockSizes[i]] = i
	}
	return m
}

// Encode returns the Base58 encoding of data.
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	fullBlockCount := len(data) / fullBlockSize
	lastBlockSize := len(data) % fullBlockSize
	resSize := fullBlockCount*fullEncodedBlockSize + encodedBlockSizes[lastBlockSize]

	res := make([]byte, resSize)
	for i := range res {
		res[i] = alphabet[0]
	}

	for i := 0; i < fullBlockCount; i++ {
		encodeBlock(data[i*fullBlockSize:i*fullBlockSize+fullBlockSize], res[i*fullEncodedBlockSize:])
	}
	if lastBlockSize > 0 {
		encodeBlock(data[fullBlockCount*fullBlockSize:], res[fullBlockCount*fullEncodedBlockSize:])
	}

	return string(res)
}

func encodeBlock(block []byte, res []byte) {
	size := len(block)
	num := beBytesToUint64(block)
	i := encodedBlockSizes[size] - 1
	for num > 0 {
		remainder := num % alphabetSize
		num /= alphabetSize
		res[i] = alphabet[remainder]
		i--
	}
}

// Decode reverses Encode, rejecting malformed lengths, unknown characters,
// and values that overflow the decoded block width.
func Decode(enc string) ([]byte, error) {
	if len(enc) == 0 {
		return nil, nil
	}

	fullBlockCount := len(enc) / fullEncodedBlockSize
	lastBlockSize := len(enc) % fullEncodedBlockSize
	lastBlockDecodedSize, ok := decodedBlockSizes[lastBlockSize]
	if !ok {
		return nil, errors.New("base58: invalid encoded length")
	}

	dataSize := fullBlockCount*fullBlockSize + lastBlockDecodedSize
	data := make([]byte, dataSize)

	for i := 0; i < fullBlockCount; i++ {
		err := decodeBlock(enc[i*fullEncodedBlockSize:i*fullEncodedBlockSize+fullEncodedBlockSize],
			data[i*fullBlockSize:i*fullBlockSize+fullBlockSize])
		if err != nil {
			return nil, err
		}
	}
	if lastBlockSize > 0 {
		err := decodeBlock(enc[fullBlockCount*fullEncodedBlockSize:],
			data[fullBlockCount*fullBlockSize:fullBlockCount*fullBlockSize+lastBlockDecodedSize])
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

func decodeBlock(block string, res []byte) error {
	resSize, ok := decodedBlockSizes[len(block)]
	if !ok || resSize <= 0 {
		return errors.New("base58: invalid block size")
	}

	var resNum uint64
	order := uint64(1)
	for i := len(block) - 1; i >= 0; i-- {
		digit, ok := reverseAlphabet[block[i]]
		if !ok {
			return errors.New("base58: invalid symbol")
		}

		hi, lo := bits.Mul64(order, uint64(digit))
		tmp := resNum + lo
		if tmp < resNum || hi != 0 {
			return errors.New("base58: overflow")
		}
		resNum = tmp
		order *= alphabetSize
	}

	if resSize < fullBlockSize && (uint64(1)<<(8*uint(resSize))) <= resNum {
		return errors.New("base58: overflow")
	}

	uint64ToBEBytes(resNum, res)
	return nil
}

func beBytesToUint64(b []byte) uint64 {
	var res uint64
	for _, v := range b {
		res = res<<8 | uint64(v)
	}
	return res
}

func uint64ToBEBytes(num uint64, out []byte) {
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = byte(num)
		num >>= 8
	}
}
