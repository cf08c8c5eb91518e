// Package serialization implements the node's canonical binary encoding:
// little-endian fixed-width fields, LEB128-style unsigned varints, and the
// tag-prefixed variant and length-prefixed container conventions used by
// every persisted record and wire message. decode(encode(x)) == x is the
// round-trip law every type in this package must satisfy; unknown trailing
// bytes are always an error.
package serialization

import (
	"io"

	"github.com/pkg/errors"
)

// ErrTrailingBytes is returned by decoders that were handed more bytes than
// the encoding consumed.
var ErrTrailingBytes = errors.New("unexpected trailing bytes after decode")

// maxVarintBytes bounds a varint to at most 10 encoded bytes (70 bits of
// payload), comfortably covering every 64-bit value this format encodes.
const maxVarintBytes = 10

// PutUvarint appends the LEB128 encoding of v to buf and returns the
// extended slice. Each byte carries 7 payload bits low-to-high; the top bit
// of a byte is set on every byte but the last.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// ReadUvarint reads a LEB128-encoded unsigned varint from r.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "reading varint")
		}
		if i == maxVarintBytes-1 && b >= 0x02 {
			return 0, errors.New("varint overflows 64 bits")
		}
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result, nil
		}
		shift += 7
	}
	return 0, errors.New("varint is too long")
}

// byteSliceReader adapts a []byte to io.ByteReader for use by ReadUvarint
// without allocating a bytes.Reader at every call site.
type byteSliceReader struct {
	buf []byte
	pos int
}

// NewByteSliceReader wraps buf for sequential byte-at-a-time reads.
func NewByteSliceReader(buf []byte) *byteSliceReader {
	return &byteSliceReader{buf: buf}
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Remaining returns the unread tail of the wrapped buffer.
func (r *byteSliceReader) Remaining() []byte {
	return r.buf[r.pos:]
}
