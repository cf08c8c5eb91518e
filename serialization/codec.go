package serialization

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/util"
)

// Writer accumulates a canonical binary encoding. Every write method
// appends to an internal buffer; Bytes returns the accumulated result.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBytes appends a raw byte slice with no length prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteUvarint appends v as a LEB128 varint.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = PutUvarint(w.buf, v)
}

// WriteUint32 appends v as 4 little-endian bytes.
func (w *Writer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteUint64 appends v as 8 little-endian bytes.
func (w *Writer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteHash appends the 32 raw bytes of h.
func (w *Writer) WriteHash(h util.Hash) {
	w.buf = append(w.buf, h[:]...)
}

// WriteVarBytes appends a varint length prefix followed by b, the
// container convention used for the opaque extra field and for every
// variable-length byte string.
func (w *Writer) WriteVarBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.WriteBytes(b)
}

// Reader consumes a canonical binary encoding produced by Writer. Every
// read method advances the cursor and returns an error on short input;
// Decoders are responsible for calling Done at the end of a top-level
// decode to enforce the no-trailing-bytes rule.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Done returns ErrTrailingBytes if any input remains unconsumed.
func (r *Reader) Done() error {
	if r.pos != len(r.buf) {
		return errors.Wrapf(ErrTrailingBytes, "%d bytes remain", len(r.buf)-r.pos)
	}
	return nil
}

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("unexpected end of input")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.Errorf("cannot read %d bytes, only %d remain", n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUvarint reads a LEB128 varint.
func (r *Reader) ReadUvarint() (uint64, error) {
	return ReadUvarint(r)
}

// ReadUint32 reads 4 little-endian bytes.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads 8 little-endian bytes.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadHash reads a 32-byte util.Hash.
func (r *Reader) ReadHash() (util.Hash, error) {
	var h util.Hash
	b, err := r.ReadBytes(util.HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// ReadVarBytes reads a varint length prefix followed by that many bytes.
// maxLen bounds the allowed length so a corrupt or hostile prefix cannot
// force an oversized allocation; pass 0 for no bound.
func (r *Reader) ReadVarBytes(maxLen uint64) ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if maxLen != 0 && n > maxLen {
		return nil, errors.Errorf("var bytes length %d exceeds maximum %d", n, maxLen)
	}
	return r.ReadBytes(int(n))
}
