package peer

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/protocol"
	"github.com/go-cnote/cnoted/serialization"
)

// frameSignature opens every framed message on the wire, the same role
// LEVIN_SIGNATURE plays in the reference P2P layer: a fixed byte string
// a reader can resync on after a desynchronized stream. The exact byte
// values are this project's own (the Levin header layout itself was not
// present in the filtered original_source subset this module was built
// from), but the field order it wraps -- signature, payload-size varint,
// flags, command id, return code, payload -- follows §6 bit for bit.
var frameSignature = [8]byte{0x01, 0x21, 0xa1, 0x01, 0x00, 0x01, 0x01, 0x01}

// maxFramePayload bounds a single frame's payload so a corrupt or
// hostile length prefix cannot force an unbounded allocation before the
// frame is even fully read.
const maxFramePayload = 64 * 1024 * 1024

// frame is one decoded wire message: the header fields plus payload.
type frame struct {
	Command    protocol.CommandID
	Flags      protocol.MessageFlags
	ReturnCode int32
	Payload    []byte
}

// writeFrame encodes and writes one frame to w in a single Write call,
// so a concurrent reader on the other end never observes a partial
// header.
func writeFrame(w io.Writer, cmd protocol.CommandID, flags protocol.MessageFlags, returnCode int32, payload []byte) error {
	buf := make([]byte, 0, 8+10+1+4+4+len(payload))
	buf = append(buf, frameSignature[:]...)
	buf = serialization.PutUvarint(buf, uint64(len(payload)))
	buf = append(buf, byte(flags))
	var cmdBytes [4]byte
	binary.LittleEndian.PutUint32(cmdBytes[:], uint32(cmd))
	buf = append(buf, cmdBytes[:]...)
	var rcBytes [4]byte
	binary.LittleEndian.PutUint32(rcBytes[:], uint32(returnCode))
	buf = append(buf, rcBytes[:]...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// readFrame reads exactly one frame from r, which must be a *bufio.Reader
// so the payload-size varint (of unknown encoded length) can be read one
// byte at a time without over-reading into the next frame.
func readFrame(r *bufio.Reader) (*frame, error) {
	var sig [8]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return nil, errors.Wrap(err, "reading frame signature")
	}
	if sig != frameSignature {
		return nil, errors.New("peer: bad frame signature, stream desynchronized")
	}

	size, err := serialization.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading frame payload size")
	}
	if size > maxFramePayload {
		return nil, errors.Errorf("peer: frame payload size %d exceeds maximum %d", size, maxFramePayload)
	}

	flagByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading frame flags")
	}

	var cmdBytes [4]byte
	if _, err := io.ReadFull(r, cmdBytes[:]); err != nil {
		return nil, errors.Wrap(err, "reading frame command id")
	}
	var rcBytes [4]byte
	if _, err := io.ReadFull(r, rcBytes[:]); err != nil {
		return nil, errors.Wrap(err, "reading frame return code")
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}

	return &frame{
		Command:    protocol.CommandID(binary.LittleEndian.Uint32(cmdBytes[:])),
		Flags:      protocol.MessageFlags(flagByte),
		ReturnCode: int32(binary.LittleEndian.Uint32(rcBytes[:])),
		Payload:    payload,
	}, nil
}
