package core

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// Extra field tags. The first four match the reference implementation's
// tx_extra field grammar bit-exactly; the rest are project-local
// extensions layered on top of the same tag/value stream.
const (
	ExtraTagPaymentID        byte = 0x00
	ExtraTagTransactionPubkey byte = 0x01
	ExtraTagNonce            byte = 0x02
	ExtraTagMergeMining      byte = 0x03
	ExtraTagTTL              byte = 0x04
	ExtraTagEncryptedMessage byte = 0x05
	ExtraTagSender           byte = 0x06
)

const maxNonceLen = 255

// ParsedExtra is the result of walking a transaction's opaque Extra
// byte-string. Every in-scope field is optional; a well-formed extra may
// carry any subset of them in any order, but the public-key, payment-id,
// nonce, and merge-mining tags may each appear at most once.
type ParsedExtra struct {
	TransactionPublicKey *util.PublicKey
	PaymentID            []byte
	ExtraNonce           []byte
	MergeMiningDepth     uint64
	MergeMiningHash      *util.Hash
	TTLSeconds           uint64
	HasTTL               bool
	EncryptedMessage     []byte
	Sender               []byte
}

// ErrDuplicateExtraTag is returned by ParseExtra when the public-key,
// payment-id, nonce, or merge-mining tag appears more than once.
var ErrDuplicateExtraTag = errors.New("core: duplicate extra tag")

// ParseExtra walks the tag/value stream in extra and returns every field
// found. It tolerates any tag ordering, but returns an error for a tag it
// does not recognize (its value length cannot be known) and for a second
// occurrence of the public-key, payment-id, nonce, or merge-mining tags.
func ParseExtra(extra []byte) (*ParsedExtra, error) {
	r := serialization.NewReader(extra)
	out := &ParsedExtra{}

	seenPubkey := false
	seenPaymentID := false
	seenNonce := false
	seenMergeMining := false

	for r.Remaining() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		switch tag {
		case ExtraTagTransactionPubkey:
			if seenPubkey {
				return nil, errors.Wrap(ErrDuplicateExtraTag, "transaction public key")
			}
			seenPubkey = true
			b, err := r.ReadBytes(util.HashSize)
			if err != nil {
				return nil, errors.Wrap(err, "core: reading extra transaction pubkey")
			}
			var pk util.PublicKey
			copy(pk[:], b)
			out.TransactionPublicKey = &pk

		case ExtraTagPaymentID:
			if seenPaymentID {
				return nil, errors.Wrap(ErrDuplicateExtraTag, "payment id")
			}
			seenPaymentID = true
			b, err := r.ReadVarBytes(maxNonceLen)
			if err != nil {
				return nil, errors.Wrap(err, "core: reading extra payment id")
			}
			out.PaymentID = b

		case ExtraTagNonce:
			if seenNonce {
				return nil, errors.Wrap(ErrDuplicateExtraTag, "nonce")
			}
			seenNonce = true
			b, err := r.ReadVarBytes(maxNonceLen)
			if err != nil {
				return nil, errors.Wrap(err, "core: reading extra nonce")
			}
			out.ExtraNonce = b

		case ExtraTagMergeMining:
			if seenMergeMining {
				return nil, errors.Wrap(ErrDuplicateExtraTag, "merge mining tag")
			}
			seenMergeMining = true
			depth, err := r.ReadUvarint()
			if err != nil {
				return nil, errors.Wrap(err, "core: reading merge mining depth")
			}
			h, err := r.ReadHash()
			if err != nil {
				return nil, errors.Wrap(err, "core: reading merge mining hash")
			}
			out.MergeMiningDepth = depth
			out.MergeMiningHash = &h

		case ExtraTagTTL:
			seconds, err := r.ReadUvarint()
			if err != nil {
				return nil, errors.Wrap(err, "core: reading extra TTL")
			}
			out.TTLSeconds = seconds
			out.HasTTL = true

		case ExtraTagEncryptedMessage:
			b, err := r.ReadVarBytes(1 << 16)
			if err != nil {
				return nil, errors.Wrap(err, "core: reading extra encrypted message")
			}
			out.EncryptedMessage = b

		case ExtraTagSender:
			b, err := r.ReadVarBytes(1 << 12)
			if err != nil {
				return nil, errors.Wrap(err, "core: reading extra sender")
			}
			out.Sender = b

		default:
			return nil, errors.Errorf("core: unknown extra tag 0x%02x", tag)
		}
	}

	return out, nil
}

// BuildExtra is the inverse of ParseExtra: it assembles a canonical
// extra byte-string from the fields present in p, in a fixed tag order
// (pubkey, payment id, nonce, merge mining, TTL, encrypted message,
// sender) so that two otherwise-identical ParsedExtra values always
// serialize the same way.
func BuildExtra(p *ParsedExtra) []byte {
	w := serialization.NewWriter()

	if p.TransactionPublicKey != nil {
		w.WriteByte(ExtraTagTransactionPubkey)
		w.WriteBytes(p.TransactionPublicKey[:])
	}
	if p.PaymentID != nil {
		w.WriteByte(ExtraTagPaymentID)
		w.WriteVarBytes(p.PaymentID)
	}
	if p.ExtraNonce != nil {
		w.WriteByte(ExtraTagNonce)
		w.WriteVarBytes(p.ExtraNonce)
	}
	if p.MergeMiningHash != nil {
		w.WriteByte(ExtraTagMergeMining)
		w.WriteUvarint(p.MergeMiningDepth)
		w.WriteHash(*p.MergeMiningHash)
	}
	if p.HasTTL {
		w.WriteByte(ExtraTagTTL)
		w.WriteUvarint(p.TTLSeconds)
	}
	if p.EncryptedMessage != nil {
		w.WriteByte(ExtraTagEncryptedMessage)
		w.WriteVarBytes(p.EncryptedMessage)
	}
	if p.Sender != nil {
		w.WriteByte(ExtraTagSender)
		w.WriteVarBytes(p.Sender)
	}

	return w.Bytes()
}
