// Package core implements the CryptoNote wire/persisted object model the
// rest of the node validates and stores: transactions (prefix, variant
// inputs and outputs, ring signatures), blocks, the transaction-extra
// tag grammar, and the cached summaries the blockchain cache and
// transaction pool key their indexes on. Every type here round-trips
// through serialization.Writer/Reader: decode(encode(x)) == x, and
// unknown trailing bytes are an error.
package core

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// Input variant tags. CoinbaseTag is written as a bare varint height with
// no other variant sharing its value space; KeyTag and MultisigTag match
// the reference implementation's txin_to_key / txin_to_script_hash tags.
const (
	InputTagCoinbase byte = 0xff
	InputTagKey      byte = 0x02
	InputTagMultisig byte = 0x03
)

// Output variant tags, mirroring the input tags for the same variants.
const (
	OutputTagKey      byte = 0x02
	OutputTagMultisig byte = 0x03
)

// ErrUnknownVariant is returned when a tag byte does not match any
// defined input or output variant.
var ErrUnknownVariant = errors.New("core: unknown variant tag")

// Input is implemented by InputCoinbase, InputKey, and InputMultisig.
type Input interface {
	inputTag() byte
	encode(w *serialization.Writer)
}

// InputCoinbase spends the block reward; height is the block that minted
// it, used to derive the implicit key image-free provenance of the coin.
type InputCoinbase struct {
	Height util.Height
}

func (i InputCoinbase) inputTag() byte { return InputTagCoinbase }
func (i InputCoinbase) encode(w *serialization.Writer) {
	w.WriteUvarint(uint64(i.Height))
}

// InputKey references a ring of prior key outputs of the same amount.
// RingOffsets are stored relative (each entry is the delta from the
// previous absolute global index, the first entry relative to zero) and
// must decode to strictly increasing absolute indexes; KeyImage is the
// double-spend tag for whichever ring member is actually being spent.
type InputKey struct {
	Amount      util.Amount
	RingOffsets []uint64
	KeyImage    util.KeyImage
}

func (i InputKey) inputTag() byte { return InputTagKey }
func (i InputKey) encode(w *serialization.Writer) {
	w.WriteUvarint(uint64(i.Amount))
	w.WriteUvarint(uint64(len(i.RingOffsets)))
	for _, o := range i.RingOffsets {
		w.WriteUvarint(o)
	}
	w.WriteBytes(i.KeyImage[:])
}

// AbsoluteOffsets decodes the stored relative ring offsets into strictly
// increasing absolute global output indexes. It returns an error if any
// decoded delta would make the sequence non-increasing.
func (i InputKey) AbsoluteOffsets() ([]util.GlobalOutputIndex, error) {
	abs := make([]util.GlobalOutputIndex, len(i.RingOffsets))
	var running uint64
	for idx, rel := range i.RingOffsets {
		if idx > 0 && rel == 0 {
			return nil, errors.Errorf("core: ring offset %d is not strictly increasing", idx)
		}
		running += rel
		abs[idx] = util.GlobalOutputIndex(running)
	}
	return abs, nil
}

// InputMultisig spends a multisig output identified by amount and its
// global position among multisig outputs of that amount.
type InputMultisig struct {
	Amount         util.Amount
	SignatureCount uint32
	OutputIndex    uint32
}

func (i InputMultisig) inputTag() byte { return InputTagMultisig }
func (i InputMultisig) encode(w *serialization.Writer) {
	w.WriteUvarint(uint64(i.Amount))
	w.WriteUvarint(uint64(i.SignatureCount))
	w.WriteUvarint(uint64(i.OutputIndex))
}

// OutputTarget is implemented by OutputKey and OutputMultisig.
type OutputTarget interface {
	outputTag() byte
	encode(w *serialization.Writer)
}

// OutputKey is a one-time stealth public key, computed by the sender via
// DerivePublicKey so only the recipient's view key can recognize it.
type OutputKey struct {
	OneTimePublicKey util.PublicKey
}

func (o OutputKey) outputTag() byte { return OutputTagKey }
func (o OutputKey) encode(w *serialization.Writer) {
	w.WriteBytes(o.OneTimePublicKey[:])
}

// OutputMultisig requires RequiredSignatures of the listed Keys to spend.
type OutputMultisig struct {
	Keys               []util.PublicKey
	RequiredSignatures uint32
}

func (o OutputMultisig) outputTag() byte { return OutputTagMultisig }
func (o OutputMultisig) encode(w *serialization.Writer) {
	w.WriteUvarint(uint64(len(o.Keys)))
	for _, k := range o.Keys {
		w.WriteBytes(k[:])
	}
	w.WriteUvarint(uint64(o.RequiredSignatures))
}

// Output pairs an amount with its target variant.
type Output struct {
	Amount util.Amount
	Target OutputTarget
}

// TransactionPrefix is the signed portion of a transaction: everything
// except the ring signatures.
type TransactionPrefix struct {
	Version    uint64
	UnlockTime uint64
	Inputs     []Input
	Outputs    []Output
	Extra      []byte
}

// Transaction is a prefix plus one ring-signature list per input; the
// length of Signatures[i] equals Inputs[i]'s ring size (zero for a
// coinbase input, which carries no signature list at all).
type Transaction struct {
	Prefix     TransactionPrefix
	Signatures [][]util.Signature
}

// IsCoinbase reports whether tx has exactly one input and it is the
// coinbase variant.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Prefix.Inputs) == 1 && tx.Prefix.Inputs[0].inputTag() == InputTagCoinbase
}

// InputSum returns the sum of every Key/Multisig input's declared amount.
// Coinbase inputs contribute nothing (their amount is implicit in the
// outputs and checked against emission, not against itself).
func (tx *Transaction) InputSum() util.Amount {
	var sum util.Amount
	for _, in := range tx.Prefix.Inputs {
		switch v := in.(type) {
		case InputKey:
			sum += v.Amount
		case InputMultisig:
			sum += v.Amount
		}
	}
	return sum
}

// OutputSum returns the sum of every output's amount.
func (tx *Transaction) OutputSum() util.Amount {
	var sum util.Amount
	for _, out := range tx.Prefix.Outputs {
		sum += out.Amount
	}
	return sum
}

// Fee returns InputSum() - OutputSum(), or 0 for a coinbase transaction
// (a coinbase's InputSum is always 0, so the formula does not apply to
// it). It returns an error when outputs exceed inputs.
func (tx *Transaction) Fee() (util.Amount, error) {
	if tx.IsCoinbase() {
		return 0, nil
	}
	in, out := tx.InputSum(), tx.OutputSum()
	if out > in {
		return 0, errors.Errorf("core: outputs %d exceed inputs %d", out, in)
	}
	return in - out, nil
}

// EncodePrefix writes the canonical encoding of p.
func EncodePrefix(w *serialization.Writer, p *TransactionPrefix) {
	w.WriteUvarint(p.Version)
	w.WriteUvarint(p.UnlockTime)

	w.WriteUvarint(uint64(len(p.Inputs)))
	for _, in := range p.Inputs {
		w.WriteByte(in.inputTag())
		in.encode(w)
	}

	w.WriteUvarint(uint64(len(p.Outputs)))
	for _, out := range p.Outputs {
		w.WriteUvarint(uint64(out.Amount))
		w.WriteByte(out.Target.outputTag())
		out.Target.encode(w)
	}

	w.WriteVarBytes(p.Extra)
}

// PrefixHash returns the object hash of p's canonical encoding, the
// value signed by every input's ring signature.
func PrefixHash(p *TransactionPrefix) util.Hash {
	return serialization.ObjectHash(func(w *serialization.Writer) { EncodePrefix(w, p) })
}

// Hash returns the object hash of tx's full canonical encoding
// (prefix plus signatures), used as the transaction id.
func Hash(tx *Transaction) util.Hash {
	return serialization.ObjectHash(func(w *serialization.Writer) { EncodeTransaction(w, tx) })
}

// EncodeTransaction writes the canonical encoding of tx: its prefix
// followed by one ring-signature list per input.
func EncodeTransaction(w *serialization.Writer, tx *Transaction) {
	EncodePrefix(w, &tx.Prefix)
	for _, sigs := range tx.Signatures {
		for _, sig := range sigs {
			w.WriteBytes(sig[:])
		}
	}
}

const maxContainerLen = 1 << 20

// DecodePrefix reads a TransactionPrefix from r.
func DecodePrefix(r *serialization.Reader) (TransactionPrefix, error) {
	var p TransactionPrefix
	var err error
	if p.Version, err = r.ReadUvarint(); err != nil {
		return p, errors.Wrap(err, "core: reading version")
	}
	if p.UnlockTime, err = r.ReadUvarint(); err != nil {
		return p, errors.Wrap(err, "core: reading unlock time")
	}

	nIn, err := r.ReadUvarint()
	if err != nil {
		return p, errors.Wrap(err, "core: reading input count")
	}
	if nIn > maxContainerLen {
		return p, errors.Errorf("core: input count %d exceeds maximum", nIn)
	}
	p.Inputs = make([]Input, nIn)
	for i := range p.Inputs {
		tag, err := r.ReadByte()
		if err != nil {
			return p, errors.Wrap(err, "core: reading input tag")
		}
		in, err := decodeInput(r, tag)
		if err != nil {
			return p, errors.Wrapf(err, "core: decoding input %d", i)
		}
		p.Inputs[i] = in
	}

	nOut, err := r.ReadUvarint()
	if err != nil {
		return p, errors.Wrap(err, "core: reading output count")
	}
	if nOut > maxContainerLen {
		return p, errors.Errorf("core: output count %d exceeds maximum", nOut)
	}
	p.Outputs = make([]Output, nOut)
	for i := range p.Outputs {
		amount, err := r.ReadUvarint()
		if err != nil {
			return p, errors.Wrap(err, "core: reading output amount")
		}
		tag, err := r.ReadByte()
		if err != nil {
			return p, errors.Wrap(err, "core: reading output tag")
		}
		target, err := decodeOutputTarget(r, tag)
		if err != nil {
			return p, errors.Wrapf(err, "core: decoding output %d", i)
		}
		p.Outputs[i] = Output{Amount: util.Amount(amount), Target: target}
	}

	extra, err := r.ReadVarBytes(1 << 16)
	if err != nil {
		return p, errors.Wrap(err, "core: reading extra")
	}
	p.Extra = extra

	return p, nil
}

func decodeInput(r *serialization.Reader, tag byte) (Input, error) {
	switch tag {
	case InputTagCoinbase:
		h, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		return InputCoinbase{Height: util.Height(h)}, nil
	case InputTagKey:
		amount, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		n, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if n > maxContainerLen {
			return nil, errors.Errorf("core: ring size %d exceeds maximum", n)
		}
		offsets := make([]uint64, n)
		for i := range offsets {
			offsets[i], err = r.ReadUvarint()
			if err != nil {
				return nil, err
			}
		}
		kiBytes, err := r.ReadBytes(util.HashSize)
		if err != nil {
			return nil, err
		}
		var ki util.KeyImage
		copy(ki[:], kiBytes)
		return InputKey{Amount: util.Amount(amount), RingOffsets: offsets, KeyImage: ki}, nil
	case InputTagMultisig:
		amount, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		sigCount, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		outIdx, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		return InputMultisig{Amount: util.Amount(amount), SignatureCount: uint32(sigCount), OutputIndex: uint32(outIdx)}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownVariant, "input tag 0x%02x", tag)
	}
}

// EncodeOutputTarget writes target's tag byte followed by its encoding,
// the same framing EncodePrefix uses for each output; it exists so
// callers outside this package (the blockchain cache's denormalized
// CachedTransaction index) can persist a bare OutputTarget without
// reaching into a full TransactionPrefix.
func EncodeOutputTarget(w *serialization.Writer, target OutputTarget) {
	w.WriteByte(target.outputTag())
	target.encode(w)
}

// DecodeOutputTarget reads a tag byte followed by an OutputTarget
// encoding, the inverse of EncodeOutputTarget.
func DecodeOutputTarget(r *serialization.Reader) (OutputTarget, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return decodeOutputTarget(r, tag)
}

func decodeOutputTarget(r *serialization.Reader, tag byte) (OutputTarget, error) {
	switch tag {
	case OutputTagKey:
		pkBytes, err := r.ReadBytes(util.HashSize)
		if err != nil {
			return nil, err
		}
		var pk util.PublicKey
		copy(pk[:], pkBytes)
		return OutputKey{OneTimePublicKey: pk}, nil
	case OutputTagMultisig:
		n, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if n > maxContainerLen {
			return nil, errors.Errorf("core: multisig key count %d exceeds maximum", n)
		}
		keys := make([]util.PublicKey, n)
		for i := range keys {
			b, err := r.ReadBytes(util.HashSize)
			if err != nil {
				return nil, err
			}
			copy(keys[i][:], b)
		}
		req, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		return OutputMultisig{Keys: keys, RequiredSignatures: uint32(req)}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownVariant, "output tag 0x%02x", tag)
	}
}

// DecodeTransaction reads a Transaction from r and requires every byte of
// buf to be consumed.
func DecodeTransaction(buf []byte) (*Transaction, error) {
	r := serialization.NewReader(buf)
	prefix, err := DecodePrefix(r)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{Prefix: prefix}
	if !tx.IsCoinbase() {
		tx.Signatures = make([][]util.Signature, len(prefix.Inputs))
		for i, in := range prefix.Inputs {
			keyIn, ok := in.(InputKey)
			ringSize := 1
			if ok {
				ringSize = len(keyIn.RingOffsets)
			}
			sigs := make([]util.Signature, ringSize)
			for j := range sigs {
				b, err := r.ReadBytes(util.SignatureSize)
				if err != nil {
					return nil, errors.Wrapf(err, "core: reading signature %d/%d", i, j)
				}
				copy(sigs[j][:], b)
			}
			tx.Signatures[i] = sigs
		}
	}

	if err := r.Done(); err != nil {
		return nil, err
	}
	return tx, nil
}
