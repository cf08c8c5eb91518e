package core

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// mergeMiningMajorVersion is the first major version that embeds a
// parent-block header for merge mining.
const mergeMiningMajorVersion = 2

// ParentBlock is the auxiliary-chain header embedded in every block of
// major version >= 2 so the same proof-of-work can simultaneously mine
// this chain and a merge-mined parent chain. It carries a cut-down
// header plus the miner transaction and the Merkle branch connecting
// that transaction (via its embedded merge-mining tag) back to this
// chain's block hash.
type ParentBlock struct {
	MajorVersion      byte
	MinorVersion      byte
	Timestamp         uint64
	PreviousBlockHash util.Hash
	Nonce             uint32

	MinerTransaction     Transaction
	TransactionCount     uint64
	MerkleBranch         []util.Hash
}

// BlockHeader is the fixed-size portion of a block's identity.
type BlockHeader struct {
	MajorVersion      byte
	MinorVersion      byte
	Timestamp         uint64
	PreviousBlockHash util.Hash
	Nonce             uint32
}

// Block is a header, its coinbase ("base") transaction, and the ordered
// list of transaction hashes committed by TreeHash. Only the hashes are
// part of the block itself; the transactions are fetched separately from
// the pool or the chain's transaction store.
type Block struct {
	Header              BlockHeader
	Parent              *ParentBlock // non-nil iff Header.MajorVersion >= 2
	BaseTransaction      Transaction
	TransactionHashes   []util.Hash
}

func encodeHeader(w *serialization.Writer, h *BlockHeader) {
	w.WriteByte(h.MajorVersion)
	w.WriteByte(h.MinorVersion)
	w.WriteUvarint(h.Timestamp)
	w.WriteHash(h.PreviousBlockHash)
	w.WriteUint32(h.Nonce)
}

func decodeHeader(r *serialization.Reader) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.MajorVersion, err = r.ReadByte(); err != nil {
		return h, err
	}
	if h.MinorVersion, err = r.ReadByte(); err != nil {
		return h, err
	}
	if h.Timestamp, err = r.ReadUvarint(); err != nil {
		return h, err
	}
	if h.PreviousBlockHash, err = r.ReadHash(); err != nil {
		return h, err
	}
	if h.Nonce, err = r.ReadUint32(); err != nil {
		return h, err
	}
	return h, nil
}

func encodeParent(w *serialization.Writer, p *ParentBlock) {
	w.WriteByte(p.MajorVersion)
	w.WriteByte(p.MinorVersion)
	w.WriteUvarint(p.Timestamp)
	w.WriteHash(p.PreviousBlockHash)
	w.WriteUint32(p.Nonce)
	EncodeTransaction(w, &p.MinerTransaction)
	w.WriteUvarint(p.TransactionCount)
	w.WriteUvarint(uint64(len(p.MerkleBranch)))
	for _, h := range p.MerkleBranch {
		w.WriteHash(h)
	}
}

func decodeParent(r *serialization.Reader) (*ParentBlock, error) {
	p := &ParentBlock{}
	var err error
	if p.MajorVersion, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if p.MinorVersion, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if p.Timestamp, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	if p.PreviousBlockHash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if p.Nonce, err = r.ReadUint32(); err != nil {
		return nil, err
	}

	// The parent's miner transaction is embedded as a raw prefix plus
	// signature list exactly like a top-level transaction; since it is
	// always a coinbase it carries no signatures.
	prefix, err := DecodePrefix(r)
	if err != nil {
		return nil, err
	}
	p.MinerTransaction = Transaction{Prefix: prefix}

	if p.TransactionCount, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxContainerLen {
		return nil, errors.Errorf("core: merge mining branch length %d exceeds maximum", n)
	}
	p.MerkleBranch = make([]util.Hash, n)
	for i := range p.MerkleBranch {
		if p.MerkleBranch[i], err = r.ReadHash(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// EncodeBlock writes the canonical encoding of b.
func EncodeBlock(w *serialization.Writer, b *Block) {
	encodeHeader(w, &b.Header)
	if b.Header.MajorVersion >= mergeMiningMajorVersion {
		encodeParent(w, b.Parent)
	}
	EncodeTransaction(w, &b.BaseTransaction)
	w.WriteUvarint(uint64(len(b.TransactionHashes)))
	for _, h := range b.TransactionHashes {
		w.WriteHash(h)
	}
}

// DecodeBlock reads a Block from buf and requires every byte to be
// consumed.
func DecodeBlock(buf []byte) (*Block, error) {
	r := serialization.NewReader(buf)

	header, err := decodeHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "core: reading block header")
	}

	b := &Block{Header: header}
	if header.MajorVersion >= mergeMiningMajorVersion {
		b.Parent, err = decodeParent(r)
		if err != nil {
			return nil, errors.Wrap(err, "core: reading parent block")
		}
	}

	basePrefix, err := DecodePrefix(r)
	if err != nil {
		return nil, errors.Wrap(err, "core: reading base transaction")
	}
	b.BaseTransaction = Transaction{Prefix: basePrefix}

	n, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(err, "core: reading transaction hash count")
	}
	if n > maxContainerLen {
		return nil, errors.Errorf("core: transaction hash count %d exceeds maximum", n)
	}
	b.TransactionHashes = make([]util.Hash, n)
	for i := range b.TransactionHashes {
		if b.TransactionHashes[i], err = r.ReadHash(); err != nil {
			return nil, err
		}
	}

	if err := r.Done(); err != nil {
		return nil, err
	}
	return b, nil
}

// MerkleRoot returns the TreeHash over [hash(baseTx)] ++ TransactionHashes.
func (b *Block) MerkleRoot() util.Hash {
	hashes := make([]util.Hash, 0, 1+len(b.TransactionHashes))
	hashes = append(hashes, Hash(&b.BaseTransaction))
	hashes = append(hashes, b.TransactionHashes...)
	return serialization.TreeHash(hashes)
}

// Hash returns the block's identity hash. For major version >= 2 blocks
// this is the hash of the embedded parent block header (merge mining:
// the parent's proof-of-work secures this chain too), matching the
// reference implementation's get_block_hash behavior; otherwise it is
// the hash of this block's own header plus Merkle root.
func (b *Block) Hash() util.Hash {
	if b.Header.MajorVersion >= mergeMiningMajorVersion {
		return serialization.ObjectHash(func(w *serialization.Writer) { encodeParent(w, b.Parent) })
	}
	root := b.MerkleRoot()
	return serialization.ObjectHash(func(w *serialization.Writer) {
		encodeHeader(w, &b.Header)
		w.WriteHash(root)
		w.WriteUvarint(uint64(len(b.TransactionHashes)) + 1)
	})
}
