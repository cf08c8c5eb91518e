package chain

import (
	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

func encodeBlockInfo(info *core.CachedBlockInfo) []byte {
	w := serialization.NewWriter()
	w.WriteHash(info.Hash)
	w.WriteUvarint(info.Timestamp)
	w.WriteUvarint(info.CumulativeDifficulty)
	w.WriteUvarint(uint64(info.AlreadyGeneratedCoins))
	w.WriteUvarint(info.AlreadyGeneratedTransactions)
	w.WriteUvarint(info.BlockSize)
	return w.Bytes()
}

func decodeBlockInfo(buf []byte) (*core.CachedBlockInfo, error) {
	r := serialization.NewReader(buf)
	info := &core.CachedBlockInfo{}
	var err error
	if info.Hash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if info.Timestamp, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	if info.CumulativeDifficulty, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	coins, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	info.AlreadyGeneratedCoins = util.Amount(coins)
	if info.AlreadyGeneratedTransactions, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	if info.BlockSize, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	return info, r.Done()
}

func encodeCachedTransaction(c *core.CachedTransaction) []byte {
	w := serialization.NewWriter()
	w.WriteUvarint(uint64(c.BlockIndex))
	w.WriteUvarint(uint64(c.TransactionIndex))
	w.WriteHash(c.Hash)
	w.WriteUvarint(c.UnlockTime)
	w.WriteUvarint(uint64(len(c.OutputTargets)))
	for i, t := range c.OutputTargets {
		core.EncodeOutputTarget(w, t)
		w.WriteUvarint(uint64(c.OutputAmounts[i]))
	}
	w.WriteUvarint(uint64(len(c.GlobalIndexes)))
	for _, gi := range c.GlobalIndexes {
		w.WriteUvarint(uint64(gi))
	}
	w.WriteVarBytes(c.PaymentID)
	return w.Bytes()
}

func decodeCachedTransaction(buf []byte) (*core.CachedTransaction, error) {
	r := serialization.NewReader(buf)
	c := &core.CachedTransaction{}
	var err error
	blockIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	c.BlockIndex = util.Height(blockIdx)
	txIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	c.TransactionIndex = uint32(txIdx)
	if c.Hash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if c.UnlockTime, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	nTargets, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	c.OutputTargets = make([]core.OutputTarget, nTargets)
	c.OutputAmounts = make([]util.Amount, nTargets)
	for i := range c.OutputTargets {
		if c.OutputTargets[i], err = core.DecodeOutputTarget(r); err != nil {
			return nil, err
		}
		amt, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		c.OutputAmounts[i] = util.Amount(amt)
	}
	nIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	c.GlobalIndexes = make([]util.GlobalOutputIndex, nIdx)
	for i := range c.GlobalIndexes {
		v, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		c.GlobalIndexes[i] = util.GlobalOutputIndex(v)
	}
	paymentID, err := r.ReadVarBytes(1 << 16)
	if err != nil {
		return nil, err
	}
	if len(paymentID) > 0 {
		c.PaymentID = paymentID
	}
	return c, r.Done()
}

func encodePackedOutIndex(p *core.PackedOutIndex) []byte {
	w := serialization.NewWriter()
	w.WriteUvarint(uint64(p.BlockIndex))
	w.WriteUvarint(uint64(p.TransactionIndex))
	w.WriteUvarint(uint64(p.OutputIndex))
	return w.Bytes()
}

func decodePackedOutIndex(buf []byte) (*core.PackedOutIndex, error) {
	r := serialization.NewReader(buf)
	p := &core.PackedOutIndex{}
	blockIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	p.BlockIndex = util.Height(blockIdx)
	txIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	p.TransactionIndex = uint32(txIdx)
	outIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	p.OutputIndex = uint32(outIdx)
	return p, r.Done()
}

func encodeKeyOutputInfo(k *core.KeyOutputInfo) []byte {
	w := serialization.NewWriter()
	w.WriteBytes(k.PublicKey[:])
	w.WriteHash(k.TransactionHash)
	w.WriteUvarint(k.UnlockTime)
	w.WriteUvarint(uint64(k.OutputIndex))
	return w.Bytes()
}

func decodeKeyOutputInfo(buf []byte) (*core.KeyOutputInfo, error) {
	r := serialization.NewReader(buf)
	k := &core.KeyOutputInfo{}
	pk, err := r.ReadBytes(util.HashSize)
	if err != nil {
		return nil, err
	}
	copy(k.PublicKey[:], pk)
	if k.TransactionHash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if k.UnlockTime, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	outIdx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	k.OutputIndex = uint32(outIdx)
	return k, r.Done()
}

func encodePushedBlockInfo(p *core.PushedBlockInfo) []byte {
	w := serialization.NewWriter()
	w.WriteVarBytes(p.RawBlock)
	w.WriteUvarint(p.BlockSize)
	w.WriteUvarint(uint64(p.GeneratedCoins))
	w.WriteUvarint(p.BlockDifficulty)
	w.WriteUvarint(uint64(len(p.SpentKeyImages)))
	for _, ki := range p.SpentKeyImages {
		w.WriteBytes(ki[:])
	}
	w.WriteUvarint(uint64(len(p.TransactionHashes)))
	for _, h := range p.TransactionHashes {
		w.WriteHash(h)
	}
	return w.Bytes()
}

func decodePushedBlockInfo(buf []byte) (*core.PushedBlockInfo, error) {
	r := serialization.NewReader(buf)
	p := &core.PushedBlockInfo{}
	var err error
	if p.RawBlock, err = r.ReadVarBytes(0); err != nil {
		return nil, err
	}
	if p.BlockSize, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	coins, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	p.GeneratedCoins = util.Amount(coins)
	if p.BlockDifficulty, err = r.ReadUvarint(); err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	p.SpentKeyImages = make([]util.KeyImage, n)
	for i := range p.SpentKeyImages {
		b, err := r.ReadBytes(util.HashSize)
		if err != nil {
			return nil, err
		}
		copy(p.SpentKeyImages[i][:], b)
	}
	nTx, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	p.TransactionHashes = make([]util.Hash, nTx)
	for i := range p.TransactionHashes {
		if p.TransactionHashes[i], err = r.ReadHash(); err != nil {
			return nil, err
		}
	}
	return p, r.Done()
}
