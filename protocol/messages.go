// Package protocol implements the per-peer protocol state machine and
// the fixed message set used for handshake and periodic resync,
// sparse-chain/headers-first sync, block and transaction relay, and
// lite-block reconstruction. Message semantics are grounded on
// original_source/src/CryptoNoteProtocol/CryptoNoteProtocolHandler.cpp
// and original_source/src/P2p/NetNode.cpp; the package layout (one file
// per concern -- handshake, sync, block relay, transaction relay -- a
// shared Context threading state between them) follows the
// app/protocol/flowcontext split.
package protocol

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// ErrMalformedMessage is wrapped around any payload decode failure. A
// malformed peer message never panics the handler; it is logged and
// dropped.
var ErrMalformedMessage = errors.New("protocol: malformed message")

const maxPeerlistEntries = 250
const maxHashListLen = 1 << 16

func writeHashList(w *serialization.Writer, hashes []util.Hash) {
	w.WriteUvarint(uint64(len(hashes)))
	for _, h := range hashes {
		w.WriteHash(h)
	}
}

func readHashList(r *serialization.Reader, maxLen uint64) ([]util.Hash, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, errors.Errorf("protocol: hash list length %d exceeds maximum %d", n, maxLen)
	}
	out := make([]util.Hash, n)
	for i := range out {
		if out[i], err = r.ReadHash(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeBlobList(w *serialization.Writer, blobs [][]byte) {
	w.WriteUvarint(uint64(len(blobs)))
	for _, b := range blobs {
		w.WriteVarBytes(b)
	}
}

func readBlobList(r *serialization.Reader, maxLen uint64, maxBlobLen uint64) ([][]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, errors.Errorf("protocol: blob list length %d exceeds maximum %d", n, maxLen)
	}
	out := make([][]byte, n)
	for i := range out {
		if out[i], err = r.ReadVarBytes(maxBlobLen); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NodeData is the handshake/timed-sync node-identity payload:
// {version, networkId, peerId, myPort, localTime, nodeVersion}.
type NodeData struct {
	Version     uint8
	NetworkID   uint64
	PeerID      uint64
	MyPort      uint32
	LocalTime   uint64
	NodeVersion uint32
}

func encodeNodeData(w *serialization.Writer, n *NodeData) {
	w.WriteByte(n.Version)
	w.WriteUint64(n.NetworkID)
	w.WriteUint64(n.PeerID)
	w.WriteUint32(n.MyPort)
	w.WriteUint64(n.LocalTime)
	w.WriteUint32(n.NodeVersion)
}

func decodeNodeData(r *serialization.Reader) (NodeData, error) {
	var n NodeData
	var err error
	if n.Version, err = r.ReadByte(); err != nil {
		return n, err
	}
	if n.NetworkID, err = r.ReadUint64(); err != nil {
		return n, err
	}
	if n.PeerID, err = r.ReadUint64(); err != nil {
		return n, err
	}
	if n.MyPort, err = r.ReadUint32(); err != nil {
		return n, err
	}
	if n.LocalTime, err = r.ReadUint64(); err != nil {
		return n, err
	}
	if n.NodeVersion, err = r.ReadUint32(); err != nil {
		return n, err
	}
	return n, nil
}

// CoreSyncData is {currentHeight, topId}, the chain-position summary
// exchanged on handshake and timed sync.
type CoreSyncData struct {
	CurrentHeight util.Height
	TopID         util.Hash
}

func encodeCoreSyncData(w *serialization.Writer, c *CoreSyncData) {
	w.WriteUvarint(uint64(c.CurrentHeight))
	w.WriteHash(c.TopID)
}

func decodeCoreSyncData(r *serialization.Reader) (CoreSyncData, error) {
	var c CoreSyncData
	h, err := r.ReadUvarint()
	if err != nil {
		return c, err
	}
	c.CurrentHeight = util.Height(h)
	if c.TopID, err = r.ReadHash(); err != nil {
		return c, err
	}
	return c, nil
}

// PeerlistEntry is one advertised peer address, IPv4 address plus port
// plus the advertiser's last-seen timestamp for it.
type PeerlistEntry struct {
	IP       [4]byte
	Port     uint16
	LastSeen uint64
}

func writePeerlist(w *serialization.Writer, peers []PeerlistEntry) {
	w.WriteUvarint(uint64(len(peers)))
	for _, p := range peers {
		w.WriteBytes(p.IP[:])
		w.WriteUint32(uint32(p.Port))
		w.WriteUint64(p.LastSeen)
	}
}

func readPeerlist(r *serialization.Reader) ([]PeerlistEntry, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxPeerlistEntries {
		return nil, errors.Errorf("protocol: peer list length %d exceeds maximum %d", n, maxPeerlistEntries)
	}
	out := make([]PeerlistEntry, n)
	for i := range out {
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		copy(out[i].IP[:], b)
		port, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		out[i].Port = uint16(port)
		if out[i].LastSeen, err = r.ReadUint64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// HandshakeRequest is HANDSHAKE's request direction.
type HandshakeRequest struct {
	Node NodeData
	Sync CoreSyncData
}

// HandshakeResponse is HANDSHAKE's response direction, which additionally
// carries the responder's local peer list.
type HandshakeResponse struct {
	Node      NodeData
	Sync      CoreSyncData
	Peerlist  []PeerlistEntry
}

func EncodeHandshakeRequest(r *HandshakeRequest) []byte {
	w := serialization.NewWriter()
	encodeNodeData(w, &r.Node)
	encodeCoreSyncData(w, &r.Sync)
	return w.Bytes()
}

func DecodeHandshakeRequest(buf []byte) (*HandshakeRequest, error) {
	r := serialization.NewReader(buf)
	req := &HandshakeRequest{}
	var err error
	if req.Node, err = decodeNodeData(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if req.Sync, err = decodeCoreSyncData(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return req, r.Done()
}

func EncodeHandshakeResponse(resp *HandshakeResponse) []byte {
	w := serialization.NewWriter()
	encodeNodeData(w, &resp.Node)
	encodeCoreSyncData(w, &resp.Sync)
	writePeerlist(w, resp.Peerlist)
	return w.Bytes()
}

func DecodeHandshakeResponse(buf []byte) (*HandshakeResponse, error) {
	r := serialization.NewReader(buf)
	resp := &HandshakeResponse{}
	var err error
	if resp.Node, err = decodeNodeData(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if resp.Sync, err = decodeCoreSyncData(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if resp.Peerlist, err = readPeerlist(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return resp, r.Done()
}

// TimedSync is TIMED_SYNC's shared payload shape for both directions:
// core sync data, local peer list, local time.
type TimedSync struct {
	Sync      CoreSyncData
	Peerlist  []PeerlistEntry
	LocalTime uint64
}

func EncodeTimedSync(t *TimedSync) []byte {
	w := serialization.NewWriter()
	encodeCoreSyncData(w, &t.Sync)
	writePeerlist(w, t.Peerlist)
	w.WriteUint64(t.LocalTime)
	return w.Bytes()
}

func DecodeTimedSync(buf []byte) (*TimedSync, error) {
	r := serialization.NewReader(buf)
	t := &TimedSync{}
	var err error
	if t.Sync, err = decodeCoreSyncData(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if t.Peerlist, err = readPeerlist(r); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if t.LocalTime, err = r.ReadUint64(); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return t, r.Done()
}

// PingResponse is PING's response direction: an "OK" status string plus
// the responder's peer id (used by the requester to confirm the
// responder's reachable address matches what it advertised).
type PingResponse struct {
	Status string
	PeerID uint64
}

func EncodePingResponse(p *PingResponse) []byte {
	w := serialization.NewWriter()
	w.WriteVarBytes([]byte(p.Status))
	w.WriteUint64(p.PeerID)
	return w.Bytes()
}

func DecodePingResponse(buf []byte) (*PingResponse, error) {
	r := serialization.NewReader(buf)
	p := &PingResponse{}
	status, err := r.ReadVarBytes(256)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	p.Status = string(status)
	if p.PeerID, err = r.ReadUint64(); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return p, r.Done()
}

// RequestChain carries the requester's sparse block-id chain: ids at
// exponentially increasing offsets from its tip back to genesis.
type RequestChain struct {
	BlockIDs []util.Hash
}

func EncodeRequestChain(r *RequestChain) []byte {
	w := serialization.NewWriter()
	writeHashList(w, r.BlockIDs)
	return w.Bytes()
}

func DecodeRequestChain(buf []byte) (*RequestChain, error) {
	r := serialization.NewReader(buf)
	req := &RequestChain{}
	var err error
	if req.BlockIDs, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return req, r.Done()
}

// ResponseChainEntry carries the responder's view of the chain starting
// at the common ancestor it found in the requester's sparse chain.
type ResponseChainEntry struct {
	StartHeight util.Height
	TotalHeight util.Height
	BlockIDs    []util.Hash
}

func EncodeResponseChainEntry(r *ResponseChainEntry) []byte {
	w := serialization.NewWriter()
	w.WriteUvarint(uint64(r.StartHeight))
	w.WriteUvarint(uint64(r.TotalHeight))
	writeHashList(w, r.BlockIDs)
	return w.Bytes()
}

func DecodeResponseChainEntry(buf []byte) (*ResponseChainEntry, error) {
	r := serialization.NewReader(buf)
	resp := &ResponseChainEntry{}
	start, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	resp.StartHeight = util.Height(start)
	total, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	resp.TotalHeight = util.Height(total)
	if resp.BlockIDs, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return resp, r.Done()
}

// RequestGetObjects asks for the raw bytes of a batch of blocks and/or
// standalone (pool) transactions.
type RequestGetObjects struct {
	Blocks []util.Hash
	Txs    []util.Hash
}

func EncodeRequestGetObjects(r *RequestGetObjects) []byte {
	w := serialization.NewWriter()
	writeHashList(w, r.Blocks)
	writeHashList(w, r.Txs)
	return w.Bytes()
}

func DecodeRequestGetObjects(buf []byte) (*RequestGetObjects, error) {
	r := serialization.NewReader(buf)
	req := &RequestGetObjects{}
	var err error
	if req.Blocks, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if req.Txs, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return req, r.Done()
}

// RawBlockEntry pairs one requested block's raw encoding with the raw
// encodings of every transaction it references (besides its base
// transaction, already embedded in the block encoding).
type RawBlockEntry struct {
	Block        []byte
	Transactions [][]byte
}

const maxObjectBlobSize = 1 << 24

// ResponseGetObjects answers REQUEST_GET_OBJECTS: the blocks found, any
// standalone transactions found, the ids that were not found, and the
// responder's current height (so the requester can refresh its view of
// remote progress without a separate round trip).
type ResponseGetObjects struct {
	Blocks                  []RawBlockEntry
	Txs                     [][]byte
	MissedIDs               []util.Hash
	CurrentBlockchainHeight util.Height
}

func EncodeResponseGetObjects(r *ResponseGetObjects) []byte {
	w := serialization.NewWriter()
	w.WriteUvarint(uint64(len(r.Blocks)))
	for _, b := range r.Blocks {
		w.WriteVarBytes(b.Block)
		writeBlobList(w, b.Transactions)
	}
	writeBlobList(w, r.Txs)
	writeHashList(w, r.MissedIDs)
	w.WriteUvarint(uint64(r.CurrentBlockchainHeight))
	return w.Bytes()
}

func DecodeResponseGetObjects(buf []byte) (*ResponseGetObjects, error) {
	r := serialization.NewReader(buf)
	resp := &ResponseGetObjects{}

	nBlocks, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if nBlocks > maxHashListLen {
		return nil, errors.Wrapf(ErrMalformedMessage, "block count %d exceeds maximum", nBlocks)
	}
	resp.Blocks = make([]RawBlockEntry, nBlocks)
	for i := range resp.Blocks {
		if resp.Blocks[i].Block, err = r.ReadVarBytes(maxObjectBlobSize); err != nil {
			return nil, errors.Wrap(ErrMalformedMessage, err.Error())
		}
		if resp.Blocks[i].Transactions, err = readBlobList(r, maxHashListLen, maxObjectBlobSize); err != nil {
			return nil, errors.Wrap(ErrMalformedMessage, err.Error())
		}
	}

	if resp.Txs, err = readBlobList(r, maxHashListLen, maxObjectBlobSize); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if resp.MissedIDs, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	height, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	resp.CurrentBlockchainHeight = util.Height(height)
	return resp, r.Done()
}

// NewBlock notifies of a freshly accepted block, the full raw block plus
// every transaction it references, for peers that did not advertise
// lite-block support.
type NewBlock struct {
	RawBlock                []byte
	Transactions            [][]byte
	CurrentBlockchainHeight util.Height
	Hop                     uint32
}

func EncodeNewBlock(n *NewBlock) []byte {
	w := serialization.NewWriter()
	w.WriteVarBytes(n.RawBlock)
	writeBlobList(w, n.Transactions)
	w.WriteUvarint(uint64(n.CurrentBlockchainHeight))
	w.WriteUint32(n.Hop)
	return w.Bytes()
}

func DecodeNewBlock(buf []byte) (*NewBlock, error) {
	r := serialization.NewReader(buf)
	n := &NewBlock{}
	var err error
	if n.RawBlock, err = r.ReadVarBytes(maxObjectBlobSize); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if n.Transactions, err = readBlobList(r, maxHashListLen, maxObjectBlobSize); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	height, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	n.CurrentBlockchainHeight = util.Height(height)
	if n.Hop, err = r.ReadUint32(); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return n, r.Done()
}

// NewLiteBlock notifies of a freshly accepted block to a peer that
// advertised lite-block support: the block template (header, base
// transaction, transaction hashes) without the referenced transaction
// bodies, which the receiver is expected to already have or request via
// MISSING_TXS.
type NewLiteBlock struct {
	RawBlock                []byte
	CurrentBlockchainHeight util.Height
	Hop                     uint32
}

func EncodeNewLiteBlock(n *NewLiteBlock) []byte {
	w := serialization.NewWriter()
	w.WriteVarBytes(n.RawBlock)
	w.WriteUvarint(uint64(n.CurrentBlockchainHeight))
	w.WriteUint32(n.Hop)
	return w.Bytes()
}

func DecodeNewLiteBlock(buf []byte) (*NewLiteBlock, error) {
	r := serialization.NewReader(buf)
	n := &NewLiteBlock{}
	var err error
	if n.RawBlock, err = r.ReadVarBytes(maxObjectBlobSize); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	height, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	n.CurrentBlockchainHeight = util.Height(height)
	if n.Hop, err = r.ReadUint32(); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return n, r.Done()
}

// MissingTxs is posted by a peer that received a NEW_LITE_BLOCK
// referencing transactions it does not already have.
type MissingTxs struct {
	CurrentBlockchainHeight util.Height
	BlockHash               util.Hash
	TxIDs                   []util.Hash
}

func EncodeMissingTxs(m *MissingTxs) []byte {
	w := serialization.NewWriter()
	w.WriteUvarint(uint64(m.CurrentBlockchainHeight))
	w.WriteHash(m.BlockHash)
	writeHashList(w, m.TxIDs)
	return w.Bytes()
}

func DecodeMissingTxs(buf []byte) (*MissingTxs, error) {
	r := serialization.NewReader(buf)
	m := &MissingTxs{}
	height, err := r.ReadUvarint()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	m.CurrentBlockchainHeight = util.Height(height)
	if m.BlockHash, err = r.ReadHash(); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if m.TxIDs, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return m, r.Done()
}

// NewTransactions carries raw transactions, either freshly relayed pool
// transactions or (per the block-relay flow) the transactions requested
// by a prior MISSING_TXS to complete a pending lite block.
type NewTransactions struct {
	Transactions [][]byte
}

func EncodeNewTransactions(n *NewTransactions) []byte {
	w := serialization.NewWriter()
	writeBlobList(w, n.Transactions)
	return w.Bytes()
}

func DecodeNewTransactions(buf []byte) (*NewTransactions, error) {
	r := serialization.NewReader(buf)
	n := &NewTransactions{}
	var err error
	if n.Transactions, err = readBlobList(r, maxHashListLen, maxObjectBlobSize); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return n, r.Done()
}

// RequestTxPool carries the sender's known pool transaction ids, so the
// receiver can reply with NEW_TRANSACTIONS containing only the pool diff
// the sender is missing.
type RequestTxPool struct {
	TxIDs []util.Hash
}

func EncodeRequestTxPool(r *RequestTxPool) []byte {
	w := serialization.NewWriter()
	writeHashList(w, r.TxIDs)
	return w.Bytes()
}

func DecodeRequestTxPool(buf []byte) (*RequestTxPool, error) {
	r := serialization.NewReader(buf)
	req := &RequestTxPool{}
	var err error
	if req.TxIDs, err = readHashList(r, maxHashListLen); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return req, r.Done()
}
