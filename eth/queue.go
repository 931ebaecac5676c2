package eth

import (
	"sync"

	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	lru "github.com/hashicorp/golang-lru"
)

// recentlyMergedCache bounds how many merged-block hashes the reference
// queue remembers, purely to let ValidateAndAddHeaders skip (without
// error) headers the queue has already turned into blocks.
const recentlyMergedCache = 8192

// Queue is the shared download queue: it holds headers awaiting a body
// and accepts finished blocks. It is shared across every PeerHandler in
// the process and is therefore responsible for its own synchronization
// — nothing in package eth locks around a Queue call.
type Queue interface {
	PollHeaders() []*BlockHeaderWrapper
	ReturnHeaders(list []*BlockHeaderWrapper)
	ValidateAndAddHeaders(list []*ethproto.Header, peerID string) error
	AddList(blocks []*ethproto.Block, peerID string) error
	ValidateAndAddNewBlock(block *ethproto.Block, peerID string) error
	LastHeader() *ethproto.Header
	Size() int
	DropHeaders(peerID string)
	DropBlocks(peerID string)
}

// BlockHeaderWrapper pairs a header with the identity of the peer that
// supplied it, so that a body request failure can be attributed to the
// peer who actually owes the body rather than whichever peer is
// currently holding the request.
type BlockHeaderWrapper struct {
	Header *ethproto.Header
	PeerID string
}

// MemQueue is the in-memory reference Queue implementation used by this
// module's tests and the CLI's demo mode. Queue itself is an
// out-of-scope external collaborator in production; this reference
// implementation exists so the handler is testable end to end. It batches
// pending headers in FIFO order and deduplicates already-merged hashes
// with an LRU, mirroring the role go-ethereum's downloader queue plays.
type MemQueue struct {
	batchSize int

	mu      sync.Mutex
	pending []*BlockHeaderWrapper
	last    *ethproto.Header
	merged  *lru.Cache

	blocksMu sync.Mutex
	blocks   []queuedBlock
}

// queuedBlock retains the submitting peer alongside a merged block so
// DropBlocks can discard exactly the blocks a bad peer contributed.
type queuedBlock struct {
	block  *ethproto.Block
	peerID string
}

// NewMemQueue creates an empty queue that hands out up to batchSize
// headers per PollHeaders call.
func NewMemQueue(batchSize int) *MemQueue {
	cache, _ := lru.New(recentlyMergedCache)
	return &MemQueue{batchSize: batchSize, merged: cache}
}

func (q *MemQueue) ValidateAndAddHeaders(list []*ethproto.Header, peerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range list {
		if q.merged.Contains(h.Hash) {
			continue
		}
		q.pending = append(q.pending, &BlockHeaderWrapper{Header: h, PeerID: peerID})
		q.last = h
	}
	return nil
}

func (q *MemQueue) PollHeaders() []*BlockHeaderWrapper {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	n := q.batchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	return batch
}

func (q *MemQueue) ReturnHeaders(list []*BlockHeaderWrapper) {
	if len(list) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(list, q.pending...)
}

func (q *MemQueue) AddList(blocks []*ethproto.Block, peerID string) error {
	q.mu.Lock()
	for _, b := range blocks {
		q.merged.Add(b.Header.Hash, struct{}{})
	}
	q.mu.Unlock()

	q.blocksMu.Lock()
	for _, b := range blocks {
		q.blocks = append(q.blocks, queuedBlock{block: b, peerID: peerID})
	}
	q.blocksMu.Unlock()
	return nil
}

func (q *MemQueue) ValidateAndAddNewBlock(block *ethproto.Block, peerID string) error {
	return q.AddList([]*ethproto.Block{block}, peerID)
}

func (q *MemQueue) LastHeader() *ethproto.Header {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

func (q *MemQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemQueue) DropHeaders(peerID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.pending[:0]
	for _, w := range q.pending {
		if w.PeerID != peerID {
			kept = append(kept, w)
		}
	}
	q.pending = kept
}

func (q *MemQueue) DropBlocks(peerID string) {
	q.blocksMu.Lock()
	defer q.blocksMu.Unlock()
	kept := q.blocks[:0]
	for _, b := range q.blocks {
		if b.peerID != peerID {
			kept = append(kept, b)
		}
	}
	q.blocks = kept
}

// Blocks returns a snapshot of the blocks accepted so far, for tests and
// the CLI's demo mode.
func (q *MemQueue) Blocks() []*ethproto.Block {
	q.blocksMu.Lock()
	defer q.blocksMu.Unlock()
	out := make([]*ethproto.Block, len(q.blocks))
	for i, b := range q.blocks {
		out[i] = b.block
	}
	return out
}
