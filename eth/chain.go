package eth

import (
	"sync"

	"github.com/ethlink/peersync/common"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	"github.com/holiman/uint256"
)

// Chain is the local chain database this module reads from to serve
// inbound GET_BLOCK_HEADERS/GET_BLOCK_BODIES requests and to judge
// fork-recovery ancestry. It is an external collaborator — this module
// never mutates it.
type Chain interface {
	// ListHeadersFrom returns up to max headers starting at origin,
	// stepping by skip+1 in the direction reverse indicates.
	ListHeadersFrom(origin ethproto.HashOrNumber, skip, max uint64, reverse bool) []*ethproto.Header
	// ListBodiesByHashes returns bodies for the given hashes, omitting
	// any the chain does not hold (the caller must size its own slice
	// accordingly; a missing body is simply absent, not nil-padded).
	ListBodiesByHashes(hashes []common.Hash) []*ethproto.BlockBody
	BestHash() common.Hash
	BestNumber() uint64
	BestTotalDifficulty() *uint256.Int
	IsBlockExist(hash common.Hash) bool
	TotalDifficultyForHash(hash common.Hash) *uint256.Int
	GenesisHash() common.Hash
}

// MemChain is a small in-memory Chain reference implementation used by
// this module's own tests and by the CLI's demo mode. Production
// deployments back Chain with a real database; nothing in package eth
// depends on MemChain directly.
type MemChain struct {
	mu       sync.RWMutex
	genesis  common.Hash
	headers  map[common.Hash]*ethproto.Header
	byNumber map[uint64]common.Hash
	bodies   map[common.Hash]*ethproto.BlockBody
	td       map[common.Hash]*uint256.Int
	best     common.Hash
	bestNum  uint64
}

// NewMemChain creates a chain seeded with a single genesis header.
func NewMemChain(genesis *ethproto.Header, genesisTD *uint256.Int) *MemChain {
	c := &MemChain{
		genesis:  genesis.Hash,
		headers:  map[common.Hash]*ethproto.Header{genesis.Hash: genesis},
		byNumber: map[uint64]common.Hash{genesis.Number: genesis.Hash},
		bodies:   make(map[common.Hash]*ethproto.BlockBody),
		td:       map[common.Hash]*uint256.Int{genesis.Hash: genesisTD},
		best:     genesis.Hash,
		bestNum:  genesis.Number,
	}
	return c
}

// Insert appends a header (and optional body) to the chain, advancing
// the local best pointer if the new header is numbered past the current
// head. It does not fork-choice by difficulty.
func (c *MemChain) Insert(h *ethproto.Header, body *ethproto.BlockBody, td *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[h.Hash] = h
	c.byNumber[h.Number] = h.Hash
	c.td[h.Hash] = td
	if body != nil {
		c.bodies[h.Hash] = body
	}
	if h.Number > c.bestNum {
		c.bestNum = h.Number
		c.best = h.Hash
	}
}

func (c *MemChain) ListHeadersFrom(origin ethproto.HashOrNumber, skip, max uint64, reverse bool) []*ethproto.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if max > ethproto.MaxHeadersServe {
		max = ethproto.MaxHeadersServe
	}
	var start *ethproto.Header
	if origin.UseHash {
		start = c.headers[origin.Hash]
	} else {
		if hash, ok := c.byNumber[origin.Number]; ok {
			start = c.headers[hash]
		}
	}
	if start == nil {
		return nil
	}

	headers := make([]*ethproto.Header, 0, max)
	headers = append(headers, start)
	num := start.Number
	for uint64(len(headers)) < max {
		if reverse {
			step := skip + 1
			if num < step {
				break
			}
			num -= step
		} else {
			num += skip + 1
		}
		hash, ok := c.byNumber[num]
		if !ok {
			break
		}
		headers = append(headers, c.headers[hash])
	}
	return headers
}

func (c *MemChain) ListBodiesByHashes(hashes []common.Hash) []*ethproto.BlockBody {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bodies := make([]*ethproto.BlockBody, 0, len(hashes))
	for _, h := range hashes {
		if b, ok := c.bodies[h]; ok {
			bodies = append(bodies, b)
		}
	}
	return bodies
}

func (c *MemChain) BestHash() common.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best
}

func (c *MemChain) BestNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bestNum
}

func (c *MemChain) BestTotalDifficulty() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.td[c.best]
}

func (c *MemChain) IsBlockExist(hash common.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.headers[hash]
	return ok
}

func (c *MemChain) TotalDifficultyForHash(hash common.Hash) *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.td[hash]
}

func (c *MemChain) GenesisHash() common.Hash {
	return c.genesis
}
