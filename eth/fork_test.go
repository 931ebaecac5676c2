package eth

import (
	"testing"

	"github.com/ethlink/peersync/common"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	"github.com/holiman/uint256"
)

func forkHash(n uint64) common.Hash {
	return common.BytesToHash([]byte{byte(n >> 8), byte(n), 'f', 'k'})
}

// descendingFork builds headers numbered from..to (from > to), each
// correctly chained to the next (older) one, in descending order —
// exactly the shape a REVERSE GET_BLOCK_HEADERS response takes.
func descendingFork(from, to uint64) []*ethproto.Header {
	n := int(from-to) + 1
	out := make([]*ethproto.Header, n)
	for i := 0; i < n; i++ {
		num := from - uint64(i)
		h := &ethproto.Header{Number: num, Hash: forkHash(num)}
		if num > to {
			h.ParentHash = forkHash(num - 1)
		}
		out[i] = h
	}
	return out
}

// ascendingRange builds headers numbered from..to (from < to), chained
// forward — the shape a non-reverse GET_BLOCK_HEADERS response takes.
// originHash overrides the hash used for the first (from) header, so the
// batch can be anchored on a chain's genesis hash.
func ascendingRange(from, to uint64, originHash common.Hash) []*ethproto.Header {
	n := int(to-from) + 1
	out := make([]*ethproto.Header, n)
	parent := forkHash(from - 1)
	for i := 0; i < n; i++ {
		num := from + uint64(i)
		hash := forkHash(num)
		if num == from {
			hash = originHash
		}
		out[i] = &ethproto.Header{Number: num, Hash: hash, ParentHash: parent}
		parent = hash
	}
	return out
}

func TestNegativeGapRecoveryFindsAncestorAndStartsBlockRetrieving(t *testing.T) {
	genesis := &ethproto.Header{Number: 0, Hash: common.BytesToHash([]byte("genesis"))}
	chain := NewMemChain(genesis, uint256.NewInt(1))
	chain.Insert(&ethproto.Header{Number: 480, Hash: forkHash(480)}, nil, uint256.NewInt(1))
	chain.Insert(&ethproto.Header{Number: 500, Hash: forkHash(500)}, nil, uint256.NewInt(1))

	queue := NewMemQueue(100)
	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()
	h.handshakePhase = HandshakeSucceeded

	gap := ethproto.BlockIdentifier{Number: 490, Hash: forkHash(490)}
	if err := h.RecoverGap(gap); err != nil {
		t.Fatalf("RecoverGap: %v", err)
	}
	if h.SyncPhase() != HashRetrieving {
		t.Fatalf("phase = %v, want HashRetrieving", h.SyncPhase())
	}
	if _, err := remote.ReadMsg(); err != nil {
		t.Fatalf("expected fork-recovery request: %v", err)
	}

	batch := descendingFork(490, 480) // includes the ancestor at 480
	if err := h.handleBlockHeaders(batch); err != nil {
		t.Fatalf("handleBlockHeaders: %v", err)
	}

	if !h.commonAncestorFound {
		t.Fatal("expected commonAncestorFound to be set")
	}
	// Entering BlockRetrieving immediately polls the submitted headers
	// back out of the queue into the handler's outstanding-body set.
	if h.sentHeadersLen() != 10 {
		t.Fatalf("sentHeadersLen() = %d, want 10 (490..481)", h.sentHeadersLen())
	}
	for _, w := range h.sentHdr {
		if w.Header.Number < 481 || w.Header.Number > 490 {
			t.Fatalf("unexpected header submitted to queue: %+v", w.Header)
		}
	}
	if h.SyncPhase() != BlockRetrieving {
		t.Fatalf("phase = %v, want BlockRetrieving", h.SyncPhase())
	}
}

func TestForkRecoveryOriginMismatchIsRejected(t *testing.T) {
	genesis := &ethproto.Header{Number: 0, Hash: common.BytesToHash([]byte("genesis"))}
	chain := NewMemChain(genesis, uint256.NewInt(1))
	chain.Insert(&ethproto.Header{Number: 500, Hash: forkHash(500)}, nil, uint256.NewInt(1))

	queue := NewMemQueue(100)
	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()
	h.handshakePhase = HandshakeSucceeded

	gap := ethproto.BlockIdentifier{Number: 490, Hash: forkHash(490)}
	if err := h.RecoverGap(gap); err != nil {
		t.Fatalf("RecoverGap: %v", err)
	}
	if _, err := remote.ReadMsg(); err != nil {
		t.Fatalf("drain request: %v", err)
	}

	wrongOrigin := descendingFork(489, 480) // doesn't start at the requested gap hash
	if err := h.handleBlockHeaders(wrongOrigin); err == nil {
		t.Fatal("expected a rejection for mismatched fork origin")
	}
}

func TestPositiveGapRecoveryContinuesForwardToGapBlock(t *testing.T) {
	genesis := &ethproto.Header{Number: 0, Hash: common.BytesToHash([]byte("genesis"))}
	chain := NewMemChain(genesis, uint256.NewInt(1))
	chain.Insert(&ethproto.Header{Number: 10, Hash: forkHash(10)}, nil, uint256.NewInt(1))

	queue := NewMemQueue(100)
	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()
	h.handshakePhase = HandshakeSucceeded

	gap := ethproto.BlockIdentifier{Number: 20, Hash: forkHash(20)}
	if err := h.RecoverGap(gap); err != nil {
		t.Fatalf("RecoverGap: %v", err)
	}
	if h.negativeGap() {
		t.Fatal("expected a positive gap (20 is ahead of local best 10)")
	}

	// Coverage-search request: ascending window from 0 up to the chain
	// head, which processForkCoverage reverses to search newest-first.
	if _, err := remote.ReadMsg(); err != nil {
		t.Fatalf("drain coverage request: %v", err)
	}
	coverage := ascendingRange(0, 10, chain.GenesisHash())
	if err := h.handleBlockHeaders(coverage); err != nil {
		t.Fatalf("handleBlockHeaders (coverage): %v", err)
	}
	if !h.commonAncestorFound {
		t.Fatal("expected ancestor to be found immediately at the chain head")
	}
	if h.SyncPhase() != HashRetrieving {
		t.Fatalf("phase = %v, want still HashRetrieving for forward continuation", h.SyncPhase())
	}

	// Forward continuation: drain and answer with headers up to (but not
	// including) the gap block, then with a batch reaching it.
	if _, err := remote.ReadMsg(); err != nil {
		t.Fatalf("drain forward request: %v", err)
	}
	forward := ascendingRange(11, 12, forkHash(11))
	if err := h.handleBlockHeaders(forward); err != nil {
		t.Fatalf("handleBlockHeaders (forward): %v", err)
	}
	if h.SyncPhase() != HashRetrieving {
		t.Fatalf("phase = %v, want HashRetrieving before reaching the gap block", h.SyncPhase())
	}

	if _, err := remote.ReadMsg(); err != nil {
		t.Fatalf("drain second forward request: %v", err)
	}
	final := ascendingRange(13, 20, forkHash(13))
	if err := h.handleBlockHeaders(final); err != nil {
		t.Fatalf("handleBlockHeaders (final): %v", err)
	}
	if h.SyncPhase() != BlockRetrieving {
		t.Fatalf("phase = %v, want BlockRetrieving after reaching the gap block", h.SyncPhase())
	}
}
