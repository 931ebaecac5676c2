package eth

import (
	"testing"

	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
)

func TestChangeStateIsIdempotent(t *testing.T) {
	chain := buildChain(0)
	queue := NewMemQueue(10)
	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()
	h.handshakePhase = HandshakeSucceeded
	h.syncDone = false

	h.ChangeState(HashRetrieving)
	if _, err := remote.ReadMsg(); err != nil {
		t.Fatalf("expected the first entry to request headers: %v", err)
	}

	h.ChangeState(HashRetrieving)
	done := make(chan struct{})
	go func() {
		remote.ReadMsg()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("re-entering the same phase issued a second request")
	default:
	}
}

func TestStartHeaderRetrievingPrefersQueueOverChain(t *testing.T) {
	chain := buildChain(5)
	queue := NewMemQueue(10)
	queue.ValidateAndAddHeaders([]*ethproto.Header{hdr(20, "ahead")}, "peer1")
	queue.PollHeaders() // drain pending so only LastHeader bookkeeping remains

	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()
	h.handshakePhase = HandshakeSucceeded

	h.ChangeState(HashRetrieving)
	msg, err := remote.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	req := msg.Payload.(*ethproto.GetBlockHeadersPacket)
	if req.Origin.Number != 21 {
		t.Fatalf("origin = %d, want 21 (queue's last header + 1, not chain's 5+1)", req.Origin.Number)
	}
}

func TestChangeStateToBlockRetrievingCollapsesToIdleWhenQueueEmpty(t *testing.T) {
	chain := buildChain(0)
	queue := NewMemQueue(10)
	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()

	h.ChangeState(BlockRetrieving)
	if h.SyncPhase() != Idle {
		t.Fatalf("phase = %v, want Idle when the queue has nothing to request bodies for", h.SyncPhase())
	}
}

func TestChangeStateToBlockRetrievingRequestsBodies(t *testing.T) {
	chain := buildChain(0)
	queue := NewMemQueue(10)
	queue.ValidateAndAddHeaders([]*ethproto.Header{hdr(1, "a")}, "peer1")

	h, remote := newTestHandler(chain, queue, defaultTestConfig())
	defer remote.Close()

	h.ChangeState(BlockRetrieving)
	if h.SyncPhase() != BlockRetrieving {
		t.Fatalf("phase = %v, want BlockRetrieving", h.SyncPhase())
	}
	msg, err := remote.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if msg.Code != ethproto.GetBlockBodiesMsg {
		t.Fatalf("code = %d, want GET_BLOCK_BODIES", msg.Code)
	}
	if h.sentHeadersLen() != 1 {
		t.Fatalf("sentHeadersLen = %d, want 1", h.sentHeadersLen())
	}
}
