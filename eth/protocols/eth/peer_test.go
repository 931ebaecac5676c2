package eth

import (
	"testing"

	"github.com/ethlink/peersync/common"
	"github.com/ethlink/peersync/p2p"
	"github.com/holiman/uint256"
)

func testStatus(genesis common.Hash) *StatusPacket {
	return &StatusPacket{
		ProtocolVersion: 1,
		NetworkID:       1,
		TD:              uint256.NewInt(100),
		BestHash:        common.BytesToHash([]byte("head")),
		GenesisHash:     genesis,
	}
}

func newTestPeerPair() (*Peer, *Peer) {
	a, b := p2p.MsgPipe()
	pa := NewPeer(1, p2p.NewPeer("b", "peer-b"), a)
	pb := NewPeer(1, p2p.NewPeer("a", "peer-a"), b)
	return pa, pb
}

func TestHandshakeSuccess(t *testing.T) {
	genesis := common.BytesToHash([]byte("genesis"))
	pa, pb := newTestPeerPair()

	errc := make(chan error, 1)
	var remoteAtB *StatusPacket
	go func() {
		var err error
		remoteAtB, err = pb.Handshake(testStatus(genesis))
		errc <- err
	}()

	remoteAtA, err := pa.Handshake(testStatus(genesis))
	if err != nil {
		t.Fatalf("pa.Handshake: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("pb.Handshake: %v", err)
	}
	if remoteAtA.GenesisHash != genesis || remoteAtB.GenesisHash != genesis {
		t.Fatal("handshake did not exchange genesis hash correctly")
	}
}

func TestHandshakeGenesisMismatch(t *testing.T) {
	pa, pb := newTestPeerPair()

	go pb.Handshake(testStatus(common.BytesToHash([]byte("other-genesis"))))

	_, err := pa.Handshake(testStatus(common.BytesToHash([]byte("genesis"))))
	if err != ErrGenesisMismatch {
		t.Fatalf("err = %v, want %v", err, ErrGenesisMismatch)
	}
}

func TestHandshakeProtocolVersionMismatch(t *testing.T) {
	pa, pb := newTestPeerPair()
	genesis := common.BytesToHash([]byte("genesis"))

	remoteStatus := testStatus(genesis)
	remoteStatus.ProtocolVersion = 2
	go pb.SendStatus(remoteStatus)

	_, err := pa.Handshake(testStatus(genesis))
	if err != ErrProtocolVersionMismatch {
		t.Fatalf("err = %v, want %v", err, ErrProtocolVersionMismatch)
	}
}

func TestHandshakeNetworkIDMismatch(t *testing.T) {
	pa, pb := newTestPeerPair()
	genesis := common.BytesToHash([]byte("genesis"))

	remoteStatus := testStatus(genesis)
	remoteStatus.NetworkID = 2
	go pb.SendStatus(remoteStatus)

	_, err := pa.Handshake(testStatus(genesis))
	if err != ErrNetworkIDMismatch {
		t.Fatalf("err = %v, want %v", err, ErrNetworkIDMismatch)
	}
}

func TestHandshakeFirstMessageNotStatus(t *testing.T) {
	pa, pb := newTestPeerPair()
	go p2p.Send(pb.rw, GetBlockBodiesMsg, GetBlockBodiesPacket{})

	_, err := pa.Handshake(testStatus(common.BytesToHash([]byte("genesis"))))
	if err != ErrNoStatusMsg {
		t.Fatalf("err = %v, want %v", err, ErrNoStatusMsg)
	}
}

func TestMarkBlockBounded(t *testing.T) {
	pa, _ := newTestPeerPair()
	for i := 0; i < maxKnownBlocks+10; i++ {
		pa.MarkBlock(common.BytesToHash([]byte{byte(i), byte(i >> 8)}))
	}
	if pa.knownBlocks.Cardinality() > maxKnownBlocks {
		t.Fatalf("knownBlocks grew past cap: %d", pa.knownBlocks.Cardinality())
	}
}

func TestRequestHeadersByNumberSendsExpectedPacket(t *testing.T) {
	pa, pb := newTestPeerPair()
	if err := pa.RequestHeadersByNumber(42, 10, 0, false); err != nil {
		t.Fatalf("RequestHeadersByNumber: %v", err)
	}
	msg, err := pb.rw.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if msg.Code != GetBlockHeadersMsg {
		t.Fatalf("code = %d, want %d", msg.Code, GetBlockHeadersMsg)
	}
	req, ok := msg.Payload.(*GetBlockHeadersPacket)
	if !ok {
		t.Fatalf("payload type = %T", msg.Payload)
	}
	if req.Origin.Number != 42 || req.Amount != 10 {
		t.Fatalf("unexpected request: %+v", req)
	}
}
