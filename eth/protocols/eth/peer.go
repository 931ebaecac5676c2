package eth

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethlink/peersync/common"
	"github.com/ethlink/peersync/log"
	"github.com/ethlink/peersync/p2p"
	"golang.org/x/time/rate"
)

// maxKnownBlocks/maxKnownTxs bound the peer's "already seen" sets so a
// chatty peer can't grow them without limit. The real go-ethereum
// eth/peer.go uses the same mapset-backed, size-capped pattern for its
// knownBlocks/knownTxs fields.
const (
	maxKnownBlocks = 1024
	maxKnownTxs    = 4096
)

// requestRate bounds how often this peer's dispatcher may issue a new
// headers/bodies request, so a single fast-polling peer can't monopolize
// the handler's outbound bandwidth.
const requestRate = 20 // requests per second

// Peer wraps a transport connection with protocol-level send primitives
// and handshake bookkeeping. It owns no sync-state decisions — those
// belong to eth.PeerHandler, one layer up.
type Peer struct {
	*p2p.Peer
	rw      p2p.MsgReadWriter
	version uint32

	limiter *rate.Limiter

	mu          sync.Mutex
	knownBlocks mapset.Set[common.Hash]
	knownTxs    mapset.Set[common.Hash]
}

// NewPeer wraps a transport peer and read-writer for protocol use.
func NewPeer(version uint32, p *p2p.Peer, rw p2p.MsgReadWriter) *Peer {
	return &Peer{
		Peer:        p,
		rw:          rw,
		version:     version,
		limiter:     rate.NewLimiter(rate.Limit(requestRate), requestRate),
		knownBlocks: mapset.NewSet[common.Hash](),
		knownTxs:    mapset.NewSet[common.Hash](),
	}
}

// Version reports the negotiated protocol version.
func (p *Peer) Version() uint32 { return p.version }

// Disconnect tears down the underlying transport with reason. The
// read-writer a production deployment supplies is expected to also
// implement p2p.Disconnecter (as p2p.MsgPipeRW does for tests); a
// read-writer that doesn't simply can't be disconnected from here.
func (p *Peer) Disconnect(reason p2p.DiscReason) {
	if d, ok := p.rw.(p2p.Disconnecter); ok {
		d.Disconnect(reason)
	}
}

// MarkBlock records that the peer is known to have a block, bounding
// the set so memory doesn't grow unboundedly over a long connection.
func (p *Peer) MarkBlock(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.knownBlocks.Cardinality() >= maxKnownBlocks {
		p.knownBlocks.Pop()
	}
	p.knownBlocks.Add(hash)
}

// KnowsBlock reports whether the peer has previously announced hash.
func (p *Peer) KnowsBlock(hash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.knownBlocks.Contains(hash)
}

// MarkTransaction records that the peer is known to have a transaction.
func (p *Peer) MarkTransaction(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.knownTxs.Cardinality() >= maxKnownTxs {
		p.knownTxs.Pop()
	}
	p.knownTxs.Add(hash)
}

// SendStatus transmits this node's handshake record.
func (p *Peer) SendStatus(status *StatusPacket) error {
	return p2p.Send(p.rw, StatusMsg, status)
}

// ReadStatus blocks for the peer's STATUS response. Returning anything
// but a STATUS message here is itself a handshake failure.
func (p *Peer) ReadStatus() (*StatusPacket, error) {
	msg, err := p.rw.ReadMsg()
	if err != nil {
		return nil, err
	}
	if msg.Code != StatusMsg {
		return nil, ErrNoStatusMsg
	}
	status, ok := msg.Payload.(*StatusPacket)
	if !ok {
		return nil, ErrNoStatusMsg
	}
	return status, nil
}

// RequestHeadersByNumber issues a GET_BLOCK_HEADERS request starting at
// a block number.
func (p *Peer) RequestHeadersByNumber(origin uint64, amount uint64, skip uint64, reverse bool) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return err
	}
	log.Trace("Fetching block headers", "peer", p.ID(), "origin", origin, "amount", amount)
	return p2p.Send(p.rw, GetBlockHeadersMsg, &GetBlockHeadersPacket{
		Origin:  HashOrNumber{Number: origin},
		Amount:  amount,
		Skip:    skip,
		Reverse: reverse,
	})
}

// RequestHeadersByHash issues a GET_BLOCK_HEADERS request starting at a
// block hash.
func (p *Peer) RequestHeadersByHash(origin common.Hash, amount uint64, skip uint64, reverse bool) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return err
	}
	log.Trace("Fetching block headers", "peer", p.ID(), "origin", origin, "amount", amount)
	return p2p.Send(p.rw, GetBlockHeadersMsg, &GetBlockHeadersPacket{
		Origin:  HashOrNumber{Hash: origin, UseHash: true},
		Amount:  amount,
		Skip:    skip,
		Reverse: reverse,
	})
}

// RequestBodies issues a GET_BLOCK_BODIES request for the given hashes.
func (p *Peer) RequestBodies(hashes []common.Hash) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return err
	}
	log.Trace("Fetching block bodies", "peer", p.ID(), "count", len(hashes))
	return p2p.Send(p.rw, GetBlockBodiesMsg, GetBlockBodiesPacket(hashes))
}

// SendBlockHeaders replies to a GET_BLOCK_HEADERS request.
func (p *Peer) SendBlockHeaders(headers []*Header) error {
	return p2p.Send(p.rw, BlockHeadersMsg, BlockHeadersPacket(headers))
}

// SendBlockBodies replies to a GET_BLOCK_BODIES request.
func (p *Peer) SendBlockBodies(bodies []*BlockBody) error {
	return p2p.Send(p.rw, BlockBodiesMsg, BlockBodiesPacket(bodies))
}

// ReadMsg exposes the underlying transport for the router above.
func (p *Peer) ReadMsg() (p2p.Msg, error) { return p.rw.ReadMsg() }

// Handshake performs the STATUS exchange concurrently (mirroring
// eth/protocols/eth's testHandshake pattern: one goroutine sends while
// the caller blocks on the read) and validates the remote record against
// our own. The caller (eth.PeerHandler) owns
// what happens after a mismatch — disconnect reason selection and peer
// removal are its responsibility, not this package's.
func (p *Peer) Handshake(local *StatusPacket) (*StatusPacket, error) {
	errc := make(chan error, 1)
	go func() { errc <- p.SendStatus(local) }()

	remote, err := p.ReadStatus()
	if err != nil {
		<-errc
		return nil, err
	}
	if sendErr := <-errc; sendErr != nil {
		return nil, sendErr
	}

	if remote.GenesisHash != local.GenesisHash {
		return remote, ErrGenesisMismatch
	}
	if remote.ProtocolVersion != local.ProtocolVersion {
		return remote, ErrProtocolVersionMismatch
	}
	if remote.NetworkID != local.NetworkID {
		return remote, ErrNetworkIDMismatch
	}
	return remote, nil
}
