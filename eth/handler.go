// Package eth implements the per-peer sync protocol handler: one
// PeerHandler is bound 1:1 to a connection, negotiates the handshake,
// drives the header/body download state machine against that peer, and
// validates every response before it reaches the shared queue.
package eth

import (
	"errors"
	"sync"

	"github.com/ethlink/peersync/common"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	"github.com/ethlink/peersync/log"
	"github.com/ethlink/peersync/p2p"
)

// ProtocolVersion is the single protocol version this handler negotiates.
// This module implements exactly one wire version, so the version
// identifier collapses to a constant rather than an enum with one member.
const ProtocolVersion = 1

// HandshakePhase tracks handshake progress.
type HandshakePhase int

const (
	HandshakeInit HandshakePhase = iota
	HandshakeSucceeded
	HandshakeFailed
)

func (p HandshakePhase) String() string {
	switch p {
	case HandshakeInit:
		return "init"
	case HandshakeSucceeded:
		return "succeeded"
	case HandshakeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listener receives node-level notifications the handler emits as it
// learns about the peer and the wider chain.
type Listener interface {
	OnEthStatusUpdated(peerID string, status *ethproto.StatusPacket)
	OnNewBlockNumber(number uint64)
}

// TxPool receives gossiped transactions when processing is enabled.
// This interface exists only so TRANSACTIONS messages have somewhere
// legal to go, and is nil-safe — a handler with no pool simply discards.
type TxPool interface {
	AddRemote(tx *ethproto.Transaction) error
}

// Config carries the handler's static, per-node configuration.
type Config struct {
	NetworkID         uint64
	MaxHashesAsk      uint64
	PeerDiscoveryMode bool
	ProcessTxs        bool
}

// PeerHandler is the core state machine of this module: one instance per
// connected peer, combining the handshake controller, request
// dispatcher, response router, response validator, sync state machine
// and fork-recovery planner.
type PeerHandler struct {
	peer   *ethproto.Peer
	chain  Chain
	queue  Queue
	lstn   Listener
	txPool TxPool
	cfg    Config

	handshakePhase HandshakePhase
	syncPhase      SyncPhase
	syncDone       bool

	headersRequest *ethproto.GetBlockHeadersPacket

	sentMu  sync.Mutex
	sentHdr []*BlockHeaderWrapper

	bestKnownBlock *ethproto.BlockIdentifier
	eldestHash     *common.Hash
	lastHashToAsk  *common.Hash

	commonAncestorFound bool
	gapBlock            *ethproto.BlockIdentifier
}

// NewPeerHandler wires a freshly accepted connection to its collaborators.
func NewPeerHandler(peer *ethproto.Peer, chain Chain, queue Queue, lstn Listener, txPool TxPool, cfg Config) *PeerHandler {
	return &PeerHandler{
		peer:                peer,
		chain:               chain,
		queue:               queue,
		lstn:                lstn,
		txPool:              txPool,
		cfg:                 cfg,
		syncDone:            true,
		commonAncestorFound: true,
	}
}

// Peer exposes the wrapped protocol peer (ID, known-block bookkeeping).
func (h *PeerHandler) Peer() *ethproto.Peer { return h.peer }

// HandshakePhase reports the current handshake phase.
func (h *PeerHandler) HandshakePhase() HandshakePhase { return h.handshakePhase }

// SyncPhase reports the current sync phase.
func (h *PeerHandler) SyncPhase() SyncPhase { return h.syncPhase }

// BestKnownBlock reports the highest (number, hash) the peer has ever
// advertised, or nil before the initial probe completes.
func (h *PeerHandler) BestKnownBlock() *ethproto.BlockIdentifier { return h.bestKnownBlock }

// SetSyncDone flips the long-sync flag; the orchestrator calls this once
// the local chain has caught up across all peers.
func (h *PeerHandler) SetSyncDone(done bool) { h.syncDone = done }

// Info is a debug/status snapshot of this handler, the kind of
// peer-info surface a node-status or PeerInfo callback needs.
type Info struct {
	Version        uint32
	HandshakePhase HandshakePhase
	SyncPhase      SyncPhase
	BestKnownBlock *ethproto.BlockIdentifier
}

func (h *PeerHandler) Info() Info {
	return Info{
		Version:        h.peer.Version(),
		HandshakePhase: h.handshakePhase,
		SyncPhase:      h.syncPhase,
		BestKnownBlock: h.bestKnownBlock,
	}
}

// localStatus builds this node's STATUS record from the chain.
func (h *PeerHandler) localStatus() *ethproto.StatusPacket {
	return &ethproto.StatusPacket{
		ProtocolVersion: ProtocolVersion,
		NetworkID:       h.cfg.NetworkID,
		TD:              h.chain.BestTotalDifficulty(),
		BestHash:        h.chain.BestHash(),
		GenesisHash:     h.chain.GenesisHash(),
	}
}

// Activate runs the handler to completion: it performs the handshake,
// then loops reading and routing messages until disconnect. It is
// intended to run on its own goroutine, one per accepted connection:
// the handshake is sent as soon as the handler activates.
func (h *PeerHandler) Activate() error {
	remote, err := h.peer.Handshake(h.localStatus())
	if err != nil {
		h.handshakePhase = HandshakeFailed
		reason := handshakeDisconnectReason(err)
		log.Info("Handshake failed", "peer", h.peer.ID(), "err", err)
		h.peer.Disconnect(reason)
		return err
	}
	if h.cfg.PeerDiscoveryMode {
		h.peer.Disconnect(p2p.DiscRequested)
		return nil
	}

	h.lstn.OnEthStatusUpdated(h.peer.ID(), remote)

	// Phase stays INIT until the initial probe's response arrives;
	// handleBlockHeaders moves it to SUCCEEDED.
	if err := h.sendGetHeadersByHash(remote.BestHash, 1, 0, false); err != nil {
		h.onShutdown(false, p2p.DiscNetworkError)
		return err
	}

	for {
		msg, err := h.peer.ReadMsg()
		if err != nil {
			h.onShutdown(false, p2p.DiscNetworkError)
			return err
		}
		if err := h.route(msg); err != nil {
			h.dropConnection(err)
			return err
		}
	}
}

func handshakeDisconnectReason(err error) p2p.DiscReason {
	switch {
	case errors.Is(err, ethproto.ErrGenesisMismatch), errors.Is(err, ethproto.ErrProtocolVersionMismatch):
		return p2p.DiscIncompatibleProtocol
	case errors.Is(err, ethproto.ErrNetworkIDMismatch):
		return p2p.DiscNullIdentity
	default:
		return p2p.DiscProtocolError
	}
}

// route dispatches one inbound message by command. A non-nil return
// always means a protocol violation, handled uniformly by the caller
// via dropConnection; legal-but-empty outcomes return nil and drive the
// state machine forward instead.
func (h *PeerHandler) route(msg p2p.Msg) error {
	switch msg.Code {
	case ethproto.StatusMsg:
		return errors.New("eth: unexpected STATUS after handshake")

	case ethproto.NewBlockHashesMsg:
		ids, ok := msg.Payload.(ethproto.NewBlockHashesPacket)
		if !ok {
			return errors.New("eth: malformed NEW_BLOCK_HASHES")
		}
		return h.handleNewBlockHashes(ids)

	case ethproto.TransactionsMsg:
		txs, ok := msg.Payload.(ethproto.TransactionsPacket)
		if !ok {
			return errors.New("eth: malformed TRANSACTIONS")
		}
		h.handleTransactions(txs)
		return nil

	case ethproto.GetBlockHeadersMsg:
		req, ok := msg.Payload.(*ethproto.GetBlockHeadersPacket)
		if !ok {
			return errors.New("eth: malformed GET_BLOCK_HEADERS")
		}
		return h.handleGetBlockHeaders(req)

	case ethproto.GetBlockBodiesMsg:
		hashes, ok := msg.Payload.(ethproto.GetBlockBodiesPacket)
		if !ok {
			return errors.New("eth: malformed GET_BLOCK_BODIES")
		}
		return h.handleGetBlockBodies(hashes)

	case ethproto.BlockHeadersMsg:
		headers, ok := msg.Payload.(ethproto.BlockHeadersPacket)
		if !ok {
			return errors.New("eth: malformed BLOCK_HEADERS")
		}
		return h.handleBlockHeaders(headers)

	case ethproto.BlockBodiesMsg:
		bodies, ok := msg.Payload.(ethproto.BlockBodiesPacket)
		if !ok {
			return errors.New("eth: malformed BLOCK_BODIES")
		}
		return h.handleBlockBodies(bodies)

	case ethproto.NewBlockMsg:
		nb, ok := msg.Payload.(*ethproto.NewBlockPacket)
		if !ok {
			return errors.New("eth: malformed NEW_BLOCK")
		}
		return h.handleNewBlock(nb)

	default:
		return errors.New("eth: unknown message code")
	}
}

func (h *PeerHandler) handleNewBlockHashes(ids ethproto.NewBlockHashesPacket) error {
	if len(ids) == 0 {
		return nil
	}
	best := ids[0]
	minNumber := ids[0].Number
	for _, id := range ids[1:] {
		if id.Number > best.Number {
			best = id
		}
		if id.Number < minNumber {
			minNumber = id.Number
		}
	}
	h.updateBestKnownBlock(best)
	h.lstn.OnNewBlockNumber(best.Number)

	if h.syncDone && h.syncPhase != HashRetrieving {
		amount := best.Number - minNumber + 1
		if err := h.sendGetHeadersByNumber(minNumber, amount); err != nil {
			return err
		}
	}
	return nil
}

func (h *PeerHandler) handleTransactions(txs ethproto.TransactionsPacket) {
	if !h.cfg.ProcessTxs {
		return
	}
	for _, tx := range txs {
		h.peer.MarkTransaction(tx.Hash)
		if h.txPool != nil {
			if err := h.txPool.AddRemote(tx); err != nil {
				log.Debug("Transaction rejected", "peer", h.peer.ID(), "hash", tx.Hash, "err", err)
			}
		}
	}
}

func (h *PeerHandler) handleGetBlockHeaders(req *ethproto.GetBlockHeadersPacket) error {
	amount := req.Amount
	if amount > ethproto.MaxHeadersServe {
		amount = ethproto.MaxHeadersServe
	}
	headers := h.chain.ListHeadersFrom(req.Origin, req.Skip, amount, req.Reverse)
	return h.peer.SendBlockHeaders(headers)
}

func (h *PeerHandler) handleGetBlockBodies(hashes ethproto.GetBlockBodiesPacket) error {
	bodies := h.chain.ListBodiesByHashes(hashes)
	return h.peer.SendBlockBodies(bodies)
}

// handleBlockHeaders validates the response against the outstanding
// request, then dispatches by handshake phase, syncDone, sync state,
// and whether a common ancestor has been found yet.
func (h *PeerHandler) handleBlockHeaders(headers ethproto.BlockHeadersPacket) error {
	req := h.headersRequest
	if req == nil {
		return errNoOutstandingRequest
	}
	if err := h.validateHeaders(req, headers); err != nil {
		return err
	}
	h.headersRequest = nil

	switch {
	case h.handshakePhase == HandshakeInit:
		hdr := headers[0]
		h.updateBestKnownBlock(ethproto.BlockIdentifier{Number: hdr.Number, Hash: hdr.Hash})
		h.handshakePhase = HandshakeSucceeded
		return nil
	case !h.syncDone:
		return h.processHeaderRetrieving(headers)
	case h.syncPhase != HashRetrieving:
		return h.processNewBlockHeaders(headers)
	case !h.commonAncestorFound:
		return h.processForkCoverage(headers)
	default:
		return h.processGapRecovery(headers)
	}
}

func (h *PeerHandler) handleBlockBodies(bodies ethproto.BlockBodiesPacket) error {
	blocks, err := h.mergeBodies(bodies)
	if err != nil {
		return err
	}
	if err := h.queue.AddList(blocks, h.peer.ID()); err != nil {
		return errQueueRejected
	}
	if h.syncPhase == BlockRetrieving {
		ok, err := h.sendGetBodies()
		if err != nil {
			return err
		}
		if !ok {
			h.syncPhase = Idle
		}
	}
	return nil
}

func (h *PeerHandler) handleNewBlock(nb *ethproto.NewBlockPacket) error {
	localTD := h.chain.BestTotalDifficulty()
	if nb.AnnouncedTotalDifficulty.Cmp(localTD) < 0 {
		return nil // a lower-difficulty announcement is simply stale, not a violation
	}
	h.updateBestKnownBlock(ethproto.BlockIdentifier{Number: nb.Block.Header.Number, Hash: nb.Block.Header.Hash})
	if h.syncDone {
		if err := h.queue.ValidateAndAddNewBlock(nb.Block, h.peer.ID()); err != nil {
			return errQueueRejected
		}
	}
	return nil
}

// updateBestKnownBlock enforces a monotonic-advance invariant: replaced
// only when the candidate number is strictly greater.
func (h *PeerHandler) updateBestKnownBlock(id ethproto.BlockIdentifier) {
	if h.bestKnownBlock == nil || id.Number > h.bestKnownBlock.Number {
		next := id
		h.bestKnownBlock = &next
	}
}

// dropConnection handles any protocol violation: it drops the peer,
// instructs the queue to discard its contributions, and reclaims held
// headers via onShutdown.
func (h *PeerHandler) dropConnection(err error) {
	log.Info("Protocol violation, dropping peer", "peer", h.peer.ID(), "err", err)
	h.onShutdown(true, p2p.DiscUselessPeer)
}

// onShutdown is the sole cancellation path: it idles the sync state,
// returns every held header to the shared queue, optionally instructs
// the queue to drop this peer's contributions, and sends the disconnect
// reason on the wire. It may run on the supervisor's goroutine rather
// than the handler's own message-processing goroutine, which is why
// sentHdr is the only field accessed under a mutex.
func (h *PeerHandler) onShutdown(judgedBad bool, reason p2p.DiscReason) {
	h.syncPhase = Idle
	drained := h.drainSentHeaders()
	h.queue.ReturnHeaders(drained)
	if judgedBad {
		h.queue.DropHeaders(h.peer.ID())
		h.queue.DropBlocks(h.peer.ID())
	}
	h.peer.Disconnect(reason)
}

// Shutdown is the supervisor-initiated disconnect path: timeouts are
// supplied by the supervisor, not this handler. It is safe to call from
// a different goroutine than the one running Activate.
func (h *PeerHandler) Shutdown() {
	h.onShutdown(false, p2p.DiscQuitting)
}

func (h *PeerHandler) reserveSentHeaders(batch []*BlockHeaderWrapper) {
	h.sentMu.Lock()
	defer h.sentMu.Unlock()
	h.sentHdr = append(h.sentHdr, batch...)
}

func (h *PeerHandler) drainSentHeaders() []*BlockHeaderWrapper {
	h.sentMu.Lock()
	defer h.sentMu.Unlock()
	drained := h.sentHdr
	h.sentHdr = nil
	return drained
}

// sentHeadersLen reports the current outstanding-body count, mostly for
// tests.
func (h *PeerHandler) sentHeadersLen() int {
	h.sentMu.Lock()
	defer h.sentMu.Unlock()
	return len(h.sentHdr)
}
