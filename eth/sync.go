package eth

import (
	"github.com/ethlink/peersync/common"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	"github.com/ethlink/peersync/log"
)

// SyncPhase is the per-peer download state.
type SyncPhase int

const (
	Idle SyncPhase = iota
	HashRetrieving
	DoneHashRetrieving
	BlockRetrieving
)

func (s SyncPhase) String() string {
	switch s {
	case Idle:
		return "idle"
	case HashRetrieving:
		return "hash-retrieving"
	case DoneHashRetrieving:
		return "done-hash-retrieving"
	case BlockRetrieving:
		return "block-retrieving"
	default:
		return "unknown"
	}
}

// ChangeState is the sync phase transition the orchestrator drives; the
// handler also calls it itself to enter BLOCK_RETRIEVING once fork or gap
// recovery completes, and sets a few phases directly while processing
// responses. It is idempotent: asking for the phase already in effect
// does nothing.
func (h *PeerHandler) ChangeState(next SyncPhase) {
	if h.syncPhase == next {
		return
	}
	h.syncPhase = next

	switch next {
	case HashRetrieving:
		h.startHeaderRetrieving()
	case BlockRetrieving:
		ok, err := h.sendGetBodies()
		if err != nil {
			log.Debug("Failed to request bodies", "peer", h.peer.ID(), "err", err)
			return
		}
		if !ok {
			h.syncPhase = Idle
		}
	}
}

// startHeaderRetrieving begins a forward header sync at whichever of the
// queue's last known header or the local chain's head is further along
// recording that reference's hash as the chaining anchor for the
// first response.
func (h *PeerHandler) startHeaderRetrieving() {
	h.lastHashToAsk = nil
	h.commonAncestorFound = true

	refNumber, refHash := h.chain.BestNumber(), h.chain.BestHash()
	if last := h.queue.LastHeader(); last != nil && last.Number > refNumber {
		refNumber, refHash = last.Number, last.Hash
	}

	h.eldestHash = &refHash
	if err := h.sendGetHeadersByNumber(refNumber+1, h.cfg.MaxHashesAsk); err != nil {
		log.Debug("Failed to request headers", "peer", h.peer.ID(), "err", err)
	}
}

// processHeaderRetrieving handles a BLOCK_HEADERS response while this
// peer is the one driving the long-sync hash retrieval.
func (h *PeerHandler) processHeaderRetrieving(headers []*ethproto.Header) error {
	if len(headers) == 0 {
		h.syncPhase = DoneHashRetrieving
		return nil
	}
	if err := h.queue.ValidateAndAddHeaders(headers, h.peer.ID()); err != nil {
		return errQueueRejected
	}
	if h.syncPhase == HashRetrieving {
		last := headers[len(headers)-1]
		h.eldestHash = &last.Hash
		if err := h.sendGetHeadersByNumber(last.Number+1, h.cfg.MaxHashesAsk); err != nil {
			return err
		}
	}
	return nil
}

// processNewBlockHeaders handles a BLOCK_HEADERS response outside the
// long-sync hash-retrieving phase: it is simply handed to the queue with
// no follow-up request.
func (h *PeerHandler) processNewBlockHeaders(headers []*ethproto.Header) error {
	if err := h.queue.ValidateAndAddHeaders(headers, h.peer.ID()); err != nil {
		return errQueueRejected
	}
	return nil
}

// sendGetHeadersByNumber issues a number-anchored GET_BLOCK_HEADERS
// request and records it as the outstanding request the next response
// must match.
func (h *PeerHandler) sendGetHeadersByNumber(start uint64, max uint64) error {
	req := &ethproto.GetBlockHeadersPacket{
		Origin: ethproto.HashOrNumber{Number: start},
		Amount: max,
	}
	h.headersRequest = req
	return h.peer.RequestHeadersByNumber(start, max, req.Skip, req.Reverse)
}

// sendGetHeadersByHash issues a hash-anchored GET_BLOCK_HEADERS request
// and records it as the outstanding request the next response must
// match.
func (h *PeerHandler) sendGetHeadersByHash(start common.Hash, max, skip uint64, reverse bool) error {
	req := &ethproto.GetBlockHeadersPacket{
		Origin:  ethproto.HashOrNumber{Hash: start, UseHash: true},
		Amount:  max,
		Skip:    skip,
		Reverse: reverse,
	}
	h.headersRequest = req
	return h.peer.RequestHeadersByHash(start, max, skip, reverse)
}

// sendGetBodies drains up to one batch of outstanding headers from the
// shared queue and requests their bodies. An empty queue reports ok=false
// so the caller can collapse the sync phase back to IDLE.
func (h *PeerHandler) sendGetBodies() (ok bool, err error) {
	batch := h.queue.PollHeaders()
	if len(batch) == 0 {
		return false, nil
	}
	h.reserveSentHeaders(batch)

	hashes := make([]common.Hash, len(batch))
	for i, w := range batch {
		hashes[i] = w.Header.Hash
	}
	if err := h.peer.RequestBodies(hashes); err != nil {
		return true, err
	}
	return true, nil
}
