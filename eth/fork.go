package eth

import (
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
)

// RecoverGap begins fork-recovery for an announced block the queue
// cannot yet connect to the local chain. Nothing in this module calls it
// automatically: syncer.Syncer has no gap-detection logic, so a caller
// that sees a peer's bestKnownBlock outrunning what the queue and local
// chain together already cover invokes it directly.
func (h *PeerHandler) RecoverGap(block ethproto.BlockIdentifier) error {
	if h.syncPhase != HashRetrieving {
		h.syncPhase = HashRetrieving
	}
	return h.startGapRecovery(block)
}

// negativeGap reports whether the gap block is already behind or at the
// local chain head — a fork whose common ancestor is searched for by
// walking backwards from the gap block — as opposed to a positive gap, which is simply ahead of local best and
// recoverable by forward sync alone.
func (h *PeerHandler) negativeGap() bool {
	return h.gapBlock != nil && h.gapBlock.Number <= h.chain.BestNumber()
}

// startGapRecovery requests the batch of headers the handler will search
// for a common ancestor in.
func (h *PeerHandler) startGapRecovery(block ethproto.BlockIdentifier) error {
	h.gapBlock = &block
	h.lastHashToAsk = &block.Hash
	h.commonAncestorFound = false
	h.eldestHash = nil

	if h.negativeGap() {
		return h.sendGetHeadersByHash(block.Hash, ethproto.ForkCoverBatch, 0, true)
	}

	localBest := h.chain.BestNumber()
	start := uint64(0)
	if localBest+1 > ethproto.ForkCoverBatch {
		start = localBest + 1 - ethproto.ForkCoverBatch
	}
	max := localBest - start + 1
	if max > ethproto.ForkCoverBatch {
		max = ethproto.ForkCoverBatch
	}
	return h.sendGetHeadersByNumber(start, max)
}

// processForkCoverage searches a fork-recovery batch for the first
// header already present on the local chain (the common ancestor),
// submitting every newer header it walked past to the queue.
func (h *PeerHandler) processForkCoverage(headers []*ethproto.Header) error {
	neg := h.negativeGap()

	ordered := headers
	if neg {
		if len(ordered) == 0 || ordered[0].Hash != h.gapBlock.Hash {
			return errForkOriginMismatch
		}
	} else {
		ordered = reverseHeaders(headers)
	}

	var accepted []*ethproto.Header
	found := false
	for _, hdr := range ordered {
		if h.chain.IsBlockExist(hdr.Hash) {
			found = true
			break
		}
		accepted = append(accepted, hdr)
	}
	if !found {
		return errNoCommonAncestor
	}
	h.commonAncestorFound = true

	if err := h.queue.ValidateAndAddHeaders(accepted, h.peer.ID()); err != nil {
		return errQueueRejected
	}

	if neg {
		h.ChangeState(BlockRetrieving)
		return nil
	}

	best := h.chain.BestHash()
	h.eldestHash = &best
	return h.sendGetHeadersByNumber(h.chain.BestNumber()+1, h.cfg.MaxHashesAsk)
}

// processGapRecovery continues a positive-gap forward sync once a common
// ancestor has already been established, transitioning to
// BLOCK_RETRIEVING once the originally announced gap block is reached.
func (h *PeerHandler) processGapRecovery(headers []*ethproto.Header) error {
	if len(headers) == 0 {
		return nil
	}
	if err := h.queue.ValidateAndAddHeaders(headers, h.peer.ID()); err != nil {
		return errQueueRejected
	}

	for _, hdr := range headers {
		if h.lastHashToAsk != nil && hdr.Hash == *h.lastHashToAsk {
			h.ChangeState(BlockRetrieving)
			return nil
		}
	}

	last := headers[len(headers)-1]
	h.eldestHash = &last.Hash
	return h.sendGetHeadersByNumber(last.Number+1, h.cfg.MaxHashesAsk)
}

func reverseHeaders(in []*ethproto.Header) []*ethproto.Header {
	out := make([]*ethproto.Header, len(in))
	for i, hdr := range in {
		out[len(in)-1-i] = hdr
	}
	return out
}
