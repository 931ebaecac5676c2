package eth

import (
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
)

// validateHeaders checks a BLOCK_HEADERS response against the exact
// request that solicited it. Any failure here is a
// protocol violation: the caller drops the peer.
func (h *PeerHandler) validateHeaders(req *ethproto.GetBlockHeadersPacket, headers []*ethproto.Header) error {
	if uint64(len(headers)) > req.Amount {
		return errTooManyHeaders
	}

	if len(headers) == 0 {
		if h.bestKnownBlock == nil {
			return errEmptyInitialProbe
		}
		if !req.Origin.UseHash && req.Origin.Number <= h.bestKnownBlock.Number {
			return errWithheldKnownData
		}
		return nil
	}

	if req.Origin.UseHash && req.Skip == 0 {
		if headers[0].Hash != req.Origin.Hash {
			return errOriginHashMismatch
		}
	}
	if !req.Origin.UseHash {
		if headers[0].Number != req.Origin.Number+req.Skip {
			return errOriginNumberMismatch
		}
	}

	if !h.syncDone && h.eldestHash != nil && !req.Origin.UseHash {
		if headers[0].ParentHash != *h.eldestHash {
			return errBrokenAncestry
		}
	}

	if h.syncPhase == HashRetrieving {
		for i := 1; i < len(headers); i++ {
			prev, cur := headers[i-1], headers[i]
			if req.Reverse {
				if cur.Number != prev.Number-1 || prev.ParentHash != cur.Hash {
					return errBadChaining
				}
			} else {
				if cur.Number != prev.Number+1 || cur.ParentHash != prev.Hash {
					return errBadChaining
				}
			}
		}
	}

	return nil
}

// validateBodies checks a BLOCK_BODIES response against the headers
// currently held outstanding for this peer. sent is the
// ordered prefix of sentHdr the bodies are expected to answer.
func (h *PeerHandler) validateBodies(sent []*BlockHeaderWrapper, bodies []*ethproto.BlockBody) error {
	if len(bodies) > len(sent) {
		return errTooManyBodies
	}

	if !h.syncDone {
		expected := 0
		for _, w := range sent {
			if h.bestKnownBlock != nil && w.Header.Number <= h.bestKnownBlock.Number {
				expected++
				continue
			}
			break
		}
		if len(bodies) < expected {
			return errTooFewBodies
		}
	}

	if len(bodies) < len(sent) {
		if sent[len(bodies)].PeerID == h.peer.ID() {
			return errOwedBody
		}
	}

	return nil
}

// mergeBodies validates bodies against the headers this peer currently
// owes, builds the corresponding blocks, and removes exactly those
// headers from the outstanding set. A validation or merge failure
// leaves sentHdr untouched so the caller's dropConnection reclaims the
// whole thing: a partial body batch that doesn't match is rejected
// outright, not partially accepted.
func (h *PeerHandler) mergeBodies(bodies []*ethproto.BlockBody) ([]*ethproto.Block, error) {
	h.sentMu.Lock()
	defer h.sentMu.Unlock()

	if err := h.validateBodies(h.sentHdr, bodies); err != nil {
		return nil, err
	}

	blocks := make([]*ethproto.Block, 0, len(bodies))
	for i, body := range bodies {
		block, err := mergeHeaderAndBody(h.sentHdr[i].Header, body)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	h.sentHdr = h.sentHdr[len(bodies):]
	return blocks, nil
}

func mergeHeaderAndBody(header *ethproto.Header, body *ethproto.BlockBody) (*ethproto.Block, error) {
	if header == nil || body == nil {
		return nil, errMergeFailed
	}
	return &ethproto.Block{Header: header, Body: body}, nil
}
