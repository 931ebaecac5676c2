package eth

import (
	"testing"

	"github.com/ethlink/peersync/common"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
)

func hdr(n uint64, tag string) *ethproto.Header {
	return &ethproto.Header{Number: n, Hash: common.BytesToHash([]byte(tag))}
}

func TestQueuePollReturnsBatchesInOrder(t *testing.T) {
	q := NewMemQueue(2)
	q.ValidateAndAddHeaders([]*ethproto.Header{hdr(1, "a"), hdr(2, "b"), hdr(3, "c")}, "peer1")

	batch := q.PollHeaders()
	if len(batch) != 2 || batch[0].Header.Number != 1 || batch[1].Header.Number != 2 {
		t.Fatalf("unexpected first batch: %+v", batch)
	}
	rest := q.PollHeaders()
	if len(rest) != 1 || rest[0].Header.Number != 3 {
		t.Fatalf("unexpected second batch: %+v", rest)
	}
	if got := q.PollHeaders(); got != nil {
		t.Fatalf("expected empty poll, got %+v", got)
	}
}

func TestQueueReturnHeadersReinsertsAtFront(t *testing.T) {
	q := NewMemQueue(10)
	q.ValidateAndAddHeaders([]*ethproto.Header{hdr(5, "e")}, "peer1")
	returned := []*BlockHeaderWrapper{{Header: hdr(1, "a"), PeerID: "peer1"}}
	q.ReturnHeaders(returned)

	batch := q.PollHeaders()
	if len(batch) != 2 || batch[0].Header.Number != 1 || batch[1].Header.Number != 5 {
		t.Fatalf("ReturnHeaders did not reinsert at the front: %+v", batch)
	}
}

func TestQueueDedupsAlreadyMergedHeaders(t *testing.T) {
	q := NewMemQueue(10)
	h := hdr(1, "a")
	if err := q.AddList([]*ethproto.Block{{Header: h, Body: &ethproto.BlockBody{}}}, "peer1"); err != nil {
		t.Fatalf("AddList: %v", err)
	}
	q.ValidateAndAddHeaders([]*ethproto.Header{h}, "peer2")
	if got := q.PollHeaders(); got != nil {
		t.Fatalf("expected already-merged header to be skipped, got %+v", got)
	}
}

func TestQueueDropHeadersByPeer(t *testing.T) {
	q := NewMemQueue(10)
	q.ValidateAndAddHeaders([]*ethproto.Header{hdr(1, "a")}, "bad-peer")
	q.ValidateAndAddHeaders([]*ethproto.Header{hdr(2, "b")}, "good-peer")

	q.DropHeaders("bad-peer")

	batch := q.PollHeaders()
	if len(batch) != 1 || batch[0].PeerID != "good-peer" {
		t.Fatalf("DropHeaders did not remove only the bad peer's entries: %+v", batch)
	}
}

func TestQueueDropBlocksByPeer(t *testing.T) {
	q := NewMemQueue(10)
	q.AddList([]*ethproto.Block{{Header: hdr(1, "a"), Body: &ethproto.BlockBody{}}}, "bad-peer")
	q.AddList([]*ethproto.Block{{Header: hdr(2, "b"), Body: &ethproto.BlockBody{}}}, "good-peer")

	q.DropBlocks("bad-peer")

	blocks := q.Blocks()
	if len(blocks) != 1 || blocks[0].Header.Number != 2 {
		t.Fatalf("DropBlocks did not remove only the bad peer's blocks: %+v", blocks)
	}
}

func TestQueueLastHeaderTracksMostRecentAdd(t *testing.T) {
	q := NewMemQueue(10)
	if q.LastHeader() != nil {
		t.Fatal("expected nil LastHeader on empty queue")
	}
	q.ValidateAndAddHeaders([]*ethproto.Header{hdr(1, "a"), hdr(2, "b")}, "peer1")
	if last := q.LastHeader(); last == nil || last.Number != 2 {
		t.Fatalf("LastHeader = %+v, want number 2", last)
	}
}
