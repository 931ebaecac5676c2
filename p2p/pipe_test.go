package p2p

import "testing"

func TestMsgPipeRoundTrip(t *testing.T) {
	a, b := MsgPipe()
	defer a.Close()
	defer b.Close()

	if err := Send(a, 7, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ExpectMsg(b, 7, "hello"); err != nil {
		t.Fatalf("ExpectMsg: %v", err)
	}
}

func TestExpectMsgCodeMismatch(t *testing.T) {
	a, b := MsgPipe()
	defer a.Close()
	defer b.Close()

	if err := Send(a, 1, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ExpectMsg(b, 2, nil); err == nil {
		t.Fatal("expected code mismatch error, got nil")
	}
}

func TestDisconnectUnblocksBothEnds(t *testing.T) {
	a, b := MsgPipe()

	done := make(chan error, 1)
	go func() {
		_, err := b.ReadMsg()
		done <- err
	}()

	a.Disconnect(DiscUselessPeer)

	if err := <-done; err == nil {
		t.Fatal("expected ReadMsg to fail after disconnect")
	}
	if got := b.WaitDisconnect(); got != DiscUselessPeer {
		t.Fatalf("WaitDisconnect = %v, want %v", got, DiscUselessPeer)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	a, _ := MsgPipe()
	a.Disconnect(DiscRequested)
	a.Disconnect(DiscTooManyPeers) // must not panic or block
}
