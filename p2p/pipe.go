package p2p

import (
	"fmt"
	"reflect"
)

// MsgPipeRW is one end of an in-memory, in-process connection created by
// MsgPipe. It implements MsgReadWriter and Disconnecter so tests can
// drive a PeerHandler exactly as a live p2p connection would.
type MsgPipeRW struct {
	w       chan<- Msg
	r       <-chan Msg
	closing chan struct{}
	closed  bool
	reason  chan DiscReason
}

// MsgPipe creates a message pipe. Messages sent on one end are received
// on the other, and vice versa.
func MsgPipe() (*MsgPipeRW, *MsgPipeRW) {
	c1, c2 := make(chan Msg, 64), make(chan Msg, 64)
	closing := make(chan struct{})
	reason := make(chan DiscReason, 2)
	return &MsgPipeRW{w: c1, r: c2, closing: closing, reason: reason},
		&MsgPipeRW{w: c2, r: c1, closing: closing, reason: reason}
}

func (p *MsgPipeRW) WriteMsg(msg Msg) error {
	select {
	case p.w <- msg:
		return nil
	case <-p.closing:
		return fmt.Errorf("p2p: write on closed pipe")
	}
}

func (p *MsgPipeRW) ReadMsg() (Msg, error) {
	select {
	case msg := <-p.r:
		return msg, nil
	case <-p.closing:
		return Msg{}, errEOF
	}
}

// Disconnect records the reason and closes the pipe. Safe to call more
// than once, on either end; only the first reason is recorded.
func (p *MsgPipeRW) Disconnect(reason DiscReason) {
	select {
	case <-p.closing:
		return
	default:
	}
	select {
	case p.reason <- reason:
	default:
	}
	close(p.closing)
}

// Close releases resources held by the pipe without recording a reason.
func (p *MsgPipeRW) Close() error {
	select {
	case <-p.closing:
	default:
		close(p.closing)
	}
	return nil
}

// WaitDisconnect blocks until either end calls Disconnect and returns
// the reason given.
func (p *MsgPipeRW) WaitDisconnect() DiscReason {
	return <-p.reason
}

// Send writes a message with the given code and payload to rw.
func Send(rw MsgReadWriter, code uint64, payload any) error {
	return rw.WriteMsg(Msg{Code: code, Payload: payload})
}

// ExpectMsg reads a message from rw and fails (via the returned error) if
// its code or payload don't match what's expected. It is a small test
// helper mirroring the one used across the pack's protocol tests.
func ExpectMsg(rw MsgReadWriter, code uint64, content any) error {
	msg, err := rw.ReadMsg()
	if err != nil {
		return err
	}
	if msg.Code != code {
		return fmt.Errorf("message code mismatch: got %d, want %d", msg.Code, code)
	}
	if content != nil && !reflect.DeepEqual(msg.Payload, content) {
		return fmt.Errorf("message payload mismatch: got %#v, want %#v", msg.Payload, content)
	}
	return nil
}
