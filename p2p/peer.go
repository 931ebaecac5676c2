// Package p2p provides the minimal transport abstraction the protocol
// handler talks to: framed message delivery and disconnects. The real
// network stack (dialing, discovery, encryption) is out of scope for
// this module; only the interfaces it exposes to a protocol handler,
// plus an in-memory pipe for tests, live here.
package p2p

import (
	"fmt"
	"io"
)

// Msg is a single decoded protocol message. Payload carries an
// already-typed record — this module never speaks raw wire bytes, wire
// encoding is left to whatever MsgReadWriter a deployment supplies; Code
// identifies which kind of record it is.
type Msg struct {
	Code    uint64
	Payload any
}

// MsgReadWriter delivers and accepts framed messages for one connection.
// ReadMsg blocks until a message arrives or the connection closes.
type MsgReadWriter interface {
	ReadMsg() (Msg, error)
	WriteMsg(Msg) error
}

// Peer identifies the remote end of a connection. It carries no
// disconnect primitive; that is the transport's Disconnecter.
type Peer struct {
	id   string
	name string
}

// NewPeer constructs a Peer identity. id should be stable for the
// lifetime of the connection (e.g. the remote node's public key).
func NewPeer(id, name string) *Peer {
	return &Peer{id: id, name: name}
}

func (p *Peer) ID() string     { return p.id }
func (p *Peer) Name() string   { return p.name }
func (p *Peer) String() string { return fmt.Sprintf("Peer %s [%s]", p.id, p.name) }

// Disconnecter is implemented by a connection's transport side; it is
// the sole cancellation primitive a handler has.
type Disconnecter interface {
	Disconnect(reason DiscReason)
}

// errEOF is returned by a pipe side once its peer has closed.
var errEOF = io.EOF
