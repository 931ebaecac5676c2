// Package eth implements the wire-level message types and per-peer send
// primitives of the sync protocol: handshake packets, header/body
// request and response records, and the Peer type that knows how to
// marshal them onto a transport. The state machine that decides *when*
// to send these lives one layer up, in package eth (github.com/ethlink/
// peersync/eth) — this package is deliberately unaware of sync phases.
package eth

import (
	"errors"

	"github.com/ethlink/peersync/common"
	"github.com/holiman/uint256"
)

// Protocol message codes.
const (
	StatusMsg          = 0x00
	NewBlockHashesMsg  = 0x01
	TransactionsMsg    = 0x02
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06
	NewBlockMsg        = 0x07
)

// MaxHeadersServe is the hard cap on headers returned to a single
// GET_BLOCK_HEADERS request.
const MaxHeadersServe = 65536

// ForkCoverBatch is the number of headers requested in one fork-recovery
// batch.
const ForkCoverBatch = 192

// Handshake failure kinds.
var (
	ErrNoStatusMsg             = errors.New("eth: first message was not STATUS")
	ErrGenesisMismatch         = errors.New("eth: genesis block mismatch")
	ErrProtocolVersionMismatch = errors.New("eth: protocol version mismatch")
	ErrNetworkIDMismatch       = errors.New("eth: network ID mismatch")
)

// HashOrNumber encodes a header request origin: exactly one of Hash or
// Number is meaningful, selected by UseHash.
type HashOrNumber struct {
	Hash    common.Hash
	Number  uint64
	UseHash bool
}

// StatusPacket is exchanged once, immediately after connecting.
type StatusPacket struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TD              *uint256.Int
	BestHash        common.Hash
	GenesisHash     common.Hash
}

// BlockIdentifier names a block without carrying its full header.
type BlockIdentifier struct {
	Hash   common.Hash
	Number uint64
}

// NewBlockHashesPacket announces newly mined/seen blocks by identifier.
type NewBlockHashesPacket []BlockIdentifier

// GetBlockHeadersPacket requests a run of headers starting at Origin.
type GetBlockHeadersPacket struct {
	Origin  HashOrNumber
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// Header is the subset of block-header fields this module's validation
// and fork-recovery logic needs; opaque consensus fields the chain cares
// about (difficulty, state root, ...) are carried in Rest without being
// interpreted here.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Rest       any
}

// BlockHeadersPacket carries a response to GetBlockHeadersPacket.
type BlockHeadersPacket []*Header

// GetBlockBodiesPacket requests bodies for the given header hashes.
type GetBlockBodiesPacket []common.Hash

// BlockBody is an opaque body payload; this module merges it with a
// Header but never interprets its contents.
type BlockBody struct {
	Payload any
}

// BlockBodiesPacket carries a response to GetBlockBodiesPacket.
type BlockBodiesPacket []*BlockBody

// Transaction is an opaque pooled-transaction record.
type Transaction struct {
	Hash    common.Hash
	Payload any
}

// TransactionsPacket carries a batch of gossiped transactions.
type TransactionsPacket []*Transaction

// NewBlockPacket announces a freshly assembled block together with the
// announcer's claimed total difficulty.
type NewBlockPacket struct {
	Block                    *Block
	AnnouncedTotalDifficulty *uint256.Int
}

// Block is a header merged with its body; see eth.mergeHeaderAndBody,
// which builds one from a downloaded body.
type Block struct {
	Header *Header
	Body   *BlockBody
}
