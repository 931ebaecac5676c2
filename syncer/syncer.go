// Package syncer is the node-level orchestrator: it owns a batch of
// PeerHandlers, runs them concurrently, and reacts to what they report
// through the eth.Listener interface.
package syncer

import (
	"context"
	"sync"

	"github.com/ethlink/peersync/eth"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	"github.com/ethlink/peersync/log"
	"golang.org/x/sync/errgroup"
)

// Syncer supervises every connected peer's PeerHandler and implements
// eth.Listener to learn about their announcements.
type Syncer struct {
	chain eth.Chain
	queue eth.Queue
	cfg   eth.Config

	mu         sync.Mutex
	handlers   []*eth.PeerHandler
	bestGlobal uint64
}

// New creates an orchestrator bound to the node's chain, queue and
// per-peer configuration.
func New(chain eth.Chain, queue eth.Queue, cfg eth.Config) *Syncer {
	return &Syncer{chain: chain, queue: queue, cfg: cfg}
}

// Register builds a PeerHandler for a freshly accepted connection and
// adds it to the supervised set. The caller still owns running it (via
// Run) or Activating it directly for a one-off connection.
func (s *Syncer) Register(p *ethproto.Peer, txPool eth.TxPool) *eth.PeerHandler {
	h := eth.NewPeerHandler(p, s.chain, s.queue, s, txPool, s.cfg)
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
	return h
}

// Run activates every registered handler concurrently and blocks until
// they all return. A single peer misbehaving and disconnecting does not
// abort its siblings — only ctx cancellation (which triggers Shutdown
// on every handler) tears the whole batch down together.
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	handlers := append([]*eth.PeerHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h := h
		g.Go(func() error {
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					h.Shutdown()
				case <-done:
				}
			}()
			if err := h.Activate(); err != nil {
				log.Debug("Peer handler exited", "peer", h.Peer().ID(), "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// MarkSyncDone flips every currently registered handler's long-sync flag
// at once — the orchestrator's call once the node judges its chain
// caught up across the whole peer set. The flag itself is per-handler;
// deciding when it flips is this package's job.
func (s *Syncer) MarkSyncDone(done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handlers {
		h.SetSyncDone(done)
	}
}

// BestGlobal reports the highest block number any supervised peer has
// ever announced.
func (s *Syncer) BestGlobal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestGlobal
}

// OnEthStatusUpdated implements eth.Listener.
func (s *Syncer) OnEthStatusUpdated(peerID string, status *ethproto.StatusPacket) {
	log.Info("Peer status received", "peer", peerID, "head", status.BestHash, "networkId", status.NetworkID)
}

// OnNewBlockNumber implements eth.Listener.
func (s *Syncer) OnNewBlockNumber(number uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if number > s.bestGlobal {
		s.bestGlobal = number
	}
}
