// Command peersync is a small CLI front-end over this module: it loads
// a node config, seeds an in-memory chain, and runs a demo sync against
// one in-process peer connected via an in-memory pipe, the
// same pattern the pack's node CLIs use urfave/cli for.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethlink/peersync/common"
	"github.com/ethlink/peersync/config"
	"github.com/ethlink/peersync/eth"
	ethproto "github.com/ethlink/peersync/eth/protocols/eth"
	"github.com/ethlink/peersync/p2p"
	"github.com/ethlink/peersync/syncer"
	"github.com/fatih/color"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "peersync",
		Usage: "run the eth-style peer sync protocol handler",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file"},
		},
		Commands: []*cli.Command{
			demoCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

var demoCommand = &cli.Command{
	Name:  "demo",
	Usage: "sync a local node against an in-process peer over a loopback pipe",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "peer-height", Value: 10, Usage: "height of the simulated peer's chain"},
	},
	Action: runDemo,
}

func runDemo(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	genesis := &ethproto.Header{Number: 0, Hash: common.BytesToHash([]byte("genesis"))}
	localChain := eth.NewMemChain(genesis, uint256.NewInt(1))
	peerChain := eth.NewMemChain(genesis, uint256.NewInt(1))
	seedPeerChain(peerChain, c.Uint64("peer-height"))

	queue := eth.NewMemQueue(cfg.BatchSize)
	ethCfg := eth.Config{
		NetworkID:         cfg.NetworkID,
		MaxHashesAsk:      cfg.MaxHashesAsk,
		PeerDiscoveryMode: cfg.PeerDiscoveryMode,
		ProcessTxs:        cfg.ProcessTxs,
	}

	sv := syncer.New(localChain, queue, ethCfg)

	localSide, remoteSide := p2p.MsgPipe()
	localPeer := ethproto.NewPeer(eth.ProtocolVersion, p2p.NewPeer("peer-remote", "demo-peer"), localSide)
	handler := sv.Register(localPeer, nil)

	remoteHandler := newServerHandler(peerChain, remoteSide)
	remoteDone := make(chan struct{})
	go func() {
		defer close(remoteDone)
		if err := remoteHandler.Activate(); err != nil {
			color.Yellow("remote side exited: %v", err)
		}
	}()

	// The handshake and initial best-block probe complete almost
	// immediately over the in-memory pipe; give them a moment, then tear
	// the demo connection down. Disconnecting the local side closes the
	// pipe's shared signal, which also unblocks the remote side's ReadMsg.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sv.Run(ctx); err != nil {
		return err
	}
	<-remoteDone

	info := handler.Info()
	if info.BestKnownBlock != nil {
		color.Green("demo sync finished: peer best block #%d (%s)", info.BestKnownBlock.Number, info.BestKnownBlock.Hash)
	} else {
		color.Yellow("demo sync finished: handshake did not complete")
	}
	return nil
}

// newServerHandler builds a handler for the simulated remote peer, whose
// only job in this demo is to answer the local node's requests from its
// own (taller) chain.
func newServerHandler(chain *eth.MemChain, rw p2p.MsgReadWriter) *eth.PeerHandler {
	remoteQueue := eth.NewMemQueue(128)
	remoteListener := syncer.New(chain, remoteQueue, eth.Config{NetworkID: 1, MaxHashesAsk: 192})
	peer := ethproto.NewPeer(eth.ProtocolVersion, p2p.NewPeer("peer-local", "demo-node"), rw)
	return remoteListener.Register(peer, nil)
}

func seedPeerChain(chain *eth.MemChain, height uint64) {
	parent := chain.GenesisHash()
	td := uint256.NewInt(1)
	for n := uint64(1); n <= height; n++ {
		hash := common.BytesToHash([]byte(fmt.Sprintf("block-%d", n)))
		header := &ethproto.Header{Number: n, Hash: hash, ParentHash: parent}
		td = new(uint256.Int).AddUint64(td, 1)
		chain.Insert(header, &ethproto.BlockBody{}, td)
		parent = hash
	}
}
