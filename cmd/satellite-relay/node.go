package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/blockstream/satellite-relay/pkg/blocksplit"
	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/config"
	"github.com/blockstream/satellite-relay/pkg/interleave"
	logpkg "github.com/blockstream/satellite-relay/pkg/log"
	"github.com/blockstream/satellite-relay/pkg/outoforder"
	"github.com/blockstream/satellite-relay/pkg/partialblock"
	"github.com/blockstream/satellite-relay/pkg/peerstore"
	"github.com/blockstream/satellite-relay/pkg/reassembler"
	"github.com/blockstream/satellite-relay/pkg/receiver"
	"github.com/blockstream/satellite-relay/pkg/scheduler"
	"github.com/blockstream/satellite-relay/pkg/statsserver"
	"golang.org/x/sys/unix"
)

var log = logpkg.New("main")

// codecVersion is the transaction compression codec this build speaks.
const codecVersion = 1

// queueCapacity bounds each transmit priority queue.
const queueCapacity = 256

func runNode() error {
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	if err := logpkg.SetLevel(cfg.Logger.Level); err != nil {
		return err
	}
	logpkg.SetFormat(cfg.Logger.Format)

	resolved, err := config.Resolve(&cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.General.DataDir
	magic := cfg.Relay.ChecksumMagic

	peers, err := openPeerTable(dataDir, resolved.Peers)
	if err != nil {
		return err
	}
	defer peers.Close()

	registry, err := partialblock.New(dataDir, time.Duration(cfg.Relay.PartialBlockTimeoutSeconds)*time.Second, nil)
	if err != nil {
		return err
	}
	defer registry.Close()
	if err := registry.Recover(); err != nil {
		return err
	}
	registry.RunTimeoutScanner()

	sched := scheduler.New()
	defer sched.Stop()

	chain := newFileChain(dataDir)
	validator := newFileValidator(dataDir)
	ooo := outoforder.New()

	var interleavers []*interleave.Interleaver
	stopInterleave := make(chan struct{})
	defer close(stopInterleave)

	for _, txCfg := range resolved.TXGroups {
		g, err := openTXGroup(txCfg, magic, sched)
		if err != nil {
			return err
		}
		sched.AddGroup(g)

		splitter := blocksplit.New(nil, codecVersion)
		il := interleave.New(chain, splitter, txCfg.InterleaveSize, txCfg.Depth, txCfg.Offset)
		interleavers = append(interleavers, il)
		go runInterleaver(il, g, stopInterleave)
	}

	trusted := trustFunc(resolved)

	var receivers []*receiver.Receiver
	for _, rxCfg := range resolved.RXGroups {
		conn, err := openRXSocket(rxCfg)
		if err != nil {
			return err
		}
		recv := receiver.New(magic, registry, reassembler.New(nil), validator, ooo,
			receiver.WithTrustFunc(trusted))
		receivers = append(receivers, recv)
		go recv.Run(conn)
	}

	for _, portCfg := range resolved.Ports {
		conn, replyGroup, err := openUnicastPort(portCfg, resolved.Peers, magic, sched)
		if err != nil {
			return err
		}
		opts := []receiver.Option{receiver.WithTrustFunc(trusted)}
		if replyGroup != nil {
			sched.AddGroup(replyGroup)
			opts = append(opts, receiver.WithReplyGroup(replyGroup))
		}
		recv := receiver.New(magic, registry, reassembler.New(nil), validator, ooo, opts...)
		receivers = append(receivers, recv)
		go recv.Run(conn)
	}
	defer func() {
		for _, r := range receivers {
			r.Stop()
		}
	}()

	go sched.Run()

	stats := statsserver.New(cfg.Relay.StatsAddr,
		&statsProvider{registry: registry, interleavers: interleavers, receivers: receivers},
		time.Duration(resolved.LogInterval)*time.Second)
	defer stats.Stop()

	log.WithField("datadir", dataDir).
		WithField("rx_groups", len(resolved.RXGroups)).
		WithField("tx_groups", len(resolved.TXGroups)).
		WithField("unicast_ports", len(resolved.Ports)).
		Info("relay started")

	// gracehttp owns signal handling; when it returns the deferred
	// stops unwind the rest of the process.
	return stats.Run()
}

func runRecoverScan() error {
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	registry, err := partialblock.New(cfg.General.DataDir, 0, nil)
	if err != nil {
		return err
	}
	defer registry.Close()

	if err := registry.Recover(); err != nil {
		return err
	}
	fmt.Printf("recovered %d partial block entries from %s\n",
		registry.Len(), filepath.Join(cfg.General.DataDir, "partial_blocks"))
	return nil
}

func openPeerTable(dataDir string, configured []config.UDPNodeConfig) (*peerstore.Store, error) {
	store, err := peerstore.Open(filepath.Join(dataDir, "peers.db"))
	if err != nil {
		return nil, err
	}
	for _, p := range configured {
		err := store.Add(peerstore.Peer{
			Addr:       p.Addr,
			LocalPass:  p.LocalPass,
			RemotePass: p.RemotePass,
			Group:      p.Group,
			Trusted:    p.Trusted,
		})
		if err != nil {
			store.Close()
			return nil, errors.Wrapf(err, "main: persist peer %s", p.Addr)
		}
	}
	return store, nil
}

func trustFunc(resolved config.Resolved) func(peer string) bool {
	trustedAddrs := make(map[string]bool)
	for _, p := range resolved.Peers {
		if p.Trusted {
			trustedAddrs[p.Addr] = true
		}
	}
	trustedSources := make(map[string]bool)
	for _, rx := range resolved.RXGroups {
		if rx.Trusted {
			trustedSources[rx.TxIP] = true
		}
	}
	return func(peer string) bool {
		if trustedAddrs[peer] {
			return true
		}
		host, _, err := net.SplitHostPort(peer)
		if err != nil {
			return false
		}
		return trustedSources[host]
	}
}

func openTXGroup(txCfg config.UDPMulticastTXConfig, magic uint64, sched *scheduler.Scheduler) (*scheduler.Group, error) {
	addr, err := net.ResolveUDPAddr("udp", txCfg.McastAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "main: resolve %s", txCfg.McastAddr)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrapf(err, "main: open tx socket for %s", txCfg.McastAddr)
	}
	if err := setTXSocketOptions(conn, txCfg.TTL, txCfg.DSCP); err != nil {
		conn.Close()
		return nil, err
	}

	limiter := scheduler.NewRateLimiter(float64(txCfg.Bps) / 1e6)
	return scheduler.NewGroup(txCfg.McastAddr, conn, addr, limiter, magic, queueCapacity, sched.Notify), nil
}

// setTXSocketOptions applies the configured multicast TTL and DSCP
// marking to the transmit socket.
func setTXSocketOptions(conn *net.UDPConn, ttl, dscp int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var optErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if ttl > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl); err != nil {
				optErr = errors.Wrap(err, "main: set multicast ttl")
				return
			}
		}
		if dscp > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp<<2); err != nil {
				optErr = errors.Wrap(err, "main: set dscp")
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return optErr
}

func openRXSocket(rxCfg config.UDPMulticastRXConfig) (*net.UDPConn, error) {
	gaddr, err := net.ResolveUDPAddr("udp", rxCfg.McastAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "main: resolve %s", rxCfg.McastAddr)
	}

	var iface *net.Interface
	if rxCfg.Iface != "" {
		iface, err = net.InterfaceByName(rxCfg.Iface)
		if err != nil {
			return nil, errors.Wrapf(err, "main: interface %s", rxCfg.Iface)
		}
	}

	conn, err := net.ListenMulticastUDP("udp", iface, gaddr)
	if err != nil {
		return nil, errors.Wrapf(err, "main: join %s", rxCfg.McastAddr)
	}
	return conn, nil
}

func openUnicastPort(portCfg config.UDPPortConfig, peers []config.UDPNodeConfig, magic uint64, sched *scheduler.Scheduler) (*net.UDPConn, *scheduler.Group, error) {
	port, err := strconv.Atoi(portCfg.Port)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "main: invalid udpport %q", portCfg.Port)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "main: listen on port %d", port)
	}

	limiter := scheduler.NewRateLimiter(portCfg.Mbps)

	// the first peer assigned to this group carries the control-reply
	// path; further peers still feed the shared receive pipeline
	for _, p := range peers {
		if p.Group != portCfg.Group {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", p.Addr)
		if err != nil {
			conn.Close()
			return nil, nil, errors.Wrapf(err, "main: resolve peer %s", p.Addr)
		}
		g := scheduler.NewGroup(portCfg.Group, conn, addr, limiter, magic, queueCapacity, sched.Notify)
		return conn, g, nil
	}
	return conn, nil, nil
}

func runInterleaver(il *interleave.Interleaver, g *scheduler.Group, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		chunks, err := il.Pass()
		if err != nil {
			log.WithError(err).Warn("interleaver pass failed")
		}
		if len(chunks) == 0 {
			select {
			case <-stop:
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		for _, c := range chunks {
			if !g.Enqueue(scheduler.PriorityInterleave, scheduler.Outbound{MsgType: c.MsgType, Chunk: c.Payload}) {
				return
			}
		}
	}
}

// fileChain reads raw blocks exported to dataDir/blocks/<height>, a
// minimal chain source for relays fed by an external block exporter
// rather than an in-process node.
type fileChain struct {
	dir string
}

func newFileChain(dataDir string) *fileChain {
	return &fileChain{dir: filepath.Join(dataDir, "blocks")}
}

func (c *fileChain) ReadBlock(height uint64) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.dir, strconv.FormatUint(height, 10)))
}

func (c *fileChain) ChainTip() (uint64, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var tip uint64
	for _, f := range files {
		h, err := strconv.ParseUint(f.Name(), 10, 64)
		if err != nil {
			continue
		}
		if h > tip {
			tip = h
		}
	}
	return tip, nil
}

func (c *fileChain) IsInitialSync(string) (bool, error) { return false, nil }

// fileValidator sinks accepted blocks to dataDir/accepted/<hash>, the
// standalone counterpart of handing blocks to an in-process validator.
type fileValidator struct {
	dir string
}

func newFileValidator(dataDir string) *fileValidator {
	return &fileValidator{dir: filepath.Join(dataDir, "accepted")}
}

func (v *fileValidator) AcceptBlock(block []byte, _ bool) (collab.AcceptResult, error) {
	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return collab.Invalid, err
	}
	sum := sha256.Sum256(block)
	name := filepath.Join(v.dir, hex.EncodeToString(sum[:]))
	if err := os.WriteFile(name, block, 0o644); err != nil {
		return collab.Invalid, err
	}
	return collab.Accepted, nil
}

// statsProvider aggregates counters for the stats/health surface.
type statsProvider struct {
	registry     *partialblock.Registry
	interleavers []*interleave.Interleaver
	receivers    []*receiver.Receiver
}

func (p *statsProvider) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"partial_blocks": p.registry.Len(),
	}
	var windowBlocks int
	var windowBytes int64
	for _, il := range p.interleavers {
		windowBlocks += il.Len()
		windowBytes += il.BytesInWindow()
	}
	snap["interleave_window_blocks"] = windowBlocks
	snap["interleave_window_bytes"] = windowBytes

	var pendingTx int
	for _, r := range p.receivers {
		pendingTx += r.PendingTxObjects()
	}
	snap["pending_tx_objects"] = pendingTx
	return snap
}
