package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/logging"
)

// beaconMessage is broadcast on the UDP beacon port at BeaconInterval and
// is the only payload the discovery channel ever carries.
type beaconMessage struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
	Epoch  uint64 `json:"epoch"`
}

// Beacon owns the UDP broadcast socket: it periodically announces this
// node's presence on the configured subnet, and listens for announcements
// from peers, feeding every observation into a Membership.
type Beacon struct {
	cfg        config.NetworkConfig
	membership *Membership
	logger     logging.Logger

	localID   string
	localAddr string
	epoch     uint64

	conn *net.UDPConn

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func NewBeacon(cfg config.NetworkConfig, membership *Membership, localID, localAddr string, logger logging.Logger) *Beacon {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Beacon{
		cfg:        cfg,
		membership: membership,
		logger:     logger,
		localID:    localID,
		localAddr:  localAddr,
		stopChan:   make(chan struct{}),
	}
}

// Start opens the UDP broadcast socket and launches the send and receive
// loops. It is safe to call Stop to unwind either failure path.
func (b *Beacon) Start() error {
	addr := &net.UDPAddr{Port: b.cfg.BeaconPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen udp beacon on port %d: %w", b.cfg.BeaconPort, err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.wg.Add(2)
	go b.sendLoop()
	go b.receiveLoop()
	return nil
}

func (b *Beacon) sendLoop() {
	defer b.wg.Done()

	dst := &net.UDPAddr{IP: net.ParseIP(b.cfg.Subnet), Port: b.cfg.BeaconPort}
	ticker := time.NewTicker(b.cfg.BeaconInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.announce(dst)
		case <-b.stopChan:
			return
		}
	}
}

func (b *Beacon) announce(dst *net.UDPAddr) {
	msg := beaconMessage{NodeID: b.localID, Addr: b.localAddr, Epoch: b.epoch}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal beacon", logging.Error(err))
		return
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(data, dst); err != nil {
		b.logger.Warn("beacon broadcast failed", logging.Error(err))
	}
}

func (b *Beacon) receiveLoop() {
	defer b.wg.Done()

	buf := make([]byte, 1024)
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		select {
		case <-b.stopChan:
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		var msg beaconMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.NodeID == "" || msg.NodeID == b.localID {
			continue
		}
		b.membership.Observe(msg.NodeID, msg.Addr, msg.Epoch)
	}
}

func (b *Beacon) Stop() {
	close(b.stopChan)
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}
