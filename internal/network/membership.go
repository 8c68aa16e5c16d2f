// Package network tracks cluster membership discovered via a UDP
// broadcast beacon, and chooses row placement among currently online
// nodes for the Replication Protocol.
package network

import (
	"math/rand"
	"sync"
	"time"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/metrics"
)

// State is where a node sits in the discovery lifecycle.
type State int

const (
	StateJoining State = iota
	StateOnline
	StateSuspect
	StateLost
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateOnline:
		return "online"
	case StateSuspect:
		return "suspect"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// NodeInfo is one peer this node has heard a beacon from.
type NodeInfo struct {
	ID       string
	Addr     string
	Epoch    uint64
	LastSeen time.Time
	State    State
}

func (n *NodeInfo) missedBeacons(beaconInterval time.Duration) int {
	if beaconInterval <= 0 {
		return 0
	}
	return int(time.Since(n.LastSeen) / beaconInterval)
}

// LostHandler is invoked once, exactly when a node transitions into
// StateLost, so Storage Reshuffle can react.
type LostHandler func(nodeID string)

// Membership tracks every peer this node has ever heard from, advancing
// suspect/lost state on a tick driven by Start.
type Membership struct {
	mu    sync.RWMutex
	nodes map[string]*NodeInfo

	localID   string
	localAddr string

	suspectAfterMisses int
	lostAfter          time.Duration
	beaconInterval     time.Duration

	logger   logging.Logger
	metrics  *metrics.Registry
	onLost   []LostHandler

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMembership(localID, localAddr string, beaconInterval, lostAfter time.Duration, suspectAfterMisses int, logger logging.Logger, reg *metrics.Registry) *Membership {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Membership{
		nodes:              make(map[string]*NodeInfo),
		localID:            localID,
		localAddr:          localAddr,
		suspectAfterMisses: suspectAfterMisses,
		lostAfter:          lostAfter,
		beaconInterval:     beaconInterval,
		logger:             logger,
		metrics:            reg,
		stopChan:           make(chan struct{}),
	}
	m.nodes[localID] = &NodeInfo{ID: localID, Addr: localAddr, State: StateOnline, LastSeen: time.Now()}
	return m
}

// OnLost registers a callback fired when a peer transitions to StateLost.
func (m *Membership) OnLost(h LostHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = append(m.onLost, h)
}

// Observe records a beacon received from a peer, marking it online (or
// resurrecting it from suspect/lost) and refreshing LastSeen.
func (m *Membership) Observe(id, addr string, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, exists := m.nodes[id]
	if !exists {
		node = &NodeInfo{ID: id}
		m.nodes[id] = node
	}
	node.Addr = addr
	node.Epoch = epoch
	node.LastSeen = time.Now()
	if node.State != StateOnline {
		m.logger.Info("peer resurrected", logging.NodeAddr(addr), logging.String("node_id", id))
	}
	node.State = StateOnline

	if m.metrics != nil {
		m.metrics.ClusterNodesTotal.Set(float64(len(m.nodes)))
	}
}

// Start runs the suspect/lost sweep every beaconInterval.
func (m *Membership) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.beaconInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Membership) sweep() {
	m.mu.Lock()
	var lost []string
	for id, node := range m.nodes {
		if id == m.localID {
			continue
		}
		switch node.State {
		case StateOnline:
			if node.missedBeacons(m.beaconInterval) >= m.suspectAfterMisses {
				node.State = StateSuspect
				m.logger.Warn("peer suspect", logging.String("node_id", id))
			}
		case StateSuspect:
			if time.Since(node.LastSeen) >= m.lostAfter {
				node.State = StateLost
				lost = append(lost, id)
				m.logger.Warn("peer lost", logging.String("node_id", id))
			}
		}
	}
	handlers := append([]LostHandler{}, m.onLost...)
	if m.metrics != nil {
		suspectCount := 0
		for _, node := range m.nodes {
			if node.State == StateSuspect {
				suspectCount++
			}
		}
		m.metrics.ClusterSuspectNodesTotal.Set(float64(suspectCount))
	}
	m.mu.Unlock()

	for _, id := range lost {
		for _, h := range handlers {
			h(id)
		}
	}
}

// IsOnline reports whether id is currently in StateOnline. Reshuffle's
// grace check calls it to abort the reshuffle of a node that reappeared
// within the grace window; Observe is what moves such a node back online.
func (m *Membership) IsOnline(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	return ok && node.State == StateOnline
}

// OnlineNodes returns the IDs of every node currently considered online.
func (m *Membership) OnlineNodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, node := range m.nodes {
		if node.State == StateOnline {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Membership) NodeAddr(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	if !ok {
		return "", false
	}
	return node.Addr, true
}

// IsLocalOnline reports whether this node itself believes it is part of
// a live cluster — the Storage Scheduler's precondition for persisting.
// It always returns true.
func (m *Membership) IsLocalOnline() bool { return true }

// GetPrimarySecondary chooses two distinct nodes uniformly at random from
// the online set. If only one node is online, it is returned as both
// roles.
func (m *Membership) GetPrimarySecondary() (primary, secondary string) {
	online := m.OnlineNodes()
	if len(online) == 0 {
		return m.localID, m.localID
	}
	if len(online) == 1 {
		return online[0], online[0]
	}

	i := rand.Intn(len(online))
	j := rand.Intn(len(online))
	for j == i {
		j = rand.Intn(len(online))
	}
	return online[i], online[j]
}

// GetReplacementExcluding picks a random online node other than exclude
// and, when possible, other than avoid — used by Reshuffle to find a
// node to take over a lost primary's or secondary's role.
func (m *Membership) GetReplacementExcluding(exclude, avoid string) (string, bool) {
	online := m.OnlineNodes()
	var candidates []string
	for _, id := range online {
		if id != exclude && id != avoid {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		for _, id := range online {
			if id != exclude {
				candidates = append(candidates, id)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func (m *Membership) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}
