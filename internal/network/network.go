package network

import (
	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/eventbus"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/metrics"
)

// Network bundles the Membership tracker and its UDP Beacon into one
// lifecycle, and is the concrete type wired into the Storage Scheduler
// as its NetworkStatus dependency and into Reshuffle as its node-lost
// event source.
type Network struct {
	Membership *Membership
	beacon     *Beacon
	bus        *eventbus.Bus
}

func New(cfg config.NetworkConfig, repl config.ReplicationConfig, localID, localAddr string, logger logging.Logger, reg *metrics.Registry, bus *eventbus.Bus) *Network {
	suspectMisses := int(repl.SuspectAfter / cfg.BeaconInterval)
	if suspectMisses < 1 {
		suspectMisses = 1
	}
	membership := NewMembership(localID, localAddr, cfg.BeaconInterval, repl.LostAfter, suspectMisses, logger, reg)
	n := &Network{
		Membership: membership,
		beacon:     NewBeacon(cfg, membership, localID, localAddr, logger),
		bus:        bus,
	}
	membership.OnLost(func(nodeID string) {
		bus.Publish(eventbus.TopicNodeLost, eventbus.NodeEvent{NodeID: nodeID})
	})
	return n
}

func (n *Network) Start() error {
	n.Membership.Start()
	return n.beacon.Start()
}

func (n *Network) Stop() {
	n.beacon.Stop()
	n.Membership.Stop()
}

// IsOnline satisfies scheduler.NetworkStatus by returning
// Membership.IsLocalOnline, which is always true: neither the beacon
// socket nor the membership sweep is checked.
func (n *Network) IsOnline() bool {
	return n.Membership.IsLocalOnline()
}

func (n *Network) OnNodeLost(h LostHandler) {
	n.Membership.OnLost(h)
}

func (n *Network) GetPrimarySecondary() (string, string) {
	return n.Membership.GetPrimarySecondary()
}
