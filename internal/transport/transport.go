// Package transport abstracts the messaging sockets the Replication
// Protocol and the node discovery fallback ride on, so the RPC layer
// can swap between mangos (the default) and zmq4 (behind a build tag)
// without touching call sites.
package transport

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

var errZMQNotBuilt = errors.New("transport: binary was not built with -tags zmq")

func errUnknownTransport(name string) error {
	return fmt.Errorf("transport: unknown transport %q", name)
}

// Socket is the minimal send/recv contract every transport implements.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket binds to a local address and accepts connections.
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket connects out to a remote address.
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// SubscribeSocket is a SUB socket that filters by topic prefix.
type SubscribeSocket interface {
	DialSocket
	Subscribe(topic []byte) error
}

// SurveySocket is a SURVEYOR socket with a bounded response window.
type SurveySocket interface {
	ListenSocket
	SetSurveyTime(d time.Duration) error
}

// Factory creates the socket shapes the Replication Protocol needs:
// a PUB/SUB pair for fanning out RPCs to every replica, and a
// PUSH/PULL pair for the point-to-point row shipping Reshuffle does.
type Factory interface {
	NewPubSocket() (ListenSocket, error)
	NewSubSocket() (SubscribeSocket, error)
	NewPushSocket() (DialSocket, error)
	NewPullSocket() (ListenSocket, error)
}

// Addrs holds the bind/dial addresses the Replication Protocol's two
// socket pairs use.
type Addrs struct {
	RPCPublishAddr string // e.g. "tcp://*:1986"
	RowPushAddr    string // e.g. "tcp://*:1987"
}

func DefaultAddrs(rpcPort int) Addrs {
	return Addrs{
		RPCPublishAddr: portAddr(rpcPort),
		RowPushAddr:    portAddr(rpcPort + 1),
	}
}

func portAddr(port int) string {
	return "tcp://*:" + strconv.Itoa(port)
}

// DialAddr builds the address a peer's socket dials out to, given that
// peer's host and the port it bound with Listen.
func DialAddr(host string, port int) string {
	return "tcp://" + host + ":" + strconv.Itoa(port)
}

// zmqFactoryCtor is populated by zmq.go's init() only when the binary is
// built with -tags zmq; it stays nil otherwise.
var zmqFactoryCtor func() (Factory, error)

// NewFactory selects a Factory by name ("mangos" or "zmq"), the value
// carried in config.NetworkConfig.Transport.
func NewFactory(name string) (Factory, error) {
	switch name {
	case "zmq":
		if zmqFactoryCtor == nil {
			return nil, errZMQNotBuilt
		}
		return zmqFactoryCtor()
	case "mangos", "":
		return NewMangosFactory(), nil
	default:
		return nil, errUnknownTransport(name)
	}
}
