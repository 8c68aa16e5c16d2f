package transport

import (
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	_ "go.nanomsg.org/mangos/v3/transport/all"
)

type mangosSocket struct {
	sock mangos.Socket
}

func (s *mangosSocket) Send(data []byte) error { return s.sock.Send(data) }
func (s *mangosSocket) Recv() ([]byte, error)  { return s.sock.Recv() }
func (s *mangosSocket) Close() error           { return s.sock.Close() }

func (s *mangosSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionRecvDeadline, d)
}

func (s *mangosSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSendDeadline, d)
}

func (s *mangosSocket) Listen(addr string) error { return s.sock.Listen(addr) }
func (s *mangosSocket) Dial(addr string) error   { return s.sock.Dial(addr) }

type mangosSubSocket struct{ mangosSocket }

func (s *mangosSubSocket) Subscribe(topic []byte) error {
	return s.sock.SetOption(mangos.OptionSubscribe, topic)
}

// MangosFactory is the default Factory implementation, built on
// go.nanomsg.org/mangos/v3 so the Replication Protocol needs no CGo
// toolchain to run.
type MangosFactory struct{}

func NewMangosFactory() *MangosFactory { return &MangosFactory{} }

func (f *MangosFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSocket{sock: sock}, nil
}

func (f *MangosFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSubSocket{mangosSocket{sock: sock}}, nil
}

func (f *MangosFactory) NewPushSocket() (DialSocket, error) {
	sock, err := push.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSocket{sock: sock}, nil
}

func (f *MangosFactory) NewPullSocket() (ListenSocket, error) {
	sock, err := pull.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSocket{sock: sock}, nil
}

var _ Factory = (*MangosFactory)(nil)
