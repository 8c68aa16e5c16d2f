//go:build zmq
// +build zmq

package transport

import (
	"time"

	zmq "github.com/pebbe/zmq4"
)

type zmqSocket struct {
	sock *zmq.Socket
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return err
}

func (s *zmqSocket) Recv() ([]byte, error) {
	return s.sock.RecvBytes(0)
}

func (s *zmqSocket) Close() error { return s.sock.Close() }

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(d)
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(d)
}

func (s *zmqSocket) Listen(addr string) error { return s.sock.Bind(addr) }
func (s *zmqSocket) Dial(addr string) error   { return s.sock.Connect(addr) }

type zmqSubSocket struct{ zmqSocket }

func (s *zmqSubSocket) Subscribe(topic []byte) error {
	return s.sock.SetSubscribe(string(topic))
}

// ZMQFactory is the build-tag-gated ZeroMQ Factory implementation,
// selected via NetworkConfig.Transport == "zmq" when the binary is
// built with -tags zmq.
type ZMQFactory struct {
	ctx *zmq.Context
}

func NewZMQFactory() (*ZMQFactory, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, err
	}
	return &ZMQFactory{ctx: ctx}, nil
}

func (f *ZMQFactory) newSocket(t zmq.Type) (*zmq.Socket, error) {
	return f.ctx.NewSocket(t)
}

func (f *ZMQFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := f.newSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (f *ZMQFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := f.newSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	return &zmqSubSocket{zmqSocket{sock: sock}}, nil
}

func (f *ZMQFactory) NewPushSocket() (DialSocket, error) {
	sock, err := f.newSocket(zmq.PUSH)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (f *ZMQFactory) NewPullSocket() (ListenSocket, error) {
	sock, err := f.newSocket(zmq.PULL)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

var _ Factory = (*ZMQFactory)(nil)

func init() {
	zmqFactoryCtor = func() (Factory, error) { return NewZMQFactory() }
}
