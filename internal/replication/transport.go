package replication

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/transport"
)

// Broadcaster fans outbound RPC envelopes out to every replica over a
// PUB socket — single responsibility, mirroring the shape a WAL
// publisher would take, but carrying replication envelopes instead of
// raw WAL entries.
type Broadcaster struct {
	socket transport.ListenSocket
	addr   string
	mu     sync.Mutex
}

func NewBroadcaster(factory transport.Factory, addr string) (*Broadcaster, error) {
	socket, err := factory.NewPubSocket()
	if err != nil {
		return nil, fmt.Errorf("create pub socket: %w", err)
	}
	return &Broadcaster{socket: socket, addr: addr}, nil
}

func (b *Broadcaster) Start() error {
	return b.socket.Listen(b.addr)
}

func (b *Broadcaster) Send(from string, typ MessageType, lsn uint64, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env := Envelope{Type: typ, From: from, LSN: lsn, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.socket.Send(data)
}

func (b *Broadcaster) Close() error { return b.socket.Close() }

// Receiver subscribes to a peer's PUB socket and feeds every envelope it
// receives into a Handler.
type Receiver struct {
	socket  transport.SubscribeSocket
	handler *Handler
	logger  logging.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewReceiver(factory transport.Factory, peerAddr string, handler *Handler, logger logging.Logger) (*Receiver, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	socket, err := factory.NewSubSocket()
	if err != nil {
		return nil, fmt.Errorf("create sub socket: %w", err)
	}
	if err := socket.Subscribe(nil); err != nil {
		return nil, fmt.Errorf("subscribe to all topics: %w", err)
	}
	if err := socket.Dial(peerAddr); err != nil {
		return nil, fmt.Errorf("dial %s: %w", peerAddr, err)
	}
	return &Receiver{
		socket:   socket,
		handler:  handler,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

func (r *Receiver) Start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *Receiver) loop() {
	defer r.wg.Done()
	for {
		r.socket.SetRecvDeadline(1 * time.Second)
		data, err := r.socket.Recv()
		select {
		case <-r.stopChan:
			return
		default:
		}
		if err != nil {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			r.logger.Warn("dropped malformed replication envelope", logging.Error(err))
			continue
		}
		if err := r.handler.Apply(env); err != nil {
			r.logger.Error("failed to apply replication envelope",
				logging.String("type", string(env.Type)), logging.Error(err))
		}
	}
}

func (r *Receiver) Stop() {
	close(r.stopChan)
	r.socket.Close()
	r.wg.Wait()
}
