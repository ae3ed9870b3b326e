package session

import (
	"errors"
	"sync"

	"wsh/internal/broadcast"
)

// broadcastCapacity and parserCapacity match spec §4.2: the broadcast
// side drops for slow streaming clients (so one wedged client can't
// freeze the terminal), while the parser side is a fixed small
// lossless buffer — when it fills, Publish blocks, which parks the PTY
// reader thread and so propagates back-pressure into the kernel PTY
// buffer and the child's own writes.
const (
	broadcastCapacity = 64
	parserCapacity    = 256
)

// ErrParserAlreadySubscribed is returned by SubscribeParser on any call
// after the first: the parser channel has exactly one consumer, by
// construction (a second caller reading from the same lossless channel
// would silently steal chunks from the Parser task).
var ErrParserAlreadySubscribed = errors.New("session: subscribe_parser called more than once")

// Broker fans a session's raw PTY output out to streaming clients (a
// lossy broadcast, one subscription per client) and to the VT parser (a
// single lossless channel). Grounded on spec §4.2's two-channel broker:
// the parser must never lose a byte since it is the session's
// authoritative state, but a slow display client must never be able to
// stall it.
type Broker struct {
	mu         sync.Mutex
	broadcast  *broadcast.Broadcaster[[]byte]
	parserTx   chan []byte
	subscribed bool
}

// NewBroker creates a Broker with spec-mandated channel capacities.
func NewBroker() *Broker {
	return &Broker{
		broadcast: broadcast.New[[]byte](broadcastCapacity),
		parserTx:  make(chan []byte, parserCapacity),
	}
}

// Publish fans data out to every broadcast subscriber (dropping for any
// that are behind) and then pushes it to the parser channel. The
// broadcast fan-out happens first so a slow parser can never delay
// delivery to fast streaming clients; the parser send is unbuffered
// past its fixed capacity and therefore the call's only blocking point.
func (b *Broker) Publish(data []byte) {
	b.broadcast.Publish(data)
	b.parserTx <- data
}

// Subscribe registers a new lossy broadcast subscriber (a streaming
// client's view of raw PTY output).
func (b *Broker) Subscribe() *broadcast.Subscription[[]byte] {
	return b.broadcast.Subscribe()
}

// SubscribeParser returns the parser's lossless receive channel. It may
// be called exactly once per Broker; a second call is a programming
// error and returns ErrParserAlreadySubscribed.
func (b *Broker) SubscribeParser() (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribed {
		return nil, ErrParserAlreadySubscribed
	}
	b.subscribed = true
	return b.parserTx, nil
}

// Close shuts down the broadcast side. The parser channel is left open;
// the reader loop that owns Publish is expected to stop calling it
// once the PTY fd closes, and the Parser task exits when its ctx is
// canceled rather than when this channel closes.
func (b *Broker) Close() {
	b.broadcast.Close()
}
