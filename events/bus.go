package events

import (
	"sync"
	"sync/atomic"

	"github.com/asaskevich/EventBus"
)

var _ Publisher = (*Bus)(nil)

// Bus delivers status, position and alert events to in-process subscribers
// through EventBus, and fans metrics and status changes out to streaming
// subscribers over bounded channels. Streaming delivery never blocks the
// publisher: a full subscriber buffer drops the event.
type Bus struct {
	bus EventBus.Bus

	mu      sync.RWMutex
	streams map[int]*Stream
	nextID  int
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{
		bus:     EventBus.New(),
		streams: make(map[int]*Stream),
	}
}

// Subscribe registers fn for topic. fn runs asynchronously, one call at a
// time and in publish order; a publish waits for the handler's previous
// call to finish.
func (b *Bus) Subscribe(topic string, fn any) error {
	return b.bus.SubscribeAsync(topic, fn, true)
}

// Wait blocks until every asynchronous handler has returned.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

func (b *Bus) StatusChanged(e AccountStatusChanged) {
	b.bus.Publish(TopicStatusChanged, e)
	ev := e
	b.fanout(Envelope{Type: "status", AccountID: e.AccountID, Status: &ev})
}

func (b *Bus) PositionClosed(e PositionClosed) {
	b.bus.Publish(TopicPositionClosed, e)
}

func (b *Bus) Alert(e Alert) {
	b.bus.Publish(TopicAlert, e)
}

func (b *Bus) Metrics(e MetricsUpdated) {
	ev := e
	b.fanout(Envelope{Type: "metrics", AccountID: e.AccountID, Metrics: &ev})
}

// Dropped is the number of streaming events discarded for slow consumers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) fanout(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.streams {
		if s.accountID != "" && s.accountID != env.AccountID {
			continue
		}
		select {
		case s.ch <- env:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Envelope is one streamed event.
type Envelope struct {
	Type      string                `json:"type"`
	AccountID string                `json:"account_id"`
	Metrics   *MetricsUpdated       `json:"metrics,omitempty"`
	Status    *AccountStatusChanged `json:"status,omitempty"`
}

type Stream struct {
	C <-chan Envelope

	ch        chan Envelope
	id        int
	accountID string
	bus       *Bus
	dropped   atomic.Uint64
	once      sync.Once
}

// Stream opens a streaming subscription with the given buffer. An empty
// accountID receives every account.
func (b *Bus) Stream(accountID string, buffer int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Envelope, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Stream{C: ch, ch: ch, id: b.nextID, accountID: accountID, bus: b}
	b.streams[s.id] = s
	return s
}

// Streams is the number of open streaming subscriptions.
func (b *Bus) Streams() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams)
}

func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

func (s *Stream) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.streams, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
