package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/ble/protocol"
	"github.com/chaz8081/tntscale/internal/scale"
)

// Event types published by a Publisher.
const (
	TypeDiscover    = "discover"
	TypeStopScan    = "stop-scan"
	TypeConnect     = "connect"
	TypeDisconnect  = "disconnect"
	TypeData        = "data"
	TypeStartScale  = "start-scale"
	TypeWaitConfirm = "wait-confirm"
	TypeScaleDone   = "scale-done"
	TypeError       = "error"
)

// Event is the published form of a listener callback.
type Event struct {
	Type     string          `json:"type"`
	Time     time.Time       `json:"time"`
	Device   string          `json:"device,omitempty"`
	Name     string          `json:"name,omitempty"`
	RSSI     int             `json:"rssi,omitempty"`
	Timeout  bool            `json:"timeout,omitempty"`
	Message  string          `json:"message,omitempty"` // response type name
	Data     string          `json:"data,omitempty"`    // hex
	Profile  int             `json:"profile,omitempty"`
	Slot     int             `json:"slot,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Location string          `json:"location,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Sink stores and broadcasts events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Buffer       int           // events held while the sink is slow (default 64)
	WriteTimeout time.Duration // per-event sink deadline (default 2s)
	Data         bool          // also publish every raw message
}

// Publisher is a Listener that forwards events to a Sink from its own
// goroutine. Events are dropped when the buffer is full.
type Publisher struct {
	sink Sink
	opts PublisherOptions
	now  func() time.Time

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ scale.Listener = (*Publisher)(nil)

// NewPublisher starts a Publisher writing to sink.
func NewPublisher(sink Sink, opts PublisherOptions) *Publisher {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	p := &Publisher{
		sink:   sink,
		opts:   opts,
		now:    time.Now,
		events: make(chan Event, opts.Buffer),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Publisher) loop() {
	defer close(p.done)
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.WriteTimeout)
		if err := p.sink.Write(ctx, ev); err != nil {
			slog.Warn("[EVENTS] publish failed", "type", ev.Type, "error", err)
		}
		cancel()
	}
}

func (p *Publisher) emit(ev Event) {
	ev.Time = p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		slog.Warn("[EVENTS] buffer full, dropping event", "type", ev.Type)
	}
}

// Close flushes buffered events and closes the sink.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.done
	return p.sink.Close()
}

func (p *Publisher) OnDiscover(d ble.Device) {
	p.emit(Event{Type: TypeDiscover, Device: d.ID, Name: d.Name, RSSI: d.RSSI})
}

func (p *Publisher) OnStopScan(status int, isTimeout bool) {
	p.emit(Event{Type: TypeStopScan, Timeout: isTimeout})
}

func (p *Publisher) OnConnect(id string) {
	p.emit(Event{Type: TypeConnect, Device: id})
}

func (p *Publisher) OnDisconnect() {
	p.emit(Event{Type: TypeDisconnect})
}

func (p *Publisher) OnData(msg ble.Message) {
	if !p.opts.Data {
		return
	}
	p.emit(Event{
		Type:    TypeData,
		Message: protocol.Classify(msg.Value).String(),
		Data:    protocol.HexString(msg.Value),
	})
}

func (p *Publisher) OnStartScale(msg ble.Message, profile backend.Profile) {
	p.emit(Event{Type: TypeStartScale, Profile: profile.ID, Slot: profile.Slot})
}

func (p *Publisher) OnWaitConfirm() {
	p.emit(Event{Type: TypeWaitConfirm})
}

func (p *Publisher) OnScaleDone(result json.RawMessage) {
	p.emit(Event{Type: TypeScaleDone, Result: result})
}

func (p *Publisher) OnError(location string, err error) {
	p.emit(Event{Type: TypeError, Location: location, Error: err.Error()})
}
