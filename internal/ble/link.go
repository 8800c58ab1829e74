package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// Message is one reassembled protocol message and the channel it arrived on.
type Message struct {
	Value          []byte
	Characteristic string
	Service        string
}

// LinkOptions configures a Link.
type LinkOptions struct {
	Buffer int // reassembled messages held before notification callbacks block (default 16)
}

// Link is a connection to a scale that turns notifications from every
// notifiable characteristic into reassembled Messages. Messages from one
// characteristic are delivered in arrival order.
type Link struct {
	conn  Connection
	reasm *protocol.Reassembler

	messages chan Message
	errs     chan error
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	chars map[string]Characteristic
}

// Dial connects to the device with the given id and subscribes to all of
// its notifiable characteristics.
func Dial(ctx context.Context, adapter Adapter, id string, opts LinkOptions) (*Link, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	conn, err := adapter.Connect(ctx, id)
	if err != nil {
		return nil, err
	}
	l, err := NewLink(conn, opts)
	if err != nil {
		_ = conn.Disconnect()
		return nil, err
	}
	slog.Info("[BLE] connected", "id", id)
	return l, nil
}

// NewLink wires reassembly onto an established connection.
func NewLink(conn Connection, opts LinkOptions) (*Link, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	l := &Link{
		conn:     conn,
		reasm:    protocol.NewReassembler(),
		messages: make(chan Message, opts.Buffer),
		errs:     make(chan error, 4),
		done:     make(chan struct{}),
		chars:    make(map[string]Characteristic),
	}

	conn.OnDisconnect(func() {
		slog.Warn("[BLE] disconnected")
		l.report(ErrDisconnected)
		l.shutdown()
	})

	chars, err := conn.Characteristics()
	if err != nil {
		return nil, err
	}
	subscribed := 0
	for _, c := range chars {
		l.chars[charKey(c.ServiceUUID(), c.UUID())] = c
		if err := c.Subscribe(l.receiver(c)); err != nil {
			slog.Debug("[BLE] characteristic not notifiable", "char", c.UUID(), "error", err)
			continue
		}
		subscribed++
	}
	if subscribed == 0 {
		return nil, errors.New("ble: no notifiable characteristics")
	}
	return l, nil
}

func (l *Link) receiver(c Characteristic) func([]byte) {
	char, svc := c.UUID(), c.ServiceUUID()
	return func(data []byte) {
		slog.Debug("[BLE] notification", "char", char, "data", protocol.HexString(data))
		value, ok := l.reasm.Push(char, data)
		if !ok {
			return
		}
		select {
		case l.messages <- Message{Value: value, Characteristic: char, Service: svc}:
		case <-l.done:
		}
	}
}

// Messages returns the stream of reassembled messages.
func (l *Link) Messages() <-chan Message { return l.messages }

// Errors returns transport errors such as ErrDisconnected.
func (l *Link) Errors() <-chan error { return l.errs }

// Done is closed once the link is closed or the peripheral disconnects.
func (l *Link) Done() <-chan struct{} { return l.done }

// Write sends the request to the characteristic it names, one payload chunk
// per write, after the request's delay.
func (l *Link) Write(ctx context.Context, req protocol.Request) error {
	if d := req.Delay(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrDisconnected
		}
	}
	select {
	case <-l.done:
		return ErrDisconnected
	default:
	}

	c, err := l.characteristic(req.ServiceID, req.CharacteristicID)
	if err != nil {
		return err
	}
	for _, chunk := range req.Payload {
		data, err := protocol.DecodeHex(chunk)
		if err != nil {
			return err
		}
		slog.Debug("[BLE] write", "request", req.Label(), "data", chunk, "withResponse", req.WithResponse)
		if req.WithResponse {
			err = c.WriteWithResponse(data)
		} else {
			err = c.Write(data)
		}
		if err != nil {
			return fmt.Errorf("ble: write %s: %w", req.Label(), err)
		}
	}
	return nil
}

func (l *Link) characteristic(service, char string) (Characteristic, error) {
	key := charKey(service, char)
	l.mu.Lock()
	c, ok := l.chars[key]
	l.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := l.conn.DiscoverCharacteristic(service, char)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.chars[key] = c
	l.mu.Unlock()
	return c, nil
}

// Close disconnects from the peripheral.
func (l *Link) Close() error {
	l.shutdown()
	return l.conn.Disconnect()
}

func (l *Link) report(err error) {
	select {
	case l.errs <- err:
	default:
		slog.Warn("[BLE] dropping transport error", "error", err)
	}
}

func (l *Link) shutdown() {
	l.once.Do(func() { close(l.done) })
}

func charKey(service, char string) string {
	return strings.ToLower(service) + "/" + strings.ToLower(char)
}
