package scale

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// reply builds a reassembled scale response answering t.
func reply(t protocol.MessageType, extra ...byte) []byte {
	codes := map[protocol.MessageType]uint16{
		protocol.Disconnect:               0x8001,
		protocol.SaveUUID:                 0x8002,
		protocol.VerifyUUID:               0x8003,
		protocol.WriteDate:                0x8010,
		protocol.RetrieveDeviceInfo:       0x8020,
		protocol.RetrieveUserInfo:         0x9000,
		protocol.ExchangeUserInfo:         0x9002,
		protocol.Measure:                  0xa010,
		protocol.RetrieveMeasurementCount: 0xb000,
		protocol.RetrieveMeasurementInfo:  0xb010,
	}
	code := codes[t]
	msg := []byte{0x00, 0x00, 0x00, 0x10, 0x00, 0x00, byte(code >> 8), byte(code)}
	return append(msg, extra...)
}

// scaleResponder answers every request the way a scale holding count stored
// records would. Requests of a silent type get no answer.
func scaleResponder(count int, silent ...protocol.MessageType) func(protocol.Request) [][]byte {
	return func(req protocol.Request) [][]byte {
		for _, t := range silent {
			if req.ID == t {
				return nil
			}
		}
		switch req.ID {
		case protocol.Disconnect:
			return nil
		case protocol.RetrieveMeasurementCount:
			return [][]byte{reply(req.ID, 0x00, byte(count))}
		case protocol.RetrieveMeasurementInfo:
			index, _ := protocol.DecodeHex(req.Payload[0])
			return [][]byte{reply(req.ID, index...)}
		}
		return [][]byte{reply(req.ID)}
	}
}

// fakeLink plays the scale side of a connection.
type fakeLink struct {
	respond func(protocol.Request) [][]byte
	// dropOnDisconnect makes the scale hang up when asked to disconnect.
	dropOnDisconnect bool

	msgs chan ble.Message
	errs chan error
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	writes []protocol.Request
	closed bool
}

func newFakeLink(respond func(protocol.Request) [][]byte) *fakeLink {
	return &fakeLink{
		respond:          respond,
		dropOnDisconnect: true,
		msgs:             make(chan ble.Message, 64),
		errs:             make(chan error, 8),
		done:             make(chan struct{}),
	}
}

func (l *fakeLink) Messages() <-chan ble.Message { return l.msgs }
func (l *fakeLink) Errors() <-chan error         { return l.errs }
func (l *fakeLink) Done() <-chan struct{}        { return l.done }

func (l *fakeLink) Write(ctx context.Context, req protocol.Request) error {
	select {
	case <-l.done:
		return ble.ErrDisconnected
	default:
	}
	l.mu.Lock()
	l.writes = append(l.writes, req)
	l.mu.Unlock()
	if l.respond != nil {
		for _, v := range l.respond(req) {
			l.msgs <- ble.Message{Value: v, Characteristic: "0000ffb2-0000-1000-8000-00805f9b34fb"}
		}
	}
	if req.ID == protocol.Disconnect && l.dropOnDisconnect {
		l.drop()
	}
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.once.Do(func() { close(l.done) })
	return nil
}

// drop simulates the scale disconnecting.
func (l *fakeLink) drop() {
	select {
	case l.errs <- ble.ErrDisconnected:
	default:
	}
	l.once.Do(func() { close(l.done) })
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// labels returns the names of the written requests in order.
func (l *fakeLink) labels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.writes))
	for i, r := range l.writes {
		out[i] = r.Label()
	}
	return out
}

// payloads returns the payload chunks written for requests of type t.
func (l *fakeLink) payloads(t protocol.MessageType) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.writes {
		if r.ID == t {
			out = append(out, r.Payload...)
		}
	}
	return out
}

// fakeBridge answers backend calls with a request per action.
type fakeBridge struct {
	device  *backend.Device
	missing map[protocol.MessageType]bool
	result  json.RawMessage
	// hold, when set, makes ResolveDevice signal resolving and wait for it
	// to be closed.
	hold      chan struct{}
	resolving chan struct{}

	mu       sync.Mutex
	batches  [][]protocol.Action
	devices  []*backend.Device
	queries  []backend.DeviceQuery
	measures []backend.Measure
}

func newFakeBridge() *fakeBridge {
	d := &backend.Device{ID: 41}
	return &fakeBridge{
		device: d,
		result: json.RawMessage(`{"weight":72.4}`),
	}
}

func (b *fakeBridge) Messages(ctx context.Context, actions []protocol.Action, device *backend.Device) ([]protocol.Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, actions)
	b.devices = append(b.devices, device)
	var reqs []protocol.Request
	for _, a := range actions {
		if b.missing[a.ID] {
			continue
		}
		reqs = append(reqs, protocol.Request{
			ID:               a.ID,
			Name:             a.Name,
			ServiceID:        "0000ffb0-0000-1000-8000-00805f9b34fb",
			CharacteristicID: "0000ffb1-0000-1000-8000-00805f9b34fb",
			Payload:          []string{a.Payload},
		})
	}
	return reqs, nil
}

func (b *fakeBridge) ResolveDevice(ctx context.Context, q backend.DeviceQuery) (*backend.Device, error) {
	if b.hold != nil {
		close(b.resolving)
		<-b.hold
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	return b.device, nil
}

func (b *fakeBridge) SubmitMeasure(ctx context.Context, m backend.Measure) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.measures = append(b.measures, m)
	return b.result, nil
}

func (b *fakeBridge) submitted() []backend.Measure {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Measure(nil), b.measures...)
}

// fakeAdapter reports its devices to every scan.
type fakeAdapter struct {
	devices []ble.Device
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) Scan(ctx context.Context, found func(ble.Device)) error {
	for _, d := range a.devices {
		found(d)
	}
	<-ctx.Done()
	return nil
}

func (a *fakeAdapter) Connect(ctx context.Context, id string) (ble.Connection, error) {
	return nil, errors.New("fake: connect through Options.Dial")
}

// recorder is a Listener keeping every event.
type recorder struct {
	ch chan string

	mu        sync.Mutex
	events    []string
	locations []string
	errs      []error
	result    json.RawMessage
	profile   backend.Profile
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 256)}
}

func (r *recorder) event(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
	select {
	case r.ch <- name:
	default:
	}
}

func (r *recorder) OnDiscover(ble.Device) { r.event("discover") }
func (r *recorder) OnStopScan(int, bool)  { r.event("stopScan") }
func (r *recorder) OnConnect(string)      { r.event("connect") }
func (r *recorder) OnDisconnect()         { r.event("disconnect") }
func (r *recorder) OnData(ble.Message)    { r.event("data") }
func (r *recorder) OnWaitConfirm()        { r.event("waitConfirm") }
func (r *recorder) OnStartScale(_ ble.Message, p backend.Profile) {
	r.mu.Lock()
	r.profile = p
	r.mu.Unlock()
	r.event("startScale")
}

func (r *recorder) OnScaleDone(result json.RawMessage) {
	r.mu.Lock()
	r.result = result
	r.mu.Unlock()
	r.event("scaleDone")
}

func (r *recorder) OnError(location string, err error) {
	r.mu.Lock()
	r.locations = append(r.locations, location)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.event("error")
}

func (r *recorder) errors() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.locations...), append([]error(nil), r.errs...)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

// waitFor blocks until the listener has seen the named event.
func (r *recorder) waitFor(t *testing.T, name string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e == name {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", name)
		}
	}
}

var testScale = ble.Device{ID: "AA:BB:CC:DD:EE:FF", Name: "TNT_SCALE", RSSI: -60}

var testProfile = backend.Profile{
	ID:       7,
	Nickname: "ana",
	Height:   "170",
	DOB:      "1990-01-01",
	Gender:   1,
	UUID:     "0d1e7a1c-5f3b-4b8e-9a7d-2b6c4e8f1a3d",
}

// newTestManager returns a manager that has already discovered testScale
// and dials link.
func newTestManager(t *testing.T, bridge backend.Bridge, link Link) (*Manager, *recorder) {
	t.Helper()
	rec := newRecorder()
	m, err := NewManager(&fakeAdapter{devices: []ble.Device{testScale}}, bridge, rec, Options{
		Dial: func(ctx context.Context, id string) (Link, error) {
			if link == nil {
				return nil, errors.New("fake: dial refused")
			}
			return link, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Scan(context.Background(), ble.ScanOptions{Timeout: 5 * time.Second}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	rec.waitFor(t, "discover")
	m.StopScan()
	m.WaitScan()
	return m, rec
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}
