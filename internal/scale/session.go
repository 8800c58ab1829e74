package scale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// countOffset is the byte of a RetrieveMeasurementCount response holding the
// number of stored records.
const countOffset = 9

// Session is one connection to a scale running the exchange for a single
// profile. All protocol state is owned by the session goroutine.
type Session struct {
	m       *Manager
	device  ble.Device
	profile backend.Profile
	params  Params
	link    Link

	queue    *protocol.Queue
	received map[protocol.MessageType][]byte
	offline  []string
	paired   *backend.Device
	current  *protocol.Request
	waiting  bool

	// quiet suppresses transport errors once the exchange is over.
	quiet              atomic.Bool
	disconnectReported bool

	confirm   chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(m *Manager, device ble.Device, profile backend.Profile, p Params) *Session {
	return &Session{
		m:        m,
		device:   device,
		profile:  profile,
		params:   p,
		queue:    protocol.NewQueue(),
		received: make(map[protocol.MessageType][]byte),
		confirm:  make(chan struct{}, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Device returns the scale the session is connected to.
func (s *Session) Device() ble.Device { return s.device }

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Confirm resumes a session paused after OnWaitConfirm, overwriting the
// profile already stored in the slot. It may be called from a Listener.
func (s *Session) Confirm() error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.confirm <- struct{}{}:
	default:
	}
	return nil
}

// Close disconnects from the scale. Transport errors caused by the
// disconnect are not reported, and a step already in progress ends without
// changing the state or notifying the listener. Close does not wait for the
// session to end.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.quiet.Store(true)
		close(s.closing)
		s.m.setState(Disconnect)
		err = s.link.Close()
	})
	return err
}

func (s *Session) closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// advance moves the manager to st unless the session has been closed.
// The check and the change happen under the manager lock, so a concurrent
// Close always leaves the state at Disconnect.
func (s *Session) advance(st State) bool {
	s.m.mu.Lock()
	if s.closed() {
		s.m.mu.Unlock()
		return false
	}
	prev := s.m.state
	s.m.state = st
	s.m.mu.Unlock()
	if prev != st {
		slog.Debug("[SCALE] state", "from", prev, "to", st)
	}
	return true
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.m.finish(s)

	for {
		select {
		case <-ctx.Done():
			s.quiet.Store(true)
			_ = s.link.Close()
			return
		case <-s.closing:
			return
		case <-s.link.Done():
			if s.drain(ctx) {
				s.m.listener.OnDisconnect()
			}
			return
		case err := <-s.link.Errors():
			s.transportError(err)
		case msg := <-s.link.Messages():
			if !s.receive(ctx, msg) {
				return
			}
		case <-s.confirm:
			if !s.waiting {
				slog.Warn("[SCALE] confirm without pending confirmation")
				continue
			}
			s.waiting = false
			if err := s.startScale(ctx); err != nil && s.fail(err) {
				_ = s.link.Close()
				return
			}
		}
	}
}

// drain handles messages and errors that were queued before the link went
// down. It returns false if the session was aborted while doing so.
func (s *Session) drain(ctx context.Context) bool {
	for {
		select {
		case msg := <-s.link.Messages():
			if !s.receive(ctx, msg) {
				return false
			}
		case err := <-s.link.Errors():
			s.transportError(err)
		default:
			return true
		}
	}
}

// receive reports and handles one message. It returns false when the
// session has to be aborted.
func (s *Session) receive(ctx context.Context, msg ble.Message) bool {
	s.m.listener.OnData(msg)
	if err := s.handle(ctx, msg); err != nil && s.fail(err) {
		s.quiet.Store(true)
		_ = s.link.Close()
		return false
	}
	return true
}

func (s *Session) handle(ctx context.Context, msg ble.Message) error {
	if s.current == nil {
		slog.Debug("[SCALE] message before first request", "data", protocol.HexString(msg.Value))
		return nil
	}
	typ := protocol.Classify(msg.Value)
	s.received[typ] = msg.Value
	slog.Debug("[SCALE] response", "type", typ, "after", s.current.Label(), "data", protocol.HexString(msg.Value))

	switch typ {
	case protocol.VerifyUUID:
		return s.requestNext(ctx, protocol.WriteDate, false)
	case protocol.WriteDate:
		return s.requestNext(ctx, protocol.RetrieveDeviceInfo, false)
	case protocol.RetrieveDeviceInfo:
		return s.requestNext(ctx, protocol.RetrieveUserInfo, false)
	case protocol.RetrieveUserInfo:
		if s.params.Bond {
			s.params.ForceOverwrite = false
		}
		return s.exchangeUserInfo(ctx)
	case protocol.ExchangeUserInfo:
		if !s.params.Bond {
			return s.requestNext(ctx, protocol.SaveUUID, false)
		}
		return s.beginMeasuring(ctx, msg)
	case protocol.SaveUUID:
		return s.beginMeasuring(ctx, msg)
	case protocol.Measure:
		return s.requestNext(ctx, protocol.RetrieveMeasurementCount, false)
	case protocol.RetrieveMeasurementCount:
		return s.retrieveRecords(ctx, msg.Value)
	case protocol.RetrieveMeasurementInfo:
		return s.collectRecord(ctx, msg.Value)
	}
	return nil
}

func (s *Session) exchangeUserInfo(ctx context.Context) error {
	d, err := s.m.bridge.ResolveDevice(ctx, backend.DeviceQuery{
		UserInfo:   protocol.HexString(s.received[protocol.RetrieveUserInfo]),
		DeviceInfo: protocol.HexString(s.received[protocol.RetrieveDeviceInfo]),
		Slot:       s.params.Slot,
		ProfileID:  s.profile.ID,
	})
	if err != nil {
		return failAt("devices", err)
	}
	if s.closed() {
		return failAt("devices", ErrSessionClosed)
	}
	s.paired = d
	if !s.params.ForceOverwrite && d.UserInfoExists {
		slog.Info("[SCALE] slot already holds a profile, waiting for confirmation", "slot", s.params.Slot)
		s.waiting = true
		s.m.listener.OnWaitConfirm()
		return nil
	}
	return s.startScale(ctx)
}

func (s *Session) startScale(ctx context.Context) error {
	exchange := struct {
		UserInfo   backend.Profile `json:"user_info"`
		DeviceInfo *backend.Device `json:"device_info"`
		ProfileID  int             `json:"profile_id"`
	}{s.profile, s.paired, s.params.Slot}

	reqs, err := s.fetch(ctx,
		protocol.NewMessageWith(protocol.ExchangeUserInfo, protocol.JSON(exchange)),
		protocol.NewMessageWith(protocol.SaveUUID, protocol.Text(s.profile.UUID)),
		protocol.NewMessage(protocol.Measure),
		protocol.NewMessage(protocol.Disconnect),
		protocol.NewMessage(protocol.RetrieveMeasurementCount),
		protocol.NewMessageWith(protocol.RetrieveMeasurementInfo, protocol.Text("1")),
	)
	if err != nil {
		return failAt("scale", err)
	}
	s.queue.Push(reqs...)
	return s.requestNext(ctx, protocol.ExchangeUserInfo, false)
}

func (s *Session) beginMeasuring(ctx context.Context, msg ble.Message) error {
	if err := s.requestNext(ctx, protocol.Measure, false); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.m.opts.SettleDelay); err != nil {
		return failAt("scale", err)
	}
	if !s.advance(StartScale) {
		return failAt("scale", ErrSessionClosed)
	}
	s.m.listener.OnStartScale(msg, s.profile)
	return nil
}

func (s *Session) retrieveRecords(ctx context.Context, value []byte) error {
	count := 0
	if len(value) > countOffset {
		count = int(value[countOffset])
	}
	slog.Info("[SCALE] stored records", "count", count)
	if count > 1 {
		msgs := []protocol.Message{protocol.NewMessage(protocol.Disconnect)}
		for i := count; i >= 2; i-- {
			msgs = append(msgs, protocol.NewMessageWith(protocol.RetrieveMeasurementInfo, protocol.Number(int64(i))))
		}
		reqs, err := s.fetch(ctx, msgs...)
		if err != nil {
			return failAt("messages", err)
		}
		s.queue.Unshift(reqs...)
	}
	return s.requestNext(ctx, protocol.RetrieveMeasurementInfo, true)
}

func (s *Session) collectRecord(ctx context.Context, value []byte) error {
	data := protocol.HexString(value)
	if s.queue.Contains(protocol.RetrieveMeasurementInfo) {
		s.offline = append(s.offline, data)
		return s.requestNext(ctx, protocol.RetrieveMeasurementInfo, true)
	}

	s.quiet.Store(true)
	if !s.advance(ScaleDone) {
		return failAt("scale", ErrSessionClosed)
	}
	m := backend.Measure{
		Payload:      data,
		ProfileID:    s.profile.ID,
		OfflineScale: s.params.OfflineScale,
		OfflineData:  s.offline,
	}
	if s.paired != nil {
		m.DeviceID = s.paired.ID
	}
	result, err := s.m.bridge.SubmitMeasure(ctx, m)
	if err != nil {
		return failAt("scale", err)
	}
	slog.Info("[SCALE] measurement submitted", "offline", len(s.offline))
	if s.closed() {
		return nil
	}
	s.m.listener.OnScaleDone(result)
	return s.requestNext(ctx, protocol.Disconnect, false)
}

// requestNext writes the first pending request of type t.
func (s *Session) requestNext(ctx context.Context, t protocol.MessageType, remove bool) error {
	if s.closed() {
		return failAt("write", ErrSessionClosed)
	}
	req, ok := s.queue.TakeNext(t, remove)
	if !ok {
		return failAt("action", fmt.Errorf("scale: next action %s: %w", t.Name(), ErrActionNotFound))
	}
	s.current = &req
	if err := s.link.Write(ctx, req); err != nil {
		return failAt("write", err)
	}
	return nil
}

// fetch turns msgs into transmit-ready requests through the backend.
func (s *Session) fetch(ctx context.Context, msgs ...protocol.Message) ([]protocol.Request, error) {
	actions, err := protocol.Actions(msgs...)
	if err != nil {
		return nil, err
	}
	return s.m.bridge.Messages(ctx, actions, s.paired)
}

func (s *Session) transportError(err error) {
	if s.quiet.Load() {
		slog.Debug("[SCALE] transport error after exchange", "error", err)
		return
	}
	if errors.Is(err, ble.ErrDisconnected) {
		if s.disconnectReported {
			return
		}
		s.disconnectReported = true
	}
	s.m.report("onData", err)
}

// fail reports err and returns true if it ends the session. Disconnect
// errors hit by a step still running after Close or the end of the exchange
// are only logged.
func (s *Session) fail(err error) bool {
	location := "onData"
	var fe *FlowError
	if errors.As(err, &fe) {
		location, err = fe.Location, fe.Err
	}
	if s.quiet.Load() && (errors.Is(err, ble.ErrDisconnected) || errors.Is(err, ErrSessionClosed)) {
		slog.Debug("[SCALE] step ended after disconnect", "location", location, "error", err)
		return false
	}
	s.m.report(location, err)
	return errors.Is(err, ErrActionNotFound)
}

// sleep waits for d, returning early if ctx is done or the session is closed.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
