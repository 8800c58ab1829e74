package scale

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// Manager scans for scales and runs one measurement session at a time.
type Manager struct {
	bridge   backend.Bridge
	listener Listener
	scanner  *ble.Scanner
	dial     DialFunc
	opts     Options

	mu      sync.Mutex
	state   State
	session *Session
}

// NewManager returns a Manager using adapter for scanning and, unless
// opts.Dial is set, for connecting. A nil listener discards events.
func NewManager(adapter ble.Adapter, bridge backend.Bridge, listener Listener, opts Options) (*Manager, error) {
	if listener == nil {
		listener = NopListener{}
	}
	scanner, err := ble.NewScanner(adapter, opts.RegistrySize)
	if err != nil {
		return nil, err
	}
	dial := opts.Dial
	if dial == nil {
		dial = func(ctx context.Context, id string) (Link, error) {
			l, err := ble.Dial(ctx, adapter, id, ble.LinkOptions{})
			if err != nil {
				return nil, err
			}
			return l, nil
		}
	}
	return &Manager{
		bridge:   bridge,
		listener: listener,
		scanner:  scanner,
		dial:     dial,
		opts:     opts,
	}, nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		slog.Debug("[SCALE] state", "from", prev, "to", s)
	}
}

// Scan starts discovering scales in the background. Discoveries and the end
// of the scan are reported to the listener.
func (m *Manager) Scan(ctx context.Context, opts ble.ScanOptions) error {
	m.setState(Scanning)
	if err := m.scanner.Start(ctx, opts, m.listener); err != nil {
		m.report("scan", err)
		return err
	}
	return nil
}

// StopScan ends a running scan. It is a no-op when no scan is running.
func (m *Manager) StopScan() {
	m.scanner.Stop()
}

// WaitScan blocks until the running scan, if any, has ended.
func (m *Manager) WaitScan() {
	m.scanner.Wait()
}

// Devices returns the devices found by the last scan.
func (m *Manager) Devices() []ble.Device {
	return m.scanner.Devices()
}

// Session returns the running session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// ConnectAndScale connects to device and starts the pairing and measurement
// exchange for profile. The device must have been found by the last scan.
// ctx bounds the whole session, not just the call. A session already running
// is closed first, so ConnectAndScale must not be called from a Listener.
func (m *Manager) ConnectAndScale(ctx context.Context, device ble.Device, profile backend.Profile, p Params) (*Session, error) {
	if device.ID == "" {
		return nil, ErrDeviceNotFound
	}
	if profile.UUID == "" {
		return nil, ErrProfileNotFound
	}
	if prev := m.Session(); prev != nil {
		slog.Info("[SCALE] closing previous session", "device", prev.device.ID)
		_ = prev.Close()
		<-prev.Done()
	}

	profile.Slot = p.Slot
	s := newSession(m, device, profile, p)

	reqs, err := s.fetch(ctx,
		protocol.NewMessage(protocol.Disconnect),
		protocol.NewMessage(protocol.WriteDate),
		protocol.NewMessageWith(protocol.VerifyUUID, protocol.Text(profile.UUID)),
		protocol.NewMessage(protocol.RetrieveDeviceInfo),
		protocol.NewMessageWith(protocol.RetrieveUserInfo, protocol.Number(int64(p.Slot))),
	)
	if err != nil {
		err = fmt.Errorf("scale: pairing messages: %w", err)
		m.report("messages", err)
		return nil, err
	}
	s.queue.Push(reqs...)

	if err := m.connect(ctx, s); err != nil {
		return nil, err
	}

	first := protocol.WriteDate
	if p.Bond {
		first = protocol.VerifyUUID
	}
	if err := s.requestNext(ctx, first, false); err != nil {
		s.fail(err)
		s.quiet.Store(true)
		_ = s.link.Close()
		return nil, err
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	go s.run(ctx)
	return s, nil
}

func (m *Manager) connect(ctx context.Context, s *Session) error {
	m.setState(Connecting)
	id := s.device.ID
	if _, ok := m.scanner.Lookup(id); !ok {
		err := fmt.Errorf("scale: %s: %w", id, ErrDeviceNotFound)
		m.report("connect", err)
		return err
	}
	slog.Info("[SCALE] connecting", "device", id, "name", s.device.Name)
	link, err := m.dial(ctx, id)
	if err != nil {
		err = fmt.Errorf("scale: connect %s: %w", id, err)
		m.report("connect", err)
		return err
	}
	s.link = link
	m.setState(Connected)
	m.listener.OnConnect(id)
	return nil
}

// Close stops scanning and closes the running session.
func (m *Manager) Close() error {
	m.scanner.Stop()
	if s := m.Session(); s != nil {
		return s.Close()
	}
	return nil
}

func (m *Manager) finish(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == s {
		m.session = nil
	}
}

func (m *Manager) report(location string, err error) {
	slog.Error("[SCALE] error", "location", location, "error", err)
	m.listener.OnError(location, err)
}
