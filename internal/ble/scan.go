package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// ScanStatusStopped is the status reported when a scan ends.
const ScanStatusStopped = 1

// ScanOptions configures one scan.
type ScanOptions struct {
	Timeout time.Duration // scan stops after this long (default 10s)
	Name    string        // case-insensitive substring of the local name
	Address string        // case-insensitive substring of the device id; wins over Name
}

// ScanHandler receives scan events. Calls are made from the scanning
// goroutine.
type ScanHandler interface {
	OnDiscover(Device)
	OnStopScan(status int, isTimeout bool)
}

// Scanner runs one scan at a time and remembers the devices it discovered,
// up to a fixed number of entries.
type Scanner struct {
	adapter Adapter
	seen    *lru.Cache

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner returns a Scanner remembering up to size discovered devices.
func NewScanner(adapter Adapter, size int) (*Scanner, error) {
	if size <= 0 {
		size = 64
	}
	seen, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("ble: device registry: %w", err)
	}
	return &Scanner{adapter: adapter, seen: seen}, nil
}

// Start enables the adapter and begins scanning in the background. Matching
// devices are reported to h as they are found. The scan ends on timeout, on
// Stop, or when ctx is done; h.OnStopScan is called once either way.
// Starting a scan stops any scan already running and forgets previously
// discovered devices; it must not be called from a ScanHandler.
func (s *Scanner) Start(ctx context.Context, opts ScanOptions, h ScanHandler) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	s.Stop()
	s.Wait()

	scanCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	done := make(chan struct{})

	s.mu.Lock()
	s.seen.Purge()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	slog.Info("[BLE] scanning", "timeout", opts.Timeout, "name", opts.Name, "address", opts.Address)
	go func() {
		defer close(done)
		defer cancel()
		err := s.adapter.Scan(scanCtx, func(d Device) {
			if !opts.matches(d) {
				return
			}
			if ok, _ := s.seen.ContainsOrAdd(d.ID, d); ok {
				s.seen.Add(d.ID, d)
				return
			}
			slog.Debug("[BLE] discovered", "id", d.ID, "name", d.Name, "rssi", d.RSSI)
			h.OnDiscover(d)
		})
		if err != nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		}
		timedOut := scanCtx.Err() == context.DeadlineExceeded
		h.OnStopScan(ScanStatusStopped, timedOut)
	}()
	return nil
}

// Stop ends the running scan. It does not wait for the scan goroutine, so
// it may be called from a ScanHandler. It is safe to call when no scan is
// running.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current scan, if any, has finished.
func (s *Scanner) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Lookup returns a device discovered by the last scan.
func (s *Scanner) Lookup(id string) (Device, bool) {
	v, ok := s.seen.Get(id)
	if !ok {
		return Device{}, false
	}
	return v.(Device), true
}

// Devices returns the remembered devices, least recently seen first.
func (s *Scanner) Devices() []Device {
	keys := s.seen.Keys()
	out := make([]Device, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.seen.Peek(k); ok {
			out = append(out, v.(Device))
		}
	}
	return out
}

func (o ScanOptions) matches(d Device) bool {
	name := strings.ToLower(strings.TrimSpace(o.Name))
	addr := strings.ToLower(strings.TrimSpace(o.Address))
	if name == "" && addr == "" {
		return true
	}
	if addr != "" {
		return strings.Contains(strings.ToLower(d.ID), addr)
	}
	return d.Name != "" && strings.Contains(strings.ToLower(d.Name), name)
}
