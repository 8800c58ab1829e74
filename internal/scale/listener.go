package scale

import (
	"context"
	"encoding/json"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// Listener receives lifecycle events. Calls are fire-and-forget and are made
// from scanning and session goroutines; implementations must not block.
type Listener interface {
	OnDiscover(device ble.Device)
	OnStopScan(status int, isTimeout bool)
	OnConnect(deviceID string)
	OnDisconnect()
	OnData(msg ble.Message)
	OnStartScale(msg ble.Message, profile backend.Profile)
	OnWaitConfirm()
	OnScaleDone(result json.RawMessage)
	OnError(location string, err error)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnDiscover(ble.Device)                     {}
func (NopListener) OnStopScan(int, bool)                      {}
func (NopListener) OnConnect(string)                          {}
func (NopListener) OnDisconnect()                             {}
func (NopListener) OnData(ble.Message)                        {}
func (NopListener) OnStartScale(ble.Message, backend.Profile) {}
func (NopListener) OnWaitConfirm()                            {}
func (NopListener) OnScaleDone(json.RawMessage)               {}
func (NopListener) OnError(string, error)                     {}

var _ Listener = NopListener{}

// Link is a connection to a scale carrying reassembled messages.
type Link interface {
	Messages() <-chan ble.Message
	Errors() <-chan error
	Done() <-chan struct{}
	Write(ctx context.Context, req protocol.Request) error
	Close() error
}

var _ Link = (*ble.Link)(nil)

// DialFunc opens a Link to the device with the given id.
type DialFunc func(ctx context.Context, deviceID string) (Link, error)
