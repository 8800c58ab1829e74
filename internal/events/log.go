// Package events delivers scale lifecycle events to logs and to external
// subscribers.
package events

import (
	"encoding/json"
	"log/slog"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/ble/protocol"
	"github.com/chaz8081/tntscale/internal/scale"
)

// LogListener writes every event to a structured logger.
type LogListener struct {
	log *slog.Logger
}

// NewLogListener returns a LogListener writing to l, or to the default
// logger when l is nil.
func NewLogListener(l *slog.Logger) *LogListener {
	if l == nil {
		l = slog.Default()
	}
	return &LogListener{log: l}
}

var _ scale.Listener = (*LogListener)(nil)

func (l *LogListener) OnDiscover(d ble.Device) {
	l.log.Info("[SCALE] discovered", "id", d.ID, "name", d.Name, "rssi", d.RSSI)
}

func (l *LogListener) OnStopScan(status int, isTimeout bool) {
	l.log.Info("[SCALE] scan stopped", "status", status, "timeout", isTimeout)
}

func (l *LogListener) OnConnect(id string) {
	l.log.Info("[SCALE] connected", "id", id)
}

func (l *LogListener) OnDisconnect() {
	l.log.Info("[SCALE] disconnected")
}

func (l *LogListener) OnData(msg ble.Message) {
	l.log.Debug("[SCALE] data",
		"type", protocol.Classify(msg.Value),
		"char", msg.Characteristic,
		"data", protocol.HexString(msg.Value))
}

func (l *LogListener) OnStartScale(msg ble.Message, p backend.Profile) {
	l.log.Info("[SCALE] step on the scale", "profile", p.ID, "nickname", p.Nickname, "slot", p.Slot)
}

func (l *LogListener) OnWaitConfirm() {
	l.log.Warn("[SCALE] slot holds another profile, confirmation required")
}

func (l *LogListener) OnScaleDone(result json.RawMessage) {
	l.log.Info("[SCALE] measurement complete", "result", string(result))
}

func (l *LogListener) OnError(location string, err error) {
	l.log.Error("[SCALE] failed", "location", location, "error", err)
}

// Multi fans events out to every listener in order.
type Multi []scale.Listener

var _ scale.Listener = Multi(nil)

func (m Multi) OnDiscover(d ble.Device) {
	for _, l := range m {
		l.OnDiscover(d)
	}
}

func (m Multi) OnStopScan(status int, isTimeout bool) {
	for _, l := range m {
		l.OnStopScan(status, isTimeout)
	}
}

func (m Multi) OnConnect(id string) {
	for _, l := range m {
		l.OnConnect(id)
	}
}

func (m Multi) OnDisconnect() {
	for _, l := range m {
		l.OnDisconnect()
	}
}

func (m Multi) OnData(msg ble.Message) {
	for _, l := range m {
		l.OnData(msg)
	}
}

func (m Multi) OnStartScale(msg ble.Message, p backend.Profile) {
	for _, l := range m {
		l.OnStartScale(msg, p)
	}
}

func (m Multi) OnWaitConfirm() {
	for _, l := range m {
		l.OnWaitConfirm()
	}
}

func (m Multi) OnScaleDone(result json.RawMessage) {
	for _, l := range m {
		l.OnScaleDone(result)
	}
}

func (m Multi) OnError(location string, err error) {
	for _, l := range m {
		l.OnError(location, err)
	}
}
