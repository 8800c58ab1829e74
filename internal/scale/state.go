// Package scale drives the pairing and measurement exchange with a TNT
// body-composition scale. A Manager scans for scales and starts Sessions;
// each Session walks the scale through its request/response sequence,
// fetching request bytes from the backend as it goes.
package scale

import (
	"strconv"
	"time"
)

// State is the progress of the manager through a pairing/measurement run.
type State int

const (
	Initialized State = iota
	Scanning
	Connecting
	Connected
	StartScale
	ScaleDone
	// Disconnect is entered only when a session is closed explicitly.
	Disconnect
)

var stateNames = [...]string{
	Initialized: "initialized",
	Scanning:    "scanning",
	Connecting:  "connecting",
	Connected:   "connected",
	StartScale:  "start-scale",
	ScaleDone:   "scale-done",
	Disconnect:  "disconnect",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Params selects how a session talks to the scale.
type Params struct {
	Slot           int  // user slot on the scale
	Bond           bool // verify the uuid the scale already holds instead of saving it
	ForceOverwrite bool // replace an existing profile in the slot without confirmation
	OfflineScale   bool // measurement is submitted as taken offline
}

// Options configures a Manager.
type Options struct {
	// SettleDelay is the wait between sending Measure and reporting that
	// the scale has started. Zero means no wait.
	SettleDelay time.Duration
	// RegistrySize bounds the number of discovered devices remembered.
	RegistrySize int
	// Dial opens a Link to a device. Nil dials through the manager's adapter.
	Dial DialFunc
}

// DefaultOptions returns the options used in production.
func DefaultOptions() Options {
	return Options{
		SettleDelay:  time.Second,
		RegistrySize: 64,
	}
}
