// Package backend talks to the measurement API that supplies transmit-ready
// scale requests, resolves paired devices and turns raw measurements into
// saved results.
package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// ErrEmptyResponse is returned when the API answers without a data body.
var ErrEmptyResponse = errors.New("backend: empty response")

// Bridge is the backend contract used by the scale session.
type Bridge interface {
	// Messages turns actions into transmit-ready requests, in order.
	// device is nil until the paired device has been resolved.
	Messages(ctx context.Context, actions []protocol.Action, device *Device) ([]protocol.Request, error)
	// ResolveDevice identifies the scale and the user slot from raw
	// device-info and user-info responses.
	ResolveDevice(ctx context.Context, q DeviceQuery) (*Device, error)
	// SubmitMeasure saves a measurement and returns the computed result.
	SubmitMeasure(ctx context.Context, m Measure) (json.RawMessage, error)
}

// Profile is the user profile written to the scale.
type Profile struct {
	ID       int    `json:"ID,omitempty"`
	Nickname string `json:"nickname"`
	Height   string `json:"height"`
	DOB      string `json:"dob"`
	Calendar string `json:"calendar"`
	Gender   int    `json:"gender"`
	Tare     string `json:"tare"`
	UUID     string `json:"uuid,omitempty"`
	Slot     int    `json:"slot"`
}

// Device is a paired scale as known to the backend. Fields other than ID
// and UserInfoExists are kept verbatim and sent back unchanged.
type Device struct {
	ID             int
	UserInfoExists bool

	raw json.RawMessage
}

type deviceFields struct {
	ID             int  `json:"ID"`
	UserInfoExists bool `json:"user_info_exists"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Device) UnmarshalJSON(b []byte) error {
	var f deviceFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	d.ID = f.ID
	d.UserInfoExists = f.UserInfoExists
	d.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Device) MarshalJSON() ([]byte, error) {
	if len(d.raw) != 0 {
		return d.raw, nil
	}
	return json.Marshal(deviceFields{ID: d.ID, UserInfoExists: d.UserInfoExists})
}

// DeviceQuery carries the raw responses used to resolve a device.
type DeviceQuery struct {
	UserInfo   string `json:"user_info"`   // hex RetrieveUserInfo response
	DeviceInfo string `json:"device_info"` // hex RetrieveDeviceInfo response
	Slot       int    `json:"slot"`
	ProfileID  int    `json:"profile_id"`
}

// Measure is a finished measurement with any records retrieved from the
// scale's offline storage.
type Measure struct {
	Payload      string   `json:"payload"`
	DeviceID     int      `json:"device_id"`
	ProfileID    int      `json:"profile_id"`
	OfflineScale bool     `json:"offline_scale"`
	OfflineData  []string `json:"offline_data"`
}
