package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// newTestServer serves reply for every request and records the last path
// and body.
func newTestServer(t *testing.T, status int, reply string) (*Client, func() string) {
	t.Helper()
	var (
		mu  sync.Mutex
		got string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = r.URL.Path + " " + string(b)
		mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 0), func() string {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestMessages(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `{"data":{"actions":[
		{"id":3,"name":"VerifyUUID","service_id":"ffb0","characteristic_id":"ffb1","payload":["0a0b","0c"],"withResponse":true,"delayInMilis":100}
	]}}`)

	actions := []protocol.Action{{ID: protocol.VerifyUUID, Name: "VerifyUUID", Payload: "75"}}
	reqs, err := c.Messages(context.Background(), actions, nil)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	r := reqs[0]
	if r.ID != protocol.VerifyUUID || r.ServiceID != "ffb0" || r.CharacteristicID != "ffb1" {
		t.Errorf("request = %+v", r)
	}
	if len(r.Payload) != 2 || r.Payload[0] != "0a0b" || !r.WithResponse || r.DelayMillis != 100 {
		t.Errorf("request = %+v", r)
	}

	want := `/messages {"actions":[{"id":3,"name":"VerifyUUID","payload":"75"}]}`
	if got() != want {
		t.Errorf("sent %s, want %s", got(), want)
	}
}

func TestMessagesSendsDeviceVerbatim(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `{"data":{"actions":[]}}`)

	var d Device
	if err := json.Unmarshal([]byte(`{"ID":7,"user_info_exists":true,"model":"TNT-1"}`), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if d.ID != 7 || !d.UserInfoExists {
		t.Errorf("device = %+v", d)
	}
	if _, err := c.Messages(context.Background(), nil, &d); err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if !strings.Contains(got(), `"device":{"ID":7,"user_info_exists":true,"model":"TNT-1"}`) {
		t.Errorf("sent %s, want device passed through", got())
	}
}

func TestMessagesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{"error string", http.StatusOK, `{"error":"bad slot"}`},
		{"error object", http.StatusOK, `{"error":{"code":3}}`},
		{"missing data", http.StatusOK, `{}`},
		{"null data", http.StatusOK, `{"data":null}`},
		{"empty body", http.StatusOK, ``},
		{"server error", http.StatusInternalServerError, `oops`},
		{"bad json", http.StatusOK, `{"data":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestServer(t, tt.status, tt.reply)
			if _, err := c.Messages(context.Background(), nil, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMessagesEmptyIsSentinel(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, `{"data":null,"error":""}`)
	_, err := c.Messages(context.Background(), nil, nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestResolveDevice(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `{"data":{"ID":12,"user_info_exists":false}}`)
	d, err := c.ResolveDevice(context.Background(), DeviceQuery{UserInfo: "aa", DeviceInfo: "bb", Slot: 1, ProfileID: 5})
	if err != nil {
		t.Fatalf("ResolveDevice() error = %v", err)
	}
	if d.ID != 12 || d.UserInfoExists {
		t.Errorf("device = %+v", d)
	}
	want := `/devices {"data":{"user_info":"aa","device_info":"bb","slot":1,"profile_id":5}}`
	if got() != want {
		t.Errorf("sent %s, want %s", got(), want)
	}
}

func TestSubmitMeasure(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `{"data":{"weight":71.2}}`)
	res, err := c.SubmitMeasure(context.Background(), Measure{Payload: "ff", DeviceID: 12, ProfileID: 5})
	if err != nil {
		t.Fatalf("SubmitMeasure() error = %v", err)
	}
	if string(res) != `{"weight":71.2}` {
		t.Errorf("result = %s", res)
	}
	want := `/measures {"payload":"ff","device_id":12,"profile_id":5,"offline_scale":false,"offline_data":[]}`
	if got() != want {
		t.Errorf("sent %s, want %s", got(), want)
	}
}

func TestDeviceMarshalWithoutRaw(t *testing.T) {
	b, err := json.Marshal(Device{ID: 3, UserInfoExists: true})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `{"ID":3,"user_info_exists":true}` {
		t.Errorf("Marshal() = %s", b)
	}
}
