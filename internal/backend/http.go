package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

// Client implements Bridge over the measurement HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the API rooted at baseURL. A zero timeout
// defaults to 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Compile-time interface satisfaction check.
var _ Bridge = (*Client)(nil)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

type messagesRequest struct {
	Actions []protocol.Action `json:"actions"`
	Device  *Device           `json:"device,omitempty"`
}

type messagesResponse struct {
	Actions []protocol.Request `json:"actions"`
}

func (c *Client) Messages(ctx context.Context, actions []protocol.Action, device *Device) ([]protocol.Request, error) {
	var out messagesResponse
	if err := c.post(ctx, "/messages", messagesRequest{Actions: actions, Device: device}, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func (c *Client) ResolveDevice(ctx context.Context, q DeviceQuery) (*Device, error) {
	var d Device
	body := struct {
		Data DeviceQuery `json:"data"`
	}{q}
	if err := c.post(ctx, "/devices", body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) SubmitMeasure(ctx context.Context, m Measure) (json.RawMessage, error) {
	if m.OfflineData == nil {
		m.OfflineData = []string{}
	}
	var out json.RawMessage
	if err := c.post(ctx, "/measures", m, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// post sends body as JSON and decodes the data field of the reply into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend: %s: reading body: %w", path, err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) != 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("backend: %s: HTTP %d", path, resp.StatusCode)
			}
			return fmt.Errorf("backend: %s: decode: %w", path, err)
		}
	}
	if msg := errorText(env.Error); msg != "" {
		return fmt.Errorf("backend: %s: %s", path, msg)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend: %s: HTTP %d", path, resp.StatusCode)
	}
	if isEmpty(env.Data) {
		return fmt.Errorf("%w from %s", ErrEmptyResponse, path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("backend: %s: decode data: %w", path, err)
	}
	return nil
}

// errorText renders a non-empty error field, which the API sends either as
// a string or as an object.
func errorText(raw json.RawMessage) string {
	if isEmpty(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isEmpty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`))
}
