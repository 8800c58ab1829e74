package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/tntscale/internal/ble/protocol"
)

func dialTestLink(t *testing.T) (*Link, *mockConnection) {
	t.Helper()
	adapter := newMockAdapter(nil)
	l, err := Dial(context.Background(), adapter, "AA:BB:CC:DD:EE:FF", LinkOptions{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return l, adapter.latestConnection()
}

func receive(t *testing.T, l *Link) Message {
	t.Helper()
	select {
	case m := <-l.Messages():
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestLinkReassemblesNotifications(t *testing.T) {
	l, conn := dialTestLink(t)

	first := []byte{0x00, 0x00, 0x01, 0xaa}
	last := []byte{0x00, 0x10, 0x01, 0xbb}
	conn.notifyChar.SimulateNotification(first)
	select {
	case m := <-l.Messages():
		t.Fatalf("got message %x before terminal fragment", m.Value)
	default:
	}
	conn.notifyChar.SimulateNotification(last)

	m := receive(t, l)
	want := append(append([]byte{}, first...), last...)
	if !bytes.Equal(m.Value, want) {
		t.Errorf("Value = %x, want %x", m.Value, want)
	}
	if m.Characteristic != testNotify || m.Service != testService {
		t.Errorf("channel = %s/%s, want %s/%s", m.Service, m.Characteristic, testService, testNotify)
	}
}

func TestLinkKeepsChannelsApart(t *testing.T) {
	l, conn := dialTestLink(t)

	conn.notifyChar.SimulateNotification([]byte{0x00, 0x00, 0x01, 0x01})
	conn.indicateChar.SimulateNotification([]byte{0x00, 0x00, 0x00, 0x02})

	m := receive(t, l)
	if m.Characteristic != testIndicate {
		t.Fatalf("first message from %s, want %s", m.Characteristic, testIndicate)
	}
	if !bytes.Equal(m.Value, []byte{0x00, 0x00, 0x00, 0x02}) {
		t.Errorf("Value = %x", m.Value)
	}
}

func TestLinkWriteChunks(t *testing.T) {
	l, conn := dialTestLink(t)

	req := protocol.Request{
		ID:               protocol.WriteDate,
		ServiceID:        testService,
		CharacteristicID: testWriteChar,
		Payload:          []string{"0102", "03"},
	}
	if err := l.Write(context.Background(), req); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	writes := conn.writeChar.Writes()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if !bytes.Equal(writes[0], []byte{0x01, 0x02}) || !bytes.Equal(writes[1], []byte{0x03}) {
		t.Errorf("writes = %x", writes)
	}
	if conn.writeChar.responded[0] {
		t.Error("write used response mode, want without response")
	}

	req.WithResponse = true
	req.ServiceID = "0000FFB0-0000-1000-8000-00805F9B34FB"
	if err := l.Write(context.Background(), req); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !conn.writeChar.responded[2] {
		t.Error("write with response not used")
	}
}

func TestLinkWriteWithResponseUnsupported(t *testing.T) {
	l, conn := dialTestLink(t)
	conn.writeChar.responseErr = ErrWriteWithResponseUnsupported
	err := l.Write(context.Background(), protocol.Request{
		ID:               protocol.VerifyUUID,
		ServiceID:        testService,
		CharacteristicID: testWriteChar,
		Payload:          []string{"0102"},
		WithResponse:     true,
	})
	if !errors.Is(err, ErrWriteWithResponseUnsupported) {
		t.Fatalf("Write() error = %v, want ErrWriteWithResponseUnsupported", err)
	}
	if n := len(conn.writeChar.Writes()); n != 0 {
		t.Errorf("got %d writes, want none", n)
	}
}

func TestLinkWriteBadHex(t *testing.T) {
	l, _ := dialTestLink(t)
	err := l.Write(context.Background(), protocol.Request{
		ServiceID:        testService,
		CharacteristicID: testWriteChar,
		Payload:          []string{"zz"},
	})
	if err == nil {
		t.Error("expected error for invalid hex payload")
	}
}

func TestLinkWriteUnknownCharacteristic(t *testing.T) {
	l, _ := dialTestLink(t)
	err := l.Write(context.Background(), protocol.Request{
		ServiceID:        testService,
		CharacteristicID: "0000eeee-0000-1000-8000-00805f9b34fb",
		Payload:          []string{"00"},
	})
	if err == nil {
		t.Error("expected error for unknown characteristic")
	}
}

func TestLinkDisconnect(t *testing.T) {
	l, conn := dialTestLink(t)
	conn.SimulateDisconnect()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after disconnect")
	}
	select {
	case err := <-l.Errors():
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("error = %v, want ErrDisconnected", err)
		}
	default:
		t.Error("no transport error reported")
	}

	err := l.Write(context.Background(), protocol.Request{ServiceID: testService, CharacteristicID: testWriteChar})
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("Write() after disconnect error = %v, want ErrDisconnected", err)
	}
}

func TestLinkClose(t *testing.T) {
	l, conn := dialTestLink(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.disconnected {
		t.Error("connection not disconnected")
	}
	// Notifications after close must not block.
	conn.notifyChar.SimulateNotification([]byte{0x00, 0x00, 0x00})
	_ = l.Close()
}

func TestDialConnectError(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connectErr = errors.New("radio off")
	if _, err := Dial(context.Background(), adapter, "x", LinkOptions{}); err == nil {
		t.Error("expected Dial() error")
	}
}

type silentConnection struct{ *mockConnection }

func (c silentConnection) Characteristics() ([]Characteristic, error) {
	return []Characteristic{c.writeChar}, nil
}

func TestNewLinkNeedsNotifiableCharacteristic(t *testing.T) {
	if _, err := NewLink(silentConnection{newMockConnection()}, LinkOptions{}); err == nil {
		t.Error("expected error when nothing can notify")
	}
}
