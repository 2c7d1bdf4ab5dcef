package stage

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// scriptedPort replays a fixed byte stream and records writes.
type scriptedPort struct {
	response []byte
	writes   [][]byte
	closes   int
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.response) == 0 {
		return 0, nil // timeout, no data
	}
	n := copy(b, p.response)
	p.response = p.response[n:]
	return n, nil
}

func (p *scriptedPort) SetReadTimeout(time.Duration) error { return nil }

func (p *scriptedPort) Close() error {
	p.closes++
	return nil
}

func TestTransportSend(t *testing.T) {
	sp := &scriptedPort{response: positionResponse(0, 1234)}
	tr := &transport{port: sp}

	cmd := encodeQueryPosition(0)
	resp, err := tr.send(cmd, positionResponseLen)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sp.writes) != 1 || !bytes.Equal(sp.writes[0], cmd) {
		t.Errorf("wrote % x, want % x", sp.writes, cmd)
	}
	enc, err := decodePositionResponse(resp, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if enc != 1234 {
		t.Errorf("encoder = %d, want 1234", enc)
	}
}

func TestTransportSend_NoResponse(t *testing.T) {
	sp := &scriptedPort{}
	tr := &transport{port: sp}
	if _, err := tr.send(encodeMoveTo(0, 100), 0); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestTransportSend_StrayByte(t *testing.T) {
	sp := &scriptedPort{response: append(positionResponse(0, 1234), 0xde)}
	tr := &transport{port: sp}
	_, err := tr.send(encodeQueryPosition(0), positionResponseLen)
	if !errors.Is(err, ErrLinkDesync) {
		t.Errorf("got %v, want ErrLinkDesync", err)
	}
}

func TestTransportSend_ShortResponse(t *testing.T) {
	sp := &scriptedPort{response: []byte{0x0b, 0x00, 0x00}}
	tr := &transport{port: sp}
	_, err := tr.send(encodeQueryPosition(0), positionResponseLen)
	if !errors.Is(err, ErrLinkDesync) {
		t.Errorf("got %v, want ErrLinkDesync", err)
	}
}

func TestTransportSend_SilentDevice(t *testing.T) {
	sp := &scriptedPort{}
	tr := &transport{port: sp}
	_, err := tr.send(encodeQueryPosition(0), positionResponseLen)
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("got %v, want ErrReadTimeout", err)
	}
}

func TestTransportClose_Idempotent(t *testing.T) {
	sp := &scriptedPort{}
	tr := &transport{port: sp}
	if err := tr.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if sp.closes != 1 {
		t.Errorf("underlying port closed %d times, want 1", sp.closes)
	}
}
