package dealer

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

func TestParseFrameClassifiesPing(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FramePing {
		t.Errorf("got %v, want FramePing", f.Type)
	}
}

func TestParseFrameClassifiesPong(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"pong"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FramePong {
		t.Errorf("got %v, want FramePong", f.Type)
	}
}

func TestParseFrameRejectsOversizedFrame(t *testing.T) {
	raw := append([]byte(`{"type":"message","uri":"x","payloads":["`), bytes.Repeat([]byte("a"), maxFrameBytes)...)
	raw = append(raw, []byte(`"]}`)...)

	_, err := ParseFrame(raw)
	if !errors.Is(err, errs.ErrMessageError) {
		t.Fatalf("got error %v, want errs.ErrMessageError", err)
	}
}

func TestParseFrameMessageDecodesPlainBase64Payload(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"hello":"world"}`))
	raw := []byte(`{"type":"message","uri":"hm://pusher/v1/connections/abc","payloads":["` + encoded + `"]}`)

	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FrameMessage || f.URI != "hm://pusher/v1/connections/abc" {
		t.Fatalf("got %+v", f)
	}
	if string(f.Payload) != `{"hello":"world"}` {
		t.Errorf("got payload %q", f.Payload)
	}
}

func TestParseFrameMessageGunzipsWhenHeaderPresent(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	w.Write([]byte(`{"gzipped":true}`))
	w.Close()
	encoded := base64.StdEncoding.EncodeToString(gz.Bytes())

	wire := map[string]any{
		"type":     "message",
		"uri":      "hm://connect-state/v1/cluster",
		"payloads": []string{encoded},
		"headers":  map[string]string{"Transfer-Encoding": "gzip"},
	}
	raw, _ := json.Marshal(wire)

	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(f.Payload) != `{"gzipped":true}` {
		t.Errorf("got payload %q, want decompressed body", f.Payload)
	}
}

func TestParseFrameMessageMissingURIFails(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":"message","payloads":[]}`))
	if !errors.Is(err, errs.ErrMessageError) {
		t.Fatalf("got %v, want errs.ErrMessageError", err)
	}
}

func TestParseFrameRequestUnwrapsPlayerCommand(t *testing.T) {
	inner := map[string]any{"endpoint": "pause"}
	command := map[string]any{"command": inner}
	commandJSON, _ := json.Marshal(command)
	payload := map[string]any{
		"message_id":         int32(7),
		"sent_by_device_id":  "device-1",
		"command":            json.RawMessage(commandJSON),
	}
	payloadJSON, _ := json.Marshal(payload)

	wire := map[string]any{
		"type":         "request",
		"key":          "reply-key-1",
		"message_ident": "hm://connect-state/v1/player/command",
		"payload":      json.RawMessage(payloadJSON),
	}
	raw, _ := json.Marshal(wire)

	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FrameRequest {
		t.Fatalf("got %v, want FrameRequest", f.Type)
	}
	if !f.IsPlayerCommand() {
		t.Error("expected IsPlayerCommand to report true for a player/command message_ident")
	}
	if f.CommandBody["endpoint"] != "pause" {
		t.Errorf("got command body %+v, want the unwrapped inner command", f.CommandBody)
	}
	if f.DispatchEndpoint != "pause" {
		t.Errorf("got dispatch endpoint %q, want %q", f.DispatchEndpoint, "pause")
	}
	if f.MessageID != 7 || f.SenderDevice != "device-1" || f.Key != "reply-key-1" {
		t.Errorf("got %+v", f)
	}
}

func TestParseFrameRequestMissingFieldsFails(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":"request"}`))
	if !errors.Is(err, errs.ErrMessageError) {
		t.Fatalf("got %v, want errs.ErrMessageError", err)
	}
}

func TestParseFrameUnknownTypeIsClassifiedNotRejected(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"something_new"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FrameUnknown {
		t.Errorf("got %v, want FrameUnknown", f.Type)
	}
}

func TestIsGzipEncodedIsCaseInsensitive(t *testing.T) {
	headers := map[string]string{"transfer-encoding": "GZIP"}
	if !isGzipEncoded(headers) {
		t.Error("expected case-insensitive header name/value match")
	}
}

func TestDecodePayloadsRejectsInvalidBase64(t *testing.T) {
	_, err := decodePayloads([]string{"not-valid-base64!!"}, nil)
	if !errors.Is(err, errs.ErrMessageError) {
		t.Fatalf("got %v, want errs.ErrMessageError", err)
	}
	if !strings.Contains(err.Error(), "payload[0]") {
		t.Errorf("expected error to name the failing payload index, got %q", err.Error())
	}
}
