package dealer

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

// wireFrame is the raw JSON shape of one dealer WebSocket message, covering
// every variant's fields; unused fields are simply absent on the wire.
type wireFrame struct {
	Type     string          `json:"type"`
	URI      string          `json:"uri"`
	Headers  map[string]string `json:"headers"`
	Payloads []string        `json:"payloads"`
	Key      string          `json:"key"`
	MessageIdent string      `json:"message_ident"`
	Payload  json.RawMessage `json:"payload"`
}

// maxFrameBytes caps one raw WebSocket message, rejecting anything the
// dealer could not legitimately need this large for (spec.md names no
// explicit cap, but an unbounded frame size is an easy abuse vector against
// the JSON/gzip decode path below).
const maxFrameBytes = 256 * 1024

type wireRequestPayload struct {
	MessageID      int32           `json:"message_id"`
	SentByDeviceID string          `json:"sent_by_device_id"`
	Command        json.RawMessage `json:"command"`
}

// ParseFrame classifies and decodes one WebSocket message's UTF-8 bytes into
// a Frame, following spec.md §4.4's step order: base64-decode each payload,
// concatenate, and gunzip only if the gzip header is present — never parse
// before decompression.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) > maxFrameBytes {
		return nil, fmt.Errorf("%w: frame too large (%d bytes, max %d)", errs.ErrMessageError, len(raw), maxFrameBytes)
	}

	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", errs.ErrMessageError, err)
	}

	switch w.Type {
	case "ping":
		return &Frame{Type: FramePing}, nil
	case "pong":
		return &Frame{Type: FramePong}, nil
	case "message":
		return parseMessageFrame(&w)
	case "request":
		return parseRequestFrame(&w)
	default:
		return &Frame{Type: FrameUnknown}, nil
	}
}

func parseMessageFrame(w *wireFrame) (*Frame, error) {
	if w.URI == "" {
		return nil, fmt.Errorf("%w: message missing uri", errs.ErrMessageError)
	}

	headers := w.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	payload, err := decodePayloads(w.Payloads, headers)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Type:    FrameMessage,
		URI:     w.URI,
		Headers: headers,
		Payload: payload,
	}, nil
}

// decodePayloads implements the base64 -> concat -> gzip(optional) chain for
// MESSAGE frame payloads (spec.md §9 "explicit step-ordered function"). The
// PUT-state response body does not pass through it.
func decodePayloads(payloads []string, headers map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range payloads {
		decoded, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: payload[%d] base64 decode: %v", errs.ErrMessageError, i, err)
		}
		buf.Write(decoded)
	}

	if isGzipEncoded(headers) {
		r, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header set but payload is not gzip: %v", errs.ErrMessageError, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gunzip failed: %v", errs.ErrMessageError, err)
		}
		return out, nil
	}

	return buf.Bytes(), nil
}

func isGzipEncoded(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Transfer-Encoding") && strings.EqualFold(strings.TrimSpace(v), "gzip") {
			return true
		}
	}
	return false
}

func parseRequestFrame(w *wireFrame) (*Frame, error) {
	if w.Key == "" || w.MessageIdent == "" || len(w.Payload) == 0 {
		return nil, fmt.Errorf("%w: request missing key/message_ident/payload", errs.ErrMessageError)
	}

	var rp wireRequestPayload
	if err := json.Unmarshal(w.Payload, &rp); err != nil {
		return nil, fmt.Errorf("%w: request payload: %v", errs.ErrMessageError, err)
	}
	if len(rp.Command) == 0 {
		return nil, fmt.Errorf("%w: request payload missing command", errs.ErrMessageError)
	}

	var command map[string]any
	if err := json.Unmarshal(rp.Command, &command); err != nil {
		return nil, fmt.Errorf("%w: request command: %v", errs.ErrMessageError, err)
	}

	f := &Frame{
		Type:         FrameRequest,
		Key:          w.Key,
		MessageIdent: w.MessageIdent,
		MessageID:    rp.MessageID,
		SenderDevice: rp.SentByDeviceID,
		CommandBody:  command,
	}

	// When message_ident targets the per-device player command endpoint, the
	// real command body is nested under "command" and dispatch is keyed by
	// its inner "endpoint" string.
	if f.IsPlayerCommand() {
		if inner, ok := command["command"].(map[string]any); ok {
			f.CommandBody = inner
		}
	}
	if ep, ok := f.CommandBody["endpoint"].(string); ok {
		f.DispatchEndpoint = strings.ToLower(ep)
	}

	return f, nil
}
