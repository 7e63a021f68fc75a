package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hollowresonance/spotconnect/internal/errs"
)

func TestSendReplyWritesSuccessEnvelope(t *testing.T) {
	var written []byte
	tr := NewReplyTracker(func(data []byte) error {
		written = data
		return nil
	}, nil)

	if err := tr.SendReply("key-1", Success); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env replyEnvelope
	if err := json.Unmarshal(written, &env); err != nil {
		t.Fatalf("unmarshalling written frame: %v", err)
	}
	if env.Type != "reply" || env.Key != "key-1" || !env.Payload.Success {
		t.Errorf("got %+v, want a success reply for key-1", env)
	}
}

func TestSendReplyWritesFailureEnvelope(t *testing.T) {
	var written []byte
	tr := NewReplyTracker(func(data []byte) error {
		written = data
		return nil
	}, nil)

	if err := tr.SendReply("key-2", ContextPlayerError); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env replyEnvelope
	json.Unmarshal(written, &env)
	if env.Payload.Success {
		t.Error("expected success=false for a non-Success reply result")
	}
}

func TestSendReplyWritesOnlyOnceOnDuplicateKey(t *testing.T) {
	writeCount := 0
	tr := NewReplyTracker(func(data []byte) error {
		writeCount++
		return nil
	}, nil)

	tr.SendReply("key-3", Success)
	tr.SendReply("key-3", Success)

	if writeCount != 1 {
		t.Errorf("got %d wire writes, want 1", writeCount)
	}
}

func TestWaitForReplyReceivesSendReply(t *testing.T) {
	tr := NewReplyTracker(func(data []byte) error { return nil }, nil)

	resultCh := make(chan ReplyResult, 1)
	go func() {
		result, err := tr.WaitForReply(context.Background(), "key-4", time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- result
	}()

	time.Sleep(10 * time.Millisecond)
	tr.SendReply("key-4", DeviceNotFound)

	select {
	case result := <-resultCh:
		if result != DeviceNotFound {
			t.Errorf("got %v, want DeviceNotFound", result)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForReply did not return after SendReply")
	}
}

func TestWaitForReplyTimesOut(t *testing.T) {
	tr := NewReplyTracker(func(data []byte) error { return nil }, nil)

	_, err := tr.WaitForReply(context.Background(), "key-5", 10*time.Millisecond)
	if !errors.Is(err, errs.ErrReplyTimeout) {
		t.Errorf("got error %v, want errs.ErrReplyTimeout", err)
	}
}
