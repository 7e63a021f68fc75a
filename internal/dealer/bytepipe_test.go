package dealer

import (
	"context"
	"testing"
	"time"
)

func TestFramePipePushPop(t *testing.T) {
	p := newFramePipe()
	ctx := context.Background()

	if ok := p.Push(ctx, []byte("hello")); !ok {
		t.Fatal("expected Push to succeed")
	}

	frame, ok := p.Pop(ctx)
	if !ok || string(frame) != "hello" {
		t.Fatalf("got (%q, %v), want (hello, true)", frame, ok)
	}
}

func TestFramePipePopBlocksUntilPush(t *testing.T) {
	p := newFramePipe()
	ctx := context.Background()

	result := make(chan []byte, 1)
	go func() {
		frame, ok := p.Pop(ctx)
		if ok {
			result <- frame
		}
	}()

	time.Sleep(20 * time.Millisecond)
	p.Push(ctx, []byte("later"))

	select {
	case frame := <-result:
		if string(frame) != "later" {
			t.Errorf("got %q, want later", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the blocked Pop to unblock once Push happens")
	}
}

func TestFramePipeCloseUnblocksPop(t *testing.T) {
	p := newFramePipe()
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		_, ok := p.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Pop to report false once the pipe is closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Close to unblock a pending Pop")
	}
}

func TestFramePipePushAfterCloseFails(t *testing.T) {
	p := newFramePipe()
	p.Close()

	if ok := p.Push(context.Background(), []byte("x")); ok {
		t.Error("expected Push to fail after Close")
	}
}

func TestFramePipePushBlocksAboveHighWaterMarkUntilDrained(t *testing.T) {
	p := newFramePipe()
	p.highWaterMark = 10
	p.lowWaterMark = 2

	// Fill past the high water mark.
	p.Push(context.Background(), make([]byte, 10))

	pushed := make(chan bool, 1)
	go func() {
		pushed <- p.Push(context.Background(), []byte("x"))
	}()

	select {
	case <-pushed:
		t.Fatal("expected Push to block while the pipe is at/above its high water mark")
	case <-time.After(50 * time.Millisecond):
	}

	// Draining below the low water mark should wake the blocked pusher.
	p.Pop(context.Background())

	select {
	case ok := <-pushed:
		if !ok {
			t.Error("expected the blocked Push to eventually succeed")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the blocked Push to unblock after drain")
	}
}

func TestFramePipePushRespectsContextCancellation(t *testing.T) {
	p := newFramePipe()
	p.highWaterMark = 1
	p.Push(context.Background(), make([]byte, 1))

	ctx, cancel := context.WithCancel(context.Background())
	pushed := make(chan bool, 1)
	go func() {
		pushed <- p.Push(ctx, []byte("x"))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-pushed:
		if ok {
			t.Error("expected Push to report false once its context is cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("expected cancellation to unblock the pending Push")
	}
}
