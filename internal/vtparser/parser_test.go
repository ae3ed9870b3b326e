package vtparser

import (
	"context"
	"strings"
	"testing"
	"time"
)

func startParser(t *testing.T, cols, rows int) (*Parser, chan []byte, context.CancelFunc) {
	t.Helper()
	chunks := make(chan []byte, 16)
	p := New(cols, rows, 1000, chunks, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	return p, chunks, cancel
}

func TestScreenQueryReflectsWrittenBytes(t *testing.T) {
	p, chunks, cancel := startParser(t, 80, 24)
	defer cancel()

	chunks <- []byte("hello world\r\n")
	time.Sleep(20 * time.Millisecond)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	reply, err := p.Query(ctx, Query{Screen: &ScreenQuery{Format: FormatPlain}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply.Screen == nil {
		t.Fatalf("expected Screen reply")
	}
	if reply.Screen.AlternateActive {
		t.Fatalf("should not be in alt screen")
	}
	found := false
	for _, line := range reply.Screen.Lines {
		if strings.Contains(line.Plain, "hello world") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a screen line containing %q, got %+v", "hello world", reply.Screen.Lines)
	}
}

func TestAltScreenToggleTracked(t *testing.T) {
	p, chunks, cancel := startParser(t, 80, 24)
	defer cancel()

	chunks <- []byte("before\r\n\x1b[?1049hALT-CONTENT\x1b[?1049lafter\r\n")
	time.Sleep(30 * time.Millisecond)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	reply, err := p.Query(ctx, Query{Screen: &ScreenQuery{Format: FormatPlain}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply.Screen.AlternateActive {
		t.Fatalf("expected to have returned to primary screen")
	}
}

func TestAltScreenSplitAcrossChunks(t *testing.T) {
	p, chunks, cancel := startParser(t, 80, 24)
	defer cancel()

	full := []byte("\x1b[?1049h")
	chunks <- full[:4]
	chunks <- full[4:]
	time.Sleep(30 * time.Millisecond)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	reply, err := p.Query(ctx, Query{Screen: &ScreenQuery{Format: FormatPlain}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !reply.Screen.AlternateActive {
		t.Fatalf("expected alt screen active after split escape sequence")
	}
}

func TestCursorQueryReturnsVisibility(t *testing.T) {
	p, chunks, cancel := startParser(t, 80, 24)
	defer cancel()

	chunks <- []byte("\x1b[?25l")
	time.Sleep(20 * time.Millisecond)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	reply, err := p.Query(ctx, Query{Cursor: &CursorQuery{}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply.Cursor.Visible {
		t.Fatalf("expected cursor hidden")
	}
}

func TestResizeEmitsResetEvent(t *testing.T) {
	p, _, cancel := startParser(t, 80, 24)
	defer cancel()

	sub := p.Subscribe()
	defer sub.Unsubscribe()

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if _, err := p.Query(ctx, Query{Resize: &ResizeQuery{Cols: 100, Rows: 30}}); err != nil {
		t.Fatalf("Query resize: %v", err)
	}

	select {
	case ev := <-sub.C():
		if ev.Reset == nil {
			t.Fatalf("expected a Reset event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Reset event")
	}
}

func TestLineEventsEmittedOnNewline(t *testing.T) {
	p, chunks, cancel := startParser(t, 80, 24)
	defer cancel()

	sub := p.Subscribe()
	defer sub.Unsubscribe()

	chunks <- []byte("line one\r\n")

	select {
	case ev := <-sub.C():
		if ev.Line == nil {
			t.Fatalf("expected a Line event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for an event")
	}
}
