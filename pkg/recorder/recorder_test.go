package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qnkhuat/recast/pkg/message"
)

func testHeader() message.Header {
	return message.Header{
		Version:   message.Version,
		Width:     80,
		Height:    24,
		Timestamp: 1700000000,
		Env:       map[string]string{"TERM": "xterm"},
		AgentName: "test-agent",
		User:      "tester",
		SessionID: "abc123",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan recording: %v", err)
	}
	return lines
}

func TestHeaderIsFirstLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "test.cast")
	w, err := Open(path, testHeader())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.WriteEvent(message.EOut, []byte("hello"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var header map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header is not valid JSON: %v", err)
	}
	if header["version"].(float64) != 2 {
		t.Errorf("header version: got %v", header["version"])
	}
	ev, err := message.ParseEvent([]byte(lines[1]))
	if err != nil {
		t.Fatalf("event line: %v", err)
	}
	if ev.Type != message.EOut || ev.Data != "hello" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestTimestampsNonDecreasing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cast")
	w, err := Open(path, testHeader())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 200; i++ {
		w.WriteEvent(message.EOut, []byte(fmt.Sprintf("chunk %d", i)))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	last := -1.0
	for _, line := range lines[1:] {
		ev, err := message.ParseEvent([]byte(line))
		if err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		if ev.Time < last {
			t.Fatalf("timestamps went backwards: %f after %f", ev.Time, last)
		}
		last = ev.Time
	}
}

func TestPersistClampsBackwardsTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cast")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := &Writer{f: f}
	w.persist(message.Event{Time: 2.0, Type: message.EOut, Data: "a"})
	w.persist(message.Event{Time: 1.0, Type: message.EOut, Data: "b"})
	f.Close()

	lines := readLines(t, path)
	second, err := message.ParseEvent([]byte(lines[1]))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if second.Time != 2.0 {
		t.Fatalf("expected clamped time 2.0, got %f", second.Time)
	}
}

func TestDropOldestWhenFull(t *testing.T) {
	// No consumer: the queue can only fill up
	w := &Writer{
		queue:    make(chan message.Event, 2),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	w.WriteEvent(message.EOut, []byte("a"))
	w.WriteEvent(message.EOut, []byte("b"))
	w.WriteEvent(message.EOut, []byte("c"))

	if w.Dropped() != 1 {
		t.Fatalf("dropped: got %d, want 1", w.Dropped())
	}
	if len(w.queue) != 2 {
		t.Fatalf("queue length: got %d, want 2", len(w.queue))
	}
	// "a" was the oldest, so "b" should now be at the head
	head := <-w.queue
	if head.Data != "b" {
		t.Fatalf("head of queue: got %q, want b", head.Data)
	}
}

func TestInvalidUTF8Replaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cast")
	w, err := Open(path, testHeader())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.WriteEvent(message.EOut, []byte{0xff, 0xfe, 'h', 'i'})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	ev, err := message.ParseEvent([]byte(lines[1]))
	if err != nil {
		t.Fatalf("event line is not valid JSON: %v", err)
	}
	if !strings.Contains(ev.Data, "�") || !strings.Contains(ev.Data, "hi") {
		t.Fatalf("expected replacement characters, got %q", ev.Data)
	}
}

func TestWriteAfterCloseIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cast")
	w, err := Open(path, testHeader())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w.WriteEvent(message.EOut, []byte("after close")) // must not panic
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if lines := readLines(t, path); len(lines) != 1 {
		t.Fatalf("expected header only, got %d lines", len(lines))
	}
}

func TestEveryLineCompleteAfterBurstClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cast")
	w, err := Open(path, testHeader())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Burst far past the queue size, then shut down immediately. Some
	// events may be dropped, but every persisted line must be complete
	for i := 0; i < 5000; i++ {
		w.WriteEvent(message.EOut, []byte(strings.Repeat("x", 100)))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	for i, line := range lines[1:] {
		if _, err := message.ParseEvent([]byte(line)); err != nil {
			t.Fatalf("line %d not parseable: %v", i+2, err)
		}
	}
}

func TestOpenCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2026-08-24", "deep", "test.cast")
	w, err := Open(path, testHeader())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("recording missing: %v", err)
	}
}

func TestOpenFailsOnUnwritableDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	base := t.TempDir()
	if err := os.Chmod(base, 0555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(base, 0755)

	_, err := Open(filepath.Join(base, "sub", "test.cast"), testHeader())
	if err == nil {
		t.Fatal("expected an error for an unwritable base dir")
	}
}
