package status

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestQueuePostAndReceiveInOrder(t *testing.T) {
	q := NewQueue(4)
	for _, s := range []string{"Connecting...", "Connected!", "Spark 40"} {
		if !q.Post(s) {
			t.Fatalf("Post(%q) = false", s)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
	for _, want := range []string{"Connecting...", "Connected!", "Spark 40"} {
		if got := <-q.Lines(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestQueueFullDropsWithoutBlocking(t *testing.T) {
	q := NewQueue(2)
	q.Post("a")
	q.Post("b")
	if q.Post("c") {
		t.Error("Post on a full queue should return false")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueueTruncatesLongLines(t *testing.T) {
	q := NewQueue(1)
	q.Post(strings.Repeat("x", 100))
	if got := <-q.Lines(); len(got) != MaxLineBytes {
		t.Errorf("line length = %d, want %d", len(got), MaxLineBytes)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(2)
	q.Post("last")
	q.Close()
	q.Close() // idempotent

	if q.Post("after close") {
		t.Error("Post after Close should return false")
	}
	if got, ok := <-q.Lines(); !ok || got != "last" {
		t.Errorf("queued line lost on close: %q, %v", got, ok)
	}
	if _, ok := <-q.Lines(); ok {
		t.Error("Lines() should be closed")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue(100)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				q.Post("line")
			}
		}()
	}
	wg.Wait()
	if q.Len() != 100 {
		t.Errorf("Len() = %d, want 100", q.Len())
	}
}

func TestNewQueueDefaultCapacity(t *testing.T) {
	q := NewQueue(0)
	if cap(q.ch) != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", cap(q.ch), DefaultCapacity)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell"},
		{"hello", 0, ""},
		{"héllo", 2, "h"}, // é is two bytes; never split it
		{"\U0001F3B8 amp", 3, ""},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}
