package applog

import (
	"bytes"
	"sync"
	"time"

	"github.com/petervdpas/peercall/internal/util"
)

// Entry is one rendered log line. Seq increases by one per line and lets
// a client ask for what it missed.
type Entry struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"ts"`
	Line string    `json:"msg"`
}

// Tail is an io.Writer that keeps the newest log lines in memory and
// pushes each new line to live followers.
type Tail struct {
	lines *util.RingBuffer[Entry]

	mu        sync.Mutex
	seq       uint64
	pending   []byte
	followers map[chan Entry]struct{}
}

func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 500
	}
	return &Tail{
		lines:     util.NewRingBuffer[Entry](capacity),
		followers: make(map[chan Entry]struct{}),
	}
}

// Write records every complete line in p. Bytes after the last newline are
// held until the next Write.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, p...)
	for {
		nl := bytes.IndexByte(t.pending, '\n')
		if nl < 0 {
			break
		}
		line := bytes.TrimRight(t.pending[:nl], "\r")
		t.pending = t.pending[nl+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		t.seq++
		e := Entry{Seq: t.seq, Time: time.Now(), Line: string(line)}
		t.lines.Push(e)
		for ch := range t.followers {
			select {
			case ch <- e:
			default:
			}
		}
	}
	if len(t.pending) == 0 {
		t.pending = nil
	}
	return len(p), nil
}

// Last returns up to n of the newest lines, oldest first. n <= 0 means all.
func (t *Tail) Last(n int) []Entry { return t.lines.Last(n) }

// Since returns the retained lines with Seq > seq.
func (t *Tail) Since(seq uint64) []Entry {
	all := t.lines.Snapshot()
	for i, e := range all {
		if e.Seq > seq {
			return all[i:]
		}
	}
	return nil
}

// Follow streams new lines until stop is called. A follower that falls
// behind misses lines rather than blocking the logger.
func (t *Tail) Follow() (<-chan Entry, func()) {
	ch := make(chan Entry, 64)
	t.mu.Lock()
	t.followers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.followers, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}
