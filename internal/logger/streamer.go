// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Streamer is an io.Writer that keeps the most recent log lines in memory and
// serves them over HTTP.
type Streamer struct {
	mu      sync.Mutex
	size    int
	lines   []string // ring buffer, len(lines) <= size
	next    int      // index of the oldest line once the buffer is full
	partial string   // unterminated tail of the last write
	subs    map[chan string]struct{}
}

// NewStreamer returns a Streamer that keeps the last size lines.
func NewStreamer(size int) *Streamer {
	return &Streamer{
		size:  max(size, 1),
		lines: make([]string, 0, max(size, 1)),
		subs:  make(map[chan string]struct{}),
	}
}

// Write splits p into lines. Unterminated text is held until the next write
// completes the line.
func (s *Streamer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := s.partial + string(p)
	for {
		line, rest, ok := strings.Cut(text, "\n")
		if !ok {
			break
		}
		s.add(line + "\n")
		text = rest
	}
	s.partial = text
	return len(p), nil
}

func (s *Streamer) add(line string) {
	if len(s.lines) < s.size {
		s.lines = append(s.lines, line)
	} else {
		s.lines[s.next] = line
		s.next = (s.next + 1) % s.size
	}
	for sub := range s.subs {
		select {
		case sub <- line:
		default: // slow subscribers miss lines
		}
	}
}

// Lines returns the buffered lines, oldest first.
func (s *Streamer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.lines))
	out = append(out, s.lines[s.next:]...)
	return append(out, s.lines[:s.next]...)
}

// Stream returns a channel receiving every line written from now on and a
// function that unsubscribes and closes the channel.
func (s *Streamer) Stream() (<-chan string, func()) {
	sub := make(chan string, s.size)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			close(sub)
		})
	}
}

// ServeHTTP writes the buffered lines as plain text. Clients accepting
// text/event-stream instead get new lines as server-sent events until they
// disconnect.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, strings.Join(s.Lines(), ""))
		return
	}

	sub, unsubscribe := s.Stream()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	io.WriteString(w, ": streaming log\n\n")
	flush()

	for {
		select {
		case line := <-sub:
			fmt.Fprintf(w, "event: logline\ndata: %s\n\n", strings.TrimSuffix(line, "\n"))
			flush()
		case <-r.Context().Done():
			return
		}
	}
}
