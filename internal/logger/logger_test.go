// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/delimakpm/delimabot/internal/testutil"
)

func TestLogfWriter(t *testing.T) {
	t.Parallel()

	var (
		logged  bool
		message string
	)
	logf := func(format string, args ...any) {
		logged = true
		message = fmt.Sprintf(format, args...)
	}
	Logf(logf).Write([]byte("hello"))
	testutil.AssertEqual(t, logged, true)
	testutil.AssertEqual(t, message, "hello")
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		format Format
		want   string
	}{
		"text": {format: FormatText, want: "msg=hello"},
		"json": {format: FormatJSON, want: `"msg":"hello"`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, tc.format)
			l.Debug("hidden")
			l.Info("hello")
			testutil.AssertSubstring(t, buf.String(), tc.want)
			if strings.Contains(buf.String(), "hidden") {
				t.Fatalf("debug message logged at info level: %q", buf.String())
			}

			buf.Reset()
			l.Level.Set(slog.LevelDebug)
			l.Debug("shown")
			testutil.AssertSubstring(t, buf.String(), "shown")
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLevel(" warn ")
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, level, slog.LevelWarn)

	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("ParseLevel(loud) succeeded, want error")
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, FormatText)
	ctx := Put(context.Background(), l)
	if Get(ctx) != l {
		t.Fatal("Get() didn't return the logger put into context")
	}
	if Get(context.Background()) == nil {
		t.Fatal("Get() on empty context returned nil")
	}
}

func TestStreamer(t *testing.T) {
	t.Parallel()

	s := NewStreamer(5)
	for i := 1; i <= 6; i++ {
		if _, err := fmt.Fprintf(s, "Line %d\n", i); err != nil {
			t.Fatalf("Failed to write line: %v", err)
		}
	}

	lines := s.Lines()
	testutil.AssertEqual(t, len(lines), 5)
	testutil.AssertEqual(t, lines[0], "Line 2\n")
	testutil.AssertEqual(t, lines[4], "Line 6\n")

	stream, closeStream := s.Stream()
	defer closeStream()

	s.Write([]byte("partial "))
	go s.Write([]byte("line\n"))

	select {
	case line := <-stream:
		testutil.AssertEqual(t, line, "partial line\n")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for streamed line")
	}
}

func TestStreamerSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStreamer(10)
	s.Write([]byte("one\ntwo\n"))

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/log", nil))
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, w.Body.String(), "one\ntwo\n")
}

func TestStreamerEventStream(t *testing.T) {
	t.Parallel()

	s := NewStreamer(10)
	req := httptest.NewRequest(http.MethodGet, "/debug/log", nil)
	req.Header.Set("Accept", "text/event-stream")
	ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.Write([]byte("HTTP line\n"))
	}()

	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	testutil.AssertEqual(t, w.Header().Get("Content-Type"), "text/event-stream")
	testutil.AssertSubstring(t, w.Body.String(), "event: logline\ndata: HTTP line\n")
}
