// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a http.RoundTripper middleware that logs HTTP
// requests and responses.
//
// Only the request line, the response status and the duration are logged.
// Bodies never are. Secrets embedded in URLs, such as bot tokens in Bot API
// paths, can be redacted with [Options.Redact].
package httplogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Redacted replaces redacted strings in logged URLs and errors.
const Redacted = "[EXPUNGED]"

// Options configure the logging transport.
type Options struct {
	// Logger receives one record per request. Defaults to slog.Default().
	Logger *slog.Logger
	// Level is the level of records for successful requests. Failed requests
	// are logged at least at slog.LevelWarn.
	Level slog.Level
	// Redact lists strings that must not appear in logs.
	Redact []string
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// New returns a http.RoundTripper that logs requests made through t. If t is
// nil, http.DefaultTransport is used.
func New(t http.RoundTripper, o Options) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	var pairs []string
	for _, s := range o.Redact {
		if s != "" {
			pairs = append(pairs, s, Redacted)
		}
	}
	return &loggingTransport{
		transport: t,
		o:         o,
		scrubber:  strings.NewReplacer(pairs...),
	}
}

type loggingTransport struct {
	transport http.RoundTripper
	o         Options
	scrubber  *strings.Replacer
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := t.o.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", t.scrubber.Replace(r.URL.Redacted())),
		slog.Duration("duration", t.o.Now().Sub(start)),
	}
	level := t.o.Level
	if resp != nil {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
		if resp.StatusCode >= 500 {
			level = max(level, slog.LevelWarn)
		}
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", t.scrubber.Replace(err.Error())))
		level = max(level, slog.LevelWarn)
	}
	t.o.Logger.LogAttrs(r.Context(), level, "http request", attrs...)

	return resp, err
}
