// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package web serves the bot's HTTP endpoints.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ListenAndServeConfig configures [ListenAndServe]. It must not be modified
// after ListenAndServe is called.
type ListenAndServeConfig struct {
	// Name identifies the server in logs, such as "liveness" or "debug".
	Name string
	// Addr is a TCP address to listen on, in the form "host:port".
	Addr string
	// Handler serves requests.
	Handler http.Handler
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Ready is called with the listener address once the server accepts
	// connections. Optional.
	Ready func(net.Addr)
	// ShutdownTimeout bounds graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration
}

var (
	errNoAddr    = errors.New("web: Addr is empty")
	errNoHandler = errors.New("web: Handler is nil")
)

// ListenAndServe serves HTTP on c.Addr until ctx is canceled, then shuts the
// server down gracefully. It returns nil after a clean shutdown.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Handler == nil {
		return errNoHandler
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	if c.Name != "" {
		log = log.With("server", c.Name)
	}
	shutdownTimeout := c.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.Addr, err)
	}
	log.Info("listening", "addr", l.Addr().String())

	s := &http.Server{
		Handler:           c.Handler,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(l) }()

	if c.Ready != nil {
		c.Ready(l.Addr())
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
