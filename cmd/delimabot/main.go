// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/delimakpm/delimabot/cmd/delimabot/internal/poller"
	"github.com/delimakpm/delimabot/cmd/delimabot/internal/records"
	"github.com/delimakpm/delimabot/cmd/delimabot/internal/reply"
	"github.com/delimakpm/delimabot/cmd/delimabot/internal/telegram"
	"github.com/delimakpm/delimabot/internal/cli"
	"github.com/delimakpm/delimabot/internal/cli/envflag"
	"github.com/delimakpm/delimabot/internal/filelock"
	"github.com/delimakpm/delimabot/internal/httplogger"
	"github.com/delimakpm/delimabot/internal/logger"
	"github.com/delimakpm/delimabot/internal/systemd"
	"github.com/delimakpm/delimabot/internal/version"
	"github.com/delimakpm/delimabot/internal/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() { cli.Main(new(engine)) }

const (
	aliveText     = "Bot is alive!"
	pingInterval  = 10 * time.Minute
	logBufferSize = 1000
)

var errNoToken = fmt.Errorf("%w: BOT_TOKEN environment variable is not set", cli.ErrInvalidArgs)

type engine struct {
	fs *flag.FlagSet

	// configuration, populated by Flags
	port         *int
	recordsFile  *string
	lockDir      *string
	messagesFile *string
	pollTimeout  *time.Duration
	errorBudget  *int
	skipPending  *bool
	debugAddr    *string
	logLevel     *string
	logFormat    *string
	apiEndpoint  *string

	// used in tests
	httpc        *http.Client
	pingInterval time.Duration
	ready        func(net.Addr) // liveness server is listening
	debugReady   func(net.Addr) // debug server is listening
}

func (e *engine) Flags(fs *flag.FlagSet, env *cli.Env) {
	e.fs = fs
	e.port = envflag.Value(fs, env.Getenv, "port", "PORT", 8080, "Serve the liveness endpoint on `port`.")
	e.recordsFile = envflag.Value(fs, env.Getenv, "records", "RECORDS_FILE", "data.csv", "Read student records from `file` (CSV, or TSV if named *.tsv).")
	e.lockDir = envflag.Value(fs, env.Getenv, "lock-dir", "LOCK_DIR", "", "Keep the instance lock file in `dir`. Defaults to the temporary directory.")
	e.messagesFile = envflag.Value(fs, env.Getenv, "messages", "MESSAGES_FILE", "", "Override reply texts with the YAML `file`.")
	e.pollTimeout = envflag.Value(fs, env.Getenv, "poll-timeout", "POLL_TIMEOUT", 30*time.Second, "Wait up to `duration` for new updates in a single request.")
	e.errorBudget = envflag.Value(fs, env.Getenv, "error-budget", "ERROR_BUDGET", 5, "Exit after `n` consecutive failed sessions.")
	e.skipPending = envflag.Value(fs, env.Getenv, "skip-pending", "SKIP_PENDING", true, "Drop updates received while the bot was offline.")
	e.debugAddr = envflag.Value(fs, env.Getenv, "debug-addr", "DEBUG_ADDR", "", "Serve metrics, logs and profiles on `addr`. Disabled if empty.")
	e.logLevel = envflag.Value(fs, env.Getenv, "log-level", "LOG_LEVEL", "info", "Log at `level`: debug, info, warn or error.")
	e.logFormat = envflag.Value(fs, env.Getenv, "log-format", "LOG_FORMAT", "text", "Log `format`: text or json.")
	e.apiEndpoint = envflag.Value(fs, env.Getenv, "api-endpoint", "TELEGRAM_API", telegram.DefaultEndpoint, "Bot API endpoint `template`; the token and method name are substituted into it.")
}

func (e *engine) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if err := envflag.Check(e.fs); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	if len(env.Args) > 0 {
		return fmt.Errorf("%w: unexpected arguments %q", cli.ErrInvalidArgs, env.Args)
	}

	// Secrets are read only from the environment.
	token := cmp.Or(env.Getenv("BOT_TOKEN"), env.Getenv("TELEGRAM_TOKEN"))
	if token == "" {
		return errNoToken
	}

	logs := logger.NewStreamer(logBufferSize)
	l, err := e.newLogger(io.MultiWriter(env.Stderr, logs))
	if err != nil {
		return err
	}
	ctx = logger.Put(ctx, l)
	l.Info("starting", "version", version.Version().Version, "commit", version.Version().Commit)

	store, err := records.Load(*e.recordsFile)
	if err != nil {
		l.Warn("record file not loaded, lookups will report that no data is available", "path", *e.recordsFile, "error", err)
	} else {
		l.Info("records loaded", "path", *e.recordsFile, "count", store.Len())
	}

	catalog := reply.DefaultCatalog()
	if *e.messagesFile != "" {
		if catalog, err = reply.LoadCatalog(*e.messagesFile); err != nil {
			return fmt.Errorf("loading messages: %w", err)
		}
	}

	lockDir := cmp.Or(*e.lockDir, os.TempDir())
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	lock := filelock.New(filelock.PathFor(lockDir, token), filelock.Options{})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend := telegram.New(telegram.Config{
		Token:       token,
		Endpoint:    *e.apiEndpoint,
		HTTPClient:  e.apiClient(ctx, token),
		Logger:      l.Logger,
		SkipPending: *e.skipPending,
	})
	formatter := reply.New(reply.Config{
		Store:   store,
		Catalog: catalog,
		Started: time.Now(),
	})
	notifier := &systemd.Notifier{Getenv: env.Getenv, Logf: l.Logf()}

	var firstReceive sync.Once
	p := poller.New(poller.Config{
		Backend:     backend,
		Handler:     formatter,
		Lock:        lock,
		Logger:      l.Logger,
		Metrics:     poller.NewMetrics(reg),
		PollTimeout: *e.pollTimeout,
		ErrorBudget: *e.errorBudget,
		OnStateChange: func(from, to poller.State) {
			switch to {
			case poller.Receiving:
				firstReceive.Do(func() {
					e.registerCommands(ctx, backend, formatter.Commands())
					notifier.Notify(systemd.Ready, systemd.Status("Receiving updates"))
				})
			case poller.Backoff:
				notifier.Notify(systemd.Status("Backing off after a failed session"))
			case poller.Terminated:
				notifier.Notify(systemd.Stopping)
			}
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error {
		// Only the instance that owns the session answers health checks.
		select {
		case <-p.Ready():
		case <-gctx.Done():
			return nil
		}
		mux := http.NewServeMux()
		web.Liveness(mux, aliveText)
		return web.ListenAndServe(gctx, &web.ListenAndServeConfig{
			Name:    "liveness",
			Addr:    net.JoinHostPort("", strconv.Itoa(*e.port)),
			Handler: mux,
			Logger:  l.Logger,
			Ready:   e.ready,
		})
	})
	if *e.debugAddr != "" {
		g.Go(func() error {
			mux := http.NewServeMux()
			health := web.Debug(mux, web.DebugConfig{
				Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				Log:     logs,
			})
			health.RegisterFunc("session", func() (string, bool) {
				s := p.State()
				return s.String(), s == poller.Receiving
			})
			health.RegisterFunc("lock", func() (string, bool) {
				if lock.Held() {
					return "held at " + lock.Path(), true
				}
				return "not held", false
			})
			health.RegisterFunc("records", func() (string, bool) {
				return fmt.Sprintf("%d loaded", store.Len()), true
			})
			return web.ListenAndServe(gctx, &web.ListenAndServeConfig{
				Name:    "debug",
				Addr:    *e.debugAddr,
				Handler: mux,
				Logger:  l.Logger,
				Ready:   e.debugReady,
			})
		})
	}
	if url := env.Getenv("PING_URL"); url != "" {
		g.Go(func() error {
			e.ping(gctx, "ping", url)
			return nil
		})
	}
	if env.Getenv("RENDER") == "true" {
		// https://docs.render.com/environment-variables#all-runtimes-1
		if url := env.Getenv("RENDER_EXTERNAL_URL"); url != "" {
			g.Go(func() error {
				e.ping(gctx, "self-ping", url+"/health")
				return nil
			})
		} else {
			l.Warn("running on Render, but RENDER_EXTERNAL_URL is not set; self-ping disabled")
		}
	}
	g.Go(func() error {
		notifier.WatchdogLoop(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	l.Info("stopped")
	return nil
}

func (e *engine) newLogger(w io.Writer) (*logger.Logger, error) {
	format := logger.Format(*e.logFormat)
	if format != logger.FormatText && format != logger.FormatJSON {
		return nil, fmt.Errorf("%w: unknown log format %q", cli.ErrInvalidArgs, *e.logFormat)
	}
	level, err := logger.ParseLevel(*e.logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	l := logger.New(w, format)
	l.Level.Set(level)
	return l, nil
}

// registerCommands sets the command menu shown by Telegram clients. Failure
// only affects the menu, so it is logged and ignored.
func (e *engine) registerCommands(ctx context.Context, backend *telegram.Backend, commands []reply.Command) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmds := make([]telegram.Command, 0, len(commands))
	for _, c := range commands {
		cmds = append(cmds, telegram.Command{Name: c.Name, Description: c.Description})
	}
	if err := backend.SetCommands(ctx, cmds); err != nil && !errors.Is(err, context.Canceled) {
		logger.Get(ctx).Warn("registering command menu failed", "error", err)
		return
	}
	logger.Get(ctx).Debug("command menu registered", "count", len(cmds), slog.String("bot", backend.Username()))
}

// apiClient returns the HTTP client for Bot API requests. At debug level every
// request is logged with the token redacted.
func (e *engine) apiClient(ctx context.Context, token string) *http.Client {
	l := logger.Get(ctx)
	if !l.Enabled(ctx, slog.LevelDebug) {
		return e.httpc
	}
	c := &http.Client{}
	if e.httpc != nil {
		*c = *e.httpc
	}
	c.Transport = httplogger.New(c.Transport, httplogger.Options{
		Logger: l.Logger,
		Level:  slog.LevelDebug,
		Redact: []string{token},
	})
	return c
}
