// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cli provides utilities for building command-line applications.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/delimakpm/delimabot/internal/logger"
	"github.com/delimakpm/delimabot/internal/syncx"
	"github.com/delimakpm/delimabot/internal/version"
)

// Main runs app with the operating system environment and exits the process
// with a status from [ExitCode]. The context passed to app is canceled on
// SIGINT or SIGTERM.
func Main(app App) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Run(WithEnv(ctx, OSEnv()), app)
	cancel()

	if err != nil && isPrintableError(err) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", version.CmdName(), err)
	}
	os.Exit(ExitCode(err))
}

// ExitCode maps an error returned by [Run] to a process exit status: 0 for
// success and for -help or -version, 2 for invalid arguments and 1 for
// anything else.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp), errors.Is(err, ErrExitVersion):
		return 0
	case errors.Is(err, ErrInvalidArgs), isFlagError(err):
		return 2
	default:
		return 1
	}
}

// unprintableError marks errors that were already reported to the user.
type unprintableError struct{ err error }

func (e *unprintableError) Error() string { return e.err.Error() }
func (e *unprintableError) Unwrap() error { return e.err }

func isPrintableError(err error) bool {
	var ue *unprintableError
	return !errors.As(err, &ue) && !errors.Is(err, flag.ErrHelp) && !isFlagError(err)
}

// flagError is returned when the flag package rejects the command line. The
// flag package has already printed it.
type flagError struct{ err error }

func (e *flagError) Error() string { return e.err.Error() }
func (e *flagError) Unwrap() error { return e.err }

func isFlagError(err error) bool {
	var fe *flagError
	return errors.As(err, &fe)
}

// ErrExitVersion is returned by [Run] after printing the version.
var ErrExitVersion = &unprintableError{errors.New("version flag exit")}

// ErrInvalidArgs is wrapped by applications to report a bad command line or
// configuration, for example:
//
//	return fmt.Errorf("%w: BOT_TOKEN is not set", cli.ErrInvalidArgs)
var ErrInvalidArgs = errors.New("invalid arguments")

// App represents a command-line application.
type App interface {
	// Run runs the application.
	Run(context.Context) error
}

// HasFlags represents a command-line application that has flags.
type HasFlags interface {
	App

	// Flags adds flags to the flag set. Environment from the context passed to
	// Run is available through env.
	Flags(fs *flag.FlagSet, env *Env)
}

// AppFunc is a function type that implements the [App] interface.
// It has no defined flags.
type AppFunc func(context.Context) error

// Run calls f(ctx).
func (f AppFunc) Run(ctx context.Context) error { return f(ctx) }

// Env represents the application environment.
type Env struct {
	Args   []string
	Getenv func(string) string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// OSEnv returns the current operating system environment.
func OSEnv() *Env {
	return &Env{
		Args:   os.Args[1:],
		Getenv: os.Getenv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type envKey struct{}

// WithEnv returns a copy of ctx carrying env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// GetEnv returns the environment stored in ctx, or [OSEnv] if there is none.
func GetEnv(ctx context.Context) *Env {
	if env, ok := ctx.Value(envKey{}).(*Env); ok && env != nil {
		return env
	}
	return OSEnv()
}

// Run handles the command-line application startup: it parses flags, loads
// variables from the file passed with -envfile and puts a logger writing to
// standard error into the context.
//
// Variables loaded from -envfile never override the ones already present in
// the environment.
func Run(ctx context.Context, app App) error {
	env := GetEnv(ctx)
	name := version.CmdName()

	// -envfile has to be honored before application flags read their
	// environment defaults, so look for it first.
	if path := envFileArg(env.Args); path != "" {
		if err := loadEnvFile(env, path); err != nil {
			return err
		}
	}

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.String("envfile", "", "Load environment variables from `file`.")
	if fa, ok := app.(HasFlags); ok {
		fa.Flags(flags, env)
	}
	var showVersion bool
	if flags.Lookup("version") == nil {
		flags.BoolVar(&showVersion, "version", false, "Show version.")
	}

	flags.Usage = usage(flags, env.Stderr)
	flags.SetOutput(env.Stderr)
	if err := flags.Parse(env.Args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &flagError{err}
	}

	if showVersion {
		fmt.Fprint(env.Stderr, version.Version())
		return ErrExitVersion
	}
	env.Args = flags.Args()

	ctx = WithEnv(ctx, env)
	ctx = logger.Put(ctx, logger.New(env.Stderr, logger.FormatText))
	return app.Run(ctx)
}

func envFileArg(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "envfile" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func loadEnvFile(env *Env, path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("loading environment file: %w", err)
	}
	getenv := env.Getenv
	env.Getenv = func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return vars[key]
	}
	return nil
}

func usage(flags *flag.FlagSet, stderr io.Writer) func() {
	return func() {
		if docSrc != nil {
			fmt.Fprintf(stderr, "%s\n", doc.Get(parseDocComment))
		}
		fmt.Fprint(stderr, "Available flags:\n\n")
		flags.PrintDefaults()
	}
}

var (
	docSrc []byte
	doc    syncx.Lazy[string]
)

// SetDocComment stores the provided byte slice as the source for the
// application's documentation comment, which is included in the help
// message.
//
// The documentation comment must be enclosed within a single /* ... */ block.
//
//	//go:embed doc.go
//	var doc []byte
//
//	func init() { cli.SetDocComment(doc) }
func SetDocComment(src []byte) { docSrc = src }

func parseDocComment() string {
	_, doc, ok := strings.Cut(string(docSrc), "/*\n")
	if !ok {
		return ""
	}
	doc, _, _ = strings.Cut(doc, "*/")
	return doc
}
