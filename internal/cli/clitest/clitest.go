// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs table tests against [cli.App] implementations.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/delimakpm/delimabot/internal/cli"
)

// Case is a single invocation of an application.
type Case[App cli.App] struct {
	// Args is the command line, without the program name.
	Args []string
	// Env holds the environment variables visible to the application.
	Env map[string]string
	// Stdin defaults to empty input.
	Stdin string

	// WantErr, if set, must match the returned error with errors.Is.
	WantErr error
	// WantExitCode is the process status [cli.ExitCode] derives from the
	// returned error.
	WantExitCode int
	// WantInStdout and WantInStderr must be substrings of the output.
	WantInStdout string
	WantInStderr string

	// Context returns the context the application runs with. Defaults to the
	// test context.
	Context func(*testing.T) context.Context
	// CheckFunc performs additional checks after the application returns.
	CheckFunc func(*testing.T, App)
}

// Run runs each case in a parallel subtest against an application returned
// by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			env := &cli.Env{
				Args:   tc.Args,
				Getenv: func(key string) string { return tc.Env[key] },
				Stdin:  strings.NewReader(tc.Stdin),
				Stdout: &stdout,
				Stderr: &stderr,
			}
			ctx := t.Context()
			if tc.Context != nil {
				ctx = tc.Context(t)
			}

			app := setup(t)
			err := cli.Run(cli.WithEnv(ctx, env), app)

			if tc.WantErr != nil && !errors.Is(err, tc.WantErr) {
				t.Fatalf("got error %v, want %v", err, tc.WantErr)
			}
			if tc.WantErr == nil && cli.ExitCode(err) == 1 {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := cli.ExitCode(err); got != tc.WantExitCode {
				t.Errorf("exit code %d, want %d (error: %v)", got, tc.WantExitCode, err)
			}
			if !strings.Contains(stdout.String(), tc.WantInStdout) {
				t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, stdout.String())
			}
			if !strings.Contains(stderr.String(), tc.WantInStderr) {
				t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, stderr.String())
			}

			if tc.CheckFunc != nil {
				tc.CheckFunc(t, app)
			}
		})
	}
}
