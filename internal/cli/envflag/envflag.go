// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package envflag defines flags whose default value can be overridden by
// environment variables.
package envflag

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

// Type is a constraint that permits only types supported by envflag package.
type Type interface {
	int | int64 | float64 | bool | string | time.Duration
}

// Value defines a flag with the given name, default value and usage on fs.
//
// If the environment variable envName is set and parses as T, it overrides the
// default value. A value passed on the command line overrides both. A
// malformed environment value is reported when fs is parsed.
func Value[T Type](
	fs *flag.FlagSet, getenv func(string) string,
	name, envName string, value T, usage string,
) *T {
	fv := &flagValue[T]{value: new(T)}
	*fv.value = value

	if s := getenv(envName); s != "" {
		if err := fv.Set(s); err != nil {
			fv.envErr = fmt.Errorf("environment variable %s: %w", envName, err)
			*fv.value = value
		}
	}

	fs.Var(fv, name, usage+" Can be overridden by "+envName+" environment variable.")
	return fv.value
}

// Check returns the first error from an environment variable that couldn't
// be parsed into its flag's type.
func Check(fs *flag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if ev, ok := f.Value.(interface{ envError() error }); ok && err == nil {
			err = ev.envError()
		}
	})
	return err
}

type flagValue[T Type] struct {
	value  *T
	envErr error
}

func (f *flagValue[T]) envError() error { return f.envErr }

func (f *flagValue[T]) String() string {
	if f == nil || f.value == nil {
		return ""
	}
	switch v := any(*f.value).(type) {
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Duration:
		return v.String()
	case string:
		return v
	}
	return ""
}

func (f *flagValue[T]) Set(s string) error {
	var (
		v   any
		err error
	)
	switch any(*f.value).(type) {
	case int:
		v, err = strconv.Atoi(s)
	case int64:
		v, err = strconv.ParseInt(s, 10, 64)
	case float64:
		v, err = strconv.ParseFloat(s, 64)
	case bool:
		v, err = strconv.ParseBool(s)
	case time.Duration:
		v, err = time.ParseDuration(s)
	case string:
		v = s
	}
	if err != nil {
		return err
	}
	*f.value = v.(T)
	return nil
}

// IsBoolFlag lets boolean flags be passed without a value.
func (f *flagValue[T]) IsBoolFlag() bool {
	_, ok := any(*f.value).(bool)
	return ok
}
