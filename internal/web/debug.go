// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"slices"

	"github.com/delimakpm/delimabot/internal/version"
)

// DebugConfig lists the optional handlers exposed by [Debug].
type DebugConfig struct {
	// Metrics serves metrics at /debug/metrics.
	Metrics http.Handler
	// Log serves recent log lines at /debug/log.
	Log http.Handler
}

// Debug registers debugging handlers on mux under /debug/: an index page,
// pprof, health checks and the handlers from c. It returns the health handler
// so callers can register checks.
//
// Debug handlers have no authentication; serve mux only on a private address.
func Debug(mux *http.ServeMux, c DebugConfig) *HealthHandler {
	links := []string{"/debug/health", "/debug/pprof/"}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if c.Metrics != nil {
		mux.Handle("GET /debug/metrics", c.Metrics)
		links = append(links, "/debug/metrics")
	}
	if c.Log != nil {
		mux.Handle("GET /debug/log", c.Log)
		links = append(links, "/debug/log")
	}
	slices.Sort(links)

	mux.HandleFunc("GET /debug/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, version.Version())
		fmt.Fprintln(w)
		for _, l := range links {
			fmt.Fprintln(w, l)
		}
	})

	return Health(mux, "GET /debug/health")
}
