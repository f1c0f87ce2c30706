// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"
	"slices"

	"github.com/delimakpm/delimabot/internal/syncx"
)

// Health creates a [HealthHandler] and registers it on mux at pattern.
func Health(mux *http.ServeMux, pattern string) *HealthHandler {
	h := new(HealthHandler)
	mux.Handle(pattern, h)
	return h
}

// HealthHandler reports the state of registered subsystems as JSON. The zero
// value has no checks and is ready to use.
type HealthHandler struct {
	checks syncx.Protected[[]healthCheck]
}

type healthCheck struct {
	name string
	f    HealthFunc
}

// HealthFunc reports the state of a particular subsystem. It must be safe for
// concurrent use.
type HealthFunc func() (status string, ok bool)

// RegisterFunc adds a check called name. It panics if such a check already
// exists.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Update(func(checks *[]healthCheck) {
		if slices.ContainsFunc(*checks, func(c healthCheck) bool { return c.name == name }) {
			panic("web: duplicate health check " + name)
		}
		// Clip so that snapshots taken by ServeHTTP are never written to.
		*checks = append(slices.Clip(*checks), healthCheck{name, f})
	})
}

// HealthResponse is the body served by [HealthHandler].
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
	// Failing lists names of failed checks in registration order.
	Failing []string `json:"failing,omitempty"`
}

// CheckResponse is the result of one check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// ServeHTTP runs all checks. It responds with 500 if any of them fails.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := h.checks.Load()
	hr := HealthResponse{
		OK:     true,
		Checks: make(map[string]CheckResponse, len(checks)),
	}
	for _, c := range checks {
		status, ok := c.f()
		hr.Checks[c.name] = CheckResponse{Status: status, OK: ok}
		if !ok {
			hr.OK = false
			hr.Failing = append(hr.Failing, c.name)
		}
	}

	code := http.StatusOK
	if !hr.OK {
		code = http.StatusInternalServerError
	}
	RespondJSON(w, code, hr)
}
