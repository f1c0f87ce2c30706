// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"encoding/json"
	"io"
	"net/http"
)

// RespondJSON marshals response as indented JSON and writes it to w with the
// given status code.
func RespondJSON(w http.ResponseWriter, status int, response any) {
	b, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		http.Error(w, "JSON marshal error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
	w.Write([]byte("\n"))
}

// RespondText writes a plain text response with the given status code.
func RespondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	io.WriteString(w, text)
}

// Liveness registers handlers on mux that answer GET (and HEAD) requests to
// /, /health and /ping with 200 and text. Any other path is left to mux,
// which answers 404.
func Liveness(mux *http.ServeMux, text string) {
	h := func(w http.ResponseWriter, r *http.Request) { RespondText(w, http.StatusOK, text) }
	mux.HandleFunc("GET /{$}", h)
	mux.HandleFunc("GET /health", h)
	mux.HandleFunc("GET /ping", h)
}
