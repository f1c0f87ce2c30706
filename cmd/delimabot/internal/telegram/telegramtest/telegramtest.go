// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegramtest implements a fake Telegram Bot API server for tests.
package telegramtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// APIError is an error response the server returns.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Message is a message sent through the server.
type Message struct {
	ChatID      int64
	Text        string
	ParseMode   string
	ReplyTo     int
	ReplyMarkup string
}

// Server is a fake Bot API server. It serves getMe, deleteWebhook,
// getUpdates, sendMessage and setMyCommands.
type Server struct {
	*httptest.Server

	token string

	mu       sync.Mutex
	revoked  bool
	nextID   int
	updates  []map[string]any
	sent     []Message
	failures map[string][]APIError
	calls    map[string]int
	params   map[string][]map[string]string
}

// NewServer starts a Server accepting token. It is closed when the test ends.
func NewServer(t *testing.T, token string) *Server {
	s := &Server{
		token:    token,
		nextID:   1,
		failures: make(map[string][]APIError),
		calls:    make(map[string]int),
		params:   make(map[string][]map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the endpoint template for the Bot API client.
func (s *Server) Endpoint() string { return s.URL + "/bot%s/%s" }

// AddMessage queues a text message update and returns its update ID.
func (s *Server) AddMessage(chatID int64, userName, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.updates = append(s.updates, map[string]any{
		"update_id": id,
		"message": map[string]any{
			"message_id": id * 10,
			"date":       time.Now().Unix(),
			"text":       text,
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"from":       map[string]any{"id": chatID, "is_bot": false, "first_name": userName, "username": userName},
		},
	})
	return id
}

// Fail makes the next call of method fail with e. Failures queue up.
func (s *Server) Fail(method string, e APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], e)
}

// Revoke makes the server reject the token from now on.
func (s *Server) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

// Sent returns the messages sent so far.
func (s *Server) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

// Calls returns how many times method was called.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Params returns the form parameters of every call of method.
func (s *Server) Params(method string) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.params[method]...)
}

// WaitSent waits until at least n messages were sent and returns them. It
// fails the test on timeout.
func (s *Server) WaitSent(t *testing.T, n int, timeout time.Duration) []Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if sent := s.Sent(); len(sent) >= n {
			return sent
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sent messages, got %d", n, len(s.Sent()))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	token, method, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/bot"), "/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := make(map[string]string)
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}

	s.mu.Lock()
	s.calls[method]++
	s.params[method] = append(s.params[method], params)
	revoked := s.revoked
	var failure *APIError
	if q := s.failures[method]; len(q) > 0 {
		failure = &q[0]
		s.failures[method] = q[1:]
	}
	s.mu.Unlock()

	if revoked || token != s.token {
		writeError(w, APIError{Code: http.StatusUnauthorized, Description: "Unauthorized"})
		return
	}
	if failure != nil {
		writeError(w, *failure)
		return
	}

	switch method {
	case "getMe":
		writeResult(w, map[string]any{"id": 1, "is_bot": true, "first_name": "DELIMa", "username": "delimabot"})
	case "deleteWebhook", "setMyCommands":
		writeResult(w, true)
	case "getUpdates":
		s.getUpdates(w, r, params)
	case "sendMessage":
		s.sendMessage(w, params)
	default:
		writeError(w, APIError{Code: http.StatusNotFound, Description: "Not Found: method not found"})
	}
}

func (s *Server) getUpdates(w http.ResponseWriter, r *http.Request, params map[string]string) {
	offset, _ := strconv.Atoi(params["offset"])
	timeout, _ := strconv.Atoi(params["timeout"])
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)

	for {
		s.mu.Lock()
		var pending []map[string]any
		for _, u := range s.updates {
			if u["update_id"].(int) >= offset {
				pending = append(pending, u)
			}
		}
		s.mu.Unlock()

		if len(pending) > 0 || !time.Now().Before(deadline) {
			if pending == nil {
				pending = []map[string]any{}
			}
			writeResult(w, pending)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Server) sendMessage(w http.ResponseWriter, params map[string]string) {
	chatID, _ := strconv.ParseInt(params["chat_id"], 10, 64)
	replyTo, _ := strconv.Atoi(params["reply_to_message_id"])
	msg := Message{
		ChatID:      chatID,
		Text:        params["text"],
		ParseMode:   params["parse_mode"],
		ReplyTo:     replyTo,
		ReplyMarkup: params["reply_markup"],
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	id := 1000 + len(s.sent)
	s.mu.Unlock()

	writeResult(w, map[string]any{
		"message_id": id,
		"date":       time.Now().Unix(),
		"text":       msg.Text,
		"chat":       map[string]any{"id": chatID, "type": "private"},
	})
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeError(w http.ResponseWriter, e APIError) {
	resp := map[string]any{
		"ok":          false,
		"error_code":  e.Code,
		"description": e.Description,
	}
	if e.RetryAfter > 0 {
		resp["parameters"] = map[string]any{"retry_after": e.RetryAfter}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(resp)
}
