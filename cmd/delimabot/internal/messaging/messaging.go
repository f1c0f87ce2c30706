// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package messaging defines the transport-independent types exchanged between
// the bot and its messaging backend.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConflict is returned by a Backend when another session is already
	// receiving updates for the same bot.
	ErrConflict = errors.New("conflict: another session is receiving updates")
	// ErrUnauthorized is returned by a Backend when the access token is
	// rejected. It is not recoverable by retrying.
	ErrUnauthorized = errors.New("unauthorized: access token rejected")
)

// RateLimitError is returned by a Backend when the server asks the client to
// slow down.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited, retry after %v: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Backend is a messaging service that delivers updates and accepts replies.
type Backend interface {
	// Connect prepares a new receiving session.
	Connect(ctx context.Context) error
	// Fetch long-polls for updates with an ID of at least offset, waiting up
	// to timeout for one to arrive.
	Fetch(ctx context.Context, offset int, timeout time.Duration) ([]Update, error)
	// Send delivers a reply.
	Send(ctx context.Context, r Reply) error
}

// Update is an incoming message.
type Update struct {
	ID        int
	ChatID    int64
	MessageID int
	UserName  string
	UserID    int64
	Text      string
	// Command is the command name without the leading slash and bot
	// mention, or empty if the message is not a command.
	Command string
	// Args is the text after the command.
	Args string
}

// Sender returns a printable name of the update's author.
func (u Update) Sender() string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return "UnknownUser"
}

// ParseCommand splits a "/command@bot args" message into the command name and
// its arguments. It returns empty strings if text is not a command.
func ParseCommand(text string) (command, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", ""
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// Reply is an outgoing message.
type Reply struct {
	ChatID int64
	// ReplyTo is the message being answered, or zero.
	ReplyTo  int
	Text     string
	Markdown bool
	// Buttons are rows of link buttons shown under the message.
	Buttons [][]Button
}

// Button is a link button.
type Button struct {
	Label string
	URL   string
}
