// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package reply turns incoming messages into replies.
//
// Every message is classified once, in a fixed order of priority:
//
//  1. a command, like /start;
//  2. a question about passwords, recognized by keywords;
//  3. a student name to look up;
//  4. anything else, which is answered as a failed lookup.
//
// Password questions always get fixed guidance and never reach the record
// store.
package reply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/delimakpm/delimabot/cmd/delimabot/internal/messaging"
	"github.com/delimakpm/delimabot/cmd/delimabot/internal/records"
	"github.com/delimakpm/delimabot/internal/logger"
)

// Kind is a class of incoming message.
type Kind int

// Message classes, in order of priority.
const (
	KindUnrecognized Kind = iota
	KindCommand
	KindPassword
	KindLookup
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindPassword:
		return "password"
	case KindLookup:
		return "lookup"
	default:
		return "unrecognized"
	}
}

// Request is a classified incoming message.
type Request struct {
	Kind Kind
	// Command is set for KindCommand.
	Command string
	// Query is set for KindLookup.
	Query string
}

var passwordKeywords = []string{"password", "kata laluan", "katalaluan", "lupa", "reset"}

// Classify classifies a message with the given text and parsed command.
func Classify(text, command string) Request {
	if command != "" {
		return Request{Kind: KindCommand, Command: command}
	}
	lower := strings.ToLower(text)
	for _, kw := range passwordKeywords {
		if strings.Contains(lower, kw) {
			return Request{Kind: KindPassword}
		}
	}
	if q := strings.TrimSpace(text); q != "" {
		return Request{Kind: KindLookup, Query: q}
	}
	return Request{Kind: KindUnrecognized}
}

// Finder looks up records.
type Finder interface {
	Find(query string) (records.Record, bool)
	Len() int
}

// Config configures a [Formatter].
type Config struct {
	// Store is consulted for name lookups. A nil Store behaves as an empty
	// one.
	Store Finder
	// Catalog defaults to DefaultCatalog().
	Catalog *Catalog
	// Started is the time the service started, reported by /status.
	// Defaults to the time New is called.
	Started time.Time
	// Now defaults to time.Now.
	Now func() time.Time
}

// Formatter builds replies. It is safe for concurrent use.
type Formatter struct {
	store   Finder
	catalog *Catalog
	started time.Time
	now     func() time.Time
}

// New returns a new Formatter.
func New(c Config) *Formatter {
	f := &Formatter{
		store:   c.Store,
		catalog: c.Catalog,
		started: c.Started,
		now:     c.Now,
	}
	if f.store == nil {
		f.store = records.New()
	}
	if f.catalog == nil {
		f.catalog = DefaultCatalog()
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.started.IsZero() {
		f.started = f.now()
	}
	return f
}

// Commands returns the command menu.
func (f *Formatter) Commands() []Command { return f.catalog.Commands }

// Apology returns the reply sent when handling u fails.
func (f *Formatter) Apology(u messaging.Update) messaging.Reply {
	return f.text(u, f.catalog.Apology, false)
}

// Handle returns the reply to u.
func (f *Formatter) Handle(ctx context.Context, u messaging.Update) (messaging.Reply, error) {
	req := Classify(u.Text, u.Command)

	log := logger.Get(ctx).With("kind", req.Kind.String(), "user", u.Sender(), "user_id", u.UserID)
	if req.Kind == KindCommand {
		log.Info("command received", "command", "/"+req.Command)
	} else {
		log.Debug("message received", "text", u.Text)
	}

	switch req.Kind {
	case KindCommand:
		return f.command(u, req.Command)
	case KindPassword:
		return f.text(u, f.catalog.PasswordGuidance, true), nil
	case KindLookup:
		return f.lookup(u, req.Query)
	}
	return f.text(u, f.catalog.NotFound, true), nil
}

func (f *Formatter) command(u messaging.Update, command string) (messaging.Reply, error) {
	c := f.catalog
	switch command {
	case "start":
		return f.text(u, c.Start, true), nil
	case "delima":
		return f.link(u, c.Delima, c.DelimaButton, c.DelimaURL), nil
	case "ains":
		return f.link(u, c.AINS, c.AINSButton, c.AINSURL), nil
	case "resetpassword":
		return f.text(u, c.ResetPassword, true), nil
	case "status":
		return f.status(u)
	}
	// "help" and unknown commands.
	return f.text(u, c.Help, true), nil
}

type uptime struct {
	Days, Hours, Minutes, Seconds int64
	Records                       int
}

func (f *Formatter) status(u messaging.Update) (messaging.Reply, error) {
	secs := int64(f.now().Sub(f.started) / time.Second)
	if secs < 0 {
		secs = 0
	}
	data := uptime{
		Days:    secs / 86400,
		Hours:   secs % 86400 / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
		Records: f.store.Len(),
	}
	var sb strings.Builder
	if err := f.catalog.status.Execute(&sb, data); err != nil {
		return messaging.Reply{}, fmt.Errorf("formatting status: %w", err)
	}
	return f.text(u, sb.String(), false), nil
}

func (f *Formatter) lookup(u messaging.Update, query string) (messaging.Reply, error) {
	if f.store.Len() == 0 {
		return f.text(u, f.catalog.Unavailable, false), nil
	}
	rec, ok := f.store.Find(query)
	if !ok {
		return f.text(u, f.catalog.NotFound, true), nil
	}
	var sb strings.Builder
	if err := f.catalog.found.Execute(&sb, rec); err != nil {
		return messaging.Reply{}, fmt.Errorf("formatting record: %w", err)
	}
	return f.text(u, sb.String(), true), nil
}

func (f *Formatter) text(u messaging.Update, text string, markdown bool) messaging.Reply {
	return messaging.Reply{
		ChatID:   u.ChatID,
		ReplyTo:  u.MessageID,
		Text:     text,
		Markdown: markdown,
	}
}

func (f *Formatter) link(u messaging.Update, text, label, url string) messaging.Reply {
	r := f.text(u, text, false)
	if label != "" && url != "" {
		r.Buttons = [][]messaging.Button{{{Label: label, URL: url}}}
	}
	return r
}
