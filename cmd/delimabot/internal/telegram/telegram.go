// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements a [messaging.Backend] over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/delimakpm/delimabot/cmd/delimabot/internal/messaging"
	"github.com/delimakpm/delimabot/internal/syncx"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the Bot API endpoint template: the first verb is the
// token, the second is the method name.
const DefaultEndpoint = tgbotapi.APIEndpoint

const (
	// Telegram allows about 30 messages per second across all chats.
	sendRate  = 25
	sendBurst = 5

	// pollSlack is added to the long-poll timeout to bound a single fetch.
	pollSlack    = 10 * time.Second
	fetchLimit   = 100
	minRetryWait = time.Second
)

var errNotConnected = errors.New("telegram: not connected")

// Config configures a [Backend].
type Config struct {
	// Token is the bot access token. Required.
	Token string
	// Endpoint is the Bot API endpoint template. Defaults to DefaultEndpoint.
	Endpoint string
	// HTTPClient is used for Bot API requests. It must not have a timeout
	// shorter than the long-poll timeout; requests are bounded by their
	// contexts instead. Defaults to a client without a timeout.
	HTTPClient *http.Client
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// SkipPending drops updates queued while the bot was offline on the first
	// connect.
	SkipPending bool
	// Limiter paces outgoing messages. Defaults to 25 messages per second with
	// a burst of 5.
	Limiter *rate.Limiter
}

// Backend is a Telegram Bot API messaging backend. It is safe for concurrent
// use after Connect returns.
type Backend struct {
	c        Config
	scrubber *strings.Replacer
	api      *syncx.Protected[*tgbotapi.BotAPI]

	mu        sync.Mutex
	connected bool // at least once
}

var _ messaging.Backend = (*Backend)(nil)

// New returns a Backend. It doesn't make any requests.
func New(c Config) *Backend {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(sendRate, sendBurst)
	}
	routeLogs(c.Logger)

	return &Backend{
		c:        c,
		scrubber: strings.NewReplacer(c.Token, "[EXPUNGED]"),
		api:      syncx.Protect[*tgbotapi.BotAPI](nil),
	}
}

// Connect checks the token with getMe and removes any webhook so that
// getUpdates can be used. Pending updates are dropped on the first connect
// if SkipPending is set.
func (b *Backend) Connect(ctx context.Context) error {
	api, err := tgbotapi.NewBotAPIWithClient(b.c.Token, b.c.Endpoint, &ctxClient{ctx: ctx, c: b.c.HTTPClient})
	if err != nil {
		return b.classify(fmt.Errorf("getMe: %w", err))
	}

	b.mu.Lock()
	drop := b.c.SkipPending && !b.connected
	b.mu.Unlock()

	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: drop}); err != nil {
		return b.classify(fmt.Errorf("deleteWebhook: %w", err))
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.api.Swap(api)

	b.c.Logger.Debug("connected to Bot API", "bot", api.Self.UserName, "dropped_pending", drop)
	return nil
}

// Username returns the bot's username, or an empty string if not connected.
func (b *Backend) Username() string {
	api := b.api.Load()
	if api == nil {
		return ""
	}
	return api.Self.UserName
}

// bot returns a copy of the connected client whose requests carry ctx.
func (b *Backend) bot(ctx context.Context) (*tgbotapi.BotAPI, error) {
	api := b.api.Load()
	if api == nil {
		return nil, errNotConnected
	}
	c := *api
	c.Client = &ctxClient{ctx: ctx, c: b.c.HTTPClient}
	return &c, nil
}

// Fetch long-polls getUpdates.
func (b *Backend) Fetch(ctx context.Context, offset int, timeout time.Duration) ([]messaging.Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+pollSlack)
	defer cancel()

	api, err := b.bot(ctx)
	if err != nil {
		return nil, err
	}
	updates, err := api.GetUpdates(tgbotapi.UpdateConfig{
		Offset:  offset,
		Limit:   fetchLimit,
		Timeout: int(timeout / time.Second),
	})
	if err != nil {
		return nil, b.classify(fmt.Errorf("getUpdates: %w", err))
	}

	res := make([]messaging.Update, 0, len(updates))
	for _, u := range updates {
		res = append(res, convertUpdate(u))
	}
	return res, nil
}

func convertUpdate(u tgbotapi.Update) messaging.Update {
	mu := messaging.Update{ID: u.UpdateID}
	msg := u.Message
	if msg == nil {
		return mu
	}
	mu.MessageID = msg.MessageID
	mu.Text = msg.Text
	if msg.Chat != nil {
		mu.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		mu.UserID = msg.From.ID
		mu.UserName = msg.From.UserName
	}
	mu.Command, mu.Args = messaging.ParseCommand(msg.Text)
	return mu
}

// Send sends r with sendMessage, waiting for the send limiter first.
func (b *Backend) Send(ctx context.Context, r messaging.Reply) error {
	api, err := b.bot(ctx)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(r.ChatID, r.Text)
	msg.ReplyToMessageID = r.ReplyTo
	msg.DisableWebPagePreview = true
	if r.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(r.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.Buttons))
		for _, row := range r.Buttons {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, btn := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Label, btn.URL))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	if err := b.c.Limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := api.Send(msg); err != nil {
		return b.classify(fmt.Errorf("sendMessage: %w", err))
	}
	return nil
}

// Command is an entry of the bot's command menu.
type Command struct {
	Name        string
	Description string
}

// SetCommands registers the command menu shown by Telegram clients.
func (b *Backend) SetCommands(ctx context.Context, commands []Command) error {
	api, err := b.bot(ctx)
	if err != nil {
		return err
	}
	cmds := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		cmds = append(cmds, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := api.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		return b.classify(fmt.Errorf("setMyCommands: %w", err))
	}
	return nil
}

// classify maps Bot API errors onto the messaging error classes and scrubs
// the token from the result.
func (b *Backend) classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait < minRetryWait {
				wait = minRetryWait
			}
			return &messaging.RateLimitError{RetryAfter: wait, Err: b.scrub(err)}
		case apiErr.Code == http.StatusConflict:
			return fmt.Errorf("%w: %v", messaging.ErrConflict, b.scrub(err))
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", messaging.ErrUnauthorized, b.scrub(err))
		}
	}
	return b.scrub(err)
}

func (b *Backend) scrub(err error) error {
	return &scrubbedError{err: err, scrubber: b.scrubber}
}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (se *scrubbedError) Error() string { return se.scrubber.Replace(se.err.Error()) }
func (se *scrubbedError) Unwrap() error { return se.err }

// ctxClient attaches a context to requests made by the Bot API client, which
// builds them without one.
type ctxClient struct {
	ctx context.Context
	c   *http.Client
}

func (cc *ctxClient) Do(req *http.Request) (*http.Response, error) {
	return cc.c.Do(req.WithContext(cc.ctx))
}
