// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var setLoggerOnce sync.Once

// routeLogs sends the Bot API client's log output to l at debug level. The
// client's logger is global, so only the first call has an effect.
func routeLogs(l *slog.Logger) {
	setLoggerOnce.Do(func() {
		tgbotapi.SetLogger(botLogger{l})
	})
}

// botLogger adapts a slog.Logger to tgbotapi.BotLogger.
type botLogger struct{ l *slog.Logger }

func (bl botLogger) Println(v ...any) {
	bl.l.Debug(strings.TrimSuffix(fmt.Sprintln(v...), "\n"), "source", "tgbotapi")
}

func (bl botLogger) Printf(format string, v ...any) {
	bl.l.Debug(fmt.Sprintf(format, v...), "source", "tgbotapi")
}
