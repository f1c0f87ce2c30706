// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Delimabot is a Telegram bot for the DELIMa KPM student account help desk.

Parents send a student's full name and the bot replies with the DELIMa ID and
password found in the record file. The bot also answers a few commands with
links and guidance.

# Usage

	$ BOT_TOKEN=... delimabot [flags...]

# Environment Variables

  - BOT_TOKEN (or TELEGRAM_TOKEN): Telegram bot token. Required.
  - PING_URL: URL requested every 10 minutes, for external uptime monitors.
  - RENDER, RENDER_EXTERNAL_URL: set by Render; when running there, the bot
    requests its own liveness endpoint every 10 minutes to keep the service
    awake.
  - NOTIFY_SOCKET, WATCHDOG_USEC: set by systemd; the bot reports readiness
    once it receives updates and pings the watchdog.

Every flag can also be set by an environment variable, listed in the flag's
description. Variables can be loaded from a file with -envfile; variables
already present in the environment take precedence.

# Records

The record file is a CSV (or TSV, if its name ends with .tsv) export of the
student list. The first row names the columns: "Nama" or "Name" for the
student name, "Email", "Emel" or "ID DELIMa" for the account, and "Password"
or "Kata Laluan" for the password. If a column isn't recognized, the first
three columns are used in that order.

If the file can't be read, the bot still starts and tells users that no data
is available.

# Messages

Reply texts are built in. To change some of them, pass a YAML file with
-messages that sets only the fields to override. See
cmd/delimabot/internal/reply/messages.yaml for the fields.

# Running More Than One Instance

Only one process may receive updates for a bot token. The bot takes a lock
file in -lock-dir before connecting and exits with an error if another live
process holds it. A lock left behind by a crashed process is taken over once
the process is gone or after a minute.

# Endpoints

The bot serves GET /, /health and /ping on -port for the hosting platform's
health checks. If -debug-addr is set, a separate listener serves Prometheus
metrics at /debug/metrics, recent logs at /debug/log, health checks at
/debug/health and profiles at /debug/pprof/.
*/
package main

import (
	_ "embed"

	"github.com/delimakpm/delimabot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
