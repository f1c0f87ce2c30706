// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"time"

	"github.com/delimakpm/delimabot/internal/logger"
	"github.com/delimakpm/delimabot/internal/request"
)

// pingTries is how many times a heartbeat is attempted before it's reported
// as failed.
const pingTries = 3

// ping requests url periodically until ctx is done, so that an uptime
// monitor (or the hosting platform) sees the bot is alive.
func (e *engine) ping(ctx context.Context, name, url string) {
	log := logger.Get(ctx).With("heartbeat", name)
	ticker := time.NewTicker(cmp.Or(e.pingInterval, pingInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := request.Get(ctx, request.Params{
				URL:   url,
				Tries: pingTries,
			})
			if err != nil && ctx.Err() == nil {
				log.Warn("heartbeat failed", "error", err)
				continue
			}
			log.Debug("heartbeat sent")
		case <-ctx.Done():
			return
		}
	}
}
