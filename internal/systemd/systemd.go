// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd lets a service report readiness, shutdown and liveness to
// systemd over the sd_notify protocol.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/delimakpm/delimabot/internal/logger"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is beginning its
	// shutdown.
	Stopping State = "STOPPING=1"
	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state describing the service status in free form.
func Status(s string) State { return State("STATUS=" + s) }

// Notifier sends notifications to systemd. The zero value is not usable.
type Notifier struct {
	// Getenv looks up NOTIFY_SOCKET and WATCHDOG_USEC.
	Getenv func(string) string
	// Logf receives notification errors.
	Logf logger.Logf
}

// Notify sends states to systemd. It does nothing when the process is not
// running under systemd (NOTIFY_SOCKET is not set). Errors are logged.
func (n *Notifier) Notify(states ...State) {
	socket := n.Getenv("NOTIFY_SOCKET")
	if socket == "" || len(states) == 0 {
		return
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: socket})
	if err != nil {
		n.Logf("systemd: failed when notifying: %v", err)
		return
	}
	defer conn.Close()

	var msg []byte
	for i, s := range states {
		if i > 0 {
			msg = append(msg, '\n')
		}
		msg = append(msg, s...)
	}
	if _, err = conn.Write(msg); err != nil {
		n.Logf("systemd: failed when notifying: %v", err)
	}
}

// WatchdogLoop periodically updates the systemd watchdog timestamp at half of
// the interval requested in WATCHDOG_USEC until ctx is canceled. It returns
// immediately when the watchdog is not enabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	if n.Getenv("WATCHDOG_USEC") == "" {
		return
	}

	interval, err := n.watchdogInterval()
	if err != nil {
		n.Logf("%v", err)
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) watchdogInterval() (time.Duration, error) {
	s, err := strconv.Atoi(n.Getenv("WATCHDOG_USEC"))
	if err != nil {
		return 0, fmt.Errorf("systemd: error converting WATCHDOG_USEC: %v", err)
	}
	if s <= 0 {
		return 0, errors.New("systemd: error WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(s) * time.Microsecond, nil
}
