// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package request makes small HTTP requests to auxiliary services, such as
// uptime monitors, with retries.
package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/delimakpm/delimabot/internal/version"
)

// DefaultClient is the client used when Params.HTTPClient is nil.
var DefaultClient = &http.Client{
	Timeout: 10 * time.Second,
}

// maxBody limits how much of a response is read.
const maxBody = 1 << 20

// Params describe a request.
type Params struct {
	// URL is requested with GET.
	URL string
	// HTTPClient defaults to DefaultClient.
	HTTPClient *http.Client
	// Tries is the maximum number of attempts. Transport errors and 5xx
	// responses are retried, others are not. Zero means one attempt.
	Tries uint
	// BackOff spaces out retries. Defaults to an exponential backoff
	// starting at one second.
	BackOff backoff.BackOff
}

// StatusError is returned when the server responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Get makes a GET request to p.URL and discards the response body.
func Get(ctx context.Context, p Params) error {
	if p.HTTPClient == nil {
		p.HTTPClient = DefaultClient
	}
	if p.BackOff == nil {
		p.BackOff = &backoff.ExponentialBackOff{
			InitialInterval:     time.Second,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         30 * time.Second,
		}
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, attempt(ctx, p)
	}, backoff.WithBackOff(p.BackOff), backoff.WithMaxTries(max(p.Tries, 1)))
	if err != nil {
		return fmt.Errorf("GET %s: %w", p.URL, err)
	}
	return nil
}

func attempt(ctx context.Context, p Params) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := p.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		serr := &StatusError{StatusCode: res.StatusCode, Body: b}
		if res.StatusCode >= 500 {
			return serr
		}
		return backoff.Permanent(serr)
	}
	return nil
}
