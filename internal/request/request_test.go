// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package request_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"

	"github.com/delimakpm/delimabot/internal/request"
	"github.com/delimakpm/delimabot/internal/testutil"
	"github.com/delimakpm/delimabot/internal/version"
)

func TestGet(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		statuses   []int // served in order, the last one repeats
		tries      uint
		wantStatus int // zero means success
		wantCalls  int32
	}{
		"ok": {
			statuses:  []int{http.StatusOK},
			tries:     3,
			wantCalls: 1,
		},
		"no content": {
			statuses:  []int{http.StatusNoContent},
			wantCalls: 1,
		},
		"retries server errors": {
			statuses:  []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK},
			tries:     3,
			wantCalls: 3,
		},
		"gives up": {
			statuses:   []int{http.StatusBadGateway},
			tries:      2,
			wantStatus: http.StatusBadGateway,
			wantCalls:  2,
		},
		"client errors are permanent": {
			statuses:   []int{http.StatusNotFound},
			tries:      5,
			wantStatus: http.StatusNotFound,
			wantCalls:  1,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				testutil.AssertEqual(t, r.Header.Get("User-Agent"), version.UserAgent())
				n := int(calls.Add(1)) - 1
				w.WriteHeader(tc.statuses[min(n, len(tc.statuses)-1)])
			}))
			t.Cleanup(ts.Close)

			err := request.Get(t.Context(), request.Params{
				URL:     ts.URL,
				Tries:   tc.tries,
				BackOff: &backoff.ZeroBackOff{},
			})
			testutil.AssertEqual(t, calls.Load(), tc.wantCalls)
			if tc.wantStatus == 0 {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			var se *request.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("want *request.StatusError, got %v", err)
			}
			testutil.AssertEqual(t, se.StatusCode, tc.wantStatus)
		})
	}
}

func TestCanceled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := request.Get(ctx, request.Params{URL: ts.URL, Tries: 3, BackOff: &backoff.ZeroBackOff{}})
	if err == nil {
		t.Fatal("want error")
	}
	if calls.Load() > 1 {
		t.Fatalf("canceled request retried %d times", calls.Load())
	}
}
