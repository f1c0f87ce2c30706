// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package filelock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/delimakpm/delimabot/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func alive(int) bool { return true }

func TestPathFor(t *testing.T) {
	t.Parallel()

	a := PathFor("/tmp", "123:secret-token")
	b := PathFor("/tmp", "123:secret-token")
	c := PathFor("/tmp", "456:other-token")

	testutil.AssertEqual(t, a, b)
	if a == c {
		t.Fatalf("different keys map to the same path %q", a)
	}
	if strings.Contains(a, "secret") {
		t.Fatalf("lock path %q leaks the key", a)
	}
	testutil.AssertEqual(t, filepath.Dir(a), "/tmp")
}

func TestAcquireExclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")

	const callers = 8
	var (
		wg      sync.WaitGroup
		won     atomic.Int32
		refused atomic.Int32
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Real clock: a loser may read the winner's file before the record is
			// written, and then its modification time must look fresh.
			l := New(path, Options{PID: 1000 + i, ProcessAlive: alive})
			err := l.Acquire()
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrAlreadyLocked):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, won.Load(), int32(1))
	testutil.AssertEqual(t, refused.Load(), int32(callers-1))
}

func TestAcquireWritesHolder(t *testing.T) {
	t.Parallel()

	clock := newClock()
	path := filepath.Join(t.TempDir(), "bot.lock")
	l := New(path, Options{PID: 4242, Now: clock.Now, ProcessAlive: alive})
	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, l.Held(), true)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"pid", "acquired_at", "refreshed_at"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("lock record is missing %q: %s", key, b)
		}
	}

	h, err := ReadHolder(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, h.PID, 4242)
	testutil.AssertEqual(t, h.AcquiredAt.Equal(clock.Now()), true)
}

func TestAcquireHeldError(t *testing.T) {
	t.Parallel()

	clock := newClock()
	path := filepath.Join(t.TempDir(), "bot.lock")
	first := New(path, Options{PID: 1, Now: clock.Now, ProcessAlive: alive})
	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}

	second := New(path, Options{PID: 2, Now: clock.Now, ProcessAlive: alive})
	err := second.Acquire()
	var he *HeldError
	if !errors.As(err, &he) {
		t.Fatalf("want *HeldError, got %v", err)
	}
	testutil.AssertEqual(t, he.Holder.PID, 1)
	testutil.AssertErrorIs(t, err, ErrAlreadyLocked)
	testutil.AssertEqual(t, second.Held(), false)
}

func TestAcquireReclaims(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		advance   time.Duration
		holderDie bool
		wantErr   error
	}{
		"fresh and alive": {
			advance: 30 * time.Second,
			wantErr: ErrAlreadyLocked,
		},
		"stale": {
			advance: DefaultStaleAfter + time.Second,
		},
		"holder process gone": {
			advance:   time.Second,
			holderDie: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			clock := newClock()
			path := filepath.Join(t.TempDir(), "bot.lock")

			old := New(path, Options{PID: 1, Now: clock.Now, ProcessAlive: alive})
			if err := old.Acquire(); err != nil {
				t.Fatal(err)
			}
			clock.Advance(tc.advance)

			processAlive := func(pid int) bool { return !(tc.holderDie && pid == 1) }
			fresh := New(path, Options{PID: 2, Now: clock.Now, ProcessAlive: processAlive})
			err := fresh.Acquire()
			if tc.wantErr != nil {
				testutil.AssertErrorIs(t, err, tc.wantErr)
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			h, err := ReadHolder(path)
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, h.PID, 2)

			// The old holder notices on its next refresh.
			testutil.AssertErrorIs(t, old.Refresh(), ErrLost)
			testutil.AssertEqual(t, old.Held(), false)
		})
	}
}

func TestAcquireReclaimIsSerialized(t *testing.T) {
	t.Parallel()

	const deadPID = 999999
	path := filepath.Join(t.TempDir(), "bot.lock")
	now := time.Now()
	b, err := json.Marshal(Holder{PID: deadPID, AcquiredAt: now, RefreshedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	notDead := func(pid int) bool { return pid != deadPID }
	other := New(path, Options{PID: 100, ProcessAlive: notDead})
	otherErr := make(chan error, 1)

	var once sync.Once
	l := New(path, Options{PID: 200, ProcessAlive: func(pid int) bool {
		// Another caller tries to reclaim the same abandoned file while this
		// one is deciding that its holder is gone.
		once.Do(func() {
			go func() { otherErr <- other.Acquire() }()
			select {
			case err := <-otherErr:
				t.Errorf("concurrent Acquire returned %v in the middle of a reclaim", err)
				otherErr <- err
			case <-time.After(100 * time.Millisecond):
			}
		})
		return notDead(pid)
	}})

	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-otherErr:
		testutil.AssertErrorIs(t, err, ErrAlreadyLocked)
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent Acquire didn't return")
	}
	testutil.AssertEqual(t, l.Held(), true)
	testutil.AssertEqual(t, other.Held(), false)

	h, err := ReadHolder(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, h.PID, 200)

	if _, err := os.Stat(l.GuardPath()); err != nil {
		t.Fatalf("guard file: %v", err)
	}
}

func TestAcquireMalformedRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	clock := newClock() // One hour after mtime.
	l := New(path, Options{PID: 7, Now: clock.Now, ProcessAlive: alive})
	if err := l.Acquire(); err != nil {
		t.Fatalf("malformed old lock should be reclaimed: %v", err)
	}

	// A malformed but recent record is respected.
	path2 := filepath.Join(t.TempDir(), "bot.lock")
	if err := os.WriteFile(path2, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	recent := New(path2, Options{PID: 8, ProcessAlive: alive})
	testutil.AssertErrorIs(t, recent.Acquire(), ErrAlreadyLocked)
}

func TestReleaseThenAcquire(t *testing.T) {
	t.Parallel()

	clock := newClock()
	path := filepath.Join(t.TempDir(), "bot.lock")

	first := New(path, Options{PID: 1, Now: clock.Now, ProcessAlive: alive})
	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	// Release is idempotent.
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock file still exists after Release: %v", err)
	}

	second := New(path, Options{PID: 2, Now: clock.Now, ProcessAlive: alive})
	if err := second.Acquire(); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	clock := newClock()
	path := filepath.Join(t.TempDir(), "bot.lock")
	l := New(path, Options{PID: 1, Now: clock.Now, ProcessAlive: alive})

	testutil.AssertErrorIs(t, l.Refresh(), ErrLost)

	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}

	// Keep refreshing well past the staleness threshold.
	for range 5 {
		clock.Advance(20 * time.Second)
		if err := l.Refresh(); err != nil {
			t.Fatal(err)
		}
	}

	h, err := ReadHolder(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, h.RefreshedAt.Equal(clock.Now()), true)

	// A refreshed lock is not reclaimable even though acquisition was long ago.
	other := New(path, Options{PID: 2, Now: clock.Now, ProcessAlive: alive})
	testutil.AssertErrorIs(t, other.Acquire(), ErrAlreadyLocked)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) > 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestRefreshRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")
	l := New(path, Options{PID: 1, ProcessAlive: alive})
	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	testutil.AssertErrorIs(t, l.Refresh(), ErrLost)
	testutil.AssertEqual(t, l.Held(), false)
}
