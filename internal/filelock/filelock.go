// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock provides an exclusive lock file that records its holder
// and can be reclaimed once the holder is gone or the lock goes stale.
//
// The lock is a plain file created with O_EXCL, so it works across processes
// on one host that share the lock directory. A crashed holder leaves the file
// behind, and the next process reclaims it when the holder's PID no longer
// exists or the record is older than the staleness threshold. A live holder
// keeps the record fresh with [Lock.Refresh].
//
// Reclaiming and refreshing read the record and then replace the file, so
// they run under an advisory lock on a sibling guard file. The lock file
// itself is never flocked: it has to outlive a crashed holder.
package filelock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/delimakpm/delimabot/internal/atomicio"
)

// DefaultStaleAfter is the age after which a lock record is presumed abandoned.
const DefaultStaleAfter = 60 * time.Second

var (
	// ErrAlreadyLocked indicates the lock is currently held by another live
	// holder.
	ErrAlreadyLocked = errors.New("already locked")
	// ErrLost indicates that the lock file no longer names this holder.
	ErrLost = errors.New("lock lost")
)

// Holder is the record stored in the lock file.
type Holder struct {
	PID         int       `json:"pid"`
	AcquiredAt  time.Time `json:"acquired_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// LastSeen returns the most recent time the holder proved to be alive.
func (h Holder) LastSeen() time.Time {
	if h.RefreshedAt.After(h.AcquiredAt) {
		return h.RefreshedAt
	}
	return h.AcquiredAt
}

func (h Holder) same(other Holder) bool {
	return h.PID == other.PID && h.AcquiredAt.Equal(other.AcquiredAt)
}

// HeldError is returned by [Lock.Acquire] when a live holder owns the lock.
type HeldError struct {
	Path   string
	Holder Holder
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: held by pid %d since %s", e.Path, e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error { return ErrAlreadyLocked }

// Options configure a [Lock]. Zero values select defaults.
type Options struct {
	// StaleAfter is the staleness threshold. Defaults to DefaultStaleAfter.
	StaleAfter time.Duration
	// PID is recorded as the holder. Defaults to os.Getpid().
	PID int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// ProcessAlive reports whether a process exists. Defaults to probing the
	// process with signal 0.
	ProcessAlive func(pid int) bool
}

// Lock is a lock file handle. Methods of Lock are safe for concurrent use.
type Lock struct {
	path string
	opts Options

	mu     sync.Mutex
	held   bool
	holder Holder
}

// PathFor returns the lock file path in dir for the identity key. The key is
// hashed, so secrets such as access tokens never appear on disk.
func PathFor(dir, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(dir, "delimabot-"+hex.EncodeToString(sum[:8])+".lock")
}

// New returns a Lock for path. It doesn't touch the file system.
func New(path string, opts Options) *Lock {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProcessAlive == nil {
		opts.ProcessAlive = processAlive
	}
	return &Lock{path: path, opts: opts}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Held reports whether this handle believes it holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquire creates the lock file and records this holder in it.
//
// If the file already exists and its holder is abandoned (the record is older
// than the staleness threshold or the holder process doesn't exist), the file
// is removed and creation is retried once. If the holder is alive, Acquire
// returns a [*HeldError]. Any other error means the lock was not acquired.
//
// Acquire runs under the guard (see [Lock.GuardPath]), so concurrent callers
// can't both decide a holder is abandoned and each remove the other's fresh
// lock file.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	return l.guarded(l.acquire)
}

func (l *Lock) acquire() error {
	for attempt := 0; ; attempt++ {
		err := l.create()
		if err == nil {
			l.held = true
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		holder, err := ReadHolder(l.path)
		if errors.Is(err, fs.ErrNotExist) && attempt == 0 {
			// Released between our create and read.
			continue
		}
		if err != nil {
			return fmt.Errorf("reading lock file: %w", err)
		}

		if attempt > 0 || !l.abandoned(holder) {
			return &HeldError{Path: l.path, Holder: holder}
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing abandoned lock file: %w", err)
		}
	}
}

// GuardPath returns the path of the guard file. It holds no data: Acquire
// and Refresh take an exclusive advisory lock on it around reading the
// holder record and replacing the lock file. It is left in place after
// Release, because removing it would let two processes lock different files.
func (l *Lock) GuardPath() string { return l.path + ".guard" }

func (l *Lock) guarded(f func() error) error {
	g, err := os.OpenFile(l.GuardPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening guard file: %w", err)
	}
	defer g.Close()
	if err := lockFile(g); err != nil {
		return fmt.Errorf("locking guard file: %w", err)
	}
	defer unlockFile(g)
	return f()
}

func (l *Lock) abandoned(h Holder) bool {
	if l.opts.Now().Sub(h.LastSeen()) > l.opts.StaleAfter {
		return true
	}
	return h.PID > 0 && !l.opts.ProcessAlive(h.PID)
}

func (l *Lock) create() (err error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(l.path)
		}
	}()

	now := l.opts.Now()
	h := Holder{PID: l.opts.PID, AcquiredAt: now, RefreshedAt: now}
	b, err := json.Marshal(h)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	l.holder = h
	return nil
}

// Release removes the lock file unconditionally. Removing a file that
// doesn't exist is not an error, so Release is safe to call on any exit path
// and more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Refresh updates the refresh timestamp in the lock file so the lock doesn't
// go stale while its holder is alive. It returns an error wrapping [ErrLost]
// if the lock is not held or the file no longer names this holder.
func (l *Lock) Refresh() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrLost
	}
	return l.guarded(l.refresh)
}

func (l *Lock) refresh() error {
	current, err := ReadHolder(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.held = false
		return fmt.Errorf("%w: lock file was removed", ErrLost)
	}
	if err != nil {
		return fmt.Errorf("reading lock file: %w", err)
	}
	if !current.same(l.holder) {
		l.held = false
		return fmt.Errorf("%w: now held by pid %d", ErrLost, current.PID)
	}

	h := l.holder
	h.RefreshedAt = l.opts.Now()
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := atomicio.WriteFile(l.path, b, 0o644); err != nil {
		return fmt.Errorf("refreshing lock file: %w", err)
	}
	l.holder = h
	return nil
}

// ReadHolder reads the holder record from the lock file at path. If the file
// exists but doesn't contain a valid record (for example, its writer crashed
// mid-write), the file's modification time is used as the acquisition time
// and PID is zero.
func ReadHolder(path string) (Holder, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if err := json.Unmarshal(b, &h); err == nil && !h.AcquiredAt.IsZero() {
		return h, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Holder{}, err
	}
	return Holder{AcquiredAt: fi.ModTime()}, nil
}
