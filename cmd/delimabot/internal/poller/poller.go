// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package poller implements the bot's availability loop: it owns the instance
// lock, receives updates from the messaging backend and recovers from backend
// failures.
//
// A Poller moves through these states:
//
//	Idle -> Connecting       after the instance lock is acquired
//	Connecting -> Receiving  after the backend accepts the session
//	Receiving -> Backoff     on a conflict or a transport error
//	Backoff -> Connecting    after the backoff delay
//	any -> Terminated        on cancellation, a fatal error, an exhausted
//	                         error budget or a lost lock
//
// Updates are handled one at a time, in the order they were delivered.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/delimakpm/delimabot/cmd/delimabot/internal/messaging"
	"github.com/delimakpm/delimabot/internal/filelock"
	"github.com/delimakpm/delimabot/internal/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

var (
	// ErrLockNotAcquired is returned by Run when another instance holds the
	// instance lock.
	ErrLockNotAcquired = errors.New("instance lock not acquired")
	// ErrBudgetExhausted is returned by Run when too many consecutive
	// sessions failed.
	ErrBudgetExhausted = errors.New("error budget exhausted")
)

// State is a session state.
type State int32

// Session states.
const (
	Idle State = iota
	Connecting
	Receiving
	Backoff
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Receiving:
		return "receiving"
	case Backoff:
		return "backoff"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Locker is an instance lock.
type Locker interface {
	Acquire() error
	Release() error
	// Refresh keeps the lock from going stale. It returns an error wrapping
	// filelock.ErrLost when the lock was taken over.
	Refresh() error
}

// Handler turns updates into replies.
type Handler interface {
	Handle(ctx context.Context, u messaging.Update) (messaging.Reply, error)
	// Apology returns the reply sent when handling or answering u fails.
	Apology(u messaging.Update) messaging.Reply
}

// Config configures a [Poller]. Zero durations and counts select defaults.
type Config struct {
	Backend messaging.Backend // required
	Handler Handler           // required
	Lock    Locker            // required

	// Logger defaults to the logger from the context passed to Run.
	Logger *slog.Logger
	// Metrics defaults to unregistered metrics.
	Metrics *Metrics

	// PollTimeout is the long-poll wait of a single fetch. Default 30s.
	PollTimeout time.Duration
	// ErrorBudget is how many consecutive session failures are tolerated.
	// Default 5.
	ErrorBudget int
	// BaseDelay is the first delay after a transport error. Default 5s.
	BaseDelay time.Duration
	// MaxDelay caps all backoff delays. Default 60s.
	MaxDelay time.Duration
	// ConflictDelay is the first delay after a conflict. Default 5s.
	ConflictDelay time.Duration
	// HealthyAfter is how long a session must keep receiving before backoff
	// delays reset. Default 1m.
	HealthyAfter time.Duration
	// SendTimeout bounds a single send. Default 10s.
	SendTimeout time.Duration
	// SendAttempts limits resends of a rate-limited reply. Default 5.
	SendAttempts int
	// RefreshInterval is how often the instance lock is refreshed.
	// Default 20s.
	RefreshInterval time.Duration

	// OnStateChange, if set, is called on every state transition from the
	// goroutine running Run.
	OnStateChange func(from, to State)

	// Now and Sleep are used in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) bool
}

func (c *Config) setDefaults() {
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.ErrorBudget <= 0 {
		c.ErrorBudget = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.ConflictDelay <= 0 {
		c.ConflictDelay = 5 * time.Second
	}
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 5
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 20 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
}

// Poller runs the availability loop. Create it with [New].
type Poller struct {
	c   Config
	log *slog.Logger

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once
	running   atomic.Bool

	// Touched only by the goroutine running Run.
	offset   int
	failures int
	conflict *backoff.ExponentialBackOff
	generic  *backoff.ExponentialBackOff
}

// New returns a new Poller.
func New(c Config) *Poller {
	c.setDefaults()
	p := &Poller{
		c:        c,
		ready:    make(chan struct{}),
		conflict: newBackOff(c.ConflictDelay, c.MaxDelay),
		generic:  newBackOff(c.BaseDelay, c.MaxDelay),
	}
	c.Metrics.State.Set(float64(Idle))
	return p
}

func newBackOff(initial, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return b
}

// State returns the current state. It is safe to call concurrently with Run.
func (p *Poller) State() State { return State(p.state.Load()) }

// Ready returns a channel that is closed once the instance lock is acquired.
func (p *Poller) Ready() <-chan struct{} { return p.ready }

var errAlreadyRunning = errors.New("poller: Run called more than once")

// Run acquires the instance lock and receives updates until ctx is canceled
// or an unrecoverable error occurs. It returns nil on cancellation.
//
// Run can be called only once.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	p.log = p.c.Logger
	if p.log == nil {
		p.log = logger.Get(ctx).Logger
	}

	if err := p.c.Lock.Acquire(); err != nil {
		p.c.Metrics.Errors.WithLabelValues(classLock).Inc()
		p.setState(Terminated)
		return fmt.Errorf("%w: %w", ErrLockNotAcquired, err)
	}
	p.log.Info("instance lock acquired")
	p.readyOnce.Do(func() { close(p.ready) })

	runCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.keepLock(runCtx, cancel)
	}()

	err := p.loop(runCtx)
	cancel(nil)
	wg.Wait()
	p.setState(Terminated)

	if cause := context.Cause(runCtx); errors.Is(cause, filelock.ErrLost) {
		// Someone else owns the lock file now, so it is not ours to remove.
		return fmt.Errorf("instance lock lost: %w", cause)
	}
	if rerr := p.c.Lock.Release(); rerr != nil {
		p.log.Error("releasing instance lock failed", "error", rerr)
	} else {
		p.log.Info("instance lock released")
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// keepLock refreshes the instance lock until ctx is done. It cancels the run
// if the lock is lost.
func (p *Poller) keepLock(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(p.c.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.c.Lock.Refresh()
			if err == nil {
				continue
			}
			p.c.Metrics.Errors.WithLabelValues(classLock).Inc()
			if errors.Is(err, filelock.ErrLost) {
				p.log.Error("instance lock lost, stopping", "class", classLock, "error", err)
				cancel(err)
				return
			}
			p.log.Warn("refreshing instance lock failed", "class", classLock, "error", err)
		}
	}
}

// loop runs sessions until ctx is done or a session fails for good.
func (p *Poller) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		session := uuid.NewString()
		log := p.log.With("session", session)

		p.setState(Connecting)
		err := p.c.Backend.Connect(ctx)
		if err == nil {
			p.c.Metrics.Sessions.Inc()
			p.setState(Receiving)
			log.Info("receiving updates", "offset", p.offset)
			err = p.receive(ctx, log)
		}
		if ctx.Err() != nil {
			return nil
		}

		class := classify(err)
		p.c.Metrics.Errors.WithLabelValues(class).Inc()
		if class == classUnauthorized {
			log.Error("backend rejected the credentials", "class", class, "error", err)
			return fmt.Errorf("session %s: %w", session, err)
		}

		p.failures++
		if p.failures > p.c.ErrorBudget {
			log.Error("error budget exhausted", "class", class, "attempt", p.failures, "error", err)
			return fmt.Errorf("%w after %d consecutive failures: %w", ErrBudgetExhausted, p.failures, err)
		}

		delay := p.delay(class, err)
		p.c.Metrics.Backoff.Observe(delay.Seconds())
		p.setState(Backoff)
		log.Warn("session failed, backing off",
			"class", class,
			"attempt", p.failures,
			"budget", p.c.ErrorBudget,
			"delay", delay,
			"error", err,
		)
		if !p.c.Sleep(ctx, delay) {
			return nil
		}
	}
}

func classify(err error) string {
	var rl *messaging.RateLimitError
	switch {
	case errors.Is(err, messaging.ErrUnauthorized):
		return classUnauthorized
	case errors.Is(err, messaging.ErrConflict):
		return classConflict
	case errors.As(err, &rl):
		return classRateLimit
	}
	return classGeneric
}

func (p *Poller) delay(class string, err error) time.Duration {
	switch class {
	case classConflict:
		return p.conflict.NextBackOff()
	case classRateLimit:
		var rl *messaging.RateLimitError
		errors.As(err, &rl)
		return rl.RetryAfter
	}
	return p.generic.NextBackOff()
}

// receive fetches and dispatches updates until a fetch fails.
func (p *Poller) receive(ctx context.Context, log *slog.Logger) error {
	since := p.c.Now()
	healthy := false

	for {
		updates, err := p.c.Backend.Fetch(ctx, p.offset, p.c.PollTimeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			var rl *messaging.RateLimitError
			if !errors.As(err, &rl) {
				return err
			}
			p.c.Metrics.Errors.WithLabelValues(classRateLimit).Inc()
			log.Warn("fetch rate limited", "class", classRateLimit, "delay", rl.RetryAfter, "error", err)
			if !p.c.Sleep(ctx, rl.RetryAfter) {
				return ctx.Err()
			}
			continue
		}

		p.failures = 0
		if !healthy && p.c.Now().Sub(since) >= p.c.HealthyAfter {
			healthy = true
			p.conflict.Reset()
			p.generic.Reset()
			log.Debug("session healthy, backoff delays reset")
		}

		for _, u := range updates {
			if u.ID >= p.offset {
				p.offset = u.ID + 1
			}
			p.dispatch(ctx, log, u)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// dispatch answers a single update. Failures are answered with the apology
// and never escape.
func (p *Poller) dispatch(ctx context.Context, log *slog.Logger, u messaging.Update) {
	p.c.Metrics.Updates.Inc()
	if u.ChatID == 0 {
		// Not a message, nothing to answer.
		return
	}
	log = log.With("update_id", u.ID, "chat_id", u.ChatID)

	result := resultOK
	r, err := p.handle(logger.Put(ctx, &logger.Logger{Logger: log, Level: logger.Get(ctx).Level}), u)
	if err != nil {
		p.c.Metrics.Errors.WithLabelValues(classHandler).Inc()
		log.Error("handling update failed", "class", classHandler, "error", err)
		r, result = p.c.Handler.Apology(u), resultApology
	}

	if err := p.send(ctx, log, r); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.c.Metrics.Errors.WithLabelValues(classSend).Inc()
		log.Error("sending reply failed", "class", classSend, "error", err)
		if result == resultApology {
			result = resultFailed
		} else if err := p.send(ctx, log, p.c.Handler.Apology(u)); err != nil {
			log.Error("sending apology failed", "class", classSend, "error", err)
			result = resultFailed
		} else {
			result = resultApology
		}
	}
	p.c.Metrics.Replies.WithLabelValues(result).Inc()
}

func (p *Poller) handle(ctx context.Context, u messaging.Update) (r messaging.Reply, err error) {
	defer func() {
		if v := recover(); v != nil {
			logger.Get(ctx).Error("handler panicked", "panic", v, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panicked: %v", v)
		}
	}()
	return p.c.Handler.Handle(ctx, u)
}

// send sends r, waiting out rate limits up to SendAttempts times.
func (p *Poller) send(ctx context.Context, log *slog.Logger, r messaging.Reply) error {
	for attempt := 1; ; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, p.c.SendTimeout)
		err := p.c.Backend.Send(sctx, r)
		cancel()
		if err == nil {
			return nil
		}

		var rl *messaging.RateLimitError
		if !errors.As(err, &rl) || attempt >= p.c.SendAttempts {
			return err
		}
		p.c.Metrics.Errors.WithLabelValues(classRateLimit).Inc()
		log.Warn("reply rate limited, resending", "class", classRateLimit, "attempt", attempt, "delay", rl.RetryAfter)
		if !p.c.Sleep(ctx, rl.RetryAfter) {
			return ctx.Err()
		}
	}
}

func (p *Poller) setState(to State) {
	from := State(p.state.Swap(int32(to)))
	if from == to {
		return
	}
	p.c.Metrics.State.Set(float64(to))
	if p.log != nil {
		p.log.Debug("state changed", "from", from.String(), "to", to.String())
	}
	if p.c.OnStateChange != nil {
		p.c.OnStateChange(from, to)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
