// Package syncer drains the pending operation queue to the backend. Each
// Orchestrator owns one mutation family, its auto-sync timer and its last
// drain result.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/queue"
	"golang.org/x/sync/singleflight"
)

// DefaultAttemptTimeout bounds a single submission
const DefaultAttemptTimeout = 10 * time.Second

// ErrClosed is returned by SyncAll after Close
var ErrClosed = errors.New("orchestrator closed")

// Submitter sends one operation to the backend under its token.
// *posclient.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, op models.PendingOperation) error
}

// SubmitterFunc adapts a function to Submitter
type SubmitterFunc func(ctx context.Context, op models.PendingOperation) error

func (f SubmitterFunc) Submit(ctx context.Context, op models.PendingOperation) error { return f(ctx, op) }

// Connectivity is the part of the connectivity monitor the orchestrator uses
type Connectivity interface {
	IsOnline() bool
	Report(err error)
	OnReconnect(cb func()) (unsubscribe func())
}

// Ticker is the auto-sync timer
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker
func NewStdTicker(d time.Duration) Ticker { return stdTicker{time.NewTicker(d)} }

// Trigger records what started a drain
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerReconnect Trigger = "reconnect"
	TriggerTimer     Trigger = "timer"
)

// SyncSession is the result of one drain. Token lists are in the order the
// operations were considered.
type SyncSession struct {
	Name       string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time

	Attempted []string
	Succeeded []string
	Retryable []string
	Terminal  []string
	// Deferred were left QUEUED without an attempt: behind an unsent
	// operation with the same causal key, or after the drain stopped early.
	Deferred []string

	// WentOffline is set when a network failure ended the drain
	WentOffline bool
}

// Config configures an Orchestrator
type Config struct {
	// Name labels logs and sessions, e.g. "sales"
	Name  string
	Kinds []models.OperationKind

	AttemptTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
	NewTicker      func(d time.Duration) Ticker

	// OnSession is called after every drain with its result, before joined
	// callers return. It must not start a drain itself.
	OnSession func(*SyncSession)
}

// drainKey is the single flight key: an orchestrator runs one drain at a time
const drainKey = "drain"

// Orchestrator drains the QUEUED operations of its kinds
type Orchestrator struct {
	cfg    Config
	queue  *queue.Queue
	submit Submitter
	conn   Connectivity
	log    *slog.Logger

	flight singleflight.Group

	mu       sync.Mutex
	last     *SyncSession
	ticker   Ticker
	stopTick chan struct{}
	closed   bool

	unsubscribe func()
	bg          sync.WaitGroup
}

// New returns an orchestrator that drains q through submit. A reconnect
// reported by conn starts a drain in the background.
func New(q *queue.Queue, submit Submitter, conn Connectivity, cfg Config) *Orchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewStdTicker
	}
	if cfg.Kinds == nil {
		cfg.Kinds = models.AllKinds
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Name != "" {
		log = log.With("orchestrator", cfg.Name)
	}

	o := &Orchestrator{
		cfg:    cfg,
		queue:  q,
		submit: submit,
		conn:   conn,
		log:    log,
	}
	o.unsubscribe = conn.OnReconnect(o.TriggerOnReconnect)
	return o
}

// SyncAll drains every QUEUED operation, ignoring backoff. If a drain is
// already running the call waits for it and returns its result. When ctx
// ends first SyncAll returns its error at once; the drain finishes the
// operation in hand and defers the rest.
func (o *Orchestrator) SyncAll(ctx context.Context) (*SyncSession, error) {
	return o.drain(ctx, TriggerManual, false)
}

// TriggerOnReconnect starts a drain in the background. It returns at once so
// it can be registered as a connectivity callback.
func (o *Orchestrator) TriggerOnReconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if _, err := o.drain(context.Background(), TriggerReconnect, false); err != nil {
			o.log.Warn("reconnect drain failed", "err", err)
		}
	}()
}

// StartAutoSync drains on every tick of interval while online, honouring
// backoff. It reports false when auto-sync was already running.
func (o *Orchestrator) StartAutoSync(interval time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.ticker != nil {
		return false
	}
	t := o.cfg.NewTicker(interval)
	stop := make(chan struct{})
	o.ticker = t
	o.stopTick = stop

	o.bg.Add(1)
	go o.tickLoop(t, stop)
	o.log.Debug("auto-sync started", "interval", interval)
	return true
}

// StopAutoSync stops the timer. A drain already running finishes.
func (o *Orchestrator) StopAutoSync() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopTimerLocked()
}

func (o *Orchestrator) stopTimerLocked() {
	if o.ticker == nil {
		return
	}
	o.ticker.Stop()
	close(o.stopTick)
	o.ticker = nil
	o.stopTick = nil
	o.log.Debug("auto-sync stopped")
}

// AutoSyncRunning reports whether the timer is active
func (o *Orchestrator) AutoSyncRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ticker != nil
}

func (o *Orchestrator) tickLoop(t Ticker, stop <-chan struct{}) {
	defer o.bg.Done()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if !o.conn.IsOnline() {
				continue
			}
			if _, err := o.drain(context.Background(), TriggerTimer, true); err != nil {
				o.log.Warn("timed drain failed", "err", err)
			}
		}
	}
}

// LastSession returns the result of the most recent finished drain, or nil
func (o *Orchestrator) LastSession() *SyncSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Pending returns how many operations of this orchestrator's kinds are stored
func (o *Orchestrator) Pending(ctx context.Context) (int, error) {
	return o.queue.Count(ctx, o.cfg.Kinds...)
}

// Close stops the timer and reconnect handling, then waits for background
// drains to finish
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopTimerLocked()
	o.mu.Unlock()

	o.unsubscribe()
	o.bg.Wait()
	// A SyncAll caller that gave up waiting leaves its drain running
	<-o.flight.DoChan(drainKey, func() (any, error) { return nil, nil })
}

func (o *Orchestrator) drain(ctx context.Context, trigger Trigger, honorBackoff bool) (*SyncSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.closed && trigger == TriggerManual {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.bg.Add(1)
	o.mu.Unlock()
	defer o.bg.Done()

	ch := o.flight.DoChan(drainKey, func() (any, error) {
		session, err := o.run(ctx, trigger, honorBackoff)
		o.mu.Lock()
		o.last = session
		o.mu.Unlock()
		if o.cfg.OnSession != nil {
			o.cfg.OnSession(session)
		}
		return session, err
	})
	select {
	case res := <-ch:
		session, _ := res.Val.(*SyncSession)
		return session, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run submits ready operations oldest first. ctx is only checked between
// operations; submissions run on a detached context so a caller going away
// never leaves an operation half applied.
func (o *Orchestrator) run(ctx context.Context, trigger Trigger, honorBackoff bool) (*SyncSession, error) {
	work := context.WithoutCancel(ctx)
	s := &SyncSession{
		Name:      o.cfg.Name,
		Trigger:   trigger,
		StartedAt: o.cfg.Now(),
	}
	defer func() { s.FinishedAt = o.cfg.Now() }()

	cands, err := o.queue.Ready(work, o.cfg.Kinds, honorBackoff)
	if err != nil {
		return s, err
	}
	due := dueTokens(cands)
	if len(due) == 0 {
		return s, nil
	}
	o.log.Debug("drain started", "trigger", trigger, "ready", len(due), "waiting", len(cands)-len(due))

	// Causal keys with an earlier operation still unsent. Operations waiting
	// out their backoff block their key before anything is attempted.
	blocked := make(map[string]bool)
	for i, c := range cands {
		op := c.Op
		key := causalKey(op)
		if !c.Due {
			if key != "" {
				blocked[key] = true
			}
			continue
		}
		if ctx.Err() != nil {
			s.Deferred = append(s.Deferred, dueTokens(cands[i:])...)
			break
		}
		if key != "" && blocked[key] {
			s.Deferred = append(s.Deferred, op.Token)
			continue
		}

		res, err := o.attempt(work, op)
		if err != nil {
			s.Deferred = append(s.Deferred, dueTokens(cands[i+1:])...)
			return s, err
		}
		s.Attempted = append(s.Attempted, op.Token)

		switch res.outcome {
		case queue.Acked:
			s.Succeeded = append(s.Succeeded, op.Token)
		case queue.Terminal:
			s.Terminal = append(s.Terminal, op.Token)
		case queue.Retryable:
			s.Retryable = append(s.Retryable, op.Token)
			if key != "" {
				blocked[key] = true
			}
			if faults.IsNetwork(res.err) {
				s.WentOffline = true
				rest := dueTokens(cands[i+1:])
				s.Deferred = append(s.Deferred, rest...)
				o.log.Info("backend unreachable, drain stopped",
					"token", op.Token, "deferred", len(rest))
				return s, nil
			}
		}
	}

	o.log.Info("drain finished", "trigger", trigger,
		"succeeded", len(s.Succeeded), "retryable", len(s.Retryable),
		"terminal", len(s.Terminal), "deferred", len(s.Deferred))
	return s, nil
}

type attemptResult struct {
	outcome queue.Outcome
	err     error // from the submission
}

// attempt moves op through one submission. The returned error is a store
// failure; the submission error travels in the result.
func (o *Orchestrator) attempt(ctx context.Context, op models.PendingOperation) (attemptResult, error) {
	op, err := o.queue.Begin(ctx, op)
	if err != nil {
		return attemptResult{}, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	submitErr := o.submit.Submit(attemptCtx, op)
	cancel()
	o.conn.Report(submitErr)

	outcome, err := o.queue.Complete(ctx, op, submitErr)
	return attemptResult{outcome: outcome, err: submitErr}, err
}

// causalKey returns the ordering key of op. A payload that does not decode
// has none; the submitter rejects it.
func causalKey(op models.PendingOperation) string {
	p, err := op.Decode()
	if err != nil {
		return ""
	}
	return p.CausalKey()
}

// dueTokens returns the tokens of the candidates due for an attempt
func dueTokens(cands []queue.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		if c.Due {
			out = append(out, c.Op.Token)
		}
	}
	return out
}
