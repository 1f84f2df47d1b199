// Package offline is the engine the POS front end talks to. It ties the
// local store, read cache, connectivity monitor, pending queue and one sync
// orchestrator per mutation family together, and implements the
// online-first write path that falls back to the queue.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/posync/internal/cache"
	"github.com/marcus/posync/internal/connectivity"
	"github.com/marcus/posync/internal/db"
	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/queue"
	"github.com/marcus/posync/internal/syncer"
)

// Backend is everything the engine needs from the server.
// *posclient.Client implements it.
type Backend interface {
	cache.Fetcher
	syncer.Submitter
	connectivity.Prober
	CreateSale(ctx context.Context, token string, sale models.Sale) (*models.SaleReceipt, error)
	AddInventoryLine(ctx context.Context, sessionID, token string, line models.InventoryCountLine) (*models.InventoryLineResult, error)
}

// Options configures Open
type Options struct {
	DataDir string
	Backend Backend

	// StartOnline is the connectivity assumed until the first probe or call
	StartOnline    bool
	AttemptTimeout time.Duration
	Backoff        queue.Backoff

	Logger    *slog.Logger
	Now       func() time.Time
	NewToken  func() string
	NewTicker func(time.Duration) syncer.Ticker
	OnSession func(*syncer.SyncSession)
}

// Engine is the offline-first facade
type Engine struct {
	db        *db.DB
	cache     *cache.Cache
	queue     *queue.Queue
	monitor   *connectivity.Monitor
	backend   Backend
	sales     *syncer.Orchestrator
	inventory *syncer.Orchestrator
	timeout   time.Duration
	log       *slog.Logger

	mu        sync.Mutex
	stopProbe context.CancelFunc
	probeDone chan struct{}
	closed    bool
}

// Open opens the local store in opts.DataDir and builds the engine around it
func Open(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("offline: nil backend")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = syncer.DefaultAttemptTimeout
	}

	dbOpts := []db.Option{db.WithClock(opts.Now)}
	if opts.NewToken != nil {
		dbOpts = append(dbOpts, db.WithTokenGenerator(opts.NewToken))
	}
	store, err := db.Open(opts.DataDir, dbOpts...)
	if err != nil {
		return nil, err
	}

	monitor := connectivity.New(opts.StartOnline, log)
	q := queue.New(store, queue.Options{Backoff: opts.Backoff, Now: opts.Now, Logger: log})

	orch := func(name string, kind models.OperationKind) *syncer.Orchestrator {
		return syncer.New(q, opts.Backend, monitor, syncer.Config{
			Name:           name,
			Kinds:          []models.OperationKind{kind},
			AttemptTimeout: opts.AttemptTimeout,
			Logger:         log,
			Now:            opts.Now,
			NewTicker:      opts.NewTicker,
			OnSession:      opts.OnSession,
		})
	}

	return &Engine{
		db:        store,
		cache:     cache.New(store, opts.Backend, cache.Options{Reporter: monitor, Logger: log}),
		queue:     q,
		monitor:   monitor,
		backend:   opts.Backend,
		sales:     orch("sales", models.KindSale),
		inventory: orch("inventory", models.KindInventoryCountLine),
		timeout:   opts.AttemptTimeout,
		log:       log,
	}, nil
}

// --- Reads ---

// Cache exposes the typed catalog readers
func (e *Engine) Cache() *cache.Cache { return e.cache }

// GetCached returns the local snapshot of key without touching the network
func (e *Engine) GetCached(ctx context.Context, key models.CollectionKey) (models.Snapshot, error) {
	return e.cache.GetCached(ctx, key)
}

// Refresh replaces the local snapshot of key with the server copy
func (e *Engine) Refresh(ctx context.Context, key models.CollectionKey) (cache.RefreshResult, error) {
	return e.cache.Refresh(ctx, key)
}

// Load returns the cached snapshot at once and refreshes it in the background
func (e *Engine) Load(ctx context.Context, key models.CollectionKey, onUpdate func(models.Snapshot)) (models.Snapshot, <-chan error, error) {
	return e.cache.Load(ctx, key, onUpdate)
}

// ListCollections describes every cached snapshot
func (e *Engine) ListCollections(ctx context.Context) ([]db.CollectionInfo, error) {
	return e.db.ListCollections(ctx)
}

// --- Writes ---

// Status says where a recorded mutation ended up
type Status string

const (
	StatusSynced       Status = "synced"
	StatusSavedOffline Status = "saved_offline"
)

// SaleResult is returned by RecordSale. Receipt is set when Status is
// StatusSynced.
type SaleResult struct {
	Status  Status
	Token   string
	Receipt *models.SaleReceipt
}

// InventoryResult is returned by RecordInventoryLine
type InventoryResult struct {
	Status Status
	Token  string
	Result *models.InventoryLineResult
}

// RecordSale posts sale when online and queues it under the same token when
// the backend cannot be reached or answers with a server error. A rejected
// sale is returned as an error and never queued.
func (e *Engine) RecordSale(ctx context.Context, sale models.Sale) (SaleResult, error) {
	if err := sale.Validate(); err != nil {
		return SaleResult{}, err
	}
	token := e.db.NewToken()

	if e.monitor.IsOnline() {
		receipt, err := callOnline(ctx, e, func(ctx context.Context) (*models.SaleReceipt, error) {
			return e.backend.CreateSale(ctx, token, sale)
		})
		if err == nil {
			return SaleResult{Status: StatusSynced, Token: token, Receipt: receipt}, nil
		}
		if faults.IsRejected(err) {
			return SaleResult{}, err
		}
		e.log.Info("sale not confirmed, saving offline", "token", token, "err", err)
	}

	if _, err := e.EnqueueOfflineSale(context.WithoutCancel(ctx), sale, token); err != nil {
		return SaleResult{}, err
	}
	return SaleResult{Status: StatusSavedOffline, Token: token}, nil
}

// RecordInventoryLine posts a count line the same way RecordSale posts a sale.
// While an earlier line for the same session and product is queued the new
// one is queued behind it without trying the network.
func (e *Engine) RecordInventoryLine(ctx context.Context, sessionID string, line models.InventoryCountLine) (InventoryResult, error) {
	if sessionID == "" {
		return InventoryResult{}, fmt.Errorf("%w: no session", models.ErrInvalidCountLine)
	}
	if err := line.Validate(); err != nil {
		return InventoryResult{}, err
	}
	token := e.db.NewToken()

	behind, err := e.queuedAhead(ctx, (&models.InventoryLinePayload{SessionID: sessionID, Line: line}).CausalKey())
	if err != nil {
		return InventoryResult{}, err
	}
	if behind {
		e.log.Info("earlier count of this product still queued, saving offline", "token", token, "session", sessionID, "product", line.ProductID)
	}

	if e.monitor.IsOnline() && !behind {
		res, err := callOnline(ctx, e, func(ctx context.Context) (*models.InventoryLineResult, error) {
			return e.backend.AddInventoryLine(ctx, sessionID, token, line)
		})
		if err == nil {
			return InventoryResult{Status: StatusSynced, Token: token, Result: res}, nil
		}
		if faults.IsRejected(err) {
			return InventoryResult{}, err
		}
		e.log.Info("count line not confirmed, saving offline", "token", token, "session", sessionID, "err", err)
	}

	if _, err := e.EnqueueOfflineInventoryItem(context.WithoutCancel(ctx), sessionID, line, token); err != nil {
		return InventoryResult{}, err
	}
	return InventoryResult{Status: StatusSavedOffline, Token: token}, nil
}

// queuedAhead reports whether a queued count line has causal key key. A new
// line for the same product must queue behind it to keep counted order.
// Rejected lines do not count.
func (e *Engine) queuedAhead(ctx context.Context, key string) (bool, error) {
	ops, err := e.queue.List(ctx, models.KindInventoryCountLine)
	if err != nil {
		return false, err
	}
	for _, op := range ops {
		if op.NeedsAttention() {
			continue
		}
		if p, err := op.Decode(); err == nil && p.CausalKey() == key {
			return true, nil
		}
	}
	return false, nil
}

// callOnline runs one online attempt under the attempt timeout and feeds its
// outcome to the connectivity monitor
func callOnline[T any](ctx context.Context, e *Engine, call func(context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	v, err := call(attemptCtx)
	e.monitor.Report(err)
	return v, err
}

// EnqueueOfflineSale queues sale without trying the network. An empty token
// is minted by the store.
func (e *Engine) EnqueueOfflineSale(ctx context.Context, sale models.Sale, token string) (models.PendingOperation, error) {
	if err := sale.Validate(); err != nil {
		return models.PendingOperation{}, err
	}
	return e.queue.Enqueue(ctx, &models.SalePayload{Sale: sale}, token)
}

// EnqueueOfflineInventoryItem queues a count line without trying the network
func (e *Engine) EnqueueOfflineInventoryItem(ctx context.Context, sessionID string, line models.InventoryCountLine, token string) (models.PendingOperation, error) {
	if err := line.Validate(); err != nil {
		return models.PendingOperation{}, err
	}
	return e.queue.Enqueue(ctx, &models.InventoryLinePayload{SessionID: sessionID, Line: line}, token)
}

// --- Queue ---

// CountPending counts stored operations of kinds, all kinds when none given
func (e *Engine) CountPending(ctx context.Context, kinds ...models.OperationKind) (int, error) {
	return e.queue.Count(ctx, kinds...)
}

// ListPending lists stored operations oldest first
func (e *Engine) ListPending(ctx context.Context, kinds ...models.OperationKind) ([]models.PendingOperation, error) {
	return e.queue.List(ctx, kinds...)
}

// NeedsAttention lists operations the server rejected
func (e *Engine) NeedsAttention(ctx context.Context) ([]models.PendingOperation, error) {
	return e.queue.NeedsAttention(ctx)
}

// GetPending returns one stored operation
func (e *Engine) GetPending(ctx context.Context, token string) (models.PendingOperation, error) {
	return e.queue.Get(ctx, token)
}

// Requeue puts a rejected operation back in the queue
func (e *Engine) Requeue(ctx context.Context, token string) error {
	return e.queue.Requeue(ctx, token)
}

// Discard deletes a stored operation the user settled by hand
func (e *Engine) Discard(ctx context.Context, token string) error {
	return e.queue.Discard(ctx, token)
}

// --- Connectivity ---

// IsOnline reports the monitor's current belief
func (e *Engine) IsOnline() bool { return e.monitor.IsOnline() }

// SetOnline overrides the connectivity state, e.g. from an OS network event
func (e *Engine) SetOnline(online bool) { e.monitor.SetOnline(online) }

// OnConnectivityChange registers cb for every transition. cb must not call
// SetOnline.
func (e *Engine) OnConnectivityChange(cb func(online bool)) (unsubscribe func()) {
	return e.monitor.OnChange(cb)
}

// Probe checks the backend once and updates the connectivity state
func (e *Engine) Probe(ctx context.Context) error {
	err := e.backend.Probe(ctx)
	e.monitor.Report(err)
	return err
}

// WatchConnectivity probes the backend every interval until Close. It
// reports false when a watcher is already running.
func (e *Engine) WatchConnectivity(interval time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.stopProbe != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.stopProbe = cancel
	e.probeDone = done
	go func() {
		defer close(done)
		e.monitor.Run(ctx, e.backend, interval)
	}()
	return true
}

// --- Sync ---

// SyncReport holds the result of one SyncAll per mutation family
type SyncReport struct {
	Sales     *syncer.SyncSession
	Inventory *syncer.SyncSession
}

// Sessions returns the non-nil sessions of the report
func (r SyncReport) Sessions() []*syncer.SyncSession {
	var out []*syncer.SyncSession
	for _, s := range []*syncer.SyncSession{r.Sales, r.Inventory} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// SyncAll drains both queues. The families drain concurrently; each keeps
// its own order.
func (e *Engine) SyncAll(ctx context.Context) (SyncReport, error) {
	var (
		report           SyncReport
		salesErr, invErr error
		wg               sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Sales, salesErr = e.sales.SyncAll(ctx)
	}()
	go func() {
		defer wg.Done()
		report.Inventory, invErr = e.inventory.SyncAll(ctx)
	}()
	wg.Wait()
	return report, errors.Join(salesErr, invErr)
}

// StartAutoSync starts the timer of both orchestrators. It reports false
// when auto-sync was already running.
func (e *Engine) StartAutoSync(interval time.Duration) bool {
	a := e.sales.StartAutoSync(interval)
	b := e.inventory.StartAutoSync(interval)
	return a || b
}

// StopAutoSync stops both timers without interrupting running drains
func (e *Engine) StopAutoSync() {
	e.sales.StopAutoSync()
	e.inventory.StopAutoSync()
}

// LastSessions returns the most recent drain of each family
func (e *Engine) LastSessions() SyncReport {
	return SyncReport{Sales: e.sales.LastSession(), Inventory: e.inventory.LastSession()}
}

// Close stops background work, waits for running drains and closes the store
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop, done := e.stopProbe, e.probeDone
	e.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	e.sales.Close()
	e.inventory.Close()
	return e.db.Close()
}
