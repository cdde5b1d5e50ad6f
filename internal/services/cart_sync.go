package services

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	defaultCartSyncWorkers   = 4
	defaultCartSyncQueueSize = 256
	defaultCartSyncTimeout   = 10 * time.Second

	cartSyncOpUpsert    = "upsert"
	cartSyncOpDelete    = "delete"
	cartSyncOpDeleteAll = "delete_all"
)

var errCartSyncClosed = errors.New("cart sync: adapter closed")

// CartSyncDeps wires the write-behind queue in front of the remote cart store.
type CartSyncDeps struct {
	Carts     repositories.CartRepository
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type cartSyncOp struct {
	op     string
	userID string
	line   domain.CartLine
	key    domain.LineKey
	done   chan error
}

// CartSyncAdapter mirrors cart mutations to the remote store in the background. Writes for one user
// always land on the same worker, so they apply in enqueue order.
type CartSyncAdapter struct {
	carts   repositories.CartRepository
	timeout time.Duration
	logger  func(ctx context.Context, event string, fields map[string]any)

	mu     sync.RWMutex
	closed bool
	queues []chan cartSyncOp
	wg     sync.WaitGroup
}

// NewCartSyncAdapter starts the sync workers.
func NewCartSyncAdapter(deps CartSyncDeps) (*CartSyncAdapter, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart sync: cart repository is required")
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultCartSyncWorkers
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultCartSyncQueueSize
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultCartSyncTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	a := &CartSyncAdapter{
		carts:   deps.Carts,
		timeout: timeout,
		logger:  logger,
		queues:  make([]chan cartSyncOp, workers),
	}
	perWorker := max(1, size/workers)
	for i := range a.queues {
		a.queues[i] = make(chan cartSyncOp, perWorker)
		a.wg.Add(1)
		go a.run(a.queues[i])
	}
	return a, nil
}

// Load reads the remote cart of userID synchronously.
func (a *CartSyncAdapter) Load(ctx context.Context, userID string) ([]domain.CartLine, error) {
	lines, err := a.carts.ListLines(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err, nil, nil)
	}
	return lines, nil
}

// Upsert enqueues a write of line for userID.
func (a *CartSyncAdapter) Upsert(ctx context.Context, userID string, line domain.CartLine) {
	a.enqueue(ctx, cartSyncOp{op: cartSyncOpUpsert, userID: userID, line: line, key: line.Key()})
}

// Delete enqueues removal of the line identified by key.
func (a *CartSyncAdapter) Delete(ctx context.Context, userID string, key domain.LineKey) {
	a.enqueue(ctx, cartSyncOp{op: cartSyncOpDelete, userID: userID, key: key})
}

// DeleteAll enqueues removal of every line of userID.
func (a *CartSyncAdapter) DeleteAll(ctx context.Context, userID string) {
	a.enqueue(ctx, cartSyncOp{op: cartSyncOpDeleteAll, userID: userID})
}

// DeleteAllSync removes every line of userID after the writes already queued for that user and
// waits for the result.
func (a *CartSyncAdapter) DeleteAllSync(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	op := cartSyncOp{op: cartSyncOpDeleteAll, userID: userID, done: make(chan error, 1)}

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return a.carts.DeleteAll(ctx, userID)
	}
	select {
	case a.queues[a.shard(userID)] <- op:
		a.mu.RUnlock()
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *CartSyncAdapter) enqueue(ctx context.Context, op cartSyncOp) {
	op.userID = strings.TrimSpace(op.userID)
	if op.userID == "" {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logFailure(ctx, &SyncFailure{Op: op.op, UserID: op.userID, Err: errCartSyncClosed})
		return
	}
	select {
	case a.queues[a.shard(op.userID)] <- op:
	default:
		a.logger(ctx, "cart.sync.dropped", map[string]any{
			"op":     op.op,
			"userId": op.userID,
			"line":   op.key.String(),
		})
	}
}

// Close stops accepting writes and waits until queued writes are applied or ctx expires.
func (a *CartSyncAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		for _, q := range a.queues {
			close(q)
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *CartSyncAdapter) run(queue <-chan cartSyncOp) {
	defer a.wg.Done()
	for op := range queue {
		err := a.apply(op)
		if op.done != nil {
			op.done <- err
			continue
		}
		if err != nil {
			a.logFailure(context.Background(), &SyncFailure{Op: op.op, UserID: op.userID, Err: err})
		}
	}
}

func (a *CartSyncAdapter) apply(op cartSyncOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	switch op.op {
	case cartSyncOpUpsert:
		return a.carts.UpsertLine(ctx, op.userID, op.line)
	case cartSyncOpDelete:
		return a.carts.DeleteLine(ctx, op.userID, op.key)
	case cartSyncOpDeleteAll:
		return a.carts.DeleteAll(ctx, op.userID)
	default:
		return errors.New("cart sync: unknown operation " + op.op)
	}
}

func (a *CartSyncAdapter) logFailure(ctx context.Context, failure *SyncFailure) {
	a.logger(ctx, "cart.sync.failed", map[string]any{
		"op":     failure.Op,
		"userId": failure.UserID,
		"error":  errorString(failure.Err),
	})
}

func (a *CartSyncAdapter) shard(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(a.queues)))
}
