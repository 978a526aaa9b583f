package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// EvalFunc evaluates one account. Errors are reported by the callee; the
// dispatcher only keeps the workers alive.
type EvalFunc func(ctx context.Context, accountID string)

// Dispatcher runs account evaluations on a fixed worker pool. Each account
// has one slot: at most one evaluation running and at most one pending.
// Scheduling an account that already has a pending evaluation is a no-op,
// since the pending run will read the latest prices anyway.
type Dispatcher struct {
	workers int
	eval    EvalFunc
	log     *slog.Logger

	mu     sync.Mutex
	slots  map[string]*slot
	queue  []string
	notify chan struct{}

	scheduled atomic.Uint64
	coalesced atomic.Uint64
	completed atomic.Uint64
}

type slot struct {
	running bool
	pending bool
}

func NewDispatcher(workers int, eval EvalFunc, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		workers: workers,
		eval:    eval,
		log:     log,
		slots:   make(map[string]*slot),
		notify:  make(chan struct{}, 1),
	}
}

// Schedule queues an evaluation of accountID. It never blocks.
func (d *Dispatcher) Schedule(accountID string) {
	d.scheduled.Add(1)

	d.mu.Lock()
	s, ok := d.slots[accountID]
	switch {
	case !ok:
		d.slots[accountID] = &slot{}
		d.queue = append(d.queue, accountID)
	case s.running && !s.pending:
		s.pending = true
	default:
		d.coalesced.Add(1)
	}
	d.mu.Unlock()

	if !ok {
		d.signal()
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return "", false
	}
	id := d.queue[0]
	d.queue[0] = ""
	d.queue = d.queue[1:]
	d.slots[id].running = true
	if len(d.queue) > 0 {
		d.signal()
	}
	return id, true
}

func (d *Dispatcher) done(accountID string) {
	d.completed.Add(1)

	d.mu.Lock()
	s := d.slots[accountID]
	requeue := s.pending
	if requeue {
		s.running, s.pending = false, false
		d.queue = append(d.queue, accountID)
	} else {
		delete(d.slots, accountID)
	}
	d.mu.Unlock()

	if requeue {
		d.signal()
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		id, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.notify:
				continue
			}
		}
		d.run(ctx, id)
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, accountID string) {
	defer d.done(accountID)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("evaluation panicked",
				slog.String("account", accountID),
				slog.Any("error", fmt.Errorf("%v", r)))
		}
	}()
	d.eval(ctx, accountID)
}

// Pending is the number of accounts queued or running.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

type DispatcherStats struct {
	Scheduled uint64
	Coalesced uint64
	Completed uint64
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Scheduled: d.scheduled.Load(),
		Coalesced: d.coalesced.Load(),
		Completed: d.completed.Load(),
	}
}
