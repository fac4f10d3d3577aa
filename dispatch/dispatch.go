// Package dispatch runs wallet operations on a fixed pool of workers. Each
// worker owns an agent over a store shared by all workers. The pool owns the
// channel locks the agents share.
//
// A caller waits for an idle worker, in the order callers started waiting,
// hands it one request and receives exactly one response. A worker that
// panics answers with ErrWorkerCrashed and is replaced. A pool with no
// workers runs operations directly on the caller's goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/lock"
	"github.com/stellar/go/support/log"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/atomic"
)

var (
	ErrWorkerCrashed    = errors.New("worker crashed")
	ErrPoolClosed       = errors.New("pool closed")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidArgs      = errors.New("invalid arguments")
)

type Config struct {
	// Workers is the number of workers. Zero runs operations directly.
	Workers int

	// NewAgent builds the agent of a worker from the pool's lock registry.
	// It is called for every worker and again for each replacement of a
	// crashed worker.
	NewAgent func(locks *lock.Registry) *agent.Agent

	Logger *log.Entry
}

type Request struct {
	ID        string
	Operation Operation
	Args      interface{}
}

type Response struct {
	RequestID string
	Result    interface{}
	Err       error

	crashed bool
}

// Stats are counters of the pool's activity.
type Stats struct {
	Workers   int
	InFlight  int64
	Completed int64
	Crashes   int64
}

type Pool struct {
	newAgent func(locks *lock.Registry) *agent.Agent
	locks    *lock.Registry
	logger   *log.Entry
	workers  int

	idle chan *worker

	// mu guards direct, the worker of a pool without workers. It also
	// orders starting workers with closing the pool.
	mu     sync.Mutex
	direct *worker

	nextID *atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	inFlight  *atomic.Int64
	completed *atomic.Int64
	crashes   *atomic.Int64
}

func New(c Config) *Pool {
	logger := c.Logger
	if logger == nil {
		logger = log.DefaultLogger
	}
	p := &Pool{
		newAgent:  c.NewAgent,
		locks:     lock.NewRegistry(),
		logger:    logger.WithField("component", "dispatch"),
		workers:   c.Workers,
		closed:    make(chan struct{}),
		inFlight:  atomic.NewInt64(0),
		completed: atomic.NewInt64(0),
		crashes:   atomic.NewInt64(0),
		nextID:    atomic.NewInt64(0),
	}
	if c.Workers == 0 {
		p.direct = p.newWorker()
		return p
	}
	p.idle = make(chan *worker, c.Workers)
	for i := 0; i < c.Workers; i++ {
		p.idle <- p.spawn()
	}
	return p
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan Response
}

type worker struct {
	id    int64
	agent *agent.Agent
	jobs  chan job
}

func (p *Pool) newWorker() *worker {
	return &worker{id: p.nextID.Inc(), agent: p.newAgent(p.locks)}
}

// spawn starts a worker waiting for jobs.
func (p *Pool) spawn() *worker {
	w := p.newWorker()
	w.jobs = make(chan job)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(w)
	}()
	return w
}

func (p *Pool) loop(w *worker) {
	for {
		select {
		case <-p.closed:
			return
		case j := <-w.jobs:
			resp := p.run(j.ctx, w, j.req)
			j.reply <- resp
			if resp.crashed {
				return
			}
		}
	}
}

// run executes the request, turning a panic into ErrWorkerCrashed.
func (p *Pool) run(ctx context.Context, w *worker, req Request) (resp Response) {
	resp.RequestID = req.ID
	l := p.logger.WithFields(log.F{"request": req.ID, "operation": string(req.Operation), "worker": w.id})
	ctx, _ = tag.New(ctx, tag.Upsert(KeyOperation, string(req.Operation)))
	stop := timer(ctx, OperationDuration)
	defer func() {
		r := recover()
		if r == nil {
			outcome := "ok"
			if resp.Err != nil {
				outcome = "error"
			}
			stop(outcome)
			return
		}
		stop("crash")
		stats.Record(ctx, WorkerCrashes.M(1))
		p.crashes.Inc()
		l.WithField("panic", r).Error("worker crashed")
		resp = Response{
			RequestID: req.ID,
			Err:       fmt.Errorf("%w: %s %s: %v", ErrWorkerCrashed, req.Operation, req.ID, r),
			crashed:   true,
		}
	}()

	h, ok := handlers[req.Operation]
	if !ok {
		resp.Err = fmt.Errorf("%w: %s", ErrUnknownOperation, req.Operation)
		return resp
	}
	l.Debug("running operation")
	resp.Result, resp.Err = h(ctx, w.agent, req.Args)
	return resp
}

// Dispatch runs the operation on an idle worker and returns its result.
// The context bounds only the wait for an idle worker. Once a worker has the
// request, Dispatch waits for its response.
func (p *Pool) Dispatch(ctx context.Context, op Operation, args interface{}) (interface{}, error) {
	req := Request{ID: uuid.NewString(), Operation: op, Args: args}
	p.inFlight.Inc()
	defer p.inFlight.Dec()

	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}

	if p.direct == nil {
		return p.dispatch(ctx, req)
	}

	p.mu.Lock()
	w := p.direct
	p.mu.Unlock()
	resp := p.run(ctx, w, req)
	if resp.crashed {
		p.mu.Lock()
		if p.direct == w {
			p.direct = p.newWorker()
		}
		p.mu.Unlock()
	}
	p.completed.Inc()
	return resp.Result, resp.Err
}

func (p *Pool) dispatch(ctx context.Context, req Request) (interface{}, error) {
	var w *worker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for idle worker: %w", ctx.Err())
	case <-p.closed:
		return nil, ErrPoolClosed
	}

	reply := make(chan Response, 1)
	select {
	case w.jobs <- job{ctx: ctx, req: req, reply: reply}:
	case <-p.closed:
		return nil, ErrPoolClosed
	}
	resp := <-reply
	p.completed.Inc()

	if resp.crashed {
		var ok bool
		w, ok = p.respawn()
		if !ok {
			return resp.Result, resp.Err
		}
	}
	p.idle <- w
	return resp.Result, resp.Err
}

// respawn starts a worker to replace a crashed one, unless the pool is
// closed.
func (p *Pool) respawn() (*worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
		return nil, false
	default:
	}
	return p.spawn(), true
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Crashes:   p.crashes.Load(),
	}
}

// Close stops the workers once they finish the request they are running.
// Dispatch fails with ErrPoolClosed afterwards.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.closed)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
