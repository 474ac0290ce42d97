package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/subgen/pkg/logging"
	"github.com/psantana5/subgen/pkg/models"
)

// DefaultInterval is the fixed delay between status queries
const DefaultInterval = 3 * time.Second

// QueryFunc fetches the current status of a job once
type QueryFunc func(ctx context.Context, jobID string) (*models.StatusResponse, error)

// Result is the outcome of a single status query
type Result struct {
	JobID  string
	Status *models.StatusResponse
	Err    error
}

// Handler receives every result of the active loop, on the loop's goroutine.
// Returning true stops the loop. A Handler must not call Start or Stop.
type Handler func(Result) (done bool)

// Poller runs at most one status loop at a time. Starting a new loop cancels
// the previous one and waits for it to exit first.
type Poller struct {
	query    QueryFunc
	interval time.Duration
	logger   *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running int32
}

// New creates a poller. A non-positive interval uses DefaultInterval.
func New(query QueryFunc, interval time.Duration, logger *logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Poller{
		query:    query,
		interval: interval,
		logger:   logger.WithField("component", "poller"),
	}
}

// Interval returns the delay between queries
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start begins polling jobID: one query immediately, then one per interval until
// handle returns true, ctx is done, or Stop/Start is called.
func (p *Poller) Start(ctx context.Context, jobID string, handle Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	p.logger.Debug("Polling started", logging.Fields{"job_id": jobID, "interval": p.interval.String()})
	go p.run(loopCtx, cancel, done, jobID, handle)
}

// Stop cancels the active loop, if any, and waits for it to exit
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Active reports whether a loop is running
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Running returns how many loops are currently executing. It never exceeds one.
func (p *Poller) Running() int {
	return int(atomic.LoadInt32(&p.running))
}

func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, jobID string, handle Handler) {
	atomic.AddInt32(&p.running, 1)
	defer func() {
		atomic.AddInt32(&p.running, -1)
		cancel()
		close(done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, err := p.query(ctx, jobID)
		// A result that lands after cancellation belongs to a loop nobody follows anymore
		if ctx.Err() != nil {
			return
		}

		if handle(Result{JobID: jobID, Status: status, Err: err}) {
			p.logger.Debug("Polling finished", logging.Fields{"job_id": jobID})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
