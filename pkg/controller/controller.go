// Package controller owns the lifecycle of the single job a client follows:
// submission, upload progress, status polling, the shareable address and the
// optional artifact download. Presentation layers observe it through Subscribe.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/subgen/internal/artifact"
	"github.com/psantana5/subgen/pkg/address"
	"github.com/psantana5/subgen/pkg/api"
	"github.com/psantana5/subgen/pkg/logging"
	"github.com/psantana5/subgen/pkg/metrics"
	"github.com/psantana5/subgen/pkg/models"
	"github.com/psantana5/subgen/pkg/poller"
	"github.com/psantana5/subgen/pkg/store"
)

var (
	ErrJobActive = errors.New("a job is already in progress")
	ErrNoJob     = errors.New("no job is being followed")
	ErrNotReady  = errors.New("the job has no finished result to download")
	ErrReset     = errors.New("the job was reset")
	ErrClosed    = errors.New("controller is closed")
)

// User-facing messages recorded in State.Err
const (
	msgSubmitFailed   = "Upload failed. Please try again."
	msgPollFailed     = "Could not check the job status."
	msgJobFailed      = "Subtitle generation failed."
	msgDownloadFailed = "Download failed."
)

// historyTimeout bounds history writes made from background goroutines
const historyTimeout = 5 * time.Second

// Service is the subset of the subtitle service the controller needs
type Service interface {
	Submit(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error)
	Status(ctx context.Context, jobID string) (*models.StatusResponse, error)
	Download(ctx context.Context, downloadURL string) (*api.Artifact, error)
}

// State is a snapshot of the followed job
type State struct {
	Status       models.JobStatus `json:"status" yaml:"status"`
	Progress     int              `json:"progress" yaml:"progress"`
	JobID        string           `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Input        models.Input     `json:"input" yaml:"input"`
	DownloadURL  string           `json:"download_url,omitempty" yaml:"download_url,omitempty"`
	ArtifactPath string           `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	Err          string           `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at" yaml:"updated_at"`
}

// Observer is called after every state change with the new snapshot.
// Observers run synchronously and in order; they may call State but must not
// call any other Controller method.
type Observer func(State)

// Options configures a Controller
type Options struct {
	Service      Service
	Reflector    *address.Reflector // nil keeps the address in memory only
	History      store.Store        // nil disables history
	PollInterval time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Collector
}

type subscription struct {
	id int
	fn Observer
}

// Controller drives the job lifecycle state machine
type Controller struct {
	svc       Service
	poller    *poller.Poller
	reflector *address.Reflector
	history   store.Store
	logger    *logging.Logger
	metrics   *metrics.Collector

	mu             sync.Mutex
	state          State
	gen            uint64             // bumped whenever the followed job changes; older async results are dropped
	cancelTransfer context.CancelFunc // aborts the in-flight upload or download
	changed        chan struct{}
	closed         bool

	// notifyMu is taken before mu is released so observers see changes in order
	notifyMu sync.Mutex
	snapshot atomic.Pointer[State]

	obsMu     sync.Mutex
	observers []subscription
	nextObsID int
}

// New creates a controller in the idle state
func New(opts Options) (*Controller, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("service is required")
	}

	reflector := opts.Reflector
	if reflector == nil {
		var err error
		if reflector, err = address.NewReflector("", nil); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithField("component", "controller")

	c := &Controller{
		svc:       opts.Service,
		reflector: reflector,
		history:   opts.History,
		logger:    logger,
		metrics:   opts.Metrics,
		state:     State{Status: models.StatusIdle, UpdatedAt: time.Now()},
		changed:   make(chan struct{}),
	}
	c.poller = poller.New(c.svc.Status, opts.PollInterval, logger)

	snap := c.state
	c.snapshot.Store(&snap)
	c.metrics.SetState(models.StatusIdle)
	return c, nil
}

// State returns the latest snapshot. It never blocks.
func (c *Controller) State() State {
	return *c.snapshot.Load()
}

// Address returns the shareable address of the followed job
func (c *Controller) Address() string {
	return c.reflector.Address()
}

// Polling reports whether a status loop is running
func (c *Controller) Polling() bool {
	return c.poller.Active()
}

// Subscribe registers fn for state changes and returns a function that removes it
func (c *Controller) Subscribe(fn Observer) (unsubscribe func()) {
	c.obsMu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers = append(c.observers, subscription{id: id, fn: fn})
	c.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			defer c.obsMu.Unlock()
			for i, s := range c.observers {
				if s.id == id {
					c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Submit sends in to the service and, once a job id is obtained, starts polling it.
// It blocks for the duration of the upload. Invalid input is rejected without a
// state change or network request.
func (c *Controller) Submit(ctx context.Context, in models.Input) error {
	if err := in.Validate(); err != nil {
		c.metrics.RecordSubmission(in.Kind(), "rejected")
		return err
	}

	if models.IsTerminalState(c.State().Status) {
		if err := c.Reset(ctx); err != nil {
			c.logger.Warn("Failed to clear previous job", logging.Fields{"error": err.Error()})
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if models.IsActiveState(c.state.Status) {
		c.mu.Unlock()
		return ErrJobActive
	}

	c.gen++
	gen := c.gen
	uploadCtx, cancel := context.WithCancel(ctx)
	c.cancelTransfer = cancel
	if err := c.transitionLocked(models.StatusUploading); err != nil {
		c.mu.Unlock()
		cancel()
		return err
	}
	c.state.Input = in
	c.logger.Info("Uploading", logging.Fields{"input_kind": string(in.Kind()), "input": in.Value()})
	c.commitAndUnlock()

	resp, err := c.svc.Submit(uploadCtx, in, func(percent int) {
		c.onProgress(gen, percent)
	})
	cancel()

	return c.finishSubmit(ctx, gen, in, resp, err)
}

func (c *Controller) onProgress(gen uint64, percent int) {
	c.mu.Lock()
	if gen != c.gen || c.state.Status != models.StatusUploading {
		c.mu.Unlock()
		return
	}

	if percent >= 100 {
		// Optimistic: the service has the bytes, it has not confirmed anything yet
		c.transitionLocked(models.StatusProcessing)
	} else {
		if percent == c.state.Progress {
			c.mu.Unlock()
			return
		}
		c.state.Progress = percent
	}
	c.commitAndUnlock()
}

func (c *Controller) finishSubmit(ctx context.Context, gen uint64, in models.Input, resp *models.SubmitResponse, err error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrReset
	}
	c.cancelTransfer = nil

	if err != nil {
		c.metrics.RecordSubmission(in.Kind(), "error")
		c.metrics.RecordOutcome(models.StatusFail)
		c.logger.Error("Submission failed", logging.Fields{"error": err.Error()})
		c.failLocked(msgSubmitFailed)
		c.commitAndUnlock()
		return fmt.Errorf("submission failed: %w", err)
	}

	if c.state.Status == models.StatusUploading {
		c.transitionLocked(models.StatusProcessing)
	}
	c.state.JobID = resp.JobID
	if rerr := c.reflector.Reflect(ctx, resp.JobID); rerr != nil {
		c.logger.Warn("Failed to record job address", logging.Fields{"job_id": resp.JobID, "error": rerr.Error()})
	}
	c.logger.Info("Job accepted", logging.Fields{"job_id": resp.JobID, "message": resp.Message})
	c.commitAndUnlock()

	c.metrics.RecordSubmission(in.Kind(), "accepted")
	c.recordJob(&models.JobRecord{
		JobID:     resp.JobID,
		InputKind: in.Kind(),
		Input:     in.Value(),
		Status:    models.StatusProcessing,
	})

	c.poller.Start(context.Background(), resp.JobID, c.pollHandler(gen))
	return nil
}

// Resume follows the job carried by the persisted address, if any, skipping
// submission. It reports whether a job was resumed.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	jobID, err := c.reflector.Load(ctx)
	if err != nil {
		return false, err
	}
	if jobID == "" {
		return false, nil
	}
	if err := c.Watch(ctx, jobID); err != nil {
		return false, err
	}
	return true, nil
}

// Watch enters checking for jobID and polls it until a terminal status
func (c *Controller) Watch(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrNoJob
	}

	if models.IsTerminalState(c.State().Status) {
		if err := c.Reset(ctx); err != nil {
			c.logger.Warn("Failed to clear previous job", logging.Fields{"error": err.Error()})
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if models.IsActiveState(c.state.Status) {
		c.mu.Unlock()
		return ErrJobActive
	}

	c.gen++
	gen := c.gen
	if err := c.transitionLocked(models.StatusChecking); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state.JobID = jobID
	if err := c.reflector.Reflect(ctx, jobID); err != nil {
		c.logger.Warn("Failed to record job address", logging.Fields{"job_id": jobID, "error": err.Error()})
	}
	c.logger.Info("Checking job", logging.Fields{"job_id": jobID})
	c.commitAndUnlock()

	c.ensureRecorded(jobID)
	c.poller.Start(context.Background(), jobID, c.pollHandler(gen))
	return nil
}

func (c *Controller) pollHandler(gen uint64) poller.Handler {
	return func(r poller.Result) bool {
		var remote models.RemoteStatus
		if r.Status != nil {
			remote = r.Status.Status
		}
		c.metrics.RecordPoll(remote, r.Err)

		c.mu.Lock()
		if gen != c.gen || !models.IsPollingState(c.state.Status) {
			c.mu.Unlock()
			return true
		}

		switch {
		case r.Err != nil:
			c.logger.Error("Status query failed", logging.Fields{"job_id": r.JobID, "error": r.Err.Error()})
			c.failLocked(msgPollFailed)
		case r.Status.Failed():
			c.logger.Warn("Job failed", logging.Fields{"job_id": r.JobID})
			c.failLocked(msgJobFailed)
		case r.Status.Completed():
			c.transitionLocked(models.StatusSuccess)
			c.state.DownloadURL = r.Status.DownloadURL
			c.logger.Info("Job completed", logging.Fields{"job_id": r.JobID, "download_url": r.Status.DownloadURL})
		default:
			c.mu.Unlock()
			return false
		}

		final := c.state
		c.commitAndUnlock()

		c.metrics.RecordOutcome(final.Status)
		c.updateJob(final)
		return true
	}
}

// Download streams the finished artifact into dir and returns its path.
// The state passes through downloading and returns to success, or ends in fail.
// A Reset during the transfer aborts it; if the file was already in place its
// path is returned together with ErrReset.
func (c *Controller) Download(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.state.Status != models.StatusSuccess || c.state.DownloadURL == "" {
		c.mu.Unlock()
		return "", ErrNotReady
	}
	gen := c.gen
	downloadURL := c.state.DownloadURL
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelTransfer = cancel
	c.transitionLocked(models.StatusDownloading)
	c.commitAndUnlock()

	var path string
	art, err := c.svc.Download(dlCtx, downloadURL)
	if err == nil {
		path, err = artifact.Save(dlCtx, art, dir)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			c.logger.Warn("Artifact saved after reset", logging.Fields{"path": path})
			return path, ErrReset
		}
		return "", ErrReset
	}
	c.cancelTransfer = nil
	if err != nil {
		c.logger.Error("Download failed", logging.Fields{"error": err.Error()})
		c.failLocked(msgDownloadFailed)
	} else {
		c.transitionLocked(models.StatusSuccess)
		c.state.ArtifactPath = path
		c.logger.Info("Artifact saved", logging.Fields{"path": path})
	}
	final := c.state
	c.commitAndUnlock()

	if err != nil {
		c.metrics.RecordOutcome(models.StatusFail)
		c.updateJob(final)
		return "", fmt.Errorf("download failed: %w", err)
	}
	return path, nil
}

// Wait blocks until the followed job reaches success or fail, or ctx is done
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	startGen := c.gen
	c.mu.Unlock()

	for {
		c.mu.Lock()
		st := c.state
		gen := c.gen
		changed := c.changed
		c.mu.Unlock()

		switch {
		case models.IsTerminalState(st.Status):
			return st, nil
		case st.Status == models.StatusIdle && gen == startGen:
			return st, ErrNoJob
		case st.Status == models.StatusIdle:
			return st, ErrReset
		}

		select {
		case <-ctx.Done():
			return c.State(), ctx.Err()
		case <-changed:
		}
	}
}

// Reset forgets the followed job: any state returns to idle, the address is
// cleared, an in-flight upload or download is aborted and polling stops.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	if c.cancelTransfer != nil {
		c.cancelTransfer()
		c.cancelTransfer = nil
	}
	prev := c.state.JobID
	c.state = State{Status: models.StatusIdle}
	err := c.reflector.Clear(ctx)
	if prev != "" {
		c.logger.Info("Job reset", logging.Fields{"job_id": prev})
	}
	c.commitAndUnlock()

	// The poll handler may be waiting for mu, so stop only after releasing it
	c.poller.Stop()
	return err
}

// Close stops polling and aborts any upload or download. The controller rejects new work afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancelTransfer != nil {
		c.cancelTransfer()
		c.cancelTransfer = nil
	}
	c.mu.Unlock()

	c.poller.Stop()
	return nil
}

// transitionLocked moves to next if the lifecycle allows it. Progress only
// survives while uploading.
func (c *Controller) transitionLocked(next models.JobStatus) error {
	if err := models.ValidateTransition(c.state.Status, next); err != nil {
		c.logger.Warn("Rejected transition", logging.Fields{
			"from": string(c.state.Status),
			"to":   string(next),
		})
		return err
	}
	c.state.Status = next
	if next != models.StatusUploading {
		c.state.Progress = 0
	}
	return nil
}

func (c *Controller) failLocked(msg string) {
	c.transitionLocked(models.StatusFail)
	c.state.Err = msg
}

// commitAndUnlock publishes the current state and releases mu. Observers run
// before it returns, in the order changes were committed.
func (c *Controller) commitAndUnlock() {
	c.state.UpdatedAt = time.Now()
	snap := c.state
	c.snapshot.Store(&snap)
	close(c.changed)
	c.changed = make(chan struct{})

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.metrics.SetState(snap.Status)

	c.obsMu.Lock()
	observers := make([]subscription, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.Unlock()

	for _, s := range observers {
		s.fn(snap)
	}
}
