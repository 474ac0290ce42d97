package controller

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/subgen/pkg/address"
	"github.com/psantana5/subgen/pkg/api"
	"github.com/psantana5/subgen/pkg/models"
	"github.com/psantana5/subgen/pkg/store"
)

const testInterval = 5 * time.Millisecond

type fakeService struct {
	mu            sync.Mutex
	submitCalls   int
	statusCalls   map[string]int
	downloadCalls int

	submit   func(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error)
	status   func(ctx context.Context, jobID string, n int) (*models.StatusResponse, error)
	download func(ctx context.Context, url string) (*api.Artifact, error)
}

func (f *fakeService) Submit(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error) {
	f.mu.Lock()
	f.submitCalls++
	fn := f.submit
	f.mu.Unlock()

	if fn == nil {
		progress(100)
		return &models.SubmitResponse{Message: "ok", JobID: "job-1"}, nil
	}
	return fn(ctx, in, progress)
}

func (f *fakeService) Status(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	f.mu.Lock()
	if f.statusCalls == nil {
		f.statusCalls = map[string]int{}
	}
	f.statusCalls[jobID]++
	n := f.statusCalls[jobID]
	fn := f.status
	f.mu.Unlock()

	if fn == nil {
		return &models.StatusResponse{JobID: jobID, Status: models.RemoteStatusProcessing}, nil
	}
	return fn(ctx, jobID, n)
}

func (f *fakeService) Download(ctx context.Context, url string) (*api.Artifact, error) {
	f.mu.Lock()
	f.downloadCalls++
	fn := f.download
	f.mu.Unlock()
	return fn(ctx, url)
}

func (f *fakeService) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func (f *fakeService) polls(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[jobID]
}

func (f *fakeService) totalPolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.statusCalls {
		n += v
	}
	return n
}

// recorder keeps every snapshot delivered to an observer
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) statuses() []models.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.JobStatus, 0, len(r.states))
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (r *recorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newController(t *testing.T, svc *fakeService) (*Controller, *address.Reflector, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	reflector, err := address.NewReflector("http://localhost:5173/", st)
	require.NoError(t, err)

	c, err := New(Options{
		Service:      svc,
		Reflector:    reflector,
		History:      st,
		PollInterval: testInterval,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, reflector, st
}

func completedAfter(n int) func(context.Context, string, int) (*models.StatusResponse, error) {
	return func(ctx context.Context, id string, call int) (*models.StatusResponse, error) {
		if call < n {
			return &models.StatusResponse{JobID: id, Status: models.RemoteStatusProcessing}, nil
		}
		return &models.StatusResponse{JobID: id, Status: models.RemoteStatusCompleted, DownloadURL: "http://srv/out.zip"}, nil
	}
}

func waitFor(t *testing.T, c *Controller) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestSubmitWithoutInputSendsNothing(t *testing.T) {
	tests := []struct {
		name string
		in   models.Input
		want error
	}{
		{"neither", models.Input{}, models.ErrNoInput},
		{"both", models.Input{FilePath: "a.mp4", URL: "https://youtu.be/x"}, models.ErrConflictingInput},
		{"bad url", models.Input{URL: "https://vimeo.com/1"}, models.ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			c, _, _ := newController(t, svc)
			rec := &recorder{}
			c.Subscribe(rec.observe)

			err := c.Submit(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, svc.submits())
			assert.Equal(t, models.StatusIdle, c.State().Status)
			assert.Empty(t, rec.all(), "rejected input must not change state")
		})
	}
}

func TestSubmitLifecycle(t *testing.T) {
	svc := &fakeService{status: completedAfter(2)}
	c, reflector, st := newController(t, svc)
	rec := &recorder{}
	c.Subscribe(rec.observe)

	require.NoError(t, c.Submit(context.Background(), models.Input{URL: "https://youtu.be/abc"}))
	assert.Equal(t, "job-1", c.State().JobID)
	assert.Equal(t, "http://localhost:5173/?job_id=job-1", reflector.Address())

	final := waitFor(t, c)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, "http://srv/out.zip", final.DownloadURL)
	assert.Equal(t, []models.JobStatus{
		models.StatusUploading,
		models.StatusProcessing,
		models.StatusSuccess,
	}, rec.statuses())

	require.Eventually(t, func() bool { return !c.Polling() }, time.Second, time.Millisecond)
	polls := svc.polls("job-1")
	time.Sleep(5 * testInterval)
	assert.Equal(t, polls, svc.polls("job-1"), "polling must stop on success")

	// History is written after observers have seen the outcome
	require.Eventually(t, func() bool {
		r, err := st.GetJob(context.Background(), "job-1")
		return err == nil && r.Status == models.StatusSuccess
	}, time.Second, time.Millisecond)
	rec2, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.InputKindURL, rec2.InputKind)
	assert.Equal(t, "https://youtu.be/abc", rec2.Input)
	assert.Equal(t, "http://srv/out.zip", rec2.DownloadURL)
}

func TestUploadCompleteEntersProcessing(t *testing.T) {
	release := make(chan struct{})
	svc := &fakeService{
		submit: func(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error) {
			progress(10)
			progress(55)
			progress(100)
			<-release
			return &models.SubmitResponse{JobID: "job-1"}, nil
		},
	}
	c, _, _ := newController(t, svc)
	rec := &recorder{}
	c.Subscribe(rec.observe)

	dir := t.TempDir()
	file := filepath.Join(dir, "talk.mp4")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), models.Input{FilePath: file}) }()

	// Before the service answers, full progress already means processing
	require.Eventually(t, func() bool {
		return c.State().Status == models.StatusProcessing
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, c.State().Progress)
	assert.Empty(t, c.State().JobID)

	close(release)
	require.NoError(t, <-done)

	var progress []int
	for _, s := range rec.all() {
		if s.Status == models.StatusUploading {
			progress = append(progress, s.Progress)
		} else {
			assert.Equal(t, 0, s.Progress, "progress outside uploading")
		}
	}
	assert.Equal(t, []int{0, 10, 55}, progress)
	assert.Equal(t, "job-1", c.State().JobID)
}

func TestResponseBeforeFullProgress(t *testing.T) {
	svc := &fakeService{
		submit: func(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error) {
			progress(40)
			return &models.SubmitResponse{JobID: "early"}, nil
		},
	}
	c, _, _ := newController(t, svc)

	require.NoError(t, c.Submit(context.Background(), models.Input{URL: "youtu.be/x"}))
	st := c.State()
	assert.Contains(t, []models.JobStatus{models.StatusProcessing, models.StatusSuccess}, st.Status)
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, "early", st.JobID)
}

func TestSubmitTransportFailure(t *testing.T) {
	for name, submitErr := range map[string]error{
		"network":   errors.New("connection reset"),
		"no job id": api.ErrNoJobID,
	} {
		t.Run(name, func(t *testing.T) {
			svc := &fakeService{
				submit: func(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error) {
					return nil, submitErr
				},
			}
			c, reflector, _ := newController(t, svc)

			err := c.Submit(context.Background(), models.Input{URL: "https://youtu.be/x"})
			assert.ErrorIs(t, err, submitErr)

			st := c.State()
			assert.Equal(t, models.StatusFail, st.Status)
			assert.Equal(t, msgSubmitFailed, st.Err)
			assert.Empty(t, reflector.JobID())
			assert.False(t, c.Polling())
			assert.Equal(t, 0, svc.totalPolls())
		})
	}
}

func TestPollOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     func(context.Context, string, int) (*models.StatusResponse, error)
		want       models.JobStatus
		wantErrMsg string
	}{
		{
			name:   "completed",
			status: completedAfter(1),
			want:   models.StatusSuccess,
		},
		{
			name: "failed",
			status: func(ctx context.Context, id string, n int) (*models.StatusResponse, error) {
				return &models.StatusResponse{JobID: id, Status: models.RemoteStatusFailed}, nil
			},
			want:       models.StatusFail,
			wantErrMsg: msgJobFailed,
		},
		{
			name: "request error",
			status: func(ctx context.Context, id string, n int) (*models.StatusResponse, error) {
				return nil, errors.New("dial tcp: refused")
			},
			want:       models.StatusFail,
			wantErrMsg: msgPollFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{status: tt.status}
			c, _, _ := newController(t, svc)

			require.NoError(t, c.Watch(context.Background(), "job-9"))
			st := waitFor(t, c)
			assert.Equal(t, tt.want, st.Status)
			assert.Equal(t, tt.wantErrMsg, st.Err)

			require.Eventually(t, func() bool { return !c.Polling() }, time.Second, time.Millisecond)
			n := svc.polls("job-9")
			time.Sleep(5 * testInterval)
			assert.Equal(t, n, svc.polls("job-9"))
		})
	}
}

func TestOtherStatusesKeepPolling(t *testing.T) {
	responses := []*models.StatusResponse{
		{Status: models.RemoteStatusProcessing},
		{Status: "QUEUED"},
		{Status: models.RemoteStatusCompleted}, // no download location yet
		{Status: models.RemoteStatusProcessing},
	}
	svc := &fakeService{
		status: func(ctx context.Context, id string, n int) (*models.StatusResponse, error) {
			r := *responses[(n-1)%len(responses)]
			r.JobID = id
			return &r, nil
		},
	}
	c, _, _ := newController(t, svc)
	require.NoError(t, c.Watch(context.Background(), "job"))

	require.Eventually(t, func() bool { return svc.polls("job") >= 2*len(responses) }, 2*time.Second, time.Millisecond)
	assert.Equal(t, models.StatusChecking, c.State().Status)
	assert.True(t, c.Polling())
}

func TestResumeFromAddress(t *testing.T) {
	svc := &fakeService{status: completedAfter(3)}
	c, reflector, st := newController(t, svc)
	require.NoError(t, st.SaveActiveJob(context.Background(), "resumed"))

	rec := &recorder{}
	c.Subscribe(rec.observe)

	ok, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "resumed", reflector.JobID())

	final := waitFor(t, c)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, 0, svc.submits(), "resuming must not resubmit")
	assert.Equal(t, models.StatusChecking, rec.statuses()[0])

	_, err = st.GetJob(context.Background(), "resumed")
	assert.NoError(t, err, "resumed job is added to history")
}

func TestResumeWithoutAddress(t *testing.T) {
	svc := &fakeService{}
	c, _, _ := newController(t, svc)

	ok, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.StatusIdle, c.State().Status)
	assert.Equal(t, 0, svc.totalPolls())
}

func TestResetClearsAddressAndStopsPolling(t *testing.T) {
	svc := &fakeService{}
	c, reflector, st := newController(t, svc)

	require.NoError(t, c.Submit(context.Background(), models.Input{URL: "https://youtu.be/x"}))
	require.Eventually(t, func() bool { return svc.polls("job-1") >= 2 }, time.Second, time.Millisecond)
	assert.True(t, c.Polling())

	require.NoError(t, c.Reset(context.Background()))

	assert.False(t, c.Polling())
	assert.Empty(t, reflector.JobID())
	assert.Equal(t, "http://localhost:5173/", reflector.Address())
	persisted, _ := st.ActiveJob(context.Background())
	assert.Empty(t, persisted)

	s := c.State()
	assert.Equal(t, models.StatusIdle, s.Status)
	assert.Empty(t, s.JobID)
	assert.Equal(t, models.Input{}, s.Input)

	n := svc.polls("job-1")
	time.Sleep(5 * testInterval)
	assert.Equal(t, n, svc.polls("job-1"))
}

func TestResetDuringUpload(t *testing.T) {
	started := make(chan struct{})
	svc := &fakeService{
		submit: func(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error) {
			progress(20)
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c, _, _ := newController(t, svc)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), models.Input{URL: "https://youtu.be/x"}) }()

	<-started
	require.NoError(t, c.Reset(context.Background()))

	assert.ErrorIs(t, <-done, ErrReset)
	assert.Equal(t, models.StatusIdle, c.State().Status, "aborted upload must not flip state to fail")
	assert.Equal(t, 0, svc.totalPolls())
}

func TestStaleResultAfterReset(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc := &fakeService{
		status: func(ctx context.Context, id string, n int) (*models.StatusResponse, error) {
			once.Do(func() { close(inFlight) })
			<-release
			return &models.StatusResponse{JobID: id, Status: models.RemoteStatusFailed}, nil
		},
	}
	c, _, _ := newController(t, svc)
	require.NoError(t, c.Watch(context.Background(), "old"))
	<-inFlight

	resetDone := make(chan struct{})
	go func() {
		c.Reset(context.Background())
		close(resetDone)
	}()

	close(release)
	<-resetDone

	assert.Equal(t, models.StatusIdle, c.State().Status)
	assert.False(t, c.Polling())
}

func TestSingleActiveJob(t *testing.T) {
	svc := &fakeService{}
	c, _, _ := newController(t, svc)

	require.NoError(t, c.Watch(context.Background(), "first"))
	assert.ErrorIs(t, c.Watch(context.Background(), "second"), ErrJobActive)
	assert.ErrorIs(t, c.Submit(context.Background(), models.Input{URL: "https://youtu.be/x"}), ErrJobActive)
	assert.Equal(t, 0, svc.submits())
	assert.Equal(t, "first", c.State().JobID)
}

func TestRestartKeepsOnePollingLoop(t *testing.T) {
	svc := &fakeService{}
	c, _, _ := newController(t, svc)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Watch(ctx, "job"))
		assert.LessOrEqual(t, c.poller.Running(), 1)
		require.NoError(t, c.Reset(ctx))
		assert.Equal(t, 0, c.poller.Running())
	}

	require.NoError(t, c.Watch(ctx, "job"))
	time.Sleep(3 * testInterval)
	assert.Equal(t, 1, c.poller.Running())
}

func TestSubmitAfterTerminalStartsFresh(t *testing.T) {
	jobs := []string{"job-a", "job-b"}
	var mu sync.Mutex
	svc := &fakeService{
		status: completedAfter(1),
		submit: func(ctx context.Context, in models.Input, progress api.ProgressFunc) (*models.SubmitResponse, error) {
			mu.Lock()
			id := jobs[0]
			jobs = jobs[1:]
			mu.Unlock()
			progress(100)
			return &models.SubmitResponse{JobID: id}, nil
		},
	}
	c, reflector, _ := newController(t, svc)
	rec := &recorder{}
	c.Subscribe(rec.observe)

	require.NoError(t, c.Submit(context.Background(), models.Input{URL: "https://youtu.be/a"}))
	waitFor(t, c)

	require.NoError(t, c.Submit(context.Background(), models.Input{URL: "https://youtu.be/b"}))
	st := waitFor(t, c)
	assert.Equal(t, "job-b", st.JobID)
	assert.Equal(t, "job-b", reflector.JobID())

	assert.Equal(t, []models.JobStatus{
		models.StatusUploading, models.StatusProcessing, models.StatusSuccess,
		models.StatusIdle,
		models.StatusUploading, models.StatusProcessing, models.StatusSuccess,
	}, rec.statuses())
}

func TestDownload(t *testing.T) {
	svc := &fakeService{
		status: completedAfter(1),
		download: func(ctx context.Context, url string) (*api.Artifact, error) {
			assert.Equal(t, "http://srv/out.zip", url)
			return &api.Artifact{
				Body:     io.NopCloser(strings.NewReader("subs")),
				Size:     4,
				Filename: "out.zip",
			}, nil
		},
	}
	c, _, _ := newController(t, svc)
	rec := &recorder{}
	c.Subscribe(rec.observe)

	_, err := c.Download(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, c.Watch(context.Background(), "job"))
	waitFor(t, c)

	dir := t.TempDir()
	path, err := c.Download(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.zip"), path)

	st := c.State()
	assert.Equal(t, models.StatusSuccess, st.Status)
	assert.Equal(t, path, st.ArtifactPath)
	assert.Equal(t, []models.JobStatus{
		models.StatusChecking, models.StatusSuccess, models.StatusDownloading, models.StatusSuccess,
	}, rec.statuses())
}

func TestDownloadFailure(t *testing.T) {
	svc := &fakeService{
		status: completedAfter(1),
		download: func(ctx context.Context, url string) (*api.Artifact, error) {
			return nil, &api.StatusError{Op: "download", StatusCode: 403}
		},
	}
	c, _, st := newController(t, svc)
	require.NoError(t, c.Watch(context.Background(), "job"))
	waitFor(t, c)

	_, err := c.Download(context.Background(), t.TempDir())
	assert.Error(t, err)
	assert.Equal(t, models.StatusFail, c.State().Status)
	assert.Equal(t, msgDownloadFailed, c.State().Err)

	rec, err := st.GetJob(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, rec.Status)
}

// blockingBody never yields data and fails once ctx is cancelled
type blockingBody struct{ ctx context.Context }

func (b blockingBody) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b blockingBody) Close() error { return nil }

func TestResetAbortsDownload(t *testing.T) {
	svc := &fakeService{
		status: completedAfter(1),
		download: func(ctx context.Context, url string) (*api.Artifact, error) {
			return &api.Artifact{Body: blockingBody{ctx}, Size: 10, Filename: "out.zip"}, nil
		},
	}
	c, _, _ := newController(t, svc)
	require.NoError(t, c.Watch(context.Background(), "job"))
	waitFor(t, c)

	dir := t.TempDir()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Download(context.Background(), dir)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return c.State().Status == models.StatusDownloading
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Reset(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrReset)
	case <-time.After(time.Second):
		t.Fatal("download was not aborted by reset")
	}

	assert.Equal(t, models.StatusIdle, c.State().Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWait(t *testing.T) {
	svc := &fakeService{}
	c, _, _ := newController(t, svc)

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoJob)

	require.NoError(t, c.Watch(context.Background(), "job"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	waited := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background())
		waited <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Reset(context.Background()))
	assert.ErrorIs(t, <-waited, ErrReset)
}

func TestObserversInOrderAndUnsubscribe(t *testing.T) {
	svc := &fakeService{status: completedAfter(1)}
	c, _, _ := newController(t, svc)

	var mu sync.Mutex
	var calls []string
	unsubA := c.Subscribe(func(s State) {
		mu.Lock()
		calls = append(calls, "a:"+string(s.Status))
		mu.Unlock()
	})
	c.Subscribe(func(s State) {
		mu.Lock()
		calls = append(calls, "b:"+string(s.Status))
		mu.Unlock()
		// Reading state from an observer is allowed
		_ = c.State()
	})

	require.NoError(t, c.Watch(context.Background(), "job"))
	waitFor(t, c)
	unsubA()
	unsubA()
	require.NoError(t, c.Reset(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"a:checking", "b:checking",
		"a:success", "b:success",
		"b:idle",
	}, calls)
}

func TestClose(t *testing.T) {
	svc := &fakeService{}
	c, _, _ := newController(t, svc)

	require.NoError(t, c.Watch(context.Background(), "job"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.False(t, c.Polling())
	assert.ErrorIs(t, c.Submit(context.Background(), models.Input{URL: "https://youtu.be/x"}), ErrClosed)

	require.NoError(t, c.Reset(context.Background()))
	assert.ErrorIs(t, c.Watch(context.Background(), "job"), ErrClosed)
}
