package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fusebench/internal/platform"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

// fakeRunner hands out job-1, job-2, ... and reports states from states.
type fakeRunner struct {
	mu        sync.Mutex
	launched  []string
	waited    []string
	states    map[string]api.JobState
	waitDelay map[string]time.Duration
	launchErr error
	// events records launches and waits in call order
	events []string
}

func (f *fakeRunner) RunApplet(_ context.Context, applet platform.Applet, projectID, itype string) (*platform.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launched = append(f.launched, itype)
	id := fmt.Sprintf("job-%d", len(f.launched))
	f.events = append(f.events, "launch "+id)
	return &platform.Job{ID: id}, nil
}

func (f *fakeRunner) WaitJob(ctx context.Context, id string) (api.JobState, error) {
	f.mu.Lock()
	f.waited = append(f.waited, id)
	f.events = append(f.events, "wait "+id)
	d := f.waitDelay[id]
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s, ok := f.states[id]; ok {
		return s, nil
	}
	return api.JobDone, nil
}

type fanOutHarness struct {
	fan *FanOut
	kas []*KeepAlive
}

func newFanOutHarness(r JobRunner) *fanOutHarness {
	h := &fanOutHarness{}
	h.fan = &FanOut{Runner: r, KeepAliveInterval: time.Millisecond, KeepAliveOut: io.Discard}
	h.fan.startKeepAlive = func(w io.Writer, d time.Duration) *KeepAlive {
		ka := StartKeepAlive(w, d)
		h.kas = append(h.kas, ka)
		return ka
	}
	return h
}

var (
	testProject = &platform.Project{ID: "project-1", Region: "aws:us-east-1"}
	testApplet  = &platform.Applet{ID: "applet-1", Project: "project-1"}
)

func TestFanOutLaunchesAllBeforeWaiting(t *testing.T) {
	r := &fakeRunner{}
	h := newFanOutHarness(r)
	itypes := []string{"a", "b", "c"}

	jobs, err := h.fan.LaunchAndWait(context.Background(), testProject, testApplet, itypes)
	require.NoError(t, err)
	assert.Equal(t, itypes, r.launched)
	assert.Equal(t, []platform.Job{{ID: "job-1"}, {ID: "job-2"}, {ID: "job-3"}}, jobs)
	assert.Equal(t, []string{"launch job-1", "launch job-2", "launch job-3", "wait job-1", "wait job-2", "wait job-3"}, r.events)

	require.Len(t, h.kas, 1)
	assert.False(t, h.kas[0].Running())
}

func TestFanOutFailsOnFirstFailedJob(t *testing.T) {
	for k := 1; k <= 3; k++ {
		t.Run(fmt.Sprintf("job-%d", k), func(t *testing.T) {
			failing := fmt.Sprintf("job-%d", k)
			r := &fakeRunner{states: map[string]api.JobState{failing: api.JobFailed}}
			h := newFanOutHarness(r)

			jobs, err := h.fan.LaunchAndWait(context.Background(), testProject, testApplet, []string{"a", "b", "c"})
			require.Nil(t, jobs)
			require.ErrorIs(t, err, ErrJobFailed)
			var jf *JobFailedError
			require.True(t, errors.As(err, &jf))
			assert.Equal(t, failing, jf.JobID)

			// waits stop at the failing job
			assert.Len(t, r.waited, k)
			require.Len(t, h.kas, 1)
			assert.False(t, h.kas[0].Running(), "keep-alive must be stopped before the error is returned")
		})
	}
}

func TestFanOutTerminatedCountsAsFailure(t *testing.T) {
	r := &fakeRunner{states: map[string]api.JobState{"job-1": api.JobTerminated}}
	h := newFanOutHarness(r)

	_, err := h.fan.LaunchAndWait(context.Background(), testProject, testApplet, []string{"a"})
	require.ErrorIs(t, err, ErrJobFailed)
}

func TestFanOutLaunchError(t *testing.T) {
	r := &fakeRunner{launchErr: errors.New("quota")}
	h := newFanOutHarness(r)

	_, err := h.fan.LaunchAndWait(context.Background(), testProject, testApplet, []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch on a")
	assert.Empty(t, h.kas, "no wait, no keep-alive")
}

func TestFanOutConcurrentWait(t *testing.T) {
	r := &fakeRunner{
		states:    map[string]api.JobState{"job-3": api.JobFailed},
		waitDelay: map[string]time.Duration{"job-1": 5 * time.Second},
	}
	h := newFanOutHarness(r)
	h.fan.Concurrent = true

	start := time.Now()
	_, err := h.fan.LaunchAndWait(context.Background(), testProject, testApplet, []string{"a", "b", "c"})
	var jf *JobFailedError
	require.True(t, errors.As(err, &jf))
	assert.Equal(t, "job-3", jf.JobID)
	assert.Less(t, time.Since(start), 5*time.Second, "a slow first job must not delay the failure")
	assert.False(t, h.kas[0].Running())
}

func TestFanOutConcurrentKeepsLaunchOrder(t *testing.T) {
	r := &fakeRunner{waitDelay: map[string]time.Duration{"job-1": 20 * time.Millisecond}}
	h := newFanOutHarness(r)
	h.fan.Concurrent = true

	jobs, err := h.fan.LaunchAndWait(context.Background(), testProject, testApplet, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []platform.Job{{ID: "job-1"}, {ID: "job-2"}}, jobs)
}
