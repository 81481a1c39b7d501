package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/fusebench/internal/platform"
	"github.com/3cpo-dev/fusebench/internal/telemetry"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

// JobRunner launches applets and waits for the resulting jobs.
type JobRunner interface {
	RunApplet(ctx context.Context, applet platform.Applet, projectID, instanceType string) (*platform.Job, error)
	WaitJob(ctx context.Context, jobID string) (api.JobState, error)
}

// FanOut launches one job per instance type and waits for all of them.
type FanOut struct {
	Runner            JobRunner
	KeepAliveInterval time.Duration
	KeepAliveOut      io.Writer
	// Concurrent polls all jobs at once instead of in launch order. The
	// failure reported is then the first one observed, not the first launched.
	Concurrent bool

	startKeepAlive func(io.Writer, time.Duration) *KeepAlive
}

// LaunchAndWait launches every job before waiting on any. A job ending in
// a failed state aborts the wait with a *JobFailedError; jobs already
// launched keep running remotely.
func (f *FanOut) LaunchAndWait(ctx context.Context, project *platform.Project, applet *platform.Applet, instanceTypes []string) ([]platform.Job, error) {
	jobs := make([]platform.Job, 0, len(instanceTypes))
	log.Info().Str("applet", applet.ID).Msg("launching applet")
	for _, itype := range instanceTypes {
		log.Info().Str("instance", itype).Msg("launch")
		job, err := f.Runner.RunApplet(ctx, *applet, project.ID, itype)
		if err != nil {
			return nil, fmt.Errorf("launch on %s: %w", itype, err)
		}
		telemetry.CounterGlobal("jobs_launched", 1, map[string]string{"instance": itype})
		jobs = append(jobs, *job)
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	log.Info().Msg("executables: " + strings.Join(ids, ", "))

	if err := f.wait(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (f *FanOut) wait(ctx context.Context, jobs []platform.Job) error {
	log.Info().Int("jobs", len(jobs)).Msg("awaiting completion")
	start := f.startKeepAlive
	if start == nil {
		start = StartKeepAlive
	}
	interval := f.KeepAliveInterval
	if interval <= 0 {
		interval = time.Minute
	}
	out := f.KeepAliveOut
	if out == nil {
		out = io.Discard
	}
	ka := start(out, interval)
	defer ka.Stop()

	var err error
	if f.Concurrent {
		err = f.waitConcurrent(ctx, jobs)
	} else {
		err = f.waitOrdered(ctx, jobs)
	}
	if err == nil {
		log.Info().Msg("done")
	}
	return err
}

func (f *FanOut) waitOrdered(ctx context.Context, jobs []platform.Job) error {
	for _, job := range jobs {
		if err := f.waitOne(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (f *FanOut) waitConcurrent(ctx context.Context, jobs []platform.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error { return f.waitOne(gctx, job) })
	}
	return g.Wait()
}

func (f *FanOut) waitOne(ctx context.Context, job platform.Job) error {
	state, err := f.Runner.WaitJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("wait %s: %w", job.ID, err)
	}
	telemetry.CounterGlobal("jobs_finished", 1, map[string]string{"state": string(state)})
	if state.Failed() {
		return &JobFailedError{JobID: job.ID, State: state}
	}
	log.Debug().Str("job", job.ID).Str("state", string(state)).Msg("job finished")
	return nil
}
