package core

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fusebench/internal/platform"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

// Platform is everything the remote runner needs from the API client.
type Platform interface {
	JobRunner
	JobDescriber
	ResolveProject(ctx context.Context, nameOrID string) (*platform.Project, error)
	LookupApplet(ctx context.Context, project *platform.Project, folder, name string) (*platform.Applet, error)
}

type RemoteOptions struct {
	Project           string
	Test              api.TestKind
	Size              string
	AppletFolder      string
	BenchmarkApplet   string
	CorrectnessApplet string
	Format            string
}

// Remote runs a test applet across the instance types of a size ladder.
type Remote struct {
	Platform Platform
	FanOut   *FanOut
	// Store is optional; benchmark results are recorded when set.
	Store *Store
	Out   io.Writer
}

func (o RemoteOptions) appletName() (string, error) {
	switch o.Test {
	case api.TestBenchmark:
		return o.BenchmarkApplet, nil
	case api.TestCorrectness:
		return o.CorrectnessApplet, nil
	}
	return "", fmt.Errorf("test %q (want benchmark or correctness): %w", o.Test, ErrUnknownTest)
}

// Run resolves the project, picks instance types from the project's region,
// launches the test applet on each and, for benchmarks, prints the results.
// Input errors are reported before anything is launched.
func (r *Remote) Run(ctx context.Context, opts RemoteOptions) ([]api.ResultRow, error) {
	appletName, err := opts.appletName()
	if err != nil {
		return nil, err
	}

	project, err := r.Platform.ResolveProject(ctx, opts.Project)
	if err != nil {
		return nil, err
	}
	log.Info().Str("project", project.ID).Str("region", project.Region).Msg("resolved project")

	itypes, err := SelectInstanceTypes(project.Region, opts.Size)
	if err != nil {
		return nil, err
	}

	applet, err := r.Platform.LookupApplet(ctx, project, opts.AppletFolder, appletName)
	if err != nil {
		return nil, err
	}

	run := NewRunRecord(project.ID, project.Region, opts.Size, opts.Test)
	jobs, err := r.FanOut.LaunchAndWait(ctx, project, applet, itypes)
	if err != nil {
		return nil, err
	}
	if opts.Test != api.TestBenchmark {
		return nil, nil
	}

	rows, err := CollectResults(ctx, r.Platform, jobs)
	if err != nil {
		return nil, err
	}
	if r.Out != nil {
		if err := WriteResults(r.Out, rows, opts.Format); err != nil {
			return rows, err
		}
	}
	if r.Store != nil {
		if err := r.Store.SaveRun(ctx, run, rows); err != nil {
			return rows, fmt.Errorf("save history: %w", err)
		}
		log.Debug().Str("run", run.ID).Int("rows", len(rows)).Msg("saved history")
	}
	return rows, nil
}
