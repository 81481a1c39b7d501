package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fusebench/pkg/api"
)

// Mounter starts and stops the virtual filesystem on a mount point.
type Mounter interface {
	Mount(ctx context.Context, mountpoint, projectID string) error
	Unmount(ctx context.Context, mountpoint string) error
}

// mountCopy is swapped in tests.
var mountCopy = TimeMountCopy

// StreamState is a phase of the local streaming benchmark.
type StreamState string

const (
	StateInit        StreamState = "init"
	StateCleaning    StreamState = "cleaning"
	StateMounting    StreamState = "mounting"
	StateDiscovering StreamState = "discovering"
	StateMeasuring   StreamState = "measuring"
	StateUnmounting  StreamState = "unmounting"
	StateDone        StreamState = "done"
	StateFailed      StreamState = "failed"
)

// StreamResult pairs the two measurements of one file.
type StreamResult struct {
	File     string
	Size     int64
	Mount    api.Measurement
	Baseline api.Measurement
}

// StreamBenchmark mounts the project, then times a baseline download and a
// mount-backed copy of every file in BenchFolder, one file at a time.
type StreamBenchmark struct {
	Dirs        WorkDirs
	HomeDir     string
	BenchFolder string
	ProjectID   string
	Mounter     Mounter
	Downloader  Downloader
	// Verify compares the two copies of each file after measuring it.
	Verify bool
	Out    io.Writer

	state StreamState
}

// State returns the phase the last Run stopped in.
func (b *StreamBenchmark) State() StreamState { return b.state }

func (b *StreamBenchmark) enter(s StreamState) {
	b.state = s
	log.Debug().Str("state", string(s)).Msg("stream benchmark")
}

// Run executes one benchmark. The mount point is unmounted exactly once
// on every path that reached MOUNTING; an unmount error is returned only
// when nothing failed before it.
func (b *StreamBenchmark) Run(ctx context.Context) (results []StreamResult, err error) {
	b.enter(StateInit)
	out := b.Out
	if out == nil {
		out = io.Discard
	}

	b.enter(StateCleaning)
	log.Info().Str("base", filepath.Dir(b.Dirs.MountPoint)).Msg("clearing out working directories")
	if err := b.Dirs.Reset(b.HomeDir); err != nil {
		b.enter(StateFailed)
		return nil, err
	}

	b.enter(StateMounting)
	log.Info().Str("mountpoint", b.Dirs.MountPoint).Msg("mounting")
	defer func() {
		b.enter(StateUnmounting)
		log.Info().Str("mountpoint", b.Dirs.MountPoint).Msg("unmounting")
		uerr := b.Mounter.Unmount(context.WithoutCancel(ctx), b.Dirs.MountPoint)
		switch {
		case err != nil:
			if uerr != nil {
				log.Error().Err(uerr).Msg("unmount failed")
			}
			b.enter(StateFailed)
		case uerr != nil:
			err = uerr
			b.enter(StateFailed)
		default:
			b.enter(StateDone)
		}
	}()
	if err := b.Mounter.Mount(ctx, b.Dirs.MountPoint, b.ProjectID); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	b.enter(StateDiscovering)
	benchDir := filepath.Join(b.Dirs.MountPoint, b.BenchFolder)
	files, err := discover(benchDir)
	if err != nil {
		return nil, err
	}
	log.Info().Strs("files", names(files)).Msg("files to stream")

	b.enter(StateMeasuring)
	fmt.Fprintln(out, "file\tsize\tmount(sec)\tbaseline(sec)")
	for _, f := range files {
		r, err := b.measure(ctx, f)
		if err != nil {
			return results, err
		}
		fmt.Fprintf(out, "%s\t%s\t%d\t%d\n", r.File, humanize.IBytes(uint64(r.Size)), r.Mount.Seconds, r.Baseline.Seconds)
		results = append(results, r)
	}
	return results, nil
}

// measure times the baseline download first, then the mount-backed copy.
func (b *StreamBenchmark) measure(ctx context.Context, f os.FileInfo) (StreamResult, error) {
	name := f.Name()
	baselineDst := filepath.Join(b.Dirs.Download, name)
	mountDst := filepath.Join(b.Dirs.MountCopy, name)

	bsec, err := TimeBaselineCopy(ctx, b.Downloader, b.ProjectID, path.Join(b.BenchFolder, name), baselineDst)
	if err != nil {
		return StreamResult{}, &CopyError{File: name, Path: api.PathBaseline, Err: err}
	}
	msec, err := mountCopy(filepath.Join(b.Dirs.MountPoint, b.BenchFolder, name), mountDst)
	if err != nil {
		return StreamResult{}, &CopyError{File: name, Path: api.PathMount, Err: err}
	}

	if b.Verify {
		if err := VerifySame(baselineDst, mountDst); err != nil {
			return StreamResult{}, err
		}
	}

	return StreamResult{
		File:     name,
		Size:     f.Size(),
		Mount:    api.Measurement{File: name, Path: api.PathMount, Seconds: msec},
		Baseline: api.Measurement{File: name, Path: api.PathBaseline, Seconds: bsec},
	}, nil
}

// discover lists the regular files of dir in directory order.
func discover(dir string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []os.FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, info)
	}
	return files, nil
}

func names(files []os.FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name()
	}
	return out
}
