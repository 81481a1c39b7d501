package core

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"path"
	"time"

	"github.com/otiai10/copy"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fusebench/internal/telemetry"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

var now = time.Now

// mountCopyOptions match a plain cp: no fsync, since the baseline download
// is not synced either.
var mountCopyOptions = copy.Options{}

// Downloader fetches a remote project path to a local file.
type Downloader interface {
	Download(ctx context.Context, projectID, remotePath, localPath string) error
}

// DXDownloader shells out to the platform's download tool:
// `dx download project-xxxx:/folder/file -o local`.
type DXDownloader struct {
	Binary string
}

func (d DXDownloader) Download(ctx context.Context, projectID, remotePath, localPath string) error {
	bin := d.Binary
	if bin == "" {
		bin = "dx"
	}
	src := projectID + ":" + path.Join("/", remotePath)
	out, err := exec.CommandContext(ctx, bin, "download", src, "-o", localPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s download %s: %w: %s", bin, src, err, bytes.TrimSpace(out))
	}
	return nil
}

// timed runs fn and returns its wall-clock duration rounded to whole seconds.
func timed(label api.PathLabel, fn func() error) (int64, error) {
	start := now()
	if err := fn(); err != nil {
		return 0, err
	}
	elapsed := now().Sub(start)
	telemetry.TimerGlobal("copy", elapsed, map[string]string{"path": string(label)})
	return int64(math.Round(elapsed.Seconds())), nil
}

// TimeMountCopy copies a file living under a live mount point to dst.
func TimeMountCopy(src, dst string) (int64, error) {
	log.Debug().Str("src", src).Str("dst", dst).Msg("copying from the mount point")
	return timed(api.PathMount, func() error {
		return copy.Copy(src, dst, mountCopyOptions)
	})
}

// TimeBaselineCopy downloads folder/file from the project with d.
func TimeBaselineCopy(ctx context.Context, d Downloader, projectID, remotePath, dst string) (int64, error) {
	log.Debug().Str("src", remotePath).Str("dst", dst).Msg("copying with the download tool")
	return timed(api.PathBaseline, func() error {
		return d.Download(ctx, projectID, remotePath, dst)
	})
}
