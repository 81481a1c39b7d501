package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fusebench/pkg/api"
)

// fakeClock advances by step on every call.
func fakeClock(t *testing.T, step time.Duration) {
	t.Helper()
	cur := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time {
		c := cur
		cur = cur.Add(step)
		return c
	}
	t.Cleanup(func() { now = time.Now })
}

func TestTimedRoundsToNearestSecond(t *testing.T) {
	for step, want := range map[time.Duration]int64{
		1400 * time.Millisecond: 1,
		1500 * time.Millisecond: 2,
		200 * time.Millisecond:  0,
	} {
		fakeClock(t, step)
		got, err := timed(api.PathMount, func() error { return nil })
		require.NoError(t, err)
		assert.Equal(t, want, got, step)
	}
}

func TestTimedPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := timed(api.PathMount, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestTimeMountCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	_, err := TimeMountCopy(src, dst)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = TimeMountCopy(filepath.Join(dir, "missing"), dst)
	assert.Error(t, err)
}

type recordingDownloader struct {
	project, remote, local string
	err                    error
}

func (d *recordingDownloader) Download(_ context.Context, project, remote, local string) error {
	d.project, d.remote, d.local = project, remote, local
	return d.err
}

func TestTimeBaselineCopy(t *testing.T) {
	d := &recordingDownloader{}
	_, err := TimeBaselineCopy(context.Background(), d, "project-1", "benchmarks/f", "/tmp/f")
	require.NoError(t, err)
	assert.Equal(t, "project-1", d.project)
	assert.Equal(t, "benchmarks/f", d.remote)
	assert.Equal(t, "/tmp/f", d.local)
}

func TestDXDownloaderCommandFailure(t *testing.T) {
	d := DXDownloader{Binary: "false"}
	err := d.Download(context.Background(), "project-1", "benchmarks/f", filepath.Join(t.TempDir(), "f"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project-1:/benchmarks/f")
}

func TestMountCopyIsNotSynced(t *testing.T) {
	// the baseline tool does not fsync, so neither may the mount side
	assert.False(t, mountCopyOptions.Sync)
}
