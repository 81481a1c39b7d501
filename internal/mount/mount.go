package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotReady is returned when the mount point does not come up in time.
var ErrNotReady = errors.New("mount not ready")

// Config describes how to run and stop the filesystem daemon.
type Config struct {
	// Binary is the filesystem daemon, started as `Binary mountpoint project-id`.
	Binary string
	Sudo   bool
	// UnmountCommand is run with the mount point appended.
	UnmountCommand []string
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	// ExitGrace bounds how long Unmount waits for the daemon to exit before killing it.
	ExitGrace time.Duration
}

// Process controls one background filesystem daemon.
type Process struct {
	cfg Config

	// Probe reports nil once the mount point is serving. Defaults to a
	// mount-point check followed by a directory listing.
	Probe func(mountpoint string) error

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  bytes.Buffer
	exited  chan struct{}
	exitErr error
}

// New fills in defaults for unset timings and the unmount command.
func New(cfg Config) *Process {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = 5 * time.Second
	}
	if len(cfg.UnmountCommand) == 0 {
		cfg.UnmountCommand = []string{"umount"}
		if cfg.Sudo {
			cfg.UnmountCommand = []string{"sudo", "umount"}
		}
	}
	return &Process{cfg: cfg, Probe: defaultProbe}
}

// Mount starts the daemon and blocks until the mount point is ready.
func (p *Process) Mount(ctx context.Context, mountpoint, projectID string) error {
	if err := p.Start(mountpoint, projectID); err != nil {
		return err
	}
	return p.WaitReady(ctx, mountpoint)
}

// Start launches the daemon in the background. It is not tied to ctx: the
// daemon must outlive cancellation until Unmount runs.
func (p *Process) Start(mountpoint, projectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("mount %s: already started", mountpoint)
	}

	name, args := p.cfg.Binary, []string{mountpoint, projectID}
	if p.cfg.Sudo {
		name, args = "sudo", append([]string{p.cfg.Binary}, args...)
	}
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = &p.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Binary, err)
	}
	log.Debug().Int("pid", cmd.Process.Pid).Str("mountpoint", mountpoint).Str("project", projectID).Msg("mount daemon started")

	p.cmd = cmd
	p.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()
	return nil
}

// WaitReady polls the probe until it succeeds or the ready timeout passes.
// A non-zero daemon exit fails at once; a clean exit keeps polling.
func (p *Process) WaitReady(ctx context.Context, mountpoint string) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return fmt.Errorf("mount %s: not started", mountpoint)
	}

	timeout := time.NewTimer(p.cfg.ReadyTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = p.Probe(mountpoint); lastErr == nil {
			log.Debug().Str("mountpoint", mountpoint).Msg("mount ready")
			return nil
		}
		select {
		case <-exited:
			p.mu.Lock()
			err, stderr := p.exitErr, p.stderr.String()
			p.mu.Unlock()
			if err == nil {
				// daemonized: the parent exits 0 and the child keeps serving
				log.Debug().Str("mountpoint", mountpoint).Msg("mount daemon detached")
				exited = nil
				continue
			}
			return fmt.Errorf("mount daemon exited before %s was ready (%v): %s: %w", mountpoint, err, stderr, ErrNotReady)
		case <-timeout.C:
			return fmt.Errorf("%s after %s (%v): %w", mountpoint, p.cfg.ReadyTimeout, lastErr, ErrNotReady)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Unmount runs the unmount command and reaps the daemon, killing it if it
// outlives the exit grace period.
func (p *Process) Unmount(ctx context.Context, mountpoint string) error {
	args := append(append([]string{}, p.cfg.UnmountCommand[1:]...), mountpoint)
	out, err := exec.CommandContext(ctx, p.cfg.UnmountCommand[0], args...).CombinedOutput()
	if err != nil {
		err = fmt.Errorf("unmount %s: %w: %s", mountpoint, err, bytes.TrimSpace(out))
	}

	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil {
		return err
	}

	select {
	case <-exited:
	case <-time.After(p.cfg.ExitGrace):
		log.Warn().Int("pid", cmd.Process.Pid).Msg("mount daemon still running after unmount, killing")
		_ = cmd.Process.Kill()
		<-exited
	}

	p.mu.Lock()
	p.cmd, p.exited = nil, nil
	p.mu.Unlock()
	return err
}

func defaultProbe(mountpoint string) error {
	ok, err := IsMountPoint(mountpoint)
	switch {
	case errors.Is(err, errors.ErrUnsupported):
	case err != nil:
		return err
	case !ok:
		return fmt.Errorf("%s is not a mount point yet", mountpoint)
	}
	_, err = os.ReadDir(mountpoint)
	return err
}
