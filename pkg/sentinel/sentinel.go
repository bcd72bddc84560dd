// Package sentinel supervises a child copy of the current binary and
// restarts it when the binary on disk is replaced. Deployments that drop a
// new build over the old file (atomic write + rename included) roll out
// without any coordination with the running process.
package sentinel

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// gracePeriod is how long a child gets between SIGTERM and SIGKILL.
	gracePeriod = 10 * time.Second

	initialBackoff = 5 * time.Second
	maxBackoff     = 10 * time.Minute
	backoffFactor  = 2.0

	// successRunTime is how long a child must live before its crash resets
	// the backoff instead of growing it.
	successRunTime = 30 * time.Second

	// debounceInterval lets a burst of filesystem events settle before the
	// checksum is recomputed.
	debounceInterval = 100 * time.Millisecond
)

// Supervisor restarts a child process running this same binary with
// ChildArgs whenever the binary changes on disk or the child dies.
type Supervisor struct {
	// ChildArgs are passed to the re-executed binary, typically the
	// subcommand that runs the real workload.
	ChildArgs []string

	binaryPath string
	lastHash   [sha256.Size]byte
	backoff    time.Duration
}

func New(childArgs ...string) (*Supervisor, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}
	// Watch the real file, not a symlink to it.
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	s := &Supervisor{
		ChildArgs:  childArgs,
		binaryPath: path,
		backoff:    initialBackoff,
	}
	s.lastHash, err = hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash binary: %w", err)
	}
	return s, nil
}

// Run supervises until ctx is cancelled. It only returns on cancellation or
// when a child cannot even be started after backoff keeps failing.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("sentinel starting", "binary", s.binaryPath, "hash", fmt.Sprintf("%x", s.lastHash[:8]))

	updateCh := make(chan struct{}, 1)
	go s.watchBinary(ctx, updateCh)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		child, err := s.startChild()
		if err != nil {
			slog.Error("failed to start child", "error", err)
			s.sleepBackoff(ctx)
			s.increaseBackoff()
			continue
		}
		startTime := time.Now()

		childDone := make(chan error, 1)
		go func() {
			childDone <- child.Wait()
		}()

		select {
		case err := <-childDone:
			elapsed := time.Since(startTime)
			if err != nil {
				slog.Error("child exited with error", "elapsed", elapsed, "error", err)
				if elapsed >= successRunTime {
					s.backoff = initialBackoff
				}
				s.sleepBackoff(ctx)
				s.increaseBackoff()
				continue
			}
			// The workload runs forever, so even a clean exit means restart.
			slog.Info("child exited cleanly", "elapsed", elapsed)
			s.backoff = initialBackoff
			time.Sleep(time.Second)

		case <-updateCh:
			slog.Info("binary update detected, restarting child")
			s.stopChild(child)
			<-childDone
			if h, err := hashFile(s.binaryPath); err == nil {
				s.lastHash = h
				slog.Info("new binary hash", "hash", fmt.Sprintf("%x", h[:8]))
			}
			s.backoff = initialBackoff

		case <-ctx.Done():
			slog.Info("sentinel shutting down, stopping child")
			s.stopChild(child)
			<-childDone
			return ctx.Err()
		}
	}
}

func (s *Supervisor) startChild() (*exec.Cmd, error) {
	cmd := exec.Command(s.binaryPath, s.ChildArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %s: %w", s.binaryPath, err)
	}
	slog.Info("started child process", "pid", cmd.Process.Pid)
	return cmd, nil
}

// stopChild sends SIGTERM and schedules a SIGKILL after the grace period.
// The caller drains the child's Wait result.
func (s *Supervisor) stopChild(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("failed to signal child, it may already be gone", "pid", pid, "error", err)
		return
	}
	go func() {
		time.Sleep(gracePeriod)
		if err := cmd.Process.Signal(syscall.Signal(0)); err == nil {
			slog.Warn("grace period expired, killing child", "pid", pid)
			_ = cmd.Process.Kill()
		}
	}()
}

// watchBinary watches the binary's parent directory. Atomic deploys replace
// the inode, so watching the file itself would go blind after the first
// update; directory events cover the rename.
func (s *Supervisor) watchBinary(ctx context.Context, updateCh chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		return
	}
	defer watcher.Close()

	watchDir := filepath.Dir(s.binaryPath)
	binaryName := filepath.Base(s.binaryPath)
	if err := watcher.Add(watchDir); err != nil {
		slog.Error("failed to watch directory", "dir", watchDir, "error", err)
		return
	}

	var debounceTimer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != binaryName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceInterval, func() {
				newHash, err := hashFile(s.binaryPath)
				if err != nil {
					slog.Warn("failed to hash binary after event", "error", err)
					return
				}
				if newHash == s.lastHash {
					return
				}
				select {
				case updateCh <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("hash %s: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func (s *Supervisor) sleepBackoff(ctx context.Context) {
	select {
	case <-time.After(s.backoff):
	case <-ctx.Done():
	}
}

func (s *Supervisor) increaseBackoff() {
	s.backoff = time.Duration(float64(s.backoff) * backoffFactor)
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
}
