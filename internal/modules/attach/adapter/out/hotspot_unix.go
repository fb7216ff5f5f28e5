//go:build unix

package out

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"attacher/internal/modules/attach/domain"
)

// discover returns the attach socket of pid, asking the target to open it
// with an attach trigger file and SIGQUIT when it is not listening yet.
func (c *HotSpotController) discover(ctx context.Context, pid int) (string, error) {
	dirs := c.socketDirs(pid)
	if path, ok := findSocket(dirs, pid); ok {
		return path, verifySocketOwner(path)
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	// Only a VM has a SIGQUIT handler; the default action would kill the target.
	catches, err := catchesQuit(pid)
	if err != nil {
		return "", err
	}
	if !catches {
		return "", fmt.Errorf("%w: process %d does not handle SIGQUIT", domain.ErrNotAttachable, pid)
	}

	trigger, err := createTrigger(pid, dirs)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(trigger); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("remove attach trigger", "path", trigger, "error", err)
		}
	}()
	if err := syscall.Kill(pid, syscall.SIGQUIT); err != nil {
		return "", fmt.Errorf("signal process %d: %w", pid, err)
	}
	c.logger.Debug("attach listener requested", "pid", pid, "trigger", trigger)

	deadline := time.NewTimer(c.cfg.AttachTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("process %d did not open an attach listener within %s", pid, c.cfg.AttachTimeout)
		case <-ticker.C:
			if path, ok := findSocket(dirs, pid); ok {
				return path, verifySocketOwner(path)
			}
		}
	}
}

func (c *HotSpotController) socketDirs(pid int) []string {
	if c.cfg.TmpDir != "" {
		return []string{c.cfg.TmpDir}
	}
	dirs := []string{filepath.Join("/proc", strconv.Itoa(pid), "root", "tmp")}
	if tmp := os.TempDir(); tmp != dirs[0] {
		dirs = append(dirs, tmp)
	}
	return dirs
}

func findSocket(dirs []string, pid int) (string, bool) {
	name := ".java_pid" + strconv.Itoa(pid)
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && info.Mode()&fs.ModeSocket != 0 {
			return path, true
		}
	}
	return "", false
}

// createTrigger prefers the target's working directory, then the socket dirs.
func createTrigger(pid int, dirs []string) (string, error) {
	name := ".attach_pid" + strconv.Itoa(pid)
	candidates := append([]string{filepath.Join("/proc", strconv.Itoa(pid), "cwd")}, dirs...)
	var lastErr error
	for _, dir := range candidates {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			lastErr = err
			continue
		}
		_ = f.Close()
		return path, nil
	}
	return "", fmt.Errorf("create attach trigger: %w", lastErr)
}

// catchesQuit reads the caught signal mask from /proc/<pid>/status. Without
// procfs (macOS, the BSDs) the mask is unknown and the target is trusted.
func catchesQuit(pid int) (bool, error) {
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !procMounted() {
			return true, nil
		}
		return false, fmt.Errorf("read status of process %d: %w", pid, err)
	}
	return sigCgtHas(string(raw), syscall.SIGQUIT)
}

func procMounted() bool {
	_, err := os.Stat("/proc/self/status")
	return err == nil
}

// sigCgtHas reports whether the SigCgt line of a status file has sig set.
func sigCgtHas(status string, sig syscall.Signal) (bool, error) {
	for _, line := range strings.Split(status, "\n") {
		value, ok := strings.CutPrefix(line, "SigCgt:")
		if !ok {
			continue
		}
		mask, err := strconv.ParseUint(strings.TrimSpace(value), 16, 64)
		if err != nil {
			return false, fmt.Errorf("parse SigCgt %q: %w", strings.TrimSpace(value), err)
		}
		return mask&(1<<(uint(sig)-1)) != 0, nil
	}
	return false, fmt.Errorf("status has no SigCgt line")
}

func verifySocketOwner(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat attach socket: %w", err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if euid := os.Geteuid(); int(stat.Uid) != euid {
		return fmt.Errorf("attach socket %s is owned by uid %d, not %d", path, stat.Uid, euid)
	}
	return nil
}
