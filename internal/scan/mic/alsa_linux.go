//go:build linux

package mic

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// New returns the ALSA detector reading the real /proc.
func New(logger *zap.Logger) Detector {
	return &ALSADetector{
		AsoundRoot: "/proc/asound",
		ProcRoot:   procfs.DefaultMountPoint,
		Logger:     logger,
	}
}

// ALSADetector finds the processes holding an ALSA capture substream open.
// Each substream status file lists an owner_pid while the device is in use.
type ALSADetector struct {
	AsoundRoot string
	ProcRoot   string
	Logger     *zap.Logger
}

// InUse implements Detector.
func (d *ALSADetector) InUse(ctx context.Context, apps []string) (bool, error) {
	if len(apps) == 0 {
		return false, nil
	}
	owners, err := d.Owners(ctx)
	if err != nil {
		return false, err
	}
	for _, o := range owners {
		if matchesAny(o, apps) {
			d.Logger.Debug("watched application is using the microphone", zap.String("app", o))
			return true, nil
		}
	}
	return false, nil
}

// Owners returns the program names of the processes capturing audio.
func (d *ALSADetector) Owners(ctx context.Context) ([]string, error) {
	fs, err := procfs.NewFS(d.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", d.ProcRoot, err)
	}
	statuses, err := filepath.Glob(filepath.Join(d.AsoundRoot, "card*", "pcm*c", "sub*", "status"))
	if err != nil {
		return nil, fmt.Errorf("list capture substreams: %w", err)
	}

	var owners []string
	for _, path := range statuses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pid, ok, err := ownerPID(path)
		if err != nil {
			d.Logger.Debug("unreadable substream status", zap.String("path", path), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		name, err := programName(fs, pid)
		if err != nil {
			// The process may have exited since the status was read.
			d.Logger.Debug("cannot resolve capture owner", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		owners = append(owners, name)
	}
	return owners, nil
}

// ownerPID reads the owner_pid line of a substream status file. ok is false
// when the substream is closed.
func ownerPID(path string) (pid int, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, found := strings.Cut(sc.Text(), ":")
		if !found || strings.TrimSpace(key) != "owner_pid" {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false, fmt.Errorf("parse owner_pid in %s: %w", path, err)
		}
		return pid, true, nil
	}
	return 0, false, sc.Err()
}

// programName returns argv[0] of pid, or its comm when the command line is
// empty.
func programName(fs procfs.FS, pid int) (string, error) {
	p, err := fs.Proc(pid)
	if err != nil {
		return "", err
	}
	cmdline, err := p.CmdLine()
	if err == nil && len(cmdline) > 0 && cmdline[0] != "" {
		return cmdline[0], nil
	}
	return p.Comm()
}
