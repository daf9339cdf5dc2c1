package runtimeinspect

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// LocalSource detects and controls the data plane as a bare local process,
// tracked via a PID file.
type LocalSource struct {
	pidFile   string
	binary    string
	binaryTag string // substring expected in `ps -p` output, confirming identity
}

// NewLocalSource builds a LocalSource reading pid from pidFile.
func NewLocalSource(pidFile, binary, binaryTag string) *LocalSource {
	return &LocalSource{pidFile: pidFile, binary: binary, binaryTag: binaryTag}
}

func (l *LocalSource) Mode() Mode { return ModeLocal }

func (l *LocalSource) readPID() (int, error) {
	raw, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}
	return parsePID(string(raw))
}

func (l *LocalSource) Inspect(ctx context.Context) (SourceDetails, error) {
	pid, err := l.readPID()
	if err != nil {
		return SourceDetails{Available: true, Exists: false}, nil
	}

	stdout, _, psErr := runCommand(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if psErr != nil || !strings.Contains(stdout, l.binaryTag) {
		return SourceDetails{Available: true, Exists: true, Running: false, State: "not-running"}, nil
	}

	return SourceDetails{Available: true, Exists: true, Running: true, State: "running"}, nil
}

func (l *LocalSource) Reload(ctx context.Context) Result {
	pid, err := l.readPID()
	if err != nil {
		return Result{OK: false, Detail: "pid file unreadable: " + err.Error()}
	}
	if err := sendHangup(pid); err != nil {
		return Result{OK: false, Detail: err.Error()}
	}
	return Result{OK: true}
}

func (l *LocalSource) Restart(ctx context.Context) Result {
	if res := l.Stop(ctx); !res.OK {
		return res
	}
	return l.Start(ctx)
}

func (l *LocalSource) Stop(ctx context.Context) Result {
	pid, err := l.readPID()
	if err != nil {
		return Result{OK: false, Detail: "pid file unreadable: " + err.Error()}
	}
	if err := sendTerminate(pid); err != nil {
		return Result{OK: false, Detail: err.Error()}
	}
	return Result{OK: true}
}

func (l *LocalSource) Start(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, l.binary)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (l *LocalSource) Test(ctx context.Context, configPath string) Result {
	stdout, stderr, _ := runCommand(ctx, l.binary, "-test", "-config", configPath)
	if strings.Contains(stderr, "failed") {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true, Detail: stdout}
}
