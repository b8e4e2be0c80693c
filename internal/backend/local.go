package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/me/optrun/pkg/model"
)

// LocalBackend runs each trial as a local OS process. Parameters reach the
// objective program through OPTRUN_PARAM_* environment variables; the last
// non-empty stdout line carries the objective value(s), whitespace separated.
type LocalBackend struct {
	command string
	workDir string
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[Handle]*localJob
}

type localJob struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *bytes.Buffer
	stderr *bytes.Buffer

	done      chan struct{}
	status    Status // written once, before done is closed
	objective []float64
	errMsg    string
}

// NewLocalBackend creates a LocalBackend running command via the shell.
// If workDir is empty, os.TempDir() is used.
func NewLocalBackend(command, workDir string, logger *slog.Logger) *LocalBackend {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalBackend{
		command: command,
		workDir: workDir,
		logger:  logger.With("component", "local-backend"),
		jobs:    make(map[Handle]*localJob),
	}
}

// Name returns "local".
func (b *LocalBackend) Name() string { return "local" }

// Submit starts the objective process asynchronously.
func (b *LocalBackend) Submit(ctx context.Context, trialID int, params []model.ParameterValue) (Handle, error) {
	h := Handle(fmt.Sprintf("local-%d", trialID))

	// Detach from the tick's context: the process outlives the submitting
	// tick and is stopped via Cancel.
	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", b.command)
	cmd.Dir = b.workDir
	cmd.Env = append(os.Environ(), fmt.Sprintf("OPTRUN_TRIAL_ID=%d", trialID))
	for _, p := range params {
		cmd.Env = append(cmd.Env, fmt.Sprintf("OPTRUN_PARAM_%s=%v", strings.ToUpper(p.Name), p.Value))
	}

	job := &localJob{
		cmd:    cmd,
		cancel: cancel,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		done:   make(chan struct{}),
	}
	cmd.Stdout = job.stdout
	cmd.Stderr = job.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("trial %d: start objective: %w", trialID, err)
	}

	b.mu.Lock()
	b.jobs[h] = job
	b.mu.Unlock()

	go func() {
		defer cancel()
		err := cmd.Wait()
		if err != nil {
			job.status = StatusFailure
			job.errMsg = strings.TrimSpace(job.stderr.String())
			if job.errMsg == "" {
				job.errMsg = err.Error()
			}
		} else {
			objective, perr := parseObjective(job.stdout.String())
			if perr != nil {
				job.status = StatusFailure
				job.errMsg = perr.Error()
			} else {
				job.status = StatusSuccess
				job.objective = objective
			}
		}
		close(job.done)
	}()

	b.logger.Debug("objective started", "trial_id", trialID, "pid", cmd.Process.Pid)
	return h, nil
}

// Poll reports the process status without blocking.
func (b *LocalBackend) Poll(ctx context.Context, h Handle) (Status, error) {
	job, err := b.get(h)
	if err != nil {
		return "", err
	}
	select {
	case <-job.done:
		return job.status, nil
	default:
		return StatusRunning, nil
	}
}

// Result returns the parsed objective values after a terminal poll.
func (b *LocalBackend) Result(ctx context.Context, h Handle) ([]float64, error) {
	job, err := b.get(h)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.done:
	default:
		return nil, fmt.Errorf("handle %s: result requested before completion", h)
	}
	if job.status != StatusSuccess {
		return nil, fmt.Errorf("handle %s: no result in status %s", h, job.status)
	}
	return job.objective, nil
}

// Err returns the captured diagnostic for a failed trial.
func (b *LocalBackend) Err(ctx context.Context, h Handle) string {
	job, err := b.get(h)
	if err != nil {
		return ""
	}
	select {
	case <-job.done:
		return job.errMsg
	default:
		return ""
	}
}

// Cancel kills the objective process.
func (b *LocalBackend) Cancel(ctx context.Context, h Handle) error {
	job, err := b.get(h)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

func (b *LocalBackend) get(h Handle) (*localJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[h]
	if !ok {
		return nil, fmt.Errorf("unknown handle %s", h)
	}
	return job, nil
}

// parseObjective reads the last non-empty stdout line as one or more
// whitespace-separated float values.
func parseObjective(stdout string) ([]float64, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	if last == "" {
		return nil, fmt.Errorf("objective produced no output")
	}

	fields := strings.Fields(last)
	objective := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse objective %q: %w", last, err)
		}
		objective[i] = v
	}
	return objective, nil
}
