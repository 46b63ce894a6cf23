// Package runner owns the OS-level lifecycle of JMeter child processes:
// one invocation per execution, tracked in a registry so a run can be
// forcibly terminated by execution id while it is in flight.
package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// outputExcerptLimit caps how much captured JMeter output is embedded in
// a failure message.
const outputExcerptLimit = 2000

// ToolPathResolver resolves the configured JMeter binary path at call
// time, so a path configured after startup is picked up without a
// restart. config.Live satisfies this.
type ToolPathResolver interface {
	JMeterPath() string
}

// JMeter spawns and tracks JMeter child processes
type JMeter struct {
	tool       ToolPathResolver
	outputRoot string // Per-execution output directories live under here
	log        *zap.SugaredLogger

	mu    sync.Mutex
	procs map[string]*exec.Cmd // Live processes by execution id
}

// NewJMeter creates a runner writing output under outputRoot
func NewJMeter(tool ToolPathResolver, outputRoot string, log *zap.SugaredLogger) *JMeter {
	return &JMeter{
		tool:       tool,
		outputRoot: outputRoot,
		log:        log.Named("runner"),
		procs:      make(map[string]*exec.Cmd),
	}
}

// Execute runs the given test plan through JMeter and blocks until the
// process exits. The configured tool path is validated before anything
// is spawned: an unset path and a missing binary are distinct failures.
// Exit code 0 maps to Success with the execution's output directory;
// anything else maps to Failure with the exit code and an output excerpt.
func (j *JMeter) Execute(ctx context.Context, planPath string, executionID string) Result {
	toolPath := j.tool.JMeterPath()
	if toolPath == "" {
		return Failure("jmeter path not configured: set jmeter.path in jwr.toml or JWR_JMETER_PATH")
	}
	if _, err := os.Stat(toolPath); err != nil {
		return Failure("jmeter binary not found at %s", toolPath)
	}

	execDir := filepath.Join(j.outputRoot, executionID)
	reportDir := filepath.Join(execDir, "report")
	resultsLog := filepath.Join(execDir, "results.jtl")

	// Fresh directory per execution; the HTML report dir must not
	// pre-exist or JMeter refuses to write it
	if err := os.RemoveAll(execDir); err != nil {
		return Failure("failed to clear output directory %s: %v", execDir, err)
	}
	if err := os.MkdirAll(execDir, 0o755); err != nil {
		return Failure("failed to create output directory %s: %v", execDir, err)
	}

	// Non-interactive run with results log and HTML report generation
	cmd := exec.CommandContext(ctx, toolPath,
		"-n",
		"-t", planPath,
		"-l", resultsLog,
		"-e",
		"-o", reportDir,
	)
	setProcessGroup(cmd)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return Failure("failed to start jmeter: %v", err)
	}

	j.register(executionID, cmd)
	defer j.unregister(executionID)

	j.log.Infow("JMeter process started",
		"execution_id", executionID,
		"pid", cmd.Process.Pid,
		"plan", planPath)

	err := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Failure("jmeter run interrupted: %v", ctxErr)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Failure("jmeter exited with code %d: %s",
				exitErr.ExitCode(), excerpt(output.Bytes()))
		}
		return Failure("jmeter run failed: %v: %s", err, excerpt(output.Bytes()))
	}

	j.log.Infow("JMeter process finished",
		"execution_id", executionID,
		"output_dir", execDir)

	return Success(execDir)
}

// Terminate forcibly kills the live process for the given execution id,
// descendants included, and removes its registry entry. Returns false
// when no live process is registered (already exited or never started).
// Never returns an error: OS-level kill failures are logged and reported
// as false so the caller can still mark the execution cancelled.
func (j *JMeter) Terminate(executionID string) bool {
	j.mu.Lock()
	cmd, ok := j.procs[executionID]
	if ok {
		delete(j.procs, executionID)
	}
	j.mu.Unlock()

	if !ok {
		return false
	}

	j.log.Infow("Terminating JMeter process",
		"execution_id", executionID,
		"pid", cmd.Process.Pid)
	killProcessTree(cmd)
	return true
}

// Running reports whether a live process is registered for the id
func (j *JMeter) Running(executionID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.procs[executionID]
	return ok
}

func (j *JMeter) register(executionID string, cmd *exec.Cmd) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.procs[executionID] = cmd
}

func (j *JMeter) unregister(executionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.procs, executionID)
}

// excerpt returns the tail of captured output, where JMeter puts the
// actual error
func excerpt(output []byte) string {
	if len(output) > outputExcerptLimit {
		output = output[len(output)-outputExcerptLimit:]
	}
	return string(bytes.TrimSpace(output))
}
