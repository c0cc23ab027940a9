package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/querydesk/querydesk/internal/query"
)

const defaultWaitDelay = 2 * time.Second

// ExecRunner spawns the kubectl binary once per command and buffers both
// output streams in full.
type ExecRunner struct {
	Path       string
	Kubeconfig string
	Context    string
	WaitDelay  time.Duration
}

func NewExecRunner(cfg Config) *ExecRunner {
	return &ExecRunner{
		Path:       cfg.KubectlPath,
		Kubeconfig: cfg.Kubeconfig,
		Context:    cfg.Context,
	}
}

// Run returns an error only when the process could not be started or the
// context ended first. A non-zero exit is reported through ExitCode.
func (r *ExecRunner) Run(ctx context.Context, args []string) (query.CommandResult, error) {
	path := r.Path
	if path == "" {
		path = "kubectl"
	}

	cmd := exec.CommandContext(ctx, path, r.commandArgs(args)...)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return query.CommandResult{}, fmt.Errorf("start %s: %w", path, err)
	}
	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return query.CommandResult{}, ctxErr
	}

	result := query.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return query.CommandResult{}, fmt.Errorf("wait %s: %w", path, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func (r *ExecRunner) commandArgs(args []string) []string {
	out := make([]string, 0, len(args)+2)
	if r.Kubeconfig != "" {
		out = append(out, "--kubeconfig="+r.Kubeconfig)
	}
	if r.Context != "" {
		out = append(out, "--context="+r.Context)
	}
	return append(out, args...)
}
