package packetguard

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// ExecCommandRunner executes mitigation commands through the platform shell.
type ExecCommandRunner struct {
	timeout time.Duration
}

func NewExecCommandRunner(timeout time.Duration) *ExecCommandRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecCommandRunner{timeout: timeout}
}

func (r *ExecCommandRunner) Run(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command %q: %w", command, err)
	}
	return string(out), nil
}

// DryRunCommandRunner records mitigation commands without executing them.
// Used by the daemon's dry_run mode and by demos.
type DryRunCommandRunner struct {
	logger *log.Logger

	mu       sync.Mutex
	commands []string
}

func NewDryRunCommandRunner(logger *log.Logger) *DryRunCommandRunner {
	if logger == nil {
		logger = defaultLogger()
	}
	return &DryRunCommandRunner{logger: logger}
}

func (r *DryRunCommandRunner) Run(command string) (string, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.mu.Unlock()
	r.logger.Info().Str("command", command).Msg("dry-run command")
	return "", nil
}

// Commands returns everything Run has been asked to execute, in order.
func (r *DryRunCommandRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}
