// Package localexec implements a trivial same-host ExecPlugin, grounded on
// original_source/plugins/local.c's contract (direct exec, no remote
// transport). It exists so the repo is runnable and testable without an
// external ssh/slurm collaborator, matching spec.md §6's ExecPlugin
// contract exactly: exec(host, argv) -> int.
package localexec

import (
	"context"
	"os/exec"
)

// Plugin runs argv[0] directly via os/exec, ignoring host (every agent
// runs on the same machine as the caller). Useful for development; the
// tests in pkg/node construct one.
type Plugin struct{}

// New returns a ready-to-use localexec Plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Exec(ctx context.Context, host string, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, exec.ErrNotFound
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	err := cmd.Start()
	if err != nil {
		return -1, err
	}
	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode(), nil
	}
	return -1, err
}
