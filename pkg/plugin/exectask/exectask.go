// Package exectask implements a trivial TaskPlugin that runs the task
// argv (argv[0], with the rest as its arguments) as a subprocess,
// mirroring pkg/plugin/localexec's
// approach to the ExecPlugin contract: no in-process plugin loading, just
// os/exec, so the repo is runnable end to end without an external task
// collaborator. Grounded on original_source/plugins/local.c's task-side
// counterpart.
package exectask

import (
	"context"
	"os/exec"
)

// Plugin runs argv[0] via os/exec for both the root (Local) and
// every other participant (Other) — the distinction exists for plugins
// that behave differently in the two roles (e.g. a plugin that only
// aggregates results on the root); this one does not.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Local(ctx context.Context, argv []string) (int, error) {
	return p.run(ctx, argv)
}

func (p *Plugin) Other(ctx context.Context, argv []string) (int, error) {
	return p.run(ctx, argv)
}

func (p *Plugin) run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, exec.ErrNotFound
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return -1, err
	}
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode(), nil
	}
	return -1, err
}
