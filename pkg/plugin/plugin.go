// Package plugin declares the external collaborator contracts named in
// spec.md §6: the remote-launch (exec) plugin and the user task plugin.
// Production implementations (ssh/slurm/local launchers, real user tasks)
// are out of scope per spec.md §1 — only the interfaces live here, plus
// (in pkg/plugin/localexec) a minimal same-host implementation that makes
// the rest of the repo runnable end to end without an external
// collaborator.
package plugin

import "context"

// ExecPlugin launches a new agent process on host with the given argv,
// returning the remote process's exit status once it has terminated, or an
// error if it could not even be started. Implementations are expected to
// be slow (ssh connection setup, scheduler queueing); callers always run
// them from pkg/worker's bounded pool, never inline on the main loop.
type ExecPlugin interface {
	Exec(ctx context.Context, host string, argv []string) (int, error)
}

// TaskPlugin is the user-supplied unit of work broadcast to every
// participant once the tree finishes building. Local is invoked on the
// root; Other is invoked on every non-root participant. Both receive the
// argv parsed from the TaskArgv configuration option (spec.md §6).
type TaskPlugin interface {
	Local(ctx context.Context, argv []string) (int, error)
	Other(ctx context.Context, argv []string) (int, error)
}
