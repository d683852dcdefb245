package job

import "github.com/kraused/treecast/pkg/worker"

// newExecItem builds a worker.Item for launching a new agent. The result
// is intentionally discarded (Done: nil) — a build-tree job tracks child
// liveness via REQUEST_JOIN/timeout, not via the exec call's own return
// status, matching job.c's fire-and-forget _build_tree_spawn_children.
func newExecItem(jc *Context, host string, argv []string) worker.Item {
	return worker.Item{Host: host, Argv: argv}
}
