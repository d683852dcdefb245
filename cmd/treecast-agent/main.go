// Command treecast-agent is one non-root participant in a tree launch. It
// is never started by hand: the coordinator (or an ancestor agent)
// launches it via the configured ExecPlugin with a fixed argv convention
// (spec.md §6: <parent-ip> <parent-port> <parent-id> <total-size>
// <this-id>), dials its parent, and joins the overlay. Grounded on
// original_source/main.c's _main_on_other, split into its own binary per
// SPEC_FULL.md §2's redesign of the original's argv[0]-suffix dispatch.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kraused/treecast/pkg/node"
	"github.com/kraused/treecast/pkg/options"
	"github.com/kraused/treecast/pkg/plugin/exectask"
	"github.com/kraused/treecast/pkg/plugin/localexec"
)

// defaultProtocolVersion must match options.Config's TREECAST_PROTOCOL_VERSION
// default; an agent joins before it has any config of its own to read this
// from, so it is compiled in, the same way the join handshake's version
// check is meant to catch mismatched root/agent builds (SPEC_FULL §6).
const defaultProtocolVersion = "v1.0.0"

func main() {
	if len(os.Args) != 6 {
		fmt.Fprintf(os.Stderr, "usage: %s <parent-ip> <parent-port> <parent-id> <total-size> <this-id>\n", os.Args[0])
		os.Exit(2)
	}

	parentIP := os.Args[1]
	if v, err := strconv.ParseUint(parentIP, 10, 32); err == nil {
		// The parent passes its IPv4 address as a base-10 uint32.
		parentIP = net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
	}
	parentPort := os.Args[2]
	parentID, err1 := strconv.Atoi(os.Args[3])
	size, err2 := strconv.Atoi(os.Args[4])
	here, err3 := strconv.Atoi(os.Args[5])
	if err1 != nil || err2 != nil || err3 != nil {
		fmt.Fprintln(os.Stderr, "error: parent-id, total-size and this-id must be integers")
		os.Exit(2)
	}

	// Log to a per-participant file rather than stdout: unlike the
	// coordinator, an agent's stdout is not attached to anything a user
	// is watching (it was launched by the exec plugin, possibly on a
	// remote host).
	var cfg options.Config
	cfg.LogStdout = false
	cfg.LogFile = fmt.Sprintf("/tmp/treecast-agent-%04d.log", here)
	cfg.LogLevel = zerolog.InfoLevel
	log := cfg.Logger()

	exec := localexec.New()
	task := exectask.New()

	parentAddr := net.JoinHostPort(parentIP, parentPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.NewAgent(ctx, parentAddr, int32(parentID), int32(here), int32(size), defaultProtocolVersion, exec, task, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join parent")
	}
	log = log.With().Str("run_id", n.RunID()).Logger()

	log.Info().Int("here", here).Str("parent", parentAddr).Msg("joined, entering main loop")
	if err := n.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}
