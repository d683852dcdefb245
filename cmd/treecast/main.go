// Command treecast is the coordinator (root) of a tree-structured
// parallel launch: it reads the host list and task configuration, spawns
// the first tier of agents, waits for the whole overlay to build, and
// broadcasts its task. It then runs until it receives SIGINT or SIGTERM;
// it does not start the exit cascade (job.NewExit) that tears the agents
// down. Grounded on original_source/main.c's
// _main_on_local and cmd/atlas/main.go's bootstrap shape (pflag +
// envparse + signal.NotifyContext), split into its own binary per
// SPEC_FULL.md §2's redesign of the original's argv[0]-suffix dispatch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/kraused/treecast/db/treecastdb"
	"github.com/kraused/treecast/pkg/metricsx"
	"github.com/kraused/treecast/pkg/node"
	"github.com/kraused/treecast/pkg/options"
	"github.com/kraused/treecast/pkg/plugin/exectask"
	"github.com/kraused/treecast/pkg/plugin/localexec"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else if x, err := readEnv(pflag.Arg(0)); err == nil {
		e = x
	} else {
		fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
		os.Exit(1)
	}

	var cfg options.Config
	if err := cfg.UnmarshalEnv(e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	log := cfg.Logger().With().Str("run_id", cfg.RunID).Logger()

	if cfg.MetricsAddr != "" {
		go metricsx.Serve(cfg.MetricsAddr, log)
	}

	exec := resolveExecPlugin(cfg.ExecPlugin)
	task := exectask.New()

	agentArgv0, err := resolveAgentBinary()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to locate treecast-agent binary")
	}

	n, err := node.NewRoot(&cfg, agentArgv0, exec, task, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize coordinator")
	}

	if cfg.HistoryDB != "" {
		db, err := treecastdb.Open(cfg.HistoryDB)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, continuing without it")
		} else {
			defer db.Close()
			n.SetOnComplete(db.OnComplete(func(err error) {
				log.Warn().Err(err).Msg("failed to record job history")
			}))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("hosts", cfg.Hosts).Msg("starting tree launch")
	if err := n.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}

func resolveExecPlugin(name string) *localexec.Plugin {
	// Only the supplemental same-host plugin ships in this repo;
	// production ssh/slurm plugins are out of scope (spec.md §1's
	// Non-goals). Any configured value still resolves here since
	// there is nothing else to dispatch to.
	_ = name
	return localexec.New()
}

func resolveAgentBinary() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := self[:strings.LastIndex(self, string(os.PathSeparator))+1]
	return dir + "treecast-agent", nil
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}
	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
