// kopi is the sync client CLI: it talks to a running kopid over HTTP to list, pull and push
// workspace files, drive the patch-sync and delta-sync engines, and run remote commands.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kopi-dev/kopi/src/cli"
	"github.com/kopi-dev/kopi/src/cli/logging"
	kopiclient "github.com/kopi-dev/kopi/src/client"
	"github.com/kopi-dev/kopi/src/core"
)

var opts = struct {
	Usage string

	Server    cli.URL       `short:"s" long:"server" required:"true" description:"kopid server URL, e.g. http://localhost:7722"`
	Workspace string        `short:"w" long:"workspace" default:"." description:"Local workspace root"`
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Log verbosity"`

	Args struct {
		Command string   `positional-arg-name:"command" description:"list, get, put, sync, watch, clean, git-init, git-status, git-sync, git-resolve, run"`
		Rest    []string `positional-arg-name:"args"`
	} `positional-args:"true"`
}{
	Usage: `
kopi drives a remote kopid over its sync protocol.

Examples:

  kopi --server http://localhost:7722 sync
  kopi --server http://localhost:7722 get remote/path.txt local/path.txt
  kopi --server http://localhost:7722 run -- echo hello
`,
}

func main() {
	cli.ParseFlagsOrDie("kopi", "1.0.0", &opts)
	cli.InitLogging(opts.Verbosity)

	c := kopiclient.New(string(opts.Server), opts.Workspace)
	if err := c.Connect(); err != nil {
		logging.Log.Fatalf("failed to connect to %s: %s", opts.Server, err)
	}
	defer c.Disconnect()

	if err := dispatch(c, opts.Args.Command, opts.Args.Rest); err != nil {
		logging.Log.Fatalf("%s: %s", opts.Args.Command, err)
	}
}

func dispatch(c *kopiclient.Client, command string, args []string) error {
	switch command {
	case "list":
		return runList(c, args)
	case "get":
		return runGet(c, args)
	case "put":
		return runPut(c, args)
	case "sync":
		return c.SyncWorkspace()
	case "watch":
		return runWatch(c)
	case "clean":
		return c.Clean()
	case "git-init":
		return c.GitInit(false)
	case "git-sync":
		return runGitSync(c)
	case "git-resolve":
		return runGitResolve(c, args)
	case "git-status":
		return runGitStatus(c)
	case "run":
		return runCommand(c, args)
	case "":
		return fmt.Errorf("no command given; see --help")
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runList(c *kopiclient.Client, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	entries, err := c.List(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Println(e.Type, e.Path)
	}
	return nil
}

func runGet(c *kopiclient.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <remote-path> <local-path>")
	}
	return c.Get(args[0], args[1])
}

func runPut(c *kopiclient.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: put <local-path> <remote-path>")
	}
	_, err := c.Put(args[0], args[1])
	return err
}

// runWatch pushes every settled local change to the server until interrupted, the continuous
// alternative to a one-shot sync.
func runWatch(c *kopiclient.Client) error {
	w, err := c.Watch()
	if err != nil {
		return err
	}
	defer w.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func runGitSync(c *kopiclient.Client) error {
	result, err := c.SyncPatch()
	if err != nil {
		if result != nil && len(result.Conflicts) > 0 {
			fmt.Fprintln(os.Stderr, "conflicts:")
			for _, conflict := range result.Conflicts {
				fmt.Fprintln(os.Stderr, " ", conflict.Path)
			}
		}
		return err
	}
	if result.Commit != "" {
		fmt.Println("synced at", result.Commit)
	} else {
		fmt.Println("nothing to sync")
	}
	return nil
}

func runGitResolve(c *kopiclient.Client, args []string) error {
	if len(args)%2 != 0 || len(args) == 0 {
		return fmt.Errorf("usage: git-resolve <path> <local|remote> [<path> <local|remote> ...]")
	}
	resolutions := make([]core.Resolution, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		choice := core.ResolutionChoice(args[i+1])
		if choice != core.ResolveLocal && choice != core.ResolveRemote {
			return fmt.Errorf("invalid resolution %q for %s: must be local or remote", args[i+1], args[i])
		}
		resolutions = append(resolutions, core.Resolution{Path: args[i], Choice: choice})
	}
	result, err := c.GitResolve(resolutions)
	if err != nil {
		return err
	}
	if result.Commit != "" {
		fmt.Println("resolved, synced at", result.Commit)
	} else {
		fmt.Println(len(result.Conflicts), "conflicts remain")
	}
	return nil
}

func runGitStatus(c *kopiclient.Client) error {
	local, err := c.GitStatus()
	if err != nil {
		return err
	}
	remote, err := c.RemoteStatus()
	if err != nil {
		return err
	}
	fmt.Println("local sync point: ", local.LastSyncCommit)
	fmt.Println("pending changes: ", local.HasPendingChanges)
	fmt.Println("remote sync point:", remote.LastSyncCommit)
	fmt.Println("remote conflicts: ", remote.HasPendingConflicts)
	return nil
}

func runCommand(c *kopiclient.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: run <command line>")
	}
	line := args[0]
	for _, a := range args[1:] {
		line += " " + a
	}
	result, err := c.RunCommand(line, c.Workspace, nil, 60*time.Second, 100*time.Millisecond, 65*time.Second)
	if err != nil {
		return err
	}
	fmt.Print(result.Output)
	if result.ExitCode != nil && *result.ExitCode != 0 {
		os.Exit(*result.ExitCode)
	}
	return nil
}
