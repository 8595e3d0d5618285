// kopid is the sync daemon: it serves the HTTP API implemented by src/server over a single
// workspace root, exposing the remote file service, the patch-sync engine, the command executor
// and the change-notification push channel.
package main

import (
	"fmt"
	"net/http"

	"github.com/kopi-dev/kopi/src/cli"
	"github.com/kopi-dev/kopi/src/cli/logging"
	"github.com/kopi-dev/kopi/src/notify"
	"github.com/kopi-dev/kopi/src/server"
)

var opts = struct {
	Usage string

	Port      int           `short:"p" long:"port" default:"7722" description:"Port to listen on"`
	Workspace string        `short:"w" long:"workspace" required:"true" description:"Root directory to serve"`
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Log verbosity"`
	LogFile   string        `long:"log_file" description:"Also log to this file"`
}{
	Usage: `
kopid serves a workspace over kopi's sync protocol: fixed-block delta sync, git-based patch
sync, remote command execution and a change-notification push channel.

Example:

  kopid --workspace ~/projects/myapp --port 7722
`,
}

func main() {
	cli.ParseFlagsOrDie("kopid", "1.0.0", &opts)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.LogFile, cli.Verbosity(logging.DEBUG))
	}
	cli.InitLogging(opts.Verbosity)

	bus := notify.New()
	srv := server.New(opts.Workspace, bus)

	addr := fmt.Sprintf(":%d", opts.Port)
	logging.Log.Notice("kopid listening on %s, serving %s", addr, opts.Workspace)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		logging.Log.Fatalf("kopid exited: %s", err)
	}
}
