// Contains various utility functions related to logging.

package cli

import (
	"os"
	"path"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh/terminal"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("cli")

// StdErrIsATerminal is true if the process' stderr is an interactive TTY.
var StdErrIsATerminal = terminal.IsTerminal(int(os.Stderr.Fd()))

var fileLogLevel = logging.WARNING
var fileBackend logging.Backend

// A Verbosity is used as a flag to define logging verbosity. It unmarshals either a
// go-logging level name ("warning", "error", ...), a bare count of "v" characters (as in
// "-vv"), or a small integer, matching the conventions kopid's and kopi's --verbosity flag use.
type Verbosity logging.Level

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (v *Verbosity) UnmarshalFlag(in string) error {
	if strings.Trim(in, "v") == "" && in != "" {
		*v = Verbosity(logging.WARNING) + Verbosity(len(in))
		return nil
	}
	if n, err := strconv.Atoi(in); err == nil {
		*v = Verbosity(logging.CRITICAL) + Verbosity(n)
		return nil
	}
	l, err := logging.LogLevel(in)
	if err != nil {
		return err
	}
	*v = Verbosity(l)
	return nil
}

// InitLogging initialises logging backends for the current verbosity.
func InitLogging(verbosity Verbosity) {
	setLogBackend(logging.Level(verbosity), logging.NewLogBackend(os.Stderr, "", 0))
}

// InitFileLogging initialises an optional logging backend to a file, in addition to stderr.
func InitFileLogging(logFile string, logFileLevel Verbosity) {
	fileLogLevel = logging.Level(logFileLevel)
	if err := os.MkdirAll(path.Dir(logFile), os.ModeDir|0775); err != nil {
		log.Fatalf("error creating log file directory: %s", err)
	}
	file, err := os.Create(logFile)
	if err != nil {
		log.Fatalf("error opening log file: %s", err)
	}
	fileBackend = logging.NewBackendFormatter(logging.NewLogBackend(file, "", 0), logFormatter(false))
}

func logFormatter(coloured bool) logging.Formatter {
	formatStr := "%{time:15:04:05.000} %{level:7s} %{module}: %{message}"
	if coloured {
		formatStr = "%{color}" + formatStr + "%{color:reset}"
	}
	return logging.MustStringFormatter(formatStr)
}

func setLogBackend(level logging.Level, backend logging.Backend) {
	stderrBackend := logging.AddModuleLevel(logging.NewBackendFormatter(backend, logFormatter(StdErrIsATerminal)))
	stderrBackend.SetLevel(level, "")
	if fileBackend == nil {
		logging.SetBackend(stderrBackend)
		return
	}
	fileBackendLeveled := logging.AddModuleLevel(fileBackend)
	fileBackendLeveled.SetLevel(fileLogLevel, "")
	logging.SetBackend(stderrBackend, fileBackendLeveled)
}
