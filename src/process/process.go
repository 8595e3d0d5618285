// Package process implements the command executor: it spawns a subprocess per submitted
// CommandRecord, captures its stdout/stderr concurrently with the wait, enforces the submitted
// timeout with a terminate-then-kill escalation, and publishes progress to the notification bus.
package process

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/kopi-dev/kopi/src/cli/logging"
	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/notify"
)

var log = logging.Log

// killGrace is how long the executor waits after SIGTERM before escalating to SIGKILL
// (spec.md §4.7: "after 1s if still alive, kill").
const killGrace = time.Second

// An Executor runs submitted commands asynchronously and tracks their CommandRecords for the
// lifetime of the process, keyed by command id. The spawned *exec.Cmd is not stored; only the
// goroutine running the command holds it, and that goroutine signals it on timeout.
type Executor struct {
	bus     *notify.Bus
	mutex   sync.Mutex
	records map[string]*core.CommandRecord
}

// New returns a new Executor that publishes progress to bus.
func New(bus *notify.Bus) *Executor {
	return &Executor{
		bus:     bus,
		records: map[string]*core.CommandRecord{},
	}
}

// Submit creates a CommandRecord in the pending state and starts executing it asynchronously.
// It returns the record immediately; callers poll Get or subscribe to the bus for progress.
func (e *Executor) Submit(commandLine, workingDir string, envOverrides map[string]string, timeout time.Duration) *core.CommandRecord {
	id := uuid.NewString()
	rec := &core.CommandRecord{
		ID:             id,
		CommandLine:    commandLine,
		WorkingDir:     workingDir,
		EnvOverrides:   envOverrides,
		TimeoutSeconds: timeout.Seconds(),
		State:          core.CommandPending,
	}
	e.mutex.Lock()
	e.records[id] = rec
	e.mutex.Unlock()
	go e.run(rec, timeout)
	return rec
}

// Get returns the current snapshot of the command with the given id, or (nil, false) if unknown.
func (e *Executor) Get(id string) (*core.CommandRecord, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	rec, ok := e.records[id]
	return rec, ok
}

// run executes a single command end to end: spawn, concurrent stream capture, timeout
// enforcement, terminal-state transition and notification.
func (e *Executor) run(rec *core.CommandRecord, timeout time.Duration) {
	if rec.CommandLine == "" {
		e.fail(rec, fmt.Errorf("%w: empty command line", core.ErrSpawnFailure))
		return
	}
	if tokens, err := shlex.Split(rec.CommandLine); err == nil {
		log.Debug("command %s tokenizes to: %s", rec.ID, QuoteForLog(tokens))
	}
	if err := os.MkdirAll(rec.WorkingDir, 0775); err != nil {
		e.fail(rec, fmt.Errorf("%w: %s", core.ErrSpawnFailure, err))
		return
	}

	// Shell interpretation is the host default shell (spec.md §4.7): the command line is
	// handed to it verbatim rather than tokenized and exec'd directly, so pipes, globs and
	// quoting behave the way the submitter typed them.
	cmd := exec.Command(hostShell(), "-c", rec.CommandLine)
	cmd.Dir = rec.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), rec.EnvOverrides)
	cmd.SysProcAttr = setpgid()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.fail(rec, fmt.Errorf("%w: %s", core.ErrSpawnFailure, err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.fail(rec, fmt.Errorf("%w: %s", core.ErrSpawnFailure, err))
		return
	}

	if err := cmd.Start(); err != nil {
		e.fail(rec, fmt.Errorf("%w: %s", core.ErrSpawnFailure, err))
		return
	}

	now := time.Now().UTC()
	e.mutex.Lock()
	rec.State = core.CommandRunning
	rec.StartTime = &now
	e.mutex.Unlock()
	log.Info("command %s running: %s", rec.ID, rec.CommandLine)

	buf := &safeBuffer{}
	var readers core.InitialErrgroup
	readers.Go(func() error { return e.drain(rec, buf, stdout, "stdout") })
	readers.Go(func() error { return e.drain(rec, buf, stderr, "stderr") })

	done := make(chan error, 1)
	go func() {
		if err := readers.Wait(); err != nil {
			log.Warning("command %s: output stream error: %s", rec.ID, err)
		}
		done <- cmd.Wait()
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timerC = timer.C
		defer timer.Stop()
	}

	select {
	case err := <-done:
		e.finish(rec, buf, err)
	case <-timerC:
		log.Warning("command %s exceeded timeout of %s, terminating", rec.ID, timeout)
		killProcess(cmd)
		<-done
		e.timeoutOut(rec, buf)
	}
}

// drain reads r line by line, appending each line to the shared buffer and publishing it as a
// command_output notification. Two of these run concurrently (one per stream) via an
// InitialErrgroup; only their per-stream order is guaranteed, matching spec.md §4.7.
func (e *Executor) drain(rec *core.CommandRecord, buf *safeBuffer, r io.Reader, stream string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		buf.WriteString(line)
		if e.bus != nil {
			e.bus.Publish(notify.NewCommandOutput(rec.ID, stream, line))
		}
	}
	return scanner.Err()
}

func (e *Executor) finish(rec *core.CommandRecord, buf *safeBuffer, err error) {
	now := time.Now().UTC()
	e.mutex.Lock()
	rec.EndTime = &now
	rec.OutputBuffer = buf.String()
	code := exitCode(err)
	rec.ExitCode = &code
	if err != nil {
		rec.State = core.CommandFailed
	} else {
		rec.State = core.CommandCompleted
	}
	state := rec.State
	e.mutex.Unlock()
	log.Info("command %s finished: %s (exit %d)", rec.ID, state, code)
	if e.bus != nil {
		e.bus.Publish(notify.NewCommandCompleted(rec.ID, string(state), &code))
	}
}

func (e *Executor) timeoutOut(rec *core.CommandRecord, buf *safeBuffer) {
	now := time.Now().UTC()
	e.mutex.Lock()
	rec.EndTime = &now
	rec.OutputBuffer = buf.String()
	rec.State = core.CommandTimeout
	code := -1
	rec.ExitCode = &code
	e.mutex.Unlock()
	if e.bus != nil {
		e.bus.Publish(notify.NewCommandCompleted(rec.ID, string(core.CommandTimeout), &code))
	}
}

func (e *Executor) fail(rec *core.CommandRecord, err error) {
	now := time.Now().UTC()
	e.mutex.Lock()
	rec.StartTime = &now
	rec.EndTime = &now
	rec.State = core.CommandFailed
	rec.OutputBuffer = err.Error()
	code := -1
	rec.ExitCode = &code
	e.mutex.Unlock()
	log.Error("command %s failed to spawn: %s", rec.ID, err)
	if e.bus != nil {
		e.bus.Publish(notify.NewCommandCompleted(rec.ID, string(core.CommandFailed), &code))
	}
}

// killProcess sends SIGTERM to the process group, waiting killGrace before escalating to
// SIGKILL, mirroring the teacher's terminate-then-kill discipline in src/process.
func killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	log.Debug("sending SIGTERM to -%d", pid)
	syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(killGrace)
	if cmd.ProcessState == nil {
		log.Debug("sending SIGKILL to -%d", pid)
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// hostShell returns the shell used to interpret submitted command lines, honouring $SHELL when
// set so the executor matches the submitter's own interactive shell where possible.
func hostShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// mergeEnv overlays overrides onto base, last writer wins, per spec.md §4.7.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := append([]string{}, base...)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// exitCode extracts the process exit code from the error returned by cmd.Wait, or 0 on success.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return -1
}

// safeBuffer is an io.Writer/string accumulator guarded by a mutex, since stdout's and stderr's
// drain goroutines both append to it concurrently (the teacher's process.go uses the same
// pattern to multiplex two streams into one buffer safely).
type safeBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (sb *safeBuffer) WriteString(s string) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	sb.buf.WriteString(s)
}

func (sb *safeBuffer) String() string {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	return sb.buf.String()
}

// QuoteForLog renders argv the way it would be typed at a shell, for log lines - grounded on
// the teacher's use of alessio/shellescape when echoing commands it ran.
func QuoteForLog(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellescape.Quote(a)
	}
	return strings.Join(quoted, " ")
}

// ParseTimeoutSeconds converts a wire-format timeout_seconds field (float64 serialised as a
// string in some clients) into a time.Duration, defaulting to 0 (no timeout) on empty input.
func ParseTimeoutSeconds(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
