// Package notify implements the notification bus: a process-wide, best-effort fan-out of
// file-change and command-progress events to every currently connected observer. It is
// deliberately unreliable - observers that miss events during a disconnection are expected to
// re-sync via the regular GET endpoints, never to rely on the bus for correctness (spec.md §9,
// "Event bus is best-effort").
package notify

import (
	"github.com/google/uuid"
	cmap "github.com/streamrail/concurrent-map"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("notify")

// sendTimeout-free design: publication is a non-blocking channel send. An observer whose buffer
// is full simply misses the message; the bus never blocks a publisher on a slow subscriber and
// never disconnects the subscriber itself (that's the transport layer's job).
const observerBuffer = 64

// A Message is anything that can be fanned out over the bus. The concrete types below
// (FileChanged, CommandOutput, CommandCompleted, Pong) are the only ones the wire protocol
// defines (spec.md §6); src/server marshals whichever one it receives to JSON unchanged.
type Message interface {
	messageType() string
}

// FileChanged is published whenever the remote file service mutates a path.
type FileChanged struct {
	Type   string `json:"type"`
	Path   string `json:"path"`
	Action string `json:"action"` // "write" or "mkdir"
}

func (FileChanged) messageType() string { return "file_changed" }

// NewFileChanged builds a FileChanged message with its Type field pre-filled.
func NewFileChanged(path, action string) FileChanged {
	return FileChanged{Type: "file_changed", Path: path, Action: action}
}

// CommandOutput is published for every line appended to a CommandRecord's output buffer.
type CommandOutput struct {
	Type      string `json:"type"`
	CommandID string `json:"command_id"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
	Content   string `json:"content"`
}

func (CommandOutput) messageType() string { return "command_output" }

// NewCommandOutput builds a CommandOutput message with its Type field pre-filled.
func NewCommandOutput(commandID, stream, content string) CommandOutput {
	return CommandOutput{Type: "command_output", CommandID: commandID, Stream: stream, Content: content}
}

// CommandCompleted is published once when a command reaches a terminal state.
type CommandCompleted struct {
	Type      string `json:"type"`
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

func (CommandCompleted) messageType() string { return "command_completed" }

// NewCommandCompleted builds a CommandCompleted message with its Type field pre-filled.
func NewCommandCompleted(commandID, status string, exitCode *int) CommandCompleted {
	return CommandCompleted{Type: "command_completed", CommandID: commandID, Status: status, ExitCode: exitCode}
}

// Pong answers an observer's liveness probe.
type Pong struct {
	Type string `json:"type"`
}

func (Pong) messageType() string { return "pong" }

// NewPong builds a Pong message.
func NewPong() Pong { return Pong{Type: "pong"} }

// An Observer is a single registered subscriber: a buffered channel of messages and the id the
// bus assigned it at registration time, used to remove it again on disconnect.
type Observer struct {
	id string
	ch chan Message
}

// ID returns the observer's bus-assigned id.
func (o *Observer) ID() string { return o.id }

// Messages returns the channel the observer should range over to receive fanned-out messages.
func (o *Observer) Messages() <-chan Message { return o.ch }

// A Bus is the process-wide registry of active observers. The zero value is not usable; call
// New. Registration and removal are guarded by a concurrent map (as the teacher's workspace
// watcher guards its watch set) rather than a plain mutex-protected map, since both Subscribe
// and Publish are called from arbitrarily many goroutines - one per open /ws connection, plus
// the command executor's stream readers.
type Bus struct {
	observers cmap.ConcurrentMap
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{observers: cmap.New()}
}

// Subscribe registers a new observer and returns it. Callers must call Unsubscribe when the
// observer disconnects, typically via defer in the /ws handler.
func (b *Bus) Subscribe() *Observer {
	obs := &Observer{id: uuid.NewString(), ch: make(chan Message, observerBuffer)}
	b.observers.Set(obs.id, obs)
	return obs
}

// Unsubscribe removes an observer from the registry. Safe to call more than once.
func (b *Bus) Unsubscribe(obs *Observer) {
	b.observers.Remove(obs.id)
}

// Publish fans msg out to every observer currently registered at the moment of the call
// (spec.md §5: "a given publication attempt targets every observer registered at publication
// time; interleaving across observers is unspecified"). Delivery is non-blocking and best
// effort: a full observer channel means that observer misses this message, logged at debug
// level only, never treated as an error.
func (b *Bus) Publish(msg Message) {
	for item := range b.observers.IterBuffered() {
		obs := item.Val.(*Observer)
		select {
		case obs.ch <- msg:
		default:
			log.Debug("observer %s missed a %s message (buffer full)", obs.id, msg.messageType())
		}
	}
}

// Count returns the number of currently registered observers. Used only for diagnostics.
func (b *Bus) Count() int {
	return b.observers.Count()
}
