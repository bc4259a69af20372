package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "stage.started", "command.output")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event types published by xflow.
const (
	TypePipelinePhase    = "pipeline.phase"
	TypePipelineFinished = "pipeline.finished"
	TypeStageStarted     = "stage.started"
	TypeStageFinished    = "stage.finished"
	TypeNodeStarted      = "node.started"
	TypeNodeFinished     = "node.finished"
	TypeConnectionOpened = "connection.opened"
	TypeConnectionClosed = "connection.closed"
	TypeContainerRemoved = "connection.removed"
	TypeCommandStarted   = "command.started"
	TypeCommandOutput    = "command.output"
	TypeCommandFinished  = "command.finished"
	TypeTransferProgress = "transfer.progress"
	TypeCleanup          = "pipeline.cleanup"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Pipeline Lifecycle Events
// -----------------------------------------------------------------------------

// PipelinePhaseEvent is emitted on every state machine transition.
type PipelinePhaseEvent struct {
	baseEvent
	Pipeline string
	TaskID   int
	From     string
	To       string
}

// NewPipelinePhaseEvent creates a PipelinePhaseEvent.
func NewPipelinePhaseEvent(pipeline string, taskID int, from, to string) PipelinePhaseEvent {
	return PipelinePhaseEvent{
		baseEvent: newBaseEvent(TypePipelinePhase),
		Pipeline:  pipeline,
		TaskID:    taskID,
		From:      from,
		To:        to,
	}
}

// PipelineFinishedEvent is emitted once, after teardown, with the final result.
type PipelineFinishedEvent struct {
	baseEvent
	Pipeline string
	TaskID   int
	Result   string
	Error    string // failure detail, empty on success
	Duration time.Duration
}

// NewPipelineFinishedEvent creates a PipelineFinishedEvent.
func NewPipelineFinishedEvent(pipeline string, taskID int, result, errMsg string, d time.Duration) PipelineFinishedEvent {
	return PipelineFinishedEvent{
		baseEvent: newBaseEvent(TypePipelineFinished),
		Pipeline:  pipeline,
		TaskID:    taskID,
		Result:    result,
		Error:     errMsg,
		Duration:  d,
	}
}

// CleanupEvent is emitted for each artifact removed after a successful run.
type CleanupEvent struct {
	baseEvent
	Node   string
	Action string // "remove-container" or "remove-dir"
	Target string
	Error  string
}

// NewCleanupEvent creates a CleanupEvent.
func NewCleanupEvent(node, action, target, errMsg string) CleanupEvent {
	return CleanupEvent{
		baseEvent: newBaseEvent(TypeCleanup),
		Node:      node,
		Action:    action,
		Target:    target,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Stage Events
// -----------------------------------------------------------------------------

// StageStartedEvent is emitted before a stage fans out to its nodes.
type StageStartedEvent struct {
	baseEvent
	Stage       string
	Description string
	Index       int // 1-based
	Total       int
	Nodes       []string
}

// NewStageStartedEvent creates a StageStartedEvent.
func NewStageStartedEvent(stage, description string, index, total int, nodes []string) StageStartedEvent {
	return StageStartedEvent{
		baseEvent:   newBaseEvent(TypeStageStarted),
		Stage:       stage,
		Description: description,
		Index:       index,
		Total:       total,
		Nodes:       nodes,
	}
}

// StageFinishedEvent is emitted after every node context of a stage returned.
type StageFinishedEvent struct {
	baseEvent
	Stage    string
	Failed   []string // names of nodes whose context failed
	Duration time.Duration
}

// NewStageFinishedEvent creates a StageFinishedEvent.
func NewStageFinishedEvent(stage string, failed []string, d time.Duration) StageFinishedEvent {
	return StageFinishedEvent{
		baseEvent: newBaseEvent(TypeStageFinished),
		Stage:     stage,
		Failed:    failed,
		Duration:  d,
	}
}

// Success reports whether no node failed.
func (e StageFinishedEvent) Success() bool { return len(e.Failed) == 0 }

// NodeStartedEvent is emitted when a per-node context begins a stage.
type NodeStartedEvent struct {
	baseEvent
	Stage string
	Node  string
}

// NewNodeStartedEvent creates a NodeStartedEvent.
func NewNodeStartedEvent(stage, node string) NodeStartedEvent {
	return NodeStartedEvent{
		baseEvent: newBaseEvent(TypeNodeStarted),
		Stage:     stage,
		Node:      node,
	}
}

// NodeFinishedEvent is emitted when a per-node context returns.
type NodeFinishedEvent struct {
	baseEvent
	Stage    string
	Node     string
	Error    string // empty on success
	Duration time.Duration
}

// NewNodeFinishedEvent creates a NodeFinishedEvent.
func NewNodeFinishedEvent(stage, node, errMsg string, d time.Duration) NodeFinishedEvent {
	return NodeFinishedEvent{
		baseEvent: newBaseEvent(TypeNodeFinished),
		Stage:     stage,
		Node:      node,
		Error:     errMsg,
		Duration:  d,
	}
}

// -----------------------------------------------------------------------------
// Connection Events
// -----------------------------------------------------------------------------

// ConnectionEvent is emitted when a connection is opened, closed or, for
// ephemeral containers, removed.
type ConnectionEvent struct {
	baseEvent
	Node   string
	Target string // connection string, e.g. ssh://root@10.0.0.1:22
}

// NewConnectionEvent creates a ConnectionEvent of the given type.
func NewConnectionEvent(eventType, node, target string) ConnectionEvent {
	return ConnectionEvent{
		baseEvent: newBaseEvent(eventType),
		Node:      node,
		Target:    target,
	}
}

// -----------------------------------------------------------------------------
// Command Events
// -----------------------------------------------------------------------------

// CommandStartedEvent is emitted before a command is sent to the node.
type CommandStartedEvent struct {
	baseEvent
	Node    string
	Target  string
	Dir     string // active directory overlay, empty for the login dir
	Command string
}

// NewCommandStartedEvent creates a CommandStartedEvent.
func NewCommandStartedEvent(node, target, dir, command string) CommandStartedEvent {
	return CommandStartedEvent{
		baseEvent: newBaseEvent(TypeCommandStarted),
		Node:      node,
		Target:    target,
		Dir:       dir,
		Command:   command,
	}
}

// CommandOutputEvent carries one decoded chunk of command output as it
// arrives.
type CommandOutputEvent struct {
	baseEvent
	Node string
	Data string
}

// NewCommandOutputEvent creates a CommandOutputEvent.
func NewCommandOutputEvent(node, data string) CommandOutputEvent {
	return CommandOutputEvent{
		baseEvent: newBaseEvent(TypeCommandOutput),
		Node:      node,
		Data:      data,
	}
}

// CommandFinishedEvent is emitted after the exit status is known.
type CommandFinishedEvent struct {
	baseEvent
	Node     string
	Command  string
	ExitCode int
	Duration time.Duration
}

// NewCommandFinishedEvent creates a CommandFinishedEvent.
func NewCommandFinishedEvent(node, command string, exitCode int, d time.Duration) CommandFinishedEvent {
	return CommandFinishedEvent{
		baseEvent: newBaseEvent(TypeCommandFinished),
		Node:      node,
		Command:   command,
		ExitCode:  exitCode,
		Duration:  d,
	}
}

// -----------------------------------------------------------------------------
// Transfer Events
// -----------------------------------------------------------------------------

// TransferProgressEvent is a throttled progress report for one file.
type TransferProgressEvent struct {
	baseEvent
	Node        string
	Op          string // "get" or "put"
	Local       string
	Remote      string
	Transferred int64
	Total       int64
	Line        string // preformatted human line
}

// NewTransferProgressEvent creates a TransferProgressEvent.
func NewTransferProgressEvent(node, op, local, remote string, transferred, total int64, line string) TransferProgressEvent {
	return TransferProgressEvent{
		baseEvent:   newBaseEvent(TypeTransferProgress),
		Node:        node,
		Op:          op,
		Local:       local,
		Remote:      remote,
		Transferred: transferred,
		Total:       total,
		Line:        line,
	}
}

// Percent returns the completed percentage, truncated. A zero-byte transfer
// is 100% complete.
func (e TransferProgressEvent) Percent() int {
	if e.Total <= 0 {
		return 100
	}
	return int(e.Transferred * 100 / e.Total)
}
