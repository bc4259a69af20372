// Package errors provides centralized error definitions and error handling utilities
// for xflow. It defines the error taxonomy of the remote execution core, error
// constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Connection and execution errors:
//   - ConnectError: opening a node connection failed (auth, timeout, refused, handshake)
//   - CommandError: a remote command exited with a non-zero status
//   - TransferError: an I/O failure while putting or getting files
//
// Lookup and orchestration errors:
//   - NoSuchNodeError: a named node is not present in the environment
//   - NoSuchConnectionTargetError: a connection target (container, image) does not exist
//   - StageError: user stage code returned an error or panicked
//   - ValidationError: invalid configuration or environment definition
//
// # Usage
//
//	var cmdErr *errors.CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.ExitCode, cmdErr.Command)
//	}
//
//	if errors.Is(err, errors.ErrAuthFailed) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Connection sentinel errors. Each ConnectError kind matches exactly one of these.
var (
	// ErrAuthFailed indicates the remote rejected the supplied credentials.
	ErrAuthFailed = New("authentication failed")
	// ErrConnectTimeout indicates the connection attempt exceeded its deadline.
	ErrConnectTimeout = New("connection timed out")
	// ErrConnectRefused indicates the port is closed or the host is unreachable.
	ErrConnectRefused = New("connection refused")
	// ErrBadHandshake indicates the peer did not speak the expected protocol.
	ErrBadHandshake = New("protocol handshake failed")
)

// Execution sentinel errors.
var (
	// ErrCommandFailed indicates a command exited with a non-zero status.
	ErrCommandFailed = New("command failed")
	// ErrTransferFailed indicates a file transfer failed.
	ErrTransferFailed = New("transfer failed")
	// ErrConnectionClosed indicates an operation was attempted on a closed connection.
	ErrConnectionClosed = New("connection closed")
)

// Lookup and orchestration sentinel errors.
var (
	// ErrNodeNotFound indicates a node name is not present in the environment.
	ErrNodeNotFound = New("node not found")
	// ErrTargetNotFound indicates a container or image does not exist.
	ErrTargetNotFound = New("connection target not found")
	// ErrStageFailed indicates a stage failed on at least one node.
	ErrStageFailed = New("stage failed")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// XflowError is the base interface for all xflow errors.
type XflowError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// formatPrefix renders "<kind> [k=v, ...]" dropping empty values.
func formatPrefix(kind string, kv ...string) string {
	var parts []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", kv[i], kv[i+1]))
		}
	}
	if len(parts) == 0 {
		return kind
	}
	return fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
}

// -----------------------------------------------------------------------------
// Connection Errors
// -----------------------------------------------------------------------------

// ConnectKind distinguishes the reasons a connection could not be opened.
type ConnectKind string

const (
	ConnectAuth      ConnectKind = "auth"
	ConnectTimeout   ConnectKind = "timeout"
	ConnectRefused   ConnectKind = "refused"
	ConnectHandshake ConnectKind = "handshake"
)

// sentinel returns the sentinel error that corresponds to the kind.
func (k ConnectKind) sentinel() error {
	switch k {
	case ConnectAuth:
		return ErrAuthFailed
	case ConnectTimeout:
		return ErrConnectTimeout
	case ConnectRefused:
		return ErrConnectRefused
	case ConnectHandshake:
		return ErrBadHandshake
	default:
		return nil
	}
}

// ConnectError reports a failure to open a connection to a node. Hint holds a
// remediation suggestion for the operator.
//
// Example:
//
//	err := errors.NewConnectError(errors.ConnectAuth, "ssh://root@10.0.0.1:22", cause).
//	    WithHint("check whether the username and password are correct")
type ConnectError struct {
	baseError
	Kind   ConnectKind
	Target string
	Hint   string
}

// NewConnectError creates a new ConnectError.
func NewConnectError(kind ConnectKind, target string, cause error) *ConnectError {
	return &ConnectError{
		baseError: baseError{
			message:    fmt.Sprintf("cannot connect to %s", target),
			cause:      cause,
			severity:   SeverityError,
			retryable:  kind == ConnectTimeout,
			userFacing: true,
		},
		Kind:   kind,
		Target: target,
	}
}

// WithHint attaches a remediation hint.
func (e *ConnectError) WithHint(hint string) *ConnectError {
	e.Hint = hint
	return e
}

// Error returns the formatted error message.
func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("%s: %s", formatPrefix("connect error", "kind", string(e.Kind)), e.message)
	if e.Hint != "" {
		msg += ", " + e.Hint
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ConnectError) Is(target error) bool {
	if _, ok := target.(*ConnectError); ok {
		return true
	}
	if s := e.Kind.sentinel(); s != nil && target == s {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Execution Errors
// -----------------------------------------------------------------------------

// CommandError reports a remote command that exited with a non-zero status.
// Output holds whatever was captured before the command exited.
//
// Example:
//
//	err := errors.NewCommandError("ls /errpath", 2).WithNode("n1")
//	fmt.Println(err) // "command error [node=n1]: exit code 2: `ls /errpath`"
type CommandError struct {
	baseError
	Command  string
	ExitCode int
	Output   string
	Node     string
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, exitCode int) *CommandError {
	return &CommandError{
		baseError: baseError{
			message:    fmt.Sprintf("exit code %d: `%s`", exitCode, command),
			severity:   SeverityError,
			userFacing: true,
		},
		Command:  command,
		ExitCode: exitCode,
	}
}

// WithOutput attaches the captured output.
func (e *CommandError) WithOutput(out string) *CommandError {
	e.Output = out
	return e
}

// WithNode adds the node name to the error context.
func (e *CommandError) WithNode(node string) *CommandError {
	e.Node = node
	return e
}

// WithCause records the error that stopped the command before it exited,
// such as a cancelled context.
func (e *CommandError) WithCause(err error) *CommandError {
	e.cause = err
	return e
}

// Error returns the formatted error message.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", formatPrefix("command error", "node", e.Node), e.baseError.Error())
}

// Is checks if this error matches the target.
func (e *CommandError) Is(target error) bool {
	if _, ok := target.(*CommandError); ok {
		return true
	}
	if target == ErrCommandFailed {
		return true
	}
	return e.baseError.Is(target)
}

// TransferOp identifies the direction of a transfer.
type TransferOp string

const (
	TransferPut TransferOp = "put"
	TransferGet TransferOp = "get"
)

// TransferError reports an I/O failure during a file transfer.
type TransferError struct {
	baseError
	Op     TransferOp
	Local  string
	Remote string
}

// NewTransferError creates a new TransferError.
func NewTransferError(op TransferOp, local, remote string, cause error) *TransferError {
	var message string
	if op == TransferGet {
		message = fmt.Sprintf("get %s <= %s", local, remote)
	} else {
		message = fmt.Sprintf("put %s => %s", local, remote)
	}
	return &TransferError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Op:     op,
		Local:  local,
		Remote: remote,
	}
}

// Error returns the formatted error message.
func (e *TransferError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("transfer error: %s: %v", e.message, e.cause)
	}
	return fmt.Sprintf("transfer error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *TransferError) Is(target error) bool {
	if _, ok := target.(*TransferError); ok {
		return true
	}
	if target == ErrTransferFailed {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Lookup Errors
// -----------------------------------------------------------------------------

// NoSuchNodeError reports a node name lookup miss.
type NoSuchNodeError struct {
	baseError
	Name string
}

// NewNoSuchNodeError creates a new NoSuchNodeError.
func NewNoSuchNodeError(name string) *NoSuchNodeError {
	return &NoSuchNodeError{
		baseError: baseError{
			message:    fmt.Sprintf("no such node: %s", name),
			severity:   SeverityError,
			userFacing: true,
		},
		Name: name,
	}
}

// Is checks if this error matches the target.
func (e *NoSuchNodeError) Is(target error) bool {
	if _, ok := target.(*NoSuchNodeError); ok {
		return true
	}
	return target == ErrNodeNotFound
}

// NoSuchConnectionTargetError reports that the thing a connection points at
// (a named container, an image) does not exist on the runtime.
type NoSuchConnectionTargetError struct {
	baseError
	Target string
}

// NewNoSuchConnectionTargetError creates a new NoSuchConnectionTargetError.
func NewNoSuchConnectionTargetError(target string, cause error) *NoSuchConnectionTargetError {
	return &NoSuchConnectionTargetError{
		baseError: baseError{
			message:    fmt.Sprintf("no such connection target: %s", target),
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Target: target,
	}
}

// Is checks if this error matches the target.
func (e *NoSuchConnectionTargetError) Is(target error) bool {
	if _, ok := target.(*NoSuchConnectionTargetError); ok {
		return true
	}
	if target == ErrTargetNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Orchestration Errors
// -----------------------------------------------------------------------------

// StageError wraps an error returned (or a panic raised) by user stage code.
//
// Example:
//
//	err := errors.NewStageError("stage2", cause).WithNode("n1")
//	fmt.Println(err) // "stage error [stage=stage2, node=n1]: ..."
type StageError struct {
	baseError
	Stage string
	Node  string
}

// NewStageError creates a new StageError.
func NewStageError(stage string, cause error) *StageError {
	return &StageError{
		baseError: baseError{
			message:    "stage failed",
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Stage: stage,
	}
}

// WithNode adds the node name to the error context.
func (e *StageError) WithNode(node string) *StageError {
	e.Node = node
	return e
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	prefix := formatPrefix("stage error", "stage", e.Stage, "node", e.Node)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *StageError) Is(target error) bool {
	if _, ok := target.(*StageError); ok {
		return true
	}
	if target == ErrStageFailed {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must specify exactly one of name and image").
//	    WithField("nodes[2].docker")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg = fmt.Sprintf("validation error [field=%s]", e.Field)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.message)
	if e.Value != nil {
		msg = fmt.Sprintf("%s (got: %v)", msg, e.Value)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Only connection timeouts are retryable by
// default; retries are left to pipeline authors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var xerr XflowError
	if As(err, &xerr) {
		return xerr.IsRetryable()
	}
	return Is(err, ErrConnectTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var xerr XflowError
	if As(err, &xerr) {
		return xerr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement XflowError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var xerr XflowError
	if As(err, &xerr) {
		return xerr.Severity()
	}
	return SeverityError
}

// ExitCode returns the remote exit code carried by a CommandError in err's
// chain, and false when there is none.
func ExitCode(err error) (int, bool) {
	var cmdErr *CommandError
	if As(err, &cmdErr) {
		return cmdErr.ExitCode, true
	}
	return 0, false
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
