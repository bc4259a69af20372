package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "exec.read_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateConnect()...)
	errors = append(errors, c.validateExec()...)
	errors = append(errors, c.validateTransfer()...)
	errors = append(errors, c.validatePipeline()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateConnect validates the ConnectConfig
func (c *Config) validateConnect() []ValidationError {
	var errors []ValidationError

	if c.Connect.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "connect.timeout",
			Value:   c.Connect.Timeout,
			Message: "must be positive",
		})
	}

	return errors
}

// validateExec validates the ExecConfig
func (c *Config) validateExec() []ValidationError {
	var errors []ValidationError

	if c.Exec.PollInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exec.poll_interval",
			Value:   c.Exec.PollInterval,
			Message: "must be positive",
		})
	}

	// A poll interval above a few seconds makes cancellation sluggish
	const maxPollInterval = 5 * time.Second
	if c.Exec.PollInterval > maxPollInterval {
		errors = append(errors, ValidationError{
			Field:   "exec.poll_interval",
			Value:   c.Exec.PollInterval,
			Message: fmt.Sprintf("exceeds maximum of %s", maxPollInterval),
		})
	}

	if c.Exec.ReadSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exec.read_size",
			Value:   c.Exec.ReadSize,
			Message: "must be positive",
		})
	}

	if c.Exec.PtyWidth <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exec.pty_width",
			Value:   c.Exec.PtyWidth,
			Message: "must be positive",
		})
	}

	if c.Exec.PtyHeight <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exec.pty_height",
			Value:   c.Exec.PtyHeight,
			Message: "must be positive",
		})
	}

	// Pty sizes travel as uint16 in window change requests
	const maxPtyDimension = 65535
	if c.Exec.PtyWidth > maxPtyDimension || c.Exec.PtyHeight > maxPtyDimension {
		errors = append(errors, ValidationError{
			Field:   "exec.pty_width",
			Value:   fmt.Sprintf("%dx%d", c.Exec.PtyWidth, c.Exec.PtyHeight),
			Message: fmt.Sprintf("pty dimensions must not exceed %d", maxPtyDimension),
		})
	}

	if strings.TrimSpace(c.Exec.Term) == "" {
		errors = append(errors, ValidationError{
			Field:   "exec.term",
			Value:   c.Exec.Term,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateTransfer validates the TransferConfig
func (c *Config) validateTransfer() []ValidationError {
	var errors []ValidationError

	if c.Transfer.ProgressInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "transfer.progress_interval",
			Value:   c.Transfer.ProgressInterval,
			Message: "must be positive",
		})
	}

	return errors
}

// validatePipeline validates the PipelineConfig
func (c *Config) validatePipeline() []ValidationError {
	var errors []ValidationError

	if c.Pipeline.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.max_parallel",
			Value:   c.Pipeline.MaxParallel,
			Message: "must be non-negative (0 = unlimited)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
