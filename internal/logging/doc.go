// Package logging provides structured logging for xflow pipeline runs.
//
// It wraps Go's log/slog with a JSON handler and carries persistent context
// attributes so that every entry written while a stage runs on a node can be
// filtered after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(runDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	plog := logger.WithPipeline("build", 42)
//	plog.WithStage("stage2").WithNode("n1").Info("command", "cmd", "make")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"command","pipeline":"build","task_id":42,"stage":"stage2","node":"n1","cmd":"make"}
//
// # Log Rotation
//
// [NewLoggerWithRotation] writes through a [RotatingWriter] that rolls
// xflow.log over to xflow.log.1, xflow.log.2, ... once it exceeds the
// configured size, optionally gzip compressing the backups.
//
// # Testing
//
// Use [NopLogger] to discard output.
package logging
