// Package remote implements the execution and file-transfer layer of xflow.
//
// A [Connection] is a lazily opened session to one execution target. Three
// variants share the same command protocol:
//
//   - [SSHConnection] runs commands over SSH with a pseudo-terminal and moves
//     files over SFTP on the same client.
//   - [ContainerConnection] runs commands through the container runtime's exec
//     API and moves files as tar archives through its archive API.
//   - [LocalConnection] runs commands on the local host under a pty.
//
// Every command is streamed: output is decoded with the charset named by the
// effective LANG, published chunk by chunk on the event bus and scanned for
// interactive prompts that are answered at most once. A non-zero exit status
// is returned as an [errors.CommandError] carrying the normalized output.
//
// Transfers report throttled progress through [Progress] and preserve the
// source basename unless [WithName] is given.
package remote
