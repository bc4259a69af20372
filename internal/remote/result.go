package remote

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// CommandResult is the captured output of one remote command. Its text is
// normalized at construction: terminal escape sequences and non-printable
// characters are removed, line endings are unified to "\n" and surrounding
// whitespace is trimmed.
type CommandResult struct {
	text     string
	exitCode int
	command  string
}

// NewCommandResult normalizes output and returns an immutable result.
func NewCommandResult(output string, exitCode int, command string) *CommandResult {
	return &CommandResult{
		text:     Normalize(output),
		exitCode: exitCode,
		command:  command,
	}
}

// Text returns the normalized output.
func (r *CommandResult) Text() string { return r.text }

// String implements fmt.Stringer.
func (r *CommandResult) String() string { return r.text }

// ExitCode returns the remote exit status.
func (r *CommandResult) ExitCode() int { return r.exitCode }

// Command returns the command as given by the caller.
func (r *CommandResult) Command() string { return r.command }

// Lines returns the normalized output split into lines. Empty output has no
// lines.
func (r *CommandResult) Lines() []string {
	if r.text == "" {
		return nil
	}
	return strings.Split(r.text, "\n")
}

// Field returns column col (1-based) of the last line containing key, split
// by sep. An empty sep splits on runs of whitespace. The field is trimmed.
// ok is false when no line matches or the line has fewer than col fields.
//
//	UID        PID   CMD
//	postgres   45    /opt/pgsql/bin/postgres
//	postgres   51    postgres: checkpointer process
//
// Field("/opt/pgsql", 2, "") is "45" and Field("checkpointer", 1, ":") is
// "postgres   51    postgres".
func (r *CommandResult) Field(key string, col int, sep string) (string, bool) {
	match, found := "", false
	for _, line := range r.Lines() {
		if strings.Contains(line, key) {
			match, found = line, true
		}
	}
	if !found {
		return "", false
	}
	return field(match, col, sep)
}

// FieldAt is like Field but selects the line by its 1-based number.
func (r *CommandResult) FieldAt(line, col int, sep string) (string, bool) {
	lines := r.Lines()
	if line < 1 || line > len(lines) {
		return "", false
	}
	return field(lines[line-1], col, sep)
}

// Column returns column col (1-based) of every line that has at least col
// fields, in line order.
func (r *CommandResult) Column(col int, sep string) []string {
	var out []string
	for _, line := range r.Lines() {
		if f, ok := field(line, col, sep); ok {
			out = append(out, f)
		}
	}
	return out
}

func field(line string, col int, sep string) (string, bool) {
	var segs []string
	if sep == "" {
		segs = strings.Fields(line)
	} else {
		segs = strings.Split(line, sep)
	}
	if col < 1 || col > len(segs) {
		return "", false
	}
	return strings.TrimSpace(segs[col-1]), true
}

// Normalize strips ANSI escape sequences and non-printable characters from s,
// converts "\r\n" and lone "\r" to "\n" and trims surrounding whitespace.
// Printable Unicode, "\n" and "\t" are kept. Normalize is idempotent.
func Normalize(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(s)
}
