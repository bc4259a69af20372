package remote

import (
	"maps"
	"slices"
	"strings"
)

// Quote quotes s for a POSIX shell. Words made only of safe characters
// are returned unchanged so that a leading "~" still expands.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("_-./~:@%+=,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// inDir prefixes cmd with a change to dir.
func inDir(dir, cmd string) string {
	if dir == "" {
		return cmd
	}
	return "cd " + Quote(dir) + " && " + cmd
}

// exportPrefix renders "export K='v'; " for each key, in key order.
func exportPrefix(keys []string, env map[string]string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(Quote(env[k]))
		b.WriteString("; ")
	}
	return b.String()
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
