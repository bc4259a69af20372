package remote

import (
	"archive/tar"
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
)

func TestTar_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/src/tree/a.txt":   "a",
		"/src/tree/b/c.txt": "cc",
	})

	var buf bytes.Buffer
	if err := writeTar(fs, &buf, "/src/tree", "tree"); err != nil {
		t.Fatalf("writeTar() error = %v", err)
	}
	var lines []string
	progress := func(local, remote string) *Progress {
		return NewProgress(OpGet, local, remote, 0, func(line string, _, _ int64) { lines = append(lines, line) })
	}
	if err := extractTar(context.Background(), fs, &buf, "/remote", "/out", "", progress); err != nil {
		t.Fatalf("extractTar() error = %v", err)
	}
	if got := readFile(t, fs, "/out/tree/b/c.txt"); got != "cc" {
		t.Errorf("c.txt = %q", got)
	}
	if got := readFile(t, fs, "/out/tree/a.txt"); got != "a" {
		t.Errorf("a.txt = %q", got)
	}
	if len(lines) == 0 || lines[len(lines)-1] != "Get /out/tree/b/c.txt <= /remote/tree/b/c.txt 2B/2B 100%" {
		t.Errorf("progress lines = %q", lines)
	}
}

func TestTar_SingleFileRename(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/src/a.txt": "data"})

	var buf bytes.Buffer
	if err := writeTar(fs, &buf, "/src/a.txt", "a.txt"); err != nil {
		t.Fatalf("writeTar() error = %v", err)
	}
	noop := func(local, remote string) *Progress { return NewProgress(OpGet, local, remote, 0, nil) }
	if err := extractTar(context.Background(), fs, &buf, "/r", "/out", "b.txt", noop); err != nil {
		t.Fatalf("extractTar() error = %v", err)
	}
	if got := readFile(t, fs, "/out/b.txt"); got != "data" {
		t.Errorf("b.txt = %q", got)
	}
}

func TestTar_RejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil", "/etc/passwd", "a/../../evil"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			tw := tar.NewWriter(&buf)
			_ = tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644})
			_ = tw.Close()

			noop := func(local, remote string) *Progress { return NewProgress(OpGet, local, remote, 0, nil) }
			if err := extractTar(context.Background(), afero.NewMemMapFs(), &buf, "/r", "/out", "", noop); err == nil {
				t.Error("extractTar() should reject escaping entry")
			}
		})
	}
}
