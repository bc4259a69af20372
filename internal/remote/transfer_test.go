package remote

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, name, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func readFile(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func memLocal(t *testing.T, opts ...Option) (*LocalConnection, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/src/a.txt":         "hello",
		"/src/tree/z.txt":    "zed",
		"/src/tree/x/y.txt":  "why",
		"/src/tree/x/w/v.md": "vee",
	})
	if err := fs.MkdirAll("/dst", 0755); err != nil {
		t.Fatal(err)
	}
	return NewLocalConnection(append([]Option{WithLocalFS(fs), WithNodeName("n1")}, opts...)...), fs
}

func TestTransfer_PutFile(t *testing.T) {
	c, fs := memLocal(t)
	ctx := context.Background()

	if err := c.PutFile(ctx, "/src/a.txt", "/dst"); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if got := readFile(t, fs, "/dst/a.txt"); got != "hello" {
		t.Errorf("content = %q", got)
	}

	if err := c.PutFile(ctx, "/src/a.txt", "/dst", WithName("b.txt")); err != nil {
		t.Fatalf("PutFile(WithName) error = %v", err)
	}
	if got := readFile(t, fs, "/dst/b.txt"); got != "hello" {
		t.Errorf("renamed content = %q", got)
	}
}

func TestTransfer_DirRoundTrip(t *testing.T) {
	c, fs := memLocal(t)
	ctx := context.Background()

	if err := c.PutDir(ctx, "/src/tree", "/dst"); err != nil {
		t.Fatalf("PutDir() error = %v", err)
	}
	if err := c.GetDir(ctx, "/dst/tree", "/back"); err != nil {
		t.Fatalf("GetDir() error = %v", err)
	}
	for name, want := range map[string]string{
		"/back/tree/z.txt":    "zed",
		"/back/tree/x/y.txt":  "why",
		"/back/tree/x/w/v.md": "vee",
	} {
		if got := readFile(t, fs, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestTransfer_GetMissing(t *testing.T) {
	c, _ := memLocal(t)
	err := c.GetFile(context.Background(), "/nope/missing.txt", "/dst")

	var terr *errors.TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TransferError", err)
	}
	if terr.Op != errors.TransferGet || terr.Remote != "/nope/missing.txt" || terr.Local != "/dst/missing.txt" {
		t.Errorf("TransferError = %+v", terr)
	}
}

func TestTransfer_PutDirRejectsFile(t *testing.T) {
	c, _ := memLocal(t)
	if err := c.PutDir(context.Background(), "/src/a.txt", "/dst"); !errors.Is(err, errors.ErrTransferFailed) {
		t.Errorf("err = %v, want transfer failure", err)
	}
}

func TestTransfer_Exists(t *testing.T) {
	c, _ := memLocal(t)
	ctx := context.Background()
	tests := map[string]bool{
		"/src/a.txt": true,
		"/src/tree":  true,
		"/src/none":  false,
	}
	for path, want := range tests {
		got, err := c.Exists(ctx, path)
		if err != nil {
			t.Fatalf("Exists(%s) error = %v", path, err)
		}
		if got != want {
			t.Errorf("Exists(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestTransfer_ReportsProgress(t *testing.T) {
	bus := event.NewBus()
	var done []string
	bus.Subscribe(event.TypeTransferProgress, func(e event.Event) {
		pe := e.(event.TransferProgressEvent)
		if pe.Percent() == 100 {
			done = append(done, pe.Remote)
		}
	})
	c, _ := memLocal(t, WithBus(bus))

	var observed int64
	err := c.PutDir(context.Background(), "/src/tree", "/dst", WithProgress(func(n, _ int64) { observed = n }))
	if err != nil {
		t.Fatalf("PutDir() error = %v", err)
	}
	want := []string{"/dst/tree/x/w/v.md", "/dst/tree/x/y.txt", "/dst/tree/z.txt"}
	if len(done) != len(want) {
		t.Fatalf("completed = %v, want %v", done, want)
	}
	for i := range want {
		if done[i] != want[i] {
			t.Errorf("completed[%d] = %q, want %q", i, done[i], want[i])
		}
	}
	if observed != 3 {
		t.Errorf("last observed = %d, want 3", observed)
	}
}
