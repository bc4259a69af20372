package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestWriter(t *testing.T, cfg RotationConfig) (*RotatingWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	rw, err := NewRotatingWriter(path, cfg)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	t.Cleanup(func() { rw.Close() })
	return rw, path
}

func TestRotatingWriter_NoRotationWhenDisabled(t *testing.T) {
	rw, path := newTestWriter(t, RotationConfig{MaxSizeMB: 0, MaxBackups: 3})

	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should exist when rotation is disabled")
	}
}

func TestRotatingWriter_RotatesAndKeepsBackups(t *testing.T) {
	rw, path := newTestWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})

	mb := bytes.Repeat([]byte("a"), 1024*1024)
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(mb); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should be removed")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	rw, path := newTestWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})

	first := bytes.Repeat([]byte("1"), 1024*1024)
	if _, err := rw.Write(first); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("second")); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, first) {
		t.Error("compressed backup content mismatch")
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, _ := newTestWriter(t, DefaultRotationConfig())
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLoggerWithRotation(dir, LevelInfo, DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Errorf("missing entry: %s", data)
	}
}
