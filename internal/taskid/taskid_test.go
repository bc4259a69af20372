package taskid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/xflow/internal/filelock"
)

func TestCounter_NextStartsAtOne(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "build"))

	for want := 1; want <= 3; want++ {
		got, err := c.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}

	data, err := os.ReadFile(filepath.Join(c.Dir(), CounterFile))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "3" {
		t.Errorf("counter file = %q, want %q", got, "3")
	}
}

func TestCounter_ResumesFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, CounterFile), []byte("41\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := New(dir).Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("Next() = %d, want 42", got)
	}
}

func TestCounter_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, CounterFile), nil, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := New(dir).Next(context.Background())
	if err != nil || got != 1 {
		t.Errorf("Next() = %d, %v; want 1, nil", got, err)
	}
}

func TestCounter_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, CounterFile), []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir).Next(context.Background()); err == nil {
		t.Error("Next() should fail on a corrupt counter file")
	}
}

func TestCounter_ConcurrentAllocationIsUniqueAndGapless(t *testing.T) {
	dir := t.TempDir()
	const writers = 16
	const perWriter = 8

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each writer has its own Counter and thus its own lock file
			// descriptor, the same as separate processes would.
			c := New(dir)
			for j := 0; j < perWriter; j++ {
				id, err := c.Next(context.Background())
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				mu.Lock()
				got = append(got, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Ints(got)
	if len(got) != writers*perWriter {
		t.Fatalf("allocated %d ids, want %d", len(got), writers*perWriter)
	}
	for i, id := range got {
		if id != i+1 {
			t.Fatalf("ids[%d] = %d, want %d (duplicate or gap)", i, id, i+1)
		}
	}
}

func TestCounter_NextHonorsContextWhileLocked(t *testing.T) {
	dir := t.TempDir()
	holder := filelock.New(filepath.Join(dir, LockFile))
	if err := holder.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := New(dir).Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v, want DeadlineExceeded", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CounterFile)); !os.IsNotExist(err) {
		t.Errorf("counter file should not be written without the lock: %v", err)
	}
}
