package remote

import (
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1KB"},
		{1536, "1KB"},
		{1024 * 1024, "1.0MB"},
		{1536 * 1024, "1.5MB"},
		{1024 * 1024 * 1024, "1.0GB"},
		{5 * 1024 * 1024 * 1024 / 2, "2.5GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatSize(tt.in); got != tt.want {
				t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestProgress(op string, lines *[]string) (*Progress, *clock) {
	c := &clock{t: time.Unix(0, 0)}
	p := NewProgress(op, "./a.bin", "/tmp/a.bin", 3*time.Second, func(line string, _, _ int64) {
		*lines = append(*lines, line)
	})
	p.now = c.now
	return p, c
}

func TestProgress_Throttles(t *testing.T) {
	var lines []string
	p, c := newTestProgress(OpPut, &lines)

	p.Update(0, 2048)
	p.Update(512, 2048) // inside the interval
	c.t = c.t.Add(3 * time.Second)
	p.Update(1024, 2048)
	p.Update(2048, 2048)
	p.Update(2048, 2048) // completion only once

	want := []string{
		"Put ./a.bin => /tmp/a.bin 0B/2KB 0%",
		"Put ./a.bin => /tmp/a.bin 1KB/2KB 50%",
		"Put ./a.bin => /tmp/a.bin 2KB/2KB 100%",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines %q, want %d", len(lines), lines, len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestProgress_GetPrefix(t *testing.T) {
	var lines []string
	p, _ := newTestProgress(OpGet, &lines)
	p.Update(10, 10)
	if len(lines) != 1 || lines[0] != "Get ./a.bin <= /tmp/a.bin 10B/10B 100%" {
		t.Errorf("lines = %q", lines)
	}
}

func TestProgress_EmptyFileCompletes(t *testing.T) {
	var lines []string
	p, _ := newTestProgress(OpPut, &lines)
	p.Update(0, 0)
	p.Update(0, 0)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
}

func TestProgress_ObserverSeesEveryUpdate(t *testing.T) {
	var lines []string
	var seen int
	p, _ := newTestProgress(OpPut, &lines)
	p.observer = func(int64, int64) { seen++ }

	for i := int64(0); i <= 10; i++ {
		p.Update(i, 10)
	}
	if seen != 11 {
		t.Errorf("observer called %d times, want 11", seen)
	}
	if len(lines) != 2 {
		t.Errorf("emitted %d lines, want 2", len(lines))
	}
}
