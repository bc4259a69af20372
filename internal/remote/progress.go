package remote

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transfer operations.
const (
	OpGet = "get"
	OpPut = "put"
)

// Progress throttles transfer progress to one line per interval. The first
// update and the completing update are always emitted; completion is emitted
// exactly once.
type Progress struct {
	mu       sync.Mutex
	prefix   string
	interval time.Duration
	emit     func(line string, transferred, total int64)
	observer ProgressFunc
	now      func() time.Time
	last     time.Time
	started  bool
	done     bool
}

// NewProgress returns a reporter for one file. emit receives the formatted
// line, e.g. "Put ./a.bin => /tmp/a.bin 1.5MB/10.2MB 14%".
func NewProgress(op, local, remote string, interval time.Duration, emit func(line string, transferred, total int64)) *Progress {
	prefix := fmt.Sprintf("Put %s => %s", local, remote)
	if op == OpGet {
		prefix = fmt.Sprintf("Get %s <= %s", local, remote)
	}
	return &Progress{
		prefix:   prefix,
		interval: interval,
		emit:     emit,
		now:      time.Now,
	}
}

// Update records that transferred of total bytes have been moved.
func (p *Progress) Update(transferred, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.observer != nil {
		p.observer(transferred, total)
	}
	if p.done {
		return
	}
	pct := percent(transferred, total)
	now := p.now()
	switch {
	case pct >= 100:
		p.done = true
	case !p.started || now.Sub(p.last) >= p.interval:
	default:
		return
	}
	p.started = true
	p.last = now
	if p.emit != nil {
		p.emit(p.line(transferred, total, pct), transferred, total)
	}
}

func (p *Progress) line(transferred, total int64, pct int) string {
	return fmt.Sprintf("%s %s/%s %d%%", p.prefix, FormatSize(transferred), FormatSize(total), pct)
}

func percent(transferred, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(transferred * 100 / total)
}

// FormatSize renders b in the largest of GB, MB, KB and B whose value is at
// least 1. KB is whole, MB is rounded to one decimal and GB to two.
func FormatSize(b int64) string {
	kb := b / 1024
	mb := math.Round(float64(kb)/1024*10) / 10
	gb := math.Round(mb/1024*100) / 100
	switch {
	case gb >= 1:
		return formatFloat(gb) + "GB"
	case mb >= 1:
		return formatFloat(mb) + "MB"
	case kb >= 1:
		return strconv.FormatInt(kb, 10) + "KB"
	default:
		return strconv.FormatInt(b, 10) + "B"
	}
}

// formatFloat prints the shortest representation, always with a fraction.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// progressWriter counts bytes written through it and reports them.
type progressWriter struct {
	w     io.Writer
	p     *Progress
	n     int64
	total int64
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.n += int64(n)
	pw.p.Update(min(pw.n, pw.total), pw.total)
	return n, err
}

// progressReader counts bytes read through it and reports them.
type progressReader struct {
	r     io.Reader
	p     *Progress
	n     int64
	total int64
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.n += int64(n)
	if n > 0 {
		pr.p.Update(min(pr.n, pr.total), pr.total)
	}
	return n, err
}
