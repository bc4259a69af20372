package remote

import (
	"context"
	"io"
	"strings"
	"time"
)

// stream reads command output from r until EOF and returns everything read.
// Output is decoded using the charset of lang, passed to the observers as it
// arrives, and after every chunk and every poll tick the last line is checked
// for pending prompts. Each prompt is answered at most once by writing its
// answer and a newline to stdin.
//
// On ctx cancellation the output gathered so far is returned with ctx.Err().
func (b *base) stream(ctx context.Context, r io.Reader, stdin io.Writer, lang string, cfg *execConfig) (string, error) {
	chunks := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		dr := decodingReader(r, lang)
		buf := make([]byte, b.settings.ReadSize)
		for {
			n, err := dr.Read(buf)
			if n > 0 {
				select {
				case chunks <- string(buf[:n]):
				case <-done:
					return
				}
			}
			if err != nil {
				if err == io.EOF || isClosedPty(err) {
					err = nil
				}
				readErr <- err
				close(chunks)
				return
			}
		}
	}()

	var out strings.Builder
	pending := append([]Prompt(nil), cfg.prompts...)
	ticker := time.NewTicker(b.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		case data, ok := <-chunks:
			if !ok {
				return out.String(), <-readErr
			}
			data = dropInvalid(data)
			if data == "" {
				continue
			}
			out.WriteString(data)
			b.output(data, cfg)
		case <-ticker.C:
		}
		if len(pending) > 0 && stdin != nil {
			pending = answerPrompt(lastLine(out.String()), pending, stdin)
		}
	}
}

// answerPrompt writes the answer of the first pending prompt found in line and
// returns the remaining prompts.
func answerPrompt(line string, pending []Prompt, stdin io.Writer) []Prompt {
	if line == "" {
		return pending
	}
	for i, p := range pending {
		if strings.Contains(line, p.Match) {
			_, _ = io.WriteString(stdin, p.Answer+"\n")
			return append(pending[:i:i], pending[i+1:]...)
		}
	}
	return pending
}

// lastLine returns the final line of s, ignoring one trailing line break.
func lastLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
