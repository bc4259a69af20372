package remote

import (
	"maps"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/logging"
)

// base carries what every connection variant shares: identity for events,
// protocol settings, the local filesystem and default environment.
type base struct {
	node     string
	logger   *logging.Logger
	bus      *event.Bus
	settings Settings
	localFS  afero.Fs
	env      map[string]string
}

func newBase(opts []Option) base {
	b := base{
		logger:   logging.NopLogger(),
		settings: DefaultSettings(),
		localFS:  afero.NewOsFs(),
		env:      map[string]string{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	for _, k := range []string{"LANG", "LANGUAGE"} {
		if _, ok := b.env[k]; !ok {
			b.env[k] = DefaultLang
		}
	}
	if b.node != "" {
		b.logger = b.logger.WithNode(b.node)
	}
	return b
}

// mergeEnv returns the connection defaults overlaid with over.
func (b *base) mergeEnv(over map[string]string) map[string]string {
	env := maps.Clone(b.env)
	maps.Copy(env, over)
	return env
}

func (b *base) commandStarted(target, dir, cmd string, cfg *execConfig) time.Time {
	if !cfg.quiet {
		b.logger.Info("exec", "target", target, "dir", dir, "command", cmd)
		b.bus.Publish(event.NewCommandStartedEvent(b.node, target, dir, cmd))
	}
	return time.Now()
}

func (b *base) commandFinished(cmd string, code int, started time.Time, cfg *execConfig) {
	if cfg.quiet {
		return
	}
	d := time.Since(started)
	if code != 0 {
		b.logger.Warn("command failed", "command", cmd, "exit_code", code, "duration", d)
	} else {
		b.logger.Debug("command finished", "command", cmd, "duration", d)
	}
	b.bus.Publish(event.NewCommandFinishedEvent(b.node, cmd, code, d))
}

func (b *base) output(data string, cfg *execConfig) {
	if cfg.output != nil {
		_, _ = cfg.output.Write([]byte(data))
	}
	if !cfg.quiet {
		b.bus.Publish(event.NewCommandOutputEvent(b.node, data))
	}
}

func (b *base) publish(e event.Event) {
	b.bus.Publish(e)
}

// progress returns a reporter for one file transfer.
func (b *base) progress(op, local, remote string, cfg *transferConfig) *Progress {
	p := NewProgress(op, local, remote, b.settings.ProgressInterval, func(line string, transferred, total int64) {
		b.logger.Info(line)
		b.bus.Publish(event.NewTransferProgressEvent(b.node, op, local, remote, transferred, total, line))
	})
	p.observer = cfg.progress
	return p
}
