// Package rsynclog provides the Logger interface threaded through every
// component (the teacher's rsyncd.Server carries a log.Logger field and
// exposes it via the WithLogger/WithStderr options so the server can be
// embedded with its log sink swapped out). This package keeps that same
// interface but backs it with github.com/sirupsen/logrus instead of a
// bespoke logger, giving structured per-session fields (session id,
// remote address, module name) via logrus.Entry.
package rsynclog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal interface every component depends on. It is
// satisfied by *logrus.Logger directly as well as by the Entry-backed
// wrapper New returns, so callers that already have a logrus logger don't
// need to adapt it.
type Logger interface {
	Printf(format string, args ...interface{})
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) Printf(format string, args ...interface{}) {
	l.entry.Printf(format, args...)
}

// New returns a Logger writing to out in logrus's default text format.
func New(out io.Writer) Logger {
	base := logrus.New()
	base.SetOutput(out)
	return &entryLogger{entry: logrus.NewEntry(base)}
}

// WithFields returns a Logger that annotates every subsequent line with
// fields, without mutating parent. Typical callers attach a session id,
// remote address, and module name once per connection
// (rsyncd.Server.HandleDaemonConn) so every log line from that session
// carries them.
func WithFields(parent Logger, fields map[string]interface{}) Logger {
	if el, ok := parent.(*entryLogger); ok {
		return &entryLogger{entry: el.entry.WithFields(logrus.Fields(fields))}
	}
	// parent isn't one of ours (e.g. a caller-supplied Logger implementation
	// via WithLogger); fields are dropped but every Printf call still
	// reaches the underlying logger, which is the property that matters.
	return parent
}
