package fetch

import (
	"log/slog"

	"unqork-logs/internal/domain"
)

// Progress receives fetch events. FileDone may be called from several
// goroutines at once; the other methods are called from the fetching
// goroutine only.
type Progress interface {
	WindowStarted(w domain.FetchWindow, index, total int)
	FileDone(w domain.FetchWindow, done, total int)
	WindowDone(w domain.FetchWindow, entries int, recorded bool)
	WindowFailed(w domain.FetchWindow, err error)
}

// NopProgress discards every event.
type NopProgress struct{}

func (NopProgress) WindowStarted(domain.FetchWindow, int, int) {}
func (NopProgress) FileDone(domain.FetchWindow, int, int)      {}
func (NopProgress) WindowDone(domain.FetchWindow, int, bool)   {}
func (NopProgress) WindowFailed(domain.FetchWindow, error)     {}

// LogProgress reports window-level events to a structured logger.
type LogProgress struct {
	Logger *slog.Logger
}

func (p LogProgress) WindowStarted(w domain.FetchWindow, index, total int) {
	p.Logger.Info("fetching window", "window", w.String(), "index", index+1, "total", total)
}

func (p LogProgress) FileDone(w domain.FetchWindow, done, total int) {
	p.Logger.Debug("file done", "window", w.String(), "done", done, "total", total)
}

func (p LogProgress) WindowDone(w domain.FetchWindow, entries int, recorded bool) {
	p.Logger.Info("window done", "window", w.String(), "entries", entries, "recorded", recorded)
}

func (p LogProgress) WindowFailed(w domain.FetchWindow, err error) {
	p.Logger.Warn("window failed", "window", w.String(), "error", err)
}
