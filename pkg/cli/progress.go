package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"unqork-logs/internal/domain"
	"unqork-logs/internal/service/fetch"
)

// termProgress prints fetch progress to a writer. On a terminal the current
// window is redrawn in place as files complete; otherwise one line is
// printed per finished window.
type termProgress struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	width int

	index int
	total int
}

var _ fetch.Progress = (*termProgress)(nil)

func newTermProgress(w io.Writer) *termProgress {
	p := &termProgress{w: w, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	return p
}

func (p *termProgress) WindowStarted(w domain.FetchWindow, index, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index, p.total = index+1, total
	if p.tty {
		p.redraw(fmt.Sprintf("[%d/%d] %s  listing files", p.index, p.total, formatTime(w.Start)))
	}
}

func (p *termProgress) FileDone(w domain.FetchWindow, done, total int) {
	if !p.tty {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redraw(fmt.Sprintf("[%d/%d] %s  files %d/%d", p.index, p.total, formatTime(w.Start), done, total))
}

func (p *termProgress) WindowDone(w domain.FetchWindow, entries int, recorded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "done"
	if !recorded {
		state = "open, will be refetched"
	}
	p.line(fmt.Sprintf("[%d/%d] %s  %d entries (%s)", p.index, p.total, formatTime(w.Start), entries, state))
}

func (p *termProgress) WindowFailed(w domain.FetchWindow, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(fmt.Sprintf("[%d/%d] %s  failed: %v", p.index, p.total, formatTime(w.Start), err))
}

// finish clears any partially drawn line.
func (p *termProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		_, _ = fmt.Fprint(p.w, "\r\x1b[2K")
	}
}

func (p *termProgress) redraw(s string) {
	_, _ = fmt.Fprint(p.w, "\r\x1b[2K"+truncate(s, p.width-1))
}

func (p *termProgress) line(s string) {
	if p.tty {
		_, _ = fmt.Fprint(p.w, "\r\x1b[2K")
	}
	_, _ = fmt.Fprintln(p.w, s)
}
