package sshserver

import (
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/schema"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// terminal is the SSH side display of a bridge session. It echoes input
// units, keeps a rough cursor model so it can report line feeds and scrolls,
// and rings the bell when erasing an empty line. Echo runs on the session
// loop; SetSize and the attach writes run on the SSH handler goroutine.
type terminal struct {
	mu     sync.Mutex
	out    io.Writer
	prompt string

	cols int
	rows int
	row  int
	col  int
	// scrolled counts lines pushed into scrollback.
	scrolled int
	empty    bool
}

func newTerminal(out io.Writer, cols, rows int, prompt string) *terminal {
	t := &terminal{out: out, prompt: prompt, empty: true}
	t.setSizeLocked(cols, rows)
	return t
}

// SetSize records new dimensions and returns the effective size.
func (t *terminal) SetSize(cols, rows int) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setSizeLocked(cols, rows)
	return t.cols, t.rows
}

func (t *terminal) setSizeLocked(cols, rows int) {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	t.cols = cols
	t.rows = rows
	if t.row >= rows {
		t.row = rows - 1
	}
	if t.col >= cols {
		t.col = cols - 1
	}
}

// SetTitle writes an OSC 0 title sequence.
func (t *terminal) SetTitle(title string) schema.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, "\x1b]0;"+sanitizeTitle(title)+"\x07")
	return schema.TitleChangeEvent{Title: title}
}

// Greet writes a banner and the first prompt. It returns the line feeds
// and scrolls the banner produced.
func (t *terminal) Greet(banner string) []schema.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var follow []schema.Event
	for _, line := range strings.Split(banner, "\n") {
		follow = append(follow, t.writeLocked(line)...)
		follow = append(follow, t.newlineLocked()...)
	}
	return append(follow, t.writeLocked(t.prompt)...)
}

// LineEmpty reports whether the echoed line is empty.
func (t *terminal) LineEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.empty
}

// Echo renders one transition. It implements core.Display.
func (t *terminal) Echo(tr core.Transition) []schema.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.empty = tr.After == ""
	switch tr.Kind {
	case core.UnitCommit:
		follow := t.newlineLocked()
		return append(follow, t.writeLocked(t.prompt)...)
	case core.UnitErase:
		if !tr.Changed() {
			_, _ = io.WriteString(t.out, "\a")
			return []schema.Event{schema.BellEvent{}}
		}
		_, _ = io.WriteString(t.out, core.EchoText(tr))
		if t.col > 0 {
			t.col--
		}
		return nil
	default:
		return t.writeLocked(core.EchoText(tr))
	}
}

// writeLocked writes text and advances the cursor model, reporting scrolls
// caused by auto-wrap.
func (t *terminal) writeLocked(text string) []schema.Event {
	if text == "" {
		return nil
	}
	_, _ = io.WriteString(t.out, text)
	var follow []schema.Event
	for n := utf8.RuneCountInString(text); n > 0; n-- {
		t.col++
		if t.col >= t.cols {
			t.col = 0
			follow = append(follow, t.advanceRowLocked()...)
		}
	}
	return follow
}

func (t *terminal) newlineLocked() []schema.Event {
	_, _ = io.WriteString(t.out, "\r\n")
	t.col = 0
	return append([]schema.Event{schema.LineFeedEvent{}}, t.advanceRowLocked()...)
}

func (t *terminal) advanceRowLocked() []schema.Event {
	if t.row < t.rows-1 {
		t.row++
		return nil
	}
	t.scrolled++
	return []schema.Event{schema.ScrollEvent{Position: t.scrolled}}
}

func sanitizeTitle(title string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, title)
}
