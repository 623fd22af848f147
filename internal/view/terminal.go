package view

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title  lipgloss.Style
	help   lipgloss.Style
	own    lipgloss.Style
	other  lipgloss.Style
	system lipgloss.Style
	err    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		help:   r.NewStyle().Foreground(lipgloss.Color("8")),
		own:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		other:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		system: r.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
		err:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// Terminal is a line-oriented View. Every rendered message can also be
// appended to an HTML transcript.
type Terminal struct {
	mu         sync.Mutex
	out        io.Writer
	transcript io.Writer
	styles     styles
}

// NewTerminal writes to out. transcript may be nil.
func NewTerminal(out, transcript io.Writer) *Terminal {
	return &Terminal{
		out:        out,
		transcript: transcript,
		styles:     newStyles(lipgloss.NewRenderer(out)),
	}
}

func (t *Terminal) ShowAuth(tab Tab) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tab == TabRegister {
		t.println(t.styles.title.Render("== Register =="))
		t.println(t.styles.help.Render("/register <username> <password> <confirm>    /tab login"))
		return
	}
	t.println(t.styles.title.Render("== Login =="))
	t.println(t.styles.help.Render("/login <username> <password>    /tab register"))
}

func (t *Terminal) ShowChat(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.println(t.styles.title.Render("== Chat: signed in as " + sanitize(username) + " =="))
	t.println(t.styles.help.Render("type to send    //text sends a leading slash    /logout    /quit"))
}

func (t *Terminal) AppendMessage(r Rendered) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch r.Class {
	case ClassSystem:
		t.println(t.styles.system.Render("* " + sanitize(r.Content)))
	case ClassOwn:
		t.println(t.styles.own.Render("["+sanitize(r.Header())+"]") + " " + sanitize(r.Content))
	default:
		t.println(t.styles.other.Render("["+sanitize(r.Header())+"]") + " " + sanitize(r.Content))
	}

	if t.transcript != nil {
		if _, err := io.WriteString(t.transcript, r.HTML()+"\n"); err != nil {
			log.Printf("[view] transcript write failed: %v", err)
		}
	}
}

func (t *Terminal) ShowError(slot Slot, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(t.styles.err.Render("! " + text))
}

// ClearError is a no-op: printed lines cannot be taken back, and the next
// error replaces the last one.
func (t *Terminal) ClearError(Slot) {}

// ClearInput is a no-op: the line was consumed when it was read.
func (t *Terminal) ClearInput() {}

// Notice prints a local hint such as a usage error.
func (t *Terminal) Notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(t.styles.help.Render(text))
}

func (t *Terminal) println(s string) {
	fmt.Fprintln(t.out, s)
}

// sanitize drops control characters so server text cannot move the cursor or
// inject escape sequences.
func sanitize(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
