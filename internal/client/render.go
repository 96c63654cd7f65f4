package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Renderer prints relay traffic to a terminal
type Renderer struct {
	out io.Writer

	nameStyle   lipgloss.Style
	noticeStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

// NewRenderer creates a renderer writing to out
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out: out,
		nameStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")),
		noticeStyle: lipgloss.NewStyle().
			Faint(true).
			Foreground(lipgloss.Color("240")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
	}
}

// Message prints one datagram from the relay. Relayed chat ("NAME: text") gets
// a highlighted author; everything else is a relay notice.
func (r *Renderer) Message(body string) {
	if body == "" {
		return
	}
	if name, text, ok := strings.Cut(body, ": "); ok && name != "" {
		fmt.Fprintln(r.out, r.nameStyle.Render(name+":")+" "+text)
		return
	}
	fmt.Fprintln(r.out, r.noticeStyle.Render(body))
}

// Notice prints a local status line
func (r *Renderer) Notice(format string, args ...any) {
	fmt.Fprintln(r.out, r.noticeStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints a local error line
func (r *Renderer) Error(format string, args ...any) {
	fmt.Fprintln(r.out, r.errorStyle.Render(fmt.Sprintf(format, args...)))
}
