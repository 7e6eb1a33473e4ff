// Package term renders chat sessions on a text terminal.
package term

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/client"
)

// TimeLayout is how message timestamps are printed.
const TimeLayout = "01/02/06:15:04:05"

// HelpText lists the local commands.
const HelpText = "\n=== Commands ===\n/help - Show this help\n/clear - Clear messages\n/quit - Exit chat\n/funface - Draw a face\n\n"

// Hint is the one-line usage reminder printed under the header.
const Hint = "Ctrl+C:quit | Enter:send | Commands: /help, /clear, /quit, /funface"

const clearScreen = "\x1b[H\x1b[2J"

var usernameColors = []lipgloss.Color{
	lipgloss.Color("9"),  // red
	lipgloss.Color("10"), // green
	lipgloss.Color("11"), // yellow
	lipgloss.Color("12"), // blue
	lipgloss.Color("13"), // magenta
	lipgloss.Color("14"), // cyan
}

// Terminal implements client.Renderer on top of an io.Writer. It is safe for
// concurrent use.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	header lipgloss.Style
	hint   lipgloss.Style
	names  []lipgloss.Style
	now    func() time.Time
}

var _ client.Renderer = (*Terminal)(nil)

// New returns a Terminal writing to out. Colours are only emitted when out
// is a terminal that supports them.
func New(out io.Writer) *Terminal {
	r := lipgloss.NewRenderer(out)

	names := make([]lipgloss.Style, len(usernameColors))
	for i, c := range usernameColors {
		names[i] = r.NewStyle().Foreground(c)
	}

	return &Terminal{
		out:    out,
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		hint:   r.NewStyle().Foreground(lipgloss.Color("2")),
		names:  names,
		now:    time.Now,
	}
}

// Header prints the banner shown when a session starts.
func (t *Terminal) Header(name string) {
	banner := fmt.Sprintf("== CHATBOX == Chatterer: %s == %s ==", name, t.now().Format(TimeLayout))
	t.write(t.header.Render(banner) + "\n" + t.hint.Render(Hint) + "\n\n")
}

// Render prints a chat message.
func (t *Terminal) Render(m chat.Message) {
	name := t.colorFor(m.Username).Render(m.Username)
	if m.IsSystem() {
		t.write(fmt.Sprintf("\n[%s %s]\n", name, m.Content))
		return
	}
	t.write(fmt.Sprintf("┌─[%s]\n└─ %s --> %s\n", m.Timestamp.Local().Format(TimeLayout), name, m.Content))
}

// Notice prints text that did not come as a chat message.
func (t *Terminal) Notice(text string) {
	t.write(text + "\n")
}

// Command performs a local command. Quitting needs no output.
func (t *Terminal) Command(cmd client.Command) {
	switch cmd {
	case client.CommandHelp:
		t.write(HelpText)
	case client.CommandClear:
		t.write(clearScreen)
	case client.CommandFunface:
		t.write(Funface)
	}
}

func (t *Terminal) colorFor(username string) lipgloss.Style {
	return t.names[ColorIndex(username, len(t.names))]
}

func (t *Terminal) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, s)
}

// ColorIndex picks one of n colours for username from the wrapping byte sum
// of the name, so a name always gets the same colour.
func ColorIndex(username string, n int) int {
	var sum uint8
	for i := 0; i < len(username); i++ {
		sum += username[i]
	}
	return int(sum) % n
}
