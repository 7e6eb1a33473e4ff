package term

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/client"
)

// TestRenderUserMessage verifies the two-line layout of a user message.
func TestRenderUserMessage(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf)

	ts := time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local)
	term.Render(chat.Message{Username: "alice", Content: "hello", Timestamp: ts, Type: chat.UserMessage})

	want := "┌─[03/09/24:14:05:06]\n└─ alice --> hello\n"
	if got := buf.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// TestRenderSystemNotice verifies notices are bracketed.
func TestRenderSystemNotice(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf)

	term.Render(chat.NewSystemMessage("bob", "has landed"))

	if got := buf.String(); got != "\n[bob has landed]\n" {
		t.Errorf("Unexpected notice rendering %q", got)
	}
}

// TestCommands verifies each local command's output.
func TestCommands(t *testing.T) {
	cases := []struct {
		cmd  client.Command
		want string
	}{
		{client.CommandHelp, HelpText},
		{client.CommandClear, clearScreen},
		{client.CommandFunface, Funface},
		{client.CommandQuit, ""},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		New(&buf).Command(tc.cmd)
		if buf.String() != tc.want {
			t.Errorf("%s: unexpected output %q", tc.cmd, buf.String())
		}
	}
}

// TestHeader verifies the banner names the user.
func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf)
	term.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local) }

	term.Header("alice")

	out := buf.String()
	if !strings.Contains(out, "== CHATBOX == Chatterer: alice == 01/02/24:03:04:05 ==") {
		t.Errorf("Header missing banner: %q", out)
	}
	if !strings.Contains(out, Hint) {
		t.Errorf("Header missing hint: %q", out)
	}
}

// TestColorIndexStable verifies a name always maps to the same colour.
func TestColorIndexStable(t *testing.T) {
	if ColorIndex("alice", 6) != ColorIndex("alice", 6) {
		t.Error("Colour index is not deterministic")
	}
	// "ab" = 97 + 98 = 195, 195 % 6 = 3.
	if got := ColorIndex("ab", 6); got != 3 {
		t.Errorf("Expected 3, got %d", got)
	}
	// 3 * 'z' = 366 wraps to 110, 110 % 6 = 2.
	if got := ColorIndex("zzz", 6); got != 2 {
		t.Errorf("Expected wrapped sum index 2, got %d", got)
	}
	if got := ColorIndex("", 6); got != 0 {
		t.Errorf("Expected 0 for empty name, got %d", got)
	}
}

// TestEmojify verifies emoticons are replaced and other text is kept.
func TestEmojify(t *testing.T) {
	cases := map[string]string{
		"hi :)":        "hi 😊",
		"sad :(":       "sad 😢",
		"I <3 go":      "I ❤️ go",
		"wait...":      "wait😶",
		"brb":          "🏃‍♂️",
		"plain text":   "plain text",
		"XD and ;)":    "😂 and 😉",
		"really!?":     "really❓❗",
		"big grin :D ": "big grin 😄 ",
	}
	for in, want := range cases {
		if got := Emojify(in); got != want {
			t.Errorf("Emojify(%q) = %q, want %q", in, got, want)
		}
	}
}
