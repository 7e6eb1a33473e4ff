package client

import "strings"

// Command is a slash command handled locally and never sent to the server.
type Command int

// Recognised commands.
const (
	CommandHelp Command = iota + 1
	CommandClear
	CommandQuit
	CommandFunface
)

var commandNames = map[string]Command{
	"/help":    CommandHelp,
	"/clear":   CommandClear,
	"/quit":    CommandQuit,
	"/funface": CommandFunface,
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return "unknown"
}

// ParseCommand reports whether line is one of the recognised commands.
// Any other line, including unknown slash words, is chat text.
func ParseCommand(line string) (Command, bool) {
	cmd, ok := commandNames[strings.TrimSpace(line)]
	return cmd, ok
}
