package term

import "strings"

var emoticons = []struct{ from, to string }{
	{":)", "😊"},
	{":(", "😢"},
	{":D", "😄"},
	{"<3", "❤️"},
	{":/", "😕"},
	{"XD", "😂"},
	{"!?", "❓❗"},
	{"...", "😶"},
	{":-)", "😊"},
	{":-(", "😢"},
	{"wtf", "🤬"},
	{"brb", "🏃‍♂️"},
	{";)", "😉"},
}

// Emojify replaces text emoticons with emoji. Replacements are applied in
// order, each over the output of the previous one.
func Emojify(text string) string {
	for _, e := range emoticons {
		text = strings.ReplaceAll(text, e.from, e.to)
	}
	return text
}
