package bot

import "strings"

// Event is one inbound chat message, transport-agnostic.
type Event struct {
	OwnerID   int64
	ChatID    int64
	Username  string
	Text      string
	IsCommand bool
	Command   string
	Args      []string
}

// Reply is what the bot sends back. Actions are offered as quick-reply buttons.
type Reply struct {
	Text    string
	Actions []string
}

// NewEvent classifies text as a command ("/name@bot arg ...") or plain input.
func NewEvent(ownerID, chatID int64, username, text string) Event {
	ev := Event{OwnerID: ownerID, ChatID: chatID, Username: username, Text: text}

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return ev
	}
	fields := strings.Fields(trimmed)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return ev
	}

	ev.IsCommand = true
	ev.Command = strings.ToLower(name)
	ev.Args = fields[1:]
	return ev
}
