// Package conversation holds the per-conversation dialogue state machine and
// the in-memory store that owns one session per conversation id.
package conversation

import "strings"

// State is the dialogue position of a conversation.
type State string

const (
	StateStart          State = "start"
	StateAwaitingInput  State = "awaiting_input"
	StateAwaitingChoice State = "awaiting_choice"
	// StateTerminal is transient: it settles to StateStart before a session is stored.
	StateTerminal State = "terminal"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// States lists every state, in declaration order.
func States() []State {
	return []State{StateStart, StateAwaitingInput, StateAwaitingChoice, StateTerminal}
}

// Command is a parsed bot command.
type Command string

const (
	// CommandNone marks a message without a command.
	CommandNone               Command = ""
	CommandHelp               Command = "help"
	CommandDownload           Command = "download"
	CommandDownloadFromSource Command = "downloadchannel"
	CommandCancel             Command = "cancel"
	CommandUnknown            Command = "unknown"
)

// Commands lists every command, including CommandNone and CommandUnknown.
func Commands() []Command {
	return []Command{CommandNone, CommandHelp, CommandDownload, CommandDownloadFromSource, CommandCancel, CommandUnknown}
}

// ParseCommand maps a command name such as "help", "/Help" or "download@mybot"
// to a Command. Empty input yields CommandNone.
func ParseCommand(name string) Command {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "/")
	if idx := strings.IndexByte(name, '@'); idx >= 0 {
		name = name[:idx]
	}
	switch name {
	case "":
		return CommandNone
	case "help", "start":
		return CommandHelp
	case "download":
		return CommandDownload
	case "downloadchannel", "downloadfrom":
		return CommandDownloadFromSource
	case "cancel":
		return CommandCancel
	default:
		return CommandUnknown
	}
}

// CommandDescription is one line of the help listing.
type CommandDescription struct {
	Name        string
	Description string
}

// Descriptions returns the user-facing command list.
func Descriptions() []CommandDescription {
	return []CommandDescription{
		{Name: "download", Description: "download video"},
		{Name: "downloadchannel", Description: "channel id to download"},
		{Name: "help", Description: "show this text"},
		{Name: "cancel", Description: "cancel"},
	}
}

// HelpText renders Descriptions for a chat reply.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, d := range Descriptions() {
		b.WriteString("\n/")
		b.WriteString(d.Name)
		b.WriteString(" - ")
		b.WriteString(d.Description)
	}
	return b.String()
}

// Session is the stored dialogue state of one conversation.
type Session struct {
	State State
	// PendingSource is the source reference recorded by DownloadFromSource.
	PendingSource string
}

// Settle applies the automatic Terminal -> Start reset.
func (s Session) Settle() Session {
	if s.State == StateTerminal || s.State == "" {
		return Session{State: StateStart}
	}
	return s
}

// Input is the part of an inbound message the state machine looks at.
type Input struct {
	Command Command
	// Args is the free-form command argument, or the text of a plain message.
	Args string
	// ForwardedFrom is the originating chat of a forwarded message.
	ForwardedFrom string
}

// EffectKind names the side effect a transition asks the router to perform.
type EffectKind string

const (
	EffectHelp            EffectKind = "help"
	EffectDownload        EffectKind = "download"
	EffectAwaitSource     EffectKind = "await_source"
	EffectAwaitChoice     EffectKind = "await_choice"
	EffectFetchFromSource EffectKind = "fetch_from_source"
	EffectCancel          EffectKind = "cancel"
	EffectInvalid         EffectKind = "invalid"
)

// Effect is the outcome of a transition, executed outside the state machine.
type Effect struct {
	Kind EffectKind
	// Source is set for EffectAwaitChoice and EffectFetchFromSource.
	Source string
}

// Privileged reports whether the effect requires an authorized requester.
func (e Effect) Privileged() bool {
	switch e.Kind {
	case EffectDownload, EffectAwaitSource, EffectAwaitChoice, EffectFetchFromSource:
		return true
	default:
		return false
	}
}

// Transition computes the next session and the effect for one input. It is
// total: every (state, command) pair without a rule yields EffectInvalid and
// leaves the session unchanged. The returned session may be StateTerminal;
// callers store its Settle form.
func Transition(cur Session, in Input) (Session, Effect) {
	cur = cur.Settle()

	if in.Command == CommandCancel {
		return Session{State: StateTerminal}, Effect{Kind: EffectCancel}
	}

	switch cur.State {
	case StateStart:
		switch in.Command {
		case CommandHelp:
			return cur, Effect{Kind: EffectHelp}
		case CommandDownload:
			return cur, Effect{Kind: EffectDownload}
		case CommandDownloadFromSource:
			source := firstNonEmpty(in.Args, in.ForwardedFrom)
			if source == "" {
				return Session{State: StateAwaitingInput}, Effect{Kind: EffectAwaitSource}
			}
			return Session{State: StateAwaitingChoice, PendingSource: source}, Effect{Kind: EffectAwaitChoice, Source: source}
		}
	case StateAwaitingInput:
		if in.Command == CommandNone {
			// A forwarded message names its origin; its text is content, not a source.
			source := firstNonEmpty(in.ForwardedFrom, in.Args)
			if source != "" {
				return Session{State: StateAwaitingChoice, PendingSource: source}, Effect{Kind: EffectAwaitChoice, Source: source}
			}
		}
	case StateAwaitingChoice:
		// A /download caption on the media still targets the pending source.
		if in.Command == CommandNone || in.Command == CommandDownload {
			return Session{State: StateStart}, Effect{Kind: EffectFetchFromSource, Source: cur.PendingSource}
		}
	}
	return cur, Effect{Kind: EffectInvalid}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
