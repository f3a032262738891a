package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := map[string]Command{
		"":                      CommandNone,
		"help":                  CommandHelp,
		"/Help":                 CommandHelp,
		"start":                 CommandHelp,
		"download":              CommandDownload,
		"download@grabber_bot":  CommandDownload,
		"downloadchannel":       CommandDownloadFromSource,
		"DownloadFrom":          CommandDownloadFromSource,
		"cancel":                CommandCancel,
		"settings":              CommandUnknown,
		"/unknown@grabber_bot ": CommandUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseCommand(in), "input %q", in)
	}
}

func TestHelpTextListsCommands(t *testing.T) {
	t.Parallel()

	text := HelpText()
	for _, d := range Descriptions() {
		if !strings.Contains(text, "/"+d.Name+" - "+d.Description) {
			t.Fatalf("help text missing %q: %q", d.Name, text)
		}
	}
}

func TestTransitionDefinedRules(t *testing.T) {
	t.Parallel()

	start := Session{State: StateStart}
	tests := []struct {
		name       string
		cur        Session
		in         Input
		wantState  State
		wantSource string
		wantEffect Effect
	}{
		{
			name:       "help in start",
			cur:        start,
			in:         Input{Command: CommandHelp},
			wantState:  StateStart,
			wantEffect: Effect{Kind: EffectHelp},
		},
		{
			name:       "download stays in start",
			cur:        start,
			in:         Input{Command: CommandDownload},
			wantState:  StateStart,
			wantEffect: Effect{Kind: EffectDownload},
		},
		{
			name:       "download from source with arg",
			cur:        start,
			in:         Input{Command: CommandDownloadFromSource, Args: "@news"},
			wantState:  StateAwaitingChoice,
			wantSource: "@news",
			wantEffect: Effect{Kind: EffectAwaitChoice, Source: "@news"},
		},
		{
			name:       "download from source forwarded",
			cur:        start,
			in:         Input{Command: CommandDownloadFromSource, ForwardedFrom: "-10042"},
			wantState:  StateAwaitingChoice,
			wantSource: "-10042",
			wantEffect: Effect{Kind: EffectAwaitChoice, Source: "-10042"},
		},
		{
			name:       "download from source without arg asks for input",
			cur:        start,
			in:         Input{Command: CommandDownloadFromSource},
			wantState:  StateAwaitingInput,
			wantEffect: Effect{Kind: EffectAwaitSource},
		},
		{
			name:       "awaiting input receives source",
			cur:        Session{State: StateAwaitingInput},
			in:         Input{Args: " -100777 "},
			wantState:  StateAwaitingChoice,
			wantSource: "-100777",
			wantEffect: Effect{Kind: EffectAwaitChoice, Source: "-100777"},
		},
		{
			name:       "awaiting input prefers forward origin over text",
			cur:        Session{State: StateAwaitingInput},
			in:         Input{Args: "look at this", ForwardedFrom: "-100777"},
			wantState:  StateAwaitingChoice,
			wantSource: "-100777",
			wantEffect: Effect{Kind: EffectAwaitChoice, Source: "-100777"},
		},
		{
			name:       "awaiting choice fetches and resets",
			cur:        Session{State: StateAwaitingChoice, PendingSource: "@news"},
			in:         Input{},
			wantState:  StateStart,
			wantEffect: Effect{Kind: EffectFetchFromSource, Source: "@news"},
		},
		{
			name:       "awaiting choice download caption fetches from source",
			cur:        Session{State: StateAwaitingChoice, PendingSource: "@news"},
			in:         Input{Command: CommandDownload},
			wantState:  StateStart,
			wantEffect: Effect{Kind: EffectFetchFromSource, Source: "@news"},
		},
		{
			name:       "awaiting choice help is invalid",
			cur:        Session{State: StateAwaitingChoice, PendingSource: "@news"},
			in:         Input{Command: CommandHelp},
			wantState:  StateAwaitingChoice,
			wantSource: "@news",
			wantEffect: Effect{Kind: EffectInvalid},
		},
		{
			name:       "plain message in start is invalid",
			cur:        start,
			in:         Input{Args: "hello"},
			wantState:  StateStart,
			wantEffect: Effect{Kind: EffectInvalid},
		},
		{
			name:       "empty message while awaiting input is invalid",
			cur:        Session{State: StateAwaitingInput},
			in:         Input{},
			wantState:  StateAwaitingInput,
			wantEffect: Effect{Kind: EffectInvalid},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, effect := Transition(tt.cur, tt.in)
			next = next.Settle()
			assert.Equal(t, tt.wantState, next.State)
			assert.Equal(t, tt.wantSource, next.PendingSource)
			assert.Equal(t, tt.wantEffect, effect)
		})
	}
}

func TestTransitionCancelAlwaysEndsInStart(t *testing.T) {
	t.Parallel()

	for _, state := range States() {
		cur := Session{State: state, PendingSource: "@news"}
		next, effect := Transition(cur, Input{Command: CommandCancel})
		assert.Equal(t, StateTerminal, next.State)
		assert.Equal(t, EffectCancel, effect.Kind)
		assert.Equal(t, Session{State: StateStart}, next.Settle(), "from %s", state)
	}
}

// Every pair without an explicit rule must produce EffectInvalid and keep the session.
func TestTransitionIsTotal(t *testing.T) {
	t.Parallel()

	defined := map[State]map[Command]bool{
		StateStart:          {CommandHelp: true, CommandDownload: true, CommandDownloadFromSource: true, CommandCancel: true},
		StateAwaitingInput:  {CommandNone: true, CommandCancel: true},
		StateAwaitingChoice: {CommandNone: true, CommandDownload: true, CommandCancel: true},
	}
	for state, rules := range defined {
		for _, cmd := range Commands() {
			if rules[cmd] {
				continue
			}
			cur := Session{State: state, PendingSource: "src"}
			if state == StateStart {
				cur.PendingSource = ""
			}
			next, effect := Transition(cur, Input{Command: cmd, Args: "arg"})
			assert.Equal(t, EffectInvalid, effect.Kind, "state=%s cmd=%q", state, cmd)
			assert.Equal(t, cur, next, "state=%s cmd=%q", state, cmd)

			again, _ := Transition(next, Input{Command: cmd, Args: "arg"})
			assert.Equal(t, cur, again, "invalid transition must be idempotent")
		}
	}
}

func TestEffectPrivileged(t *testing.T) {
	t.Parallel()

	privileged := map[EffectKind]bool{
		EffectHelp:            false,
		EffectDownload:        true,
		EffectAwaitSource:     true,
		EffectAwaitChoice:     true,
		EffectFetchFromSource: true,
		EffectCancel:          false,
		EffectInvalid:         false,
	}
	for kind, want := range privileged {
		assert.Equal(t, want, Effect{Kind: kind}.Privileged(), "kind=%s", kind)
	}
}
