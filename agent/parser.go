package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Action is a single parsed command from model output. Immutable once parsed.
type Action struct {
	Command string
	Args    []string
	Raw     string
}

// CommandSpec declares one valid command in the action schema.
type CommandSpec struct {
	Description string
	MinArgs     int
	// MaxArgs of -1 means unbounded.
	MaxArgs int
	// RawArgs commands take the rest of the line verbatim as a single
	// argument, without quote splitting. Shell commands need this.
	RawArgs bool
	// Terminal commands end the task successfully.
	Terminal bool
}

// Schema is the declarative set of valid commands a model response may issue.
type Schema map[string]CommandSpec

// DefaultSchema is the standard software-engineering command set.
func DefaultSchema() Schema {
	return Schema{
		"bash": {
			Description: "run a shell command in the repository",
			MinArgs:     1, MaxArgs: 1, RawArgs: true,
		},
		"submit": {
			Description: "declare the task solved and end the run",
			MinArgs:     0, MaxArgs: 0, Terminal: true,
		},
	}
}

// IsTerminal reports whether the named command ends the task.
func (s Schema) IsTerminal(command string) bool {
	return s[command].Terminal
}

// Commands returns the command names in sorted order, for prompt rendering.
func (s Schema) Commands() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseReason distinguishes the ways a model response can fail to parse.
type ParseReason string

const (
	ReasonNoAction        ParseReason = "no-action"
	ReasonMultipleActions ParseReason = "multiple-actions"
	ReasonUnknownCommand  ParseReason = "unknown-command"
	ReasonBadArity        ParseReason = "bad-arity"
	ReasonUnbalancedQuote ParseReason = "unbalanced-quote"
)

// ParseError reports a malformed model response. It is not a fault: the
// controller converts it into corrective feedback inside the conversation.
type ParseError struct {
	Reason  ParseReason
	Detail  string
	Command string
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("parse: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("parse: %s", e.Reason)
}

// Corrective renders the feedback entry appended to the conversation when
// parsing fails.
func (e *ParseError) Corrective(schema Schema) string {
	var b strings.Builder
	switch e.Reason {
	case ReasonNoAction:
		b.WriteString("Your response contained no action. ")
	case ReasonMultipleActions:
		b.WriteString("Your response contained more than one action. ")
	case ReasonUnknownCommand:
		fmt.Fprintf(&b, "Unknown command %q. ", e.Command)
	case ReasonBadArity:
		fmt.Fprintf(&b, "Wrong number of arguments for %q: %s. ", e.Command, e.Detail)
	case ReasonUnbalancedQuote:
		b.WriteString("Unbalanced quote in your action arguments. ")
	}
	b.WriteString("You must issue exactly one action per response, inside a single fenced block:\n\n")
	b.WriteString("```action\n<command> <arguments>\n```\n\nValid commands: ")
	b.WriteString(strings.Join(schema.Commands(), ", "))
	b.WriteString(".")
	return b.String()
}

const actionFence = "```action"

// Parse extracts exactly one action from raw model output and validates it
// against the schema. Zero actions, multiple actions, unknown commands, and
// arity violations all return *ParseError.
func Parse(raw string, schema Schema) (*Action, error) {
	blocks := extractActionBlocks(raw)
	if len(blocks) == 0 {
		return nil, &ParseError{Reason: ReasonNoAction}
	}

	var lines []string
	for _, block := range blocks {
		for _, line := range strings.Split(block, "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, strings.TrimSpace(line))
			}
		}
	}
	if len(lines) == 0 {
		return nil, &ParseError{Reason: ReasonNoAction}
	}
	if len(lines) > 1 || len(blocks) > 1 {
		return nil, &ParseError{
			Reason: ReasonMultipleActions,
			Detail: fmt.Sprintf("found %d", max(len(lines), len(blocks))),
		}
	}

	line := lines[0]
	command, rest, _ := strings.Cut(line, " ")
	spec, ok := schema[command]
	if !ok {
		return nil, &ParseError{Reason: ReasonUnknownCommand, Command: command}
	}

	var args []string
	rest = strings.TrimSpace(rest)
	if spec.RawArgs {
		if rest != "" {
			args = []string{rest}
		}
	} else if rest != "" {
		split, err := splitArgs(rest)
		if err != nil {
			return nil, &ParseError{Reason: ReasonUnbalancedQuote, Command: command, Detail: err.Error()}
		}
		args = split
	}

	if len(args) < spec.MinArgs {
		return nil, &ParseError{
			Reason:  ReasonBadArity,
			Command: command,
			Detail:  fmt.Sprintf("got %d, want at least %d", len(args), spec.MinArgs),
		}
	}
	if spec.MaxArgs >= 0 && len(args) > spec.MaxArgs {
		return nil, &ParseError{
			Reason:  ReasonBadArity,
			Command: command,
			Detail:  fmt.Sprintf("got %d, want at most %d", len(args), spec.MaxArgs),
		}
	}

	return &Action{Command: command, Args: args, Raw: line}, nil
}

// extractActionBlocks returns the contents of every ```action fenced block.
func extractActionBlocks(raw string) []string {
	var blocks []string
	remaining := raw
	for {
		start := strings.Index(remaining, actionFence)
		if start < 0 {
			return blocks
		}
		body := remaining[start+len(actionFence):]
		end := strings.Index(body, "```")
		if end < 0 {
			// Unclosed fence: take the rest.
			blocks = append(blocks, body)
			return blocks
		}
		blocks = append(blocks, body[:end])
		remaining = body[end+3:]
	}
}

// splitArgs splits a line into arguments, honoring single and double quotes
// and backslash escapes.
func splitArgs(s string) ([]string, error) {
	var args []string
	var current strings.Builder
	var quote rune
	inArg := false
	escaped := false

	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
			inArg = true
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}
