package agent

import (
	"errors"
	"strings"
	"testing"
)

func testSchema() Schema {
	s := DefaultSchema()
	s["open"] = CommandSpec{Description: "open a file", MinArgs: 1, MaxArgs: 2}
	return s
}

func TestParseSingleAction(t *testing.T) {
	raw := "I will list the files first.\n\n```action\nbash ls -la\n```\n"
	action, err := Parse(raw, testSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Command != "bash" {
		t.Errorf("expected command bash, got %q", action.Command)
	}
	if len(action.Args) != 1 || action.Args[0] != "ls -la" {
		t.Errorf("expected raw shell args, got %v", action.Args)
	}
	if action.Raw != "bash ls -la" {
		t.Errorf("expected raw source preserved, got %q", action.Raw)
	}
}

func TestParseTerminalAction(t *testing.T) {
	schema := testSchema()
	action, err := Parse("Done.\n```action\nsubmit\n```", schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !schema.IsTerminal(action.Command) {
		t.Error("expected submit to be terminal")
	}
}

func TestParseQuotedArgs(t *testing.T) {
	action, err := Parse("```action\nopen \"my file.go\" 42\n```", testSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(action.Args) != 2 {
		t.Fatalf("expected 2 args, got %v", action.Args)
	}
	if action.Args[0] != "my file.go" {
		t.Errorf("expected quoted arg joined, got %q", action.Args[0])
	}
	if action.Args[1] != "42" {
		t.Errorf("expected second arg 42, got %q", action.Args[1])
	}
}

func TestParseNoAction(t *testing.T) {
	_, err := Parse("I think we should look at the tests.", testSchema())
	assertReason(t, err, ReasonNoAction)
}

func TestParseEmptyBlock(t *testing.T) {
	_, err := Parse("```action\n\n```", testSchema())
	assertReason(t, err, ReasonNoAction)
}

func TestParseMultipleBlocks(t *testing.T) {
	raw := "```action\nbash ls\n```\nand then\n```action\nbash pwd\n```"
	_, err := Parse(raw, testSchema())
	assertReason(t, err, ReasonMultipleActions)
}

func TestParseMultipleLines(t *testing.T) {
	_, err := Parse("```action\nbash ls\nbash pwd\n```", testSchema())
	assertReason(t, err, ReasonMultipleActions)
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse("```action\nteleport home\n```", testSchema())
	assertReason(t, err, ReasonUnknownCommand)
}

func TestParseArity(t *testing.T) {
	_, err := Parse("```action\nopen\n```", testSchema())
	assertReason(t, err, ReasonBadArity)

	_, err = Parse("```action\nopen a b c\n```", testSchema())
	assertReason(t, err, ReasonBadArity)
}

func TestParseEscapedSpace(t *testing.T) {
	action, err := Parse("```action\nopen my\\ file.go\n```", testSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(action.Args) != 1 || action.Args[0] != "my file.go" {
		t.Errorf("expected the escaped space kept in one arg, got %v", action.Args)
	}
}

func TestParseUnbalancedQuote(t *testing.T) {
	_, err := Parse("```action\nopen \"unclosed\n```", testSchema())
	assertReason(t, err, ReasonUnbalancedQuote)
}

func TestParseUnclosedFence(t *testing.T) {
	// A truncated response still yields its one action.
	action, err := Parse("```action\nbash echo hi", testSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Command != "bash" {
		t.Errorf("expected bash, got %q", action.Command)
	}
}

func TestCorrectiveNamesCommands(t *testing.T) {
	pe := &ParseError{Reason: ReasonNoAction}
	msg := pe.Corrective(testSchema())
	for _, want := range []string{"exactly one action", "bash", "submit", "open"} {
		if !strings.Contains(msg, want) {
			t.Errorf("corrective message missing %q:\n%s", want, msg)
		}
	}
}

func assertReason(t *testing.T, err error, reason ParseReason) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Reason != reason {
		t.Errorf("expected reason %s, got %s", reason, pe.Reason)
	}
}
