package agent

import (
	"fmt"
	"strings"
)

// renderSystemPrompt produces the system entry that seeds every task. It
// frames the job and enumerates the action schema.
func renderSystemPrompt(schema Schema) string {
	var b strings.Builder
	b.WriteString(`You are an autonomous software engineer working inside a sandboxed repository.
Each turn you must issue exactly one action, inside a single fenced block:

` + "```action\n<command> <arguments>\n```" + `

After each action you receive its output as an observation. Work
incrementally: inspect before you change, verify after you change.

Available commands:
`)
	for _, name := range schema.Commands() {
		spec := schema[name]
		fmt.Fprintf(&b, "- %s: %s", name, spec.Description)
		if spec.Terminal {
			b.WriteString(" (ends the run)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderProblemEntry produces the initial user entry carrying the problem
// statement.
func renderProblemEntry(problemStatement string) string {
	return "Solve the following problem:\n\n" + problemStatement
}

// renderObservation folds an execution result into an observation entry.
func renderObservation(output string, exitCode int) string {
	var b strings.Builder
	b.WriteString("Observation")
	if exitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", exitCode)
	}
	b.WriteString(":\n")
	if output == "" {
		b.WriteString("(no output)")
	} else {
		b.WriteString(output)
	}
	return b.String()
}
