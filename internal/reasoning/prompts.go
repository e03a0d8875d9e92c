package reasoning

import "fmt"

// The three prompts below are the only reasoning prompts in the system.
// Subsystems must call these constructors instead of hand-building prompt
// strings, so prompt regressions stay testable in one place.

// SelectionPrompt asks why a command is relevant to the user's problem.
func SelectionPrompt(userPrompt, command, synopsis string) string {
	return fmt.Sprintf(
		"The user asked: %q.\nThe command %q (usage: %s) was selected as a candidate.\nExplain in one sentence why this command is relevant to the user's problem.",
		userPrompt, command, synopsis)
}

// EdgePrompt asks what data flows across a dependency edge. kind is "pipe"
// or "sequence".
func EdgePrompt(from, to, kind string) string {
	if kind == "sequence" {
		return fmt.Sprintf(
			"The command %q runs before %q, which does not read its output.\nExplain in one sentence why %q must complete first.",
			from, to, to)
	}
	return fmt.Sprintf(
		"The output of command %q is piped into command %q.\nExplain in one sentence what data flows between them and what %q does with it.",
		from, to, to)
}

// InterpretationPrompt asks what a command's output tells the user about
// their problem. Callers truncate output before building the prompt.
func InterpretationPrompt(command, output string) string {
	return fmt.Sprintf(
		"The command %q produced this output:\n%s\nExplain in one sentence what this output tells the user about their problem.",
		command, output)
}
