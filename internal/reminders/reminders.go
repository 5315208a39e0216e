// Package reminders implements the reminder-enhancement step of the
// Orchestrator turn loop (spec §4.2.2, §4.2.6): periodically re-injecting
// the agent's working plan, or failing that the user's original request,
// into the tail of the tool-calling conversation so long tool loops don't
// drift from the original goal.
//
// Grounded on the teacher's injectRecitation (internal/llm/loop.go):
// same every-Nth-round cadence, same strip-then-reappend-on-the-last-
// tool-message technique to avoid unbounded token growth from repeated
// reminders.
package reminders

import (
	"strings"

	"github.com/agentcore/runtime/internal/ports"
)

// Interval is the number of tool-calling rounds between reminder
// injections. Round 0 never gets a reminder — there's nothing to recite
// yet.
const Interval = 10

const (
	openTag  = "\n\n<system-reminder>\n"
	closeTag = "\n</system-reminder>"
)

// PlanReader provides read access to an agent's working plan/scratchpad.
type PlanReader interface {
	Content() string
}

// Enhance injects a reminder into the last tool-result message in history
// if round is a reminder checkpoint, returning the reminder text that was
// injected ("" if none was). history is modified in place; a non-empty
// result tells the caller the change still has to be persisted (the
// orchestrator does so with ReplaceHistory).
func Enhance(history []ports.Message, plan PlanReader, round int) string {
	if round == 0 || round%Interval != 0 {
		return ""
	}

	reminder := planOrGoal(history, plan)
	if reminder == "" {
		return ""
	}

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != ports.RoleTool {
			continue
		}
		text := history[i].Content.String()
		if idx := strings.Index(text, openTag); idx >= 0 {
			text = text[:idx]
		}
		history[i].Content = ports.TextContent(text + openTag + reminder + closeTag)
		return reminder
	}
	return ""
}

func planOrGoal(history []ports.Message, plan PlanReader) string {
	if plan != nil {
		if text := plan.Content(); text != "" {
			return text
		}
	}
	for _, m := range history {
		if m.Role == ports.RoleUser {
			return "The user's original request: " + m.Content.String()
		}
	}
	return ""
}

// RepeatedCallWarning is appended to a tool result when the same tool name
// and arguments have been called three times in a row, nudging the model
// away from a wasteful retry loop. Grounded on the teacher's inline
// recentCall tracking in ProcessTurn.
const RepeatedCallWarning = "\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>"

// RecentCall is one (name, arguments) pair from the tool-calling history,
// used to detect an immediate repeat.
type RecentCall struct {
	Name      string
	Arguments string
}

// IsRepeating reports whether the last three entries of recent are
// identical, meaning the model just issued the same call three times in a
// row.
func IsRepeating(recent []RecentCall) bool {
	if len(recent) < 3 {
		return false
	}
	last3 := recent[len(recent)-3:]
	return last3[0] == last3[1] && last3[1] == last3[2]
}
