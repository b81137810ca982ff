package conversation

import (
	"strings"

	"github.com/hrygo/ledgerdesk/ai/llm"
)

// Diagnostics summarizes one turn for logging, metrics, and API clients.
// It never carries collaborator error text; that stays in the server log.
type Diagnostics struct {
	TurnID          string         `json:"turn_id"`
	Rounds          int            `json:"rounds"`
	Capped          bool           `json:"capped"`
	DegradedKinds   []string       `json:"degraded_kinds,omitempty"`
	ToolCalls       int            `json:"tool_calls"`
	AuthRefreshes   int64          `json:"auth_refreshes,omitempty"`
	SilentRetries   int64          `json:"silent_retries,omitempty"`
	ErrorCategories map[string]int `json:"error_categories,omitempty"`
	DurationMs      int64          `json:"duration_ms"`
}

func (d *Diagnostics) recordError(cat Category) {
	if d.ErrorCategories == nil {
		d.ErrorCategories = make(map[string]int)
	}
	d.ErrorCategories[cat.String()]++
}

// safeReply maps an error category onto the reply shown to the user.
// Internal failures get a generic line so collaborator details never leak.
func safeReply(cat Category) string {
	switch cat {
	case CategoryValidation:
		return "I couldn't complete that because some of the details were invalid. Could you rephrase or fill in what's missing?"
	case CategoryAuthExpired:
		return "The accounting connection needs to be re-authorized before I can do that. Please reconnect the account and try again."
	case CategoryUnavailable:
		return "One of the services I rely on isn't responding right now. Please try again in a little while."
	case CategoryParse:
		return "I had trouble putting together a well-formed answer for that. Could you try asking again?"
	default:
		return "Something went wrong on my side while handling that. Please try again."
	}
}

// cappedMessage is the synthesized reply when a turn hits the round cap.
// When the model left no partial answer, the last round's tool results
// stand in so the user still sees what was found.
func cappedMessage(partial string, lastResults []llm.Message) string {
	const warning = "I hit the limit on how many steps I can take in one turn, so this may be incomplete. Ask me to continue if you need more."
	if partial == "" {
		partial = renderToolResults(lastResults)
	}
	if partial == "" {
		return warning
	}
	return partial + "\n\n" + warning
}

// renderToolResults folds tool result payloads into a plain-text digest.
func renderToolResults(results []llm.Message) string {
	var lines []string
	for _, m := range results {
		if m.Role != llm.RoleTool || m.Content == "" {
			continue
		}
		lines = append(lines, m.Content)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Here is what I gathered before running out of steps:\n" + strings.Join(lines, "\n")
}
