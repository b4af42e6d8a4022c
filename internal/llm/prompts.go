package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/cadence/internal/memory"
)

const extractSystemPrompt = `You read short things a person says to their assistant and decide whether they create a task, a reminder or a commitment to someone, or mark something as done. Return JSON only. Never invent details that are not in the text.`

const extractPromptTemplate = `The current time is %s (%s).

Classify the utterance below and return a JSON object with exactly these fields:

{
  "intent": "task|reminder|commitment|completion|none",
  "action": "the thing to do, phrased as a short imperative",
  "deadline": "RFC3339 timestamp or empty string",
  "project": "project name or empty string",
  "person": "who a commitment is owed to, or empty string",
  "context_tags": ["errands:Place style tags, may be empty"],
  "recurrence": "daily|weekly|monthly|yearly or empty string",
  "priority": 0,
  "confidence": 0.0
}

confidence is how sure you are of intent and action together, from 0 to 1.

Utterance: %q`

const summarizeSystemPrompt = `You compress memories of a personal assistant into one or two plain sentences. Keep names, decisions, dates and outcomes. Drop small talk. Return only the summary.`

func extractMessages(text string, now time.Time) []Message {
	return []Message{
		{Role: RoleSystem, Content: extractSystemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf(extractPromptTemplate, now.Format(time.RFC3339), now.Weekday(), text)},
	}
}

func summarizeMessages(ep memory.Episode) []Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\nType: %s\n", ep.Timestamp.Format("2006-01-02"), ep.Type)
	if len(ep.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(ep.Topics, ", "))
	}
	if len(ep.People) > 0 {
		fmt.Fprintf(&b, "People: %s\n", strings.Join(ep.People, ", "))
	}
	fmt.Fprintf(&b, "Summary so far: %s\n\nDetail:\n%s", ep.Summary, ep.Detail)
	return []Message{
		{Role: RoleSystem, Content: summarizeSystemPrompt},
		{Role: RoleUser, Content: b.String()},
	}
}
