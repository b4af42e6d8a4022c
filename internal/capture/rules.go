package capture

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ziadkadry99/cadence/internal/entity"
)

// Confidence assigned by the rule extractor.
const (
	confReminderTimed   = 0.95
	confReminderUntimed = 0.75
	confCommitment      = 0.9
	confNone            = 0.3
)

// PriorityHigh marks tasks phrased as urgent.
const PriorityHigh = 1

type phraseRule struct {
	re   *regexp.Regexp
	conf float64
}

func rule(pattern string, conf float64) phraseRule {
	return phraseRule{re: regexp.MustCompile(`(?i)` + pattern), conf: conf}
}

var completionRules = []phraseRule{
	rule(`^mark (.+?) (?:as )?(?:done|complete|finished)$`, 0.95),
	rule(`^check off (.+)$`, 0.9),
	rule(`^(?:i(?:'m| am) done with|(?:i )?(?:just )?(?:finished|completed)|done with) (.+)$`, 0.9),
	rule(`^(.+) is (?:done|complete|finished)$`, 0.8),
}

var reminderRules = []phraseRule{
	rule(`^(?:please )?remind me (?:to |about |that )?(.+)$`, confReminderTimed),
	rule(`^set a reminder (?:to |for |about )?(.+)$`, confReminderTimed),
	rule(`^alert me (?:to |about )?(.+)$`, confReminderTimed),
}

// commitmentRules capture the person in group 1 and the promise in group 2.
var commitmentRules = []phraseRule{
	rule(`^i (?:promised|told|assured|committed to) (my [a-z]+|[a-z]+) (?:that )?i(?:'d|'ll| would| will) (.+)$`, confCommitment),
	rule(`^i owe (my [a-z]+|[a-z]+) (.+)$`, confCommitment),
}

var taskRules = []phraseRule{
	rule(`^(?:please )?(?:create|make|add) (?:a )?task (?:to |for )?(.+)$`, 0.95),
	rule(`^todo:?\s+(.+)$`, 0.95),
	rule(`^add (.+?) to (?:my )?(?:list|tasks?|todo(?: list)?)$`, 0.9),
	rule(`^(?:i )?need to (.+)$`, 0.9),
	rule(`^don'?t (?:let me )?forget (?:to )?(.+)$`, 0.9),
	rule(`^(?:i )?(?:have|got) to (.+)$`, 0.85),
	rule(`^(?:i )?gotta (.+)$`, 0.85),
	rule(`^(?:i )?should (.+)$`, 0.85),
}

var (
	projectSuffix = regexp.MustCompile(`(?i)\s+(?:for|on) (?:the |my )?([a-z0-9][\w' -]*?) project\b`)
	projectPrefix = regexp.MustCompile(`(?i)^for ([a-z0-9][\w' -]*?):\s*`)
	placeTag      = regexp.MustCompile(`(?i)\s+(?:when i'?m |when i am |while i'?m )?at the ([a-z][\w'&-]*(?: (?:store|shop|market|mall|office|station|pharmacy))?)\b`)
	recurring     = regexp.MustCompile(`(?i)\s*\b(every (day|week|month|year)|daily|weekly|monthly|yearly)\b`)
	urgent        = regexp.MustCompile(`(?i)\s*\b(urgent(?:ly)?|asap|as soon as possible)\b[!.]?`)
	danglingWords = regexp.MustCompile(`(?i)\s+(?:by|at|on|before|for|to)$`)
)

// RuleExtractor classifies common phrasings with regular expressions. It
// never fails; anything it does not recognise has intent none.
type RuleExtractor struct{}

// Extract implements Extractor.
func (RuleExtractor) Extract(_ context.Context, text string, now time.Time) (*Extraction, error) {
	s := strings.TrimRight(strings.TrimSpace(text), ".!?")

	for _, r := range completionRules {
		if m := r.re.FindStringSubmatch(s); m != nil {
			return &Extraction{Intent: IntentCompletion, Action: cleanAction(m[1]), Confidence: r.conf}, nil
		}
	}

	for _, r := range reminderRules {
		m := r.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		ext := &Extraction{Intent: IntentReminder, Confidence: confReminderUntimed}
		body := detailsFrom(m[1], now, ext)
		if ext.Deadline != nil {
			ext.Confidence = r.conf
		}
		ext.Action = cleanAction(body)
		return ext, nil
	}

	for _, r := range commitmentRules {
		m := r.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		ext := &Extraction{Intent: IntentCommitment, Person: strings.TrimSpace(m[1]), Confidence: r.conf}
		ext.Action = cleanAction(detailsFrom(m[2], now, ext))
		return ext, nil
	}

	for _, r := range taskRules {
		m := r.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		ext := &Extraction{Intent: IntentTask, Confidence: r.conf}
		body := m[1]
		if pm := projectPrefix.FindStringSubmatchIndex(body); pm != nil {
			ext.Project = strings.TrimSpace(body[pm[2]:pm[3]])
			body = body[pm[1]:]
		}
		ext.Action = cleanAction(detailsFrom(body, now, ext))
		if ext.Action == "" {
			break
		}
		return ext, nil
	}

	return &Extraction{Intent: IntentNone, Action: cleanAction(s), Confidence: confNone}, nil
}

// detailsFrom strips project, place, recurrence, urgency and time phrases
// out of body into ext and returns what is left.
func detailsFrom(body string, now time.Time, ext *Extraction) string {
	if m := projectSuffix.FindStringSubmatchIndex(body); m != nil {
		ext.Project = strings.TrimSpace(body[m[2]:m[3]])
		body = body[:m[0]] + body[m[1]:]
	}
	if m := placeTag.FindStringSubmatchIndex(body); m != nil {
		ext.ContextTags = append(ext.ContextTags, "errands:"+titleWords(body[m[2]:m[3]]))
		body = body[:m[0]] + body[m[1]:]
	}
	if m := recurring.FindStringSubmatch(body); m != nil {
		ext.Recurrence = recurrenceFor(strings.ToLower(m[1]))
		body = recurring.ReplaceAllString(body, "")
	}
	if urgent.MatchString(body) {
		ext.Priority = PriorityHigh
		body = urgent.ReplaceAllString(body, "")
	}
	if tm, ok := ParseTime(body, now); ok {
		when := tm.When
		ext.Deadline = &when
		body = body[:tm.Start] + body[tm.End:]
	}
	return body
}

func recurrenceFor(phrase string) entity.Recurrence {
	switch {
	case strings.Contains(phrase, "day"), phrase == "daily":
		return entity.RecurDaily
	case strings.Contains(phrase, "week"):
		return entity.RecurWeekly
	case strings.Contains(phrase, "month"):
		return entity.RecurMonthly
	case strings.Contains(phrase, "year"):
		return entity.RecurYearly
	}
	return entity.RecurNone
}

// cleanAction tidies an extracted phrase into a title.
func cleanAction(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for {
		trimmed := strings.TrimRight(danglingWords.ReplaceAllString(s, ""), " ,.;!?")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return upperFirst(s)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func titleWords(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = upperFirst(w)
	}
	return strings.Join(words, " ")
}
