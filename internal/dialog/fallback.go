package dialog

import (
	"strings"
)

// fallbackRule matches caller text against a keyword category and maps
// it to a canned reply. Rules are evaluated in order; the first match
// wins, so category priority is encoded by position.
type fallbackRule struct {
	category string
	keywords []string
	reply    string
}

// defaultRules is the shared keyword catalog applied when a stage has
// no override. Ordering matters: affect categories come before topic
// categories so "I lost my job" reads as negative, not as work.
var defaultRules = []fallbackRule{
	{
		category: "positive",
		keywords: []string{"good", "great", "fine", "wonderful", "happy", "excellent", "fantastic", "well", "better", "lovely"},
		reply:    "That's wonderful to hear! I'm really glad things are going well for you.",
	},
	{
		category: "negative",
		keywords: []string{"bad", "sad", "tired", "lonely", "sick", "hurt", "worried", "terrible", "awful", "pain", "lost"},
		reply:    "I'm sorry to hear that. Thank you for sharing it with me, it matters that you did.",
	},
	{
		category: "work",
		keywords: []string{"work", "job", "working", "retired", "retirement", "career", "office"},
		reply:    "Work certainly keeps life busy. It sounds like that takes up a lot of your attention.",
	},
	{
		category: "family",
		keywords: []string{"family", "kids", "children", "grandchildren", "wife", "husband", "daughter", "son", "sister", "brother"},
		reply:    "Family is so important. It's lovely that they are part of your day.",
	},
	{
		category: "technology",
		keywords: []string{"computer", "phone", "internet", "television", "tv", "tablet"},
		reply:    "Technology can be a blessing and a puzzle at the same time, can't it?",
	},
}

// stageRules overrides the catalog for stages whose elicitation gives
// keyword matches a different meaning.
var stageRules = map[string][]fallbackRule{
	"reflection": {
		{
			category: "nothing",
			keywords: []string{"no", "nothing", "nope", "that's all", "thats all", "all good"},
			reply:    "That's perfectly alright. Sometimes a simple chat is all we need.",
		},
	},
}

// echoPrefixLen bounds how much caller text the catch-all reply quotes
// back.
const echoPrefixLen = 60

// FallbackReply deterministically synthesizes an assistant reply from
// the normalized caller text and the stage id. It performs no I/O and
// always returns a non-empty string; identical input yields an
// identical reply. This is the backstop used whenever the generation
// backend is unavailable.
func FallbackReply(stageID, text string) string {
	lower := strings.ToLower(text)

	for _, rule := range stageRules[stageID] {
		if rule.matches(lower) {
			return rule.reply
		}
	}
	for _, rule := range defaultRules {
		if rule.matches(lower) {
			return rule.reply
		}
	}

	return catchAll(text)
}

func (r fallbackRule) matches(lower string) bool {
	for _, kw := range r.keywords {
		if containsWord(lower, kw) {
			return true
		}
	}
	return false
}

// containsWord reports whether kw occurs in text on word boundaries,
// so "no" does not match "know".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '\''
}

// catchAll echoes a truncated prefix of the caller's text with a
// generic acknowledgement and follow-up.
func catchAll(text string) string {
	prefix := text
	if len(prefix) > echoPrefixLen {
		cut := strings.LastIndexByte(prefix[:echoPrefixLen], ' ')
		if cut <= 0 {
			cut = echoPrefixLen
		}
		prefix = prefix[:cut]
	}
	return "I hear you saying \"" + prefix + "\". Thank you for telling me that. Could you share a little more?"
}
