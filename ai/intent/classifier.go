// Package intent maps raw message text to the context kinds a turn needs.
package intent

import (
	"strings"
	"unicode"
)

// Kind is a category of external data a turn may need.
type Kind string

const (
	KindRecords    Kind = "records"
	KindAccounting Kind = "accounting"
	KindNone       Kind = "none"
)

// Rule maps a keyword set to a context kind. Rules are evaluated in order
// and a message may match several of them; the required kinds are the union
// of all matches.
type Rule struct {
	Keywords []string
	Kind     Kind
}

// Classifier performs table-driven keyword classification.
type Classifier struct {
	rules []Rule
}

// DefaultRules is the ordered rule table used in production.
//
// The fallback when nothing matches is KindRecords, not KindNone: the cost
// of over-fetching record context is bounded by the assembler's truncation,
// while under-fetching makes the model answer without data. KindNone is
// produced only by an explicit off-topic match with no other rule matching.
func DefaultRules() []Rule {
	return []Rule{
		{
			Kind: KindNone,
			Keywords: []string{
				"hello", " hi ", " hey ", "good morning", "good afternoon",
				"good evening", "thanks", "thank you", "how are you", "bye",
			},
		},
		{
			Kind: KindRecords,
			Keywords: []string{
				"client", "project", "permit", "job", "jobsite", "contact",
				"phone", "address", "inspection", "record", "spreadsheet",
				"column", "status",
			},
		},
		{
			Kind: KindAccounting,
			Keywords: []string{
				"invoice", "estimate", "quote", "customer", "bill", "payment",
				"paid", "owe", "balance", "due", "charge", "$", "dollar",
				"accounting", "receivable",
			},
		},
	}
}

// NewClassifier creates a classifier with the default rule table.
func NewClassifier() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// NewClassifierWithRules creates a classifier with a custom ordered rule table.
func NewClassifierWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the set of context kinds the message requires.
// The result is deterministic and sorted: records before accounting.
func (c *Classifier) Classify(text string) []Kind {
	normalized := normalize(text)

	matched := make(map[Kind]bool)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(normalized, kw) {
				matched[rule.Kind] = true
				break
			}
		}
	}

	// An off-topic match only wins when nothing else matched.
	if matched[KindNone] && !matched[KindRecords] && !matched[KindAccounting] {
		return []Kind{KindNone}
	}

	out := make([]Kind, 0, 2)
	if matched[KindRecords] {
		out = append(out, KindRecords)
	}
	if matched[KindAccounting] {
		out = append(out, KindAccounting)
	}
	if len(out) == 0 {
		// Deliberate safety bias: fetch record context rather than nothing.
		return []Kind{KindRecords}
	}
	return out
}

// Requires reports whether the kind set contains the given kind.
func Requires(kinds []Kind, kind Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// normalize lowercases the input and collapses punctuation to spaces so
// keyword containment checks behave across phrasing variants.
func normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input) + 2)
	b.WriteByte(' ')
	for _, r := range input {
		switch {
		case unicode.IsUpper(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsPunct(r) && r != '$':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(' ')
	return b.String()
}
