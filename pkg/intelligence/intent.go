package intelligence

import "regexp"

// Intent labels.
const (
	IntentWho        = "WHO"
	IntentWhen       = "WHEN"
	IntentWhere      = "WHERE"
	IntentPreference = "PREFERENCE"
	IntentDefault    = "DEFAULT"
)

// Intent is the classified purpose of a query and the fusion weights it implies.
type Intent struct {
	Label         string
	VectorWeight  float64
	KeywordWeight float64
}

// IntentRule maps queries matching Pattern to an Intent.
type IntentRule struct {
	Pattern *regexp.Regexp
	Intent  Intent
}

// DefaultIntent is used when no rule matches.
var DefaultIntent = Intent{Label: IntentDefault, VectorWeight: 0.7, KeywordWeight: 0.3}

// DefaultIntentRules returns the built-in rule table, in priority order.
//
// Person and place questions weigh both sources equally, time questions lean on exact
// keywords, and preference questions lean on meaning.
func DefaultIntentRules() []IntentRule {
	return []IntentRule{
		{
			Pattern: regexp.MustCompile(`(?i)\b(who|person|people|family|doctor|dentist|boss|manager|team|colleague)\b`),
			Intent:  Intent{Label: IntentWho, VectorWeight: 0.5, KeywordWeight: 0.5},
		},
		{
			Pattern: regexp.MustCompile(`(?i)\b(when|date|time|schedule|deadline|appointment|meeting\s+time|birthday|anniversary)\b`),
			Intent:  Intent{Label: IntentWhen, VectorWeight: 0.4, KeywordWeight: 0.6},
		},
		{
			Pattern: regexp.MustCompile(`(?i)\b(where|location|address|place|office|room|building|city)\b`),
			Intent:  Intent{Label: IntentWhere, VectorWeight: 0.5, KeywordWeight: 0.5},
		},
		{
			Pattern: regexp.MustCompile(`(?i)\b(likes?|prefers?|preference|favorite|favourite|enjoys?|hates?|dislikes?|wants?)\b`),
			Intent:  Intent{Label: IntentPreference, VectorWeight: 0.8, KeywordWeight: 0.2},
		},
	}
}

// IntentClassifier picks fusion weights for a query. The first matching rule wins.
type IntentClassifier struct {
	rules    []IntentRule
	fallback Intent
}

// NewIntentClassifier creates a classifier over rules. With no rules the default
// table is used.
func NewIntentClassifier(rules ...IntentRule) *IntentClassifier {
	if len(rules) == 0 {
		rules = DefaultIntentRules()
	}
	return &IntentClassifier{rules: rules, fallback: DefaultIntent}
}

// Classify returns the intent of query.
func (c *IntentClassifier) Classify(query string) Intent {
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(query) {
			return rule.Intent
		}
	}
	return c.fallback
}

var defaultClassifier = NewIntentClassifier()

// ClassifyIntent classifies query with the default rule table.
func ClassifyIntent(query string) Intent {
	return defaultClassifier.Classify(query)
}
