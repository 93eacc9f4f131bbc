package intelligence_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		query  string
		label  string
		vector float64
	}{
		{"who is my doctor?", intelligence.IntentWho, 0.5},
		{"When is the deadline", intelligence.IntentWhen, 0.4},
		{"what's the meeting   time", intelligence.IntentWhen, 0.4},
		{"office address", intelligence.IntentWhere, 0.5},
		{"what does the user drink", intelligence.IntentDefault, 0.7},
		{"what do they prefer", intelligence.IntentPreference, 0.8},
		{"the user prefers tea", intelligence.IntentPreference, 0.8},
		{"favourite editor", intelligence.IntentPreference, 0.8},
		{"deploy steps", intelligence.IntentDefault, 0.7},
		// the first matching rule wins
		{"who likes coffee", intelligence.IntentWho, 0.5},
		// word boundaries
		{"whom", intelligence.IntentDefault, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			intent := intelligence.ClassifyIntent(tt.query)
			assert.Equal(t, tt.label, intent.Label)
			assert.Equal(t, tt.vector, intent.VectorWeight)
			assert.InDelta(t, 1.0, intent.VectorWeight+intent.KeywordWeight, 1e-9)
		})
	}
}

func TestIntentClassifier_CustomRules(t *testing.T) {
	c := intelligence.NewIntentClassifier(intelligence.IntentRule{
		Pattern: regexp.MustCompile(`(?i)\berror\b`),
		Intent:  intelligence.Intent{Label: "ERROR", VectorWeight: 0.2, KeywordWeight: 0.8},
	})

	assert.Equal(t, "ERROR", c.Classify("error in build").Label)
	assert.Equal(t, intelligence.DefaultIntent, c.Classify("who is it"))
}
