package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPatternsCrisis(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		detected   bool
		confidence Confidence
	}{
		{
			name:       "explicit first-person intent is high",
			message:    "i want to kill myself",
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "suicidal keyword is high",
			message:    "i have been feeling suicidal",
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "contracted negation after normalization",
			message:    Normalize("I don't want to live anymore"),
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "self harm is high",
			message:    "i keep cutting myself",
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "abuse with personal object is high",
			message:    "my husband hits me when he drinks",
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "topical abuse term alone is medium",
			message:    "we talked about abuse in group today",
			detected:   true,
			confidence: ConfidenceMedium,
		},
		{
			name:       "death vocabulary alone is medium",
			message:    "i read a book about death",
			detected:   true,
			confidence: ConfidenceMedium,
		},
		{
			name:       "neutral message does not match",
			message:    "i am feeling sad today",
			detected:   false,
			confidence: ConfidenceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := MatchPatterns(CategoryCrisis, tt.message)
			assert.Equal(t, tt.detected, match.Detected)
			assert.Equal(t, tt.confidence, match.Confidence)
		})
	}
}

func TestMatchPatternsGrief(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		detected   bool
		confidence Confidence
	}{
		{
			name:       "bereavement with named relation is high",
			message:    "my mother passed away last month",
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "lost my relation is high",
			message:    "i lost my best friend in march",
			detected:   true,
			confidence: ConfidenceHigh,
		},
		{
			name:       "grieving keyword alone is medium",
			message:    "i am still grieving",
			detected:   true,
			confidence: ConfidenceMedium,
		},
		{
			name:       "funeral keyword alone is medium",
			message:    "the funeral is on friday",
			detected:   true,
			confidence: ConfidenceMedium,
		},
		{
			name:       "no grief vocabulary",
			message:    "my week went fine",
			detected:   false,
			confidence: ConfidenceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := MatchPatterns(CategoryGrief, tt.message)
			assert.Equal(t, tt.detected, match.Detected)
			assert.Equal(t, tt.confidence, match.Confidence)
		})
	}
}

func TestMatchPatternsUnknownCategory(t *testing.T) {
	match := MatchPatterns(Category("unknown"), "i want to kill myself")
	assert.False(t, match.Detected)
	assert.Equal(t, ConfidenceNone, match.Confidence)
}
