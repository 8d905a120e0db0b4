package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases",
			input:    "I Want To DIE",
			expected: "i want to die",
		},
		{
			name:     "punctuation becomes single spaces",
			input:    "don't!!! stop...now",
			expected: "don t stop now",
		},
		{
			name:     "whitespace collapses",
			input:    "  so   much \t whitespace \n here  ",
			expected: "so much whitespace here",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "only punctuation",
			input:    "?!...---",
			expected: "",
		},
		{
			name:     "digits survive",
			input:    "call 988 now",
			expected: "call 988 now",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"I can't take it anymore!!!",
		"My mom passed away last week.",
		"plain text already",
	}
	for _, input := range inputs {
		once := Normalize(input)
		assert.Equal(t, once, Normalize(once))
	}
}
