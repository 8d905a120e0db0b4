package detector

import "regexp"

// Category selects which pattern table and classifier instruction set apply.
type Category string

const (
	CategoryCrisis Category = "crisis"
	CategoryGrief  Category = "grief"
)

// Confidence is the certainty tier of a detection verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"

	// ConfidenceNone is only ever carried by a PatternMatch, never by a
	// DetectionResult.
	ConfidenceNone Confidence = "none"
)

// Method identifies which layer(s) produced a detection verdict.
type Method string

const (
	MethodPattern Method = "pattern"
	MethodAI      Method = "ai"
	MethodBoth    Method = "both"
	MethodNone    Method = "none"
)

// PatternMatch is the intermediate verdict of the pattern layer. It is
// consumed only by the layered detector and never exposed to callers.
type PatternMatch struct {
	Detected   bool
	Confidence Confidence
}

// patternSet holds the two pattern tiers for one category. High-confidence
// patterns are explicit, low-ambiguity phrasings that short-circuit without a
// classifier call; medium-confidence patterns are topical terms that plausibly
// appear in metaphor, historical reference, or academic discussion.
//
// Patterns are written against normalized text: lowercase, punctuation
// stripped to single spaces ("don't" becomes "don t"), whitespace collapsed.
type patternSet struct {
	high   []*regexp.Regexp
	medium []*regexp.Regexp
}

const relations = `(mom|mother|dad|father|husband|wife|son|daughter|brother|sister|grandma|grandmother|grandpa|grandfather|baby|child|best friend|friend|partner|uncle|aunt)`

var patternTables = map[Category]patternSet{
	CategoryCrisis: {
		high: compileAll(
			// First-person intent
			`\bi (really |just )?(want|wanted|need) to (die|kill myself|end my life|end it all)\b`,
			`\bi( a)?m (going|planning) to (kill myself|end my life|end it all)\b`,
			`\bkill(ing)? myself\b`,
			`\bend(ing)? my (own )?life\b`,
			`\bi (want|wish) i (was|were) dead\b`,
			`\bi don ?t want to (live|be alive|exist)( anymore)?\b`,
			`\b(commit|committing) suicide\b`,
			`\bsuicidal\b`,
			`\bsuicide\b`,
			// Explicit self-harm verbs
			`\b(hurt|hurting|cut|cutting|harm|harming) myself\b`,
			`\bself harm\b`,
			// Explicit abuse with a personal object
			`\b(he|she|they|my \w+) (hits?|beats?|hurts?|abuses?|threatens?) me\b`,
			`\b(hitting|beating|abusing|threatening) me\b`,
			`\bi( a)?m being (abused|beaten|hit)\b`,
			`\bi( a)?m (not safe|in danger) at home\b`,
		),
		medium: compileAll(
			`\babuse(d|s)?\b`,
			`\bviolen(ce|t)\b`,
			`\bkill(ed|ing)?\b`,
			`\b(death|die|died|dying)\b`,
			`\boverdose\b`,
			`\bhopeless\b`,
			`\bno way out\b`,
		),
	},
	CategoryGrief: {
		high: compileAll(
			// Explicit bereavement referencing a named relation
			`\bmy `+relations+` (just |recently )?(died|passed away|passed|was killed|is gone)\b`,
			`\b(lost|losing) my `+relations+`\b`,
			`\b(death|loss|passing) of my `+relations+`\b`,
			`\bmy `+relations+` s (death|funeral|passing)\b`,
		),
		medium: compileAll(
			`\bgrie(f|ve|ving)\b`,
			`\bmourning\b`,
			`\bfuneral\b`,
			`\bbereave(d|ment)\b`,
			`\bpassed away\b`,
			`\b(death|died|dying)\b`,
			`\bmiss (him|her|them) so much\b`,
		),
	},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		compiled = append(compiled, regexp.MustCompile(expr))
	}
	return compiled
}

// MatchPatterns evaluates the pattern tables for a category against
// normalized text. High-confidence patterns are checked first.
func MatchPatterns(category Category, normalized string) PatternMatch {
	table, ok := patternTables[category]
	if !ok {
		return PatternMatch{Detected: false, Confidence: ConfidenceNone}
	}

	for _, re := range table.high {
		if re.MatchString(normalized) {
			return PatternMatch{Detected: true, Confidence: ConfidenceHigh}
		}
	}
	for _, re := range table.medium {
		if re.MatchString(normalized) {
			return PatternMatch{Detected: true, Confidence: ConfidenceMedium}
		}
	}
	return PatternMatch{Detected: false, Confidence: ConfidenceNone}
}
