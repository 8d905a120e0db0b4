package detector

import (
	"context"
	"log/slog"
	"strings"
)

// DetectionResult is the immutable outcome of one detection pass.
type DetectionResult struct {
	IsDetected bool       `json:"is_detected"`
	Method     Method     `json:"detection_method"`
	Confidence Confidence `json:"confidence"`
}

// ContextualClassifier is the external model adapter consulted when the
// pattern layer is ambiguous. It receives the raw, non-normalized message.
type ContextualClassifier interface {
	Classify(ctx context.Context, message string, category Category) (bool, error)
}

// LayeredDetector composes the pattern classifier with an optional contextual
// classifier into a single detection decision with method and confidence
// metadata.
type LayeredDetector struct {
	classifier ContextualClassifier
	logger     *slog.Logger
}

// NewLayeredDetector creates a layered safety detector. A nil classifier
// means the detector runs on patterns alone and downgrades non-high
// confidence accordingly.
func NewLayeredDetector(classifier ContextualClassifier, logger *slog.Logger) *LayeredDetector {
	return &LayeredDetector{
		classifier: classifier,
		logger:     logger,
	}
}

// Detect classifies a free-text message for the given category.
//
// High-confidence pattern matches short-circuit without a classifier call:
// those phrasings carry negligible false-positive risk and a zero-latency
// verdict is safety-critical. For everything else the contextual classifier
// is consulted when configured, with a pattern-only fallback if the call
// fails so that an external dependency failure can never suppress a signal
// the pattern layer alone would have caught.
func (d *LayeredDetector) Detect(ctx context.Context, message string, category Category) DetectionResult {
	if strings.TrimSpace(message) == "" {
		return DetectionResult{IsDetected: false, Method: MethodNone, Confidence: ConfidenceHigh}
	}

	normalized := Normalize(message)
	match := MatchPatterns(category, normalized)

	if match.Detected && match.Confidence == ConfidenceHigh {
		return DetectionResult{IsDetected: true, Method: MethodPattern, Confidence: ConfidenceHigh}
	}

	if d.classifier == nil {
		// No second opinion available: anything short of a high-confidence
		// pattern match stays at medium confidence.
		return DetectionResult{IsDetected: match.Detected, Method: MethodPattern, Confidence: ConfidenceMedium}
	}

	detected, err := d.classifier.Classify(ctx, message, category)
	if err != nil {
		// Defensive fallback: keep the pattern layer's verdict rather than
		// letting an adapter failure silently drop a potential safety signal.
		d.logger.Warn("Contextual classifier unavailable, falling back to pattern verdict",
			"category", category,
			"pattern_detected", match.Detected,
			"error", err)
		return DetectionResult{IsDetected: match.Detected, Method: MethodPattern, Confidence: ConfidenceLow}
	}

	if detected {
		method := MethodAI
		if match.Detected {
			method = MethodBoth
		}
		return DetectionResult{IsDetected: true, Method: method, Confidence: ConfidenceMedium}
	}

	// Both layers agree on absence.
	return DetectionResult{IsDetected: false, Method: MethodBoth, Confidence: ConfidenceHigh}
}
