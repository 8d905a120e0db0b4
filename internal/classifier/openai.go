package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/detector"
)

// ErrUnavailable is returned for any network, auth, or quota failure of the
// contextual classifier. Callers treat it as "no second opinion available".
var ErrUnavailable = errors.New("contextual classifier unavailable")

// Instruction sets per category. Both explicitly distinguish a genuine
// emergency from spiritual/theological language, metaphor, resolved past
// events, and hypothetical or academic framing, and bias toward NOT flagging
// when ambiguous: a false negative routes to a slower human-reviewed path,
// while a false positive triggers an emergency escalation and notification
// fatigue.
var categoryPrompts = map[detector.Category]string{
	detector.CategoryCrisis: `You classify counseling messages for a genuine, current crisis: active suicidal intent, self-harm, or ongoing abuse directed at the writer.

Answer NO for:
- spiritual or theological language directed at or about a deity ("God, take me home")
- metaphorical use of crisis vocabulary ("this deadline is killing me")
- resolved past events ("years ago I struggled with self-harm")
- hypothetical or academic framing ("how should one respond to suicidal ideation?")

When ambiguous, answer NO.

Answer with exactly one word: YES or NO.`,
	detector.CategoryGrief: `You classify counseling messages for genuine, current grief: the writer is mourning the recent or unresolved death of someone close to them.

Answer NO for:
- spiritual or theological discussion of death or the afterlife in the abstract
- metaphorical use of loss vocabulary ("I lost my patience")
- resolved past events the writer has clearly processed
- hypothetical or academic framing ("how do people usually grieve?")

When ambiguous, answer NO.

Answer with exactly one word: YES or NO.`,
}

// Client is an adapter for an OpenAI-compatible chat-completions endpoint.
// It implements detector.ContextualClassifier.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	model   string
	logger  *slog.Logger
}

// New creates a classifier client from configuration. Returns nil when the
// classifier is disabled so the detector runs on patterns alone.
func New(cfg config.ClassifierConfig, logger *slog.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &Client{
		http:    http,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		model:   cfg.Model,
		logger:  logger,
	}
}

// Classify asks the model whether the raw message represents a genuine
// emergency for the given category. The answer is a plain boolean; every
// failure mode wraps ErrUnavailable.
func (c *Client) Classify(ctx context.Context, message string, category detector.Category) (bool, error) {
	prompt, ok := categoryPrompts[category]
	if !ok {
		return false, fmt.Errorf("%w: unknown category %q", ErrUnavailable, category)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body := map[string]interface{}{
		"model":       c.model,
		"temperature": 0,
		"max_tokens":  1,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": message},
		},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/chat/completions")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}

	answer := gjson.GetBytes(resp.Body(), "choices.0.message.content").String()
	answer = strings.ToUpper(strings.TrimSpace(answer))
	if answer != "YES" && answer != "NO" {
		return false, fmt.Errorf("%w: unexpected answer %q", ErrUnavailable, answer)
	}

	c.logger.Debug("Contextual classification completed",
		"category", category,
		"answer", answer)

	return answer == "YES", nil
}
