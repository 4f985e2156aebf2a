package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const (
	// maxAttempts is the per-call retry budget.
	maxAttempts = 3
	// baseBackoff is the delay before the first retry; it doubles
	// after each failed attempt.
	baseBackoff = 2 * time.Second
)

// GoogleClient implements [Client] over the Gemini API.
type GoogleClient struct {
	client  *genai.Client
	logger  *slog.Logger
	backoff time.Duration // overridable for tests
}

// NewGoogleClient creates a Gemini-backed completion client.
func NewGoogleClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GoogleClient{
		client:  client,
		logger:  logger.With("provider", "gemini"),
		backoff: baseBackoff,
	}, nil
}

// GenerateText sends prompt (preceded by history) to a text model.
func (c *GoogleClient) GenerateText(ctx context.Context, model, prompt string, history []Message, opts *Options) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	return c.generate(ctx, model, contents, opts)
}

// GenerateVision sends image bytes plus an instruction prompt to a
// vision-capable model.
func (c *GoogleClient) GenerateVision(ctx context.Context, model string, image []byte, mimeType, prompt string, opts *Options) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	parts := []*genai.Part{genai.NewPartFromBytes(image, mimeType)}
	if prompt != "" {
		parts = append(parts, genai.NewPartFromText(prompt))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	return c.generate(ctx, model, contents, opts)
}

// Ping issues a minimal generation to verify reachability and
// credentials. Failures are reported, not fatal; the caller decides.
func (c *GoogleClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.GenerateContent(ctx, "gemini-1.5-flash",
		genai.Text("ping"),
		&genai.GenerateContentConfig{MaxOutputTokens: 1},
	)
	if err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

// generate runs one generation call under the retry budget. Safety
// blocks surface immediately as [ErrBlocked]; transport errors retry
// with exponential backoff until the budget is exhausted.
func (c *GoogleClient) generate(ctx context.Context, model string, contents []*genai.Content, opts *Options) (string, error) {
	cfg := buildConfig(opts)

	var lastErr error
	delay := c.backoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.Debug("calling gemini",
			"model", model,
			"attempt", attempt,
			"max_attempts", maxAttempts,
		)

		resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			if reason, blocked := blockReason(resp); blocked {
				c.logger.Info("gemini blocked request", "model", model, "reason", reason)
				return "", fmt.Errorf("%w: %s", ErrBlocked, reason)
			}
			return resp.Text(), nil
		}

		lastErr = err
		c.logger.Warn("gemini call failed",
			"model", model,
			"attempt", attempt,
			"error", err,
		)

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrExhausted, maxAttempts, lastErr)
}

// buildConfig maps the provider-neutral Options onto the SDK config.
func buildConfig(opts *Options) *genai.GenerateContentConfig {
	if opts == nil {
		return nil
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     opts.Temperature,
		MaxOutputTokens: opts.MaxOutputTokens,
	}
	for _, s := range opts.Safety {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  harmCategory(s.Category),
			Threshold: blockThreshold(s.Threshold),
		})
	}
	return cfg
}

func harmCategory(c HarmCategory) genai.HarmCategory {
	switch c {
	case HarmHarassment:
		return genai.HarmCategoryHarassment
	case HarmHateSpeech:
		return genai.HarmCategoryHateSpeech
	case HarmSexuallyExplicit:
		return genai.HarmCategorySexuallyExplicit
	case HarmDangerousContent:
		return genai.HarmCategoryDangerousContent
	default:
		return genai.HarmCategoryUnspecified
	}
}

func blockThreshold(t Threshold) genai.HarmBlockThreshold {
	switch t {
	case ThresholdBlockOnlyHigh:
		return genai.HarmBlockThresholdBlockOnlyHigh
	case ThresholdBlockNone:
		return genai.HarmBlockThresholdBlockNone
	default:
		return genai.HarmBlockThresholdUnspecified
	}
}

// blockReason inspects a successful HTTP response for a service-side
// safety rejection: either the prompt itself was blocked, or the only
// candidate was terminated for safety.
func blockReason(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockedReasonUnspecified {
		return string(fb.BlockReason), true
	}
	for _, cand := range resp.Candidates {
		if cand != nil && cand.FinishReason == genai.FinishReasonSafety {
			return string(genai.FinishReasonSafety), true
		}
	}
	return "", false
}

// IsBlocked reports whether err represents a service-side safety
// rejection rather than a transport failure.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}
