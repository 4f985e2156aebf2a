// Package gemini provides the completion-service client used by the
// guardrail, analysis, and response stages. All callers go through the
// [Client] interface so tests can substitute fakes.
package gemini

import (
	"context"
	"errors"
)

// Message is a prior conversation turn sent as model context.
type Message struct {
	Role    string `json:"role"` // user, model
	Content string `json:"content"`
}

// HarmCategory identifies one of the service's harm dimensions.
type HarmCategory string

// The four harm categories the service classifies against.
const (
	HarmHarassment       HarmCategory = "harassment"
	HarmHateSpeech       HarmCategory = "hate_speech"
	HarmSexuallyExplicit HarmCategory = "sexually_explicit"
	HarmDangerousContent HarmCategory = "dangerous_content"
)

// Threshold is a per-category blocking threshold.
type Threshold string

// Supported thresholds. BlockOnlyHigh blocks only maximal-severity
// content; BlockNone disables service-side blocking for the category.
const (
	ThresholdBlockOnlyHigh Threshold = "block_only_high"
	ThresholdBlockNone     Threshold = "block_none"
)

// SafetySetting pairs a harm category with its blocking threshold.
type SafetySetting struct {
	Category  HarmCategory
	Threshold Threshold
}

// ProbeSafetySettings returns the fixed safety configuration used by the
// guardrail's classification probe: every category blocks only
// maximal-severity content, so the probe trips on the worst inputs
// without rejecting ordinary conversation.
func ProbeSafetySettings() []SafetySetting {
	return []SafetySetting{
		{Category: HarmHarassment, Threshold: ThresholdBlockOnlyHigh},
		{Category: HarmHateSpeech, Threshold: ThresholdBlockOnlyHigh},
		{Category: HarmSexuallyExplicit, Threshold: ThresholdBlockOnlyHigh},
		{Category: HarmDangerousContent, Threshold: ThresholdBlockOnlyHigh},
	}
}

// Options tunes a single generation call. A nil Options means service
// defaults: no safety overrides, default sampling.
type Options struct {
	// Temperature overrides sampling temperature when non-nil.
	Temperature *float32
	// MaxOutputTokens caps the reply length when positive.
	MaxOutputTokens int32
	// Safety overrides the per-category blocking thresholds.
	Safety []SafetySetting
}

// Client is the interface the rest of the system consumes the
// completion service through.
type Client interface {
	// GenerateText sends prompt (preceded by history, oldest first)
	// to a text model and returns the generated reply.
	GenerateText(ctx context.Context, model, prompt string, history []Message, opts *Options) (string, error)

	// GenerateVision sends image bytes plus an instruction prompt to a
	// vision-capable model and returns the generated reply.
	GenerateVision(ctx context.Context, model string, image []byte, mimeType, prompt string, opts *Options) (string, error)

	// Ping checks that the service is reachable with the configured
	// credentials. Used at startup as a soft health check.
	Ping(ctx context.Context) error
}

// ErrBlocked reports that the service refused the request under its
// safety policy. It is a policy decision, not a transport failure, and
// is never retried.
var ErrBlocked = errors.New("request blocked by safety policy")

// ErrExhausted reports that the retry budget ran out without a
// successful response. The last transport error is wrapped.
var ErrExhausted = errors.New("completion service retries exhausted")
