// Package guardrail implements the two-stage input safety filter.
//
// Stage 1 is a deterministic phrase block-list that never touches the
// completion service. Stage 2 delegates to the service with a minimal
// one-token probe under strict safety settings. Every failure mode of
// Stage 2 is fail-closed: an input that cannot be verified is treated
// as unsafe.
package guardrail

import (
	"context"
	"log/slog"
	"strings"

	"github.com/guardedchat/gatehouse/internal/audit"
	"github.com/guardedchat/gatehouse/internal/gemini"
)

// Verdict is the outcome of evaluating one input.
type Verdict struct {
	Safe    bool
	Message string
}

// blockRule groups block-list phrases under a category with a shared
// user-facing message. Phrases must be lower case; inputs are folded
// before matching.
type blockRule struct {
	category string
	message  string
	phrases  []string
}

var blockRules = []blockRule{
	{
		category: "destructive_intent",
		message:  "Your request asks for a destructive operation and cannot be processed.",
		phrases:  []string{"delete all files", "format hard drive"},
	},
	{
		category: "sensitive_data",
		message:  "Your request involves sensitive personal or financial data and cannot be processed.",
		phrases:  []string{"steal credit card"},
	},
	{
		category: "harmful_intent",
		message:  "Your request contains content that violates our safety guidelines. Please rephrase your query.",
		phrases:  []string{"hacking", "harm yourself", "do something illegal"},
	},
}

// User-facing messages for Stage 2 outcomes.
const (
	msgTextBlocked  = "Your request was blocked by safety filters. Please try a different query."
	msgImageBlocked = "The image you provided was blocked by safety filters. Please try a different image."
	msgProbeFailed  = "An internal error occurred during safety check. Please try again."
)

// Guardrail evaluates inputs before any model work happens.
type Guardrail struct {
	client      gemini.Client
	textModel   string
	visionModel string
	auditor     audit.Recorder
	logger      *slog.Logger
}

// New creates a guardrail using the given completion client for its
// classification probe. auditor may be nil-valued; emission is
// nil-safe.
func New(client gemini.Client, textModel, visionModel string, auditor audit.Recorder, logger *slog.Logger) *Guardrail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardrail{
		client:      client,
		textModel:   textModel,
		visionModel: visionModel,
		auditor:     auditor,
		logger:      logger,
	}
}

// probeOptions returns the fixed configuration for the minimal
// classification call: zero temperature and a single output token with
// per-category thresholds set. The reply is discarded; only whether
// the service blocks matters.
func probeOptions() *gemini.Options {
	temp := float32(0)
	return &gemini.Options{
		Temperature:     &temp,
		MaxOutputTokens: 1,
		Safety:          gemini.ProbeSafetySettings(),
	}
}

// matchBlockList runs Stage 1 over the input's textual component.
func matchBlockList(text string) (blockRule, string, bool) {
	folded := strings.ToLower(text)
	for _, rule := range blockRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(folded, phrase) {
				return rule, phrase, true
			}
		}
	}
	return blockRule{}, "", false
}

// EvaluateText evaluates a text input. The returned verdict is
// authoritative: unsafe means the input must not reach the analysis or
// response stages.
func (g *Guardrail) EvaluateText(ctx context.Context, text string) Verdict {
	if rule, phrase, hit := matchBlockList(text); hit {
		g.block("text", text, "rule-based: detected "+quote(phrase), rule.category, audit.KindInputBlocked)
		return Verdict{Safe: false, Message: rule.message}
	}

	_, err := g.client.GenerateText(ctx, g.textModel, text, nil, probeOptions())
	return g.probeVerdict("text", text, msgTextBlocked, err)
}

// EvaluateImage evaluates an image input with its optional caption.
// Stage 1 runs over the caption; Stage 2 sends the image bytes with a
// fixed safety instruction.
func (g *Guardrail) EvaluateImage(ctx context.Context, image []byte, mimeType, caption string) Verdict {
	if rule, phrase, hit := matchBlockList(caption); hit {
		g.block("image", caption, "rule-based: detected "+quote(phrase), rule.category, audit.KindInputBlocked)
		return Verdict{Safe: false, Message: rule.message}
	}

	prompt := "Is this image safe? Describe any unsafe content if present."
	if caption != "" {
		prompt += " Also consider: " + caption
	}

	_, err := g.client.GenerateVision(ctx, g.visionModel, image, mimeType, prompt, probeOptions())
	return g.probeVerdict("image", caption, msgImageBlocked, err)
}

// probeVerdict folds a Stage 2 outcome into a verdict. nil error means
// the service accepted the input. A safety rejection blocks with the
// modality-specific message; any other failure (timeouts, transport
// errors, retry exhaustion) blocks fail-closed with an internal error
// message.
func (g *Guardrail) probeVerdict(inputType, content, blockedMsg string, err error) Verdict {
	switch {
	case err == nil:
		return Verdict{Safe: true, Message: inputType + " input is safe"}
	case gemini.IsBlocked(err):
		g.block(inputType, content, "service safety rejection: "+err.Error(), "service_policy", audit.KindInputBlocked)
		return Verdict{Safe: false, Message: blockedMsg}
	default:
		g.logger.Error("guardrail probe failed, failing closed",
			"input_type", inputType,
			"error", err,
		)
		g.block(inputType, content, "probe failure: "+err.Error(), "probe_error", audit.KindProbeFailed)
		return Verdict{Safe: false, Message: msgProbeFailed}
	}
}

// block emits the audit event for a rejected input. Required, not
// best-effort: every block leaves a record with input type, reason
// code, and a truncated preview.
func (g *Guardrail) block(inputType, content, reason, category, kind string) {
	g.logger.Warn("input blocked",
		"input_type", inputType,
		"category", category,
		"reason", reason,
	)
	if g.auditor != nil {
		g.auditor.Record(audit.Event{
			Source:  audit.SourceGuardrail,
			Kind:    kind,
			Reason:  reason,
			Preview: content,
			Detail:  "input_type=" + inputType + " category=" + category,
		})
	}
}

func quote(s string) string {
	return "'" + s + "'"
}
