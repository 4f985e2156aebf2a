// Package turn sequences one request/response cycle: guardrail check,
// content analysis, action derivation/validation/execution, response
// generation, and history updates. Each stage has a defined fallback;
// nothing downstream of the guardrail runs when it blocks.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guardedchat/gatehouse/internal/action"
	"github.com/guardedchat/gatehouse/internal/gemini"
	"github.com/guardedchat/gatehouse/internal/guardrail"
	"github.com/guardedchat/gatehouse/internal/history"
)

// ErrNoInput reports a turn with neither text nor image. The caller's
// fault; rejected before the guardrail state is ever entered.
var ErrNoInput = errors.New("no text or image input provided")

// Input is one inbound user turn.
type Input struct {
	Text      string
	Image     []byte
	ImageMIME string
	ImageName string
}

// hasImage reports whether this turn carries an image payload.
func (in Input) hasImage() bool { return len(in.Image) > 0 }

// Result is what a completed (or blocked) turn returns to the caller.
type Result struct {
	// Response is the combined analysis notice, action notice, and
	// final generated reply (or the guardrail message on block).
	Response string
	// History is the full updated conversation history.
	History []history.Entry
	// Blocked reports the turn was stopped by the guardrail.
	Blocked bool
}

// Orchestrator wires the pipeline together. All collaborators are
// injected at construction; there is no hidden process-wide state.
type Orchestrator struct {
	guard       *guardrail.Guardrail
	client      gemini.Client
	history     *history.Store
	policy      *action.Policy
	executor    *action.Executor
	textModel   string
	visionModel string
	logger      *slog.Logger
}

// New creates a turn orchestrator.
func New(guard *guardrail.Guardrail, client gemini.Client, hist *history.Store, policy *action.Policy, executor *action.Executor, textModel, visionModel string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		guard:       guard,
		client:      client,
		history:     hist,
		policy:      policy,
		executor:    executor,
		textModel:   textModel,
		visionModel: visionModel,
		logger:      logger,
	}
}

// Run processes one turn start to finish. Guardrail and action-policy
// blocks are recovered into user-facing messages; completion-service
// failures abort the turn with an error the web layer surfaces
// opaquely. History writes committed before a failure stay committed.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Text == "" && !in.hasImage() {
		return nil, ErrNoInput
	}

	turnID := uuid.NewString()
	start := time.Now()
	logger := o.logger.With("turn_id", turnID)
	logger.Info("turn started",
		"has_text", in.Text != "",
		"has_image", in.hasImage(),
	)

	// Snapshot the model-facing history before this turn mutates it;
	// the analysis and response calls both use the pre-turn context.
	priorContext := o.history.ForModel()

	// Guardrail first. On block the turn short-circuits: the block and
	// its notice are recorded, the model is never consulted further.
	var verdict guardrail.Verdict
	if in.hasImage() {
		verdict = o.guard.EvaluateImage(ctx, in.Image, in.ImageMIME, in.Text)
	} else {
		verdict = o.guard.EvaluateText(ctx, in.Text)
	}
	if !verdict.Safe {
		o.appendHistory(history.RoleUser, o.userEntry(in))
		o.appendHistory(history.RoleModel, "[Guardrail]: "+verdict.Message)
		logger.Info("turn blocked by guardrail", "elapsed", time.Since(start))
		return &Result{
			Response: "System: " + verdict.Message,
			History:  o.history.All(),
			Blocked:  true,
		}, nil
	}

	// Modality-specific content analysis.
	summary, notice, err := o.analyze(ctx, in, priorContext)
	if err != nil {
		logger.Error("content analysis failed", "error", err)
		return nil, fmt.Errorf("content analysis: %w", err)
	}

	// Action derivation, validation, and (if permitted) execution.
	actionNotice := o.arbitrate(ctx, summary, logger)

	// Final reply over the summary plus pre-turn history.
	reply, err := o.respond(ctx, summary, priorContext)
	if err != nil {
		logger.Error("response generation failed", "error", err)
		return nil, fmt.Errorf("response generation: %w", err)
	}
	o.appendHistory(history.RoleModel, reply)

	logger.Info("turn complete", "elapsed", time.Since(start))
	return &Result{
		Response: notice + "\n\n" + actionNotice + "\n\nGemini: " + reply,
		History:  o.history.All(),
	}, nil
}

// userEntry renders the user's side of the turn for the history log.
// Image turns get a placeholder label; the raw bytes never enter the
// history.
func (o *Orchestrator) userEntry(in Input) string {
	if !in.hasImage() {
		return in.Text
	}
	name := in.ImageName
	if name == "" {
		name = "upload"
	}
	entry := "[Image: " + name + "]"
	if in.Text != "" {
		return entry + " " + in.Text
	}
	return entry + " Image provided."
}

// analyze obtains the modality-specific content analysis and appends
// the user input and analysis result to history. Returns the context
// summary fed to action derivation and the notice shown to the user.
func (o *Orchestrator) analyze(ctx context.Context, in Input, priorContext []gemini.Message) (summary, notice string, err error) {
	if in.hasImage() {
		prompt := "Analyze this image."
		if in.Text != "" {
			prompt += " Specifically, " + in.Text
		}
		analysis, err := o.client.GenerateVision(ctx, o.visionModel, in.Image, in.ImageMIME, prompt, nil)
		if err != nil {
			return "", "", err
		}

		o.appendHistory(history.RoleUser, o.userEntry(in))
		o.appendHistory(history.RoleModel, "[Image Analysis]: "+analysis)
		return "Image analysis: " + analysis, "[Image Analysis]: " + analysis, nil
	}

	prompt := "The user said: '" + in.Text + "'. Based on the conversation history, " +
		"what is the main intent or key information in this statement? " +
		"Keep it concise for internal processing."
	analysis, err := o.client.GenerateText(ctx, o.textModel, prompt, priorContext, nil)
	if err != nil {
		return "", "", err
	}

	o.appendHistory(history.RoleUser, in.Text)
	o.appendHistory(history.RoleModel, "[Text Analysis]: "+analysis)
	return "Text analysis: " + analysis, "[Text Analysis]: " + analysis, nil
}

// arbitrate runs derive -> validate -> execute and composes the action
// notice. A rejected action degrades the notice, never the turn.
func (o *Orchestrator) arbitrate(ctx context.Context, summary string, logger *slog.Logger) string {
	req := action.Derive(summary)
	verdict := o.policy.Validate(req)

	switch {
	case !verdict.Valid:
		logger.Warn("action blocked", "kind", req.Kind.String())
		return "[ACTION BLOCKED]: " + verdict.Message

	case req.Kind != action.KindNone:
		o.executor.Execute(ctx, req)
		notice := "[ACTION]: " + req.Kind.String() + " performed."
		if req.Kind == action.KindWebSearch {
			notice += " (Query: '" + req.Payload + "')"
		} else {
			notice += " (Details: '" + truncate(req.Payload, 50) + "')"
		}
		logger.Info("action executed", "kind", req.Kind.String())
		return notice

	default:
		return "[ACTION]: No specific action determined."
	}
}

// respond generates the final user-facing reply.
func (o *Orchestrator) respond(ctx context.Context, summary string, priorContext []gemini.Message) (string, error) {
	prompt := "Based on the following context and conversation history, " +
		"generate a helpful and concise response to the user. \n\n" +
		"Context/Analysis: " + summary + "\n\n"
	return o.client.GenerateText(ctx, o.textModel, prompt, priorContext, nil)
}

// appendHistory writes one entry, tolerating persistence failure: the
// store already logged it and kept the in-memory sequence consistent.
func (o *Orchestrator) appendHistory(role, content string) {
	_ = o.history.Append(role, content)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
