package action

import (
	"context"
	"log/slog"

	"github.com/guardedchat/gatehouse/internal/audit"
)

// Executor performs validated actions. Each known kind is a placeholder
// standing in for an external integration point: a search API, a
// persistence layer, a calendar service. Every execution is audited so
// the side-effect channel stays observable.
type Executor struct {
	auditor audit.Recorder
	logger  *slog.Logger
}

// NewExecutor creates an action executor. auditor may be nil-valued.
func NewExecutor(auditor audit.Recorder, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{auditor: auditor, logger: logger}
}

// Execute runs the side effect for a request that has already passed
// validation. Calling it with an unvalidated or unknown kind is a
// contract violation: it logs a warning and returns without doing
// anything, never crashing the turn.
func (e *Executor) Execute(ctx context.Context, req Request) {
	switch req.Kind {
	case KindNone:
		return

	case KindWebSearch:
		e.logger.Info("executing web search", "query", audit.Truncate(req.Payload, 80))

	case KindSaveData:
		e.logger.Info("saving data", "preview", audit.Truncate(req.Payload, 80))

	case KindScheduleMeeting:
		e.logger.Info("scheduling meeting", "details", audit.Truncate(req.Payload, 80))

	default:
		e.logger.Warn("execute called with unknown action kind, ignoring",
			"kind", req.Kind.String(),
		)
		return
	}

	if e.auditor != nil {
		e.auditor.Record(audit.Event{
			Source:  audit.SourceAction,
			Kind:    audit.KindActionExecuted,
			Reason:  req.Kind.String(),
			Preview: req.Payload,
		})
	}
}
