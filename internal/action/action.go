// Package action derives follow-on actions from conversational context
// and arbitrates them against a deny-list policy before execution.
//
// The flow is strictly derive -> validate -> execute. Derivation is a
// pure pattern match; validation is the mandatory gate; execution only
// ever runs on a request that just passed validation.
package action

import (
	"log/slog"
	"strings"

	"github.com/guardedchat/gatehouse/internal/audit"
)

// Kind is the closed set of action types. Keeping it a real enum makes
// the validator's exhaustiveness a type switch instead of a runtime
// string-set membership test.
type Kind int

const (
	// KindNone means no action is warranted.
	KindNone Kind = iota
	// KindWebSearch is a web search on the derived query.
	KindWebSearch
	// KindSaveData persists the summarized information.
	KindSaveData
	// KindScheduleMeeting schedules a meeting from the summary.
	KindScheduleMeeting
	// KindUnrecognized is anything outside the known set. Derivation
	// never produces it; it exists so the validator's unconditional
	// rejection of unknown kinds is expressible and testable.
	KindUnrecognized
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindWebSearch:
		return "web_search"
	case KindSaveData:
		return "save_data"
	case KindScheduleMeeting:
		return "schedule_meeting"
	default:
		return "unrecognized"
	}
}

// Request is a proposed action with its payload.
type Request struct {
	Kind    Kind
	Payload string
}

// Verdict is the outcome of validating a request.
type Verdict struct {
	Valid   bool
	Message string
}

// Derivation markers, matched case-insensitively, first match wins.
const (
	markerWebSearch = "search the web for"
	markerSaveData  = "save this information"
)

// Derive pattern-matches a context summary into an action request.
// Pure, deterministic, and total: it always returns a request and
// never fails.
func Derive(summary string) Request {
	folded := strings.ToLower(summary)

	if idx := strings.Index(folded, markerWebSearch); idx >= 0 {
		query := strings.TrimSpace(summary[idx+len(markerWebSearch):])
		return Request{Kind: KindWebSearch, Payload: query}
	}
	if strings.Contains(folded, markerSaveData) {
		return Request{Kind: KindSaveData, Payload: summary}
	}
	if strings.Contains(folded, "schedule") && strings.Contains(folded, "meeting") {
		return Request{Kind: KindScheduleMeeting, Payload: summary}
	}
	return Request{Kind: KindNone}
}

// Per-kind deny-lists, matched against the lower-cased payload.
var (
	searchIllegalPhrases = []string{"illegal drugs", "violent acts", "child exploitation", "harmful chemicals"}
	searchDestructive    = []string{"delete", "format"}
	saveSensitivePhrases = []string{"credit card numbers", "ssn", "passwords of others"}
	meetingIllegalPhrases = []string{"bomb threat", "illegal gathering"}
)

// Policy validates action requests against the deny-lists.
type Policy struct {
	auditor audit.Recorder
	logger  *slog.Logger
}

// NewPolicy creates a validation policy. auditor may be nil-valued.
func NewPolicy(auditor audit.Recorder, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{auditor: auditor, logger: logger}
}

// Validate checks a request against the policy for its declared kind.
// Unknown kinds are rejected unconditionally — closed-world. Execution
// must never happen without a preceding valid verdict for the exact
// same request.
func (p *Policy) Validate(req Request) Verdict {
	payload := strings.ToLower(req.Payload)

	switch req.Kind {
	case KindNone:
		return Verdict{Valid: true, Message: "action is valid"}

	case KindWebSearch:
		if phrase, hit := containsAny(payload, searchIllegalPhrases); hit {
			p.reject(req, "illegal content search: "+phrase)
			return Verdict{Valid: false, Message: "Cannot perform web search for harmful or illegal content."}
		}
		if phrase, hit := containsAny(payload, searchDestructive); hit {
			p.reject(req, "destructive search query: "+phrase)
			return Verdict{Valid: false, Message: "Cannot perform web search for potentially destructive actions."}
		}

	case KindSaveData:
		if phrase, hit := containsAny(payload, saveSensitivePhrases); hit {
			p.reject(req, "sensitive data: "+phrase)
			return Verdict{Valid: false, Message: "Cannot save highly sensitive personal information."}
		}

	case KindScheduleMeeting:
		if phrase, hit := containsAny(payload, meetingIllegalPhrases); hit {
			p.reject(req, "illegal activity: "+phrase)
			return Verdict{Valid: false, Message: "Cannot schedule meetings related to illegal activities."}
		}

	default:
		p.reject(req, "unknown action kind")
		return Verdict{Valid: false, Message: "Unsupported or unauthorized action: '" + req.Kind.String() + "'."}
	}

	return Verdict{Valid: true, Message: "action is valid"}
}

// reject logs and audits a policy rejection with kind, reason, and a
// truncated payload preview.
func (p *Policy) reject(req Request, reason string) {
	p.logger.Warn("action blocked",
		"kind", req.Kind.String(),
		"reason", reason,
	)
	if p.auditor != nil {
		p.auditor.Record(audit.Event{
			Source:  audit.SourceAction,
			Kind:    audit.KindActionBlocked,
			Reason:  reason,
			Preview: req.Payload,
			Detail:  "action=" + req.Kind.String(),
		})
	}
}

// containsAny reports the first phrase found in the folded payload.
func containsAny(folded string, phrases []string) (string, bool) {
	for _, phrase := range phrases {
		if strings.Contains(folded, phrase) {
			return phrase, true
		}
	}
	return "", false
}
