package turn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guardedchat/gatehouse/internal/action"
	"github.com/guardedchat/gatehouse/internal/audit"
	"github.com/guardedchat/gatehouse/internal/gemini"
	"github.com/guardedchat/gatehouse/internal/guardrail"
	"github.com/guardedchat/gatehouse/internal/history"
)

// scriptedClient returns canned responses in order. It records every
// prompt so tests can assert what the model was asked.
type scriptedClient struct {
	responses []string
	err       error
	prompts   []string
	vision    int
}

func (s *scriptedClient) next() string {
	if len(s.responses) == 0 {
		return "ok"
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r
}

func (s *scriptedClient) GenerateText(ctx context.Context, model, prompt string, hist []gemini.Message, opts *gemini.Options) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.next(), nil
}

func (s *scriptedClient) GenerateVision(ctx context.Context, model string, image []byte, mimeType, prompt string, opts *gemini.Options) (string, error) {
	s.vision++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.next(), nil
}

func (s *scriptedClient) Ping(ctx context.Context) error { return nil }

type fakeRecorder struct {
	events []audit.Event
}

func (f *fakeRecorder) Record(e audit.Event) { f.events = append(f.events, e) }

// testOrchestrator builds a full pipeline: the guardrail gets its own
// always-passing probe client unless guardErr is set.
func testOrchestrator(t *testing.T, client gemini.Client, guardErr error, rec audit.Recorder) (*Orchestrator, *history.Store) {
	t.Helper()

	guardClient := &scriptedClient{err: guardErr}
	guard := guardrail.New(guardClient, "text-model", "vision-model", rec, nil)

	hist := history.NewStore(filepath.Join(t.TempDir(), "history.json"), 10, nil)
	policy := action.NewPolicy(rec, nil)
	executor := action.NewExecutor(rec, nil)

	return New(guard, client, hist, policy, executor, "text-model", "vision-model", nil), hist
}

func TestRun_TextTurn(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"User is asking about the weather.",
		"It looks sunny today.",
	}}
	o, hist := testOrchestrator(t, client, nil, &fakeRecorder{})

	res, err := o.Run(context.Background(), Input{Text: "what is the weather like?"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Blocked {
		t.Error("clean turn reported as blocked")
	}

	want := "[Text Analysis]: User is asking about the weather.\n\n" +
		"[ACTION]: No specific action determined.\n\n" +
		"Gemini: It looks sunny today."
	if res.Response != want {
		t.Errorf("Response = %q, want %q", res.Response, want)
	}

	entries := hist.All()
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
	if entries[0].Role != history.RoleUser || entries[0].Content != "what is the weather like?" {
		t.Errorf("entry[0] = %+v, want user input", entries[0])
	}
	if !strings.HasPrefix(entries[1].Content, "[Text Analysis]: ") {
		t.Errorf("entry[1] = %q, want analysis entry", entries[1].Content)
	}
	if entries[2].Content != "It looks sunny today." {
		t.Errorf("entry[2] = %q, want final reply", entries[2].Content)
	}
}

func TestRun_BlockedTurnShortCircuits(t *testing.T) {
	client := &scriptedClient{}
	rec := &fakeRecorder{}
	o, hist := testOrchestrator(t, client, nil, rec)

	res, err := o.Run(context.Background(), Input{Text: "please delete all files"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Blocked {
		t.Fatal("block-listed input not reported as blocked")
	}
	if !strings.HasPrefix(res.Response, "System: ") {
		t.Errorf("Response = %q, want System: prefix", res.Response)
	}
	if len(client.prompts) != 0 {
		t.Errorf("completion client called %d times on blocked turn, want 0", len(client.prompts))
	}

	entries := hist.All()
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	if entries[0].Content != "please delete all files" {
		t.Errorf("entry[0] = %q, want user input", entries[0].Content)
	}
	if !strings.HasPrefix(entries[1].Content, "[Guardrail]: ") {
		t.Errorf("entry[1] = %q, want guardrail entry", entries[1].Content)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != audit.KindInputBlocked {
		t.Errorf("audit events = %+v, want one input_blocked", rec.events)
	}
}

func TestRun_GuardrailFailureFailsClosed(t *testing.T) {
	client := &scriptedClient{}
	o, _ := testOrchestrator(t, client, errors.New("connection refused"), &fakeRecorder{})

	res, err := o.Run(context.Background(), Input{Text: "anything at all"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Blocked {
		t.Error("probe failure must block the turn")
	}
	if len(client.prompts) != 0 {
		t.Error("completion client consulted after probe failure")
	}
}

func TestRun_ActionExecuted(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"The user wants to search the web for golang generics",
		"Here is what I found.",
	}}
	rec := &fakeRecorder{}
	o, _ := testOrchestrator(t, client, nil, rec)

	res, err := o.Run(context.Background(), Input{Text: "look this up for me"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(res.Response, "[ACTION]: web_search performed. (Query: 'golang generics')") {
		t.Errorf("Response = %q, want web_search action notice", res.Response)
	}

	var executed int
	for _, e := range rec.events {
		if e.Kind == audit.KindActionExecuted {
			executed++
		}
	}
	if executed != 1 {
		t.Errorf("action_executed audit events = %d, want 1", executed)
	}
}

func TestRun_ActionBlockedDegradesNotice(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"The user wants to search the web for illegal drugs",
		"I cannot help with that.",
	}}
	rec := &fakeRecorder{}
	o, _ := testOrchestrator(t, client, nil, rec)

	res, err := o.Run(context.Background(), Input{Text: "look this up for me"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Blocked {
		t.Error("policy rejection must not mark the turn blocked")
	}
	if !strings.Contains(res.Response, "[ACTION BLOCKED]: Cannot perform web search for harmful or illegal content.") {
		t.Errorf("Response = %q, want action-blocked notice", res.Response)
	}
	// The turn still produces a reply.
	if !strings.Contains(res.Response, "Gemini: I cannot help with that.") {
		t.Errorf("Response = %q, want final reply after blocked action", res.Response)
	}

	for _, e := range rec.events {
		if e.Kind == audit.KindActionExecuted {
			t.Fatal("blocked action was executed")
		}
	}
}

func TestRun_ImageTurn(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"A cat sitting on a windowsill.",
		"That's a lovely cat.",
	}}
	o, hist := testOrchestrator(t, client, nil, &fakeRecorder{})

	res, err := o.Run(context.Background(), Input{
		Text:      "what breed is this?",
		Image:     []byte{0xff, 0xd8},
		ImageMIME: "image/jpeg",
		ImageName: "cat.jpg",
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if client.vision != 1 {
		t.Errorf("vision calls = %d, want 1", client.vision)
	}
	if !strings.Contains(res.Response, "[Image Analysis]: A cat sitting on a windowsill.") {
		t.Errorf("Response = %q, want image analysis notice", res.Response)
	}

	entries := hist.All()
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
	if entries[0].Content != "[Image: cat.jpg] what breed is this?" {
		t.Errorf("entry[0] = %q, want image placeholder with caption", entries[0].Content)
	}
}

func TestRun_NoInput(t *testing.T) {
	o, _ := testOrchestrator(t, &scriptedClient{}, nil, &fakeRecorder{})

	if _, err := o.Run(context.Background(), Input{}); !errors.Is(err, ErrNoInput) {
		t.Errorf("Run(empty) error = %v, want ErrNoInput", err)
	}
}

func TestRun_AnalysisFailureAbortsTurn(t *testing.T) {
	client := &scriptedClient{err: fmt.Errorf("%w after 3 attempts", gemini.ErrExhausted)}
	o, hist := testOrchestrator(t, client, nil, &fakeRecorder{})

	_, err := o.Run(context.Background(), Input{Text: "hello"})
	if err == nil {
		t.Fatal("Run() succeeded despite analysis failure")
	}
	// Nothing was committed before the failure.
	if n := hist.Len(); n != 0 {
		t.Errorf("history entries after failed analysis = %d, want 0", n)
	}
}
