package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/voxloop-dev/voxloop/internal/provider"
	"github.com/voxloop-dev/voxloop/internal/session"
)

// scriptedProvider returns canned replies or errors in order and
// records every request it sees.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	reqs    []provider.ReplyRequest
}

func (p *scriptedProvider) GenerateReply(_ context.Context, req provider.ReplyRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	i := len(p.reqs) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return "scripted reply", nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestController(t *testing.T, gen provider.Provider, cfg ControllerConfig) (*Controller, *session.MemoryStore) {
	t.Helper()
	plan := DefaultPlan()
	if err := plan.Validate(); err != nil {
		t.Fatalf("validate plan: %v", err)
	}
	store := session.NewMemoryStore()
	ctrl, err := NewController(plan, store, gen, cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl, store
}

func TestHandleTurnFirstExchange(t *testing.T) {
	gen := &scriptedProvider{replies: []string{"Glad to hear you're doing well today."}}
	ctrl, store := newTestController(t, gen, ControllerConfig{})
	ctx := context.Background()

	out, err := ctrl.HandleTurn(ctx, "call-1", "I'm doing great, thanks", 0.92)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	if out.Terminated {
		t.Fatal("first turn should not terminate the call")
	}
	if out.Reply != "Glad to hear you're doing well today." {
		t.Errorf("reply = %q", out.Reply)
	}
	if out.Fallback {
		t.Error("reply came from the backend, Fallback should be false")
	}
	if out.StageID != "opening" {
		t.Errorf("stage id = %q, want opening", out.StageID)
	}
	if out.Next == nil || out.Next.ID != "daily" {
		t.Errorf("next stage = %+v, want daily", out.Next)
	}
	if out.TurnIndex != 1 {
		t.Errorf("turn index = %d, want 1", out.TurnIndex)
	}

	sess, created, err := store.GetOrCreate(ctx, "call-1")
	if err != nil || created {
		t.Fatalf("session lookup: created=%v err=%v", created, err)
	}
	if len(sess.History) != 2*sess.TurnIndex {
		t.Errorf("history length %d, want %d", len(sess.History), 2*sess.TurnIndex)
	}
	if sess.History[0].Speaker != session.SpeakerCaller || sess.History[1].Speaker != session.SpeakerAssistant {
		t.Errorf("history speakers = %v, %v", sess.History[0].Speaker, sess.History[1].Speaker)
	}
}

func TestHandleTurnEmptySpeechUsesPlaceholder(t *testing.T) {
	gen := &scriptedProvider{replies: []string{"No worries, take your time."}}
	ctrl, store := newTestController(t, gen, ControllerConfig{})
	ctx := context.Background()

	out, err := ctrl.HandleTurn(ctx, "call-silent", "   ", 0)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if out.Reply == "" {
		t.Error("reply must never be empty")
	}

	gen.mu.Lock()
	req := gen.reqs[0]
	gen.mu.Unlock()
	if req.Input != "the caller did not say how they are feeling" {
		t.Errorf("backend input = %q, want stage placeholder", req.Input)
	}

	sess, _, _ := store.GetOrCreate(ctx, "call-silent")
	if sess.History[0].Text != "the caller did not say how they are feeling" {
		t.Errorf("recorded caller line = %q, want stage placeholder", sess.History[0].Text)
	}
}

func TestHandleTurnLowConfidenceUsesPlaceholder(t *testing.T) {
	gen := &scriptedProvider{}
	ctrl, _ := newTestController(t, gen, ControllerConfig{ConfidenceFloor: 0.5})

	if _, err := ctrl.HandleTurn(context.Background(), "call-mumble", "garbled words", 0.2); err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if got := gen.reqs[0].Input; got != "the caller did not say how they are feeling" {
		t.Errorf("backend input = %q, want stage placeholder", got)
	}
}

func TestHandleTurnBackendFailureFallsBack(t *testing.T) {
	genErr := provider.NewProviderError("openai", provider.ErrorCodeTimeout, "request timed out", errors.New("deadline exceeded"))
	gen := &scriptedProvider{errs: []error{genErr}}
	ctrl, store := newTestController(t, gen, ControllerConfig{})
	ctx := context.Background()

	out, err := ctrl.HandleTurn(ctx, "call-2", "I'm feeling pretty good", 0.9)
	if err != nil {
		t.Fatalf("backend failure must not surface as an error: %v", err)
	}
	if !out.Fallback {
		t.Error("Fallback should be true after a backend failure")
	}
	if out.Reply != FallbackReply("opening", "I'm feeling pretty good") {
		t.Errorf("reply = %q, want the deterministic fallback line", out.Reply)
	}
	if out.Terminated {
		t.Error("a failed generation must not end the call")
	}

	sess, _, _ := store.GetOrCreate(ctx, "call-2")
	if sess.TurnIndex != 1 || len(sess.History) != 2 {
		t.Errorf("exchange not committed: turn=%d history=%d", sess.TurnIndex, len(sess.History))
	}
}

func TestHandleTurnNilProviderAlwaysFallsBack(t *testing.T) {
	ctrl, _ := newTestController(t, nil, ControllerConfig{})

	out, err := ctrl.HandleTurn(context.Background(), "call-nogen", "work has been busy", 0.9)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if !out.Fallback {
		t.Error("nil provider must use the fallback catalog")
	}
	if !strings.HasPrefix(out.Reply, "Work certainly keeps life busy") {
		t.Errorf("reply = %q", out.Reply)
	}
}

func TestHandleTurnFinalStageTerminates(t *testing.T) {
	gen := &scriptedProvider{replies: []string{"r1", "r2", "r3"}}
	ctrl, store := newTestController(t, gen, ControllerConfig{})
	ctx := context.Background()

	var out *Outcome
	var err error
	for i, speech := range []string{"feeling fine", "mostly gardening", "nothing else, thanks"} {
		out, err = ctrl.HandleTurn(ctx, "call-3", speech, 0.9)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	if !out.Terminated {
		t.Fatal("final stage turn should terminate the call")
	}
	if out.Next != nil {
		t.Error("terminated outcome must not carry a next stage")
	}
	if out.Closing != ctrl.Closing() {
		t.Errorf("closing = %q, want %q", out.Closing, ctrl.Closing())
	}
	if out.TurnIndex != 3 {
		t.Errorf("turn index = %d, want 3", out.TurnIndex)
	}

	sess, _, _ := store.GetOrCreate(ctx, "call-3")
	if !sess.Terminated() {
		t.Error("stored session should be terminated")
	}
	if len(sess.History) != 6 {
		t.Errorf("history length = %d, want 6", len(sess.History))
	}
}

func TestHandleTurnDuplicateAfterTerminationIsIdempotent(t *testing.T) {
	gen := &scriptedProvider{}
	ctrl, store := newTestController(t, gen, ControllerConfig{})
	ctx := context.Background()

	for _, speech := range []string{"good", "work", "no"} {
		if _, err := ctrl.HandleTurn(ctx, "call-4", speech, 0.9); err != nil {
			t.Fatalf("handle turn: %v", err)
		}
	}

	// The gateway may redeliver the final webhook; replays must not
	// mutate state and must still yield a terminal outcome.
	for i := 0; i < 5; i++ {
		out, err := ctrl.HandleTurn(ctx, "call-4", "no", 0.9)
		if err != nil {
			t.Fatalf("duplicate delivery %d: %v", i, err)
		}
		if !out.Terminated {
			t.Fatalf("duplicate delivery %d should be terminal", i)
		}
		if out.Reply != ctrl.Closing() {
			t.Errorf("duplicate delivery reply = %q, want closing line", out.Reply)
		}
	}

	sess, _, _ := store.GetOrCreate(ctx, "call-4")
	if sess.TurnIndex != 3 {
		t.Errorf("turn index = %d, duplicates must not advance it", sess.TurnIndex)
	}
	if len(sess.History) != 6 {
		t.Errorf("history length = %d, duplicates must not append", len(sess.History))
	}
}

func TestHandleTurnSendsHistoryWindow(t *testing.T) {
	gen := &scriptedProvider{replies: []string{"r1", "r2"}}
	ctrl, _ := newTestController(t, gen, ControllerConfig{HistoryWindow: 2})
	ctx := context.Background()

	if _, err := ctrl.HandleTurn(ctx, "call-5", "first answer", 0.9); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.HandleTurn(ctx, "call-5", "second answer", 0.9); err != nil {
		t.Fatal(err)
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	second := gen.reqs[1]
	if len(second.History) != 2 {
		t.Fatalf("history window = %d messages, want 2", len(second.History))
	}
	if second.History[0].Role != provider.RoleUser || second.History[0].Content != "first answer" {
		t.Errorf("history[0] = %+v", second.History[0])
	}
	if second.History[1].Role != provider.RoleAssistant || second.History[1].Content != "r1" {
		t.Errorf("history[1] = %+v", second.History[1])
	}
	if second.StageContext == "" {
		t.Error("stage context should accompany every request")
	}
}

func TestOpening(t *testing.T) {
	ctrl, _ := newTestController(t, nil, ControllerConfig{})

	greeting, first := ctrl.Opening()
	if greeting == "" {
		t.Error("greeting must not be empty")
	}
	if first.ID != "opening" {
		t.Errorf("first stage = %q, want opening", first.ID)
	}
}

func TestNewControllerValidation(t *testing.T) {
	store := session.NewMemoryStore()
	if _, err := NewController(nil, store, nil, ControllerConfig{}); err == nil {
		t.Error("nil plan should be rejected")
	}
	if _, err := NewController(DefaultPlan(), nil, nil, ControllerConfig{}); err == nil {
		t.Error("nil store should be rejected")
	}
}
