package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/voxloop-dev/voxloop/internal/observability"
	"github.com/voxloop-dev/voxloop/internal/provider"
	"github.com/voxloop-dev/voxloop/internal/session"
	obs "github.com/voxloop-dev/voxloop/pkg/observability"
)

// DefaultSystemPrompt frames every generation request.
const DefaultSystemPrompt = "You are Vox, a warm and attentive voice assistant on a phone call. " +
	"Reply with one or two short spoken sentences. Never mention that you are an AI or that this is a script."

// DefaultHistoryWindow is how many trailing history lines accompany a
// generation request.
const DefaultHistoryWindow = 10

// Outcome is the controller's decision for one webhook invocation.
// The dispatcher renders it into a markup document.
type Outcome struct {
	// Reply is what the assistant says this turn. Never empty.
	Reply string

	// Next describes the upcoming stage. Nil when the call ends this
	// turn.
	Next *Stage

	// Closing is spoken after Reply when the call ends.
	Closing string

	// Terminated reports that the session has ended (either on this
	// turn or previously).
	Terminated bool

	// Fallback reports that the deterministic generator produced the
	// reply.
	Fallback bool

	// StageID is the stage whose elicitation this turn answered.
	// Empty for turns against already-terminated sessions.
	StageID string

	// TurnIndex is the session's turn count after this exchange.
	TurnIndex int
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// SystemPrompt frames generation requests (default:
	// DefaultSystemPrompt).
	SystemPrompt string
	// HistoryWindow is the trailing history length sent to the
	// backend (default: DefaultHistoryWindow).
	HistoryWindow int
	// ConfidenceFloor treats recognitions below it as unclear input
	// (0 disables the check).
	ConfidenceFloor float64
}

// Controller advances a call through the stage plan one webhook at a
// time. It owns no state itself; everything lives in the session
// store, so any instance can serve any turn.
type Controller struct {
	plan   *Plan
	store  session.Store
	gen    provider.Provider
	config ControllerConfig
}

// NewController creates a controller. gen may be nil, in which case
// every reply comes from the fallback catalog.
func NewController(plan *Plan, store session.Store, gen provider.Provider, cfg ControllerConfig) (*Controller, error) {
	if plan == nil {
		return nil, errors.New("plan is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	return &Controller{plan: plan, store: store, gen: gen, config: cfg}, nil
}

// Opening returns the greeting line and the first stage, the material
// for the initial call document.
func (c *Controller) Opening() (string, Stage) {
	first, _ := c.plan.Stage(0)
	return c.plan.Greeting, first
}

// Closing returns the plan's closing line.
func (c *Controller) Closing() string {
	return c.plan.Closing
}

// HandleTurn processes one webhook invocation: normalize the input,
// generate or fall back to a reply, commit the exchange, and decide
// whether the call continues. An error return means the session store
// itself failed; every conversational failure is absorbed into a
// valid Outcome.
func (c *Controller) HandleTurn(ctx context.Context, callID, rawSpeech string, confidence float64) (*Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "dialog.turn")
	defer span.End()

	sess, created, err := c.store.GetOrCreate(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}
	if created {
		log.Printf("call %s: session created", callID)
	}

	if sess.Terminated() {
		return c.terminalOutcome(sess), nil
	}

	stage, ok := c.plan.Stage(sess.TurnIndex)
	if !ok {
		// Turn index at the plan bound without a terminated status
		// should not happen; treat it as terminal rather than erroring
		// a live call.
		log.Printf("call %s: turn index %d out of plan bounds", callID, sess.TurnIndex)
		return c.terminalOutcome(sess), nil
	}

	normalized := NormalizeSpeech(rawSpeech, confidence, c.config.ConfidenceFloor, stage)
	reply, usedFallback := c.generateReply(ctx, sess, stage, normalized)

	updated, err := c.store.Update(ctx, callID, func(s *session.Session) error {
		if s.TurnIndex >= c.plan.Len() {
			return session.ErrSessionTerminated
		}
		s.Append(session.SpeakerCaller, normalized)
		s.Append(session.SpeakerAssistant, reply)
		s.TurnIndex++
		if s.TurnIndex >= c.plan.Len() {
			s.Status = session.StatusTerminated
		}
		return nil
	})
	if errors.Is(err, session.ErrSessionTerminated) {
		// Duplicate delivery raced the terminal turn; answer with the
		// terminal document and leave state untouched.
		return c.terminalOutcome(updated), nil
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	out := &Outcome{
		Reply:     reply,
		Fallback:  usedFallback,
		StageID:   stage.ID,
		TurnIndex: updated.TurnIndex,
	}
	if updated.Terminated() {
		out.Terminated = true
		out.Closing = c.plan.Closing
		return out, nil
	}

	next, ok := c.plan.Stage(updated.TurnIndex)
	if !ok {
		// Unreachable by construction: a non-terminated session always
		// has a next stage.
		out.Terminated = true
		out.Closing = c.plan.Closing
		return out, nil
	}
	out.Next = &next
	return out, nil
}

// generateReply asks the backend for a reply and falls back to the
// deterministic catalog on any failure. Backend failure is never
// user-visible beyond a more generic line.
func (c *Controller) generateReply(ctx context.Context, sess *session.Session, stage Stage, input string) (string, bool) {
	if c.gen == nil {
		return FallbackReply(stage.ID, input), true
	}

	req := provider.ReplyRequest{
		System:       c.config.SystemPrompt,
		StageContext: stage.Context,
		History:      historyMessages(sess.Window(c.config.HistoryWindow)),
		Input:        input,
	}

	start := time.Now()
	reply, err := c.gen.GenerateReply(ctx, req)
	obs.RecordGeneration(c.gen.Name(), time.Since(start))
	if err != nil {
		code := provider.ErrorCodeUnknown
		var perr *provider.ProviderError
		if errors.As(err, &perr) {
			code = perr.Code
		}
		obs.RecordGenerationFailure(c.gen.Name(), code)
		log.Printf("call %s stage %s: generation failed, using fallback: %v", sess.CallID, stage.ID, err)
		return FallbackReply(stage.ID, input), true
	}
	return reply, false
}

func (c *Controller) terminalOutcome(sess *session.Session) *Outcome {
	out := &Outcome{
		Reply:      c.plan.Closing,
		Terminated: true,
	}
	if sess != nil {
		out.TurnIndex = sess.TurnIndex
	}
	return out
}

func historyMessages(lines []session.Line) []provider.Message {
	msgs := make([]provider.Message, len(lines))
	for i, l := range lines {
		role := provider.RoleUser
		if l.Speaker == session.SpeakerAssistant {
			role = provider.RoleAssistant
		}
		msgs[i] = provider.Message{Role: role, Content: l.Text}
	}
	return msgs
}
