// Package webhook is the HTTP face of the orchestrator. It translates
// the voice gateway's form-encoded callbacks into controller turns and
// the controller's outcomes into markup documents. Its one hard rule:
// every request, however broken, gets HTTP 200 and a well-formed
// document that ends the turn cleanly, because the gateway's only
// recovery from a bad response is dropping the call.
package webhook

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/voxloop-dev/voxloop/internal/dialog"
	"github.com/voxloop-dev/voxloop/internal/observability"
	"github.com/voxloop-dev/voxloop/internal/twiml"
	obs "github.com/voxloop-dev/voxloop/pkg/observability"
)

// Form field names used by the voice gateway.
const (
	FieldCallID     = "CallSid"
	FieldSpeech     = "SpeechResult"
	FieldConfidence = "Confidence"
)

// apologyLine is spoken when the request itself cannot be served.
const apologyLine = "I'm sorry, something went wrong on our end. Thank you for calling, goodbye."

// busyLine is spoken when the caller is shed by the rate limiter.
const busyLine = "We're receiving a lot of calls right now. Please try again a little later. Goodbye."

// lastResortDocument is written when even rendering fails. It is a
// pre-built well-formed document so no code path can answer with an
// empty body.
const lastResortDocument = twiml.Header +
	`<Response><Say>` + apologyLine + `</Say><Hangup></Hangup></Response>`

// Handler serves the gateway's voice webhooks.
type Handler struct {
	controller *dialog.Controller
	limiter    *RateLimiter
	render     twiml.RenderOptions
}

// NewHandler creates a webhook handler. limiter may be nil to disable
// rate limiting.
func NewHandler(controller *dialog.Controller, limiter *RateLimiter, render twiml.RenderOptions) *Handler {
	return &Handler{controller: controller, limiter: limiter, render: render}
}

// Answer handles the initial webhook when a call is connected, before
// any caller speech exists. It greets the caller and opens the first
// listen window without consuming a turn.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, span := observability.StartSpan(r.Context(), "webhook.answer")
	defer span.End()

	greeting, first := h.controller.Opening()
	doc, err := twiml.Continue(greeting, twiml.NextTurn{
		Prompt:          first.Prompt,
		ListenTimeout:   first.ListenTimeout.Std(),
		SilenceLine:     first.SilenceLine,
		RepeatOnSilence: first.RepeatOnSilence,
	}, h.render)
	if err != nil {
		log.Printf("answer: render failed: %v", err)
		h.writeLastResort(w, start)
		return
	}

	h.writeDocument(w, doc, "continue", start)
}

// Turn handles a speech-result webhook: one conversational turn.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := observability.StartSpan(r.Context(), "webhook.turn")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		log.Printf("turn: parse form: %v", err)
		h.writeTerminal(w, apologyLine, "apology", start)
		return
	}

	callID := r.PostForm.Get(FieldCallID)
	if callID == "" {
		callID = r.Form.Get(FieldCallID)
	}
	if callID == "" {
		log.Printf("turn: request without a call id")
		h.writeTerminal(w, apologyLine, "apology", start)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(callID) {
		log.Printf("call %s: rate limited", callID)
		h.writeTerminal(w, busyLine, "rate_limited", start)
		return
	}

	speech := r.Form.Get(FieldSpeech)
	confidence := parseConfidence(r.Form.Get(FieldConfidence))

	out, err := h.controller.HandleTurn(ctx, callID, speech, confidence)
	if err != nil {
		log.Printf("call %s: turn failed: %v", callID, err)
		h.writeTerminal(w, apologyLine, "apology", start)
		return
	}

	if !out.Terminated {
		obs.RecordTurn(out.StageID, out.Fallback)
		doc, err := twiml.Continue(out.Reply, twiml.NextTurn{
			Prompt:          out.Next.Prompt,
			ListenTimeout:   out.Next.ListenTimeout.Std(),
			SilenceLine:     out.Next.SilenceLine,
			RepeatOnSilence: out.Next.RepeatOnSilence,
		}, h.render)
		if err != nil {
			log.Printf("call %s: render failed: %v", callID, err)
			h.writeLastResort(w, start)
			return
		}
		h.writeDocument(w, doc, "continue", start)
		return
	}

	// Terminal turn: speak the final reply, then the closing line,
	// then hang up. Replays of an already-terminated call carry the
	// closing line as Reply and no separate Closing.
	if out.StageID != "" {
		obs.RecordTurn(out.StageID, out.Fallback)
	}
	doc, err := twiml.NewDocument().
		Say(h.render.Voice, h.render.Language, out.Reply).
		Say(h.render.Voice, h.render.Language, out.Closing).
		Hangup().
		Render()
	if err != nil {
		log.Printf("call %s: render failed: %v", callID, err)
		h.writeLastResort(w, start)
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(callID)
	}
	h.writeDocument(w, doc, "terminate", start)
}

func (h *Handler) writeTerminal(w http.ResponseWriter, line, outcome string, start time.Time) {
	doc, err := twiml.Terminate(line, h.render)
	if err != nil {
		h.writeLastResort(w, start)
		return
	}
	h.writeDocument(w, doc, outcome, start)
}

func (h *Handler) writeDocument(w http.ResponseWriter, doc []byte, outcome string, start time.Time) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		log.Printf("write response: %v", err)
	}
	obs.RecordWebhookRequest(outcome, time.Since(start))
}

func (h *Handler) writeLastResort(w http.ResponseWriter, start time.Time) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(lastResortDocument))
	obs.RecordWebhookRequest("apology", time.Since(start))
}

// parseConfidence converts the gateway's confidence field. Absent or
// unparseable values come back as 0, meaning unreported.
func parseConfidence(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0
	}
	return v
}
