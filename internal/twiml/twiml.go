// Package twiml renders the instruction documents consumed by the
// voice gateway. A document speaks one or more lines and then either
// gathers more speech (with a callback address) or hangs up. Every
// rendered document ends in one of those two instructions; a document
// with neither would strand the call, so Render refuses to produce one.
package twiml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"time"
)

// ContentType is the media type the voice gateway expects.
const ContentType = "application/xml"

// Header is the XML declaration prepended to every document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// ErrNoTerminal is returned when a document would end with neither a
// gather nor a hangup instruction.
var ErrNoTerminal = errors.New("twiml: document has no gather or hangup instruction")

// Verb is a single instruction inside a <Response> document.
type Verb interface {
	verb()
}

// Say speaks text to the caller.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

func (Say) verb() {}

// Gather instructs the gateway to listen for speech and invoke the
// callback address with the recognition result.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Timeout       int      `xml:"timeout,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Prompt        *Say     `xml:"Say,omitempty"`
}

func (Gather) verb() {}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (Hangup) verb() {}

// Document is an ordered sequence of verbs under a single <Response>
// root element.
type Document struct {
	verbs []Verb
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Say appends a spoken line. Empty text is skipped so a blank reply
// can never produce an empty <Say/>.
func (d *Document) Say(voice, language, text string) *Document {
	if text == "" {
		return d
	}
	d.verbs = append(d.verbs, Say{Voice: voice, Language: language, Text: text})
	return d
}

// Gather appends a listen instruction.
func (d *Document) Gather(g Gather) *Document {
	if g.Input == "" {
		g.Input = "speech"
	}
	if g.Method == "" {
		g.Method = "POST"
	}
	d.verbs = append(d.verbs, g)
	return d
}

// Hangup appends an end-call instruction.
func (d *Document) Hangup() *Document {
	d.verbs = append(d.verbs, Hangup{})
	return d
}

// HasGather reports whether the document contains a listen instruction.
func (d *Document) HasGather() bool {
	for _, v := range d.verbs {
		if _, ok := v.(Gather); ok {
			return true
		}
	}
	return false
}

// EndsClean reports whether the last verb is a gather or a hangup,
// i.e. the gateway is never left without a next action.
func (d *Document) EndsClean() bool {
	if len(d.verbs) == 0 {
		return false
	}
	switch d.verbs[len(d.verbs)-1].(type) {
	case Gather, Hangup:
		return true
	default:
		return false
	}
}

// Render serializes the document. It returns ErrNoTerminal if the
// document does not end in a gather or hangup instruction.
func (d *Document) Render() ([]byte, error) {
	if !d.EndsClean() {
		return nil, ErrNoTerminal
	}

	var buf bytes.Buffer
	buf.WriteString(Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "Response"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("encode response element: %w", err)
	}
	for _, v := range d.verbs {
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("encode verb: %w", err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, fmt.Errorf("encode response end: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush encoder: %w", err)
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RenderOptions carries the presentation settings shared by all
// documents of a deployment.
type RenderOptions struct {
	// Voice is the gateway voice name (empty = gateway default).
	Voice string
	// Language is the speech language tag (empty = gateway default).
	Language string
	// CallbackURL is the absolute address the gather posts results to.
	CallbackURL string
}

// NextTurn describes the listen instruction for the upcoming turn.
type NextTurn struct {
	// Prompt is spoken inside the gather to elicit the caller's input.
	Prompt string
	// ListenTimeout bounds how long the gateway waits for speech.
	ListenTimeout time.Duration
	// SilenceLine is spoken if the gather times out with no input,
	// just before the call is ended.
	SilenceLine string
	// RepeatOnSilence opens one more listen window after the silence
	// line instead of hanging up straight away.
	RepeatOnSilence bool
}

// Continue renders a document that speaks reply, gathers the next
// turn's speech, and falls back to a polite hangup if the caller stays
// silent. With RepeatOnSilence set, the silence line is followed by a
// second gather before the hangup.
func Continue(reply string, next NextTurn, opts RenderOptions) ([]byte, error) {
	timeout := int(next.ListenTimeout / time.Second)
	if timeout <= 0 {
		timeout = 5
	}

	gather := Gather{
		Action:        opts.CallbackURL,
		Timeout:       timeout,
		SpeechTimeout: "auto",
		Prompt:        promptSay(next.Prompt, opts),
	}

	doc := NewDocument().
		Say(opts.Voice, opts.Language, reply).
		Gather(gather).
		Say(opts.Voice, opts.Language, next.SilenceLine)
	if next.RepeatOnSilence {
		doc.Gather(gather)
	}
	doc.Hangup()

	return doc.Render()
}

// Terminate renders a document that speaks the closing line and ends
// the call. It is also the response for unknown, expired, and already
// terminated call ids.
func Terminate(closing string, opts RenderOptions) ([]byte, error) {
	return NewDocument().
		Say(opts.Voice, opts.Language, closing).
		Hangup().
		Render()
}

func promptSay(text string, opts RenderOptions) *Say {
	if text == "" {
		return nil
	}
	return &Say{Voice: opts.Voice, Language: opts.Language, Text: text}
}
