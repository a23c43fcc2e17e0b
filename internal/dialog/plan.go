// Package dialog implements the turn-based conversation core: the
// stage plan, speech input normalization, the deterministic fallback
// reply catalog, and the turn controller that advances a call through
// its stages.
package dialog

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML-decodes from strings like
// "6s" or from bare integers, read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Stage is one configured point in the conversation plan. The prompt
// elicits the next turn's caller input; the timeouts bound how long
// the gateway listens for it.
type Stage struct {
	// ID identifies the stage in logs, metrics, and the fallback
	// catalog.
	ID string `yaml:"id"`

	// Prompt is spoken to elicit the caller's input for this stage.
	Prompt string `yaml:"prompt"`

	// Context frames the generation request for replies to this
	// stage's input.
	Context string `yaml:"context"`

	// Placeholder substitutes empty or unclear caller input.
	Placeholder string `yaml:"placeholder"`

	// ListenTimeout bounds how long the gateway waits for speech.
	ListenTimeout Duration `yaml:"listen_timeout"`

	// SilenceLine is spoken before hanging up when the caller never
	// speaks within ListenTimeout.
	SilenceLine string `yaml:"silence_line"`

	// RepeatOnSilence re-prompts the same stage once instead of
	// terminating when the caller stays silent. Off by default; a
	// missed turn ends the call gracefully.
	RepeatOnSilence bool `yaml:"repeat_on_silence"`
}

// Plan is the fixed, read-only conversation structure. A call advances
// through Stages in order and ends with the Closing line.
type Plan struct {
	// Greeting is spoken when the call is first answered, before any
	// caller input.
	Greeting string `yaml:"greeting"`

	// Stages are the configured turns, in order.
	Stages []Stage `yaml:"stages"`

	// Closing is spoken before the final hangup.
	Closing string `yaml:"closing"`
}

const (
	defaultListenTimeout = Duration(6 * time.Second)
	defaultSilenceLine   = "It seems like now is not a good time. Thank you for talking with me. Goodbye."
	defaultPlaceholder   = "the caller did not provide a clear answer"
)

// DefaultPlan returns the built-in three-stage check-in conversation.
func DefaultPlan() *Plan {
	return &Plan{
		Greeting: "Hello! This is Vox, your daily check-in assistant. It's good to talk with you.",
		Stages: []Stage{
			{
				ID:            "opening",
				Prompt:        "How are you feeling today?",
				Context:       "The caller was just asked how they are feeling today. Respond warmly to what they said and keep the conversation going.",
				Placeholder:   "the caller did not say how they are feeling",
				ListenTimeout: defaultListenTimeout,
			},
			{
				ID:            "daily",
				Prompt:        "What have you been up to lately? Anything interesting going on?",
				Context:       "The caller was asked what they have been up to lately. Acknowledge what they shared and show genuine interest.",
				Placeholder:   "the caller did not describe what they have been doing",
				ListenTimeout: defaultListenTimeout,
			},
			{
				ID:            "reflection",
				Prompt:        "Is there anything on your mind you'd like to talk about before we wrap up?",
				Context:       "The caller was asked if anything is on their mind before the call wraps up. Respond with empathy and start bringing the conversation to a close.",
				Placeholder:   "the caller did not mention anything further",
				ListenTimeout: defaultListenTimeout,
			},
		},
		Closing: "Thank you so much for chatting with me today. Take care of yourself, and goodbye!",
	}
}

// Validate checks the plan and fills per-stage defaults.
func (p *Plan) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("plan has no stages")
	}
	if p.Closing == "" {
		return fmt.Errorf("plan closing line is required")
	}

	seen := make(map[string]bool, len(p.Stages))
	for i := range p.Stages {
		st := &p.Stages[i]
		if st.ID == "" {
			return fmt.Errorf("stage %d: id is required", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("stage %d: duplicate id %q", i, st.ID)
		}
		seen[st.ID] = true
		if st.Prompt == "" {
			return fmt.Errorf("stage %q: prompt is required", st.ID)
		}
		if st.ListenTimeout <= 0 {
			st.ListenTimeout = defaultListenTimeout
		}
		if st.SilenceLine == "" {
			st.SilenceLine = defaultSilenceLine
		}
		if st.Placeholder == "" {
			st.Placeholder = defaultPlaceholder
		}
	}
	return nil
}

// Len returns the number of configured stages, which is also the
// maximum turn index a session can reach.
func (p *Plan) Len() int {
	return len(p.Stages)
}

// Stage returns the stage at index i, or false when i is out of range.
func (p *Plan) Stage(i int) (Stage, bool) {
	if i < 0 || i >= len(p.Stages) {
		return Stage{}, false
	}
	return p.Stages[i], true
}
