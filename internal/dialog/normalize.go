package dialog

import (
	"strings"
	"unicode"
)

// maxInputRunes caps normalized caller input. Recognition results are
// short utterances; anything longer is a gateway anomaly and gets
// truncated rather than forwarded wholesale into a prompt.
const maxInputRunes = 500

// NormalizeSpeech cleans a raw recognition result for prompting and
// logging. It never fails and never returns an empty string: blank or
// low-confidence input is replaced by the stage's neutral placeholder
// so the conversation proceeds instead of aborting.
//
// A confidence of zero means the gateway did not report one and is
// not treated as low confidence.
func NormalizeSpeech(raw string, confidence, floor float64, stage Stage) string {
	cleaned := cleanText(raw)

	if cleaned == "" {
		return placeholder(stage)
	}
	if confidence > 0 && floor > 0 && confidence < floor {
		return placeholder(stage)
	}
	return cleaned
}

func placeholder(stage Stage) string {
	if stage.Placeholder != "" {
		return stage.Placeholder
	}
	return defaultPlaceholder
}

// cleanText strips control characters and collapses whitespace runs.
func cleanText(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastSpace := true
	runes := 0
	for _, r := range raw {
		if runes >= maxInputRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
				runes++
			}
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
			runes++
		}
	}

	return strings.TrimSpace(b.String())
}
